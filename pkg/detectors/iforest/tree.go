package iforest

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"strings"

	"github.com/hed1ad/goiforest/pkg/sample"
)

// eulerGamma is the Euler-Mascheroni constant used to approximate harmonic numbers.
const eulerGamma = 0.5772156649

// MissingRoute decides which side of a split receives a sample that lacks the
// split feature. The same route is used when building and when scoring.
type MissingRoute uint8

const (
	// RouteRight sends samples without the split feature to the right child.
	RouteRight MissingRoute = iota
	// RouteLeft sends samples without the split feature to the left child.
	RouteLeft
)

func (r MissingRoute) String() string {
	switch r {
	case RouteRight:
		return "right"
	case RouteLeft:
		return "left"
	default:
		return fmt.Sprintf("MissingRoute(%d)", uint8(r))
	}
}

// ParseMissingRoute converts "right" or "left" to a MissingRoute.
func ParseMissingRoute(s string) (MissingRoute, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "right":
		return RouteRight, nil
	case "left":
		return RouteLeft, nil
	default:
		return RouteRight, fmt.Errorf("unknown missing route %q", s)
	}
}

type nodeKind uint8

const (
	nodeExternal nodeKind = iota
	nodeInternal
)

// node is one entry of a tree's arena. Internal nodes use Feature, Split,
// Left and Right; external nodes use only Size.
type node struct {
	Kind    nodeKind
	Feature string
	Split   float64
	Left    int32
	Right   int32
	Size    int
}

// Tree is a single isolation tree. Nodes live in a flat arena with the root
// at index 0; children are referenced by index and each has one parent.
type Tree struct {
	nodes       []node
	heightLimit int
	route       MissingRoute
}

// NodeInfo is a read-only view of a tree node passed to Walk.
type NodeInfo struct {
	ID       int
	Depth    int
	Internal bool
	Feature  string
	Split    float64
	Size     int
	Left     int
	Right    int
}

// AveragePathLength returns c(n), the expected path length of an unsuccessful
// search in a binary search tree of n points. It is the correction added at
// external nodes and the normalizer for scores.
func AveragePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n with H(k) ~ ln(k) + gamma
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// HeightLimit returns ceil(log2(subSamplingSize)), the maximum depth of a tree
// built from subsamples of that size.
func HeightLimit(subSamplingSize int) int {
	if subSamplingSize <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(subSamplingSize))))
}

// BuildTree grows an isolation tree over samples. samples must not be empty.
func BuildTree(samples []sample.Sample, heightLimit int, rng *rand.Rand, route MissingRoute) (*Tree, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("build tree: %w", ErrEmptyPool)
	}
	if heightLimit < 0 {
		return nil, fmt.Errorf("build tree: negative height limit %d: %w", heightLimit, ErrDegenerateConfig)
	}

	b := &treeBuilder{
		rng:   rng,
		route: route,
		limit: heightLimit,
		nodes: make([]node, 0, 2*len(samples)),
	}
	b.build(samples, 0)

	return &Tree{
		nodes:       b.nodes,
		heightLimit: heightLimit,
		route:       route,
	}, nil
}

type treeBuilder struct {
	rng   *rand.Rand
	route MissingRoute
	limit int
	nodes []node
}

func (b *treeBuilder) build(samples []sample.Sample, height int) int32 {
	idx := int32(len(b.nodes))
	b.nodes = append(b.nodes, node{Kind: nodeExternal, Size: len(samples)})

	if len(samples) <= 1 || height >= b.limit {
		return idx
	}

	names := featureNames(samples)
	if len(names) == 0 {
		return idx
	}
	feature := names[b.rng.Intn(len(names))]

	lo, hi, ok := valueRange(samples, feature)
	if !ok || lo == hi {
		return idx
	}

	split := drawSplit(b.rng, lo, hi)
	left, right := partition(samples, feature, split, b.route)

	l := b.build(left, height+1)
	r := b.build(right, height+1)
	b.nodes[idx] = node{
		Kind:    nodeInternal,
		Feature: feature,
		Split:   split,
		Left:    l,
		Right:   r,
	}
	return idx
}

// featureNames returns the sorted union of feature names across samples.
func featureNames(samples []sample.Sample) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, s := range samples {
		for _, name := range s.FeatureNames() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// valueRange returns min and max of feature over the samples that carry it.
func valueRange(samples []sample.Sample, feature string) (lo, hi float64, ok bool) {
	for _, s := range samples {
		v, has := s.Value(feature)
		if !has {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, ok
}

// drawSplit picks a value strictly inside (lo, hi) when one exists.
func drawSplit(rng *rand.Rand, lo, hi float64) float64 {
	if math.Nextafter(lo, hi) >= hi {
		return hi
	}
	for {
		v := lo + rng.Float64()*(hi-lo)
		if v > lo && v < hi {
			return v
		}
	}
}

func partition(samples []sample.Sample, feature string, split float64, route MissingRoute) (left, right []sample.Sample) {
	for _, s := range samples {
		if goesLeft(s, feature, split, route) {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	return left, right
}

func goesLeft(s sample.Sample, feature string, split float64, route MissingRoute) bool {
	v, ok := s.Value(feature)
	if !ok {
		return route == RouteLeft
	}
	return v < split
}

// PathLength returns the number of edges from the root to the external node
// reached by q, plus c(size) of that node.
func (t *Tree) PathLength(q sample.Sample) float64 {
	var edges float64
	i := int32(0)
	for {
		n := &t.nodes[i]
		switch n.Kind {
		case nodeExternal:
			return edges + AveragePathLength(n.Size)
		case nodeInternal:
			if goesLeft(q, n.Feature, n.Split, t.route) {
				i = n.Left
			} else {
				i = n.Right
			}
			edges++
		default:
			panic(fmt.Sprintf("iforest: corrupt node kind %d", n.Kind))
		}
	}
}

// Depth returns the largest number of edges between the root and an external node.
func (t *Tree) Depth() int {
	deepest := 0
	t.Walk(func(n NodeInfo) {
		if !n.Internal && n.Depth > deepest {
			deepest = n.Depth
		}
	})
	return deepest
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// HeightLimit returns the depth bound the tree was built with.
func (t *Tree) HeightLimit() int {
	return t.heightLimit
}

// Size returns the number of training samples the tree was built from.
func (t *Tree) Size() int {
	total := 0
	for _, n := range t.nodes {
		if n.Kind == nodeExternal {
			total += n.Size
		}
	}
	return total
}

// Walk visits every node in pre-order (node, left subtree, right subtree).
func (t *Tree) Walk(fn func(NodeInfo)) {
	if len(t.nodes) == 0 {
		return
	}
	t.walk(0, 0, fn)
}

func (t *Tree) walk(i int32, depth int, fn func(NodeInfo)) {
	n := t.nodes[i]
	info := NodeInfo{ID: int(i), Depth: depth}
	switch n.Kind {
	case nodeExternal:
		info.Size = n.Size
		fn(info)
	case nodeInternal:
		info.Internal = true
		info.Feature = n.Feature
		info.Split = n.Split
		info.Left = int(n.Left)
		info.Right = int(n.Right)
		fn(info)
		t.walk(n.Left, depth+1, fn)
		t.walk(n.Right, depth+1, fn)
	}
}
