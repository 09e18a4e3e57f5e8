package iforest

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/goiforest/pkg/sample"
)

func TestAveragePathLength(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{n: 0, want: 0},
		{n: 1, want: 0},
		{n: 2, want: 1.0},
		{n: 3, want: 1.207392},
		{n: 10, want: 3.748880},
		{n: 256, want: 10.244770},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, AveragePathLength(tt.n), 1e-4, "c(%d)", tt.n)
	}
}

func TestAveragePathLengthIncreasing(t *testing.T) {
	prev := AveragePathLength(1)
	for n := 2; n <= 4096; n++ {
		c := AveragePathLength(n)
		require.Greater(t, c, prev, "c(%d) must exceed c(%d)", n, n-1)
		prev = c
	}
}

func TestHeightLimit(t *testing.T) {
	tests := map[int]int{0: 0, 1: 0, 2: 1, 10: 4, 16: 4, 17: 5, 256: 8}
	for size, want := range tests {
		assert.Equal(t, want, HeightLimit(size), "size %d", size)
	}
}

func TestBuildTreeEmpty(t *testing.T) {
	_, err := BuildTree(nil, 4, rand.New(rand.NewSource(1)), RouteRight)
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestBuildTreeSingleSample(t *testing.T) {
	tree, err := BuildTree(xySamples(1, 1), 4, rand.New(rand.NewSource(1)), RouteRight)
	require.NoError(t, err)

	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, 0, tree.Depth())
	assert.Equal(t, 0.0, tree.PathLength(xy(0, 0)))
}

func TestBuildTreeConstantFeature(t *testing.T) {
	samples := make([]sample.Sample, 8)
	for i := range samples {
		samples[i] = sample.MustNew("const", sample.Feature{Name: "x", Value: 3})
	}

	tree, err := BuildTree(samples, 3, rand.New(rand.NewSource(1)), RouteRight)
	require.NoError(t, err)

	assert.Equal(t, 1, tree.Len(), "no split is possible on a constant feature")
	assert.InDelta(t, AveragePathLength(8), tree.PathLength(samples[0]), 1e-12)
}

func TestBuildTreeNoFeatures(t *testing.T) {
	samples := []sample.Sample{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	tree, err := BuildTree(samples, 2, rand.New(rand.NewSource(1)), RouteRight)
	require.NoError(t, err)
	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, 3, tree.Size())
}

func TestBuildTreeHeightLimit(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := xySamples(16, 7)
	limit := HeightLimit(16)

	for i := 0; i < 50; i++ {
		tree, err := BuildTree(samples, limit, rng, RouteRight)
		require.NoError(t, err)
		assert.LessOrEqual(t, tree.Depth(), limit)
		assert.Equal(t, len(samples), tree.Size(), "every training sample ends in exactly one leaf")
	}
}

func TestBuildTreeStructure(t *testing.T) {
	tree, err := BuildTree(xySamples(64, 3), 6, rand.New(rand.NewSource(3)), RouteRight)
	require.NoError(t, err)

	parents := make(map[int]int)
	tree.Walk(func(n NodeInfo) {
		if !n.Internal {
			return
		}
		assert.Contains(t, []string{"x", "y"}, n.Feature)
		parents[n.Left]++
		parents[n.Right]++
	})
	for id, count := range parents {
		assert.Equal(t, 1, count, "node %d must have a single parent", id)
	}
	assert.Equal(t, tree.Len()-1, len(parents), "every node except the root has a parent")
}

func TestDrawSplit(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		v := drawSplit(rng, 1, 2)
		assert.Greater(t, v, 1.0)
		assert.Less(t, v, 2.0)
	}

	// no float strictly between adjacent values
	lo := 1.0
	hi := math.Nextafter(lo, 2)
	assert.Equal(t, hi, drawSplit(rng, lo, hi))
}

func TestPartitionMissingFeature(t *testing.T) {
	samples := []sample.Sample{
		sample.MustNew("low", sample.Feature{Name: "x", Value: 1}),
		sample.MustNew("high", sample.Feature{Name: "x", Value: 9}),
		sample.MustNew("missing", sample.Feature{Name: "y", Value: 5}),
	}

	left, right := partition(samples, "x", 5, RouteRight)
	assert.Equal(t, []string{"low"}, names(left))
	assert.Equal(t, []string{"high", "missing"}, names(right))

	left, right = partition(samples, "x", 5, RouteLeft)
	assert.Equal(t, []string{"low", "missing"}, names(left))
	assert.Equal(t, []string{"high"}, names(right))
}

func TestPathLengthMissingFeature(t *testing.T) {
	for _, route := range []MissingRoute{RouteRight, RouteLeft} {
		t.Run(route.String(), func(t *testing.T) {
			tree, err := BuildTree(xySamples(32, 5), 5, rand.New(rand.NewSource(5)), route)
			require.NoError(t, err)
			require.Greater(t, tree.Len(), 1)

			empty := sample.Sample{Name: "no features"}
			assert.InDelta(t, outermostPath(tree, route), tree.PathLength(empty), 1e-12)
		})
	}
}

func TestPathLengthFollowsSplits(t *testing.T) {
	tree := &Tree{
		nodes: []node{
			{Kind: nodeInternal, Feature: "x", Split: 10, Left: 1, Right: 2},
			{Kind: nodeExternal, Size: 1},
			{Kind: nodeInternal, Feature: "y", Split: 5, Left: 3, Right: 4},
			{Kind: nodeExternal, Size: 2},
			{Kind: nodeExternal, Size: 10},
		},
		heightLimit: 2,
	}

	assert.Equal(t, 1.0, tree.PathLength(xy(3, 100)))
	assert.Equal(t, 2.0+AveragePathLength(2), tree.PathLength(xy(10, 4)))
	assert.Equal(t, 2.0+AveragePathLength(10), tree.PathLength(xy(20, 5)))
	assert.Equal(t, 2, tree.Depth())
}

func TestParseMissingRoute(t *testing.T) {
	r, err := ParseMissingRoute("LEFT")
	require.NoError(t, err)
	assert.Equal(t, RouteLeft, r)

	r, err = ParseMissingRoute("")
	require.NoError(t, err)
	assert.Equal(t, RouteRight, r)

	_, err = ParseMissingRoute("up")
	assert.Error(t, err)
}

// outermostPath follows the branch a featureless sample takes under route.
func outermostPath(tree *Tree, route MissingRoute) float64 {
	var edges float64
	i := int32(0)
	for tree.nodes[i].Kind == nodeInternal {
		if route == RouteLeft {
			i = tree.nodes[i].Left
		} else {
			i = tree.nodes[i].Right
		}
		edges++
	}
	return edges + AveragePathLength(tree.nodes[i].Size)
}

func names(samples []sample.Sample) []string {
	out := make([]string, len(samples))
	for i, s := range samples {
		out[i] = s.Name
	}
	return out
}

func xy(x, y float64) sample.Sample {
	return sample.MustNew("point",
		sample.Feature{Name: "x", Value: x},
		sample.Feature{Name: "y", Value: y},
	)
}

// xySamples draws n points uniformly from [0,25)².
func xySamples(n int, seed int64) []sample.Sample {
	rng := rand.New(rand.NewSource(seed))
	out := make([]sample.Sample, n)
	for i := range out {
		out[i] = xy(rng.Float64()*25, rng.Float64()*25)
	}
	return out
}
