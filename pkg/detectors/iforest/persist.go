package iforest

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// snapshot is the gob form of a built forest. The training pool is not saved.
type snapshot struct {
	NTrees        int
	SampleSize    int
	Contamination float64
	Threshold     float64
	Route         MissingRoute
	Trees         []treeSnapshot
}

type treeSnapshot struct {
	Nodes       []node
	HeightLimit int
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, fmt.Errorf("save: forest not built: %w", ErrInvalidState)
	}

	snap := snapshot{
		NTrees:        f.nTrees,
		SampleSize:    f.sampleSize,
		Contamination: f.contamination,
		Threshold:     f.threshold,
		Route:         f.route,
		Trees:         make([]treeSnapshot, len(f.trees)),
	}
	for i, t := range f.trees {
		snap.Trees[i] = treeSnapshot{Nodes: t.nodes, HeightLimit: t.heightLimit}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}

	return buf.Bytes(), nil
}

// Load deserializes a trained model into an unbuilt forest. The loaded forest
// is built and cannot take new training samples.
func (f *IsolationForest) Load(data []byte) error {
	if f.Built() {
		return fmt.Errorf("load: forest already built: %w", ErrInvalidState)
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if len(snap.Trees) == 0 || len(snap.Trees) != snap.NTrees {
		return fmt.Errorf("load: snapshot has %d trees, want %d: %w", len(snap.Trees), snap.NTrees, ErrDegenerateConfig)
	}
	if snap.SampleSize < 1 {
		return fmt.Errorf("load: subsample size %d: %w", snap.SampleSize, ErrDegenerateConfig)
	}
	if snap.Route != RouteRight && snap.Route != RouteLeft {
		return fmt.Errorf("load: unknown missing route %d", uint8(snap.Route))
	}

	trees := make([]*Tree, len(snap.Trees))
	for i, ts := range snap.Trees {
		if err := validateNodes(ts.Nodes); err != nil {
			return fmt.Errorf("load: tree %d: %w", i, err)
		}
		trees[i] = &Tree{nodes: ts.Nodes, heightLimit: ts.HeightLimit, route: snap.Route}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.trained {
		return fmt.Errorf("load: forest already built: %w", ErrInvalidState)
	}
	f.nTrees = snap.NTrees
	f.sampleSize = snap.SampleSize
	f.contamination = snap.Contamination
	f.threshold = snap.Threshold
	f.norm = AveragePathLength(snap.SampleSize)
	f.route = snap.Route
	f.trees = trees
	f.pool = nil
	f.trained = true

	return nil
}

// validateNodes checks that the arena is a tree rooted at index 0: child
// indices point forward inside the arena and every node but the root has
// exactly one parent.
func validateNodes(nodes []node) error {
	if len(nodes) == 0 {
		return fmt.Errorf("no nodes")
	}
	parents := make([]int, len(nodes))
	for i, n := range nodes {
		switch n.Kind {
		case nodeExternal:
		case nodeInternal:
			if int(n.Left) <= i || int(n.Right) <= i || int(n.Left) >= len(nodes) || int(n.Right) >= len(nodes) {
				return fmt.Errorf("node %d has invalid children %d/%d", i, n.Left, n.Right)
			}
			parents[n.Left]++
			parents[n.Right]++
		default:
			return fmt.Errorf("node %d has unknown kind %d", i, n.Kind)
		}
	}
	for i := 1; i < len(nodes); i++ {
		if parents[i] != 1 {
			return fmt.Errorf("node %d has %d parents", i, parents[i])
		}
	}
	return nil
}
