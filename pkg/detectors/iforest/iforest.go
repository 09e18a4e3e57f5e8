// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/goiforest/pkg/detectors"
	"github.com/hed1ad/goiforest/pkg/metrics"
	"github.com/hed1ad/goiforest/pkg/sample"
)

var log = logrus.WithField("component", "iforest")

// IsolationForest implements unsupervised anomaly detection using isolation trees.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	threshold     float64
	route         MissingRoute
	workers       int
	rng           *rand.Rand
	recorder      *metrics.Recorder
	logger        logrus.FieldLogger

	// Training pool, frozen once the forest is built
	pool []sample.Sample

	// Trained model
	trees   []*Tree
	trained bool

	// c(sampleSize), cached at Create
	norm float64
}

var _ detectors.StreamDetector = (*IsolationForest)(nil)

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
// When positive, Create derives the threshold from the training scores.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.rng = rand.New(rand.NewSource(seed))
	}
}

// WithRand sets the random source. The forest becomes its only user.
func WithRand(rng *rand.Rand) Option {
	return func(f *IsolationForest) {
		f.rng = rng
	}
}

// WithMissingRoute sets where samples lacking a split feature are sent.
func WithMissingRoute(r MissingRoute) Option {
	return func(f *IsolationForest) {
		f.route = r
	}
}

// WithWorkers bounds the goroutines used to build trees and score batches.
func WithWorkers(n int) Option {
	return func(f *IsolationForest) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r *metrics.Recorder) Option {
	return func(f *IsolationForest) {
		f.recorder = r
	}
}

// WithLogger overrides the package logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(f *IsolationForest) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:     100,
		sampleSize: 256,
		threshold:  0.5,
		route:      RouteRight,
		workers:    runtime.GOMAXPROCS(0),
		rng:        rand.New(rand.NewSource(42)),
		logger:     log,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// AddSample appends a copy of s to the training pool.
func (f *IsolationForest) AddSample(s sample.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.trained {
		return fmt.Errorf("add sample: forest already built: %w", ErrInvalidState)
	}
	f.pool = append(f.pool, s.Clone())
	return nil
}

// PoolSize returns the number of training samples added so far.
func (f *IsolationForest) PoolSize() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.pool)
}

type buildJob struct {
	indices []int
	seed    int64
}

// Create builds every tree from a random subsample of the training pool.
// It may be called once; a failed build leaves the forest unbuilt.
func (f *IsolationForest) Create() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.trained {
		return fmt.Errorf("create: forest already built: %w", ErrInvalidState)
	}
	if len(f.pool) == 0 {
		return fmt.Errorf("create: %w", ErrEmptyPool)
	}
	if f.nTrees < 1 || f.sampleSize < 1 {
		return fmt.Errorf("create: %d trees with subsample size %d: %w", f.nTrees, f.sampleSize, ErrDegenerateConfig)
	}

	start := time.Now()

	// Adjust sample size if needed
	sampleSize := min(f.sampleSize, len(f.pool))
	limit := HeightLimit(f.sampleSize)

	// Subsamples and seeds are drawn up front so the trees do not depend
	// on goroutine scheduling.
	jobs := make([]buildJob, f.nTrees)
	for i := range jobs {
		jobs[i] = buildJob{
			indices: f.rng.Perm(len(f.pool))[:sampleSize],
			seed:    f.rng.Int63(),
		}
	}

	trees := make([]*Tree, f.nTrees)
	var g errgroup.Group
	g.SetLimit(f.workers)
	for i, job := range jobs {
		g.Go(func() error {
			subsample := make([]sample.Sample, len(job.indices))
			for j, idx := range job.indices {
				subsample[j] = f.pool[idx]
			}
			tree, err := BuildTree(subsample, limit, rand.New(rand.NewSource(job.seed)), f.route)
			if err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("create: %w", err)
	}

	f.trees = trees
	f.norm = AveragePathLength(f.sampleSize)
	f.trained = true

	// Set threshold based on contamination
	if f.contamination > 0 {
		if err := f.fitThreshold(); err != nil {
			f.logger.WithError(err).Warn("keeping default threshold")
		}
	}

	elapsed := time.Since(start)
	f.recorder.ObserveCreate(len(trees), elapsed)
	f.logger.WithFields(logrus.Fields{
		"trees":       len(trees),
		"pool":        len(f.pool),
		"subsample":   sampleSize,
		"heightLimit": limit,
		"elapsed":     elapsed,
	}).Debug("forest created")

	return nil
}

func (f *IsolationForest) fitThreshold() error {
	scores := make([]float64, len(f.pool))
	for i, s := range f.pool {
		score, err := f.normalizedScore(s)
		if err != nil {
			return err
		}
		scores[i] = score
	}
	f.threshold = percentile(scores, 100*(1-f.contamination))
	return nil
}

// Score returns the average path length E[h(q)] over all trees.
// Smaller values indicate a more anomalous sample.
func (f *IsolationForest) Score(q sample.Sample) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, fmt.Errorf("score: forest not built: %w", ErrInvalidState)
	}
	return f.score(q), nil
}

func (f *IsolationForest) score(q sample.Sample) float64 {
	var total float64
	for _, tree := range f.trees {
		total += tree.PathLength(q)
	}
	f.recorder.ObserveScore()
	return total / float64(len(f.trees))
}

// NormalizedScore returns 2^(-E[h(q)]/c(subSamplingSize)), a value in (0, 1]
// where values close to 1 indicate anomalies.
func (f *IsolationForest) NormalizedScore(q sample.Sample) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, fmt.Errorf("normalized score: forest not built: %w", ErrInvalidState)
	}
	return f.normalizedScore(q)
}

func (f *IsolationForest) normalizedScore(q sample.Sample) (float64, error) {
	_, score, err := f.scorePair(q)
	return score, err
}

func (f *IsolationForest) scorePair(q sample.Sample) (raw, normalized float64, err error) {
	if f.sampleSize <= 1 {
		return 0, 0, fmt.Errorf("normalized score: subsample size %d: %w", f.sampleSize, ErrDegenerateConfig)
	}
	raw = f.score(q)
	normalized = math.Pow(2, -raw/f.norm)
	f.recorder.ObserveNormalized(normalized)
	return raw, normalized, nil
}

// Fit adds samples to the training pool and builds the forest.
func (f *IsolationForest) Fit(samples []sample.Sample) error {
	for _, s := range samples {
		if err := f.AddSample(s); err != nil {
			return err
		}
	}
	return f.Create()
}

// Predict returns normalized anomaly scores for the given samples.
func (f *IsolationForest) Predict(samples []sample.Sample) ([]float64, error) {
	results, err := f.Evaluate(samples)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}

	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Value
	}
	return scores, nil
}

// Evaluate scores every sample once and returns the normalized score, the
// average path length and the anomaly flag, in input order.
func (f *IsolationForest) Evaluate(samples []sample.Sample) ([]detectors.Score, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, fmt.Errorf("forest not built: %w", ErrInvalidState)
	}

	results := make([]detectors.Score, len(samples))

	var g errgroup.Group
	g.SetLimit(f.workers)
	for i, s := range samples {
		g.Go(func() error {
			raw, score, err := f.scorePair(s)
			if err != nil {
				return err
			}
			results[i] = detectors.Score{
				Value:      score,
				PathLength: raw,
				IsAnomaly:  score >= f.threshold,
				Sample:     s,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// PredictOne returns the normalized anomaly score for a single sample.
func (f *IsolationForest) PredictOne(s sample.Sample) (float64, error) {
	return f.NormalizedScore(s)
}

// PredictStream scores samples from input until it is closed or ctx is done.
// output is closed when PredictStream returns.
func (f *IsolationForest) PredictStream(ctx context.Context, input <-chan sample.Sample, output chan<- detectors.Score) error {
	defer close(output)

	if !f.Built() {
		return fmt.Errorf("predict stream: forest not built: %w", ErrInvalidState)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-input:
			if !ok {
				return nil
			}

			f.mu.RLock()
			pathLength, score, err := f.scorePair(s)
			threshold := f.threshold
			f.mu.RUnlock()
			if err != nil {
				return err
			}

			select {
			case output <- detectors.Score{
				Value:      score,
				PathLength: pathLength,
				IsAnomaly:  score >= threshold,
				Sample:     s,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// ScoreStream scores samples from input like PredictStream and hands each
// score to fn. When fn fails, scoring stops and fn's error is returned once
// the scoring goroutine has exited.
func (f *IsolationForest) ScoreStream(ctx context.Context, input <-chan sample.Sample, fn func(detectors.Score) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scores := make(chan detectors.Score)
	errc := make(chan error, 1)
	go func() {
		errc <- f.PredictStream(ctx, input, scores)
	}()

	var fnErr error
	for s := range scores {
		if fnErr != nil {
			continue
		}
		if err := fn(s); err != nil {
			fnErr = err
			cancel()
		}
	}

	err := <-errc
	if fnErr != nil {
		return fnErr
	}
	return err
}

// Trees returns the built trees. They must not be modified.
func (f *IsolationForest) Trees() []*Tree {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.trees)
}

// Built reports whether Create (or Load) has succeeded.
func (f *IsolationForest) Built() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trained
}

// Threshold returns the current anomaly threshold.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

// SetThreshold updates the anomaly threshold.
func (f *IsolationForest) SetThreshold(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = t
}

// percentile calculates the p-th percentile of the data.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := slices.Clone(data)
	slices.Sort(sorted)

	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}
