// Package detectors provides unsupervised anomaly detection algorithms.
package detectors

import (
	"context"

	"github.com/hed1ad/goiforest/pkg/sample"
)

// Detector is the common interface for all anomaly detection algorithms.
type Detector interface {
	// Fit trains the detector on historical data.
	// Samples may carry different feature sets.
	Fit(samples []sample.Sample) error

	// Predict returns anomaly scores for the given samples.
	// Scores are normalized to (0, 1] where higher values indicate anomalies.
	Predict(samples []sample.Sample) ([]float64, error)

	// PredictOne returns the anomaly score for a single sample.
	PredictOne(s sample.Sample) (float64, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// StreamDetector extends Detector with streaming capabilities.
type StreamDetector interface {
	Detector

	// PredictStream processes samples from a channel and outputs scores.
	PredictStream(ctx context.Context, input <-chan sample.Sample, output chan<- Score) error
}

// Score represents an anomaly detection result.
type Score struct {
	// Value is the anomaly score in (0, 1].
	Value float64
	// PathLength is the raw average path length the score was derived from.
	PathLength float64
	// IsAnomaly indicates if the score exceeds the threshold.
	IsAnomaly bool
	// Sample is the scored input.
	Sample sample.Sample
}
