// Package io provides input/output utilities for data ingestion.
package io

import (
	"context"

	"github.com/hed1ad/goiforest/pkg/sample"
)

// Reader is the interface for reading data from various sources.
type Reader interface {
	// Read returns the complete dataset.
	Read() ([]sample.Sample, error)

	// Stream returns a channel of samples for real-time processing.
	Stream(ctx context.Context) (<-chan sample.Sample, error)

	// Close releases resources.
	Close() error
}

// FeatureExtractor extracts named numeric features from raw data.
type FeatureExtractor interface {
	// Extract converts raw input to a sample.
	Extract(data any) (sample.Sample, error)

	// FeatureNames returns the names of features the extractor can produce.
	FeatureNames() []string
}

// Writer is the interface for writing detection results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error

	// Close releases resources.
	Close() error
}

// Result represents an anomaly detection result.
type Result struct {
	Timestamp  int64            `json:"timestamp"`
	Name       string           `json:"name"`
	Score      float64          `json:"score"`
	PathLength float64          `json:"path_length"`
	IsAnomaly  bool             `json:"is_anomaly"`
	Features   []sample.Feature `json:"features,omitempty"`
}
