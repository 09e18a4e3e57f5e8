// Package sample provides the named-feature data model consumed by the detectors.
package sample

import (
	"errors"
	"fmt"
)

// ErrDuplicateFeature is returned when a sample already holds a feature with the same name.
var ErrDuplicateFeature = errors.New("duplicate feature name")

// Feature is a named scalar value.
type Feature struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Sample is a labelled bag of features with unique names.
// The zero value is an empty, usable sample.
type Sample struct {
	// Name is a diagnostic label; it does not need to be unique.
	Name string

	names  []string
	values map[string]float64
}

// New creates a sample with the given label and features.
func New(name string, features ...Feature) (Sample, error) {
	s := Sample{Name: name}
	if err := s.AddFeatures(features...); err != nil {
		return Sample{}, err
	}
	return s, nil
}

// MustNew is like New but panics on duplicate feature names.
func MustNew(name string, features ...Feature) Sample {
	s, err := New(name, features...)
	if err != nil {
		panic(err)
	}
	return s
}

// FromValues builds a sample from parallel name and value slices.
func FromValues(name string, names []string, values []float64) (Sample, error) {
	if len(names) != len(values) {
		return Sample{}, fmt.Errorf("sample %q: %d names for %d values", name, len(names), len(values))
	}

	features := make([]Feature, len(names))
	for i := range names {
		features[i] = Feature{Name: names[i], Value: values[i]}
	}
	return New(name, features...)
}

// AddFeatures attaches features to the sample. If any name collides with an
// existing feature or with another in the same call, nothing is added.
func (s *Sample) AddFeatures(features ...Feature) error {
	seen := make(map[string]struct{}, len(features))
	for _, f := range features {
		if _, ok := s.values[f.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateFeature, f.Name)
		}
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateFeature, f.Name)
		}
		seen[f.Name] = struct{}{}
	}

	if s.values == nil {
		s.values = make(map[string]float64, len(features))
	}
	for _, f := range features {
		s.names = append(s.names, f.Name)
		s.values[f.Name] = f.Value
	}
	return nil
}

// Value returns the value of the named feature and whether the sample has it.
func (s Sample) Value(name string) (float64, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Has reports whether the sample carries the named feature.
func (s Sample) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Len returns the number of features.
func (s Sample) Len() int {
	return len(s.names)
}

// FeatureNames returns the feature names in insertion order.
func (s Sample) FeatureNames() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Features returns the features in insertion order.
func (s Sample) Features() []Feature {
	out := make([]Feature, len(s.names))
	for i, name := range s.names {
		out[i] = Feature{Name: name, Value: s.values[name]}
	}
	return out
}

// Clone returns a copy that shares no state with s.
func (s Sample) Clone() Sample {
	c := Sample{Name: s.Name}
	if len(s.names) == 0 {
		return c
	}
	c.names = make([]string, len(s.names))
	copy(c.names, s.names)
	c.values = make(map[string]float64, len(s.values))
	for k, v := range s.values {
		c.values[k] = v
	}
	return c
}

// String renders the sample as name{feature=value, ...}.
func (s Sample) String() string {
	out := s.Name + "{"
	for i, name := range s.names {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%g", name, s.values[name])
	}
	return out + "}"
}
