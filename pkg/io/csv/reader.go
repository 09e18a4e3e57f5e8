// Package csv provides CSV file reading and writing for tabular samples.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	gio "github.com/hed1ad/goiforest/pkg/io"
	"github.com/hed1ad/goiforest/pkg/sample"
)

var log = logrus.WithField("component", "csv")

// RowError reports a row that could not be turned into a sample. Lenient
// readers skip such rows; any other error ends the read.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Reader reads samples from CSV files. Each column becomes a named feature;
// an empty cell means the sample lacks that feature.
type Reader struct {
	closer     io.Closer
	reader     *csv.Reader
	hasHeader  bool
	headers    []string
	nameColumn string
	nameIndex  int
	strict     bool
	line       int
}

var _ gio.Reader = (*Reader)(nil)

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithNameColumn uses the named column as the sample label instead of a feature.
// Without a header, the column name is a zero-based index such as "0".
func WithNameColumn(col string) Option {
	return func(r *Reader) {
		r.nameColumn = col
	}
}

// WithStrict makes Read fail on malformed rows instead of skipping them.
func WithStrict(strict bool) Option {
	return func(r *Reader) {
		r.strict = strict
	}
}

// NewReader creates a new CSV reader for a file.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}

	r, err := NewStreamReader(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewStreamReader creates a CSV reader over src. Close does not close src.
func NewStreamReader(src io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		reader:    csv.NewReader(src),
		hasHeader: true,
		nameIndex: -1,
	}
	r.reader.FieldsPerRecord = -1

	for _, opt := range opts {
		opt(r)
	}

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			return nil, errors.Wrap(err, "read header")
		}
		r.line++
		for i := range headers {
			headers[i] = strings.TrimSpace(headers[i])
		}
		r.headers = headers
	}

	if r.nameColumn != "" {
		idx, err := r.columnIndex(r.nameColumn)
		if err != nil {
			return nil, err
		}
		r.nameIndex = idx
	}

	return r, nil
}

func (r *Reader) columnIndex(col string) (int, error) {
	for i, h := range r.headers {
		if h == col {
			return i, nil
		}
	}
	if idx, err := strconv.Atoi(col); err == nil && idx >= 0 {
		return idx, nil
	}
	return -1, errors.Errorf("unknown name column %q", col)
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Read returns all rows as samples. Malformed rows are skipped and logged,
// or collected into the returned error in strict mode. A read failure of the
// underlying source is returned at once.
func (r *Reader) Read() ([]sample.Sample, error) {
	var (
		data []sample.Sample
		errs error
	)

	for {
		s, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var rowErr *RowError
			if !errors.As(err, &rowErr) {
				return nil, err
			}
			if r.strict {
				errs = multierr.Append(errs, err)
				continue
			}
			log.WithError(err).Warn("skipping malformed row")
			continue
		}
		data = append(data, s)
	}

	if errs != nil {
		return nil, errs
	}
	return data, nil
}

// Stream returns a channel of samples for real-time processing.
// Malformed rows are skipped; the channel is closed at the end of the input,
// on a read failure or when ctx is done.
func (r *Reader) Stream(ctx context.Context) (<-chan sample.Sample, error) {
	out := make(chan sample.Sample, 100)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				s, err := r.next()
				if err == io.EOF {
					return
				}
				if err != nil {
					var rowErr *RowError
					if !errors.As(err, &rowErr) {
						log.WithError(err).Error("stream stopped")
						return
					}
					log.WithError(err).Debug("skipping malformed row")
					continue
				}

				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) next() (sample.Sample, error) {
	record, err := r.reader.Read()
	if err == io.EOF {
		return sample.Sample{}, io.EOF
	}
	r.line++
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return sample.Sample{}, &RowError{Line: r.line, Err: err}
		}
		return sample.Sample{}, errors.Wrapf(err, "read line %d", r.line)
	}

	s, err := r.parseRow(record)
	if err != nil {
		return sample.Sample{}, &RowError{Line: r.line, Err: err}
	}
	return s, nil
}

// parseRow converts a record to a sample.
func (r *Reader) parseRow(record []string) (sample.Sample, error) {
	if len(record) == 0 {
		return sample.Sample{}, errors.New("empty row")
	}
	if r.hasHeader && len(record) > len(r.headers) {
		return sample.Sample{}, errors.Errorf("%d fields for %d columns", len(record), len(r.headers))
	}

	s := sample.Sample{Name: fmt.Sprintf("row%d", r.line)}
	for i, val := range record {
		val = strings.TrimSpace(val)
		if i == r.nameIndex {
			s.Name = val
			continue
		}
		if val == "" {
			continue
		}

		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return sample.Sample{}, errors.Wrapf(err, "column %s", r.column(i))
		}
		if err := s.AddFeatures(sample.Feature{Name: r.column(i), Value: f}); err != nil {
			return sample.Sample{}, err
		}
	}
	return s, nil
}

func (r *Reader) column(i int) string {
	if i < len(r.headers) {
		return r.headers[i]
	}
	return "f" + strconv.Itoa(i)
}
