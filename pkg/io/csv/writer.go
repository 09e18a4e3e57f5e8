package csv

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"

	gio "github.com/hed1ad/goiforest/pkg/io"
	"github.com/hed1ad/goiforest/pkg/sample"
)

// ResultHeader is the header row written before the first result.
var ResultHeader = []string{"name", "score", "path_length", "is_anomaly"}

// Writer writes results and raw samples as CSV.
type Writer struct {
	closer      io.Closer
	writer      *csv.Writer
	wroteHeader bool
}

var _ gio.Writer = (*Writer)(nil)

// Create opens path for writing, truncating it.
func Create(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	w := NewWriter(file)
	w.closer = file
	return w, nil
}

// NewWriter writes CSV to dst. Close does not close dst.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{writer: csv.NewWriter(dst)}
}

// WriteHeader writes a header row. A later Write does not add ResultHeader.
func (w *Writer) WriteHeader(columns []string) error {
	if err := w.writer.Write(columns); err != nil {
		return errors.Wrap(err, "write header")
	}
	w.wroteHeader = true
	return nil
}

// Write outputs a single result row, preceded by ResultHeader the first time.
func (w *Writer) Write(result gio.Result) error {
	if !w.wroteHeader {
		if err := w.writer.Write(ResultHeader); err != nil {
			return errors.Wrap(err, "write header")
		}
		w.wroteHeader = true
	}

	record := []string{
		result.Name,
		strconv.FormatFloat(result.Score, 'f', 6, 64),
		strconv.FormatFloat(result.PathLength, 'f', 6, 64),
		strconv.FormatBool(result.IsAnomaly),
	}
	if err := w.writer.Write(record); err != nil {
		return errors.Wrap(err, "write result")
	}
	return nil
}

// WriteAll outputs multiple results and flushes.
func (w *Writer) WriteAll(results []gio.Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteSample writes label followed by the sample's values in feature order.
func (w *Writer) WriteSample(label string, s sample.Sample) error {
	features := s.Features()
	record := make([]string, 0, len(features)+1)
	record = append(record, label)
	for _, f := range features {
		record = append(record, strconv.FormatFloat(f.Value, 'g', -1, 64))
	}
	if err := w.writer.Write(record); err != nil {
		return errors.Wrap(err, "write sample")
	}
	return nil
}

// Flush writes buffered rows to the destination.
func (w *Writer) Flush() error {
	w.writer.Flush()
	return errors.Wrap(w.writer.Error(), "flush")
}

// Close flushes and releases resources.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
