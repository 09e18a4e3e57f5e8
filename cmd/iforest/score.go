package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hed1ad/goiforest/pkg/detectors/iforest"
	gio "github.com/hed1ad/goiforest/pkg/io"
	"github.com/hed1ad/goiforest/pkg/io/csv"
	"github.com/hed1ad/goiforest/pkg/sample"
)

type scoreOptions struct {
	train      string
	input      string
	output     string
	nameColumn string
	strict     bool
	dump       string
}

func newScoreCmd(a *app) *cobra.Command {
	var opts scoreOptions

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Train on one CSV file and score the rows of another",
		Long: `Train a forest on the rows of --train and score every row of --input.

Both files need a header row; each column other than --name-column is a
feature and empty cells are treated as missing features. Results are
written as name,score,path_length,is_anomaly rows.

Examples:
  # Score against a training set, print to stdout
  iforest score --train normal.csv --input today.csv

  # Derive the threshold from a 5% contamination estimate
  iforest score --train normal.csv --input today.csv --contamination 0.05 --output scores.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScore(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.train, "train", "", "CSV file with training rows")
	cmd.Flags().StringVar(&opts.input, "input", "", "CSV file with rows to score")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "result file, - for stdout")
	cmd.Flags().StringVar(&opts.nameColumn, "name-column", "", "column used as the row label")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "fail on malformed rows instead of skipping them")
	cmd.Flags().StringVar(&opts.dump, "dump", "", "also dump the trees to stderr in this format (text, table, json)")
	_ = cmd.MarkFlagRequired("train")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func (a *app) runScore(stdout, stderr io.Writer, opts scoreOptions) error {
	train, err := readSamples(opts.train, opts)
	if err != nil {
		return err
	}
	queries, err := readSamples(opts.input, opts)
	if err != nil {
		return err
	}

	f := iforest.New(append(a.cfg.ForestOptions(), iforest.WithRecorder(a.recorder))...)
	if err := f.Fit(train); err != nil {
		return fmt.Errorf("train on %s: %w", opts.train, err)
	}
	if opts.dump != "" {
		if err := f.Dump(stderr, iforest.DumpFormat(opts.dump)); err != nil {
			return err
		}
	}

	scores, err := f.Evaluate(queries)
	if err != nil {
		return err
	}

	results := make([]gio.Result, len(scores))
	anomalies := 0
	for i, s := range scores {
		results[i] = gio.Result{
			Name:       s.Sample.Name,
			Score:      s.Value,
			PathLength: s.PathLength,
			IsAnomaly:  s.IsAnomaly,
			Features:   s.Sample.Features(),
		}
		if s.IsAnomaly {
			anomalies++
		}
	}

	w := csv.NewWriter(stdout)
	if opts.output != "-" {
		w, err = csv.Create(opts.output)
		if err != nil {
			return err
		}
	}
	if err := w.WriteAll(results); err != nil {
		w.Close()
		return err
	}

	log.WithField("anomalies", anomalies).
		WithField("scored", len(results)).
		WithField("threshold", f.Threshold()).
		Info("scoring finished")

	return w.Close()
}

func readSamples(path string, opts scoreOptions) ([]sample.Sample, error) {
	r, err := csv.NewReader(path, csv.WithNameColumn(opts.nameColumn), csv.WithStrict(opts.strict))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	samples, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return samples, nil
}
