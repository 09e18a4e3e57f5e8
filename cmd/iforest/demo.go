package main

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/hed1ad/goiforest/pkg/detectors/iforest"
	"github.com/hed1ad/goiforest/pkg/io/csv"
	"github.com/hed1ad/goiforest/pkg/sample"
)

// demoRun sizes one pass of the demonstration.
type demoRun struct {
	training  int
	test      int
	trees     int
	subsample int
}

var demoRuns = []demoRun{
	{training: 100, test: 10, trees: 10, subsample: 10},
	{training: 1000, test: 100, trees: 100, subsample: 100},
}

type demoOptions struct {
	outfile    string
	dump       bool
	dumpFormat string
}

// demoResult holds the averages printed for one run.
type demoResult struct {
	control           float64
	controlNormalized float64
	outlier           float64
	outlierNormalized float64
	elapsed           time.Duration
}

func newDemoCmd(a *app) *cobra.Command {
	var opts demoOptions

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Train on synthetic points and compare control and outlier scores",
		Long: `Train forests on points drawn from [0,25)² and score control points from
the same square against outliers from [20,45)².

Run 1 uses 100 training samples, 10 test samples, 10 trees and a subsample
of 10; run 2 multiplies everything by ten.

Examples:
  # Print the averages
  iforest demo

  # Keep the generated points and print every tree
  iforest demo --outfile points.csv --dump --dump-format table`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDemo(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.outfile, "outfile", "", "write generated points as label,x,y rows")
	cmd.Flags().BoolVar(&opts.dump, "dump", false, "print the trees after each run")
	cmd.Flags().StringVar(&opts.dumpFormat, "dump-format", string(iforest.DumpText), "dump format (text, table, json)")

	return cmd
}

func (a *app) runDemo(w io.Writer, opts demoOptions) (err error) {
	var out *csv.Writer
	if opts.outfile != "" {
		out, err = csv.Create(opts.outfile)
		if err != nil {
			return err
		}
		defer multierr.AppendInvoke(&err, multierr.Close(out))
	}

	for i, run := range demoRuns {
		title := fmt.Sprintf("Test %d:", i+1)
		fmt.Fprintf(w, "%s\n%s\n", title, "-------")

		f, res, err := a.demo(run, a.cfg.Seed+int64(i), out)
		if err != nil {
			return fmt.Errorf("%s %w", title, err)
		}

		fmt.Fprintf(w, "Average of control test samples: %g\n", res.control)
		fmt.Fprintf(w, "Average of control test samples (normalized): %g\n", res.controlNormalized)
		fmt.Fprintf(w, "Average of outlier test samples: %g\n", res.outlier)
		fmt.Fprintf(w, "Average of outlier test samples (normalized): %g\n", res.outlierNormalized)
		fmt.Fprintf(w, "Total time for Test %d: %g seconds.\n", i+1, res.elapsed.Seconds())

		if opts.dump {
			if err := f.Dump(w, iforest.DumpFormat(opts.dumpFormat)); err != nil {
				return err
			}
		}
		fmt.Fprintln(w)
	}

	return nil
}

func (a *app) demo(run demoRun, seed int64, out *csv.Writer) (*iforest.IsolationForest, demoResult, error) {
	var res demoResult
	rng := rand.New(rand.NewSource(seed))
	route, _ := iforest.ParseMissingRoute(a.cfg.MissingRoute)

	f := iforest.New(
		iforest.WithTrees(run.trees),
		iforest.WithSampleSize(run.subsample),
		iforest.WithSeed(seed),
		iforest.WithMissingRoute(route),
		iforest.WithWorkers(a.cfg.Workers),
		iforest.WithRecorder(a.recorder),
	)

	start := time.Now()

	// Create some training samples.
	for i := 0; i < run.training; i++ {
		s := gridPoint(rng, "training", 0)
		if err := f.AddSample(s); err != nil {
			return nil, res, err
		}
		if err := writePoint(out, s); err != nil {
			return nil, res, err
		}
	}

	if err := f.Create(); err != nil {
		return nil, res, err
	}

	var err error
	res.control, res.controlNormalized, err = averageScores(f, rng, run.test, "control", 0, out)
	if err != nil {
		return nil, res, err
	}
	res.outlier, res.outlierNormalized, err = averageScores(f, rng, run.test, "outlier", 20, out)
	if err != nil {
		return nil, res, err
	}

	res.elapsed = time.Since(start)
	log.WithField("seed", seed).WithField("trees", run.trees).Debug("demo run finished")

	return f, res, nil
}

// gridPoint draws integer coordinates from [offset, offset+25).
func gridPoint(rng *rand.Rand, name string, offset int) sample.Sample {
	return sample.MustNew(name,
		sample.Feature{Name: "x", Value: float64(offset + rng.Intn(25))},
		sample.Feature{Name: "y", Value: float64(offset + rng.Intn(25))},
	)
}

func averageScores(f *iforest.IsolationForest, rng *rand.Rand, n int, name string, offset int, out *csv.Writer) (raw, normalized float64, err error) {
	for i := 0; i < n; i++ {
		s := gridPoint(rng, name, offset)

		score, err := f.Score(s)
		if err != nil {
			return 0, 0, err
		}
		norm, err := f.NormalizedScore(s)
		if err != nil {
			return 0, 0, err
		}
		raw += score
		normalized += norm

		if err := writePoint(out, s); err != nil {
			return 0, 0, err
		}
	}
	return raw / float64(n), normalized / float64(n), nil
}

func writePoint(out *csv.Writer, s sample.Sample) error {
	if out == nil {
		return nil
	}
	return out.WriteSample(s.Name, s)
}
