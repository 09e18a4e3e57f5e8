// Package main implements iforest-pcap, which trains a forest on a packet
// capture and scores packets from another capture or a live interface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/goiforest/pkg/config"
	"github.com/hed1ad/goiforest/pkg/detectors"
	"github.com/hed1ad/goiforest/pkg/detectors/iforest"
	gio "github.com/hed1ad/goiforest/pkg/io"
	"github.com/hed1ad/goiforest/pkg/io/csv"
	"github.com/hed1ad/goiforest/pkg/io/pcap"
)

var log = logrus.WithField("component", "iforest-pcap")

type options struct {
	configPath string
	train      string
	input      string
	iface      string
	filter     string
	anomalies  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "iforest-pcap",
		Short: "Detect anomalous packets with an isolation forest",
		Long: `Train on every packet of --train, then score packets read from --input
or captured live on --iface. Results are written to stdout as CSV.

Examples:
  # Score one capture against a baseline
  iforest-pcap --train baseline.pcap --input suspect.pcap

  # Watch an interface, printing only anomalies
  iforest-pcap --train baseline.pcap --iface eth0 --filter "tcp or udp" --anomalies`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			logrus.SetLevel(cfg.Level())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, cmd, cfg, opts)
		},
	}

	d := config.Default()
	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file")
	flags.StringVar(&opts.train, "train", "", "capture file with baseline traffic")
	flags.StringVar(&opts.input, "input", "", "capture file to score")
	flags.StringVar(&opts.iface, "iface", "", "interface to capture from instead of --input")
	flags.StringVar(&opts.filter, "filter", "", "BPF filter applied to both captures")
	flags.BoolVar(&opts.anomalies, "anomalies", false, "only print anomalous packets")
	flags.String("log-level", d.LogLevel, "log level")
	flags.Int("trees", d.Trees, "number of trees in the forest")
	flags.Int("sample-size", d.SampleSize, "subsampling size per tree")
	flags.Int64("seed", d.Seed, "random seed")
	flags.Float64("contamination", d.Contamination, "expected anomaly ratio in the baseline (0 keeps 0.5)")
	flags.String("missing-route", d.MissingRoute, "side for packets lacking a split feature")
	flags.Int("workers", d.Workers, "goroutines used to build trees")
	_ = cmd.MarkFlagRequired("train")
	cmd.MarkFlagsMutuallyExclusive("input", "iface")
	cmd.MarkFlagsOneRequired("input", "iface")

	return cmd
}

func open(path, iface, filter string) (*pcap.Reader, error) {
	var (
		r   *pcap.Reader
		err error
	)
	if iface != "" {
		r, err = pcap.NewLiveReader(iface, 65535, false, time.Second)
	} else {
		r, err = pcap.NewFileReader(path)
	}
	if err != nil {
		return nil, err
	}
	if filter != "" {
		if err := r.SetFilter(filter); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

func run(ctx context.Context, cmd *cobra.Command, cfg config.Config, opts options) error {
	baseline, err := open(opts.train, "", opts.filter)
	if err != nil {
		return err
	}
	train, err := baseline.Read()
	baseline.Close()
	if err != nil {
		return err
	}

	f := iforest.New(cfg.ForestOptions()...)
	if err := f.Fit(train); err != nil {
		return fmt.Errorf("train on %s: %w", opts.train, err)
	}
	log.WithField("packets", len(train)).WithField("threshold", f.Threshold()).Info("baseline trained")

	src, err := open(opts.input, opts.iface, opts.filter)
	if err != nil {
		return err
	}
	defer src.Close()

	// Stops the capture goroutine when scoring ends early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	input, err := src.Stream(ctx)
	if err != nil {
		return err
	}

	w := csv.NewWriter(cmd.OutOrStdout())
	err = f.ScoreStream(ctx, input, func(s detectors.Score) error {
		if opts.anomalies && !s.IsAnomaly {
			return nil
		}
		if err := w.Write(gio.Result{
			Timestamp:  time.Now().Unix(),
			Name:       s.Sample.Name,
			Score:      s.Value,
			PathLength: s.PathLength,
			IsAnomaly:  s.IsAnomaly,
		}); err != nil {
			return err
		}
		if src.Live() {
			return w.Flush()
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		w.Close()
		return err
	}

	stats := src.Stats()
	log.WithField("packets", stats.Packets).WithField("skipped", stats.Skipped).Info("scoring finished")

	return w.Close()
}
