// Package main implements the iforest CLI for training and scoring isolation forests.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/goiforest/pkg/config"
	"github.com/hed1ad/goiforest/pkg/metrics"
)

var version = "dev"

var log = logrus.WithField("component", "cli")

// app carries state resolved before a subcommand runs.
type app struct {
	configPath string
	cfg        config.Config
	registry   *prometheus.Registry
	recorder   *metrics.Recorder
	server     *http.Server
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "iforest",
		Short: "Isolation Forest anomaly detection",
		Long: `iforest trains isolation forests and scores samples with them.

Settings come from defaults, an optional YAML file (--config), IFOREST_*
environment variables and flags, in increasing order of precedence.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.shutdown()
		},
	}

	d := config.Default()
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file")
	flags.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	flags.Int("trees", d.Trees, "number of trees in the forest")
	flags.Int("sample-size", d.SampleSize, "subsampling size per tree")
	flags.Int64("seed", d.Seed, "random seed")
	flags.Float64("contamination", d.Contamination, "expected anomaly ratio used to derive the threshold (0 keeps 0.5)")
	flags.String("missing-route", d.MissingRoute, "side for samples lacking a split feature (right, left)")
	flags.Int("workers", d.Workers, "goroutines used to build trees and score batches")
	flags.String("metrics-addr", d.MetricsAddr, "serve Prometheus metrics on this address while running")

	root.AddCommand(newDemoCmd(a))
	root.AddCommand(newScoreCmd(a))

	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	logrus.SetOutput(cmd.ErrOrStderr())
	logrus.SetLevel(cfg.Level())

	a.registry = prometheus.NewRegistry()
	a.recorder, err = metrics.NewRecorder(a.registry)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		a.server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
		log.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
	}

	return nil
}

func (a *app) shutdown() error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}
