package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/cve-sync/pkg/client"
	"github.com/Sternrassler/cve-sync/pkg/config"
	"github.com/Sternrassler/cve-sync/pkg/logging"
	"github.com/Sternrassler/cve-sync/pkg/metrics"
	"github.com/Sternrassler/cve-sync/pkg/pagination"
	"github.com/Sternrassler/cve-sync/pkg/syncer"
)

// Version is reported in the User-Agent header.
var Version = "0.1.0"

type rootOptions struct {
	configPath  string
	logLevel    string
	metricsAddr string
	noProgress  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "cve-sync",
		Short: "Synchronize NVD CVE records into a local store",
		Long: `cve-sync - NVD CVE API 2.0 synchronization.

Loads every CVE once with 'init', then keeps the store current with
'update', which fetches records modified since the last successful run.

Examples:
  cve-sync init --config cve-sync.ini
  cve-sync update
  cve-sync update --hours 72`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to the INI configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address; overrides the config")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")

	root.AddCommand(newInitCmd(opts), newUpdateCmd(opts))
	return root
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Load the full CVE listing and create the unique index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, s *syncer.Syncer) (*syncer.Report, error) {
				return s.FullLoad(ctx)
			})
		},
	}
}

func newUpdateCmd(opts *rootOptions) *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Fetch CVEs modified since the last checkpoint",
		Long: `Fetch CVEs modified since the last successful update and upsert them.

Without a checkpoint the last 24 hours are fetched. --hours replaces the
checkpoint with a fixed lookback.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours < 0 {
				return fmt.Errorf("--hours must not be negative (got %d)", hours)
			}
			return run(cmd.Context(), opts, func(ctx context.Context, s *syncer.Syncer) (*syncer.Report, error) {
				return s.Incremental(ctx, hours)
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "sync the last N hours instead of resuming from the checkpoint")
	return cmd
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type syncFunc func(ctx context.Context, s *syncer.Syncer) (*syncer.Report, error)

func run(ctx context.Context, opts *rootOptions, fn syncFunc) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logging.Setup(cfg.LoggingConfig())
	logger := logging.NewLogger("cli")

	if cfg.Metrics.Addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, logging.NewLogger("metrics")); err != nil {
				logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("Metrics server failed")
			}
		}()
	}

	var progress pagination.Progress
	if !opts.noProgress {
		progress = newBarProgress()
	}

	a, err := buildApp(ctx, cfg, progress)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := fn(ctx, a.syncer)
	printReport(report)
	return err
}

func printReport(report *syncer.Report) {
	if report == nil {
		return
	}
	rows := [][]string{
		{"Mode", string(report.Mode)},
		{"Result", string(report.State)},
		{"Total results", fmt.Sprint(report.TotalResults)},
		{"Pages", fmt.Sprint(report.Pages)},
		{"Records", fmt.Sprint(report.Records)},
		{"Persisted", fmt.Sprint(report.Persisted)},
		{"Write failures", fmt.Sprint(len(report.WriteFailures))},
		{"Duration", report.Duration.Round(time.Millisecond).String()},
	}
	for _, w := range report.Windows {
		rows = append(rows, []string{"Window", w.String()})
	}
	if report.SnapshotPath != "" {
		rows = append(rows, []string{"Snapshot", report.SnapshotPath})
	}

	pterm.DefaultTable.WithData(pterm.TableData(rows)).Render()
}

// describeError renders a failure with the URL needed to reproduce it.
func describeError(err error) string {
	var b strings.Builder
	b.WriteString(err.Error())

	var httpErr *client.HTTPError
	var parseErr *client.ParseError
	switch {
	case errors.As(err, &httpErr):
		if httpErr.StatusCode > 0 {
			fmt.Fprintf(&b, "\n  status: %d", httpErr.StatusCode)
		}
		fmt.Fprintf(&b, "\n  url:    %s", httpErr.URL)
	case errors.As(err, &parseErr):
		fmt.Fprintf(&b, "\n  url:    %s", parseErr.URL)
	}
	return b.String()
}
