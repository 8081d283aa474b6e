package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/dupreaper/internal/artifact"
	"github.com/kiranshivaraju/dupreaper/internal/config"
	"github.com/kiranshivaraju/dupreaper/internal/service"
	"github.com/kiranshivaraju/dupreaper/pkg/models"
)

// ErrIncomplete is returned when a run finished but some work did not succeed.
var ErrIncomplete = errors.New("run finished with failures")

type runFlags struct {
	index      string
	start      string
	end        string
	window     time.Duration
	maxWorkers int
	batchSize  int
	url        string
	token      string
	verifySSL  bool
	artifacts  bool
	debug      bool
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Remove duplicate events from an index over a time range",
		Long: `Run discovers duplicate events window by window and deletes one surplus copy
of each duplicated event per pass. Events indexed three or more times need
repeated runs. Flags override the config file and the environment.

Examples:
  dupreaper run --index main --start 2024-02-17T00:00:00 --end 2024-02-17T06:00:00
  dupreaper run --index web --start 1708128000 --end 1708131600 --max-workers 4 --batch-size 2000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, &f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.index, "index", "", "index to deduplicate")
	fl.StringVar(&f.start, "start", "", "range start (RFC3339, ISO or epoch seconds)")
	fl.StringVar(&f.end, "end", "", "range end (RFC3339, ISO or epoch seconds)")
	fl.DurationVar(&f.window, "window", 0, "discovery window size")
	fl.IntVar(&f.maxWorkers, "max-workers", 0, "concurrent deletion jobs")
	fl.IntVar(&f.batchSize, "batch-size", 0, "events per deletion job")
	fl.StringVar(&f.url, "url", "", "Splunk management URL")
	fl.StringVar(&f.token, "token", "", "Splunk bearer token")
	fl.BoolVar(&f.verifySSL, "verify-ssl", true, "verify the Splunk TLS certificate")
	fl.BoolVar(&f.artifacts, "artifacts", false, "export discovery results to CSV and archive them")
	fl.BoolVar(&f.debug, "debug", false, "log at debug level")
	return cmd
}

// overrides maps explicitly set flags onto the loaded config.
func (f *runFlags) overrides(cmd *cobra.Command) (func(*config.Config), error) {
	var start, end time.Time
	var err error
	if f.start != "" {
		if start, err = config.ParseTime(f.start); err != nil {
			return nil, fmt.Errorf("--start: %w", err)
		}
	}
	if f.end != "" {
		if end, err = config.ParseTime(f.end); err != nil {
			return nil, fmt.Errorf("--end: %w", err)
		}
	}

	changed := cmd.Flags().Changed
	return func(c *config.Config) {
		if changed("index") {
			c.Dedup.Index = f.index
		}
		if changed("start") {
			c.Dedup.Start = start
		}
		if changed("end") {
			c.Dedup.End = end
		}
		if changed("window") {
			c.Dedup.Window = f.window
		}
		if changed("max-workers") {
			c.Dedup.MaxWorkers = f.maxWorkers
		}
		if changed("batch-size") {
			c.Dedup.BatchSize = f.batchSize
		}
		if changed("url") {
			c.Splunk.URL = f.url
		}
		if changed("token") {
			c.Splunk.Token = f.token
		}
		if changed("verify-ssl") {
			c.Splunk.VerifySSL = f.verifySSL
		}
		if changed("artifacts") {
			c.Artifacts.Enabled = f.artifacts
		}
	}, nil
}

func runOnce(cmd *cobra.Command, f *runFlags) error {
	override, err := f.overrides(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.Load(override)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateRange(); err != nil {
		return err
	}

	logger, closeLog := setupLogging(cfg, f.debug)
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	platform, err := connectPlatform(ctx, cfg.Splunk)
	if err != nil {
		return fmt.Errorf("connect splunk: %w", err)
	}
	logger.Info("splunk connected", "url", cfg.Splunk.URL)

	opts := []service.Option{service.WithLogger(logger)}
	if cfg.Artifacts.Enabled {
		opts = append(opts, service.WithExporter(artifact.NewExporter(cfg.Artifacts, logger)))
	}
	svc := service.NewRunService(platform, platform, cfg.Dedup, opts...)

	run, err := svc.NewRun(service.RunRequest{
		Index: cfg.Dedup.Index,
		Start: cfg.Dedup.Start,
		End:   cfg.Dedup.End,
	})
	if err != nil {
		return err
	}

	run, runErr := svc.Execute(ctx, run)
	printRun(cmd.OutOrStdout(), run)
	if runErr != nil {
		return runErr
	}
	if run.FailedBatches > 0 || run.ExpiredBatches > 0 || run.FailedDiscovery > 0 {
		return fmt.Errorf("%w: %d failed and %d expired batches, %d failed discoveries",
			ErrIncomplete, run.FailedBatches, run.ExpiredBatches, run.FailedDiscovery)
	}
	return nil
}

func printRun(w io.Writer, run *models.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WINDOW\tDISCOVERY\tCANDIDATES\tBATCHES\tDELETED\tFAILED\tEXPIRED")
	for _, win := range run.Windows {
		s := win.Summary
		fmt.Fprintf(tw, "%s..%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			win.Earliest.UTC().Format(time.RFC3339), win.Latest.UTC().Format(time.RFC3339),
			s.DiscoveryStatus, s.Candidates, s.BatchesAttempted, s.Deleted, s.Failed, s.Expired)
		for _, out := range s.Outcomes {
			if out.Status != models.JobStatusDone {
				fmt.Fprintf(tw, "  batch %d (%s)\t%s\t%d\t\t\t\t%s\n", out.Index, out.SID, out.Status, out.Records, out.Error)
			}
		}
		if s.DiscoveryError != "" {
			fmt.Fprintf(tw, "  discovery\t%s\t\t\t\t\t%s\n", s.DiscoveryStatus, s.DiscoveryError)
		}
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%s: %d candidates, %d batches, %d deleted, %d failed, %d expired, %d failed discoveries\n",
		run.Status, run.Candidates, run.Batches, run.Deleted, run.FailedBatches, run.ExpiredBatches, run.FailedDiscovery)
}
