package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/autowire/internal/cli/ui"
	"github.com/conduit-lang/autowire/internal/metrics"
	"github.com/conduit-lang/autowire/internal/tooling/build"
	"github.com/conduit-lang/autowire/internal/watch"
)

// NewWatchCommand creates the watch command
func NewWatchCommand(global *globalOptions) *cobra.Command {
	var (
		debounce    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Regenerate the wiring file whenever sources change",
		Long: `Run one generation pass, then watch the root and regenerate after every
batch of changes.

Changes arriving while a pass runs are folded into a single follow-up
pass. A failing pass is reported and the previous wiring file stays in
place until the next successful one.

Examples:
  autowire watch
  autowire watch --debounce 250ms
  autowire watch --metrics-addr :9464   # serve /metrics and /healthz`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := global.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cmd.Flags().Changed("debounce") {
				cfg.Watch.Debounce = debounce
			}
			if metricsAddr != "" {
				cfg.Watch.MetricsAddr = metricsAddr
			}

			recorder := metrics.NewRecorder()
			opts := cfg.BuildOptions()
			sys, err := build.NewSystem(opts, logger, build.WithMetrics(recorder))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			pass := func(ctx context.Context) error {
				result, err := sys.Generate(ctx)
				reportPass(out, errOut, sys, result, err)
				return err
			}

			// reportPass already printed a failed first pass; keep watching so the
			// next save can fix it.
			if err := pass(ctx); err != nil {
				logger.Debug("initial pass failed", zap.Error(err))
			}

			regen := watch.NewRegenerator(pass, logger, recorder)
			watcher, err := watch.NewFileWatcher(watch.Options{
				Root:     sys.Root(),
				Suffixes: opts.Suffixes,
				Exclude:  opts.Exclude,
				Ignore:   []string{sys.OutputPath()},
				Debounce: cfg.Watch.Debounce,
			}, logger, regen.OnChange)
			if err != nil {
				return err
			}
			if err := watcher.Start(); err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}
			defer func() {
				if err := watcher.Stop(); err != nil {
					logger.Warn("failed to stop watcher", zap.Error(err))
				}
			}()

			if cfg.Watch.MetricsAddr != "" {
				go func() {
					if err := recorder.Serve(ctx, cfg.Watch.MetricsAddr, logger); err != nil {
						logger.Error("metrics server stopped", zap.Error(err))
					}
				}()
			}

			banner := color.New(color.FgCyan, color.Bold)
			fmt.Fprintln(out)
			banner.Fprintf(out, "autowire watching %s\n", sys.Root())
			fmt.Fprintf(out, "   Output: %s\n", relTo(sys.Root(), sys.OutputPath()))
			if cfg.Watch.MetricsAddr != "" {
				fmt.Fprintf(out, "   Metrics: http://%s/metrics\n", cfg.Watch.MetricsAddr)
			}
			color.New(color.FgYellow).Fprintln(out, "   Press Ctrl+C to stop")
			fmt.Fprintln(out)

			if err := regen.Run(ctx); err != nil {
				return err
			}

			logger.Info("watch stopped", zap.Int64("passes", regen.Passes()), zap.Int64("coalesced", regen.CoalescedTriggers()))
			color.New(color.FgGreen).Fprintln(out, "Stopped watching.")
			return nil
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before a batch of changes triggers a pass")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

// reportPass prints the outcome of one watch pass
func reportPass(out, errOut io.Writer, sys *build.System, result *build.Result, err error) {
	stamp := time.Now().Format("15:04:05")
	if err != nil {
		fmt.Fprintf(errOut, "[%s] ", stamp)
		ui.WriteError(errOut, ui.Describe(err, color.NoColor))
		return
	}

	writeWarnings(errOut, result)
	status := "wrote"
	if result.Unchanged {
		status = "unchanged"
	}
	ui.WriteSuccess(out, fmt.Sprintf("[%s] %s %s (%d classes, %s)",
		stamp, status, relTo(sys.Root(), result.OutputPath), len(result.Order), result.Duration.Round(time.Millisecond)), color.NoColor)
}
