package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/fxcrew/config"
	"github.com/rustyeddy/fxcrew/cycle"
	"github.com/rustyeddy/fxcrew/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the decision cycle",
	Long: `Run the decision cycle until interrupted.

Cycles run every 5 minutes during the active window (08:00-16:59 UTC by
default) and every 15 minutes outside it. A failed cycle is retried after
one minute. --paper trades against the in-memory broker; --once runs a
single cycle and exits.

Example:
  fxcrew run --paper --once`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runPaper bool
	runOnce  bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runPaper, "paper", false, "trade against the in-memory paper broker")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single cycle and exit")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigWith(func(c *config.Config) {
		if runPaper {
			c.Broker.Type = config.BrokerPaper
		}
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(a), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
	}

	if runOnce {
		rep, err := a.orchestrator.SafeCycle(ctx)
		printReport(cmd, rep)
		return err
	}

	if err := a.orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(a.orchestrator.State().String()))
	})
	return mux
}

func printReport(cmd *cobra.Command, rep cycle.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cycle %s reached %s\n", rep.ID, rep.Reached)
	fmt.Fprintf(out, "  Opportunities: %d  Plans: %d  Trade actions: %d  Position actions: %d\n",
		rep.Opportunities, rep.Plans, rep.TradeActions, rep.PositionActions)
	for _, r := range rep.Rejected {
		fmt.Fprintf(out, "  Rejected %s: %s\n", r.Instrument, r.Reason)
	}
	for _, r := range rep.Results {
		fmt.Fprintf(out, "  %s %s: %s %s\n", r.Entry.ActionType, r.Entry.InstrumentKey(), r.Entry.Outcome, r.Reason)
	}
	if len(rep.Denied) > 0 {
		fmt.Fprintf(out, "  Denied by budget: %v\n", rep.Denied)
	}
	fmt.Fprintf(out, "  Budget: $%.2f spent, $%.2f remaining\n", rep.Budget.Spent, rep.Budget.Remaining)
}
