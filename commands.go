package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smart-prefetch/capability"
	"smart-prefetch/database"
	"smart-prefetch/engine"
	"smart-prefetch/hint"
	"smart-prefetch/layout"
	"smart-prefetch/metrics"
	"smart-prefetch/replay"
	"smart-prefetch/report"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Print the detected device tier, connection class and budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		probe := newProbe(cfg)
		caps := capability.NewDetector(probe, logger).Detect()
		budget := capability.BudgetFor(caps.Tier, caps.Connection, probe, nil)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-20s %s\n", "Tier", caps.Tier)
		fmt.Fprintf(out, "%-20s %s\n", "Connection", caps.Connection)
		fmt.Fprintf(out, "%-20s %.1f GB\n", "Memory", caps.MemoryGB)
		fmt.Fprintf(out, "%-20s %d\n", "Cores", caps.Cores)
		fmt.Fprintf(out, "%-20s %s\n", "Network", caps.NetworkType)
		fmt.Fprintf(out, "%-20s %d\n", "Max Concurrent", budget.MaxConcurrent)
		fmt.Fprintf(out, "%-20s %t\n", "Prefetch Allowed", budget.Allowed)
		if budget.Reason != "" {
			fmt.Fprintf(out, "%-20s %s\n", "Blocked By", budget.Reason)
		}
		fmt.Fprintf(out, "%-20s %s\n", "Tick Interval", capability.TickInterval(caps.Tier))
		return nil
	},
}

var (
	pageSource  string
	scriptPath  string
	baseURL     string
	dryRun      bool
	runDuration time.Duration
	replaySpeed float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the prefetch engine against a page",
	Long: `Loads a page (file or URL), starts the prefetch engine and, if a script is
given, replays the recorded visitor session against it. The engine stops on
interrupt or after --duration, then prints a session summary.`,
	Example: `  smart-prefetch run --page ./park.html --script visit.yaml --dry-run
  smart-prefetch run --page https://park.example.com/ --duration 1m`,
	RunE: runEngine,
}

var (
	sessionID string
	compareID string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize a logged session from the outcome database",
	RunE:  runReport,
}

func init() {
	runCmd.Flags().StringVar(&pageSource, "page", "", "page to prefetch for (file path or URL)")
	runCmd.Flags().StringVar(&scriptPath, "script", "", "YAML session script to replay")
	runCmd.Flags().StringVar(&baseURL, "base-url", "", "resolve relative resource URLs against this URL (defaults to the page URL)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log hints instead of fetching them")
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "stop after this long (0 runs until interrupted)")
	runCmd.Flags().Float64Var(&replaySpeed, "speed", 1, "replay speed multiplier")
	_ = runCmd.MarkFlagRequired("page")

	reportCmd.Flags().StringVar(&sessionID, "session", "", "session id to summarize")
	reportCmd.Flags().StringVar(&compareID, "compare", "", "second session id to compare against")
	_ = reportCmd.MarkFlagRequired("session")
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	page, err := layout.Load(pageSource, cfg.UserAgent, cfg.RequestTimeoutDuration(), cfg.ViewportHeight)
	if err != nil {
		return err
	}
	logger.Info("Page loaded",
		zap.String("url", page.URL),
		zap.Int("images", len(page.Images())),
		zap.Int("next_pages", len(page.NextPages)),
		zap.Bool("carousel", page.Slideshow != nil))

	var script *replay.Script
	if scriptPath != "" {
		if script, err = replay.Load(scriptPath); err != nil {
			return err
		}
	}

	var emitter hint.Emitter
	if dryRun {
		emitter = hint.NewLogEmitter(logger.Named("hint"))
	} else {
		base := baseURL
		if base == "" {
			base = page.URL
		}
		emitter = hint.NewHTTPEmitter(hint.HTTPOptions{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.RequestTimeoutDuration(),
			RateLimit: cfg.RateLimit,
			RateBurst: cfg.RateBurst,
			BaseURL:   base,
		}, logger.Named("hint"))
	}

	collector := metrics.New()
	opts := engine.Options{
		Probe:         newProbe(cfg),
		Emitter:       emitter,
		Page:          page,
		Notifier:      engine.LogNotifier{Logger: logger},
		Recorder:      collector,
		Limit:         cfg.PredictionLimit,
		SoftTimeout:   cfg.SoftTimeout,
		IdleThreshold: cfg.IdleThreshold,
	}

	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		opts.Store = db
	}

	e, err := engine.New(opts, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Run(gctx)
	})
	if script != nil {
		g.Go(func() error {
			player := &replay.Player{Target: e, Logger: logger.Named("replay"), Speed: replaySpeed}
			err := player.Play(gctx, script)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		})
	}
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr, collector)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	report.Summary(cmd.OutOrStdout(), "Prefetch Session "+e.Session().String(), e.Snapshot().Stats)
	return nil
}

func serveMetrics(ctx context.Context, addr string, collector *metrics.Collector) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func runReport(cmd *cobra.Command, args []string) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for reports")
	}
	first, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}

	db, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	stats, err := db.SessionSummary(ctx, first)
	if err != nil {
		return err
	}

	if compareID == "" {
		report.Summary(cmd.OutOrStdout(), "Prefetch Session "+first.String(), stats)
		return nil
	}

	second, err := uuid.Parse(compareID)
	if err != nil {
		return fmt.Errorf("invalid compare id: %w", err)
	}
	other, err := db.SessionSummary(ctx, second)
	if err != nil {
		return err
	}
	report.Compare(cmd.OutOrStdout(), short(first), short(second), stats, other)
	return nil
}

func short(id uuid.UUID) string {
	return id.String()[:8]
}
