package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-cars/config"
	"github.com/aluiziolira/go-scrape-cars/fetcher"
	"github.com/aluiziolira/go-scrape-cars/identity"
	"github.com/aluiziolira/go-scrape-cars/metrics"
	"github.com/aluiziolira/go-scrape-cars/models"
	"github.com/aluiziolira/go-scrape-cars/notify"
	"github.com/aluiziolira/go-scrape-cars/pipeline"
	"github.com/aluiziolira/go-scrape-cars/scraper"
	"github.com/aluiziolira/go-scrape-cars/store"
)

func main() {
	cfg := config.DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.Query, "query", cfg.Query, "Search query, e.g. \"octavia\"")
	flag.IntVar(&cfg.MinPrice, "min-price", cfg.MinPrice, "Minimum price in EUR")
	flag.IntVar(&cfg.MaxPrice, "max-price", cfg.MaxPrice, "Maximum price in EUR (0 = unbounded)")
	flag.StringVar(&cfg.Mode, "mode", cfg.Mode, "Orchestration mode: parallel or fallback")
	flag.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Delay between scheduled cycles")
	flag.BoolVar(&cfg.Once, "once", cfg.Once, "Run a single cycle and exit")
	flag.StringVar(&cfg.SourcesFile, "sources", cfg.SourcesFile, "YAML file overriding the source table")
	flag.IntVar(&cfg.MinSources, "min-sources", cfg.MinSources, "Sources that must return listings for a parallel cycle to succeed")
	flag.IntVar(&cfg.MinListings, "min-listings", cfg.MinListings, "Unique listings required for success (0 = count sources only)")
	flag.BoolVar(&cfg.UseProxy, "use-proxy", cfg.UseProxy, "Route requests through the identity pool")
	flag.BoolVar(&cfg.ProxyAutoFetch, "proxy-auto-fetch", cfg.ProxyAutoFetch, "Harvest identities from public indexes")
	flag.StringVar(&cfg.ProxyFile, "proxy-file", cfg.ProxyFile, "File with one proxy URL per line")
	flag.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Fetch attempts per URL")
	flag.Float64Var(&cfg.RequestRPS, "rps", cfg.RequestRPS, "Global request rate limit (0 = unlimited)")
	flag.BoolVar(&cfg.RespectRobotsTxt, "respect-robots", cfg.RespectRobotsTxt, "Respect robots.txt directives")
	flag.StringVar(&cfg.StoreType, "store", cfg.StoreType, "Store: memory, csv, jsonl, dual, postgres, or mongo")
	flag.StringVar(&cfg.StorePath, "store-path", cfg.StorePath, "Output path for file stores")
	flag.StringVar(&cfg.NotifyMinVerdict, "notify-verdict", cfg.NotifyMinVerdict, "Lowest verdict that triggers a notification")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Metrics and trigger listen address (e.g. :9090)")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")
	flag.Parse()

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := loadSources(cfg); err != nil {
		slog.Error("loading sources", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("scraper stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()

	var pool *identity.Pool
	var identities fetcher.IdentitySource
	if cfg.UseProxy {
		pool = identity.NewPool(cfg, identity.WithMetrics(m))
		size := pool.Initialize(ctx)
		slog.Info("identity pool ready", slog.Int("size", size))
		identities = pool
		if cfg.ProxyRefreshInterval > 0 {
			go pool.RunRefresher(ctx, cfg.ProxyRefreshInterval)
		}
		defer pool.Wait()
	}

	f := fetcher.New(cfg, identities, fetcher.WithMetrics(m))
	orch, err := scraper.FromConfig(cfg, f, scraper.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("initialising orchestrator: %w", err)
	}

	gw, err := store.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	notifier := notify.New(cfg)
	defer func() {
		if err := notifier.Close(); err != nil {
			slog.Error("close notifier", slog.Any("error", err))
		}
	}()

	p, err := pipeline.New(gw,
		pipeline.WithNotifier(notifier),
		pipeline.WithMinVerdict(models.Verdict(strings.ToUpper(cfg.NotifyMinVerdict))),
		pipeline.WithCacheSize(cfg.DedupeMaxSize),
		pipeline.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	// Workers outlive the signal so queued listings still reach the store.
	p.Start(context.WithoutCancel(ctx), cfg.PipelineWorkers)
	if cfg.Verbose {
		p.StartStatsReporting(10 * time.Second)
	}

	trigger := make(chan struct{}, 1)
	srv := startServer(cfg.MetricsAddr, m, trigger)

	q := scraper.Query{Text: cfg.Query, MinPrice: cfg.MinPrice, MaxPrice: cfg.MaxPrice}
	slog.Info("starting deal scraper",
		slog.String("query", q.Text),
		slog.Int("min_price", q.MinPrice),
		slog.Int("max_price", q.MaxPrice),
		slog.String("mode", cfg.Mode),
		slog.Bool("once", cfg.Once),
	)

	startTime := time.Now()
	var (
		cycles int
		last   *models.CycleResult
		batch  pipeline.Batch
	)
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

loop:
	for {
		cycles++
		result, err := orch.Run(ctx, cfg.Mode, q)
		if err != nil {
			return err
		}
		last = result
		batch, err = p.Process(result.Listings)
		if err != nil {
			slog.Error("pipeline rejected batch", slog.Any("error", err))
		}
		if !result.Failed() && len(batch.Scored) > 0 {
			best := batch.Scored[0]
			slog.Info("best deal",
				slog.String("batch_id", batch.ID),
				slog.String("title", best.Title),
				slog.Int("price", best.Price),
				slog.String("verdict", string(best.Deal.Verdict)))
		}

		if pool != nil && cfg.ProxyRefreshCycles > 0 && cycles%cfg.ProxyRefreshCycles == 0 {
			size := pool.Refresh(ctx)
			slog.Info("identity pool refreshed", slog.Int("size", size), slog.Int("cycle", cycles))
		}

		if cfg.Once {
			break
		}
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, draining pipeline")
			break loop
		case <-ticker.C:
		case <-trigger:
			slog.Info("cycle triggered over http")
		}
	}

	closeErr := p.Close()
	if closeErr != nil {
		slog.Error("pipeline reported errors", slog.Any("error", closeErr))
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGraceTime)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(last, batch, p.Stats(), cycles, time.Since(startTime))
	return nil
}

// startServer exposes /metrics and POST /run. It returns nil when addr is empty.
func startServer(addr string, m *metrics.Metrics, trigger chan<- struct{}) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusAccepted)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return srv
}

func printSummary(result *models.CycleResult, batch pipeline.Batch, stats pipeline.Stats, cycles int, duration time.Duration) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")
	fmt.Printf("  Cycles:        %d\n", cycles)
	if result != nil {
		fmt.Printf("  Last mode:     %s\n", result.Mode)
		fmt.Printf("  Success:       %t\n", result.Success)
		fmt.Printf("  Found:         %d (unique %d, duplicates %d)\n", result.TotalFound, result.Unique, result.Stats.DuplicatesRemoved)
		fmt.Printf("  Sources used:  %s\n", strings.Join(result.SourcesUsed, ", "))
		if len(result.SourcesFailed) > 0 {
			fmt.Printf("  Sources failed: %s\n", strings.Join(result.SourcesFailed, ", "))
		}
		fmt.Printf("  Success rate:  %.2f%%\n", result.Stats.SuccessRate)
	}
	fmt.Printf("  Persisted:     %d (known %d, errors %d)\n", stats.Persisted, stats.Known, stats.Errors)
	fmt.Printf("  Notified:      %d (failed %d)\n", stats.Notified, stats.NotifyErrors)
	fmt.Printf("  Duration:      %v\n", duration)
	if digest := notify.FormatDigest(batch.Scored, 5); digest != "" {
		fmt.Println(separator)
		fmt.Print(digest)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
