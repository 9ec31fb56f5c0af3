// Package scraper runs the enabled catalog adapters and merges their results.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aluiziolira/go-scrape-cars/adapters"
	"github.com/aluiziolira/go-scrape-cars/config"
	"github.com/aluiziolira/go-scrape-cars/metrics"
	"github.com/aluiziolira/go-scrape-cars/models"
)

var (
	// ErrNoSources is returned when no enabled source is configured.
	ErrNoSources = errors.New("no enabled sources")
	// ErrUnknownMode is returned for a run mode other than parallel or fallback.
	ErrUnknownMode = errors.New("unknown run mode")
)

// Source binds one descriptor row to its adapter.
type Source struct {
	Name     string
	Adapter  adapters.Adapter
	Priority int
	Timeout  time.Duration
	Enabled  bool
}

// Query is the search a cycle runs against every source.
type Query struct {
	Text     string
	MinPrice int
	MaxPrice int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy sets the parallel-mode success policy.
func WithPolicy(p SuccessPolicy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithCooldown sets the pause between sources in fallback mode.
func WithCooldown(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.cooldown = d
	}
}

// WithSleep overrides how the fallback cooldown waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = fn
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator runs sources in parallel or fallback mode. It is safe for
// concurrent use; each Run works on its own state.
type Orchestrator struct {
	sources  []Source
	policy   SuccessPolicy
	cooldown time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	metrics  *metrics.Metrics
}

// New builds an orchestrator over sources sorted by priority. Disabled
// sources are kept in the table but never run.
func New(sources []Source, opts ...Option) (*Orchestrator, error) {
	table := make([]Source, len(sources))
	copy(table, sources)
	sort.SliceStable(table, func(i, j int) bool {
		return table[i].Priority < table[j].Priority
	})

	enabled := 0
	for _, src := range table {
		if !src.Enabled {
			continue
		}
		if src.Adapter == nil {
			return nil, fmt.Errorf("source %s has no adapter", src.Name)
		}
		if src.Timeout <= 0 {
			return nil, fmt.Errorf("source %s: timeout must be positive", src.Name)
		}
		enabled++
	}
	if enabled == 0 {
		return nil, ErrNoSources
	}

	o := &Orchestrator{
		sources:  table,
		policy:   MinSources{N: 1},
		cooldown: 2 * time.Second,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// FromConfig builds the orchestrator for the configured source table, with
// every adapter sending requests through t.
func FromConfig(cfg *config.Config, t adapters.Transporter, opts ...Option) (*Orchestrator, error) {
	sources := make([]Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		adapter, err := adapters.New(sc, t, cfg.RespectRobotsTxt)
		if err != nil {
			return nil, err
		}
		sources = append(sources, Source{
			Name:     sc.Name,
			Adapter:  adapter,
			Priority: sc.Priority,
			Timeout:  sc.Timeout,
			Enabled:  sc.Enabled,
		})
	}
	base := []Option{
		WithPolicy(PolicyFromConfig(cfg.MinSources, cfg.MinListings)),
		WithCooldown(cfg.FallbackCooloff),
	}
	return New(sources, append(base, opts...)...)
}

// Sources returns the descriptor table in priority order.
func (o *Orchestrator) Sources() []Source {
	out := make([]Source, len(o.sources))
	copy(out, o.sources)
	return out
}

// Run executes one cycle in the given mode.
func (o *Orchestrator) Run(ctx context.Context, mode string, q Query) (*models.CycleResult, error) {
	switch mode {
	case config.ModeParallel:
		return o.RunParallel(ctx, q), nil
	case config.ModeFallback:
		return o.RunFallback(ctx, q), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// RunParallel runs every enabled source concurrently, each bounded by its own
// timeout, and merges whatever succeeded.
func (o *Orchestrator) RunParallel(ctx context.Context, q Query) *models.CycleResult {
	result := &models.CycleResult{Mode: config.ModeParallel, StartTime: time.Now()}
	enabled := o.enabled()

	results := make(chan sourceResult, len(enabled))
	for _, src := range enabled {
		go func() {
			results <- o.runSource(ctx, src, q)
		}()
	}

	var all []*models.Listing
	for range enabled {
		res := <-results
		o.record(result, res)
		if res.outcome.Success {
			all = append(all, res.listings...)
		}
	}

	o.finish(result, all, len(enabled))
	result.Success = o.policy.Satisfied(len(result.SourcesUsed), result.Unique)
	o.logCycle(result)
	return result
}

// RunFallback tries enabled sources in priority order and stops at the
// first one that returns listings.
func (o *Orchestrator) RunFallback(ctx context.Context, q Query) *models.CycleResult {
	result := &models.CycleResult{Mode: config.ModeFallback, StartTime: time.Now()}
	enabled := o.enabled()

	var found []*models.Listing
	for i, src := range enabled {
		res := o.runSource(ctx, src, q)
		o.record(result, res)
		if res.outcome.Success {
			found = res.listings
			break
		}
		if i < len(enabled)-1 {
			slog.Info("source failed, trying next", slog.String("source", src.Name), slog.Duration("cooldown", o.cooldown))
			if err := o.sleep(ctx, o.cooldown); err != nil {
				break
			}
		}
	}

	o.finish(result, found, len(enabled))
	result.Success = len(result.SourcesUsed) > 0
	if !result.Success {
		slog.Warn("all sources failed", slog.Int("sources", len(enabled)))
	}
	o.logCycle(result)
	return result
}

type sourceResult struct {
	outcome  models.ScrapeOutcome
	listings []*models.Listing
}

// runSource invokes one adapter under its timeout. Panics and timeouts are
// that source's failure only; a result arriving after the timeout is dropped.
func (o *Orchestrator) runSource(ctx context.Context, src Source, q Query) sourceResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, src.Timeout)
	defer cancel()

	type reply struct {
		listings []*models.Listing
		err      error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		listings, err := src.Adapter.FetchListings(ctx, q.Text, q.MinPrice, q.MaxPrice)
		done <- reply{listings: listings, err: err}
	}()

	res := sourceResult{outcome: models.ScrapeOutcome{Source: src.Name}}
	select {
	case r := <-done:
		res.outcome.Elapsed = time.Since(start)
		switch {
		case len(r.listings) > 0:
			res.outcome.Success = true
			res.outcome.Count = len(r.listings)
			res.listings = r.listings
		case r.err != nil:
			res.outcome.Error = r.err.Error()
		default:
			res.outcome.Error = "no listings"
		}
	case <-ctx.Done():
		res.outcome.Elapsed = time.Since(start)
		res.outcome.Error = fmt.Sprintf("timeout after %s", src.Timeout)
	}

	o.metrics.ObserveAdapter(src.Name, res.outcome.Success, res.outcome.Count)
	if res.outcome.Success {
		slog.Info("source succeeded",
			slog.String("source", src.Name),
			slog.Int("listings", res.outcome.Count),
			slog.Duration("elapsed", res.outcome.Elapsed),
		)
	} else {
		slog.Warn("source failed",
			slog.String("source", src.Name),
			slog.String("error", res.outcome.Error),
			slog.Duration("elapsed", res.outcome.Elapsed),
		)
	}
	return res
}

func (o *Orchestrator) enabled() []Source {
	var out []Source
	for _, src := range o.sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

func (o *Orchestrator) record(result *models.CycleResult, res sourceResult) {
	result.Outcomes = append(result.Outcomes, res.outcome)
	if res.outcome.Success {
		result.SourcesUsed = append(result.SourcesUsed, res.outcome.Source)
	} else {
		result.SourcesFailed = append(result.SourcesFailed, res.outcome.Source)
	}
}

func (o *Orchestrator) finish(result *models.CycleResult, all []*models.Listing, attempted int) {
	unique := Dedupe(all)
	result.Listings = unique
	result.TotalFound = len(all)
	result.Unique = len(unique)
	result.EndTime = time.Now()
	result.Stats = models.CycleStats{
		TotalRaw:          len(all),
		Unique:            len(unique),
		DuplicatesRemoved: len(all) - len(unique),
		SourcesSucceeded:  len(result.SourcesUsed),
		SourcesFailed:     len(result.SourcesFailed),
	}
	if attempted > 0 {
		result.Stats.SuccessRate = float64(len(result.SourcesUsed)) / float64(attempted) * 100
	}
	o.metrics.ObserveCycle(result.Mode, result.EndTime.Sub(result.StartTime), result.Unique)
}

func (o *Orchestrator) logCycle(result *models.CycleResult) {
	slog.Info("cycle complete",
		slog.String("mode", result.Mode),
		slog.Bool("success", result.Success),
		slog.String("policy", o.policy.String()),
		slog.Int("sources_used", len(result.SourcesUsed)),
		slog.Int("sources_failed", len(result.SourcesFailed)),
		slog.Int("total", result.TotalFound),
		slog.Int("unique", result.Unique),
		slog.Int("duplicates", result.Stats.DuplicatesRemoved),
	)
}

// Dedupe keeps the first listing seen for each URL, preserving order.
// Listings without a URL are dropped.
func Dedupe(listings []*models.Listing) []*models.Listing {
	seen := make(map[string]struct{}, len(listings))
	out := make([]*models.Listing, 0, len(listings))
	for _, l := range listings {
		if l == nil || l.URL == "" {
			continue
		}
		if _, dup := seen[l.URL]; dup {
			continue
		}
		seen[l.URL] = struct{}{}
		out = append(out, l)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
