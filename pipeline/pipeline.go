package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-cars/metrics"
	"github.com/aluiziolira/go-scrape-cars/models"
	"github.com/aluiziolira/go-scrape-cars/notify"
	"github.com/aluiziolira/go-scrape-cars/scoring"
	"github.com/aluiziolira/go-scrape-cars/store"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

const defaultCacheSize = 10000

// Batch is one scored cycle handed to the workers.
type Batch struct {
	ID string
	// Scored holds the batch ordered by descending score.
	Scored []*models.Listing
}

type item struct {
	listing *models.Listing
	batchID string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNotifier delivers listings at or above the minimum verdict.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithMinVerdict sets the lowest verdict that is notified. Default SUPER_DEAL.
func WithMinVerdict(v models.Verdict) Option {
	return func(p *Pipeline) {
		if scoring.Rank(v) > 0 {
			p.minVerdict = v
		}
	}
}

// WithEngine replaces the scoring engine.
func WithEngine(e *scoring.Engine) Option {
	return func(p *Pipeline) { p.engine = e }
}

// WithCacheSize bounds the recently persisted URL cache.
func WithCacheSize(n int) Option {
	return func(p *Pipeline) { p.cacheSize = n }
}

// WithMetrics records persistence and notification counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline scores each cycle and hands listings to the persistence and
// notification gateways through a worker pool.
type Pipeline struct {
	gateway    store.Gateway
	notifier   notify.Notifier
	engine     *scoring.Engine
	minVerdict models.Verdict
	cacheSize  int
	metrics    *metrics.Metrics

	recent *lru.Cache[string, struct{}]
	itemCh chan item
	ctx    context.Context

	wg sync.WaitGroup

	counters counters

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New builds a pipeline persisting to gateway.
func New(gateway store.Gateway, opts ...Option) (*Pipeline, error) {
	if gateway == nil {
		return nil, errors.New("pipeline: gateway is required")
	}
	p := &Pipeline{
		gateway:    gateway,
		engine:     scoring.New(),
		minVerdict: models.VerdictSuperDeal,
		cacheSize:  defaultCacheSize,
		itemCh:     make(chan item, 512),
		ctx:        context.Background(),
		shutdown:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cacheSize <= 0 {
		p.cacheSize = defaultCacheSize
	}
	recent, err := lru.New[string, struct{}](p.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("pipeline: url cache: %w", err)
	}
	p.recent = recent
	return p, nil
}

// Start launches worker goroutines. ctx bounds gateway and notifier calls.
func (p *Pipeline) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if ctx != nil {
		p.ctx = ctx
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process scores one cycle's listings as a batch and enqueues them for
// persistence. Scores are relative to this batch only.
func (p *Pipeline) Process(listings []*models.Listing) (Batch, error) {
	batch := Batch{ID: uuid.NewString()}
	if len(listings) == 0 {
		return batch, nil
	}

	if p.isClosed() {
		return batch, ErrPipelineClosed
	}

	batch.Scored = p.engine.Score(listings)
	for _, l := range batch.Scored {
		if err := p.enqueue(item{listing: l, batchID: batch.ID}); err != nil {
			return batch, err
		}
	}
	slog.Debug("batch enqueued", slog.String("batch_id", batch.ID), slog.Int("listings", len(batch.Scored)))
	return batch, nil
}

// Close waits for workers to drain and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.itemCh)
	})

	p.wg.Wait()
	return p.Err()
}

// Err returns the first gateway error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns a snapshot of the internal counters.
func (p *Pipeline) Stats() Stats {
	return p.counters.snapshot()
}

// StartStatsReporting emits periodic progress logs.
func (p *Pipeline) StartStatsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s := p.Stats()
				slog.Info("pipeline progress",
					slog.Int64("persisted", s.Persisted),
					slog.Int64("known", s.Known),
					slog.Int64("notified", s.Notified),
					slog.Int64("errors", s.Errors))
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for it := range p.itemCh {
		p.handle(it)
	}
}

func (p *Pipeline) handle(it item) {
	l := it.listing
	if _, ok := p.recent.Get(l.URL); ok {
		p.counters.add(resultKnown)
		p.metrics.IncPersisted(resultKnown)
		return
	}

	exists, err := p.gateway.Exists(p.ctx, l.URL)
	if err != nil {
		p.fail(l, fmt.Errorf("exists %s: %w", l.URL, err))
		return
	}
	if exists {
		p.recent.Add(l.URL, struct{}{})
		p.counters.add(resultKnown)
		p.metrics.IncPersisted(resultKnown)
		return
	}

	saved, err := p.gateway.Upsert(p.ctx, l, it.batchID)
	if err != nil {
		p.fail(l, fmt.Errorf("upsert %s: %w", l.URL, err))
		return
	}
	p.recent.Add(l.URL, struct{}{})
	if !saved {
		p.counters.add(resultKnown)
		p.metrics.IncPersisted(resultKnown)
		return
	}
	p.counters.add(resultSaved)
	p.metrics.IncPersisted(resultSaved)

	if p.notifier == nil || !p.qualifies(l) {
		return
	}
	if err := p.notifier.Notify(p.ctx, l); err != nil {
		slog.Warn("notify failed", slog.String("url", l.URL), slog.Any("error", err))
		p.counters.add(resultNotifyError)
		p.metrics.IncNotified("error")
		return
	}
	p.counters.add(resultNotified)
	p.metrics.IncNotified("ok")
}

func (p *Pipeline) qualifies(l *models.Listing) bool {
	return l.Deal != nil && scoring.Rank(l.Deal.Verdict) >= scoring.Rank(p.minVerdict)
}

// fail records a gateway error. The listing is skipped; workers keep running.
func (p *Pipeline) fail(l *models.Listing, err error) {
	slog.Error("persist failed", slog.String("url", l.URL), slog.Any("error", err))
	p.counters.add(resultError)
	p.metrics.IncPersisted(resultError)

	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

func (p *Pipeline) enqueue(it item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.itemCh <- it:
		return nil
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

const (
	resultSaved       = "saved"
	resultKnown       = "known"
	resultError       = "error"
	resultNotified    = "notified"
	resultNotifyError = "notify_error"
)

// Stats counts what the workers did with each listing.
type Stats struct {
	Persisted    int64
	Known        int64
	Errors       int64
	Notified     int64
	NotifyErrors int64
}

type counters struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *counters) add(kind string) {
	c.mu.Lock()
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[kind]++
	c.mu.Unlock()
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Persisted:    c.counts[resultSaved],
		Known:        c.counts[resultKnown],
		Errors:       c.counts[resultError],
		Notified:     c.counts[resultNotified],
		NotifyErrors: c.counts[resultNotifyError],
	}
}
