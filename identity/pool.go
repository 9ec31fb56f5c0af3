// Package identity maintains the rotating pool of outbound forwarding
// endpoints and client signatures.
package identity

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-cars/config"
	"github.com/aluiziolira/go-scrape-cars/metrics"
	"github.com/aluiziolira/go-scrape-cars/models"
)

// backgroundRefreshTimeout bounds a self-healing refresh started by Next.
const backgroundRefreshTimeout = 2 * time.Minute

// Origins recorded on loaded identities.
const (
	OriginConfig = "config"
	OriginFile   = "file"
	OriginIndex  = "index"
	OriginRelay  = "relay"
	OriginNone   = "none"
)

// Option configures a Pool.
type Option func(*Pool)

// WithHarvester sets the public index harvester used for auto acquisition.
func WithHarvester(h *Harvester) Option {
	return func(p *Pool) {
		p.harvester = h
	}
}

// WithRelayChecker overrides how local relay availability is detected.
func WithRelayChecker(fn RelayChecker) Option {
	return func(p *Pool) {
		p.relay = fn
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// Pool hands out identities round-robin, skipping failed ones. All methods
// are safe for concurrent use.
type Pool struct {
	cfg       *config.Config
	harvester *Harvester
	relay     RelayChecker
	metrics   *metrics.Metrics

	mu         sync.Mutex
	identities []models.Identity
	members    map[string]int
	failed     map[string]struct{}
	cursor     int
	generation uint64

	refreshMu  sync.Mutex
	refreshing atomic.Bool
	background sync.WaitGroup
}

// NewPool builds an empty pool. Call Initialize to load identities.
func NewPool(cfg *config.Config, opts ...Option) *Pool {
	p := &Pool{
		cfg:     cfg,
		relay:   DialRelay,
		members: make(map[string]int),
		failed:  make(map[string]struct{}),
	}
	if cfg.ProxyAutoFetch {
		p.harvester = NewHarvester(cfg)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize loads identities and returns how many are available.
func (p *Pool) Initialize(ctx context.Context) int {
	return p.Refresh(ctx)
}

// Refresh discards the current identities and failed-set and repeats
// acquisition. It returns the new pool size.
func (p *Pool) Refresh(ctx context.Context) int {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	ids, origin := p.load(ctx)
	p.install(ids, origin)
	return len(ids)
}

// Next returns the next healthy identity. When every identity has failed
// the failed-set is cleared and the degraded set is reused while a
// background refresh runs. It returns false when the pool is empty.
func (p *Pool) Next(ctx context.Context) (models.Identity, bool) {
	p.mu.Lock()
	n := len(p.identities)
	gen := p.generation
	if n == 0 {
		p.mu.Unlock()
		if p.cfg.ProxyAutoFetch {
			p.refreshAsync(ctx, gen, false)
		}
		return models.Identity{}, false
	}

	exhausted := len(p.failed) >= n
	if exhausted {
		slog.Warn("all identities failed, reusing pool", slog.Int("size", n))
		p.failed = make(map[string]struct{})
		for i := range p.identities {
			p.identities[i].State = models.IdentityUnknown
		}
	}

	var (
		picked models.Identity
		ok     bool
	)
	for i := 0; i < n; i++ {
		candidate := p.identities[p.cursor]
		p.cursor = (p.cursor + 1) % n
		if _, bad := p.failed[candidate.Address]; bad {
			continue
		}
		picked, ok = candidate, true
		break
	}
	p.mu.Unlock()

	if exhausted && p.cfg.ProxyAutoFetch {
		p.refreshAsync(ctx, gen, true)
	}
	return picked, ok
}

// MarkFailed excludes id until the failed-set is cleared or the pool is refreshed.
// Identities that are not part of the current generation are ignored.
func (p *Pool) MarkFailed(id models.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.member(id)
	if !ok {
		return
	}
	p.failed[id.Address] = struct{}{}
	p.identities[i].State = models.IdentityFailed
	slog.Debug("identity marked failed", slog.String("identity", id.Address))
}

// MarkSucceeded records a successful request through id.
func (p *Pool) MarkSucceeded(id models.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.member(id)
	if !ok {
		return
	}
	if _, bad := p.failed[id.Address]; !bad {
		p.identities[i].State = models.IdentityHealthy
	}
}

// member returns the index of id in the current generation. Callers hold p.mu.
func (p *Pool) member(id models.Identity) (int, bool) {
	if id.Generation != p.generation {
		return 0, false
	}
	i, ok := p.members[id.Address]
	return i, ok
}

// UserAgent returns a randomized client signature.
func (p *Pool) UserAgent() string {
	return UserAgent()
}

// Size returns the number of loaded identities.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.identities)
}

// FailedCount returns the size of the failed-set.
func (p *Pool) FailedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failed)
}

// Generation increments every time a new identity set is installed.
func (p *Pool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Snapshot returns a copy of the current identities.
func (p *Pool) Snapshot() []models.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Identity, len(p.identities))
	copy(out, p.identities)
	return out
}

// Wait blocks until background refreshes started by Next have finished.
func (p *Pool) Wait() {
	p.background.Wait()
}

// RunRefresher refreshes the pool every interval until ctx is done.
func (p *Pool) RunRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size := p.Refresh(ctx)
			slog.Info("identity pool refreshed", slog.Int("size", size))
		}
	}
}

// refreshAsync starts at most one background refresh. keepOnEmpty keeps the
// current identities when acquisition yields nothing.
func (p *Pool) refreshAsync(ctx context.Context, gen uint64, keepOnEmpty bool) {
	if !p.refreshing.CompareAndSwap(false, true) {
		return
	}
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		defer p.refreshing.Store(false)

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundRefreshTimeout)
		defer cancel()

		p.refreshMu.Lock()
		defer p.refreshMu.Unlock()
		if p.Generation() != gen {
			return
		}
		ids, origin := p.load(rctx)
		if len(ids) == 0 && keepOnEmpty {
			slog.Warn("identity refresh found nothing, keeping degraded pool")
			return
		}
		p.install(ids, origin)
	}()
}

func (p *Pool) install(ids []models.Identity, origin string) {
	members := make(map[string]int, len(ids))
	for i, id := range ids {
		members[id.Address] = i
	}

	p.mu.Lock()
	p.generation++
	for i := range ids {
		ids[i].Generation = p.generation
	}
	p.identities = ids
	p.members = members
	p.failed = make(map[string]struct{})
	p.cursor = 0
	p.mu.Unlock()

	p.metrics.SetPoolSize(len(ids))
	p.metrics.IncPoolRefresh(origin)
	slog.Info("identity pool loaded", slog.Int("size", len(ids)), slog.String("origin", origin))
}

// load runs the acquisition chain: explicit list, file, public indexes,
// then the local relay. The first step that yields identities wins.
func (p *Pool) load(ctx context.Context) ([]models.Identity, string) {
	if ids := fromAddresses(p.cfg.ProxyList, OriginConfig); len(ids) > 0 {
		return ids, OriginConfig
	}

	if p.cfg.ProxyFile != "" {
		lines, err := readProxyFile(p.cfg.ProxyFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("identity file not found", slog.String("path", p.cfg.ProxyFile))
		case err != nil:
			slog.Warn("identity file unreadable", slog.String("path", p.cfg.ProxyFile), slog.Any("error", err))
		default:
			if ids := fromAddresses(lines, OriginFile); len(ids) > 0 {
				return ids, OriginFile
			}
		}
	}

	if p.cfg.ProxyAutoFetch && p.harvester != nil {
		if ids := p.harvester.Harvest(ctx); len(ids) > 0 {
			return ids, OriginIndex
		}
	}

	if addr := p.cfg.ProxyRelayAddr; addr != "" && p.relay != nil && p.relay(ctx, addr) {
		slog.Info("using local relay", slog.String("addr", addr))
		return []models.Identity{{Address: relayAddress(addr), Origin: OriginRelay}}, OriginRelay
	}

	return nil, OriginNone
}

func fromAddresses(raw []string, origin string) []models.Identity {
	var out []models.Identity
	seen := make(map[string]struct{})
	for _, entry := range raw {
		addr, err := normalize(entry)
		if err != nil {
			slog.Warn("skipping invalid identity", slog.String("entry", entry), slog.Any("error", err))
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, models.Identity{Address: addr, Origin: origin})
	}
	return out
}

func readProxyFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
