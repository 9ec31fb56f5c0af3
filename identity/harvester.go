package identity

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-cars/config"
	"github.com/aluiziolira/go-scrape-cars/models"
)

// IndexKind selects how a public index page is parsed.
type IndexKind string

const (
	// IndexPlain lists one host:port per line.
	IndexPlain IndexKind = "plain"
	// IndexHTMLTable is an HTML page whose table rows start with host and port cells.
	IndexHTMLTable IndexKind = "html-table"
)

// Index is one public source of candidate forwarding endpoints.
type Index struct {
	Name     string
	URL      string
	Kind     IndexKind
	Selector string
	MaxRows  int
}

// DefaultIndexes returns the built-in public indexes.
func DefaultIndexes() []Index {
	return []Index{
		{
			Name: "proxyscrape",
			URL:  "https://api.proxyscrape.com/v2/?request=get&protocol=http&timeout=10000&country=all&ssl=all&anonymity=all",
			Kind: IndexPlain,
		},
		{
			Name: "proxy-list-download",
			URL:  "https://www.proxy-list.download/api/v1/get?type=http",
			Kind: IndexPlain,
		},
		{
			Name:     "free-proxy-list",
			URL:      "https://free-proxy-list.net/",
			Kind:     IndexHTMLTable,
			Selector: "table tbody tr",
			MaxRows:  20,
		},
	}
}

var reHostPort = regexp.MustCompile(`^[A-Za-z0-9.\-]+:\d{2,5}$`)

// CheckTransportFunc builds the transport used to check one candidate.
type CheckTransportFunc func(proxy *url.URL) http.RoundTripper

// Harvester acquires identities from public indexes and keeps the ones
// that pass a liveness check.
type Harvester struct {
	Indexes        []Index
	Client         *http.Client
	CheckURL       string
	CheckTimeout   time.Duration
	MaxCandidates  int
	Workers        int
	Wanted         int
	CheckTransport CheckTransportFunc
}

// NewHarvester builds a harvester from configuration using the default indexes.
func NewHarvester(cfg *config.Config) *Harvester {
	return &Harvester{
		Indexes:        DefaultIndexes(),
		Client:         &http.Client{Timeout: 10 * time.Second},
		CheckURL:       cfg.ProxyCheckURL,
		CheckTimeout:   cfg.ProxyCheckTimeout,
		MaxCandidates:  cfg.ProxyMaxCandidates,
		Workers:        cfg.ProxyCheckWorkers,
		Wanted:         cfg.ProxyWanted,
		CheckTransport: defaultCheckTransport,
	}
}

func defaultCheckTransport(proxy *url.URL) http.RoundTripper {
	return &http.Transport{
		Proxy:               http.ProxyURL(proxy),
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		DisableKeepAlives:   true,
	}
}

// Harvest downloads every index, deduplicates the candidates and returns
// the ones that respond to the check.
func (h *Harvester) Harvest(ctx context.Context) []models.Identity {
	candidates := h.Collect(ctx)
	if len(candidates) == 0 {
		slog.Warn("identity harvest found no candidates")
		return nil
	}
	working := h.Validate(ctx, candidates)
	slog.Info("identity harvest complete",
		slog.Int("candidates", len(candidates)),
		slog.Int("working", len(working)),
	)

	out := make([]models.Identity, 0, len(working))
	for _, addr := range working {
		out = append(out, models.Identity{Address: addr, Origin: OriginIndex, State: models.IdentityHealthy})
	}
	return out
}

// Collect gathers unique candidate addresses from all indexes. Index
// failures are logged and skipped.
func (h *Harvester) Collect(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, index := range h.Indexes {
		if ctx.Err() != nil {
			break
		}
		addrs, err := h.fetchIndex(ctx, index)
		if err != nil {
			slog.Warn("identity index failed", slog.String("index", index.Name), slog.Any("error", err))
			continue
		}
		added := 0
		for _, raw := range addrs {
			addr, err := normalize(raw)
			if err != nil {
				continue
			}
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
			added++
		}
		slog.Debug("identity index loaded", slog.String("index", index.Name), slog.Int("candidates", added))
	}
	return out
}

func (h *Harvester) fetchIndex(ctx context.Context, index Index) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, index.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent())

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	switch index.Kind {
	case IndexHTMLTable:
		return parseHTMLTable(body, index.Selector, index.MaxRows)
	default:
		return parsePlain(body), nil
	}
}

func parsePlain(body []byte) []string {
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "://"); i >= 0 {
			line = line[i+3:]
		}
		if reHostPort.MatchString(line) {
			out = append(out, line)
		}
	}
	return out
}

func parseHTMLTable(body []byte, selector string, maxRows int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse index html: %w", err)
	}
	if selector == "" {
		selector = "table tr"
	}
	var out []string
	doc.Find(selector).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return true
		}
		host := strings.TrimSpace(cells.Eq(0).Text())
		port := strings.TrimSpace(cells.Eq(1).Text())
		if candidate := host + ":" + port; reHostPort.MatchString(candidate) {
			out = append(out, candidate)
		}
		return maxRows <= 0 || len(out) < maxRows
	})
	return out, nil
}

// Validate checks at most MaxCandidates addresses with Workers concurrent
// checks and stops once Wanted have passed.
func (h *Harvester) Validate(ctx context.Context, candidates []string) []string {
	if h.MaxCandidates > 0 && len(candidates) > h.MaxCandidates {
		candidates = candidates[:h.MaxCandidates]
	}
	workers := h.Workers
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var (
		mu      sync.Mutex
		working []string
	)
	for _, candidate := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if !h.Check(gctx, candidate) {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if h.Wanted > 0 && len(working) >= h.Wanted {
				return nil
			}
			working = append(working, candidate)
			if h.Wanted > 0 && len(working) >= h.Wanted {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()
	return working
}

// Check reports whether a GET of the check URL through addr answers 200
// within the check timeout.
func (h *Harvester) Check(ctx context.Context, addr string) bool {
	proxy, err := ParseProxyURL(addr)
	if err != nil {
		return false
	}
	timeout := h.CheckTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.CheckURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", UserAgent())

	transport := h.CheckTransport
	if transport == nil {
		transport = defaultCheckTransport
	}
	client := &http.Client{Transport: transport(proxy)}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode == http.StatusOK
}
