// Package fetcher performs single page fetches with block detection, backoff
// and identity rotation.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-cars/config"
	"github.com/aluiziolira/go-scrape-cars/metrics"
	"github.com/aluiziolira/go-scrape-cars/models"
)

// maxBodyBytes bounds how much of a response is buffered.
const maxBodyBytes = 8 << 20

// DefaultUserAgent is sent when no identity source supplies a signature.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// IdentitySource hands out egress identities and client signatures.
type IdentitySource interface {
	Next(ctx context.Context) (models.Identity, bool)
	MarkFailed(id models.Identity)
	MarkSucceeded(id models.Identity)
	UserAgent() string
}

// Options tune a single Fetch call. Zero values fall back to the config.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Header      http.Header
}

// Response is a fully buffered successful fetch.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Identity   models.Identity
	Attempts   []models.FetchAttempt
}

// TransportFunc builds the round tripper used for one identity. The zero
// identity means a direct connection.
type TransportFunc func(id models.Identity) (http.RoundTripper, error)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTransportFunc overrides how per-identity transports are built.
func WithTransportFunc(fn TransportFunc) Option {
	return func(f *Fetcher) {
		f.transport = fn
	}
}

// WithSleep overrides the delay function used for jitter and backoff.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) {
		f.sleep = fn
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// Fetcher issues requests through the identity pool.
type Fetcher struct {
	cfg       *config.Config
	pool      IdentitySource
	transport TransportFunc
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	sleep     func(ctx context.Context, d time.Duration) error
	markers   []blockMarker
}

type blockMarker struct {
	text    string
	pattern *regexp.Regexp
}

// New builds a Fetcher. pool may be nil, in which case every request is direct.
func New(cfg *config.Config, pool IdentitySource, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:   cfg,
		pool:  pool,
		sleep: sleepContext,
	}
	f.transport = newTransportCache(cfg.Timeout).get
	if cfg.RequestRPS > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestRPS), 1)
	}
	for _, marker := range cfg.BlockMarkers {
		if marker = strings.ToLower(strings.TrimSpace(marker)); marker != "" {
			f.markers = append(f.markers, blockMarker{
				text:    marker,
				pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(marker) + `\b`),
			})
		}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves target, rotating identities on block signals and backing
// off between attempts. It returns an error once all attempts fail; the
// error wraps ErrAttemptsExhausted and the last attempt's cause.
func (f *Fetcher) Fetch(ctx context.Context, target string, opts Options) (*Response, error) {
	if _, err := url.ParseRequestURI(target); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", target, err)
	}

	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = f.cfg.MaxAttempts
	}
	if attempts <= 0 {
		attempts = 1
	}
	base := opts.BaseDelay
	if base <= 0 {
		base = f.cfg.RetryBackoff
	}

	var (
		history []models.FetchAttempt
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, forwarded := f.identity(ctx)
		if err := f.sleep(ctx, f.jitter()); err != nil {
			return nil, err
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		resp, err := f.do(ctx, target, id, opts.Header)
		elapsed := time.Since(start)
		f.metrics.ObserveFetch(elapsed)

		record := models.FetchAttempt{URL: target, Attempt: attempt, Identity: id.Address, Elapsed: elapsed}
		if resp != nil {
			record.Status = resp.StatusCode
		}

		if err == nil {
			err = f.inspect(resp)
		}
		record.Outcome = outcomeOf(err)
		history = append(history, record)
		f.metrics.IncFetch(string(record.Outcome))

		if err == nil {
			if forwarded {
				f.pool.MarkSucceeded(id)
			}
			resp.Identity = id
			resp.Attempts = history
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		f.metrics.IncError(ErrorTypeLabel(err))
		retry := f.handleFailure(id, forwarded, err)

		slog.Warn("fetch attempt failed",
			slog.String("url", target),
			slog.Int("attempt", attempt),
			slog.String("identity", identityLabel(id)),
			slog.String("outcome", string(record.Outcome)),
			slog.Any("error", err),
		)

		if !retry {
			return nil, err
		}
		if attempt < attempts {
			f.metrics.IncRetries()
			if err := f.sleep(ctx, f.backoff(base, attempt)); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempts, lastErr)
}

func (f *Fetcher) identity(ctx context.Context) (models.Identity, bool) {
	if f.pool == nil || !f.cfg.UseProxy {
		return models.Identity{}, false
	}
	return f.pool.Next(ctx)
}

func (f *Fetcher) userAgent() string {
	if f.pool != nil {
		if ua := f.pool.UserAgent(); ua != "" {
			return ua
		}
	}
	return DefaultUserAgent
}

func (f *Fetcher) do(ctx context.Context, target string, id models.Identity, extra http.Header) (*Response, error) {
	rt, err := f.transport(id)
	if err != nil {
		return nil, ErrConnection{Err: err, Proxy: true}
	}

	attemptCtx := ctx
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range extra {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", f.userAgent())
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "sk-SK,sk;q=0.9,cs;q=0.8,en;q=0.7")
	}

	client := &http.Client{Transport: rt}
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &Response{
		URL:        final,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// inspect turns a received response into an error when it is a block page
// or an unsuccessful status.
func (f *Fetcher) inspect(resp *Response) error {
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return ErrBlocked{Status: resp.StatusCode, Err: classifyStatus(resp.StatusCode)}
	}
	if marker := f.findBlockMarker(resp.Body); marker != "" {
		return ErrBlocked{Status: resp.StatusCode, Marker: marker}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return classifyStatus(resp.StatusCode)
	}
	return nil
}

// findBlockMarker returns the first marker found as a whole word in body.
func (f *Fetcher) findBlockMarker(body []byte) string {
	if len(f.markers) == 0 || len(body) == 0 {
		return ""
	}
	for _, marker := range f.markers {
		if marker.pattern.Match(body) {
			return marker.text
		}
	}
	return ""
}

// handleFailure applies identity bookkeeping and reports whether the error
// is worth another attempt.
func (f *Fetcher) handleFailure(id models.Identity, forwarded bool, err error) bool {
	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		f.metrics.IncBlocked()
		if forwarded {
			f.pool.MarkFailed(id)
			f.metrics.IncIdentityFailure()
		}
		return true
	}

	var conn ErrConnection
	if errors.As(err, &conn) {
		if conn.Proxy && forwarded {
			f.pool.MarkFailed(id)
			f.metrics.IncIdentityFailure()
		}
		return true
	}

	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return true
	}

	var status ErrStatus
	if errors.As(err, &status) {
		return status.Retryable()
	}
	return false
}

// backoff grows linearly with the attempt index and is capped by RetryBackoffMax.
func (f *Fetcher) backoff(base time.Duration, attempt int) time.Duration {
	delay := base * time.Duration(attempt)
	if max := f.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (f *Fetcher) jitter() time.Duration {
	lo, hi := f.cfg.JitterMin, f.cfg.JitterMax
	if hi <= 0 {
		return 0
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)))
}

func outcomeOf(err error) models.FetchOutcome {
	if err == nil {
		return models.OutcomeSuccess
	}
	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		return models.OutcomeBlocked
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return models.OutcomeTimeout
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return models.OutcomeNetworkError
	}
	return models.OutcomeHTTPError
}

func identityLabel(id models.Identity) string {
	if id.Address == "" {
		return "direct"
	}
	return id.Address
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
