package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-cars/config"
	"github.com/aluiziolira/go-scrape-cars/fetcher"
	"github.com/aluiziolira/go-scrape-cars/models"
)

// stubAdapter returns a fixed result after an optional delay.
type stubAdapter struct {
	name     string
	delay    time.Duration
	listings []*models.Listing
	err      error
	panicMsg string
	calls    atomic.Int32
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) FetchListings(ctx context.Context, _ string, _, _ int) ([]*models.Listing, error) {
	s.calls.Add(1)
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			// Ignore cancellation to model an adapter that returns late.
			<-time.After(s.delay)
		}
	}
	return s.listings, s.err
}

// mockAdapter is a testify mock of the adapter contract.
type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Name() string { return "mocked" }

func (m *mockAdapter) FetchListings(ctx context.Context, query string, minPrice, maxPrice int) ([]*models.Listing, error) {
	args := m.Called(ctx, query, minPrice, maxPrice)
	listings, _ := args.Get(0).([]*models.Listing)
	return listings, args.Error(1)
}

func listings(prefix string, n int) []*models.Listing {
	out := make([]*models.Listing, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &models.Listing{
			Title:  fmt.Sprintf("%s %d", prefix, i),
			Price:  5000 + i,
			URL:    fmt.Sprintf("https://%s.test/%d", prefix, i),
			Source: prefix,
		})
	}
	return out
}

func source(a *stubAdapter, priority int, timeout time.Duration) Source {
	return Source{Name: a.name, Adapter: a, Priority: priority, Timeout: timeout, Enabled: true}
}

func noSleep(context.Context, time.Duration) error { return nil }

var query = Query{Text: "octavia", MinPrice: 1000, MaxPrice: 30000}

func TestParallelTimeoutIsolated(t *testing.T) {
	slow := &stubAdapter{name: "slow", delay: 300 * time.Millisecond, listings: listings("slow", 4)}
	fast := &stubAdapter{name: "fast", delay: 10 * time.Millisecond, listings: listings("fast", 5)}

	o, err := New([]Source{source(slow, 1, 50*time.Millisecond), source(fast, 2, time.Second)})
	require.NoError(t, err)

	start := time.Now()
	result, err := o.Run(context.Background(), config.ModeParallel, query)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 250*time.Millisecond, "late adapter must not hold the cycle")
	assert.True(t, result.Success)
	assert.Equal(t, []string{"fast"}, result.SourcesUsed)
	assert.Equal(t, []string{"slow"}, result.SourcesFailed)
	assert.Equal(t, 5, result.Unique)
	for _, l := range result.Listings {
		assert.Equal(t, "fast", l.Source, "late results are never merged")
	}
	assert.InDelta(t, 50.0, result.Stats.SuccessRate, 1e-9)

	var slowOutcome models.ScrapeOutcome
	for _, oc := range result.Outcomes {
		if oc.Source == "slow" {
			slowOutcome = oc
		}
	}
	assert.Contains(t, slowOutcome.Error, "timeout")
}

func TestParallelOverlapDedupes(t *testing.T) {
	a := listings("a", 4)
	b := listings("b", 3)
	shared := &models.Listing{Title: "dup", Price: 9000, URL: a[2].URL, Source: "b"}
	b = append(b, shared)

	o, err := New([]Source{
		source(&stubAdapter{name: "a", listings: a}, 1, time.Second),
		source(&stubAdapter{name: "b", listings: b}, 2, time.Second),
	})
	require.NoError(t, err)

	result := o.RunParallel(context.Background(), query)
	assert.Equal(t, 8, result.TotalFound)
	assert.Equal(t, len(a)+len(b)-1, result.Unique)
	assert.Equal(t, 1, result.Stats.DuplicatesRemoved)
	assert.ElementsMatch(t, []string{"a", "b"}, result.SourcesUsed)
}

func TestParallelPanicIsSourceFailure(t *testing.T) {
	o, err := New([]Source{
		source(&stubAdapter{name: "broken", panicMsg: "selector exploded"}, 1, time.Second),
		source(&stubAdapter{name: "ok", listings: listings("ok", 2)}, 2, time.Second),
	})
	require.NoError(t, err)

	result := o.RunParallel(context.Background(), query)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"broken"}, result.SourcesFailed)
	assert.Equal(t, 2, result.Unique)
}

func TestParallelPolicy(t *testing.T) {
	sources := []Source{
		source(&stubAdapter{name: "a", listings: listings("a", 2)}, 1, time.Second),
		source(&stubAdapter{name: "b", err: errors.New("boom")}, 2, time.Second),
	}

	o, err := New(sources, WithPolicy(MinSources{N: 2}))
	require.NoError(t, err)
	result := o.RunParallel(context.Background(), query)
	assert.False(t, result.Success)
	assert.False(t, result.Failed(), "partial success is not a full-cycle failure")

	o, err = New(sources, WithPolicy(MinCoverage{Sources: 1, Listings: 3}))
	require.NoError(t, err)
	assert.False(t, o.RunParallel(context.Background(), query).Success)

	o, err = New(sources, WithPolicy(MinCoverage{Sources: 1, Listings: 2}))
	require.NoError(t, err)
	assert.True(t, o.RunParallel(context.Background(), query).Success)
}

func TestParallelAllFail(t *testing.T) {
	o, err := New([]Source{
		source(&stubAdapter{name: "a"}, 1, time.Second),
		source(&stubAdapter{name: "b", err: errors.New("down")}, 2, time.Second),
	})
	require.NoError(t, err)

	result := o.RunParallel(context.Background(), query)
	assert.False(t, result.Success)
	assert.True(t, result.Failed())
	assert.Empty(t, result.Listings)
}

func TestFallbackStopsAtFirstNonEmpty(t *testing.T) {
	first := &stubAdapter{name: "first"}
	second := &stubAdapter{name: "second", listings: listings("second", 3)}
	third := &stubAdapter{name: "third", listings: listings("third", 7)}

	var pauses []time.Duration
	o, err := New(
		[]Source{source(third, 3, time.Second), source(first, 1, time.Second), source(second, 2, time.Second)},
		WithCooldown(2*time.Second),
		WithSleep(func(_ context.Context, d time.Duration) error {
			pauses = append(pauses, d)
			return nil
		}),
	)
	require.NoError(t, err)

	result, err := o.Run(context.Background(), config.ModeFallback, query)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Len(t, result.Listings, 3)
	assert.Equal(t, []string{"second"}, result.SourcesUsed)
	assert.Equal(t, []string{"first"}, result.SourcesFailed)
	assert.Equal(t, int32(1), first.calls.Load())
	assert.Equal(t, int32(0), third.calls.Load(), "third source must never be invoked")
	assert.Equal(t, []time.Duration{2 * time.Second}, pauses)
}

func TestFallbackAllFailReturnsEmpty(t *testing.T) {
	o, err := New([]Source{
		source(&stubAdapter{name: "a"}, 1, time.Second),
		source(&stubAdapter{name: "b", err: errors.New("down")}, 2, time.Second),
	}, WithSleep(noSleep))
	require.NoError(t, err)

	result := o.RunFallback(context.Background(), query)
	assert.False(t, result.Success)
	assert.Empty(t, result.Listings)
	assert.Equal(t, []string{"a", "b"}, result.SourcesFailed)
}

func TestDisabledSourcesSkipped(t *testing.T) {
	off := &stubAdapter{name: "off", listings: listings("off", 3)}
	on := &stubAdapter{name: "on", listings: listings("on", 1)}
	disabled := source(off, 0, time.Second)
	disabled.Enabled = false

	o, err := New([]Source{disabled, source(on, 1, time.Second)}, WithSleep(noSleep))
	require.NoError(t, err)

	o.RunParallel(context.Background(), query)
	o.RunFallback(context.Background(), query)
	assert.Equal(t, int32(0), off.calls.Load())
	assert.Equal(t, int32(2), on.calls.Load())
}

func TestNewValidation(t *testing.T) {
	off := source(&stubAdapter{name: "off"}, 1, time.Second)
	off.Enabled = false
	_, err := New([]Source{off})
	assert.ErrorIs(t, err, ErrNoSources)

	_, err = New(nil)
	assert.ErrorIs(t, err, ErrNoSources)

	_, err = New([]Source{{Name: "nil", Enabled: true, Timeout: time.Second}})
	assert.Error(t, err)

	o, err := New([]Source{source(&stubAdapter{name: "a"}, 1, time.Second)})
	require.NoError(t, err)
	_, err = o.Run(context.Background(), "sideways", query)
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestSourcesSortedByPriority(t *testing.T) {
	o, err := New([]Source{
		source(&stubAdapter{name: "c"}, 3, time.Second),
		source(&stubAdapter{name: "a"}, 1, time.Second),
		source(&stubAdapter{name: "b"}, 2, time.Second),
	})
	require.NoError(t, err)
	var names []string
	for _, s := range o.Sources() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestMockedAdapterReceivesQuery(t *testing.T) {
	m := &mockAdapter{}
	m.On("FetchListings", mock.Anything, "octavia", 1000, 30000).Return(listings("m", 2), nil).Once()

	o, err := New([]Source{{Name: "mocked", Adapter: m, Priority: 1, Timeout: time.Second, Enabled: true}})
	require.NoError(t, err)

	result := o.RunParallel(context.Background(), query)
	assert.Equal(t, 2, result.Unique)
	m.AssertExpectations(t)
}

func TestDedupeIdempotent(t *testing.T) {
	in := append(listings("x", 3), listings("x", 2)...)
	in = append(in, nil, &models.Listing{Title: "no url"})

	once := Dedupe(in)
	twice := Dedupe(once)
	require.Len(t, once, 3)
	assert.Equal(t, once, twice)
	assert.Same(t, in[0], once[0], "first occurrence wins")
}

func TestFromConfigRunsAdapters(t *testing.T) {
	page := `<html><body>
<div class="inzeraty"><h2 class="nadpis"><a href="/inzerat/1/a.php">Škoda Octavia 2015</a></h2><div class="inzeratycena"><b>9 500 €</b></div></div>
</body></html>`
	mockTransport := httpmock.NewMockTransport()
	mockTransport.RegisterResponder("GET", "https://auto.bazos.sk/", func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, page)
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})
	mockTransport.RegisterNoResponder(httpmock.NewStringResponder(http.StatusNotFound, ""))

	cfg := config.DefaultConfig()
	cfg.UseProxy = false
	cfg.JitterMin, cfg.JitterMax = 0, 0
	cfg.MaxAttempts = 1
	f := fetcher.New(cfg, nil,
		fetcher.WithTransportFunc(func(models.Identity) (http.RoundTripper, error) { return mockTransport, nil }),
	)

	o, err := FromConfig(cfg, f, WithSleep(noSleep))
	require.NoError(t, err)
	require.Len(t, o.Sources(), 3)

	result := o.RunParallel(context.Background(), query)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"bazos"}, result.SourcesUsed)
	assert.Equal(t, []string{"autobazar"}, result.SourcesFailed, "autosme is disabled by default")
	require.Len(t, result.Listings, 1)
	assert.Equal(t, "https://auto.bazos.sk/inzerat/1/a.php", result.Listings[0].URL)
}

func TestPolicyFromConfig(t *testing.T) {
	assert.Equal(t, MinSources{N: 1}, PolicyFromConfig(1, 0))
	assert.Equal(t, MinCoverage{Sources: 2, Listings: 10}, PolicyFromConfig(2, 10))
	assert.Equal(t, "min_sources=1", MinSources{N: 1}.String())
}
