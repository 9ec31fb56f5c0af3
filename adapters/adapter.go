// Package adapters turns catalog search pages into normalized listings.
package adapters

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/aluiziolira/go-scrape-cars/config"
	"github.com/aluiziolira/go-scrape-cars/models"
)

// Adapter fetches listings from exactly one catalog.
//
// FetchListings never panics on fetch or parse failures. It returns an empty
// slice and the fetch error, which callers treat as that source's failure.
type Adapter interface {
	Name() string
	FetchListings(ctx context.Context, query string, minPrice, maxPrice int) ([]*models.Listing, error)
}

// Transporter supplies the round tripper that carries adapter requests.
// *fetcher.Fetcher satisfies it.
type Transporter interface {
	Transport(ctx context.Context) http.RoundTripper
}

// Options tune a catalog adapter.
type Options struct {
	// BaseURL overrides the catalog origin.
	BaseURL string
	// Cap bounds the number of listings returned per call.
	Cap              int
	RespectRobotsTxt bool
	Now              func() time.Time
}

// DefaultCap is used when Options.Cap is not positive.
const DefaultCap = 15

// Factory builds an adapter for one catalog.
type Factory func(t Transporter, opts Options) Adapter

var registry = map[string]Factory{
	"bazos":     func(t Transporter, o Options) Adapter { return NewBazos(t, o) },
	"autobazar": func(t Transporter, o Options) Adapter { return NewAutobazar(t, o) },
	"autosme":   func(t Transporter, o Options) Adapter { return NewAutosme(t, o) },
}

// Names lists the built-in catalog adapters.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New builds the adapter registered under src.Name.
func New(src config.SourceConfig, t Transporter, respectRobots bool) (Adapter, error) {
	factory, ok := registry[src.Name]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", src.Name)
	}
	return factory(t, Options{Cap: src.Cap, RespectRobotsTxt: respectRobots}), nil
}
