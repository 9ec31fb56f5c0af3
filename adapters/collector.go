package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-cars/models"
	"github.com/aluiziolira/go-scrape-cars/parser"
)

// defaultRequestTimeout bounds a collector visit when ctx has no deadline.
// Fetch retries run inside a single visit, so it is longer than one attempt.
const defaultRequestTimeout = 2 * time.Minute

// entry is one listing as it appears on a result page.
type entry struct {
	Title       string
	Href        string
	Description string
	Price       string
	Location    string
	Seller      string
	ImageURL    string
}

// catalog holds what every adapter shares: the collector setup and the
// normalize, filter and cap steps applied to raw entries.
type catalog struct {
	name      string
	transport Transporter
	opts      Options
	price     func(any) int
	extract   func(doc *goquery.Selection) []entry
}

func newCatalog(name, defaultBase string, t Transporter, opts Options) catalog {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBase
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return catalog{name: name, transport: t, opts: opts, price: parser.ExtractPrice}
}

// Name implements Adapter.
func (c *catalog) Name() string { return c.name }

// collect visits target once and returns the normalized listings found on it.
func (c *catalog) collect(ctx context.Context, target string) ([]*models.Listing, error) {
	if err := ctx.Err(); err != nil {
		return []*models.Listing{}, fmt.Errorf("%s: %w", c.name, err)
	}

	collector := colly.NewCollector()
	collector.IgnoreRobotsTxt = !c.opts.RespectRobotsTxt
	collector.WithTransport(c.transport.Transport(ctx))
	timeout := defaultRequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	collector.SetRequestTimeout(timeout)

	var raw []entry
	collector.OnHTML("html", func(e *colly.HTMLElement) {
		for _, item := range c.extract(e.DOM) {
			if item.Href != "" {
				item.Href = e.Request.AbsoluteURL(item.Href)
			}
			if item.ImageURL != "" {
				item.ImageURL = e.Request.AbsoluteURL(item.ImageURL)
			}
			raw = append(raw, item)
		}
	})

	var visitErr error
	collector.OnError(func(_ *colly.Response, err error) {
		visitErr = err
	})

	if err := collector.Visit(target); err != nil {
		slog.Warn("source fetch failed", slog.String("source", c.name), slog.String("url", target), slog.Any("error", err))
		return []*models.Listing{}, fmt.Errorf("%s: %w", c.name, err)
	}
	if visitErr != nil {
		slog.Warn("source fetch failed", slog.String("source", c.name), slog.String("url", target), slog.Any("error", visitErr))
		return []*models.Listing{}, fmt.Errorf("%s: %w", c.name, visitErr)
	}

	listings := c.finish(raw)
	slog.Info("source scraped",
		slog.String("source", c.name),
		slog.Int("entries", len(raw)),
		slog.Int("listings", len(listings)),
	)
	return listings, nil
}

// finish normalizes raw entries, drops invalid and denylisted ones, enriches
// the rest and applies the cap.
func (c *catalog) finish(raw []entry) []*models.Listing {
	now := c.opts.Now()
	seen := make(map[string]struct{}, len(raw))
	out := make([]*models.Listing, 0, min(len(raw), c.opts.Cap))
	for _, item := range raw {
		if len(out) >= c.opts.Cap {
			break
		}
		l := &models.Listing{
			Title:       parser.NormalizeText(item.Title),
			Price:       c.price(item.Price),
			Description: parser.TruncateDescription(item.Description),
			Location:    parser.NormalizeText(item.Location),
			ImageURL:    strings.TrimSpace(item.ImageURL),
			URL:         strings.TrimSpace(item.Href),
			Source:      c.name,
			ScrapedAt:   now,
		}
		if err := parser.ValidateListing(l); err != nil {
			slog.Debug("dropping listing", slog.String("source", c.name), slog.Any("error", err))
			continue
		}
		if parser.IsDenylisted(l.Title, item.Seller) {
			slog.Debug("dropping denylisted listing", slog.String("source", c.name), slog.String("url", l.URL))
			continue
		}
		if _, dup := seen[l.URL]; dup {
			continue
		}
		seen[l.URL] = struct{}{}
		parser.Enrich(l)
		out = append(out, l)
	}
	return out
}

// firstText returns the trimmed text of the first element matched by the
// earliest selector group that matches anything.
func firstText(s *goquery.Selection, groups ...string) string {
	for _, group := range groups {
		if found := s.Find(group).First(); found.Length() > 0 {
			if text := strings.TrimSpace(found.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

// firstAttr is firstText for an attribute; later attribute names are tried
// when earlier ones are missing.
func firstAttr(s *goquery.Selection, group string, attrs ...string) string {
	found := s.Find(group).First()
	for _, attr := range attrs {
		if v, ok := found.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// findItems returns the elements of the first selector group that matches.
func findItems(doc *goquery.Selection, groups ...string) *goquery.Selection {
	for _, group := range groups {
		if items := doc.Find(group); items.Length() > 0 {
			return items
		}
	}
	return doc.Find(groups[len(groups)-1])
}
