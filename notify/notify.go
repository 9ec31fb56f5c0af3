// Package notify delivers top-tier deals to people and downstream systems.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/aluiziolira/go-scrape-cars/config"
	"github.com/aluiziolira/go-scrape-cars/models"
)

// Notifier delivers one listing. Delivery failures are reported but never
// change what was scored or stored.
type Notifier interface {
	Notify(ctx context.Context, l *models.Listing) error
	Close() error
}

var verdictMark = map[models.Verdict]string{
	models.VerdictSuperDeal: "🔥",
	models.VerdictGoodDeal:  "👍",
	models.VerdictOK:        "➡️",
	models.VerdictSkip:      "⛔",
}

var printer = message.NewPrinter(language.English)

// FormatMessage renders the Markdown text sent for a deal.
func FormatMessage(l *models.Listing) string {
	verdict := "DEAL"
	mark := "🚗"
	score := 0.0
	if l.Deal != nil {
		verdict = string(l.Deal.Verdict)
		score = l.Deal.Score
		if m, ok := verdictMark[l.Deal.Verdict]; ok {
			mark = m
		}
	}
	title := l.Title
	if title == "" {
		title = "Untitled"
	}
	location := l.Location
	if location == "" {
		location = "Unknown"
	}
	year := "N/A"
	if l.Year > 0 {
		year = fmt.Sprint(l.Year)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n", mark, verdict)
	fmt.Fprintf(&b, "*%s*\n\n", title)
	b.WriteString(printer.Sprintf("💰 *Price:* %d €\n", l.Price))
	fmt.Fprintf(&b, "📍 *Location:* %s\n", location)
	b.WriteString(printer.Sprintf("🚗 *Mileage:* %d km\n", l.Mileage))
	fmt.Fprintf(&b, "📅 *Year:* %s\n", year)
	fmt.Fprintf(&b, "⭐ *Score:* %.2f\n\n", score)
	fmt.Fprintf(&b, "🔗 [Open listing](%s)", l.URL)
	return b.String()
}

// FormatDigest renders a summary of the best n listings.
func FormatDigest(listings []*models.Listing, n int) string {
	if len(listings) == 0 {
		return ""
	}
	if n <= 0 || n > len(listings) {
		n = len(listings)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *TOP DEALS*\n\nFound *%d* best offers:\n", len(listings))
	for i, l := range listings[:n] {
		score := 0.0
		if l.Deal != nil {
			score = l.Deal.Score
		}
		fmt.Fprintf(&b, "\n*%d. %s*\n", i+1, l.Title)
		b.WriteString(printer.Sprintf("   💰 %d € | ⭐ %.2f\n", l.Price, score))
		fmt.Fprintf(&b, "   🔗 [Open](%s)\n", l.URL)
	}
	return b.String()
}

// Log writes deals to the structured log.
type Log struct{}

func (Log) Notify(_ context.Context, l *models.Listing) error {
	attrs := []any{
		slog.String("title", l.Title),
		slog.Int("price", l.Price),
		slog.String("url", l.URL),
		slog.String("source", l.Source),
	}
	if l.Deal != nil {
		attrs = append(attrs, slog.String("verdict", string(l.Deal.Verdict)), slog.Float64("score", l.Deal.Score))
	}
	slog.Info("deal found", attrs...)
	return nil
}

func (Log) Close() error { return nil }

// Multi fans a deal out to several notifiers. One failing target does not
// stop delivery to the others.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, l *models.Listing) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the configured notifiers. The log notifier is always present.
func New(cfg *config.Config) Notifier {
	out := Multi{Log{}}
	if cfg.WebhookURL != "" {
		out = append(out, NewWebhook(cfg.WebhookURL, nil))
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		out = append(out, NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	return out
}
