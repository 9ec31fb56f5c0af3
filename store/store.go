// Package store persists scored listings idempotently, keyed by listing URL.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-cars/config"
	"github.com/aluiziolira/go-scrape-cars/models"
)

// ErrUnsupported is returned by New for an unknown store type.
var ErrUnsupported = errors.New("unsupported store type")

// Gateway is the persistence contract. Upsert reports saved=false for a URL
// that is already stored; that is not an error.
type Gateway interface {
	Exists(ctx context.Context, url string) (bool, error)
	Upsert(ctx context.Context, l *models.Listing, batchID string) (bool, error)
	Close() error
}

// Record is the stored form of a listing.
type Record struct {
	*models.Listing
	BatchID  string    `json:"batch_id" bson:"batch_id"`
	StoredAt time.Time `json:"stored_at" bson:"stored_at"`
}

// New opens the gateway selected by cfg.StoreType.
func New(ctx context.Context, cfg *config.Config) (Gateway, error) {
	switch cfg.StoreType {
	case "memory":
		return NewMemory(), nil
	case "csv":
		return NewCSV(cfg.StorePath)
	case "jsonl":
		return NewJSONL(cfg.StorePath)
	case "dual":
		base := strings.TrimSuffix(cfg.StorePath, ".jsonl")
		base = strings.TrimSuffix(base, ".csv")
		return NewDual(base+".csv", base+".jsonl")
	case "postgres":
		return NewPostgres(ctx, cfg.PostgresDSN)
	case "mongo":
		return NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, cfg.StoreType)
	}
}

func validate(l *models.Listing) error {
	if l == nil || strings.TrimSpace(l.URL) == "" {
		return errors.New("listing without url")
	}
	return nil
}

func dealFields(l *models.Listing) (score float64, verdict, risk string) {
	if l.Deal == nil {
		return 0, "", ""
	}
	return l.Deal.Score, string(l.Deal.Verdict), string(l.Deal.Risk)
}
