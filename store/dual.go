package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-cars/models"
)

// Dual writes every new record to both a CSV and a JSONL file. The CSV
// file decides whether a URL is already known.
type Dual struct {
	csv  *CSV
	json *JSONL
	mu   sync.Mutex
}

// NewDual opens both outputs.
func NewDual(csvFilename, jsonFilename string) (*Dual, error) {
	csvStore, err := NewCSV(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV store: %w", err)
	}

	jsonStore, err := NewJSONL(jsonFilename)
	if err != nil {
		csvStore.Close()
		return nil, fmt.Errorf("failed to create JSON store: %w", err)
	}

	return &Dual{csv: csvStore, json: jsonStore}, nil
}

func (d *Dual) Exists(ctx context.Context, url string) (bool, error) {
	return d.csv.Exists(ctx, url)
}

func (d *Dual) Upsert(ctx context.Context, l *models.Listing, batchID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	saved, err := d.csv.Upsert(ctx, l, batchID)
	if err != nil {
		return false, fmt.Errorf("CSV write failed: %w", err)
	}
	if !saved {
		return false, nil
	}
	if _, err := d.json.Upsert(ctx, l, batchID); err != nil {
		return true, fmt.Errorf("JSON write failed: %w", err)
	}
	return true, nil
}

// Close closes both outputs.
func (d *Dual) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if err := d.csv.Close(); err != nil {
		errs = append(errs, fmt.Errorf("CSV close failed: %w", err))
	}
	if err := d.json.Close(); err != nil {
		errs = append(errs, fmt.Errorf("JSON close failed: %w", err))
	}
	return errors.Join(errs...)
}
