package store

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-cars/models"
)

var csvHeader = []string{
	"url", "title", "price", "description", "location", "region", "brand", "model",
	"fuel_type", "transmission", "km", "year", "image_url", "source",
	"score", "verdict", "risk_level", "batch_id", "scraped_at", "stored_at",
}

// urlIndex is the set of URLs already written to an append-only file.
type urlIndex struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (x *urlIndex) has(url string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.seen[url]
	return ok
}

// CSV appends records to a CSV file. URLs already in the file are loaded on
// open so reruns stay idempotent.
type CSV struct {
	urlIndex
	file   *os.File
	writer *csv.Writer
}

// NewCSV opens or creates filename and writes the header if it is empty.
func NewCSV(filename string) (*CSV, error) {
	seen, err := loadCSVIndex(filename)
	if err != nil {
		return nil, err
	}
	f, err := openAppend(filename)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() == 0 {
		if err := writer.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush csv header: %w", err)
		}
	}

	return &CSV{urlIndex: urlIndex{seen: seen}, file: f, writer: writer}, nil
}

func (c *CSV) Exists(_ context.Context, url string) (bool, error) {
	return c.has(url), nil
}

func (c *CSV) Upsert(_ context.Context, l *models.Listing, batchID string) (bool, error) {
	if err := validate(l); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[l.URL]; ok {
		return false, nil
	}

	score, verdict, risk := dealFields(l)
	record := []string{
		l.URL,
		l.Title,
		strconv.Itoa(l.Price),
		l.Description,
		l.Location,
		l.Region,
		l.Brand,
		l.Model,
		l.FuelType,
		l.Transmission,
		strconv.Itoa(l.Mileage),
		strconv.Itoa(l.Year),
		l.ImageURL,
		l.Source,
		strconv.FormatFloat(score, 'f', -1, 64),
		verdict,
		risk,
		batchID,
		l.ScrapedAt.Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.writer.Write(record); err != nil {
		return false, fmt.Errorf("write csv record: %w", err)
	}
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return false, fmt.Errorf("flush csv records: %w", err)
	}
	c.seen[l.URL] = struct{}{}
	return true, nil
}

// Close flushes and closes the file handle.
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return c.file.Close()
}

func loadCSVIndex(filename string) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	f, err := os.Open(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return seen, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return seen, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := -1
	for i, name := range header {
		if name == "url" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("csv file %s has no url column", filename)
	}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		if col < len(row) && row[col] != "" {
			seen[row[col]] = struct{}{}
		}
	}
	return seen, nil
}

// JSONL appends one JSON record per line.
type JSONL struct {
	urlIndex
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
}

// NewJSONL opens or creates filename for appending.
func NewJSONL(filename string) (*JSONL, error) {
	seen, err := loadJSONLIndex(filename)
	if err != nil {
		return nil, err
	}
	f, err := openAppend(filename)
	if err != nil {
		return nil, fmt.Errorf("open json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONL{
		urlIndex: urlIndex{seen: seen},
		file:     f,
		writer:   buffer,
		encoder:  json.NewEncoder(buffer),
	}, nil
}

func (j *JSONL) Exists(_ context.Context, url string) (bool, error) {
	return j.has(url), nil
}

func (j *JSONL) Upsert(_ context.Context, l *models.Listing, batchID string) (bool, error) {
	if err := validate(l); err != nil {
		return false, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.seen[l.URL]; ok {
		return false, nil
	}

	if err := j.encoder.Encode(Record{Listing: l, BatchID: batchID, StoredAt: time.Now().UTC()}); err != nil {
		return false, fmt.Errorf("encode json record: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return false, fmt.Errorf("flush json writer: %w", err)
	}
	j.seen[l.URL] = struct{}{}
	return true, nil
}

// Close flushes buffers and closes the underlying file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return j.file.Close()
}

func loadJSONLIndex(filename string) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	f, err := os.Open(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return seen, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open json file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for scanner.Scan() {
		var row struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil || row.URL == "" {
			continue
		}
		seen[row.URL] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read json file: %w", err)
	}
	return seen, nil
}

func openAppend(filename string) (*os.File, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
