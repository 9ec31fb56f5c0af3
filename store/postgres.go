package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/go-scrape-cars/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS car_deals (
	url          TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	price        INTEGER NOT NULL,
	description  TEXT,
	location     TEXT,
	region       TEXT,
	brand        TEXT,
	model        TEXT,
	fuel_type    TEXT,
	transmission TEXT,
	km           INTEGER,
	year         INTEGER,
	image_url    TEXT,
	source       TEXT NOT NULL,
	score        DOUBLE PRECISION,
	verdict      TEXT,
	risk_level   TEXT,
	batch_id     TEXT NOT NULL,
	scraped_at   TIMESTAMPTZ,
	stored_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores listings in the car_deals table. The primary key on url
// makes concurrent upserts of the same listing safe.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and ensures the table exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns < 2 {
		cfg.MaxConns = 2
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create car_deals table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Exists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM car_deals WHERE url = $1)`, url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query car_deals: %w", err)
	}
	return exists, nil
}

func (p *Postgres) Upsert(ctx context.Context, l *models.Listing, batchID string) (bool, error) {
	if err := validate(l); err != nil {
		return false, err
	}
	score, verdict, risk := dealFields(l)
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO car_deals
		(url, title, price, description, location, region, brand, model, fuel_type, transmission,
		 km, year, image_url, source, score, verdict, risk_level, batch_id, scraped_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (url) DO NOTHING`,
		l.URL, l.Title, l.Price, l.Description, l.Location, l.Region, l.Brand, l.Model, l.FuelType, l.Transmission,
		nullableInt(l.Mileage), nullableInt(l.Year), l.ImageURL, l.Source, score, verdict, risk, batchID, l.ScrapedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert car_deals: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func nullableInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
