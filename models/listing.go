// Package models defines data structures shared by the scraper components.
package models

import "time"

// MinValidPrice is the price a listing must exceed to be considered valid.
const MinValidPrice = 500

// Listing represents one normalized classified ad.
type Listing struct {
	Title        string    `csv:"title" json:"title" bson:"title"`
	Price        int       `csv:"price" json:"price" bson:"price"`
	Description  string    `csv:"description" json:"description" bson:"description"`
	Location     string    `csv:"location" json:"location,omitempty" bson:"location,omitempty"`
	Brand        string    `csv:"brand" json:"brand,omitempty" bson:"brand,omitempty"`
	Model        string    `csv:"model" json:"model,omitempty" bson:"model,omitempty"`
	Region       string    `csv:"region" json:"region,omitempty" bson:"region,omitempty"`
	FuelType     string    `csv:"fuel_type" json:"fuel_type,omitempty" bson:"fuel_type,omitempty"`
	Transmission string    `csv:"transmission" json:"transmission,omitempty" bson:"transmission,omitempty"`
	Mileage      int       `csv:"km" json:"km,omitempty" bson:"km,omitempty"`
	Year         int       `csv:"year" json:"year,omitempty" bson:"year,omitempty"`
	ImageURL     string    `csv:"image_url" json:"image_url,omitempty" bson:"image_url,omitempty"`
	Source       string    `csv:"source" json:"source" bson:"source"`
	URL          string    `csv:"url" json:"url" bson:"url"`
	RawSpecs     string    `csv:"raw_specs" json:"raw_specs,omitempty" bson:"raw_specs,omitempty"`
	ScrapedAt    time.Time `csv:"scraped_at" json:"scraped_at" bson:"scraped_at"`

	// Deal is set by the scoring engine and is only meaningful within the
	// batch it was computed for.
	Deal *DealScore `csv:"-" json:"deal,omitempty" bson:"deal,omitempty"`
}

// Verdict is the desirability tier derived from a deal score.
type Verdict string

const (
	VerdictSuperDeal Verdict = "SUPER_DEAL"
	VerdictGoodDeal  Verdict = "GOOD_DEAL"
	VerdictOK        Verdict = "OK"
	VerdictSkip      Verdict = "SKIP"
)

// Risk is the risk tier paired with a verdict.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// ScoreBreakdown explains how a score was assembled.
type ScoreBreakdown struct {
	PriceZ   float64 `json:"z_price" bson:"z_price"`
	MileageZ float64 `json:"z_km" bson:"z_km"`
	AgeBonus float64 `json:"year_bonus" bson:"year_bonus"`
}

// DealScore is the batch-relative ranking of one listing.
type DealScore struct {
	Score     float64        `json:"score" bson:"score"`
	Verdict   Verdict        `json:"verdict" bson:"verdict"`
	Risk      Risk           `json:"risk_level" bson:"risk_level"`
	Breakdown ScoreBreakdown `json:"details" bson:"details"`
}
