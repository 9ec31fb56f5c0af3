// Package scoring ranks a batch of listings by how good a deal each one is
// relative to the rest of the batch.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/aluiziolira/go-scrape-cars/models"
)

// Weights of the score components.
const (
	PriceWeight   = 0.6
	MileageWeight = 0.3
	AgeWeight     = 0.1
)

// Verdict thresholds; a score must be strictly above a threshold to reach its tier.
const (
	SuperDealThreshold = 1.5
	GoodDealThreshold  = 0.5
	OKThreshold        = -0.5
)

const (
	// ageHorizon is the age in years at which the age bonus reaches zero.
	ageHorizon = 10.0
	// DefaultAge is assumed for listings without a year.
	DefaultAge = 5
)

// Engine scores batches. The zero value uses the wall clock.
type Engine struct {
	// Now supplies the current year for the age bonus.
	Now func() time.Time
}

// New returns an Engine using the wall clock.
func New() *Engine {
	return &Engine{Now: time.Now}
}

// stats is the mean and sample standard deviation of one batch column.
type stats struct {
	mean  float64
	stdev float64
	n     int
}

func describe(values []float64) stats {
	s := stats{n: len(values)}
	if s.n == 0 {
		return s
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	s.mean = sum / float64(s.n)
	if s.n < 2 {
		return s
	}
	var sq float64
	for _, v := range values {
		d := v - s.mean
		sq += d * d
	}
	s.stdev = math.Sqrt(sq / float64(s.n-1))
	return s
}

// z is the standard score of v, or 0 when it is undefined.
func (s stats) z(v float64) float64 {
	if s.n < 2 || s.stdev == 0 || math.IsNaN(s.stdev) {
		return 0
	}
	return (v - s.mean) / s.stdev
}

// Score attaches a DealScore to every listing and returns the batch sorted by
// descending score. Ties keep their input order. The input slice is not
// reordered.
func (e *Engine) Score(listings []*models.Listing) []*models.Listing {
	out := make([]*models.Listing, 0, len(listings))
	for _, l := range listings {
		if l != nil {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return out
	}

	prices := make([]float64, 0, len(out))
	var mileages []float64
	for _, l := range out {
		prices = append(prices, float64(l.Price))
		if l.Mileage > 0 {
			mileages = append(mileages, float64(l.Mileage))
		}
	}
	priceStats := describe(prices)
	mileageStats := describe(mileages)
	year := e.now().Year()

	for _, l := range out {
		breakdown := models.ScoreBreakdown{
			PriceZ:   -priceStats.z(float64(l.Price)),
			AgeBonus: AgeBonus(l.Year, year),
		}
		if l.Mileage > 0 {
			breakdown.MileageZ = -mileageStats.z(float64(l.Mileage))
		}
		score := PriceWeight*breakdown.PriceZ + MileageWeight*breakdown.MileageZ + AgeWeight*breakdown.AgeBonus
		if len(out) < 2 {
			score = 0
			breakdown = models.ScoreBreakdown{}
		}
		verdict, risk := Classify(score)
		l.Deal = &models.DealScore{
			Score:     score,
			Verdict:   verdict,
			Risk:      risk,
			Breakdown: breakdown,
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Deal.Score > out[j].Deal.Score
	})
	return out
}

func (e *Engine) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// AgeBonus scales linearly from 1 for a car built this year to 0 at ten
// years or older. A zero year uses DefaultAge.
func AgeBonus(year, currentYear int) float64 {
	age := DefaultAge
	if year > 0 {
		age = currentYear - year
	}
	return clamp(1-float64(age)/ageHorizon, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Classify maps a score to its verdict and risk tier.
func Classify(score float64) (models.Verdict, models.Risk) {
	switch {
	case score > SuperDealThreshold:
		return models.VerdictSuperDeal, models.RiskLow
	case score > GoodDealThreshold:
		return models.VerdictGoodDeal, models.RiskLow
	case score > OKThreshold:
		return models.VerdictOK, models.RiskMedium
	default:
		return models.VerdictSkip, models.RiskHigh
	}
}

// Rank orders verdicts from best to worst; it is used to compare tiers.
func Rank(v models.Verdict) int {
	switch v {
	case models.VerdictSuperDeal:
		return 3
	case models.VerdictGoodDeal:
		return 2
	case models.VerdictOK:
		return 1
	default:
		return 0
	}
}
