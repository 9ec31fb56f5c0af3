package scraper

import "fmt"

// SuccessPolicy decides whether a parallel cycle succeeded.
type SuccessPolicy interface {
	Satisfied(succeeded, unique int) bool
	String() string
}

// MinSources succeeds when at least N sources returned listings.
type MinSources struct {
	N int
}

func (p MinSources) Satisfied(succeeded, _ int) bool {
	return succeeded >= p.N
}

func (p MinSources) String() string {
	return fmt.Sprintf("min_sources=%d", p.N)
}

// MinCoverage also requires a minimum number of unique listings.
type MinCoverage struct {
	Sources  int
	Listings int
}

func (p MinCoverage) Satisfied(succeeded, unique int) bool {
	return succeeded >= p.Sources && unique >= p.Listings
}

func (p MinCoverage) String() string {
	return fmt.Sprintf("min_sources=%d min_listings=%d", p.Sources, p.Listings)
}

// PolicyFromConfig picks MinCoverage when a listing threshold is set.
func PolicyFromConfig(minSources, minListings int) SuccessPolicy {
	if minListings > 0 {
		return MinCoverage{Sources: minSources, Listings: minListings}
	}
	return MinSources{N: minSources}
}
