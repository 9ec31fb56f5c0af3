package models

import "time"

// IdentityState is the health of an outbound identity.
type IdentityState int

const (
	IdentityUnknown IdentityState = iota
	IdentityHealthy
	IdentityFailed
)

func (s IdentityState) String() string {
	switch s {
	case IdentityHealthy:
		return "healthy"
	case IdentityFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Identity is an egress descriptor handed out by the identity pool.
type Identity struct {
	// Address is a proxy URL such as http://10.0.0.1:8080 or socks5://127.0.0.1:9050.
	Address string
	// Origin records where the identity came from (config, file, index name, relay).
	Origin string
	State  IdentityState
	// Generation is the pool generation the identity was handed out from.
	Generation uint64
}

// FetchOutcome classifies a single fetch attempt.
type FetchOutcome string

const (
	OutcomeSuccess      FetchOutcome = "success"
	OutcomeBlocked      FetchOutcome = "blocked"
	OutcomeTimeout      FetchOutcome = "timeout"
	OutcomeNetworkError FetchOutcome = "network_error"
	OutcomeHTTPError    FetchOutcome = "http_error"
)

// FetchAttempt records one try of the resilient fetcher.
type FetchAttempt struct {
	URL      string
	Attempt  int
	Identity string
	Status   int
	Outcome  FetchOutcome
	Elapsed  time.Duration
}

// ScrapeOutcome is the per-source result of one orchestration cycle.
type ScrapeOutcome struct {
	Source  string        `json:"source"`
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Elapsed time.Duration `json:"elapsed"`
	Error   string        `json:"error,omitempty"`
}

// CycleStats summarises deduplication for one cycle.
type CycleStats struct {
	TotalRaw          int     `json:"total_raw"`
	Unique            int     `json:"unique"`
	DuplicatesRemoved int     `json:"duplicates_removed"`
	SourcesSucceeded  int     `json:"sources_success"`
	SourcesFailed     int     `json:"sources_failed"`
	SuccessRate       float64 `json:"success_rate"`
}

// CycleResult holds the overall result of one orchestration cycle.
type CycleResult struct {
	Mode          string          `json:"mode"`
	Success       bool            `json:"success"`
	TotalFound    int             `json:"total_found"`
	Unique        int             `json:"unique"`
	SourcesUsed   []string        `json:"sources_used"`
	SourcesFailed []string        `json:"sources_failed"`
	Listings      []*Listing      `json:"listings"`
	Outcomes      []ScrapeOutcome `json:"outcomes"`
	Stats         CycleStats      `json:"stats"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
}

// Failed reports a full-cycle failure: nothing unique was found and no source succeeded.
func (r *CycleResult) Failed() bool {
	return r.Unique == 0 && len(r.SourcesUsed) == 0
}
