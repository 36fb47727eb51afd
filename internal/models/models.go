package models

import (
	"math"
	"time"
)

const (
	// FloatUnresolved is shown when no source produced a positive share count
	FloatUnresolved = "N/A"

	// CatalystNotFound is the summary used when no news or headline could be resolved
	CatalystNotFound = "No catalyst found"
)

// DailyBar is one trading day of price/volume history
type DailyBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`

	// NoVolume marks a bar whose provider reported no volume
	NoVolume bool `json:"no_volume,omitempty"`
}

// Validate validates a DailyBar
func (b *DailyBar) Validate() error {
	if b.Date.IsZero() {
		return ErrInvalidTimestamp
	}
	if b.Close <= 0 || math.IsNaN(b.Close) || math.IsInf(b.Close, 0) {
		return ErrInvalidPrice
	}
	if b.Volume < 0 || math.IsNaN(b.Volume) {
		return ErrInvalidVolume
	}
	if b.High < b.Low {
		return ErrInvalidBar
	}
	return nil
}

// PriceSeries is a chronological sequence of daily bars, most recent last
type PriceSeries []DailyBar

// Latest returns the most recent bar
func (s PriceSeries) Latest() (DailyBar, bool) {
	if len(s) == 0 {
		return DailyBar{}, false
	}
	return s[len(s)-1], true
}

// CriteriaThresholds holds the screening thresholds for one process
type CriteriaThresholds struct {
	MinPrice     float64 `json:"min_price" yaml:"min_price" validate:"gte=0"`
	MaxPrice     float64 `json:"max_price" yaml:"max_price" validate:"gtfield=MinPrice"`
	MinChangePct float64 `json:"min_change_pct" yaml:"min_change_pct"`
	MinRelVolume float64 `json:"min_rel_volume" yaml:"min_rel_volume" validate:"gte=0"`
	MaxFloat     float64 `json:"max_float" yaml:"max_float" validate:"gt=0"`
}

// MatchPolicy decides whether float data takes part in the overall match flag
type MatchPolicy string

const (
	// PolicyFloatRequired requires basic criteria and a resolved float under the ceiling
	PolicyFloatRequired MatchPolicy = "float_required"
	// PolicyBasicOnly matches on price, change and relative volume alone
	PolicyBasicOnly MatchPolicy = "basic_only"
)

// IsValid reports whether the policy is known
func (p MatchPolicy) IsValid() bool {
	return p == PolicyFloatRequired || p == PolicyBasicOnly
}

// CriteriaResult is the outcome of evaluating one row
type CriteriaResult struct {
	Basic   bool `json:"basic"`
	FloatOK bool `json:"float_ok"`
	Overall bool `json:"overall"`
}

// ScanRow is the canonical output row of a screening run
type ScanRow struct {
	Symbol          string         `json:"symbol"`
	ObservedAt      time.Time      `json:"observed_at"`
	Price           float64        `json:"price"`
	PreviousClose   float64        `json:"previous_close"`
	ChangePct       float64        `json:"change_pct"`
	Volume          float64        `json:"volume"`
	AvgVolume       float64        `json:"avg_volume"`
	RelVolume       float64        `json:"rel_volume"`
	Float           string         `json:"float"`
	MatchesCriteria bool           `json:"matches_criteria"`
	Criteria        CriteriaResult `json:"criteria"`
	Enriched        bool           `json:"enriched"`
	Catalyst        string         `json:"catalyst"`
	CatalystURL     string         `json:"catalyst_url,omitempty"`
}

// ScanBatch is the complete result set of one screening run
type ScanBatch struct {
	ID          string             `json:"id"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	Policy      MatchPolicy        `json:"policy"`
	Thresholds  CriteriaThresholds `json:"thresholds"`
	Requested   int                `json:"requested"`
	Rows        []ScanRow          `json:"rows"`
	Candidates  []string           `json:"candidates"`
	Fallback    bool               `json:"fallback"`
	Warnings    []string           `json:"warnings,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Matches returns the rows that passed the criteria
func (b *ScanBatch) Matches() []ScanRow {
	matches := make([]ScanRow, 0)
	for _, row := range b.Rows {
		if row.MatchesCriteria {
			matches = append(matches, row)
		}
	}
	return matches
}

// Row returns the row for a symbol
func (b *ScanBatch) Row(symbol string) (ScanRow, bool) {
	for _, row := range b.Rows {
		if row.Symbol == symbol {
			return row, true
		}
	}
	return ScanRow{}, false
}

// IsEmpty reports whether the batch holds no rows
func (b *ScanBatch) IsEmpty() bool {
	return b == nil || len(b.Rows) == 0
}

// Clone returns a deep copy so consumers never share slices with the producer
func (b *ScanBatch) Clone() *ScanBatch {
	if b == nil {
		return nil
	}
	c := *b
	c.Rows = append([]ScanRow(nil), b.Rows...)
	c.Candidates = append([]string(nil), b.Candidates...)
	c.Warnings = append([]string(nil), b.Warnings...)
	return &c
}

// NewsItem is one story returned by a news source
type NewsItem struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Source      string    `json:"source,omitempty"`
}

// Catalyst is the resolved news context for a symbol
type Catalyst struct {
	Summary string `json:"summary"`
	URL     string `json:"url,omitempty"`
}
