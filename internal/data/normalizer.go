package data

import (
	"math"
	"time"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/pkg/indicator"
)

// SkipReason explains why a symbol produced no row
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipEmptySeries   SkipReason = "empty_series"
	SkipMissingField  SkipReason = "missing_field"
	SkipZeroPrevClose SkipReason = "zero_previous_close"
	SkipNonFinite     SkipReason = "non_finite"
)

// Normalize computes the canonical scan row for one symbol from its daily history.
// It returns false when the symbol must be excluded from the batch.
func Normalize(symbol string, series models.PriceSeries, observedAt time.Time) (*models.ScanRow, bool) {
	row, reason := normalize(symbol, series, observedAt)
	return row, reason == SkipNone
}

// NormalizeWithReason is Normalize that also reports the skip reason
func NormalizeWithReason(symbol string, series models.PriceSeries, observedAt time.Time) (*models.ScanRow, SkipReason) {
	return normalize(symbol, series, observedAt)
}

func normalize(symbol string, series models.PriceSeries, observedAt time.Time) (*models.ScanRow, SkipReason) {
	latest, ok := series.Latest()
	if !ok {
		return nil, SkipEmptySeries
	}
	if !positive(latest.Close) || latest.NoVolume || latest.Volume < 0 {
		return nil, SkipMissingField
	}

	var prevClose float64
	if len(series) == 1 {
		// Single bar: the open stands in for the previous close
		prevClose = latest.Open
	} else {
		prevClose = series[len(series)-2].Close
	}
	if prevClose == 0 {
		return nil, SkipZeroPrevClose
	}

	volumes := make([]float64, 0, len(series))
	for _, bar := range series {
		if bar.NoVolume {
			continue
		}
		volumes = append(volumes, bar.Volume)
	}
	avgVolume := indicator.AverageVolume(volumes)
	changePct, ok := indicator.PercentChange(latest.Close, prevClose)
	if !ok {
		return nil, SkipNonFinite
	}

	row := &models.ScanRow{
		Symbol:        symbol,
		ObservedAt:    observedAt,
		Price:         latest.Close,
		PreviousClose: prevClose,
		ChangePct:     changePct,
		Volume:        latest.Volume,
		AvgVolume:     avgVolume,
		RelVolume:     indicator.RelativeVolume(latest.Volume, avgVolume),
		Float:         models.FloatUnresolved,
	}

	for _, v := range []float64{row.Price, row.PreviousClose, row.ChangePct, row.Volume, row.AvgVolume, row.RelVolume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, SkipNonFinite
		}
	}
	return row, SkipNone
}

// NormalizeBatch normalizes every series in response order and returns the rows
// plus a count of skipped symbols per reason.
func NormalizeBatch(symbols []string, bars map[string]models.PriceSeries, observedAt time.Time) ([]models.ScanRow, map[SkipReason]int) {
	rows := make([]models.ScanRow, 0, len(symbols))
	skipped := make(map[SkipReason]int)
	seen := make(map[string]bool, len(symbols))

	for _, symbol := range symbols {
		if seen[symbol] {
			continue
		}
		seen[symbol] = true

		series, ok := bars[symbol]
		if !ok {
			skipped[SkipEmptySeries]++
			continue
		}
		row, reason := normalize(symbol, series, observedAt)
		if reason != SkipNone {
			skipped[reason]++
			continue
		}
		rows = append(rows, *row)
	}
	return rows, skipped
}

func positive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
