package screener

import (
	"sort"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

// Fallback sort keys for the top-N target set
const (
	SortByPrice  = "price"
	SortByChange = "change"
	SortByRelVol = "relvol"
)

// SelectTargets picks the symbols to enrich. Rows passing the basic criteria are
// used when there are any; otherwise the top size rows by sortBy. The result is
// capped at max. fallback reports whether the top-N set was used.
func SelectTargets(rows []models.ScanRow, size int, sortBy string, max int) (targets []string, fallback bool) {
	targets = basicMatches(rows)
	if len(targets) == 0 && size > 0 {
		targets = TopN(rows, size, sortBy)
		fallback = len(targets) > 0
	}
	if max > 0 && len(targets) > max {
		targets = targets[:max]
	}
	return targets, fallback
}

// TopN returns the symbols of the n highest rows by price or change percent.
// Ties keep row order.
func TopN(rows []models.ScanRow, n int, sortBy string) []string {
	sorted := append([]models.ScanRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sortBy == SortByChange {
			return sorted[i].ChangePct > sorted[j].ChangePct
		}
		return sorted[i].Price > sorted[j].Price
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	out := make([]string, len(sorted))
	for i, row := range sorted {
		out[i] = row.Symbol
	}
	return out
}

// SortRows orders rows in place for display: "change", "price" or "relvol",
// descending. Unknown keys leave the order unchanged.
func SortRows(rows []models.ScanRow, by string) {
	var less func(a, b models.ScanRow) bool
	switch by {
	case SortByChange:
		less = func(a, b models.ScanRow) bool { return a.ChangePct > b.ChangePct }
	case SortByPrice:
		less = func(a, b models.ScanRow) bool { return a.Price > b.Price }
	case SortByRelVol:
		less = func(a, b models.ScanRow) bool { return a.RelVolume > b.RelVolume }
	default:
		return
	}
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
}
