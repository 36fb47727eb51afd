package indicator

import "math"

// PercentChange returns the change from previous to current in percent.
// A zero previous value or any non-finite result yields 0 and false.
func PercentChange(current, previous float64) (float64, bool) {
	if previous == 0 {
		return 0, false
	}
	pct := (current - previous) / previous * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0, false
	}
	return pct, true
}
