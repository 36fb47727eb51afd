// Package screener runs the momentum screening pipeline: acquire tickers, fetch
// daily bars, evaluate the criteria, enrich the target set and assemble a batch.
package screener

import (
	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/pkg/magnitude"
)

// Evaluate applies the thresholds to a row. It is pure and never fails:
// an unresolved or malformed float only fails the float criterion.
func Evaluate(row models.ScanRow, t models.CriteriaThresholds, policy models.MatchPolicy) models.CriteriaResult {
	basic := row.Price >= t.MinPrice &&
		row.Price <= t.MaxPrice &&
		row.ChangePct >= t.MinChangePct &&
		row.RelVolume >= t.MinRelVolume

	floatOK := false
	if row.Float != "" && row.Float != models.FloatUnresolved {
		if shares, err := magnitude.Parse(row.Float); err == nil {
			floatOK = shares <= t.MaxFloat
		}
	}

	overall := basic && floatOK
	if policy == models.PolicyBasicOnly {
		overall = basic
	}
	return models.CriteriaResult{Basic: basic, FloatOK: floatOK, Overall: overall}
}

// Apply evaluates row and returns a copy carrying the result
func Apply(row models.ScanRow, t models.CriteriaThresholds, policy models.MatchPolicy) models.ScanRow {
	row.Criteria = Evaluate(row, t, policy)
	row.MatchesCriteria = row.Criteria.Overall
	return row
}

// basicMatches returns the symbols whose rows pass the basic criteria, in row order
func basicMatches(rows []models.ScanRow) []string {
	out := make([]string, 0)
	for _, row := range rows {
		if row.Criteria.Basic {
			out = append(out, row.Symbol)
		}
	}
	return out
}
