// Package magnitude converts share counts to and from human-readable
// K/M/B strings such as "15.50M".
package magnitude

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Unresolved is the display value for a missing or unusable count
const Unresolved = "N/A"

// ErrParse is returned for text that is not a number with an optional K/M/B suffix
var ErrParse = errors.New("invalid magnitude string")

const (
	thousand = 1_000
	million  = 1_000_000
	billion  = 1_000_000_000
)

var suffixes = map[byte]decimal.Decimal{
	'K': decimal.New(1, 3),
	'M': decimal.New(1, 6),
	'B': decimal.New(1, 9),
}

// Format renders count with two decimals and a K/M/B suffix.
// Non-finite input formats to Unresolved.
func Format(count float64) string {
	if math.IsNaN(count) || math.IsInf(count, 0) {
		return Unresolved
	}

	switch {
	case count >= billion:
		return humanize.FormatFloat("#,###.##", count/billion) + "B"
	case count >= million:
		return humanize.FormatFloat("#,###.##", count/million) + "M"
	case count >= thousand:
		return humanize.FormatFloat("#,###.##", count/thousand) + "K"
	default:
		return humanize.FormatFloat("#,###.##", count)
	}
}

// FormatPtr formats an optional count; nil formats to Unresolved.
func FormatPtr(count *float64) string {
	if count == nil {
		return Unresolved
	}
	return Format(*count)
}

// Parse converts "15.5M", "1,200K", " 3b " or "987654" back into a number.
func Parse(text string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, text)

	if cleaned == "" || cleaned == Unresolved {
		return 0, fmt.Errorf("%w: %q", ErrParse, text)
	}

	multiplier := decimal.New(1, 0)
	if m, ok := suffixes[cleaned[len(cleaned)-1]]; ok {
		multiplier = m
		cleaned = cleaned[:len(cleaned)-1]
	}

	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrParse, text)
	}

	result, _ := value.Mul(multiplier).Float64()
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: %q", ErrParse, text)
	}
	return result, nil
}

// IsResolved reports whether text holds a parseable magnitude
func IsResolved(text string) bool {
	_, err := Parse(text)
	return err == nil
}
