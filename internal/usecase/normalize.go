package usecase

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Package-level compiled regex patterns for performance
var (
	nonPriceCharsRegex  = regexp.MustCompile(`[^0-9.\-]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
)

// normalizeLabel case-folds and trims a free-text label.
func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeKey normalizes a lookup key (identifier or display name):
// lowercase, trimmed, inner whitespace collapsed.
func normalizeKey(s string) string {
	if s == "" {
		return ""
	}
	return multipleSpacesRegex.ReplaceAllString(normalizeLabel(s), " ")
}

// canonicalTitle is the title as sent to and compared against the remote catalog.
func canonicalTitle(s string) string {
	return multipleSpacesRegex.ReplaceAllString(strings.TrimSpace(s), " ")
}

// parsePrice parses a price field tolerantly: every character other than
// digits, '.' and '-' is stripped ("$1,500.00" -> 1500.00).
func parsePrice(raw string) (decimal.Decimal, bool) {
	cleaned := nonPriceCharsRegex.ReplaceAllString(raw, "")
	if cleaned == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// parseInventory parses an inventory count, defaulting to 0.
// Fractional values ("12.0" from spreadsheets) are truncated.
func parseInventory(raw string) int {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return int(d.IntPart())
	}
	return 0
}

// normalizeStatus maps any status other than "active" to "draft".
func normalizeStatus(s string) string {
	if normalizeLabel(s) == "active" {
		return "active"
	}
	return "draft"
}
