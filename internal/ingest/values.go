package ingest

import (
	"strconv"
	"strings"
	"time"
)

// IsBlank reports whether a raw cell should be treated as empty.
// Spreadsheet libraries and text exports inject NaN/None markers
// inconsistently, so those literals count as blank too.
func IsBlank(val string) bool {
	s := strings.TrimSpace(val)
	if s == "" {
		return true
	}
	switch strings.ToLower(s) {
	case "nan", "none", "#n/a", "nat":
		return true
	}
	return false
}

// NormalizeText collapses internal whitespace (including non-breaking
// spaces) and trims.
func NormalizeText(val string) string {
	s := strings.ReplaceAll(val, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeKey lowercases normalized text for case-insensitive lookups.
func NormalizeKey(val string) string {
	return strings.ToLower(NormalizeText(val))
}

// SplitMulti splits a multi-valued cell on ',', '&', or ';', trims each
// part, and drops blanks. Cluster and funder cells routinely list
// several entities.
func SplitMulti(val string) []string {
	if IsBlank(val) {
		return nil
	}
	parts := strings.FieldsFunc(val, func(r rune) bool {
		return r == ',' || r == '&' || r == ';'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = NormalizeText(p)
		if p != "" && !IsBlank(p) {
			out = append(out, p)
		}
	}
	return out
}

// ParseAmount parses a monetary cell, stripping thousands separators and
// internal spaces. Blank and "-" parse to 0. The ok result is false only
// for non-blank garbage.
func ParseAmount(val string) (float64, bool) {
	if IsBlank(val) {
		return 0, true
	}
	s := strings.ReplaceAll(strings.TrimSpace(val), ",", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	if s == "" || s == "-" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// monthYearLayouts cover explicit month-year cells like "Aug-26",
// "August-2026".
var monthYearLayouts = []string{
	"Jan-06",
	"Jan-2006",
	"January-06",
	"January-2006",
	"Jan 06",
	"Jan 2006",
	"January 2006",
}

// dateLayouts cover general date strings seen in real exports.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"01/02/2006",
	"2-Jan-06",
	"2-Jan-2006",
	"02 Jan 2006",
	"2006-01",
	time.RFC3339,
}

// ParseMonth parses a planned-month cell and normalizes the result to
// the last calendar day of that month, the canonical representation
// used throughout the system.
func ParseMonth(val string) (time.Time, bool) {
	s := strings.TrimSpace(val)
	if s == "" || IsBlank(s) {
		return time.Time{}, false
	}

	for _, layout := range monthYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return lastDayOfMonth(t.Year(), t.Month()), true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return lastDayOfMonth(t.Year(), t.Month()), true
		}
	}
	return time.Time{}, false
}

// lastDayOfMonth returns midnight UTC on the final day of the given
// month; day 0 of the following month is exactly that.
func lastDayOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
}
