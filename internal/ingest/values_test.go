package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsBlank(t *testing.T) {
	blanks := []string{"", "   ", "\t", "nan", "NaN", "None", "NONE", "#N/A", "#n/a", "NaT"}
	for _, v := range blanks {
		assert.True(t, IsBlank(v), "expected %q to be blank", v)
	}
	notBlanks := []string{"0", "Water", "-", "n/a project", "nanotech"}
	for _, v := range notBlanks {
		assert.False(t, IsBlank(v), "expected %q to be non-blank", v)
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "Water Supply", NormalizeText("  Water   Supply  "))
	assert.Equal(t, "Water Supply", NormalizeText("Water  Supply"))
	assert.Equal(t, "a b c", NormalizeText("a\tb\nc"))
}

func TestSplitMulti(t *testing.T) {
	assert.Equal(t, []string{"UNICEF", "WFP"}, SplitMulti("UNICEF, WFP"))
	assert.Equal(t, []string{"UNICEF", "WFP"}, SplitMulti("UNICEF & WFP"))
	assert.Equal(t, []string{"UNICEF", "WFP", "FAO"}, SplitMulti("UNICEF; WFP, FAO"))
	assert.Nil(t, SplitMulti("nan"))
	assert.Nil(t, SplitMulti(""))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1,200,000.50", 1200000.50, true},
		{"1 200 000", 1200000, true},
		{"1 200", 1200, true},
		{"0", 0, true},
		{"", 0, true},
		{"-", 0, true},
		{"nan", 0, true},
		{"abc", 0, false},
		{"12abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		assert.Equal(t, tt.ok, ok, "ok for %q", tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, "value for %q", tt.in)
	}
}

func TestParseMonth_LastDayOfMonth(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"Aug-26", time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)},
		{"Feb-24", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"February-2025", time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"Jan 2026", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)},
		{"2026-04", time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, ok := ParseMonth(tt.in)
		assert.True(t, ok, "expected %q to parse", tt.in)
		assert.Equal(t, tt.want, got, "for %q", tt.in)
	}
}

func TestParseMonth_FullDates(t *testing.T) {
	// Full dates are accepted too and still snap to month end.
	got, ok := ParseMonth("2026-08-15")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), got)

	got, ok = ParseMonth("15/08/2026")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), got)
}

func TestParseMonth_Invalid(t *testing.T) {
	for _, v := range []string{"", "nan", "soon", "13-2026", "Augtober-26"} {
		_, ok := ParseMonth(v)
		assert.False(t, ok, "expected %q to fail", v)
	}
}
