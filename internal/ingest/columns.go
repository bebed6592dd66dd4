// Package ingest implements the bulk activity import pipeline: parsing
// uploaded CSV/XLSX exports, reconciling rows against the store, staging
// them for review, and committing reviewed decisions.
package ingest

import "strings"

// Canonical header names produced by NormalizeHeaders.
const (
	ColActivityName = "Activity Name"
	ColCluster      = "Cluster"
	ColFunder       = "Funder"
	ColPlannedMonth = "Planned Implementation Month"
	ColBudget       = "Budget Amount"
	ColDisbursed    = "Disbursed Amount"
	ColStatus       = "Implementation Status"
	ColNotes        = "Key Notes"
	ColActivityID   = "Activity ID"
	ColCurrency     = "Currency"
	ColRetired      = "Retired"
	ColTechReport   = "Technical Report Available"
)

// headerRule maps keyword(s) found in a raw header to a canonical name.
// Rules are checked in order; the first match wins.
type headerRule struct {
	keywords  []string // all must be present
	canonical string
}

var headerRules = []headerRule{
	{[]string{"cluster"}, ColCluster},
	{[]string{"funder"}, ColFunder},
	{[]string{"activity name"}, ColActivityName},
	{[]string{"budget"}, ColBudget},
	{[]string{"disburs"}, ColDisbursed},
	{[]string{"planned", "month"}, ColPlannedMonth},
	{[]string{"implement", "status"}, ColStatus},
	{[]string{"key note"}, ColNotes},
	{[]string{"notes"}, ColNotes},
	{[]string{"activity id"}, ColActivityID},
	{[]string{"activity_id"}, ColActivityID},
	{[]string{"currency"}, ColCurrency},
	{[]string{"retired"}, ColRetired},
	{[]string{"technical", "report"}, ColTechReport},
}

// NormalizeHeaders rewrites arbitrary header strings to the canonical
// set. Headers matching no rule pass through unchanged; downstream code
// ignores them. Real-world exports routinely carry unrelated columns,
// so no error is raised.
func NormalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = normalizeHeader(h)
	}
	return out
}

func normalizeHeader(h string) string {
	key := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(h, "/", " "), "\n", " "))
	lk := strings.ToLower(key)
	if lk == "activity" {
		return ColActivityName
	}
	for _, rule := range headerRules {
		matched := true
		for _, kw := range rule.keywords {
			if !strings.Contains(lk, kw) {
				matched = false
				break
			}
		}
		if matched {
			return rule.canonical
		}
	}
	return h
}

// columnIndex maps canonical header names to their column positions.
type columnIndex map[string]int

func indexColumns(headers []string) columnIndex {
	idx := make(columnIndex, len(headers))
	for i, h := range headers {
		if _, seen := idx[h]; !seen {
			idx[h] = i
		}
	}
	return idx
}

// cell returns the raw value for a canonical column, or "" when the
// column is absent or the row is short.
func (ci columnIndex) cell(row []string, canonical string) string {
	i, ok := ci[canonical]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func (ci columnIndex) has(canonical string) bool {
	_, ok := ci[canonical]
	return ok
}
