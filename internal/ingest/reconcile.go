package ingest

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/relieftrack/activity-import/internal/model"
	"github.com/relieftrack/activity-import/internal/store"
)

// maxDuplicateMatches caps how many existing activities are reported
// per incoming row.
const maxDuplicateMatches = 3

// FreqEntry is one row of a frequency table, sorted most-common first.
type FreqEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// YearEntry counts rows planned in a given year.
type YearEntry struct {
	Year  int `json:"year"`
	Count int `json:"count"`
}

// StatusCheck annotates a status frequency entry with master-set
// membership.
type StatusCheck struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Valid bool   `json:"valid"`
}

// UpdateMatch records a row whose external activity ID matches an
// existing activity.
type UpdateMatch struct {
	Row          int    `json:"row"`
	ActivityID   string `json:"activity_id"`
	Name         string `json:"name"`
	ExistingName string `json:"existing_name"`
	ExistingKey  int64  `json:"existing_key"`
}

// DuplicateMatch records a row resembling an existing activity by
// name, year, and cluster overlap.
type DuplicateMatch struct {
	Row      int                      `json:"row"`
	Name     string                   `json:"name"`
	Existing model.DuplicateCandidate `json:"existing"`
}

// UnknownEntity is a free-text reference with no exact master match,
// along with fuzzy suggestions for the reviewer.
type UnknownEntity struct {
	Name        string   `json:"name"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Summary aggregates one staged file for human review. It is a pure
// function of the parsed rows and the master data visible at
// computation time; building it mutates nothing.
type Summary struct {
	TotalRows    int     `json:"total_rows"`
	BudgetSum    float64 `json:"budget_sum"`
	DisbursedSum float64 `json:"disbursed_sum"`

	Clusters     []FreqEntry   `json:"clusters"`
	Funders      []FreqEntry   `json:"funders"`
	Statuses     []FreqEntry   `json:"statuses"`
	StatusChecks []StatusCheck `json:"status_checks"`
	Years        []YearEntry   `json:"years"`

	InvalidDates int    `json:"invalid_dates"`
	FirstDate    string `json:"first_date,omitempty"`
	LastDate     string `json:"last_date,omitempty"`

	Duplicates  []DuplicateMatch `json:"duplicates"`
	Updates     []UpdateMatch    `json:"updates"`
	HasIDColumn bool             `json:"has_id_column"`

	UnknownStatuses      []string        `json:"unknown_statuses"`
	AvailableStatuses    []string        `json:"available_statuses"`
	DefaultStatusMissing bool            `json:"default_status_missing"`
	UnknownFunders       []UnknownEntity `json:"unknown_funders"`
	UnknownClusters      []UnknownEntity `json:"unknown_clusters"`
}

// HardBlocked reports whether committing this file is forbidden until
// master data is corrected: any unknown status, or a blank status with
// no default configured.
func (s *Summary) HardBlocked() bool {
	return len(s.UnknownStatuses) > 0 || s.DefaultStatusMissing
}

// Summarize builds the review Summary for a set of parsed rows.
// Duplicate/update detection consults the store; lookup failures there
// degrade to warnings so an unreachable query never breaks staging.
func Summarize(ctx context.Context, rows []Row, hasIDColumn bool, res *Resolver, st store.Store) *Summary {
	// Slices start empty, not nil, so the review payload always carries
	// arrays rather than JSON nulls.
	sum := &Summary{
		TotalRows:    len(rows),
		HasIDColumn:  hasIDColumn,
		StatusChecks: []StatusCheck{},
		Duplicates:   []DuplicateMatch{},
		Updates:      []UpdateMatch{},
	}

	clusterCounts := map[string]int{}
	funderCounts := map[string]int{}
	statusCounts := map[string]int{}
	yearCounts := map[int]int{}
	unknownStatuses := map[string]bool{}
	unknownFunders := map[string][]string{}
	unknownClusters := map[string][]string{}

	var firstDate, lastDate time.Time

	for i := range rows {
		row := &rows[i]

		if !IsBlank(row.BudgetRaw) && row.BudgetOK {
			sum.BudgetSum += row.Budget
		}
		if !IsBlank(row.DisbursedRaw) {
			sum.DisbursedSum += row.Disbursed
		}

		for _, part := range row.Clusters {
			clusterCounts[part]++
			if res.Cluster(part) == nil {
				if _, seen := unknownClusters[part]; !seen {
					unknownClusters[part] = res.SuggestClusters(part)
				}
			}
		}
		for _, part := range row.Funders {
			funderCounts[part]++
			if res.Funder(part) == nil {
				if _, seen := unknownFunders[part]; !seen {
					unknownFunders[part] = res.SuggestFunders(part)
				}
			}
		}

		if row.Status == "" {
			if def := res.DefaultStatus(); def != nil {
				statusCounts[def.Name]++
			} else {
				sum.DefaultStatusMissing = true
				statusCounts["(blank)"]++
			}
		} else {
			statusCounts[row.Status]++
			if _, ok := res.Status(row.Status); !ok {
				unknownStatuses[row.Status] = true
			}
		}

		if row.PlannedOK {
			yearCounts[row.Planned.Year()]++
			if firstDate.IsZero() || row.Planned.Before(firstDate) {
				firstDate = row.Planned
			}
			if lastDate.IsZero() || row.Planned.After(lastDate) {
				lastDate = row.Planned
			}
		} else {
			sum.InvalidDates++
		}

		rowIsUpdate := false
		if row.ActivityID != "" {
			existing, err := st.GetActivityByExternalID(ctx, row.ActivityID)
			if err != nil {
				zap.L().Warn("update lookup failed during staging",
					zap.Int("row", row.Num), zap.Error(err))
			} else if existing != nil {
				rowIsUpdate = true
				sum.Updates = append(sum.Updates, UpdateMatch{
					Row:          row.Num,
					ActivityID:   row.ActivityID,
					Name:         row.Name,
					ExistingName: existing.Name,
					ExistingKey:  existing.ID,
				})
			}
		}

		// Duplicate detection runs even for rows carrying an ID, but a
		// row already reported as an update is not also reported as a
		// duplicate.
		if row.Name != "" && row.PlannedOK && !rowIsUpdate {
			matches, err := st.FindDuplicates(ctx, row.Name, row.Planned.Year(), row.Clusters, maxDuplicateMatches)
			if err != nil {
				zap.L().Warn("duplicate lookup failed during staging",
					zap.Int("row", row.Num), zap.Error(err))
			} else {
				for _, m := range matches {
					sum.Duplicates = append(sum.Duplicates, DuplicateMatch{
						Row:      row.Num,
						Name:     row.Name,
						Existing: m,
					})
				}
			}
		}
	}

	sum.Clusters = mostCommon(clusterCounts)
	sum.Funders = mostCommon(funderCounts)
	sum.Statuses = mostCommon(statusCounts)
	for _, e := range sum.Statuses {
		_, valid := res.Status(e.Name)
		sum.StatusChecks = append(sum.StatusChecks, StatusCheck{Name: e.Name, Count: e.Count, Valid: valid})
	}

	sum.Years = make([]YearEntry, 0, len(yearCounts))
	for y, n := range yearCounts {
		sum.Years = append(sum.Years, YearEntry{Year: y, Count: n})
	}
	sort.Slice(sum.Years, func(i, j int) bool {
		if sum.Years[i].Count != sum.Years[j].Count {
			return sum.Years[i].Count > sum.Years[j].Count
		}
		return sum.Years[i].Year < sum.Years[j].Year
	})

	if !firstDate.IsZero() {
		sum.FirstDate = firstDate.Format("2006-01-02")
		sum.LastDate = lastDate.Format("2006-01-02")
	}

	sum.UnknownStatuses = sortedKeys(unknownStatuses)
	sum.AvailableStatuses = res.availableStatuses()
	sum.UnknownFunders = unknownEntities(unknownFunders)
	sum.UnknownClusters = unknownEntities(unknownClusters)

	return sum
}

func mostCommon(counts map[string]int) []FreqEntry {
	out := make([]FreqEntry, 0, len(counts))
	for name, n := range counts {
		out = append(out, FreqEntry{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func unknownEntities(m map[string][]string) []UnknownEntity {
	out := make([]UnknownEntity, 0, len(m))
	for name, suggestions := range m {
		out = append(out, UnknownEntity{Name: name, Suggestions: suggestions})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
