package ingest

import "time"

// Row is one parsed record from an upload. Row numbers are
// spreadsheet-style: the header is row 1, the first data row is row 2.
type Row struct {
	Num int

	Name       string
	Clusters   []string
	Funders    []string
	Status     string
	Notes      string
	ActivityID string
	Currency   string

	PlannedRaw string
	Planned    time.Time
	PlannedOK  bool

	BudgetRaw    string
	Budget       float64
	BudgetOK     bool
	Disbursed    float64
	DisbursedRaw string

	// Blank marks a row where every recognized field is empty; such
	// rows are skipped silently at commit.
	Blank bool
}

// Year returns the planned year, or 0 when the month did not parse.
func (r *Row) Year() int {
	if !r.PlannedOK {
		return 0
	}
	return r.Planned.Year()
}

// ParseRows converts a Table into canonical rows. All per-cell coercion
// happens here; validation against master data happens later in the
// resolver and the commit executor.
func ParseRows(t *Table) []Row {
	idx := indexColumns(t.Headers)

	rows := make([]Row, 0, len(t.Rows))
	for i, raw := range t.Rows {
		r := Row{Num: i + 2}

		name := idx.cell(raw, ColActivityName)
		if !IsBlank(name) {
			r.Name = NormalizeText(name)
		}

		cluster := idx.cell(raw, ColCluster)
		funder := idx.cell(raw, ColFunder)
		r.Clusters = SplitMulti(cluster)
		r.Funders = SplitMulti(funder)

		status := idx.cell(raw, ColStatus)
		if !IsBlank(status) {
			r.Status = NormalizeText(status)
		}

		notes := idx.cell(raw, ColNotes)
		if !IsBlank(notes) {
			r.Notes = NormalizeText(notes)
		}

		id := idx.cell(raw, ColActivityID)
		if !IsBlank(id) {
			r.ActivityID = NormalizeText(id)
		}

		currency := idx.cell(raw, ColCurrency)
		if !IsBlank(currency) {
			r.Currency = NormalizeText(currency)
		}

		r.PlannedRaw = idx.cell(raw, ColPlannedMonth)
		r.Planned, r.PlannedOK = ParseMonth(r.PlannedRaw)

		r.BudgetRaw = idx.cell(raw, ColBudget)
		r.Budget, r.BudgetOK = ParseAmount(r.BudgetRaw)

		r.DisbursedRaw = idx.cell(raw, ColDisbursed)
		// Unparseable disbursed amounts degrade to 0; planning data is
		// often incomplete and disbursement is not a required field.
		r.Disbursed, _ = ParseAmount(r.DisbursedRaw)

		r.Blank = IsBlank(name) && IsBlank(r.PlannedRaw) && IsBlank(status) &&
			IsBlank(r.BudgetRaw) && IsBlank(cluster) && IsBlank(funder)

		rows = append(rows, r)
	}
	return rows
}

// HasIDColumn reports whether the upload carried an Activity ID column.
func HasIDColumn(t *Table) bool {
	return indexColumns(t.Headers).has(ColActivityID)
}
