package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/relieftrack/activity-import/internal/model"
	"github.com/relieftrack/activity-import/internal/store"
)

// Decision is a reviewer's choice for one row.
type Decision string

const (
	DecisionCreate Decision = "create"
	DecisionSkip   Decision = "skip"
)

// Decisions carries the reviewer's per-row choices plus the sets of
// unknown funder/cluster names whose creation was explicitly confirmed.
// Rows without an explicit decision default to create.
type Decisions struct {
	Rows           map[int]Decision `json:"rows,omitempty"`
	CreateFunders  []string         `json:"create_funders,omitempty"`
	CreateClusters []string         `json:"create_clusters,omitempty"`
}

// For returns the decision for a row, defaulting to create.
func (d *Decisions) For(row int) Decision {
	if d == nil || d.Rows == nil {
		return DecisionCreate
	}
	if dec, ok := d.Rows[row]; ok && dec == DecisionSkip {
		return DecisionSkip
	}
	return DecisionCreate
}

func (d *Decisions) funderConfirmed(name string) bool {
	return d != nil && containsFold(d.CreateFunders, name)
}

func (d *Decisions) clusterConfirmed(name string) bool {
	return d != nil && containsFold(d.CreateClusters, name)
}

func containsFold(list []string, name string) bool {
	for _, n := range list {
		if strings.EqualFold(NormalizeText(n), name) {
			return true
		}
	}
	return false
}

// CommitResult reports the outcome of a commit. A non-empty error list
// does not mean failure; partial success is the expected common case
// for imperfect source data.
type CommitResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// ErrorPreview renders the first n errors plus a count of the rest.
func (r *CommitResult) ErrorPreview(n int) string {
	if len(r.Errors) == 0 {
		return ""
	}
	if n <= 0 || n > len(r.Errors) {
		n = len(r.Errors)
	}
	preview := strings.Join(r.Errors[:n], "; ")
	if rest := len(r.Errors) - n; rest > 0 {
		preview += fmt.Sprintf("; ... and %d more", rest)
	}
	return preview
}

// funderCodeRetries bounds regeneration attempts when concurrent
// commits race on the same synthesized funder code.
const funderCodeRetries = 3

// executor replays staged rows with decisions applied and performs the
// idempotent upserts. One executor serves one commit call.
type executor struct {
	st     store.Store
	res    *Resolver
	dec    *Decisions
	actor  string
	result CommitResult
	// sequences tracks the next per-year sequence handed out during
	// this commit, so multiple created rows in one file don't collide.
	sequences map[int]int
}

func newExecutor(st store.Store, res *Resolver, dec *Decisions, actor string) *executor {
	return &executor{
		st:        st,
		res:       res,
		dec:       dec,
		actor:     actor,
		sequences: make(map[int]int),
	}
}

// run processes every row in file order. Row errors are collected, the
// batch never aborts part-way; hard-blocking conditions were already
// rechecked by the caller before any mutation.
func (e *executor) run(ctx context.Context, rows []Row) *CommitResult {
	for i := range rows {
		e.processRow(ctx, &rows[i])
	}
	return &e.result
}

func (e *executor) processRow(ctx context.Context, row *Row) {
	if row.Blank {
		e.result.Skipped++
		return
	}
	if e.dec.For(row.Num) == DecisionSkip {
		e.result.Skipped++
		return
	}

	if row.Name == "" {
		e.rowError(row, "missing Activity Name")
		return
	}

	status, ok := e.resolveStatus(row)
	if !ok {
		return
	}

	if !row.PlannedOK {
		if IsBlank(row.PlannedRaw) {
			e.rowError(row, "Planned Implementation Month is required")
		} else {
			e.rowError(row, fmt.Sprintf("invalid date format for %q", row.PlannedRaw))
		}
		return
	}

	if !row.BudgetOK {
		e.rowError(row, fmt.Sprintf("invalid budget amount %q", row.BudgetRaw))
		return
	}

	clusterIDs, ok := e.resolveClusters(ctx, row)
	if !ok {
		return
	}
	funderIDs, ok := e.resolveFunders(ctx, row)
	if !ok {
		return
	}

	var currencyID *int64
	if cur := e.res.Currency(row.Currency); cur != nil {
		currencyID = &cur.ID
	}

	e.upsert(ctx, row, status, currencyID, funderIDs, clusterIDs)
}

// resolveStatus applies the blank-status default. Both failure paths
// here are backstops; the caller's hard-block recheck normally catches
// them before any row is processed.
func (e *executor) resolveStatus(row *Row) (*model.Status, bool) {
	if row.Status == "" {
		def := e.res.DefaultStatus()
		if def == nil {
			e.rowError(row, "missing Implementation Status and no default status is configured")
			return nil, false
		}
		return def, true
	}
	status, ok := e.res.Status(row.Status)
	if !ok {
		e.rowError(row, fmt.Sprintf("invalid Status %q", row.Status))
		return nil, false
	}
	return status, true
}

// resolveClusters maps each cluster token to a master entity: exact
// match, then fuzzy, then confirmed creation. Any token resolving no
// other way drops the whole row.
func (e *executor) resolveClusters(ctx context.Context, row *Row) ([]int64, bool) {
	var ids []int64
	for _, part := range row.Clusters {
		if c := e.res.Cluster(part); c != nil {
			ids = append(ids, c.ID)
			continue
		}
		if c := e.res.FuzzyCluster(part); c != nil {
			ids = append(ids, c.ID)
			continue
		}
		if e.dec.clusterConfirmed(part) {
			c, err := e.st.CreateCluster(ctx, model.Cluster{
				ShortName: SynthClusterShortName(part),
				FullName:  part,
			})
			if err != nil {
				e.rowError(row, fmt.Sprintf("failed to create Cluster %q: %v", part, err))
				return nil, false
			}
			e.res.AddCluster(*c)
			ids = append(ids, c.ID)
			continue
		}
		e.rowError(row, fmt.Sprintf("unknown Cluster %q - please confirm creation in the staging view", part))
		return nil, false
	}
	return ids, true
}

func (e *executor) resolveFunders(ctx context.Context, row *Row) ([]int64, bool) {
	var ids []int64
	for _, part := range row.Funders {
		if f := e.res.Funder(part); f != nil {
			ids = append(ids, f.ID)
			continue
		}
		if f := e.res.FuzzyFunder(part); f != nil {
			ids = append(ids, f.ID)
			continue
		}
		if e.dec.funderConfirmed(part) {
			f, err := e.createFunder(ctx, part)
			if err != nil {
				e.rowError(row, fmt.Sprintf("failed to create Funder %q: %v", part, err))
				return nil, false
			}
			ids = append(ids, f.ID)
			continue
		}
		e.rowError(row, fmt.Sprintf("unknown Funder %q - please confirm creation in the staging view", part))
		return nil, false
	}
	return ids, true
}

// createFunder synthesizes a code and inserts the funder, regenerating
// the code when a concurrent commit claimed it first. The store's
// uniqueness constraint is the backstop for that race.
func (e *executor) createFunder(ctx context.Context, name string) (*model.Funder, error) {
	taken := map[string]bool{}
	var lastErr error
	for attempt := 0; attempt <= funderCodeRetries; attempt++ {
		code := SynthFunderCode(name, func(c string) bool {
			return taken[c] || e.res.FunderCodeTaken(c)
		})
		f, err := e.st.CreateFunder(ctx, model.Funder{Code: code, Name: name, Active: true})
		if err == nil {
			e.res.AddFunder(*f)
			return f, nil
		}
		if !store.IsConflict(err) {
			return nil, err
		}
		taken[code] = true
		lastErr = err
	}
	return nil, lastErr
}

func (e *executor) upsert(ctx context.Context, row *Row, status *model.Status, currencyID *int64, funderIDs, clusterIDs []int64) {
	var existing *model.Activity
	if row.ActivityID != "" {
		found, err := e.st.GetActivityByExternalID(ctx, row.ActivityID)
		if err != nil {
			e.rowError(row, fmt.Sprintf("failed to look up Activity %q: %v", row.ActivityID, err))
			return
		}
		existing = found
	}

	if existing != nil {
		existing.Name = row.Name
		existing.Year = row.Planned.Year()
		existing.PlannedMonth = row.Planned
		existing.Budget = row.Budget
		existing.Disbursed = row.Disbursed
		existing.StatusID = status.ID
		existing.Notes = row.Notes
		if currencyID != nil {
			existing.CurrencyID = currencyID
		}
		if err := e.st.UpdateActivity(ctx, existing); err != nil {
			e.rowError(row, fmt.Sprintf("failed to update activity: %v", err))
			return
		}
		if err := e.st.ReplaceActivityRefs(ctx, existing.ID, funderIDs, clusterIDs); err != nil {
			e.rowError(row, fmt.Sprintf("failed to update activity references: %v", err))
			return
		}
		e.audit(ctx, "Activity updated via upload", existing)
		e.result.Updated++
		return
	}

	activityID := row.ActivityID
	if activityID == "" {
		id, err := e.nextActivityID(ctx, row.Planned.Year())
		if err != nil {
			e.rowError(row, fmt.Sprintf("failed to allocate activity ID: %v", err))
			return
		}
		activityID = id
	}

	a := &model.Activity{
		ActivityID:   activityID,
		Name:         row.Name,
		Year:         row.Planned.Year(),
		PlannedMonth: row.Planned,
		Budget:       row.Budget,
		Disbursed:    row.Disbursed,
		CurrencyID:   currencyID,
		StatusID:     status.ID,
		Notes:        row.Notes,
	}
	if err := e.st.CreateActivity(ctx, a); err != nil {
		e.rowError(row, fmt.Sprintf("failed to create activity: %v", err))
		return
	}
	if err := e.st.ReplaceActivityRefs(ctx, a.ID, funderIDs, clusterIDs); err != nil {
		e.rowError(row, fmt.Sprintf("failed to set activity references: %v", err))
		return
	}
	e.audit(ctx, "Activity created via upload", a)
	e.result.Created++
}

// nextActivityID allocates "Y{yy}-{seq}" identifiers, advancing the
// per-year sequence locally so several creations in one file stay
// distinct.
func (e *executor) nextActivityID(ctx context.Context, year int) (string, error) {
	seq, ok := e.sequences[year]
	if !ok {
		next, err := e.st.NextSequence(ctx, year)
		if err != nil {
			return "", err
		}
		seq = next
	}
	e.sequences[year] = seq + 1
	return fmt.Sprintf("Y%02d-%06d", year%100, seq), nil
}

func (e *executor) audit(ctx context.Context, action string, a *model.Activity) {
	err := e.st.RecordAudit(ctx, model.AuditEntry{
		Actor:      e.actor,
		Action:     action,
		Subject:    fmt.Sprintf("%s %s", a.ActivityID, a.Name),
		ActivityID: &a.ID,
	})
	if err != nil {
		zap.L().Warn("failed to record audit entry",
			zap.String("activity_id", a.ActivityID), zap.Error(err))
	}
}

func (e *executor) rowError(row *Row, reason string) {
	name := row.Name
	if name == "" {
		name = "No Name"
	}
	msg := fmt.Sprintf("Row %d (%s): %s", row.Num, name, reason)
	e.result.Errors = append(e.result.Errors, msg)
	zap.L().Warn("upload row dropped",
		zap.Int("row", row.Num), zap.String("reason", reason))
}
