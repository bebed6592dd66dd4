package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/relieftrack/activity-import/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS statuses (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	is_default INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS currencies (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	code       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	symbol     TEXT NOT NULL DEFAULT '',
	is_default INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS funders (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	code   TEXT NOT NULL UNIQUE,
	name   TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS clusters (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	short_name TEXT NOT NULL UNIQUE,
	full_name  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS activities (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	activity_id   TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	year          INTEGER NOT NULL,
	sequence      INTEGER NOT NULL DEFAULT 0,
	planned_month DATETIME NOT NULL,
	budget        REAL NOT NULL DEFAULT 0,
	disbursed     REAL NOT NULL DEFAULT 0,
	currency_id   INTEGER REFERENCES currencies(id),
	status_id     INTEGER NOT NULL REFERENCES statuses(id),
	notes         TEXT NOT NULL DEFAULT '',
	retired       INTEGER NOT NULL DEFAULT 0,
	tech_report   INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS activity_funders (
	activity_id INTEGER NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
	funder_id   INTEGER NOT NULL REFERENCES funders(id),
	PRIMARY KEY (activity_id, funder_id)
);

CREATE TABLE IF NOT EXISTS activity_clusters (
	activity_id INTEGER NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
	cluster_id  INTEGER NOT NULL REFERENCES clusters(id),
	PRIMARY KEY (activity_id, cluster_id)
);

CREATE TABLE IF NOT EXISTS upload_batches (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	year        INTEGER NOT NULL,
	uploaded_by TEXT NOT NULL,
	file_name   TEXT NOT NULL,
	uploaded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	subject     TEXT NOT NULL,
	activity_id INTEGER,
	at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_activities_year_name ON activities(year, name);
CREATE INDEX IF NOT EXISTS idx_activities_activity_id ON activities(activity_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_activity ON audit_log(activity_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Master entities ---

func (s *SQLiteStore) ListStatuses(ctx context.Context) ([]model.Status, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, is_default FROM statuses ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list statuses")
	}
	defer rows.Close()

	var out []model.Status
	for rows.Next() {
		var st model.Status
		if err := rows.Scan(&st.ID, &st.Name, &st.IsDefault); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status")
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list statuses iterate")
}

func (s *SQLiteStore) ListFunders(ctx context.Context) ([]model.Funder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, name, active FROM funders ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list funders")
	}
	defer rows.Close()

	var out []model.Funder
	for rows.Next() {
		var f model.Funder
		if err := rows.Scan(&f.ID, &f.Code, &f.Name, &f.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan funder")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list funders iterate")
}

func (s *SQLiteStore) ListClusters(ctx context.Context) ([]model.Cluster, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, short_name, full_name FROM clusters ORDER BY short_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list clusters")
	}
	defer rows.Close()

	var out []model.Cluster
	for rows.Next() {
		var c model.Cluster
		if err := rows.Scan(&c.ID, &c.ShortName, &c.FullName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cluster")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list clusters iterate")
}

func (s *SQLiteStore) ListCurrencies(ctx context.Context) ([]model.Currency, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, name, symbol, is_default FROM currencies ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list currencies")
	}
	defer rows.Close()

	var out []model.Currency
	for rows.Next() {
		var c model.Currency
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Symbol, &c.IsDefault); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan currency")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list currencies iterate")
}

func (s *SQLiteStore) CreateStatus(ctx context.Context, st model.Status) (*model.Status, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO statuses (name, is_default) VALUES (?, ?)`,
		st.Name, st.IsDefault)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert status %s", st.Name)
	}
	st.ID, err = res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: status id")
	}
	return &st, nil
}

func (s *SQLiteStore) CreateFunder(ctx context.Context, f model.Funder) (*model.Funder, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO funders (code, name, active) VALUES (?, ?, ?)`,
		f.Code, f.Name, f.Active)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert funder %s", f.Code)
	}
	f.ID, err = res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: funder id")
	}
	return &f, nil
}

func (s *SQLiteStore) CreateCluster(ctx context.Context, c model.Cluster) (*model.Cluster, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO clusters (short_name, full_name) VALUES (?, ?)`,
		c.ShortName, c.FullName)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert cluster %s", c.ShortName)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cluster id")
	}
	return &c, nil
}

func (s *SQLiteStore) CreateCurrency(ctx context.Context, c model.Currency) (*model.Currency, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO currencies (code, name, symbol, is_default) VALUES (?, ?, ?, ?)`,
		c.Code, c.Name, c.Symbol, c.IsDefault)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert currency %s", c.Code)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: currency id")
	}
	return &c, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, st model.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE statuses SET name = ?, is_default = ? WHERE id = ?`,
		st.Name, st.IsDefault, st.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", st.Name)
	}
	return checkRowsAffected(res, "status", st.Name)
}

func (s *SQLiteStore) UpdateCurrency(ctx context.Context, c model.Currency) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE currencies SET code = ?, name = ?, symbol = ?, is_default = ? WHERE id = ?`,
		c.Code, c.Name, c.Symbol, c.IsDefault, c.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update currency %s", c.Code)
	}
	return checkRowsAffected(res, "currency", c.Code)
}

// --- Activities ---

const activityColumns = `id, activity_id, name, year, planned_month, budget, disbursed,
	currency_id, status_id, notes, retired, tech_report, created_at, updated_at`

func (s *SQLiteStore) GetActivityByExternalID(ctx context.Context, activityID string) (*model.Activity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE activity_id = ?`,
		activityID)

	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get activity %s", activityID)
	}
	if err := s.loadRefs(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *SQLiteStore) FindDuplicates(ctx context.Context, name string, year int, clusterShortNames []string, limit int) ([]model.DuplicateCandidate, error) {
	query := `SELECT a.activity_id, a.name, a.year,
		COALESCE((SELECT c2.short_name FROM activity_clusters ac2
			JOIN clusters c2 ON c2.id = ac2.cluster_id
			WHERE ac2.activity_id = a.id ORDER BY c2.short_name LIMIT 1), '')
	FROM activities a
	WHERE LOWER(a.name) = LOWER(?) AND a.year = ?`
	args := []any{name, year}

	if len(clusterShortNames) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(clusterShortNames)), ",")
		query += ` AND EXISTS (SELECT 1 FROM activity_clusters ac
			JOIN clusters c ON c.id = ac.cluster_id
			WHERE ac.activity_id = a.id AND LOWER(c.short_name) IN (` + placeholders + `))`
		for _, sn := range clusterShortNames {
			args = append(args, strings.ToLower(sn))
		}
	}
	query += ` ORDER BY a.activity_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find duplicates")
	}
	defer rows.Close()

	var out []model.DuplicateCandidate
	for rows.Next() {
		var d model.DuplicateCandidate
		if err := rows.Scan(&d.ActivityID, &d.Name, &d.Year, &d.ClusterName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan duplicate")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find duplicates iterate")
}

func (s *SQLiteStore) NextSequence(ctx context.Context, year int) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM activities WHERE year = ?`, year,
	).Scan(&max)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: next sequence for %d", year)
	}
	return max + 1, nil
}

func (s *SQLiteStore) CreateActivity(ctx context.Context, a *model.Activity) error {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (activity_id, name, year, sequence, planned_month, budget,
			disbursed, currency_id, status_id, notes, retired, tech_report, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ActivityID, a.Name, a.Year, sequenceOf(a.ActivityID), a.PlannedMonth, a.Budget,
		a.Disbursed, a.CurrencyID, a.StatusID, a.Notes, a.Retired, a.TechReport, now, now)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert activity %s", a.ActivityID)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: activity id")
	}
	return nil
}

func (s *SQLiteStore) UpdateActivity(ctx context.Context, a *model.Activity) error {
	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE activities SET name = ?, year = ?, planned_month = ?, budget = ?,
			disbursed = ?, currency_id = ?, status_id = ?, notes = ?, updated_at = ?
		 WHERE id = ?`,
		a.Name, a.Year, a.PlannedMonth, a.Budget,
		a.Disbursed, a.CurrencyID, a.StatusID, a.Notes, a.UpdatedAt, a.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update activity %s", a.ActivityID)
	}
	return checkRowsAffected(res, "activity", a.ActivityID)
}

func (s *SQLiteStore) ReplaceActivityRefs(ctx context.Context, activityID int64, funderIDs, clusterIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin refs tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, del := range []string{
		`DELETE FROM activity_funders WHERE activity_id = ?`,
		`DELETE FROM activity_clusters WHERE activity_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, del, activityID); err != nil {
			return eris.Wrap(err, "sqlite: clear refs")
		}
	}
	for _, fid := range funderIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO activity_funders (activity_id, funder_id) VALUES (?, ?)`,
			activityID, fid); err != nil {
			return eris.Wrap(err, "sqlite: insert funder ref")
		}
	}
	for _, cid := range clusterIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO activity_clusters (activity_id, cluster_id) VALUES (?, ?)`,
			activityID, cid); err != nil {
			return eris.Wrap(err, "sqlite: insert cluster ref")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit refs tx")
}

// --- Bookkeeping ---

func (s *SQLiteStore) CreateUploadBatch(ctx context.Context, b model.UploadBatch) (*model.UploadBatch, error) {
	b.UploadedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_batches (year, uploaded_by, file_name, uploaded_at) VALUES (?, ?, ?, ?)`,
		b.Year, b.UploadedBy, b.FileName, b.UploadedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert upload batch")
	}
	b.ID, err = res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upload batch id")
	}
	return &b, nil
}

func (s *SQLiteStore) RecordAudit(ctx context.Context, e model.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor, action, subject, activity_id, at) VALUES (?, ?, ?, ?, ?)`,
		e.Actor, e.Action, e.Subject, e.ActivityID, time.Now().UTC())
	return eris.Wrap(err, "sqlite: record audit")
}

// ListAudit returns audit entries oldest first, up to limit.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, subject, activity_id, at FROM audit_log ORDER BY id LIMIT ?`,
		limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var activityID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Subject, &activityID, &e.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		if activityID.Valid {
			e.ActivityID = &activityID.Int64
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

// --- helpers ---

func (s *SQLiteStore) loadRefs(ctx context.Context, a *model.Activity) error {
	for _, q := range []struct {
		sql  string
		dest *[]int64
	}{
		{`SELECT funder_id FROM activity_funders WHERE activity_id = ? ORDER BY funder_id`, &a.FunderIDs},
		{`SELECT cluster_id FROM activity_clusters WHERE activity_id = ? ORDER BY cluster_id`, &a.ClusterIDs},
	} {
		rows, err := s.db.QueryContext(ctx, q.sql, a.ID)
		if err != nil {
			return eris.Wrap(err, "sqlite: load refs")
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return eris.Wrap(err, "sqlite: scan ref")
			}
			*q.dest = append(*q.dest, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return eris.Wrap(err, "sqlite: load refs iterate")
		}
		rows.Close()
	}
	return nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanActivity(row scannable) (*model.Activity, error) {
	var a model.Activity
	var currencyID sql.NullInt64
	err := row.Scan(&a.ID, &a.ActivityID, &a.Name, &a.Year, &a.PlannedMonth, &a.Budget,
		&a.Disbursed, &currencyID, &a.StatusID, &a.Notes, &a.Retired, &a.TechReport,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if currencyID.Valid {
		a.CurrencyID = &currencyID.Int64
	}
	return &a, nil
}

// sequenceOf extracts the numeric suffix of an external activity ID
// (e.g. "Y26-000014" -> 14) so per-year sequences survive round-trips.
func sequenceOf(activityID string) int {
	idx := strings.LastIndex(activityID, "-")
	if idx < 0 {
		return 0
	}
	var n int
	_, err := fmt.Sscanf(activityID[idx+1:], "%d", &n)
	if err != nil {
		return 0
	}
	return n
}
