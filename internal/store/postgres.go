package store

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/relieftrack/activity-import/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies
// it for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_activity":    `SELECT ` + pgActivityColumns + ` FROM activities WHERE activity_id = $1`,
	"next_sequence":   `SELECT COALESCE(MAX(sequence), 0) + 1 FROM activities WHERE year = $1`,
	"record_audit":    `INSERT INTO audit_log (actor, action, subject, activity_id, at) VALUES ($1, $2, $3, $4, $5)`,
	"list_statuses":   `SELECT id, name, is_default FROM statuses ORDER BY name`,
	"list_funders":    `SELECT id, code, name, active FROM funders ORDER BY name`,
	"list_clusters":   `SELECT id, short_name, full_name FROM clusters ORDER BY short_name`,
	"list_currencies": `SELECT id, code, name, symbol, is_default FROM currencies ORDER BY code`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool}, nil
}

const pgMigration = `
CREATE TABLE IF NOT EXISTS statuses (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	is_default BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS currencies (
	id         BIGSERIAL PRIMARY KEY,
	code       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	symbol     TEXT NOT NULL DEFAULT '',
	is_default BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS funders (
	id     BIGSERIAL PRIMARY KEY,
	code   TEXT NOT NULL UNIQUE,
	name   TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS clusters (
	id         BIGSERIAL PRIMARY KEY,
	short_name TEXT NOT NULL UNIQUE,
	full_name  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS activities (
	id            BIGSERIAL PRIMARY KEY,
	activity_id   TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	year          INT NOT NULL,
	sequence      INT NOT NULL DEFAULT 0,
	planned_month DATE NOT NULL,
	budget        DOUBLE PRECISION NOT NULL DEFAULT 0,
	disbursed     DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency_id   BIGINT REFERENCES currencies(id),
	status_id     BIGINT NOT NULL REFERENCES statuses(id),
	notes         TEXT NOT NULL DEFAULT '',
	retired       BOOLEAN NOT NULL DEFAULT FALSE,
	tech_report   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS activity_funders (
	activity_id BIGINT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
	funder_id   BIGINT NOT NULL REFERENCES funders(id),
	PRIMARY KEY (activity_id, funder_id)
);

CREATE TABLE IF NOT EXISTS activity_clusters (
	activity_id BIGINT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
	cluster_id  BIGINT NOT NULL REFERENCES clusters(id),
	PRIMARY KEY (activity_id, cluster_id)
);

CREATE TABLE IF NOT EXISTS upload_batches (
	id          BIGSERIAL PRIMARY KEY,
	year        INT NOT NULL,
	uploaded_by TEXT NOT NULL,
	file_name   TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          BIGSERIAL PRIMARY KEY,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	subject     TEXT NOT NULL,
	activity_id BIGINT,
	at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_activities_year_name ON activities(year, lower(name));
CREATE INDEX IF NOT EXISTS idx_audit_log_activity ON audit_log(activity_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, pgMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Master entities ---

func (s *PostgresStore) ListStatuses(ctx context.Context) ([]model.Status, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, is_default FROM statuses ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list statuses")
	}
	defer rows.Close()

	var out []model.Status
	for rows.Next() {
		var st model.Status
		if err := rows.Scan(&st.ID, &st.Name, &st.IsDefault); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status")
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list statuses iterate")
}

func (s *PostgresStore) ListFunders(ctx context.Context) ([]model.Funder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, code, name, active FROM funders ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list funders")
	}
	defer rows.Close()

	var out []model.Funder
	for rows.Next() {
		var f model.Funder
		if err := rows.Scan(&f.ID, &f.Code, &f.Name, &f.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan funder")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list funders iterate")
}

func (s *PostgresStore) ListClusters(ctx context.Context) ([]model.Cluster, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, short_name, full_name FROM clusters ORDER BY short_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list clusters")
	}
	defer rows.Close()

	var out []model.Cluster
	for rows.Next() {
		var c model.Cluster
		if err := rows.Scan(&c.ID, &c.ShortName, &c.FullName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cluster")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list clusters iterate")
}

func (s *PostgresStore) ListCurrencies(ctx context.Context) ([]model.Currency, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, code, name, symbol, is_default FROM currencies ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list currencies")
	}
	defer rows.Close()

	var out []model.Currency
	for rows.Next() {
		var c model.Currency
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Symbol, &c.IsDefault); err != nil {
			return nil, eris.Wrap(err, "postgres: scan currency")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list currencies iterate")
}

func (s *PostgresStore) CreateStatus(ctx context.Context, st model.Status) (*model.Status, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO statuses (name, is_default) VALUES ($1, $2) RETURNING id`,
		st.Name, st.IsDefault).Scan(&st.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert status %s", st.Name)
	}
	return &st, nil
}

func (s *PostgresStore) CreateFunder(ctx context.Context, f model.Funder) (*model.Funder, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO funders (code, name, active) VALUES ($1, $2, $3) RETURNING id`,
		f.Code, f.Name, f.Active).Scan(&f.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert funder %s", f.Code)
	}
	return &f, nil
}

func (s *PostgresStore) CreateCluster(ctx context.Context, c model.Cluster) (*model.Cluster, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO clusters (short_name, full_name) VALUES ($1, $2) RETURNING id`,
		c.ShortName, c.FullName).Scan(&c.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert cluster %s", c.ShortName)
	}
	return &c, nil
}

func (s *PostgresStore) CreateCurrency(ctx context.Context, c model.Currency) (*model.Currency, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO currencies (code, name, symbol, is_default) VALUES ($1, $2, $3, $4) RETURNING id`,
		c.Code, c.Name, c.Symbol, c.IsDefault).Scan(&c.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert currency %s", c.Code)
	}
	return &c, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, st model.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE statuses SET name = $1, is_default = $2 WHERE id = $3`,
		st.Name, st.IsDefault, st.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update status %s", st.Name)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("status not found: %s", st.Name)
	}
	return nil
}

func (s *PostgresStore) UpdateCurrency(ctx context.Context, c model.Currency) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE currencies SET code = $1, name = $2, symbol = $3, is_default = $4 WHERE id = $5`,
		c.Code, c.Name, c.Symbol, c.IsDefault, c.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update currency %s", c.Code)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("currency not found: %s", c.Code)
	}
	return nil
}

// --- Activities ---

const pgActivityColumns = `id, activity_id, name, year, planned_month, budget, disbursed,
	currency_id, status_id, notes, retired, tech_report, created_at, updated_at`

func (s *PostgresStore) GetActivityByExternalID(ctx context.Context, activityID string) (*model.Activity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgActivityColumns+` FROM activities WHERE activity_id = $1`,
		activityID)

	var a model.Activity
	err := row.Scan(&a.ID, &a.ActivityID, &a.Name, &a.Year, &a.PlannedMonth, &a.Budget,
		&a.Disbursed, &a.CurrencyID, &a.StatusID, &a.Notes, &a.Retired, &a.TechReport,
		&a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get activity %s", activityID)
	}
	if err := s.loadRefs(ctx, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) FindDuplicates(ctx context.Context, name string, year int, clusterShortNames []string, limit int) ([]model.DuplicateCandidate, error) {
	query := `SELECT a.activity_id, a.name, a.year,
		COALESCE((SELECT c2.short_name FROM activity_clusters ac2
			JOIN clusters c2 ON c2.id = ac2.cluster_id
			WHERE ac2.activity_id = a.id ORDER BY c2.short_name LIMIT 1), '')
	FROM activities a
	WHERE lower(a.name) = lower($1) AND a.year = $2`
	args := []any{name, year}

	if len(clusterShortNames) > 0 {
		lowered := make([]string, len(clusterShortNames))
		for i, sn := range clusterShortNames {
			lowered[i] = strings.ToLower(sn)
		}
		query += ` AND EXISTS (SELECT 1 FROM activity_clusters ac
			JOIN clusters c ON c.id = ac.cluster_id
			WHERE ac.activity_id = a.id AND lower(c.short_name) = ANY($3))`
		args = append(args, lowered)
		query += ` ORDER BY a.activity_id LIMIT $4`
	} else {
		query += ` ORDER BY a.activity_id LIMIT $3`
	}
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find duplicates")
	}
	defer rows.Close()

	var out []model.DuplicateCandidate
	for rows.Next() {
		var d model.DuplicateCandidate
		if err := rows.Scan(&d.ActivityID, &d.Name, &d.Year, &d.ClusterName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan duplicate")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find duplicates iterate")
}

func (s *PostgresStore) NextSequence(ctx context.Context, year int) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM activities WHERE year = $1`, year,
	).Scan(&next)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: next sequence for %d", year)
	}
	return next, nil
}

func (s *PostgresStore) CreateActivity(ctx context.Context, a *model.Activity) error {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	err := s.pool.QueryRow(ctx,
		`INSERT INTO activities (activity_id, name, year, sequence, planned_month, budget,
			disbursed, currency_id, status_id, notes, retired, tech_report, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		a.ActivityID, a.Name, a.Year, sequenceOf(a.ActivityID), a.PlannedMonth, a.Budget,
		a.Disbursed, a.CurrencyID, a.StatusID, a.Notes, a.Retired, a.TechReport, now, now,
	).Scan(&a.ID)
	return eris.Wrapf(err, "postgres: insert activity %s", a.ActivityID)
}

func (s *PostgresStore) UpdateActivity(ctx context.Context, a *model.Activity) error {
	a.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE activities SET name = $1, year = $2, planned_month = $3, budget = $4,
			disbursed = $5, currency_id = $6, status_id = $7, notes = $8, updated_at = $9
		 WHERE id = $10`,
		a.Name, a.Year, a.PlannedMonth, a.Budget,
		a.Disbursed, a.CurrencyID, a.StatusID, a.Notes, a.UpdatedAt, a.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update activity %s", a.ActivityID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("activity not found: %s", a.ActivityID)
	}
	return nil
}

func (s *PostgresStore) ReplaceActivityRefs(ctx context.Context, activityID int64, funderIDs, clusterIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin refs tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, del := range []string{
		`DELETE FROM activity_funders WHERE activity_id = $1`,
		`DELETE FROM activity_clusters WHERE activity_id = $1`,
	} {
		if _, err := tx.Exec(ctx, del, activityID); err != nil {
			return eris.Wrap(err, "postgres: clear refs")
		}
	}
	for _, fid := range funderIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO activity_funders (activity_id, funder_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			activityID, fid); err != nil {
			return eris.Wrap(err, "postgres: insert funder ref")
		}
	}
	for _, cid := range clusterIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO activity_clusters (activity_id, cluster_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			activityID, cid); err != nil {
			return eris.Wrap(err, "postgres: insert cluster ref")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit refs tx")
}

// --- Bookkeeping ---

func (s *PostgresStore) CreateUploadBatch(ctx context.Context, b model.UploadBatch) (*model.UploadBatch, error) {
	b.UploadedAt = time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO upload_batches (year, uploaded_by, file_name, uploaded_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		b.Year, b.UploadedBy, b.FileName, b.UploadedAt).Scan(&b.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert upload batch")
	}
	return &b, nil
}

func (s *PostgresStore) RecordAudit(ctx context.Context, e model.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (actor, action, subject, activity_id, at) VALUES ($1, $2, $3, $4, $5)`,
		e.Actor, e.Action, e.Subject, e.ActivityID, time.Now().UTC())
	return eris.Wrap(err, "postgres: record audit")
}

// ListAudit returns audit entries oldest first, up to limit.
func (s *PostgresStore) ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, actor, action, subject, activity_id, at FROM audit_log ORDER BY id LIMIT $1`,
		limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Subject, &e.ActivityID, &e.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

func (s *PostgresStore) loadRefs(ctx context.Context, a *model.Activity) error {
	for _, q := range []struct {
		sql  string
		dest *[]int64
	}{
		{`SELECT funder_id FROM activity_funders WHERE activity_id = $1 ORDER BY funder_id`, &a.FunderIDs},
		{`SELECT cluster_id FROM activity_clusters WHERE activity_id = $1 ORDER BY cluster_id`, &a.ClusterIDs},
	} {
		rows, err := s.pool.Query(ctx, q.sql, a.ID)
		if err != nil {
			return eris.Wrap(err, "postgres: load refs")
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return eris.Wrap(err, "postgres: scan ref")
			}
			*q.dest = append(*q.dest, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "postgres: load refs iterate")
		}
	}
	return nil
}
