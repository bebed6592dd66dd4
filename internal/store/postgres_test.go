package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieftrack/activity-import/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetActivity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM activities WHERE activity_id = \$1`).
		WithArgs("Y99-999999").
		WillReturnError(pgx.ErrNoRows)

	a, err := s.GetActivityByExternalID(context.Background(), "Y99-999999")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetActivity_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM activities WHERE activity_id = \$1`).
		WithArgs("Y26-000001").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "activity_id", "name", "year", "planned_month", "budget", "disbursed",
			"currency_id", "status_id", "notes", "retired", "tech_report", "created_at", "updated_at",
		}).AddRow(
			int64(7), "Y26-000001", "Borehole Drilling", 2026,
			time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), 1000.0, 0.0,
			(*int64)(nil), int64(1), "", false, false, now, now,
		))
	mock.ExpectQuery(`SELECT funder_id FROM activity_funders`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"funder_id"}).AddRow(int64(3)))
	mock.ExpectQuery(`SELECT cluster_id FROM activity_clusters`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"cluster_id"}))

	a, err := s.GetActivityByExternalID(context.Background(), "Y26-000001")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, int64(7), a.ID)
	assert.Equal(t, "Borehole Drilling", a.Name)
	assert.Nil(t, a.CurrencyID)
	assert.Equal(t, []int64{3}, a.FunderIDs)
	assert.Empty(t, a.ClusterIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateFunder(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO funders`).
		WithArgs("UNICEF", "UNICEF", true).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))

	f, err := s.CreateFunder(context.Background(), model.Funder{Code: "UNICEF", Name: "UNICEF", Active: true})
	require.NoError(t, err)
	assert.Equal(t, int64(5), f.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateFunder_ConflictDetected(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO funders`).
		WithArgs("UNICEF", "UNICEF Zambia", true).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "funders_code_key"})

	_, err := s.CreateFunder(context.Background(), model.Funder{Code: "UNICEF", Name: "UNICEF Zambia", Active: true})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NextSequence(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(sequence\), 0\) \+ 1 FROM activities WHERE year = \$1`).
		WithArgs(2026).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(15))

	seq, err := s.NextSequence(context.Background(), 2026)
	require.NoError(t, err)
	assert.Equal(t, 15, seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateActivity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE activities SET`).
		WithArgs("Ghost", 2026, pgxmock.AnyArg(), 0.0, 0.0, pgxmock.AnyArg(), int64(1), "", pgxmock.AnyArg(), int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateActivity(context.Background(), &model.Activity{
		ID: 42, ActivityID: "Y26-000042", Name: "Ghost", Year: 2026, StatusID: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceActivityRefs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM activity_funders`).
		WithArgs(int64(7)).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM activity_clusters`).
		WithArgs(int64(7)).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO activity_funders`).
		WithArgs(int64(7), int64(3)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO activity_clusters`).
		WithArgs(int64(7), int64(9)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err := s.ReplaceActivityRefs(context.Background(), 7, []int64{3}, []int64{9})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindDuplicates_ClusterFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT a\.activity_id, a\.name, a\.year`).
		WithArgs("Borehole Drilling", 2026, []string{"wash"}, 3).
		WillReturnRows(pgxmock.NewRows([]string{"activity_id", "name", "year", "coalesce"}).
			AddRow("Y26-000001", "Borehole Drilling", 2026, "WASH"))

	dups, err := s.FindDuplicates(context.Background(), "Borehole Drilling", 2026, []string{"WASH"}, 3)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, "Y26-000001", dups[0].ActivityID)
	assert.Equal(t, "WASH", dups[0].ClusterName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordAudit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := int64(7)

	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs("alice", "Activity created via upload", "Y26-000001 Borehole", &id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordAudit(context.Background(), model.AuditEntry{
		Actor: "alice", Action: "Activity created via upload",
		Subject: "Y26-000001 Borehole", ActivityID: &id,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAudit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	id := int64(7)

	mock.ExpectQuery(`SELECT id, actor, action, subject, activity_id, at FROM audit_log ORDER BY id LIMIT \$1`).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "actor", "action", "subject", "activity_id", "at"}).
			AddRow(int64(1), "alice", "Activity created via upload", "Y26-000001 Borehole", &id, now).
			AddRow(int64(2), "alice", "Upload finalized", "upload.csv", (*int64)(nil), now))

	entries, err := s.ListAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Activity created via upload", entries[0].Action)
	require.NotNil(t, entries[0].ActivityID)
	assert.Equal(t, int64(7), *entries[0].ActivityID)
	assert.Nil(t, entries[1].ActivityID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE statuses SET name = \$1, is_default = \$2 WHERE id = \$3`).
		WithArgs("Planned", false, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateStatus(context.Background(), model.Status{ID: 1, Name: "Planned"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateCurrency_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE currencies SET`).
		WithArgs("ZMW", "Zambian Kwacha", "K", true, int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateCurrency(context.Background(), model.Currency{
		ID: 9, Code: "ZMW", Name: "Zambian Kwacha", Symbol: "K", IsDefault: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsConflict(t *testing.T) {
	assert.False(t, IsConflict(nil))
	assert.False(t, IsConflict(errors.New("connection refused")))
	assert.True(t, IsConflict(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsConflict(&pgconn.PgError{Code: "42P01"}))
	assert.True(t, IsConflict(errors.New("UNIQUE constraint failed: funders.code")))
}
