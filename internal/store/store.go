// Package store persists master entities, activities, and audit records.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relieftrack/activity-import/internal/model"
)

// Store defines the persistence interface consumed by the import pipeline.
type Store interface {
	// Master entities
	ListStatuses(ctx context.Context) ([]model.Status, error)
	ListFunders(ctx context.Context) ([]model.Funder, error)
	ListClusters(ctx context.Context) ([]model.Cluster, error)
	ListCurrencies(ctx context.Context) ([]model.Currency, error)
	CreateStatus(ctx context.Context, s model.Status) (*model.Status, error)
	CreateFunder(ctx context.Context, f model.Funder) (*model.Funder, error)
	CreateCluster(ctx context.Context, c model.Cluster) (*model.Cluster, error)
	CreateCurrency(ctx context.Context, c model.Currency) (*model.Currency, error)
	UpdateStatus(ctx context.Context, s model.Status) error
	UpdateCurrency(ctx context.Context, c model.Currency) error

	// Activities
	GetActivityByExternalID(ctx context.Context, activityID string) (*model.Activity, error)
	FindDuplicates(ctx context.Context, name string, year int, clusterShortNames []string, limit int) ([]model.DuplicateCandidate, error)
	NextSequence(ctx context.Context, year int) (int, error)
	CreateActivity(ctx context.Context, a *model.Activity) error
	UpdateActivity(ctx context.Context, a *model.Activity) error
	ReplaceActivityRefs(ctx context.Context, activityID int64, funderIDs, clusterIDs []int64) error

	// Bookkeeping
	CreateUploadBatch(ctx context.Context, b model.UploadBatch) (*model.UploadBatch, error)
	RecordAudit(ctx context.Context, e model.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// IsConflict reports whether err is a uniqueness-constraint violation in
// either backend. The pipeline treats these as row-scoped, retryable
// conditions rather than fatal aborts.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
