package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relieftrack/activity-import/internal/config"
	"github.com/relieftrack/activity-import/internal/model"
	"github.com/relieftrack/activity-import/internal/store"
)

// ErrNoSession is returned when an owner asks for a summary or commit
// without a staged upload.
var ErrNoSession = eris.New("ingest: no staged upload for this user")

// ErrHardBlocked is returned when a commit is attempted against a file
// with unresolved statuses. The staged session is kept so the reviewer
// can fix master data and retry.
var ErrHardBlocked = eris.New("ingest: upload has unresolved statuses and cannot be committed")

// Importer drives the two-phase import: stage a file and review its
// summary, then commit it row by row. One Importer serves all users;
// staging isolates their sessions.
type Importer struct {
	st      store.Store
	staging *Staging
	cfg     config.ImportConfig
}

func NewImporter(st store.Store, staging *Staging, cfg config.ImportConfig) *Importer {
	return &Importer{st: st, staging: staging, cfg: cfg}
}

// Stage stores the upload for owner and returns the review summary.
// Nothing is written to the activity store. A file that cannot be read
// at all is rejected and not staged.
func (im *Importer) Stage(ctx context.Context, owner string, r io.Reader, originalName string) (*Session, *Summary, error) {
	sess, err := im.staging.Stage(owner, r, originalName)
	if err != nil {
		return nil, nil, err
	}
	sum, err := im.summarize(ctx, sess)
	if err != nil {
		im.staging.Discard(owner)
		return nil, nil, err
	}
	zap.L().Info("upload staged",
		zap.String("owner", owner),
		zap.String("file", originalName),
		zap.Int("rows", sum.TotalRows),
		zap.Bool("hard_blocked", sum.HardBlocked()),
	)
	return sess, sum, nil
}

// Summary recomputes the review summary for the owner's staged upload.
// It reflects current master data, so a reviewer who fixes statuses can
// refresh without re-uploading.
func (im *Importer) Summary(ctx context.Context, owner string) (*Summary, error) {
	sess, ok := im.staging.Peek(owner)
	if !ok {
		return nil, ErrNoSession
	}
	return im.summarize(ctx, sess)
}

// Commit replays the owner's staged upload into the store. The file is
// re-read and the hard-block check re-run against current master data
// before any write; a blocked file aborts with no mutation and the
// session intact. On success the session is discarded and an upload
// batch recorded.
func (im *Importer) Commit(ctx context.Context, owner, actor string, dec *Decisions) (*CommitResult, error) {
	sess, ok := im.staging.Peek(owner)
	if !ok {
		return nil, ErrNoSession
	}

	rows, hasID, res, err := im.parse(ctx, sess)
	if err != nil {
		return nil, err
	}
	sum := Summarize(ctx, rows, hasID, res, im.st)
	if sum.HardBlocked() {
		zap.L().Warn("commit refused",
			zap.String("owner", owner),
			zap.Strings("unknown_statuses", sum.UnknownStatuses),
			zap.Bool("default_status_missing", sum.DefaultStatusMissing),
		)
		return nil, ErrHardBlocked
	}

	if actor == "" {
		actor = owner
	}
	result := newExecutor(im.st, res, dec, actor).run(ctx, rows)

	im.finalize(ctx, sess, actor, sum, result)
	im.staging.Discard(owner)
	return result, nil
}

// Discard abandons the owner's staged upload.
func (im *Importer) Discard(owner string) {
	im.staging.Discard(owner)
}

func (im *Importer) summarize(ctx context.Context, sess *Session) (*Summary, error) {
	rows, hasID, res, err := im.parse(ctx, sess)
	if err != nil {
		return nil, err
	}
	return Summarize(ctx, rows, hasID, res, im.st), nil
}

func (im *Importer) parse(ctx context.Context, sess *Session) ([]Row, bool, *Resolver, error) {
	table, err := ReadTable(sess.Path, sess.OriginalName)
	if err != nil {
		return nil, false, nil, err
	}
	res, err := NewResolver(ctx, im.st, im.cfg.DefaultStatus)
	if err != nil {
		return nil, false, nil, err
	}
	return ParseRows(table), HasIDColumn(table), res, nil
}

// finalize records the upload batch and closing audit entry. Failures
// here are logged, not surfaced; the row writes already happened.
func (im *Importer) finalize(ctx context.Context, sess *Session, actor string, sum *Summary, result *CommitResult) {
	year := time.Now().UTC().Year()
	if len(sum.Years) > 0 {
		year = sum.Years[0].Year
	}
	_, err := im.st.CreateUploadBatch(ctx, model.UploadBatch{
		Year:       year,
		UploadedBy: actor,
		FileName:   sess.OriginalName,
	})
	if err != nil {
		zap.L().Warn("failed to record upload batch",
			zap.String("file", sess.OriginalName), zap.Error(err))
	}
	err = im.st.RecordAudit(ctx, model.AuditEntry{
		Actor:  actor,
		Action: "Upload finalized",
		Subject: fmt.Sprintf("%s: %d created, %d updated, %d skipped, %d errors",
			sess.OriginalName, result.Created, result.Updated, result.Skipped, len(result.Errors)),
	})
	if err != nil {
		zap.L().Warn("failed to record upload audit entry",
			zap.String("file", sess.OriginalName), zap.Error(err))
	}
	zap.L().Info("upload committed",
		zap.String("actor", actor),
		zap.String("file", sess.OriginalName),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)),
	)
}
