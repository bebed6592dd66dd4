package ingest

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Session ties one staged upload file to the owner who uploaded it.
type Session struct {
	ID           string
	Owner        string
	Path         string
	OriginalName string
	StagedAt     time.Time
}

// Staging holds uploaded files between the stage and commit phases. At
// most one session exists per owner; staging a second file replaces the
// first, last-write-wins.
type Staging struct {
	mu       sync.Mutex
	dir      string
	sessions map[string]*Session
}

// NewStaging creates a staging store writing temp files under dir
// (empty means the OS temp dir).
func NewStaging(dir string) *Staging {
	return &Staging{
		dir:      dir,
		sessions: make(map[string]*Session),
	}
}

// Stage copies the upload to a private temp file and records a session
// for owner, discarding any session that owner already held.
func (s *Staging) Stage(owner string, r io.Reader, originalName string) (*Session, error) {
	tmp, err := os.CreateTemp(s.dir, "staged-*"+filepath.Ext(originalName))
	if err != nil {
		return nil, eris.Wrap(err, "staging: create temp file")
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, eris.Wrap(err, "staging: write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, eris.Wrap(err, "staging: close temp file")
	}

	sess := &Session{
		ID:           uuid.New().String(),
		Owner:        owner,
		Path:         tmp.Name(),
		OriginalName: originalName,
		StagedAt:     time.Now().UTC(),
	}

	s.mu.Lock()
	prev := s.sessions[owner]
	s.sessions[owner] = sess
	s.mu.Unlock()

	if prev != nil {
		removeStagedFile(prev)
		zap.L().Info("replaced staged upload",
			zap.String("owner", owner),
			zap.String("previous", prev.OriginalName),
			zap.String("current", originalName),
		)
	}
	return sess, nil
}

// Peek returns the owner's staged session without consuming it. It is
// idempotent; the pipeline calls it once to build the review summary
// and again at commit time so commit re-parses against current master
// data instead of a stale cached summary.
func (s *Staging) Peek(owner string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[owner]
	return sess, ok
}

// Discard deletes the owner's staged file and clears the session.
// Called on successful commit, on explicit abandonment, and implicitly
// when a new file is staged over an old one.
func (s *Staging) Discard(owner string) {
	s.mu.Lock()
	sess := s.sessions[owner]
	delete(s.sessions, owner)
	s.mu.Unlock()

	if sess != nil {
		removeStagedFile(sess)
	}
}

func removeStagedFile(sess *Session) {
	if err := os.Remove(sess.Path); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("failed to remove staged file",
			zap.String("path", sess.Path), zap.Error(err))
	}
}
