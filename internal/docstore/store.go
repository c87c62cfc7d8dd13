// Package docstore holds the authoritative snapshot of the document being edited.
package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"movedit/backend/internal/domain"
)

// Fetcher loads the document detail in one call.
type Fetcher interface {
	FetchDocument(ctx context.Context) (domain.Snapshot, error)
}

// Store replaces its snapshot only as a whole. A failed refresh leaves the
// previous snapshot in place, and when refreshes overlap only the most
// recently issued one may apply.
type Store struct {
	fetcher Fetcher
	log     zerolog.Logger

	mu       sync.RWMutex
	snapshot domain.Snapshot
	loaded   bool
	loadedAt time.Time
	issued   uint64
	closed   bool
}

func New(fetcher Fetcher, logger zerolog.Logger) *Store {
	return &Store{
		fetcher: fetcher,
		log:     logger.With().Str("component", "docstore").Logger(),
		snapshot: domain.Snapshot{
			Notes:     []domain.Note{},
			Movements: []domain.Movement{},
		},
	}
}

// Refresh fetches the document detail and installs it. A response superseded
// by a later Refresh is discarded without error.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrClosed
	}
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	snap, err := s.fetcher.FetchDocument(ctx)
	if err != nil {
		s.log.Warn().Err(err).Uint64("seq", seq).Msg("document refresh failed, keeping previous snapshot")
		return fmt.Errorf("refresh document: %w", err)
	}
	if snap.Notes == nil {
		snap.Notes = []domain.Note{}
	}
	if snap.Movements == nil {
		snap.Movements = []domain.Movement{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrClosed
	}
	if seq != s.issued {
		s.log.Debug().Uint64("seq", seq).Uint64("latest", s.issued).Msg("stale document refresh dropped")
		return nil
	}
	s.snapshot = snap.Clone()
	s.loaded = true
	s.loadedAt = time.Now().UTC()
	s.log.Debug().
		Int64("document_id", snap.Document.ID).
		Int("movements", len(snap.Movements)).
		Int("notes", len(snap.Notes)).
		Msg("document snapshot applied")
	return nil
}

// Snapshot returns a copy callers may modify freely.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Clone()
}

// Loaded reports whether a snapshot has been applied and when.
func (s *Store) Loaded() (bool, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded, s.loadedAt
}

func (s *Store) Movement(id int64) (domain.Movement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.FindMovement(id)
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
