package editor

import (
	"context"
	"strings"

	"movedit/backend/internal/domain"
)

// AddNote posts a note on the document. It shares the busy guard and the
// errors bag with movement mutations and leaves the draft alone.
func (e *Editor) AddNote(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.ErrEmptyNote
	}

	e.mu.Lock()
	if err := e.usable(); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.documentID <= 0 {
		e.mu.Unlock()
		return domain.ErrDocumentNotSaved
	}
	op := e.begin()
	e.mu.Unlock()

	result, err := e.call(ctx, func(ctx context.Context) (domain.MutationResult, error) {
		return e.backend.AddNote(ctx, content)
	})
	return e.finish(ctx, op, "add note", result, err, func() {})
}

// DeleteNote removes a note. The backend only lets its author delete it.
func (e *Editor) DeleteNote(ctx context.Context, id int64) error {
	e.mu.Lock()
	if err := e.usable(); err != nil {
		e.mu.Unlock()
		return err
	}
	op := e.begin()
	e.mu.Unlock()

	result, err := e.call(ctx, func(ctx context.Context) (domain.MutationResult, error) {
		return e.backend.DeleteNote(ctx, id)
	})
	return e.finish(ctx, op, "delete note", result, err, func() {})
}
