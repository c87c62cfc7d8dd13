// Package service composes the pieces of the movement editing page for one
// document: the document snapshot, the catalog picker and the editor.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"movedit/backend/internal/debounce"
	"movedit/backend/internal/docstore"
	"movedit/backend/internal/domain"
	"movedit/backend/internal/editor"
	"movedit/backend/internal/gateway"
	"movedit/backend/internal/search"
)

var ErrMovementNotFound = errors.New("movement not found in document")

type Options struct {
	DocumentID  int64
	SearchDelay time.Duration
	SearchLimit int
	Timeout     time.Duration
	Scheduler   debounce.Scheduler
	Logger      zerolog.Logger
}

type Workspace struct {
	documentID int64
	store      *docstore.Store
	search     *search.Search
	editor     *editor.Editor
	log        zerolog.Logger
}

func New(gw gateway.Gateway, opts Options) *Workspace {
	logger := opts.Logger.With().Int64("document_id", opts.DocumentID).Logger()
	store := docstore.New(gw, logger)
	return &Workspace{
		documentID: opts.DocumentID,
		store:      store,
		search: search.New(gw, search.Options{
			Delay:     opts.SearchDelay,
			Limit:     opts.SearchLimit,
			Timeout:   opts.Timeout,
			Scheduler: opts.Scheduler,
			Logger:    logger,
		}),
		editor: editor.New(gw, store, editor.Options{
			DocumentID: opts.DocumentID,
			Timeout:    opts.Timeout,
			Logger:     logger,
		}),
		log: logger.With().Str("component", "workspace").Logger(),
	}
}

// Load fetches the document. An unsaved document has nothing to fetch and
// starts with an empty snapshot.
func (w *Workspace) Load(ctx context.Context) error {
	if w.documentID <= 0 {
		w.log.Info().Msg("document not saved yet, skipping initial load")
		return nil
	}
	return w.store.Refresh(ctx)
}

func (w *Workspace) Refresh(ctx context.Context) error {
	if w.documentID <= 0 {
		return domain.ErrDocumentNotSaved
	}
	return w.store.Refresh(ctx)
}

func (w *Workspace) Document() domain.Snapshot {
	return w.store.Snapshot()
}

func (w *Workspace) Loaded() (bool, time.Time) {
	return w.store.Loaded()
}

func (w *Workspace) SearchInput(text string) {
	w.search.OnInput(text)
}

func (w *Workspace) SearchState() search.State {
	return w.search.State()
}

func (w *Workspace) Highlight(index int) bool {
	return w.search.Highlight(index)
}

// SelectItem copies the catalog item at index into the draft and clears the
// picker. A negative index picks the highlighted item.
func (w *Workspace) SelectItem(index int) error {
	var (
		item domain.CatalogItem
		ok   bool
	)
	if index < 0 {
		item, ok = w.search.Highlighted()
	} else {
		item, ok = w.search.Item(index)
	}
	if !ok {
		return domain.ErrNoItemSelected
	}
	if err := w.editor.SelectCatalogItem(item); err != nil {
		return err
	}
	w.search.OnSelect(item)
	return nil
}

func (w *Workspace) Editor() editor.View {
	return w.editor.View()
}

func (w *Workspace) StartAdd() error {
	if err := w.editor.StartAdd(); err != nil {
		return err
	}
	w.search.Reset()
	return nil
}

// StartEdit opens the movement as it is in the current snapshot.
func (w *Workspace) StartEdit(movementID int64) error {
	movement, ok := w.store.Movement(movementID)
	if !ok {
		return ErrMovementNotFound
	}
	if err := w.editor.StartEdit(movement); err != nil {
		return err
	}
	w.search.Reset()
	return nil
}

func (w *Workspace) UpdateDraft(p editor.Patch) error {
	return w.editor.Update(p)
}

func (w *Workspace) Submit(ctx context.Context) error {
	return w.editor.Submit(ctx)
}

func (w *Workspace) Cancel() error {
	if err := w.editor.Cancel(); err != nil {
		return err
	}
	w.search.Reset()
	return nil
}

func (w *Workspace) RequestDelete(movementID int64) error {
	movement, ok := w.store.Movement(movementID)
	if !ok {
		return ErrMovementNotFound
	}
	return w.editor.RequestDelete(movement)
}

func (w *Workspace) ConfirmDelete(ctx context.Context) error {
	return w.editor.ConfirmDelete(ctx)
}

func (w *Workspace) CancelDelete() error {
	return w.editor.CancelDelete()
}

func (w *Workspace) AddNote(ctx context.Context, content string) error {
	return w.editor.AddNote(ctx, content)
}

func (w *Workspace) DeleteNote(ctx context.Context, id int64) error {
	return w.editor.DeleteNote(ctx, id)
}

// Close detaches every component. Responses arriving afterwards are dropped.
func (w *Workspace) Close() {
	w.editor.Close()
	w.search.Close()
	w.store.Close()
}
