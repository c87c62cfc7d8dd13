// Package editor implements the add/edit/delete flow for a single movement.
//
// The editor owns a draft and an errors bag. Mutations go to the backend and,
// when accepted, the document is refreshed from the server instead of being
// patched locally. At most one request is outstanding at a time.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"movedit/backend/internal/domain"
	"movedit/backend/internal/pricing"
)

type State string

const (
	StateIdle       State = "idle"
	StateEditing    State = "editing"
	StateSubmitting State = "submitting"
)

type Mode string

const (
	ModeNone Mode = ""
	ModeAdd  Mode = "add"
	ModeEdit Mode = "edit"
)

// Backend is the mutating half of the gateway.
type Backend interface {
	SaveMovement(ctx context.Context, payload domain.MovementPayload) (domain.MutationResult, error)
	DeleteMovement(ctx context.Context, id int64) (domain.MutationResult, error)
	AddNote(ctx context.Context, content string) (domain.MutationResult, error)
	DeleteNote(ctx context.Context, id int64) (domain.MutationResult, error)
}

// Refresher reloads the document after an accepted mutation.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Options struct {
	// DocumentID is the persisted document the movements belong to. Zero means
	// the document has not been saved yet.
	DocumentID int64
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// View is a copy of the editor as the form renders it.
type View struct {
	State          State                   `json:"state"`
	Mode           Mode                    `json:"mode,omitempty"`
	Draft          domain.Movement         `json:"draft"`
	DiscountSource string                  `json:"discount_source"`
	Errors         domain.ValidationErrors `json:"errors"`
	DeleteTarget   *domain.DeleteTarget    `json:"delete_target"`
}

type Editor struct {
	backend    Backend
	refresher  Refresher
	documentID int64
	timeout    time.Duration
	log        zerolog.Logger

	mu     sync.Mutex
	state  State
	mode   Mode
	draft  domain.Movement
	source pricing.DiscountSource
	errs   domain.ValidationErrors
	target *domain.DeleteTarget
	epoch  uint64
	closed bool
}

func New(backend Backend, refresher Refresher, opts Options) *Editor {
	return &Editor{
		backend:    backend,
		refresher:  refresher,
		documentID: opts.DocumentID,
		timeout:    opts.Timeout,
		log:        opts.Logger.With().Str("component", "editor").Logger(),
		state:      StateIdle,
		errs:       domain.NewValidationErrors(),
	}
}

func (e *Editor) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := View{
		State:          e.state,
		Mode:           e.mode,
		Draft:          e.draft.Clone(),
		DiscountSource: e.source.String(),
		Errors:         e.errs.Clone(),
	}
	if e.target != nil {
		target := *e.target
		v.DeleteTarget = &target
	}
	return v
}

// StartAdd opens an empty draft. The document must already exist on the server.
func (e *Editor) StartAdd() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.usable(); err != nil {
		return err
	}
	if e.documentID <= 0 {
		return domain.ErrDocumentNotSaved
	}
	e.open(ModeAdd, domain.Movement{})
	return nil
}

// StartEdit opens a draft copied from movement.
func (e *Editor) StartEdit(movement domain.Movement) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.usable(); err != nil {
		return err
	}
	if movement.ID == nil {
		return domain.ErrUnsavedDraft
	}
	e.open(ModeEdit, movement.Clone())
	return nil
}

func (e *Editor) open(mode Mode, draft domain.Movement) {
	e.state = StateEditing
	e.mode = mode
	e.draft = draft
	e.source = pricing.DiscountFromAmount
	e.errs = domain.NewValidationErrors()
}

// SelectCatalogItem copies the item fields the form takes from the catalog.
// The item's max price becomes the unit price.
func (e *Editor) SelectCatalogItem(item domain.CatalogItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.editing(); err != nil {
		return err
	}
	id := item.ID
	e.draft.ItemID = &id
	e.draft.ItemCodename = item.Codename
	e.draft.ItemName = item.Name
	e.draft.Name = item.Name
	e.draft.Available = item.Available
	e.draft.Price = item.MaxPrice
	e.draft.MinPrice = item.MinPrice
	e.draft.TaxPolicy = pricing.ParsePolicy(item.TaxValueType)
	e.draft.TaxValue = item.TaxValue
	e.draft = pricing.Recalculate(e.draft, e.source)
	return nil
}

// Patch carries the form fields a user can type into. Nil fields are left alone.
type Patch struct {
	Name               *string
	Quantity           *decimal.Decimal
	Price              *decimal.Decimal
	DiscountPercent    *decimal.Decimal
	Discount           *decimal.Decimal
	Tax                *decimal.Decimal
	TaxAlreadyIncluded *bool
}

var maxPercent = decimal.NewFromInt(100)

// Update applies p to the draft and recalculates derived fields. Invalid input
// is rejected as a whole and leaves the draft untouched.
func (e *Editor) Update(p Patch) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.editing(); err != nil {
		return err
	}
	if err := validatePatch(p); err != nil {
		return err
	}

	d := e.draft
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Quantity != nil {
		d.Quantity = *p.Quantity
	}
	if p.Price != nil {
		d.Price = *p.Price
	}
	if p.Tax != nil {
		d.Tax = *p.Tax
	}
	if p.TaxAlreadyIncluded != nil {
		d.TaxAlreadyIncluded = *p.TaxAlreadyIncluded
	}
	// The last discount field typed is the one the other is derived from.
	switch {
	case p.DiscountPercent != nil:
		d.DiscountPercent = *p.DiscountPercent
		e.source = pricing.DiscountFromPercent
	case p.Discount != nil:
		d.Discount = *p.Discount
		e.source = pricing.DiscountFromAmount
	}
	e.draft = pricing.Recalculate(d, e.source)
	return nil
}

func validatePatch(p Patch) error {
	nonNegative := []struct {
		field string
		value *decimal.Decimal
	}{
		{domain.FieldQuantity, p.Quantity},
		{domain.FieldPrice, p.Price},
		{domain.FieldDiscount, p.Discount},
		{domain.FieldDiscount, p.DiscountPercent},
		{"tax", p.Tax},
	}
	for _, check := range nonNegative {
		if check.value != nil && check.value.IsNegative() {
			return &domain.UserInputError{Field: check.field, Message: "must be greater than or equal to 0"}
		}
	}
	if p.DiscountPercent != nil && p.DiscountPercent.GreaterThan(maxPercent) {
		return &domain.UserInputError{Field: domain.FieldDiscount, Message: "must be at most 100 percent"}
	}
	if p.DiscountPercent != nil && p.Discount != nil {
		return &domain.UserInputError{Field: domain.FieldDiscount, Message: "set either the discount percent or the amount"}
	}
	return nil
}

// Cancel discards the draft, as when the form is closed.
func (e *Editor) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.usable(); err != nil {
		return err
	}
	e.reset()
	return nil
}

func (e *Editor) reset() {
	e.state = StateIdle
	e.mode = ModeNone
	e.draft = domain.Movement{}
	e.source = pricing.DiscountFromAmount
}

// Submit saves the draft. On acceptance the document is refreshed once and the
// editor returns to idle. A rejection returns *domain.ServerValidationError
// and keeps the draft for correction.
func (e *Editor) Submit(ctx context.Context) error {
	e.mu.Lock()
	if err := e.editing(); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := checkDraft(e.draft); err != nil {
		e.mu.Unlock()
		return err
	}
	// Every edit already recalculated the draft. An untouched edit is sent
	// as the server returned it.
	payload := e.payload()
	op := e.begin()
	e.mu.Unlock()

	result, err := e.call(ctx, func(ctx context.Context) (domain.MutationResult, error) {
		return e.backend.SaveMovement(ctx, payload)
	})
	return e.finish(ctx, op, "save movement", result, err, func() {
		e.reset()
	})
}

func checkDraft(d domain.Movement) error {
	switch {
	case d.Quantity.IsNegative():
		return &domain.UserInputError{Field: domain.FieldQuantity, Message: "must be greater than or equal to 0"}
	case d.Price.IsNegative():
		return &domain.UserInputError{Field: domain.FieldPrice, Message: "must be greater than or equal to 0"}
	case d.Discount.IsNegative():
		return &domain.UserInputError{Field: domain.FieldDiscount, Message: "must be greater than or equal to 0"}
	}
	return nil
}

func (e *Editor) payload() domain.MovementPayload {
	d := e.draft.Clone()
	return domain.MovementPayload{
		ID:                 d.ID,
		DocumentID:         e.documentID,
		ItemID:             d.ItemID,
		Name:               strings.TrimSpace(d.Name),
		Quantity:           d.Quantity,
		Price:              d.Price,
		DiscountPercent:    d.DiscountPercent,
		Discount:           d.Discount,
		TaxAlreadyIncluded: d.TaxAlreadyIncluded,
	}
}

// RequestDelete records the movement to delete until it is confirmed or cancelled.
func (e *Editor) RequestDelete(movement domain.Movement) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.usable(); err != nil {
		return err
	}
	if movement.ID == nil {
		return domain.ErrUnsavedDraft
	}
	e.target = &domain.DeleteTarget{ID: *movement.ID, Number: movement.Number, Name: movement.Name}
	return nil
}

// ConfirmDelete deletes the recorded target. Errors surface like Submit's.
func (e *Editor) ConfirmDelete(ctx context.Context) error {
	e.mu.Lock()
	if err := e.usable(); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.target == nil {
		e.mu.Unlock()
		return domain.ErrNoTarget
	}
	id := e.target.ID
	op := e.begin()
	e.mu.Unlock()

	result, err := e.call(ctx, func(ctx context.Context) (domain.MutationResult, error) {
		return e.backend.DeleteMovement(ctx, id)
	})
	return e.finish(ctx, op, "delete movement", result, err, func() {
		e.target = nil
		if op.resume == StateEditing && e.draft.ID != nil && *e.draft.ID == id {
			e.reset()
		}
	})
}

func (e *Editor) CancelDelete() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.usable(); err != nil {
		return err
	}
	e.target = nil
	return nil
}

// Close makes the editor inert. Responses still in flight are discarded.
func (e *Editor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.epoch++
}

type operation struct {
	epoch  uint64
	resume State
}

// begin enters SUBMITTING. Callers hold mu and have checked usable.
func (e *Editor) begin() operation {
	op := operation{epoch: e.epoch, resume: e.state}
	e.state = StateSubmitting
	return op
}

// call runs a backend mutation detached from the caller's cancellation, so a
// caller going away cannot abort a write the backend may already have
// committed. Only the configured timeout bounds it; a response arriving after
// Close is dropped by finish.
func (e *Editor) call(ctx context.Context, fn func(ctx context.Context) (domain.MutationResult, error)) (domain.MutationResult, error) {
	ctx, cancel := e.detached(ctx)
	defer cancel()
	return fn(ctx)
}

func (e *Editor) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return ctx, func() {}
}

// finish applies the outcome of a request started with begin. onSuccess runs
// with mu held before the refresh.
func (e *Editor) finish(ctx context.Context, op operation, action string, result domain.MutationResult, callErr error, onSuccess func()) error {
	e.mu.Lock()
	if e.closed || e.epoch != op.epoch {
		e.mu.Unlock()
		e.log.Debug().Str("action", action).Msg("response discarded after close")
		return domain.ErrClosed
	}

	switch {
	case callErr != nil:
		e.state = op.resume
		e.errs = domain.NewValidationErrors()
		e.errs.Add(domain.FieldGlobal, callErr.Error())
		e.mu.Unlock()
		e.log.Warn().Err(callErr).Str("action", action).Msg("request failed")
		return fmt.Errorf("%s: %w", action, callErr)
	case !result.Succeeded():
		e.state = op.resume
		e.errs = result.Errors.Bag()
		e.mu.Unlock()
		rejected := &domain.ServerValidationError{Payload: result.Errors}
		e.log.Info().Str("action", action).Str("errors", rejected.Error()).Msg("rejected by backend")
		return rejected
	}

	e.state = op.resume
	e.errs = domain.NewValidationErrors()
	onSuccess()
	e.mu.Unlock()

	e.log.Info().Str("action", action).Int64("id", result.ID).Msg("accepted by backend")
	refreshCtx, cancel := e.detached(ctx)
	defer cancel()
	if err := e.refresher.Refresh(refreshCtx); err != nil && !errors.Is(err, domain.ErrClosed) {
		// The mutation stands; the list catches up on the next refresh.
		e.log.Warn().Err(err).Str("action", action).Msg("refresh after mutation failed")
	}
	return nil
}

func (e *Editor) usable() error {
	if e.closed {
		return domain.ErrClosed
	}
	if e.state == StateSubmitting {
		return domain.ErrBusy
	}
	return nil
}

func (e *Editor) editing() error {
	if err := e.usable(); err != nil {
		return err
	}
	if e.state != StateEditing {
		return domain.ErrNotEditing
	}
	return nil
}
