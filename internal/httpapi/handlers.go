package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"movedit/backend/internal/domain"
	"movedit/backend/internal/editor"
	"movedit/backend/internal/service"
)

type searchRequest struct {
	Text string `json:"text" validate:"max=200"`
}

type indexRequest struct {
	Index *int `json:"index" validate:"required,min=-1"`
}

type movementRequest struct {
	MovementID int64 `json:"movement_id" validate:"required,gt=0"`
}

type draftRequest struct {
	Name               *string          `json:"name" validate:"omitempty,max=200"`
	Quantity           *decimal.Decimal `json:"quantity"`
	Price              *decimal.Decimal `json:"price"`
	DiscountPercent    *decimal.Decimal `json:"discount_percent"`
	Discount           *decimal.Decimal `json:"discount"`
	Tax                *decimal.Decimal `json:"tax"`
	TaxAlreadyIncluded *bool            `json:"tax_already_included"`
}

func (d draftRequest) patch() editor.Patch {
	return editor.Patch{
		Name:               d.Name,
		Quantity:           d.Quantity,
		Price:              d.Price,
		DiscountPercent:    d.DiscountPercent,
		Discount:           d.Discount,
		Tax:                d.Tax,
		TaxAlreadyIncluded: d.TaxAlreadyIncluded,
	}
}

type noteRequest struct {
	Content string `json:"content" validate:"required,max=1000"`
}

type noteDeleteRequest struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	loaded, _ := a.workspace.Loaded()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"loaded": loaded,
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCSRFToken returns a token for the X-CSRF-Token header of mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.documentBody())
}

func (a *API) documentBody() map[string]any {
	loaded, at := a.workspace.Loaded()
	body := map[string]any{
		"document": a.workspace.Document(),
		"loaded":   loaded,
	}
	if loaded {
		body["loaded_at"] = at.UTC().Format(time.RFC3339)
	}
	return body
}

func (a *API) handleDocumentRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.workspace.Refresh(r.Context()); err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.documentBody())
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"search": a.workspace.SearchState()})
	case http.MethodPost:
		var req searchRequest
		if err := a.decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		a.workspace.SearchInput(req.Text)
		writeJSON(w, http.StatusAccepted, map[string]any{"search": a.workspace.SearchState()})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSearchHighlight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req indexRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.workspace.Highlight(*req.Index) {
		a.writeError(w, http.StatusBadRequest, errors.New("index out of range"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"search": a.workspace.SearchState()})
}

func (a *API) handleSearchSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req indexRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	a.respond(w, a.workspace.SelectItem(*req.Index))
}

func (a *API) handleEditor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"editor": a.workspace.Editor()})
}

func (a *API) handleEditorAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	a.respond(w, a.workspace.StartAdd())
}

func (a *API) handleEditorEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req movementRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	a.respond(w, a.workspace.StartEdit(req.MovementID))
}

func (a *API) handleEditorDraft(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}
	var req draftRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	a.respond(w, a.workspace.UpdateDraft(req.patch()))
}

func (a *API) handleEditorSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	a.respond(w, a.workspace.Submit(r.Context()))
}

func (a *API) handleEditorCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	a.respond(w, a.workspace.Cancel())
}

func (a *API) handleEditorDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req movementRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	a.respond(w, a.workspace.RequestDelete(req.MovementID))
}

func (a *API) handleEditorDeleteConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	a.respond(w, a.workspace.ConfirmDelete(r.Context()))
}

func (a *API) handleEditorDeleteCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	a.respond(w, a.workspace.CancelDelete())
}

func (a *API) handleNotes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"notes": a.workspace.Document().Notes})
	case http.MethodPost:
		if !a.noteLimiter.Allow(clientKey(r)) {
			a.writeError(w, http.StatusTooManyRequests, errors.New("too many notes, try again later"))
			return
		}
		var req noteRequest
		if err := a.decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		a.respond(w, a.workspace.AddNote(r.Context(), req.Content))
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleNoteDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req noteDeleteRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	a.respond(w, a.workspace.DeleteNote(r.Context(), req.ID))
}

// respond writes the editor, picker and document after an editor action.
// On failure the body also carries the error and, for rejections, the field bag.
func (a *API) respond(w http.ResponseWriter, err error) {
	body := a.documentBody()
	body["editor"] = a.workspace.Editor()
	body["search"] = a.workspace.SearchState()
	if err == nil {
		writeJSON(w, http.StatusOK, body)
		return
	}

	status := statusFor(err)
	msg := err.Error()
	if status >= 500 {
		a.log.Error().Err(err).Int("status", status).Msg("editor action failed")
		msg = "backend unavailable"
	}
	body["error"] = msg
	var rejected *domain.ServerValidationError
	if errors.As(err, &rejected) && rejected.Payload != nil {
		body["errors"] = rejected.Payload.Bag()
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	var (
		input       *domain.UserInputError
		rejected    *domain.ServerValidationError
		invalidBody validator.ValidationErrors
	)
	switch {
	case errors.As(err, &input), errors.As(err, &invalidBody):
		return http.StatusBadRequest
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrMovementNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrNotEditing),
		errors.Is(err, domain.ErrNoTarget),
		errors.Is(err, domain.ErrUnsavedDraft):
		return http.StatusConflict
	case errors.Is(err, domain.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
