package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"movedit/backend/internal/debounce/debouncetest"
	"movedit/backend/internal/domain"
	"movedit/backend/internal/gateway/memory"
	"movedit/backend/internal/service"
)

type testEnv struct {
	api     *API
	handler http.Handler
	gateway *memory.Gateway
	clock   *debouncetest.Scheduler
	csrf    string
}

// newTestEnv builds the API over a seeded in-memory backend and a manual
// clock, so handler tests run the whole editing path.
func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	gw := memory.NewSeeded(7, 1)
	clock := debouncetest.New()
	ws := service.New(gw, service.Options{
		DocumentID:  7,
		SearchDelay: time.Second,
		Scheduler:   clock,
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(ws.Close)
	if err := ws.Load(context.Background()); err != nil {
		t.Fatalf("load workspace: %v", err)
	}

	if opts.UserID == 0 {
		opts.UserID = 1
	}
	opts.Logger = zerolog.Nop()
	api := New(ws, opts)
	env := &testEnv{api: api, handler: api.Handler(), gateway: gw, clock: clock}
	env.csrf = fetchCSRFToken(t, env.handler)
	return env
}

func (e *testEnv) do(t *testing.T, method string, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", e.csrf)
	rec := httptest.NewRecorder()

	e.handler.ServeHTTP(rec, req)

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode %s %s response: %v (body: %s)", method, path, err, rec.Body.String())
	}
	return rec, payload
}

func editorField(t *testing.T, payload map[string]any, key string) any {
	t.Helper()
	view, ok := payload["editor"].(map[string]any)
	if !ok {
		t.Fatalf("expected editor in response, got %v", payload)
	}
	return view[key]
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec, body := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["ok"] != true || body["loaded"] != true {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestAddMovementFlow(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec, body := env.do(t, http.MethodPost, "/api/v1/editor/add", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on add, got %d (body: %v)", rec.Code, body)
	}
	if got := editorField(t, body, "state"); got != "editing" {
		t.Fatalf("expected editing state, got %v", got)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/search", map[string]string{"text": "martillo"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on search input, got %d", rec.Code)
	}
	env.clock.Advance(time.Second)

	_, body = env.do(t, http.MethodGet, "/api/v1/search", nil)
	search := body["search"].(map[string]any)
	if search["count"] != float64(1) {
		t.Fatalf("expected one match, got %v", search)
	}

	rec, body = env.do(t, http.MethodPost, "/api/v1/search/select", map[string]int{"index": 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on select, got %d (body: %v)", rec.Code, body)
	}
	draft := editorField(t, body, "draft").(map[string]any)
	if draft["item__codename"] != "MART-0016" || draft["price"] != "375" {
		t.Fatalf("expected catalog fields copied into draft, got %v", draft)
	}

	rec, body = env.do(t, http.MethodPatch, "/api/v1/editor/draft", map[string]any{"quantity": "2", "discount_percent": "10"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on draft patch, got %d (body: %v)", rec.Code, body)
	}
	draft = editorField(t, body, "draft").(map[string]any)
	if draft["discount"] != "75" {
		t.Fatalf("expected discount derived from percent, got %v", draft["discount"])
	}

	rec, body = env.do(t, http.MethodPost, "/api/v1/editor/submit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on submit, got %d (body: %v)", rec.Code, body)
	}
	if got := editorField(t, body, "state"); got != "idle" {
		t.Fatalf("expected idle after submit, got %v", got)
	}
	doc := body["document"].(map[string]any)
	if movements := doc["movements"].([]any); len(movements) != 1 {
		t.Fatalf("expected refreshed document with one movement, got %v", movements)
	}
}

func TestSubmitCompletesAfterClientDisconnect(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.do(t, http.MethodPost, "/api/v1/editor/add", nil)
	env.do(t, http.MethodPost, "/api/v1/search", map[string]string{"text": "martillo"})
	env.clock.Advance(time.Second)
	env.do(t, http.MethodPost, "/api/v1/search/select", map[string]int{"index": 0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/editor/submit", nil).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", env.csrf)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected save to complete, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	snap, err := env.gateway.FetchDocument(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snap.Movements) != 1 {
		t.Fatalf("expected one stored movement, got %d", len(snap.Movements))
	}
	if got := len(env.api.workspace.Document().Movements); got != 1 {
		t.Fatalf("expected refreshed workspace document, got %d movements", got)
	}
}

func TestSubmitRejectedKeepsDraft(t *testing.T) {
	env := newTestEnv(t, Options{})

	env.do(t, http.MethodPost, "/api/v1/editor/add", nil)
	rec, body := env.do(t, http.MethodPost, "/api/v1/editor/submit", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %v)", rec.Code, body)
	}
	errs := body["errors"].(map[string]any)
	if items, _ := errs["item"].([]any); len(items) == 0 {
		t.Fatalf("expected item error, got %v", errs)
	}
	if got := editorField(t, body, "state"); got != "editing" {
		t.Fatalf("expected editing after rejection, got %v", got)
	}
}

func TestBackendOutageReturns502WithGlobalError(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.gateway.SetUnavailable(errors.New("dial tcp: connection refused"))

	rec, body := env.do(t, http.MethodPost, "/api/v1/notes", map[string]string{"content": "llamar"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d (body: %v)", rec.Code, body)
	}
	if body["error"] != "backend unavailable" {
		t.Fatalf("expected generic error message, got %v", body["error"])
	}
	global := editorField(t, body, "errors").(map[string]any)["global"].([]any)
	if len(global) != 1 || global[0] != "dial tcp: connection refused" {
		t.Fatalf("expected network error under global, got %v", global)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/document/refresh", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on refresh, got %d", rec.Code)
	}
}

func TestEditorErrorStatuses(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec, _ := env.do(t, http.MethodPost, "/api/v1/editor/edit", map[string]int64{"movement_id": 99})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown movement, got %d", rec.Code)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/editor/submit", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when not editing, got %d", rec.Code)
	}

	env.do(t, http.MethodPost, "/api/v1/editor/add", nil)
	rec, _ = env.do(t, http.MethodPatch, "/api/v1/editor/draft", map[string]any{"price": "-1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative price, got %d", rec.Code)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/editor/edit", map[string]any{"movement_id": 1, "extra": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/search/highlight", map[string]int{"index": 4})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for highlight out of range, got %d", rec.Code)
	}
}

func TestDeleteMovementFlow(t *testing.T) {
	env := newTestEnv(t, Options{})
	itemID := int64(4)
	saved := mustSave(t, env.gateway, itemID)
	env.do(t, http.MethodPost, "/api/v1/document/refresh", nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/editor/delete", map[string]int64{"movement_id": saved})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete request, got %d (body: %v)", rec.Code, body)
	}
	if target := editorField(t, body, "delete_target"); target == nil {
		t.Fatalf("expected delete target")
	}

	rec, body = env.do(t, http.MethodPost, "/api/v1/editor/delete/confirm", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on confirm, got %d (body: %v)", rec.Code, body)
	}
	doc := body["document"].(map[string]any)
	if movements := doc["movements"].([]any); len(movements) != 0 {
		t.Fatalf("expected movement removed, got %v", movements)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/editor/delete/confirm", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 without a target, got %d", rec.Code)
	}
}

func mustSave(t *testing.T, gw *memory.Gateway, itemID int64) int64 {
	t.Helper()
	result, err := gw.SaveMovement(context.Background(), domain.MovementPayload{
		DocumentID: 7,
		ItemID:     &itemID,
		Name:       "Pintura",
		Quantity:   decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(1050),
	})
	if err != nil || !result.Succeeded() {
		t.Fatalf("seed movement: %+v err=%v", result, err)
	}
	return result.ID
}
