package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"movedit/backend/internal/auth"
	"movedit/backend/internal/service"
	"movedit/backend/internal/xid"
)

type Options struct {
	AllowedOrigin string
	// Signer guards the API with bearer tokens when it has a secret.
	Signer *auth.Signer
	// UserID is the only user tokens are accepted for.
	UserID int64
	Logger zerolog.Logger
}

type API struct {
	workspace     *service.Workspace
	signer        *auth.Signer
	userID        int64
	allowedOrigin string
	noteLimiter   *attemptLimiter
	csrfSecret    []byte
	validate      *validator.Validate
	log           zerolog.Logger
}

func New(ws *service.Workspace, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	allowedOrigin := opts.AllowedOrigin
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return &API{
		workspace:     ws,
		signer:        opts.Signer,
		userID:        opts.UserID,
		allowedOrigin: allowedOrigin,
		noteLimiter:   newAttemptLimiter(20, time.Minute),
		csrfSecret:    csrfSecret,
		validate:      validator.New(),
		log:           opts.Logger.With().Str("component", "httpapi").Logger(),
	}
}

// csrfTokenForHour computes a hex HMAC-SHA256 token for an hour bucket
// (Unix time truncated to the hour).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts tokens of the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/document", a.requireAuth(a.handleDocument))
	mux.HandleFunc("/api/v1/document/refresh", a.requireAuth(a.handleDocumentRefresh))

	mux.HandleFunc("/api/v1/search", a.requireAuth(a.handleSearch))
	mux.HandleFunc("/api/v1/search/highlight", a.requireAuth(a.handleSearchHighlight))
	mux.HandleFunc("/api/v1/search/select", a.requireAuth(a.handleSearchSelect))

	mux.HandleFunc("/api/v1/editor", a.requireAuth(a.handleEditor))
	mux.HandleFunc("/api/v1/editor/add", a.requireAuth(a.handleEditorAdd))
	mux.HandleFunc("/api/v1/editor/edit", a.requireAuth(a.handleEditorEdit))
	mux.HandleFunc("/api/v1/editor/draft", a.requireAuth(a.handleEditorDraft))
	mux.HandleFunc("/api/v1/editor/submit", a.requireAuth(a.handleEditorSubmit))
	mux.HandleFunc("/api/v1/editor/cancel", a.requireAuth(a.handleEditorCancel))
	mux.HandleFunc("/api/v1/editor/delete", a.requireAuth(a.handleEditorDelete))
	mux.HandleFunc("/api/v1/editor/delete/confirm", a.requireAuth(a.handleEditorDeleteConfirm))
	mux.HandleFunc("/api/v1/editor/delete/cancel", a.requireAuth(a.handleEditorDeleteCancel))

	mux.HandleFunc("/api/v1/notes", a.requireAuth(a.handleNotes))
	mux.HandleFunc("/api/v1/notes/delete", a.requireAuth(a.handleNoteDelete))

	return a.withMiddleware(mux)
}

// requireAuth checks the bearer token when a signer is configured. Tokens
// must be issued for the workspace user.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if !a.signer.Enabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		actor, err := a.signer.Parse(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}
		if actor.UserID != a.userID {
			a.writeError(w, http.StatusForbidden, errors.New("token issued for another user"))
			return
		}
		next(w, r)
	}
}

// checkCSRF enforces the X-CSRF-Token header on POST, PUT and PATCH.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		a.writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = xid.New("req")
		}
		w.Header().Set("X-Request-ID", requestID)

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("latency", time.Since(startedAt)).
			Str("request_id", requestID).
			Msg("request")
	})
}

// decodeJSON decodes the body strictly and validates it.
func (a *API) decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return a.validate.Struct(dest)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

// writeError hides the message of 5xx responses; 4xx messages are user facing.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
