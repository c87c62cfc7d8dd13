// Package httpclient talks to the document backend over its JSON views.
//
// Reads are GETs whose payload sits under "data". Mutations are form posts
// carrying the anti-forgery token; the backend signals rejection with an
// "errors" key, whatever the status code.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"movedit/backend/internal/auth"
	"movedit/backend/internal/domain"
	"movedit/backend/internal/gateway"
	"movedit/backend/internal/xid"
)

const maxResponseBytes = 4 << 20

// Endpoints are paths relative to the base URL, with ids already substituted.
type Endpoints struct {
	DocumentDetail string
	ItemList       string
	MovementForm   string
	MovementDelete string
	NoteCreate     string
	NoteDelete     string
}

type Options struct {
	BaseURL    string
	Endpoints  Endpoints
	CSRFToken  string
	Signer     *auth.Signer
	Actor      auth.Actor
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

type Client struct {
	base      *url.URL
	endpoints Endpoints
	csrfToken string
	signer    *auth.Signer
	actor     auth.Actor
	http      *http.Client
	log       zerolog.Logger
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:      base,
		endpoints: opts.Endpoints,
		csrfToken: opts.CSRFToken,
		signer:    opts.Signer,
		actor:     opts.Actor,
		http:      httpClient,
		log:       opts.Logger.With().Str("component", "httpclient").Logger(),
	}, nil
}

var _ gateway.Gateway = (*Client)(nil)

func (c *Client) FetchDocument(ctx context.Context) (domain.Snapshot, error) {
	var envelope struct {
		Data *domain.Snapshot `json:"data"`
	}
	if err := c.get(ctx, c.endpoints.DocumentDetail, nil, &envelope); err != nil {
		return domain.Snapshot{}, err
	}
	if envelope.Data == nil {
		return domain.Snapshot{}, fmt.Errorf("document detail without data: %w", gateway.ErrUnexpectedResponse)
	}
	return *envelope.Data, nil
}

func (c *Client) SearchCatalog(ctx context.Context, query string, limit int) (domain.SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var envelope struct {
		Data *domain.SearchResult `json:"data"`
	}
	if err := c.get(ctx, c.endpoints.ItemList, params, &envelope); err != nil {
		return domain.SearchResult{}, err
	}
	if envelope.Data == nil {
		return domain.SearchResult{}, fmt.Errorf("item list without data: %w", gateway.ErrUnexpectedResponse)
	}
	if envelope.Data.Items == nil {
		envelope.Data.Items = []domain.CatalogItem{}
	}
	return *envelope.Data, nil
}

func (c *Client) SaveMovement(ctx context.Context, payload domain.MovementPayload) (domain.MutationResult, error) {
	form := url.Values{}
	form.Set("id", optionalID(payload.ID))
	form.Set("document", strconv.FormatInt(payload.DocumentID, 10))
	form.Set("item", optionalID(payload.ItemID))
	form.Set("name", payload.Name)
	form.Set("quantity", payload.Quantity.String())
	form.Set("price", payload.Price.String())
	form.Set("discount_percent", payload.DiscountPercent.String())
	form.Set("discount", payload.Discount.String())
	form.Set("tax_already_included", strconv.FormatBool(payload.TaxAlreadyIncluded))
	return c.post(ctx, c.endpoints.MovementForm, form)
}

func (c *Client) DeleteMovement(ctx context.Context, id int64) (domain.MutationResult, error) {
	form := url.Values{}
	form.Set("id", strconv.FormatInt(id, 10))
	return c.post(ctx, c.endpoints.MovementDelete, form)
}

func (c *Client) AddNote(ctx context.Context, content string) (domain.MutationResult, error) {
	form := url.Values{}
	form.Set("content", content)
	return c.post(ctx, c.endpoints.NoteCreate, form)
}

func (c *Client) DeleteNote(ctx context.Context, id int64) (domain.MutationResult, error) {
	form := url.Values{}
	form.Set("id", strconv.FormatInt(id, 10))
	return c.post(ctx, c.endpoints.NoteDelete, form)
}

func optionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dest any) error {
	target := c.resolve(path)
	if len(params) > 0 {
		target.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}

	body, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return gateway.ErrNotFound
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("GET %s: status %d: %w", path, status, gateway.ErrUnexpectedResponse)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("GET %s: %v: %w", path, err, gateway.ErrUnexpectedResponse)
	}
	return nil
}

// mutationResponse covers the shapes the backend answers mutations with:
// {"data": {"pk": 1}}, {"id": "1", "delete": true} and {"errors": ...}.
type mutationResponse struct {
	Errors json.RawMessage `json:"errors"`
	Data   struct {
		PK json.RawMessage `json:"pk"`
	} `json:"data"`
	ID json.RawMessage `json:"id"`
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (domain.MutationResult, error) {
	target := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return domain.MutationResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.csrfToken != "" {
		req.Header.Set("X-CSRFToken", c.csrfToken)
		req.AddCookie(&http.Cookie{Name: "csrftoken", Value: c.csrfToken})
	}
	req.Header.Set("Referer", c.base.String())

	body, status, err := c.do(req)
	if err != nil {
		return domain.MutationResult{}, err
	}

	var resp mutationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Not JSON at all: an HTML error page or a proxy failure.
		return domain.MutationResult{}, fmt.Errorf("POST %s: status %d: %w", path, status, gateway.ErrUnexpectedResponse)
	}
	if payload := domain.ParseErrorPayload(resp.Errors); payload != nil {
		return domain.MutationResult{Errors: payload}, nil
	}
	if status == http.StatusNotFound {
		return domain.MutationResult{}, gateway.ErrNotFound
	}
	if status < 200 || status > 299 {
		return domain.MutationResult{}, fmt.Errorf("POST %s: status %d: %w", path, status, gateway.ErrUnexpectedResponse)
	}

	id := parseID(resp.Data.PK)
	if id == 0 {
		id = parseID(resp.ID)
	}
	return domain.MutationResult{ID: id}, nil
}

// parseID accepts a JSON number or a numeric string.
func parseID(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	requestID := xid.New("req")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-Request-ID", requestID)
	if c.signer.Enabled() {
		token, err := c.signer.Sign(c.actor)
		if err != nil {
			return nil, 0, fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	startedAt := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", req.Method).Str("path", req.URL.Path).Str("request_id", requestID).Msg("backend request failed")
		return nil, 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("read response: %w", err)
	}
	c.log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", res.StatusCode).
		Dur("latency", time.Since(startedAt)).
		Str("request_id", requestID).
		Msg("backend request")
	return body, res.StatusCode, nil
}

func (c *Client) resolve(path string) *url.URL {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	return c.base.ResolveReference(ref)
}
