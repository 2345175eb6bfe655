package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/pithecene-io/shortlist/iox"
	"github.com/pithecene-io/shortlist/log"
	"github.com/pithecene-io/shortlist/session"
	"github.com/pithecene-io/shortlist/types"
)

const (
	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 60 * time.Second
	// DefaultRetries is the default number of retries for idempotent calls.
	DefaultRetries = 3
	// DefaultBackoff is the wait before the first retry.
	DefaultBackoff = 500 * time.Millisecond

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10

	referenceExistsMessage = "JD already set"
)

// Config configures the HTTP client.
type Config struct {
	// BaseURL is the service root, e.g. http://localhost:8000 (required).
	BaseURL string
	// Headers are added to every request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 60s).
	Timeout time.Duration
	// Retries is the retry count for Reset, ListRanked and QueryDerived
	// (default 3). Uploads and setup are never retried.
	Retries int
	// Backoff is the wait before the first retry (default 500ms).
	Backoff time.Duration
	// UploadRate limits upload starts per second. Zero means unlimited.
	UploadRate float64
	// UploadBurst is the limiter burst (default 1).
	UploadBurst int
	// Clock drives retry backoff (default real clock).
	Clock clockwork.Clock
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client talks to the screening service over HTTP.
type Client struct {
	base    *url.URL
	config  Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

// New creates a client. Returns an error if BaseURL is missing or invalid.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote: service URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: invalid service URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported URL scheme %q", base.Scheme)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("remote: retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.UploadRate < 0 {
		return nil, fmt.Errorf("remote: upload rate must be >= 0, got %v", cfg.UploadRate)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.UploadBurst <= 0 {
		cfg.UploadBurst = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	limit := rate.Inf
	if cfg.UploadRate > 0 {
		limit = rate.Limit(cfg.UploadRate)
	}

	return &Client{
		base:    base,
		config:  cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, cfg.UploadBurst),
		logger:  logger,
	}, nil
}

// URL returns the service base URL.
func (c *Client) URL() string {
	return c.base.String()
}

func (c *Client) policy(op string) retryPolicy {
	return retryPolicy{
		attempts: 1 + c.config.Retries,
		backoff:  c.config.Backoff,
		clock:    c.config.Clock,
		onRetry: func(attempt int, err error, wait time.Duration) {
			c.logger.Warn("retrying request", map[string]any{
				"op":      op,
				"attempt": attempt,
				"wait":    wait.String(),
				"error":   err.Error(),
			})
		},
	}
}

// Reset clears all server-side state.
func (c *Client) Reset(ctx context.Context) error {
	_, err := do(ctx, c.policy("reset"), func() (struct{}, error) {
		return struct{}{}, c.doJSON(ctx, http.MethodPost, "/reset", nil, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

type referenceResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// SetReference posts the reference text. A 400 whose detail says the
// reference is already set becomes an AlreadySetError.
func (c *Client) SetReference(ctx context.Context, text string) (Reference, error) {
	form := url.Values{"jd_text": {text}}
	var resp referenceResponse
	err := c.doJSON(ctx, http.MethodPost, "/set_jd", nil, formBody(form), &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusBadRequest &&
			strings.Contains(strings.ToLower(se.Detail), "already set") {
			return Reference{}, &AlreadySetError{Detail: se.Detail}
		}
		return Reference{}, fmt.Errorf("set reference: %w", err)
	}
	if resp.SessionID == "" {
		return Reference{}, errors.New("set reference: response has no session_id")
	}
	return Reference{
		Epoch:    session.Epoch(resp.SessionID),
		Message:  resp.Message,
		Existing: resp.Message == referenceExistsMessage,
	}, nil
}

// SubmitArtifact streams artifact as a multipart upload. Uploads are paced
// by the configured limiter and never retried.
func (c *Client) SubmitArtifact(ctx context.Context, epoch session.Epoch, artifact Artifact) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("upload %s: %w", artifact.Name(), err)
	}

	rc, err := artifact.Open(ctx)
	if err != nil {
		return fmt.Errorf("upload %s: open: %w", artifact.Name(), err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer iox.DiscardClose(rc)
		pw.CloseWithError(writeUpload(mw, epoch, artifact, rc))
	}()

	ct := mw.FormDataContentType()
	err = c.doJSON(ctx, http.MethodPost, "/upload_resume", nil, &body{reader: pr, contentType: ct}, nil)
	// Unblocks the writer if the request ended before reading the body.
	_ = pr.Close()
	if err != nil {
		return fmt.Errorf("upload %s: %w", artifact.Name(), err)
	}
	return nil
}

func writeUpload(mw *multipart.Writer, epoch session.Epoch, artifact Artifact, r io.Reader) error {
	if err := mw.WriteField("session_id", epoch.String()); err != nil {
		return err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, artifact.Name()))
	h.Set("Content-Type", artifact.ContentType())
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// ListRanked fetches ranked candidates for epoch.
func (c *Client) ListRanked(ctx context.Context, epoch session.Epoch) ([]types.Candidate, error) {
	query := url.Values{"session_id": {epoch.String()}}
	out, err := do(ctx, c.policy("list_ranked"), func() ([]types.Candidate, error) {
		var candidates []types.Candidate
		err := c.doJSON(ctx, http.MethodGet, "/ranked_candidates", query, nil, &candidates)
		return candidates, err
	})
	if err != nil {
		return nil, fmt.Errorf("list ranked: %w", err)
	}
	return out, nil
}

type answerResponse struct {
	Response string `json:"response"`
}

// QueryDerived asks question about epoch's artifacts. A zero limit leaves
// the service default in place; an empty kind is not sent.
func (c *Client) QueryDerived(ctx context.Context, epoch session.Epoch, question string, kind types.QueryKind, limit int) (Answer, error) {
	query := url.Values{
		"query":      {question},
		"session_id": {epoch.String()},
	}
	if limit > 0 {
		query.Set("top_k", strconv.Itoa(limit))
	}
	if kind != "" {
		query.Set("query_type", string(kind))
	}
	resp, err := do(ctx, c.policy("query"), func() (answerResponse, error) {
		var r answerResponse
		err := c.doJSON(ctx, http.MethodGet, "/rag_query", query, nil, &r)
		return r, err
	})
	if err != nil {
		return Answer{}, fmt.Errorf("query: %w", err)
	}
	return Answer{Text: resp.Response}, nil
}

type decisionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RecordDecision posts a decision for a candidate.
func (c *Client) RecordDecision(ctx context.Context, email, name string, decision types.Decision) (DecisionReceipt, error) {
	form := url.Values{
		"email":    {email},
		"name":     {name},
		"decision": {string(decision)},
	}
	var resp decisionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/send_email", nil, formBody(form), &resp); err != nil {
		return DecisionReceipt{}, fmt.Errorf("record decision: %w", err)
	}
	return DecisionReceipt{Success: resp.Success, Message: resp.Message}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

type body struct {
	reader      io.Reader
	contentType string
}

func formBody(v url.Values) *body {
	return &body{
		reader:      strings.NewReader(v.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}
}

// doJSON performs one request and decodes a 2xx JSON response into out
// (skipped when out is nil). Non-2xx responses become *StatusError.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, b *body, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if b != nil {
		reader = b.reader
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if b != nil {
		req.Header.Set("Content-Type", b.contentType)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readDetail extracts FastAPI's {"detail": "..."} or falls back to the
// trimmed body text.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Detail) > 0 {
		var s string
		if json.Unmarshal(envelope.Detail, &s) == nil {
			return s
		}
		return string(envelope.Detail)
	}
	return strings.TrimSpace(string(raw))
}

// Verify Client implements Service.
var _ Service = (*Client)(nil)
