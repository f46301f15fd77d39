// Package client is a Go SDK for the assessment session engine.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
)

// ErrResultsPending is returned by Results while the session is running.
var ErrResultsPending = errors.New("results pending")

// APIError is an error envelope returned by the engine.
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code response.ErrCode) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to one engine deployment. A client without a token uses
// the public, anonymous routes.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithToken authenticates every request with a bearer JWT.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// New creates a new engine client
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Authenticated reports whether the client sends a token.
func (c *Client) Authenticated() bool { return c.token != "" }

// ─── Sessions ───────────────────────────────────────────────────────────────

// StartSession starts an attempt. Authenticated clients own the session;
// others start an anonymous one.
func (c *Client) StartSession(ctx context.Context, req model.StartSessionRequest) (*model.StartSessionResponse, error) {
	path := "/api/v1/public/sessions/start"
	if c.Authenticated() {
		path = "/api/v1/sessions/start"
	}
	var out model.StartSessionResponse
	if err := c.do(ctx, http.MethodPost, path, req, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit grades a session. Submitting an already graded session returns
// its stored result with AlreadyCompleted set.
func (c *Client) Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResponse, error) {
	path := "/api/v1/public/sessions/submit"
	if c.Authenticated() {
		path = "/api/v1/sessions/submit"
	}
	var out model.SubmitResponse
	if err := c.do(ctx, http.MethodPost, path, req, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// State returns the server-clocked state of a session.
func (c *Client) State(ctx context.Context, sessionID string) (*model.SessionState, error) {
	var out model.SessionState
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "state"), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Results returns the graded breakdown, or ErrResultsPending.
func (c *Client) Results(ctx context.Context, sessionID string) (*model.DetailedResult, error) {
	var out model.DetailedResult
	status := 0
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "results"), nil, &out, &status); err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		return nil, ErrResultsPending
	}
	return &out, nil
}

// ListOptions narrows ListSessions.
type ListOptions struct {
	Scope         string
	QuestionSetID string
	Status        model.SessionStatus
	Skip          int
	Limit         int
}

// ListSessions lists sessions visible to the token holder.
func (c *Client) ListSessions(ctx context.Context, opts ListOptions) ([]model.SessionSummary, *response.Pagination, error) {
	q := url.Values{}
	if opts.Scope != "" {
		q.Set("scope", opts.Scope)
	}
	if opts.QuestionSetID != "" {
		q.Set("question_set_id", opts.QuestionSetID)
	}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Skip > 0 {
		q.Set("skip", strconv.Itoa(opts.Skip))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/api/v1/sessions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var env envelope[[]model.SessionSummary]
	if _, err := c.send(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, nil, err
	}
	return env.Data, env.Pagination, nil
}

// ─── Progress ───────────────────────────────────────────────────────────────

// SaveProgress stores a snapshot addressed by its session id.
func (c *Client) SaveProgress(ctx context.Context, req *model.SaveProgressRequest) (*model.ProgressAck, error) {
	var out model.ProgressAck
	if err := c.do(ctx, http.MethodPost, sessionPath(req.SessionID, "progress"), req, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadProgress returns the resumable snapshot of a session, or nil when
// there is none.
func (c *Client) LoadProgress(ctx context.Context, sessionID string) (*model.ProgressSnapshot, error) {
	return c.loadSnapshot(ctx, sessionPath(sessionID, "progress"))
}

// DeleteProgress discards a session's snapshot.
func (c *Client) DeleteProgress(ctx context.Context, sessionID string) (*model.ProgressAck, error) {
	var out model.ProgressAck
	if err := c.do(ctx, http.MethodDelete, sessionPath(sessionID, "progress"), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteProgress marks a session's snapshot as finished.
func (c *Client) CompleteProgress(ctx context.Context, sessionID string) (*model.ProgressAck, error) {
	var out model.ProgressAck
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "progress", "complete"), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// SavePublicProgress stores a snapshot addressed by the candidate email.
func (c *Client) SavePublicProgress(ctx context.Context, req *model.SaveProgressRequest) (*model.ProgressAck, error) {
	var out model.ProgressAck
	if err := c.do(ctx, http.MethodPost, "/api/v1/public/progress/save", req, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadPublicProgress returns the snapshot saved under an email, or nil
// when there is none.
func (c *Client) LoadPublicProgress(ctx context.Context, email string) (*model.ProgressSnapshot, error) {
	return c.loadSnapshot(ctx, "/api/v1/public/progress/load/"+url.PathEscape(email))
}

// DeletePublicProgress discards the snapshot saved under an email.
func (c *Client) DeletePublicProgress(ctx context.Context, email string) (*model.ProgressAck, error) {
	var out model.ProgressAck
	if err := c.do(ctx, http.MethodDelete, "/api/v1/public/progress/delete/"+url.PathEscape(email), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompletePublicProgress marks the snapshot saved under an email as finished.
func (c *Client) CompletePublicProgress(ctx context.Context, email string) (*model.ProgressAck, error) {
	var out model.ProgressAck
	if err := c.do(ctx, http.MethodPost, "/api/v1/public/progress/complete/"+url.PathEscape(email), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) loadSnapshot(ctx context.Context, path string) (*model.ProgressSnapshot, error) {
	var out *model.ProgressSnapshot
	if err := c.do(ctx, http.MethodGet, path, nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// ─── Transport ──────────────────────────────────────────────────────────────

type envelope[T any] struct {
	Data       T                    `json:"data"`
	Error      *response.ErrorBody  `json:"error"`
	Pagination *response.Pagination `json:"pagination"`
}

func sessionPath(sessionID string, parts ...string) string {
	return "/api/v1/sessions/" + url.PathEscape(sessionID) + "/" + strings.Join(parts, "/")
}

// do sends body as JSON and decodes the envelope's data into out. When
// status is non-nil it receives the HTTP status of a successful call.
func (c *Client) do(ctx context.Context, method, path string, body, out any, status *int) error {
	env := envelope[json.RawMessage]{}
	code, err := c.send(ctx, method, path, body, &env)
	if err != nil {
		return err
	}
	if status != nil {
		*status = code
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any, env any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return 0, decodeError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, env); err != nil {
		return 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return resp.StatusCode, nil
}

func decodeError(status int, raw []byte) error {
	var env envelope[json.RawMessage]
	apiErr := &APIError{Status: status, Code: response.ErrInternal, Message: http.StatusText(status)}
	if err := json.Unmarshal(raw, &env); err != nil || env.Error == nil {
		return apiErr
	}
	apiErr.Code = env.Error.Code
	apiErr.Message = env.Error.Message
	apiErr.Fields = env.Error.Fields
	return apiErr
}
