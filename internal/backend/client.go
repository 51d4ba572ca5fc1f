// Package backend is the HTTP client for the cost analysis service: the chat
// endpoint that answers queries and the dashboard-data endpoint.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zulandar/costdesk/internal/chat"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Default endpoint layout. The API base already ends in /api.
const (
	DefaultBaseURL       = "http://localhost:3001/api"
	DefaultChatPath      = "chat"
	DefaultDashboardPath = "dashboard"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

// Failure kinds. Every chat failure wraps exactly one of them.
var (
	ErrTransport = errors.New("backend: transport failure")
	ErrStatus    = errors.New("backend: non-success status")
	ErrMalformed = errors.New("backend: malformed response")
)

// StatusError reports a non-2xx response. It matches ErrStatus.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string // truncated response body, for operators
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend: %s: HTTP %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("backend: %s: HTTP %d: %s", e.Endpoint, e.Code, e.Body)
}

// Is lets errors.Is(err, ErrStatus) match.
func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Client talks to the analysis service. It implements chat.Backend.
type Client struct {
	http         *http.Client
	chatURL      string
	dashboardURL string
	log          *zap.Logger
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL       string        // defaults to DefaultBaseURL
	ChatPath      string        // defaults to DefaultChatPath
	DashboardPath string        // defaults to DefaultDashboardPath
	Token         string        // optional bearer token
	Timeout       time.Duration // zero means no client-side timeout
	HTTPClient    *http.Client  // optional base client (tests inject httptest clients)
	Log           *zap.Logger
}

// New creates a Client. Endpoints are the base URL joined with the fixed
// paths, so a trailing or missing slash on either side is harmless.
func New(opts ClientOpts) (*Client, error) {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend: invalid base url %q", base)
	}
	chatPath := opts.ChatPath
	if chatPath == "" {
		chatPath = DefaultChatPath
	}
	dashPath := opts.DashboardPath
	if dashPath == "" {
		dashPath = DefaultDashboardPath
	}
	chatURL, err := url.JoinPath(base, chatPath)
	if err != nil {
		return nil, fmt.Errorf("backend: chat endpoint: %w", err)
	}
	dashURL, err := url.JoinPath(base, dashPath)
	if err != nil {
		return nil, fmt.Errorf("backend: dashboard endpoint: %w", err)
	}

	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		http:         newHTTPClient(opts.HTTPClient, opts.Token, opts.Timeout),
		chatURL:      chatURL,
		dashboardURL: dashURL,
		log:          log,
	}, nil
}

// newHTTPClient wraps base with a static bearer token source when a token is
// configured.
func newHTTPClient(base *http.Client, token string, timeout time.Duration) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := base
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: token,
			TokenType:   "Bearer",
		}))
	}
	if timeout > 0 {
		c := *client
		c.Timeout = timeout
		client = &c
	}
	return client
}

// ChatURL returns the resolved chat endpoint.
func (c *Client) ChatURL() string { return c.chatURL }

// DashboardURL returns the resolved dashboard-data endpoint.
func (c *Client) DashboardURL() string { return c.dashboardURL }

// chatRequest is the chat endpoint body. SessionID marshals as null before
// the backend has assigned one.
type chatRequest struct {
	Query     string  `json:"query"`
	SessionID *string `json:"sessionId"`
}

// chatResponse is decoded with optional fields so that a missing answer can
// be told apart from an empty one. Citations are decoded leniently later.
type chatResponse struct {
	Answer    *string         `json:"answer"`
	SessionID *string         `json:"sessionId"`
	Citations json.RawMessage `json:"citations"`
}

// Chat sends one query to the chat endpoint.
func (c *Client) Chat(ctx context.Context, query, sessionID string) (chat.Result, error) {
	reqBody := chatRequest{Query: query}
	if sessionID != "" {
		reqBody.SessionID = &sessionID
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return chat.Result{}, fmt.Errorf("backend: encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(payload))
	if err != nil {
		return chat.Result{}, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req, "chat")
	if err != nil {
		return chat.Result{}, err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return chat.Result{}, fmt.Errorf("%w: chat: %v", ErrMalformed, err)
	}
	if resp.Answer == nil {
		return chat.Result{}, fmt.Errorf("%w: chat: answer missing", ErrMalformed)
	}

	res := chat.Result{
		Answer:    *resp.Answer,
		Citations: chat.DecodeCitationGroups(resp.Citations),
	}
	if resp.SessionID != nil {
		res.SessionID = *resp.SessionID
	}
	return res, nil
}

// Dashboard fetches the dashboard payload. The payload is opaque; it only has
// to be valid JSON.
func (c *Client) Dashboard(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.dashboardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req, "dashboard")
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: dashboard: invalid json", ErrMalformed)
	}
	return json.RawMessage(body), nil
}

// do performs req and returns the body of a 2xx response.
func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrTransport, endpoint, err)
	}

	c.log.Debug("backend request",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Endpoint: endpoint,
			Code:     resp.StatusCode,
			Body:     truncate(strings.TrimSpace(string(body)), 200),
		}
	}
	return body, nil
}

// truncate returns s cut to at most maxLen bytes with "..." appended if
// needed. The cut never splits a UTF-8 sequence.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
