package api

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
)

var (
	// ErrUnexpectedShape reports a read response that does not look like the
	// collection it was requested as.
	ErrUnexpectedShape = errors.New("unexpected response shape")
	// ErrServerRejected reports a write answered with {"success": false}.
	ErrServerRejected = errors.New("server rejected request")
)

// StatusError is returned for 4xx/5xx responses.
type StatusError struct {
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api %s returned status %d", e.Path, e.Code)
	}
	return fmt.Sprintf("api %s returned status %d: %s", e.Path, e.Code, e.Message)
}

// Client talks to the event-operations HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

const (
	defaultAPIURL    = "127.0.0.1:3000"
	defaultUserAgent = "hackops/0.1"
	requestTimeout   = 10 * time.Second
	maxResponseBytes = 8 << 20
)

// NewClient builds a Client for apiURL. The jar carries the session cookie
// on every request; nil disables cookies.
func NewClient(apiURL string, jar http.CookieJar) (*Client, error) {
	base, err := parseBaseURL(apiURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: requestTimeout,
			Jar:     jar,
		},
		userAgent: defaultUserAgent,
	}, nil
}

// BaseURL returns a copy of the API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Exec performs a write request. A 2xx answer carrying {"success": false}
// is reported as ErrServerRejected.
func (c *Client) Exec(ctx context.Context, req Request) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	rel, err := url.Parse(req.Path)
	if err != nil {
		return fmt.Errorf("parse path %q: %w", req.Path, err)
	}
	body, err := c.doURL(ctx, req.Method, rel, req.Body)
	if err != nil {
		return err
	}
	return checkWriteResponse(body)
}

// Probe issues a lightweight GET used for reachability checks.
func (c *Client) Probe(ctx context.Context, path string) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(path) == "" {
		path = PathHealth
	}
	_, err := c.do(ctx, http.MethodGet, path, nil)
	return err
}

// FetchSettings retrieves the settings singleton.
func (c *Client) FetchSettings(ctx context.Context) (Settings, error) {
	if c == nil {
		return Settings{}, fmt.Errorf("client is nil")
	}
	data, err := c.do(ctx, http.MethodGet, PathSettings, nil)
	if err != nil {
		return Settings{}, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Settings{}, fmt.Errorf("%w: settings is not an object", ErrUnexpectedShape)
	}
	var payload Settings
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return Settings{}, fmt.Errorf("%w: decode settings: %v", ErrUnexpectedShape, err)
	}
	return payload, nil
}

// UpdateSettingsRequest builds the write that replaces the settings singleton.
func UpdateSettingsRequest(s Settings) (Request, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return Request{}, fmt.Errorf("encode settings: %w", err)
	}
	return Request{Method: http.MethodPut, Path: PathSettings, Body: body}, nil
}

// MarkAttendance records attendance for a set of participants.
func (c *Client) MarkAttendance(ctx context.Context, req AttendanceRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode attendance: %w", err)
	}
	return c.Exec(ctx, Request{Method: http.MethodPost, Path: PathAttendance, Body: body})
}

// AllocateLabs asks the server to assign teams to labs.
func (c *Client) AllocateLabs(ctx context.Context) error {
	return c.Exec(ctx, Request{Method: http.MethodPost, Path: PathAllocateLabs})
}

// ProcessEmailQueue asks the server to flush its pending email queue.
func (c *Client) ProcessEmailQueue(ctx context.Context) error {
	return c.Exec(ctx, Request{Method: http.MethodPost, Path: PathProcessEmails})
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	rel := &url.URL{Path: path}
	return c.doURL(ctx, method, rel, body)
}

func (c *Client) doURL(ctx context.Context, method string, rel *url.URL, body []byte) ([]byte, error) {
	reqURL := c.baseURL.ResolveReference(rel)
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{Path: rel.Path, Code: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

func checkWriteResponse(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var env WriteResponse
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		if msg == "" {
			return ErrServerRejected
		}
		return fmt.Errorf("%w: %s", ErrServerRejected, msg)
	}
	return nil
}

func errorMessage(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ""
	}
	var env WriteResponse
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &env) == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Error != "" {
			return env.Error
		}
	}
	msg := strings.TrimSpace(string(trimmed))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func parseBaseURL(apiURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(apiURL)
	if trimmed == "" {
		trimmed = defaultAPIURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api_url %q: %w", apiURL, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
