// Package client talks to the intent classification and tool execution backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/voxpilot/internal/models"
	"github.com/joescharf/voxpilot/internal/store"
)

// DefaultBaseURL matches the bundled mock backend.
const DefaultBaseURL = "http://localhost:8000/v1/api"

var (
	// ErrNoUserID is returned before any request when no numeric user id is stored.
	ErrNoUserID = errors.New("缺少用户ID，请先登录")
	// ErrSessionExpired is returned when a 401 cannot be fixed by refreshing the token.
	ErrSessionExpired = errors.New("会话已过期，请重新登录")
)

// Client is an HTTP client for the backend API.
type Client struct {
	baseURL string
	http    *http.Client
	prefs   store.Prefs
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for baseURL that reads credentials from prefs.
func New(baseURL string, prefs store.Prefs, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		prefs:   prefs,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the backend root every path is joined to.
func (c *Client) BaseURL() string { return c.baseURL }

// apiError decodes both error shapes the backend produces.
type apiError struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// decodeError extracts a message from an error response, or returns fallback.
func decodeError(resp *http.Response, fallback string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil {
		switch {
		case e.Error.Message != "":
			return errors.New(e.Error.Message)
		case e.Detail != "":
			return errors.New(e.Detail)
		}
	}
	return errors.New(fallback)
}

func (c *Client) token(ctx context.Context) string {
	tok, _, err := c.prefs.GetPref(ctx, models.KeyAuthToken)
	if err != nil {
		c.log.Warn("read auth token", "error", err)
	}
	return tok
}

// userID returns the stored numeric user id.
func (c *Client) userID(ctx context.Context) (int64, error) {
	raw, ok, err := c.prefs.GetPref(ctx, models.KeyUserID)
	if err != nil {
		return 0, fmt.Errorf("read user id: %w", err)
	}
	if !ok || raw == "" {
		return 0, ErrNoUserID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrNoUserID
	}
	return id, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte, contentType string) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends an authenticated request. A 401 triggers one token refresh and
// one retry.
func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body []byte
	contentType := ""
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		contentType = "application/json"
	}

	send := func() (*http.Response, error) {
		req, err := c.newRequest(ctx, method, path, body, contentType)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token(ctx))
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		return resp, nil
	}

	resp, err := send()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	_ = resp.Body.Close()

	c.log.Debug("token rejected, refreshing", "path", path)
	if err := c.RefreshToken(ctx); err != nil {
		c.log.Warn("token refresh failed", "error", err)
		return nil, ErrSessionExpired
	}
	return send()
}

func decodeJSON(resp *http.Response, v any) error {
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// --- Auth ---

// Login exchanges a username and password for a token and stores the
// returned credentials.
func (c *Client) Login(ctx context.Context, username, password string) (*models.LoginResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := c.newRequest(ctx, http.MethodPost, "/auth/token", []byte(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp, "登录失败")
	}

	var out models.LoginResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	for k, v := range map[string]string{
		models.KeyAuthToken: out.AccessToken,
		models.KeyUserRole:  out.Role,
		models.KeyUserID:    out.UserID,
		models.KeyUsername:  out.Username,
	} {
		if err := c.prefs.SetPref(ctx, k, v); err != nil {
			return nil, fmt.Errorf("save credentials: %w", err)
		}
	}
	return &out, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, r models.RegisterRequest) (*models.User, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/register", body, "application/json")
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp, "注册失败")
	}
	var u models.User
	if err := decodeJSON(resp, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// RefreshToken swaps the stored token for a fresh one.
func (c *Client) RefreshToken(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/refresh", nil, "application/json")
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token(ctx))
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return errors.New("刷新令牌失败")
	}
	var out models.LoginResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	if err := c.prefs.SetPref(ctx, models.KeyAuthToken, out.AccessToken); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// --- Intent and tools ---

// Interpret sends an utterance to the classifier. sessionID is omitted when empty.
func (c *Client) Interpret(ctx context.Context, utterance, sessionID string) (*models.Interpretation, error) {
	uid, err := c.userID(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/interpret", models.InterpretRequest{
		Query:     utterance,
		UserID:    uid,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp, "意图解析失败")
	}

	var out models.Interpretation
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteTool runs a confirmed tool call.
func (c *Client) ExecuteTool(ctx context.Context, sessionID, toolID string, params map[string]any) (*models.ExecuteResult, error) {
	uid, err := c.userID(ctx)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}

	resp, err := c.do(ctx, http.MethodPost, "/execute", models.ExecuteRequest{
		SessionID: sessionID,
		UserID:    uid,
		ToolID:    toolID,
		Params:    params,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp, "工具执行失败")
	}

	var out models.ExecuteResult
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type toolList struct {
	Tools []*models.Tool `json:"tools"`
}

// Tools lists the tools the classifier can plan.
func (c *Client) Tools(ctx context.Context) ([]*models.Tool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/tools", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp, "获取工具列表失败")
	}
	var out toolList
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// --- Developer console ---

// DevTools lists custom tools. Requires a developer or admin token.
func (c *Client) DevTools(ctx context.Context) ([]*models.Tool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/dev/tools", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp, "获取工具失败")
	}
	var out toolList
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// CreateDevTool registers a custom tool.
func (c *Client) CreateDevTool(ctx context.Context, tool *models.Tool) (*models.Tool, error) {
	resp, err := c.do(ctx, http.MethodPost, "/dev/tools", tool)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp, "创建工具失败")
	}
	var out models.Tool
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDevTool removes a custom tool.
func (c *Client) DeleteDevTool(ctx context.Context, toolID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/dev/tools/"+url.PathEscape(toolID), nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return decodeError(resp, "删除工具失败")
	}
	return nil
}
