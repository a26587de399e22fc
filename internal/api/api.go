package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joescharf/voxpilot/internal/interpret"
	"github.com/joescharf/voxpilot/internal/models"
	"github.com/joescharf/voxpilot/internal/store"
	"github.com/joescharf/voxpilot/internal/tools"
)

// Prefix is the path every backend route lives under.
const Prefix = "/v1/api"

const (
	tokenPrefix   = "mock-jwt-token"
	tokenLifetime = 7 * 24 * 60 * 60
	defaultPass   = "password"
	firstNewUser  = 10
)

type account struct {
	id       int64
	username string
	email    string
	password string
	role     string
}

// Server is the intent and tool backend.
type Server struct {
	store  store.Store
	tools  *tools.Registry
	interp interpret.Interpreter
	log    *slog.Logger

	mu     sync.Mutex
	users  map[string]*account
	nextID int64
}

// NewServer creates a backend with the built-in user, developer and admin
// accounts. The logger may be nil.
func NewServer(s store.Store, reg *tools.Registry, interp interpret.Interpreter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{
		store:  s,
		tools:  reg,
		interp: interp,
		log:    log,
		users:  make(map[string]*account),
		nextID: firstNewUser,
	}
	for i, role := range []string{models.RoleUser, models.RoleDeveloper, models.RoleAdmin} {
		srv.users[role] = &account{id: int64(i + 1), username: role, password: defaultPass, role: role}
	}
	return srv
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+Prefix+"/auth/token", s.login)
	mux.HandleFunc("POST "+Prefix+"/auth/register", s.register)
	mux.HandleFunc("POST "+Prefix+"/auth/refresh", s.refresh)

	mux.HandleFunc("POST "+Prefix+"/interpret", s.interpret)
	mux.HandleFunc("POST "+Prefix+"/execute", s.execute)
	mux.HandleFunc("GET "+Prefix+"/tools", s.listTools)
	mux.HandleFunc("GET "+Prefix+"/session/live", s.live)

	mux.HandleFunc("GET "+Prefix+"/dev/tools", s.developerOnly(s.listDevTools))
	mux.HandleFunc("POST "+Prefix+"/dev/tools", s.developerOnly(s.createDevTool))
	mux.HandleFunc("DELETE "+Prefix+"/dev/tools/{id}", s.developerOnly(s.deleteDevTool))

	mux.HandleFunc("/", s.notFound)

	return corsMiddleware(s.logRequests(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the live session endpoint upgrade through the logger.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{"code","message"}}; the code is derived from status.
func writeError(w http.ResponseWriter, status int, msg string) {
	code := strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}

// writeDetail writes the {"detail": msg} shape used by the auth endpoints.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, fmt.Sprintf("未找到API: %s %s", r.Method, r.URL.Path))
}

// --- Auth ---

func issueToken(role string) string {
	return tokenPrefix + "-" + role
}

// tokenRole returns the role carried by a bearer token. The bare mock token
// counts as a plain user.
func tokenRole(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	tok, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return "", false
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(tok), tokenPrefix)
	if !ok {
		return "", false
	}
	if rest == "" {
		return models.RoleUser, true
	}
	switch role := strings.TrimPrefix(rest, "-"); role {
	case models.RoleUser, models.RoleDeveloper, models.RoleAdmin:
		return role, true
	}
	return "", false
}

func (s *Server) developerOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, _ := tokenRole(r)
		if role != models.RoleDeveloper && role != models.RoleAdmin {
			writeError(w, http.StatusForbidden, "无权限访问")
			return
		}
		next(w, r)
	}
}

// credentials reads username and password from a form or JSON body.
func credentials(r *http.Request) (string, string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", "", err
		}
		return body.Username, body.Password, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", "", err
	}
	return r.PostForm.Get("username"), r.PostForm.Get("password"), nil
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	username, password, err := credentials(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "登录请求格式错误")
		return
	}

	s.mu.Lock()
	acct, ok := s.users[username]
	s.mu.Unlock()
	if !ok || acct.password != password {
		s.log.Info("login rejected", "username", username)
		writeDetail(w, http.StatusUnauthorized, "用户名或密码不正确")
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{
		AccessToken: issueToken(acct.role),
		TokenType:   "bearer",
		ExpiresIn:   tokenLifetime,
		UserID:      strconv.FormatInt(acct.id, 10),
		Username:    acct.username,
		Role:        acct.role,
	})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "注册请求格式错误")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeDetail(w, http.StatusBadRequest, "用户名和密码不能为空")
		return
	}

	s.mu.Lock()
	if _, exists := s.users[req.Username]; exists {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "用户名已存在")
		return
	}
	acct := &account{
		id:       s.nextID,
		username: req.Username,
		email:    req.Email,
		password: req.Password,
		role:     models.RoleUser,
	}
	s.users[req.Username] = acct
	s.nextID++
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, models.User{
		ID:       acct.id,
		Username: acct.username,
		Email:    acct.email,
		Role:     acct.role,
	})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	role, ok := tokenRole(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "无效的令牌")
		return
	}
	writeJSON(w, http.StatusOK, models.LoginResponse{
		AccessToken: issueToken(role),
		TokenType:   "bearer",
		ExpiresIn:   tokenLifetime,
	})
}

// --- Intent and tools ---

func (s *Server) interpret(w http.ResponseWriter, r *http.Request) {
	if _, ok := tokenRole(r); !ok {
		writeDetail(w, http.StatusUnauthorized, "未认证")
		return
	}

	var body struct {
		Query     string `json:"query"`
		Text      string `json:"text"`
		UserID    int64  `json:"userId"`
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式无效")
		return
	}
	query := body.Query
	if query == "" {
		query = body.Text
	}
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "查询内容不能为空")
		return
	}

	res, err := s.Interpret(r.Context(), query, body.SessionID)
	if err != nil {
		s.log.Error("interpret failed", "error", err)
		writeError(w, http.StatusInternalServerError, "意图解析失败")
		return
	}
	s.log.Debug("interpreted", "query", query, "type", res.Type, "session", res.SessionID, "user", body.UserID)
	writeJSON(w, http.StatusOK, res)
}

// Interpret plans a tool call for utterance. A new backend session id is
// issued when sessionID is empty.
func (s *Server) Interpret(ctx context.Context, utterance, sessionID string) (*models.Interpretation, error) {
	res, err := s.interp.Interpret(ctx, utterance)
	if err != nil {
		return nil, err
	}
	res.SessionID = sessionID
	if res.SessionID == "" {
		res.SessionID = store.NewID()
	}
	return res, nil
}

// ExecuteTool runs one tool call against the registry.
func (s *Server) ExecuteTool(ctx context.Context, sessionID, toolID string, params map[string]any) (*models.ExecuteResult, error) {
	data, err := s.tools.Execute(ctx, toolID, params)
	if err != nil {
		return nil, err
	}
	return &models.ExecuteResult{
		Success:   true,
		ToolID:    toolID,
		SessionID: sessionID,
		Data:      data,
	}, nil
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	if _, ok := tokenRole(r); !ok {
		writeDetail(w, http.StatusUnauthorized, "未认证")
		return
	}

	var req models.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式无效")
		return
	}

	res, err := s.ExecuteTool(r.Context(), req.SessionID, req.ToolID, req.Params)
	if err != nil {
		switch {
		case errors.Is(err, tools.ErrUnsupported), errors.Is(err, tools.ErrInvalidParams):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Error("tool failed", "tool", req.ToolID, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type toolList struct {
	Tools []models.Tool `json:"tools"`
}

func (s *Server) listTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toolList{Tools: s.tools.Catalog()})
}

// --- Developer tools ---

func (s *Server) listDevTools(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListDevTools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := toolList{Tools: make([]models.Tool, 0, len(list))}
	for _, t := range list {
		out.Tools = append(out.Tools, *t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createDevTool(w http.ResponseWriter, r *http.Request) {
	var tool models.Tool
	if err := json.NewDecoder(r.Body).Decode(&tool); err != nil {
		writeError(w, http.StatusBadRequest, "无效的请求格式")
		return
	}
	if tool.Name == "" {
		writeError(w, http.StatusBadRequest, "工具名称不能为空")
		return
	}
	if err := tools.CheckSchema(tool.RequestSchema); err != nil {
		writeError(w, http.StatusBadRequest, "request_schema 无效: "+err.Error())
		return
	}

	if err := s.store.CreateDevTool(r.Context(), &tool); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, tool)
}

func (s *Server) deleteDevTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteDevTool(r.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
