package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ripplehq/ripple/internal/domain"
	"github.com/ripplehq/ripple/internal/repository"
	"github.com/ripplehq/ripple/internal/service/auth"
	"github.com/ripplehq/ripple/internal/service/feed"
	"github.com/ripplehq/ripple/internal/service/upload"
	"github.com/ripplehq/ripple/internal/ws"
	"github.com/ripplehq/ripple/pkg/config"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	feed     feed.Service
	uploads  upload.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error
	cfg      config.APIConfig

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	wsConnections      prometheus.GaugeFunc
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitUpload    = 20
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, feedSvc feed.Service, uploadSvc upload.Service, hub *ws.Hub, limiter RateLimiter, cfg config.APIConfig, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		auth:    authSvc,
		feed:    feedSvc,
		uploads: uploadSvc,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(cfg.Environment),
		},
		limiter:  limiter,
		dbHealth: dbHealth,
		cfg:      cfg,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/auth/signup", r.audit(r.withRateLimit(rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit(r.withRateLimit(rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/users/me", r.audit(r.handlerAuthRate(rateLimitUserRead, rateWindowDefault, r.handleMe)))
	r.mux.HandleFunc("/posts", r.audit(r.handlerAuthRate(rateLimitUserWrite, rateWindowDefault, r.handlePosts)))
	r.mux.HandleFunc("/posts/", r.audit(r.handlerAuthRate(rateLimitUserWrite, rateWindowDefault, r.handlePostSubroutes)))
	r.mux.HandleFunc("/comments/", r.audit(r.handlerAuthRate(rateLimitUserWrite, rateWindowDefault, r.handleComment)))
	r.mux.HandleFunc("/upload", r.audit(r.handlerAuthRate(rateLimitUpload, rateWindowDefault, r.handleUpload)))
	r.mux.HandleFunc("/ws", r.audit(r.withRateLimit(rateLimitWebsocket, rateWindowRealtime, rateLimitKeyIP, r.handleWS)))
}

func userJSON(u *domain.User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"user_name":  u.Username,
		"email":      u.Email,
		"created_at": u.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": u.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func postJSON(p *domain.Post) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"author_id":      p.AuthorID,
		"content":        p.Content,
		"image_url":      p.ImageURL,
		"likes_count":    p.LikesCount,
		"comments_count": p.CommentsCount,
		"created_at":     p.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":     p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func commentJSON(c *domain.Comment) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"post_id":    c.PostID,
		"author_id":  c.AuthorID,
		"content":    c.Content,
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// serviceError maps service failures onto HTTP statuses without leaking
// internals.
func (r *Router) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, feed.ErrForbidden):
		writeError(w, http.StatusForbidden, "not authorized")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "incorrect username or password")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, auth.ErrDuplicateUser):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, upload.ErrInvalidFileType), errors.Is(err, upload.ErrTooLarge):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		r.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"user_name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Signup(req.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateUser) {
			r.serviceError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":         userJSON(user),
		"access_token": token.AccessToken,
		"token_type":   token.TokenType,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"user_name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	_, token, err := r.auth.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		r.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token.AccessToken,
		"token_type":   token.TokenType,
	})
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	user, err := r.auth.User(req.Context(), info.UserID)
	if err != nil {
		r.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userJSON(user))
}

func (r *Router) handlePosts(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload feed.PostInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		post, err := r.feed.CreatePost(req.Context(), info.UserID, payload)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, postJSON(post))
	case http.MethodGet:
		limit, offset := pageParams(req)
		posts, err := r.feed.ListPosts(req.Context(), limit, offset)
		if err != nil {
			r.serviceError(w, err)
			return
		}
		out := make([]map[string]any, 0, len(posts))
		for i := range posts {
			out = append(out, postJSON(&posts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePostSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/posts/")
	parts := strings.Split(trimmed, "/")
	postID := parts[0]
	if postID == "" {
		r.notFound(w)
		return
	}
	if len(parts) == 1 {
		r.handlePost(w, req, postID)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "comments":
			r.handlePostComments(w, req, postID)
			return
		case "likes":
			r.handlePostLikes(w, req, postID)
			return
		case "like":
			r.handleLikeToggle(w, req, postID)
			return
		}
	}
	r.notFound(w)
}

func (r *Router) handlePost(w http.ResponseWriter, req *http.Request, postID string) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodGet:
		post, err := r.feed.GetPost(req.Context(), postID)
		if err != nil {
			r.serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, postJSON(post))
	case http.MethodPut:
		var payload feed.PostInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		post, err := r.feed.UpdatePost(req.Context(), info.UserID, postID, payload)
		if err != nil {
			r.serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, postJSON(post))
	case http.MethodDelete:
		if err := r.feed.DeletePost(req.Context(), info.UserID, postID); err != nil {
			r.serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Post deleted successfully"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePostComments(w http.ResponseWriter, req *http.Request, postID string) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		comment, err := r.feed.CreateComment(req.Context(), info.UserID, postID, payload.Content)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.serviceError(w, err)
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, commentJSON(comment))
	case http.MethodGet:
		limit, offset := pageParams(req)
		comments, err := r.feed.ListComments(req.Context(), postID, limit, offset)
		if err != nil {
			r.serviceError(w, err)
			return
		}
		out := make([]map[string]any, 0, len(comments))
		for i := range comments {
			out = append(out, commentJSON(&comments[i]))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePostLikes(w http.ResponseWriter, req *http.Request, postID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	likes, err := r.feed.ListLikes(req.Context(), postID)
	if err != nil {
		r.serviceError(w, err)
		return
	}
	out := make([]map[string]string, 0, len(likes))
	for _, like := range likes {
		out = append(out, map[string]string{"post_id": like.PostID, "user_id": like.UserID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleLikeToggle(w http.ResponseWriter, req *http.Request, postID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	liked, err := r.feed.ToggleLike(req.Context(), info.UserID, postID)
	if err != nil {
		r.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Like toggled successfully",
		"liked":   liked,
	})
}

func (r *Router) handleComment(w http.ResponseWriter, req *http.Request) {
	commentID := strings.TrimPrefix(req.URL.Path, "/comments/")
	if commentID == "" || strings.Contains(commentID, "/") {
		r.notFound(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPut:
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		comment, err := r.feed.UpdateComment(req.Context(), info.UserID, commentID, payload.Content)
		if err != nil {
			r.serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commentJSON(comment))
	case http.MethodDelete:
		if err := r.feed.DeleteComment(req.Context(), info.UserID, commentID); err != nil {
			r.serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Comment deleted successfully"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxUploadBytes+1024)
	file, header, err := req.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	path, err := r.uploads.Save(info.UserID, header.Filename, file)
	if err != nil {
		r.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"filename": header.Filename,
		"location": path,
	})
}

// handleWS is the real-time session endpoint. The bearer token arrives
// as a query parameter and is resolved before the upgrade: a rejected
// principal never reaches the registry and the transport closes with a
// plain 401. After registration every inbound text frame is broadcast to
// all connected users as "Message from <name>: <payload>".
func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	user, err := r.auth.Authorize(req.Context(), req.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.cfg.WSSendBuffer, r.cfg.WSMaxMessageBytes, r.logger)
	r.hub.Register(user.ID, client)
	go client.WritePump()

	// Every exit from the read loop, normal or not, unregisters exactly
	// once.
	defer func() {
		r.hub.Unregister(user.ID, client)
		client.Close()
	}()
	client.ReadLoop(func(payload []byte) {
		r.hub.Broadcast(fmt.Appendf(nil, "Message from %s: %s", user.Username, payload))
	})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	components["websocket"] = map[string]any{
		"status":      "up",
		"connections": r.hub.CountConnections(),
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func pageParams(req *http.Request) (int, int) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(req.URL.Query().Get("skip"))
	if offset == 0 {
		offset, _ = strconv.Atoi(req.URL.Query().Get("offset"))
	}
	return limit, offset
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

// audit logs every request with its outcome and records metrics.
func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses entity IDs so metric cardinality stays bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return path
	}
	switch parts[0] {
	case "posts":
		if len(parts) == 1 {
			return "/posts"
		}
		if len(parts) == 3 {
			return "/posts/{id}/" + parts[2]
		}
		return "/posts/{id}"
	case "comments":
		if len(parts) > 1 {
			return "/comments/{id}"
		}
	}
	return path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

// checkOrigin admits any browser origin in development. Elsewhere the
// Origin header, when a browser sends one, must match the request host.
// Non-browser clients send no Origin and pass.
func checkOrigin(env string) func(*http.Request) bool {
	return func(req *http.Request) bool {
		if env == "development" {
			return true
		}
		origin := req.Header.Get("Origin")
		if origin == "" {
			return true
		}
		parsed, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(parsed.Host, req.Host)
	}
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
