package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/auth"
	"github.com/cagekeep/broker/pkg/engine"
	"github.com/cagekeep/broker/pkg/packages"
	"github.com/cagekeep/broker/pkg/transport"
)

// jobStreamPollInterval is how often handleJobStream re-checks job state
// between SSE events. Jobs don't push state changes, so the handler polls;
// this keeps a terminal state visible to the client within half a second
// without hammering the engine.
const jobStreamPollInterval = 500 * time.Millisecond

// Adapter serves the broker's execution API over HTTP. It routes requests
// to the appropriate handler and serializes results to and from the
// domain types in pkg/api, dispatching everything through an Executor.
type Adapter struct {
	executor transport.Executor
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr            string
	MaxBodySize     int64
	ShutdownTimeout int // seconds
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxBodySize:     10 << 20, // 10 MB
		ShutdownTimeout: 30,
	}
}

// NewAdapter creates an HTTP adapter wrapping executor with the given
// middleware chain, in order.
func NewAdapter(executor transport.Executor, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		executor = transport.Chain(middlewares...)(executor)
	}

	a := &Adapter{
		executor: executor,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("POST /execute", a.handleExecuteSync)
	a.mux.HandleFunc("POST /execute/async", a.handleSubmitAsync)
	a.mux.HandleFunc("GET /jobs/{id}", a.handleJobStatus)
	a.mux.HandleFunc("GET /jobs/{id}/stream", a.handleJobStream)
	a.mux.HandleFunc("DELETE /jobs/{id}", a.handleCancelJob)

	a.mux.HandleFunc("GET /files", a.handleListFiles)
	a.mux.HandleFunc("GET /files/{path...}", a.handleReadFile)
	a.mux.HandleFunc("POST /files/{path...}", a.handleWriteFile)
	a.mux.HandleFunc("DELETE /files/{path...}", a.handleDeleteFile)

	a.mux.HandleFunc("GET /session", a.handleGetSession)
	a.mux.HandleFunc("POST /session", a.handleRecreateSession)
	a.mux.HandleFunc("DELETE /session", a.handleDeleteSession)

	a.mux.HandleFunc("GET /admin/sessions", a.handleAdminListSessions)
	a.mux.HandleFunc("GET /admin/stats", a.handleAdminStats)
	a.mux.HandleFunc("GET /admin/users", a.handleAdminListUsers)
	a.mux.HandleFunc("POST /admin/users", a.handleAdminCreateUser)
	a.mux.HandleFunc("DELETE /admin/users/{id}", a.handleAdminDeleteUser)

	a.mux.HandleFunc("GET /replays", a.handleListReplays)
	a.mux.HandleFunc("GET /replays/{id}", a.handleGetReplay)
	a.mux.HandleFunc("POST /replays/{id}/replay", a.handleReplayRerun)

	a.mux.HandleFunc("POST /packages/install", a.handleInstallPackage)

	a.mux.HandleFunc("GET /health", a.handleHealth)
	a.mux.Handle("GET /metrics", promhttp.Handler())

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler includes
// HTTP-level middleware for request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// httpRequestIDMiddleware is HTTP-level middleware that propagates the
// X-Request-ID header. If present in the request, it is forwarded to
// the response. After the handler runs, it checks the context for a
// request ID (set by the transport-level RequestID middleware) and adds
// it to the response headers if not already set.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx := transport.ContextWithRequestID(r.Context(), id)
			r = r.WithContext(ctx)
		}
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter wraps http.ResponseWriter to inject the
// X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// ---------------------------------------------------------------------------
// Identity helpers
// ---------------------------------------------------------------------------

// requirePrincipal extracts the authenticated caller's subject, writing an
// Unauthorized response and returning ok=false if none is present. Identity
// injection happens in auth.Middleware, which wraps this adapter's Handler
// upstream; a missing identity here means that middleware was not applied.
func (a *Adapter) requirePrincipal(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil || identity.Subject == "" {
		transport.WriteAPIError(w, api.NewUnauthorizedError("no authenticated principal"))
		return "", false
	}
	return identity.Subject, true
}

// requireAdmin extracts the caller's subject and requires the "admin"
// scope, writing a Forbidden response and returning ok=false otherwise.
func (a *Adapter) requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil || identity.Subject == "" {
		transport.WriteAPIError(w, api.NewUnauthorizedError("no authenticated principal"))
		return "", false
	}
	if !hasScope(identity, "admin") {
		transport.WriteAPIError(w, api.NewForbiddenError("admin scope required"))
		return "", false
	}
	return identity.Subject, true
}

func hasScope(identity *auth.Identity, scope string) bool {
	for _, s := range identity.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func isAdmin(r *http.Request) bool {
	identity := auth.IdentityFromContext(r.Context())
	return identity != nil && hasScope(identity, "admin")
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

// dispatchError translates an error returned directly by an Executor call
// (never reaching the execution pipeline, as opposed to a pipeline result
// with a non-success Status) into a transport-layer api.Error.
func dispatchError(err error) *api.Error {
	switch {
	case errors.Is(err, engine.ErrPrincipalNotFound):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, engine.ErrPrincipalDisabled):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, engine.ErrLanguageNotAllowed):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, engine.ErrReplayNotFound):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, engine.ErrReplayForbidden):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, engine.ErrReplayDisabled):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, engine.ErrFileNotFound):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, packages.ErrDisabled):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, packages.ErrNotAllowed):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, packages.ErrLimitExceeded):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, packages.ErrInvalidName):
		return api.NewInvalidRequestError("name", err.Error())
	case errors.Is(err, packages.ErrLanguageUnsupported):
		return api.NewInvalidRequestError("language", err.Error())
	default:
		return api.NewInternalError(err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readAllBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func (a *Adapter) decodeExecutionRequest(w http.ResponseWriter, r *http.Request) (*api.ExecutionRequest, bool) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req api.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return nil, false
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return nil, false
	}

	if apiErr := api.ValidateExecutionRequest(&req); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return nil, false
	}
	return &req, true
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// handleExecuteSync handles POST /execute.
func (a *Adapter) handleExecuteSync(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	req, ok := a.decodeExecutionRequest(w, r)
	if !ok {
		return
	}

	result, err := a.executor.ExecuteSync(r.Context(), principalID, *req)
	if err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSubmitAsync handles POST /execute/async.
func (a *Adapter) handleSubmitAsync(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	req, ok := a.decodeExecutionRequest(w, r)
	if !ok {
		return
	}

	job, err := a.executor.SubmitAsync(r.Context(), principalID, *req)
	if err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleJobStatus handles GET /jobs/{id}.
func (a *Adapter) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := a.executor.JobStatus(r.Context(), id)
	if !ok {
		transport.WriteAPIError(w, api.NewNotFoundError("job "+id+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobStream handles GET /jobs/{id}/stream, sending a server-sent
// event each time the job's state changes until it reaches a terminal
// state or the client disconnects.
func (a *Adapter) handleJobStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := a.executor.JobStatus(r.Context(), id)
	if !ok {
		transport.WriteAPIError(w, api.NewNotFoundError("job "+id+" not found"))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	a.inflight.Register(id, cancel)
	defer a.inflight.Remove(id)

	sw := newSSEJobWriter(w)
	if err := sw.WriteEvent(job); err != nil {
		return
	}
	lastState := job.State
	if terminalJobStates[lastState] {
		return
	}

	ticker := time.NewTicker(jobStreamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, ok := a.executor.JobStatus(r.Context(), id)
			if !ok {
				return
			}
			if job.State == lastState {
				continue
			}
			lastState = job.State
			if err := sw.WriteEvent(job); err != nil {
				return
			}
			if terminalJobStates[job.State] {
				return
			}
		}
	}
}

// handleCancelJob handles DELETE /jobs/{id}. It cancels an open stream
// watching the job, if any, then asks the engine to cancel the job itself.
func (a *Adapter) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	streamCancelled := a.inflight.Cancel(id)
	jobCancelled := a.executor.CancelJob(r.Context(), id)

	if !streamCancelled && !jobCancelled {
		if _, ok := a.executor.JobStatus(r.Context(), id); !ok {
			transport.WriteAPIError(w, api.NewNotFoundError("job "+id+" not found"))
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Workspace files
// ---------------------------------------------------------------------------

// handleListFiles handles GET /files.
func (a *Adapter) handleListFiles(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	files, err := a.executor.ListFiles(r.Context(), principalID)
	if err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// handleReadFile handles GET /files/{path...}.
func (a *Adapter) handleReadFile(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	path := r.PathValue("path")
	if path == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("path", "path is required"))
		return
	}

	data, err := a.executor.ReadFile(r.Context(), principalID, path)
	if err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// handleWriteFile handles POST /files/{path...}. The request body is
// written verbatim as the file's content.
func (a *Adapter) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	path := r.PathValue("path")
	if path == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("path", "path is required"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	content, err := readAllBody(r)
	if err != nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
			http.StatusRequestEntityTooLarge,
		)
		return
	}

	if err := a.executor.WriteFile(r.Context(), principalID, path, content); err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteFile handles DELETE /files/{path...}.
func (a *Adapter) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	path := r.PathValue("path")
	if path == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("path", "path is required"))
		return
	}

	if err := a.executor.DeleteFile(r.Context(), principalID, path); err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// handleGetSession handles GET /session.
func (a *Adapter) handleGetSession(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	sess, ok := a.executor.SessionInfo(r.Context(), principalID)
	if !ok {
		transport.WriteAPIError(w, api.NewNotFoundError("no session for this principal"))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleRecreateSession handles POST /session.
func (a *Adapter) handleRecreateSession(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	sess, err := a.executor.RecreateSession(r.Context(), principalID)
	if err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleDeleteSession handles DELETE /session. A "purge=true" query
// parameter also removes the principal's workspace data.
func (a *Adapter) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	purge := r.URL.Query().Get("purge") == "true"
	if err := a.executor.TerminateSession(r.Context(), principalID, purge); err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

// handleAdminListSessions handles GET /admin/sessions.
func (a *Adapter) handleAdminListSessions(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.executor.ListSessions(r.Context()))
}

// handleAdminStats handles GET /admin/stats.
func (a *Adapter) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	stats, err := a.executor.Stats(r.Context())
	if err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleAdminListUsers handles GET /admin/users.
func (a *Adapter) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	profiles, err := a.executor.ListPrincipals(r.Context())
	if err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// handleAdminCreateUser handles POST /admin/users.
func (a *Adapter) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	var profile api.PrincipalProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return
	}
	if profile.PrincipalID == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("principal_id", "principal_id is required"))
		return
	}

	if err := a.executor.CreatePrincipal(r.Context(), &profile); err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

// handleAdminDeleteUser handles DELETE /admin/users/{id}.
func (a *Adapter) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	id := r.PathValue("id")
	if err := a.executor.DeletePrincipal(r.Context(), id); err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Replay
// ---------------------------------------------------------------------------

// handleListReplays handles GET /replays. Admins see every principal's
// records; everyone else sees only their own.
func (a *Adapter) handleListReplays(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	scope := principalID
	if isAdmin(r) {
		scope = ""
	}
	writeJSON(w, http.StatusOK, a.executor.ListReplays(r.Context(), scope))
}

// handleGetReplay handles GET /replays/{id}.
func (a *Adapter) handleGetReplay(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	rec, ok := a.executor.Replay(r.Context(), id)
	if !ok {
		transport.WriteAPIError(w, api.NewNotFoundError("replay "+id+" not found"))
		return
	}
	if rec.PrincipalID != principalID && !isAdmin(r) {
		transport.WriteAPIError(w, api.NewForbiddenError("replay belongs to a different principal"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleReplayRerun handles POST /replays/{id}/replay. Admins may rerun any
// principal's replay; everyone else may only rerun their own.
func (a *Adapter) handleReplayRerun(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	requester := principalID
	if isAdmin(r) {
		if rec, found := a.executor.Replay(r.Context(), id); found {
			requester = rec.PrincipalID
		}
	}

	result, err := a.executor.ReplayRerun(r.Context(), requester, id)
	if err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ---------------------------------------------------------------------------
// Packages
// ---------------------------------------------------------------------------

// packageInstallRequest is the POST /packages/install body.
type packageInstallRequest struct {
	Language api.Language `json:"language"`
	Name     string       `json:"name"`
}

// handleInstallPackage handles POST /packages/install.
func (a *Adapter) handleInstallPackage(w http.ResponseWriter, r *http.Request) {
	principalID, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	var req packageInstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return
	}
	if req.Name == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("name", "name is required"))
		return
	}

	result, err := a.executor.InstallPackage(r.Context(), principalID, req.Language, req.Name)
	if err != nil {
		transport.WriteAPIError(w, dispatchError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// handleHealth handles GET /health. It carries no authentication
// requirement, matching /metrics in auth.DefaultBypassEndpoints.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
