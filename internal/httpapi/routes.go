package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"gatewayd/internal/auth"
	"gatewayd/internal/gateway"
	"gatewayd/internal/jsonrpc"
	"gatewayd/internal/registry"
	"gatewayd/internal/session"
	"gatewayd/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps bundles everything the HTTP surface needs to serve a request. It is
// assembled once at startup by cmd/serve.go.
type Deps struct {
	Gateway     *gateway.Gateway
	Registry    *registry.Registry
	Sessions    *session.Manager
	AuthCore    *auth.Core
	AuthHandler *auth.Handler
	Metrics     *Metrics
	Icon        []byte
	IconSVG     []byte
}

// NewMux builds the complete route table. Routes that require an
// authenticated caller are wrapped in the auth middleware; OAuth token
// issuance, revocation, discovery, and branding assets are public.
func NewMux(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /sse", d.AuthCore.Middleware(http.HandlerFunc(d.handleSSE)))
	mux.Handle("POST /sse", d.AuthCore.Middleware(http.HandlerFunc(d.handleStatelessRPC)))
	mux.Handle("POST /rpc", d.AuthCore.Middleware(http.HandlerFunc(d.handleStatelessRPC)))
	mux.Handle("POST /message", d.AuthCore.Middleware(http.HandlerFunc(d.handleMessage)))

	mux.Handle("GET /admin/health", d.AuthCore.Middleware(http.HandlerFunc(d.handleHealth)))
	mux.Handle("GET /admin/status", d.AuthCore.Middleware(http.HandlerFunc(d.handleStatus)))
	mux.Handle("POST /admin/backends/{id}/restart", d.AuthCore.Middleware(http.HandlerFunc(d.handleRestartBackend)))
	mux.Handle("POST /admin/oauth/clients", d.AuthCore.Middleware(http.HandlerFunc(d.AuthHandler.ServeAdminAddClient)))
	mux.Handle("DELETE /admin/oauth/clients/{id}", d.AuthCore.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.AuthHandler.ServeAdminDeleteClient(w, r, r.PathValue("id"))
	})))

	mux.HandleFunc("POST /oauth/token", d.AuthHandler.ServeToken)
	mux.HandleFunc("POST /oauth/revoke", d.AuthHandler.ServeRevoke)
	mux.Handle("POST /oauth/validate", d.AuthCore.Middleware(http.HandlerFunc(d.AuthHandler.ServeValidate)))
	mux.HandleFunc("GET /oauth/authorize", d.AuthHandler.ServeAuthorize)
	mux.HandleFunc("GET /.well-known/openid-configuration", d.AuthHandler.ServeDiscovery)

	mux.HandleFunc("GET /icon.svg", d.handleIconSVG)
	mux.HandleFunc("GET /icon", d.handleIcon)

	mux.Handle("GET /metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	return mux
}

func (d Deps) handleSSE(w http.ResponseWriter, r *http.Request) {
	d.Metrics.ActiveSessions.Inc()
	defer d.Metrics.ActiveSessions.Dec()
	d.Sessions.ServeSSE(w, r, "/message")
}

// handleStatelessRPC serves a plain JSON-RPC request/response cycle with
// no session correlation, for POST /rpc and POST /sse.
func (d Deps) handleStatelessRPC(w http.ResponseWriter, r *http.Request) {
	resp := d.dispatchBody(r)
	writeJSONRPCResponse(w, resp)
}

// handleMessage serves POST /message: a session-correlated JSON-RPC call
// whose response is delivered both in the HTTP body and as a message
// event on the session's SSE stream.
func (d Deps) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-Id")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("sessionId")
	}
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	sess, ok := d.Sessions.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	resp := d.dispatchBody(r)
	if resp != nil {
		payload, err := json.Marshal(resp)
		if err == nil {
			sess.Send(session.Event{Name: "message", Data: payload})
		}
	}
	writeJSONRPCResponse(w, resp)
}

func (d Deps) dispatchBody(r *http.Request) *jsonrpc.Response {
	start := time.Now()
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return jsonrpc.NewError(nil, jsonrpc.CodeParseError, "failed to read request body", nil)
	}

	req, err := gateway.ParseRequest(raw)
	if err != nil {
		return jsonrpc.NewError(nil, jsonrpc.CodeParseError, err.Error(), nil)
	}

	resp := d.Gateway.Handle(r.Context(), req)

	outcome := "ok"
	if resp != nil && resp.Error != nil {
		outcome = "error"
	}
	d.Metrics.RPCRequestsTotal.WithLabelValues(req.Method, outcome).Inc()
	d.Metrics.RPCDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

	return resp
}

func writeJSONRPCResponse(w http.ResponseWriter, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp == nil {
		// Notification: no response body, per JSON-RPC 2.0.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	json.NewEncoder(w).Encode(resp)
}

type healthStatus struct {
	Status string `json:"status"`
}

func (d Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := d.Registry.Snapshot()
	status := "healthy"
	for _, b := range snap.Backends {
		if b.PermanentlyDegraded {
			status = "degraded"
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthStatus{Status: status})
}

type backendStatusView struct {
	ID                  string `json:"id"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	PermanentlyDegraded bool   `json:"permanentlyDegraded"`
}

type statusResponse struct {
	Backends      []backendStatusView `json:"backends"`
	ToolCount     int                 `json:"toolCount"`
	ResourceCount int                 `json:"resourceCount"`
	PromptCount   int                 `json:"promptCount"`
	SessionCount  int                 `json:"sessionCount"`
}

func (d Deps) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := d.Registry.Snapshot()
	resp := statusResponse{
		ToolCount:     len(snap.Tools),
		ResourceCount: len(snap.Resources),
		PromptCount:   len(snap.Prompts),
		SessionCount:  d.Sessions.Count(),
	}
	for _, b := range snap.Backends {
		resp.Backends = append(resp.Backends, backendStatusView{
			ID:                  b.ID,
			State:               b.State.String(),
			ConsecutiveFailures: b.ConsecutiveFailures,
			PermanentlyDegraded: b.PermanentlyDegraded,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (d Deps) handleRestartBackend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := d.Registry.RestartBackend(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	d.Metrics.BackendRestarts.WithLabelValues(id).Inc()
	logging.Audit(logging.AuditEvent{Action: "backend_restart", Outcome: "success", Target: id})
	w.WriteHeader(http.StatusAccepted)
}

func (d Deps) handleIconSVG(w http.ResponseWriter, r *http.Request) {
	if len(d.IconSVG) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write(d.IconSVG)
}

func (d Deps) handleIcon(w http.ResponseWriter, r *http.Request) {
	if len(d.Icon) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(d.Icon)
}
