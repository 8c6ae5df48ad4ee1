// Package router resolves MCP method calls to the backend that owns the
// target tool, resource, or prompt, and merges per-backend catalogs into
// the union the Gateway Core exposes to clients.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gatewayd/internal/jsonrpc"
	"gatewayd/internal/registry"
)

// BackendCaller is the subset of *registry.Registry the Router depends on,
// so it can be tested against a fake.
type BackendCaller interface {
	Snapshot() *registry.Snapshot
	CallBackend(ctx context.Context, backendID, method string, params interface{}) (interface{}, error)
}

// Router dispatches tools/call, resources/read, resources/subscribe, and
// prompts/get to the owning backend, enforcing its own per-call deadline
// independently of the backend's; whichever of the two is tighter applies.
type Router struct {
	backends       BackendCaller
	defaultTimeout time.Duration
}

// New constructs a Router over the given registry. defaultTimeout bounds
// every dispatched call unless the caller's context already carries a
// tighter deadline.
func New(backends BackendCaller, defaultTimeout time.Duration) *Router {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Router{backends: backends, defaultTimeout: defaultTimeout}
}

// ListTools returns the union catalog's primary tool entries.
func (r *Router) ListTools() []interface{} {
	snap := r.backends.Snapshot()
	out := make([]interface{}, 0, len(snap.Tools))
	for _, t := range snap.Tools {
		out = append(out, t.Tool)
	}
	return out
}

// ListResources returns the union catalog's primary resource entries.
func (r *Router) ListResources() []interface{} {
	snap := r.backends.Snapshot()
	out := make([]interface{}, 0, len(snap.Resources))
	for _, res := range snap.Resources {
		out = append(out, res.Resource)
	}
	return out
}

// ListPrompts returns the union catalog's primary prompt entries.
func (r *Router) ListPrompts() []interface{} {
	snap := r.backends.Snapshot()
	out := make([]interface{}, 0, len(snap.Prompts))
	for _, p := range snap.Prompts {
		out = append(out, p.Prompt)
	}
	return out
}

// Shadowed returns every collision-losing entry, visible to admin tooling
// but never to clients.
func (r *Router) Shadowed() []registry.ShadowedEntry {
	return r.backends.Snapshot().Shadowed
}

// toolCallParams mirrors the inbound tools/call request shape.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type resourceParams struct {
	URI string `json:"uri"`
}

type promptParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Dispatch routes one aggregator-owned method (tools/call, resources/read,
// resources/subscribe, prompts/get) to its backend. Any other method gets a
// MethodNotFound error; the Gateway Core answers locally-handled methods,
// like initialize and ping, before they reach here.
func (r *Router) Dispatch(ctx context.Context, method string, rawParams json.RawMessage) (interface{}, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, r.defaultTimeout)
	defer cancel()

	switch method {
	case "tools/call":
		var p toolCallParams
		if err := json.Unmarshal(rawParams, &p); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		entry, ok := r.backends.Snapshot().Tools[p.Name]
		if !ok {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: fmt.Sprintf("unknown tool %q", p.Name)}
		}
		var args interface{}
		if len(p.Arguments) > 0 {
			if err := json.Unmarshal(p.Arguments, &args); err != nil {
				return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
			}
		}
		return r.forward(deadlineCtx, entry.BackendID, "tools/call", map[string]interface{}{"name": p.Name, "arguments": args})

	case "resources/read", "resources/subscribe":
		var p resourceParams
		if err := json.Unmarshal(rawParams, &p); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		entry, ok := r.backends.Snapshot().Resources[p.URI]
		if !ok {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: fmt.Sprintf("unknown resource %q", p.URI)}
		}
		return r.forward(deadlineCtx, entry.BackendID, method, map[string]interface{}{"uri": p.URI})

	case "prompts/get":
		var p promptParams
		if err := json.Unmarshal(rawParams, &p); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		entry, ok := r.backends.Snapshot().Prompts[p.Name]
		if !ok {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: fmt.Sprintf("unknown prompt %q", p.Name)}
		}
		return r.forward(deadlineCtx, entry.BackendID, "prompts/get", map[string]interface{}{"name": p.Name, "arguments": p.Arguments})

	default:
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", method)}
	}
}

func (r *Router) forward(ctx context.Context, backendID, method string, params interface{}) (interface{}, error) {
	result, err := r.backends.CallBackend(ctx, backendID, method, params)
	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.CodeInternalError,
			Message: "request timed out",
			Data:    mustMarshal(jsonrpc.ErrorData{Kind: "timeout", BackendID: backendID}),
		}
	}
	return nil, &jsonrpc.Error{
		Code:    jsonrpc.CodeInternalError,
		Message: "backend unavailable",
		Data:    mustMarshal(jsonrpc.ErrorData{Kind: "backend_unavailable", BackendID: backendID, Detail: err.Error()}),
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
