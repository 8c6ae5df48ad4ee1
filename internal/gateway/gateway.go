// Package gateway is the JSON-RPC dispatch entry point: it answers the MCP
// handshake methods itself and forwards everything else to the Router.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"gatewayd/internal/jsonrpc"
)

// ProtocolVersion is the MCP protocol version gatewayd advertises.
const ProtocolVersion = "2024-11-05"

// ServerName and ServerVersion identify this gateway in the initialize
// response and the discovery document.
const (
	ServerName    = "gatewayd"
	ServerVersion = "1.0.0"
)

// Catalog is the minimal read surface the Gateway Core needs from the
// Router to answer */list locally.
type Catalog interface {
	ListTools() []interface{}
	ListResources() []interface{}
	ListPrompts() []interface{}
}

// Dispatcher forwards an aggregator-owned method to its backend. It is
// satisfied by *router.Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, error)
}

// Gateway is the single JSON-RPC entry point the HTTP edge and the Session
// Manager both call into for every inbound request.
type Gateway struct {
	catalog    Catalog
	dispatcher Dispatcher
}

// New constructs a Gateway over the given catalog view and router.
func New(catalog Catalog, dispatcher Dispatcher) *Gateway {
	return &Gateway{catalog: catalog, dispatcher: dispatcher}
}

// Handle processes one parsed JSON-RPC request and returns the response to
// send, or nil if req was a notification (no id, no response expected).
func (g *Gateway) Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	if req.JSONRPC != jsonrpc.Version {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidRequest, "jsonrpc must be \"2.0\"", nil)
	}

	result, err := g.dispatchLocal(ctx, req.Method, req.Params)
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		if rpcErr, ok := err.(*jsonrpc.Error); ok {
			return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Error: rpcErr}
		}
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError, err.Error(), nil)
	}
	resp, encodeErr := jsonrpc.NewResult(req.ID, result)
	if encodeErr != nil {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError, encodeErr.Error(), nil)
	}
	return resp
}

func (g *Gateway) dispatchLocal(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "initialize":
		return map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"serverInfo":      map[string]string{"name": ServerName, "version": ServerVersion},
			"capabilities": map[string]interface{}{
				"tools":     map[string]interface{}{"listChanged": true},
				"resources": map[string]interface{}{"listChanged": true},
				"prompts":   map[string]interface{}{"listChanged": true},
			},
		}, nil

	case "ping":
		return map[string]interface{}{}, nil

	case "tools/list":
		return map[string]interface{}{"tools": g.catalog.ListTools()}, nil

	case "resources/list":
		return map[string]interface{}{"resources": g.catalog.ListResources()}, nil

	case "resources/templates/list":
		return map[string]interface{}{"resourceTemplates": []interface{}{}}, nil

	case "prompts/list":
		return map[string]interface{}{"prompts": g.catalog.ListPrompts()}, nil

	case "notifications/initialized", "notifications/cancelled":
		return map[string]interface{}{}, nil

	case "":
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidRequest, Message: "missing method"}

	default:
		result, err := g.dispatcher.Dispatch(ctx, method, params)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// ParseRequest decodes a single JSON-RPC request from raw bytes. The caller
// is expected to shape a decode failure as a CodeParseError response, since
// only it knows what id (if any) to echo.
func ParseRequest(raw []byte) (*jsonrpc.Request, error) {
	var req jsonrpc.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return &req, nil
}
