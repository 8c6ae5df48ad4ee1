// Package backend owns the lifecycle and stdio JSON-RPC framing of a single
// MCP backend process: spawning, the initialize handshake, request/response
// correlation, and restart-triggering failure detection. It deliberately
// does not depend on any MCP client library; the framing and correlation
// here are what such a library would otherwise hide.
package backend

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// State is a position in the adapter lifecycle state machine.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateReady
	StateDegraded
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Descriptor is the immutable configuration of one backend, read from the
// config document at startup.
type Descriptor struct {
	ID             string
	Command        string
	Args           []string
	Env            map[string]string
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	MaxRestarts    int
}

// Catalog is the set of capabilities a backend advertised during its last
// successful initialize + */list round trip.
type Catalog struct {
	Tools     []mcp.Tool
	Resources []mcp.Resource
	Prompts   []mcp.Prompt
}

// NotificationHandler receives a server-initiated JSON-RPC message (a line
// with a method but no id) forwarded from a backend's stdout.
type NotificationHandler func(backendID string, method string, params []byte)

// StateChangeHandler is invoked whenever an adapter's lifecycle state
// changes, so the Registry can rebuild catalog snapshots and the HTTP edge
// can report health.
type StateChangeHandler func(backendID string, from, to State)

// protocolVersion is the MCP protocol version gatewayd declares during the
// initialize handshake.
const protocolVersion = "2024-11-05"

// Adapter is implemented by backend.Process; defined as an interface so the
// Registry and Router can be tested against a fake.
type Adapter interface {
	ID() string
	State() State
	Catalog() Catalog
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Call(ctx context.Context, method string, params interface{}) (interface{}, error)
}
