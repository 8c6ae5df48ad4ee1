package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gatewayd/internal/jsonrpc"
	"gatewayd/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// stopSignal is sent to a backend process to request graceful shutdown
// before the forceful-kill escalation in Stop.
const stopSignal = syscall.SIGTERM

// maxLineSize bounds a single stdout line from a backend; a longer line is
// treated as a framing error and triggers restart.
const maxLineSize = 8 * 1024 * 1024

// DefaultInitTimeout bounds the initialize handshake when a backend's
// descriptor does not set its own ConnectTimeout.
const DefaultInitTimeout = 10 * time.Second

type waiter struct {
	respCh chan *jsonrpc.Response
}

// Process is the concrete Adapter: one spawned child process and its stdio
// JSON-RPC framing.
type Process struct {
	desc Descriptor

	notify        NotificationHandler
	onStateChange StateChangeHandler

	mu      sync.RWMutex
	state   State
	cmd     *exec.Cmd
	stdin   *bufio.Writer
	catalog Catalog

	writeMu sync.Mutex

	nextID int64

	pendingMu sync.Mutex
	pending   map[int64]*waiter

	readerDone chan struct{}
}

// NewProcess constructs an Adapter for the given descriptor. notify is
// called for every backend-initiated message; onStateChange is called on
// every lifecycle transition (used by the Registry to rebuild snapshots).
func NewProcess(desc Descriptor, notify NotificationHandler, onStateChange StateChangeHandler) *Process {
	return &Process{
		desc:          desc,
		notify:        notify,
		onStateChange: onStateChange,
		state:         StateIdle,
		pending:       make(map[int64]*waiter),
	}
}

func (p *Process) ID() string { return p.desc.ID }

func (p *Process) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Process) Catalog() Catalog {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.catalog
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	from := p.state
	p.state = s
	p.mu.Unlock()
	if from != s {
		logging.Debug("backend."+p.desc.ID, "state transition %s -> %s", from, s)
		if p.onStateChange != nil {
			p.onStateChange(p.desc.ID, from, s)
		}
	}
}

// Start spawns the child process, performs the initialize handshake, and
// fetches the initial tools/resources/prompts catalogs. On any failure the
// adapter transitions to Degraded and the error is returned for the
// Registry's restart policy to act on.
func (p *Process) Start(ctx context.Context) error {
	p.setState(StateStarting)

	cmd := exec.Command(p.desc.Command, p.desc.Args...)
	for k, v := range p.desc.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.setState(StateDegraded)
		return fmt.Errorf("backend %s: stdin pipe: %w", p.desc.ID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.setState(StateDegraded)
		return fmt.Errorf("backend %s: stdout pipe: %w", p.desc.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.setState(StateDegraded)
		return fmt.Errorf("backend %s: stderr pipe: %w", p.desc.ID, err)
	}

	if err := cmd.Start(); err != nil {
		p.setState(StateDegraded)
		return fmt.Errorf("backend %s: start: %w", p.desc.ID, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.stdin = bufio.NewWriter(stdin)
	p.mu.Unlock()

	p.readerDone = make(chan struct{})
	go p.readLoop(stdout)
	go p.stderrLoop(stderr)

	initTimeout := p.desc.ConnectTimeout
	if initTimeout <= 0 {
		initTimeout = DefaultInitTimeout
	}
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	if err := p.initialize(initCtx); err != nil {
		p.setState(StateDegraded)
		return fmt.Errorf("backend %s: initialize: %w", p.desc.ID, err)
	}

	if err := p.loadCatalog(initCtx); err != nil {
		p.setState(StateDegraded)
		return fmt.Errorf("backend %s: catalog load: %w", p.desc.ID, err)
	}

	p.setState(StateReady)
	return nil
}

func (p *Process) initialize(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo":      mcp.Implementation{Name: "gatewayd", Version: "1.0.0"},
	}
	_, err := p.Call(ctx, "initialize", params)
	if err != nil {
		return err
	}
	// MCP requires the initialized notification before any other traffic.
	return p.notifyInitialized()
}

func (p *Process) notifyInitialized() error {
	req := jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: "notifications/initialized"}
	line, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return p.writeLine(line)
}

func (p *Process) loadCatalog(ctx context.Context) error {
	var tools []mcp.Tool
	var resources []mcp.Resource
	var prompts []mcp.Prompt

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := p.Call(gctx, "tools/list", map[string]interface{}{})
		if err != nil {
			return err
		}
		return decodeInto(raw, "tools", &tools)
	})
	g.Go(func() error {
		raw, err := p.Call(gctx, "resources/list", map[string]interface{}{})
		if err != nil {
			return err
		}
		return decodeInto(raw, "resources", &resources)
	})
	g.Go(func() error {
		raw, err := p.Call(gctx, "prompts/list", map[string]interface{}{})
		if err != nil {
			return err
		}
		return decodeInto(raw, "prompts", &prompts)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	p.mu.Lock()
	p.catalog = Catalog{Tools: tools, Resources: resources, Prompts: prompts}
	p.mu.Unlock()
	return nil
}

// decodeInto extracts a named array field (e.g. "tools") from a */list
// result and decodes it into out. A backend that omits the capability
// entirely (nil result) yields an empty slice, not an error.
func decodeInto(raw interface{}, field string, out interface{}) error {
	if raw == nil {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &wrapper); err != nil {
		return err
	}
	items, ok := wrapper[field]
	if !ok {
		return nil
	}
	return json.Unmarshal(items, out)
}

// Call sends a JSON-RPC request and blocks until a matching response
// arrives, the context is cancelled, or the adapter's call timeout elapses,
// whichever comes first.
func (p *Process) Call(ctx context.Context, method string, params interface{}) (interface{}, error) {
	id := atomic.AddInt64(&p.nextID, 1)

	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	idRaw, _ := json.Marshal(id)

	req := jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      idRaw,
		Method:  method,
		Params:  paramsRaw,
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	w := &waiter{respCh: make(chan *jsonrpc.Response, 1)}
	p.pendingMu.Lock()
	p.pending[id] = w
	p.pendingMu.Unlock()

	deadline := p.desc.CallTimeout
	if deadline <= 0 {
		deadline = DefaultInitTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := p.writeLine(line); err != nil {
		p.abandon(id)
		return nil, fmt.Errorf("backend %s: write: %w", p.desc.ID, err)
	}

	select {
	case resp := <-w.respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		var result interface{}
		if len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, &result); err != nil {
				return nil, fmt.Errorf("decode result: %w", err)
			}
		}
		return result, nil
	case <-callCtx.Done():
		p.abandon(id)
		return nil, fmt.Errorf("backend %s: method %s: %w", p.desc.ID, method, callCtx.Err())
	}
}

// abandon removes a pending id without waiting further; any later response
// for it is discarded by the reader.
func (p *Process) abandon(id int64) {
	p.pendingMu.Lock()
	delete(p.pending, id)
	p.pendingMu.Unlock()
}

func (p *Process) writeLine(line []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.RLock()
	w := p.stdin
	p.mu.RUnlock()
	if w == nil {
		return fmt.Errorf("backend %s: not started", p.desc.ID)
	}

	if _, err := w.Write(line); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

func (p *Process) readLoop(stdout io.Reader) {
	defer close(p.readerDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		p.handleLine(line)
	}

	if err := scanner.Err(); err != nil {
		logging.Error("backend."+p.desc.ID, err, "stdout read failed, triggering restart")
	} else {
		logging.Warn("backend."+p.desc.ID, "stdout closed")
	}
	p.onUncleanExit()
}

func (p *Process) handleLine(line []byte) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		logging.Warn("backend."+p.desc.ID, "discarding malformed line: %v", err)
		return
	}

	if methodRaw, ok := raw["method"]; ok && len(raw["id"]) == 0 {
		var method string
		_ = json.Unmarshal(methodRaw, &method)
		if p.notify != nil {
			p.notify(p.desc.ID, method, raw["params"])
		}
		return
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		logging.Warn("backend."+p.desc.ID, "discarding unparsable response: %v", err)
		return
	}
	var id int64
	if err := json.Unmarshal(resp.ID, &id); err != nil {
		logging.Warn("backend."+p.desc.ID, "discarding response with non-numeric id")
		return
	}

	p.pendingMu.Lock()
	w, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()

	if !ok {
		logging.Debug("backend."+p.desc.ID, "discarding response for unknown or abandoned id %d", id)
		return
	}
	w.respCh <- &resp
}

func (p *Process) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		logging.Debug("backend."+p.desc.ID, "%s", scanner.Text())
	}
}

// onUncleanExit drains every pending call with a backend-unavailable error
// and demotes the adapter; the Registry's restart policy takes over from
// here.
func (p *Process) onUncleanExit() {
	p.pendingMu.Lock()
	for id, w := range p.pending {
		w.respCh <- jsonrpc.NewError(nil, jsonrpc.CodeInternalError, "backend exited", &jsonrpc.ErrorData{
			Kind:      "backend_unavailable",
			BackendID: p.desc.ID,
		})
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()

	if p.State() != StateStopping {
		p.setState(StateDegraded)
	}
}

// Stop terminates the child process gracefully, escalating to a forceful
// kill if it does not exit within the grace period.
func (p *Process) Stop(ctx context.Context) error {
	p.setState(StateStopping)

	p.mu.RLock()
	cmd := p.cmd
	p.mu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		p.setState(StateTerminated)
		return nil
	}

	_ = cmd.Process.Signal(stopSignal)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
	}

	p.setState(StateTerminated)
	return nil
}
