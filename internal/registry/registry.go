// Package registry supervises the set of configured backend.Adapters: it
// starts them, restarts them under a backoff policy on failure, runs
// optional health checks, and publishes an immutable catalog snapshot for
// the Router to read.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mark3labs/mcp-go/mcp"

	"gatewayd/internal/backend"
	"gatewayd/pkg/logging"
)

// Snapshot is an immutable, atomically published view of every Ready
// backend's catalog, merged into three lookup tables. Readers never lock.
type Snapshot struct {
	Tools     map[string]ToolEntry
	Resources map[string]ResourceEntry
	Prompts   map[string]PromptEntry
	Shadowed  []ShadowedEntry
	Backends  map[string]BackendStatus
}

// ToolEntry is a catalog tool annotated with its owning backend.
type ToolEntry struct {
	BackendID string
	Tool      mcp.Tool
}

// ResourceEntry is a catalog resource annotated with its owning backend.
type ResourceEntry struct {
	BackendID string
	Resource  mcp.Resource
}

// PromptEntry is a catalog prompt annotated with its owning backend.
type PromptEntry struct {
	BackendID string
	Prompt    mcp.Prompt
}

// ShadowedEntry records a same-named entry that lost the first-declared-wins
// collision and was excluded from the snapshot's primary tables.
type ShadowedEntry struct {
	Kind      string // "tool", "resource", "prompt"
	Name      string
	BackendID string
}

// BackendStatus is the health summary for one backend, used by /admin/status.
type BackendStatus struct {
	ID                  string
	State               backend.State
	ConsecutiveFailures int
	PermanentlyDegraded bool
}

type entry struct {
	desc     backend.Descriptor
	mu       sync.Mutex
	adapter  *backend.Process
	failures int
	degraded bool // permanently degraded, restarts exhausted

	degradedSignal chan struct{}
	forceRestart   chan struct{}
}

// Registry supervises a fixed set of backends for the process's lifetime.
// Backend membership itself can change via Reload (driven by config live
// reload), but each entry's own lifecycle is supervised independently.
type Registry struct {
	onNotification backend.NotificationHandler

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	snapshot atomic.Pointer[Snapshot]

	wg     sync.WaitGroup
	ctx    context.Context // supervisor context from Start, cancelled by Stop
	cancel context.CancelFunc
}

// New constructs an empty Registry. onNotification is forwarded every
// backend-initiated message so the Session Manager can fan it out over SSE.
func New(onNotification backend.NotificationHandler) *Registry {
	r := &Registry{
		onNotification: onNotification,
		entries:        make(map[string]*entry),
	}
	r.snapshot.Store(emptySnapshot())
	return r
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Tools:     make(map[string]ToolEntry),
		Resources: make(map[string]ResourceEntry),
		Prompts:   make(map[string]PromptEntry),
		Backends:  make(map[string]BackendStatus),
	}
}

// Snapshot returns the most recently published catalog view.
func (r *Registry) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Start launches a supervisor goroutine per enabled descriptor, in
// declaration order (the order collision resolution uses).
func (r *Registry) Start(ctx context.Context, descriptors []backend.Descriptor) {
	ctx, cancel := context.WithCancel(ctx)
	r.ctx = ctx
	r.cancel = cancel

	r.mu.Lock()
	for _, d := range descriptors {
		e := &entry{
			desc:           d,
			degradedSignal: make(chan struct{}, 1),
			forceRestart:   make(chan struct{}, 1),
		}
		r.entries[d.ID] = e
		r.order = append(r.order, d.ID)
		r.wg.Add(1)
		go r.supervise(ctx, e)
	}
	r.mu.Unlock()
}

// Reload reconciles the supervised set against a new descriptor list, used
// when the config watcher reports an on-disk change. Backends present in
// both the old and new lists are left running untouched, even if their
// descriptor changed (a command or argument change requires an explicit
// restart via the admin API or a process restart); backends removed from
// the list are stopped and dropped; backends newly added are started.
func (r *Registry) Reload(ctx context.Context, descriptors []backend.Descriptor) {
	r.mu.Lock()
	desired := make(map[string]backend.Descriptor, len(descriptors))
	var order []string
	for _, d := range descriptors {
		desired[d.ID] = d
		order = append(order, d.ID)
	}

	var toStop []*entry
	for id, e := range r.entries {
		if _, keep := desired[id]; !keep {
			toStop = append(toStop, e)
			delete(r.entries, id)
		}
	}

	var toStart []*entry
	for _, d := range descriptors {
		if _, exists := r.entries[d.ID]; exists {
			continue
		}
		e := &entry{
			desc:           d,
			degradedSignal: make(chan struct{}, 1),
			forceRestart:   make(chan struct{}, 1),
		}
		r.entries[d.ID] = e
		toStart = append(toStart, e)
	}
	r.order = order
	r.mu.Unlock()

	for _, e := range toStop {
		e.mu.Lock()
		adapter := e.adapter
		e.mu.Unlock()
		if adapter != nil {
			_ = adapter.Stop(ctx)
		}
	}
	superCtx := r.ctx
	if superCtx == nil {
		superCtx = ctx
	}
	for _, e := range toStart {
		r.wg.Add(1)
		go r.supervise(superCtx, e)
	}

	r.rebuildSnapshot()
	logging.Info("registry", "reloaded: %d started, %d stopped", len(toStart), len(toStop))
}

// Stop cancels every supervisor and stops all running adapters.
func (r *Registry) Stop(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		adapter := e.adapter
		e.mu.Unlock()
		if adapter != nil {
			_ = adapter.Stop(ctx)
		}
	}
	r.wg.Wait()
}

// RestartBackend forces an immediate restart of the named backend, resetting
// its failure count. This is the admin-operation restart hook.
func (r *Registry) RestartBackend(id string) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown backend %q", id)
	}

	e.mu.Lock()
	e.failures = 0
	e.degraded = false
	e.mu.Unlock()

	select {
	case e.forceRestart <- struct{}{}:
	default:
	}
	return nil
}

// ErrBackendUnavailable is returned by CallBackend when the named backend
// has no running adapter in the Ready state.
var ErrBackendUnavailable = fmt.Errorf("backend unavailable")

// CallBackend forwards a JSON-RPC call to the named backend's adapter. It
// returns ErrBackendUnavailable if the backend is not currently Ready.
func (r *Registry) CallBackend(ctx context.Context, id, method string, params interface{}) (interface{}, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrBackendUnavailable
	}

	e.mu.Lock()
	adapter := e.adapter
	e.mu.Unlock()

	if adapter == nil || adapter.State() != backend.StateReady {
		return nil, ErrBackendUnavailable
	}
	return adapter.Call(ctx, method, params)
}

func (r *Registry) supervise(ctx context.Context, e *entry) {
	defer r.wg.Done()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		adapter := backend.NewProcess(e.desc, r.onNotification, r.makeStateChangeHandler(e))

		e.mu.Lock()
		e.adapter = adapter
		e.mu.Unlock()

		err := adapter.Start(ctx)
		if err != nil {
			logging.Warn("registry", "backend %s failed to start: %v", e.desc.ID, err)
			if r.recordFailure(e) {
				r.rebuildSnapshot()
				return
			}
			if !r.waitBackoff(ctx, e, policy.NextBackOff()) {
				return
			}
			continue
		}

		r.rebuildSnapshot()
		logging.Info("registry", "backend %s ready", e.desc.ID)

		select {
		case <-e.degradedSignal:
			logging.Warn("registry", "backend %s degraded, will restart", e.desc.ID)
			if r.recordFailure(e) {
				r.rebuildSnapshot()
				return
			}
			r.rebuildSnapshot()
			if !r.waitBackoff(ctx, e, policy.NextBackOff()) {
				return
			}
		case <-e.forceRestart:
			_ = adapter.Stop(ctx)
			policy.Reset()
			continue
		case <-ctx.Done():
			return
		}
	}
}

// recordFailure increments the consecutive-failure count and returns true if
// the backend has now exceeded MaxRestarts and must be left permanently
// Degraded.
func (r *Registry) recordFailure(e *entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	if e.desc.MaxRestarts > 0 && e.failures > e.desc.MaxRestarts {
		e.degraded = true
		logging.Error("registry", fmt.Errorf("exhausted %d restart attempts", e.failures), "backend %s permanently degraded", e.desc.ID)
		return true
	}
	return false
}

func (r *Registry) waitBackoff(ctx context.Context, e *entry, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.forceRestart:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Registry) makeStateChangeHandler(e *entry) backend.StateChangeHandler {
	return func(backendID string, from, to backend.State) {
		if to == backend.StateDegraded {
			select {
			case e.degradedSignal <- struct{}{}:
			default:
			}
		}
	}
}

// rebuildSnapshot performs an ordered merge of every ready backend's
// catalog: backends are visited in declaration order; the first backend to
// declare a given name wins, later duplicates are recorded as shadowed.
func (r *Registry) rebuildSnapshot() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := emptySnapshot()

	for _, id := range r.orderedIDsLocked() {
		e := r.entries[id]
		e.mu.Lock()
		adapter := e.adapter
		status := BackendStatus{ID: id, ConsecutiveFailures: e.failures, PermanentlyDegraded: e.degraded}
		e.mu.Unlock()

		if adapter != nil {
			status.State = adapter.State()
		} else {
			status.State = backend.StateIdle
		}
		snap.Backends[id] = status

		if adapter == nil || adapter.State() != backend.StateReady {
			continue
		}

		cat := adapter.Catalog()
		for _, t := range cat.Tools {
			if _, exists := snap.Tools[t.Name]; exists {
				snap.Shadowed = append(snap.Shadowed, ShadowedEntry{Kind: "tool", Name: t.Name, BackendID: id})
				continue
			}
			snap.Tools[t.Name] = ToolEntry{BackendID: id, Tool: t}
		}
		for _, res := range cat.Resources {
			if _, exists := snap.Resources[res.URI]; exists {
				snap.Shadowed = append(snap.Shadowed, ShadowedEntry{Kind: "resource", Name: res.URI, BackendID: id})
				continue
			}
			snap.Resources[res.URI] = ResourceEntry{BackendID: id, Resource: res}
		}
		for _, pr := range cat.Prompts {
			if _, exists := snap.Prompts[pr.Name]; exists {
				snap.Shadowed = append(snap.Shadowed, ShadowedEntry{Kind: "prompt", Name: pr.Name, BackendID: id})
				continue
			}
			snap.Prompts[pr.Name] = PromptEntry{BackendID: id, Prompt: pr}
		}
	}

	r.snapshot.Store(snap)
}

// orderedIDsLocked returns backend ids in descriptor declaration order, the
// order collision resolution requires. Callers must hold r.mu.
func (r *Registry) orderedIDsLocked() []string {
	return r.order
}
