package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd/internal/backend"
)

const fakeScript = `
while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  method=$(echo "$line" | sed -n 's/.*"method":"\([^"]*\)".*/\1/p')
  case "$method" in
    initialize) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{}}" ;;
    tools/list) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"tools\":[{\"name\":\"%s\"}]}}" ;;
    resources/list) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"resources\":[]}}" ;;
    prompts/list) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"prompts\":[]}}" ;;
    notifications/initialized) ;;
  esac
done
`

func fakeDescriptor(id, toolName string) backend.Descriptor {
	return backend.Descriptor{
		ID:             id,
		Command:        "/bin/sh",
		Args:           []string{"-c", fmt.Sprintf(fakeScript, toolName)},
		ConnectTimeout: 5 * time.Second,
		CallTimeout:    5 * time.Second,
		MaxRestarts:    2,
	}
}

func waitForReady(t *testing.T, r *Registry, backendID string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if status, ok := r.Snapshot().Backends[backendID]; ok && status.State == backend.StateReady {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("backend %s never became ready", backendID)
}

func TestRegistryMergesCatalogsInDeclarationOrderWithShadowing(t *testing.T) {
	r := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	descriptors := []backend.Descriptor{
		fakeDescriptor("first", "shared_tool"),
		fakeDescriptor("second", "shared_tool"),
	}
	r.Start(ctx, descriptors)
	defer r.Stop(context.Background())

	waitForReady(t, r, "first", 5*time.Second)
	waitForReady(t, r, "second", 5*time.Second)

	snap := r.Snapshot()
	require.Contains(t, snap.Tools, "shared_tool")
	assert.Equal(t, "first", snap.Tools["shared_tool"].BackendID)
	require.Len(t, snap.Shadowed, 1)
	assert.Equal(t, "second", snap.Shadowed[0].BackendID)
}

func TestRegistryReloadStartsAndStopsBackends(t *testing.T) {
	r := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx, []backend.Descriptor{fakeDescriptor("keep", "keep_tool"), fakeDescriptor("drop", "drop_tool")})
	defer r.Stop(context.Background())

	waitForReady(t, r, "keep", 5*time.Second)
	waitForReady(t, r, "drop", 5*time.Second)

	r.Reload(ctx, []backend.Descriptor{fakeDescriptor("keep", "keep_tool"), fakeDescriptor("new", "new_tool")})

	waitForReady(t, r, "new", 5*time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := r.Snapshot().Backends["drop"]; !ok {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	snap := r.Snapshot()
	assert.Contains(t, snap.Tools, "keep_tool")
	assert.Contains(t, snap.Tools, "new_tool")
	assert.NotContains(t, snap.Tools, "drop_tool")
	_, stillPresent := snap.Backends["drop"]
	assert.False(t, stillPresent, "dropped backend should be removed from snapshot")
}

func TestRegistryPermanentlyDegradesAfterMaxRestarts(t *testing.T) {
	r := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := backend.Descriptor{
		ID:             "broken",
		Command:        "/bin/sh",
		Args:           []string{"-c", "exit 1"},
		ConnectTimeout: 200 * time.Millisecond,
		CallTimeout:    200 * time.Millisecond,
		MaxRestarts:    1,
	}
	r.Start(ctx, []backend.Descriptor{d})
	defer r.Stop(context.Background())

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := r.Snapshot().Backends["broken"]; ok && status.PermanentlyDegraded {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("backend never reached permanently degraded state")
}
