package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackendScript is a tiny line-oriented JSON-RPC server implemented as a
// shell pipeline: it answers initialize and the three */list calls with
// canned responses, echoing back the request id it was given.
const fakeBackendScript = `
while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  method=$(echo "$line" | sed -n 's/.*"method":"\([^"]*\)".*/\1/p')
  case "$method" in
    initialize)
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"protocolVersion\":\"2024-11-05\"}}"
      ;;
    tools/list)
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"tools\":[{\"name\":\"echo\",\"description\":\"echoes input\"}]}}"
      ;;
    resources/list)
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"resources\":[]}}"
      ;;
    prompts/list)
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"prompts\":[]}}"
      ;;
    notifications/initialized)
      ;;
    ping)
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{}}"
      ;;
    *)
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"error\":{\"code\":-32601,\"message\":\"method not found\"}}"
      ;;
  esac
done
`

func newFakeAdapter(t *testing.T) *Process {
	t.Helper()
	return NewProcess(Descriptor{
		ID:             "fake",
		Command:        "/bin/sh",
		Args:           []string{"-c", fakeBackendScript},
		ConnectTimeout: 5 * time.Second,
		CallTimeout:    5 * time.Second,
	}, nil, nil)
}

func TestProcessStartPerformsHandshakeAndLoadsCatalog(t *testing.T) {
	p := newFakeAdapter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, p.Start(ctx))
	defer p.Stop(context.Background())

	assert.Equal(t, StateReady, p.State())
	catalog := p.Catalog()
	require.Len(t, catalog.Tools, 1)
	assert.Equal(t, "echo", catalog.Tools[0].Name)
	assert.Empty(t, catalog.Resources)
	assert.Empty(t, catalog.Prompts)
}

func TestProcessCallReturnsMethodNotFoundError(t *testing.T) {
	p := newFakeAdapter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Stop(context.Background())

	_, err := p.Call(ctx, "bogus/method", map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestProcessCallTimesOutAgainstSlowBackend(t *testing.T) {
	p := NewProcess(Descriptor{
		ID:             "slow",
		Command:        "/bin/sh",
		Args:           []string{"-c", "cat >/dev/null"}, // reads requests, never replies
		ConnectTimeout: 200 * time.Millisecond,
		CallTimeout:    200 * time.Millisecond,
	}, nil, nil)

	ctx := context.Background()
	err := p.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, StateDegraded, p.State())
}

func TestProcessStopTerminatesCleanly(t *testing.T) {
	p := newFakeAdapter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Start(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, p.Stop(stopCtx))
	assert.Equal(t, StateTerminated, p.State())
}
