package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd/internal/jsonrpc"
	"gatewayd/internal/registry"
)

type fakeBackends struct {
	snap    *registry.Snapshot
	results map[string]interface{}
	errs    map[string]error
	calls   []string
}

func (f *fakeBackends) Snapshot() *registry.Snapshot { return f.snap }

func (f *fakeBackends) CallBackend(ctx context.Context, backendID, method string, params interface{}) (interface{}, error) {
	f.calls = append(f.calls, backendID+":"+method)
	if err, ok := f.errs[backendID]; ok {
		return nil, err
	}
	return f.results[backendID], nil
}

func newFakeSnapshot() *registry.Snapshot {
	return &registry.Snapshot{
		Tools: map[string]registry.ToolEntry{
			"search": {BackendID: "docs", Tool: mcp.Tool{Name: "search"}},
		},
		Resources: map[string]registry.ResourceEntry{
			"file:///a": {BackendID: "fs", Resource: mcp.Resource{URI: "file:///a"}},
		},
		Prompts: map[string]registry.PromptEntry{
			"greet": {BackendID: "docs", Prompt: mcp.Prompt{Name: "greet"}},
		},
	}
}

func TestDispatchToolCallRoutesToOwningBackend(t *testing.T) {
	fb := &fakeBackends{snap: newFakeSnapshot(), results: map[string]interface{}{"docs": map[string]interface{}{"ok": true}}}
	r := New(fb, time.Second)

	params, _ := json.Marshal(map[string]interface{}{"name": "search", "arguments": map[string]interface{}{"q": "x"}})
	result, err := r.Dispatch(context.Background(), "tools/call", params)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ok": true}, result)
	assert.Equal(t, []string{"docs:tools/call"}, fb.calls)
}

func TestDispatchUnknownToolIsMethodNotFound(t *testing.T) {
	fb := &fakeBackends{snap: newFakeSnapshot()}
	r := New(fb, time.Second)

	params, _ := json.Marshal(map[string]interface{}{"name": "nope"})
	_, err := r.Dispatch(context.Background(), "tools/call", params)
	require.Error(t, err)
	rpcErr, ok := err.(*jsonrpc.Error)
	require.True(t, ok)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, rpcErr.Code)
}

func TestDispatchBackendUnavailableShapesError(t *testing.T) {
	fb := &fakeBackends{
		snap: newFakeSnapshot(),
		errs: map[string]error{"fs": assertError{"backend down"}},
	}
	r := New(fb, time.Second)

	params, _ := json.Marshal(map[string]interface{}{"uri": "file:///a"})
	_, err := r.Dispatch(context.Background(), "resources/read", params)
	require.Error(t, err)
	rpcErr, ok := err.(*jsonrpc.Error)
	require.True(t, ok)
	assert.Equal(t, jsonrpc.CodeInternalError, rpcErr.Code)

	var data jsonrpc.ErrorData
	require.NoError(t, json.Unmarshal(rpcErr.Data, &data))
	assert.Equal(t, "backend_unavailable", data.Kind)
	assert.Equal(t, "fs", data.BackendID)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
