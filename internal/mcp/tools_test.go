package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kensaku/internal/ctxutil"
	"github.com/ashita-ai/kensaku/internal/model"
	"github.com/ashita-ai/kensaku/internal/testutil"
)

type fakeEngine struct {
	contexts []model.Context
	err      error
	gotReq   model.QueryRequest
	gotUser  model.UserContext
	calls    int
}

func (f *fakeEngine) ExecuteWorkflow(_ context.Context, req model.QueryRequest, user model.UserContext) ([]model.Context, *model.Metrics, error) {
	f.calls++
	f.gotReq = req
	f.gotUser = user
	return f.contexts, model.NewMetrics("req-1"), f.err
}

func userCtx() context.Context {
	return ctxutil.WithUser(context.Background(), model.UserContext{UserID: "u1", Role: model.RoleUser})
}

// retrieveRequest builds a CallToolRequest for kensaku_retrieve with the given arguments.
func retrieveRequest(args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "kensaku_retrieve",
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

func TestHandleRetrieve(t *testing.T) {
	engine := &fakeEngine{contexts: []model.Context{
		{ParentChunkID: "p1", DocumentID: "d1", Content: "body", BestScore: 0.9},
	}}
	srv := New(engine, "test", testutil.TestLogger())

	result, err := srv.handleRetrieve(userCtx(), retrieveRequest(map[string]any{
		"query": "which region hosts the primary",
		"top_k": float64(5),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "retrieve should succeed: %s", parseToolText(t, result))

	var resp retrieveResult
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	require.Len(t, resp.Contexts, 1)
	assert.Equal(t, "p1", resp.Contexts[0].ParentChunkID)
	assert.Equal(t, "req-1", resp.Metrics.RequestID)

	assert.Equal(t, "which region hosts the primary", engine.gotReq.Text)
	assert.Equal(t, 5, engine.gotReq.TopK)
	assert.Nil(t, engine.gotReq.UseCache, "use_cache should stay unset when the caller omits it")
	assert.Equal(t, "u1", engine.gotUser.UserID)
}

func TestHandleRetrieve_UseCacheFalse(t *testing.T) {
	engine := &fakeEngine{}
	srv := New(engine, "test", testutil.TestLogger())

	result, err := srv.handleRetrieve(userCtx(), retrieveRequest(map[string]any{
		"query":     "q",
		"use_cache": false,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	require.NotNil(t, engine.gotReq.UseCache)
	assert.False(t, *engine.gotReq.UseCache)
	assert.Equal(t, model.DefaultTopK, engine.gotReq.TopK, "top_k should default when omitted")
}

func TestHandleRetrieve_MissingQuery(t *testing.T) {
	engine := &fakeEngine{}
	srv := New(engine, "test", testutil.TestLogger())

	result, err := srv.handleRetrieve(userCtx(), retrieveRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Zero(t, engine.calls)
}

func TestHandleRetrieve_NoUser(t *testing.T) {
	engine := &fakeEngine{}
	srv := New(engine, "test", testutil.TestLogger())

	result, err := srv.handleRetrieve(context.Background(), retrieveRequest(map[string]any{
		"query": "q",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "unauthorized")
	assert.Zero(t, engine.calls)
}

func TestHandleRetrieve_EngineError(t *testing.T) {
	engine := &fakeEngine{err: errors.New("index down")}
	srv := New(engine, "test", testutil.TestLogger())

	result, err := srv.handleRetrieve(userCtx(), retrieveRequest(map[string]any{
		"query": "q",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "retrieval failed")
}

func TestHandleRetrieve_EmptyContextsIsArray(t *testing.T) {
	engine := &fakeEngine{}
	srv := New(engine, "test", testutil.TestLogger())

	result, err := srv.handleRetrieve(userCtx(), retrieveRequest(map[string]any{
		"query": "q",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), `"contexts": []`)
}
