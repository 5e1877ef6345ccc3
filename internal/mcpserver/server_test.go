package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/openmem/openmem/internal/config"
	"github.com/openmem/openmem/internal/engine"
	"github.com/openmem/openmem/internal/plugin/embed/local"
	"github.com/openmem/openmem/internal/plugin/store/sqlstore"
	vectormemory "github.com/openmem/openmem/internal/plugin/vector/memory"
	"github.com/openmem/openmem/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, sqlstore.AutoMigrate(db))

	store := sqlstore.New(db, "sqlite")
	settings, err := config.NewSettingsService(store)
	require.NoError(t, err)
	cfg := config.DefaultConfig()

	eng := engine.New(engine.Options{
		Store:    store,
		Vector:   vectormemory.New(),
		Embedder: &local.LocalEmbedder{},
		Settings: settings,
		Config:   &cfg,
	})
	return New(eng, store, &cfg)
}

func callerCtx(user string) context.Context {
	return security.WithIdentity(context.Background(), user, "test-agent")
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestAddAndListMemories(t *testing.T) {
	s := newTestServer(t)
	ctx := callerCtx("alice")

	res, err := s.addMemories(ctx, toolRequest(map[string]any{
		"text":  "Allergic to peanuts",
		"infer": false,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(t, res))

	var added struct {
		Results []struct {
			ID     string `json:"id"`
			Memory string `json:"memory"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &added))
	require.Len(t, added.Results, 1)
	assert.Equal(t, "Allergic to peanuts", added.Results[0].Memory)

	res, err = s.listMemories(ctx, toolRequest(nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), "Allergic to peanuts")
}

func TestToolsRequireIdentity(t *testing.T) {
	s := newTestServer(t)

	res, err := s.addMemories(context.Background(), toolRequest(map[string]any{"text": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: X-User-Id header not provided", textOf(t, res))
}

func TestUpdateAndGetMemory(t *testing.T) {
	s := newTestServer(t)
	ctx := callerCtx("alice")

	res, err := s.addMemories(ctx, toolRequest(map[string]any{"text": "old", "infer": false}))
	require.NoError(t, err)
	var added struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &added))
	id := added.Results[0].ID

	res, err = s.updateMemory(ctx, toolRequest(map[string]any{"memory_id": id, "text": "new"}))
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(t, res))

	res, err = s.getMemoryDetails(ctx, toolRequest(map[string]any{"memory_id": id}))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, res), "new")
}

func TestDeleteMemoriesTool(t *testing.T) {
	s := newTestServer(t)
	ctx := callerCtx("alice")

	ids := make([]string, 0, 2)
	for _, text := range []string{"keep me", "drop me"} {
		res, err := s.addMemories(ctx, toolRequest(map[string]any{"text": text, "infer": false}))
		require.NoError(t, err)
		var added struct {
			Results []struct {
				ID string `json:"id"`
			} `json:"results"`
		}
		require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &added))
		ids = append(ids, added.Results[0].ID)
	}

	res, err := s.deleteMemories(ctx, toolRequest(map[string]any{
		"memory_ids": []any{ids[1]},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(t, res))
	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &out))
	assert.Equal(t, 1, out.Count)

	res, err = s.listMemories(ctx, toolRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, res), "keep me")
	assert.NotContains(t, textOf(t, res), "drop me")

	// No IDs means nothing to delete, never delete-everything.
	res, err = s.deleteMemories(ctx, toolRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.deleteMemories(ctx, toolRequest(map[string]any{
		"memory_ids": []any{"not-a-uuid"},
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "invalid memory_id")
}

func TestDeleteAllMemories(t *testing.T) {
	s := newTestServer(t)
	ctx := callerCtx("alice")

	for _, text := range []string{"one", "two"} {
		_, err := s.addMemories(ctx, toolRequest(map[string]any{"text": text, "infer": false}))
		require.NoError(t, err)
	}

	res, err := s.deleteAllMemories(ctx, toolRequest(nil))
	require.NoError(t, err)
	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &out))
	assert.Equal(t, 2, out.Count)
}

func TestAttachmentTools(t *testing.T) {
	s := newTestServer(t)
	ctx := callerCtx("alice")

	res, err := s.createAttachment(ctx, toolRequest(map[string]any{
		"attachment_text": "meeting transcript",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(t, res))
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &created))

	res, err = s.getAttachment(ctx, toolRequest(map[string]any{"attachment_id": created.ID}))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, res), "meeting transcript")

	res, err = s.updateAttachment(ctx, toolRequest(map[string]any{
		"attachment_id":   created.ID,
		"attachment_text": "revised transcript",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	res, err = s.deleteAttachment(ctx, toolRequest(map[string]any{"attachment_id": created.ID}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	res, err = s.getAttachment(ctx, toolRequest(map[string]any{"attachment_id": created.ID}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestAttachmentSizeLimit(t *testing.T) {
	s := newTestServer(t)
	s.cfg.AttachmentMaxSize = 8
	ctx := callerCtx("alice")

	res, err := s.createAttachment(ctx, toolRequest(map[string]any{
		"attachment_text": "this is longer than eight bytes",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "maximum size")
}

func TestSearchMemoryTool(t *testing.T) {
	s := newTestServer(t)
	ctx := callerCtx("alice")

	res, err := s.searchMemory(ctx, toolRequest(map[string]any{"query": "anything"}))
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(t, res))
	assert.Contains(t, textOf(t, res), "results")
}
