// Package mcpserver exposes the memory pipeline as MCP tools over the
// streamable HTTP transport. Agent identity rides in on the X-User-Id and
// X-Client-Name headers and is threaded through the request context, so the
// tools themselves take no user argument.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/openmem/openmem/internal/config"
	"github.com/openmem/openmem/internal/engine"
	"github.com/openmem/openmem/internal/model"
	registrystore "github.com/openmem/openmem/internal/registry/store"
	"github.com/openmem/openmem/internal/security"
)

// DefaultClientName is the app recorded for MCP callers that send no
// X-Client-Name header.
const DefaultClientName = "mcp"

// Server bundles the MCP tool handlers with their dependencies.
type Server struct {
	engine *engine.Engine
	store  registrystore.MetadataStore
	cfg    *config.Config
}

// New creates the MCP server wrapper.
func New(eng *engine.Engine, store registrystore.MetadataStore, cfg *config.Config) *Server {
	return &Server{engine: eng, store: store, cfg: cfg}
}

// Handler builds the streamable HTTP handler with all tools registered.
// The transport is stateless: every request carries its own identity
// headers and no per-session state survives between calls.
func (s *Server) Handler(version string) http.Handler {
	srv := server.NewMCPServer("openmem", version,
		server.WithToolCapabilities(false),
	)

	srv.AddTool(mcp.NewTool("add_memories",
		mcp.WithDescription("Store new information in long-term memory. The text is distilled into discrete facts and merged with what is already known."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The information to remember")),
		mcp.WithBoolean("infer", mcp.Description("Run the inference pipeline before storing (default true); false stores the text verbatim")),
		mcp.WithBoolean("extract", mcp.Description("Distill facts with the LLM (default true); false treats the raw text as the single fact")),
		mcp.WithBoolean("deduplicate", mcp.Description("Merge against existing memories (default true); false always adds")),
		mcp.WithString("attachment_text", mcp.Description("Raw text to keep as an attachment linked to the stored memories")),
		mcp.WithString("attachment_id", mcp.Description("ID of an existing attachment to link instead of attachment_text")),
	), s.addMemories)

	srv.AddTool(mcp.NewTool("search_memory",
		mcp.WithDescription("Search long-term memory for information relevant to a query."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language search query")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
	), s.searchMemory)

	srv.AddTool(mcp.NewTool("list_memories",
		mcp.WithDescription("List the caller's stored memories."),
		mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
		mcp.WithNumber("size", mcp.Description("Page size (default 10)")),
	), s.listMemories)

	srv.AddTool(mcp.NewTool("delete_memories",
		mcp.WithDescription("Delete specific memories by ID."),
		mcp.WithArray("memory_ids", mcp.Required(),
			mcp.Description("IDs of the memories to delete"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithBoolean("delete_attachments", mcp.Description("Also delete the attachments the memories reference")),
	), s.deleteMemories)

	srv.AddTool(mcp.NewTool("delete_all_memories",
		mcp.WithDescription("Delete every memory belonging to the caller."),
	), s.deleteAllMemories)

	srv.AddTool(mcp.NewTool("update_memory",
		mcp.WithDescription("Replace the text of an existing memory."),
		mcp.WithString("memory_id", mcp.Required(), mcp.Description("ID of the memory to update")),
		mcp.WithString("text", mcp.Required(), mcp.Description("The new memory text")),
	), s.updateMemory)

	srv.AddTool(mcp.NewTool("get_memory_details",
		mcp.WithDescription("Fetch one memory with its app, categories and metadata."),
		mcp.WithString("memory_id", mcp.Required(), mcp.Description("ID of the memory")),
	), s.getMemoryDetails)

	srv.AddTool(mcp.NewTool("create_attachment",
		mcp.WithDescription("Store a raw text attachment. Attachments stay out of the semantic index; memories reference them by ID."),
		mcp.WithString("attachment_text", mcp.Required(), mcp.Description("The attachment content")),
		mcp.WithString("attachment_id", mcp.Description("Optional caller-chosen UUID for the attachment")),
	), s.createAttachment)

	srv.AddTool(mcp.NewTool("get_attachment",
		mcp.WithDescription("Fetch the full content of an attachment."),
		mcp.WithString("attachment_id", mcp.Required(), mcp.Description("ID of the attachment")),
	), s.getAttachment)

	srv.AddTool(mcp.NewTool("update_attachment",
		mcp.WithDescription("Replace the content of an attachment."),
		mcp.WithString("attachment_id", mcp.Required(), mcp.Description("ID of the attachment")),
		mcp.WithString("attachment_text", mcp.Required(), mcp.Description("The new attachment content")),
	), s.updateAttachment)

	srv.AddTool(mcp.NewTool("delete_attachment",
		mcp.WithDescription("Delete an attachment. Deleting an unknown ID is not an error."),
		mcp.WithString("attachment_id", mcp.Required(), mcp.Description("ID of the attachment")),
	), s.deleteAttachment)

	return server.NewStreamableHTTPServer(srv,
		server.WithStateLess(true),
		server.WithHTTPContextFunc(identityFromHeaders),
	)
}

// identityFromHeaders copies the identity headers into the tool context.
func identityFromHeaders(ctx context.Context, r *http.Request) context.Context {
	return security.WithIdentity(ctx,
		r.Header.Get(security.HeaderUserID),
		r.Header.Get(security.HeaderClientName),
	)
}

// identity resolves the calling user and app from the request context.
func identity(ctx context.Context) (userID, appName string, ok bool) {
	userID = security.UserIDFromContext(ctx)
	if userID == "" {
		return "", "", false
	}
	appName = security.ClientNameFromContext(ctx)
	if appName == "" {
		appName = DefaultClientName
	}
	return userID, appName, true
}

func missingUser() *mcp.CallToolResult {
	return mcp.NewToolResultError("Error: X-User-Id header not provided")
}

// boolArg reads an optional boolean argument, distinguishing absent from
// explicitly false.
func boolArg(req mcp.CallToolRequest, key string) *bool {
	if v, ok := req.GetArguments()[key].(bool); ok {
		return &v
	}
	return nil
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError("Error: " + err.Error())
}

func toolJSON(v interface{}) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(string(data))
}

func (s *Server) addMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, appName, ok := identity(ctx)
	if !ok {
		return missingUser(), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return toolError(err), nil
	}

	addReq := engine.AddRequest{
		UserID:         userID,
		AppName:        appName,
		Text:           text,
		Infer:          boolArg(req, "infer"),
		Extract:        boolArg(req, "extract"),
		Deduplicate:    boolArg(req, "deduplicate"),
		AttachmentText: req.GetString("attachment_text", ""),
	}
	if raw := req.GetString("attachment_id", ""); raw != "" {
		id, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			return mcp.NewToolResultError("Error: invalid attachment_id"), nil
		}
		addReq.AttachmentID = &id
	}

	result, err := s.engine.Add(ctx, addReq)
	if err != nil {
		return toolError(err), nil
	}
	if len(result.Results) == 0 {
		return toolJSON(map[string]interface{}{
			"message":       result.Message,
			"event":         result.Event,
			"original_text": result.OriginalText,
		}), nil
	}
	return toolJSON(map[string]interface{}{"results": result.Results}), nil
}

func (s *Server) searchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, appName, ok := identity(ctx)
	if !ok {
		return missingUser(), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return toolError(err), nil
	}
	hits, err := s.engine.Search(ctx, engine.SearchRequest{
		UserID:  userID,
		AppName: appName,
		Query:   query,
		Limit:   req.GetInt("limit", 0),
	})
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(map[string]interface{}{"results": hits}), nil
}

func (s *Server) listMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, appName, ok := identity(ctx)
	if !ok {
		return missingUser(), nil
	}
	page, err := s.engine.List(ctx, appName, registrystore.MemoryQuery{
		UserID: userID,
		Page:   req.GetInt("page", 1),
		Size:   req.GetInt("size", 10),
	})
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(page), nil
}

func (s *Server) deleteMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, appName, ok := identity(ctx)
	if !ok {
		return missingUser(), nil
	}
	raw := req.GetStringSlice("memory_ids", nil)
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return mcp.NewToolResultError("Error: invalid memory_id " + r), nil
		}
		ids = append(ids, id)
	}
	count, err := s.engine.Delete(ctx, userID, appName, ids, req.GetBool("delete_attachments", false))
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(map[string]interface{}{"message": "deleted", "count": count}), nil
}

func (s *Server) deleteAllMemories(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, appName, ok := identity(ctx)
	if !ok {
		return missingUser(), nil
	}
	count, err := s.engine.DeleteAll(ctx, userID, appName, nil)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(map[string]interface{}{"message": "deleted", "count": count}), nil
}

func (s *Server) updateMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, appName, ok := identity(ctx)
	if !ok {
		return missingUser(), nil
	}
	rawID, err := req.RequireString("memory_id")
	if err != nil {
		return toolError(err), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return toolError(err), nil
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return mcp.NewToolResultError("Error: invalid memory_id"), nil
	}
	item, err := s.engine.Update(ctx, userID, appName, id, text)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(item), nil
}

func (s *Server) getMemoryDetails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, _, ok := identity(ctx)
	if !ok {
		return missingUser(), nil
	}
	rawID, err := req.RequireString("memory_id")
	if err != nil {
		return toolError(err), nil
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return mcp.NewToolResultError("Error: invalid memory_id"), nil
	}
	item, err := s.engine.Get(ctx, userID, id)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(item), nil
}

func (s *Server) createAttachment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, _, ok := identity(ctx); !ok {
		return missingUser(), nil
	}
	content, err := req.RequireString("attachment_text")
	if err != nil {
		return toolError(err), nil
	}
	if s.cfg != nil && s.cfg.AttachmentMaxSize > 0 && int64(len(content)) > s.cfg.AttachmentMaxSize {
		return toolError(&registrystore.PayloadTooLargeError{Limit: s.cfg.AttachmentMaxSize}), nil
	}
	att := &model.Attachment{Content: content}
	if raw := req.GetString("attachment_id", ""); raw != "" {
		id, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			return mcp.NewToolResultError("Error: invalid attachment_id"), nil
		}
		att.ID = id
	}
	if err := s.store.CreateAttachment(ctx, att); err != nil {
		return toolError(err), nil
	}
	return toolJSON(map[string]interface{}{
		"id":             att.ID,
		"content_length": len(att.Content),
		"created_at":     att.CreatedAt.Unix(),
	}), nil
}

func (s *Server) getAttachment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, _, ok := identity(ctx); !ok {
		return missingUser(), nil
	}
	id, res := attachmentID(req)
	if res != nil {
		return res, nil
	}
	att, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(att), nil
}

func (s *Server) updateAttachment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, _, ok := identity(ctx); !ok {
		return missingUser(), nil
	}
	id, res := attachmentID(req)
	if res != nil {
		return res, nil
	}
	content, err := req.RequireString("attachment_text")
	if err != nil {
		return toolError(err), nil
	}
	if s.cfg != nil && s.cfg.AttachmentMaxSize > 0 && int64(len(content)) > s.cfg.AttachmentMaxSize {
		return toolError(&registrystore.PayloadTooLargeError{Limit: s.cfg.AttachmentMaxSize}), nil
	}
	att, err := s.store.UpdateAttachment(ctx, id, content)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(map[string]interface{}{
		"id":             att.ID,
		"content_length": len(att.Content),
		"updated_at":     att.UpdatedAt.Unix(),
	}), nil
}

func (s *Server) deleteAttachment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, _, ok := identity(ctx); !ok {
		return missingUser(), nil
	}
	id, res := attachmentID(req)
	if res != nil {
		return res, nil
	}
	if err := s.store.DeleteAttachment(ctx, id); err != nil {
		return toolError(err), nil
	}
	return toolJSON(map[string]interface{}{"message": "deleted"}), nil
}

func attachmentID(req mcp.CallToolRequest) (uuid.UUID, *mcp.CallToolResult) {
	raw, err := req.RequireString("attachment_id")
	if err != nil {
		return uuid.Nil, toolError(err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, mcp.NewToolResultError("Error: invalid attachment_id")
	}
	return id, nil
}
