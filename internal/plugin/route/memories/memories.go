// Package memories mounts the /api/v1/memories REST endpoints: ingestion,
// semantic search, listing and filtering, lifecycle actions, and the
// per-memory audit views.
package memories

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openmem/openmem/internal/engine"
	"github.com/openmem/openmem/internal/model"
	registrystore "github.com/openmem/openmem/internal/registry/store"
	"github.com/openmem/openmem/internal/security"
	"github.com/openmem/openmem/internal/service"
)

// DefaultAppName is used when a request names no app and carries no
// X-Client-Name header.
const DefaultAppName = "openmem"

// MountRoutes mounts the memory REST endpoints on the given router.
func MountRoutes(r *gin.Engine, eng *engine.Engine, pool *service.IngestPool) {
	g := r.Group("/api/v1/memories")

	g.POST("/", func(c *gin.Context) { createMemory(c, eng, pool) })
	g.GET("/", func(c *gin.Context) { listMemories(c, eng) })
	g.POST("/filter", func(c *gin.Context) { filterMemories(c, eng) })
	g.POST("/search", func(c *gin.Context) { searchMemories(c, eng) })
	g.GET("/categories", func(c *gin.Context) { listCategories(c, eng) })
	g.DELETE("/", func(c *gin.Context) { deleteMemories(c, eng) })
	g.POST("/actions/pause", func(c *gin.Context) { setMemoryState(c, eng, model.StatePaused) })
	g.POST("/actions/archive", func(c *gin.Context) { setMemoryState(c, eng, model.StateArchived) })
	g.GET("/:id", func(c *gin.Context) { getMemory(c, eng) })
	g.PUT("/:id", func(c *gin.Context) { updateMemory(c, eng) })
	g.GET("/:id/related", func(c *gin.Context) { relatedMemories(c, eng) })
	g.GET("/:id/access-log", func(c *gin.Context) { memoryAccessLog(c, eng) })
}

// resolveUser picks the request's user identity: an explicit body/query value
// first, then the X-User-Id header.
func resolveUser(c *gin.Context, explicit string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	if id := security.GetUserID(c); id != "" {
		return id, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
	return "", false
}

func resolveApp(c *gin.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if name := security.GetClientName(c); name != "" {
		return name
	}
	return DefaultAppName
}

type createMemoryRequest struct {
	UserID         string                 `json:"user_id"`
	Text           string                 `json:"text" binding:"required"`
	App            string                 `json:"app"`
	Infer          *bool                  `json:"infer"`
	Extract        *bool                  `json:"extract"`
	Deduplicate    *bool                  `json:"deduplicate"`
	Metadata       map[string]interface{} `json:"metadata"`
	AttachmentText string                 `json:"attachment_text"`
	AttachmentID   string                 `json:"attachment_id"`
}

func createMemory(c *gin.Context, eng *engine.Engine, pool *service.IngestPool) {
	var req createMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := resolveUser(c, req.UserID)
	if !ok {
		return
	}

	addReq := engine.AddRequest{
		UserID:         userID,
		AppName:        resolveApp(c, req.App),
		Text:           req.Text,
		Infer:          req.Infer,
		Extract:        req.Extract,
		Deduplicate:    req.Deduplicate,
		Metadata:       model.Metadata(req.Metadata),
		AttachmentText: req.AttachmentText,
	}
	if req.AttachmentID != "" {
		id, err := uuid.Parse(req.AttachmentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment_id"})
			return
		}
		addReq.AttachmentID = &id
	}

	var result *engine.AddResult
	err := pool.Run(c.Request.Context(), func(ctx context.Context) error {
		var addErr error
		result, addErr = eng.Add(ctx, addReq)
		return addErr
	})
	if err != nil {
		handleError(c, err)
		return
	}
	if len(result.Results) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"message":       result.Message,
			"event":         result.Event,
			"original_text": result.OriginalText,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": result.Results})
}

type searchMemoriesRequest struct {
	UserID            string                 `json:"user_id"`
	App               string                 `json:"app"`
	Query             string                 `json:"query" binding:"required"`
	Limit             int                    `json:"limit"`
	Filters           map[string]interface{} `json:"filters"`
	IncludeMetadata   bool                   `json:"include_metadata"`
	ShowAttachmentIDs *bool                  `json:"show_attachment_ids"`
}

func searchMemories(c *gin.Context, eng *engine.Engine) {
	var req searchMemoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := resolveUser(c, req.UserID)
	if !ok {
		return
	}
	hits, err := eng.Search(c.Request.Context(), engine.SearchRequest{
		UserID:            userID,
		AppName:           resolveApp(c, req.App),
		Query:             req.Query,
		Limit:             req.Limit,
		Filters:           req.Filters,
		IncludeMetadata:   req.IncludeMetadata,
		ShowAttachmentIDs: req.ShowAttachmentIDs,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

func listMemories(c *gin.Context, eng *engine.Engine) {
	userID, ok := resolveUser(c, c.Query("user_id"))
	if !ok {
		return
	}
	q := registrystore.MemoryQuery{
		UserID:        userID,
		SearchQuery:   c.Query("search_query"),
		SortColumn:    c.Query("sort_column"),
		SortDirection: c.Query("sort_direction"),
		ShowArchived:  c.Query("show_archived") == "true",
		Page:          intQuery(c, "page", 1),
		Size:          intQuery(c, "size", 10),
	}
	if appID := c.Query("app_id"); appID != "" {
		id, err := uuid.Parse(appID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid app_id"})
			return
		}
		q.AppIDs = []uuid.UUID{id}
	}
	page, err := eng.List(c.Request.Context(), resolveApp(c, ""), q)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type filterMemoriesRequest struct {
	UserID        string   `json:"user_id"`
	Page          *int     `json:"page"`
	Size          *int     `json:"size"`
	SearchQuery   string   `json:"search_query"`
	AppIDs        []string `json:"app_ids"`
	CategoryIDs   []string `json:"category_ids"`
	Categories    []string `json:"categories"`
	SortColumn    string   `json:"sort_column"`
	SortDirection string   `json:"sort_direction"`
	FromDate      *int64   `json:"from_date"`
	ToDate        *int64   `json:"to_date"`
	ShowArchived  bool     `json:"show_archived"`
}

func filterMemories(c *gin.Context, eng *engine.Engine) {
	var req filterMemoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := resolveUser(c, req.UserID)
	if !ok {
		return
	}
	q := registrystore.MemoryQuery{
		UserID:        userID,
		SearchQuery:   req.SearchQuery,
		Categories:    req.Categories,
		SortColumn:    req.SortColumn,
		SortDirection: req.SortDirection,
		ShowArchived:  req.ShowArchived,
		Page:          intOrDefault(req.Page, 1),
		Size:          intOrDefault(req.Size, 10),
	}
	var err error
	if q.AppIDs, err = parseUUIDs(req.AppIDs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid app_ids"})
		return
	}
	if q.CategoryIDs, err = parseUUIDs(req.CategoryIDs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category_ids"})
		return
	}
	if req.FromDate != nil {
		from := time.Unix(*req.FromDate, 0).UTC()
		q.FromDate = &from
	}
	if req.ToDate != nil {
		to := time.Unix(*req.ToDate, 0).UTC()
		q.ToDate = &to
	}
	page, err := eng.List(c.Request.Context(), resolveApp(c, ""), q)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func listCategories(c *gin.Context, eng *engine.Engine) {
	userID, ok := resolveUser(c, c.Query("user_id"))
	if !ok {
		return
	}
	cats, err := eng.Categories(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats, "total": len(cats)})
}

type deleteMemoriesRequest struct {
	UserID            string   `json:"user_id"`
	App               string   `json:"app"`
	MemoryIDs         []string `json:"memory_ids"`
	DeleteAttachments bool     `json:"delete_attachments"`
}

// deleteMemories soft-deletes the listed memories. An empty memory_ids list,
// or one where no ID belongs to the user, is NotFound and deletes nothing.
func deleteMemories(c *gin.Context, eng *engine.Engine) {
	var req deleteMemoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := resolveUser(c, req.UserID)
	if !ok {
		return
	}
	ids, err := parseUUIDs(req.MemoryIDs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory_ids"})
		return
	}
	deleted, err := eng.Delete(c.Request.Context(), userID, resolveApp(c, req.App), ids, req.DeleteAttachments)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted", "count": deleted})
}

type memoryStateRequest struct {
	UserID      string   `json:"user_id"`
	App         string   `json:"app"`
	All         bool     `json:"all"`
	AppID       string   `json:"app_id"`
	MemoryIDs   []string `json:"memory_ids"`
	CategoryIDs []string `json:"category_ids"`
}

func setMemoryState(c *gin.Context, eng *engine.Engine, state model.MemoryState) {
	var req memoryStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := resolveUser(c, req.UserID)
	if !ok {
		return
	}
	scope := engine.StateScope{
		UserID:  userID,
		AppName: resolveApp(c, req.App),
		All:     req.All,
	}
	var err error
	if req.AppID != "" {
		id, parseErr := uuid.Parse(req.AppID)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid app_id"})
			return
		}
		scope.AppID = &id
	}
	if scope.MemoryIDs, err = parseUUIDs(req.MemoryIDs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory_ids"})
		return
	}
	if scope.CategoryIDs, err = parseUUIDs(req.CategoryIDs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category_ids"})
		return
	}
	count, err := eng.SetState(c.Request.Context(), scope, state)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": string(state), "count": count})
}

func getMemory(c *gin.Context, eng *engine.Engine) {
	userID, ok := resolveUser(c, c.Query("user_id"))
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	item, err := eng.Get(c.Request.Context(), userID, id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type updateMemoryRequest struct {
	UserID        string `json:"user_id"`
	App           string `json:"app"`
	MemoryContent string `json:"memory_content" binding:"required"`
}

func updateMemory(c *gin.Context, eng *engine.Engine) {
	var req updateMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := resolveUser(c, req.UserID)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	item, err := eng.Update(c.Request.Context(), userID, resolveApp(c, req.App), id, req.MemoryContent)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func relatedMemories(c *gin.Context, eng *engine.Engine) {
	userID, ok := resolveUser(c, c.Query("user_id"))
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	items, err := eng.Related(c.Request.Context(), userID, id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func memoryAccessLog(c *gin.Context, eng *engine.Engine) {
	userID, ok := resolveUser(c, c.Query("user_id"))
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	page, err := eng.AccessLog(c.Request.Context(), userID, id, intQuery(c, "page", 1), intQuery(c, "page_size", 10))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// pathID parses the :id path segment. Malformed IDs read as not-found, not
// bad-request, so probing with junk IDs is indistinguishable from probing
// with unknown ones.
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "memory not found"})
		return uuid.Nil, false
	}
	return id, true
}

// intQuery reads an integer query parameter. An absent or unparsable value
// yields the fallback; an explicit out-of-range number passes through so the
// store rejects it.
func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func intOrDefault(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// handleError maps typed store errors to HTTP statuses.
func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError
	var tooLarge *registrystore.PayloadTooLargeError
	var unavailable *registrystore.UnavailableError

	switch {
	case err == nil:
		return
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
