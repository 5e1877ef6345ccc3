// Package attachments mounts the /api/v1/attachments REST endpoints. An
// attachment is a raw text blob kept out of the semantic index; memories
// reference attachments by ID through their metadata.
package attachments

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openmem/openmem/internal/config"
	"github.com/openmem/openmem/internal/model"
	registrystore "github.com/openmem/openmem/internal/registry/store"
)

// MountRoutes mounts attachment routes.
func MountRoutes(r *gin.Engine, store registrystore.MetadataStore, cfg *config.Config) {
	g := r.Group("/api/v1/attachments")

	g.POST("/", func(c *gin.Context) { createAttachment(c, store, cfg) })
	g.POST("/filter", func(c *gin.Context) { filterAttachments(c, store, cfg) })
	g.GET("/:id", func(c *gin.Context) { getAttachment(c, store) })
	g.PUT("/:id", func(c *gin.Context) { updateAttachment(c, store, cfg) })
	g.DELETE("/:id", func(c *gin.Context) { deleteAttachment(c, store) })
}

type createAttachmentRequest struct {
	ID      string `json:"id"`
	Content string `json:"attachment_text" binding:"required"`
}

func createAttachment(c *gin.Context, store registrystore.MetadataStore, cfg *config.Config) {
	var req createAttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := checkSize(req.Content, cfg); err != nil {
		handleError(c, err)
		return
	}

	att := &model.Attachment{Content: req.Content}
	if req.ID != "" {
		id, err := uuid.Parse(req.ID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		att.ID = id
	}
	if err := store.CreateAttachment(c.Request.Context(), att); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toResponse(att))
}

func getAttachment(c *gin.Context, store registrystore.MetadataStore) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	att, err := store.GetAttachment(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(att))
}

type updateAttachmentRequest struct {
	Content string `json:"attachment_text" binding:"required"`
}

func updateAttachment(c *gin.Context, store registrystore.MetadataStore, cfg *config.Config) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateAttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := checkSize(req.Content, cfg); err != nil {
		handleError(c, err)
		return
	}
	att, err := store.UpdateAttachment(c.Request.Context(), id, req.Content)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(att))
}

// deleteAttachment is idempotent: deleting an unknown ID still returns 204.
func deleteAttachment(c *gin.Context, store registrystore.MetadataStore) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := store.DeleteAttachment(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type filterAttachmentsRequest struct {
	Page          *int   `json:"page"`
	Size          *int   `json:"size"`
	Search        string `json:"search"`
	SortColumn    string `json:"sort_column"`
	SortDirection string `json:"sort_direction"`
	FromTimestamp *int64 `json:"from_timestamp"`
	ToTimestamp   *int64 `json:"to_timestamp"`
	// TimeoutSeconds overrides the configured statement timeout for this
	// query only.
	TimeoutSeconds *int `json:"timeout_seconds"`
}

func filterAttachments(c *gin.Context, store registrystore.MetadataStore, cfg *config.Config) {
	var req filterAttachmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	timeout := cfg.AttachmentListTimeout
	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout_seconds must be at least 1"})
			return
		}
		timeout = time.Duration(*req.TimeoutSeconds) * time.Second
	}
	q := registrystore.AttachmentQuery{
		Page:          intOrDefault(req.Page, 1),
		Size:          intOrDefault(req.Size, 10),
		Search:        req.Search,
		SortColumn:    req.SortColumn,
		SortDirection: req.SortDirection,
		Timeout:       timeout,
	}
	if req.FromTimestamp != nil {
		from := time.Unix(*req.FromTimestamp, 0).UTC()
		q.FromTS = &from
	}
	if req.ToTimestamp != nil {
		to := time.Unix(*req.ToTimestamp, 0).UTC()
		q.ToTS = &to
	}
	page, err := store.FilterAttachments(c.Request.Context(), q)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func checkSize(content string, cfg *config.Config) error {
	if cfg != nil && cfg.AttachmentMaxSize > 0 && int64(len(content)) > cfg.AttachmentMaxSize {
		return &registrystore.PayloadTooLargeError{Limit: cfg.AttachmentMaxSize}
	}
	return nil
}

func toResponse(att *model.Attachment) gin.H {
	return gin.H{
		"id":             att.ID,
		"content":        att.Content,
		"content_length": len(att.Content),
		"created_at":     att.CreatedAt.Unix(),
		"updated_at":     att.UpdatedAt.Unix(),
	}
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return uuid.Nil, false
	}
	return id, true
}

func intOrDefault(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

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
