package engine

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/openmem/openmem/internal/model"
	registrystore "github.com/openmem/openmem/internal/registry/store"
)

// relatedLimit is the page size of the related-memories lookup.
const relatedLimit = 5

// Get returns one memory with its app and category names.
func (e *Engine) Get(ctx context.Context, userID string, id uuid.UUID) (*registrystore.MemoryItem, error) {
	return e.store.GetMemory(ctx, userID, id)
}

// List returns a page of the user's memories, recording a "list" access for
// each returned item under the calling app.
func (e *Engine) List(ctx context.Context, appName string, q registrystore.MemoryQuery) (*registrystore.MemoryPage, error) {
	_, app, err := e.store.GetOrCreateUserAndApp(ctx, q.UserID, appName)
	if err != nil {
		return nil, err
	}
	page, err := e.store.ListMemories(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, item := range page.Items {
		e.logAccess(ctx, item.ID, app.ID, "list", nil)
	}
	return page, nil
}

// Update replaces a memory's text. When the semantic index is available the
// point is re-embedded in place, keeping both stores aligned.
func (e *Engine) Update(ctx context.Context, userID, appName string, id uuid.UUID, text string) (*registrystore.MemoryItem, error) {
	if text == "" {
		return nil, &registrystore.ValidationError{Field: "memory_content", Message: "must not be empty"}
	}
	_, app, err := e.resolveIdentity(ctx, userID, appName)
	if err != nil {
		return nil, err
	}
	mem, err := e.store.FindMemoryAnyState(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if mem.State == model.StateDeleted {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id.String()}
	}

	mem.Content = text
	if err := e.store.SaveMemory(ctx, mem); err != nil {
		return nil, err
	}

	if e.vector != nil && e.vector.IsEnabled() && e.embedder != nil {
		vec, err := e.embedText(ctx, text, false)
		if err != nil {
			return nil, err
		}
		payload := vectorPayload(text, userID, mem.Metadata, mem.CreatedAt.Unix(), time.Now().Unix())
		if err := e.vector.Upsert(ctx, mem.ID, vec, payload); err != nil {
			return nil, &registrystore.UnavailableError{Dependency: "vector_store", Err: err}
		}
	}
	e.logAccess(ctx, mem.ID, app.ID, "update", nil)
	return e.store.GetMemory(ctx, userID, id)
}

// Delete soft-deletes the given memories, removing their vector points and,
// when deleteAttachments is set, the attachments they reference. An empty ID
// list, or one where no ID resolves to a memory, is NotFound and leaves the
// store untouched.
func (e *Engine) Delete(ctx context.Context, userID, appName string, ids []uuid.UUID, deleteAttachments bool) (int, error) {
	return e.deleteMemories(ctx, userID, appName, ids, deleteAttachments, "delete")
}

func (e *Engine) deleteMemories(ctx context.Context, userID, appName string, ids []uuid.UUID, deleteAttachments bool, accessType string) (int, error) {
	if len(ids) == 0 {
		return 0, &registrystore.NotFoundError{Resource: "memory"}
	}
	_, app, err := e.store.GetOrCreateUserAndApp(ctx, userID, appName)
	if err != nil {
		return 0, err
	}

	found := 0
	deleted := 0
	attachmentIDs := map[string]bool{}
	for _, id := range ids {
		mem, err := e.store.FindMemoryAnyState(ctx, userID, id)
		if err != nil {
			var nf *registrystore.NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			return deleted, err
		}
		found++
		if mem.State == model.StateDeleted {
			continue
		}
		if deleteAttachments {
			for _, attID := range mem.Metadata.AttachmentIDs() {
				attachmentIDs[attID] = true
			}
		}
		e.deleteVectorPoint(ctx, e.store, mem.ID)
		if err := e.store.SetMemoryState(ctx, []uuid.UUID{mem.ID}, model.StateDeleted, app.ID); err != nil {
			return deleted, err
		}
		e.logAccess(ctx, mem.ID, app.ID, accessType, nil)
		deleted++
	}
	if found == 0 {
		return 0, &registrystore.NotFoundError{Resource: "memory"}
	}

	for attID := range attachmentIDs {
		id, err := uuid.Parse(attID)
		if err != nil {
			continue
		}
		if err := e.store.DeleteAttachment(ctx, id); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// DeleteAll soft-deletes every memory of the user, optionally restricted to
// one app. An empty scope is a no-op rather than an error.
func (e *Engine) DeleteAll(ctx context.Context, userID, appName string, appFilter *uuid.UUID) (int, error) {
	ids, err := e.store.ListMemoryIDs(ctx, registrystore.MemoryIDQuery{
		UserID: userID,
		AppID:  appFilter,
	})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return e.deleteMemories(ctx, userID, appName, ids, false, "delete_all")
}

// StateScope selects the memories a bulk state change applies to. Exactly
// one selector should be populated; All wins over the others.
type StateScope struct {
	UserID      string
	AppName     string
	All         bool
	AppID       *uuid.UUID
	MemoryIDs   []uuid.UUID
	CategoryIDs []uuid.UUID
}

// SetState transitions the scoped memories to the given lifecycle state and
// returns how many were selected.
func (e *Engine) SetState(ctx context.Context, scope StateScope, state model.MemoryState) (int, error) {
	if !state.Valid() || state == model.StateDeleted {
		return 0, &registrystore.ValidationError{Field: "state", Message: "invalid target state"}
	}
	_, app, err := e.store.GetOrCreateUserAndApp(ctx, scope.UserID, scope.AppName)
	if err != nil {
		return 0, err
	}
	q := registrystore.MemoryIDQuery{UserID: scope.UserID}
	if !scope.All {
		q.AppID = scope.AppID
		q.MemoryIDs = scope.MemoryIDs
		q.CategoryIDs = scope.CategoryIDs
		if q.AppID == nil && len(q.MemoryIDs) == 0 && len(q.CategoryIDs) == 0 {
			return 0, &registrystore.ValidationError{Field: "scope", Message: "no memories selected"}
		}
	}
	ids, err := e.store.ListMemoryIDs(ctx, q)
	if err != nil {
		return 0, err
	}
	if err := e.store.SetMemoryState(ctx, ids, state, app.ID); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Related returns memories sharing categories with the given one.
func (e *Engine) Related(ctx context.Context, userID string, id uuid.UUID) ([]registrystore.MemoryItem, error) {
	if _, err := e.store.GetMemory(ctx, userID, id); err != nil {
		return nil, err
	}
	return e.store.RelatedMemories(ctx, userID, id, relatedLimit)
}

// AccessLog returns the paginated access history of one memory.
func (e *Engine) AccessLog(ctx context.Context, userID string, id uuid.UUID, page, size int) (*registrystore.AccessLogPage, error) {
	return e.store.ListAccessLog(ctx, userID, id, page, size)
}

// Categories returns the categories present on the user's memories.
func (e *Engine) Categories(ctx context.Context, userID string) ([]model.Category, error) {
	return e.store.ListCategories(ctx, userID)
}

// logAccess records one access-log row, best effort.
func (e *Engine) logAccess(ctx context.Context, memoryID, appID uuid.UUID, accessType string, meta map[string]interface{}) {
	if err := e.store.LogAccess(ctx, &model.MemoryAccessLog{
		MemoryID:   memoryID,
		AppID:      appID,
		AccessType: accessType,
		Metadata:   meta,
	}); err != nil {
		log.Warn("Failed to record memory access", "memory", memoryID, "type", accessType, "err", err)
	}
}
