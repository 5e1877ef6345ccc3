package engine

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/openmem/openmem/internal/llm"
	"github.com/openmem/openmem/internal/model"
	registrystore "github.com/openmem/openmem/internal/registry/store"
	"github.com/openmem/openmem/internal/security"
)

// TaskVectorDelete is the retry task type enqueued when a vector point could
// not be removed inline.
const TaskVectorDelete = "vector_store_delete"

// dedupNeighborLimit is how many nearest memories each fact is compared
// against during the merge decision.
const dedupNeighborLimit = 5

// AddRequest is one ingestion call. The three flags are tri-state: nil falls
// back to the persisted default_infer / default_extract / default_deduplicate
// settings, each of which reads as true when unset.
type AddRequest struct {
	UserID  string
	AppName string
	Text    string
	// Infer selects indexed storage. When resolved false the text is stored
	// verbatim, database-only, off the semantic index, and Extract and
	// Deduplicate are forced off.
	Infer *bool
	// Extract selects LLM fact extraction; when resolved false the raw text
	// is treated as the single fact.
	Extract *bool
	// Deduplicate selects the neighbor search plus merge decision; when
	// resolved false every fact becomes a plain ADD.
	Deduplicate *bool
	Metadata    model.Metadata
	// AttachmentText, when set, stores a new attachment and links it to the
	// resulting memories. AttachmentID names the attachment to create, or,
	// when AttachmentText is empty, references an existing one.
	AttachmentText string
	AttachmentID   *uuid.UUID
}

// EventResult is one applied merge event.
type EventResult struct {
	ID            uuid.UUID `json:"id"`
	Memory        string    `json:"memory"`
	Event         string    `json:"event"`
	OldMemory     string    `json:"old_memory,omitempty"`
	AttachmentIDs []string  `json:"attachment_ids,omitempty"`
}

// AddResult is the outcome of one ingestion. Either Results is non-empty, or
// the input produced no change and Message/Event/OriginalText describe that.
type AddResult struct {
	Results      []EventResult `json:"results,omitempty"`
	Message      string        `json:"message,omitempty"`
	Event        string        `json:"event,omitempty"`
	OriginalText string        `json:"original_text,omitempty"`
}

func flagOrDefault(flag *bool, def bool) bool {
	if flag == nil {
		return def
	}
	return *flag
}

// Add ingests one text for a user. With infer resolved false the text is
// stored verbatim; otherwise the inference pipeline runs, and its collaborators
// must be configured: requesting it without them is an UnavailableError, never
// a silent downgrade to the fast path.
func (e *Engine) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	start := time.Now()
	defer func() {
		if security.IngestDuration != nil {
			security.IngestDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if req.Text == "" {
		return nil, &registrystore.ValidationError{Field: "text", Message: "must not be empty"}
	}

	settings := e.currentSettings(ctx)
	infer := flagOrDefault(req.Infer, settings.InferDefault())
	extract := flagOrDefault(req.Extract, settings.ExtractDefault())
	dedup := flagOrDefault(req.Deduplicate, settings.DeduplicateDefault())
	if !infer {
		extract, dedup = false, false
	}

	user, app, err := e.resolveIdentity(ctx, req.UserID, req.AppName)
	if err != nil {
		return nil, err
	}

	meta := req.Metadata.Clone()
	meta[model.MetaSourceApp] = app.Name
	if err := e.intakeAttachment(ctx, &req, meta); err != nil {
		return nil, err
	}

	if !infer {
		return e.addVerbatim(ctx, user, app, req.Text, meta)
	}
	if (extract || dedup) && e.orchestrator == nil {
		return nil, &registrystore.UnavailableError{Dependency: "llm"}
	}
	if e.embedder == nil || e.vector == nil || !e.vector.IsEnabled() {
		return nil, &registrystore.UnavailableError{Dependency: "vector_store"}
	}
	return e.addInferred(ctx, user, app, req.Text, meta, extract, dedup)
}

// intakeAttachment handles the attachment side of an ingestion request:
// either store new content (optionally under a caller-chosen ID) or verify a
// referenced attachment exists. The linked ID lands in meta.
func (e *Engine) intakeAttachment(ctx context.Context, req *AddRequest, meta model.Metadata) error {
	if req.AttachmentText != "" {
		att := &model.Attachment{Content: req.AttachmentText}
		if req.AttachmentID != nil {
			att.ID = *req.AttachmentID
		}
		if err := e.store.CreateAttachment(ctx, att); err != nil {
			return err
		}
		meta.AppendAttachmentIDs(att.ID.String())
		return nil
	}
	if req.AttachmentID != nil {
		exists, err := e.store.AttachmentExists(ctx, *req.AttachmentID)
		if err != nil {
			return err
		}
		if !exists {
			return &registrystore.NotFoundError{Resource: "attachment", ID: req.AttachmentID.String()}
		}
		meta.AppendAttachmentIDs(req.AttachmentID.String())
	}
	return nil
}

// addVerbatim stores the text as a single memory row without touching the
// vector index.
func (e *Engine) addVerbatim(ctx context.Context, user *model.User, app *model.App, text string, meta model.Metadata) (*AddResult, error) {
	mem := &model.Memory{
		UserID:   user.ID,
		AppID:    app.ID,
		Content:  text,
		Metadata: meta,
	}
	if err := e.store.CreateMemory(ctx, mem); err != nil {
		return nil, err
	}
	observeIngestEvent(llm.EventAdd)
	return &AddResult{Results: []EventResult{{
		ID:            mem.ID,
		Memory:        text,
		Event:         llm.EventAdd,
		AttachmentIDs: meta.AttachmentIDs(),
	}}}, nil
}

// addInferred runs the inference pipeline: extract facts (or take the raw
// text as the single fact), decide merge events against each fact's nearest
// existing memories (or synthesize plain ADDs), and apply the decided events.
// The metadata-side writes of the whole event sequence commit in one
// transaction.
func (e *Engine) addInferred(ctx context.Context, user *model.User, app *model.App, text string, meta model.Metadata, extract, dedup bool) (*AddResult, error) {
	settings := e.currentSettings(ctx)

	facts := []string{text}
	var categories []string
	if extract {
		extracted, err := e.orchestrator.ExtractFacts(ctx, text, settings.CustomInstructions)
		if err != nil {
			return nil, err
		}
		if len(extracted.Facts) == 0 {
			return &AddResult{
				Message:      "No new facts were extracted from the input",
				Event:        llm.EventNone,
				OriginalText: text,
			}, nil
		}
		facts = extracted.Facts
		categories = extracted.Categories
	}

	var events []llm.MergeEvent
	if dedup {
		neighbors, err := e.dedupNeighbors(ctx, user.UserID, facts)
		if err != nil {
			return nil, err
		}
		events, err = e.orchestrator.DecideMerge(ctx, facts, neighbors, settings.CustomUpdateMemoryPrompt)
		if err != nil {
			return nil, err
		}
	} else {
		for _, fact := range facts {
			events = append(events, llm.MergeEvent{Text: fact, Event: llm.EventAdd})
		}
	}

	var results []EventResult
	var applied []string
	err := e.store.Transaction(ctx, func(tx registrystore.MetadataStore) error {
		for _, ev := range events {
			res, err := e.applyEvent(ctx, tx, user, app, ev, meta, categories)
			if err != nil {
				return err
			}
			if res != nil {
				results = append(results, *res)
			}
			applied = append(applied, ev.Event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range applied {
		observeIngestEvent(ev)
	}
	if len(results) == 0 {
		return &AddResult{
			Message:      "Nothing new to remember, existing memories already cover this",
			Event:        llm.EventNone,
			OriginalText: text,
		}, nil
	}
	return &AddResult{Results: results}, nil
}

// dedupNeighbors searches the vector index for each fact's nearest memories
// and merges the hits, deduplicated by point ID.
func (e *Engine) dedupNeighbors(ctx context.Context, userID string, facts []string) ([]llm.Neighbor, error) {
	seen := map[uuid.UUID]bool{}
	var neighbors []llm.Neighbor
	for _, fact := range facts {
		vec, err := e.embedText(ctx, fact, false)
		if err != nil {
			return nil, err
		}
		points, err := e.vector.Search(ctx, vec, dedupNeighborLimit, map[string]interface{}{
			"user_id": userID,
		})
		if err != nil {
			return nil, &registrystore.UnavailableError{Dependency: "vector_store", Err: err}
		}
		for _, pt := range points {
			if pt.ID == uuid.Nil || seen[pt.ID] {
				continue
			}
			seen[pt.ID] = true
			data, _ := pt.Payload["data"].(string)
			neighbors = append(neighbors, llm.Neighbor{
				ID:            pt.ID,
				Text:          data,
				AttachmentIDs: payloadAttachmentIDs(pt.Payload),
			})
		}
	}
	return neighbors, nil
}

func (e *Engine) applyEvent(ctx context.Context, tx registrystore.MetadataStore, user *model.User, app *model.App, ev llm.MergeEvent, meta model.Metadata, categories []string) (*EventResult, error) {
	switch ev.Event {
	case llm.EventAdd:
		return e.applyAdd(ctx, tx, user, app, ev.Text, meta, categories)
	case llm.EventUpdate:
		return e.applyUpdate(ctx, tx, user, app, ev, meta, categories)
	case llm.EventDelete:
		return e.applyDelete(ctx, tx, user, app, ev)
	default:
		return nil, nil
	}
}

// applyAdd writes a new memory to both stores under one minted ID. Re-adding
// content that was previously soft-deleted reactivates the tombstone row.
func (e *Engine) applyAdd(ctx context.Context, tx registrystore.MetadataStore, user *model.User, app *model.App, text string, meta model.Metadata, categories []string) (*EventResult, error) {
	memMeta := meta.Clone()

	var mem *model.Memory
	existing, err := tx.FindMemoryByContent(ctx, user.UserID, text)
	if err == nil && existing != nil && existing.State == model.StateDeleted {
		existing.State = model.StateActive
		existing.DeletedAt = nil
		existing.Metadata = memMeta
		if err := tx.SaveMemory(ctx, existing); err != nil {
			return nil, err
		}
		if err := tx.AddStatusHistory(ctx, existing.ID, app.ID, model.StateDeleted, model.StateActive); err != nil {
			log.Warn("Failed to record status history", "memory", existing.ID, "err", err)
		}
		mem = existing
	} else {
		mem = &model.Memory{
			ID:       uuid.New(),
			UserID:   user.ID,
			AppID:    app.ID,
			Content:  text,
			Metadata: memMeta,
		}
		if err := tx.CreateMemory(ctx, mem); err != nil {
			return nil, err
		}
	}
	if len(categories) > 0 {
		if err := tx.AssignCategories(ctx, mem.ID, categories); err != nil {
			log.Warn("Failed to assign categories", "memory", mem.ID, "err", err)
		}
	}

	vec, err := e.embedText(ctx, text, false)
	if err != nil {
		return nil, err
	}
	payload := vectorPayload(text, user.UserID, memMeta, mem.CreatedAt.Unix(), 0)
	if err := e.vector.Upsert(ctx, mem.ID, vec, payload); err != nil {
		return nil, &registrystore.UnavailableError{Dependency: "vector_store", Err: err}
	}

	return &EventResult{
		ID:            mem.ID,
		Memory:        text,
		Event:         llm.EventAdd,
		AttachmentIDs: memMeta.AttachmentIDs(),
	}, nil
}

// applyUpdate rewrites the memory's text in the vector store first, then
// re-reads the stored payload so the relational row records the attachment
// set the index actually holds.
func (e *Engine) applyUpdate(ctx context.Context, tx registrystore.MetadataStore, user *model.User, app *model.App, ev llm.MergeEvent, meta model.Metadata, categories []string) (*EventResult, error) {
	mem, err := tx.FindMemoryAnyState(ctx, user.UserID, ev.ID)
	if err != nil {
		return nil, err
	}

	updatedMeta := mem.Metadata.Clone()
	for k, v := range meta.WithoutAttachmentIDs() {
		updatedMeta[k] = v
	}
	merged := append(ev.AttachmentIDs, meta.AttachmentIDs()...)
	updatedMeta.SetAttachmentIDs(nil)
	updatedMeta.AppendAttachmentIDs(merged...)

	now := time.Now().UTC()
	payload := vectorPayload(ev.Text, user.UserID, updatedMeta, mem.CreatedAt.Unix(), now.Unix())
	vec, err := e.embedText(ctx, ev.Text, false)
	if err != nil {
		return nil, err
	}
	if err := e.vector.Upsert(ctx, ev.ID, vec, payload); err != nil {
		return nil, &registrystore.UnavailableError{Dependency: "vector_store", Err: err}
	}

	// The index is authoritative for attachment links after the write.
	attachmentIDs := updatedMeta.AttachmentIDs()
	if stored, err := e.vector.Get(ctx, ev.ID); err == nil && stored != nil {
		attachmentIDs = payloadAttachmentIDs(stored.Payload)
	}
	updatedMeta.SetAttachmentIDs(attachmentIDs)

	oldState := mem.State
	mem.Content = ev.Text
	mem.Metadata = updatedMeta
	mem.State = model.StateActive
	mem.DeletedAt = nil
	if err := tx.SaveMemory(ctx, mem); err != nil {
		return nil, err
	}
	if err := tx.AddStatusHistory(ctx, mem.ID, app.ID, oldState, model.StateActive); err != nil {
		log.Warn("Failed to record status history", "memory", mem.ID, "err", err)
	}
	if len(categories) > 0 {
		if err := tx.AssignCategories(ctx, mem.ID, categories); err != nil {
			log.Warn("Failed to assign categories", "memory", mem.ID, "err", err)
		}
	}

	return &EventResult{
		ID:            mem.ID,
		Memory:        ev.Text,
		Event:         llm.EventUpdate,
		OldMemory:     ev.OldMemory,
		AttachmentIDs: attachmentIDs,
	}, nil
}

// applyDelete removes the point from the index (best effort, with a retry
// task on failure) and soft-deletes the relational row.
func (e *Engine) applyDelete(ctx context.Context, tx registrystore.MetadataStore, user *model.User, app *model.App, ev llm.MergeEvent) (*EventResult, error) {
	mem, err := tx.FindMemoryAnyState(ctx, user.UserID, ev.ID)
	if err != nil {
		return nil, err
	}
	e.deleteVectorPoint(ctx, tx, mem.ID)
	if err := tx.SetMemoryState(ctx, []uuid.UUID{mem.ID}, model.StateDeleted, app.ID); err != nil {
		return nil, err
	}
	return &EventResult{
		ID:        mem.ID,
		Memory:    mem.Content,
		Event:     llm.EventDelete,
		OldMemory: ev.OldMemory,
	}, nil
}

// deleteVectorPoint removes a point from the index, falling back to the task
// queue when the index is unreachable so the point is cleaned up eventually.
func (e *Engine) deleteVectorPoint(ctx context.Context, store registrystore.MetadataStore, id uuid.UUID) {
	if e.vector == nil || !e.vector.IsEnabled() {
		return
	}
	if err := e.vector.Delete(ctx, id); err != nil {
		log.Warn("Vector delete failed, queueing retry", "memory", id, "err", err)
		if taskErr := store.CreateTask(ctx, TaskVectorDelete, map[string]interface{}{
			"memory_id": id.String(),
		}); taskErr != nil {
			log.Error("Failed to enqueue vector delete task", "memory", id, "err", taskErr)
		}
	}
}
