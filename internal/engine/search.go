package engine

import (
	"context"

	registrystore "github.com/openmem/openmem/internal/registry/store"
	registryvector "github.com/openmem/openmem/internal/registry/vector"
)

// defaultSearchLimit bounds a search that does not ask for a specific size.
const defaultSearchLimit = 10

// SearchRequest is one semantic retrieval call.
type SearchRequest struct {
	UserID  string
	AppName string
	Query   string
	Limit   int
	// Filters uses the vector store filter language over payload keys.
	Filters map[string]interface{}
	// IncludeMetadata adds the full payload metadata to each hit.
	IncludeMetadata bool
	// ShowAttachmentIDs overrides the persisted default for whether hits
	// carry their attachment ID lists.
	ShowAttachmentIDs *bool
}

// SearchHit is one scored result.
type SearchHit struct {
	ID            string                 `json:"id"`
	Memory        string                 `json:"memory"`
	Hash          string                 `json:"hash,omitempty"`
	Score         float32                `json:"score"`
	CreatedAt     interface{}            `json:"created_at,omitempty"`
	UpdatedAt     interface{}            `json:"updated_at,omitempty"`
	AttachmentIDs []string               `json:"attachment_ids,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Search embeds the query, retrieves the user's nearest memories, and drops
// everything the calling app's access rules do not grant. Each returned hit
// is recorded in the access log.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	if req.Query == "" {
		return nil, &registrystore.ValidationError{Field: "query", Message: "must not be empty"}
	}
	if e.vector == nil || !e.vector.IsEnabled() || e.embedder == nil {
		return nil, &registrystore.UnavailableError{Dependency: "vector_store"}
	}
	_, app, err := e.store.GetOrCreateUserAndApp(ctx, req.UserID, req.AppName)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vec, err := e.embedText(ctx, req.Query, true)
	if err != nil {
		return nil, err
	}

	filters := map[string]interface{}{registryvector.PayloadUserID: req.UserID}
	for k, v := range req.Filters {
		if k == registryvector.PayloadUserID {
			continue
		}
		filters[k] = v
	}
	points, err := e.vector.Search(ctx, vec, limit, filters)
	if err != nil {
		return nil, &registrystore.UnavailableError{Dependency: "vector_store", Err: err}
	}

	decision, err := e.acl.ForApp(ctx, app.ID)
	if err != nil {
		return nil, err
	}

	showAttachments := e.currentSettings(ctx).AttachmentIDsShowDefault
	if req.ShowAttachmentIDs != nil {
		showAttachments = *req.ShowAttachmentIDs
	}

	hits := make([]SearchHit, 0, len(points))
	for _, pt := range points {
		if !decision.Allows(pt.ID) {
			continue
		}
		data, _ := pt.Payload[registryvector.PayloadData].(string)
		hash, _ := pt.Payload[registryvector.PayloadHash].(string)
		hit := SearchHit{
			ID:        pt.ID.String(),
			Memory:    data,
			Hash:      hash,
			Score:     pt.Score,
			CreatedAt: pt.Payload[registryvector.PayloadCreatedAt],
			UpdatedAt: pt.Payload[registryvector.PayloadUpdatedAt],
		}
		if showAttachments {
			hit.AttachmentIDs = payloadAttachmentIDs(pt.Payload)
		}
		if req.IncludeMetadata {
			hit.Metadata = projectMetadata(pt.Payload, showAttachments)
		}
		hits = append(hits, hit)
		e.logAccess(ctx, pt.ID, app.ID, "search", map[string]interface{}{"query": req.Query})
	}
	return hits, nil
}

// projectMetadata strips the service-managed payload keys, leaving the
// caller-supplied metadata (and, when shown, the attachment links).
func projectMetadata(payload map[string]interface{}, showAttachments bool) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch k {
		case registryvector.PayloadData, registryvector.PayloadHash,
			registryvector.PayloadUserID, registryvector.PayloadCreatedAt,
			registryvector.PayloadUpdatedAt:
			continue
		case registryvector.PayloadAttachmentIDs:
			if !showAttachments {
				continue
			}
		}
		out[k] = v
	}
	return out
}
