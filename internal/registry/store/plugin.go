package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openmem/openmem/internal/config"
	"github.com/openmem/openmem/internal/model"
)

// MemoryItem is a memory joined with its app name and category names,
// the shape list and detail endpoints return.
type MemoryItem struct {
	model.Memory
	AppName    string   `json:"app_name"`
	Categories []string `json:"categories"`
}

// MarshalJSON projects the wire shape of a memory: raw text under "text",
// unix-second timestamps, and the caller metadata under "metadata_".
func (m MemoryItem) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID         uuid.UUID         `json:"id"`
		Text       string            `json:"text"`
		CreatedAt  int64             `json:"created_at"`
		UpdatedAt  int64             `json:"updated_at"`
		State      model.MemoryState `json:"state"`
		AppID      uuid.UUID         `json:"app_id"`
		AppName    string            `json:"app_name"`
		Categories []string          `json:"categories"`
		Metadata   model.Metadata    `json:"metadata_"`
	}
	categories := m.Categories
	if categories == nil {
		categories = []string{}
	}
	meta := m.Metadata
	if meta == nil {
		meta = model.Metadata{}
	}
	return json.Marshal(wire{
		ID:         m.ID,
		Text:       m.Content,
		CreatedAt:  m.CreatedAt.Unix(),
		UpdatedAt:  m.UpdatedAt.Unix(),
		State:      m.State,
		AppID:      m.AppID,
		AppName:    m.AppName,
		Categories: categories,
		Metadata:   meta,
	})
}

// MemoryPage is a paginated list of memories.
type MemoryPage struct {
	Items []MemoryItem `json:"items"`
	Total int64        `json:"total"`
	Page  int          `json:"page"`
	Size  int          `json:"size"`
	Pages int          `json:"pages"`
}

// MemoryQuery holds the parameters for listing/filtering memories.
// Deleted memories are always excluded; archived ones only appear when
// ShowArchived is set.
type MemoryQuery struct {
	UserID        string
	AppIDs        []uuid.UUID
	CategoryIDs   []uuid.UUID
	Categories    []string
	FromDate      *time.Time
	ToDate        *time.Time
	SearchQuery   string
	SortColumn    string
	SortDirection string
	ShowArchived  bool
	Page          int
	Size          int
}

// MemoryIDQuery selects memory IDs for bulk state changes (pause, archive,
// delete-all). Empty fields are unconstrained.
type MemoryIDQuery struct {
	UserID      string
	AppID       *uuid.UUID
	MemoryIDs   []uuid.UUID
	CategoryIDs []uuid.UUID
	States      []model.MemoryState
}

// AccessLogItem is one access log row joined with the accessing app's name.
type AccessLogItem struct {
	model.MemoryAccessLog
	AppName string `json:"app_name"`
}

// AccessLogPage is a paginated access log.
type AccessLogPage struct {
	Items []AccessLogItem `json:"logs"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

// AttachmentSummary is the list projection of an attachment: a short content
// preview plus sizes and timestamps, never the full content.
type AttachmentSummary struct {
	ID            uuid.UUID `json:"id"`
	Preview       string    `json:"preview"`
	ContentLength int       `json:"content_length"`
	CreatedAt     int64     `json:"created_at"`
	UpdatedAt     int64     `json:"updated_at"`
}

// AttachmentPage is a paginated attachment listing.
type AttachmentPage struct {
	Items []AttachmentSummary `json:"items"`
	Total int64               `json:"total"`
	Page  int                 `json:"page"`
	Size  int                 `json:"size"`
}

// AttachmentQuery holds the parameters for the attachment filter endpoint.
// Search matches the content or the stringified UUID, case-insensitively.
type AttachmentQuery struct {
	Page          int
	Size          int
	Search        string
	SortColumn    string
	SortDirection string
	FromTS        *time.Time
	ToTS          *time.Time
	// Timeout bounds the statement execution for this query only.
	Timeout time.Duration
}

// MetadataStore is the relational side of the dual-store: the authoritative
// record for memory rows, apps, users, attachments, audit tables, persisted
// settings and the background task queue.
type MetadataStore interface {
	// Transaction runs fn inside a database transaction. The MetadataStore
	// passed to fn routes all operations through that transaction.
	Transaction(ctx context.Context, fn func(tx MetadataStore) error) error

	// Users and apps
	GetOrCreateUserAndApp(ctx context.Context, userID, appName string) (*model.User, *model.App, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)
	GetApp(ctx context.Context, id uuid.UUID) (*model.App, error)

	// Memories
	CreateMemory(ctx context.Context, m *model.Memory) error
	SaveMemory(ctx context.Context, m *model.Memory) error
	GetMemory(ctx context.Context, userID string, id uuid.UUID) (*MemoryItem, error)
	// FindMemoryAnyState also returns soft-deleted rows, for reactivation.
	FindMemoryAnyState(ctx context.Context, userID string, id uuid.UUID) (*model.Memory, error)
	// FindMemoryByContent returns the newest memory with exactly this content,
	// any state. Re-adding previously deleted content reactivates the tombstone
	// instead of minting a second row.
	FindMemoryByContent(ctx context.Context, userID string, content string) (*model.Memory, error)
	ListMemories(ctx context.Context, q MemoryQuery) (*MemoryPage, error)
	ListMemoryIDs(ctx context.Context, q MemoryIDQuery) ([]uuid.UUID, error)
	// SetMemoryState transitions the given memories, stamping archived_at /
	// deleted_at and writing a status history row per change.
	SetMemoryState(ctx context.Context, ids []uuid.UUID, newState model.MemoryState, changedBy uuid.UUID) error
	RelatedMemories(ctx context.Context, userID string, memoryID uuid.UUID, limit int) ([]MemoryItem, error)

	// Categories
	ListCategories(ctx context.Context, userID string) ([]model.Category, error)
	AssignCategories(ctx context.Context, memoryID uuid.UUID, names []string) error

	// Audit
	AddStatusHistory(ctx context.Context, memoryID, changedBy uuid.UUID, oldState, newState model.MemoryState) error
	LogAccess(ctx context.Context, entry *model.MemoryAccessLog) error
	ListAccessLog(ctx context.Context, userID string, memoryID uuid.UUID, page, size int) (*AccessLogPage, error)

	// Access rules for the ACL evaluator. Returns all memory-object rules
	// whose subject is the given app (or all apps, for NULL-subject rules).
	ListAccessRules(ctx context.Context, appID uuid.UUID) ([]model.AccessControl, error)

	// Attachments
	CreateAttachment(ctx context.Context, a *model.Attachment) error
	GetAttachment(ctx context.Context, id uuid.UUID) (*model.Attachment, error)
	UpdateAttachment(ctx context.Context, id uuid.UUID, content string) (*model.Attachment, error)
	// DeleteAttachment is idempotent: deleting a missing attachment is not an error.
	DeleteAttachment(ctx context.Context, id uuid.UUID) error
	AttachmentExists(ctx context.Context, id uuid.UUID) (bool, error)
	FilterAttachments(ctx context.Context, q AttachmentQuery) (*AttachmentPage, error)

	// Persisted runtime settings
	LoadSettings(ctx context.Context) (*config.Settings, error)
	SaveSettings(ctx context.Context, s *config.Settings) error

	// Tasks
	CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error
	ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error)
	DeleteTask(ctx context.Context, taskID uuid.UUID) error
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error
}

// Loader creates a MetadataStore from config.
type Loader func(ctx context.Context) (MetadataStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
