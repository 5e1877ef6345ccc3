package model

import (
	"time"

	"github.com/google/uuid"
)

// MemoryState is the lifecycle state of a memory row.
type MemoryState string

const (
	StateActive   MemoryState = "active"
	StatePaused   MemoryState = "paused"
	StateArchived MemoryState = "archived"
	StateDeleted  MemoryState = "deleted"
)

// Valid reports whether s is one of the known lifecycle states.
func (s MemoryState) Valid() bool {
	switch s {
	case StateActive, StatePaused, StateArchived, StateDeleted:
		return true
	}
	return false
}

// User is an end user whose memories the service stores. UserID is the
// external caller-supplied identity; ID is the internal key.
type User struct {
	ID        uuid.UUID              `json:"id"        gorm:"primaryKey;type:uuid"`
	UserID    string                 `json:"user_id"   gorm:"not null;uniqueIndex"`
	Name      *string                `json:"name,omitempty"`
	Metadata  map[string]interface{} `json:"metadata"  gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	CreatedAt time.Time              `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time              `json:"updated_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

// App is a client application writing or reading memories on behalf of a user.
// A paused app (IsActive=false) is rejected on ingestion.
type App struct {
	ID        uuid.UUID              `json:"id"         gorm:"primaryKey;type:uuid"`
	OwnerID   uuid.UUID              `json:"owner_id"   gorm:"not null;type:uuid;uniqueIndex:idx_apps_owner_name"`
	Name      string                 `json:"name"       gorm:"not null;uniqueIndex:idx_apps_owner_name"`
	Metadata  map[string]interface{} `json:"metadata"   gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	IsActive  bool                   `json:"is_active"  gorm:"not null;default:true"`
	CreatedAt time.Time              `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time              `json:"updated_at" gorm:"not null"`
}

func (App) TableName() string { return "apps" }

// Memory is one stored memory. Content is the canonical text; the row's
// metadata carries attachment links and caller-supplied keys. Deleted rows are
// kept as soft-deleted tombstones so a later re-add can reactivate them.
type Memory struct {
	ID         uuid.UUID   `json:"id"          gorm:"primaryKey;type:uuid"`
	UserID     uuid.UUID   `json:"user_id"     gorm:"not null;type:uuid;index"`
	AppID      uuid.UUID   `json:"app_id"      gorm:"not null;type:uuid;index"`
	Content    string      `json:"content"     gorm:"not null"`
	Metadata   Metadata    `json:"metadata"    gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	State      MemoryState `json:"state"       gorm:"not null;default:'active';index"`
	CreatedAt  time.Time   `json:"created_at"  gorm:"not null"`
	UpdatedAt  time.Time   `json:"updated_at"  gorm:"not null"`
	ArchivedAt *time.Time  `json:"archived_at,omitempty"`
	DeletedAt  *time.Time  `json:"deleted_at,omitempty"`

	App        *App       `json:"-" gorm:"foreignKey:AppID"`
	Categories []Category `json:"-" gorm:"many2many:memory_categories;"`
}

func (Memory) TableName() string { return "memories" }

// Category is a label attached to memories, produced by the extractor.
type Category struct {
	ID          uuid.UUID `json:"id"         gorm:"primaryKey;type:uuid"`
	Name        string    `json:"name"       gorm:"not null;uniqueIndex"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null"`
}

func (Category) TableName() string { return "categories" }

// MemoryCategory is the memories<->categories join row.
type MemoryCategory struct {
	MemoryID   uuid.UUID `gorm:"primaryKey;type:uuid"`
	CategoryID uuid.UUID `gorm:"primaryKey;type:uuid"`
}

func (MemoryCategory) TableName() string { return "memory_categories" }

// MemoryStatusHistory records every lifecycle state transition of a memory.
type MemoryStatusHistory struct {
	ID        uuid.UUID   `json:"id"         gorm:"primaryKey;type:uuid"`
	MemoryID  uuid.UUID   `json:"memory_id"  gorm:"not null;type:uuid;index"`
	ChangedBy uuid.UUID   `json:"changed_by" gorm:"not null;type:uuid"`
	OldState  MemoryState `json:"old_state"  gorm:"not null"`
	NewState  MemoryState `json:"new_state"  gorm:"not null"`
	ChangedAt time.Time   `json:"changed_at" gorm:"not null"`
}

func (MemoryStatusHistory) TableName() string { return "memory_status_history" }

// MemoryAccessLog records each read of a memory (search hit, related lookup).
type MemoryAccessLog struct {
	ID         uuid.UUID              `json:"id"          gorm:"primaryKey;type:uuid"`
	MemoryID   uuid.UUID              `json:"memory_id"   gorm:"not null;type:uuid;index"`
	AppID      uuid.UUID              `json:"app_id"      gorm:"not null;type:uuid"`
	AccessedAt time.Time              `json:"accessed_at" gorm:"not null;index"`
	AccessType string                 `json:"access_type" gorm:"not null"`
	Metadata   map[string]interface{} `json:"metadata"    gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
}

func (MemoryAccessLog) TableName() string { return "memory_access_logs" }

// Access rule effects.
const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// AccessControl is one app-level access rule. A NULL ObjectID means the rule
// applies to all memories for the subject app.
type AccessControl struct {
	ID          uuid.UUID  `json:"id"           gorm:"primaryKey;type:uuid"`
	SubjectType string     `json:"subject_type" gorm:"not null"`
	SubjectID   *uuid.UUID `json:"subject_id"   gorm:"type:uuid;index"`
	ObjectType  string     `json:"object_type"  gorm:"not null"`
	ObjectID    *uuid.UUID `json:"object_id"    gorm:"type:uuid"`
	Effect      string     `json:"effect"       gorm:"not null"`
	CreatedAt   time.Time  `json:"created_at"   gorm:"not null"`
}

func (AccessControl) TableName() string { return "access_controls" }

// Attachment is a standalone text blob that memories reference by ID through
// their metadata. Content is stored in the relational database.
type Attachment struct {
	ID        uuid.UUID `json:"id"         gorm:"primaryKey;type:uuid"`
	Content   string    `json:"content"    gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Attachment) TableName() string { return "attachments" }

// ConfigEntry is a persisted key/value configuration row. The runtime
// settings document is stored under a well-known key.
type ConfigEntry struct {
	Key       string                 `json:"key"        gorm:"primaryKey"`
	Value     map[string]interface{} `json:"value"      gorm:"type:jsonb;serializer:json;not null"`
	UpdatedAt time.Time              `json:"updated_at" gorm:"not null"`
}

func (ConfigEntry) TableName() string { return "config_entries" }

// Task represents a background task in the retry queue.
type Task struct {
	ID         uuid.UUID              `json:"id"                 gorm:"primaryKey;type:uuid"`
	TaskType   string                 `json:"taskType"           gorm:"not null"`
	TaskBody   map[string]interface{} `json:"taskBody"           gorm:"type:jsonb;serializer:json;not null"`
	CreatedAt  time.Time              `json:"createdAt"          gorm:"not null"`
	RetryAt    time.Time              `json:"retryAt"            gorm:"not null;index"`
	LastError  *string                `json:"lastError,omitempty"`
	RetryCount int                    `json:"retryCount"         gorm:"not null;default:0"`
}

func (Task) TableName() string { return "tasks" }
