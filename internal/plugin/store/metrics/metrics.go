// Package metrics wraps a MetadataStore so every operation records its
// latency under the store's operation name.
package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/openmem/openmem/internal/config"
	"github.com/openmem/openmem/internal/model"
	"github.com/openmem/openmem/internal/registry/store"
	"github.com/openmem/openmem/internal/security"
)

// Wrap returns a MetadataStore that records StoreLatency for every operation.
func Wrap(inner store.MetadataStore) store.MetadataStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.MetadataStore
}

func (m *metricsStore) Transaction(ctx context.Context, fn func(tx store.MetadataStore) error) error {
	// The transactional store is passed through unwrapped; the whole
	// transaction is observed as one operation.
	defer security.ObserveStoreLatency("transaction", time.Now())
	return m.inner.Transaction(ctx, fn)
}

func (m *metricsStore) GetOrCreateUserAndApp(ctx context.Context, userID, appName string) (*model.User, *model.App, error) {
	defer security.ObserveStoreLatency("get_or_create_user_and_app", time.Now())
	return m.inner.GetOrCreateUserAndApp(ctx, userID, appName)
}

func (m *metricsStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	defer security.ObserveStoreLatency("get_user", time.Now())
	return m.inner.GetUser(ctx, userID)
}

func (m *metricsStore) GetApp(ctx context.Context, id uuid.UUID) (*model.App, error) {
	defer security.ObserveStoreLatency("get_app", time.Now())
	return m.inner.GetApp(ctx, id)
}

func (m *metricsStore) CreateMemory(ctx context.Context, mem *model.Memory) error {
	defer security.ObserveStoreLatency("create_memory", time.Now())
	return m.inner.CreateMemory(ctx, mem)
}

func (m *metricsStore) SaveMemory(ctx context.Context, mem *model.Memory) error {
	defer security.ObserveStoreLatency("save_memory", time.Now())
	return m.inner.SaveMemory(ctx, mem)
}

func (m *metricsStore) GetMemory(ctx context.Context, userID string, id uuid.UUID) (*store.MemoryItem, error) {
	defer security.ObserveStoreLatency("get_memory", time.Now())
	return m.inner.GetMemory(ctx, userID, id)
}

func (m *metricsStore) FindMemoryAnyState(ctx context.Context, userID string, id uuid.UUID) (*model.Memory, error) {
	defer security.ObserveStoreLatency("find_memory_any_state", time.Now())
	return m.inner.FindMemoryAnyState(ctx, userID, id)
}

func (m *metricsStore) FindMemoryByContent(ctx context.Context, userID string, content string) (*model.Memory, error) {
	defer security.ObserveStoreLatency("find_memory_by_content", time.Now())
	return m.inner.FindMemoryByContent(ctx, userID, content)
}

func (m *metricsStore) ListMemories(ctx context.Context, q store.MemoryQuery) (*store.MemoryPage, error) {
	defer security.ObserveStoreLatency("list_memories", time.Now())
	return m.inner.ListMemories(ctx, q)
}

func (m *metricsStore) ListMemoryIDs(ctx context.Context, q store.MemoryIDQuery) ([]uuid.UUID, error) {
	defer security.ObserveStoreLatency("list_memory_ids", time.Now())
	return m.inner.ListMemoryIDs(ctx, q)
}

func (m *metricsStore) SetMemoryState(ctx context.Context, ids []uuid.UUID, newState model.MemoryState, changedBy uuid.UUID) error {
	defer security.ObserveStoreLatency("set_memory_state", time.Now())
	return m.inner.SetMemoryState(ctx, ids, newState, changedBy)
}

func (m *metricsStore) RelatedMemories(ctx context.Context, userID string, memoryID uuid.UUID, limit int) ([]store.MemoryItem, error) {
	defer security.ObserveStoreLatency("related_memories", time.Now())
	return m.inner.RelatedMemories(ctx, userID, memoryID, limit)
}

func (m *metricsStore) ListCategories(ctx context.Context, userID string) ([]model.Category, error) {
	defer security.ObserveStoreLatency("list_categories", time.Now())
	return m.inner.ListCategories(ctx, userID)
}

func (m *metricsStore) AssignCategories(ctx context.Context, memoryID uuid.UUID, names []string) error {
	defer security.ObserveStoreLatency("assign_categories", time.Now())
	return m.inner.AssignCategories(ctx, memoryID, names)
}

func (m *metricsStore) AddStatusHistory(ctx context.Context, memoryID, changedBy uuid.UUID, oldState, newState model.MemoryState) error {
	defer security.ObserveStoreLatency("add_status_history", time.Now())
	return m.inner.AddStatusHistory(ctx, memoryID, changedBy, oldState, newState)
}

func (m *metricsStore) LogAccess(ctx context.Context, entry *model.MemoryAccessLog) error {
	defer security.ObserveStoreLatency("log_access", time.Now())
	return m.inner.LogAccess(ctx, entry)
}

func (m *metricsStore) ListAccessLog(ctx context.Context, userID string, memoryID uuid.UUID, page, size int) (*store.AccessLogPage, error) {
	defer security.ObserveStoreLatency("list_access_log", time.Now())
	return m.inner.ListAccessLog(ctx, userID, memoryID, page, size)
}

func (m *metricsStore) ListAccessRules(ctx context.Context, appID uuid.UUID) ([]model.AccessControl, error) {
	defer security.ObserveStoreLatency("list_access_rules", time.Now())
	return m.inner.ListAccessRules(ctx, appID)
}

func (m *metricsStore) CreateAttachment(ctx context.Context, a *model.Attachment) error {
	defer security.ObserveStoreLatency("create_attachment", time.Now())
	return m.inner.CreateAttachment(ctx, a)
}

func (m *metricsStore) GetAttachment(ctx context.Context, id uuid.UUID) (*model.Attachment, error) {
	defer security.ObserveStoreLatency("get_attachment", time.Now())
	return m.inner.GetAttachment(ctx, id)
}

func (m *metricsStore) UpdateAttachment(ctx context.Context, id uuid.UUID, content string) (*model.Attachment, error) {
	defer security.ObserveStoreLatency("update_attachment", time.Now())
	return m.inner.UpdateAttachment(ctx, id, content)
}

func (m *metricsStore) DeleteAttachment(ctx context.Context, id uuid.UUID) error {
	defer security.ObserveStoreLatency("delete_attachment", time.Now())
	return m.inner.DeleteAttachment(ctx, id)
}

func (m *metricsStore) AttachmentExists(ctx context.Context, id uuid.UUID) (bool, error) {
	defer security.ObserveStoreLatency("attachment_exists", time.Now())
	return m.inner.AttachmentExists(ctx, id)
}

func (m *metricsStore) FilterAttachments(ctx context.Context, q store.AttachmentQuery) (*store.AttachmentPage, error) {
	defer security.ObserveStoreLatency("filter_attachments", time.Now())
	return m.inner.FilterAttachments(ctx, q)
}

func (m *metricsStore) LoadSettings(ctx context.Context) (*config.Settings, error) {
	defer security.ObserveStoreLatency("load_settings", time.Now())
	return m.inner.LoadSettings(ctx)
}

func (m *metricsStore) SaveSettings(ctx context.Context, s *config.Settings) error {
	defer security.ObserveStoreLatency("save_settings", time.Now())
	return m.inner.SaveSettings(ctx, s)
}

func (m *metricsStore) CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error {
	defer security.ObserveStoreLatency("create_task", time.Now())
	return m.inner.CreateTask(ctx, taskType, taskBody)
}

func (m *metricsStore) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	defer security.ObserveStoreLatency("claim_ready_tasks", time.Now())
	return m.inner.ClaimReadyTasks(ctx, limit)
}

func (m *metricsStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	defer security.ObserveStoreLatency("delete_task", time.Now())
	return m.inner.DeleteTask(ctx, taskID)
}

func (m *metricsStore) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	defer security.ObserveStoreLatency("fail_task", time.Now())
	return m.inner.FailTask(ctx, taskID, errMsg, retryDelay)
}
