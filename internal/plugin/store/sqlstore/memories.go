package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openmem/openmem/internal/model"
	registrystore "github.com/openmem/openmem/internal/registry/store"
	"gorm.io/gorm"
)

// CreateMemory inserts a new memory row.
func (s *SQLStore) CreateMemory(ctx context.Context, m *model.Memory) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Metadata == nil {
		m.Metadata = model.Metadata{}
	}
	if m.State == "" {
		m.State = model.StateActive
	}
	return s.db.WithContext(ctx).Omit("App", "Categories").Create(m).Error
}

// SaveMemory persists changes to an existing memory row.
func (s *SQLStore) SaveMemory(ctx context.Context, m *model.Memory) error {
	m.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Omit("App", "Categories").Save(m).Error
}

// GetMemory returns a non-deleted memory owned by the given user, with its
// app name and category names.
func (s *SQLStore) GetMemory(ctx context.Context, userID string, id uuid.UUID) (*registrystore.MemoryItem, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			return nil, &registrystore.NotFoundError{Resource: "memory", ID: id.String()}
		}
		return nil, err
	}
	var mem model.Memory
	err = s.db.WithContext(ctx).
		Preload("App").Preload("Categories").
		Where("id = ? AND user_id = ? AND state <> ?", id, user.ID, model.StateDeleted).
		First(&mem).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	item := toMemoryItem(&mem)
	return &item, nil
}

// FindMemoryAnyState returns a memory regardless of lifecycle state,
// including soft-deleted tombstones.
func (s *SQLStore) FindMemoryAnyState(ctx context.Context, userID string, id uuid.UUID) (*model.Memory, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var mem model.Memory
	err = s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, user.ID).
		First(&mem).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &mem, nil
}

// FindMemoryByContent returns the newest memory with exactly this content,
// any state. Returns a not-found error when no such row exists.
func (s *SQLStore) FindMemoryByContent(ctx context.Context, userID string, content string) (*model.Memory, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var mem model.Memory
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND content = ?", user.ID, content).
		Order("created_at desc").
		First(&mem).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: content}
	}
	if err != nil {
		return nil, err
	}
	return &mem, nil
}

func toMemoryItem(m *model.Memory) registrystore.MemoryItem {
	item := registrystore.MemoryItem{Memory: *m}
	if m.App != nil {
		item.AppName = m.App.Name
	}
	item.Categories = make([]string, 0, len(m.Categories))
	for _, c := range m.Categories {
		item.Categories = append(item.Categories, c.Name)
	}
	return item
}

// memorySortColumns whitelists the sortable columns of the memory listing.
var memorySortColumns = map[string]string{
	"memory":     "memories.content",
	"app_name":   "apps.name",
	"created_at": "memories.created_at",
}

func orderClause(column, direction string) (string, error) {
	dir := strings.ToLower(direction)
	switch dir {
	case "", "asc":
		dir = "asc"
	case "desc":
	default:
		return "", &registrystore.ValidationError{Field: "sort_direction", Message: fmt.Sprintf("invalid sort direction %q", direction)}
	}
	return column + " " + dir, nil
}

// ListMemories returns a page of memories matching the query. An unknown
// user yields an empty page, not an error.
func (s *SQLStore) ListMemories(ctx context.Context, q registrystore.MemoryQuery) (*registrystore.MemoryPage, error) {
	if err := checkPageBounds(q.Page, q.Size); err != nil {
		return nil, err
	}
	page, size := q.Page, q.Size
	empty := &registrystore.MemoryPage{Items: []registrystore.MemoryItem{}, Page: page, Size: size}

	user, err := s.GetUser(ctx, q.UserID)
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			return empty, nil
		}
		return nil, err
	}

	db := s.db.WithContext(ctx).Model(&model.Memory{}).
		Joins("JOIN apps ON apps.id = memories.app_id").
		Where("memories.user_id = ?", user.ID).
		Where("memories.state <> ?", model.StateDeleted)
	if !q.ShowArchived {
		db = db.Where("memories.state <> ?", model.StateArchived)
	}
	if len(q.AppIDs) > 0 {
		db = db.Where("memories.app_id IN ?", q.AppIDs)
	}
	if len(q.CategoryIDs) > 0 || len(q.Categories) > 0 {
		sub := s.db.Model(&model.MemoryCategory{}).
			Select("memory_categories.memory_id").
			Joins("JOIN categories ON categories.id = memory_categories.category_id")
		if len(q.CategoryIDs) > 0 {
			sub = sub.Where("categories.id IN ?", q.CategoryIDs)
		}
		if len(q.Categories) > 0 {
			sub = sub.Where("categories.name IN ?", q.Categories)
		}
		db = db.Where("memories.id IN (?)", sub)
	}
	if q.FromDate != nil {
		db = db.Where("memories.created_at >= ?", q.FromDate.UTC())
	}
	if q.ToDate != nil {
		db = db.Where("memories.created_at <= ?", q.ToDate.UTC())
	}
	if q.SearchQuery != "" {
		db = db.Where("LOWER(memories.content) LIKE ?", "%"+strings.ToLower(q.SearchQuery)+"%")
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	sortColumn := "memories.created_at"
	direction := "desc"
	if q.SortColumn != "" {
		col, ok := memorySortColumns[q.SortColumn]
		if !ok {
			return nil, &registrystore.ValidationError{Field: "sort_column", Message: fmt.Sprintf("invalid sort column %q", q.SortColumn)}
		}
		sortColumn = col
		direction = q.SortDirection
	}
	order, err := orderClause(sortColumn, direction)
	if err != nil {
		return nil, err
	}

	var rows []model.Memory
	err = db.Preload("App").Preload("Categories").
		Order(order).
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	items := make([]registrystore.MemoryItem, 0, len(rows))
	for i := range rows {
		items = append(items, toMemoryItem(&rows[i]))
	}
	return &registrystore.MemoryPage{
		Items: items,
		Total: total,
		Page:  page,
		Size:  size,
		Pages: pageCount(total, size),
	}, nil
}

// ListMemoryIDs returns the IDs of the user's memories matching the query.
func (s *SQLStore) ListMemoryIDs(ctx context.Context, q registrystore.MemoryIDQuery) ([]uuid.UUID, error) {
	user, err := s.GetUser(ctx, q.UserID)
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	db := s.db.WithContext(ctx).Model(&model.Memory{}).
		Where("memories.user_id = ?", user.ID)
	if len(q.States) > 0 {
		db = db.Where("memories.state IN ?", q.States)
	} else {
		db = db.Where("memories.state <> ?", model.StateDeleted)
	}
	if q.AppID != nil {
		db = db.Where("memories.app_id = ?", *q.AppID)
	}
	if len(q.MemoryIDs) > 0 {
		db = db.Where("memories.id IN ?", q.MemoryIDs)
	}
	if len(q.CategoryIDs) > 0 {
		sub := s.db.Model(&model.MemoryCategory{}).
			Select("memory_id").
			Where("category_id IN ?", q.CategoryIDs)
		db = db.Where("memories.id IN (?)", sub)
	}
	var ids []uuid.UUID
	if err := db.Pluck("memories.id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// SetMemoryState transitions the given memories to newState, writing one
// status history row per actual change. Already-matching rows are skipped.
func (s *SQLStore) SetMemoryState(ctx context.Context, ids []uuid.UUID, newState model.MemoryState, changedBy uuid.UUID) error {
	if !newState.Valid() {
		return &registrystore.ValidationError{Field: "state", Message: fmt.Sprintf("invalid state %q", newState)}
	}
	db := s.db.WithContext(ctx)
	now := time.Now().UTC()
	for _, id := range ids {
		var mem model.Memory
		if err := db.Where("id = ?", id).First(&mem).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return err
		}
		if mem.State == newState {
			continue
		}
		updates := map[string]interface{}{
			"state":      newState,
			"updated_at": now,
		}
		switch newState {
		case model.StateArchived:
			updates["archived_at"] = now
		case model.StateDeleted:
			updates["deleted_at"] = now
		}
		if err := db.Model(&model.Memory{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if err := s.AddStatusHistory(ctx, id, changedBy, mem.State, newState); err != nil {
			return err
		}
	}
	return nil
}

// RelatedMemories returns memories sharing categories with the given memory,
// most shared categories first.
func (s *SQLStore) RelatedMemories(ctx context.Context, userID string, memoryID uuid.UUID, limit int) ([]registrystore.MemoryItem, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var categoryIDs []uuid.UUID
	err = s.db.WithContext(ctx).Model(&model.MemoryCategory{}).
		Where("memory_id = ?", memoryID).
		Pluck("category_id", &categoryIDs).Error
	if err != nil {
		return nil, err
	}
	if len(categoryIDs) == 0 {
		return []registrystore.MemoryItem{}, nil
	}

	type scored struct {
		MemoryID uuid.UUID
	}
	var ranked []scored
	err = s.db.WithContext(ctx).Model(&model.MemoryCategory{}).
		Select("memory_categories.memory_id").
		Joins("JOIN memories ON memories.id = memory_categories.memory_id").
		Where("memory_categories.category_id IN ?", categoryIDs).
		Where("memory_categories.memory_id <> ?", memoryID).
		Where("memories.user_id = ? AND memories.state <> ?", user.ID, model.StateDeleted).
		Group("memory_categories.memory_id, memories.created_at").
		Order("COUNT(memory_categories.category_id) DESC, memories.created_at DESC").
		Limit(limit).
		Find(&ranked).Error
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return []registrystore.MemoryItem{}, nil
	}

	ids := make([]uuid.UUID, len(ranked))
	for i, r := range ranked {
		ids[i] = r.MemoryID
	}
	var rows []model.Memory
	err = s.db.WithContext(ctx).Preload("App").Preload("Categories").
		Where("id IN ?", ids).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*model.Memory, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}
	// Preserve the ranked order.
	items := make([]registrystore.MemoryItem, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			items = append(items, toMemoryItem(m))
		}
	}
	return items, nil
}

// ListCategories returns the categories appearing on the user's non-deleted
// memories.
func (s *SQLStore) ListCategories(ctx context.Context, userID string) ([]model.Category, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			return []model.Category{}, nil
		}
		return nil, err
	}
	var categories []model.Category
	err = s.db.WithContext(ctx).Model(&model.Category{}).
		Distinct("categories.*").
		Joins("JOIN memory_categories ON memory_categories.category_id = categories.id").
		Joins("JOIN memories ON memories.id = memory_categories.memory_id").
		Where("memories.user_id = ? AND memories.state <> ?", user.ID, model.StateDeleted).
		Order("categories.name asc").
		Find(&categories).Error
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// AssignCategories links the named categories to a memory, creating missing
// category rows. Names are normalized to trimmed lowercase.
func (s *SQLStore) AssignCategories(ctx context.Context, memoryID uuid.UUID, names []string) error {
	db := s.db.WithContext(ctx)
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		var cat model.Category
		err := db.Where("name = ?", name).First(&cat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cat = model.Category{ID: uuid.New(), Name: name, CreatedAt: time.Now().UTC()}
			if err = db.Create(&cat).Error; err != nil && isUniqueViolation(err) {
				err = db.Where("name = ?", name).First(&cat).Error
			}
		}
		if err != nil {
			return fmt.Errorf("assign category %q: %w", name, err)
		}
		join := model.MemoryCategory{MemoryID: memoryID, CategoryID: cat.ID}
		if err := db.Create(&join).Error; err != nil && !isUniqueViolation(err) {
			return fmt.Errorf("assign category %q: %w", name, err)
		}
	}
	return nil
}

// AddStatusHistory records one lifecycle state transition.
func (s *SQLStore) AddStatusHistory(ctx context.Context, memoryID, changedBy uuid.UUID, oldState, newState model.MemoryState) error {
	return s.db.WithContext(ctx).Create(&model.MemoryStatusHistory{
		ID:        uuid.New(),
		MemoryID:  memoryID,
		ChangedBy: changedBy,
		OldState:  oldState,
		NewState:  newState,
		ChangedAt: time.Now().UTC(),
	}).Error
}

// LogAccess records a read of a memory.
func (s *SQLStore) LogAccess(ctx context.Context, entry *model.MemoryAccessLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.AccessedAt.IsZero() {
		entry.AccessedAt = time.Now().UTC()
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]interface{}{}
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// ListAccessLog returns a page of access log rows for one memory, newest
// first, joined with the accessing app's name.
func (s *SQLStore) ListAccessLog(ctx context.Context, userID string, memoryID uuid.UUID, page, size int) (*registrystore.AccessLogPage, error) {
	if err := checkPageBounds(page, size); err != nil {
		return nil, err
	}
	// Ownership check: the memory must exist for this user.
	if _, err := s.GetMemory(ctx, userID, memoryID); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx).Model(&model.MemoryAccessLog{}).
		Where("memory_id = ?", memoryID)
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}
	var rows []model.MemoryAccessLog
	err := db.Order("accessed_at desc").
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	items := make([]registrystore.AccessLogItem, 0, len(rows))
	for _, row := range rows {
		item := registrystore.AccessLogItem{MemoryAccessLog: row}
		var app model.App
		if err := s.db.WithContext(ctx).Where("id = ?", row.AppID).First(&app).Error; err == nil {
			item.AppName = app.Name
		}
		items = append(items, item)
	}
	return &registrystore.AccessLogPage{Items: items, Total: total, Page: page, Size: size}, nil
}

// ListAccessRules returns the memory-object rules whose subject is the given
// app or all apps.
func (s *SQLStore) ListAccessRules(ctx context.Context, appID uuid.UUID) ([]model.AccessControl, error) {
	var rules []model.AccessControl
	err := s.db.WithContext(ctx).
		Where("subject_type = ? AND object_type = ?", "app", "memory").
		Where("subject_id = ? OR subject_id IS NULL", appID).
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// checkPageBounds rejects out-of-range pagination instead of coercing it:
// pages start at 1, sizes run 1 through 100.
func checkPageBounds(page, size int) error {
	if page < 1 {
		return &registrystore.ValidationError{Field: "page", Message: "must be at least 1"}
	}
	if size < 1 || size > 100 {
		return &registrystore.ValidationError{Field: "size", Message: "must be between 1 and 100"}
	}
	return nil
}

func pageCount(total int64, size int) int {
	if total == 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
