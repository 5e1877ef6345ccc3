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

// CreateAttachment inserts a new attachment. A duplicate ID maps to a
// conflict error so callers can return 409.
func (s *SQLStore) CreateAttachment(ctx context.Context, a *model.Attachment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	err := s.db.WithContext(ctx).Create(a).Error
	if err != nil && isUniqueViolation(err) {
		return &registrystore.ConflictError{Message: fmt.Sprintf("attachment %s already exists", a.ID)}
	}
	return err
}

// GetAttachment returns the attachment with its full content.
func (s *SQLStore) GetAttachment(ctx context.Context, id uuid.UUID) (*model.Attachment, error) {
	var a model.Attachment
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "attachment", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAttachment replaces the attachment's content.
func (s *SQLStore) UpdateAttachment(ctx context.Context, id uuid.UUID, content string) (*model.Attachment, error) {
	a, err := s.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Content = content
	a.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteAttachment removes the attachment. Deleting a missing attachment is
// not an error.
func (s *SQLStore) DeleteAttachment(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Delete(&model.Attachment{}, "id = ?", id).Error
}

// AttachmentExists reports whether the attachment exists.
func (s *SQLStore) AttachmentExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Attachment{}).
		Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// attachmentPreviewLen is how much content the list projection shows,
// counted in runes so a multi-byte character is never cut in half.
const attachmentPreviewLen = 200

func attachmentPreview(content string) string {
	count := 0
	for i := range content {
		if count == attachmentPreviewLen {
			return content[:i]
		}
		count++
	}
	return content
}

// attachmentSortColumns whitelists the sortable columns of the attachment
// filter. "size" sorts by content length.
var attachmentSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"size":       "LENGTH(content)",
}

// FilterAttachments returns a page of attachment summaries. The query is
// bounded by q.Timeout; content columns can be large.
func (s *SQLStore) FilterAttachments(ctx context.Context, q registrystore.AttachmentQuery) (*registrystore.AttachmentPage, error) {
	if err := checkPageBounds(q.Page, q.Size); err != nil {
		return nil, err
	}
	page, size := q.Page, q.Size

	sortColumn := "created_at"
	direction := "desc"
	if q.SortColumn != "" {
		col, ok := attachmentSortColumns[q.SortColumn]
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

	if q.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.Timeout)
		defer cancel()
	}

	var out *registrystore.AttachmentPage
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.isPostgres() && q.Timeout > 0 {
			timeoutMS := q.Timeout.Milliseconds()
			if err := tx.Exec(fmt.Sprintf("SET LOCAL statement_timeout = %d", timeoutMS)).Error; err != nil {
				return err
			}
		}
		db := tx.Model(&model.Attachment{})
		if q.Search != "" {
			needle := "%" + strings.ToLower(q.Search) + "%"
			if s.isPostgres() {
				db = db.Where("LOWER(content) LIKE ? OR CAST(id AS TEXT) LIKE ?", needle, needle)
			} else {
				db = db.Where("LOWER(content) LIKE ? OR LOWER(id) LIKE ?", needle, needle)
			}
		}
		if q.FromTS != nil {
			db = db.Where("created_at >= ?", q.FromTS.UTC())
		}
		if q.ToTS != nil {
			db = db.Where("created_at <= ?", q.ToTS.UTC())
		}

		var total int64
		if err := db.Count(&total).Error; err != nil {
			return err
		}
		var rows []model.Attachment
		err := db.Order(order).
			Offset((page - 1) * size).Limit(size).
			Find(&rows).Error
		if err != nil {
			return err
		}

		items := make([]registrystore.AttachmentSummary, 0, len(rows))
		for _, a := range rows {
			preview := attachmentPreview(a.Content)
			items = append(items, registrystore.AttachmentSummary{
				ID:            a.ID,
				Preview:       preview,
				ContentLength: len(a.Content),
				CreatedAt:     a.CreatedAt.Unix(),
				UpdatedAt:     a.UpdatedAt.Unix(),
			})
		}
		out = &registrystore.AttachmentPage{Items: items, Total: total, Page: page, Size: size}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &registrystore.UnavailableError{Dependency: "database", Err: err}
		}
		return nil, err
	}
	return out, nil
}
