package sqlstore

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openmem/openmem/internal/config"
	"github.com/openmem/openmem/internal/model"
	registrystore "github.com/openmem/openmem/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, AutoMigrate(db))
	return New(db, "sqlite")
}

func TestGetOrCreateUserAndApp(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	user, app, err := s.GetOrCreateUserAndApp(ctx, "alice", "assistant")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.UserID)
	assert.Equal(t, "assistant", app.Name)
	assert.True(t, app.IsActive)

	// Same pair again returns the same rows.
	user2, app2, err := s.GetOrCreateUserAndApp(ctx, "alice", "assistant")
	require.NoError(t, err)
	assert.Equal(t, user.ID, user2.ID)
	assert.Equal(t, app.ID, app2.ID)

	// Same app name for a different user is a distinct app.
	_, app3, err := s.GetOrCreateUserAndApp(ctx, "bob", "assistant")
	require.NoError(t, err)
	assert.NotEqual(t, app.ID, app3.ID)
}

func TestGetOrCreateUserAndAppValidation(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.GetOrCreateUserAndApp(t.Context(), "", "app")
	var ve *registrystore.ValidationError
	require.ErrorAs(t, err, &ve)

	_, _, err = s.GetOrCreateUserAndApp(t.Context(), "alice", "  ")
	require.ErrorAs(t, err, &ve)
}

func seedMemory(t *testing.T, s *SQLStore, userID, appName, content string) (*model.User, *model.App, *model.Memory) {
	t.Helper()
	user, app, err := s.GetOrCreateUserAndApp(t.Context(), userID, appName)
	require.NoError(t, err)
	mem := &model.Memory{
		UserID:  user.ID,
		AppID:   app.ID,
		Content: content,
	}
	require.NoError(t, s.CreateMemory(t.Context(), mem))
	return user, app, mem
}

func TestMemoryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	_, app, mem := seedMemory(t, s, "alice", "assistant", "Likes tea")

	item, err := s.GetMemory(ctx, "alice", mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "Likes tea", item.Content)
	assert.Equal(t, "assistant", item.AppName)
	assert.Equal(t, model.StateActive, item.State)

	// Soft delete hides it from GetMemory but not FindMemoryAnyState.
	require.NoError(t, s.SetMemoryState(ctx, []uuid.UUID{mem.ID}, model.StateDeleted, app.ID))
	_, err = s.GetMemory(ctx, "alice", mem.ID)
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)

	found, err := s.FindMemoryAnyState(ctx, "alice", mem.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDeleted, found.State)
	assert.NotNil(t, found.DeletedAt)

	// The transition was recorded.
	var history []model.MemoryStatusHistory
	require.NoError(t, s.db.Where("memory_id = ?", mem.ID).Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, model.StateActive, history[0].OldState)
	assert.Equal(t, model.StateDeleted, history[0].NewState)
}

func TestGetMemoryWrongUser(t *testing.T) {
	s := newTestStore(t)
	_, _, mem := seedMemory(t, s, "alice", "assistant", "secret")
	seedMemory(t, s, "bob", "assistant", "other")

	_, err := s.GetMemory(t.Context(), "bob", mem.ID)
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestSetMemoryStateIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	_, app, mem := seedMemory(t, s, "alice", "assistant", "m")

	require.NoError(t, s.SetMemoryState(ctx, []uuid.UUID{mem.ID}, model.StatePaused, app.ID))
	require.NoError(t, s.SetMemoryState(ctx, []uuid.UUID{mem.ID}, model.StatePaused, app.ID))

	var count int64
	require.NoError(t, s.db.Model(&model.MemoryStatusHistory{}).Where("memory_id = ?", mem.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count, "no history row for a no-op transition")
}

func TestListMemories(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	seedMemory(t, s, "alice", "assistant", "Likes green tea")
	_, app2, m2 := seedMemory(t, s, "alice", "browser", "Works at Acme")
	_, _, m3 := seedMemory(t, s, "alice", "assistant", "Has a dog")
	seedMemory(t, s, "bob", "assistant", "Bob memory")

	require.NoError(t, s.SetMemoryState(ctx, []uuid.UUID{m3.ID}, model.StateArchived, app2.ID))

	page, err := s.ListMemories(ctx, registrystore.MemoryQuery{UserID: "alice", Page: 1, Size: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total, "archived excluded by default")

	page, err = s.ListMemories(ctx, registrystore.MemoryQuery{UserID: "alice", ShowArchived: true, Page: 1, Size: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)

	page, err = s.ListMemories(ctx, registrystore.MemoryQuery{UserID: "alice", AppIDs: []uuid.UUID{app2.ID}, Page: 1, Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, m2.ID, page.Items[0].ID)

	page, err = s.ListMemories(ctx, registrystore.MemoryQuery{UserID: "alice", SearchQuery: "ACME", Page: 1, Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Works at Acme", page.Items[0].Content)

	// Unknown user gets an empty page.
	page, err = s.ListMemories(ctx, registrystore.MemoryQuery{UserID: "nobody", Page: 1, Size: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.EqualValues(t, 0, page.Total)
}

func TestListMemoriesSortWhitelist(t *testing.T) {
	s := newTestStore(t)
	seedMemory(t, s, "alice", "assistant", "a")

	for _, col := range []string{"memory", "app_name", "created_at"} {
		_, err := s.ListMemories(t.Context(), registrystore.MemoryQuery{
			UserID: "alice", SortColumn: col, SortDirection: "desc", Page: 1, Size: 10,
		})
		require.NoError(t, err, col)
	}

	var ve *registrystore.ValidationError
	_, err := s.ListMemories(t.Context(), registrystore.MemoryQuery{UserID: "alice", SortColumn: "content; DROP TABLE", Page: 1, Size: 10})
	require.ErrorAs(t, err, &ve)

	_, err = s.ListMemories(t.Context(), registrystore.MemoryQuery{UserID: "alice", SortColumn: "memory", SortDirection: "sideways", Page: 1, Size: 10})
	require.ErrorAs(t, err, &ve)
}

func TestListMemoriesByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	_, _, m1 := seedMemory(t, s, "alice", "assistant", "tea")
	seedMemory(t, s, "alice", "assistant", "acme")

	require.NoError(t, s.AssignCategories(ctx, m1.ID, []string{"Drinks "}))

	page, err := s.ListMemories(ctx, registrystore.MemoryQuery{UserID: "alice", Categories: []string{"drinks"}, Page: 1, Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, m1.ID, page.Items[0].ID)
	assert.Equal(t, []string{"drinks"}, page.Items[0].Categories)
}

func TestRelatedMemories(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	_, _, m1 := seedMemory(t, s, "alice", "assistant", "likes tea")
	_, _, m2 := seedMemory(t, s, "alice", "assistant", "likes coffee")
	_, _, m3 := seedMemory(t, s, "alice", "assistant", "drinks and work")
	seedMemory(t, s, "alice", "assistant", "unrelated")

	require.NoError(t, s.AssignCategories(ctx, m1.ID, []string{"drinks", "hobbies"}))
	require.NoError(t, s.AssignCategories(ctx, m2.ID, []string{"drinks"}))
	require.NoError(t, s.AssignCategories(ctx, m3.ID, []string{"drinks", "hobbies"}))

	related, err := s.RelatedMemories(ctx, "alice", m1.ID, 5)
	require.NoError(t, err)
	require.Len(t, related, 2)
	// m3 shares two categories, m2 only one.
	assert.Equal(t, m3.ID, related[0].ID)
	assert.Equal(t, m2.ID, related[1].ID)
}

func TestListCategories(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	_, app, m1 := seedMemory(t, s, "alice", "assistant", "tea")
	require.NoError(t, s.AssignCategories(ctx, m1.ID, []string{"drinks", "hobbies"}))

	cats, err := s.ListCategories(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "drinks", cats[0].Name)

	// Categories of deleted memories disappear from the listing.
	require.NoError(t, s.SetMemoryState(ctx, []uuid.UUID{m1.ID}, model.StateDeleted, app.ID))
	cats, err = s.ListCategories(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, cats)
}

func TestAccessLog(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	_, app, mem := seedMemory(t, s, "alice", "assistant", "m")

	for i := 0; i < 3; i++ {
		require.NoError(t, s.LogAccess(ctx, &model.MemoryAccessLog{
			MemoryID:   mem.ID,
			AppID:      app.ID,
			AccessType: "search",
		}))
	}

	page, err := s.ListAccessLog(ctx, "alice", mem.ID, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "assistant", page.Items[0].AppName)
	assert.Equal(t, "search", page.Items[0].AccessType)
}

func TestListAccessRules(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	_, app, _ := seedMemory(t, s, "alice", "assistant", "m")
	otherApp := uuid.New()

	rules := []model.AccessControl{
		{ID: uuid.New(), SubjectType: "app", SubjectID: &app.ID, ObjectType: "memory", Effect: model.EffectAllow},
		{ID: uuid.New(), SubjectType: "app", SubjectID: nil, ObjectType: "memory", Effect: model.EffectDeny},
		{ID: uuid.New(), SubjectType: "app", SubjectID: &otherApp, ObjectType: "memory", Effect: model.EffectAllow},
		{ID: uuid.New(), SubjectType: "user", SubjectID: &app.ID, ObjectType: "memory", Effect: model.EffectAllow},
	}
	for i := range rules {
		require.NoError(t, s.db.Create(&rules[i]).Error)
	}

	got, err := s.ListAccessRules(ctx, app.ID)
	require.NoError(t, err)
	assert.Len(t, got, 2, "own-app rule plus NULL-subject rule")
}

func TestAttachmentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	a := &model.Attachment{Content: "hello world"}
	require.NoError(t, s.CreateAttachment(ctx, a))

	got, err := s.GetAttachment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Content)

	exists, err := s.AttachmentExists(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	// Duplicate ID is a conflict.
	var ce *registrystore.ConflictError
	err = s.CreateAttachment(ctx, &model.Attachment{ID: a.ID, Content: "dup"})
	require.ErrorAs(t, err, &ce)

	updated, err := s.UpdateAttachment(ctx, a.ID, "new content")
	require.NoError(t, err)
	assert.Equal(t, "new content", updated.Content)

	require.NoError(t, s.DeleteAttachment(ctx, a.ID))
	require.NoError(t, s.DeleteAttachment(ctx, a.ID), "delete is idempotent")

	_, err = s.GetAttachment(ctx, a.ID)
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestFilterAttachments(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	small := &model.Attachment{Content: "short"}
	big := &model.Attachment{Content: strings.Repeat("x", 500)}
	require.NoError(t, s.CreateAttachment(ctx, small))
	require.NoError(t, s.CreateAttachment(ctx, big))

	page, err := s.FilterAttachments(ctx, registrystore.AttachmentQuery{
		Page: 1, Size: 10,
		SortColumn: "size", SortDirection: "desc",
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, big.ID, page.Items[0].ID)
	assert.Equal(t, 500, page.Items[0].ContentLength)
	assert.Len(t, page.Items[0].Preview, attachmentPreviewLen, "preview is truncated")

	page, err = s.FilterAttachments(ctx, registrystore.AttachmentQuery{Page: 1, Size: 10, Search: "SHORT"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, small.ID, page.Items[0].ID)

	var ve *registrystore.ValidationError
	_, err = s.FilterAttachments(ctx, registrystore.AttachmentQuery{Page: 1, Size: 10, SortColumn: "content"})
	require.ErrorAs(t, err, &ve)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, settings, "no settings row yet")

	require.NoError(t, s.SaveSettings(ctx, &config.Settings{
		CustomInstructions:       "extract only food facts",
		AttachmentIDsShowDefault: true,
	}))

	settings, err = s.LoadSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, "extract only food facts", settings.CustomInstructions)
	assert.True(t, settings.AttachmentIDsShowDefault)

	// Upsert overwrites.
	require.NoError(t, s.SaveSettings(ctx, &config.Settings{}))
	settings, err = s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, settings.CustomInstructions)
}

func TestTaskQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.CreateTask(ctx, "vector_store_delete", map[string]interface{}{"memory_id": "abc"}))

	tasks, err := s.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "vector_store_delete", tasks[0].TaskType)
	assert.Equal(t, "abc", tasks[0].TaskBody["memory_id"])

	// Claimed tasks are not immediately ready again.
	again, err := s.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	// A failed task retries later with the error recorded.
	require.NoError(t, s.FailTask(ctx, tasks[0].ID, "qdrant down", time.Minute))
	var task model.Task
	require.NoError(t, s.db.Where("id = ?", tasks[0].ID).First(&task).Error)
	require.NotNil(t, task.LastError)
	assert.Equal(t, "qdrant down", *task.LastError)
	assert.Equal(t, 1, task.RetryCount)

	require.NoError(t, s.DeleteTask(ctx, tasks[0].ID))
	var count int64
	require.NoError(t, s.db.Model(&model.Task{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestTransactionRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	_, _, mem := seedMemory(t, s, "alice", "assistant", "before")

	err := s.Transaction(ctx, func(tx registrystore.MetadataStore) error {
		m, err := tx.FindMemoryAnyState(ctx, "alice", mem.ID)
		if err != nil {
			return err
		}
		m.Content = "after"
		if err := tx.SaveMemory(ctx, m); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	got, err := s.GetMemory(ctx, "alice", mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "before", got.Content, "rolled back")
}

func TestListMemoriesPageBounds(t *testing.T) {
	s := newTestStore(t)
	seedMemory(t, s, "alice", "assistant", "a")

	var ve *registrystore.ValidationError
	_, err := s.ListMemories(t.Context(), registrystore.MemoryQuery{UserID: "alice", Page: 0, Size: 10})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "page", ve.Field)

	_, err = s.ListMemories(t.Context(), registrystore.MemoryQuery{UserID: "alice", Page: 1, Size: 0})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "size", ve.Field)

	_, err = s.ListMemories(t.Context(), registrystore.MemoryQuery{UserID: "alice", Page: 1, Size: 101})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "size", ve.Field)

	_, err = s.FilterAttachments(t.Context(), registrystore.AttachmentQuery{Page: 0, Size: 10})
	require.ErrorAs(t, err, &ve)
}

func TestAttachmentPreviewRuneSafe(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	// 300 multi-byte runes; a byte-wise cut at 200 would split one in half.
	content := strings.Repeat("é", 300)
	require.NoError(t, s.CreateAttachment(ctx, &model.Attachment{Content: content}))

	page, err := s.FilterAttachments(ctx, registrystore.AttachmentQuery{Page: 1, Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	preview := page.Items[0].Preview
	assert.Equal(t, attachmentPreviewLen, len([]rune(preview)), "preview counted in runes")
	assert.Equal(t, strings.Repeat("é", attachmentPreviewLen), preview)
}
