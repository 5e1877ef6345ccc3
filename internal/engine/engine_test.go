package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/openmem/openmem/internal/config"
	"github.com/openmem/openmem/internal/llm"
	"github.com/openmem/openmem/internal/model"
	"github.com/openmem/openmem/internal/plugin/embed/local"
	"github.com/openmem/openmem/internal/plugin/store/sqlstore"
	vectormemory "github.com/openmem/openmem/internal/plugin/vector/memory"
	registryllm "github.com/openmem/openmem/internal/registry/llm"
	registrystore "github.com/openmem/openmem/internal/registry/store"
	registryvector "github.com/openmem/openmem/internal/registry/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// scriptedProvider returns canned LLM responses in call order.
type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Complete(_ context.Context, _ []registryllm.Message) (string, error) {
	if p.calls >= len(p.responses) {
		return "", fmt.Errorf("unexpected LLM call %d", p.calls)
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func boolPtr(v bool) *bool { return &v }

type testRig struct {
	engine *Engine
	store  *sqlstore.SQLStore
	vector *vectormemory.Store
	llm    *scriptedProvider
}

func newRig(t *testing.T, responses ...string) *testRig {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, sqlstore.AutoMigrate(db))

	store := sqlstore.New(db, "sqlite")
	vec := vectormemory.New()
	provider := &scriptedProvider{responses: responses}
	settings, err := config.NewSettingsService(store)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	eng := New(Options{
		Store:        store,
		Vector:       vec,
		Embedder:     &local.LocalEmbedder{},
		Orchestrator: llm.NewOrchestrator(provider),
		Settings:     settings,
		Config:       &cfg,
	})
	return &testRig{engine: eng, store: store, vector: vec, llm: provider}
}

func TestAddFastPathStoresVerbatim(t *testing.T) {
	rig := newRig(t)
	ctx := t.Context()

	res, err := rig.engine.Add(ctx, AddRequest{
		UserID:  "alice",
		AppName: "assistant",
		Text:    "Raw note: call the vet tomorrow",
		Infer:   boolPtr(false),
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, llm.EventAdd, res.Results[0].Event)

	item, err := rig.engine.Get(ctx, "alice", res.Results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Raw note: call the vet tomorrow", item.Content, "stored verbatim")
	assert.Equal(t, "assistant", item.Metadata.SourceApp())

	// Fast-path memories stay off the semantic index.
	pt, err := rig.vector.Get(ctx, res.Results[0].ID)
	require.NoError(t, err)
	assert.Nil(t, pt)
	assert.Zero(t, rig.llm.calls, "no LLM involvement")
}

func TestAddInferredCreatesDualWrite(t *testing.T) {
	rig := newRig(t,
		`{"facts": ["Likes green tea"], "categories": ["drinks"]}`,
		`{"memory": [{"text": "Likes green tea", "event": "ADD"}]}`,
	)
	ctx := t.Context()

	res, err := rig.engine.Add(ctx, AddRequest{
		UserID:  "alice",
		AppName: "assistant",
		Text:    "I love green tea",
		Infer:   boolPtr(true),
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	id := res.Results[0].ID

	item, err := rig.engine.Get(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, "Likes green tea", item.Content)
	assert.Equal(t, []string{"drinks"}, item.Categories)

	// Same ID in both stores, with the payload the index needs.
	pt, err := rig.vector.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, pt)
	assert.Equal(t, "Likes green tea", pt.Payload[registryvector.PayloadData])
	assert.Equal(t, "alice", pt.Payload[registryvector.PayloadUserID])
	assert.NotEmpty(t, pt.Payload[registryvector.PayloadHash])
}

func TestAddAllNoneReturnsMessage(t *testing.T) {
	rig := newRig(t,
		`{"facts": ["Likes tea"]}`,
		`{"memory": [{"text": "Likes tea", "event": "NONE"}]}`,
	)
	res, err := rig.engine.Add(t.Context(), AddRequest{
		UserID:  "alice",
		AppName: "assistant",
		Text:    "I like tea",
		Infer:   boolPtr(true),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Equal(t, llm.EventNone, res.Event)
	assert.Equal(t, "I like tea", res.OriginalText)
	assert.NotEmpty(t, res.Message)
}

func TestAddNoFactsShortCircuits(t *testing.T) {
	rig := newRig(t, `{"facts": []}`)
	res, err := rig.engine.Add(t.Context(), AddRequest{
		UserID:  "alice",
		AppName: "assistant",
		Text:    "Hi.",
		Infer:   boolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, llm.EventNone, res.Event)
	assert.Equal(t, 1, rig.llm.calls, "no merge call without facts")
}

func TestAddUpdateMergesAttachments(t *testing.T) {
	rig := newRig(t,
		`{"facts": ["Likes tea"]}`,
		`{"memory": [{"text": "Likes tea", "event": "ADD"}]}`,
	)
	ctx := t.Context()

	// Seed a memory carrying an attachment.
	att := &model.Attachment{Content: "tea notes"}
	require.NoError(t, rig.store.CreateAttachment(ctx, att))
	res, err := rig.engine.Add(ctx, AddRequest{
		UserID:       "alice",
		AppName:      "assistant",
		Text:         "I like tea",
		Infer:        boolPtr(true),
		AttachmentID: &att.ID,
	})
	require.NoError(t, err)
	existingID := res.Results[0].ID

	// Second ingestion updates it; the model carries the attachment forward.
	rig.llm.responses = append(rig.llm.responses,
		`{"facts": ["Likes green tea specifically"]}`,
		fmt.Sprintf(`{"memory": [{"id": "0", "text": "Likes green tea specifically", "event": "UPDATE", "attachment_ids": ["%s"]}]}`, att.ID),
	)
	res, err = rig.engine.Add(ctx, AddRequest{
		UserID:  "alice",
		AppName: "assistant",
		Text:    "Actually it is green tea I like",
		Infer:   boolPtr(true),
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, llm.EventUpdate, res.Results[0].Event)
	assert.Equal(t, existingID, res.Results[0].ID)
	assert.Equal(t, []string{att.ID.String()}, res.Results[0].AttachmentIDs)

	item, err := rig.engine.Get(ctx, "alice", existingID)
	require.NoError(t, err)
	assert.Equal(t, "Likes green tea specifically", item.Content)
	assert.Equal(t, []string{att.ID.String()}, item.Metadata.AttachmentIDs())

	pt, err := rig.vector.Get(ctx, existingID)
	require.NoError(t, err)
	require.NotNil(t, pt)
	assert.Equal(t, "Likes green tea specifically", pt.Payload[registryvector.PayloadData])
}

func TestAddDeleteEvent(t *testing.T) {
	rig := newRig(t,
		`{"facts": ["Works at Acme"]}`,
		`{"memory": [{"text": "Works at Acme", "event": "ADD"}]}`,
		`{"facts": ["No longer works at Acme"]}`,
		`{"memory": [{"id": "0", "event": "DELETE"}]}`,
	)
	ctx := t.Context()

	res, err := rig.engine.Add(ctx, AddRequest{UserID: "alice", AppName: "assistant", Text: "I work at Acme", Infer: boolPtr(true)})
	require.NoError(t, err)
	id := res.Results[0].ID

	res, err = rig.engine.Add(ctx, AddRequest{UserID: "alice", AppName: "assistant", Text: "I quit Acme", Infer: boolPtr(true)})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, llm.EventDelete, res.Results[0].Event)

	_, err = rig.engine.Get(ctx, "alice", id)
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)

	pt, err := rig.vector.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, pt, "vector point removed")
}

func TestAddReactivatesDeletedMemory(t *testing.T) {
	rig := newRig(t,
		`{"facts": ["Likes hiking"]}`,
		`{"memory": [{"text": "Likes hiking", "event": "ADD"}]}`,
		`{"facts": ["No longer likes hiking"]}`,
		`{"memory": [{"id": "0", "event": "DELETE"}]}`,
		`{"facts": ["Likes hiking"]}`,
		`{"memory": [{"text": "Likes hiking", "event": "ADD"}]}`,
	)
	ctx := t.Context()

	res, err := rig.engine.Add(ctx, AddRequest{UserID: "alice", AppName: "assistant", Text: "I like hiking", Infer: boolPtr(true)})
	require.NoError(t, err)
	firstID := res.Results[0].ID

	_, err = rig.engine.Add(ctx, AddRequest{UserID: "alice", AppName: "assistant", Text: "I stopped hiking", Infer: boolPtr(true)})
	require.NoError(t, err)

	res, err = rig.engine.Add(ctx, AddRequest{UserID: "alice", AppName: "assistant", Text: "I like hiking again", Infer: boolPtr(true)})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, firstID, res.Results[0].ID, "tombstone reactivated, not a new row")

	item, err := rig.engine.Get(ctx, "alice", firstID)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, item.State)
}

func TestAddPausedAppRejected(t *testing.T) {
	rig := newRig(t)
	ctx := t.Context()

	_, app, err := rig.store.GetOrCreateUserAndApp(ctx, "alice", "assistant")
	require.NoError(t, err)
	app.IsActive = false
	require.NoError(t, rig.store.SaveApp(ctx, app))

	_, err = rig.engine.Add(ctx, AddRequest{UserID: "alice", AppName: "assistant", Text: "x"})
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
}

func TestAttachmentIntake(t *testing.T) {
	rig := newRig(t)
	ctx := t.Context()

	// New attachment with caller-chosen ID.
	id := uuid.New()
	res, err := rig.engine.Add(ctx, AddRequest{
		UserID:         "alice",
		AppName:        "assistant",
		Text:           "see attachment",
		Infer:          boolPtr(false),
		AttachmentText: "attachment body",
		AttachmentID:   &id,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{id.String()}, res.Results[0].AttachmentIDs)

	// Reusing the ID with new content collides.
	_, err = rig.engine.Add(ctx, AddRequest{
		UserID:         "alice",
		AppName:        "assistant",
		Text:           "again",
		Infer:          boolPtr(false),
		AttachmentText: "other body",
		AttachmentID:   &id,
	})
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)

	// Referencing a missing attachment fails.
	missing := uuid.New()
	_, err = rig.engine.Add(ctx, AddRequest{
		UserID:       "alice",
		AppName:      "assistant",
		Text:         "ref",
		Infer:        boolPtr(false),
		AttachmentID: &missing,
	})
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestSearchFiltersByACL(t *testing.T) {
	rig := newRig(t,
		`{"facts": ["Likes tea"]}`,
		`{"memory": [{"text": "Likes tea", "event": "ADD"}]}`,
	)
	ctx := t.Context()

	res, err := rig.engine.Add(ctx, AddRequest{UserID: "alice", AppName: "assistant", Text: "I like tea", Infer: boolPtr(true)})
	require.NoError(t, err)
	memID := res.Results[0].ID

	hits, err := rig.engine.Search(ctx, SearchRequest{UserID: "alice", AppName: "assistant", Query: "tea"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, memID.String(), hits[0].ID)
	assert.NotEmpty(t, hits[0].Hash, "hits carry the stored content hash")

	// A deny-all rule for the app hides everything.
	_, app, err := rig.store.GetOrCreateUserAndApp(ctx, "alice", "assistant")
	require.NoError(t, err)
	require.NoError(t, rig.store.CreateAccessRule(ctx, &model.AccessControl{
		SubjectType: "app", SubjectID: &app.ID,
		ObjectType: "memory", Effect: model.EffectDeny,
	}))
	hits, err = rig.engine.Search(ctx, SearchRequest{UserID: "alice", AppName: "assistant", Query: "tea"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchAttachmentProjection(t *testing.T) {
	rig := newRig(t,
		`{"facts": ["Likes tea"]}`,
		`{"memory": [{"text": "Likes tea", "event": "ADD"}]}`,
	)
	ctx := t.Context()

	att := &model.Attachment{Content: "tea notes"}
	require.NoError(t, rig.store.CreateAttachment(ctx, att))
	_, err := rig.engine.Add(ctx, AddRequest{
		UserID: "alice", AppName: "assistant",
		Text: "I like tea", Infer: boolPtr(true), AttachmentID: &att.ID,
	})
	require.NoError(t, err)

	// Hidden by default.
	hits, err := rig.engine.Search(ctx, SearchRequest{UserID: "alice", AppName: "assistant", Query: "tea"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Empty(t, hits[0].AttachmentIDs)

	// Shown on request.
	show := true
	hits, err = rig.engine.Search(ctx, SearchRequest{
		UserID: "alice", AppName: "assistant", Query: "tea",
		ShowAttachmentIDs: &show,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, []string{att.ID.String()}, hits[0].AttachmentIDs)
}

func TestSearchLogsAccess(t *testing.T) {
	rig := newRig(t,
		`{"facts": ["Likes tea"]}`,
		`{"memory": [{"text": "Likes tea", "event": "ADD"}]}`,
	)
	ctx := t.Context()

	res, err := rig.engine.Add(ctx, AddRequest{UserID: "alice", AppName: "assistant", Text: "I like tea", Infer: boolPtr(true)})
	require.NoError(t, err)
	memID := res.Results[0].ID

	_, err = rig.engine.Search(ctx, SearchRequest{UserID: "alice", AppName: "assistant", Query: "tea"})
	require.NoError(t, err)

	page, err := rig.engine.AccessLog(ctx, "alice", memID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "search", page.Items[0].AccessType)
}

func TestDeleteCascadesAttachments(t *testing.T) {
	rig := newRig(t)
	ctx := t.Context()

	att := &model.Attachment{Content: "to be removed"}
	require.NoError(t, rig.store.CreateAttachment(ctx, att))
	res, err := rig.engine.Add(ctx, AddRequest{
		UserID: "alice", AppName: "assistant",
		Text: "note", Infer: boolPtr(false), AttachmentID: &att.ID,
	})
	require.NoError(t, err)
	memID := res.Results[0].ID

	n, err := rig.engine.Delete(ctx, "alice", "assistant", []uuid.UUID{memID}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exists, err := rig.store.AttachmentExists(ctx, att.ID)
	require.NoError(t, err)
	assert.False(t, exists, "attachment removed with the memory")

	// Deleting again is a no-op.
	n, err = rig.engine.Delete(ctx, "alice", "assistant", []uuid.UUID{memID}, true)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetStateScopes(t *testing.T) {
	rig := newRig(t)
	ctx := t.Context()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		res, err := rig.engine.Add(ctx, AddRequest{
			UserID: "alice", AppName: "assistant",
			Text: fmt.Sprintf("note %d", i), Infer: boolPtr(false),
		})
		require.NoError(t, err)
		ids = append(ids, res.Results[0].ID)
	}

	n, err := rig.engine.SetState(ctx, StateScope{
		UserID: "alice", AppName: "assistant",
		MemoryIDs: ids[:2],
	}, model.StatePaused)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	item, err := rig.engine.Get(ctx, "alice", ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.StatePaused, item.State)

	// Empty scope is rejected.
	_, err = rig.engine.SetState(ctx, StateScope{UserID: "alice", AppName: "assistant"}, model.StateArchived)
	var ve *registrystore.ValidationError
	require.ErrorAs(t, err, &ve)

	// All-scope archives everything.
	n, err = rig.engine.SetState(ctx, StateScope{UserID: "alice", AppName: "assistant", All: true}, model.StateArchived)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSearchWithoutVectorStore(t *testing.T) {
	rig := newRig(t)
	rig.engine.vector = nil

	_, err := rig.engine.Search(t.Context(), SearchRequest{UserID: "alice", AppName: "assistant", Query: "x"})
	var unavailable *registrystore.UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestAddWithoutExtractionOrDedup(t *testing.T) {
	rig := newRig(t)
	ctx := t.Context()

	res, err := rig.engine.Add(ctx, AddRequest{
		UserID:      "alice",
		AppName:     "assistant",
		Text:        "I moved to Lisbon",
		Infer:       boolPtr(true),
		Extract:     boolPtr(false),
		Deduplicate: boolPtr(false),
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, llm.EventAdd, res.Results[0].Event)
	assert.Zero(t, rig.llm.calls, "no LLM calls with extraction and dedup off")

	item, err := rig.engine.Get(ctx, "alice", res.Results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "I moved to Lisbon", item.Content, "raw text stored as the single fact")

	// Unlike the verbatim fast path, the memory lands on the index.
	pt, err := rig.vector.Get(ctx, res.Results[0].ID)
	require.NoError(t, err)
	require.NotNil(t, pt)
	assert.Equal(t, "I moved to Lisbon", pt.Payload[registryvector.PayloadData])
}

func TestAddDedupOffSynthesizesAdds(t *testing.T) {
	rig := newRig(t, `{"facts": ["Likes tea", "Likes coffee"]}`)
	ctx := t.Context()

	res, err := rig.engine.Add(ctx, AddRequest{
		UserID:      "alice",
		AppName:     "assistant",
		Text:        "I like tea and coffee",
		Infer:       boolPtr(true),
		Deduplicate: boolPtr(false),
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	for _, r := range res.Results {
		assert.Equal(t, llm.EventAdd, r.Event)
	}
	assert.Equal(t, 1, rig.llm.calls, "extraction only, no merge decision")
}

func TestAddDefaultsFromSettings(t *testing.T) {
	rig := newRig(t)
	ctx := t.Context()

	require.NoError(t, rig.store.SaveSettings(ctx, &config.Settings{
		DefaultInfer: boolPtr(false),
	}))

	res, err := rig.engine.Add(ctx, AddRequest{
		UserID:  "alice",
		AppName: "assistant",
		Text:    "configured default applies",
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Zero(t, rig.llm.calls)

	pt, err := rig.vector.Get(ctx, res.Results[0].ID)
	require.NoError(t, err)
	assert.Nil(t, pt, "stored verbatim, off the index")
}

func TestAddInferenceUnavailableIsAnError(t *testing.T) {
	var unavailable *registrystore.UnavailableError

	// Inference requested without an orchestrator.
	rig := newRig(t)
	rig.engine.orchestrator = nil
	_, err := rig.engine.Add(t.Context(), AddRequest{
		UserID: "alice", AppName: "assistant", Text: "x", Infer: boolPtr(true),
	})
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "llm", unavailable.Dependency)

	// Inference requested without a vector store, even with extraction off.
	rig = newRig(t)
	rig.engine.vector = nil
	_, err = rig.engine.Add(t.Context(), AddRequest{
		UserID: "alice", AppName: "assistant", Text: "x",
		Infer: boolPtr(true), Extract: boolPtr(false), Deduplicate: boolPtr(false),
	})
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "vector_store", unavailable.Dependency)
}

func TestAddEventFailureRollsBack(t *testing.T) {
	rig := newRig(t,
		`{"facts": ["Works at Initech"]}`,
		`{"memory": [{"text": "Works at Initech", "event": "ADD"}, {"id": "0", "text": "stray rewritten", "event": "UPDATE"}]}`,
	)
	ctx := t.Context()

	// A point on the index with no backing row: the UPDATE against it fails
	// after the ADD already ran.
	strayID := uuid.New()
	vecs, err := (&local.LocalEmbedder{}).EmbedTexts(ctx, []string{"stray memory"})
	require.NoError(t, err)
	require.NoError(t, rig.vector.Upsert(ctx, strayID, vecs[0], map[string]interface{}{
		registryvector.PayloadData:   "stray memory",
		registryvector.PayloadUserID: "alice",
	}))

	_, err = rig.engine.Add(ctx, AddRequest{
		UserID: "alice", AppName: "assistant", Text: "I work at Initech", Infer: boolPtr(true),
	})
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)

	// The ADD from the same event sequence did not survive the rollback.
	page, err := rig.store.ListMemories(ctx, registrystore.MemoryQuery{UserID: "alice", Page: 1, Size: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 0, page.Total)
}

func TestDeleteEmptyListNotFound(t *testing.T) {
	rig := newRig(t)
	ctx := t.Context()

	res, err := rig.engine.Add(ctx, AddRequest{
		UserID: "alice", AppName: "assistant", Text: "keep me", Infer: boolPtr(false),
	})
	require.NoError(t, err)

	var nf *registrystore.NotFoundError
	_, err = rig.engine.Delete(ctx, "alice", "assistant", nil, false)
	require.ErrorAs(t, err, &nf)

	// IDs that resolve to nothing are NotFound too, with no side effects.
	_, err = rig.engine.Delete(ctx, "alice", "assistant", []uuid.UUID{uuid.New(), uuid.New()}, false)
	require.ErrorAs(t, err, &nf)

	item, err := rig.engine.Get(ctx, "alice", res.Results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, item.State)
}

func TestLifecycleAccessLogging(t *testing.T) {
	rig := newRig(t)
	ctx := t.Context()

	res, err := rig.engine.Add(ctx, AddRequest{
		UserID: "alice", AppName: "assistant", Text: "draft", Infer: boolPtr(false),
	})
	require.NoError(t, err)
	memID := res.Results[0].ID

	_, err = rig.engine.Update(ctx, "alice", "assistant", memID, "final")
	require.NoError(t, err)
	_, err = rig.engine.List(ctx, "assistant", registrystore.MemoryQuery{UserID: "alice", Page: 1, Size: 10})
	require.NoError(t, err)

	page, err := rig.engine.AccessLog(ctx, "alice", memID, 1, 10)
	require.NoError(t, err)
	types := map[string]bool{}
	for _, item := range page.Items {
		types[item.AccessType] = true
	}
	assert.True(t, types["update"], "update access recorded")
	assert.True(t, types["list"], "list access recorded")
}
