package memory

import (
	"testing"

	"github.com/google/uuid"
	registryvector "github.com/openmem/openmem/internal/registry/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSearchDelete(t *testing.T) {
	s := New()
	ctx := t.Context()

	a, b := uuid.New(), uuid.New()
	require.NoError(t, s.Upsert(ctx, a, []float32{1, 0}, map[string]interface{}{
		registryvector.PayloadUserID: "alice",
		registryvector.PayloadData:   "likes tea",
	}))
	require.NoError(t, s.Upsert(ctx, b, []float32{0, 1}, map[string]interface{}{
		registryvector.PayloadUserID: "alice",
		registryvector.PayloadData:   "works at acme",
	}))

	results, err := s.Search(ctx, []float32{1, 0.1}, 10, map[string]interface{}{
		registryvector.PayloadUserID: "alice",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, a, results[0].ID, "closest vector first")
	assert.Greater(t, results[0].Score, results[1].Score)

	// Filter mismatch excludes everything.
	results, err = s.Search(ctx, []float32{1, 0}, 10, map[string]interface{}{
		registryvector.PayloadUserID: "bob",
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, s.Delete(ctx, a))
	got, err := s.Get(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Delete(ctx, a), "delete is idempotent")
}

func TestUpsertReplacesPayload(t *testing.T) {
	s := New()
	ctx := t.Context()
	id := uuid.New()

	require.NoError(t, s.Upsert(ctx, id, []float32{1, 0}, map[string]interface{}{
		registryvector.PayloadData: "v1",
	}))
	require.NoError(t, s.Upsert(ctx, id, []float32{1, 0}, map[string]interface{}{
		registryvector.PayloadData: "v2",
	}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v2", got.Payload[registryvector.PayloadData])
}

func TestSearchLimit(t *testing.T) {
	s := New()
	ctx := t.Context()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Upsert(ctx, uuid.New(), []float32{1, float32(i)}, nil))
	}
	results, err := s.Search(ctx, []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}
