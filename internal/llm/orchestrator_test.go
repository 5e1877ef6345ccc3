package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	registryllm "github.com/openmem/openmem/internal/registry/llm"
	registrystore "github.com/openmem/openmem/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider returns canned responses in order.
type scriptedProvider struct {
	responses []string
	err       error
	prompts   []string
}

func (p *scriptedProvider) Complete(_ context.Context, messages []registryllm.Message) (string, error) {
	p.prompts = append(p.prompts, messages[len(messages)-1].Content)
	if p.err != nil {
		return "", p.err
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func TestExtractFacts(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"facts": ["Likes hiking", "Lives in Oslo"], "categories": ["hobbies"]}`,
	}}
	o := NewOrchestrator(p)

	res, err := o.ExtractFacts(t.Context(), "I live in Oslo and love hiking", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Likes hiking", "Lives in Oslo"}, res.Facts)
	assert.Equal(t, []string{"hobbies"}, res.Categories)
}

func TestExtractFactsStripsCodeFences(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"```json\n{\"facts\": [\"Name is Dana\"]}\n```",
	}}
	o := NewOrchestrator(p)

	res, err := o.ExtractFacts(t.Context(), "I'm Dana", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Name is Dana"}, res.Facts)
}

func TestExtractFactsEmpty(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{"facts": []}`}}
	o := NewOrchestrator(p)

	res, err := o.ExtractFacts(t.Context(), "Hi.", "")
	require.NoError(t, err)
	assert.Empty(t, res.Facts)
}

func TestExtractFactsProviderDown(t *testing.T) {
	p := &scriptedProvider{err: errors.New("connection refused")}
	o := NewOrchestrator(p)

	_, err := o.ExtractFacts(t.Context(), "anything", "")
	var unavailable *registrystore.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "llm", unavailable.Dependency)
}

func TestExtractFactsCustomPrompt(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{"facts": ["x"]}`}}
	o := NewOrchestrator(p)

	_, err := o.ExtractFacts(t.Context(), "input", "my custom prompt")
	require.NoError(t, err)
	// custom prompt is the system message; user message carries the input
	assert.Contains(t, p.prompts[0], "input")
}

func TestDecideMergeMapsIndexIDs(t *testing.T) {
	n0 := Neighbor{ID: uuid.New(), Text: "Likes tea", AttachmentIDs: []string{"att-1"}}
	n1 := Neighbor{ID: uuid.New(), Text: "Works at Acme"}
	p := &scriptedProvider{responses: []string{`{
		"memory": [
			{"id": "0", "text": "Likes green tea", "event": "update", "attachment_ids": ["att-1"]},
			{"id": "1", "event": "DELETE"},
			{"text": "Has a dog", "event": "ADD"},
			{"text": "Likes tea", "event": "NONE"}
		]
	}`}}
	o := NewOrchestrator(p)

	events, err := o.DecideMerge(t.Context(), []string{"Likes green tea", "Has a dog"}, []Neighbor{n0, n1}, "")
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, EventUpdate, events[0].Event)
	assert.Equal(t, n0.ID, events[0].ID)
	assert.Equal(t, "Likes tea", events[0].OldMemory, "old_memory backfilled from neighbor")
	assert.Equal(t, []string{"att-1"}, events[0].AttachmentIDs)

	assert.Equal(t, EventDelete, events[1].Event)
	assert.Equal(t, n1.ID, events[1].ID)

	assert.Equal(t, EventAdd, events[2].Event)
	assert.Equal(t, uuid.Nil, events[2].ID)

	assert.Equal(t, EventNone, events[3].Event)
}

func TestDecideMergeDropsUnknownIDs(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{
		"memory": [
			{"id": "7", "text": "phantom", "event": "UPDATE"},
			{"id": "bogus", "event": "DELETE"},
			{"text": "keep me", "event": "ADD"}
		]
	}`}}
	o := NewOrchestrator(p)

	events, err := o.DecideMerge(t.Context(), []string{"f"}, []Neighbor{{ID: uuid.New(), Text: "t"}}, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventAdd, events[0].Event)
}

func TestDecideMergeNoFacts(t *testing.T) {
	p := &scriptedProvider{}
	o := NewOrchestrator(p)

	events, err := o.DecideMerge(t.Context(), nil, nil, "")
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, p.prompts, "no LLM call without facts")
}
