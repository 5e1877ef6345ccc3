// Package llm turns raw conversational text into memory operations: fact
// extraction first, then a merge decision against the nearest existing
// memories. Both steps are single LLM calls returning strict JSON.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	registryllm "github.com/openmem/openmem/internal/registry/llm"
	registrystore "github.com/openmem/openmem/internal/registry/store"
)

// Merge event kinds, as returned by the decision call.
const (
	EventAdd    = "ADD"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventNone   = "NONE"
)

// Neighbor is an existing memory offered to the merge decision.
type Neighbor struct {
	ID            uuid.UUID
	Text          string
	AttachmentIDs []string
}

// MergeEvent is one decided operation. ID is resolved to the real memory ID
// for UPDATE/DELETE; it is uuid.Nil for ADD and NONE.
type MergeEvent struct {
	ID            uuid.UUID
	Text          string
	Event         string
	OldMemory     string
	AttachmentIDs []string
}

// ExtractResult holds the facts pulled from one input, plus optional topic
// categories the model volunteered.
type ExtractResult struct {
	Facts      []string
	Categories []string
}

// Orchestrator drives the two LLM calls of the ingestion pipeline.
type Orchestrator struct {
	provider registryllm.Provider
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator on the given provider.
func NewOrchestrator(provider registryllm.Provider) *Orchestrator {
	return &Orchestrator{provider: provider, now: time.Now}
}

// ExtractFacts extracts self-contained facts from the input text.
// customPrompt, when non-empty, replaces the default system prompt.
func (o *Orchestrator) ExtractFacts(ctx context.Context, input, customPrompt string) (*ExtractResult, error) {
	system := customPrompt
	if system == "" {
		system = defaultExtractPrompt(o.now())
	}
	response, err := o.provider.Complete(ctx, []registryllm.Message{
		{Role: registryllm.RoleSystem, Content: system},
		{Role: registryllm.RoleUser, Content: "Input:\n" + input},
	})
	if err != nil {
		return nil, &registrystore.UnavailableError{Dependency: "llm", Err: err}
	}
	return parseExtractResponse(response)
}

// DecideMerge decides the operation for each fact against the neighbors.
// Neighbors are presented to the model with index-based IDs; the returned
// events carry the real IDs. customPrompt, when non-empty, replaces the
// default prompt template entirely.
func (o *Orchestrator) DecideMerge(ctx context.Context, facts []string, neighbors []Neighbor, customPrompt string) ([]MergeEvent, error) {
	if len(facts) == 0 {
		return nil, nil
	}
	prompt := customPrompt
	if prompt == "" {
		indexed := make([]promptNeighbor, len(neighbors))
		for i, n := range neighbors {
			indexed[i] = promptNeighbor{
				ID:            strconv.Itoa(i),
				Text:          n.Text,
				AttachmentIDs: n.AttachmentIDs,
			}
		}
		prompt = defaultMergePrompt(facts, indexed)
	}
	response, err := o.provider.Complete(ctx, []registryllm.Message{
		{Role: registryllm.RoleUser, Content: prompt},
	})
	if err != nil {
		return nil, &registrystore.UnavailableError{Dependency: "llm", Err: err}
	}
	return parseMergeResponse(response, neighbors)
}

func parseExtractResponse(response string) (*ExtractResult, error) {
	var parsed struct {
		Facts      []string `json:"facts"`
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(response)), &parsed); err != nil {
		return nil, fmt.Errorf("extract facts: invalid JSON response: %w", err)
	}
	out := &ExtractResult{Categories: parsed.Categories}
	for _, f := range parsed.Facts {
		if strings.TrimSpace(f) != "" {
			out.Facts = append(out.Facts, f)
		}
	}
	return out, nil
}

func parseMergeResponse(response string, neighbors []Neighbor) ([]MergeEvent, error) {
	var parsed struct {
		Memory []struct {
			ID            string   `json:"id"`
			Text          string   `json:"text"`
			Memory        string   `json:"memory"`
			Event         string   `json:"event"`
			OldMemory     string   `json:"old_memory"`
			AttachmentIDs []string `json:"attachment_ids"`
		} `json:"memory"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(response)), &parsed); err != nil {
		return nil, fmt.Errorf("merge decision: invalid JSON response: %w", err)
	}

	events := make([]MergeEvent, 0, len(parsed.Memory))
	for _, item := range parsed.Memory {
		ev := MergeEvent{
			Text:          item.Text,
			Event:         strings.ToUpper(strings.TrimSpace(item.Event)),
			OldMemory:     item.OldMemory,
			AttachmentIDs: item.AttachmentIDs,
		}
		if ev.Text == "" && item.Memory != "" {
			ev.Text = item.Memory
		}
		switch ev.Event {
		case EventAdd, EventNone:
		case EventUpdate, EventDelete:
			idx, err := strconv.Atoi(strings.TrimSpace(item.ID))
			if err != nil || idx < 0 || idx >= len(neighbors) {
				// The model referenced a memory it was never shown; drop it.
				continue
			}
			ev.ID = neighbors[idx].ID
			if ev.OldMemory == "" {
				ev.OldMemory = neighbors[idx].Text
			}
		default:
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// stripCodeFences removes ```json ... ``` markers some models wrap around
// JSON output.
func stripCodeFences(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
