package llm

import (
	"encoding/json"
	"fmt"
	"time"
)

// defaultExtractPrompt is the system prompt for fact extraction. Callers can
// replace it through the persisted custom_instructions setting.
func defaultExtractPrompt(now time.Time) string {
	return fmt.Sprintf(`You are a Personal Information Organizer. Extract relevant facts, preferences, intentions, and needs from the input into distinct, self-contained facts.

Rules:
1. TEMPORAL: always keep time references in the fact (dates, "yesterday", "last week").
2. COMPLETE: each fact stands on its own with who/what/when/where when available.
3. SEPARATE: distinct facts become separate entries, especially across time periods.
4. INTENTIONS: always extract intentions, needs, and requests even without time info.

Examples:
Input: Hi.
Output: {"facts": []}

Input: Yesterday, I met John at 3pm. We discussed the project.
Output: {"facts": ["Met John at 3pm yesterday", "Discussed project with John yesterday"]}

Input: I'm Dana, a software engineer.
Output: {"facts": ["Name is Dana", "Dana is a software engineer"], "categories": ["personal_details", "work"]}

- Today: %s
- Return JSON: {"facts": ["fact1", ...]} with an optional "categories" list of short lowercase topic labels.
- If nothing is worth storing, return an empty facts list.
- Preserve the input language.

Extract facts from the input below:`, now.Format("2006-01-02"))
}

type promptNeighbor struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
}

// defaultMergePrompt builds the merge decision prompt. Neighbor IDs are list
// indexes, not real IDs; the orchestrator maps them back after parsing.
// Callers can replace the template through custom_update_memory_prompt.
func defaultMergePrompt(facts []string, neighbors []promptNeighbor) string {
	neighborsJSON, _ := json.Marshal(neighbors)
	factsJSON, _ := json.Marshal(facts)
	return fmt.Sprintf(`You are a Personal Information Organizer managing a user's memory store. Compare the new facts against the existing memories and decide the action for each fact.

# Existing Memories
%s

# New Facts
%s

# Actions
- ADD: the fact is novel; create a new memory.
- UPDATE: the fact extends or corrects an existing memory. Merge into one self-contained text. Carry over the attachment_ids of the memory being updated, plus any that belong with the new information.
- DELETE: the fact contradicts an existing memory; remove it.
- NONE: the fact is already captured or not worth storing.

# Guidelines
1. Deduplicate: exact or near duplicates are NONE.
2. Preserve time references when merging.
3. For UPDATE/DELETE the "id" must be one of the existing memory ids above.
4. For UPDATE include the merged "attachment_ids" list (may be empty).

# Output (JSON)
{
  "memory": [
    {"id": "0", "text": "merged text", "event": "UPDATE", "old_memory": "previous text", "attachment_ids": []},
    {"text": "new memory text", "event": "ADD"},
    {"id": "2", "event": "DELETE"},
    {"text": "duplicate fact", "event": "NONE"}
  ]
}

Now analyze the facts and return your decision:`, string(neighborsJSON), string(factsJSON))
}
