package model

// Metadata is the free-form metadata map stored on a memory. A handful of keys
// are service-managed; everything else is caller-supplied and passed through
// untouched. Typed accessors below keep the service-managed keys consistent
// between the relational row and the vector payload.
type Metadata map[string]interface{}

// Service-managed metadata keys.
const (
	MetaAttachmentIDs = "attachment_ids"
	// MetaAttachmentID is the legacy singular key written by older clients.
	// Read-side code must honor it; new writes always use MetaAttachmentIDs.
	MetaAttachmentID = "attachment_id"
	MetaSourceApp    = "source_app"
	MetaMCPClient    = "mcp_client"
)

// Clone returns a shallow copy. A nil map clones to an empty map so callers
// can mutate the result.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AttachmentIDs returns the attachment IDs referenced by this memory,
// honoring both the plural and the legacy singular key. Order is preserved
// and duplicates are dropped, keeping the first occurrence.
func (m Metadata) AttachmentIDs() []string {
	var out []string
	seen := map[string]bool{}
	appendID := func(v interface{}) {
		s, ok := v.(string)
		if !ok || s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	switch ids := m[MetaAttachmentIDs].(type) {
	case []string:
		for _, id := range ids {
			appendID(id)
		}
	case []interface{}:
		for _, id := range ids {
			appendID(id)
		}
	}
	appendID(m[MetaAttachmentID])
	return out
}

// SetAttachmentIDs writes the plural key and clears the legacy singular one.
func (m Metadata) SetAttachmentIDs(ids []string) {
	m[MetaAttachmentIDs] = ids
	delete(m, MetaAttachmentID)
}

// AppendAttachmentIDs merges the given IDs into the existing list,
// preserving order and dropping duplicates.
func (m Metadata) AppendAttachmentIDs(ids ...string) {
	merged := m.AttachmentIDs()
	seen := map[string]bool{}
	for _, id := range merged {
		seen[id] = true
	}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, id)
	}
	if len(merged) > 0 {
		m.SetAttachmentIDs(merged)
	}
}

// SourceApp returns the source_app key, if set.
func (m Metadata) SourceApp() string {
	s, _ := m[MetaSourceApp].(string)
	return s
}

// WithoutAttachmentIDs returns a copy with the attachment keys removed.
// Used when projecting search results that must hide attachment links.
func (m Metadata) WithoutAttachmentIDs() Metadata {
	out := m.Clone()
	delete(out, MetaAttachmentIDs)
	delete(out, MetaAttachmentID)
	return out
}
