package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadataAttachmentIDs(t *testing.T) {
	m := Metadata{
		MetaAttachmentIDs: []interface{}{"a", "b", "a"},
	}
	assert.Equal(t, []string{"a", "b"}, m.AttachmentIDs())
}

func TestMetadataAttachmentIDsLegacySingular(t *testing.T) {
	m := Metadata{MetaAttachmentID: "solo"}
	assert.Equal(t, []string{"solo"}, m.AttachmentIDs())

	// singular appended after plural, duplicates dropped
	m = Metadata{
		MetaAttachmentIDs: []string{"a"},
		MetaAttachmentID:  "a",
	}
	assert.Equal(t, []string{"a"}, m.AttachmentIDs())

	m = Metadata{
		MetaAttachmentIDs: []string{"a"},
		MetaAttachmentID:  "b",
	}
	assert.Equal(t, []string{"a", "b"}, m.AttachmentIDs())
}

func TestMetadataAppendAttachmentIDs(t *testing.T) {
	m := Metadata{MetaAttachmentIDs: []string{"x"}}
	m.AppendAttachmentIDs("y", "x", "", "z")
	assert.Equal(t, []string{"x", "y", "z"}, m.AttachmentIDs())
	// legacy key cleared on write
	_, hasLegacy := m[MetaAttachmentID]
	assert.False(t, hasLegacy)
}

func TestMetadataAppendOnEmpty(t *testing.T) {
	m := Metadata{}
	m.AppendAttachmentIDs()
	_, ok := m[MetaAttachmentIDs]
	assert.False(t, ok, "no write when nothing to merge")
}

func TestMetadataWithoutAttachmentIDs(t *testing.T) {
	m := Metadata{
		MetaAttachmentIDs: []string{"a"},
		MetaAttachmentID:  "b",
		"topic":           "travel",
	}
	out := m.WithoutAttachmentIDs()
	assert.Equal(t, Metadata{"topic": "travel"}, out)
	// original untouched
	assert.Equal(t, []string{"a", "b"}, m.AttachmentIDs())
}

func TestMemoryStateValid(t *testing.T) {
	assert.True(t, StateActive.Valid())
	assert.True(t, StateDeleted.Valid())
	assert.False(t, MemoryState("frozen").Valid())
}
