package interchange

import (
	"testing"
	"time"

	"github.com/poiesic/docvault/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTemplate() *core.Template {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &core.Template{
		Document: core.Document{
			ID:           "t1",
			Title:        "Weekly review",
			Category:     "planning",
			Tags:         []string{"weekly"},
			CreatedAt:    now,
			LastModified: now,
			Content: &core.Content{
				Nodes: []core.Node{
					{ID: "root", Text: "Review"},
					{ID: "c1", ParentID: "root", Text: "Wins", Level: 1, Attrs: map[string]string{"icon": "star"}},
				},
			},
		},
		TemplateType: "mindmap",
		Theme:        core.ThemeConfig{Name: "calm", Primary: "#336699"},
		Layout:       core.LayoutConfig{Kind: "tree", NodeSpacing: 20},
	}
}

func TestRoundTripFormats(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			exported, err := FromTemplate(sampleTemplate())
			require.NoError(t, err)

			data, err := Marshal(exported, format)
			require.NoError(t, err)

			imported, err := Unmarshal(data, format)
			require.NoError(t, err)
			assert.Equal(t, FormatVersion, imported.FormatVersion)
			assert.Equal(t, "Weekly review", imported.Title)
			assert.Equal(t, exported.Content, imported.Content)
			assert.True(t, exported.CreatedAt.Equal(imported.CreatedAt))
			require.NotNil(t, imported.Template)
			assert.Equal(t, "mindmap", imported.Template.TemplateType)

			dto := imported.CreateTemplate()
			assert.Equal(t, "calm", dto.Theme.Name)
			assert.Equal(t, []string{"weekly"}, dto.Tags)
		})
	}
}

func TestFromDocumentRequiresContent(t *testing.T) {
	_, err := FromDocument(&core.Document{Title: "sealed"})
	assert.ErrorIs(t, err, core.ErrInvalidDocument)
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{"json": FormatJSON, "JSON": FormatJSON, "yaml": FormatYAML, "yml": FormatYAML, "structured": FormatJSON}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestUnmarshalRejects(t *testing.T) {
	_, err := Unmarshal([]byte("{"), FormatJSON)
	assert.ErrorIs(t, err, core.ErrInvalidDocument)

	_, err = Unmarshal([]byte(`{"formatVersion": 99, "title": "x"}`), FormatJSON)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)

	_, err = Unmarshal([]byte(`{"title": "x", "content": {"nodes": [{"id": "a"}, {"id": "a"}]}}`), FormatJSON)
	assert.ErrorIs(t, err, core.ErrDuplicateNodeID)

	_, err = Unmarshal([]byte(`title: x`), Format("xml"))
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}
