package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	a := NewID()
	b := NewID()
	require.NotEqual(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestDocumentClone(t *testing.T) {
	doc := &Document{
		ID:    "w1",
		Title: "Plan",
		Tags:  []string{"a", "b"},
		Content: &Content{
			Nodes:    []Node{{ID: "n1", Text: "root", Attrs: map[string]string{"color": "red"}}},
			Settings: map[string]string{"zoom": "1"},
		},
	}

	clone := doc.Clone()
	clone.Tags[0] = "changed"
	clone.Content.Nodes[0].Text = "changed"
	clone.Content.Nodes[0].Attrs["color"] = "blue"
	clone.Content.Settings["zoom"] = "2"

	assert.Equal(t, "a", doc.Tags[0])
	assert.Equal(t, "root", doc.Content.Nodes[0].Text)
	assert.Equal(t, "red", doc.Content.Nodes[0].Attrs["color"])
	assert.Equal(t, "1", doc.Content.Settings["zoom"])

	var nilDoc *Document
	assert.Nil(t, nilDoc.Clone())
}

func TestTemplateClone(t *testing.T) {
	tpl := &Template{
		Document:     Document{ID: "t1", Tags: []string{"x"}},
		TemplateType: "mindmap",
		Theme:        ThemeConfig{Name: "dark"},
	}
	clone := tpl.Clone()
	clone.Tags[0] = "y"
	clone.Theme.Name = "light"

	assert.Equal(t, "x", tpl.Tags[0])
	assert.Equal(t, "dark", tpl.Theme.Name)
	assert.Equal(t, "mindmap", clone.TemplateType)
}

func TestListOptionsNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   ListOptions
		want ListOptions
	}{
		{
			name: "zero value",
			in:   ListOptions{},
			want: ListOptions{SortBy: SortByLastModified, Order: SortDesc, Page: 1, PageSize: DefaultPageSize},
		},
		{
			name: "explicit values kept",
			in:   ListOptions{SortBy: SortByTitle, Order: SortAsc, Page: 3, PageSize: 7},
			want: ListOptions{SortBy: SortByTitle, Order: SortAsc, Page: 3, PageSize: 7},
		},
		{
			name: "page size clamped",
			in:   ListOptions{Page: -2, PageSize: MaxPageSize + 1},
			want: ListOptions{SortBy: SortByLastModified, Order: SortDesc, Page: 1, PageSize: MaxPageSize},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

func TestOptional(t *testing.T) {
	var absent Optional[string]
	_, ok := absent.Get()
	assert.False(t, ok)
	assert.False(t, absent.IsSet())
	assert.Equal(t, "fallback", absent.OrElse("fallback"))
	assert.False(t, None[int]().IsSet())

	// a present zero value is distinct from an absent one
	zero := Some("")
	v, ok := zero.Get()
	assert.True(t, ok)
	assert.Equal(t, "", v)
	assert.Equal(t, "", zero.OrElse("fallback"))
}

func TestWorkPatchHasPayload(t *testing.T) {
	assert.False(t, WorkPatch{Title: Some("x")}.HasPayload())
	assert.True(t, WorkPatch{Content: Some(Content{})}.HasPayload())
	assert.True(t, WorkPatch{EncryptedData: Some("abc")}.HasPayload())
}
