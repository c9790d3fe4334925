package core

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a new time-ordered identifier.
// UUIDv7 embeds a millisecond timestamp, so ids sort by creation time.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source fails
		return uuid.NewString()
	}
	return id.String()
}

// Node is a single element of a document's node graph.
type Node struct {
	ID       string            `json:"id" yaml:"id"`
	ParentID string            `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	Text     string            `json:"text" yaml:"text"`
	Level    int               `json:"level" yaml:"level"`
	Attrs    map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Content is the plaintext body of a document. It is never persisted
// unencrypted.
type Content struct {
	Nodes    []Node            `json:"nodes" yaml:"nodes"`
	Settings map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Document represents a user work. Templates embed it.
type Document struct {
	ID            string
	Title         string
	Category      string
	Tags          []string
	Starred       bool
	NodeCount     int
	CreatedAt     time.Time
	LastModified  time.Time
	DataVersion   int
	Checksum      string    // hex SHA-256 of the canonical plaintext
	EncryptedData string    // base64(IV || ciphertext || tag)
	IsDeleted     bool
	InTrashSince  time.Time // zero unless IsDeleted
	IsDefault     bool
	IsReadonly    bool
	Sharded       bool // nodes are stored in shards, EncryptedData holds the rest

	// Content is populated on decrypting reads and is never serialized.
	Content *Content
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Tags = append([]string(nil), d.Tags...)
	if d.Content != nil {
		content := d.Content.Clone()
		c.Content = &content
	}
	return &c
}

// Clone returns a deep copy of the content.
func (c Content) Clone() Content {
	out := Content{}
	if c.Nodes != nil {
		out.Nodes = make([]Node, len(c.Nodes))
		for i, n := range c.Nodes {
			out.Nodes[i] = n.Clone()
		}
	}
	if c.Settings != nil {
		out.Settings = make(map[string]string, len(c.Settings))
		for k, v := range c.Settings {
			out.Settings[k] = v
		}
	}
	return out
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	if n.Attrs != nil {
		out.Attrs = make(map[string]string, len(n.Attrs))
		for k, v := range n.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}

// ThemeConfig describes the visual theme of a template.
type ThemeConfig struct {
	Name       string `json:"name" yaml:"name"`
	Primary    string `json:"primary" yaml:"primary"`
	Background string `json:"background" yaml:"background"`
	FontFamily string `json:"fontFamily" yaml:"fontFamily"`
}

// LayoutConfig describes how a template arranges its nodes.
type LayoutConfig struct {
	Kind         string `json:"kind" yaml:"kind"` // e.g. "mindmap", "tree", "timeline"
	NodeSpacing  int    `json:"nodeSpacing" yaml:"nodeSpacing"`
	LevelSpacing int    `json:"levelSpacing" yaml:"levelSpacing"`
}

// Template is a document with theme and layout metadata.
type Template struct {
	Document
	TemplateType string
	Theme        ThemeConfig
	Layout       LayoutConfig
	UsageCount   int
}

// Clone returns a deep copy of the template.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	c := *t
	c.Document = *t.Document.Clone()
	return &c
}

// LevelRange is an inclusive range of node indices.
type LevelRange struct {
	Start int
	End   int
}

// Shard is an encrypted, contiguous slice of a work's nodes.
type Shard struct {
	WorkID     string
	ShardID    string
	LevelRange LevelRange
	NodeCount  int
	Data       string
	Checksum   string
	CreatedAt  time.Time
}

// VersionOperation tags what produced a history version.
type VersionOperation string

const (
	OperationAutoSave   VersionOperation = "auto-save"
	OperationManualSave VersionOperation = "manual-save"
	OperationUndo       VersionOperation = "undo"
	OperationRedo       VersionOperation = "redo"
	OperationRestore    VersionOperation = "restore"
)

// HistoryVersion is an immutable snapshot of a work.
type HistoryVersion struct {
	ID            string
	WorkID        string
	VersionNumber int
	SnapshotData  string // ciphertext of the full Content
	DiffData      string // ciphertext of Diff against the previous snapshot
	Checksum      string // checksum of the snapshot plaintext
	NodeCount     int
	CreatedAt     time.Time
	Operation     VersionOperation
	Description   string
}

// SortField selects the ordering of a list operation.
type SortField string

const (
	SortByTitle        SortField = "title"
	SortByCategory     SortField = "category"
	SortByLastModified SortField = "lastModified"
	SortByCreatedAt    SortField = "createdAt"
	SortByNodeCount    SortField = "nodeCount"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListOptions filters, sorts and paginates list operations.
// A zero value lists active documents, newest first, 20 per page.
type ListOptions struct {
	DeletedOnly  bool
	StarredOnly  bool
	Search       string
	Category     string
	Tag          string
	TemplateType string // templates only
	SortBy       SortField
	Order        SortOrder
	Page         int // 1-based
	PageSize     int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// Normalize fills defaults and clamps paging values.
func (o ListOptions) Normalize() ListOptions {
	if o.SortBy == "" {
		o.SortBy = SortByLastModified
	}
	if o.Order == "" {
		o.Order = SortDesc
	}
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize > MaxPageSize {
		o.PageSize = MaxPageSize
	}
	return o
}

// ListResult is a page of list results.
type ListResult[T any] struct {
	Items    []T
	Total    int
	Page     int
	PageSize int
	// Corrupted holds ids on the page that failed verification and were
	// left out of Items.
	Corrupted []string
}

// BatchFailure records a single failed item of a batch operation.
type BatchFailure struct {
	Index int
	ID    string
	Err   error
}

// BatchResult collects the outcome of a batch operation.
type BatchResult[T any] struct {
	Succeeded []T
	Failed    []BatchFailure
}

// StorageUsage is an approximate view of persisted bytes.
type StorageUsage struct {
	Used       int64
	Total      int64
	Percentage float64
}

// MemoryUsage reports cache accounting.
type MemoryUsage struct {
	Current    int64
	Max        int64
	Percentage float64
}
