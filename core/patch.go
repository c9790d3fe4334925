package core

// Optional is a value with explicit presence. The zero value is absent,
// which lets a patch tell "not provided" apart from "set to zero".
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// None returns an absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether the value is present.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// OrElse returns the value when present and fallback otherwise.
func (o Optional[T]) OrElse(fallback T) T {
	if o.set {
		return o.value
	}
	return fallback
}

// CreateWork holds the fields accepted when creating a work.
type CreateWork struct {
	Title      string
	Category   string
	Tags       []string
	Starred    bool
	IsDefault  bool
	IsReadonly bool
	Content    Content
}

// WorkPatch is a partial update of a work. Only present fields are applied.
// Content and EncryptedData are mutually exclusive ways of replacing the
// payload; EncryptedData must have been sealed with the active key.
type WorkPatch struct {
	Title         Optional[string]
	Category      Optional[string]
	Tags          Optional[[]string]
	Starred       Optional[bool]
	IsReadonly    Optional[bool]
	Content       Optional[Content]
	EncryptedData Optional[string]
}

// HasPayload reports whether the patch replaces the document body.
func (p WorkPatch) HasPayload() bool {
	return p.Content.IsSet() || p.EncryptedData.IsSet()
}

// CreateTemplate holds the fields accepted when creating a template.
type CreateTemplate struct {
	CreateWork
	TemplateType string
	Theme        ThemeConfig
	Layout       LayoutConfig
}

// TemplatePatch is a partial update of a template.
type TemplatePatch struct {
	WorkPatch
	TemplateType Optional[string]
	Theme        Optional[ThemeConfig]
	Layout       Optional[LayoutConfig]
}

// CreateVersion holds the fields accepted when appending a history version.
// At least one of Snapshot or Diff must be set.
type CreateVersion struct {
	WorkID      string
	Snapshot    *Content
	Diff        *Diff
	Operation   VersionOperation
	Description string
}

// BatchUpdateItem pairs an id with its patch.
type BatchUpdateItem struct {
	ID    string
	Patch WorkPatch
}
