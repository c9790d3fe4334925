package badger

import (
	"context"
	"strings"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/interchange"
	"github.com/poiesic/docvault/storage"
)

// copySuffix is appended to the title of a copy made without a title.
const copySuffix = " (copy)"

// WorkRepository implements storage.WorkRepository for BadgerDB.
type WorkRepository struct {
	store *docStore[*core.Document]
}

var _ storage.WorkRepository = (*WorkRepository)(nil)

// NewWorkRepository creates a new WorkRepository.
func NewWorkRepository(backend *Backend, deps Deps) (*WorkRepository, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &WorkRepository{store: newWorkStore(backend, deps.withDefaults())}, nil
}

func newWorkStore(backend *Backend, deps Deps) *docStore[*core.Document] {
	return &docStore[*core.Document]{
		backend: backend,
		deps:    deps,
		codec: docCodec[*core.Document]{
			collection: Works,
			doc:        func(d *core.Document) *core.Document { return d },
			clone:      (*core.Document).Clone,
			marshal:    storage.MarshalDocument,
			unmarshal:  storage.UnmarshalDocument,
		},
	}
}

// Create stores a new work with DataVersion 1.
func (r *WorkRepository) Create(ctx context.Context, dto core.CreateWork) (*core.Document, error) {
	doc := newDocument(dto, r.store.deps.now())
	return r.store.create(ctx, doc, dto.Content)
}

// Get retrieves and decrypts a work.
func (r *WorkRepository) Get(ctx context.Context, id string) (*core.Document, error) {
	return r.store.get(ctx, id)
}

// Update applies the present fields of patch.
func (r *WorkRepository) Update(ctx context.Context, id string, patch core.WorkPatch) (*core.Document, error) {
	return r.store.update(ctx, id, patch, nil)
}

// Delete soft-deletes or hard-deletes a work.
func (r *WorkRepository) Delete(ctx context.Context, id string, hard bool) (bool, error) {
	return r.store.remove(ctx, id, hard)
}

// Restore clears the deleted flag of a work.
func (r *WorkRepository) Restore(ctx context.Context, id string) (*core.Document, error) {
	return r.store.restore(ctx, id)
}

// List filters, sorts and paginates works.
func (r *WorkRepository) List(ctx context.Context, opts core.ListOptions) (*core.ListResult[*core.Document], error) {
	return r.store.list(ctx, opts)
}

// Copy creates a writable, non-default work with the content of id.
// An empty title derives one from the source.
func (r *WorkRepository) Copy(ctx context.Context, id, title string) (*core.Document, error) {
	src, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.Create(ctx, copyRequest(src, title))
}

func copyRequest(src *core.Document, title string) core.CreateWork {
	if strings.TrimSpace(title) == "" {
		title = src.Title + copySuffix
	}
	return core.CreateWork{
		Title:    title,
		Category: src.Category,
		Tags:     src.Tags,
		Starred:  src.Starred,
		Content:  src.Content.Clone(),
	}
}

func (r *WorkRepository) BatchCreate(ctx context.Context, dtos []core.CreateWork) *core.BatchResult[*core.Document] {
	return runBatch(dtos,
		func(core.CreateWork) string { return "" },
		func(dto core.CreateWork) (*core.Document, error) { return r.Create(ctx, dto) })
}

func (r *WorkRepository) BatchUpdate(ctx context.Context, items []core.BatchUpdateItem) *core.BatchResult[*core.Document] {
	return runBatch(items,
		func(item core.BatchUpdateItem) string { return item.ID },
		func(item core.BatchUpdateItem) (*core.Document, error) { return r.Update(ctx, item.ID, item.Patch) })
}

func (r *WorkRepository) BatchDelete(ctx context.Context, ids []string, hard bool) *core.BatchResult[string] {
	return runBatch(ids,
		func(id string) string { return id },
		func(id string) (string, error) {
			_, err := r.Delete(ctx, id, hard)
			return id, err
		})
}

// Export decrypts a work and encodes it in format.
func (r *WorkRepository) Export(ctx context.Context, id string, format interchange.Format) ([]byte, error) {
	doc, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := interchange.FromDocument(doc)
	if err != nil {
		return nil, err
	}
	return interchange.Marshal(out, format)
}

// Import parses data in format and creates a work from it.
func (r *WorkRepository) Import(ctx context.Context, data []byte, format interchange.Format) (*core.Document, error) {
	in, err := interchange.Unmarshal(data, format)
	if err != nil {
		return nil, err
	}
	return r.Create(ctx, in.CreateWork())
}
