package badger

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/interchange"
	"github.com/poiesic/docvault/storage"
)

// TemplateRepository implements storage.TemplateRepository for BadgerDB.
type TemplateRepository struct {
	store *docStore[*core.Template]
}

var _ storage.TemplateRepository = (*TemplateRepository)(nil)

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(backend *Backend, deps Deps) (*TemplateRepository, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &TemplateRepository{
		store: &docStore[*core.Template]{
			backend: backend,
			deps:    deps.withDefaults(),
			codec: docCodec[*core.Template]{
				collection: Templates,
				doc:        func(t *core.Template) *core.Document { return &t.Document },
				clone:      (*core.Template).Clone,
				marshal:    storage.MarshalTemplate,
				unmarshal:  storage.UnmarshalTemplate,
				indexes: func(t *core.Template) [][]byte {
					if t.TemplateType == "" {
						return nil
					}
					return [][]byte{makeValueIndexKey(Templates, typeKind, t.TemplateType, t.ID)}
				},
				indexPrefix: func(opts core.ListOptions) []byte {
					if opts.TemplateType == "" {
						return nil
					}
					return makePartialValueIndexKey(Templates, typeKind, opts.TemplateType)
				},
				matches: func(t *core.Template, opts core.ListOptions) bool {
					return opts.TemplateType == "" || t.TemplateType == opts.TemplateType
				},
			},
		},
	}, nil
}

func (r *TemplateRepository) Create(ctx context.Context, dto core.CreateTemplate) (*core.Template, error) {
	tpl := &core.Template{
		Document:     *newDocument(dto.CreateWork, r.store.deps.now()),
		TemplateType: strings.TrimSpace(dto.TemplateType),
		Theme:        dto.Theme,
		Layout:       dto.Layout,
	}
	return r.store.create(ctx, tpl, dto.Content)
}

func (r *TemplateRepository) Get(ctx context.Context, id string) (*core.Template, error) {
	return r.store.get(ctx, id)
}

func (r *TemplateRepository) Update(ctx context.Context, id string, patch core.TemplatePatch) (*core.Template, error) {
	return r.store.update(ctx, id, patch.WorkPatch, func(t *core.Template) {
		if v, ok := patch.TemplateType.Get(); ok {
			t.TemplateType = strings.TrimSpace(v)
		}
		if v, ok := patch.Theme.Get(); ok {
			t.Theme = v
		}
		if v, ok := patch.Layout.Get(); ok {
			t.Layout = v
		}
	})
}

// Delete soft-deletes or hard-deletes a template. Default templates can
// only be soft-deleted.
func (r *TemplateRepository) Delete(ctx context.Context, id string, hard bool) (bool, error) {
	return r.store.remove(ctx, id, hard)
}

func (r *TemplateRepository) Restore(ctx context.Context, id string) (*core.Template, error) {
	return r.store.restore(ctx, id)
}

// List filters, sorts and paginates templates. ListOptions.TemplateType
// narrows the result to one type.
func (r *TemplateRepository) List(ctx context.Context, opts core.ListOptions) (*core.ListResult[*core.Template], error) {
	return r.store.list(ctx, opts)
}

// Copy creates a writable, non-default template from id.
func (r *TemplateRepository) Copy(ctx context.Context, id, title string) (*core.Template, error) {
	src, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.Create(ctx, core.CreateTemplate{
		CreateWork:   copyRequest(&src.Document, title),
		TemplateType: src.TemplateType,
		Theme:        src.Theme,
		Layout:       src.Layout,
	})
}

func (r *TemplateRepository) BatchCreate(ctx context.Context, dtos []core.CreateTemplate) *core.BatchResult[*core.Template] {
	return runBatch(dtos,
		func(core.CreateTemplate) string { return "" },
		func(dto core.CreateTemplate) (*core.Template, error) { return r.Create(ctx, dto) })
}

func (r *TemplateRepository) BatchUpdate(ctx context.Context, items []storage.TemplateUpdateItem) *core.BatchResult[*core.Template] {
	return runBatch(items,
		func(item storage.TemplateUpdateItem) string { return item.ID },
		func(item storage.TemplateUpdateItem) (*core.Template, error) { return r.Update(ctx, item.ID, item.Patch) })
}

func (r *TemplateRepository) BatchDelete(ctx context.Context, ids []string, hard bool) *core.BatchResult[string] {
	return runBatch(ids,
		func(id string) string { return id },
		func(id string) (string, error) {
			_, err := r.Delete(ctx, id, hard)
			return id, err
		})
}

func (r *TemplateRepository) Export(ctx context.Context, id string, format interchange.Format) ([]byte, error) {
	tpl, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := interchange.FromTemplate(tpl)
	if err != nil {
		return nil, err
	}
	return interchange.Marshal(out, format)
}

func (r *TemplateRepository) Import(ctx context.Context, data []byte, format interchange.Format) (*core.Template, error) {
	in, err := interchange.Unmarshal(data, format)
	if err != nil {
		return nil, err
	}
	return r.Create(ctx, in.CreateTemplate())
}

// IncrementUsage bumps the usage counter of a template. The payload and
// last-modified time are left alone, and read-only templates are counted
// too.
func (r *TemplateRepository) IncrementUsage(ctx context.Context, id string) (*core.Template, error) {
	s := r.store
	err := s.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		tpl, err := s.readTx(txn, id)
		if err != nil {
			return err
		}
		tpl.UsageCount++
		return txn.Set(Templates, makeRecordKey(Templates, id), storage.MarshalTemplate(tpl))
	}, Templates)
	if err != nil {
		return nil, s.corrupted(id, err)
	}
	return r.Get(ctx, id)
}

// GetByType returns the active templates of templateType without content,
// oldest first.
func (r *TemplateRepository) GetByType(ctx context.Context, templateType string) ([]*core.Template, error) {
	s := r.store
	var out []*core.Template
	err := s.backend.ExecuteTransaction(ctx, ReadOnly, func(txn *Txn) error {
		indexKeys, err := txn.Keys(Templates, makePartialValueIndexKey(Templates, typeKind, templateType))
		if err != nil {
			return err
		}
		// Index keys end in time-ordered ids
		ids := make([]string, len(indexKeys))
		for i, k := range indexKeys {
			ids[i] = idFromValueIndexKey(k)
		}
		all, err := s.loadTx(txn, ids)
		if err != nil {
			return err
		}
		for _, t := range all {
			if !t.IsDeleted {
				out = append(out, t)
			}
		}
		return nil
	}, Templates)
	if err != nil {
		return nil, fmt.Errorf("templates of type %q: %w", templateType, err)
	}
	return out, nil
}

// Count returns the number of stored templates, deleted ones included.
func (r *TemplateRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.store.backend.ExecuteTransaction(ctx, ReadOnly, func(txn *Txn) error {
		recordKeys, err := txn.Keys(Templates, makePrefix(Templates, recordKind))
		n = len(recordKeys)
		return err
	}, Templates)
	return n, err
}
