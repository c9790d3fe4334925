package docvault

import (
	"context"
	"errors"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/events"
	"github.com/poiesic/docvault/interchange"
	"github.com/poiesic/docvault/storage"
)

// CreateWork encrypts and stores a new work.
func (s *Storage) CreateWork(ctx context.Context, dto core.CreateWork) (*core.Document, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("create work", "", err)
	}
	doc, err := repos.Works.Create(ctx, dto)
	if err != nil {
		return nil, s.fail("create work", "", err)
	}
	s.cacheWork(doc)
	s.emit(events.WorkCreated, doc.ID, nil)
	return doc, nil
}

// GetWork returns a verified, decrypted work, from the cache when possible.
func (s *Storage) GetWork(ctx context.Context, id string) (*core.Document, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("get work", id, err)
	}
	if doc, ok := s.works.Get(id); ok {
		return doc.Clone(), nil
	}
	doc, err := repos.Works.Get(ctx, id)
	if err != nil {
		return nil, s.fail("get work", id, err)
	}
	s.cacheWork(doc)
	return doc, nil
}

// UpdateWork applies patch. When auto-versioning is enabled, a payload
// change also appends an auto-save version.
func (s *Storage) UpdateWork(ctx context.Context, id string, patch core.WorkPatch) (*core.Document, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("update work", id, err)
	}
	doc, err := repos.Works.Update(ctx, id, patch)
	if err != nil {
		s.works.Delete(id)
		return nil, s.fail("update work", id, err)
	}
	s.cacheWork(doc)
	s.emit(events.WorkUpdated, id, map[string]any{"dataVersion": doc.DataVersion})

	if s.cfg.AutoVersion && patch.HasPayload() {
		s.autoVersion(ctx, repos.History, doc)
	}
	return doc, nil
}

// autoVersion snapshots doc unless the latest version already holds the
// same content. Failures are reported but do not fail the update.
func (s *Storage) autoVersion(ctx context.Context, history storage.HistoryRepository, doc *core.Document) {
	if doc.Content == nil {
		return
	}
	latest, err := history.GetLatestVersion(ctx, doc.ID)
	switch {
	case err == nil && latest.Checksum == doc.Checksum:
		return
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		s.fail("auto version", doc.ID, err)
		return
	}
	v, err := history.CreateVersion(ctx, core.CreateVersion{
		WorkID:    doc.ID,
		Snapshot:  doc.Content,
		Operation: core.OperationAutoSave,
	})
	if err != nil {
		s.fail("auto version", doc.ID, err)
		return
	}
	s.emit(events.VersionCreated, doc.ID, map[string]any{"version": v.VersionNumber, "versionId": v.ID})
}

// DeleteWork soft-deletes a work, or removes it with its shards and history
// when hard is set.
func (s *Storage) DeleteWork(ctx context.Context, id string, hard bool) (bool, error) {
	repos, err := s.repositories()
	if err != nil {
		return false, s.fail("delete work", id, err)
	}
	ok, err := repos.Works.Delete(ctx, id, hard)
	s.works.Delete(id)
	if err != nil {
		return false, s.fail("delete work", id, err)
	}
	s.emit(events.WorkDeleted, id, map[string]any{"hard": hard})
	return ok, nil
}

// RestoreWork brings a soft-deleted work back.
func (s *Storage) RestoreWork(ctx context.Context, id string) (*core.Document, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("restore work", id, err)
	}
	doc, err := repos.Works.Restore(ctx, id)
	if err != nil {
		return nil, s.fail("restore work", id, err)
	}
	s.cacheWork(doc)
	s.emit(events.WorkRestored, id, nil)
	return doc, nil
}

// ListWorks filters, sorts and paginates works. Corrupted works on the page
// are left out and reported; they do not fail the call.
func (s *Storage) ListWorks(ctx context.Context, opts core.ListOptions) (*core.ListResult[*core.Document], error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("list works", "", err)
	}
	result, err := repos.Works.List(ctx, opts)
	if err != nil {
		return nil, s.fail("list works", "", err)
	}
	s.works.BatchDelete(result.Corrupted...)
	return result, nil
}

// CopyWork creates a new work with the content of id.
func (s *Storage) CopyWork(ctx context.Context, id, title string) (*core.Document, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("copy work", id, err)
	}
	doc, err := repos.Works.Copy(ctx, id, title)
	if err != nil {
		return nil, s.fail("copy work", id, err)
	}
	s.cacheWork(doc)
	s.emit(events.WorkCreated, doc.ID, map[string]any{"source": id})
	return doc, nil
}

// BatchCreateWorks creates each work independently.
func (s *Storage) BatchCreateWorks(ctx context.Context, dtos []core.CreateWork) (*core.BatchResult[*core.Document], error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("batch create works", "", err)
	}
	result := repos.Works.BatchCreate(ctx, dtos)
	for _, doc := range result.Succeeded {
		s.cacheWork(doc)
		s.emit(events.WorkCreated, doc.ID, nil)
	}
	s.reportBatch("batch create works", result.Failed)
	return result, nil
}

// BatchUpdateWorks updates each work independently.
func (s *Storage) BatchUpdateWorks(ctx context.Context, items []core.BatchUpdateItem) (*core.BatchResult[*core.Document], error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("batch update works", "", err)
	}
	result := repos.Works.BatchUpdate(ctx, items)
	for _, doc := range result.Succeeded {
		s.cacheWork(doc)
		s.emit(events.WorkUpdated, doc.ID, map[string]any{"dataVersion": doc.DataVersion})
	}
	for _, f := range result.Failed {
		s.works.Delete(f.ID)
	}
	s.reportBatch("batch update works", result.Failed)
	return result, nil
}

// BatchDeleteWorks deletes each work independently.
func (s *Storage) BatchDeleteWorks(ctx context.Context, ids []string, hard bool) (*core.BatchResult[string], error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("batch delete works", "", err)
	}
	result := repos.Works.BatchDelete(ctx, ids, hard)
	s.works.BatchDelete(ids...)
	for _, id := range result.Succeeded {
		s.emit(events.WorkDeleted, id, map[string]any{"hard": hard})
	}
	s.reportBatch("batch delete works", result.Failed)
	return result, nil
}

// ExportWork encodes a verified work in format.
func (s *Storage) ExportWork(ctx context.Context, id string, format interchange.Format) ([]byte, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("export work", id, err)
	}
	data, err := repos.Works.Export(ctx, id, format)
	if err != nil {
		return nil, s.fail("export work", id, err)
	}
	return data, nil
}

// ImportWork parses data in format and stores it as a new work.
func (s *Storage) ImportWork(ctx context.Context, data []byte, format interchange.Format) (*core.Document, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("import work", "", err)
	}
	doc, err := repos.Works.Import(ctx, data, format)
	if err != nil {
		return nil, s.fail("import work", "", err)
	}
	s.cacheWork(doc)
	s.emit(events.WorkCreated, doc.ID, map[string]any{"imported": true})
	return doc, nil
}

// cacheWork stores a copy of a decrypted work.
func (s *Storage) cacheWork(doc *core.Document) {
	if doc == nil || doc.Content == nil {
		return
	}
	s.works.Set(doc.ID, doc.Clone())
}

// reportBatch logs and emits every per-item failure of a batch.
func (s *Storage) reportBatch(op string, failed []core.BatchFailure) {
	for _, f := range failed {
		s.fail(op, f.ID, f.Err)
	}
}
