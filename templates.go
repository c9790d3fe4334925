package docvault

import (
	"context"
	"log/slog"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/events"
	"github.com/poiesic/docvault/interchange"
	"github.com/poiesic/docvault/keys"
	"github.com/poiesic/docvault/storage"
)

// defaultTemplates are seeded into an empty template collection.
func defaultTemplates() []core.CreateTemplate {
	builtin := func(title, kind string, theme core.ThemeConfig, layout core.LayoutConfig, nodes ...core.Node) core.CreateTemplate {
		return core.CreateTemplate{
			CreateWork: core.CreateWork{
				Title:     title,
				Category:  "built-in",
				IsDefault: true,
				Content:   core.Content{Nodes: nodes},
			},
			TemplateType: kind,
			Theme:        theme,
			Layout:       layout,
		}
	}
	light := core.ThemeConfig{Name: "light", Primary: "#2f6fde", Background: "#ffffff", FontFamily: "sans-serif"}
	dark := core.ThemeConfig{Name: "dark", Primary: "#8ab4f8", Background: "#1e1e1e", FontFamily: "sans-serif"}

	return []core.CreateTemplate{
		builtin("Blank", "blank", light, core.LayoutConfig{Kind: "tree", NodeSpacing: 24, LevelSpacing: 48}),
		builtin("Mind map", "mindmap", light,
			core.LayoutConfig{Kind: "mindmap", NodeSpacing: 40, LevelSpacing: 120},
			core.Node{ID: "root", Text: "Central idea"},
			core.Node{ID: "branch-1", ParentID: "root", Text: "Branch", Level: 1},
			core.Node{ID: "branch-2", ParentID: "root", Text: "Branch", Level: 1},
		),
		builtin("Outline", "outline", light,
			core.LayoutConfig{Kind: "tree", NodeSpacing: 16, LevelSpacing: 32},
			core.Node{ID: "title", Text: "Title"},
			core.Node{ID: "section-1", ParentID: "title", Text: "Section", Level: 1},
		),
		builtin("Timeline", "timeline", dark,
			core.LayoutConfig{Kind: "timeline", NodeSpacing: 64, LevelSpacing: 40},
			core.Node{ID: "start", Text: "Start"},
			core.Node{ID: "end", Text: "End"},
		),
	}
}

// seedTemplates creates the built-in templates when none are stored. It is
// skipped when no key exists and none may be generated.
func seedTemplates(ctx context.Context, templates storage.TemplateRepository, manager *keys.Manager, logger *slog.Logger) error {
	n, err := templates.Count(ctx)
	if err != nil || n > 0 {
		return err
	}
	if _, err := manager.KeyForWrite(ctx); err != nil {
		logger.Warn("skipping template seeding", "error", err)
		return nil
	}
	result := templates.BatchCreate(ctx, defaultTemplates())
	if len(result.Failed) > 0 {
		return result.Failed[0].Err
	}
	logger.Info("seeded default templates", "count", len(result.Succeeded))
	return nil
}

// CreateTemplate encrypts and stores a new template.
func (s *Storage) CreateTemplate(ctx context.Context, dto core.CreateTemplate) (*core.Template, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("create template", "", err)
	}
	tpl, err := repos.Templates.Create(ctx, dto)
	if err != nil {
		return nil, s.fail("create template", "", err)
	}
	s.cacheTemplate(tpl)
	s.emit(events.TemplateCreated, tpl.ID, nil)
	return tpl, nil
}

// GetTemplate returns a verified, decrypted template.
func (s *Storage) GetTemplate(ctx context.Context, id string) (*core.Template, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("get template", id, err)
	}
	if tpl, ok := s.templates.Get(id); ok {
		return tpl.Clone(), nil
	}
	tpl, err := repos.Templates.Get(ctx, id)
	if err != nil {
		return nil, s.fail("get template", id, err)
	}
	s.cacheTemplate(tpl)
	return tpl, nil
}

// UpdateTemplate applies the present fields of patch.
func (s *Storage) UpdateTemplate(ctx context.Context, id string, patch core.TemplatePatch) (*core.Template, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("update template", id, err)
	}
	tpl, err := repos.Templates.Update(ctx, id, patch)
	if err != nil {
		s.templates.Delete(id)
		return nil, s.fail("update template", id, err)
	}
	s.cacheTemplate(tpl)
	s.emit(events.TemplateUpdated, id, map[string]any{"dataVersion": tpl.DataVersion})
	return tpl, nil
}

// DeleteTemplate soft- or hard-deletes a template. Built-in templates
// cannot be hard-deleted.
func (s *Storage) DeleteTemplate(ctx context.Context, id string, hard bool) (bool, error) {
	repos, err := s.repositories()
	if err != nil {
		return false, s.fail("delete template", id, err)
	}
	ok, err := repos.Templates.Delete(ctx, id, hard)
	s.templates.Delete(id)
	if err != nil {
		return false, s.fail("delete template", id, err)
	}
	s.emit(events.TemplateDeleted, id, map[string]any{"hard": hard})
	return ok, nil
}

// RestoreTemplate takes a template out of the trash.
func (s *Storage) RestoreTemplate(ctx context.Context, id string) (*core.Template, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("restore template", id, err)
	}
	tpl, err := repos.Templates.Restore(ctx, id)
	if err != nil {
		return nil, s.fail("restore template", id, err)
	}
	s.cacheTemplate(tpl)
	s.emit(events.TemplateRestored, id, nil)
	return tpl, nil
}

// ListTemplates filters, sorts and paginates templates.
func (s *Storage) ListTemplates(ctx context.Context, opts core.ListOptions) (*core.ListResult[*core.Template], error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("list templates", "", err)
	}
	result, err := repos.Templates.List(ctx, opts)
	if err != nil {
		return nil, s.fail("list templates", "", err)
	}
	s.templates.BatchDelete(result.Corrupted...)
	return result, nil
}

// CopyTemplate creates a writable, non-default template from id.
func (s *Storage) CopyTemplate(ctx context.Context, id, title string) (*core.Template, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("copy template", id, err)
	}
	tpl, err := repos.Templates.Copy(ctx, id, title)
	if err != nil {
		return nil, s.fail("copy template", id, err)
	}
	s.cacheTemplate(tpl)
	s.emit(events.TemplateCreated, tpl.ID, map[string]any{"source": id})
	return tpl, nil
}

// BatchCreateTemplates creates each template independently.
func (s *Storage) BatchCreateTemplates(ctx context.Context, dtos []core.CreateTemplate) (*core.BatchResult[*core.Template], error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("batch create templates", "", err)
	}
	result := repos.Templates.BatchCreate(ctx, dtos)
	for _, tpl := range result.Succeeded {
		s.cacheTemplate(tpl)
		s.emit(events.TemplateCreated, tpl.ID, nil)
	}
	s.reportBatch("batch create templates", result.Failed)
	return result, nil
}

// BatchUpdateTemplates patches each template independently.
func (s *Storage) BatchUpdateTemplates(ctx context.Context, items []storage.TemplateUpdateItem) (*core.BatchResult[*core.Template], error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("batch update templates", "", err)
	}
	result := repos.Templates.BatchUpdate(ctx, items)
	for _, tpl := range result.Succeeded {
		s.cacheTemplate(tpl)
		s.emit(events.TemplateUpdated, tpl.ID, map[string]any{"dataVersion": tpl.DataVersion})
	}
	for _, f := range result.Failed {
		s.templates.Delete(f.ID)
	}
	s.reportBatch("batch update templates", result.Failed)
	return result, nil
}

// BatchDeleteTemplates deletes each template independently.
func (s *Storage) BatchDeleteTemplates(ctx context.Context, ids []string, hard bool) (*core.BatchResult[string], error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("batch delete templates", "", err)
	}
	result := repos.Templates.BatchDelete(ctx, ids, hard)
	s.templates.BatchDelete(ids...)
	for _, id := range result.Succeeded {
		s.emit(events.TemplateDeleted, id, map[string]any{"hard": hard})
	}
	s.reportBatch("batch delete templates", result.Failed)
	return result, nil
}

// ExportTemplate encodes a decrypted template in format.
func (s *Storage) ExportTemplate(ctx context.Context, id string, format interchange.Format) ([]byte, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("export template", id, err)
	}
	data, err := repos.Templates.Export(ctx, id, format)
	if err != nil {
		return nil, s.fail("export template", id, err)
	}
	return data, nil
}

// ImportTemplate parses data in format and stores it as a new template.
func (s *Storage) ImportTemplate(ctx context.Context, data []byte, format interchange.Format) (*core.Template, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("import template", "", err)
	}
	tpl, err := repos.Templates.Import(ctx, data, format)
	if err != nil {
		return nil, s.fail("import template", "", err)
	}
	s.cacheTemplate(tpl)
	s.emit(events.TemplateCreated, tpl.ID, map[string]any{"imported": true})
	return tpl, nil
}

// IncrementTemplateUsage bumps the usage counter of a template.
func (s *Storage) IncrementTemplateUsage(ctx context.Context, id string) (*core.Template, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("increment template usage", id, err)
	}
	tpl, err := repos.Templates.IncrementUsage(ctx, id)
	if err != nil {
		return nil, s.fail("increment template usage", id, err)
	}
	s.cacheTemplate(tpl)
	s.emit(events.TemplateUpdated, id, map[string]any{"usageCount": tpl.UsageCount})
	return tpl, nil
}

// GetTemplatesByType returns active templates of templateType without
// their content.
func (s *Storage) GetTemplatesByType(ctx context.Context, templateType string) ([]*core.Template, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("templates by type", "", err)
	}
	tpls, err := repos.Templates.GetByType(ctx, templateType)
	if err != nil {
		return nil, s.fail("templates by type", "", err)
	}
	return tpls, nil
}

func (s *Storage) cacheTemplate(tpl *core.Template) {
	if tpl == nil || tpl.Content == nil {
		return
	}
	s.templates.Set(tpl.ID, tpl.Clone())
}
