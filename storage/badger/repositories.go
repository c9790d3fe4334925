package badger

import "fmt"

// Repositories bundles the repositories sharing one backend.
type Repositories struct {
	Backend   *Backend
	Works     *WorkRepository
	Templates *TemplateRepository
	History   *HistoryRepository
	Shards    *ShardRepository
}

// NewRepositories creates every repository over backend.
func NewRepositories(backend *Backend, deps Deps) (*Repositories, error) {
	works, err := NewWorkRepository(backend, deps)
	if err != nil {
		return nil, fmt.Errorf("work repository: %w", err)
	}
	templates, err := NewTemplateRepository(backend, deps)
	if err != nil {
		return nil, fmt.Errorf("template repository: %w", err)
	}
	history, err := NewHistoryRepository(backend, deps)
	if err != nil {
		return nil, fmt.Errorf("history repository: %w", err)
	}
	works.store.hardDeleted = history.forget

	shards, err := NewShardRepository(backend, deps)
	if err != nil {
		return nil, fmt.Errorf("shard repository: %w", err)
	}
	return &Repositories{
		Backend:   backend,
		Works:     works,
		Templates: templates,
		History:   history,
		Shards:    shards,
	}, nil
}
