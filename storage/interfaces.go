package storage

import (
	"context"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/interchange"
)

// WorkRepository provides operations for managing works.
// Reads that return Content have decrypted the payload and verified its
// checksum.
type WorkRepository interface {
	// Create encrypts the content with the active key, computes its checksum
	// and stores a new work with DataVersion 1.
	Create(ctx context.Context, dto core.CreateWork) (*core.Document, error)

	// Get retrieves and decrypts a work.
	// Returns ErrNotFound if the work doesn't exist and core.ErrIntegrity if
	// the payload fails verification.
	Get(ctx context.Context, id string) (*core.Document, error)

	// Update applies the present fields of patch.
	// Returns core.ErrReadOnly for read-only works.
	Update(ctx context.Context, id string, patch core.WorkPatch) (*core.Document, error)

	// Delete soft-deletes a work, or removes it with its shards and history
	// when hard is true. Soft-deleting a deleted work succeeds without change.
	Delete(ctx context.Context, id string, hard bool) (bool, error)

	// Restore clears the deleted flag. Restoring an active work is a no-op.
	Restore(ctx context.Context, id string) (*core.Document, error)

	// List filters, sorts and paginates works. Items on the returned page are
	// verified; corrupted items are left out and reported by id.
	List(ctx context.Context, opts core.ListOptions) (*core.ListResult[*core.Document], error)

	// Copy creates a new work with the content of id and the given title.
	Copy(ctx context.Context, id, title string) (*core.Document, error)

	// BatchCreate creates each work independently, collecting failures.
	BatchCreate(ctx context.Context, dtos []core.CreateWork) *core.BatchResult[*core.Document]

	// BatchUpdate updates each work independently, collecting failures.
	BatchUpdate(ctx context.Context, items []core.BatchUpdateItem) *core.BatchResult[*core.Document]

	// BatchDelete deletes each work independently, collecting failures.
	BatchDelete(ctx context.Context, ids []string, hard bool) *core.BatchResult[string]

	// Export decrypts a work and encodes it in format.
	Export(ctx context.Context, id string, format interchange.Format) ([]byte, error)

	// Import parses data in format and creates a work from it.
	Import(ctx context.Context, data []byte, format interchange.Format) (*core.Document, error)
}

// TemplateRepository provides operations for managing templates.
type TemplateRepository interface {
	Create(ctx context.Context, dto core.CreateTemplate) (*core.Template, error)
	Get(ctx context.Context, id string) (*core.Template, error)
	Update(ctx context.Context, id string, patch core.TemplatePatch) (*core.Template, error)

	// Delete behaves like WorkRepository.Delete. Default templates cannot be
	// hard-deleted and return core.ErrProtected.
	Delete(ctx context.Context, id string, hard bool) (bool, error)

	Restore(ctx context.Context, id string) (*core.Template, error)
	List(ctx context.Context, opts core.ListOptions) (*core.ListResult[*core.Template], error)

	// Copy creates a non-default, writable template from id with a new title.
	Copy(ctx context.Context, id, title string) (*core.Template, error)

	BatchCreate(ctx context.Context, dtos []core.CreateTemplate) *core.BatchResult[*core.Template]
	BatchUpdate(ctx context.Context, items []TemplateUpdateItem) *core.BatchResult[*core.Template]
	BatchDelete(ctx context.Context, ids []string, hard bool) *core.BatchResult[string]
	Export(ctx context.Context, id string, format interchange.Format) ([]byte, error)
	Import(ctx context.Context, data []byte, format interchange.Format) (*core.Template, error)

	// IncrementUsage bumps the usage counter without touching the payload.
	IncrementUsage(ctx context.Context, id string) (*core.Template, error)

	// GetByType returns active templates of templateType, without content.
	GetByType(ctx context.Context, templateType string) ([]*core.Template, error)

	// Count returns the number of stored templates, deleted included.
	Count(ctx context.Context) (int, error)
}

// TemplateUpdateItem pairs a template id with its patch.
type TemplateUpdateItem struct {
	ID    string
	Patch core.TemplatePatch
}

// HistoryRepository provides operations for managing history versions.
// Versions are append-only; version numbers per work start at 1 and never
// repeat.
type HistoryRepository interface {
	// CreateVersion appends a version with the next number for dto.WorkID.
	CreateVersion(ctx context.Context, dto core.CreateVersion) (*core.HistoryVersion, error)

	// GetVersions returns a page of versions ordered by ascending number.
	GetVersions(ctx context.Context, workID string, page, pageSize int) (*core.ListResult[*core.HistoryVersion], error)

	// GetLatestVersion returns the highest numbered version.
	// Returns ErrNotFound when the work has no versions.
	GetLatestVersion(ctx context.Context, workID string) (*core.HistoryVersion, error)

	// GetVersion returns a single version by id.
	GetVersion(ctx context.Context, workID, versionID string) (*core.HistoryVersion, error)

	// GetSnapshot reconstructs and verifies the content of a version.
	GetSnapshot(ctx context.Context, workID, versionID string) (*core.Content, error)

	// RestoreVersion writes the version's content back to the work and
	// appends a restore version. The source version is not modified.
	RestoreVersion(ctx context.Context, workID, versionID string) (*core.Document, error)

	// CleanupOldVersions keeps the newest keep versions and returns the
	// number deleted.
	CleanupOldVersions(ctx context.Context, workID string, keep int) (int, error)

	// DeleteVersionsByWorkID removes every version of a work.
	DeleteVersionsByWorkID(ctx context.Context, workID string) (int, error)
}

// ShardRepository provides operations for managing shards.
// Shard payloads are opaque ciphertext; reads that decrypt verify checksums.
type ShardRepository interface {
	// GenerateShards replaces the shards of workID with freshly encrypted
	// partitions of nodes.
	GenerateShards(ctx context.Context, workID string, nodes []core.Node) ([]*core.Shard, error)

	Save(ctx context.Context, shards ...*core.Shard) error
	Get(ctx context.Context, workID, shardID string) (*core.Shard, error)

	// GetByWorkID returns the shards of a work ordered by range start.
	GetByWorkID(ctx context.Context, workID string) ([]*core.Shard, error)

	// Update replaces an existing shard. Returns ErrNotFound if absent.
	Update(ctx context.Context, shard *core.Shard) error

	Delete(ctx context.Context, workID, shardID string) error
	DeleteByWorkID(ctx context.Context, workID string) (int, error)
	Count(ctx context.Context, workID string) (int, error)

	// CleanupOldShards keeps the keep most recently created shards.
	CleanupOldShards(ctx context.Context, workID string, keep int) (int, error)

	// MergedNodes decrypts, verifies and concatenates the shards of a work.
	// Shards that fail verification are left out and their ids returned.
	MergedNodes(ctx context.Context, workID string) ([]core.Node, []string, error)
}
