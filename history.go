package docvault

import (
	"context"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/events"
)

// CreateVersion appends a history version to a work.
func (s *Storage) CreateVersion(ctx context.Context, dto core.CreateVersion) (*core.HistoryVersion, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("create version", dto.WorkID, err)
	}
	v, err := repos.History.CreateVersion(ctx, dto)
	if err != nil {
		return nil, s.fail("create version", dto.WorkID, err)
	}
	s.emit(events.VersionCreated, dto.WorkID, map[string]any{"version": v.VersionNumber, "versionId": v.ID})
	return v, nil
}

// GetVersions returns a page of versions in ascending number order.
func (s *Storage) GetVersions(ctx context.Context, workID string, page, pageSize int) (*core.ListResult[*core.HistoryVersion], error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("get versions", workID, err)
	}
	result, err := repos.History.GetVersions(ctx, workID, page, pageSize)
	if err != nil {
		return nil, s.fail("get versions", workID, err)
	}
	return result, nil
}

// GetLatestVersion returns the highest numbered readable version of workID.
func (s *Storage) GetLatestVersion(ctx context.Context, workID string) (*core.HistoryVersion, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("latest version", workID, err)
	}
	v, err := repos.History.GetLatestVersion(ctx, workID)
	if err != nil {
		return nil, s.fail("latest version", workID, err)
	}
	return v, nil
}

// GetVersion returns the metadata of one version of workID.
func (s *Storage) GetVersion(ctx context.Context, workID, versionID string) (*core.HistoryVersion, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("get version", versionID, err)
	}
	v, err := repos.History.GetVersion(ctx, workID, versionID)
	if err != nil {
		return nil, s.fail("get version", versionID, err)
	}
	return v, nil
}

// GetSnapshot returns the verified content of a version.
func (s *Storage) GetSnapshot(ctx context.Context, workID, versionID string) (*core.Content, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("get snapshot", versionID, err)
	}
	content, err := repos.History.GetSnapshot(ctx, workID, versionID)
	if err != nil {
		return nil, s.fail("get snapshot", versionID, err)
	}
	return content, nil
}

// RestoreVersion makes the content of versionID current again and records
// the restore as a new version.
func (s *Storage) RestoreVersion(ctx context.Context, workID, versionID string) (*core.Document, error) {
	repos, err := s.repositories()
	if err != nil {
		return nil, s.fail("restore version", workID, err)
	}
	doc, err := repos.History.RestoreVersion(ctx, workID, versionID)
	if err != nil {
		s.works.Delete(workID)
		return nil, s.fail("restore version", workID, err)
	}
	s.cacheWork(doc)
	s.emit(events.WorkUpdated, workID, map[string]any{"dataVersion": doc.DataVersion, "restoredFrom": versionID})
	if latest, err := repos.History.GetLatestVersion(ctx, workID); err == nil {
		s.emit(events.VersionCreated, workID, map[string]any{"version": latest.VersionNumber, "versionId": latest.ID})
	}
	return doc, nil
}

// CleanupOldVersions keeps the newest keep versions of a work and returns
// how many were deleted.
func (s *Storage) CleanupOldVersions(ctx context.Context, workID string, keep int) (int, error) {
	repos, err := s.repositories()
	if err != nil {
		return 0, s.fail("cleanup versions", workID, err)
	}
	n, err := repos.History.CleanupOldVersions(ctx, workID, keep)
	if err != nil {
		return 0, s.fail("cleanup versions", workID, err)
	}
	if n > 0 {
		s.logger.Debug("cleaned up versions", "workId", workID, "deleted", n, "kept", keep)
	}
	return n, nil
}

// DeleteVersions removes the whole history of workID and returns the
// number of versions removed.
func (s *Storage) DeleteVersions(ctx context.Context, workID string) (int, error) {
	repos, err := s.repositories()
	if err != nil {
		return 0, s.fail("delete versions", workID, err)
	}
	n, err := repos.History.DeleteVersionsByWorkID(ctx, workID)
	if err != nil {
		return 0, s.fail("delete versions", workID, err)
	}
	return n, nil
}
