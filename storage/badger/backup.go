package badger

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/ulikunitz/xz"
)

// maxPendingWrites bounds the writes buffered while loading a backup.
const maxPendingWrites = 256

// Backup writes an xz-compressed full backup of the database to w and
// returns the version the backup is consistent with. Payloads stay
// encrypted in the backup.
func (b *Backend) Backup(ctx context.Context, w io.Writer) (uint64, error) {
	db, err := b.database()
	if err != nil {
		return 0, err
	}
	zw, err := xz.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("backup: %w", err)
	}
	version, err := db.Backup(zw, 0)
	if err != nil {
		zw.Close()
		return 0, fmt.Errorf("backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("backup: %w", err)
	}
	b.logger.Info("database backed up", "version", version)
	return version, nil
}

// Restore replaces every record with the contents of a backup written by
// Backup and re-applies schema migrations. The backup is fully decompressed
// before anything is dropped, so an unreadable backup leaves the database
// as it was. If loading fails midway the previous contents are reloaded.
func (b *Backend) Restore(ctx context.Context, r io.Reader) error {
	db, err := b.database()
	if err != nil {
		return err
	}

	staged, err := stageBackup(r)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	defer removeTemp(staged)

	current, err := os.CreateTemp("", "docvault-current-*")
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	defer removeTemp(current)
	if _, err := db.Backup(current, 0); err != nil {
		return fmt.Errorf("restore: snapshot current data: %w", err)
	}

	if err := loadInto(db, staged); err != nil {
		if rbErr := loadInto(db, current); rbErr != nil {
			b.logger.Error("restore rollback failed", "error", rbErr)
			return fmt.Errorf("restore: %w (rollback failed: %v)", err, rbErr)
		}
		return fmt.Errorf("restore: %w", err)
	}
	if err := b.migrate(ctx); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	b.logger.Info("database restored from backup")
	return nil
}

// stageBackup decompresses an xz backup stream into a temporary file. A
// truncated or corrupt stream fails here.
func stageBackup(r io.Reader) (*os.File, error) {
	zr, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp("", "docvault-restore-*")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, zr); err != nil {
		removeTemp(f)
		return nil, fmt.Errorf("read backup: %w", err)
	}
	return f, nil
}

// loadInto replaces the contents of db with the dump in f.
func loadInto(db *badger.DB, f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := db.DropAll(); err != nil {
		return fmt.Errorf("drop all: %w", err)
	}
	return db.Load(f, maxPendingWrites)
}

func removeTemp(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}
