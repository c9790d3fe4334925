package docvault

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/keys"
)

// KeySetup is the result of an explicit key setup. The backup code and salt
// are needed to recover the key on another device.
type KeySetup struct {
	BackupCode string
	Salt       []byte
}

// SetupKey derives the encryption key from passphrase, or from a freshly
// generated backup code when passphrase is empty. It refuses to replace an
// existing key.
func (s *Storage) SetupKey(ctx context.Context, passphrase string) (*KeySetup, error) {
	switch _, err := s.keys.KeyForRead(ctx); {
	case err == nil:
		return nil, s.fail("setup key", "", fmt.Errorf("%w: a key already exists", core.ErrKeyDerivation))
	case !errors.Is(err, core.ErrKeyMissing):
		return nil, s.fail("setup key", "", err)
	}
	setup := &KeySetup{BackupCode: passphrase}
	if setup.BackupCode == "" {
		code, err := keys.GenerateBackupCode()
		if err != nil {
			return nil, s.fail("setup key", "", fmt.Errorf("%w: %w", core.ErrKeyDerivation, err))
		}
		setup.BackupCode = code
	}
	_, salt, err := s.keys.DeriveKey(ctx, setup.BackupCode, nil)
	if err != nil {
		return nil, s.fail("setup key", "", err)
	}
	setup.Salt = salt
	return setup, nil
}

// RecoverKey re-derives the key from a backup code and salt, replacing any
// key held for this device.
func (s *Storage) RecoverKey(ctx context.Context, backupCode string, salt []byte) error {
	if len(salt) == 0 {
		return s.fail("recover key", "", fmt.Errorf("%w: salt is required", core.ErrKeyDerivation))
	}
	if _, _, err := s.keys.DeriveKey(ctx, backupCode, salt); err != nil {
		return s.fail("recover key", "", err)
	}
	s.ClearCache()
	return nil
}

// HasKey reports whether an encryption key is available.
func (s *Storage) HasKey(ctx context.Context) bool {
	_, err := s.keys.KeyForRead(ctx)
	return err == nil
}
