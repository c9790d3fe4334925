package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content *Content
		wantErr error
	}{
		{name: "nil content", content: nil},
		{name: "empty content", content: &Content{}},
		{name: "valid nodes", content: &Content{Nodes: nodes("a", "b")}},
		{name: "detached parent allowed", content: &Content{Nodes: []Node{{ID: "a", ParentID: "missing"}}}},
		{name: "empty id", content: &Content{Nodes: []Node{{ID: "a"}, {ID: ""}}}, wantErr: ErrEmptyNodeID},
		{name: "duplicate id", content: &Content{Nodes: nodes("a", "a")}, wantErr: ErrDuplicateNodeID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.content)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestValidatePatch(t *testing.T) {
	tests := []struct {
		name    string
		patch   WorkPatch
		wantErr error
	}{
		{name: "empty patch", patch: WorkPatch{}},
		{name: "title", patch: WorkPatch{Title: Some("New")}},
		{name: "blank title", patch: WorkPatch{Title: Some("  ")}, wantErr: ErrEmptyTitle},
		{name: "content and ciphertext", patch: WorkPatch{Content: Some(Content{}), EncryptedData: Some("x")}, wantErr: ErrInvalidDocument},
		{name: "invalid content", patch: WorkPatch{Content: Some(Content{Nodes: nodes("a", "a")})}, wantErr: ErrDuplicateNodeID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePatch(tt.patch)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateCreateVersion(t *testing.T) {
	snapshot := &Content{Nodes: nodes("a")}

	assert.ErrorIs(t, ValidateCreateVersion(nil), ErrInvalidVersion)
	assert.ErrorIs(t, ValidateCreateVersion(&CreateVersion{Snapshot: snapshot}), ErrInvalidVersion)
	assert.ErrorIs(t, ValidateCreateVersion(&CreateVersion{WorkID: "w"}), ErrInvalidVersion)
	assert.ErrorIs(t, ValidateCreateVersion(&CreateVersion{WorkID: "w", Snapshot: snapshot, Operation: "rewind"}), ErrInvalidVersion)

	dto := &CreateVersion{WorkID: "w", Snapshot: snapshot}
	require.NoError(t, ValidateCreateVersion(dto))
	assert.Equal(t, OperationManualSave, dto.Operation)

	dto = &CreateVersion{WorkID: "w", Diff: &Diff{}, Operation: OperationAutoSave}
	require.NoError(t, ValidateCreateVersion(dto))
	assert.Equal(t, OperationAutoSave, dto.Operation)
}

func TestNormalizeTags(t *testing.T) {
	assert.Nil(t, NormalizeTags(nil))
	assert.Equal(t, []string{"go", "notes"}, NormalizeTags([]string{" go", "", "notes", "go "}))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{ErrNotInitialized, KindNotInitialized},
		{fmt.Errorf("get w1: %w", ErrNotFound), KindNotFound},
		{ErrReadOnly, KindReadOnly},
		{ErrProtected, KindReadOnly},
		{ErrKeyMissing, KindCrypto},
		{fmt.Errorf("open: %w", ErrDecryptionFailed), KindCrypto},
		{ErrIntegrity, KindIntegrity},
		{ErrTransient, KindTransient},
		{fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyTitle), KindValidation},
		{errors.New("caller failure"), KindTransaction},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "error %v", tt.err)
	}
}
