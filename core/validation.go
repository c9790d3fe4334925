// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
	"strings"
)

// DefaultTitle is used when a work is created without a title.
const DefaultTitle = "Untitled"

// ValidateContent validates a document body.
//
// Validation rules:
//   - every node has a non-empty id
//   - node ids are unique
//
// NOT validated:
//   - ParentID references (editors may persist detached nodes)
func ValidateContent(content *Content) error {
	if content == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(content.Nodes))
	for i, n := range content.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: %w at index %d", ErrInvalidDocument, ErrEmptyNodeID, i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("%w: %w %q", ErrInvalidDocument, ErrDuplicateNodeID, n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

// ValidatePatch validates the present fields of a work patch.
func ValidatePatch(p WorkPatch) error {
	if title, ok := p.Title.Get(); ok && strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyTitle)
	}
	if p.Content.IsSet() && p.EncryptedData.IsSet() {
		return fmt.Errorf("%w: content and encrypted data are mutually exclusive", ErrInvalidDocument)
	}
	if content, ok := p.Content.Get(); ok {
		return ValidateContent(&content)
	}
	return nil
}

// ValidateCreateVersion validates a history version request.
func ValidateCreateVersion(dto *CreateVersion) error {
	if dto == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidVersion)
	}
	if dto.WorkID == "" {
		return fmt.Errorf("%w: work id is required", ErrInvalidVersion)
	}
	if dto.Snapshot == nil && dto.Diff == nil {
		return fmt.Errorf("%w: snapshot or diff is required", ErrInvalidVersion)
	}
	switch dto.Operation {
	case OperationAutoSave, OperationManualSave, OperationUndo, OperationRedo, OperationRestore:
	case "":
		dto.Operation = OperationManualSave
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidVersion, dto.Operation)
	}
	return ValidateContent(dto.Snapshot)
}

// NormalizeTags trims, drops empties and de-duplicates tags, keeping order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
