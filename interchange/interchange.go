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


// Package interchange converts documents to and from portable export
// formats. Exports carry plaintext content and must only be produced
// after a verified decrypting read.
package interchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/docvault/core"
	"gopkg.in/yaml.v2"
)

// Format is an export encoding.
type Format string

const (
	// FormatJSON is the structured format.
	FormatJSON Format = "json"
	// FormatYAML is the external interchange format.
	FormatYAML Format = "yaml"
)

// FormatVersion is written into every export.
const FormatVersion = 1

// ParseFormat resolves a format name, case-insensitively.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "structured":
		return FormatJSON, nil
	case "interchange":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, name)
	}
}

// TemplateInfo holds the template-only fields of an export.
type TemplateInfo struct {
	TemplateType string            `json:"templateType" yaml:"templateType"`
	Theme        core.ThemeConfig  `json:"theme" yaml:"theme"`
	Layout       core.LayoutConfig `json:"layout" yaml:"layout"`
}

// Document is the portable form of a work or template.
type Document struct {
	FormatVersion int           `json:"formatVersion" yaml:"formatVersion"`
	Title         string        `json:"title" yaml:"title"`
	Category      string        `json:"category,omitempty" yaml:"category,omitempty"`
	Tags          []string      `json:"tags,omitempty" yaml:"tags,omitempty"`
	Starred       bool          `json:"starred,omitempty" yaml:"starred,omitempty"`
	CreatedAt     time.Time     `json:"createdAt" yaml:"createdAt"`
	LastModified  time.Time     `json:"lastModified" yaml:"lastModified"`
	Content       core.Content  `json:"content" yaml:"content"`
	Template      *TemplateInfo `json:"template,omitempty" yaml:"template,omitempty"`
}

// FromDocument builds an export from a decrypted document.
func FromDocument(doc *core.Document) (*Document, error) {
	if doc == nil || doc.Content == nil {
		return nil, fmt.Errorf("%w: export requires decrypted content", core.ErrInvalidDocument)
	}
	return &Document{
		FormatVersion: FormatVersion,
		Title:         doc.Title,
		Category:      doc.Category,
		Tags:          doc.Tags,
		Starred:       doc.Starred,
		CreatedAt:     doc.CreatedAt,
		LastModified:  doc.LastModified,
		Content:       doc.Content.Clone(),
	}, nil
}

// FromTemplate builds an export from a decrypted template.
func FromTemplate(tpl *core.Template) (*Document, error) {
	if tpl == nil {
		return nil, fmt.Errorf("%w: template is nil", core.ErrInvalidDocument)
	}
	out, err := FromDocument(&tpl.Document)
	if err != nil {
		return nil, err
	}
	out.Template = &TemplateInfo{
		TemplateType: tpl.TemplateType,
		Theme:        tpl.Theme,
		Layout:       tpl.Layout,
	}
	return out, nil
}

// CreateWork converts an import into a creation request.
func (d *Document) CreateWork() core.CreateWork {
	return core.CreateWork{
		Title:    d.Title,
		Category: d.Category,
		Tags:     d.Tags,
		Starred:  d.Starred,
		Content:  d.Content,
	}
}

// CreateTemplate converts an import into a template creation request.
func (d *Document) CreateTemplate() core.CreateTemplate {
	dto := core.CreateTemplate{CreateWork: d.CreateWork()}
	if d.Template != nil {
		dto.TemplateType = d.Template.TemplateType
		dto.Theme = d.Template.Theme
		dto.Layout = d.Template.Layout
	}
	return dto
}

// Marshal encodes doc in format.
func Marshal(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatYAML:
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, format)
	}
}

// Unmarshal decodes and validates an export encoded in format.
func Unmarshal(data []byte, format Format) (*Document, error) {
	var doc Document
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", core.ErrInvalidDocument, format, err)
	}
	if doc.FormatVersion > FormatVersion {
		return nil, fmt.Errorf("%w: format version %d is newer than %d", core.ErrUnsupportedFormat, doc.FormatVersion, FormatVersion)
	}
	if err := core.ValidateContent(&doc.Content); err != nil {
		return nil, err
	}
	return &doc, nil
}
