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


package storage

import (
	"fmt"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/docvault/core"
)

// recordVersion prefixes every encoded record so older layouts can be
// migrated in place.
const recordVersion = 1

// recordWriter appends MUS-encoded fields to a buffer.
type recordWriter struct {
	buf []byte
}

func newRecordWriter() *recordWriter {
	w := &recordWriter{buf: make([]byte, 0, 256)}
	w.Int(recordVersion)
	return w
}

func (w *recordWriter) grow(n int) []byte {
	l := len(w.buf)
	w.buf = slices.Grow(w.buf, n)[:l+n]
	return w.buf[l:]
}

func (w *recordWriter) String(v string) {
	ord.String.Marshal(v, w.grow(ord.String.Size(v)))
}

func (w *recordWriter) Int(v int) {
	varint.Int.Marshal(v, w.grow(varint.Int.Size(v)))
}

func (w *recordWriter) Int64(v int64) {
	varint.Int64.Marshal(v, w.grow(varint.Int64.Size(v)))
}

func (w *recordWriter) Bool(v bool) {
	ord.Bool.Marshal(v, w.grow(ord.Bool.Size(v)))
}

// Time stores microseconds since the epoch; the zero time is stored as 0.
func (w *recordWriter) Time(t time.Time) {
	if t.IsZero() {
		w.Int64(0)
		return
	}
	w.Int64(t.UnixMicro())
}

func (w *recordWriter) Strings(v []string) {
	w.Int(len(v))
	for _, s := range v {
		w.String(s)
	}
}

func (w *recordWriter) Bytes() []byte {
	return w.buf
}

// recordReader decodes fields written by recordWriter. The first error is
// sticky; later reads return zero values.
type recordReader struct {
	bs  []byte
	err error
}

func newRecordReader(data []byte) *recordReader {
	r := &recordReader{bs: data}
	if len(data) == 0 {
		r.err = ErrTruncatedData
		return r
	}
	if v := r.Int(); r.err == nil && v != recordVersion {
		r.err = fmt.Errorf("%w: %d", ErrUnknownRecordVersion, v)
	}
	return r
}

func (r *recordReader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
}

func (r *recordReader) String() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs)
	if err != nil {
		r.fail(err)
		return ""
	}
	r.bs = r.bs[n:]
	return v
}

func (r *recordReader) Int() int {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(r.bs)
	if err != nil {
		r.fail(err)
		return 0
	}
	r.bs = r.bs[n:]
	return v
}

func (r *recordReader) Int64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs)
	if err != nil {
		r.fail(err)
		return 0
	}
	r.bs = r.bs[n:]
	return v
}

func (r *recordReader) Bool() bool {
	if r.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(r.bs)
	if err != nil {
		r.fail(err)
		return false
	}
	r.bs = r.bs[n:]
	return v
}

func (r *recordReader) Time() time.Time {
	us := r.Int64()
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func (r *recordReader) Strings() []string {
	n := r.Int()
	if r.err != nil || n == 0 {
		return nil
	}
	// every string takes at least one byte
	if n < 0 || n > len(r.bs) {
		r.fail(ErrTruncatedData)
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = r.String()
	}
	return out
}

// Err returns the first decoding error.
func (r *recordReader) Err() error {
	return r.err
}

func writeDocument(w *recordWriter, d *core.Document) {
	w.String(d.ID)
	w.String(d.Title)
	w.String(d.Category)
	w.Strings(d.Tags)
	w.Bool(d.Starred)
	w.Int(d.NodeCount)
	w.Time(d.CreatedAt)
	w.Time(d.LastModified)
	w.Int(d.DataVersion)
	w.String(d.Checksum)
	w.String(d.EncryptedData)
	w.Bool(d.IsDeleted)
	w.Time(d.InTrashSince)
	w.Bool(d.IsDefault)
	w.Bool(d.IsReadonly)
	w.Bool(d.Sharded)
}

func readDocument(r *recordReader, d *core.Document) {
	d.ID = r.String()
	d.Title = r.String()
	d.Category = r.String()
	d.Tags = r.Strings()
	d.Starred = r.Bool()
	d.NodeCount = r.Int()
	d.CreatedAt = r.Time()
	d.LastModified = r.Time()
	d.DataVersion = r.Int()
	d.Checksum = r.String()
	d.EncryptedData = r.String()
	d.IsDeleted = r.Bool()
	d.InTrashSince = r.Time()
	d.IsDefault = r.Bool()
	d.IsReadonly = r.Bool()
	d.Sharded = r.Bool()
}

// MarshalDocument serializes a Document to bytes. Content is never encoded.
func MarshalDocument(d *core.Document) []byte {
	w := newRecordWriter()
	writeDocument(w, d)
	return w.Bytes()
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	r := newRecordReader(data)
	var d core.Document
	readDocument(r, &d)
	if err := r.Err(); err != nil {
		return nil, err
	}
	return &d, nil
}

// MarshalTemplate serializes a Template to bytes. Content is never encoded.
func MarshalTemplate(t *core.Template) []byte {
	w := newRecordWriter()
	writeDocument(w, &t.Document)
	w.String(t.TemplateType)
	w.String(t.Theme.Name)
	w.String(t.Theme.Primary)
	w.String(t.Theme.Background)
	w.String(t.Theme.FontFamily)
	w.String(t.Layout.Kind)
	w.Int(t.Layout.NodeSpacing)
	w.Int(t.Layout.LevelSpacing)
	w.Int(t.UsageCount)
	return w.Bytes()
}

// UnmarshalTemplate deserializes a Template from bytes.
func UnmarshalTemplate(data []byte) (*core.Template, error) {
	r := newRecordReader(data)
	var t core.Template
	readDocument(r, &t.Document)
	t.TemplateType = r.String()
	t.Theme.Name = r.String()
	t.Theme.Primary = r.String()
	t.Theme.Background = r.String()
	t.Theme.FontFamily = r.String()
	t.Layout.Kind = r.String()
	t.Layout.NodeSpacing = r.Int()
	t.Layout.LevelSpacing = r.Int()
	t.UsageCount = r.Int()
	if err := r.Err(); err != nil {
		return nil, err
	}
	return &t, nil
}

// MarshalHistoryVersion serializes a HistoryVersion to bytes.
func MarshalHistoryVersion(v *core.HistoryVersion) []byte {
	w := newRecordWriter()
	w.String(v.ID)
	w.String(v.WorkID)
	w.Int(v.VersionNumber)
	w.String(v.SnapshotData)
	w.String(v.DiffData)
	w.String(v.Checksum)
	w.Int(v.NodeCount)
	w.Time(v.CreatedAt)
	w.String(string(v.Operation))
	w.String(v.Description)
	return w.Bytes()
}

// UnmarshalHistoryVersion deserializes a HistoryVersion from bytes.
func UnmarshalHistoryVersion(data []byte) (*core.HistoryVersion, error) {
	r := newRecordReader(data)
	v := &core.HistoryVersion{
		ID:            r.String(),
		WorkID:        r.String(),
		VersionNumber: r.Int(),
		SnapshotData:  r.String(),
		DiffData:      r.String(),
		Checksum:      r.String(),
		NodeCount:     r.Int(),
		CreatedAt:     r.Time(),
		Operation:     core.VersionOperation(r.String()),
		Description:   r.String(),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalShard serializes a Shard to bytes.
func MarshalShard(s *core.Shard) []byte {
	w := newRecordWriter()
	w.String(s.WorkID)
	w.String(s.ShardID)
	w.Int(s.LevelRange.Start)
	w.Int(s.LevelRange.End)
	w.Int(s.NodeCount)
	w.String(s.Data)
	w.String(s.Checksum)
	w.Time(s.CreatedAt)
	return w.Bytes()
}

// UnmarshalShard deserializes a Shard from bytes.
func UnmarshalShard(data []byte) (*core.Shard, error) {
	r := newRecordReader(data)
	s := &core.Shard{
		WorkID:  r.String(),
		ShardID: r.String(),
		LevelRange: core.LevelRange{
			Start: r.Int(),
			End:   r.Int(),
		},
		NodeCount: r.Int(),
		Data:      r.String(),
		Checksum:  r.String(),
		CreatedAt: r.Time(),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// MarshalInt serializes a counter or schema version.
func MarshalInt(v int) []byte {
	buf := make([]byte, varint.Int.Size(v))
	varint.Int.Marshal(v, buf)
	return buf
}

// UnmarshalInt deserializes a value written by MarshalInt.
func UnmarshalInt(data []byte) (int, error) {
	v, _, err := varint.Int.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return v, nil
}
