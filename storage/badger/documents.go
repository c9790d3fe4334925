package badger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/storage"
)

// docCodec adapts a document type to docStore.
type docCodec[T any] struct {
	collection Collection
	doc        func(T) *core.Document
	clone      func(T) T
	marshal    func(T) []byte
	unmarshal  func([]byte) (T, error)

	// indexes returns index keys beyond category, tag and last-modified.
	indexes func(T) [][]byte
	// indexPrefix returns an index prefix narrowing a list, or nil.
	indexPrefix func(core.ListOptions) []byte
	// matches applies list filters beyond the shared ones.
	matches func(T, core.ListOptions) bool
}

// docStore implements the persistence shared by works and templates.
type docStore[T any] struct {
	backend *Backend
	deps    Deps
	codec   docCodec[T]

	// hardDeleted, when set, is called after id has been removed for good.
	hardDeleted func(id string)
}

// newDocument builds the metadata of a new document.
func newDocument(dto core.CreateWork, now time.Time) *core.Document {
	title := strings.TrimSpace(dto.Title)
	if title == "" {
		title = core.DefaultTitle
	}
	return &core.Document{
		ID:           core.NewID(),
		Title:        title,
		Category:     strings.TrimSpace(dto.Category),
		Tags:         core.NormalizeTags(dto.Tags),
		Starred:      dto.Starred,
		CreatedAt:    now,
		LastModified: now,
		DataVersion:  1,
		IsDefault:    dto.IsDefault,
		IsReadonly:   dto.IsReadonly,
	}
}

// applyPatchMeta applies the metadata fields of patch to doc.
func applyPatchMeta(doc *core.Document, patch core.WorkPatch) {
	if v, ok := patch.Title.Get(); ok {
		doc.Title = strings.TrimSpace(v)
	}
	if v, ok := patch.Category.Get(); ok {
		doc.Category = strings.TrimSpace(v)
	}
	if v, ok := patch.Tags.Get(); ok {
		doc.Tags = core.NormalizeTags(v)
	}
	if v, ok := patch.Starred.Get(); ok {
		doc.Starred = v
	}
	if v, ok := patch.IsReadonly.Get(); ok {
		doc.IsReadonly = v
	}
}

func (s *docStore[T]) indexKeys(v T) [][]byte {
	c := s.codec.collection
	doc := s.codec.doc(v)
	idx := [][]byte{makeModifiedKey(c, doc.LastModified, doc.ID)}
	if doc.Category != "" {
		idx = append(idx, makeValueIndexKey(c, categoryKind, doc.Category, doc.ID))
	}
	for _, tag := range doc.Tags {
		idx = append(idx, makeValueIndexKey(c, tagKind, tag, doc.ID))
	}
	if s.codec.indexes != nil {
		idx = append(idx, s.codec.indexes(v)...)
	}
	return idx
}

// putTx writes v and its indexes, replacing the indexes of prev.
func (s *docStore[T]) putTx(txn *Txn, v T, prev *T) error {
	c := s.codec.collection
	if prev != nil {
		for _, k := range s.indexKeys(*prev) {
			if err := txn.Delete(c, k); err != nil {
				return err
			}
		}
	}
	if err := txn.Set(c, makeRecordKey(c, s.codec.doc(v).ID), s.codec.marshal(v)); err != nil {
		return err
	}
	for _, k := range s.indexKeys(v) {
		if err := txn.Set(c, k, []byte{}); err != nil {
			return err
		}
	}
	return nil
}

// readTx reads a record, returning storage.ErrNotFound when absent.
func (s *docStore[T]) readTx(txn *Txn, id string) (T, error) {
	var zero T
	c := s.codec.collection
	data, err := txn.Get(c, makeRecordKey(c, id))
	if err != nil {
		return zero, err
	}
	if data == nil {
		return zero, fmt.Errorf("%w: %s %s", storage.ErrNotFound, c, id)
	}
	return s.codec.unmarshal(data)
}

// corrupted reports err when it signals corruption and returns it.
func (s *docStore[T]) corrupted(id string, err error) error {
	if isCorruption(err) {
		s.deps.reportCorruption(s.codec.collection, id, err)
	}
	return err
}

// decrypt opens the payload of v into its Content.
func (s *docStore[T]) decrypt(ctx context.Context, v T, shards []*core.Shard, key []byte) error {
	doc := s.codec.doc(v)
	content, err := s.deps.open(ctx, doc, shards, key)
	if err != nil {
		return s.corrupted(doc.ID, err)
	}
	doc.Content = content
	return nil
}

func (s *docStore[T]) create(ctx context.Context, v T, content core.Content) (T, error) {
	var zero T
	if err := core.ValidateContent(&content); err != nil {
		return zero, err
	}
	key, err := s.deps.Keys.KeyForWrite(ctx)
	if err != nil {
		return zero, err
	}

	doc := s.codec.doc(v)
	payload, err := s.deps.seal(ctx, doc.ID, content, key)
	if err != nil {
		return zero, err
	}
	payload.applyTo(doc)

	err = s.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		if err := s.putTx(txn, v, nil); err != nil {
			return err
		}
		return putShardsTx(txn, doc.ID, payload.Shards)
	}, s.codec.collection, Shards)
	if err != nil {
		return zero, err
	}

	body := content.Clone()
	doc.Content = &body
	return v, nil
}

func (s *docStore[T]) get(ctx context.Context, id string) (T, error) {
	var (
		zero   T
		v      T
		shards []*core.Shard
	)
	err := s.backend.ExecuteTransaction(ctx, ReadOnly, func(txn *Txn) error {
		var err error
		if v, err = s.readTx(txn, id); err != nil {
			return err
		}
		if s.codec.doc(v).Sharded {
			shards, err = readShardsTx(txn, id)
		}
		return err
	}, s.codec.collection, Shards)
	if err != nil {
		return zero, s.corrupted(id, err)
	}

	key, err := s.deps.Keys.KeyForRead(ctx)
	if err != nil {
		return zero, err
	}
	if err := s.decrypt(ctx, v, shards, key); err != nil {
		return zero, err
	}
	return v, nil
}

// update applies patch, and extra for type-specific fields, in one
// transaction.
func (s *docStore[T]) update(ctx context.Context, id string, patch core.WorkPatch, extra func(T)) (T, error) {
	var zero T
	if err := core.ValidatePatch(patch); err != nil {
		return zero, err
	}

	var (
		key []byte
		err error
	)
	if patch.HasPayload() {
		key, err = s.deps.Keys.KeyForWrite(ctx)
	} else {
		key, err = s.deps.Keys.KeyForRead(ctx)
	}
	if err != nil {
		return zero, err
	}

	// Caller ciphertext must open under the active key before it is
	// accepted, and its checksum is taken from what it decrypts to.
	var supplied *core.Content
	if data, ok := patch.EncryptedData.Get(); ok {
		supplied = &core.Content{}
		if err := s.deps.Cipher.Decrypt(ctx, data, key, supplied); err != nil {
			return zero, err
		}
		if err := core.ValidateContent(supplied); err != nil {
			return zero, err
		}
	}

	var out T
	err = s.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		cur, err := s.readTx(txn, id)
		if err != nil {
			return err
		}
		if s.codec.doc(cur).IsReadonly {
			return fmt.Errorf("%w: %s", core.ErrReadOnly, id)
		}

		next := s.codec.clone(cur)
		doc := s.codec.doc(next)
		applyPatchMeta(doc, patch)
		if extra != nil {
			extra(next)
		}

		content, shards, replace, err := s.patchPayload(ctx, txn, doc, patch, supplied, key)
		if err != nil {
			return err
		}
		doc.LastModified = s.deps.now()

		if err := s.putTx(txn, next, &cur); err != nil {
			return err
		}
		if replace {
			if err := putShardsTx(txn, id, shards); err != nil {
				return err
			}
		}
		doc.Content = content
		out = next
		return nil
	}, s.codec.collection, Shards)
	if err != nil {
		return zero, s.corrupted(id, err)
	}
	return out, nil
}

// patchPayload resolves the body of doc after patch. supplied is the
// decrypted form of caller ciphertext. A changed payload is sealed into doc
// and bumps DataVersion; replace reports whether the stored shards must be
// replaced with shards.
func (s *docStore[T]) patchPayload(ctx context.Context, txn *Txn, doc *core.Document, patch core.WorkPatch, supplied *core.Content, key []byte) (content *core.Content, shards []*core.Shard, replace bool, err error) {
	if data, ok := patch.EncryptedData.Get(); ok {
		body := supplied.Clone()
		if len(body.Nodes) > s.deps.ShardThreshold {
			payload, err := s.deps.seal(ctx, doc.ID, body, key)
			if err != nil {
				return nil, nil, false, err
			}
			payload.applyTo(doc)
			shards = payload.Shards
		} else {
			sum, err := s.deps.Cipher.Checksum(ctx, body)
			if err != nil {
				return nil, nil, false, err
			}
			doc.EncryptedData = data
			doc.Checksum = sum
			doc.NodeCount = len(body.Nodes)
			doc.Sharded = false
		}
		doc.DataVersion++
		return &body, shards, true, nil
	}

	if body, ok := patch.Content.Get(); ok {
		body = body.Clone()
		sum, err := s.deps.Cipher.Checksum(ctx, body)
		if err != nil {
			return nil, nil, false, err
		}
		if sum == doc.Checksum {
			return &body, nil, false, nil
		}
		payload, err := s.deps.seal(ctx, doc.ID, body, key)
		if err != nil {
			return nil, nil, false, err
		}
		payload.applyTo(doc)
		doc.DataVersion++
		return &body, payload.Shards, true, nil
	}

	if doc.Sharded {
		if shards, err = readShardsTx(txn, doc.ID); err != nil {
			return nil, nil, false, err
		}
	}
	content, err = s.deps.open(ctx, doc, shards, key)
	return content, nil, false, err
}

// remove soft-deletes or hard-deletes id.
func (s *docStore[T]) remove(ctx context.Context, id string, hard bool) (bool, error) {
	err := s.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		cur, err := s.readTx(txn, id)
		if err != nil {
			return err
		}
		doc := s.codec.doc(cur)
		if doc.IsReadonly {
			return fmt.Errorf("%w: %s", core.ErrReadOnly, id)
		}

		if !hard {
			if doc.IsDeleted {
				return nil
			}
			next := s.codec.clone(cur)
			nd := s.codec.doc(next)
			nd.IsDeleted = true
			nd.InTrashSince = s.deps.now()
			return s.putTx(txn, next, &cur)
		}

		if doc.IsDefault {
			return fmt.Errorf("%w: %s", core.ErrProtected, id)
		}
		c := s.codec.collection
		for _, k := range s.indexKeys(cur) {
			if err := txn.Delete(c, k); err != nil {
				return err
			}
		}
		if err := txn.Delete(c, makeRecordKey(c, id)); err != nil {
			return err
		}
		if _, err := deleteShardsTx(txn, id); err != nil {
			return err
		}
		_, err = deleteHistoryTx(txn, id)
		return err
	}, s.codec.collection, Shards, History)
	if err != nil {
		return false, s.corrupted(id, err)
	}
	if hard && s.hardDeleted != nil {
		s.hardDeleted(id)
	}
	return true, nil
}

// restore clears the deleted flag of id and returns the decrypted record.
func (s *docStore[T]) restore(ctx context.Context, id string) (T, error) {
	var zero T
	err := s.backend.ExecuteTransaction(ctx, ReadWrite, func(txn *Txn) error {
		cur, err := s.readTx(txn, id)
		if err != nil {
			return err
		}
		doc := s.codec.doc(cur)
		if doc.IsReadonly {
			return fmt.Errorf("%w: %s", core.ErrReadOnly, id)
		}
		if !doc.IsDeleted {
			return nil
		}
		next := s.codec.clone(cur)
		nd := s.codec.doc(next)
		nd.IsDeleted = false
		nd.InTrashSince = time.Time{}
		return s.putTx(txn, next, &cur)
	}, s.codec.collection)
	if err != nil {
		return zero, s.corrupted(id, err)
	}
	return s.get(ctx, id)
}

// matchesOptions applies the shared list filters.
func matchesOptions(doc *core.Document, opts core.ListOptions) bool {
	if doc.IsDeleted != opts.DeletedOnly {
		return false
	}
	if opts.StarredOnly && !doc.Starred {
		return false
	}
	if opts.Category != "" && doc.Category != opts.Category {
		return false
	}
	if opts.Tag != "" && !slices.Contains(doc.Tags, opts.Tag) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(opts.Search)); q != "" {
		hit := strings.Contains(strings.ToLower(doc.Title), q) ||
			strings.Contains(strings.ToLower(doc.Category), q) ||
			slices.ContainsFunc(doc.Tags, func(t string) bool {
				return strings.Contains(strings.ToLower(t), q)
			})
		if !hit {
			return false
		}
	}
	return true
}

// compareDocuments orders by field with ties broken by id.
func compareDocuments(a, b *core.Document, field core.SortField) int {
	var c int
	switch field {
	case core.SortByTitle:
		c = strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case core.SortByCategory:
		c = strings.Compare(strings.ToLower(a.Category), strings.ToLower(b.Category))
	case core.SortByCreatedAt:
		c = a.CreatedAt.Compare(b.CreatedAt)
	case core.SortByNodeCount:
		c = cmp.Compare(a.NodeCount, b.NodeCount)
	default:
		c = a.LastModified.Compare(b.LastModified)
	}
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	return c
}

// loadTx reads the records of ids, skipping and reporting corrupted ones.
func (s *docStore[T]) loadTx(txn *Txn, ids []string) ([]T, error) {
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		v, err := s.readTx(txn, id)
		if err != nil {
			if isCorruption(err) {
				s.corrupted(id, err)
				continue
			}
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// candidatesTx returns the records a list has to consider. sorted reports
// whether they already are in the requested order.
func (s *docStore[T]) candidatesTx(txn *Txn, opts core.ListOptions) (items []T, sorted bool, err error) {
	c := s.codec.collection

	var prefix []byte
	switch {
	case opts.Category != "":
		prefix = makePartialValueIndexKey(c, categoryKind, opts.Category)
	case opts.Tag != "":
		prefix = makePartialValueIndexKey(c, tagKind, opts.Tag)
	case s.codec.indexPrefix != nil:
		prefix = s.codec.indexPrefix(opts)
	}
	if prefix != nil {
		indexKeys, err := txn.Keys(c, prefix)
		if err != nil {
			return nil, false, err
		}
		ids := make([]string, len(indexKeys))
		for i, k := range indexKeys {
			ids[i] = idFromValueIndexKey(k)
		}
		items, err = s.loadTx(txn, ids)
		return items, false, err
	}

	if opts.SortBy == core.SortByLastModified {
		var ids []string
		err := txn.Scan(c, makePrefix(c, modifiedKind), opts.Order == core.SortDesc, func(key, _ []byte) error {
			ids = append(ids, idFromModifiedKey(c, key))
			return nil
		})
		if err != nil {
			return nil, false, err
		}
		items, err = s.loadTx(txn, ids)
		return items, true, err
	}

	recordPrefix := makePrefix(c, recordKind)
	err = txn.Scan(c, recordPrefix, false, func(key, value []byte) error {
		v, err := s.codec.unmarshal(value)
		if err != nil {
			s.corrupted(string(key[len(recordPrefix):]), err)
			return nil
		}
		items = append(items, v)
		return nil
	})
	return items, false, err
}

func (s *docStore[T]) list(ctx context.Context, opts core.ListOptions) (*core.ListResult[T], error) {
	opts = opts.Normalize()

	var (
		page       []T
		total      int
		shards     = make(map[string][]*core.Shard)
		unreadable = make(map[string]error)
	)
	err := s.backend.ExecuteTransaction(ctx, ReadOnly, func(txn *Txn) error {
		clear(shards)
		clear(unreadable)
		items, sorted, err := s.candidatesTx(txn, opts)
		if err != nil {
			return err
		}

		matched := items[:0]
		for _, v := range items {
			if !matchesOptions(s.codec.doc(v), opts) {
				continue
			}
			if s.codec.matches != nil && !s.codec.matches(v, opts) {
				continue
			}
			matched = append(matched, v)
		}
		if !sorted {
			slices.SortFunc(matched, func(a, b T) int {
				c := compareDocuments(s.codec.doc(a), s.codec.doc(b), opts.SortBy)
				if opts.Order == core.SortDesc {
					return -c
				}
				return c
			})
		}

		total = len(matched)
		start := min((opts.Page-1)*opts.PageSize, total)
		end := min(start+opts.PageSize, total)
		page = matched[start:end]

		for _, v := range page {
			doc := s.codec.doc(v)
			if !doc.Sharded {
				continue
			}
			set, err := readShardsTx(txn, doc.ID)
			switch {
			case err == nil:
				shards[doc.ID] = set
			case isCorruption(err):
				unreadable[doc.ID] = err
			default:
				return err
			}
		}
		return nil
	}, s.codec.collection, Shards)
	if err != nil {
		return nil, err
	}

	result := &core.ListResult[T]{
		Items:    make([]T, 0, len(page)),
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.PageSize,
	}
	if len(page) == 0 {
		return result, nil
	}

	key, err := s.deps.Keys.KeyForRead(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range page {
		id := s.codec.doc(v).ID
		if err, ok := unreadable[id]; ok {
			s.corrupted(id, err)
			result.Corrupted = append(result.Corrupted, id)
			continue
		}
		if err := s.decrypt(ctx, v, shards[id], key); err != nil {
			if isCorruption(err) {
				result.Corrupted = append(result.Corrupted, id)
				continue
			}
			return nil, err
		}
		result.Items = append(result.Items, v)
	}
	return result, nil
}

// runBatch applies op to each item, collecting failures instead of
// stopping at the first one.
func runBatch[In, Out any](items []In, id func(In) string, op func(In) (Out, error)) *core.BatchResult[Out] {
	res := &core.BatchResult[Out]{}
	for i, item := range items {
		out, err := op(item)
		if err != nil {
			res.Failed = append(res.Failed, core.BatchFailure{Index: i, ID: id(item), Err: err})
			continue
		}
		res.Succeeded = append(res.Succeeded, out)
	}
	return res
}
