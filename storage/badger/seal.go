package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/poiesic/docvault/core"
	"github.com/poiesic/docvault/encryption"
	"github.com/poiesic/docvault/events"
	"github.com/poiesic/docvault/keys"
	"github.com/poiesic/docvault/sharding"
	"github.com/poiesic/docvault/storage"
)

const (
	// DefaultShardThreshold is the node count above which payload nodes are
	// stored in shards.
	DefaultShardThreshold = 500
)

// Deps holds the collaborators repositories use to seal and open payloads.
type Deps struct {
	Keys   *keys.Manager
	Cipher *encryption.Service
	// Events receives data-corrupted notifications. Optional.
	Events *events.Emitter
	Logger *slog.Logger
	// ShardSize is the number of nodes per shard.
	ShardSize int
	// ShardThreshold is the node count above which a payload is sharded.
	ShardThreshold int
	// Now returns the current time. Default is time.Now in UTC.
	Now func() time.Time
}

func (d Deps) validate() error {
	if d.Keys == nil {
		return errors.New("key manager is required")
	}
	if d.Cipher == nil {
		return errors.New("encryption service is required")
	}
	return nil
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ShardSize <= 0 {
		d.ShardSize = sharding.DefaultSize
	}
	if d.ShardThreshold <= 0 {
		d.ShardThreshold = DefaultShardThreshold
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

// now returns the current time truncated to the stored precision.
func (d Deps) now() time.Time {
	return d.Now().UTC().Truncate(time.Microsecond)
}

// sealedPayload is an encrypted document body ready to be persisted.
type sealedPayload struct {
	EncryptedData string
	Checksum      string
	NodeCount     int
	Sharded       bool
	Shards        []*core.Shard
}

func (p *sealedPayload) applyTo(doc *core.Document) {
	doc.EncryptedData = p.EncryptedData
	doc.Checksum = p.Checksum
	doc.NodeCount = p.NodeCount
	doc.Sharded = p.Sharded
}

// seal checksums content and encrypts it. Node lists above the shard
// threshold go into shards and the document ciphertext keeps the rest.
func (d Deps) seal(ctx context.Context, workID string, content core.Content, key []byte) (*sealedPayload, error) {
	sum, err := d.Cipher.Checksum(ctx, content)
	if err != nil {
		return nil, err
	}
	payload := &sealedPayload{Checksum: sum, NodeCount: len(content.Nodes)}

	body := content
	if len(content.Nodes) > d.ShardThreshold {
		payload.Shards, err = d.buildShards(ctx, workID, content.Nodes, key)
		if err != nil {
			return nil, err
		}
		payload.Sharded = true
		body.Nodes = nil
	}

	payload.EncryptedData, err = d.Cipher.Encrypt(ctx, body, key)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// buildShards splits nodes and encrypts and checksums each group.
func (d Deps) buildShards(ctx context.Context, workID string, nodes []core.Node, key []byte) ([]*core.Shard, error) {
	now := d.now()
	groups := sharding.Split(nodes, d.ShardSize)
	shards := make([]*core.Shard, 0, len(groups))
	for _, g := range groups {
		sum, err := d.Cipher.Checksum(ctx, g.Nodes)
		if err != nil {
			return nil, err
		}
		data, err := d.Cipher.Encrypt(ctx, g.Nodes, key)
		if err != nil {
			return nil, err
		}
		shards = append(shards, &core.Shard{
			WorkID:     workID,
			ShardID:    core.NewID(),
			LevelRange: g.Range,
			NodeCount:  len(g.Nodes),
			Data:       data,
			Checksum:   sum,
			CreatedAt:  now,
		})
	}
	return shards, nil
}

// openShard decrypts a shard and verifies its checksum.
func (d Deps) openShard(ctx context.Context, shard *core.Shard, key []byte) ([]core.Node, error) {
	var nodes []core.Node
	if err := d.Cipher.Decrypt(ctx, shard.Data, key, &nodes); err != nil {
		return nil, err
	}
	sum, err := d.Cipher.Checksum(ctx, nodes)
	if err != nil {
		return nil, err
	}
	if sum != shard.Checksum {
		return nil, fmt.Errorf("%w: shard %s of %s", core.ErrIntegrity, shard.ShardID, shard.WorkID)
	}
	return nodes, nil
}

// open decrypts a document body, reassembles sharded nodes and verifies the
// checksum of the result. Any failure means no content is returned.
func (d Deps) open(ctx context.Context, doc *core.Document, shards []*core.Shard, key []byte) (*core.Content, error) {
	var content core.Content
	if err := d.Cipher.Decrypt(ctx, doc.EncryptedData, key, &content); err != nil {
		return nil, err
	}

	if doc.Sharded {
		groups := make([]sharding.Group, 0, len(shards))
		for _, s := range shards {
			nodes, err := d.openShard(ctx, s, key)
			if err != nil {
				return nil, err
			}
			groups = append(groups, sharding.Group{Range: s.LevelRange, Nodes: nodes})
		}
		content.Nodes = sharding.Merge(groups)
	}

	sum, err := d.Cipher.Checksum(ctx, content)
	if err != nil {
		return nil, err
	}
	if sum != doc.Checksum {
		return nil, fmt.Errorf("%w: document %s", core.ErrIntegrity, doc.ID)
	}
	return &content, nil
}

// isCorruption reports whether err means the stored data cannot be trusted.
func isCorruption(err error) bool {
	return errors.Is(err, core.ErrIntegrity) ||
		errors.Is(err, core.ErrDecryptionFailed) ||
		errors.Is(err, storage.ErrSerializationFailed) ||
		errors.Is(err, storage.ErrTruncatedData)
}

// reportCorruption logs and emits a data-corrupted event for id.
func (d Deps) reportCorruption(collection Collection, id string, err error) {
	d.Logger.Warn("data integrity check failed", "collection", collection, "id", id, "error", err)
	if d.Events != nil {
		d.Events.Emit(events.Event{
			Kind: events.DataCorrupted,
			ID:   id,
			Err:  err,
			Data: map[string]any{"collection": string(collection)},
		})
	}
}

// readShardsTx returns the shards of workID ordered by range start. A shard
// that cannot be decoded fails the read.
func readShardsTx(txn *Txn, workID string) ([]*core.Shard, error) {
	return scanShardsTx(txn, workID, nil)
}

// scanShardsTx is readShardsTx with an optional skip callback. When skip is
// set, undecodable shards are handed to it by id and left out.
func scanShardsTx(txn *Txn, workID string, skip func(shardID string, err error)) ([]*core.Shard, error) {
	var shards []*core.Shard
	prefix := makePartialShardKey(workID)
	err := txn.Scan(Shards, prefix, false, func(key, value []byte) error {
		s, err := storage.UnmarshalShard(value)
		if err != nil {
			if skip == nil || !isCorruption(err) {
				return err
			}
			skip(string(key[len(prefix):]), err)
			return nil
		}
		shards = append(shards, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(shards, func(a, b *core.Shard) int {
		return a.LevelRange.Start - b.LevelRange.Start
	})
	return shards, nil
}

// putShardsTx replaces every shard of workID with shards.
func putShardsTx(txn *Txn, workID string, shards []*core.Shard) error {
	if _, err := deleteShardsTx(txn, workID); err != nil {
		return err
	}
	for _, s := range shards {
		if err := txn.Set(Shards, makeShardKey(workID, s.ShardID), storage.MarshalShard(s)); err != nil {
			return err
		}
	}
	return nil
}

// deleteShardsTx removes every shard of workID and returns the count.
func deleteShardsTx(txn *Txn, workID string) (int, error) {
	shardKeys, err := txn.Keys(Shards, makePartialShardKey(workID))
	if err != nil {
		return 0, err
	}
	for _, k := range shardKeys {
		if err := txn.Delete(Shards, k); err != nil {
			return 0, err
		}
	}
	return len(shardKeys), nil
}
