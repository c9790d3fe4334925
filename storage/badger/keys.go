package badger

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Collection names a logical table. Every key starts with its collection
// name followed by ':'.
type Collection string

const (
	Works     Collection = "works"
	Templates Collection = "templates"
	History   Collection = "history"
	Shards    Collection = "shards"
	Metadata  Collection = "meta"
)

// Key kinds within a collection
const (
	recordKind   = "r" // primary record
	categoryKind = "c" // category index
	tagKind      = "g" // tag index
	modifiedKind = "m" // last-modified index
	typeKind     = "y" // template type index
	versionKind  = "i" // history version id index
	counterKind  = "n" // history version counter
)

const sep = 0x00

// makePrefix generates collection:kind:
func makePrefix(c Collection, kind string) []byte {
	buf := make([]byte, 0, len(c)+len(kind)+2)
	buf = append(buf, c...)
	buf = append(buf, ':')
	buf = append(buf, kind...)
	buf = append(buf, ':')
	return buf
}

// makeRecordKey generates a key for a primary record by ID.
func makeRecordKey(c Collection, id string) []byte {
	return append(makePrefix(c, recordKind), id...)
}

// makeValueIndexKey generates a composite key for a value index.
// Format: collection:kind:value\x00id
func makeValueIndexKey(c Collection, kind, value, id string) []byte {
	buf := makePartialValueIndexKey(c, kind, value)
	return append(buf, id...)
}

// makePartialValueIndexKey generates a partial key for value index scans.
// Format: collection:kind:value\x00
func makePartialValueIndexKey(c Collection, kind, value string) []byte {
	buf := append(makePrefix(c, kind), value...)
	return append(buf, sep)
}

// makeModifiedKey generates a composite key for the last-modified index.
// Format: collection:m:timestamp id
func makeModifiedKey(c Collection, modified time.Time, id string) []byte {
	prefix := makePrefix(c, modifiedKind)
	buf := make([]byte, len(prefix)+8, len(prefix)+8+len(id))
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(modified.UnixMicro()))
	return append(buf, id...)
}

// idFromValueIndexKey extracts the record id from a value index key.
// Record ids never contain the separator byte.
func idFromValueIndexKey(key []byte) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == sep {
			return string(key[i+1:])
		}
	}
	return ""
}

// idFromModifiedKey extracts the record id from a last-modified index key.
func idFromModifiedKey(c Collection, key []byte) string {
	offset := len(c) + len(modifiedKind) + 2 + 8
	if len(key) < offset {
		return ""
	}
	return string(key[offset:])
}

// makeVersionKey generates a key for a history version.
// Format: history:r:workID\x00number
func makeVersionKey(workID string, number int) []byte {
	prefix := makePartialVersionKey(workID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(number))
	return buf
}

// versionLabel names the version stored under a makeVersionKey key, for
// reporting records that cannot be decoded.
func versionLabel(workID string, key []byte) string {
	if len(key) < 8 {
		return workID
	}
	return fmt.Sprintf("%s/v%d", workID, binary.BigEndian.Uint64(key[len(key)-8:]))
}

// makePartialVersionKey generates a partial key for scanning a work's versions.
func makePartialVersionKey(workID string) []byte {
	return append(makeRecordKey(History, workID), sep)
}

// makeVersionIDKey generates a key mapping a version id to its record key.
func makeVersionIDKey(versionID string) []byte {
	return append(makePrefix(History, versionKind), versionID...)
}

// makeVersionCounterKey generates the key holding a work's last version number.
func makeVersionCounterKey(workID string) []byte {
	return append(makePrefix(History, counterKind), workID...)
}

// makeShardKey generates a key for a shard.
// Format: shards:r:workID\x00shardID
func makeShardKey(workID, shardID string) []byte {
	return append(makePartialShardKey(workID), shardID...)
}

// makePartialShardKey generates a partial key for scanning a work's shards.
func makePartialShardKey(workID string) []byte {
	return append(makeRecordKey(Shards, workID), sep)
}

// makeMetaKey generates a key in the metadata collection.
func makeMetaKey(name string) []byte {
	return append(makePrefix(Metadata, recordKind), name...)
}
