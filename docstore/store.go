package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Record is a single document: a JSON-serializable field map. Values placed
// in a Record must round-trip through encoding/json.
type Record = map[string]interface{}

// Where is a single query predicate on a top-level document field.
type Where struct {
	Field string
	Op    Op
	Value interface{}
}

// Op enumerates the supported predicate operators.
type Op string

const (
	OpEqual Op = "=="
	OpIn    Op = "in"
)

// Snapshot is one state of a query's matching record set, delivered by
// Subscribe whenever the set changes.
type Snapshot []Record

var (
	// ErrNotFound indicates the addressed document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrSubscribeUnsupported indicates the backend has no change feed.
	ErrSubscribeUnsupported = errors.New("subscribe not supported by this store")
)

// Store is the document store boundary the encryption core talks to. It is
// addressed by collection-and-id paths ("users/alice",
// "chats/c1/messages/m1") and never assumes a particular storage engine,
// only that these operations exist and that Set with merge preserves
// unspecified fields.
//
// All data the core hands to a Store is already encrypted or public; the
// store never sees plaintext sensitive fields or unwrapped key material.
type Store interface {
	// Get retrieves the document at path, or ErrNotFound.
	Get(ctx context.Context, path string) (Record, error)

	// Set writes the document at path. With merge true, fields absent from
	// record are preserved on an existing document; with merge false the
	// document is replaced wholesale.
	Set(ctx context.Context, path string, record Record, merge bool) error

	// Update merges partial into an existing document. Unlike Set with
	// merge, Update fails with ErrNotFound if the document does not exist.
	Update(ctx context.Context, path string, partial Record) error

	// Delete removes the document at path. Deleting an absent document is
	// not an error.
	Delete(ctx context.Context, path string) error

	// Query returns the documents of a collection matching every predicate.
	Query(ctx context.Context, collection string, wheres ...Where) ([]Record, error)

	// Subscribe streams snapshots of the records matching the query,
	// starting with the current state. The channel closes when ctx is
	// cancelled. Backends without a change feed return
	// ErrSubscribeUnsupported.
	Subscribe(ctx context.Context, collection string, wheres ...Where) (<-chan Snapshot, error)

	// Ping tests connectivity for remote backends.
	Ping(ctx context.Context) error

	// Close releases any resources the store holds.
	Close() error

	// Type identifies the backend ("memory", "filesystem", "s3").
	Type() string
}

// Config selects and parameterizes a storage backend.
type Config struct {
	Type   Type                   `json:"type" yaml:"type"`
	Config map[string]interface{} `json:"config" yaml:"config"`
}

// Type enumerates the built-in backends.
type Type string

const (
	TypeMemory     Type = "memory"
	TypeFileSystem Type = "filesystem"
	TypeS3         Type = "s3"
)

var segmentRegex = regexp.MustCompile(`^[a-zA-Z0-9\-_.]+$`)

// validSegment rejects anything the filesystem backend could misread as
// directory traversal.
func validSegment(seg string) bool {
	if seg == "." || seg == ".." {
		return false
	}
	return segmentRegex.MatchString(seg)
}

// splitPath validates a document path and returns its segments. A document
// path has an even number of segments: alternating collection and id.
func splitPath(path string) ([]string, error) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return nil, fmt.Errorf("invalid document path %q: need alternating collection/id segments", path)
	}
	for _, seg := range segments {
		if !validSegment(seg) {
			return nil, fmt.Errorf("invalid path segment %q", seg)
		}
	}
	return segments, nil
}

// splitCollection validates a collection path (odd number of segments).
func splitCollection(collection string) ([]string, error) {
	segments := strings.Split(collection, "/")
	if len(segments)%2 != 1 {
		return nil, fmt.Errorf("invalid collection path %q", collection)
	}
	for _, seg := range segments {
		if !validSegment(seg) {
			return nil, fmt.Errorf("invalid path segment %q", seg)
		}
	}
	return segments, nil
}

// matches reports whether a record satisfies every predicate.
func matches(record Record, wheres []Where) bool {
	for _, w := range wheres {
		value, ok := record[w.Field]
		if !ok {
			return false
		}
		switch w.Op {
		case OpEqual:
			if value != w.Value {
				return false
			}
		case OpIn:
			list, ok := w.Value.([]interface{})
			if !ok {
				return false
			}
			found := false
			for _, candidate := range list {
				if value == candidate {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// mergeRecords overlays partial onto base, replacing only the fields partial
// names. Nested maps are merged recursively, matching the merge semantics
// the core relies on for users/{uid} documents.
func mergeRecords(base, partial Record) Record {
	merged := make(Record, len(base)+len(partial))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range partial {
		if sub, ok := v.(map[string]interface{}); ok {
			if existing, ok := merged[k].(map[string]interface{}); ok {
				merged[k] = mergeRecords(existing, sub)
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

// cloneRecord returns a deep copy so callers cannot mutate stored state.
func cloneRecord(record Record) Record {
	clone := make(Record, len(record))
	for k, v := range record {
		if sub, ok := v.(map[string]interface{}); ok {
			clone[k] = cloneRecord(sub)
			continue
		}
		clone[k] = v
	}
	return clone
}

// New builds a store from configuration.
func New(config Config) (Store, error) {
	switch config.Type {
	case TypeMemory, "":
		return NewMemoryStore(), nil
	case TypeFileSystem:
		basePath, _ := config.Config["path"].(string)
		if basePath == "" {
			return nil, fmt.Errorf("filesystem store requires a path")
		}
		return NewFileSystemStore(basePath)
	case TypeS3:
		return NewS3StoreFromConfig(config.Config)
	default:
		return nil, fmt.Errorf("unknown store type: %s", config.Type)
	}
}
