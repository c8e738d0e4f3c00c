package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
)

const (
	// FilePermissions restricts documents to the owning user.
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700

	// pollInterval drives the filesystem Subscribe implementation; the
	// filesystem has no change feed, so snapshots are diffed on a timer.
	pollInterval = 500 * time.Millisecond
)

// FileSystemStore implements Store on the local filesystem. Each document
// lives at basePath/<path>.json; subcollections are nested directories.
// Writes go through a temp file and an atomic rename, following the
// same discipline the backing store uses for key material.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore initializes a filesystem-backed store rooted at
// basePath, creating the directory if needed.
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if err := os.MkdirAll(basePath, DirPermissions); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileSystemStore{basePath: basePath}, nil
}

func (f *FileSystemStore) documentFile(path string) (string, error) {
	segments, err := splitPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.basePath, filepath.Join(segments...)) + ".json", nil
}

func (f *FileSystemStore) Get(_ context.Context, path string) (Record, error) {
	file, err := f.documentFile(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt document %s: %w", path, err)
	}
	return record, nil
}

func (f *FileSystemStore) Set(ctx context.Context, path string, record Record, merge bool) error {
	if merge {
		existing, err := f.Get(ctx, path)
		if err == nil {
			record = mergeRecords(existing, record)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return f.write(path, record)
}

func (f *FileSystemStore) Update(ctx context.Context, path string, partial Record) error {
	existing, err := f.Get(ctx, path)
	if err != nil {
		return err
	}
	return f.write(path, mergeRecords(existing, partial))
}

// write serializes the record and renames it into place so readers never
// observe a half-written document.
func (f *FileSystemStore) write(path string, record Record) error {
	file, err := f.documentFile(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(file), DirPermissions); err != nil {
		return fmt.Errorf("create collection directory: %w", err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("serialize document: %w", err)
	}

	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, FilePermissions); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit document: %w", err)
	}
	return nil
}

func (f *FileSystemStore) Delete(_ context.Context, path string) error {
	file, err := f.documentFile(path)
	if err != nil {
		return err
	}
	if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (f *FileSystemStore) Query(_ context.Context, collection string, wheres ...Where) ([]Record, error) {
	segments, err := splitCollection(collection)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(f.basePath, filepath.Join(segments...))

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read collection: %w", err)
	}

	var results []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		if matches(record, wheres) {
			results = append(results, record)
		}
	}
	return results, nil
}

// Subscribe polls the collection and emits a snapshot whenever the matching
// record set changes. The first snapshot is delivered immediately.
func (f *FileSystemStore) Subscribe(ctx context.Context, collection string, wheres ...Where) (<-chan Snapshot, error) {
	if _, err := splitCollection(collection); err != nil {
		return nil, err
	}

	ch := make(chan Snapshot, 8)
	initial, err := f.Query(ctx, collection, wheres...)
	if err != nil {
		return nil, err
	}
	ch <- initial

	go func() {
		defer close(ch)
		last := initial
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := f.Query(ctx, collection, wheres...)
				if err != nil {
					continue
				}
				if reflect.DeepEqual(current, last) {
					continue
				}
				last = current
				select {
				case ch <- current:
				default:
				}
			}
		}
	}()

	return ch, nil
}

func (f *FileSystemStore) Ping(context.Context) error {
	_, err := os.Stat(f.basePath)
	return err
}

func (f *FileSystemStore) Close() error { return nil }

func (f *FileSystemStore) Type() string { return string(TypeFileSystem) }
