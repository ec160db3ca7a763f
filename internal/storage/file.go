package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Lock file timing. A lock older than staleLockAge belongs to a process that died mid-write.
const (
	lockRetryDelay = 5 * time.Millisecond
	lockWait       = 5 * time.Second
	staleLockAge   = 10 * time.Second
)

// FileStorage persists all keys in a single JSON object on disk. The document is re-read on
// every call so a CLI invocation and a running server observe each other's writes. Writers
// in different processes are serialized by an exclusive lock file next to the document.
type FileStorage struct {
	path   string
	mu     sync.Mutex
	closed bool
}

// NewFileStorage opens (or prepares) the JSON document at path.
func NewFileStorage(path string) (*FileStorage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("file storage: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("file storage: create directory: %w", err)
	}
	return &FileStorage{path: path}, nil
}

// Path returns the backing file path.
func (f *FileStorage) Path() string { return f.path }

func (f *FileStorage) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", false, ErrClosed
	}
	doc, err := f.readLocked()
	if err != nil {
		return "", false, err
	}
	result := gjson.GetBytes(doc, escapeKey(key))
	if !result.Exists() {
		return "", false, nil
	}
	return result.String(), true, nil
}

func (f *FileStorage) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	unlock, err := f.lockFile(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	doc, err := f.readLocked()
	if err != nil {
		return err
	}
	return f.setLocked(doc, key, value)
}

func (f *FileStorage) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, ErrClosed
	}
	unlock, err := f.lockFile(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()
	doc, err := f.readLocked()
	if err != nil {
		return false, err
	}
	if gjson.GetBytes(doc, escapeKey(key)).Exists() {
		return false, nil
	}
	if err = f.setLocked(doc, key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (f *FileStorage) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	unlock, err := f.lockFile(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	doc, err := f.readLocked()
	if err != nil {
		return err
	}
	changed := false
	for _, key := range keys {
		path := escapeKey(key)
		if !gjson.GetBytes(doc, path).Exists() {
			continue
		}
		if doc, err = sjson.DeleteBytes(doc, path); err != nil {
			return fmt.Errorf("file storage: delete %s: %w", key, err)
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return f.writeLocked(doc)
}

func (f *FileStorage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// lockFile takes the cross-process write lock. Readers skip it because the document is
// replaced by rename and never observed half written.
func (f *FileStorage) lockFile(ctx context.Context) (func(), error) {
	lockPath := f.path + ".lock"
	deadline := time.Now().Add(lockWait)
	for {
		lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = fmt.Fprintf(lf, "%d\n", os.Getpid())
			_ = lf.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("file storage: create lock: %w", err)
		}
		if info, errStat := os.Stat(lockPath); errStat == nil && time.Since(info.ModTime()) > staleLockAge {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("file storage: %s is locked by another process", filepath.Base(f.path))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func (f *FileStorage) setLocked(doc []byte, key, value string) error {
	updated, err := sjson.SetBytes(doc, escapeKey(key), value)
	if err != nil {
		return fmt.Errorf("file storage: set %s: %w", key, err)
	}
	return f.writeLocked(updated)
}

// readLocked returns the current document. A missing or corrupt file reads as empty so a
// damaged store degrades to "nothing stored" instead of failing every caller.
func (f *FileStorage) readLocked() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("file storage: read: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 || !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return []byte("{}"), nil
	}
	return data, nil
}

func (f *FileStorage) writeLocked(doc []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".storage-*.tmp")
	if err != nil {
		return fmt.Errorf("file storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file storage: chmod temp file: %w", err)
	}
	if _, err = tmp.Write(doc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file storage: write temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("file storage: close temp file: %w", err)
	}
	if err = os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("file storage: replace %s: %w", filepath.Base(f.path), err)
	}
	return nil
}

// escapeKey turns a flat key into a gjson/sjson path that matches it literally.
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
