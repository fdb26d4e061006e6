// Package fastfs provides the file-reading service used by package resolvers.
package fastfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotExist is returned by Memory when a path has no content.
var ErrNotExist = fs.ErrNotExist

// Reader reads whole files by path.
type Reader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// Disk reads files from the OS file system.
// Relative paths are resolved against Root.
type Disk struct {
	Root string
}

// NewDisk creates a disk reader rooted at root.
func NewDisk(root string) *Disk {
	return &Disk{Root: root}
}

// ReadFile implements Reader.
func (d *Disk) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := d.abs(path)
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", full, err)
	}
	return data, nil
}

// ModTime returns the modification time of path.
func (d *Disk) ModTime(path string) (time.Time, error) {
	info, err := os.Stat(d.abs(path))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Abs returns the OS path that path refers to.
func (d *Disk) Abs(path string) string {
	return d.abs(path)
}

func (d *Disk) abs(path string) string {
	p := filepath.FromSlash(path)
	if filepath.IsAbs(p) || d.Root == "" {
		return p
	}
	return filepath.Join(d.Root, p)
}

// Memory is an in-memory Reader. The zero value is ready to use.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
	reads map[string]int
}

// NewMemory creates a Memory reader holding files.
func NewMemory(files map[string]string) *Memory {
	m := &Memory{}
	for p, content := range files {
		m.Set(p, content)
	}
	return m
}

// Set stores content at path, replacing any previous content.
func (m *Memory) Set(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[path] = []byte(content)
}

// Remove deletes path.
func (m *Memory) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
}

// Reads returns how many times path has been read.
func (m *Memory) Reads(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads[path]
}

// ReadFile implements Reader.
func (m *Memory) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reads == nil {
		m.reads = make(map[string]int)
	}
	m.reads[path]++
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// IsNotExist reports whether err means the file is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
