package storage

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"imgscraper/pkg/acceptor"
	errs "imgscraper/pkg/errors"
	"imgscraper/pkg/searchkey"
)

// Manager writes accepted images for one sanitized key into its directory.
// File numbers are allocated from a counter shared by every job that
// writes into the same directory.
type Manager struct {
	dir     string
	prefix  string
	quality int
	mu      sync.Mutex
	last    int
}

// NewManager creates dir if needed and seeds the counter from the highest
// existing {prefix}_NNN file
func NewManager(dir, prefix string, jpegQuality int) (*Manager, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, err
	}

	manager := &Manager{
		dir:     dir,
		prefix:  prefix,
		quality: jpegQuality,
	}

	if err := manager.scanExistingFiles(); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeFilesystem, "failed to scan existing files", err)
	}

	return manager, nil
}

// EnsureDir creates dir and its parents; an existing directory is not an error
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Wrap(errs.ErrorTypeFilesystem, fmt.Sprintf("failed to create directory %s", dir), err)
	}
	return nil
}

// scanExistingFiles finds the highest file number already on disk
func (m *Manager) scanExistingFiles() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(m.prefix) + `_(\d{3,})\.[A-Za-z0-9]+$`)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		if n, err := strconv.Atoi(match[1]); err == nil && n > m.last {
			m.last = n
		}
	}

	return nil
}

// FileName formats the on-disk name for file number n
func FileName(prefix string, n int, ext string) string {
	return fmt.Sprintf("%s_%03d%s", prefix, n, ext)
}

// SaveImage encodes img and writes it under the next free file number,
// returning the path written
func (m *Manager) SaveImage(img *acceptor.AcceptedImage) (string, error) {
	data, err := m.encode(img)
	if err != nil {
		return "", err
	}

	for {
		path, err := m.reserve(img.Ext)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", errs.Wrap(errs.ErrorTypeWrite, "failed to reserve file name", err)
		}

		if err := m.writeAtomic(path, data); err != nil {
			os.Remove(path)
			return "", err
		}
		return path, nil
	}
}

// reserve allocates the next number and claims its file exclusively
func (m *Manager) reserve(ext string) (string, error) {
	m.mu.Lock()
	m.last++
	n := m.last
	m.mu.Unlock()

	path := filepath.Join(m.dir, FileName(m.prefix, n, ext))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	return path, f.Close()
}

// writeAtomic writes data to a temporary file and renames it over path
func (m *Manager) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(m.dir, ".imgscraper-*.tmp")
	if err != nil {
		return errs.Wrap(errs.ErrorTypeWrite, "failed to create temporary file", err)
	}
	tempFile := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()

	if err != nil {
		os.Remove(tempFile)
		return errs.Wrap(errs.ErrorTypeWrite, "failed to write image data", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return errs.Wrap(errs.ErrorTypeWrite, "failed to close file", closeErr)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return errs.Wrap(errs.ErrorTypeWrite, "failed to rename temporary file", err)
	}
	return nil
}

func (m *Manager) encode(img *acceptor.AcceptedImage) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if img.Ext == acceptor.ExtPNG {
		err = png.Encode(&buf, img.Image)
	} else {
		err = jpeg.Encode(&buf, img.Image, &jpeg.Options{Quality: m.quality})
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeWrite, "failed to encode image", err)
	}
	return buf.Bytes(), nil
}

// Registry hands out one Manager per sanitized key directory under root
type Registry struct {
	root     string
	quality  int
	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry creates a registry rooted at root
func NewRegistry(root string, jpegQuality int) *Registry {
	return &Registry{
		root:     root,
		quality:  jpegQuality,
		managers: make(map[string]*Manager),
	}
}

// ForKey returns the manager for key's directory, creating the directory
// on first use. Keys that sanitize to the same name share a manager.
func (r *Registry) ForKey(key searchkey.Key) (*Manager, error) {
	name := key.Sanitized()

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[name]; ok {
		return m, nil
	}

	m, err := NewManager(filepath.Join(r.root, name), name, r.quality)
	if err != nil {
		return nil, err
	}
	r.managers[name] = m
	return m, nil
}
