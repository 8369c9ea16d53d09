package objstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/altadoc/altadoc/internal/errors"
)

// FSStore is a filesystem-backed object store rooted at a directory.
// Logical paths use forward slashes relative to the root.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem store rooted at root, creating it if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// resolve maps a logical path onto the root, rejecting escapes.
func (s *FSStore) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", errors.InvalidInput(fmt.Sprintf("invalid object path %q", path), nil)
	}
	return filepath.Join(s.root, clean), nil
}

// Fetch returns the full object bytes.
func (s *FSStore) Fetch(ctx context.Context, path string) ([]byte, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(fmt.Sprintf("object %s not found", path))
		}
		return nil, errors.Transient(fmt.Sprintf("open object %s", path), err)
	}
	defer func() { _ = f.Close() }()

	body, _, err := hashReader(f)
	if err != nil {
		return nil, errors.Transient(fmt.Sprintf("read object %s", path), err)
	}
	return body, nil
}

// FetchRange returns length bytes starting at offset.
func (s *FSStore) FetchRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(fmt.Sprintf("object %s not found", path))
		}
		return nil, errors.Transient(fmt.Sprintf("open object %s", path), err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, errors.Transient(fmt.Sprintf("read range of %s", path), err)
	}
	return buf[:n], nil
}

// Put stores the object and returns its hex SHA-256.
func (s *FSStore) Put(ctx context.Context, path string, data []byte) (string, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", errors.Transient(fmt.Sprintf("create dir for %s", path), err)
	}

	hash := HashBytes(data)

	// Write to a temp file and rename so readers never see partial bytes.
	tmp := abs + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.Transient(fmt.Sprintf("write object %s", path), err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Transient(fmt.Sprintf("commit object %s", path), err)
	}

	// Read-back integrity check.
	readBack, err := os.ReadFile(abs)
	if err != nil {
		return "", errors.Transient(fmt.Sprintf("verify object %s", path), err)
	}
	if got := HashBytes(readBack); got != hash {
		return "", errors.Integrity(fmt.Sprintf("hash mismatch on read-back of %s", path), nil).
			WithDetail("expected", hash).
			WithDetail("got", got)
	}
	return hash, nil
}

// Presign returns a file:// URL; the fs backend has no real signing.
func (s *FSStore) Presign(ctx context.Context, path string, ttl time.Duration) (string, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", errors.NotFound(fmt.Sprintf("object %s not found", path))
	}
	return "file://" + abs, nil
}

// StatObject returns object metadata.
func (s *FSStore) StatObject(ctx context.Context, path string) (*Stat, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(fmt.Sprintf("object %s not found", path))
		}
		return nil, errors.Transient(fmt.Sprintf("stat object %s", path), err)
	}
	return &Stat{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List returns the logical paths under prefix, sorted.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	base, err := s.resolve(prefix)
	if err != nil {
		return nil, err
	}
	var paths []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Transient(fmt.Sprintf("list objects under %s", prefix), err)
	}
	sort.Strings(paths)
	return paths, nil
}

var _ Store = (*FSStore)(nil)
