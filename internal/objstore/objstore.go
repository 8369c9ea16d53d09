// Package objstore provides read/write access to archive bytes by logical
// path, with strong content hashing. The production backends are a local
// filesystem root and S3; both compute SHA-256 while streaming so a document
// record is never committed before its hash is final.
package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"
)

// Stat describes a stored object.
type Stat struct {
	Size    int64
	ModTime time.Time
	ETag    string
}

// Store is the object-store capability consumed by the ingestion pipeline.
type Store interface {
	// Fetch returns the full object bytes.
	Fetch(ctx context.Context, path string) ([]byte, error)

	// FetchRange returns length bytes starting at offset.
	FetchRange(ctx context.Context, path string, offset, length int64) ([]byte, error)

	// Put stores the object and returns its hex SHA-256 content hash.
	Put(ctx context.Context, path string, data []byte) (string, error)

	// Presign returns a URL granting read access for ttl.
	Presign(ctx context.Context, path string, ttl time.Duration) (string, error)

	// StatObject returns object metadata without fetching the body.
	StatObject(ctx context.Context, path string) (*Stat, error)

	// List returns the logical paths under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hashReader streams r to sha256, returning the body and the hash. The hash
// is computed over the complete stream; a short read is an error.
func hashReader(r io.Reader) ([]byte, string, error) {
	h := sha256.New()
	body, err := io.ReadAll(io.TeeReader(r, h))
	if err != nil {
		return nil, "", err
	}
	return body, hex.EncodeToString(h.Sum(nil)), nil
}
