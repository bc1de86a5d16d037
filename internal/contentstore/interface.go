// Package contentstore abstracts the content-addressable block store and
// the mutable name system the engine publishes through. Blocks are immutable
// and keyed by the hash of their bytes; names map a stable per-identity key
// to the content id of the latest published document.
package contentstore

import (
	"context"
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// ContentStore stores and retrieves immutable blocks by content id.
type ContentStore interface {
	// Put stores data and returns its content id. Storing the same bytes
	// twice returns the same id.
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves a block. Returns common.ErrNotFound for unknown ids
	// and common.ErrTransientIO for retryable transport failures.
	Get(ctx context.Context, contentID string) ([]byte, error)
}

// NameResolver maps mutable names to content ids.
type NameResolver interface {
	// Publish points name at contentID, replacing any previous target.
	Publish(ctx context.Context, name, contentID string) error
	// Resolve returns the content id currently published under name.
	// Returns common.ErrNotFound for unpublished names.
	Resolve(ctx context.Context, name string) (string, error)
}

// ComputeID returns the content id for a block: base58btc-encoded SHA-256
// with the multibase "z" prefix. Stores must produce ids equal to this.
func ComputeID(data []byte) string {
	sum := sha256.Sum256(data)
	return "z" + base58.Encode(sum[:])
}
