// Package p2p defines the surfaces this process consumes from the peer
// daemon: the blob store RPC (checkout/write/precommit/commit), the blob
// byte-stream reader, and the log tail that announces freshly synced
// names. The daemon itself is an external collaborator; an in-memory
// implementation lives in memstore.go for tests and local development.
package p2p

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNoTransaction is returned for an unknown or already finalized
	// write transaction id.
	ErrNoTransaction = errors.New("p2p: no such write transaction")

	// ErrTxOpen is returned by Checkout while another write transaction
	// is still open for the same identity.
	ErrTxOpen = errors.New("p2p: write transaction already open")

	// ErrUnknownBlob is returned by GetBlobInfo for a name the daemon
	// has never seen a commit for.
	ErrUnknownBlob = errors.New("p2p: unknown blob")
)

// BlobInfo describes one identity's committed blob.
type BlobInfo struct {
	TLD        string    `json:"tld"`
	Length     int64     `json:"length"`
	MerkleRoot []byte    `json:"merkleRoot"`
	SealedAt   time.Time `json:"sealedAt"`
}

// BlobStore is the daemon's write/commit RPC surface. One write
// transaction may be open per identity; commits are final and never
// retried by this layer.
type BlobStore interface {
	// Checkout opens a write transaction for tld's blob.
	Checkout(ctx context.Context, tld string) (txID uint32, err error)

	// WriteAt stages data at a byte offset inside the transaction.
	WriteAt(ctx context.Context, txID uint32, offset int64, data []byte) error

	// Truncate stages a reset of the blob to zero length.
	Truncate(ctx context.Context, txID uint32) error

	// PreCommit computes the merkle root over staged plus existing
	// content without finalizing anything.
	PreCommit(ctx context.Context, txID uint32) (merkleRoot []byte, err error)

	// Commit finalizes the transaction with the signature authorizing
	// the sealed (tld, timestamp, merkle root) tuple. When broadcast is
	// set the daemon announces the new root to its peers.
	Commit(ctx context.Context, txID uint32, sealedAt time.Time, signature []byte, broadcast bool) error

	// Abort discards an open transaction, dropping its staged bytes and
	// releasing the name for a new checkout. Aborting an unknown or
	// already finalized transaction is a no-op.
	Abort(ctx context.Context, txID uint32) error

	// GetBlobInfo returns the committed state of one identity's blob.
	GetBlobInfo(ctx context.Context, tld string) (*BlobInfo, error)

	// StreamBlobInfo pages through every identity the daemon knows,
	// calling fn per blob. It returns the cursor to resume from, or ""
	// once the enumeration is complete.
	StreamBlobInfo(ctx context.Context, cursor string, pageSize int, fn func(BlobInfo) error) (next string, err error)
}

// StreamOpener yields a sequential reader over an identity's committed
// blob bytes. The reader supports buffered sequential reads only.
type StreamOpener interface {
	OpenBlob(ctx context.Context, tld string) (io.ReadCloser, error)
}
