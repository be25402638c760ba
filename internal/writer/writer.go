package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/hearsay-net/hearsay/internal/dao"
	"github.com/hearsay-net/hearsay/internal/keys"
	"github.com/hearsay-net/hearsay/internal/p2p"
	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/wire"
)

// ErrHashMismatch is returned when a relayed commit supplies a sealed
// hash that does not match the one derived locally. The commit is
// rejected and no remote state changes.
var ErrHashMismatch = errors.New("writer: sealed hash mismatch")

// Writer drives the append protocol against the peer daemon: checkout,
// stage bytes, precommit for a merkle root, seal, sign, commit. Appends
// to the same name are serialized; a failed commit is never retried
// here because a stale root or offset would corrupt the blob.
type Writer struct {
	store     p2p.BlobStore
	opener    p2p.StreamOpener
	keyring   *keys.Keyring
	envelopes *dao.EnvelopesDAO
	registry  *dao.RegistryDAO

	locks  *xsync.MapOf[string, *sync.Mutex]
	logger *slog.Logger
}

// New wires a Writer over the daemon surfaces and the local index.
func New(engine storage.Engine, store p2p.BlobStore, opener p2p.StreamOpener, keyring *keys.Keyring, logger *slog.Logger) *Writer {
	return &Writer{
		store:     store,
		opener:    opener,
		keyring:   keyring,
		envelopes: dao.NewEnvelopesDAO(engine),
		registry:  dao.NewRegistryDAO(engine),
		locks:     xsync.NewMapOf[string, *sync.Mutex](),
		logger:    logger,
	}
}

func (w *Writer) lock(tld string) *sync.Mutex {
	mu, _ := w.locks.LoadOrCompute(tld, func() *sync.Mutex { return &sync.Mutex{} })
	return mu
}

// abort releases a checked-out transaction after a failed step. Leaving
// it open would wedge the name behind the daemon's one-open-transaction
// rule until the daemon times it out.
func (w *Writer) abort(ctx context.Context, txID uint32, tld string) {
	if err := w.store.Abort(ctx, txID); err != nil {
		w.logger.Error("transaction abort failed", "tld", tld, "txID", txID, "error", err)
	}
}

// blobLength returns the committed length of a name's blob, with a
// never-committed name counting as empty.
func (w *Writer) blobLength(ctx context.Context, tld string) (int64, error) {
	info, err := w.store.GetBlobInfo(ctx, tld)
	if errors.Is(err, p2p.ErrUnknownBlob) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("writer: blob info %s: %w", tld, err)
	}
	return info.Length, nil
}

// AppendEnvelope appends one encoded envelope to a name's blob and
// commits the result. The signing key must be present before any remote
// state is touched.
func (w *Writer) AppendEnvelope(ctx context.Context, tld string, env *wire.Envelope, broadcast bool) error {
	if !w.keyring.Has(tld) {
		return fmt.Errorf("writer: append %s: %w", tld, keys.ErrNoSigner)
	}

	mu := w.lock(tld)
	mu.Lock()
	defer mu.Unlock()

	raw, err := wire.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("writer: encode envelope: %w", err)
	}

	offset, err := w.blobLength(ctx, tld)
	if err != nil {
		return err
	}

	txID, err := w.store.Checkout(ctx, tld)
	if err != nil {
		return fmt.Errorf("writer: checkout %s: %w", tld, err)
	}
	if err := w.store.WriteAt(ctx, txID, offset, raw); err != nil {
		w.abort(ctx, txID, tld)
		return fmt.Errorf("writer: write %s: %w", tld, err)
	}
	if err := w.seal(ctx, txID, tld, broadcast); err != nil {
		return err
	}

	w.logger.Info("envelope appended", "tld", tld, "refhash", env.Refhash, "bytes", len(raw))
	return nil
}

// seal runs precommit, derives and signs the sealed hash, and commits.
// Any failure aborts the transaction so the name is not left wedged.
func (w *Writer) seal(ctx context.Context, txID uint32, tld string, broadcast bool) error {
	root, err := w.store.PreCommit(ctx, txID)
	if err != nil {
		w.abort(ctx, txID, tld)
		return fmt.Errorf("writer: precommit %s: %w", tld, err)
	}

	sealedAt := time.Now().Truncate(time.Second)
	sig, err := w.keyring.Sign(tld, wire.SealHash(tld, sealedAt, root))
	if err != nil {
		w.abort(ctx, txID, tld)
		return fmt.Errorf("writer: seal %s: %w", tld, err)
	}
	if err := w.store.Commit(ctx, txID, sealedAt, sig, broadcast); err != nil {
		w.abort(ctx, txID, tld)
		return fmt.Errorf("writer: commit %s: %w", tld, err)
	}
	return nil
}

// PendingCommit is the state handed to a remote signer between
// precommit and commit on the relay path.
type PendingCommit struct {
	TLD        string
	TxID       uint32
	SealedAt   time.Time
	SealedHash []byte

	merkleRoot []byte
}

// PreCommitEnvelope stages an envelope and returns the sealed hash for
// an external signer. Concurrent appends to the name are held off by
// the daemon's one-open-transaction rule until the pending commit is
// finalized.
func (w *Writer) PreCommitEnvelope(ctx context.Context, tld string, env *wire.Envelope) (*PendingCommit, error) {
	raw, err := wire.EncodeEnvelope(env)
	if err != nil {
		return nil, fmt.Errorf("writer: encode envelope: %w", err)
	}

	offset, err := w.blobLength(ctx, tld)
	if err != nil {
		return nil, err
	}

	txID, err := w.store.Checkout(ctx, tld)
	if err != nil {
		return nil, fmt.Errorf("writer: checkout %s: %w", tld, err)
	}
	if err := w.store.WriteAt(ctx, txID, offset, raw); err != nil {
		w.abort(ctx, txID, tld)
		return nil, fmt.Errorf("writer: write %s: %w", tld, err)
	}

	root, err := w.store.PreCommit(ctx, txID)
	if err != nil {
		w.abort(ctx, txID, tld)
		return nil, fmt.Errorf("writer: precommit %s: %w", tld, err)
	}

	sealedAt := time.Now().Truncate(time.Second)
	return &PendingCommit{
		TLD:        tld,
		TxID:       txID,
		SealedAt:   sealedAt,
		SealedHash: wire.SealHash(tld, sealedAt, root),
		merkleRoot: root,
	}, nil
}

// CommitSigned finalizes a pending commit with an externally produced
// signature. The sealed hash the signer worked from must equal the one
// derived locally from the pending state; any mismatch aborts.
func (w *Writer) CommitSigned(ctx context.Context, pending *PendingCommit, sealedHash, signature []byte, broadcast bool) error {
	local := wire.SealHash(pending.TLD, pending.SealedAt, pending.merkleRoot)
	if !bytes.Equal(local, sealedHash) {
		return fmt.Errorf("writer: commit %s: %w", pending.TLD, ErrHashMismatch)
	}
	if err := w.store.Commit(ctx, pending.TxID, pending.SealedAt, signature, broadcast); err != nil {
		return fmt.Errorf("writer: commit %s: %w", pending.TLD, err)
	}
	return nil
}

// TruncateBlob empties a name's remote blob and commits the empty
// state. Local index rows are untouched; purging them is a separate,
// explicit operation.
func (w *Writer) TruncateBlob(ctx context.Context, tld string, broadcast bool) error {
	if !w.keyring.Has(tld) {
		return fmt.Errorf("writer: truncate %s: %w", tld, keys.ErrNoSigner)
	}

	mu := w.lock(tld)
	mu.Lock()
	defer mu.Unlock()

	txID, err := w.store.Checkout(ctx, tld)
	if err != nil {
		return fmt.Errorf("writer: checkout %s: %w", tld, err)
	}
	if err := w.store.Truncate(ctx, txID); err != nil {
		w.abort(ctx, txID, tld)
		return fmt.Errorf("writer: truncate %s: %w", tld, err)
	}
	return w.seal(ctx, txID, tld, broadcast)
}
