package p2p

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// MemBlobStore is a complete in-process BlobStore and StreamOpener. It
// mirrors the daemon's transaction discipline (one open write transaction
// per identity, staged writes, merkle precommit) and backs the writer and
// indexer tests as well as local development.
type MemBlobStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	infos  map[string]*BlobInfo
	txs    map[uint32]*memTx
	open   map[string]uint32 // tld -> open tx
	nextTx uint32
}

type memTx struct {
	tld    string
	staged []byte
}

// NewMemBlobStore creates an empty store.
func NewMemBlobStore() *MemBlobStore {
	return &MemBlobStore{
		blobs: make(map[string][]byte),
		infos: make(map[string]*BlobInfo),
		txs:   make(map[uint32]*memTx),
		open:  make(map[string]uint32),
	}
}

// Checkout implements BlobStore.
func (s *MemBlobStore) Checkout(_ context.Context, tld string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.open[tld]; busy {
		return 0, fmt.Errorf("%w: %s", ErrTxOpen, tld)
	}

	s.nextTx++
	id := s.nextTx
	s.txs[id] = &memTx{tld: tld, staged: append([]byte(nil), s.blobs[tld]...)}
	s.open[tld] = id
	return id, nil
}

// WriteAt implements BlobStore.
func (s *MemBlobStore) WriteAt(_ context.Context, txID uint32, offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoTransaction, txID)
	}
	if grow := offset + int64(len(data)) - int64(len(tx.staged)); grow > 0 {
		tx.staged = append(tx.staged, make([]byte, grow)...)
	}
	copy(tx.staged[offset:], data)
	return nil
}

// Truncate implements BlobStore.
func (s *MemBlobStore) Truncate(_ context.Context, txID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoTransaction, txID)
	}
	tx.staged = nil
	return nil
}

// PreCommit implements BlobStore.
func (s *MemBlobStore) PreCommit(_ context.Context, txID uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoTransaction, txID)
	}
	return MerkleRoot(tx.staged), nil
}

// Commit implements BlobStore.
func (s *MemBlobStore) Commit(_ context.Context, txID uint32, sealedAt time.Time, signature []byte, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoTransaction, txID)
	}
	if len(signature) == 0 {
		return fmt.Errorf("p2p: commit without signature")
	}

	s.blobs[tx.tld] = tx.staged
	s.infos[tx.tld] = &BlobInfo{
		TLD:        tx.tld,
		Length:     int64(len(tx.staged)),
		MerkleRoot: MerkleRoot(tx.staged),
		SealedAt:   sealedAt,
	}
	delete(s.txs, txID)
	delete(s.open, tx.tld)
	return nil
}

// Abort implements BlobStore. The daemon also aborts on its own when a
// client disconnects mid-write.
func (s *MemBlobStore) Abort(_ context.Context, txID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx, ok := s.txs[txID]; ok {
		delete(s.open, tx.tld)
		delete(s.txs, txID)
	}
	return nil
}

// GetBlobInfo implements BlobStore.
func (s *MemBlobStore) GetBlobInfo(_ context.Context, tld string) (*BlobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.infos[tld]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlob, tld)
	}
	cp := *info
	return &cp, nil
}

// StreamBlobInfo implements BlobStore: identities are enumerated in
// lexical order, resuming strictly after the cursor name.
func (s *MemBlobStore) StreamBlobInfo(_ context.Context, cursor string, pageSize int, fn func(BlobInfo) error) (string, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	s.mu.Lock()
	names := make([]string, 0, len(s.infos))
	for tld := range s.infos {
		if tld > cursor {
			names = append(names, tld)
		}
	}
	sort.Strings(names)
	if len(names) > pageSize {
		names = names[:pageSize]
	}
	page := make([]BlobInfo, 0, len(names))
	for _, tld := range names {
		page = append(page, *s.infos[tld])
	}
	s.mu.Unlock()

	next := cursor
	for _, info := range page {
		if err := fn(info); err != nil {
			return next, err
		}
		next = info.TLD
	}
	if len(page) < pageSize {
		return "", nil
	}
	return next, nil
}

// OpenBlob implements StreamOpener over the committed bytes.
func (s *MemBlobStore) OpenBlob(_ context.Context, tld string) (io.ReadCloser, error) {
	s.mu.Lock()
	data := append([]byte(nil), s.blobs[tld]...)
	s.mu.Unlock()
	return io.NopCloser(bytes.NewReader(data)), nil
}

// CommittedBytes returns a copy of an identity's committed blob. Test
// helper.
func (s *MemBlobStore) CommittedBytes(tld string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.blobs[tld]...)
}
