package p2p

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestCheckoutSerializesPerName(t *testing.T) {
	ctx := context.Background()
	store := NewMemBlobStore()

	txID, err := store.Checkout(ctx, "alice.")
	require.NoError(t, err)

	_, err = store.Checkout(ctx, "alice.")
	require.ErrorIs(t, err, ErrTxOpen)

	// A different name is unaffected.
	other, err := store.Checkout(ctx, "bob.")
	require.NoError(t, err)
	require.NotEqual(t, txID, other)

	require.NoError(t, store.Abort(ctx, txID))
	_, err = store.Checkout(ctx, "alice.")
	require.NoError(t, err)
}

func TestWritePreCommitCommitFlow(t *testing.T) {
	ctx := context.Background()
	store := NewMemBlobStore()
	data := []byte("hello hearsay")

	txID, err := store.Checkout(ctx, "alice.")
	require.NoError(t, err)
	require.NoError(t, store.WriteAt(ctx, txID, 0, data))

	root, err := store.PreCommit(ctx, txID)
	require.NoError(t, err)
	require.Equal(t, MerkleRoot(data), root)

	// Commit without a signature is rejected and the tx stays open.
	err = store.Commit(ctx, txID, time.Now(), nil, false)
	require.Error(t, err)

	require.NoError(t, store.Commit(ctx, txID, time.Now(), []byte{0xaa}, true))
	require.Equal(t, data, store.CommittedBytes("alice."))

	info, err := store.GetBlobInfo(ctx, "alice.")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), info.Length)
	require.Equal(t, root, info.MerkleRoot)

	rc, err := store.OpenBlob(ctx, "alice.")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// The commit released the per-name lock.
	_, err = store.Checkout(ctx, "alice.")
	require.NoError(t, err)
}

func TestAppendAtOffsetPreservesPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemBlobStore()

	txID, err := store.Checkout(ctx, "alice.")
	require.NoError(t, err)
	require.NoError(t, store.WriteAt(ctx, txID, 0, []byte("first")))
	_, err = store.PreCommit(ctx, txID)
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, txID, time.Now(), []byte{1}, false))

	txID, err = store.Checkout(ctx, "alice.")
	require.NoError(t, err)
	require.NoError(t, store.WriteAt(ctx, txID, 5, []byte("second")))
	_, err = store.PreCommit(ctx, txID)
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, txID, time.Now(), []byte{1}, false))

	require.Equal(t, []byte("firstsecond"), store.CommittedBytes("alice."))
}

func TestTruncateClearsStagedBlob(t *testing.T) {
	ctx := context.Background()
	store := NewMemBlobStore()

	txID, err := store.Checkout(ctx, "alice.")
	require.NoError(t, err)
	require.NoError(t, store.WriteAt(ctx, txID, 0, []byte("old contents")))
	_, err = store.PreCommit(ctx, txID)
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, txID, time.Now(), []byte{1}, false))

	txID, err = store.Checkout(ctx, "alice.")
	require.NoError(t, err)
	require.NoError(t, store.Truncate(ctx, txID))
	require.NoError(t, store.WriteAt(ctx, txID, 0, []byte("new")))
	_, err = store.PreCommit(ctx, txID)
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, txID, time.Now(), []byte{1}, false))

	require.Equal(t, []byte("new"), store.CommittedBytes("alice."))
}

func TestStreamBlobInfoPaging(t *testing.T) {
	ctx := context.Background()
	store := NewMemBlobStore()

	for _, name := range []string{"carol.", "alice.", "bob."} {
		txID, err := store.Checkout(ctx, name)
		require.NoError(t, err)
		require.NoError(t, store.WriteAt(ctx, txID, 0, []byte(name)))
		_, err = store.PreCommit(ctx, txID)
		require.NoError(t, err)
		require.NoError(t, store.Commit(ctx, txID, time.Now(), []byte{1}, false))
	}

	var seen []string
	cursor := ""
	for {
		next, err := store.StreamBlobInfo(ctx, cursor, 2, func(info BlobInfo) error {
			seen = append(seen, info.TLD)
			return nil
		})
		require.NoError(t, err)
		if next == "" {
			break
		}
		cursor = next
	}
	require.Equal(t, []string{"alice.", "bob.", "carol."}, seen)
}

func TestMerkleRoot(t *testing.T) {
	// Single chunk is just the chunk digest.
	small := []byte("tiny")
	h := blake2b.Sum256(small)
	require.Equal(t, h[:], MerkleRoot(small))

	// Two chunks combine pairwise.
	big := bytes.Repeat([]byte{0x42}, merkleChunkSize+1)
	left := blake2b.Sum256(big[:merkleChunkSize])
	right := blake2b.Sum256(big[merkleChunkSize:])
	combined := blake2b.Sum256(append(left[:], right[:]...))
	require.Equal(t, combined[:], MerkleRoot(big))

	// Deterministic, and sensitive to content.
	require.Equal(t, MerkleRoot(big), MerkleRoot(big))
	other := bytes.Repeat([]byte{0x43}, merkleChunkSize+1)
	require.NotEqual(t, MerkleRoot(big), MerkleRoot(other))
}
