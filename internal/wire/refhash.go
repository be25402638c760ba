package wire

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Refhash computes the content hash of an envelope: a blake2b-256 digest
// over the owning TLD, the creation time truncated to whole seconds, and
// the serialized message bytes. Two envelopes with the same refhash are
// the same logical record; it is the idempotency key for every insert.
//
// Sub-second precision is deliberately discarded before hashing so that a
// round trip through the wire format (which carries seconds only) cannot
// change the hash.
func Refhash(tld string, t time.Time, messageBytes []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{byte(len(tld))})
	h.Write([]byte(tld))

	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], uint32(t.Truncate(time.Second).Unix()))
	h.Write(ts[:])

	h.Write(messageBytes)
	return hex.EncodeToString(h.Sum(nil))
}

// SealHash computes the hash that authorizes a blob commit: blake2b-256
// over the TLD, the commit timestamp (whole seconds), and the merkle root
// returned by precommit. The signature over this hash is what the peer
// network verifies.
func SealHash(tld string, t time.Time, merkleRoot []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{byte(len(tld))})
	h.Write([]byte(tld))

	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], uint32(t.Truncate(time.Second).Unix()))
	h.Write(ts[:])

	h.Write(merkleRoot)
	return h.Sum(nil)
}
