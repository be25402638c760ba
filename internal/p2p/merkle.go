package p2p

import "golang.org/x/crypto/blake2b"

// merkleChunkSize is the leaf size used when hashing blob content.
const merkleChunkSize = 4096

// MerkleRoot computes a blake2b-256 merkle root over blob content in
// fixed-size chunks. An empty blob hashes to the digest of no data.
func MerkleRoot(data []byte) []byte {
	if len(data) == 0 {
		sum := blake2b.Sum256(nil)
		return sum[:]
	}

	var level [][]byte
	for off := 0; off < len(data); off += merkleChunkSize {
		end := off + merkleChunkSize
		if end > len(data) {
			end = len(data)
		}
		sum := blake2b.Sum256(data[off:end])
		level = append(level, sum[:])
	}

	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				// Odd node is carried up unchanged.
				next = append(next, level[i])
				continue
			}
			h, _ := blake2b.New256(nil)
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		level = next
	}
	return level[0]
}
