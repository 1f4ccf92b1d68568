package custody

import (
	"github.com/evidentia-labs/custodian/internal/canon"
)

// GenesisPrevHash is the sentinel previous-hash of the genesis block.
const GenesisPrevHash = "0"

// GenesisPayload is the fixed payload of the genesis block.
const GenesisPayload = "Starter Block"

// Block is a single link in the custody chain. It wraps one serialized
// record and is immutable once appended; any later change to its fields
// without recomputing Hash is what Verify detects.
type Block struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"` // epoch seconds at append time
	Payload   string  `json:"payload"`
	PrevHash  string  `json:"previous_hash"`
	Hash      string  `json:"hash"`
}

// computeHash returns the SHA3-512 over the canonical form of the block
// minus its stored hash. Canonical serialization makes the digest
// reproducible across processes regardless of field order.
func computeHash(b *Block) (string, error) {
	raw, err := canon.Marshal(map[string]any{
		"index":         b.Index,
		"timestamp":     b.Timestamp,
		"payload":       b.Payload,
		"previous_hash": b.PrevHash,
	})
	if err != nil {
		return "", err
	}
	return canon.SHA3512Hex(raw), nil
}

// newBlock builds a fully hashed block. It is the only constructor; blocks
// are never assembled field by field elsewhere.
func newBlock(index int, timestamp float64, payload, prevHash string) (Block, error) {
	b := Block{
		Index:     index,
		Timestamp: timestamp,
		Payload:   payload,
		PrevHash:  prevHash,
	}
	h, err := computeHash(&b)
	if err != nil {
		return Block{}, err
	}
	b.Hash = h
	return b, nil
}

// RecomputeHash re-derives the hash implied by the block's current fields.
// External verifiers use it against persisted blocks; a serialization
// failure yields an empty string, which never matches a stored digest.
func RecomputeHash(b *Block) string {
	h, err := computeHash(b)
	if err != nil {
		return ""
	}
	return h
}

// verifyChain checks every block after genesis for hash self-consistency
// and linkage to its predecessor. It reports the outcome as a boolean;
// a broken chain is an expected validation result, not an error.
func verifyChain(blocks []Block) bool {
	for i := 1; i < len(blocks); i++ {
		curr := &blocks[i]
		h, err := computeHash(curr)
		if err != nil || h != curr.Hash {
			return false
		}
		if curr.PrevHash != blocks[i-1].Hash {
			return false
		}
	}
	return len(blocks) > 0
}
