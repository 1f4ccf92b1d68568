// Package canon provides the canonical serialization and hashing primitives
// shared by every tamper-evidence component. Blocks, tamper-log entries,
// record fingerprints and correlation hashes all serialize through the same
// function so that a digest computed in one process can be recomputed
// byte-for-byte in another.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Marshal encodes v as deterministic JSON: object keys are emitted in sorted
// order at every nesting level, HTML escaping is disabled, and numbers keep
// the exact textual form produced by encoding/json. Equal logical values
// always produce identical bytes regardless of field insertion order.
//
// Non-finite floats (NaN, ±Inf) are rejected by the underlying encoder and
// surface as an error; callers treat that as a failed append/correlate call.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: %w", err)
	}

	// Round-trip through an untyped value so struct fields become map keys
	// and get the same sorted-key treatment as map input. UseNumber keeps
	// the numeric text stable across the round trip.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("canon: %w", err)
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(decoded); err != nil {
		return nil, fmt.Errorf("canon: %w", err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}

// SHA3512Hex returns the hex-encoded SHA3-512 digest of data.
// Used for custody blocks and tamper-log entries.
func SHA3512Hex(data []byte) string {
	sum := sha3.Sum512(data)
	return fmt.Sprintf("%x", sum)
}

// SHA3256Hex returns the hex-encoded SHA3-256 digest of data.
// Used for record fingerprints and correlation hashes.
func SHA3256Hex(data []byte) string {
	sum := sha3.Sum256(data)
	return fmt.Sprintf("%x", sum)
}
