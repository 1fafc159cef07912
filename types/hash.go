package types

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the size in bytes of block and transaction hashes.
const HashLength = 32

// Hash is a 32 byte digest identifying an L2 block or an L1 transaction.
type Hash [HashLength]byte

// HashFromBytes copies b into a Hash, failing if b is not exactly 32 bytes long.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashLength {
		return h, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidHashLength, HashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex parses a hex string with or without 0x prefix.
func HashFromHex(s string) (Hash, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("failed to decode hash: %w", err)
	}
	return HashFromBytes(b)
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// String returns the 0x prefixed hex encoding of the hash.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is all zero bytes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}
