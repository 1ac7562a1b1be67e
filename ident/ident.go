// Package ident maps application-level UUIDs onto the fixed-width bytes32
// identifiers the contracts key bookings, exchanges and wallet registrations
// by. The encoding is lossless: the 16 raw UUID bytes occupy the first half
// of the word and the remainder is zero padding.
package ident

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentifier reports a frontend identifier that does not normalise
// to a 128-bit UUID.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ChainID is the 32-byte identifier form used across the contract ABIs.
type ChainID [32]byte

// ToChainID encodes a canonical or hyphenless UUID string into the on-chain
// form. Hyphens are stripped and case is ignored before validation.
func ToChainID(id string) (ChainID, error) {
	clean := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
	if len(clean) != 32 {
		return ChainID{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return ChainID{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	var out ChainID
	copy(out[:16], raw)
	return out, nil
}

// FromChainID decodes the on-chain form back into a canonical UUID string.
// The zero value carries no identifier and reports ok=false.
func FromChainID(b ChainID) (string, bool) {
	empty := true
	for _, v := range b {
		if v != 0 {
			empty = false
			break
		}
	}
	if empty {
		return "", false
	}
	u, err := uuid.FromBytes(b[:16])
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// FromChainIDBytes adapts a raw byte slice, as returned by ABI decoding,
// tolerating short or oversized input.
func FromChainIDBytes(b []byte) (string, bool) {
	if len(b) < 16 {
		return "", false
	}
	var id ChainID
	copy(id[:], b)
	return FromChainID(id)
}
