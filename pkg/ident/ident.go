// Package ident allocates collision-resistant 64-bit tunnel identifiers.
package ident

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Allocate folds the 128 random bits of a v4 UUID into a positive 64-bit
// identifier. The allocator is stateless; the caller is responsible for
// probing the store and retrying on the (practically negligible) collision.
func Allocate() int64 {
	b := uuid.New()
	folded := binary.LittleEndian.Uint64(b[:8]) ^ binary.LittleEndian.Uint64(b[8:])
	// clear the sign bit, zero is reserved as "unassigned"
	id := int64(folded &^ (1 << 63))
	if id == 0 {
		return Allocate()
	}
	return id
}
