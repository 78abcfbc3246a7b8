package model

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Hash is a position on the ring keyspace
type Hash uint64

// String renders the hash as fixed-width hex
func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// HashFunc maps an address to its ring position.
// Implementations must be pure: every node recomputes the hashes of the
// addresses it receives and all of them have to agree.
type HashFunc func(Address) Hash

// XXHash hashes the canonical ip:port text with xxHash64 (seed 0)
func XXHash(addr Address) Hash {
	return Hash(xxhash.Sum64String(addr.String()))
}

// Between reports whether x lies strictly inside the ring arc that starts
// after from and ends before to, walking in increasing hash order.
// When to < from the arc wraps across the seam of the keyspace.
func Between(from, x, to Hash) bool {
	if from < to {
		return from < x && x < to
	}
	return x > from || x < to
}
