package state

import (
	"crypto/sha1"
	"encoding/binary"
)

// RingKey is a position on the circular key space [0, 2^32)
type RingKey uint32

// HashKey maps an identity or term onto the ring using the leading 32 bits of its SHA-1 digest
func HashKey(s string) RingKey {
	sum := sha1.Sum([]byte(s))
	return RingKey(binary.BigEndian.Uint32(sum[:4]))
}

func (n NodeId) Key() RingKey {
	return HashKey(string(n))
}

// InInterval reports whether k lies in the circular interval (lo, hi].
// When lo == hi the interval spans the whole ring.
func InInterval(k, lo, hi RingKey) bool {
	if lo < hi {
		return k > lo && k <= hi
	}
	return k > lo || k <= hi
}

// StrictlyBetween reports whether k lies in the open circular interval (lo, hi).
// When lo == hi every key except lo is between.
func StrictlyBetween(k, lo, hi RingKey) bool {
	if lo < hi {
		return k > lo && k < hi
	}
	return k > lo || k < hi
}

// FingerTarget is the first key covered by finger i of a node at key self
func FingerTarget(self RingKey, i int) RingKey {
	return self + RingKey(uint32(1)<<i)
}

// Distance is the clockwise distance from a to b
func Distance(a, b RingKey) uint32 {
	return uint32(b - a)
}
