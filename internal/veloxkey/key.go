// Package veloxkey defines the fixed-width key and value types shared by
// every storage layer: the skiplist, the memtable overlay, the WAL records,
// and the SSTable records all compare and copy keys the same way.
package veloxkey

import "bytes"

// KeySize is the fixed width of every key in the store (spec §3).
const KeySize = 8

// ValueSize is the fixed width of every value in the store (spec §3).
const ValueSize = 256

// Key is an opaque fixed-width byte string. The zero Key sorts first and a
// Key of all 0xFF bytes sorts last, which lets the skiplist use them as
// head/tail sentinels without a separate "infinity" marker.
type Key [KeySize]byte

// MinKey is the smallest possible key under Compare.
func MinKey() Key { return Key{} }

// MaxKey is the largest possible key under Compare.
func MaxKey() Key {
	var k Key
	for i := range k {
		k[i] = 0xFF
	}
	return k
}

// NewKey copies raw into a fixed-width Key, left-aligned and zero-padded.
// raw longer than KeySize is truncated, matching the wire format where
// callers are expected to already send exactly KeySize bytes.
func NewKey(raw []byte) Key {
	var k Key
	n := copy(k[:], raw)
	_ = n
	return k
}

// Bytes returns the key as a byte slice. The caller must not mutate it.
func (k Key) Bytes() []byte { return k[:] }

// Compare orders keys by length then by byte value (spec §3, §9 "Total
// ordering of keys"). Since every Key here is exactly KeySize bytes the
// length comparison is always a tie, but the two-step rule is spelled out
// explicitly to match the spec's definition of the total order precisely,
// and because the on-disk record format is keyed on this exact order.
func Compare(a, b Key) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return bytes.Compare(a[:], b[:])
}

// Less reports whether a sorts strictly before b.
func Less(a, b Key) bool { return Compare(a, b) < 0 }

// Next returns the lexicographically next key after k, treating k as a
// big-endian integer. ok is false if k is already MaxKey, in which case
// there is no representable successor.
func Next(k Key) (next Key, ok bool) {
	next = k
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			return next, true
		}
	}
	return next, false
}
