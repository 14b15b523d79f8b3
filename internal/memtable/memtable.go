// Package memtable is the active, in-memory write buffer: a skiplist
// overlaid with a (key, serial) composite ordering so every write is an
// independent versioned insert rather than an in-place update (spec §3
// "Versioned entry", §4.1, §4.7).
//
// Grounded on the teacher's memtable.go MemTable type for the Put/Get/
// Delete/Size surface, and on return2faye-SiltKV's memtable.Memtable for
// the tombstone-aware Get returning (payload, found).
package memtable

import (
	"math"
	"sync/atomic"

	"github.com/oarkflow/veloxkv/internal/skiplist"
	"github.com/oarkflow/veloxkv/internal/veloxkey"
)

type entry struct {
	key     veloxkey.Key
	serial  uint64
	payload veloxkey.Payload
}

// lessEntry orders by key ascending, then by serial descending, so that a
// forward range over entries sharing a key visits the newest version
// first.
func lessEntry(a, b entry) bool {
	if c := veloxkey.Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.serial > b.serial
}

var (
	minEntry = entry{key: veloxkey.MinKey(), serial: math.MaxUint64}
	maxEntry = entry{key: veloxkey.MaxKey(), serial: 0}
)

// Memtable is the lock-free active write buffer described by spec §4.1 and
// §4.7. The zero value is not usable; construct with New.
type Memtable struct {
	sl     *skiplist.SkipList[entry]
	serial atomic.Uint64
	count  atomic.Int64
}

// New builds an empty memtable.
func New() *Memtable {
	return &Memtable{sl: skiplist.New(lessEntry, minEntry, maxEntry)}
}

func (m *Memtable) nextSerial() uint64 { return m.serial.Add(1) }

// Put records a live value for key at a freshly minted serial, returning
// that serial (spec §4.1 "serial is monotonic per memtable").
func (m *Memtable) Put(key veloxkey.Key, value veloxkey.Value) uint64 {
	s := m.nextSerial()
	m.sl.Insert(entry{key: key, serial: s, payload: veloxkey.LivePayload(value)})
	m.count.Add(1)
	return s
}

// Delete records a tombstone for key at a freshly minted serial.
func (m *Memtable) Delete(key veloxkey.Key) uint64 {
	s := m.nextSerial()
	m.sl.Insert(entry{key: key, serial: s, payload: veloxkey.TombstonePayload()})
	m.count.Add(1)
	return s
}

// rangeEndFor returns the exclusive upper bound entry for scanning every
// version of a single key.
func rangeEndFor(key veloxkey.Key) entry {
	next, ok := veloxkey.Next(key)
	if !ok {
		return maxEntry
	}
	return entry{key: next, serial: math.MaxUint64}
}

// Get returns the most recently written payload for key and whether any
// version of key exists at all. A tombstone is a hit with Payload.Tombstone
// set — distinct from "key never written" (spec §4.7).
func (m *Memtable) Get(key veloxkey.Key) (veloxkey.Payload, bool) {
	lo := entry{key: key, serial: math.MaxUint64}
	hi := rangeEndFor(key)

	var found veloxkey.Payload
	hit := false
	m.sl.Range(lo, hi, func(e entry) bool {
		found = e.payload
		hit = true
		return false
	})
	return found, hit
}

// Len reports the number of versioned entries written, used as the
// memtable's size measure (spec §13: entry count, not bytes, since every
// entry in the fixed-width key/value domain occupies identical space).
func (m *Memtable) Len() int64 { return m.count.Load() }

// Scan visits the newest payload for every key in [start, end) in
// ascending key order, stopping early if visit returns false (spec §4.7,
// §4.8 merge source contract).
func (m *Memtable) Scan(start, end veloxkey.Key, visit func(veloxkey.Key, veloxkey.Payload) bool) {
	lo := entry{key: start, serial: math.MaxUint64}
	hi := entry{key: end, serial: math.MaxUint64}

	var lastKey veloxkey.Key
	haveLast := false
	m.sl.Range(lo, hi, func(e entry) bool {
		if haveLast && veloxkey.Compare(e.key, lastKey) == 0 {
			return true
		}
		haveLast = true
		lastKey = e.key
		return visit(e.key, e.payload)
	})
}
