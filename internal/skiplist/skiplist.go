// Package skiplist implements the lock-free ordered map of spec §4.1: an
// insert-only, multi-level, compare-and-swap linked structure that the
// memtable overlays to form the active write buffer.
//
// Grounded on other_examples/88b99d29_sukryu-golite__pkg-adapters-lockfree-memtable.go.go
// for the CAS-retry shape, and on original_source/agilulf_skiplist/src/skiplist.rs
// and linklist.rs for the per-level seek/retry-from-predecessor algorithm and
// the MaxLevel=128 constant.
package skiplist

import (
	"math/rand/v2"
	"sync/atomic"
)

// MaxLevel bounds how many levels a node's tower can span (spec §4.1, §5).
const MaxLevel = 128

// Less reports whether a sorts strictly before b under T's total order.
type Less[T any] func(a, b T) bool

type node[T any] struct {
	key  T
	next atomic.Pointer[node[T]]
	// down points to the node carrying the same key one level below. It is
	// set once at construction, before the node is published via CAS, and
	// is never mutated afterward — so reading it needs no synchronization.
	down *node[T]
}

// SkipList is a lock-free, insert-only ordered map keyed by T. There is no
// delete: nodes are linked in and never unlinked, which sidesteps ABA and
// safe-memory-reclamation concerns entirely (spec §4.1 "Memory").
type SkipList[T any] struct {
	less Less[T]
	head [MaxLevel]*node[T]
	tail [MaxLevel]*node[T]
	size atomic.Int64
}

// New builds an empty skip list. min and max must compare as the least and
// greatest possible values of T; they seed the head/tail sentinels at every
// level (spec §4.1 "head/tail sentinels carry the minimum/maximum").
func New[T any](less Less[T], min, max T) *SkipList[T] {
	sl := &SkipList[T]{less: less}
	var belowHead, belowTail *node[T]
	for lvl := 0; lvl < MaxLevel; lvl++ {
		h := &node[T]{key: min, down: belowHead}
		t := &node[T]{key: max, down: belowTail}
		h.next.Store(t)
		sl.head[lvl] = h
		sl.tail[lvl] = t
		belowHead, belowTail = h, t
	}
	return sl
}

// Len returns the number of Insert calls made. Inserting a key equal to an
// existing one links a second node and is counted again; callers that want
// multi-version semantics encode the version into T itself, as the memtable
// overlay does.
func (sl *SkipList[T]) Len() int64 { return sl.size.Load() }

func randomLevel() int {
	level := 1
	for rand.Float64() < 0.5 && level < MaxLevel {
		level++
	}
	return level
}

// seekAtLevel walks right from `from`, at from's level, while the successor
// key is strictly less than key, and returns the predecessor/successor pair.
// This is the single-level primitive both Insert's CAS-retry and the
// multi-level descent build on (spec §4.1 "Read is a predecessor seek").
func (sl *SkipList[T]) seekAtLevel(from *node[T], key T) (*node[T], *node[T]) {
	prev := from
	succ := prev.next.Load()
	for sl.less(succ.key, key) {
		prev = succ
		succ = prev.next.Load()
	}
	return prev, succ
}

type edge[T any] struct {
	prev, succ *node[T]
}

// seekAll finds the predecessor/successor pair at every level, descending
// via each predecessor's down pointer (spec: "a downward pointer to the
// corresponding node one level below"). Used once per Insert, before any
// CAS attempt, to seed the per-level retry loops.
func (sl *SkipList[T]) seekAll(key T) [MaxLevel]edge[T] {
	var edges [MaxLevel]edge[T]
	cur := sl.head[MaxLevel-1]
	for lvl := MaxLevel - 1; lvl >= 0; lvl-- {
		prev, succ := sl.seekAtLevel(cur, key)
		edges[lvl] = edge[T]{prev: prev, succ: succ}
		if lvl > 0 {
			cur = prev.down
		}
	}
	return edges
}

// seekDescend returns only the bottom-level predecessor/successor pair,
// reached by the same top-down descent (spec: "starting at the top-level
// head, advance right ... descend otherwise. The bottom-level predecessor
// is returned.").
func (sl *SkipList[T]) seekDescend(key T) (*node[T], *node[T]) {
	cur := sl.head[MaxLevel-1]
	var prev, succ *node[T]
	for lvl := MaxLevel - 1; lvl >= 0; lvl-- {
		prev, succ = sl.seekAtLevel(cur, key)
		if lvl > 0 {
			cur = prev.down
		}
	}
	return prev, succ
}

// Insert links a new node carrying key into a randomly drawn number of
// levels, publishing bottom level first and climbing up (spec §4.1
// "Correctness contracts": a reader that observes a node at level k has
// already observed it at every level below, since those publish first).
//
// On a CAS failure at one level the seek is re-run starting from the last
// successful predecessor at that level, not from the head (spec §4.1
// "Insert"), matching linklist.rs's seek_from.
func (sl *SkipList[T]) Insert(key T) {
	level := randomLevel()
	edges := sl.seekAll(key)

	var below *node[T]
	for lvl := 0; lvl < level; lvl++ {
		n := &node[T]{key: key, down: below}
		prev, succ := edges[lvl].prev, edges[lvl].succ
		for {
			n.next.Store(succ)
			if prev.next.CompareAndSwap(succ, n) {
				break
			}
			prev, succ = sl.seekAtLevel(prev, key)
		}
		below = n
	}
	sl.size.Add(1)
}

// Get returns the value stored for an exact key match, found by resolving
// the bottom-level predecessor and checking its successor (spec §4.1
// "Read").
func (sl *SkipList[T]) Get(key T) (T, bool) {
	_, succ := sl.seekDescend(key)
	if sl.equal(succ.key, key) {
		return succ.key, true
	}
	var zero T
	return zero, false
}

func (sl *SkipList[T]) equal(a, b T) bool {
	return !sl.less(a, b) && !sl.less(b, a)
}

// Range visits every key in [start, end) in ascending order, stopping early
// if visit returns false (spec §4.1 "Range scan"). Keys present at the
// start of the call are guaranteed to be seen; keys inserted concurrently
// during the scan may or may not be observed (spec: "a superset of keys
// present at some instant during the scan").
func (sl *SkipList[T]) Range(start, end T, visit func(key T) bool) {
	_, succ := sl.seekDescend(start)
	cur := succ
	bottomTail := sl.tail[0]
	for cur != bottomTail && sl.less(cur.key, end) {
		if !visit(cur.key) {
			return
		}
		cur = cur.next.Load()
	}
}
