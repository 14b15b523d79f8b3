// Package mergeiter implements the N-way priority merge of spec §4.8: the
// single read path that reconciles the active memtable, the frozen
// memtable deque, and every on-disk SSTable level into one deduplicated,
// ascending sequence.
//
// Grounded on return2faye-SiltKV/internal/sstable/merge_iterator.go for the
// heap-of-iterators shape, generalized to accept memtable and SSTable
// sources uniformly through one small Source interface.
package mergeiter

import (
	"container/heap"

	"github.com/oarkflow/veloxkv/internal/memtable"
	"github.com/oarkflow/veloxkv/internal/sstable"
	"github.com/oarkflow/veloxkv/internal/veloxkey"
)

// Entry is one (key, payload) pair produced by a merge source.
type Entry struct {
	Key     veloxkey.Key
	Payload veloxkey.Payload
}

// Source yields entries in strictly ascending key order, already
// deduplicated to a single entry per key.
type Source interface {
	Next() (Entry, bool)
}

// Merge performs the N-way priority merge over sources ordered from
// highest priority (index 0: the active memtable) to lowest (the oldest
// SSTable level), per spec §4.7/§4.8: the active memtable beats every
// frozen memtable, frozen memtables beat every SSTable level, newer
// frozen generations beat older ones, and lower levels beat higher ones.
// Ties on key are resolved in favor of the lower source index; every
// other source's entry for that key is silently dropped (first wins).
func Merge(sources []Source, visit func(Entry) bool) {
	h := &itemHeap{}
	heap.Init(h)
	for i, s := range sources {
		if e, ok := s.Next(); ok {
			heap.Push(h, item{entry: e, srcIdx: i, src: s})
		}
	}

	var lastKey veloxkey.Key
	haveLast := false
	for h.Len() > 0 {
		it := heap.Pop(h).(item)
		if next, ok := it.src.Next(); ok {
			heap.Push(h, item{entry: next, srcIdx: it.srcIdx, src: it.src})
		}

		if haveLast && veloxkey.Compare(it.entry.Key, lastKey) == 0 {
			continue
		}
		haveLast = true
		lastKey = it.entry.Key

		if !visit(it.entry) {
			return
		}
	}
}

type item struct {
	entry  Entry
	srcIdx int
	src    Source
}

type itemHeap []item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	c := veloxkey.Compare(h[i].entry.Key, h[j].entry.Key)
	if c != 0 {
		return c < 0
	}
	return h[i].srcIdx < h[j].srcIdx
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

type sliceSource struct {
	entries []Entry
	idx     int
}

func (s *sliceSource) Next() (Entry, bool) {
	if s.idx >= len(s.entries) {
		return Entry{}, false
	}
	e := s.entries[s.idx]
	s.idx++
	return e, true
}

func collect(scan func(func(veloxkey.Key, veloxkey.Payload) bool)) Source {
	var entries []Entry
	scan(func(k veloxkey.Key, p veloxkey.Payload) bool {
		entries = append(entries, Entry{Key: k, Payload: p})
		return true
	})
	return &sliceSource{entries: entries}
}

// FromMemtable adapts a memtable's range scan into a merge Source.
func FromMemtable(m *memtable.Memtable, start, end veloxkey.Key) Source {
	return collect(func(visit func(veloxkey.Key, veloxkey.Payload) bool) {
		m.Scan(start, end, visit)
	})
}

// FromSSTable adapts an SSTable's range scan into a merge Source.
func FromSSTable(s *sstable.SSTable, start, end veloxkey.Key) Source {
	return collect(func(visit func(veloxkey.Key, veloxkey.Payload) bool) {
		s.Scan(start, end, visit)
	})
}
