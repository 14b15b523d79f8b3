// Package sstable implements the immutable, sorted, on-disk table spec
// §4.5 describes: a flush of a memtable generation, written once and read
// many times via a binary search tuned to the table's exact boundary rule.
//
// Grounded on the teacher's sstable.go for the Save/Open naming and on
// return2faye-SiltKV's internal/sstable/sstable.go for the reader/writer
// split.
package sstable

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/oarkflow/veloxkv/internal/veloxkey"
	"github.com/oarkflow/veloxkv/internal/walio"
)

// recordSize is the tombstone flag plus a fixed key and value (spec §6).
const recordSize = 1 + veloxkey.KeySize + veloxkey.ValueSize

// Entry is one (key, payload) pair as handed to Save. Entries must already
// be sorted ascending by key with duplicates removed — the memtable's Scan
// and the merge iterator both produce sequences in that shape.
type Entry struct {
	Key     veloxkey.Key
	Payload veloxkey.Payload
}

// SSTable is an immutable sorted vector of entries, mmap-backed once
// opened for reading (spec §4.5).
type SSTable struct {
	ID    uint32
	Level int

	data    []byte
	count   int
	mmapped bool
	f       *os.File
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, recordSize)
	if e.Payload.Tombstone {
		buf[0] = 1
	}
	copy(buf[1:1+veloxkey.KeySize], e.Key.Bytes())
	copy(buf[1+veloxkey.KeySize:], e.Payload.Value.Bytes())
	return buf
}

// Save writes entries to path using the async file primitive (spec §4.2)
// for every record's offset write, waits for every write to complete, and
// returns the table reopened as a read-only mmap view.
func Save(path string, id uint32, level int, entries []Entry) (*SSTable, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	size := int64(len(entries)) * int64(recordSize)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}

	af := walio.OpenAsyncFile(f, 4)
	pending := make([]<-chan error, 0, len(entries))
	for i, e := range entries {
		_, done := af.WriteAt(int64(i)*int64(recordSize), encodeEntry(e))
		pending = append(pending, done)
	}
	for _, done := range pending {
		if err := <-done; err != nil {
			af.Close()
			return nil, err
		}
	}
	if err := af.Sync(); err != nil {
		af.Close()
		return nil, err
	}
	if err := af.Close(); err != nil {
		return nil, err
	}

	return Open(path, id, level)
}

// Open mmaps an existing table file for reading.
func Open(path string, id uint32, level int) (*SSTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		f.Close()
		return &SSTable{ID: id, Level: level}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &SSTable{
		ID:      id,
		Level:   level,
		data:    data,
		count:   int(size) / recordSize,
		mmapped: true,
		f:       f,
	}, nil
}

func (s *SSTable) keyAt(i int) veloxkey.Key {
	off := i*recordSize + 1
	return veloxkey.NewKey(s.data[off : off+veloxkey.KeySize])
}

func (s *SSTable) payloadAt(i int) veloxkey.Payload {
	off := i * recordSize
	tomb := s.data[off] != 0
	voff := off + 1 + veloxkey.KeySize
	value := veloxkey.NewValue(s.data[voff : voff+veloxkey.ValueSize])
	return veloxkey.Payload{Tombstone: tomb, Value: value}
}

// search returns the largest index whose key is not strictly greater than
// key (spec §4.5: "base advances only when the probed key is not strictly
// greater than the target"). With a non-empty table the result is always
// in range; the caller compares keyAt(result) against key to know whether
// it was an exact hit.
func (s *SSTable) search(key veloxkey.Key) int {
	n := s.count
	base := 0
	for n > 1 {
		half := n / 2
		mid := base + half
		if veloxkey.Compare(s.keyAt(mid), key) <= 0 {
			base = mid
		}
		n -= half
	}
	return base
}

// Get returns the payload stored for an exact key match.
func (s *SSTable) Get(key veloxkey.Key) (veloxkey.Payload, bool) {
	if s.count == 0 {
		return veloxkey.Payload{}, false
	}
	idx := s.search(key)
	if veloxkey.Compare(s.keyAt(idx), key) == 0 {
		return s.payloadAt(idx), true
	}
	return veloxkey.Payload{}, false
}

// Scan visits every entry in [start, end) in ascending order, stopping
// early if visit returns false (spec §4.8 merge source contract).
func (s *SSTable) Scan(start, end veloxkey.Key, visit func(veloxkey.Key, veloxkey.Payload) bool) {
	if s.count == 0 {
		return
	}
	idx := s.search(start)
	if veloxkey.Compare(s.keyAt(idx), start) < 0 {
		idx++
	}
	for ; idx < s.count; idx++ {
		k := s.keyAt(idx)
		if !veloxkey.Less(k, end) {
			return
		}
		if !visit(k, s.payloadAt(idx)) {
			return
		}
	}
}

// Count returns the number of entries in the table.
func (s *SSTable) Count() int { return s.count }

// Close unmaps and closes the backing file.
func (s *SSTable) Close() error {
	if !s.mmapped {
		return nil
	}
	if err := unix.Munmap(s.data); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
