package walio

import (
	"errors"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrRecordFileFull is returned by Append once a RecordFile has reached its
// fixed capacity (spec §4.3: "a fixed-record file is pre-sized at
// creation").
var ErrRecordFileFull = errors.New("walio: record file is full")

// RecordFile is a memory-mapped, append-only array of fixed-width records.
// Byte 0 of each record is a liveness flag: non-zero once the record has
// been written, zero for slots beyond the append cursor (spec §4.3).
type RecordFile struct {
	f          *os.File
	data       []byte
	recordSize int
	capacity   int
	cursor     atomic.Int64
}

// CreateRecordFile creates and pre-sizes a new fixed-record file able to
// hold capacity records of recordSize bytes each.
func CreateRecordFile(path string, recordSize, capacity int) (*RecordFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	size := int64(recordSize) * int64(capacity)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return mapRecordFile(f, recordSize, capacity, 0)
}

// OpenRecordFile maps an existing fixed-record file, replaying its live
// record count by scanning the liveness flag from the start (spec §4.3
// "a reopened log recovers its cursor by scanning for the first dead
// record").
func OpenRecordFile(path string, recordSize, capacity int) (*RecordFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	want := int64(recordSize) * int64(capacity)
	if info.Size() != want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, err
		}
	}
	rf, err := mapRecordFile(f, recordSize, capacity, 0)
	if err != nil {
		return nil, err
	}
	cursor := 0
	for cursor < capacity && rf.data[cursor*recordSize] != 0 {
		cursor++
	}
	rf.cursor.Store(int64(cursor))
	return rf, nil
}

func mapRecordFile(f *os.File, recordSize, capacity int, cursor int64) (*RecordFile, error) {
	size := recordSize * capacity
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	rf := &RecordFile{f: f, data: data, recordSize: recordSize, capacity: capacity}
	rf.cursor.Store(cursor)
	return rf, nil
}

// Append writes rec (which must be exactly recordSize bytes, with a
// non-zero byte 0 marking it live) into the next free slot and returns
// that slot's index.
func (r *RecordFile) Append(rec []byte) (int, error) {
	idx := int(r.cursor.Add(1)) - 1
	if idx >= r.capacity {
		return 0, ErrRecordFileFull
	}
	copy(r.data[idx*r.recordSize:(idx+1)*r.recordSize], rec)
	return idx, nil
}

// Record returns the raw bytes of the record at idx. The caller must not
// retain the slice past the next Close.
func (r *RecordFile) Record(idx int) []byte {
	return r.data[idx*r.recordSize : (idx+1)*r.recordSize]
}

// Live reports whether the record at idx has been written.
func (r *RecordFile) Live(idx int) bool {
	return r.data[idx*r.recordSize] != 0
}

// Count returns the number of records appended so far.
func (r *RecordFile) Count() int {
	n := int(r.cursor.Load())
	if n > r.capacity {
		n = r.capacity
	}
	return n
}

// Iter visits every live record in append order, stopping early if visit
// returns false.
func (r *RecordFile) Iter(visit func(idx int, rec []byte) bool) {
	n := r.Count()
	for i := 0; i < n; i++ {
		if !visit(i, r.Record(i)) {
			return
		}
	}
}

// Sync flushes the mapped region to stable storage (spec §13 "WAL fsync
// policy": issued after every record append).
func (r *RecordFile) Sync() error {
	return unix.Msync(r.data, unix.MS_SYNC)
}

// Close unmaps the file and closes the descriptor.
func (r *RecordFile) Close() error {
	if err := unix.Munmap(r.data); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}
