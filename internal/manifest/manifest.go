// Package manifest tracks which SSTables are live at each level, persisted
// as an append-only log of fixed 4-byte records (spec §4.6, §6).
//
// Grounded on the teacher's velocity.go levels [][]*SSTable field and its
// background compaction-loop goroutine shape, and on
// return2faye-SiltKV/internal/lsm/db.go's flushMemtable/manifest append
// split — SiltKV's JSON-list manifest is not reused since spec §6 pins the
// manifest to fixed 4-byte records.
package manifest

import (
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/oarkflow/veloxkv/internal/walio"
)

// NumLevels is the number of levels the level set carries (spec §4.6: 0
// through 5).
const NumLevels = 6

// recordSize is live(1) + add_flag(1) + level(1) + id(1) (spec §4.6/§6).
const recordSize = 4

const fileName = "manifest"

type op struct {
	add   bool
	level int
	id    uint8
	done  chan error
}

// Manifest is the background-flushed record of every SSTable add/remove,
// replayed at startup to rebuild each level's live set (spec §4.6).
type Manifest struct {
	rf *walio.RecordFile

	mu     sync.Mutex
	levels [NumLevels]map[uint8]struct{}
	nextID [NumLevels]uint8

	ch     chan op
	wg     sync.WaitGroup
	closed atomic.Bool
}

func newManifest(rf *walio.RecordFile) *Manifest {
	m := &Manifest{rf: rf, ch: make(chan op, 64)}
	for i := range m.levels {
		m.levels[i] = make(map[uint8]struct{})
	}
	return m
}

// Create starts a brand-new manifest log in dir, which must already exist.
func Create(dir string, capacity int) (*Manifest, error) {
	rf, err := walio.CreateRecordFile(filepath.Join(dir, fileName), recordSize, capacity)
	if err != nil {
		return nil, err
	}
	m := newManifest(rf)
	m.startFlusher()
	return m, nil
}

// Open replays an existing manifest log, rebuilding each level's live set
// and setting each level's next-ID counter to one past the largest ID seen,
// which keeps new IDs replay-deterministic without needing a random
// identifier source.
func Open(dir string, capacity int) (*Manifest, error) {
	rf, err := walio.OpenRecordFile(filepath.Join(dir, fileName), recordSize, capacity)
	if err != nil {
		return nil, err
	}
	m := newManifest(rf)
	rf.Iter(func(_ int, rec []byte) bool {
		m.apply(rec[1] == 1, int(rec[2]), rec[3])
		return true
	})
	m.startFlusher()
	return m, nil
}

func (m *Manifest) apply(add bool, level int, id uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if add {
		m.levels[level][id] = struct{}{}
	} else {
		delete(m.levels[level], id)
	}
	if id >= m.nextID[level] && id < 255 {
		m.nextID[level] = id + 1
	}
}

// startFlusher launches the background thread that drains the bounded
// append channel, matching the teacher's compactionLoop goroutine shape
// repurposed to manifest persistence rather than compaction.
func (m *Manifest) startFlusher() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for o := range m.ch {
			rec := []byte{1, 0, byte(o.level), o.id}
			if o.add {
				rec[1] = 1
			}
			err := func() error {
				if _, err := m.rf.Append(rec); err != nil {
					return err
				}
				return m.rf.Sync()
			}()
			if err == nil {
				m.apply(o.add, o.level, o.id)
			}
			o.done <- err
		}
	}()
}

func (m *Manifest) submit(add bool, level int, id uint8) error {
	done := make(chan error, 1)
	m.ch <- op{add: add, level: level, id: id, done: done}
	return <-done
}

// Add records an SSTable as live at level, blocking until the record is
// durably appended.
func (m *Manifest) Add(level int, id uint8) error { return m.submit(true, level, id) }

// Remove records an SSTable as no longer live at level.
func (m *Manifest) Remove(level int, id uint8) error { return m.submit(false, level, id) }

// NextID returns the next unused SSTable ID for level, without consuming
// it — the caller should Add the ID it chooses to persist the assignment.
func (m *Manifest) NextID(level int) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID[level]
}

// LiveIDs returns every SSTable ID currently live at level, ascending.
func (m *Manifest) LiveIDs(level int) []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint8, 0, len(m.levels[level]))
	for id := range m.levels[level] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close drains the flusher and closes the underlying record file.
func (m *Manifest) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		close(m.ch)
	}
	m.wg.Wait()
	return m.rf.Close()
}
