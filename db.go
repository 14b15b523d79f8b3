// Package veloxkv is the root storage engine: a single active memtable
// backed by a write-ahead log, a deque of frozen memtables awaiting
// flush, a manifest of live SSTables, and up to manifest.NumLevels levels
// of flushed tables (spec §4.7).
//
// Grounded on the teacher's velocity.go DB struct field layout and
// Put/rotate flow, restructured around the exact rotate/freeze/flush
// pipeline spec §4.7 describes rather than the teacher's size-threshold-
// plus-compaction-loop design. Compaction itself is out of scope (spec
// §9(a), SPEC_FULL.md §13): levels 1 through 5 are read but never
// populated by anything other than a human pre-loading files out of band.
package veloxkv

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/oarkflow/veloxkv/internal/manifest"
	"github.com/oarkflow/veloxkv/internal/memtable"
	"github.com/oarkflow/veloxkv/internal/mergeiter"
	"github.com/oarkflow/veloxkv/internal/sstable"
	"github.com/oarkflow/veloxkv/internal/veloxkey"
	"github.com/oarkflow/veloxkv/internal/walio"
)

// ErrBaseDirRequired is returned by Open when Config.BaseDir is empty.
var ErrBaseDirRequired = errors.New("veloxkv: base dir required")

// Config configures a DB (spec §6; teacher's velocity.go Config struct).
type Config struct {
	// BaseDir holds the WAL segment, manifest, and SSTable files.
	BaseDir string
	// MemtableLimit is the entry count at which the active memtable is
	// frozen and a fresh one started (spec §5, §13: measured by entry
	// count, not bytes, since every entry in this fixed-width domain is
	// the same size).
	MemtableLimit int
	// WALCapacity and ManifestCapacity bound the fixed-record files
	// backing the WAL and the manifest, in records.
	WALCapacity      int
	ManifestCapacity int
}

func (c Config) withDefaults() Config {
	if c.MemtableLimit <= 0 {
		c.MemtableLimit = 4096
	}
	if c.WALCapacity <= 0 {
		c.WALCapacity = 1 << 16
	}
	if c.ManifestCapacity <= 0 {
		c.ManifestCapacity = 1 << 16
	}
	return c
}

// frozenMemtable pairs a frozen memtable with the WAL generation that
// backs it, so the segment file can be deleted once the memtable is
// durably flushed to an SSTable and recorded in the manifest (spec §4.6
// step 6, §3 "Lifecycles").
type frozenMemtable struct {
	mt            *memtable.Memtable
	walGeneration int
}

// DB is the storage engine.
type DB struct {
	cfg Config

	// mu guards the active memtable and WAL handles together, as a
	// single unit, per spec §5: writes take the read-side to apply
	// (letting concurrent writers proceed through the lock-free
	// memtable and WAL append path without serializing on each other)
	// and the rotate path takes the write-side to swap both handles
	// atomically.
	mu     sync.RWMutex
	active *memtable.Memtable
	wal    *walio.WAL

	frozenMu sync.Mutex
	frozen   []frozenMemtable // oldest first

	manifest *manifest.Manifest

	levelMu sync.RWMutex
	levels  [manifest.NumLevels][]*sstable.SSTable

	flushCh chan struct{}
	closing chan struct{}
	wg      sync.WaitGroup
}

// Open opens or creates a DB rooted at cfg.BaseDir, replaying the WAL and
// manifest if they already exist (spec §4.7 "Startup").
func Open(cfg Config) (*DB, error) {
	if cfg.BaseDir == "" {
		return nil, ErrBaseDirRequired
	}
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("veloxkv: create base dir: %w", err)
	}

	mf, err := openOrCreateManifest(cfg)
	if err != nil {
		return nil, fmt.Errorf("veloxkv: open manifest: %w", err)
	}

	db := &DB{
		cfg:      cfg,
		manifest: mf,
		flushCh:  make(chan struct{}, 1),
		closing:  make(chan struct{}),
	}

	for level := 0; level < manifest.NumLevels; level++ {
		for _, id := range mf.LiveIDs(level) {
			path := db.sstablePath(level, id)
			table, err := sstable.Open(path, uint32(id), level)
			if err != nil {
				return nil, fmt.Errorf("veloxkv: load sstable level %d id %d: %w", level, id, err)
			}
			db.levels[level] = append(db.levels[level], table)
		}
	}

	wal, active, frozen, err := db.openWAL()
	if err != nil {
		return nil, fmt.Errorf("veloxkv: open wal: %w", err)
	}
	db.wal = wal
	db.active = active
	db.frozen = frozen

	db.wg.Add(1)
	go db.flushLoop()
	if len(frozen) > 0 {
		select {
		case db.flushCh <- struct{}{}:
		default:
		}
	}

	return db, nil
}

func openOrCreateManifest(cfg Config) (*manifest.Manifest, error) {
	path := filepath.Join(cfg.BaseDir, "manifest")
	if _, err := os.Stat(path); err == nil {
		return manifest.Open(cfg.BaseDir, cfg.ManifestCapacity)
	}
	return manifest.Create(cfg.BaseDir, cfg.ManifestCapacity)
}

// openWAL recovers every WAL segment found in BaseDir: each already-
// rotated-but-unflushed "log.<N>" segment is replayed into its own frozen
// memtable (preserving the normal flush/delete pipeline for it), and the
// live "log" segment is replayed into a fresh active memtable (spec §8:
// post-restart state must equal replaying every acknowledged write of a
// crashed sequence, not just the live segment's).
func (db *DB) openWAL() (*walio.WAL, *memtable.Memtable, []frozenMemtable, error) {
	gens, err := walio.ListRotatedSegments(db.cfg.BaseDir)
	if err != nil {
		return nil, nil, nil, err
	}

	var frozen []frozenMemtable
	maxGen := 0
	for _, gen := range gens {
		if gen > maxGen {
			maxGen = gen
		}
		seg, err := walio.OpenSegment(db.cfg.BaseDir, gen, db.cfg.WALCapacity)
		if err != nil {
			return nil, nil, nil, err
		}
		mt := memtable.New()
		seg.Iter(func(key veloxkey.Key, payload veloxkey.Payload, _ uint64) bool {
			if payload.Tombstone {
				mt.Delete(key)
			} else {
				mt.Put(key, payload.Value)
			}
			return true
		})
		if err := seg.Close(); err != nil {
			return nil, nil, nil, err
		}
		frozen = append(frozen, frozenMemtable{mt: mt, walGeneration: gen})
	}

	path := filepath.Join(db.cfg.BaseDir, "log")
	active := memtable.New()

	if _, err := os.Stat(path); err == nil {
		wal, err := walio.Open(db.cfg.BaseDir, db.cfg.WALCapacity, maxGen)
		if err != nil {
			return nil, nil, nil, err
		}
		wal.Iter(func(key veloxkey.Key, payload veloxkey.Payload, _ uint64) bool {
			if payload.Tombstone {
				active.Delete(key)
			} else {
				active.Put(key, payload.Value)
			}
			return true
		})
		return wal, active, frozen, nil
	}

	wal, err := walio.Create(db.cfg.BaseDir, db.cfg.WALCapacity, maxGen)
	if err != nil {
		return nil, nil, nil, err
	}
	return wal, active, frozen, nil
}

func (db *DB) sstablePath(level int, id uint8) string {
	return filepath.Join(db.cfg.BaseDir, fmt.Sprintf("sstable-%d-%d", level, id))
}

// Put writes value for key, returning once the write is durable in the
// WAL (spec §4.7). Only the read-side of mu is held while applying the
// write, so concurrent Puts/Deletes proceed through the lock-free
// memtable and WAL append path without serializing on each other (spec
// §5); rotation is handled separately, out of this critical section.
func (db *DB) Put(key veloxkey.Key, value veloxkey.Value) error {
	db.mu.RLock()
	active := db.active
	wal := db.wal
	serial := active.Put(key, value)
	err := wal.PutSync(key, value, serial)
	db.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("veloxkv: wal put: %w", err)
	}

	db.maybeRotate(active)
	return nil
}

// Delete records a tombstone for key.
func (db *DB) Delete(key veloxkey.Key) error {
	db.mu.RLock()
	active := db.active
	wal := db.wal
	serial := active.Delete(key)
	err := wal.DeleteSync(key, serial)
	db.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("veloxkv: wal delete: %w", err)
	}

	db.maybeRotate(active)
	return nil
}

// maybeRotate freezes the active memtable once it reaches
// cfg.MemtableLimit entries, rotating the WAL segment and starting a
// fresh active memtable, then wakes the flusher (spec §4.7 "rotate").
// written is the memtable the caller just wrote into; maybeRotate
// re-checks db.active against it under the exclusive lock so that only
// the first of several concurrent callers crossing the threshold actually
// rotates.
func (db *DB) maybeRotate(written *memtable.Memtable) {
	if written.Len() < int64(db.cfg.MemtableLimit) {
		return
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.active != written {
		return
	}

	gen, err := db.wal.Rotate()
	if err != nil {
		log.Printf("veloxkv: wal rotate failed: %v", err)
		return
	}

	db.frozenMu.Lock()
	db.frozen = append(db.frozen, frozenMemtable{mt: db.active, walGeneration: gen})
	db.frozenMu.Unlock()

	db.active = memtable.New()

	select {
	case db.flushCh <- struct{}{}:
	default:
	}
}

func (db *DB) flushLoop() {
	defer db.wg.Done()
	for {
		select {
		case <-db.closing:
			return
		case <-db.flushCh:
			db.flushOldest()
		}
	}
}

// flushOldest writes the oldest frozen memtable to a new level-0 SSTable,
// records it in the manifest, and deletes the WAL segment that backed it
// now that its data is durable elsewhere (spec §4.7 "flush", §4.6 step 6).
func (db *DB) flushOldest() {
	db.frozenMu.Lock()
	if len(db.frozen) == 0 {
		db.frozenMu.Unlock()
		return
	}
	fm := db.frozen[0]
	db.frozenMu.Unlock()

	entries := make([]sstable.Entry, 0, fm.mt.Len())
	fm.mt.Scan(veloxkey.MinKey(), veloxkey.MaxKey(), func(k veloxkey.Key, p veloxkey.Payload) bool {
		entries = append(entries, sstable.Entry{Key: k, Payload: p})
		return true
	})
	// Scan's upper bound is exclusive, so the largest key is fetched apart.
	if p, ok := fm.mt.Get(veloxkey.MaxKey()); ok {
		entries = append(entries, sstable.Entry{Key: veloxkey.MaxKey(), Payload: p})
	}

	id := db.manifest.NextID(0)
	table, err := sstable.Save(db.sstablePath(0, id), uint32(id), 0, entries)
	if err != nil {
		log.Printf("veloxkv: flush failed: %v", err)
		return
	}
	if err := db.manifest.Add(0, id); err != nil {
		log.Printf("veloxkv: manifest add failed: %v", err)
		return
	}

	db.levelMu.Lock()
	db.levels[0] = append(db.levels[0], table)
	db.levelMu.Unlock()

	if err := os.Remove(walio.SegmentPath(db.cfg.BaseDir, fm.walGeneration)); err != nil {
		log.Printf("veloxkv: remove flushed wal segment %d: %v", fm.walGeneration, err)
	}

	db.frozenMu.Lock()
	db.frozen = db.frozen[1:]
	more := len(db.frozen) > 0
	db.frozenMu.Unlock()

	if more {
		select {
		case db.flushCh <- struct{}{}:
		default:
		}
	}
}

// Get resolves the highest-priority source with a hit: the active
// memtable, then frozen memtables newest to oldest, then SSTable levels
// 0 through 5 newest table to oldest within each level (spec §4.7). A
// tombstone hit reports "not found".
func (db *DB) Get(key veloxkey.Key) (veloxkey.Value, bool, error) {
	db.mu.RLock()
	active := db.active
	db.mu.RUnlock()

	if p, ok := active.Get(key); ok {
		return resolvePayload(p)
	}

	db.frozenMu.Lock()
	frozen := append([]frozenMemtable(nil), db.frozen...)
	db.frozenMu.Unlock()
	for i := len(frozen) - 1; i >= 0; i-- {
		if p, ok := frozen[i].mt.Get(key); ok {
			return resolvePayload(p)
		}
	}

	db.levelMu.RLock()
	defer db.levelMu.RUnlock()
	for lvl := 0; lvl < manifest.NumLevels; lvl++ {
		tables := db.levels[lvl]
		for i := len(tables) - 1; i >= 0; i-- {
			if p, ok := tables[i].Get(key); ok {
				return resolvePayload(p)
			}
		}
	}

	return veloxkey.Value{}, false, nil
}

func resolvePayload(p veloxkey.Payload) (veloxkey.Value, bool, error) {
	if p.Tombstone {
		return veloxkey.Value{}, false, nil
	}
	return p.Value, true, nil
}

// Scan visits every live key in [start, end) in ascending order, merging
// the active memtable, every frozen memtable, and every SSTable level
// through the priority merge iterator (spec §4.8).
func (db *DB) Scan(start, end veloxkey.Key, visit func(veloxkey.Key, veloxkey.Value) bool) {
	db.mu.RLock()
	active := db.active
	db.mu.RUnlock()

	db.frozenMu.Lock()
	frozen := append([]frozenMemtable(nil), db.frozen...)
	db.frozenMu.Unlock()

	db.levelMu.RLock()
	var levelTables [manifest.NumLevels][]*sstable.SSTable
	for lvl := range db.levels {
		levelTables[lvl] = append([]*sstable.SSTable(nil), db.levels[lvl]...)
	}
	db.levelMu.RUnlock()

	sources := make([]mergeiter.Source, 0, 1+len(frozen)+manifest.NumLevels)
	sources = append(sources, mergeiter.FromMemtable(active, start, end))
	for i := len(frozen) - 1; i >= 0; i-- {
		sources = append(sources, mergeiter.FromMemtable(frozen[i].mt, start, end))
	}
	for lvl := 0; lvl < manifest.NumLevels; lvl++ {
		tables := levelTables[lvl]
		for i := len(tables) - 1; i >= 0; i-- {
			sources = append(sources, mergeiter.FromSSTable(tables[i], start, end))
		}
	}

	mergeiter.Merge(sources, func(e mergeiter.Entry) bool {
		if e.Payload.Tombstone {
			return true
		}
		return visit(e.Key, e.Payload.Value)
	})
}

// Close stops the flusher, then closes the WAL, every SSTable, and the
// manifest.
func (db *DB) Close() error {
	close(db.closing)
	db.wg.Wait()

	walErr := db.wal.Close()

	db.levelMu.Lock()
	for lvl := range db.levels {
		for _, t := range db.levels[lvl] {
			if err := t.Close(); err != nil {
				log.Printf("veloxkv: closing sstable: %v", err)
			}
		}
	}
	db.levelMu.Unlock()

	mfErr := db.manifest.Close()

	if walErr != nil {
		return walErr
	}
	return mfErr
}
