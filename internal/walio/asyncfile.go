// Package walio holds the on-disk building blocks of the storage engine:
// the async file primitive (spec §4.2), the mmap-backed fixed-record log
// (spec §4.3), and the WAL specialization of it (spec §4.4).
package walio

import (
	"os"
	"sync"

	"github.com/google/uuid"
)

// AsyncFile is the async file primitive of spec §4.2: a single-shot,
// offset-addressed write whose completion is delivered through a future,
// not a callback or blocking call.
//
// Spec §1/§9 explicitly scope the kernel-AIO-plus-signal-handler machinery
// out of the implemented core ("specified only by its contract"; a rewrite
// should "prefer a completion queue abstraction"). This is that completion
// queue: a small worker pool drains a job channel and resolves each job's
// ticket through a registry keyed by github.com/google/uuid, the same
// library the teacher uses to key lock/locker.go's tokens.
type AsyncFile struct {
	f    *os.File
	jobs chan writeJob
	wg   sync.WaitGroup

	mu      sync.Mutex
	waiters map[uuid.UUID]chan error
}

type writeJob struct {
	ticket uuid.UUID
	offset int64
	data   []byte
}

// OpenAsyncFile wraps f with a fixed-size worker pool that executes offset
// writes against it.
func OpenAsyncFile(f *os.File, workers int) *AsyncFile {
	if workers < 1 {
		workers = 1
	}
	af := &AsyncFile{
		f:       f,
		jobs:    make(chan writeJob, workers*4),
		waiters: make(map[uuid.UUID]chan error),
	}
	af.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go af.worker()
	}
	return af
}

func (af *AsyncFile) worker() {
	defer af.wg.Done()
	for job := range af.jobs {
		_, err := af.f.WriteAt(job.data, job.offset)

		af.mu.Lock()
		done, ok := af.waiters[job.ticket]
		delete(af.waiters, job.ticket)
		af.mu.Unlock()

		if ok {
			done <- err
			close(done)
		}
	}
}

// WriteAt submits an offset write and returns a ticket and a channel that
// receives exactly one value — the write's error, or nil — when it
// completes. The waiter registry entry for this ticket is removed the
// instant that value is delivered, so its live size tracks only in-flight
// writes, never request history (spec §13 "waker registry bound").
func (af *AsyncFile) WriteAt(offset int64, data []byte) (uuid.UUID, <-chan error) {
	ticket := uuid.New()
	done := make(chan error, 1)

	af.mu.Lock()
	af.waiters[ticket] = done
	af.mu.Unlock()

	af.jobs <- writeJob{ticket: ticket, offset: offset, data: data}
	return ticket, done
}

// Sync flushes the underlying file's data to stable storage.
func (af *AsyncFile) Sync() error { return af.f.Sync() }

// Close stops accepting new writes, waits for in-flight ones to finish,
// and closes the underlying file.
func (af *AsyncFile) Close() error {
	close(af.jobs)
	af.wg.Wait()
	return af.f.Close()
}
