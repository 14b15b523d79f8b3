package walio

import (
	"path/filepath"
	"testing"
)

func TestRecordFileAppendAndIter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records")
	rf, err := CreateRecordFile(path, 8, 4)
	if err != nil {
		t.Fatalf("CreateRecordFile: %v", err)
	}
	defer rf.Close()

	for i := byte(0); i < 3; i++ {
		rec := make([]byte, 8)
		rec[0] = 1
		rec[1] = i
		if _, err := rf.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if got := rf.Count(); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}

	var seen []byte
	rf.Iter(func(idx int, rec []byte) bool {
		seen = append(seen, rec[1])
		return true
	})
	if len(seen) != 3 || seen[0] != 0 || seen[1] != 1 || seen[2] != 2 {
		t.Fatalf("Iter order = %v", seen)
	}
}

func TestRecordFileFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records")
	rf, err := CreateRecordFile(path, 8, 2)
	if err != nil {
		t.Fatalf("CreateRecordFile: %v", err)
	}
	defer rf.Close()

	rec := make([]byte, 8)
	rec[0] = 1
	if _, err := rf.Append(rec); err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	if _, err := rf.Append(rec); err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	if _, err := rf.Append(rec); err != ErrRecordFileFull {
		t.Fatalf("Append 3 err = %v, want ErrRecordFileFull", err)
	}
}

func TestOpenRecordFileRecoversCursor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records")
	rf, err := CreateRecordFile(path, 8, 4)
	if err != nil {
		t.Fatalf("CreateRecordFile: %v", err)
	}
	rec := make([]byte, 8)
	rec[0] = 1
	rf.Append(rec)
	rf.Append(rec)
	if err := rf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenRecordFile(path, 8, 4)
	if err != nil {
		t.Fatalf("OpenRecordFile: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Count(); got != 2 {
		t.Fatalf("Count() after reopen = %d, want 2", got)
	}
}
