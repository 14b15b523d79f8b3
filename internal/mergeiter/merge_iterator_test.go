package mergeiter

import (
	"testing"

	"github.com/oarkflow/veloxkv/internal/veloxkey"
)

func k(b byte) veloxkey.Key {
	var key veloxkey.Key
	key[veloxkey.KeySize-1] = b
	return key
}

func v(b byte) veloxkey.Value {
	var val veloxkey.Value
	val[0] = b
	return val
}

func sliceOf(entries ...Entry) Source { return &sliceSource{entries: entries} }

func TestMergeHighestPriorityWins(t *testing.T) {
	// src0 is the active memtable (highest priority), src1 an older SSTable.
	src0 := sliceOf(Entry{Key: k(1), Payload: veloxkey.LivePayload(v(99))})
	src1 := sliceOf(
		Entry{Key: k(1), Payload: veloxkey.LivePayload(v(1))},
		Entry{Key: k(2), Payload: veloxkey.LivePayload(v(2))},
	)

	var got []Entry
	Merge([]Source{src0, src1}, func(e Entry) bool {
		got = append(got, e)
		return true
	})

	if len(got) != 2 {
		t.Fatalf("Merge produced %d entries, want 2", len(got))
	}
	if got[0].Key != k(1) || got[0].Payload.Value != v(99) {
		t.Fatalf("entry for key 1 = %+v, want value from higher-priority source", got[0])
	}
	if got[1].Key != k(2) || got[1].Payload.Value != v(2) {
		t.Fatalf("entry for key 2 = %+v", got[1])
	}
}

func TestMergeAscendingAcrossSources(t *testing.T) {
	src0 := sliceOf(Entry{Key: k(5), Payload: veloxkey.LivePayload(v(5))})
	src1 := sliceOf(Entry{Key: k(1), Payload: veloxkey.LivePayload(v(1))})
	src2 := sliceOf(Entry{Key: k(3), Payload: veloxkey.LivePayload(v(3))})

	var order []byte
	Merge([]Source{src0, src1, src2}, func(e Entry) bool {
		order = append(order, e.Key[veloxkey.KeySize-1])
		return true
	})

	want := []byte{1, 3, 5}
	if len(order) != len(want) {
		t.Fatalf("Merge order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Merge order = %v, want %v", order, want)
		}
	}
}

func TestMergeStopsEarly(t *testing.T) {
	src0 := sliceOf(
		Entry{Key: k(1), Payload: veloxkey.LivePayload(v(1))},
		Entry{Key: k(2), Payload: veloxkey.LivePayload(v(2))},
		Entry{Key: k(3), Payload: veloxkey.LivePayload(v(3))},
	)

	count := 0
	Merge([]Source{src0}, func(e Entry) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Fatalf("visit called %d times, want 2", count)
	}
}
