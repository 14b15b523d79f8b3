package memtable

import (
	"testing"

	"github.com/oarkflow/veloxkv/internal/veloxkey"
)

func key(b byte) veloxkey.Key {
	var k veloxkey.Key
	k[veloxkey.KeySize-1] = b
	return k
}

func val(b byte) veloxkey.Value {
	var v veloxkey.Value
	v[0] = b
	return v
}

func TestPutGet(t *testing.T) {
	m := New()
	m.Put(key(1), val(10))
	m.Put(key(2), val(20))

	p, ok := m.Get(key(1))
	if !ok || p.Tombstone || p.Value != val(10) {
		t.Fatalf("Get(1) = %+v, %v", p, ok)
	}

	if _, ok := m.Get(key(99)); ok {
		t.Fatalf("Get(99) unexpectedly found")
	}
}

func TestPutOverwriteReturnsNewest(t *testing.T) {
	m := New()
	m.Put(key(1), val(1))
	m.Put(key(1), val(2))
	m.Put(key(1), val(3))

	p, ok := m.Get(key(1))
	if !ok || p.Value != val(3) {
		t.Fatalf("Get(1) = %+v, want val(3)", p)
	}
	if n := m.Len(); n != 3 {
		t.Fatalf("Len() = %d, want 3 (every write is a distinct version)", n)
	}
}

func TestDeleteIsTombstoneHit(t *testing.T) {
	m := New()
	m.Put(key(1), val(1))
	m.Delete(key(1))

	p, ok := m.Get(key(1))
	if !ok {
		t.Fatalf("Get(1) after Delete should still report a hit")
	}
	if !p.Tombstone {
		t.Fatalf("Get(1) after Delete should be a tombstone")
	}
}

func TestScanOrderAndDedup(t *testing.T) {
	m := New()
	m.Put(key(5), val(50))
	m.Put(key(1), val(10))
	m.Put(key(1), val(11))
	m.Put(key(3), val(30))

	type pair struct {
		k veloxkey.Key
		v byte
	}
	var got []pair
	m.Scan(key(0), key(10), func(k veloxkey.Key, p veloxkey.Payload) bool {
		got = append(got, pair{k, p.Value[0]})
		return true
	})

	want := []pair{{key(1), 11}, {key(3), 30}, {key(5), 50}}
	if len(got) != len(want) {
		t.Fatalf("Scan = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Scan[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
