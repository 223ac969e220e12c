package p2p

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func hashN(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func TestBroadcastingTablePutTakeRemove(t *testing.T) {
	tbl := newBroadcastingTable()
	h := hashN(1)
	tbl.Put(h, []byte("raw"))
	if !tbl.Has(h) {
		t.Fatal("expected table to contain h")
	}
	raw, ok := tbl.TakeIfPresent(h)
	if !ok || string(raw) != "raw" {
		t.Fatalf("expected TakeIfPresent to return the stored bytes, got %q ok=%v", raw, ok)
	}
	if tbl.Has(h) {
		t.Fatal("expected TakeIfPresent to remove the entry")
	}

	tbl.Put(h, []byte("raw2"))
	tbl.Remove(h)
	if tbl.Has(h) {
		t.Fatal("expected Remove to drop the entry")
	}
}

func TestBroadcastingTableBulkClearsAtCapacity(t *testing.T) {
	tbl := newBroadcastingTable()
	for i := 0; i < tableCapacity; i++ {
		h := hashN(byte(i))
		h[1] = byte(i >> 8)
		tbl.Put(h, []byte{byte(i)})
	}
	// one more insert should trigger the bulk clear, leaving only the
	// newest entry present.
	extra := hashN(200)
	extra[2] = 1
	tbl.Put(extra, []byte("latest"))
	if !tbl.Has(extra) {
		t.Fatal("expected the triggering entry to survive the clear")
	}
	if tbl.Has(hashN(0)) {
		t.Fatal("expected the table to have been bulk-cleared")
	}
}

func TestKnownInvTableAddIfNew(t *testing.T) {
	tbl := newKnownInvTable()
	h := hashN(5)
	if !tbl.AddIfNew(h) {
		t.Fatal("expected the first add to report new")
	}
	if tbl.AddIfNew(h) {
		t.Fatal("expected a repeat add to report not-new")
	}
}
