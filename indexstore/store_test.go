package indexstore

import (
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	if err := s.Upsert("blocks", "0001", []byte("a")); err != nil {
		t.Fatal(err)
	}
	v, found, err := s.Get("blocks", "0001")
	if err != nil || !found {
		t.Fatalf("expected found, got found=%v err=%v", found, err)
	}
	if string(v) != "a" {
		t.Fatalf("got %q", v)
	}
	if _, found, _ := s.Get("blocks", "missing"); found {
		t.Fatalf("expected not found")
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Upsert("blocks", "0001", []byte("same")); err != nil {
			t.Fatal(err)
		}
	}
	v, _, _ := s.Get("blocks", "0001")
	if string(v) != "same" {
		t.Fatalf("got %q", v)
	}
}

func TestScanIteratesPartitionInOrder(t *testing.T) {
	s := newTestStore(t)
	rows := []string{"0003", "0001", "0002"}
	for _, r := range rows {
		if err := s.Upsert("txs", r, []byte(r)); err != nil {
			t.Fatal(err)
		}
	}
	// unrelated partition must not leak into the scan.
	if err := s.Upsert("blocks", "0001", []byte("x")); err != nil {
		t.Fatal(err)
	}

	var got []string
	if err := s.Scan("txs", func(row string, value []byte) bool {
		got = append(got, row)
		return true
	}); err != nil {
		t.Fatal(err)
	}
	want := []string{"0001", "0002", "0003"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestScanStopsEarly(t *testing.T) {
	s := newTestStore(t)
	for _, r := range []string{"0001", "0002", "0003"} {
		s.Upsert("txs", r, []byte(r))
	}
	var seen int
	s.Scan("txs", func(row string, value []byte) bool {
		seen++
		return seen < 2
	})
	if seen != 2 {
		t.Fatalf("expected scan to stop after 2 rows, saw %d", seen)
	}
}

func TestScanRange(t *testing.T) {
	s := newTestStore(t)
	for _, r := range []string{"0001", "0002", "0003", "0004"} {
		s.Upsert("balances", r, []byte(r))
	}
	rows, err := s.ScanRange("balances", "0002", "0004")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %v", len(rows), rows)
	}
	if _, ok := rows["0002"]; !ok {
		t.Fatalf("expected 0002 in range")
	}
	if _, ok := rows["0004"]; ok {
		t.Fatalf("0004 should be exclusive of the range limit")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	s.Upsert("blocks", "0001", []byte("a"))
	if err := s.Delete("blocks", "0001"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.Get("blocks", "0001"); found {
		t.Fatalf("expected row removed")
	}
}

func TestRejectRecordRoundtrip(t *testing.T) {
	s := newTestStore(t)
	if _, found, err := s.GetReject("deadbeef"); err != nil || found {
		t.Fatalf("expected no reject record yet, found=%v err=%v", found, err)
	}
	rec := RejectRecord{Code: 0x40, Reason: "dust"}
	if err := s.SaveReject("deadbeef", rec); err != nil {
		t.Fatal(err)
	}
	got, found, err := s.GetReject("deadbeef")
	if err != nil || !found {
		t.Fatalf("expected reject record, found=%v err=%v", found, err)
	}
	if got != rec {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
}
