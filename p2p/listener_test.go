package p2p

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/chainindex/indexer/indexstore"
	"github.com/chainindex/indexer/queue"
)

func newListenerHarness(t *testing.T) (*Listener, *indexstore.Store, queue.BroadcastQueue) {
	t.Helper()
	store, err := indexstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	bq := queue.NewMemoryBroadcastQueue()
	l := NewListener(Config{Store: store, Broadcast: bq})
	return l, store, bq
}

func testTx(lockTime uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxOut(wire.NewTxOut(1, []byte{0x6a}))
	tx.LockTime = lockTime
	return tx
}

func TestHandleTxClearsOutboxAndPublishes(t *testing.T) {
	l, _, _ := newListenerHarness(t)
	tx := testTx(1)
	h := tx.TxHash()
	l.outbox.Put(h, []byte("raw"))

	sub := l.TxFeed.Subscribe(1)
	defer sub.Unsubscribe()

	l.handleTx(tx)

	if l.outbox.Has(h) {
		t.Fatal("expected handleTx to clear the outbox entry")
	}
	select {
	case ev := <-sub.Chan():
		txEv, ok := ev.(NewTransactionEvent)
		if !ok || txEv.Tx != tx {
			t.Fatalf("expected NewTransactionEvent carrying the same tx, got %#v", ev)
		}
	default:
		t.Fatal("expected an event to have been published")
	}
}

func TestHandleRejectPersistsRecordAndClearsOutbox(t *testing.T) {
	l, store, _ := newListenerHarness(t)
	tx := testTx(2)
	h := tx.TxHash()
	l.outbox.Put(h, []byte("raw"))

	rej := &wire.MsgReject{Message: wire.CmdTx, Code: wire.RejectNonstandard, Reason: "non-standard", Hash: h}
	l.handleReject(rej)

	if l.outbox.Has(h) {
		t.Fatal("expected handleReject to clear the outbox entry")
	}
	rec, found, err := store.GetReject(h.String())
	if err != nil || !found {
		t.Fatalf("expected a persisted reject record, found=%v err=%v", found, err)
	}
	if rec.Reason != "non-standard" {
		t.Fatalf("expected reason %q, got %q", "non-standard", rec.Reason)
	}
}

func TestHandleRejectDuplicateIsNotPersisted(t *testing.T) {
	l, store, _ := newListenerHarness(t)
	tx := testTx(2)
	h := tx.TxHash()
	l.outbox.Put(h, []byte("raw"))

	rej := &wire.MsgReject{Message: wire.CmdTx, Code: wire.RejectDuplicate, Reason: "duplicate", Hash: h}
	l.handleReject(rej)

	if l.outbox.Has(h) {
		t.Fatal("expected handleReject to clear the outbox entry even for a duplicate")
	}
	if _, found, err := store.GetReject(h.String()); err != nil || found {
		t.Fatalf("expected a DUPLICATE reject to never be persisted, found=%v err=%v", found, err)
	}
}

func TestHandleRejectIgnoresNonTxCommands(t *testing.T) {
	l, store, _ := newListenerHarness(t)
	tx := testTx(3)
	h := tx.TxHash()
	l.handleReject(&wire.MsgReject{Message: wire.CmdBlock, Code: wire.RejectInvalid, Reason: "bad", Hash: h})
	if _, found, _ := store.GetReject(h.String()); found {
		t.Fatal("expected non-tx rejects to be ignored")
	}
}

func TestBroadcastConsumerAcksAlreadyConfirmedTx(t *testing.T) {
	l, store, bq := newListenerHarness(t)
	tx := testTx(4)
	h := tx.TxHash()
	if err := store.Upsert(h.String(), "summary", []byte("{}")); err != nil {
		t.Fatal(err)
	}

	if err := bq.Send(context.Background(), queue.Tx{TxID: h.String(), Raw: []byte("raw")}); err != nil {
		t.Fatal(err)
	}
	msg, err := bq.Receive(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.handleBroadcastMessage(context.Background(), msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if l.outbox.Has(h) {
		t.Fatal("expected a confirmed transaction never to enter the outbox")
	}
}

func TestBroadcastConsumerAbandonsAfterRetryBudget(t *testing.T) {
	l, _, bq := newListenerHarness(t)
	tx := testTx(5)
	h := tx.TxHash()

	raw := serializeTx(t, tx)

	if err := bq.Send(context.Background(), queue.Tx{TxID: h.String(), Raw: raw, Attempt: len(queue.RetryDelays)}); err != nil {
		t.Fatal(err)
	}
	msg, err := bq.Receive(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	// No peers are connected in this harness: bound waitForPeers with a
	// short deadline rather than let it spin the full backoff schedule.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.handleBroadcastMessage(ctx, msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if l.outbox.Has(h) {
		t.Fatal("expected an exhausted-retry transaction to be dropped from the outbox")
	}
}

func TestBroadcastConsumerReschedulesWithinBudget(t *testing.T) {
	l, _, bq := newListenerHarness(t)
	tx := testTx(6)
	h := tx.TxHash()
	raw := serializeTx(t, tx)

	if err := bq.Send(context.Background(), queue.Tx{TxID: h.String(), Raw: raw, Attempt: 0}); err != nil {
		t.Fatal(err)
	}
	msg, err := bq.Receive(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.handleBroadcastMessage(ctx, msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !l.outbox.Has(h) {
		t.Fatal("expected a within-budget transaction to stay in the outbox awaiting confirmation")
	}
}

func serializeTx(t *testing.T, tx *wire.MsgTx) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
