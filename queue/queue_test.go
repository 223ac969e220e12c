package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryWorkQueueSendReceiveAck(t *testing.T) {
	q := NewMemoryWorkQueue()
	ctx := context.Background()
	if err := q.Send(ctx, Range{FromHeight: 1, ToHeight: 100}); err != nil {
		t.Fatal(err)
	}
	msg, err := q.Receive(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Body.FromHeight != 1 || msg.Body.ToHeight != 100 {
		t.Fatalf("unexpected body: %+v", msg.Body)
	}
	if err := msg.Ack(); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Receive(ctx, 20*time.Millisecond); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty after ack drained the queue, got %v", err)
	}
}

func TestMemoryWorkQueueNakRequeuesImmediately(t *testing.T) {
	q := NewMemoryWorkQueue()
	ctx := context.Background()
	q.Send(ctx, Range{FromHeight: 1, ToHeight: 10})

	msg, err := q.Receive(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := msg.Nak(true); err != nil {
		t.Fatal(err)
	}
	redelivered, err := q.Receive(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if redelivered.Body.FromHeight != 1 {
		t.Fatalf("expected redelivery of nak'd range, got %+v", redelivered.Body)
	}
}

func TestMemoryWorkQueueReceiveTimesOutWhenEmpty(t *testing.T) {
	q := NewMemoryWorkQueue()
	ctx := context.Background()
	_, err := q.Receive(ctx, 20*time.Millisecond)
	if err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestMemoryBroadcastQueueSendReceiveAck(t *testing.T) {
	q := NewMemoryBroadcastQueue()
	ctx := context.Background()
	if err := q.Send(ctx, Tx{TxID: "abc", Raw: []byte{1, 2, 3}}); err != nil {
		t.Fatal(err)
	}
	msg, err := q.Receive(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Body.TxID != "abc" || msg.Body.Attempt != 0 {
		t.Fatalf("unexpected body: %+v", msg.Body)
	}
	if err := msg.Ack(); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryBroadcastQueueRescheduleDelaysRedelivery(t *testing.T) {
	q := NewMemoryBroadcastQueue()
	ctx := context.Background()
	q.Send(ctx, Tx{TxID: "abc"})

	msg, err := q.Receive(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := msg.RescheduleIn(30 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	if _, err := q.Receive(ctx, 5*time.Millisecond); err != ErrEmpty {
		t.Fatalf("expected message to still be delayed, got %v", err)
	}

	redelivered, err := q.Receive(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if redelivered.Body.Attempt != 1 {
		t.Fatalf("expected Attempt incremented to 1, got %d", redelivered.Body.Attempt)
	}
}

func TestDelayTierForClampsToLongestTier(t *testing.T) {
	if got := delayTierFor(48 * time.Hour); got != len(RetryDelays)-1 {
		t.Fatalf("expected clamp to last tier, got %d", got)
	}
	if got := delayTierFor(1 * time.Minute); got != 0 {
		t.Fatalf("expected tier 0 for a 1-minute request, got %d", got)
	}
}
