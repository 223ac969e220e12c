package queue

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type delayedTx struct {
	tx       Tx
	visibleAt time.Time
}

// memoryBroadcastQueue is an in-process BroadcastQueue double matching
// the AMQP implementation's delayed-redelivery semantics, for tests and
// single-box deployments.
type memoryBroadcastQueue struct {
	mu      sync.Mutex
	ready   *list.List // of Tx
	delayed []delayedTx
}

// NewMemoryBroadcastQueue returns a BroadcastQueue backed by an
// in-process list.
func NewMemoryBroadcastQueue() BroadcastQueue {
	return &memoryBroadcastQueue{ready: list.New()}
}

func (q *memoryBroadcastQueue) Send(_ context.Context, tx Tx) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready.PushBack(tx)
	return nil
}

func (q *memoryBroadcastQueue) Receive(ctx context.Context, timeout time.Duration) (*BroadcastMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		q.promoteExpiredLocked()
		if front := q.ready.Front(); front != nil {
			q.ready.Remove(front)
			tx := front.Value.(Tx)
			q.mu.Unlock()
			return &BroadcastMessage{
				Body: tx,
				ack:  func() error { return nil },
				rescheduleF: func(in time.Duration) error {
					q.mu.Lock()
					next := tx
					next.Attempt++
					q.delayed = append(q.delayed, delayedTx{tx: next, visibleAt: time.Now().Add(in)})
					q.mu.Unlock()
					return nil
				},
			}, nil
		}
		q.mu.Unlock()
		if time.Now().After(deadline) {
			return nil, ErrEmpty
		}
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *memoryBroadcastQueue) promoteExpiredLocked() {
	now := time.Now()
	remaining := q.delayed[:0]
	for _, d := range q.delayed {
		if now.After(d.visibleAt) || now.Equal(d.visibleAt) {
			q.ready.PushBack(d.tx)
		} else {
			remaining = append(remaining, d)
		}
	}
	q.delayed = remaining
}

func (q *memoryBroadcastQueue) Close() error { return nil }
