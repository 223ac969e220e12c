package queue

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryWorkQueue is an in-process WorkQueue double used by tests and by
// single-box deployments without a broker. Delivery is at-least-once: a
// received message that is neither acked nor nak'd becomes visible again
// 24 hours after it was received. Nak makes it visible at once (at the
// head with requeue=true, at the tail otherwise); there is no delayed
// redelivery after a nak.
type memoryWorkQueue struct {
	mu       sync.Mutex
	ready    *list.List // of Range
	inFlight map[*Range]time.Time
}

// NewMemoryWorkQueue returns a WorkQueue backed by an in-process list.
func NewMemoryWorkQueue() WorkQueue {
	return &memoryWorkQueue{ready: list.New(), inFlight: make(map[*Range]time.Time)}
}

func (q *memoryWorkQueue) Send(_ context.Context, r Range) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready.PushBack(r)
	return nil
}

func (q *memoryWorkQueue) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		q.requeueExpiredLocked()
		if front := q.ready.Front(); front != nil {
			q.ready.Remove(front)
			r := front.Value.(Range)
			token := &r
			q.inFlight[token] = time.Now().Add(24 * time.Hour) // redelivered if not settled by then
			q.mu.Unlock()
			return &Message{
				Body: r,
				ack: func() error {
					q.mu.Lock()
					delete(q.inFlight, token)
					q.mu.Unlock()
					return nil
				},
				nak: func(requeue bool) error {
					q.mu.Lock()
					delete(q.inFlight, token)
					if requeue {
						q.ready.PushFront(r)
					} else {
						q.ready.PushBack(r)
					}
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

func (q *memoryWorkQueue) requeueExpiredLocked() {
	now := time.Now()
	for token, expires := range q.inFlight {
		if now.After(expires) {
			delete(q.inFlight, token)
			q.ready.PushBack(*token)
		}
	}
}

func (q *memoryWorkQueue) Close() error { return nil }
