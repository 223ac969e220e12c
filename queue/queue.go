// Package queue implements the Work Queue and Broadcast Queue (spec.md
// §4.F, §4.G): durable, at-least-once message queues backed by AMQP (the
// sibling ethereum-go-ethereum dependency set's streadway/amqp, pulled in
// here because the bulk indexer and live listener both need a real
// message broker and the teacher codebase itself has none).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrEmpty is returned by Receive when no message is available within
// the wait window.
var ErrEmpty = errors.New("queue: empty")

// Range is the unit of work the bulk indexer's Work Queue carries: a
// contiguous, inclusive block-height span targeted at one checkpoint
// (spec.md §3's BlockRange: `{target, from, count, processed}`).
type Range struct {
	Target     string `json:"target"`
	FromHeight uint64 `json:"from_height"`
	ToHeight   uint64 `json:"to_height"`
}

// Message wraps a delivered Range with the handle needed to acknowledge
// or abandon it.
type Message struct {
	Body Range

	ack func() error
	nak func(requeue bool) error
}

// Ack marks the message as durably processed; the broker will not
// redeliver it.
func (m *Message) Ack() error { return m.ack() }

// Nak abandons the message. If requeue is true the broker makes it
// visible to other consumers again immediately; otherwise it waits out
// its visibility timeout before reappearing.
func (m *Message) Nak(requeue bool) error { return m.nak(requeue) }

// WorkQueue is the bulk indexer's queue of block ranges to index
// (spec.md §4.F): enqueue phase publishes, dequeue phase consumes with
// an explicit visibility timeout and ack.
type WorkQueue interface {
	Send(ctx context.Context, r Range) error
	// Receive waits up to timeout for a message. ErrEmpty is returned
	// (not an error wrapping it) when none arrives, so dequeue-phase
	// callers can treat that as "queue currently drained" per spec.md's
	// empty-poll lock-blob check.
	Receive(ctx context.Context, timeout time.Duration) (*Message, error)
	Close() error
}

func encodeRange(r Range) ([]byte, error) { return json.Marshal(r) }

func decodeRange(b []byte) (Range, error) {
	var r Range
	err := json.Unmarshal(b, &r)
	return r, err
}
