package queue

import (
	"context"
	"encoding/json"
	"time"
)

// RetryDelays is the closed-form broadcast retry schedule (spec.md
// §4.G): an outbound transaction that is neither rejected nor confirmed
// is re-announced at these increasing delays before being abandoned.
var RetryDelays = []time.Duration{
	5 * time.Minute,
	10 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
	24 * time.Hour,
}

// Tx is the unit of work the Broadcast Queue carries: a raw transaction
// plus how many times it has already been scheduled.
type Tx struct {
	TxID    string `json:"tx_id"`
	Raw     []byte `json:"raw"`
	Attempt int    `json:"attempt"`
}

// BroadcastMessage wraps a delivered Tx with the handles needed to
// acknowledge it or push it back onto the schedule.
type BroadcastMessage struct {
	Body Tx

	ack         func() error
	rescheduleF func(in time.Duration) error
}

// Ack marks the transaction as successfully broadcast; it is not
// retried again.
func (m *BroadcastMessage) Ack() error { return m.ack() }

// RescheduleIn pushes Body back onto the queue, redelivered no sooner
// than in, with Attempt incremented.
func (m *BroadcastMessage) RescheduleIn(in time.Duration) error { return m.rescheduleF(in) }

// BroadcastQueue is the Live Listener's outbound transaction queue
// (spec.md §4.G).
type BroadcastQueue interface {
	Send(ctx context.Context, tx Tx) error
	Receive(ctx context.Context, timeout time.Duration) (*BroadcastMessage, error)
	Close() error
}

func encodeTx(tx Tx) ([]byte, error) { return json.Marshal(tx) }

func decodeTx(b []byte) (Tx, error) {
	var tx Tx
	err := json.Unmarshal(b, &tx)
	return tx, err
}

// delayTierFor returns the index into RetryDelays whose delay is the
// smallest one >= in, clamping to the last (longest) tier.
func delayTierFor(in time.Duration) int {
	for i, d := range RetryDelays {
		if in <= d {
			return i
		}
	}
	return len(RetryDelays) - 1
}
