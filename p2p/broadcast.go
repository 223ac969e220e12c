package p2p

import (
	"bytes"
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/chainindex/indexer/log"
	"github.com/chainindex/indexer/queue"
)

// peerWaitBackoff is the schedule the outbound broadcasting consumer
// sleeps through while fewer than two peers are connected (spec.md
// §4.G, §8 Testable Property 5).
var peerWaitBackoff = []time.Duration{
	50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond,
	300 * time.Millisecond, 1000 * time.Millisecond, 2000 * time.Millisecond,
	3000 * time.Millisecond, 6000 * time.Millisecond, 12000 * time.Millisecond,
}

// minBroadcastPeers is the connectivity floor the consumer waits for
// before announcing an outbound transaction.
const minBroadcastPeers = 2

// RunBroadcastConsumer drains the Broadcast Queue, announcing each
// pending transaction to every connected peer and rescheduling it per
// queue.RetryDelays until it has a reject record, has a row in the
// transactions index (isConfirmed), or exhausts its retry budget
// (spec.md §8 Testable Property 5 & 6). A transaction that arrives back
// over the wire only has its outbox entry cleared; that alone does not
// stop rescheduling. It runs until ctx is cancelled or the queue returns
// a non-ErrEmpty error.
func (l *Listener) RunBroadcastConsumer(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg, err := l.cfg.Broadcast.Receive(ctx, time.Second)
		if err == queue.ErrEmpty {
			continue
		}
		if err != nil {
			return err
		}
		if err := l.handleBroadcastMessage(ctx, msg); err != nil {
			log.Error("p2p: broadcast message handling failed", "tx", msg.Body.TxID, "err", err)
		}
	}
}

func (l *Listener) handleBroadcastMessage(ctx context.Context, msg *queue.BroadcastMessage) error {
	txHash, err := chainhash.NewHashFromStr(msg.Body.TxID)
	if err != nil {
		log.Warn("p2p: malformed broadcast tx id, dropping", "tx_id", msg.Body.TxID, "err", err)
		return msg.Ack()
	}

	if _, rejected, err := l.cfg.Store.GetReject(msg.Body.TxID); err == nil && rejected {
		return msg.Ack() // already rejected by the network; never retried again.
	}
	if l.isConfirmed(*txHash) {
		return msg.Ack()
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(msg.Body.Raw)); err != nil {
		log.Warn("p2p: decode broadcast tx failed, dropping", "tx_id", msg.Body.TxID, "err", err)
		return msg.Ack()
	}

	l.outbox.Put(*txHash, msg.Body.Raw)
	l.waitForPeers(ctx)
	inv := wire.NewMsgInv()
	_ = inv.AddInvVect(wire.NewInvVect(wire.InvTypeTx, txHash))
	l.peers.broadcast(inv)

	if msg.Body.Attempt >= len(queue.RetryDelays) {
		log.Warn("p2p: broadcast retry budget exhausted, abandoning", "tx_id", msg.Body.TxID)
		l.outbox.Remove(*txHash)
		return msg.Ack()
	}
	return msg.RescheduleIn(queue.RetryDelays[msg.Body.Attempt])
}

func (l *Listener) waitForPeers(ctx context.Context) {
	i := 0
	for l.peers.Count() < minBroadcastPeers {
		d := peerWaitBackoff[i]
		if i < len(peerWaitBackoff)-1 {
			i++
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return
		}
	}
}
