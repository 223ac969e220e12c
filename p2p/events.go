package p2p

import "github.com/btcsuite/btcd/wire"

// NewTransactionEvent is published whenever the Live Listener observes a
// new transaction, either relayed by a peer or newly broadcast (spec.md
// §6 "NeedIndexNewTransaction").
type NewTransactionEvent struct {
	Tx *wire.MsgTx
}

// NewBlockEvent is published whenever the Live Listener indexes a new
// block (spec.md §6 "NeedIndexNewBlock").
type NewBlockEvent struct {
	Height uint64
	Block  *wire.MsgBlock
}
