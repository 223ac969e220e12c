package p2p

import (
	"bytes"
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/chainindex/indexer/blockrepo"
	"github.com/chainindex/indexer/chain"
	"github.com/chainindex/indexer/checkpoint"
	"github.com/chainindex/indexer/event"
	"github.com/chainindex/indexer/indexstore"
	"github.com/chainindex/indexer/log"
	"github.com/chainindex/indexer/queue"
	"github.com/chainindex/indexer/tasks"
)

// Config wires a Listener's dependencies (spec.md §4.G).
type Config struct {
	Params      *chaincfg.Params
	Chain       *chain.Chain
	Store       *indexstore.Store
	Checkpoints *checkpoint.Store
	Tasks       []tasks.Task
	Broadcast   queue.BroadcastQueue

	LeaseTimeout time.Duration
}

// Listener is the Live Listener (spec.md §2 row G, §4.G): a always-on
// peer-protocol participant that keeps the header chain current,
// indexes new blocks and transactions as they arrive, and reliably
// rebroadcasts outbound transactions. It mirrors the teacher's
// abey/handler.go peer-management loop generalized onto the Bitcoin
// wire protocol.
type Listener struct {
	cfg Config

	peers  *peerSet
	cache  *liveBlockCache
	known  *knownInvTable
	outbox *broadcastingTable
	serial *SerializationChannel

	leases map[string]checkpoint.LeaseID

	TxFeed    event.Feed
	BlockFeed event.Feed
}

func NewListener(cfg Config) *Listener {
	if cfg.LeaseTimeout == 0 {
		cfg.LeaseTimeout = 30 * time.Second
	}
	return &Listener{
		cfg:    cfg,
		peers:  newPeerSet(),
		cache:  newLiveBlockCache(),
		known:  newKnownInvTable(),
		outbox: newBroadcastingTable(),
		serial: NewSerializationChannel(256),
		leases: make(map[string]checkpoint.LeaseID),
	}
}

// acquireLeases takes a long-lived checkpoint lease for every task the
// listener drives with save-progression enabled, for the duration of
// the listener's run.
func (l *Listener) acquireLeases(ctx context.Context) error {
	for _, t := range l.cfg.Tasks {
		lease, err := l.cfg.Checkpoints.Lease(ctx, t.Name(), l.cfg.LeaseTimeout)
		if err != nil {
			return errors.Wrapf(err, "p2p: lease checkpoint %s", t.Name())
		}
		l.leases[t.Name()] = lease
		t.SetSaveProgressEnabled(true)
	}
	return nil
}

// Close releases every held checkpoint lease and disconnects all peers.
func (l *Listener) Close(ctx context.Context) {
	for name, lease := range l.leases {
		if err := l.cfg.Checkpoints.Release(ctx, name, lease); err != nil {
			log.Warn("p2p: release checkpoint lease failed", "task", name, "err", err)
		}
	}
	for _, p := range l.peers.list() {
		_ = p.Close()
	}
	l.serial.Close()
}

// Connect dials addr, performs the handshake, synchronizes headers, and
// starts the peer's read loop in the background.
func (l *Listener) Connect(ctx context.Context, addr string) error {
	if len(l.leases) == 0 {
		if err := l.acquireLeases(ctx); err != nil {
			return err
		}
	}
	p, err := Dial(addr, l.cfg.Params)
	if err != nil {
		return err
	}
	tip, err := l.cfg.Chain.Tip()
	if err != nil {
		return errors.Wrap(err, "p2p: connect")
	}
	if err := p.Handshake(int32(tip.Height)); err != nil {
		_ = p.Close()
		return err
	}
	if err := l.synchronizeHeaders(ctx, p); err != nil {
		_ = p.Close()
		return err
	}
	p.setState(StateStreaming)
	l.peers.add(p)
	go l.readLoop(p)
	log.Info("p2p: peer streaming", "peer", addr)
	return nil
}

// synchronizeHeaders drives SyncHeaders with an insert callback that
// routes each header through the serialization channel so concurrent
// inbound blocks never race a bulk header-page insert (spec.md §4.C,
// §5).
func (l *Listener) synchronizeHeaders(ctx context.Context, p *Peer) error {
	return SyncHeaders(ctx, p, l.cfg.Chain, func(h *wire.BlockHeader) error {
		hh := h.BlockHash()
		errc := make(chan error, 1)
		l.serial.Submit(func() {
			_, reorged, err := l.insertHeader(h, hh)
			if err != nil {
				errc <- err
				return
			}
			if reorged {
				log.Warn("p2p: header sync observed reorg", "hash", hh)
			}
			errc <- nil
		})
		return <-errc
	})
}

func (l *Listener) insertHeader(h *wire.BlockHeader, hash chainhash.Hash) (chain.Header, bool, error) {
	reorged, err := l.cfg.Chain.Insert(chain.Header{Hash: hash, PrevHash: h.PrevBlock})
	if err != nil {
		return chain.Header{}, false, err
	}
	hdr, _ := l.cfg.Chain.GetByHash(hash)
	return hdr, reorged, nil
}

// readLoop pumps one peer's inbound messages until it disconnects.
func (l *Listener) readLoop(p *Peer) {
	defer func() {
		l.peers.remove(p)
		_ = p.Close()
		log.Info("p2p: peer disconnected", "peer", p.Addr())
	}()
	for {
		msg, err := p.Next()
		if err != nil {
			return
		}
		if blk, ok := msg.(*wire.MsgBlock); ok && p.deliverBlock(blk) {
			continue // routed to a pending blockrepo.BlockFetcher waiter.
		}
		l.dispatch(context.Background(), p, msg)
	}
}

func (l *Listener) dispatch(ctx context.Context, p *Peer, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.MsgInv:
		l.handleInv(p, m)
	case *wire.MsgTx:
		l.handleTx(m)
	case *wire.MsgBlock:
		l.handleBlock(ctx, m)
	case *wire.MsgGetData:
		l.handleGetData(p, m)
	case *wire.MsgReject:
		l.handleReject(m)
	case *wire.MsgPing:
		_ = p.writeMessage(wire.NewMsgPong(m.Nonce))
	}
}

// handleInv requests data for any inventory item not already known
// (spec.md §4.G inv handler).
func (l *Listener) handleInv(p *Peer, inv *wire.MsgInv) {
	gd := wire.NewMsgGetData()
	for _, iv := range inv.InvList {
		if iv.Type != wire.InvTypeTx && iv.Type != wire.InvTypeBlock {
			continue
		}
		if !l.known.AddIfNew(iv.Hash) {
			continue
		}
		_ = gd.AddInvVect(iv)
	}
	if len(gd.InvList) > 0 {
		_ = p.writeMessage(gd)
	}
}

// handleTx publishes the transaction and clears it from the outbound
// broadcasting table if this node was the one announcing it (spec.md
// §4.G: arrival back from the network counts as confirmation).
func (l *Listener) handleTx(tx *wire.MsgTx) {
	l.outbox.Remove(tx.TxHash())
	l.TxFeed.Send(NewTransactionEvent{Tx: tx})
}

// handleBlock inserts the block's header (if new), caches the full
// block, and runs every configured Index Task over just that height
// (spec.md §4.C, §4.E live path).
func (l *Listener) handleBlock(ctx context.Context, blk *wire.MsgBlock) {
	hash := blk.BlockHash()
	l.cache.put(blk)

	errc := make(chan error, 1)
	var height uint64
	l.serial.Submit(func() {
		hdr, ok := l.cfg.Chain.GetByHash(hash)
		if !ok {
			var err error
			hdr, _, err = l.insertHeader(&blk.Header, hash)
			if err != nil {
				errc <- err
				return
			}
		}
		height = hdr.Height
		errc <- nil
	})
	if err := <-errc; err != nil {
		log.Error("p2p: insert block header failed", "hash", hash, "err", err)
		return
	}

	for _, t := range l.cfg.Tasks {
		f := blockrepo.NewFetcher(l.cfg.Chain, l.cache, height, height)
		if _, err := t.IndexAsync(ctx, f); err != nil {
			log.Error("p2p: live index failed", "task", t.Name(), "height", height, "err", err)
		}
	}
	l.BlockFeed.Send(NewBlockEvent{Height: height, Block: blk})
}

// handleGetData answers MSG_TX requests for transactions this node is
// actively (re)broadcasting (spec.md §4.G getdata handler).
func (l *Listener) handleGetData(p *Peer, gd *wire.MsgGetData) {
	for _, iv := range gd.InvList {
		if iv.Type != wire.InvTypeTx {
			continue
		}
		raw, ok := l.outbox.TakeIfPresent(iv.Hash)
		if !ok {
			continue
		}
		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			log.Warn("p2p: decode outbound tx for getdata failed", "tx", iv.Hash, "err", err)
			continue
		}
		if err := p.SendTx(&tx); err != nil {
			log.Warn("p2p: send tx for getdata failed", "tx", iv.Hash, "err", err)
		}
	}
}

// handleReject persists the rejection reason for a previously broadcast
// transaction and drops it from the outbound table (spec.md §4.G reject
// handler, §8 Testable Property 6: a rejected transaction is never
// retried again). A DUPLICATE reject is a normal consequence of
// broadcasting a transaction the mempool already has — it only clears
// the outbox entry and is never persisted as a terminal rejection.
func (l *Listener) handleReject(rej *wire.MsgReject) {
	if rej.Message != wire.CmdTx {
		return
	}
	if rej.Code == wire.RejectDuplicate {
		l.outbox.Remove(rej.Hash)
		return
	}
	l.outbox.Remove(rej.Hash)
	if err := l.cfg.Store.SaveReject(rej.Hash.String(), indexstore.RejectRecord{
		Code:   uint32(rej.Code),
		Reason: rej.Reason,
	}); err != nil {
		log.Error("p2p: save reject record failed", "tx", rej.Hash, "err", err)
	}
}

// isConfirmed reports whether txID is already recorded in the
// transactions index (meaning it has been seen in an indexed block).
func (l *Listener) isConfirmed(txID chainhash.Hash) bool {
	_, found, err := l.cfg.Store.Get(txID.String(), "summary")
	return err == nil && found
}
