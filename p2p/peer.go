package p2p

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/chainindex/indexer/log"
)

// Peer wraps one connected node's wire-protocol transport (spec.md
// §4.G, §6). It mirrors the teacher's peer.go (abey/peer.go) shape —
// small send/request helpers around a shared connection — generalized
// onto btcsuite/btcd's wire.Message types instead of the teacher's RLP
// devp2p messages.
type Peer struct {
	conn   net.Conn
	addr   string
	params *chaincfg.Params
	pver   uint32

	mu            sync.Mutex
	state         State
	pendingBlocks map[chainhash.Hash]chan *wire.MsgBlock
}

func newPeer(conn net.Conn, addr string, params *chaincfg.Params) *Peer {
	return &Peer{
		conn:          conn,
		addr:          addr,
		params:        params,
		pver:          wire.ProtocolVersion,
		state:         StateConnecting,
		pendingBlocks: make(map[chainhash.Hash]chan *wire.MsgBlock),
	}
}

// Dial opens a TCP connection to addr and returns an unhandshaked Peer.
func Dial(addr string, params *chaincfg.Params) (*Peer, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "p2p: dial %s", addr)
	}
	return newPeer(conn, addr, params), nil
}

func (p *Peer) Addr() string { return p.addr }

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Peer) writeMessage(msg wire.Message) error {
	return wire.WriteMessage(p.conn, msg, p.pver, p.params.Net)
}

func (p *Peer) readMessage() (wire.Message, error) {
	msg, _, err := wire.ReadMessage(p.conn, p.pver, p.params.Net)
	return msg, err
}

// Handshake performs the version/verack exchange (spec.md §6).
func (p *Peer) Handshake(ourBestHeight int32) error {
	nonce, err := wire.RandomUint64()
	if err != nil {
		return errors.Wrap(err, "p2p: nonce")
	}
	me := wire.NewNetAddressIPPort(net.IPv4zero, 0, wire.SFNodeNetwork)
	you := wire.NewNetAddressIPPort(net.IPv4zero, 0, wire.SFNodeNetwork)
	version := wire.NewMsgVersion(me, you, nonce, ourBestHeight)
	if err := p.writeMessage(version); err != nil {
		return errors.Wrap(err, "p2p: send version")
	}

	msg, err := p.readMessage()
	if err != nil {
		return errors.Wrap(err, "p2p: read version")
	}
	if _, ok := msg.(*wire.MsgVersion); !ok {
		return fmt.Errorf("p2p: expected version, got %T", msg)
	}
	if err := p.writeMessage(wire.NewMsgVerAck()); err != nil {
		return errors.Wrap(err, "p2p: send verack")
	}

	msg, err = p.readMessage()
	if err != nil {
		return errors.Wrap(err, "p2p: read verack")
	}
	if _, ok := msg.(*wire.MsgVerAck); !ok {
		return fmt.Errorf("p2p: expected verack, got %T", msg)
	}
	p.setState(StateHandshaked)
	log.Info("p2p: handshake complete", "peer", p.addr)
	return nil
}

// SendGetHeaders requests headers starting from locator (spec.md §4.C).
func (p *Peer) SendGetHeaders(locator []chainhash.Hash, stop chainhash.Hash) error {
	msg := wire.NewMsgGetHeaders()
	msg.HashStop = stop
	for _, h := range locator {
		h := h
		if err := msg.AddBlockLocatorHash(&h); err != nil {
			return err
		}
	}
	return p.writeMessage(msg)
}

// SendInv announces inv to the peer.
func (p *Peer) SendInv(inv *wire.MsgInv) error { return p.writeMessage(inv) }

// SendTx transmits a raw transaction.
func (p *Peer) SendTx(tx *wire.MsgTx) error { return p.writeMessage(tx) }

// Next blocks for the peer's next inbound message.
func (p *Peer) Next() (wire.Message, error) { return p.readMessage() }

// Close shuts down the underlying connection.
func (p *Peer) Close() error {
	p.setState(StateDisconnected)
	return p.conn.Close()
}

// FetchBlocks implements blockrepo.BlockFetcher: it issues one getdata
// batch and waits for every requested block to arrive (or ctx to
// expire), routing replies the shared read loop hands to deliverBlock.
func (p *Peer) FetchBlocks(ctx context.Context, hashes []chainhash.Hash) (map[chainhash.Hash]*wire.MsgBlock, error) {
	waiters := make(map[chainhash.Hash]chan *wire.MsgBlock, len(hashes))
	p.mu.Lock()
	for _, h := range hashes {
		ch := make(chan *wire.MsgBlock, 1)
		p.pendingBlocks[h] = ch
		waiters[h] = ch
	}
	p.mu.Unlock()

	gd := wire.NewMsgGetData()
	for _, h := range hashes {
		h := h
		if err := gd.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &h)); err != nil {
			return nil, err
		}
	}
	if err := p.writeMessage(gd); err != nil {
		return nil, errors.Wrap(err, "p2p: send getdata")
	}

	out := make(map[chainhash.Hash]*wire.MsgBlock, len(hashes))
	for h, ch := range waiters {
		select {
		case blk := <-ch:
			out[h] = blk
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// deliverBlock routes an inbound block to a pending FetchBlocks waiter,
// if any, returning true if it was consumed that way.
func (p *Peer) deliverBlock(blk *wire.MsgBlock) bool {
	h := blk.BlockHash()
	p.mu.Lock()
	ch, ok := p.pendingBlocks[h]
	if ok {
		delete(p.pendingBlocks, h)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- blk:
	case <-time.After(time.Second):
	}
	return true
}
