package p2p

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/chainindex/indexer/chain"
)

// SyncHeaders repeatedly issues getheaders against c's current locator
// and inserts every header the peer returns through insert, stopping
// once a response yields a page short of a full 2000 headers (spec.md
// §4.C). It has no dependency on Listener, so the Bulk Indexer can run
// it against a bare dialed+handshaked Peer without a live streaming
// connection or a serialization channel — the bulk path is already
// single-threaded, so headers can be inserted directly.
func SyncHeaders(ctx context.Context, p *Peer, c *chain.Chain, insert func(h *wire.BlockHeader) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tip, err := c.Tip()
		if err != nil {
			return err
		}
		loc, err := c.LocatorOf(tip.Hash)
		if err != nil {
			return err
		}
		if err := p.SendGetHeaders(loc, chainhash.Hash{}); err != nil {
			return err
		}
		msg, err := p.readMessage()
		if err != nil {
			return errors.Wrap(err, "p2p: sync headers")
		}
		hdrs, ok := msg.(*wire.MsgHeaders)
		if !ok {
			return fmt.Errorf("p2p: sync headers: expected headers, got %T", msg)
		}
		if len(hdrs.Headers) == 0 {
			p.setState(StateHeadersSynced)
			return nil
		}
		for _, h := range hdrs.Headers {
			if err := insert(h); err != nil {
				return err
			}
		}
		if len(hdrs.Headers) < 2000 {
			p.setState(StateHeadersSynced)
			return nil
		}
	}
}

// InsertHeader is the direct chain.Chain insert SyncHeaders' insert
// callback normally wraps: it mirrors Listener.insertHeader but without
// routing through a serialization channel, for single-threaded callers
// like the Bulk Indexer.
func InsertHeader(c *chain.Chain, h *wire.BlockHeader) error {
	_, err := c.Insert(chain.Header{Hash: h.BlockHash(), PrevHash: h.PrevBlock})
	return err
}
