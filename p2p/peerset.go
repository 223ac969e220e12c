package p2p

import (
	"sync"

	"github.com/btcsuite/btcd/wire"
)

// peerSet tracks currently connected peers. The outbound broadcasting
// consumer waits for at least two members before announcing a
// transaction (spec.md §4.G, §8 Testable Property 5).
type peerSet struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func newPeerSet() *peerSet {
	return &peerSet{peers: make(map[string]*Peer)}
}

func (s *peerSet) add(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.Addr()] = p
}

func (s *peerSet) remove(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, p.Addr())
}

func (s *peerSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *peerSet) list() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// broadcast sends inv to every connected peer, ignoring a single peer's
// write error.
func (s *peerSet) broadcast(inv *wire.MsgInv) {
	for _, p := range s.list() {
		_ = p.SendInv(inv)
	}
}
