// Package p2p implements the Live Listener (spec.md §4.C, §4.G): a
// Bitcoin wire-protocol participant that maintains a header chain,
// indexes inbound blocks and transactions, and reliably broadcasts
// outbound transactions. It generalizes the teacher's abey/peer.go and
// abey/peer_set.go idiom (deckarep/golang-set known-item tracking,
// event.Feed publication) onto btcsuite/btcd's wire types.
package p2p

import (
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// tableCapacity is the bulk-clear threshold for the Broadcasting and
// Known-inv tables (spec.md §3 "capacity ≈ 1000, cleared wholesale on
// overflow").
const tableCapacity = 1000

// broadcastingTable is the in-memory bounded map from tx id to raw
// transaction bytes awaiting mempool-arrival confirmation.
type broadcastingTable struct {
	mu  sync.Mutex
	raw map[chainhash.Hash][]byte
}

func newBroadcastingTable() *broadcastingTable {
	return &broadcastingTable{raw: make(map[chainhash.Hash][]byte)}
}

func (t *broadcastingTable) Put(h chainhash.Hash, raw []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.raw) >= tableCapacity {
		t.raw = make(map[chainhash.Hash][]byte) // bulk clear: a heuristic, not correctness-bearing.
	}
	t.raw[h] = raw
}

// TakeIfPresent removes and returns h's raw bytes, reporting whether it
// was present (spec.md's getdata(MSG_TX) handler: "emit the raw
// transaction and remove from the broadcasting set").
func (t *broadcastingTable) TakeIfPresent(h chainhash.Hash) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	raw, ok := t.raw[h]
	if ok {
		delete(t.raw, h)
	}
	return raw, ok
}

// Remove unconditionally drops h (spec.md's inv/reject handlers).
func (t *broadcastingTable) Remove(h chainhash.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.raw, h)
}

// Has reports whether h is currently awaiting confirmation.
func (t *broadcastingTable) Has(h chainhash.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.raw[h]
	return ok
}

// knownInvTable records inventory hashes already requested via getdata,
// to avoid duplicate requests (spec.md §3 "Known-inv table").
type knownInvTable struct {
	mu    sync.Mutex
	known mapset.Set
}

func newKnownInvTable() *knownInvTable {
	return &knownInvTable{known: mapset.NewSet()}
}

// AddIfNew records h and reports true if it had not been seen before.
func (t *knownInvTable) AddIfNew(h chainhash.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.known.Cardinality() >= tableCapacity {
		t.known = mapset.NewSet()
	}
	if t.known.Contains(h) {
		return false
	}
	t.known.Add(h)
	return true
}
