// Package chain implements the in-memory, concurrent header chain
// (spec.md §3 "Block header chain", §4.C). It is modelled on the teacher
// codebase's core/snailchain.HeaderChain — an arena of header records plus
// hash→record and height→record maps, per spec.md §9's design note — but
// carries no total-difficulty or consensus-engine machinery: fork choice
// here is simply "the most recently synchronized chain from the peer",
// since this system never validates consensus (spec.md §1 non-goals).
package chain

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/chainindex/indexer/common"
	"github.com/chainindex/indexer/log"
)

// ErrNoGenesis is returned when a chain is queried before a genesis header
// has been inserted.
var ErrNoGenesis = errors.New("chain: no genesis header")

// ErrUnknownParent is returned by Insert when the header's previous-hash is
// not present in the chain.
var ErrUnknownParent = errors.New("chain: unknown parent header")

// Header is the minimal header record the chain stores. HeaderBytes holds
// the raw serialized block header for downstream consumers (e.g. the p2p
// package re-announcing headers); the chain itself never parses it.
type Header struct {
	Hash        common.Hash
	Height      uint64
	PrevHash    common.Hash
	HeaderBytes []byte
}

const headerCacheLimit = 8192

// Chain is a thread-safe append-mostly header chain with fork detection.
// Reads take the shared lock; mutations (Insert, reorg) take the
// exclusive lock — per spec.md §4.C / §5.
type Chain struct {
	mu sync.RWMutex

	byHash   map[common.Hash]*Header
	byHeight map[uint64]common.Hash

	genesis common.Hash
	tip     common.Hash

	cache *lru.Cache // allocated by New; no method reads or writes it
}

// New creates an empty chain. InsertGenesis must be called once before any
// other operation succeeds.
func New() *Chain {
	cache, _ := lru.New(headerCacheLimit)
	return &Chain{
		byHash:   make(map[common.Hash]*Header),
		byHeight: make(map[uint64]common.Hash),
		cache:    cache,
	}
}

// InsertGenesis seeds the chain with its height-0 header. Calling it more
// than once is a no-op if the hash matches, and an error otherwise.
func (c *Chain) InsertGenesis(h Header) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byHash[c.genesis]; ok {
		if existing.Hash == h.Hash {
			return nil
		}
		return fmt.Errorf("chain: genesis already set to %s, refusing to overwrite with %s", existing.Hash, h.Hash)
	}
	h.Height = 0
	c.byHash[h.Hash] = &h
	c.byHeight[0] = h.Hash
	c.genesis = h.Hash
	c.tip = h.Hash
	return nil
}

// Genesis returns the height-0 header.
func (c *Chain) Genesis() (Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hdr, ok := c.byHash[c.genesis]
	if !ok {
		return Header{}, ErrNoGenesis
	}
	return *hdr, nil
}

// Tip returns the chain's current head header.
func (c *Chain) Tip() (Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hdr, ok := c.byHash[c.tip]
	if !ok {
		return Header{}, ErrNoGenesis
	}
	return *hdr, nil
}

// GetByHash looks up a header by hash.
func (c *Chain) GetByHash(h common.Hash) (Header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hdr, ok := c.byHash[h]
	if !ok {
		return Header{}, false
	}
	return *hdr, true
}

// GetByHeight looks up the canonical header at a given height.
func (c *Chain) GetByHeight(n uint64) (Header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.byHeight[n]
	if !ok {
		return Header{}, false
	}
	return *c.byHash[h], true
}

// Insert links a new header onto the chain. Its parent must already be
// present. If the new header extends the current tip, the tip simply
// advances; if it forks off an ancestor and its chain position implies it
// should become canonical (spec.md treats "most recently delivered by the
// synchronizing peer" as authoritative, since no difficulty comparison is
// available without full validation), the height map is rewritten so that
// height-keyed lookup stays internally consistent — the core invariant
// from spec.md §3.
func (c *Chain) Insert(h Header) (reorged bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parent, ok := c.byHash[h.PrevHash]
	if !ok {
		return false, ErrUnknownParent
	}
	h.Height = parent.Height + 1
	c.byHash[h.Hash] = &h

	tip := c.byHash[c.tip]
	if h.PrevHash == c.tip {
		// Common case: direct extension.
		c.byHeight[h.Height] = h.Hash
		c.tip = h.Hash
		return false, nil
	}
	if h.Height <= tip.Height {
		// A side branch no longer than the current tip: record the header
		// for lookups by hash, but don't touch canonical height mapping.
		return false, nil
	}
	// The new header extends a branch past the current tip height: this is
	// a reorg. Re-walk from the new tip back to the first ancestor that is
	// already canonical (the fork point), rewriting the height map on the
	// way. The new tip is higher than the old one, so every old height
	// above the fork point is overwritten by the walk.
	log.Info("chain: reorg", "from", c.tip, "to", h.Hash, "newHeight", h.Height)
	cursor := &h
	for {
		if canon, ok := c.byHeight[cursor.Height]; ok && canon == cursor.Hash {
			break
		}
		c.byHeight[cursor.Height] = cursor.Hash
		p, ok := c.byHash[cursor.PrevHash]
		if !ok {
			return false, fmt.Errorf("chain: reorg walked off known history at %s", cursor.PrevHash)
		}
		cursor = p
	}
	c.tip = h.Hash
	return true, nil
}

// EnumerateAfter returns, in ascending height order, every canonical
// header strictly after h. It stops at the current tip.
func (c *Chain) EnumerateAfter(h common.Hash) ([]Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	start, ok := c.byHash[h]
	if !ok {
		return nil, fmt.Errorf("chain: unknown hash %s", h)
	}
	tip := c.byHash[c.tip]
	if start.Height >= tip.Height {
		return nil, nil
	}
	out := make([]Header, 0, tip.Height-start.Height)
	for height := start.Height + 1; height <= tip.Height; height++ {
		hash, ok := c.byHeight[height]
		if !ok {
			break
		}
		out = append(out, *c.byHash[hash])
	}
	return out, nil
}

// FindFork returns the highest ancestor referenced by locator that is
// still present on the canonical chain — the fork point (spec.md §3).
func (c *Chain) FindFork(locator common.Locator) (Header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, h := range locator {
		hdr, ok := c.byHash[h]
		if !ok {
			continue
		}
		if canon, ok := c.byHeight[hdr.Height]; ok && canon == hdr.Hash {
			return *hdr, true
		}
	}
	if genesis, ok := c.byHash[c.genesis]; ok {
		return *genesis, true
	}
	return Header{}, false
}

// LocatorOf builds an exponentially-thinning ancestor list for h, ending
// at genesis: the first ten entries are consecutive ancestors, then the
// step doubles each entry (spec.md §3 / GLOSSARY).
func (c *Chain) LocatorOf(h common.Hash) (common.Locator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	start, ok := c.byHash[h]
	if !ok {
		return nil, fmt.Errorf("chain: unknown hash %s", h)
	}

	var loc common.Locator
	step := uint64(1)
	height := start.Height
	cur := *start
	for {
		loc = append(loc, cur.Hash)
		if cur.Hash == c.genesis {
			break
		}
		if len(loc) >= 10 {
			step *= 2
		}
		if height < step {
			loc = append(loc, c.genesis)
			break
		}
		height -= step
		hash, ok := c.byHeight[height]
		if !ok {
			// Side-branch ancestor not on canonical height map: walk by
			// parent pointers instead of height lookup.
			for cur.Height > height {
				p, ok := c.byHash[cur.PrevHash]
				if !ok {
					loc = append(loc, c.genesis)
					return loc, nil
				}
				cur = *p
			}
			hash = cur.Hash
		}
		cur = *c.byHash[hash]
	}
	return loc, nil
}

// Height returns the current tip height, or 0 with ok=false if the chain
// has no genesis yet.
func (c *Chain) Height() (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hdr, ok := c.byHash[c.tip]
	if !ok {
		return 0, false
	}
	return hdr.Height, true
}
