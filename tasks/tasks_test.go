package tasks

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/chainindex/indexer/blockrepo"
	"github.com/chainindex/indexer/chain"
	"github.com/chainindex/indexer/checkpoint"
	"github.com/chainindex/indexer/common"
	"github.com/chainindex/indexer/indexstore"
)

type memRepo struct {
	blocks map[chainhash.Hash]*wire.MsgBlock
}

func (r *memRepo) GetBlocks(_ context.Context, hashes []chainhash.Hash) ([]*wire.MsgBlock, error) {
	out := make([]*wire.MsgBlock, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, r.blocks[h])
	}
	return out, nil
}

func p2pkhScript(t *testing.T, addr string) []byte {
	t.Helper()
	decoded, err := btcutilAddress(addr)
	if err != nil {
		t.Fatal(err)
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		t.Fatal(err)
	}
	return script
}

func newHarness(t *testing.T) (*chain.Chain, *indexstore.Store, *checkpoint.Store, checkpoint.LeaseID, map[chainhash.Hash]*wire.MsgBlock) {
	t.Helper()
	c := chain.New()
	store, err := indexstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	blobs, err := checkpoint.NewFilesystemBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ckpt := checkpoint.New(blobs)

	var genesisHash common.Hash
	genesisHash[0] = 0
	if err := c.InsertGenesis(chain.Header{Hash: genesisHash}); err != nil {
		t.Fatal(err)
	}

	blocks := make(map[chainhash.Hash]*wire.MsgBlock)

	addr := testAddress()
	script := p2pkhScript(t, addr)

	tx := wire.NewMsgTx(1)
	tx.AddTxOut(wire.NewTxOut(5000, script))

	blk := wire.NewMsgBlock(wire.NewBlockHeader(1, &chainhash.Hash{}, &chainhash.Hash{}, 0, 1))
	blk.AddTransaction(tx)

	var blockHash common.Hash
	blockHash[0] = 1
	blocks[blockHash] = blk

	if _, err := c.Insert(chain.Header{Hash: blockHash, PrevHash: genesisHash}); err != nil {
		t.Fatal(err)
	}

	lease, err := ckpt.Lease(context.Background(), "blocks", testLeaseTimeout)
	if err != nil {
		t.Fatal(err)
	}
	return c, store, ckpt, lease, blocks
}

func TestBlocksTaskIndexesSummaryRow(t *testing.T) {
	c, store, ckpt, lease, blocks := newHarness(t)
	repo := &memRepo{blocks: blocks}
	f := blockrepo.NewFetcher(c, repo, 1, 1)

	base := Base{Store: store, Checkpoints: ckpt, Chain: c, Lease: lease, ChainParams: &chaincfg.MainNetParams}
	base.SetSaveProgressEnabled(true)
	task := NewBlocksTask(base)

	res, err := task.IndexAsync(context.Background(), f)
	if err != nil {
		t.Fatal(err)
	}
	if res.BlocksIndexed != 1 {
		t.Fatalf("expected 1 block indexed, got %d", res.BlocksIndexed)
	}

	var blockHash common.Hash
	blockHash[0] = 1
	val, found, err := store.Get(blocks[blockHash].BlockHash().String(), "summary")
	if err != nil || !found {
		t.Fatalf("expected block row, found=%v err=%v", found, err)
	}
	var rec blockRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.TxCount != 1 {
		t.Fatalf("expected tx count 1, got %d", rec.TxCount)
	}
}

func TestTransactionsTaskIndexesAddressRow(t *testing.T) {
	c, store, ckpt, lease, blocks := newHarness(t)
	repo := &memRepo{blocks: blocks}
	f := blockrepo.NewFetcher(c, repo, 1, 1)

	base := Base{Store: store, Checkpoints: ckpt, Chain: c, Lease: lease, ChainParams: &chaincfg.MainNetParams}
	task := NewTransactionsTask(base)

	if _, err := task.IndexAsync(context.Background(), f); err != nil {
		t.Fatal(err)
	}

	addr := testAddress()
	var found bool
	store.Scan("addr:"+addr, func(row string, value []byte) bool {
		found = true
		return true
	})
	if !found {
		t.Fatalf("expected an address-indexed transaction row for %s", addr)
	}
}

func TestBalancesTaskFiltersByRule(t *testing.T) {
	c, store, ckpt, lease, blocks := newHarness(t)
	repo := &memRepo{blocks: blocks}
	f := blockrepo.NewFetcher(c, repo, 1, 1)
	addr := testAddress()

	base := Base{Store: store, Checkpoints: ckpt, Chain: c, Lease: lease, ChainParams: &chaincfg.MainNetParams}
	rules := Rules{{Kind: RuleExactAddress, Pattern: "not-the-address", Label: "cold"}}
	task := NewBalancesTask(base, rules)

	if _, err := task.IndexAsync(context.Background(), f); err != nil {
		t.Fatal(err)
	}

	script := scriptHexForAddress(t, addr)
	var rows int
	store.Scan(script, func(row string, value []byte) bool { rows++; return true })
	if rows != 0 {
		t.Fatalf("expected no balance rows for an unmatched rule set, got %d", rows)
	}
}

func TestWalletsTaskAggregatesByLabel(t *testing.T) {
	c, store, ckpt, lease, blocks := newHarness(t)
	repo := &memRepo{blocks: blocks}
	f := blockrepo.NewFetcher(c, repo, 1, 1)
	addr := testAddress()

	base := Base{Store: store, Checkpoints: ckpt, Chain: c, Lease: lease, ChainParams: &chaincfg.MainNetParams}
	rules := Rules{{Kind: RuleExactAddress, Pattern: addr, Label: "hot-wallet"}}
	task := NewWalletsTask(base, rules)

	if _, err := task.IndexAsync(context.Background(), f); err != nil {
		t.Fatal(err)
	}

	var rows int
	store.Scan("hot-wallet", func(row string, value []byte) bool { rows++; return true })
	if rows != 1 {
		t.Fatalf("expected 1 aggregated wallet row, got %d", rows)
	}
}
