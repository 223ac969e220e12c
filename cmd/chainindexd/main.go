// Command chainindexd runs the chain secondary-indexing system (spec.md
// §2): either a one-shot Bulk Indexer backfill pass or a long-running
// Live Listener, against a shared Checkpoint Store and index store.
// Structured as a gopkg.in/urfave/cli.v1 app with TOML-backed
// configuration, mirroring the teacher's cmd/gabey main command layout.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/chainindex/indexer/blockrepo"
	"github.com/chainindex/indexer/bulk"
	"github.com/chainindex/indexer/chain"
	"github.com/chainindex/indexer/checkpoint"
	"github.com/chainindex/indexer/config"
	"github.com/chainindex/indexer/indexstore"
	"github.com/chainindex/indexer/log"
	"github.com/chainindex/indexer/p2p"
	"github.com/chainindex/indexer/queue"
	"github.com/chainindex/indexer/tasks"
)

func main() {
	app := cli.NewApp()
	app.Name = "chainindexd"
	app.Usage = "bulk-index and live-follow a Bitcoin-style chain into a queryable secondary index"
	app.Flags = append([]cli.Flag{config.ConfigFileFlag}, config.Flags...)
	app.Commands = []cli.Command{
		bulkCommand,
		listenCommand,
		dumpConfigCommand,
	}

	if err := app.Run(os.Args); err != nil {
		log.Crit("chainindexd: fatal", "err", err)
	}
}

var bulkCommand = cli.Command{
	Name:  "bulk",
	Usage: "run one enqueue-then-dequeue Bulk Indexer pass and exit",
	Action: func(ctx *cli.Context) error {
		cfg, err := config.MakeConfig(ctx)
		if err != nil {
			return err
		}
		dep, err := buildDeps(cfg)
		if err != nil {
			return err
		}
		defer dep.close()

		if cfg.IndexerNodeEndpoint == "" {
			return fmt.Errorf("chainindexd: bulk requires indexer-node-endpoint")
		}
		peer, err := p2p.Dial(cfg.IndexerNodeEndpoint, dep.params)
		if err != nil {
			return errors.Wrap(err, "chainindexd: dial")
		}
		dep.closers = append(dep.closers, peer.Close)

		tip, err := dep.chain.Tip()
		if err != nil {
			return err
		}
		if err := peer.Handshake(int32(tip.Height)); err != nil {
			return errors.Wrap(err, "chainindexd: handshake")
		}
		if err := p2p.SyncHeaders(context.Background(), peer, dep.chain, func(h *wire.BlockHeader) error {
			return p2p.InsertHeader(dep.chain, h)
		}); err != nil {
			return errors.Wrap(err, "chainindexd: sync headers")
		}
		tip, err = dep.chain.Tip()
		if err != nil {
			return err
		}
		log.Info("bulk indexer headers synced", "peer", cfg.IndexerNodeEndpoint, "height", tip.Height)

		repo := blockrepo.NewCachingRepository(dep.repo, blockrepo.NewPeerRepository(peer))
		idx := &bulk.Indexer{
			Config:       bulk.Config{BlockGranularity: cfg.BlockGranularity, TransactionsPerWork: cfg.TransactionsPerWork},
			Chain:        dep.chain,
			Repository:   repo,
			Checkpoints:  dep.checkpoints,
			WorkQueue:    dep.workQueue,
			Tasks:        dep.tasks,
			LeaseTimeout: cfg.LeaseTimeout,
			PollInterval: cfg.PollInterval,
		}
		n, err := idx.Run(context.Background())
		if err != nil {
			return err
		}
		log.Info("bulk indexer pass complete", "messages_processed", n)
		return nil
	},
}

var listenCommand = cli.Command{
	Name:  "listen",
	Usage: "run the Live Listener and outbound broadcast consumer until interrupted",
	Action: func(ctx *cli.Context) error {
		cfg, err := config.MakeConfig(ctx)
		if err != nil {
			return err
		}
		dep, err := buildDeps(cfg)
		if err != nil {
			return err
		}
		defer dep.close()

		listener := p2p.NewListener(p2p.Config{
			Params:      dep.params,
			Chain:       dep.chain,
			Store:       dep.store,
			Checkpoints: dep.checkpoints,
			Tasks:       dep.tasks,
			Broadcast:   dep.broadcastQueue,
		})
		defer listener.Close(context.Background())

		if cfg.IndexerNodeEndpoint == "" {
			return fmt.Errorf("chainindexd: listen requires indexer-node-endpoint")
		}
		if err := listener.Connect(context.Background(), cfg.IndexerNodeEndpoint); err != nil {
			return errors.Wrap(err, "chainindexd: connect")
		}
		log.Info("live listener connected", "peer", cfg.IndexerNodeEndpoint)
		return listener.RunBroadcastConsumer(context.Background())
	},
}

var dumpConfigCommand = cli.Command{
	Name:  "dumpconfig",
	Usage: "print the fully-resolved configuration as TOML",
	Action: func(ctx *cli.Context) error {
		cfg, err := config.MakeConfig(ctx)
		if err != nil {
			return err
		}
		return config.Dump(os.Stdout, &cfg)
	},
}

// deps bundles every long-lived component the bulk and listen commands
// both need, built once from the resolved Config.
type deps struct {
	params         *chaincfg.Params
	chain          *chain.Chain
	checkpoints    *checkpoint.Store
	store          *indexstore.Store
	repo           blockrepo.Repository
	workQueue      queue.WorkQueue
	broadcastQueue queue.BroadcastQueue
	tasks          []tasks.Task

	closers []func() error
}

func (d *deps) close() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			log.Warn("chainindexd: cleanup error", "err", err)
		}
	}
}

func buildDeps(cfg config.Config) (*deps, error) {
	params, err := config.ChainParams(cfg.Network)
	if err != nil {
		return nil, err
	}

	var blobs checkpoint.BlobStore
	if cfg.ObjectStore != "" {
		parts := strings.SplitN(cfg.ObjectStore, "/", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("chainindexd: object-store must be account/key/container")
		}
		blobs, err = checkpoint.NewAzureBlobStore(parts[0], parts[1], parts[2])
	} else {
		blobs, err = checkpoint.NewFilesystemBlobStore(cfg.CheckpointDir)
	}
	if err != nil {
		return nil, errors.Wrap(err, "chainindexd: blob store")
	}
	checkpoints := checkpoint.New(blobs)

	store, err := indexstore.Open(cfg.StorageConnection)
	if err != nil {
		return nil, errors.Wrap(err, "chainindexd: index store")
	}

	c := chain.New()
	if err := c.InsertGenesis(chain.Header{Hash: *params.GenesisHash}); err != nil {
		return nil, errors.Wrap(err, "chainindexd: genesis")
	}

	repo := blockrepo.NewBlobStoreRepository(blobs, true)

	var workQueue queue.WorkQueue
	var broadcastQueue queue.BroadcastQueue
	if cfg.AMQPURL != "" {
		workQueue, err = queue.NewAMQPWorkQueue(cfg.AMQPURL, "chainindex.work", 5*time.Minute)
		if err != nil {
			return nil, errors.Wrap(err, "chainindexd: amqp work queue")
		}
		broadcastQueue, err = queue.NewAMQPBroadcastQueue(cfg.AMQPURL, "chainindex.broadcast")
		if err != nil {
			return nil, errors.Wrap(err, "chainindexd: amqp broadcast queue")
		}
	} else {
		workQueue = queue.NewMemoryWorkQueue()
		broadcastQueue = queue.NewMemoryBroadcastQueue()
	}

	rules, err := config.BuildRules(cfg.BalanceRules)
	if err != nil {
		return nil, err
	}
	base := tasks.Base{Store: store, Checkpoints: checkpoints, Chain: c, ChainParams: params}
	taskSet := []tasks.Task{
		tasks.NewBlocksTask(base),
		tasks.NewTransactionsTask(base),
		tasks.NewBalancesTask(base, rules),
		tasks.NewWalletsTask(base, rules),
	}

	d := &deps{
		params:         params,
		chain:          c,
		checkpoints:    checkpoints,
		store:          store,
		repo:           repo,
		workQueue:      workQueue,
		broadcastQueue: broadcastQueue,
		tasks:          taskSet,
		closers:        []func() error{store.Close, workQueue.Close},
	}
	return d, nil
}
