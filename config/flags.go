package config

import (
	"time"

	"gopkg.in/urfave/cli.v1"
)

// ConfigFileFlag names the TOML file Load reads, mirroring the
// teacher's configFileFlag (cmd/gabey/config.go).
var ConfigFileFlag = cli.StringFlag{
	Name:  "config",
	Usage: "TOML configuration file",
}

// Flags is the full set of command-line overrides for Config, in the
// teacher's cli.v1 StringFlag/Uint64Flag idiom.
var Flags = []cli.Flag{
	cli.StringFlag{Name: "network", Usage: "chain parameters to index: mainnet, testnet3, or regtest"},
	cli.StringFlag{Name: "indexer-node-endpoint", Usage: "host:port of the Bitcoin node to connect to"},
	cli.StringFlag{Name: "storage-connection", Usage: "index store data directory"},
	cli.StringFlag{Name: "checkpoint-dir", Usage: "filesystem blob store directory for checkpoints"},
	cli.StringFlag{Name: "object-store", Usage: "Azure Blob Storage account/key/container (overrides checkpoint-dir)"},
	cli.StringFlag{Name: "amqp-url", Usage: "AMQP broker URL for the Work and Broadcast Queues"},
	cli.UintFlag{Name: "block-granularity", Usage: "bulk indexer header-sampling stride"},
	cli.Uint64Flag{Name: "transactions-per-work", Usage: "approximate transaction count per enqueued work range"},
	cli.DurationFlag{Name: "lease-timeout", Usage: "checkpoint and lock-blob lease duration"},
	cli.DurationFlag{Name: "poll-interval", Usage: "bulk indexer dequeue empty-poll interval"},
}

// ApplyFlags overlays any flags the user actually set onto cfg, after
// defaults and any TOML file have already been applied (teacher's
// utils.SetNodeConfig / utils.SetAbeychainConfig idiom: only touch a
// field when its flag was explicitly given).
func ApplyFlags(ctx *cli.Context, cfg *Config) {
	if ctx.GlobalIsSet("network") {
		cfg.Network = ctx.GlobalString("network")
	}
	if ctx.GlobalIsSet("indexer-node-endpoint") {
		cfg.IndexerNodeEndpoint = ctx.GlobalString("indexer-node-endpoint")
	}
	if ctx.GlobalIsSet("storage-connection") {
		cfg.StorageConnection = ctx.GlobalString("storage-connection")
	}
	if ctx.GlobalIsSet("checkpoint-dir") {
		cfg.CheckpointDir = ctx.GlobalString("checkpoint-dir")
	}
	if ctx.GlobalIsSet("object-store") {
		cfg.ObjectStore = ctx.GlobalString("object-store")
	}
	if ctx.GlobalIsSet("amqp-url") {
		cfg.AMQPURL = ctx.GlobalString("amqp-url")
	}
	if ctx.GlobalIsSet("block-granularity") {
		cfg.BlockGranularity = uint32(ctx.GlobalUint("block-granularity"))
	}
	if ctx.GlobalIsSet("transactions-per-work") {
		cfg.TransactionsPerWork = uint32(ctx.GlobalUint64("transactions-per-work"))
	}
	if ctx.GlobalIsSet("lease-timeout") {
		cfg.LeaseTimeout = ctx.GlobalDuration("lease-timeout")
	}
	if ctx.GlobalIsSet("poll-interval") {
		cfg.PollInterval = ctx.GlobalDuration("poll-interval")
	}
	if cfg.LeaseTimeout == 0 {
		cfg.LeaseTimeout = 30 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
}

// MakeConfig builds a Config starting from DefaultConfig, optionally
// loading a TOML file named by ConfigFileFlag, then applying flags —
// the teacher's makeConfigNode layering order.
func MakeConfig(ctx *cli.Context) (Config, error) {
	cfg := DefaultConfig
	if file := ctx.GlobalString(ConfigFileFlag.Name); file != "" {
		if err := Load(file, &cfg); err != nil {
			return Config{}, err
		}
	}
	ApplyFlags(ctx, &cfg)
	return cfg, nil
}
