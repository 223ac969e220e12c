// Package config implements chainindexd's configuration: a TOML file
// layered under CLI flags, mirroring the teacher's cmd/gabey/config.go
// gethConfig/loadConfig/tomlSettings idiom (naoina/toml with
// identity-cased field names, gopkg.in/urfave/cli.v1 flags).
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"
	"unicode"

	"github.com/naoina/toml"
)

// tomlSettings mirrors the teacher's: TOML keys use the same casing as
// the Go struct fields, and an unrecognized key is a hard error rather
// than silently ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// Config is chainindexd's top-level configuration (spec.md §6): which
// network to index, where the source node lives, where durable state is
// kept, and the Bulk Indexer's windowing parameters.
type Config struct {
	// Network selects the chain parameters (mainnet, testnet3, regtest).
	Network string `toml:",omitempty"`

	// IndexerNodeEndpoint is the host:port of the Bitcoin node this
	// process connects to for both header sync and live indexing.
	IndexerNodeEndpoint string `toml:",omitempty"`

	// StorageConnection is the index store's on-disk directory (the
	// teacher's datadir idiom applied to the leveldb-backed wide-column
	// store).
	StorageConnection string `toml:",omitempty"`

	// CheckpointDir is the filesystem blob store root backing the
	// Checkpoint Store when ObjectStore below is left empty.
	CheckpointDir string `toml:",omitempty"`

	// ObjectStore, when set, names an Azure Blob Storage container as
	// "account/key/container"; it is used for the Checkpoint Store and
	// archived-block Block Repository instead of the filesystem blob store.
	ObjectStore string `toml:",omitempty"`

	// AMQPURL, when set, selects the AMQP-backed Work/Broadcast Queues
	// instead of the in-process memory queues (suitable only for a
	// single-process deployment).
	AMQPURL string `toml:",omitempty"`

	BlockGranularity    uint32 `toml:",omitempty"`
	TransactionsPerWork uint32 `toml:",omitempty"`

	LeaseTimeout time.Duration `toml:",omitempty"`
	PollInterval time.Duration `toml:",omitempty"`

	BalanceRules []BalanceRuleConfig `toml:",omitempty"`
}

// BalanceRuleConfig is the TOML-level shape of a tasks.BalanceRule
// (spec.md §4.E's configurable rule list).
type BalanceRuleConfig struct {
	Kind    string `toml:",omitempty"` // "exact_script" | "exact_address" | "prefix_wildcard"
	Pattern string `toml:",omitempty"`
	Label   string `toml:",omitempty"`
}

// DefaultConfig mirrors the teacher's DefaultConfig package-level value
// idiom (abey.DefaultConfig, dashboard.DefaultConfig): every field a
// fresh Config should start from absent an override.
var DefaultConfig = Config{
	Network:             "mainnet",
	StorageConnection:   "chainindex-data",
	CheckpointDir:       "chainindex-checkpoints",
	BlockGranularity:    100,
	TransactionsPerWork: 2_000_000,
	LeaseTimeout:        30 * time.Second,
	PollInterval:        time.Second,
}

// Load reads a TOML file into cfg, which should already hold defaults
// (spec.md's "defaults, then file, then flags" layering, teacher's
// loadConfig).
func Load(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// Dump renders cfg back out as TOML, the teacher's dumpconfig command's
// underlying operation.
func Dump(w io.Writer, cfg *Config) error {
	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
