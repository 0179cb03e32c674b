// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/btcsuite/idxwallet/chain"
	"github.com/btcsuite/idxwallet/wallet"
	flags "github.com/jessevdk/go-flags"
)

// dbTimeout is how long to wait for the database file lock.
const dbTimeout = 10 * time.Second

// errNoWallet is returned when a command needs a wallet that was never
// created.
var errNoWallet = errors.New("wallet does not exist, run the create " +
	"command first")

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func walletMain() error {
	cfg, command, err := loadConfig()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			return nil
		}
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Debugf("Config: %v", spewClosure(cfg))

	ctx, cancel := withShutdown(context.Background())
	defer cancel()

	if err := run(ctx, cfg, command); err != nil {
		log.Errorf("%v", err)
		return err
	}
	return nil
}

// run opens the wallet database, connects the indexer and runs command.
func run(ctx context.Context, cfg *config, command string) error {
	src, err := newHistorySource(cfg)
	if err != nil {
		return fmt.Errorf("unable to create %s backend: %w",
			cfg.Backend, err)
	}
	if btcd, ok := src.(*chain.BtcdClient); ok {
		defer btcd.Stop()
	}
	indexer := chain.NewScanner(src, chain.WithGapLimit(cfg.GapLimit))

	db, err := openDB(cfg, command == "create")
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorf("Unable to close database: %v", err)
		}
	}()

	store := &walletStore{
		descrs: wallet.NewDescriptorProvider(db),
		datas:  wallet.NewDataProvider(db),
		caches: wallet.NewCacheProvider(db, cfg.params.Params),
	}

	if command == "create" {
		return createWallet(cfg, store, indexer)
	}

	w, err := wallet.Open(store.descrs, store.datas, store.caches, indexer)
	if err != nil {
		return err
	}
	log.Infof("Opened wallet %q (%v)", w.Name(), w.Descriptor())

	c, ok := commands[command]
	if !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	if err := c.run(ctx, cfg, w, store); err != nil {
		return err
	}
	if !c.mutates {
		return nil
	}
	return w.Save(store.datas, store.caches)
}

// openDB opens the wallet database, creating it when create is set.
func openDB(cfg *config, create bool) (walletdb.DB, error) {
	dbPath := filepath.Join(cfg.DataDir.Value, walletDbName)

	if create {
		if _, err := os.Stat(dbPath); err == nil {
			return nil, fmt.Errorf("wallet database %s already "+
				"exists", dbPath)
		}
		if err := os.MkdirAll(cfg.DataDir.Value, 0700); err != nil {
			return nil, err
		}
		return walletdb.Create("bdb", dbPath, true, dbTimeout)
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, errNoWallet
	}
	return walletdb.Open("bdb", dbPath, true, dbTimeout)
}

// newHistorySource creates the configured blockchain data backend.
func newHistorySource(cfg *config) (chain.HistorySource, error) {
	switch cfg.Backend {
	case "esplora", "mempool":
		kind := chain.Esplora
		if cfg.Backend == "mempool" {
			kind = chain.Mempool
		}
		return chain.NewEsploraClient(chain.EsploraConfig{
			URL:               cfg.IndexerURL.Value,
			Kind:              kind,
			RequestsPerSecond: cfg.RequestRate,
			Burst:             1,
		}), nil

	case "btcd":
		return chain.NewBtcdClient(chain.BtcdConfig{
			Host:       cfg.RPCConnect,
			User:       cfg.BtcdUsername,
			Pass:       cfg.BtcdPassword,
			Certs:      cfg.certs,
			DisableTLS: cfg.DisableClientTLS,
		}, cfg.params.Params)

	default:
		return nil, fmt.Errorf("%w %q", errUnknownBackend, cfg.Backend)
	}
}
