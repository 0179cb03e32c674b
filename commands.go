// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/chain"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/btcsuite/idxwallet/wallet"
	"github.com/btcsuite/idxwallet/wallet/txauthor"
	"github.com/btcsuite/idxwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

// errNothingToAnnotate is returned by the annotate command when neither a
// transaction nor an address is given.
var errNothingToAnnotate = errors.New("one of --txid or --address is " +
	"required")

// walletStore groups the persistence providers of the wallet database.
type walletStore struct {
	descrs wallet.Provider[waddrmgr.Descriptor]
	datas  wallet.Provider[wallet.WalletData]
	caches wallet.Provider[wtxmgr.Cache]
}

// command is a subcommand operating on an opened wallet. The wallet is saved
// afterwards if the command mutates it.
type command struct {
	run     func(context.Context, *config, *wallet.Wallet, *walletStore) error
	mutates bool
}

var commands = map[string]command{
	"refresh":   {run: refreshWallet, mutates: true},
	"balance":   {run: showBalance},
	"coins":     {run: listCoins},
	"history":   {run: listHistory},
	"address":   {run: nextAddress, mutates: true},
	"annotate":  {run: annotate, mutates: true},
	"construct": {run: construct, mutates: true},
	"publish":   {run: publish},
	"sync":      {run: syncWallet, mutates: true},
}

// createWallet stores a new wallet for the configured descriptor.
func createWallet(cfg *config, store *walletStore,
	indexer chain.Indexer) error {

	descr, err := waddrmgr.ParseDescriptor(
		cfg.Create.Descriptor, cfg.params.Params,
	)
	if err != nil {
		return err
	}
	if err := store.descrs.Store(descr); err != nil {
		return err
	}

	w := wallet.New(descr, wallet.NewWalletData(cfg.Create.Name), nil,
		indexer)
	if err := w.Save(store.datas, store.caches); err != nil {
		return err
	}

	log.Infof("Created wallet %q for %v", cfg.Create.Name, descr)
	return nil
}

func refreshWallet(ctx context.Context, _ *config, w *wallet.Wallet,
	_ *walletStore) error {

	changed, errs := w.Refresh(ctx)
	fmt.Printf("%d transactions changed, %d errors, tip %v\n", changed,
		len(errs), w.LastBlock())
	return nil
}

func showBalance(_ context.Context, _ *config, w *wallet.Wallet,
	_ *walletStore) error {

	fmt.Println(w.Balance())
	return nil
}

func listCoins(_ context.Context, cfg *config, w *wallet.Wallet,
	_ *walletStore) error {

	var filter wallet.CoinFilter = wallet.AllCoins
	if cfg.Coins.NoPending {
		filter = wallet.ExcludePendingSpends
	}
	for _, coin := range w.Coins() {
		if !filter(coin) {
			continue
		}
		pending := ""
		if coin.PendingSpend.IsSome() {
			pending = " pending"
		}
		fmt.Printf("%v %v %v %v%s\n", coin.OutPoint, coin.Value,
			coin.Addr, coin.Status, pending)
	}
	return nil
}

func listHistory(_ context.Context, _ *config, w *wallet.Wallet,
	_ *walletStore) error {

	for _, row := range w.History() {
		note, _ := w.TxNote(row.Txid)
		fmt.Printf("%v %v %v %v fee %v balance %v %s\n", row.Txid,
			row.Status, row.Operation, row.Amount, row.Fee,
			row.Balance, note)
	}
	return nil
}

func nextAddress(_ context.Context, cfg *config, w *wallet.Wallet,
	_ *walletStore) error {

	keychain := waddrmgr.External
	if cfg.Address.Change {
		keychain = waddrmgr.Internal
	}
	addr, err := w.NextAddress(keychain, cfg.Address.Shift)
	if err != nil {
		return err
	}
	fmt.Printf("%v %v\n", addr, addr.Terminal)
	return nil
}

func annotate(_ context.Context, cfg *config, w *wallet.Wallet,
	_ *walletStore) error {

	switch {
	case cfg.Annotate.Txid != "":
		txid, err := chainhash.NewHashFromStr(cfg.Annotate.Txid)
		if err != nil {
			return err
		}
		w.AnnotateTx(*txid, cfg.Annotate.Note)

	case cfg.Annotate.Address != "":
		addr, err := btcutil.DecodeAddress(
			cfg.Annotate.Address, cfg.params.Params,
		)
		if err != nil {
			return err
		}
		w.AnnotateAddr(addr, cfg.Annotate.Note)

	default:
		return errNothingToAnnotate
	}
	return nil
}

// parseBeneficiaries parses every <amount>@<address> argument.
func parseBeneficiaries(args []string,
	net *chaincfg.Params) ([]txauthor.Beneficiary, error) {

	beneficiaries := make([]txauthor.Beneficiary, 0, len(args))
	for _, arg := range args {
		b, err := txauthor.ParseBeneficiary(arg, net)
		if err != nil {
			return nil, err
		}
		beneficiaries = append(beneficiaries, b)
	}
	return beneficiaries, nil
}

// parseOutPoints parses every <txid>:<index> argument.
func parseOutPoints(args []string) ([]wire.OutPoint, error) {
	ops := make([]wire.OutPoint, 0, len(args))
	for _, arg := range args {
		op, err := wire.NewOutPointFromString(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid outpoint %q: %w", arg, err)
		}
		ops = append(ops, *op)
	}
	return ops, nil
}

// selectionTarget returns the value coins must cover to pay beneficiaries
// and fee. A MAX beneficiary takes every coin.
func selectionTarget(beneficiaries []txauthor.Beneficiary,
	fee btcutil.Amount) btcutil.Amount {

	target := fee
	for _, b := range beneficiaries {
		if b.Amount.IsMax() {
			return btcutil.MaxSatoshi
		}
		target += b.Amount.Sats()
	}
	return target
}

func construct(_ context.Context, cfg *config, w *wallet.Wallet,
	_ *walletStore) error {

	opts := cfg.Construct
	beneficiaries, err := parseBeneficiaries(opts.To, cfg.params.Params)
	if err != nil {
		return err
	}

	coins, err := parseOutPoints(opts.Coins)
	if err != nil {
		return err
	}
	if len(coins) == 0 {
		filter := wallet.ExcludeImmatureCoinbase(
			w.LastBlock().Height, cfg.params.Params,
		)
		if opts.NoPending {
			filter = wallet.And(filter, wallet.ExcludePendingSpends)
		}
		target := selectionTarget(beneficiaries, opts.Fee.Amount)
		coins = slices.Collect(w.CoinSelect(target, filter))
	}

	params := txauthor.DefaultTxParams(opts.Fee.Amount)
	params.Sequence = opts.Sequence
	params.ChangeShift = !opts.NoShift
	if opts.LockTime != 0 {
		params.LockTime = fn.Some(opts.LockTime)
	}

	authored, err := w.ConstructPsbt(coins, beneficiaries, params)
	if err != nil {
		return err
	}

	log.Infof("Transaction vsize %d, fee %v, change output %d",
		authored.VSize, authored.Fee, authored.ChangeIndex)

	b64, err := authored.Packet.B64Encode()
	if err != nil {
		return err
	}
	fmt.Println(b64)
	return nil
}

func publish(ctx context.Context, cfg *config, w *wallet.Wallet,
	_ *walletStore) error {

	raw, err := hex.DecodeString(cfg.Publish.Args.Tx)
	if err != nil {
		return err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return err
	}
	if err := w.Publish(ctx, &tx); err != nil {
		return err
	}
	fmt.Println(tx.TxHash())
	return nil
}

// syncWallet refreshes the wallet on every tick and saves it after every
// refresh until the context ends.
func syncWallet(ctx context.Context, cfg *config, w *wallet.Wallet,
	store *walletStore) error {

	if err := refreshWallet(ctx, cfg, w, store); err != nil {
		return err
	}

	syncer := wallet.NewSyncer(w, ticker.New(cfg.Sync.Interval),
		func(changed int, _ []error) {
			if changed == 0 {
				return
			}
			log.Infof("%d transactions changed, balance %v",
				changed, w.Balance())
			if err := w.Save(store.datas, store.caches); err != nil {
				log.Errorf("Unable to save wallet: %v", err)
			}
		},
	)
	syncer.Start(ctx)
	<-ctx.Done()
	syncer.Stop()

	return nil
}
