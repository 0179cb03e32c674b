// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet ties a descriptor, its user data and its reconciled cache
// into a watch-only wallet able to answer balance queries and to construct
// unsigned transactions.
package wallet

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/chain"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/btcsuite/idxwallet/wallet/txauthor"
	"github.com/btcsuite/idxwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrUnknownKeychain is returned when an address is requested on a
	// keychain the descriptor does not have.
	ErrUnknownKeychain = errors.New("keychain not in descriptor")

	// ErrDuplicateCoin is returned when the same coin is passed twice to
	// ConstructPsbt.
	ErrDuplicateCoin = errors.New("coin spent twice")
)

// Wallet is a watch-only wallet. All methods are safe for concurrent use;
// Refresh and the methods changing derivation state are exclusive, queries
// share access.
type Wallet struct {
	mu sync.RWMutex

	descr   *waddrmgr.Descriptor
	data    *WalletData
	cache   *wtxmgr.Cache
	indexer chain.Indexer
}

// New creates a wallet. A nil data or cache is replaced by an empty one; an
// empty cache is filled by the first Refresh.
func New(descr *waddrmgr.Descriptor, data *WalletData, cache *wtxmgr.Cache,
	indexer chain.Indexer) *Wallet {

	if data == nil {
		data = NewWalletData("")
	}
	if cache == nil {
		cache = wtxmgr.NewCache()
	}
	return &Wallet{
		descr:   descr,
		data:    data,
		cache:   cache,
		indexer: indexer,
	}
}

// Open loads a wallet from its providers. The descriptor must exist; missing
// data or cache start out empty.
func Open(descrs Provider[waddrmgr.Descriptor], datas Provider[WalletData],
	caches Provider[wtxmgr.Cache], indexer chain.Indexer) (*Wallet, error) {

	descr, err := descrs.Load()
	if err != nil {
		return nil, fmt.Errorf("unable to load descriptor: %w", err)
	}

	data, err := datas.Load()
	switch {
	case errors.Is(err, ErrNoData):
		log.Infof("No wallet data stored, starting empty")
		data = nil

	case err != nil:
		return nil, fmt.Errorf("unable to load wallet data: %w", err)
	}

	cache, err := caches.Load()
	switch {
	case wtxmgr.IsError(err, wtxmgr.ErrNoExist):
		log.Infof("No wallet cache stored, a full scan is required")
		cache = nil

	case err != nil:
		return nil, fmt.Errorf("unable to load wallet cache: %w", err)
	}

	return New(descr, data, cache, indexer), nil
}

// Save stores the wallet data and the cache.
func (w *Wallet) Save(datas Provider[WalletData],
	caches Provider[wtxmgr.Cache]) error {

	w.mu.RLock()
	defer w.mu.RUnlock()

	if err := datas.Store(w.data); err != nil {
		return fmt.Errorf("unable to store wallet data: %w", err)
	}
	if err := caches.Store(w.cache); err != nil {
		return fmt.Errorf("unable to store wallet cache: %w", err)
	}
	return nil
}

// Descriptor returns the wallet's descriptor.
func (w *Wallet) Descriptor() *waddrmgr.Descriptor {
	return w.descr
}

// ChainParams returns the network the wallet is for.
func (w *Wallet) ChainParams() *chaincfg.Params {
	return w.descr.Net
}

// Name returns the wallet name.
func (w *Wallet) Name() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.data.Name
}

// SetName renames the wallet.
func (w *Wallet) SetName(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.data.Name = name
}

// AnnotateTx attaches a note to a transaction. An empty note removes it.
func (w *Wallet) AnnotateTx(txid chainhash.Hash, note string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	setNote(w.data.TxAnnotations, txid, note)
}

// AnnotateTxOut attaches a note to a transaction output.
func (w *Wallet) AnnotateTxOut(op wire.OutPoint, note string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	setNote(w.data.TxOutAnnotations, op, note)
}

// AnnotateTxIn attaches a note to the input spending op.
func (w *Wallet) AnnotateTxIn(op wire.OutPoint, note string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	setNote(w.data.TxInAnnotations, op, note)
}

// AnnotateAddr attaches a note to an address.
func (w *Wallet) AnnotateAddr(addr btcutil.Address, note string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	setNote(w.data.AddrAnnotations, addr.EncodeAddress(), note)
}

// TxNote returns the note attached to a transaction.
func (w *Wallet) TxNote(txid chainhash.Hash) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	note, ok := w.data.TxAnnotations[txid]
	return note, ok
}

func setNote[K comparable](notes map[K]string, k K, note string) {
	if note == "" {
		delete(notes, k)
		return
	}
	notes[k] = note
}

// Refresh brings the cache up to date with the indexer: a full scan for an
// empty cache, an update otherwise. It returns the number of new or changed
// transactions and every error hit on the way. Whatever was reconciled is
// kept even when errors are returned.
func (w *Wallet) Refresh(ctx context.Context) (int, []error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var (
		changed int
		errs    []error
	)
	if w.cache.IsEmpty() {
		log.Infof("Scanning addresses of %v", w.descr)

		cache, createErrs := w.indexer.Create(ctx, w.descr)
		cache.LastChange = max(cache.LastChange, w.cache.LastChange)
		w.cache, changed, errs = cache, len(cache.Txs), createErrs
	} else {
		changed, errs = w.indexer.Update(ctx, w.descr, w.cache)
	}

	for _, err := range errs {
		log.Warnf("Refresh: %v", err)
	}
	for _, err := range w.cache.CheckInvariants() {
		log.Errorf("Cache check failed: %v", err)
	}

	log.Infof("Refreshed wallet at height %d: %d %s changed, balance %v",
		w.cache.LastBlock.Height, changed,
		pickNoun(changed, "transaction", "transactions"),
		w.cache.Balance())

	return changed, errs
}

// LastBlock returns the best block seen by the last refresh.
func (w *Wallet) LastBlock() wtxmgr.MiningInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.cache.LastBlock
}

// Balance returns the value of all unspent wallet outputs, including those
// spent by unconfirmed transactions.
func (w *Wallet) Balance() btcutil.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.cache.Balance()
}

// Coins returns the unspent wallet outputs in canonical outpoint order.
func (w *Wallet) Coins() []wtxmgr.WalletTxo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.cache.Coins()
}

// Utxos returns the unspent outpoints in canonical order.
func (w *Wallet) Utxos() []wire.OutPoint {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.cache.SortedUtxos()
}

// Txos returns every wallet output ever seen.
func (w *Wallet) Txos() []wtxmgr.WalletTxo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.cache.Txos()
}

// History returns one row per wallet transaction, oldest first.
func (w *Wallet) History() []wtxmgr.TxRow {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.cache.History()
}

// Addresses returns the aggregates of the used addresses of a keychain in
// index order.
func (w *Wallet) Addresses(k waddrmgr.Keychain) []wtxmgr.WalletAddr {
	w.mu.RLock()
	defer w.mu.RUnlock()

	addrs := make([]wtxmgr.WalletAddr, 0, len(w.cache.Addrs[k]))
	for _, addr := range w.cache.Addrs[k] {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, func(a, b wtxmgr.WalletAddr) int {
		return cmp.Compare(a.Terminal.Index, b.Terminal.Index)
	})
	return addrs
}

// OutpointBy resolves a spendable wallet output.
func (w *Wallet) OutpointBy(op wire.OutPoint) (wtxmgr.WalletTxo, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.cache.OutpointBy(op)
}

// CoinSelect picks coins in canonical outpoint order until their value
// reaches target. It works on a snapshot of the coins taken when called.
func (w *Wallet) CoinSelect(target btcutil.Amount,
	filter CoinFilter) iter.Seq[wire.OutPoint] {

	return selectCoins(w.Coins(), target, filter)
}

// nextIndex returns the first index of keychain k that is neither handed out
// nor used. The caller must hold the lock.
func (w *Wallet) nextIndex(k waddrmgr.Keychain) uint32 {
	index := w.data.LastUsed[k]
	if last, ok := w.cache.LastUsedIndex(k); ok && last+1 > index {
		index = last + 1
	}
	return index
}

// NextAddress returns the next unused address of keychain k. With shift set
// the address is handed out and later calls move past it.
func (w *Wallet) NextAddress(k waddrmgr.Keychain,
	shift bool) (waddrmgr.DerivedAddr, error) {

	if !w.descr.HasKeychain(k) {
		return waddrmgr.DerivedAddr{}, fmt.Errorf("%w: %v",
			ErrUnknownKeychain, k)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	index := w.nextIndex(k)
	addr, err := w.descr.Derive(waddrmgr.Terminal{Keychain: k, Index: index})
	if err != nil {
		return waddrmgr.DerivedAddr{}, err
	}
	if shift {
		w.data.LastUsed[k] = index + 1
	}
	return addr, nil
}

// changeKeychain returns the keychain change is sent to.
func (w *Wallet) changeKeychain() waddrmgr.Keychain {
	if w.descr.HasKeychain(waddrmgr.Internal) {
		return waddrmgr.Internal
	}
	return w.descr.Keychains[0]
}

// ConstructPsbt builds an unsigned transaction spending coins and paying
// beneficiaries. Every coin must be a spendable wallet output; a stale coin
// fails the construction with the cache's TxStoreError.
//
// On success the transaction is registered in the cache: its inputs become
// pending spends and its change output a new coin. With params.ChangeShift
// the change index advances past a used change address. On failure nothing
// changes.
func (w *Wallet) ConstructPsbt(coins []wire.OutPoint,
	beneficiaries []txauthor.Beneficiary,
	params txauthor.TxParams) (*txauthor.AuthoredPsbt, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[wire.OutPoint]struct{}, len(coins))
	inputs := make([]txauthor.Input, 0, len(coins))
	for _, op := range coins {
		if _, ok := seen[op]; ok {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateCoin, op)
		}
		seen[op] = struct{}{}

		txo, err := w.cache.OutpointBy(op)
		if err != nil {
			return nil, fmt.Errorf("unable to spend %v: %w", op, err)
		}
		if txo.PendingSpend.IsSome() {
			log.Warnf("Coin %v is already spent by unconfirmed "+
				"transaction %v", op,
				txo.PendingSpend.UnwrapOr(wtxmgr.Inpoint{}))
		}

		var prevTx *wire.MsgTx
		if tx, ok := w.cache.Txs[op.Hash]; ok {
			// A transaction rebuilt from incomplete data would not
			// let signers verify the amount.
			if msgTx := tx.MsgTx(); msgTx.TxHash() == op.Hash {
				prevTx = msgTx
			}
		}

		inputs = append(inputs, txauthor.Input{
			OutPoint: op,
			Value:    txo.Value,
			PkScript: txo.Addr.PkScript,
			Terminal: txo.Addr.Terminal,
			PrevTx:   prevTx,
		})
	}

	changeKc := w.changeKeychain()
	changeIndex := max(w.cache.LastChange, w.nextIndex(changeKc))
	change := &txauthor.ChangeSource{
		DustLimit: w.descr.DustLimit(),
		NewChange: func() (waddrmgr.DerivedAddr, error) {
			return w.descr.Derive(waddrmgr.Terminal{
				Keychain: changeKc,
				Index:    changeIndex,
			})
		},
	}

	authored, err := txauthor.NewUnsignedPsbt(
		w.descr, inputs, beneficiaries, params, change,
	)
	if err != nil {
		return nil, err
	}

	changeOut := fn.MapOption(
		func(addr waddrmgr.DerivedAddr) wtxmgr.ChangeOutput {
			return wtxmgr.ChangeOutput{
				Index: uint32(authored.ChangeIndex),
				Addr:  addr,
			}
		},
	)(authored.ChangeAddr)

	txid, err := w.cache.RegisterPsbt(authored.Packet, changeOut, w.descr.Net)
	if err != nil {
		return nil, fmt.Errorf("unable to register transaction: %w", err)
	}

	if params.ChangeShift && authored.ChangeAddr.IsSome() {
		w.cache.LastChange = changeIndex + 1
		w.data.LastUsed[changeKc] = max(
			w.data.LastUsed[changeKc], changeIndex+1,
		)
	}

	log.Infof("Constructed transaction %v spending %d %s, fee %v", txid,
		len(inputs), pickNoun(len(inputs), "coin", "coins"), authored.Fee)

	return authored, nil
}

// Publish broadcasts a finalized transaction through the indexer.
func (w *Wallet) Publish(ctx context.Context, tx *wire.MsgTx) error {
	return w.indexer.Publish(ctx, tx)
}
