// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/btcsuite/idxwallet/wtxmgr"
	"golang.org/x/sync/errgroup"
)

// DefaultGapLimit is the number of consecutive addresses without history
// after which the scan of a keychain stops.
const DefaultGapLimit = 10

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithGapLimit overrides DefaultGapLimit.
func WithGapLimit(limit int) ScannerOption {
	return func(s *Scanner) {
		if limit > 0 {
			s.gapLimit = limit
		}
	}
}

// Scanner is an Indexer reconciling wallet state from a HistorySource.
//
// A refresh runs in two stages. The collect stage scans every keychain in
// its own goroutine, querying addresses in order until the gap limit of
// consecutive empty addresses is hit. Only once all keychains are done does
// the resolve stage classify ownership: first every output of every scanned
// address, then every input.
type Scanner struct {
	src      HistorySource
	gapLimit int
}

// A compile-time assertion to ensure Scanner meets the Indexer interface.
var _ Indexer = (*Scanner)(nil)

// NewScanner creates a Scanner over the given source.
func NewScanner(src HistorySource, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		src:      src,
		gapLimit: DefaultGapLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// addrHistory lists the transactions touching one scanned address.
type addrHistory struct {
	addr  waddrmgr.DerivedAddr
	txids []chainhash.Hash
}

// keychainScan is the private result of scanning one keychain. It is owned by
// a single goroutine until the collect stage completes.
type keychainScan struct {
	keychain waddrmgr.Keychain
	addrs    []addrHistory
	txs      map[chainhash.Hash]*wtxmgr.WalletTx
	derived  int
	err      error
}

// Create performs a full scan and returns a new cache.
func (s *Scanner) Create(ctx context.Context,
	descr *waddrmgr.Descriptor) (*wtxmgr.Cache, []error) {

	cache := wtxmgr.NewCache()
	_, errs := s.sync(ctx, descr, cache)
	return cache, errs
}

// Update rescans the descriptor's addresses and extends the cache with what
// was found.
func (s *Scanner) Update(ctx context.Context, descr *waddrmgr.Descriptor,
	cache *wtxmgr.Cache) (int, []error) {

	return s.sync(ctx, descr, cache)
}

// Publish broadcasts a finalized transaction.
func (s *Scanner) Publish(ctx context.Context, tx *wire.MsgTx) error {
	if err := s.src.Broadcast(ctx, tx); err != nil {
		return fmt.Errorf("unable to publish %v via %s: %w",
			tx.TxHash(), s.src.BackEnd(), err)
	}
	log.Infof("Published transaction %v via %s", tx.TxHash(),
		s.src.BackEnd())
	return nil
}

func (s *Scanner) sync(ctx context.Context, descr *waddrmgr.Descriptor,
	cache *wtxmgr.Cache) (int, []error) {

	// Collect stage. Each keychain fills its own keychainScan so no
	// state is shared between the goroutines.
	scans := make([]*keychainScan, len(descr.Keychains))
	var eg errgroup.Group
	for i, kc := range descr.Keychains {
		eg.Go(func() error {
			scans[i] = s.scanKeychain(ctx, descr, kc)
			return nil
		})
	}

	// Resolving ownership from a partial scan could wrongly classify
	// outputs, so everything below waits for all keychains.
	_ = eg.Wait()

	var errs []error
	for _, scan := range scans {
		log.Debugf("Scanned %d %s of %v keychain, %d with history",
			scan.derived, pickNoun(scan.derived, "address",
				"addresses"), scan.keychain, len(scan.addrs))
		if scan.err != nil {
			log.Warnf("Scan of %v keychain incomplete: %v",
				scan.keychain, scan.err)
			errs = append(errs, scan.err)
		}
	}

	complete := len(errs) == 0
	changed := mergeScans(cache, scans)

	tip, err := s.src.BestBlock(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("unable to fetch best "+
			"block: %w", err))
	} else {
		cache.LastBlock = tip
		cache.Headers[tip.BlockHash] = tip
	}

	// Resolve stage.
	var hists []addrHistory
	for _, scan := range scans {
		hists = append(hists, scan.addrs...)
	}
	removed, resolveErrs := resolveOwnership(
		cache, hists, descr.Net, complete,
	)
	changed += removed
	errs = append(errs, resolveErrs...)

	if last, ok := cache.LastUsedIndex(waddrmgr.Internal); ok &&
		last+1 > cache.LastChange {

		cache.LastChange = last + 1
	}

	log.Infof("Wallet cache holds %d transactions and %d unspent "+
		"outputs (%d changed)", len(cache.Txs), len(cache.Utxos),
		changed)
	log.Tracef("Cache addresses: %v", spewClosure(cache.Addrs))

	return changed, errs
}

// scanKeychain walks the addresses of one keychain until the gap limit is
// reached, the source fails or the context is cancelled.
func (s *Scanner) scanKeychain(ctx context.Context, descr *waddrmgr.Descriptor,
	kc waddrmgr.Keychain) *keychainScan {

	scan := &keychainScan{
		keychain: kc,
		txs:      make(map[chainhash.Hash]*wtxmgr.WalletTx),
	}

	it := descr.Addresses(kc)
	for empty := 0; empty < s.gapLimit; {
		term := waddrmgr.Terminal{Keychain: kc, Index: it.Index()}
		if err := ctx.Err(); err != nil {
			scan.err = &ScanError{Terminal: term, Err: err}
			return scan
		}

		addr, err := it.Next()
		scan.derived++
		if err != nil {
			scan.err = &ScanError{Terminal: term, Err: err}
			return scan
		}

		txs, err := s.src.ScriptHistory(ctx, addr)
		if err != nil {
			scan.err = &ScanError{Terminal: term, Err: err}
			return scan
		}
		if len(txs) == 0 {
			empty++
			continue
		}
		empty = 0

		hist := addrHistory{addr: addr}
		for _, tx := range txs {
			if slices.Contains(hist.txids, tx.Txid) {
				continue
			}
			hist.txids = append(hist.txids, tx.Txid)

			prev, ok := scan.txs[tx.Txid]
			if !ok || prev.Status.Compare(tx.Status) < 0 {
				scan.txs[tx.Txid] = tx
			}
		}
		scan.addrs = append(scan.addrs, hist)
	}

	return scan
}

// mergeScans adds the collected transactions to the cache in keychain order
// and returns the number of new or changed transactions. Transactions already
// in the cache keep their ownership classification; only their status and
// chain data is refreshed.
func mergeScans(cache *wtxmgr.Cache, scans []*keychainScan) int {
	changed := make(map[chainhash.Hash]struct{})
	for _, scan := range scans {
		for _, hist := range scan.addrs {
			for _, txid := range hist.txids {
				if mergeTx(cache, scan.txs[txid]) {
					changed[txid] = struct{}{}
				}
			}
		}
	}
	return len(changed)
}

func mergeTx(cache *wtxmgr.Cache, tx *wtxmgr.WalletTx) bool {
	if tx.Status.IsMined() {
		cache.Headers[tx.Status.Mining.BlockHash] = tx.Status.Mining
	}

	prev, ok := cache.Txs[tx.Txid]
	if !ok {
		cache.Txs[tx.Txid] = tx.Clone()
		return true
	}

	changed := prev.Status.Kind != tx.Status.Kind ||
		prev.Status.Mining.BlockHash != tx.Status.Mining.BlockHash
	if changed {
		prev.Status = tx.Status
	}
	prev.Fee = tx.Fee
	prev.Size = tx.Size
	prev.Weight = tx.Weight
	return changed
}
