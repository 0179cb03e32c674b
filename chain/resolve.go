// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/btcsuite/idxwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// resolveOwnership classifies the inputs and outputs of every transaction
// touching the scanned addresses and rebuilds the aggregates of those
// addresses from scratch. complete reports whether every keychain was scanned
// up to its gap limit, in which case a transaction missing from all histories
// is no longer known to the indexer. The number of removed transactions is
// returned along with any inconsistency found.
//
// All outputs are resolved before any input: an input can only cancel an
// unspent output once that output is known to be the wallet's.
func resolveOwnership(cache *wtxmgr.Cache, hists []addrHistory,
	net *chaincfg.Params, complete bool) (int, []error) {

	fresh := make(map[chainhash.Hash]struct{})
	for _, h := range hists {
		for _, txid := range h.txids {
			fresh[txid] = struct{}{}
		}
	}
	removed := pruneStale(cache, fresh, complete)
	reopenSpends(cache)

	aggs := make(map[waddrmgr.Terminal]*wtxmgr.WalletAddr, len(hists))
	for _, h := range hists {
		aggs[h.addr.Terminal] = &wtxmgr.WalletAddr{
			Terminal: h.addr.Terminal,
			Addr:     h.addr.Addr,
		}
	}

	for _, h := range hists {
		resolveOutputs(cache, h, aggs[h.addr.Terminal], net)
	}
	for _, h := range hists {
		resolveInputs(cache, h, aggs[h.addr.Terminal], net)
	}

	// Change paid by constructed transactions the indexer has not seen
	// yet is not part of any history.
	locals := localAggregates(cache, fresh)
	for t, local := range locals {
		agg, ok := aggs[t]
		if !ok {
			continue
		}
		agg.Used += local.Used
		agg.Volume += local.Volume
		agg.Balance += local.Balance
	}

	var errs []error
	for _, h := range hists {
		agg := aggs[h.addr.Terminal]
		if agg.Balance < 0 {
			errs = append(errs, fmt.Errorf("%w: %v at %v has "+
				"balance %v", wtxmgr.ErrNegativeBalance,
				h.addr, h.addr.Terminal, agg.Balance))
			log.Errorf("Inconsistent history for %v: balance %v",
				h.addr, agg.Balance)
			agg.Balance = 0
		}
		cache.PutAddr(*agg)
	}

	if !complete {
		return removed, errs
	}

	// An address without history only keeps what constructed
	// transactions pay to it.
	for t, local := range locals {
		if _, ok := aggs[t]; !ok {
			cache.PutAddr(*local)
		}
	}
	for kc, addrs := range cache.Addrs {
		for index := range addrs {
			t := waddrmgr.Terminal{Keychain: kc, Index: index}
			_, scanned := aggs[t]
			_, local := locals[t]
			if !scanned && !local {
				delete(addrs, index)
			}
		}
	}

	return removed, errs
}

// pruneStale removes the transactions the indexer no longer vouches for. A
// constructed transaction is dropped once an indexed transaction spends one
// of its inputs: a signed transaction rarely keeps the txid of its unsigned
// template, and a conflicting spend replaces it either way. Any other
// transaction missing from a complete scan was evicted or reorganized away.
// Removal repeats until constructed transactions spending removed outputs
// are gone as well. It returns the number of removed transactions.
func pruneStale(cache *wtxmgr.Cache, fresh map[chainhash.Hash]struct{},
	complete bool) int {

	spentBy := make(map[wire.OutPoint]chainhash.Hash)
	for txid := range fresh {
		tx, ok := cache.Txs[txid]
		if !ok {
			continue
		}
		for _, in := range tx.Inputs {
			spentBy[in.OutPoint] = txid
		}
	}

	var total int
	for removed := true; removed; {
		removed = false
		for txid, tx := range cache.Txs {
			if _, ok := fresh[txid]; ok {
				continue
			}

			switch {
			case tx.Status.Kind == wtxmgr.StatusUnknown:
				by, ok := supersededBy(cache, tx, spentBy)
				if !ok {
					continue
				}
				log.Infof("Constructed transaction %v replaced "+
					"by %v", txid, by)

			case complete:
				log.Infof("Transaction %v (%v) no longer "+
					"reported by the indexer", txid, tx.Status)

			default:
				continue
			}

			cache.RemoveTx(txid)
			removed = true
			total++
		}
	}
	return total
}

// supersededBy returns the indexed transaction spending an input of the
// constructed transaction tx. A spend of an output that is no longer cached
// supersedes tx as well and is reported with a zero hash.
func supersededBy(cache *wtxmgr.Cache, tx *wtxmgr.WalletTx,
	spentBy map[wire.OutPoint]chainhash.Hash) (chainhash.Hash, bool) {

	for _, in := range tx.Inputs {
		if by, ok := spentBy[in.OutPoint]; ok {
			return by, true
		}
		if _, ok := cache.Txs[in.OutPoint.Hash]; !ok {
			return chainhash.Hash{}, true
		}
	}
	return chainhash.Hash{}, false
}

// reopenSpends clears the spend of every output whose spending transaction is
// gone or no longer mined. The resolve passes then restore the coin and, for
// an unconfirmed spender, its pending spend.
func reopenSpends(cache *wtxmgr.Cache) {
	for _, tx := range cache.Txs {
		for i := range tx.Outputs {
			out := &tx.Outputs[i]
			if out.Spent.IsNone() {
				continue
			}
			in := out.Spent.UnsafeFromSome()
			spender, ok := cache.Txs[in.Txid]
			if ok && spender.Status.IsMined() {
				continue
			}
			out.Spent = fn.None[wtxmgr.Inpoint]()
		}
	}
}

// localAggregates accounts the wallet outputs of constructed transactions
// the indexer has not reported, the way RegisterPsbt does.
func localAggregates(cache *wtxmgr.Cache,
	fresh map[chainhash.Hash]struct{}) map[waddrmgr.Terminal]*wtxmgr.WalletAddr {

	locals := make(map[waddrmgr.Terminal]*wtxmgr.WalletAddr)
	for txid, tx := range cache.Txs {
		if _, ok := fresh[txid]; ok {
			continue
		}
		if tx.Status.Kind != wtxmgr.StatusUnknown {
			continue
		}
		for _, out := range tx.Outputs {
			derived, ok := out.Beneficiary.Derived()
			if !ok {
				continue
			}
			agg, ok := locals[derived.Terminal]
			if !ok {
				agg = &wtxmgr.WalletAddr{
					Terminal: derived.Terminal,
					Addr:     derived.Addr,
				}
				locals[derived.Terminal] = agg
			}
			agg.Used++
			agg.Volume += out.Value
			agg.Balance += out.Value
		}
	}
	return locals
}

func resolveOutputs(cache *wtxmgr.Cache, h addrHistory,
	agg *wtxmgr.WalletAddr, net *chaincfg.Params) {

	for _, txid := range h.txids {
		tx, ok := cache.Txs[txid]
		if !ok {
			continue
		}

		for i := range tx.Outputs {
			out := &tx.Outputs[i]
			switch {
			case out.Beneficiary.MatchesScript(h.addr.PkScript):
				out.Beneficiary = wtxmgr.Wallet(h.addr)
				agg.Used++
				agg.Volume += out.Value
				agg.Balance += out.Value

				if out.IsSpent() {
					continue
				}
				cache.Utxos[out.OutPoint] = struct{}{}

				// Unconfirmed spends are re-established from
				// the fresh history below. Spends by locally
				// constructed transactions the indexer has not
				// seen yet are kept.
				in, ok := cache.PendingSpends[out.OutPoint]
				if ok && !isLocalTx(cache, in) {
					delete(cache.PendingSpends, out.OutPoint)
				}

			case out.Beneficiary.Kind() == wtxmgr.PartyUnknown:
				out.Beneficiary = wtxmgr.FromScript(
					out.Beneficiary.Script(), net,
				)
			}
		}
	}
}

func resolveInputs(cache *wtxmgr.Cache, h addrHistory,
	agg *wtxmgr.WalletAddr, net *chaincfg.Params) {

	for _, txid := range h.txids {
		tx, ok := cache.Txs[txid]
		if !ok {
			continue
		}

		for vin := range tx.Inputs {
			in := &tx.Inputs[vin]
			switch {
			case in.Payer.MatchesScript(h.addr.PkScript):
				in.Payer = wtxmgr.Wallet(h.addr)
				agg.Balance -= in.Value

			case in.Payer.Kind() == wtxmgr.PartyUnknown:
				in.Payer = wtxmgr.FromScript(
					in.Payer.Script(), net,
				)
				continue

			default:
				continue
			}

			prev, ok := cache.Debit(in.OutPoint)
			if !ok {
				continue
			}
			inpoint := wtxmgr.Inpoint{Txid: txid, Vin: uint32(vin)}

			// Only a confirmed spend evicts the output. An
			// unconfirmed one may still be replaced, so the coin
			// stays selectable and is flagged as pending.
			if tx.Status.IsMined() {
				prev.Spent = fn.Some(inpoint)
				delete(cache.Utxos, in.OutPoint)
				delete(cache.PendingSpends, in.OutPoint)
				continue
			}
			if _, ok := cache.Utxos[in.OutPoint]; ok {
				cache.PendingSpends[in.OutPoint] = inpoint
			}
		}
	}
}

// isLocalTx reports whether the spending transaction was constructed by the
// wallet and not yet reported by the indexer.
func isLocalTx(cache *wtxmgr.Cache, in wtxmgr.Inpoint) bool {
	tx, ok := cache.Txs[in.Txid]
	return ok && tx.Status.Kind == wtxmgr.StatusUnknown
}
