// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"iter"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/wtxmgr"
)

// CoinFilter decides whether a coin may be selected.
type CoinFilter func(coin wtxmgr.WalletTxo) bool

// AllCoins accepts every coin.
func AllCoins(wtxmgr.WalletTxo) bool {
	return true
}

// ExcludePendingSpends rejects coins already spent by an unconfirmed
// transaction.
func ExcludePendingSpends(coin wtxmgr.WalletTxo) bool {
	return coin.PendingSpend.IsNone()
}

// ExcludeImmatureCoinbase rejects coinbase outputs that cannot be spent in
// the block following bestHeight.
func ExcludeImmatureCoinbase(bestHeight int32,
	net *chaincfg.Params) CoinFilter {

	maturity := int32(net.CoinbaseMaturity)
	return func(coin wtxmgr.WalletTxo) bool {
		if !coin.Coinbase {
			return true
		}
		if !coin.Status.IsMined() {
			return false
		}
		return bestHeight+1-coin.Status.Height() >= maturity
	}
}

// And accepts coins accepted by every filter.
func And(filters ...CoinFilter) CoinFilter {
	return func(coin wtxmgr.WalletTxo) bool {
		for _, f := range filters {
			if !f(coin) {
				return false
			}
		}
		return true
	}
}

// selectCoins walks coins in order and yields the outpoints of those passing
// the filter until their running total reaches target. The coin crossing the
// target is included.
func selectCoins(coins []wtxmgr.WalletTxo, target btcutil.Amount,
	filter CoinFilter) iter.Seq[wire.OutPoint] {

	return func(yield func(wire.OutPoint) bool) {
		var total btcutil.Amount
		for _, coin := range coins {
			if total >= target {
				return
			}
			if !filter(coin) {
				continue
			}
			if !yield(coin.OutPoint) {
				return
			}
			total += coin.Value
		}
	}
}
