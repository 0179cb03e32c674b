// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/btcsuite/idxwallet/wtxmgr"
)

// BackEnds returns a list of the available back ends.
func BackEnds() []string {
	return []string{
		"esplora",
		"mempool",
		"btcd",
	}
}

// Indexer builds and maintains a wallet cache from blockchain data.
//
// Create and Update never fail as a whole. They return whatever they managed
// to reconcile together with the list of errors hit on the way; the returned
// cache is always usable, if possibly incomplete.
type Indexer interface {
	// Create scans the descriptor's addresses and returns a new cache.
	Create(ctx context.Context, descr *waddrmgr.Descriptor) (*wtxmgr.Cache,
		[]error)

	// Update extends an existing cache and returns the number of new or
	// changed transactions. The cache must not be used concurrently
	// while the update runs.
	Update(ctx context.Context, descr *waddrmgr.Descriptor,
		cache *wtxmgr.Cache) (int, []error)

	// Publish broadcasts a finalized transaction.
	Publish(ctx context.Context, tx *wire.MsgTx) error
}

// HistorySource is a blockchain data backend able to answer per script
// history queries. Scanner turns any HistorySource into an Indexer.
type HistorySource interface {
	// ScriptHistory returns every transaction with an input or output
	// referencing the address's script. Outputs carry Unknown parties and
	// inputs carry their previous output script as an Unknown payer, or
	// the subsidy for coinbase inputs.
	ScriptHistory(ctx context.Context,
		addr waddrmgr.DerivedAddr) ([]*wtxmgr.WalletTx, error)

	// BestBlock returns the tip of the best chain.
	BestBlock(ctx context.Context) (wtxmgr.MiningInfo, error)

	// Broadcast submits a finalized transaction to the network.
	Broadcast(ctx context.Context, tx *wire.MsgTx) error

	// BackEnd returns the name of the backend.
	BackEnd() string
}
