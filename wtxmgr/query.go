// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// WalletTxo is a transaction output paying to a wallet address.
type WalletTxo struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	Addr     waddrmgr.DerivedAddr
	Status   TxStatus
	Coinbase bool

	// Spent is the confirmed spend of the output, if any.
	Spent fn.Option[Inpoint]

	// PendingSpend is an unconfirmed spend of the output, if any.
	PendingSpend fn.Option[Inpoint]
}

// CompareOutPoints orders outpoints canonically: by the bytes of the
// transaction hash, then by output index.
func CompareOutPoints(a, b wire.OutPoint) int {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c
	}
	return cmp.Compare(a.Index, b.Index)
}

// SortedUtxos returns the unspent outpoints in canonical order.
func (c *Cache) SortedUtxos() []wire.OutPoint {
	ops := make([]wire.OutPoint, 0, len(c.Utxos))
	for op := range c.Utxos {
		ops = append(ops, op)
	}
	slices.SortFunc(ops, CompareOutPoints)
	return ops
}

func (c *Cache) txo(tx *WalletTx, index uint32) (WalletTxo, bool) {
	out := &tx.Outputs[index]
	derived, ok := out.Beneficiary.Derived()
	if !ok {
		return WalletTxo{}, false
	}

	txo := WalletTxo{
		OutPoint: out.OutPoint,
		Value:    out.Value,
		Addr:     derived,
		Status:   tx.Status,
		Coinbase: tx.IsCoinbase(),
		Spent:    out.Spent,
	}
	if in, ok := c.PendingSpends[out.OutPoint]; ok {
		txo.PendingSpend = fn.Some(in)
	}
	return txo, true
}

// OutpointBy resolves an outpoint the caller believes to be a spendable
// wallet output. Any error means the caller's view of the wallet is stale.
func (c *Cache) OutpointBy(op wire.OutPoint) (WalletTxo, error) {
	tx, ok := c.Txs[op.Hash]
	if !ok {
		return WalletTxo{}, txStoreError(ErrNonWalletTx,
			fmt.Sprintf("transaction %v is not a wallet "+
				"transaction", op.Hash), nil)
	}
	if op.Index >= uint32(len(tx.Outputs)) {
		return WalletTxo{}, txStoreError(ErrNoOutput,
			fmt.Sprintf("transaction %v has no output %d",
				op.Hash, op.Index), nil)
	}
	txo, ok := c.txo(tx, op.Index)
	if !ok {
		return WalletTxo{}, txStoreError(ErrNonWalletUtxo,
			fmt.Sprintf("output %v does not belong to the wallet",
				op), nil)
	}
	if txo.Spent.IsSome() {
		return WalletTxo{}, txStoreError(ErrSpent,
			fmt.Sprintf("output %v is already spent", op), nil)
	}
	return txo, nil
}

// Coins returns the unspent wallet outputs in canonical order.
func (c *Cache) Coins() []WalletTxo {
	ops := c.SortedUtxos()
	coins := make([]WalletTxo, 0, len(ops))
	for _, op := range ops {
		tx, ok := c.Txs[op.Hash]
		if !ok || op.Index >= uint32(len(tx.Outputs)) {
			log.Warnf("Unspent output %v missing from cache", op)
			continue
		}
		txo, ok := c.txo(tx, op.Index)
		if !ok {
			log.Warnf("Unspent output %v is not a wallet output", op)
			continue
		}
		coins = append(coins, txo)
	}
	return coins
}

// Txos returns every wallet output ever seen, spent or not, in canonical
// order.
func (c *Cache) Txos() []WalletTxo {
	var txos []WalletTxo
	for _, tx := range c.Txs {
		for i := range tx.Outputs {
			if txo, ok := c.txo(tx, uint32(i)); ok {
				txos = append(txos, txo)
			}
		}
	}
	slices.SortFunc(txos, func(a, b WalletTxo) int {
		return CompareOutPoints(a.OutPoint, b.OutPoint)
	})
	return txos
}

// Balance returns the total value of the unspent wallet outputs.
func (c *Cache) Balance() btcutil.Amount {
	var total btcutil.Amount
	for _, coin := range c.Coins() {
		total += coin.Value
	}
	return total
}
