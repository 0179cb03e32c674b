// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/idxwallet/waddrmgr"
)

// OpType tells whether a transaction increased or decreased the wallet
// balance.
type OpType uint8

const (
	// OpCredit is a transaction with a non-negative net effect.
	OpCredit OpType = iota

	// OpDebit is a transaction with a negative net effect.
	OpDebit
)

// String returns "+" for credits and "-" for debits.
func (o OpType) String() string {
	if o == OpDebit {
		return "-"
	}
	return "+"
}

// PartyValue is a signed value moved by a party in a transaction. Values paid
// into the transaction are positive, values taken out are negative.
type PartyValue struct {
	Party Party
	Value btcutil.Amount
}

// AddrValue is a signed value moved by a wallet address in a transaction.
type AddrValue struct {
	Addr  waddrmgr.DerivedAddr
	Value btcutil.Amount
}

// TxRow summarizes the effect of one transaction on the wallet.
type TxRow struct {
	Txid      chainhash.Hash
	Status    TxStatus
	Operation OpType

	// OurInputs are the indexes of the inputs spending wallet outputs.
	OurInputs []uint32

	Counterparties []PartyValue
	Own            []AddrValue

	Fee    btcutil.Amount
	Weight uint32
	Size   uint32

	// Total is the sum of all outputs of the transaction.
	Total btcutil.Amount

	// Amount is the net change of the wallet balance.
	Amount btcutil.Amount

	// Balance is the wallet balance after this transaction.
	Balance btcutil.Amount
}

// compareHistory orders confirmed transactions by height before unconfirmed
// ones, breaking ties by txid.
func compareHistory(a, b *WalletTx) int {
	am, bm := a.Status.IsMined(), b.Status.IsMined()
	switch {
	case am && !bm:
		return -1
	case !am && bm:
		return 1
	}
	if c := a.Status.Compare(b.Status); c != 0 {
		return c
	}
	return bytes.Compare(a.Txid[:], b.Txid[:])
}

// History returns one row per wallet transaction, oldest first, with the
// running balance.
func (c *Cache) History() []TxRow {
	txs := make([]*WalletTx, 0, len(c.Txs))
	for _, tx := range c.Txs {
		txs = append(txs, tx)
	}
	slices.SortFunc(txs, compareHistory)

	rows := make([]TxRow, 0, len(txs))
	var balance btcutil.Amount
	for _, tx := range txs {
		row := TxRow{
			Txid:   tx.Txid,
			Status: tx.Status,
			Fee:    tx.Fee,
			Weight: tx.Weight,
			Size:   tx.Size,
			Total:  tx.TotalMoved(),
		}

		for i, in := range tx.Inputs {
			if derived, ok := in.Payer.Derived(); ok {
				row.OurInputs = append(row.OurInputs, uint32(i))
				row.Own = append(row.Own, AddrValue{
					Addr: derived, Value: -in.Value,
				})
				continue
			}
			row.Counterparties = append(row.Counterparties,
				PartyValue{Party: in.Payer, Value: in.Value})
		}
		for _, out := range tx.Outputs {
			if derived, ok := out.Beneficiary.Derived(); ok {
				row.Own = append(row.Own, AddrValue{
					Addr: derived, Value: out.Value,
				})
				continue
			}
			row.Counterparties = append(row.Counterparties,
				PartyValue{Party: out.Beneficiary, Value: -out.Value})
		}

		row.Amount = tx.Credited() - tx.Debited()
		if row.Amount < 0 {
			row.Operation = OpDebit
		}
		balance += row.Amount
		row.Balance = balance

		rows = append(rows, row)
	}

	return rows
}
