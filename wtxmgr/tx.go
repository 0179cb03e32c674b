// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Inpoint identifies one input of a transaction. It references the spending
// side of an outpoint by value and is resolved through the cache's
// transaction map.
type Inpoint struct {
	Txid chainhash.Hash
	Vin  uint32
}

// String returns the inpoint as txid:vin.
func (i Inpoint) String() string {
	return fmt.Sprintf("%v:%d", i.Txid, i.Vin)
}

// TxCredit is one input of a wallet transaction.
type TxCredit struct {
	OutPoint  wire.OutPoint
	Payer     Party
	Sequence  uint32
	Coinbase  bool
	SigScript []byte
	Witness   wire.TxWitness
	Value     btcutil.Amount
}

// TxDebit is one output of a wallet transaction.
type TxDebit struct {
	OutPoint    wire.OutPoint
	Beneficiary Party
	Value       btcutil.Amount

	// Spent is the input spending this output once a confirmed spend is
	// known.
	Spent fn.Option[Inpoint]
}

// IsSpent reports whether a spend of the output is known.
func (d *TxDebit) IsSpent() bool {
	return d.Spent.IsSome()
}

// WalletTx is a transaction touching at least one wallet address.
type WalletTx struct {
	Txid     chainhash.Hash
	Status   TxStatus
	Inputs   []TxCredit
	Outputs  []TxDebit
	Fee      btcutil.Amount
	Size     uint32
	Weight   uint32
	Version  int32
	LockTime uint32
}

// IsCoinbase reports whether the transaction creates new coins.
func (tx *WalletTx) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].Coinbase
}

// TotalMoved returns the sum of all output values.
func (tx *WalletTx) TotalMoved() btcutil.Amount {
	var total btcutil.Amount
	for _, out := range tx.Outputs {
		total += out.Value
	}
	return total
}

// Credited returns the value the transaction pays to wallet addresses.
func (tx *WalletTx) Credited() btcutil.Amount {
	var total btcutil.Amount
	for _, out := range tx.Outputs {
		if out.Beneficiary.IsWallet() {
			total += out.Value
		}
	}
	return total
}

// Debited returns the value the transaction spends from wallet addresses.
func (tx *WalletTx) Debited() btcutil.Amount {
	var total btcutil.Amount
	for _, in := range tx.Inputs {
		if in.Payer.IsWallet() {
			total += in.Value
		}
	}
	return total
}

// VSize returns the virtual size of the transaction.
func (tx *WalletTx) VSize() uint32 {
	return (tx.Weight + 3) / 4
}

// MsgTx rebuilds the wire transaction from the cached inputs and outputs.
func (tx *WalletTx) MsgTx() *wire.MsgTx {
	msgTx := wire.NewMsgTx(tx.Version)
	msgTx.LockTime = tx.LockTime
	for _, in := range tx.Inputs {
		txIn := wire.NewTxIn(&in.OutPoint, in.SigScript, in.Witness)
		txIn.Sequence = in.Sequence
		msgTx.AddTxIn(txIn)
	}
	for _, out := range tx.Outputs {
		msgTx.AddTxOut(wire.NewTxOut(
			int64(out.Value), out.Beneficiary.Script(),
		))
	}
	return msgTx
}

// Clone returns a copy of the transaction whose inputs and outputs can be
// reclassified without affecting the original.
func (tx *WalletTx) Clone() *WalletTx {
	c := *tx
	c.Inputs = append([]TxCredit(nil), tx.Inputs...)
	c.Outputs = append([]TxDebit(nil), tx.Outputs...)
	return &c
}
