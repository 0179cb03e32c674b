// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChangeOutput identifies the change output of a constructed transaction.
type ChangeOutput struct {
	Index uint32
	Addr  waddrmgr.DerivedAddr
}

// RegisterPsbt records a transaction constructed by the wallet before the
// indexer has seen it. Every input must spend a wallet output; those outputs
// are marked as pending spends. The change output, if any, becomes a new
// unspent wallet output and is accounted to its address.
func (c *Cache) RegisterPsbt(packet *psbt.Packet, change fn.Option[ChangeOutput],
	net *chaincfg.Params) (chainhash.Hash, error) {

	msgTx := packet.UnsignedTx
	txid := msgTx.TxHash()

	// Resolve all inputs first so a stale reference leaves the cache
	// untouched.
	prevs := make([]WalletTxo, 0, len(msgTx.TxIn))
	for _, txIn := range msgTx.TxIn {
		prev, err := c.OutpointBy(txIn.PreviousOutPoint)
		if err != nil {
			return txid, err
		}
		prevs = append(prevs, prev)
	}

	wtx := &WalletTx{
		Txid:     txid,
		Status:   TxStatus{Kind: StatusUnknown},
		Size:     uint32(msgTx.SerializeSize()),
		Weight:   uint32(msgTx.SerializeSizeStripped() * 4),
		Version:  msgTx.Version,
		LockTime: msgTx.LockTime,
	}

	var inSum, outSum btcutil.Amount
	for i, txIn := range msgTx.TxIn {
		wtx.Inputs = append(wtx.Inputs, TxCredit{
			OutPoint:  txIn.PreviousOutPoint,
			Payer:     Wallet(prevs[i].Addr),
			Sequence:  txIn.Sequence,
			SigScript: txIn.SignatureScript,
			Witness:   txIn.Witness,
			Value:     prevs[i].Value,
		})
		inSum += prevs[i].Value
	}

	for i, txOut := range msgTx.TxOut {
		out := TxDebit{
			OutPoint:    wire.OutPoint{Hash: txid, Index: uint32(i)},
			Beneficiary: FromScript(txOut.PkScript, net),
			Value:       btcutil.Amount(txOut.Value),
		}
		change.WhenSome(func(ch ChangeOutput) {
			if ch.Index == uint32(i) {
				out.Beneficiary = Wallet(ch.Addr)
			}
		})
		wtx.Outputs = append(wtx.Outputs, out)
		outSum += out.Value
	}
	wtx.Fee = inSum - outSum

	if _, ok := c.Txs[txid]; ok {
		return txid, fmt.Errorf("transaction %v already registered",
			txid)
	}
	c.Txs[txid] = wtx

	for i, txIn := range msgTx.TxIn {
		c.PendingSpends[txIn.PreviousOutPoint] = Inpoint{
			Txid: txid, Vin: uint32(i),
		}
	}

	change.WhenSome(func(ch ChangeOutput) {
		if ch.Index >= uint32(len(wtx.Outputs)) {
			return
		}
		value := wtx.Outputs[ch.Index].Value
		c.Utxos[wire.OutPoint{Hash: txid, Index: ch.Index}] = struct{}{}

		addr, ok := c.Addr(ch.Addr.Terminal)
		if !ok {
			addr = WalletAddr{
				Terminal: ch.Addr.Terminal,
				Addr:     ch.Addr.Addr,
			}
		}
		addr.Used++
		addr.Volume += value
		addr.Balance += value
		c.PutAddr(addr)
	})

	log.Debugf("Registered constructed transaction %v with %d inputs",
		txid, len(wtx.Inputs))

	return txid, nil
}

// RemoveTx drops a transaction from the cache together with the unspent
// outputs it created and every pending spend it holds. Address aggregates are
// left to the caller.
func (c *Cache) RemoveTx(txid chainhash.Hash) (*WalletTx, bool) {
	tx, ok := c.Txs[txid]
	if !ok {
		return nil, false
	}
	delete(c.Txs, txid)

	for _, out := range tx.Outputs {
		delete(c.Utxos, out.OutPoint)
		delete(c.PendingSpends, out.OutPoint)
	}
	for op, in := range c.PendingSpends {
		if in.Txid == txid {
			delete(c.PendingSpends, op)
		}
	}

	log.Debugf("Removed transaction %v (%v)", txid, tx.Status)
	return tx, true
}
