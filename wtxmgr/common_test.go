// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/stretchr/testify/require"
)

var netParams = &chaincfg.RegressionNetParams

// testDescriptor returns a P2WPKH descriptor over a fixed test seed.
func testDescriptor(t *testing.T) *waddrmgr.Descriptor {
	t.Helper()

	seed := bytes.Repeat([]byte{0x17}, hdkeychain.RecommendedSeedLen)
	key, err := hdkeychain.NewMaster(seed, netParams)
	require.NoError(t, err)
	for _, p := range []uint32{84, 1, 0} {
		key, err = key.Derive(hdkeychain.HardenedKeyStart + p)
		require.NoError(t, err)
	}
	key, err = key.Neuter()
	require.NoError(t, err)

	d, err := waddrmgr.NewDescriptor(
		waddrmgr.P2WPKH, key, waddrmgr.KeyOrigin{}, nil, netParams,
	)
	require.NoError(t, err)
	return d
}

func derive(t *testing.T, d *waddrmgr.Descriptor, k waddrmgr.Keychain,
	index uint32) waddrmgr.DerivedAddr {

	t.Helper()

	addr, err := d.Derive(waddrmgr.Terminal{Keychain: k, Index: index})
	require.NoError(t, err)
	return addr
}

// externalScript is a standard P2WPKH script not belonging to the wallet.
func externalScript(n byte) []byte {
	return append([]byte{0x00, 0x14}, bytes.Repeat([]byte{n}, 20)...)
}

func hashOf(n byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = n
	return h
}

func minedAt(height int32) TxStatus {
	return Mined(MiningInfo{
		Height:    height,
		Time:      time.Unix(1_600_000_000+int64(height)*600, 0),
		BlockHash: hashOf(byte(height)),
	})
}

// fundingTx builds a transaction with one external input paying value to
// each of the given parties.
func fundingTx(id byte, status TxStatus, outs ...TxDebit) *WalletTx {
	txid := hashOf(id)
	tx := &WalletTx{
		Txid:    txid,
		Status:  status,
		Version: 2,
		Size:    200,
		Weight:  600,
		Fee:     500,
		Inputs: []TxCredit{{
			OutPoint: wire.OutPoint{Hash: hashOf(0xee), Index: 0},
			Payer:    Unknown(externalScript(0xee)),
			Sequence: wire.MaxTxInSequenceNum,
			Value:    btcutil.Amount(1_000_000),
		}},
	}
	for i, out := range outs {
		out.OutPoint = wire.OutPoint{Hash: txid, Index: uint32(i)}
		tx.Outputs = append(tx.Outputs, out)
	}
	return tx
}

func pay(p Party, value btcutil.Amount) TxDebit {
	return TxDebit{Beneficiary: p, Value: value}
}
