package chain

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
	"github.com/btcsuite/idxwallet/wtxmgr"
	"github.com/stretchr/testify/require"
)

var (
	netParams = &chaincfg.RegressionNetParams

	testTip = wtxmgr.MiningInfo{
		Height:    200,
		Time:      time.Unix(1_700_000_000, 0),
		BlockHash: hashOf(0xc8),
	}
)

// testDescriptor returns a P2WPKH descriptor over a fixed test seed.
func testDescriptor(t *testing.T) *waddrmgr.Descriptor {
	t.Helper()

	return classDescriptor(t, waddrmgr.P2WPKH, 84)
}

// classDescriptor returns a descriptor of the given address class whose
// account key sits at m/purpose'/1'/0' of a fixed test seed.
func classDescriptor(t *testing.T, class waddrmgr.AddrClass,
	purpose uint32) *waddrmgr.Descriptor {

	t.Helper()

	seed := bytes.Repeat([]byte{0x33}, hdkeychain.RecommendedSeedLen)
	key, err := hdkeychain.NewMaster(seed, netParams)
	require.NoError(t, err)
	for _, p := range []uint32{purpose, 1, 0} {
		key, err = key.Derive(hdkeychain.HardenedKeyStart + p)
		require.NoError(t, err)
	}
	key, err = key.Neuter()
	require.NoError(t, err)

	d, err := waddrmgr.NewDescriptor(
		class, key, waddrmgr.KeyOrigin{}, nil, netParams,
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

func minedAt(height int32) wtxmgr.TxStatus {
	return wtxmgr.Mined(wtxmgr.MiningInfo{
		Height:    height,
		Time:      time.Unix(1_600_000_000+int64(height)*600, 0),
		BlockHash: hashOf(byte(height)),
	})
}

type input struct {
	op     wire.OutPoint
	script []byte
	value  btcutil.Amount
}

type output struct {
	script []byte
	value  btcutil.Amount
}

func from(op wire.OutPoint, script []byte, value btcutil.Amount) input {
	return input{op: op, script: script, value: value}
}

func to(script []byte, value btcutil.Amount) output {
	return output{script: script, value: value}
}

// buildTx builds a transaction as a HistorySource reports it, with every
// party unresolved.
func buildTx(id byte, status wtxmgr.TxStatus, ins []input,
	outs ...output) *wtxmgr.WalletTx {

	txid := hashOf(id)
	tx := &wtxmgr.WalletTx{
		Txid:    txid,
		Status:  status,
		Version: 2,
		Size:    250,
		Weight:  700,
	}

	var totalIn, totalOut btcutil.Amount
	for _, in := range ins {
		tx.Inputs = append(tx.Inputs, wtxmgr.TxCredit{
			OutPoint: in.op,
			Payer:    wtxmgr.Unknown(in.script),
			Sequence: wire.MaxTxInSequenceNum,
			Value:    in.value,
		})
		totalIn += in.value
	}
	for i, out := range outs {
		tx.Outputs = append(tx.Outputs, wtxmgr.TxDebit{
			OutPoint:    wire.OutPoint{Hash: txid, Index: uint32(i)},
			Beneficiary: wtxmgr.Unknown(out.script),
			Value:       out.value,
		})
		totalOut += out.value
	}
	tx.Fee = totalIn - totalOut

	return tx
}

// receive builds a transaction funded by an external input.
func receive(id byte, status wtxmgr.TxStatus, outs ...output) *wtxmgr.WalletTx {
	var total btcutil.Amount
	for _, out := range outs {
		total += out.value
	}
	funding := from(
		wire.OutPoint{Hash: hashOf(0xee), Index: uint32(id)},
		externalScript(0xee), total+500,
	)
	return buildTx(id, status, []input{funding}, outs...)
}

// coinbase builds a coinbase transaction paying value to script.
func coinbase(id byte, status wtxmgr.TxStatus, script []byte,
	value btcutil.Amount) *wtxmgr.WalletTx {

	tx := buildTx(id, status, nil, to(script, value))
	tx.Inputs = []wtxmgr.TxCredit{{
		OutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		Payer:    wtxmgr.Subsidy(),
		Sequence: wire.MaxTxInSequenceNum,
		Coinbase: true,
	}}
	tx.Fee = 0
	return tx
}
