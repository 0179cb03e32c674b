// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// walletCache builds a cache holding two funding transactions paying to
// external addresses 0 and 1 plus one external output.
func walletCache(t *testing.T) (*Cache, *waddrmgr.Descriptor) {
	t.Helper()

	d := testDescriptor(t)
	a0 := derive(t, d, waddrmgr.External, 0)
	a1 := derive(t, d, waddrmgr.External, 1)

	c := NewCache()
	tx1 := fundingTx(1, minedAt(100),
		pay(Wallet(a0), 1000),
		pay(Unknown(externalScript(1)), 5000),
	)
	tx2 := fundingTx(2, minedAt(101), pay(Wallet(a1), 2000))
	c.Txs[tx1.Txid] = tx1
	c.Txs[tx2.Txid] = tx2
	c.Utxos[tx1.Outputs[0].OutPoint] = struct{}{}
	c.Utxos[tx2.Outputs[0].OutPoint] = struct{}{}
	c.PutAddr(WalletAddr{
		Terminal: a0.Terminal, Addr: a0.Addr,
		Used: 1, Volume: 1000, Balance: 1000,
	})
	c.PutAddr(WalletAddr{
		Terminal: a1.Terminal, Addr: a1.Addr,
		Used: 1, Volume: 2000, Balance: 2000,
	})

	return c, d
}

// TestCheckInvariants verifies every invariant violation is reported.
func TestCheckInvariants(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		corrupt func(c *Cache)
		wantErr error
	}{
		{
			name:    "consistent",
			corrupt: func(*Cache) {},
		},
		{
			name: "utxo without output",
			corrupt: func(c *Cache) {
				c.Utxos[wire.OutPoint{Hash: hashOf(9)}] = struct{}{}
			},
			wantErr: ErrInconsistent,
		},
		{
			name: "utxo paying external party",
			corrupt: func(c *Cache) {
				c.Utxos[wire.OutPoint{
					Hash: hashOf(1), Index: 1,
				}] = struct{}{}
			},
			wantErr: ErrInconsistent,
		},
		{
			name: "spent utxo",
			corrupt: func(c *Cache) {
				c.Txs[hashOf(1)].Outputs[0].Spent = fn.Some(
					Inpoint{Txid: hashOf(3)},
				)
			},
			wantErr: ErrInconsistent,
		},
		{
			name: "pending spend of non utxo",
			corrupt: func(c *Cache) {
				c.PendingSpends[wire.OutPoint{
					Hash: hashOf(1), Index: 1,
				}] = Inpoint{Txid: hashOf(3)}
			},
			wantErr: ErrInconsistent,
		},
		{
			name: "used count mismatch",
			corrupt: func(c *Cache) {
				a := c.Addrs[waddrmgr.External][0]
				a.Used = 2
				c.PutAddr(a)
			},
			wantErr: ErrInconsistent,
		},
		{
			name: "negative balance",
			corrupt: func(c *Cache) {
				a := c.Addrs[waddrmgr.External][1]
				a.Balance = -1
				c.PutAddr(a)
			},
			wantErr: ErrNegativeBalance,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, _ := walletCache(t)
			tc.corrupt(c)

			errs := c.CheckInvariants()
			if tc.wantErr == nil {
				require.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			require.ErrorIs(t, errs[0], tc.wantErr)
		})
	}
}

// TestOutpointBy checks the cache consistency errors of stale references.
func TestOutpointBy(t *testing.T) {
	t.Parallel()

	c, d := walletCache(t)
	c.Txs[hashOf(2)].Outputs[0].Spent = fn.Some(Inpoint{Txid: hashOf(3)})

	testCases := []struct {
		name     string
		op       wire.OutPoint
		wantCode fn.Option[ErrorCode]
	}{
		{
			name: "wallet output",
			op:   wire.OutPoint{Hash: hashOf(1), Index: 0},
		},
		{
			name:     "unknown transaction",
			op:       wire.OutPoint{Hash: hashOf(7)},
			wantCode: fn.Some(ErrNonWalletTx),
		},
		{
			name:     "missing output",
			op:       wire.OutPoint{Hash: hashOf(1), Index: 5},
			wantCode: fn.Some(ErrNoOutput),
		},
		{
			name:     "external output",
			op:       wire.OutPoint{Hash: hashOf(1), Index: 1},
			wantCode: fn.Some(ErrNonWalletUtxo),
		},
		{
			name:     "spent output",
			op:       wire.OutPoint{Hash: hashOf(2), Index: 0},
			wantCode: fn.Some(ErrSpent),
		},
	}

	for _, tc := range testCases {
		txo, err := c.OutpointBy(tc.op)
		if tc.wantCode.IsNone() {
			require.NoError(t, err, tc.name)
			require.Equal(t, btcutil.Amount(1000), txo.Value)
			require.Equal(
				t, derive(t, d, waddrmgr.External, 0), txo.Addr,
			)
			continue
		}
		code := tc.wantCode.UnwrapOr(ErrDatabase)
		require.True(t, IsError(err, code), "%s: %v", tc.name, err)
	}
}

// TestCoins checks canonical ordering of coins and the balance.
func TestCoins(t *testing.T) {
	t.Parallel()

	c, _ := walletCache(t)

	coins := c.Coins()
	require.Len(t, coins, 2)
	require.Equal(t, hashOf(1), coins[0].OutPoint.Hash)
	require.Equal(t, hashOf(2), coins[1].OutPoint.Hash)
	require.Equal(t, btcutil.Amount(3000), c.Balance())

	require.Equal(t, []wire.OutPoint{
		coins[0].OutPoint, coins[1].OutPoint,
	}, c.SortedUtxos())

	last, ok := c.LastUsedIndex(waddrmgr.External)
	require.True(t, ok)
	require.Equal(t, uint32(1), last)

	_, ok = c.LastUsedIndex(waddrmgr.Internal)
	require.False(t, ok)
}

// TestHistory checks the history rows and the running balance.
func TestHistory(t *testing.T) {
	t.Parallel()

	c, d := walletCache(t)
	a0 := derive(t, d, waddrmgr.External, 0)

	// A mempool transaction spending the first coin to a counterparty.
	spend := &WalletTx{
		Txid:   hashOf(3),
		Status: Mempool(),
		Fee:    200,
		Inputs: []TxCredit{{
			OutPoint: wire.OutPoint{Hash: hashOf(1), Index: 0},
			Payer:    Wallet(a0),
			Value:    1000,
		}},
		Outputs: []TxDebit{{
			OutPoint:    wire.OutPoint{Hash: hashOf(3)},
			Beneficiary: FromScript(externalScript(3), netParams),
			Value:       800,
		}},
	}
	c.Txs[spend.Txid] = spend

	rows := c.History()
	require.Len(t, rows, 3)

	require.Equal(t, hashOf(1), rows[0].Txid)
	require.Equal(t, OpCredit, rows[0].Operation)
	require.Equal(t, btcutil.Amount(1000), rows[0].Amount)
	require.Len(t, rows[0].Counterparties, 2)

	require.Equal(t, hashOf(2), rows[1].Txid)
	require.Equal(t, btcutil.Amount(3000), rows[1].Balance)

	require.Equal(t, hashOf(3), rows[2].Txid)
	require.Equal(t, OpDebit, rows[2].Operation)
	require.Equal(t, []uint32{0}, rows[2].OurInputs)
	require.Equal(t, btcutil.Amount(-1000), rows[2].Amount)
	require.Equal(t, btcutil.Amount(2000), rows[2].Balance)
	require.Equal(t, PartyCounterparty, rows[2].Counterparties[0].Party.Kind())
}

// TestRegisterPsbt checks that a constructed transaction marks its inputs as
// pending spends and adds its change as a new coin.
func TestRegisterPsbt(t *testing.T) {
	t.Parallel()

	c, d := walletCache(t)
	change := derive(t, d, waddrmgr.Internal, 0)

	msgTx := wire.NewMsgTx(2)
	msgTx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: hashOf(1), Index: 0}, nil, nil,
	))
	msgTx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: hashOf(2), Index: 0}, nil, nil,
	))
	msgTx.AddTxOut(wire.NewTxOut(1500, externalScript(4)))
	msgTx.AddTxOut(wire.NewTxOut(1300, change.PkScript))
	packet, err := psbt.NewFromUnsignedTx(msgTx)
	require.NoError(t, err)

	txid, err := c.RegisterPsbt(packet, fn.Some(ChangeOutput{
		Index: 1, Addr: change,
	}), netParams)
	require.NoError(t, err)
	require.Equal(t, msgTx.TxHash(), txid)

	wtx := c.Txs[txid]
	require.Equal(t, StatusUnknown, wtx.Status.Kind)
	require.Equal(t, btcutil.Amount(200), wtx.Fee)
	require.True(t, wtx.Outputs[1].Beneficiary.IsWallet())
	require.Equal(t, PartyCounterparty, wtx.Outputs[0].Beneficiary.Kind())

	require.Len(t, c.PendingSpends, 2)
	require.Contains(t, c.Utxos, wire.OutPoint{Hash: txid, Index: 1})
	require.Empty(t, c.CheckInvariants())

	addr, ok := c.Addr(change.Terminal)
	require.True(t, ok)
	require.Equal(t, uint32(1), addr.Used)
	require.Equal(t, btcutil.Amount(1300), addr.Volume)

	coins := c.Coins()
	require.Len(t, coins, 3)
	for _, coin := range coins {
		if coin.OutPoint.Hash == txid {
			require.True(t, coin.PendingSpend.IsNone())
			continue
		}
		require.True(t, coin.PendingSpend.IsSome())
	}

	// Registering a transaction spending a foreign output must leave the
	// cache untouched.
	stale := wire.NewMsgTx(2)
	stale.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: hashOf(1), Index: 1}, nil, nil,
	))
	stale.AddTxOut(wire.NewTxOut(1000, externalScript(5)))
	packet, err = psbt.NewFromUnsignedTx(stale)
	require.NoError(t, err)

	numTxs := len(c.Txs)
	_, err = c.RegisterPsbt(packet, fn.None[ChangeOutput](), netParams)
	require.True(t, IsError(err, ErrNonWalletUtxo))
	require.Len(t, c.Txs, numTxs)
}

// TestRemoveTx checks that removing a constructed transaction releases the
// coins it was spending and forgets its change.
func TestRemoveTx(t *testing.T) {
	t.Parallel()

	c, d := walletCache(t)
	change := derive(t, d, waddrmgr.Internal, 0)

	msgTx := wire.NewMsgTx(2)
	msgTx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: hashOf(1), Index: 0}, nil, nil,
	))
	msgTx.AddTxOut(wire.NewTxOut(700, change.PkScript))
	packet, err := psbt.NewFromUnsignedTx(msgTx)
	require.NoError(t, err)

	numUtxos := len(c.Utxos)
	txid, err := c.RegisterPsbt(packet, fn.Some(ChangeOutput{
		Index: 0, Addr: change,
	}), netParams)
	require.NoError(t, err)
	require.Len(t, c.PendingSpends, 1)
	require.Len(t, c.Utxos, numUtxos+1)

	removed, ok := c.RemoveTx(txid)
	require.True(t, ok)
	require.Equal(t, txid, removed.Txid)
	require.NotContains(t, c.Txs, txid)
	require.Empty(t, c.PendingSpends)
	require.Len(t, c.Utxos, numUtxos)
	require.Contains(t, c.Utxos, wire.OutPoint{Hash: hashOf(1), Index: 0})

	_, ok = c.RemoveTx(txid)
	require.False(t, ok)
}

// TestTxStatusOrder checks Unknown < Mempool < Channel < Mined ordered by
// height.
func TestTxStatusOrder(t *testing.T) {
	t.Parallel()

	ordered := []TxStatus{
		{Kind: StatusUnknown},
		Mempool(),
		{Kind: StatusChannel},
		minedAt(5),
		minedAt(6),
	}
	for i := 0; i < len(ordered)-1; i++ {
		require.Negative(t, ordered[i].Compare(ordered[i+1]))
		require.Positive(t, ordered[i+1].Compare(ordered[i]))
	}
	require.Zero(t, minedAt(5).Compare(minedAt(5)))
	require.Equal(t, int32(-1), Mempool().Height())
}

// TestFromScript checks the classification of external scripts.
func TestFromScript(t *testing.T) {
	t.Parallel()

	p := FromScript(externalScript(1), netParams)
	require.Equal(t, PartyCounterparty, p.Kind())
	_, ok := p.Address()
	require.True(t, ok)

	nullData, err := txscript.NullDataScript([]byte("idx"))
	require.NoError(t, err)
	require.Equal(t, PartyUnknown, FromScript(nullData, netParams).Kind())

	require.Equal(t, PartyUnknown, FromScript([]byte{0x51}, netParams).Kind())
	require.Nil(t, Subsidy().Script())
	require.True(t, Unknown([]byte{1}).MatchesScript([]byte{1}))
}
