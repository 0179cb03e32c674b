package wallet

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/btcsuite/idxwallet/wallet/txauthor"
	"github.com/btcsuite/idxwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestRefresh checks that an empty cache is created and later updated in
// place, keeping partial results.
func TestRefresh(t *testing.T) {
	t.Parallel()

	d := testDescriptor(t)
	scanned := wtxmgr.NewCache()
	fund(t, scanned, d, 1, ext, 0, 5_000, minedAt(10))
	fund(t, scanned, d, 2, ext, 1, 7_000, minedAt(11))

	errScan := errors.New("indexer unreachable")
	indexer := &mockIndexer{}
	indexer.On("Create", mock.Anything, d).Return(
		scanned, []error{errScan},
	).Once()
	indexer.On("Update", mock.Anything, d, scanned).Return(
		1, []error(nil),
	).Once()

	w := New(d, nil, nil, indexer)
	require.Zero(t, w.Balance())

	changed, errs := w.Refresh(context.Background())
	require.Equal(t, 2, changed)
	require.Equal(t, []error{errScan}, errs)
	require.Equal(t, btcutil.Amount(12_000), w.Balance())
	require.Equal(t, int32(11), w.LastBlock().Height)

	changed, errs = w.Refresh(context.Background())
	require.Equal(t, 1, changed)
	require.Empty(t, errs)

	indexer.AssertExpectations(t)
}

// TestQueries checks the read accessors against a hand built cache.
func TestQueries(t *testing.T) {
	t.Parallel()

	d := testDescriptor(t)
	cache := wtxmgr.NewCache()
	op1 := fund(t, cache, d, 1, ext, 0, 5_000, minedAt(10))
	op2 := fund(t, cache, d, 2, ext, 3, 7_000, minedAt(11))
	op3 := fund(t, cache, d, 3, chg, 0, 1_000, wtxmgr.Mempool())

	w := New(d, nil, cache, &mockIndexer{})

	require.Equal(t, []wire.OutPoint{op1, op2, op3}, w.Utxos())
	require.Len(t, w.Coins(), 3)
	require.Len(t, w.Txos(), 3)
	require.Len(t, w.History(), 3)
	require.Equal(t, btcutil.Amount(13_000), w.Balance())

	addrs := w.Addresses(ext)
	require.Len(t, addrs, 2)
	require.Equal(t, uint32(0), addrs[0].Terminal.Index)
	require.Equal(t, uint32(3), addrs[1].Terminal.Index)
	require.Len(t, w.Addresses(chg), 1)

	txo, err := w.OutpointBy(op2)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(7_000), txo.Value)
	require.Equal(t, waddrmgr.Terminal{Keychain: ext, Index: 3},
		txo.Addr.Terminal)
}

// TestNextAddress checks the derivation index bookkeeping.
func TestNextAddress(t *testing.T) {
	t.Parallel()

	d := testDescriptor(t)

	next := func(t *testing.T, w *Wallet, k waddrmgr.Keychain,
		shift bool) uint32 {

		t.Helper()

		addr, err := w.NextAddress(k, shift)
		require.NoError(t, err)
		require.Equal(t, k, addr.Terminal.Keychain)

		want, err := d.Derive(addr.Terminal)
		require.NoError(t, err)
		require.Equal(t, want, addr)

		return addr.Terminal.Index
	}

	t.Run("fresh wallet", func(t *testing.T) {
		t.Parallel()

		w := New(d, nil, nil, &mockIndexer{})
		require.Equal(t, uint32(0), next(t, w, ext, false))
		require.Equal(t, uint32(0), next(t, w, ext, true))
		require.Equal(t, uint32(1), next(t, w, ext, true))
		require.Equal(t, uint32(2), next(t, w, ext, false))
		require.Equal(t, uint32(0), next(t, w, chg, false))
	})

	t.Run("used addresses", func(t *testing.T) {
		t.Parallel()

		cache := wtxmgr.NewCache()
		fund(t, cache, d, 1, ext, 4, 1_000, minedAt(10))

		w := New(d, nil, cache, &mockIndexer{})
		require.Equal(t, uint32(5), next(t, w, ext, false))
	})

	t.Run("handed out beyond used", func(t *testing.T) {
		t.Parallel()

		cache := wtxmgr.NewCache()
		fund(t, cache, d, 1, ext, 4, 1_000, minedAt(10))

		data := NewWalletData("test")
		data.LastUsed[ext] = 7

		w := New(d, data, cache, &mockIndexer{})
		require.Equal(t, uint32(7), next(t, w, ext, true))
		require.Equal(t, uint32(8), next(t, w, ext, false))
	})

	t.Run("unknown keychain", func(t *testing.T) {
		t.Parallel()

		w := New(d, nil, nil, &mockIndexer{})
		_, err := w.NextAddress(waddrmgr.Keychain(5), false)
		require.ErrorIs(t, err, ErrUnknownKeychain)
	})
}

// TestConstructPsbt checks construction from wallet coins and the
// registration of the result.
func TestConstructPsbt(t *testing.T) {
	t.Parallel()

	d := testDescriptor(t)
	cache := wtxmgr.NewCache()
	coin := fund(t, cache, d, 1, ext, 0, 10_000, minedAt(10))

	w := New(d, nil, cache, &mockIndexer{})

	authored, err := w.ConstructPsbt(
		[]wire.OutPoint{coin},
		[]txauthor.Beneficiary{payTo(t, 1, txauthor.Fixed(3_000))},
		txauthor.DefaultTxParams(500),
	)
	require.NoError(t, err)

	tx := authored.Packet.UnsignedTx
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(6_500), tx.TxOut[1].Value)
	require.Equal(t, fn.Some(waddrmgr.Terminal{Keychain: chg}),
		authored.ChangeTerminal())
	require.Equal(t, uint32(1), cache.LastChange)

	// The spent coin stays until the spend confirms, the change is a new
	// coin.
	txid := tx.TxHash()
	change := wire.OutPoint{Hash: txid, Index: 1}
	txo, err := w.OutpointBy(coin)
	require.NoError(t, err)
	require.Equal(t, fn.Some(wtxmgr.Inpoint{Txid: txid}), txo.PendingSpend)
	require.Equal(t, btcutil.Amount(16_500), w.Balance())
	require.Empty(t, cache.CheckInvariants())

	// Spending again without the pending coin picks the change and
	// derives the next change address.
	selected := slices.Collect(w.CoinSelect(1_000, ExcludePendingSpends))
	require.Equal(t, []wire.OutPoint{change}, selected)

	authored, err = w.ConstructPsbt(
		selected,
		[]txauthor.Beneficiary{payTo(t, 2, txauthor.Fixed(1_000))},
		txauthor.DefaultTxParams(200),
	)
	require.NoError(t, err)
	require.Equal(t, fn.Some(waddrmgr.Terminal{Keychain: chg, Index: 1}),
		authored.ChangeTerminal())
	require.Equal(t, int64(5_300),
		authored.Packet.UnsignedTx.TxOut[authored.ChangeIndex].Value)
	require.Equal(t, uint32(2), cache.LastChange)
	require.Empty(t, cache.CheckInvariants())
}

// TestConstructPsbtNoShift checks that the change index stays put when
// shifting is disabled.
func TestConstructPsbtNoShift(t *testing.T) {
	t.Parallel()

	d := testDescriptor(t)
	cache := wtxmgr.NewCache()
	coin := fund(t, cache, d, 1, ext, 0, 10_000, minedAt(10))

	w := New(d, nil, cache, &mockIndexer{})

	params := txauthor.DefaultTxParams(500)
	params.ChangeShift = false
	authored, err := w.ConstructPsbt(
		[]wire.OutPoint{coin},
		[]txauthor.Beneficiary{payTo(t, 1, txauthor.Fixed(3_000))},
		params,
	)
	require.NoError(t, err)
	require.Equal(t, 1, authored.ChangeIndex)
	require.Zero(t, cache.LastChange)
}

// TestConstructPsbtErrors checks that failed constructions leave the wallet
// untouched.
func TestConstructPsbtErrors(t *testing.T) {
	t.Parallel()

	d := testDescriptor(t)

	newWallet := func(t *testing.T) (*Wallet, *wtxmgr.Cache, wire.OutPoint) {
		cache := wtxmgr.NewCache()
		coin := fund(t, cache, d, 1, ext, 0, 10_000, minedAt(10))

		// An output paying someone else and an output already spent.
		tx := cache.Txs[coin.Hash]
		tx.Outputs = append(tx.Outputs, wtxmgr.TxDebit{
			OutPoint:    wire.OutPoint{Hash: coin.Hash, Index: 1},
			Beneficiary: wtxmgr.Unknown([]byte{0x6a}),
			Value:       1_000,
		})
		spent := fund(t, cache, d, 2, ext, 1, 2_000, minedAt(10))
		delete(cache.Utxos, spent)
		cache.Txs[spent.Hash].Outputs[0].Spent = fn.Some(wtxmgr.Inpoint{
			Txid: hashOf(7),
		})
		addr, _ := cache.Addr(waddrmgr.Terminal{Keychain: ext, Index: 1})
		addr.Balance = 0
		cache.PutAddr(addr)

		return New(d, nil, cache, &mockIndexer{}), cache, coin
	}

	pay := []txauthor.Beneficiary{payTo(t, 1, txauthor.Fixed(3_000))}

	tests := []struct {
		name          string
		coins         func(coin wire.OutPoint) []wire.OutPoint
		beneficiaries []txauthor.Beneficiary
		check         func(t *testing.T, err error)
	}{
		{
			name: "no coins",
			coins: func(wire.OutPoint) []wire.OutPoint {
				return nil
			},
			beneficiaries: pay,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, txauthor.ErrNoInputs)
			},
		},
		{
			name: "unknown transaction",
			coins: func(wire.OutPoint) []wire.OutPoint {
				return []wire.OutPoint{{Hash: hashOf(0x42)}}
			},
			beneficiaries: pay,
			check: func(t *testing.T, err error) {
				require.True(t, wtxmgr.IsError(
					err, wtxmgr.ErrNonWalletTx,
				))
			},
		},
		{
			name: "missing output",
			coins: func(coin wire.OutPoint) []wire.OutPoint {
				return []wire.OutPoint{{Hash: coin.Hash, Index: 5}}
			},
			beneficiaries: pay,
			check: func(t *testing.T, err error) {
				require.True(t, wtxmgr.IsError(
					err, wtxmgr.ErrNoOutput,
				))
			},
		},
		{
			name: "foreign output",
			coins: func(coin wire.OutPoint) []wire.OutPoint {
				return []wire.OutPoint{{Hash: coin.Hash, Index: 1}}
			},
			beneficiaries: pay,
			check: func(t *testing.T, err error) {
				require.True(t, wtxmgr.IsError(
					err, wtxmgr.ErrNonWalletUtxo,
				))
			},
		},
		{
			name: "spent output",
			coins: func(wire.OutPoint) []wire.OutPoint {
				return []wire.OutPoint{{Hash: hashOf(2)}}
			},
			beneficiaries: pay,
			check: func(t *testing.T, err error) {
				require.True(t, wtxmgr.IsError(err, wtxmgr.ErrSpent))
			},
		},
		{
			name: "duplicate coin",
			coins: func(coin wire.OutPoint) []wire.OutPoint {
				return []wire.OutPoint{coin, coin}
			},
			beneficiaries: pay,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrDuplicateCoin)
			},
		},
		{
			name: "outputs exceed inputs",
			coins: func(coin wire.OutPoint) []wire.OutPoint {
				return []wire.OutPoint{coin}
			},
			beneficiaries: []txauthor.Beneficiary{
				payTo(t, 1, txauthor.Fixed(20_000)),
			},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err,
					txauthor.ErrOutputExceedsInputs)
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			w, cache, coin := newWallet(t)
			txs, pending := len(cache.Txs), len(cache.PendingSpends)

			authored, err := w.ConstructPsbt(
				test.coins(coin), test.beneficiaries,
				txauthor.DefaultTxParams(500),
			)
			require.Nil(t, authored)
			test.check(t, err)

			require.Len(t, cache.Txs, txs)
			require.Len(t, cache.PendingSpends, pending)
			require.Zero(t, cache.LastChange)
			require.Empty(t, cache.CheckInvariants())
		})
	}
}

// TestPublish checks that broadcasting goes through the indexer.
func TestPublish(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(2)
	errRejected := errors.New("rejected")

	indexer := &mockIndexer{}
	indexer.On("Publish", mock.Anything, tx).Return(nil).Once()
	indexer.On("Publish", mock.Anything, tx).Return(errRejected).Once()

	w := New(testDescriptor(t), nil, nil, indexer)
	require.NoError(t, w.Publish(context.Background(), tx))
	require.ErrorIs(t, w.Publish(context.Background(), tx), errRejected)

	indexer.AssertExpectations(t)
}
