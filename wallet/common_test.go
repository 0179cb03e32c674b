package wallet

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/btcsuite/idxwallet/wallet/txauthor"
	"github.com/btcsuite/idxwallet/wtxmgr"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	netParams = &chaincfg.RegressionNetParams

	ext = waddrmgr.External
	chg = waddrmgr.Internal
)

func testDescriptor(t *testing.T) *waddrmgr.Descriptor {
	t.Helper()

	seed := bytes.Repeat([]byte{0x44}, hdkeychain.RecommendedSeedLen)
	key, err := hdkeychain.NewMaster(seed, netParams)
	require.NoError(t, err)
	path := []uint32{
		hdkeychain.HardenedKeyStart + 84,
		hdkeychain.HardenedKeyStart + 1,
		hdkeychain.HardenedKeyStart,
	}
	for _, p := range path {
		key, err = key.Derive(p)
		require.NoError(t, err)
	}
	key, err = key.Neuter()
	require.NoError(t, err)

	d, err := waddrmgr.NewDescriptor(waddrmgr.P2WPKH, key, waddrmgr.KeyOrigin{
		MasterFingerprint: 0x11223344,
		Path:              path,
	}, nil, netParams)
	require.NoError(t, err)
	return d
}

func hashOf(b byte) chainhash.Hash {
	return chainhash.Hash{b}
}

func minedAt(height int32) wtxmgr.TxStatus {
	return wtxmgr.Mined(wtxmgr.MiningInfo{
		Height:    height,
		Time:      time.Unix(1_700_000_000+int64(height)*600, 0),
		BlockHash: hashOf(byte(height)),
	})
}

// fund adds a transaction with id b paying value to the address at k/index
// and accounts the new coin the way a refresh would.
func fund(t *testing.T, c *wtxmgr.Cache, d *waddrmgr.Descriptor, b byte,
	k waddrmgr.Keychain, index uint32, value btcutil.Amount,
	status wtxmgr.TxStatus) wire.OutPoint {

	t.Helper()

	addr, err := d.Derive(waddrmgr.Terminal{Keychain: k, Index: index})
	require.NoError(t, err)

	txid := hashOf(b)
	op := wire.OutPoint{Hash: txid}
	c.Txs[txid] = &wtxmgr.WalletTx{
		Txid:   txid,
		Status: status,
		Inputs: []wtxmgr.TxCredit{{
			OutPoint: wire.OutPoint{Hash: hashOf(0xee), Index: uint32(b)},
			Payer:    wtxmgr.Unknown([]byte{0x51}),
			Value:    value + 200,
			Sequence: wire.MaxTxInSequenceNum,
		}},
		Outputs: []wtxmgr.TxDebit{{
			OutPoint:    op,
			Beneficiary: wtxmgr.Wallet(addr),
			Value:       value,
		}},
		Fee:     200,
		Version: 2,
	}
	c.Utxos[op] = struct{}{}

	wa, ok := c.Addr(addr.Terminal)
	if !ok {
		wa = wtxmgr.WalletAddr{Terminal: addr.Terminal, Addr: addr.Addr}
	}
	wa.Used++
	wa.Volume += value
	wa.Balance += value
	c.PutAddr(wa)

	if status.IsMined() && status.Height() > c.LastBlock.Height {
		c.LastBlock = wtxmgr.MiningInfo{
			Height:    status.Height(),
			BlockHash: hashOf(byte(status.Height())),
		}
	}

	return op
}

// payTo returns a payment to an address outside the wallet.
func payTo(t *testing.T, n byte, amount txauthor.Amount) txauthor.Beneficiary {
	t.Helper()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		bytes.Repeat([]byte{n}, 20), netParams,
	)
	require.NoError(t, err)
	b, err := txauthor.NewBeneficiary(addr, amount)
	require.NoError(t, err)
	return b
}

type mockIndexer struct {
	mock.Mock
}

func (m *mockIndexer) Create(ctx context.Context,
	descr *waddrmgr.Descriptor) (*wtxmgr.Cache, []error) {

	args := m.Called(ctx, descr)
	cache, _ := args.Get(0).(*wtxmgr.Cache)
	errs, _ := args.Get(1).([]error)
	return cache, errs
}

func (m *mockIndexer) Update(ctx context.Context, descr *waddrmgr.Descriptor,
	cache *wtxmgr.Cache) (int, []error) {

	args := m.Called(ctx, descr, cache)
	errs, _ := args.Get(1).([]error)
	return args.Int(0), errs
}

func (m *mockIndexer) Publish(ctx context.Context, tx *wire.MsgTx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}
