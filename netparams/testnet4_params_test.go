package netparams

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// TestTestNet4Genesis checks the genesis block against the published one.
// https://mempool.space/testnet4/block/00000000da84f2bafbbc53dee25a72ae507ff4914b867c565be350b0da8bf043
func TestTestNet4Genesis(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"00000000da84f2bafbbc53dee25a72ae507ff4914b867c565be350b0da8bf043",
		testNet4GenesisBlock.BlockHash().String())
	require.Equal(t,
		"7aa0a7ae1e223414cb807e40cd57e667b718e42aaf9306db9102fe28912b7b4e",
		testNet4GenesisBlock.Header.MerkleRoot.String())
}

// TestByName checks the network lookup.
func TestByName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		want    *Params
		wantErr bool
	}{
		{name: "mainnet", want: &MainNetParams},
		{name: "testnet3", want: &TestNet3Params},
		{name: "testnet4", want: &TestNet4Params},
		{name: "signet", want: &SigNetParams},
		{name: "regtest", want: &RegressionNetParams},
		{name: "simnet", want: &SimNetParams},
		{name: "litecoin", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			p, err := ByName(test.name)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Same(t, test.want, p)
		})
	}
}

// TestTestNet4Addresses checks that testnet4 addresses decode with the
// testnet4 parameters.
func TestTestNet4Addresses(t *testing.T) {
	t.Parallel()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), TestNet4Params.Params,
	)
	require.NoError(t, err)
	require.Equal(t, "tb", addr.EncodeAddress()[:2])

	decoded, err := btcutil.DecodeAddress(
		addr.EncodeAddress(), TestNet4Params.Params,
	)
	require.NoError(t, err)
	require.True(t, decoded.IsForNet(TestNet4Params.Params))
}
