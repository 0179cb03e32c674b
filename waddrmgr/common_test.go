// Copyright (c) 2014-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

var (
	// seed is the master seed used to derive all test keys.
	seed = bytes.Repeat([]byte{0x2a}, hdkeychain.RecommendedSeedLen)

	netParams = &chaincfg.RegressionNetParams

	accountPath = []uint32{
		hdkeychain.HardenedKeyStart + 84,
		hdkeychain.HardenedKeyStart + 1,
		hdkeychain.HardenedKeyStart + 0,
	}
)

// testAccountKey derives the neutered account key at accountPath.
func testAccountKey(t *testing.T) *hdkeychain.ExtendedKey {
	t.Helper()

	key, err := hdkeychain.NewMaster(seed, netParams)
	require.NoError(t, err)

	for _, p := range accountPath {
		key, err = key.Derive(p)
		require.NoError(t, err)
	}

	pub, err := key.Neuter()
	require.NoError(t, err)

	return pub
}

// testDescriptor returns a descriptor of the given class over the test
// account key.
func testDescriptor(t *testing.T, class AddrClass) *Descriptor {
	t.Helper()

	d, err := NewDescriptor(class, testAccountKey(t), KeyOrigin{
		MasterFingerprint: 0xd34db33f,
		Path:              accountPath,
	}, nil, netParams)
	require.NoError(t, err)

	return d
}
