// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// RPCClientPort is the default btcd RPC port.
	RPCClientPort string

	// EsploraURL is the default Esplora API endpoint. Empty if there is
	// no public one.
	EsploraURL string

	// MempoolURL is the default mempool.space API endpoint. Empty if
	// there is no public one.
	MempoolURL string
}

// MainNetParams contains parameters specific running idxwallet and
// btcd on the main network (wire.MainNet).
var MainNetParams = Params{
	Params:        &chaincfg.MainNetParams,
	RPCClientPort: "8334",
	EsploraURL:    "https://blockstream.info/api",
	MempoolURL:    "https://mempool.space/api",
}

// TestNet3Params contains parameters specific running idxwallet and
// btcd on the test network (version 3) (wire.TestNet3).
var TestNet3Params = Params{
	Params:        &chaincfg.TestNet3Params,
	RPCClientPort: "18334",
	EsploraURL:    "https://blockstream.info/testnet/api",
	MempoolURL:    "https://mempool.space/testnet/api",
}

// TestNet4Params contains parameters specific to the fourth test network.
var TestNet4Params = Params{
	Params:        &TestNet4ChainParams,
	RPCClientPort: "48334",
	MempoolURL:    "https://mempool.space/testnet4/api",
}

// SigNetParams contains parameters specific to the default signet.
var SigNetParams = Params{
	Params:        &chaincfg.SigNetParams,
	RPCClientPort: "38332",
	MempoolURL:    "https://mempool.space/signet/api",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet). Its indexer endpoints must be configured.
var RegressionNetParams = Params{
	Params:        &chaincfg.RegressionNetParams,
	RPCClientPort: "18334",
}

// SimNetParams contains parameters specific to the simulation test network
// (wire.SimNet).
var SimNetParams = Params{
	Params:        &chaincfg.SimNetParams,
	RPCClientPort: "18556",
}

// ByName returns the parameters of the network with the given chain params
// name.
func ByName(name string) (*Params, error) {
	for _, p := range []*Params{
		&MainNetParams, &TestNet3Params, &TestNet4Params,
		&SigNetParams, &RegressionNetParams, &SimNetParams,
	} {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown network %q", name)
}
