// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// Keychain identifies one derivation branch below the account key. Each
// keychain has its own independent, unbounded address sequence.
type Keychain uint32

const (
	// External is the receiving branch.
	External Keychain = 0

	// Internal is the change branch.
	Internal Keychain = 1
)

// DefaultKeychains are the branches a descriptor uses when none are given
// explicitly.
var DefaultKeychains = []Keychain{External, Internal}

// String returns a short name for the well known keychains and the raw index
// for all others.
func (k Keychain) String() string {
	switch k {
	case External:
		return "external"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("keychain %d", uint32(k))
	}
}

// Terminal identifies the position of a single derived address: the keychain
// it belongs to and its index within that keychain.
type Terminal struct {
	Keychain Keychain
	Index    uint32
}

// String returns the terminal in derivation path notation.
func (t Terminal) String() string {
	return fmt.Sprintf("/%d/%d", uint32(t.Keychain), t.Index)
}

// DerivedAddr is an address produced by a descriptor together with the
// terminal it was derived at and its output script.
type DerivedAddr struct {
	Addr     btcutil.Address
	Terminal Terminal
	PkScript []byte
}

// String returns the encoded address.
func (d DerivedAddr) String() string {
	if d.Addr == nil {
		return "<nil>"
	}
	return d.Addr.EncodeAddress()
}
