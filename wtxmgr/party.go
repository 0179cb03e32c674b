// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/idxwallet/waddrmgr"
)

// PartyKind enumerates the closed set of ownership classifications.
type PartyKind uint8

const (
	// PartySubsidy is the payer of a coinbase input.
	PartySubsidy PartyKind = iota

	// PartyCounterparty is an external party whose script decodes to a
	// standard address.
	PartyCounterparty

	// PartyUnknown is an external party whose script does not decode to
	// a standard address.
	PartyUnknown

	// PartyWallet is one of the wallet's own derived addresses.
	PartyWallet
)

// String returns the kind's name.
func (k PartyKind) String() string {
	switch k {
	case PartySubsidy:
		return "subsidy"
	case PartyCounterparty:
		return "counterparty"
	case PartyUnknown:
		return "unknown"
	case PartyWallet:
		return "wallet"
	default:
		return fmt.Sprintf("PartyKind(%d)", uint8(k))
	}
}

// Party classifies the owner of one side of a value transfer. Exactly one of
// the four kinds applies; values are built only through the constructors
// below.
type Party struct {
	kind    PartyKind
	addr    btcutil.Address
	script  []byte
	derived waddrmgr.DerivedAddr
}

// Subsidy returns the payer of a coinbase input.
func Subsidy() Party {
	return Party{kind: PartySubsidy}
}

// Counterparty returns an external party paying to or from addr.
func Counterparty(addr btcutil.Address) (Party, error) {
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return Party{}, err
	}
	return Party{kind: PartyCounterparty, addr: addr, script: script}, nil
}

// Unknown returns an external party identified only by its script.
func Unknown(script []byte) Party {
	return Party{kind: PartyUnknown, script: script}
}

// Wallet returns a party owned by the wallet.
func Wallet(derived waddrmgr.DerivedAddr) Party {
	return Party{
		kind:    PartyWallet,
		addr:    derived.Addr,
		script:  derived.PkScript,
		derived: derived,
	}
}

// FromScript classifies an external script: a Counterparty when it decodes to
// exactly one standard address and Unknown otherwise.
func FromScript(script []byte, net *chaincfg.Params) Party {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(script, net)
	if err != nil || len(addrs) != 1 {
		return Unknown(script)
	}
	switch class {
	case txscript.NonStandardTy, txscript.NullDataTy,
		txscript.MultiSigTy, txscript.WitnessUnknownTy:

		return Unknown(script)
	}
	return Party{kind: PartyCounterparty, addr: addrs[0], script: script}
}

// Kind returns the party's classification.
func (p Party) Kind() PartyKind {
	return p.kind
}

// IsWallet reports whether the party is owned by the wallet.
func (p Party) IsWallet() bool {
	return p.kind == PartyWallet
}

// IsExternal reports whether the party is anything but the wallet.
func (p Party) IsExternal() bool {
	return p.kind != PartyWallet
}

// Script returns the output script of the party. It is nil for the subsidy.
func (p Party) Script() []byte {
	return p.script
}

// Address returns the address of counterparties and wallet parties.
func (p Party) Address() (btcutil.Address, bool) {
	switch p.kind {
	case PartyCounterparty, PartyWallet:
		return p.addr, true
	default:
		return nil, false
	}
}

// Derived returns the derived address of a wallet party.
func (p Party) Derived() (waddrmgr.DerivedAddr, bool) {
	if p.kind != PartyWallet {
		return waddrmgr.DerivedAddr{}, false
	}
	return p.derived, true
}

// MatchesScript reports whether the party's script equals script.
func (p Party) MatchesScript(script []byte) bool {
	return p.script != nil && bytes.Equal(p.script, script)
}

// String returns a human readable rendering of the party.
func (p Party) String() string {
	switch p.kind {
	case PartySubsidy:
		return "miner"
	case PartyCounterparty:
		return p.addr.EncodeAddress()
	case PartyUnknown:
		return hex.EncodeToString(p.script)
	case PartyWallet:
		return p.derived.String() + p.derived.Terminal.String()
	default:
		return "invalid party"
	}
}
