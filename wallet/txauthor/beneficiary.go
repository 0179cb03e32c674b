// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txauthor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// MaxToken is the amount notation paying the remaining input value.
const MaxToken = "MAX"

// ErrBeneficiaryFormat is returned for beneficiaries not written as
// <amount>@<address>.
var ErrBeneficiaryFormat = errors.New("beneficiary must be " +
	"<amount>@<address>")

// Amount is the value paid to a beneficiary: either a fixed number of
// satoshis or the maximum, an even share of what remains after the fixed
// outputs and the fee.
type Amount struct {
	sats btcutil.Amount
	max  bool
}

// Max pays the remaining input value.
var Max = Amount{max: true}

// Fixed pays exactly sats.
func Fixed(sats btcutil.Amount) Amount {
	return Amount{sats: sats}
}

// IsMax reports whether the amount is the maximum.
func (a Amount) IsMax() bool {
	return a.max
}

// Sats returns the fixed value. It is zero for the maximum.
func (a Amount) Sats() btcutil.Amount {
	if a.max {
		return 0
	}
	return a.sats
}

// String returns the amount in beneficiary notation.
func (a Amount) String() string {
	if a.max {
		return MaxToken
	}
	return strconv.FormatInt(int64(a.sats), 10)
}

// ParseAmount parses a decimal satoshi count or MaxToken.
func ParseAmount(s string) (Amount, error) {
	if s == MaxToken {
		return Max, nil
	}
	sats, err := strconv.ParseUint(s, 10, 63)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Fixed(btcutil.Amount(sats)), nil
}

// Beneficiary is one requested payment.
type Beneficiary struct {
	Addr     btcutil.Address
	PkScript []byte
	Amount   Amount
}

// NewBeneficiary returns a payment of amount to addr.
func NewBeneficiary(addr btcutil.Address, amount Amount) (Beneficiary,
	error) {

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return Beneficiary{}, err
	}
	return Beneficiary{
		Addr:     addr,
		PkScript: pkScript,
		Amount:   amount,
	}, nil
}

// ParseBeneficiary parses <amount>@<address>, where amount is a decimal
// satoshi count or MaxToken.
func ParseBeneficiary(s string, net *chaincfg.Params) (Beneficiary, error) {
	amountStr, addrStr, ok := strings.Cut(s, "@")
	if !ok || amountStr == "" || addrStr == "" {
		return Beneficiary{}, ErrBeneficiaryFormat
	}

	amount, err := ParseAmount(amountStr)
	if err != nil {
		return Beneficiary{}, err
	}

	addr, err := btcutil.DecodeAddress(addrStr, net)
	if err != nil {
		return Beneficiary{}, fmt.Errorf("invalid address %q: %w",
			addrStr, err)
	}
	if !addr.IsForNet(net) {
		return Beneficiary{}, fmt.Errorf("address %v is not for %s",
			addr, net.Name)
	}

	return NewBeneficiary(addr, amount)
}

// String returns the beneficiary in <amount>@<address> notation.
func (b Beneficiary) String() string {
	return b.Amount.String() + "@" + b.Addr.EncodeAddress()
}
