// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// AmountFlag embeds a btcutil.Amount and implements the flags.Marshaler and
// Unmarshaler interfaces so it can be used as a config struct field.
//
// Values are satoshis unless suffixed with " BTC", e.g. "1500" or
// "0.000015 BTC".
type AmountFlag struct {
	btcutil.Amount
}

// NewAmountFlag creates an AmountFlag with a default btcutil.Amount.
func NewAmountFlag(defaultValue btcutil.Amount) *AmountFlag {
	return &AmountFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (a *AmountFlag) MarshalFlag() (string, error) {
	return strconv.FormatInt(int64(a.Amount), 10), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (a *AmountFlag) UnmarshalFlag(value string) error {
	value = strings.TrimSpace(value)

	if btc, ok := strings.CutSuffix(value, "BTC"); ok {
		valueF64, err := strconv.ParseFloat(strings.TrimSpace(btc), 64)
		if err != nil {
			return err
		}
		amount, err := btcutil.NewAmount(valueF64)
		if err != nil {
			return err
		}
		a.Amount = amount
		return nil
	}

	sats, err := strconv.ParseInt(
		strings.TrimSpace(strings.TrimSuffix(value, "sat")), 10, 64,
	)
	if err != nil {
		return err
	}
	if sats < 0 || sats > btcutil.MaxSatoshi {
		return fmt.Errorf("amount %d out of range", sats)
	}
	a.Amount = btcutil.Amount(sats)
	return nil
}
