// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
)

var (
	// ErrNegativeBalance is reported when an address balance accumulator
	// drops below zero. It indicates inconsistent indexer data.
	ErrNegativeBalance = errors.New("address balance went negative")

	// ErrInconsistent is reported by CheckInvariants.
	ErrInconsistent = errors.New("cache inconsistency")
)

// WalletAddr aggregates the activity of one derived address.
type WalletAddr struct {
	Terminal waddrmgr.Terminal
	Addr     btcutil.Address

	// Used is the number of outputs ever paid to the address.
	Used uint32

	// Volume is the total value ever received by the address.
	Volume btcutil.Amount

	// Balance is the value currently held by the address.
	Balance btcutil.Amount
}

// Cache is the complete reconciled state of a wallet. It is the only unit of
// mutation for wallet state and must not be mutated concurrently.
type Cache struct {
	// LastBlock is the best block seen by the last refresh.
	LastBlock MiningInfo

	// LastChange is the next change index to hand out.
	LastChange uint32

	Headers map[chainhash.Hash]MiningInfo
	Txs     map[chainhash.Hash]*WalletTx
	Utxos   map[wire.OutPoint]struct{}

	// PendingSpends holds wallet outputs spent only by unconfirmed
	// transactions. Such outputs stay in Utxos and keep Spent unset
	// until the spend confirms.
	PendingSpends map[wire.OutPoint]Inpoint

	Addrs map[waddrmgr.Keychain]map[uint32]WalletAddr
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		Headers:       make(map[chainhash.Hash]MiningInfo),
		Txs:           make(map[chainhash.Hash]*WalletTx),
		Utxos:         make(map[wire.OutPoint]struct{}),
		PendingSpends: make(map[wire.OutPoint]Inpoint),
		Addrs:         make(map[waddrmgr.Keychain]map[uint32]WalletAddr),
	}
}

// IsEmpty reports whether the cache has never been filled.
func (c *Cache) IsEmpty() bool {
	return len(c.Txs) == 0 && len(c.Addrs) == 0 && c.LastBlock.IsZero()
}

// Debit returns the output referenced by op.
func (c *Cache) Debit(op wire.OutPoint) (*TxDebit, bool) {
	tx, ok := c.Txs[op.Hash]
	if !ok || op.Index >= uint32(len(tx.Outputs)) {
		return nil, false
	}
	return &tx.Outputs[op.Index], true
}

// Addr returns the aggregate of the address at terminal t.
func (c *Cache) Addr(t waddrmgr.Terminal) (WalletAddr, bool) {
	addr, ok := c.Addrs[t.Keychain][t.Index]
	return addr, ok
}

// PutAddr stores an address aggregate, replacing any prior entry for its
// terminal.
func (c *Cache) PutAddr(a WalletAddr) {
	kc, ok := c.Addrs[a.Terminal.Keychain]
	if !ok {
		kc = make(map[uint32]WalletAddr)
		c.Addrs[a.Terminal.Keychain] = kc
	}
	kc[a.Terminal.Index] = a
}

// LastUsedIndex returns the highest index of a used address on the keychain.
func (c *Cache) LastUsedIndex(k waddrmgr.Keychain) (uint32, bool) {
	var (
		last  uint32
		found bool
	)
	for index, addr := range c.Addrs[k] {
		if addr.Used > 0 && (!found || index > last) {
			last, found = index, true
		}
	}
	return last, found
}

// CheckInvariants verifies the cache's structural invariants and returns one
// error per violation.
func (c *Cache) CheckInvariants() []error {
	var errs []error

	for op := range c.Utxos {
		out, ok := c.Debit(op)
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%w: utxo %v has no "+
				"output", ErrInconsistent, op))

		case !out.Beneficiary.IsWallet():
			errs = append(errs, fmt.Errorf("%w: utxo %v pays to "+
				"%v", ErrInconsistent, op,
				out.Beneficiary.Kind()))

		case out.IsSpent():
			errs = append(errs, fmt.Errorf("%w: utxo %v is spent",
				ErrInconsistent, op))
		}
	}

	for op := range c.PendingSpends {
		if _, ok := c.Utxos[op]; !ok {
			errs = append(errs, fmt.Errorf("%w: pending spend of "+
				"non-utxo %v", ErrInconsistent, op))
		}
	}

	used := make(map[waddrmgr.Terminal]uint32)
	for _, tx := range c.Txs {
		for _, out := range tx.Outputs {
			if derived, ok := out.Beneficiary.Derived(); ok {
				used[derived.Terminal]++
			}
		}
	}
	for _, addrs := range c.Addrs {
		for _, addr := range addrs {
			if addr.Balance < 0 {
				errs = append(errs, fmt.Errorf("%w: %v",
					ErrNegativeBalance, addr.Terminal))
			}
			if used[addr.Terminal] != addr.Used {
				errs = append(errs, fmt.Errorf("%w: address %v "+
					"used %d times, counted %d",
					ErrInconsistent, addr.Terminal,
					used[addr.Terminal], addr.Used))
			}
		}
	}

	return errs
}
