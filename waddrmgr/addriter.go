// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"iter"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// AddrIterator lazily walks the addresses of one keychain. It starts at index
// 0, advances by one on every call to Next and wraps around at the end of the
// non-hardened index space. It is not safe for concurrent use.
type AddrIterator struct {
	descr    *Descriptor
	keychain Keychain
	branch   *hdkeychain.ExtendedKey
	next     uint32
}

// Keychain returns the keychain the iterator walks.
func (it *AddrIterator) Keychain() Keychain {
	return it.keychain
}

// Index returns the index the next call to Next derives.
func (it *AddrIterator) Index() uint32 {
	return it.next
}

// Reset restarts the sequence at index 0.
func (it *AddrIterator) Reset() {
	it.next = 0
}

// Next derives the address at the current index and advances the iterator.
// The index advances even if derivation fails so a caller may skip an
// invalid child.
func (it *AddrIterator) Next() (DerivedAddr, error) {
	index := it.next
	it.next = (it.next + 1) % hdkeychain.HardenedKeyStart

	if it.branch == nil {
		branch, err := it.descr.branchKey(it.keychain)
		if err != nil {
			return DerivedAddr{}, err
		}
		it.branch = branch
	}

	t := Terminal{Keychain: it.keychain, Index: index}
	pub, err := childPubKey(it.branch, index)
	if err != nil {
		return DerivedAddr{}, err
	}
	return it.descr.addrFromPubKey(pub, t)
}

// All returns the remaining sequence as an iterator. The sequence never ends
// by itself; the consumer decides how long a prefix to take.
func (it *AddrIterator) All() iter.Seq2[DerivedAddr, error] {
	return func(yield func(DerivedAddr, error) bool) {
		for {
			if !yield(it.Next()) {
				return
			}
		}
	}
}
