// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"cmp"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MiningInfo identifies the block a transaction was mined in.
type MiningInfo struct {
	Height    int32
	Time      time.Time
	BlockHash chainhash.Hash
}

// Compare orders mining infos by height.
func (m MiningInfo) Compare(o MiningInfo) int {
	return cmp.Compare(m.Height, o.Height)
}

// IsZero reports whether no block is set.
func (m MiningInfo) IsZero() bool {
	return m.Height == 0 && m.BlockHash == chainhash.Hash{}
}

// String returns the height and hash of the block.
func (m MiningInfo) String() string {
	return fmt.Sprintf("%d (%v)", m.Height, m.BlockHash)
}

// StatusKind is the coarse confirmation state of a transaction.
type StatusKind uint8

const (
	// StatusUnknown is the state of a transaction the indexer knows
	// nothing about, such as a freshly constructed one.
	StatusUnknown StatusKind = iota

	// StatusMempool is an unconfirmed transaction seen by the indexer.
	StatusMempool

	// StatusChannel is a transaction held off-chain in a payment channel.
	StatusChannel

	// StatusMined is a transaction included in a block.
	StatusMined
)

// String returns the kind's name.
func (k StatusKind) String() string {
	switch k {
	case StatusUnknown:
		return "unknown"
	case StatusMempool:
		return "mempool"
	case StatusChannel:
		return "channel"
	case StatusMined:
		return "mined"
	default:
		return fmt.Sprintf("StatusKind(%d)", uint8(k))
	}
}

// TxStatus is the confirmation state of a transaction. Mining is only set
// for mined transactions.
type TxStatus struct {
	Kind   StatusKind
	Mining MiningInfo
}

// Mined returns the status of a transaction mined in the given block.
func Mined(info MiningInfo) TxStatus {
	return TxStatus{Kind: StatusMined, Mining: info}
}

// Mempool returns the status of an unconfirmed transaction.
func Mempool() TxStatus {
	return TxStatus{Kind: StatusMempool}
}

// IsMined reports whether the transaction is confirmed.
func (s TxStatus) IsMined() bool {
	return s.Kind == StatusMined
}

// Height returns the mining height, or -1 when unconfirmed.
func (s TxStatus) Height() int32 {
	if !s.IsMined() {
		return -1
	}
	return s.Mining.Height
}

// Compare orders statuses as Unknown < Mempool < Channel < Mined, with mined
// statuses ordered by height.
func (s TxStatus) Compare(o TxStatus) int {
	if c := cmp.Compare(s.Kind, o.Kind); c != 0 {
		return c
	}
	if s.Kind == StatusMined {
		return s.Mining.Compare(o.Mining)
	}
	return 0
}

// String returns the status for display.
func (s TxStatus) String() string {
	if s.IsMined() {
		return fmt.Sprintf("mined at %d", s.Mining.Height)
	}
	return s.Kind.String()
}
