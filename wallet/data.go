// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/idxwallet/waddrmgr"
)

// ErrNoData is returned when the namespace holds no wallet data.
var ErrNoData = errors.New("no wallet data stored")

// Bucket and key names of the wallet data namespace.
var (
	dataNameKey      = []byte("name")
	bucketLastUsed   = []byte("lastused")
	bucketAnnotation = []byte("notes")
)

// Annotation key prefixes.
const (
	noteTx    byte = 't'
	noteTxIn  byte = 'i'
	noteTxOut byte = 'o'
	noteAddr  byte = 'a'
)

// WalletData is the user supplied part of a wallet: its name, free text
// annotations and the derivation indexes already handed out. Unlike the
// cache it cannot be rebuilt from the blockchain.
type WalletData struct {
	Name string

	TxAnnotations map[chainhash.Hash]string

	// TxInAnnotations are keyed by the outpoint the input spends.
	TxInAnnotations  map[wire.OutPoint]string
	TxOutAnnotations map[wire.OutPoint]string

	// AddrAnnotations are keyed by encoded address.
	AddrAnnotations map[string]string

	// LastUsed is the next index to hand out per keychain.
	LastUsed map[waddrmgr.Keychain]uint32
}

// NewWalletData returns empty wallet data with the given name.
func NewWalletData(name string) *WalletData {
	return &WalletData{
		Name:             name,
		TxAnnotations:    make(map[chainhash.Hash]string),
		TxInAnnotations:  make(map[wire.OutPoint]string),
		TxOutAnnotations: make(map[wire.OutPoint]string),
		AddrAnnotations:  make(map[string]string),
		LastUsed:         make(map[waddrmgr.Keychain]uint32),
	}
}

func outPointKey(prefix byte, op wire.OutPoint) []byte {
	k := make([]byte, 37)
	k[0] = prefix
	copy(k[1:33], op.Hash[:])
	binary.BigEndian.PutUint32(k[33:], op.Index)
	return k
}

func readOutPointKey(k []byte) (wire.OutPoint, error) {
	var op wire.OutPoint
	if len(k) != 37 {
		return op, fmt.Errorf("bad outpoint annotation key %x", k)
	}
	copy(op.Hash[:], k[1:33])
	op.Index = binary.BigEndian.Uint32(k[33:])
	return op, nil
}

// PutData replaces the wallet data stored in the namespace with d.
func PutData(ns walletdb.ReadWriteBucket, d *WalletData) error {
	if err := ns.Put(dataNameKey, []byte(d.Name)); err != nil {
		return fmt.Errorf("failed to store wallet name: %w", err)
	}

	for _, name := range [][]byte{bucketLastUsed, bucketAnnotation} {
		if ns.NestedReadWriteBucket(name) != nil {
			if err := ns.DeleteNestedBucket(name); err != nil {
				return fmt.Errorf("failed to delete bucket %s: %w",
					name, err)
			}
		}
	}

	lastUsed, err := ns.CreateBucket(bucketLastUsed)
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w",
			bucketLastUsed, err)
	}
	for kc, index := range d.LastUsed {
		var k, v [4]byte
		binary.BigEndian.PutUint32(k[:], uint32(kc))
		binary.BigEndian.PutUint32(v[:], index)
		if err := lastUsed.Put(k[:], v[:]); err != nil {
			return fmt.Errorf("failed to store last used index of "+
				"%v: %w", kc, err)
		}
	}

	notes, err := ns.CreateBucket(bucketAnnotation)
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w",
			bucketAnnotation, err)
	}
	put := func(k []byte, note string) error {
		if err := notes.Put(k, []byte(note)); err != nil {
			return fmt.Errorf("failed to store annotation: %w", err)
		}
		return nil
	}
	for txid, note := range d.TxAnnotations {
		if err := put(append([]byte{noteTx}, txid[:]...), note); err != nil {
			return err
		}
	}
	for op, note := range d.TxInAnnotations {
		if err := put(outPointKey(noteTxIn, op), note); err != nil {
			return err
		}
	}
	for op, note := range d.TxOutAnnotations {
		if err := put(outPointKey(noteTxOut, op), note); err != nil {
			return err
		}
	}
	for addr, note := range d.AddrAnnotations {
		if err := put(append([]byte{noteAddr}, addr...), note); err != nil {
			return err
		}
	}

	return nil
}

// FetchData reads the wallet data stored in the namespace.
func FetchData(ns walletdb.ReadBucket) (*WalletData, error) {
	name := ns.Get(dataNameKey)
	if name == nil {
		return nil, ErrNoData
	}
	d := NewWalletData(string(name))

	if b := ns.NestedReadBucket(bucketLastUsed); b != nil {
		err := b.ForEach(func(k, v []byte) error {
			if len(k) != 4 || len(v) != 4 {
				return fmt.Errorf("bad last used entry %x", k)
			}
			kc := waddrmgr.Keychain(binary.BigEndian.Uint32(k))
			d.LastUsed[kc] = binary.BigEndian.Uint32(v)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	b := ns.NestedReadBucket(bucketAnnotation)
	if b == nil {
		return d, nil
	}
	err := b.ForEach(func(k, v []byte) error {
		if len(k) == 0 {
			return errors.New("empty annotation key")
		}
		note := string(v)

		switch k[0] {
		case noteTx:
			txid, err := chainhash.NewHash(k[1:])
			if err != nil {
				return err
			}
			d.TxAnnotations[*txid] = note

		case noteTxIn, noteTxOut:
			op, err := readOutPointKey(k)
			if err != nil {
				return err
			}
			if k[0] == noteTxIn {
				d.TxInAnnotations[op] = note
			} else {
				d.TxOutAnnotations[op] = note
			}

		case noteAddr:
			d.AddrAnnotations[string(k[1:])] = note

		default:
			return fmt.Errorf("unknown annotation kind %q", k[0])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}

	return d, nil
}
