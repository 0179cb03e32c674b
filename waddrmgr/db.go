// Copyright (c) 2014-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
)

var (
	// ErrNoDescriptor is returned when the namespace holds no descriptor.
	ErrNoDescriptor = errors.New("no descriptor stored")

	// descriptorKeyName is the key under which the TLV encoded descriptor
	// is stored.
	descriptorKeyName = []byte("descr")
)

// PutDescriptor stores the descriptor in the given bucket, replacing any
// previously stored one.
func PutDescriptor(ns walletdb.ReadWriteBucket, d *Descriptor) error {
	v, err := EncodeDescriptor(d)
	if err != nil {
		return err
	}
	if err := ns.Put(descriptorKeyName, v); err != nil {
		return fmt.Errorf("failed to store descriptor: %w", err)
	}
	return nil
}

// FetchDescriptor reads the descriptor stored in the given bucket.
func FetchDescriptor(ns walletdb.ReadBucket) (*Descriptor, error) {
	v := ns.Get(descriptorKeyName)
	if v == nil {
		return nil, ErrNoDescriptor
	}
	d, err := DecodeDescriptor(v)
	if err != nil {
		return nil, fmt.Errorf("failed to decode descriptor: %w", err)
	}
	return d, nil
}
