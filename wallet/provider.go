// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/btcsuite/idxwallet/wtxmgr"
)

// Namespace keys of the three persisted units.
var (
	descriptorNamespaceKey = []byte("waddrmgr")
	dataNamespaceKey       = []byte("wallet")
	cacheNamespaceKey      = []byte("wtxmgr")
)

// Provider loads and stores one unit of wallet state.
type Provider[T any] interface {
	// Load returns the stored value.
	Load() (*T, error)

	// Store replaces the stored value.
	Store(v *T) error
}

// dbProvider is a Provider keeping its value in a top level bucket of a
// walletdb database.
type dbProvider[T any] struct {
	db    walletdb.DB
	ns    []byte
	fetch func(walletdb.ReadBucket) (*T, error)
	put   func(walletdb.ReadWriteBucket, *T) error
	empty error
}

// Load reads the value from the provider's namespace. A missing namespace is
// reported with the same error as a missing value.
func (p *dbProvider[T]) Load() (*T, error) {
	var v *T
	err := walletdb.View(p.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(p.ns)
		if ns == nil {
			return p.empty
		}

		var err error
		v, err = p.fetch(ns)
		return err
	})
	return v, err
}

// Store writes the value to the provider's namespace, creating it if needed.
func (p *dbProvider[T]) Store(v *T) error {
	return walletdb.Update(p.db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(p.ns)
		if err != nil {
			return err
		}
		return p.put(ns, v)
	})
}

// NewDescriptorProvider returns a Provider persisting the descriptor in db.
func NewDescriptorProvider(db walletdb.DB) Provider[waddrmgr.Descriptor] {
	return &dbProvider[waddrmgr.Descriptor]{
		db:    db,
		ns:    descriptorNamespaceKey,
		fetch: waddrmgr.FetchDescriptor,
		put:   waddrmgr.PutDescriptor,
		empty: waddrmgr.ErrNoDescriptor,
	}
}

// NewDataProvider returns a Provider persisting wallet data in db.
func NewDataProvider(db walletdb.DB) Provider[WalletData] {
	return &dbProvider[WalletData]{
		db:    db,
		ns:    dataNamespaceKey,
		fetch: FetchData,
		put:   PutData,
		empty: ErrNoData,
	}
}

// NewCacheProvider returns a Provider persisting the cache in db. Addresses
// are decoded for net.
func NewCacheProvider(db walletdb.DB,
	net *chaincfg.Params) Provider[wtxmgr.Cache] {

	return &dbProvider[wtxmgr.Cache]{
		db: db,
		ns: cacheNamespaceKey,
		fetch: func(ns walletdb.ReadBucket) (*wtxmgr.Cache, error) {
			return wtxmgr.FetchCache(ns, net)
		},
		put: wtxmgr.PutCache,
		empty: wtxmgr.TxStoreError{
			ErrorCode:   wtxmgr.ErrNoExist,
			Description: "no cache stored",
		},
	}
}
