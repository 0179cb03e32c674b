// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/idxwallet/wtxmgr"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
)

// DefaultBlockCacheSize is the number of block infos kept by a backend.
const DefaultBlockCacheSize = 1000

// cachedBlock wraps a mining info so it can be stored in the LRU cache.
type cachedBlock struct {
	info wtxmgr.MiningInfo
}

// Size returns the "size" of an entry. We return 1 as we just want to limit
// the total number of entries rather than do accurate size accounting.
func (c *cachedBlock) Size() (uint64, error) {
	return 1, nil
}

// blockCache maps block hashes to their mining info. Block data never changes
// for a given hash, so entries never need invalidation. The cache guards
// itself; its lock is only held for the map access, never while a lookup
// hits the network.
type blockCache struct {
	blocks *lru.Cache[chainhash.Hash, *cachedBlock]
}

func newBlockCache(size uint64) *blockCache {
	return &blockCache{
		blocks: lru.NewCache[chainhash.Hash, *cachedBlock](size),
	}
}

// get returns the mining info of the block, calling fetch on a miss.
func (b *blockCache) get(hash chainhash.Hash,
	fetch func() (wtxmgr.MiningInfo, error)) (wtxmgr.MiningInfo, error) {

	cached, err := b.blocks.Get(hash)
	switch {
	case err == nil:
		return cached.info, nil

	case !errors.Is(err, cache.ErrElementNotFound):
		return wtxmgr.MiningInfo{}, err
	}

	info, err := fetch()
	if err != nil {
		return wtxmgr.MiningInfo{}, err
	}
	_, _ = b.blocks.Put(hash, &cachedBlock{info: info})

	return info, nil
}
