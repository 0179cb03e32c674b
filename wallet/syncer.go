// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/ticker"
)

// RefreshFunc is called after every periodic refresh with its results.
type RefreshFunc func(changed int, errs []error)

// Syncer refreshes a wallet on every tick until stopped.
type Syncer struct {
	wallet    *Wallet
	ticker    ticker.Ticker
	onRefresh RefreshFunc

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSyncer returns a Syncer refreshing w on every tick of t. onRefresh may
// be nil.
func NewSyncer(w *Wallet, t ticker.Ticker, onRefresh RefreshFunc) *Syncer {
	return &Syncer{
		wallet:    w,
		ticker:    t,
		onRefresh: onRefresh,
	}
}

// Start launches the refresh loop. The loop ends when ctx is done or Stop is
// called.
func (s *Syncer) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.ticker.Resume()

		s.wg.Add(1)
		go s.run(ctx)
	})
}

// Stop ends the refresh loop and waits for an ongoing refresh to return.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.ticker.Stop()
	})
}

func (s *Syncer) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ticker.Ticks():
			changed, errs := s.wallet.Refresh(ctx)
			if len(errs) > 0 {
				log.Warnf("Periodic refresh finished with %d %s",
					len(errs), pickNoun(len(errs), "error",
						"errors"))
			}
			if s.onRefresh != nil {
				s.onRefresh(changed, errs)
			}

		case <-ctx.Done():
			return
		}
	}
}
