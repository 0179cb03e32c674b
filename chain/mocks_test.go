package chain

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/btcsuite/idxwallet/wtxmgr"
	"github.com/stretchr/testify/mock"
)

var (
	_ HistorySource = (*memSource)(nil)
	_ btcdRPC       = (*mockBtcdRPC)(nil)
)

// memSource is an in-memory HistorySource indexing every transaction under
// the scripts of its inputs and outputs.
type memSource struct {
	mu sync.Mutex

	txs     map[chainhash.Hash]*wtxmgr.WalletTx
	order   []chainhash.Hash
	tip     wtxmgr.MiningInfo
	fail    map[waddrmgr.Terminal]error
	queries map[waddrmgr.Keychain]int

	published    []*wire.MsgTx
	broadcastErr error
}

func newMemSource(tip wtxmgr.MiningInfo) *memSource {
	return &memSource{
		txs:     make(map[chainhash.Hash]*wtxmgr.WalletTx),
		tip:     tip,
		fail:    make(map[waddrmgr.Terminal]error),
		queries: make(map[waddrmgr.Keychain]int),
	}
}

// add inserts or replaces a transaction.
func (m *memSource) add(txs ...*wtxmgr.WalletTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tx := range txs {
		if _, ok := m.txs[tx.Txid]; !ok {
			m.order = append(m.order, tx.Txid)
		}
		m.txs[tx.Txid] = tx
	}
}

// drop removes a transaction, as happens when it is evicted from the mempool.
func (m *memSource) drop(txid chainhash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.txs, txid)
}

func (m *memSource) setStatus(txid chainhash.Hash, status wtxmgr.TxStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.txs[txid].Clone()
	tx.Status = status
	m.txs[txid] = tx
}

func (m *memSource) queried(k waddrmgr.Keychain) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.queries[k]
}

func touches(tx *wtxmgr.WalletTx, script []byte) bool {
	for _, in := range tx.Inputs {
		if in.Payer.MatchesScript(script) {
			return true
		}
	}
	for _, out := range tx.Outputs {
		if out.Beneficiary.MatchesScript(script) {
			return true
		}
	}
	return false
}

func (m *memSource) ScriptHistory(ctx context.Context,
	addr waddrmgr.DerivedAddr) ([]*wtxmgr.WalletTx, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries[addr.Terminal.Keychain]++
	if err, ok := m.fail[addr.Terminal]; ok {
		return nil, err
	}

	var txs []*wtxmgr.WalletTx
	for _, txid := range m.order {
		tx, ok := m.txs[txid]
		if ok && touches(tx, addr.PkScript) {
			txs = append(txs, tx.Clone())
		}
	}
	return txs, nil
}

func (m *memSource) BestBlock(ctx context.Context) (wtxmgr.MiningInfo,
	error) {

	if err := ctx.Err(); err != nil {
		return wtxmgr.MiningInfo{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tip, nil
}

func (m *memSource) Broadcast(_ context.Context, tx *wire.MsgTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broadcastErr != nil {
		return m.broadcastErr
	}
	m.published = append(m.published, tx)
	return nil
}

func (m *memSource) BackEnd() string {
	return "memory"
}

// mockBtcdRPC is a mock implementation of the btcd RPC subset.
type mockBtcdRPC struct {
	mock.Mock
}

func (m *mockBtcdRPC) SearchRawTransactionsVerbose(address btcutil.Address,
	skip, count int, includePrevOut, reverse bool,
	filterAddrs []string) ([]*btcjson.SearchRawTransactionsResult, error) {

	args := m.Called(address, skip, count, includePrevOut, reverse,
		filterAddrs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*btcjson.SearchRawTransactionsResult),
		args.Error(1)
}

func (m *mockBtcdRPC) GetBestBlock() (*chainhash.Hash, int32, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(*chainhash.Hash), args.Get(1).(int32),
		args.Error(2)
}

func (m *mockBtcdRPC) GetBlockHeaderVerbose(hash *chainhash.Hash) (
	*btcjson.GetBlockHeaderVerboseResult, error) {

	args := m.Called(hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*btcjson.GetBlockHeaderVerboseResult),
		args.Error(1)
}

func (m *mockBtcdRPC) SendRawTransaction(tx *wire.MsgTx,
	allowHighFees bool) (*chainhash.Hash, error) {

	args := m.Called(tx, allowHighFees)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chainhash.Hash), args.Error(1)
}
