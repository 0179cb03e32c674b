// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/btcsuite/idxwallet/wtxmgr"
)

// btcdPageSize is the number of transactions requested per
// searchrawtransactions call.
const btcdPageSize = 100

// btcdRPC is the subset of the btcd RPC API used for history lookups. It is
// satisfied by *rpcclient.Client.
type btcdRPC interface {
	SearchRawTransactionsVerbose(address btcutil.Address, skip, count int,
		includePrevOut, reverse bool,
		filterAddrs []string) ([]*btcjson.SearchRawTransactionsResult,
		error)

	GetBestBlock() (*chainhash.Hash, int32, error)

	GetBlockHeaderVerbose(hash *chainhash.Hash) (
		*btcjson.GetBlockHeaderVerboseResult, error)

	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (
		*chainhash.Hash, error)
}

// BtcdConfig describes the connection to a btcd node running with the
// address index enabled.
type BtcdConfig struct {
	Host       string
	User       string
	Pass       string
	Certs      []byte
	DisableTLS bool

	BlockCacheSize uint64
}

// BtcdClient is a HistorySource backed by the address index of a btcd node.
type BtcdClient struct {
	rpc    btcdRPC
	net    *chaincfg.Params
	blocks *blockCache

	shutdown func()
}

// A compile-time assertion to ensure BtcdClient meets the HistorySource
// interface.
var _ HistorySource = (*BtcdClient)(nil)

// NewBtcdClient connects to the node described by cfg. Requests are made in
// HTTP POST mode since no notifications are needed.
func NewBtcdClient(cfg BtcdConfig, net *chaincfg.Params) (*BtcdClient,
	error) {

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		Certificates: cfg.Certs,
		DisableTLS:   cfg.DisableTLS,
		HTTPPostMode: true,
	}, nil)
	if err != nil {
		return nil, err
	}

	c := newBtcdClient(client, net, cfg.BlockCacheSize)
	c.shutdown = client.Shutdown
	return c, nil
}

func newBtcdClient(rpc btcdRPC, net *chaincfg.Params,
	cacheSize uint64) *BtcdClient {

	if cacheSize == 0 {
		cacheSize = DefaultBlockCacheSize
	}
	return &BtcdClient{
		rpc:    rpc,
		net:    net,
		blocks: newBlockCache(cacheSize),
	}
}

// Stop shuts down the RPC client.
func (c *BtcdClient) Stop() {
	if c.shutdown != nil {
		c.shutdown()
	}
}

// BackEnd returns the name of the backend.
func (c *BtcdClient) BackEnd() string {
	return "btcd"
}

// isNoTxInfo reports whether err is the error btcd returns for an address
// without any history.
func isNoTxInfo(err error) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo
}

// ScriptHistory returns every transaction touching the address.
func (c *BtcdClient) ScriptHistory(ctx context.Context,
	addr waddrmgr.DerivedAddr) ([]*wtxmgr.WalletTx, error) {

	var txs []*wtxmgr.WalletTx
	for skip := 0; ; skip += btcdPageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := c.rpc.SearchRawTransactionsVerbose(
			addr.Addr, skip, btcdPageSize, true, false, nil,
		)
		switch {
		case isNoTxInfo(err):
			return txs, nil

		case err != nil:
			return nil, fmt.Errorf("%w: searchrawtransactions: %v",
				ErrBackend, err)
		}

		for _, res := range page {
			wtx, err := c.walletTx(ctx, res)
			if err != nil {
				return nil, err
			}
			txs = append(txs, wtx)
		}

		if len(page) < btcdPageSize {
			return txs, nil
		}
	}
}

// header returns the mining info of a block, served from the block cache.
func (c *BtcdClient) header(ctx context.Context,
	hash *chainhash.Hash) (wtxmgr.MiningInfo, error) {

	return c.blocks.get(*hash, func() (wtxmgr.MiningInfo, error) {
		if err := ctx.Err(); err != nil {
			return wtxmgr.MiningInfo{}, err
		}
		hdr, err := c.rpc.GetBlockHeaderVerbose(hash)
		if err != nil {
			return wtxmgr.MiningInfo{}, fmt.Errorf("%w: "+
				"getblockheader %v: %v", ErrBackend, hash, err)
		}
		return wtxmgr.MiningInfo{
			Height:    hdr.Height,
			Time:      time.Unix(hdr.Time, 0),
			BlockHash: *hash,
		}, nil
	})
}

// BestBlock returns the current chain tip.
func (c *BtcdClient) BestBlock(ctx context.Context) (wtxmgr.MiningInfo,
	error) {

	if err := ctx.Err(); err != nil {
		return wtxmgr.MiningInfo{}, err
	}
	hash, _, err := c.rpc.GetBestBlock()
	if err != nil {
		return wtxmgr.MiningInfo{}, fmt.Errorf("%w: getbestblock: %v",
			ErrBackend, err)
	}
	return c.header(ctx, hash)
}

// Broadcast relays the transaction through the node.
func (c *BtcdClient) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.rpc.SendRawTransaction(tx, false); err != nil {
		return fmt.Errorf("%w: %v", ErrBroadcast, err)
	}
	return nil
}

// prevOutScript rebuilds the script of a previous output from the addresses
// btcd reports for it. Outputs without a single address stay unresolved.
func (c *BtcdClient) prevOutScript(prev *btcjson.PrevOut) []byte {
	if prev == nil || len(prev.Addresses) != 1 {
		return nil
	}
	addr, err := btcutil.DecodeAddress(prev.Addresses[0], c.net)
	if err != nil {
		return nil
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil
	}
	return script
}

// walletTx converts a verbose search result with every party unresolved.
func (c *BtcdClient) walletTx(ctx context.Context,
	res *btcjson.SearchRawTransactionsResult) (*wtxmgr.WalletTx, error) {

	raw, err := hex.DecodeString(res.Hex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad transaction hex: %v",
			ErrBackend, err)
	}
	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: bad transaction: %v", ErrBackend,
			err)
	}

	txid := msgTx.TxHash()
	wtx := &wtxmgr.WalletTx{
		Txid:     txid,
		Status:   wtxmgr.Mempool(),
		Size:     uint32(msgTx.SerializeSize()),
		Weight:   uint32(blockchain.GetTransactionWeight(btcutil.NewTx(&msgTx))),
		Version:  msgTx.Version,
		LockTime: msgTx.LockTime,
	}

	if res.BlockHash != "" && res.Confirmations > 0 {
		blockHash, err := chainhash.NewHashFromStr(res.BlockHash)
		if err != nil {
			return nil, fmt.Errorf("%w: bad block hash: %v",
				ErrBackend, err)
		}
		info, err := c.header(ctx, blockHash)
		if err != nil {
			return nil, err
		}
		wtx.Status = wtxmgr.Mined(info)
	}

	coinbase := blockchain.IsCoinBaseTx(&msgTx)
	var (
		totalIn    btcutil.Amount
		knownPrevs = true
	)
	for i, txIn := range msgTx.TxIn {
		credit := wtxmgr.TxCredit{
			OutPoint: txIn.PreviousOutPoint,
			Sequence: txIn.Sequence,
			Coinbase: coinbase,
			Payer:    wtxmgr.Subsidy(),
		}
		if len(txIn.SignatureScript) > 0 {
			credit.SigScript = txIn.SignatureScript
		}
		if len(txIn.Witness) > 0 {
			credit.Witness = txIn.Witness
		}

		if !coinbase {
			var prev *btcjson.PrevOut
			if i < len(res.Vin) {
				prev = res.Vin[i].PrevOut
			}
			credit.Payer = wtxmgr.Unknown(c.prevOutScript(prev))
			if prev == nil {
				knownPrevs = false
			} else {
				value, err := btcutil.NewAmount(prev.Value)
				if err != nil {
					return nil, fmt.Errorf("%w: bad prevout "+
						"value: %v", ErrBackend, err)
				}
				credit.Value = value
				totalIn += value
			}
		}
		wtx.Inputs = append(wtx.Inputs, credit)
	}

	var totalOut btcutil.Amount
	for i, txOut := range msgTx.TxOut {
		wtx.Outputs = append(wtx.Outputs, wtxmgr.TxDebit{
			OutPoint:    wire.OutPoint{Hash: txid, Index: uint32(i)},
			Beneficiary: wtxmgr.Unknown(txOut.PkScript),
			Value:       btcutil.Amount(txOut.Value),
		})
		totalOut += btcutil.Amount(txOut.Value)
	}

	if !coinbase && knownPrevs && totalIn >= totalOut {
		wtx.Fee = totalIn - totalOut
	}

	return wtx, nil
}
