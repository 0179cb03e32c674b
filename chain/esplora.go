// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/btcsuite/idxwallet/wtxmgr"
	"golang.org/x/time/rate"
)

// esploraPageSize is the number of confirmed transactions an Esplora server
// returns per history page.
const esploraPageSize = 25

// EsploraKind selects the flavour of the REST API.
type EsploraKind uint8

const (
	// Esplora is the Blockstream Esplora API, queried by script hash.
	Esplora EsploraKind = iota

	// Mempool is the mempool.space API, queried by address.
	Mempool
)

// String returns the backend name of the kind.
func (k EsploraKind) String() string {
	if k == Mempool {
		return "mempool"
	}
	return "esplora"
}

// EsploraConfig configures an EsploraClient.
type EsploraConfig struct {
	// URL is the API base, e.g. https://blockstream.info/api.
	URL string

	Kind EsploraKind

	// RequestsPerSecond and Burst limit the request rate. A zero rate
	// disables limiting.
	RequestsPerSecond float64
	Burst             int

	Timeout        time.Duration
	BlockCacheSize uint64
}

// EsploraClient is a HistorySource backed by an Esplora compatible REST API.
type EsploraClient struct {
	cfg        EsploraConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	blocks     *blockCache
}

// A compile-time assertion to ensure EsploraClient meets the HistorySource
// interface.
var _ HistorySource = (*EsploraClient)(nil)

// NewEsploraClient creates a client for the API at cfg.URL.
func NewEsploraClient(cfg EsploraConfig) *EsploraClient {

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BlockCacheSize == 0 {
		cfg.BlockCacheSize = DefaultBlockCacheSize
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(
			rate.Limit(cfg.RequestsPerSecond), burst,
		)
	}

	return &EsploraClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		blocks:  newBlockCache(cfg.BlockCacheSize),
	}
}

// BackEnd returns the name of the backend.
func (c *EsploraClient) BackEnd() string {
	return c.cfg.Kind.String()
}

func (c *EsploraClient) do(ctx context.Context, method, path string,
	body io.Reader) ([]byte, error) {

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.cfg.URL+path, body,
	)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrBackend,
			path, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return b, nil
}

func (c *EsploraClient) getJSON(ctx context.Context, path string,
	v interface{}) error {

	b, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: failed to decode %s: %v", ErrBackend,
			path, err)
	}
	return nil
}

// historyPath returns the path of one page of the address's history,
// continuing after the confirmed transaction lastSeen when given.
func (c *EsploraClient) historyPath(addr waddrmgr.DerivedAddr,
	lastSeen string) string {

	if c.cfg.Kind == Mempool {
		path := fmt.Sprintf("/address/%s/txs", addr.Addr.EncodeAddress())
		if lastSeen != "" {
			path += "?after_txid=" + lastSeen
		}
		return path
	}

	// Script hashes are the sha256 of the script in reversed byte order.
	h := sha256.Sum256(addr.PkScript)
	for i, j := 0, len(h)-1; i < j; i, j = i+1, j-1 {
		h[i], h[j] = h[j], h[i]
	}
	path := fmt.Sprintf("/scripthash/%x/txs", h[:])
	if lastSeen != "" {
		path += "/chain/" + lastSeen
	}
	return path
}

// ScriptHistory returns every transaction touching the address, following
// the pagination of confirmed transactions.
func (c *EsploraClient) ScriptHistory(ctx context.Context,
	addr waddrmgr.DerivedAddr) ([]*wtxmgr.WalletTx, error) {

	var (
		txs      []*wtxmgr.WalletTx
		lastSeen string
	)
	for {
		var page []esploraTx
		err := c.getJSON(ctx, c.historyPath(addr, lastSeen), &page)
		if err != nil {
			return nil, err
		}

		confirmed := 0
		for i := range page {
			wtx, err := page[i].walletTx()
			if err != nil {
				return nil, err
			}
			txs = append(txs, wtx)

			if page[i].Status.Confirmed {
				confirmed++
				lastSeen = page[i].TxID
			}
		}

		if confirmed < esploraPageSize {
			break
		}
	}

	log.Tracef("Found %d %s for %v", len(txs),
		pickNoun(len(txs), "transaction", "transactions"), addr)

	return txs, nil
}

// BestBlock returns the current chain tip.
func (c *EsploraClient) BestBlock(ctx context.Context) (wtxmgr.MiningInfo,
	error) {

	b, err := c.do(ctx, http.MethodGet, "/blocks/tip/hash", nil)
	if err != nil {
		return wtxmgr.MiningInfo{}, err
	}
	hash, err := chainhash.NewHashFromStr(strings.TrimSpace(string(b)))
	if err != nil {
		return wtxmgr.MiningInfo{}, fmt.Errorf("%w: bad tip hash: %v",
			ErrBackend, err)
	}

	return c.blocks.get(*hash, func() (wtxmgr.MiningInfo, error) {
		var block esploraBlock
		err := c.getJSON(ctx, "/block/"+hash.String(), &block)
		if err != nil {
			return wtxmgr.MiningInfo{}, err
		}
		return wtxmgr.MiningInfo{
			Height:    block.Height,
			Time:      time.Unix(block.Timestamp, 0),
			BlockHash: *hash,
		}, nil
	})
}

// Broadcast posts the serialized transaction.
func (c *EsploraClient) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return err
	}

	body := strings.NewReader(hex.EncodeToString(buf.Bytes()))
	resp, err := c.do(ctx, http.MethodPost, "/tx", body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBroadcast, err)
	}

	if got := strings.TrimSpace(string(resp)); got != tx.TxHash().String() {
		log.Warnf("Backend acknowledged %v as %s", tx.TxHash(), got)
	}
	return nil
}

// esploraTx is a transaction as returned by the history endpoints.
type esploraTx struct {
	TxID     string         `json:"txid"`
	Version  int32          `json:"version"`
	LockTime uint32         `json:"locktime"`
	Vin      []esploraInput `json:"vin"`
	Vout     []esploraTxOut `json:"vout"`
	Size     uint32         `json:"size"`
	Weight   uint32         `json:"weight"`
	Fee      int64          `json:"fee"`
	Status   esploraStatus  `json:"status"`
}

type esploraInput struct {
	TxID       string        `json:"txid"`
	Vout       uint32        `json:"vout"`
	PrevOut    *esploraTxOut `json:"prevout"`
	ScriptSig  string        `json:"scriptsig"`
	Witness    []string      `json:"witness"`
	IsCoinbase bool          `json:"is_coinbase"`
	Sequence   uint32        `json:"sequence"`
}

type esploraTxOut struct {
	ScriptPubKey string `json:"scriptpubkey"`
	Value        int64  `json:"value"`
}

type esploraStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int32  `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	BlockTime   int64  `json:"block_time"`
}

type esploraBlock struct {
	ID        string `json:"id"`
	Height    int32  `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

// decodeHex decodes a hex field, mapping the empty string to nil.
func decodeHex(field, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad %s: %v", ErrBackend, field, err)
	}
	return b, nil
}

// walletTx converts the transaction with every party still unresolved.
func (t *esploraTx) walletTx() (*wtxmgr.WalletTx, error) {
	txid, err := chainhash.NewHashFromStr(t.TxID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad txid: %v", ErrBackend, err)
	}

	wtx := &wtxmgr.WalletTx{
		Txid:     *txid,
		Status:   wtxmgr.Mempool(),
		Fee:      btcutil.Amount(t.Fee),
		Size:     t.Size,
		Weight:   t.Weight,
		Version:  t.Version,
		LockTime: t.LockTime,
	}
	if t.Status.Confirmed {
		blockHash, err := chainhash.NewHashFromStr(t.Status.BlockHash)
		if err != nil {
			return nil, fmt.Errorf("%w: bad block hash: %v",
				ErrBackend, err)
		}
		wtx.Status = wtxmgr.Mined(wtxmgr.MiningInfo{
			Height:    t.Status.BlockHeight,
			Time:      time.Unix(t.Status.BlockTime, 0),
			BlockHash: *blockHash,
		})
	}

	for _, in := range t.Vin {
		credit := wtxmgr.TxCredit{
			Sequence: in.Sequence,
			Coinbase: in.IsCoinbase,
			Payer:    wtxmgr.Subsidy(),
		}
		if in.IsCoinbase {
			credit.OutPoint = wire.OutPoint{Index: wire.MaxPrevOutIndex}
		} else {
			prevHash, err := chainhash.NewHashFromStr(in.TxID)
			if err != nil {
				return nil, fmt.Errorf("%w: bad prevout: %v",
					ErrBackend, err)
			}
			credit.OutPoint = wire.OutPoint{
				Hash: *prevHash, Index: in.Vout,
			}
			credit.Payer = wtxmgr.Unknown(nil)
		}
		if in.PrevOut != nil {
			script, err := decodeHex("prevout", in.PrevOut.ScriptPubKey)
			if err != nil {
				return nil, err
			}
			credit.Payer = wtxmgr.Unknown(script)
			credit.Value = btcutil.Amount(in.PrevOut.Value)
		}
		if credit.SigScript, err = decodeHex("scriptsig", in.ScriptSig); err != nil {
			return nil, err
		}
		for _, item := range in.Witness {
			b, err := decodeHex("witness", item)
			if err != nil {
				return nil, err
			}
			if b == nil {
				b = []byte{}
			}
			credit.Witness = append(credit.Witness, b)
		}
		wtx.Inputs = append(wtx.Inputs, credit)
	}

	for i, out := range t.Vout {
		script, err := decodeHex("scriptpubkey", out.ScriptPubKey)
		if err != nil {
			return nil, err
		}
		wtx.Outputs = append(wtx.Outputs, wtxmgr.TxDebit{
			OutPoint:    wire.OutPoint{Hash: *txid, Index: uint32(i)},
			Beneficiary: wtxmgr.Unknown(script),
			Value:       btcutil.Amount(out.Value),
		})
	}

	return wtx, nil
}
