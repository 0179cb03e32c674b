package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/idxwallet/wtxmgr"
	"github.com/stretchr/testify/require"
)

// esploraFixture returns a confirmed history entry paying 10000 sat to
// script.
func esploraFixture(n int, script []byte, confirmed bool) esploraTx {
	tx := esploraTx{
		TxID:     hashOf(byte(n)).String(),
		Version:  2,
		LockTime: 0,
		Vin: []esploraInput{{
			TxID: hashOf(0xee).String(),
			Vout: uint32(n),
			PrevOut: &esploraTxOut{
				ScriptPubKey: hex.EncodeToString(externalScript(1)),
				Value:        20_000,
			},
			Witness:  []string{"3044", ""},
			Sequence: wire.MaxTxInSequenceNum,
		}},
		Vout: []esploraTxOut{{
			ScriptPubKey: hex.EncodeToString(script),
			Value:        10_000,
		}},
		Size:   222,
		Weight: 561,
		Fee:    10_000,
	}
	if confirmed {
		tx.Status = esploraStatus{
			Confirmed:   true,
			BlockHeight: int32(100 + n),
			BlockHash:   hashOf(byte(200 - n)).String(),
			BlockTime:   1_600_000_000 + int64(n),
		}
	}
	return tx
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("unable to encode response: %v", err)
	}
}

// TestEsploraScriptHistory checks history paging for both API flavours.
func TestEsploraScriptHistory(t *testing.T) {
	t.Parallel()

	d := testDescriptor(t)
	addr := derive(t, d, ext, 0)

	var firstPage []esploraTx
	for i := 1; i <= esploraPageSize; i++ {
		firstPage = append(firstPage, esploraFixture(i, addr.PkScript, true))
	}
	secondPage := []esploraTx{esploraFixture(30, addr.PkScript, true)}
	lastSeen := firstPage[esploraPageSize-1].TxID

	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /scripthash/{hash}/txs",
		func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			writeJSON(t, w, firstPage)
		})
	mux.HandleFunc("GET /scripthash/{hash}/txs/chain/{last}",
		func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			if r.PathValue("last") != lastSeen {
				http.Error(w, "bad cursor", http.StatusBadRequest)
				return
			}
			writeJSON(t, w, secondPage)
		})
	mux.HandleFunc("GET /address/{addr}/txs",
		func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			if r.PathValue("addr") != addr.Addr.EncodeAddress() {
				http.Error(w, "bad address", http.StatusBadRequest)
				return
			}
			writeJSON(t, w, []esploraTx{
				esploraFixture(1, addr.PkScript, false),
				esploraFixture(2, addr.PkScript, true),
			})
		})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	tests := []struct {
		name     string
		kind     EsploraKind
		txs      int
		requests int32
	}{
		{
			name:     "esplora paging",
			kind:     Esplora,
			txs:      esploraPageSize + 1,
			requests: 2,
		},
		{
			name:     "mempool single page",
			kind:     Mempool,
			txs:      2,
			requests: 1,
		},
	}

	// The subtests share the request counter.
	for _, test := range tests {
		requests.Store(0)
		client := NewEsploraClient(EsploraConfig{
			URL:  server.URL + "/",
			Kind: test.kind,
		})
		require.Equal(t, test.kind.String(), client.BackEnd())

		txs, err := client.ScriptHistory(context.Background(), addr)
		require.NoError(t, err, test.name)
		require.Len(t, txs, test.txs, test.name)
		require.Equal(t, test.requests, requests.Load(), test.name)
	}
}

// TestEsploraTxConversion checks the mapping of a history entry.
func TestEsploraTxConversion(t *testing.T) {
	t.Parallel()

	script := externalScript(5)

	confirmed := esploraFixture(7, script, true)
	wtx, err := confirmed.walletTx()
	require.NoError(t, err)

	require.Equal(t, hashOf(7), wtx.Txid)
	require.Equal(t, wtxmgr.Mined(wtxmgr.MiningInfo{
		Height:    107,
		Time:      time.Unix(1_600_000_007, 0),
		BlockHash: hashOf(193),
	}), wtx.Status)
	require.Equal(t, btcutil.Amount(10_000), wtx.Fee)
	require.Equal(t, uint32(561), wtx.Weight)

	require.Len(t, wtx.Inputs, 1)
	in := wtx.Inputs[0]
	require.Equal(t, wire.OutPoint{Hash: hashOf(0xee), Index: 7}, in.OutPoint)
	require.Equal(t, wtxmgr.Unknown(externalScript(1)), in.Payer)
	require.Equal(t, btcutil.Amount(20_000), in.Value)
	require.Nil(t, in.SigScript)
	require.Equal(t, wire.TxWitness{{0x30, 0x44}, {}}, in.Witness)

	require.Len(t, wtx.Outputs, 1)
	require.Equal(t, wtxmgr.Unknown(script), wtx.Outputs[0].Beneficiary)
	require.False(t, wtx.Outputs[0].IsSpent())

	unconfirmed := esploraFixture(8, script, false)
	wtx, err = unconfirmed.walletTx()
	require.NoError(t, err)
	require.Equal(t, wtxmgr.Mempool(), wtx.Status)

	cb := esploraFixture(9, script, true)
	cb.Vin = []esploraInput{{
		TxID:       hashOf(0).String(),
		Vout:       wire.MaxPrevOutIndex,
		IsCoinbase: true,
		ScriptSig:  "03a08601",
		Sequence:   wire.MaxTxInSequenceNum,
	}}
	wtx, err = cb.walletTx()
	require.NoError(t, err)
	require.True(t, wtx.IsCoinbase())
	require.Equal(t, wtxmgr.Subsidy(), wtx.Inputs[0].Payer)
	require.Equal(t, []byte{0x03, 0xa0, 0x86, 0x01}, wtx.Inputs[0].SigScript)

	bad := esploraFixture(10, script, true)
	bad.Vout[0].ScriptPubKey = "zz"
	_, err = bad.walletTx()
	require.ErrorIs(t, err, ErrBackend)
}

// TestEsploraBestBlock checks that block lookups are cached.
func TestEsploraBestBlock(t *testing.T) {
	t.Parallel()

	tip := hashOf(0x42)

	var blockRequests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /blocks/tip/hash",
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, tip.String())
		})
	mux.HandleFunc("GET /block/{hash}",
		func(w http.ResponseWriter, r *http.Request) {
			blockRequests.Add(1)
			writeJSON(t, w, esploraBlock{
				ID:        r.PathValue("hash"),
				Height:    300,
				Timestamp: 1_700_000_000,
			})
		})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewEsploraClient(EsploraConfig{
		URL:               server.URL,
		RequestsPerSecond: 100,
		Burst:             10,
	})

	want := wtxmgr.MiningInfo{
		Height:    300,
		Time:      time.Unix(1_700_000_000, 0),
		BlockHash: tip,
	}
	for i := 0; i < 3; i++ {
		info, err := client.BestBlock(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, info)
	}
	require.Equal(t, int32(1), blockRequests.Load())
}

// TestEsploraBroadcast checks the transaction submission endpoint.
func TestEsploraBroadcast(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: hashOf(1)}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1_000, externalScript(4)))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	wantBody := hex.EncodeToString(buf.Bytes())

	tests := []struct {
		name   string
		status int
		reject bool
	}{
		{
			name:   "accepted",
			status: http.StatusOK,
		},
		{
			name:   "rejected",
			status: http.StatusBadRequest,
			reject: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			mux := http.NewServeMux()
			mux.HandleFunc("POST /tx",
				func(w http.ResponseWriter, r *http.Request) {
					body, _ := io.ReadAll(r.Body)
					if string(body) != wantBody {
						http.Error(w, "bad body",
							http.StatusTeapot)
						return
					}
					if test.status != http.StatusOK {
						http.Error(w, "bad-txns-inputs-"+
							"missingorspent",
							test.status)
						return
					}
					fmt.Fprint(w, tx.TxHash().String())
				})
			server := httptest.NewServer(mux)
			t.Cleanup(server.Close)

			client := NewEsploraClient(EsploraConfig{URL: server.URL})
			err := client.Broadcast(context.Background(), tx)
			if test.reject {
				require.ErrorIs(t, err, ErrBroadcast)
				require.ErrorContains(t, err, "missingorspent")
				return
			}
			require.NoError(t, err)
		})
	}
}

// TestEsploraCancelled checks that the limiter honours the context.
func TestEsploraCancelled(t *testing.T) {
	t.Parallel()

	client := NewEsploraClient(EsploraConfig{
		URL:               "http://127.0.0.1:1",
		RequestsPerSecond: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.BestBlock(ctx)
	require.Error(t, err)
}
