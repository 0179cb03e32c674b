// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Naming
//
// The following variables are commonly used in this file and given
// reserved names:
//
//   ns: The namespace bucket for this package
//   b:  The primary bucket being operated on
//   k:  A single bucket key
//   v:  A single bucket value
//
// Functions use the naming scheme `Op[Raw]Type[Field]`, which performs the
// operation `Op` on the type `Type`.  The following operations are used:
//
//   key:     return a db key for some data
//   value:   return a db value for some data
//   put:     insert or replace a value into a bucket
//   fetch:   read and return a value
//   read:    read a value into an out parameter

// Big endian is the preferred byte order, due to cursor scans over integer
// keys iterating in order.
var byteOrder = binary.BigEndian

// LatestVersion is the most recent cache serialization version.
const LatestVersion = 1

// This package makes assumptions that the width of a chainhash.Hash is always
// 32 bytes.
var _ [32]byte = chainhash.Hash{}

// Bucket names
var (
	bucketHeaders  = []byte("h")
	bucketTxs      = []byte("t")
	bucketUnspent  = []byte("u")
	bucketPending  = []byte("p")
	bucketAddrs    = []byte("a")
	cacheBuckets   = [][]byte{bucketHeaders, bucketTxs, bucketUnspent, bucketPending, bucketAddrs}
	maxScriptBytes = uint32(txscript.MaxScriptSize)
)

// Root (namespace) bucket keys
var (
	rootVersion    = []byte("vers")
	rootLastBlock  = []byte("tip")
	rootLastChange = []byte("chg")
)

func storeError(c ErrorCode, desc string, err error) TxStoreError {
	return txStoreError(c, desc, err)
}

// Several data structures are given canonical serialization formats as either
// keys or values.
//
// The canonical outpoint serialization format is:
//
//   [0:32]  Transaction hash (32 bytes)
//   [32:36] Output index (4 bytes)
//
// Inpoints use the same layout with the input index.

func canonicalOutPoint(txHash *chainhash.Hash, index uint32) []byte {
	k := make([]byte, 36)
	copy(k, txHash[:])
	byteOrder.PutUint32(k[32:36], index)
	return k
}

func readCanonicalOutPoint(k []byte, op *wire.OutPoint) error {
	if len(k) < 36 {
		str := "short canonical outpoint"
		return storeError(ErrData, str, nil)
	}
	copy(op.Hash[:], k)
	op.Index = byteOrder.Uint32(k[32:36])
	return nil
}

// Mining infos are serialized as:
//
//   [0:4]   Height (4 bytes)
//   [4:12]  Unix time, 0 for the zero time (8 bytes)
//   [12:44] Block hash (32 bytes)

func valueMiningInfo(m MiningInfo) []byte {
	v := make([]byte, 44)
	byteOrder.PutUint32(v[0:4], uint32(m.Height))
	if !m.Time.IsZero() {
		byteOrder.PutUint64(v[4:12], uint64(m.Time.Unix()))
	}
	copy(v[12:44], m.BlockHash[:])
	return v
}

func readMiningInfo(v []byte, m *MiningInfo) error {
	if len(v) < 44 {
		str := "short mining info"
		return storeError(ErrData, str, nil)
	}
	m.Height = int32(byteOrder.Uint32(v[0:4]))
	m.Time = time.Time{}
	if unix := int64(byteOrder.Uint64(v[4:12])); unix != 0 {
		m.Time = time.Unix(unix, 0)
	}
	copy(m.BlockHash[:], v[12:44])
	return nil
}

// Address aggregates are keyed by keychain and index (4 bytes each) and
// serialized as:
//
//   [0:4]   Used count (4 bytes)
//   [4:12]  Volume (8 bytes)
//   [12:20] Balance (8 bytes)
//   [20:]   Output script

func keyAddr(t waddrmgr.Terminal) []byte {
	k := make([]byte, 8)
	byteOrder.PutUint32(k[0:4], uint32(t.Keychain))
	byteOrder.PutUint32(k[4:8], t.Index)
	return k
}

func valueAddr(a WalletAddr) ([]byte, error) {
	script, err := txscript.PayToAddrScript(a.Addr)
	if err != nil {
		return nil, err
	}
	v := make([]byte, 20+len(script))
	byteOrder.PutUint32(v[0:4], a.Used)
	byteOrder.PutUint64(v[4:12], uint64(a.Volume))
	byteOrder.PutUint64(v[12:20], uint64(a.Balance))
	copy(v[20:], script)
	return v, nil
}

func readAddr(k, v []byte, net *chaincfg.Params, a *WalletAddr) error {
	if len(k) < 8 || len(v) < 20 {
		str := "short address record"
		return storeError(ErrData, str, nil)
	}
	a.Terminal = waddrmgr.Terminal{
		Keychain: waddrmgr.Keychain(byteOrder.Uint32(k[0:4])),
		Index:    byteOrder.Uint32(k[4:8]),
	}
	a.Used = byteOrder.Uint32(v[0:4])
	a.Volume = btcutil.Amount(byteOrder.Uint64(v[4:12]))
	a.Balance = btcutil.Amount(byteOrder.Uint64(v[12:20]))

	addr, err := scriptAddr(v[20:], net)
	if err != nil {
		return err
	}
	a.Addr = addr
	return nil
}

func scriptAddr(script []byte, net *chaincfg.Params) (btcutil.Address, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, net)
	if err != nil || len(addrs) != 1 {
		str := fmt.Sprintf("script %x does not decode to an address",
			script)
		return nil, storeError(ErrData, str, err)
	}
	return addrs[0], nil
}

// Parties are serialized as a kind byte followed by the kind specific
// payload: nothing for the subsidy, the script for counterparties and
// unknown parties, and keychain, index and script for wallet parties.

func writeParty(w io.Writer, p Party) error {
	if _, err := w.Write([]byte{byte(p.Kind())}); err != nil {
		return err
	}
	switch p.Kind() {
	case PartySubsidy:
		return nil

	case PartyWallet:
		d, _ := p.Derived()
		var buf [8]byte
		byteOrder.PutUint32(buf[0:4], uint32(d.Terminal.Keychain))
		byteOrder.PutUint32(buf[4:8], d.Terminal.Index)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return wire.WriteVarBytes(w, 0, p.Script())
}

func readParty(r io.Reader, net *chaincfg.Params) (Party, error) {
	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return Party{}, err
	}

	switch PartyKind(kind[0]) {
	case PartySubsidy:
		return Subsidy(), nil

	case PartyCounterparty:
		script, err := wire.ReadVarBytes(r, 0, maxScriptBytes, "script")
		if err != nil {
			return Party{}, err
		}
		return FromScript(script, net), nil

	case PartyUnknown:
		script, err := wire.ReadVarBytes(r, 0, maxScriptBytes, "script")
		if err != nil {
			return Party{}, err
		}
		return Unknown(script), nil

	case PartyWallet:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Party{}, err
		}
		script, err := wire.ReadVarBytes(r, 0, maxScriptBytes, "script")
		if err != nil {
			return Party{}, err
		}
		addr, err := scriptAddr(script, net)
		if err != nil {
			return Party{}, err
		}
		return Wallet(waddrmgr.DerivedAddr{
			Addr: addr,
			Terminal: waddrmgr.Terminal{
				Keychain: waddrmgr.Keychain(
					byteOrder.Uint32(buf[0:4]),
				),
				Index: byteOrder.Uint32(buf[4:8]),
			},
			PkScript: script,
		}), nil

	default:
		return Party{}, fmt.Errorf("unknown party kind %d", kind[0])
	}
}

func writeUint32(w io.Writer, n uint32) error {
	var buf [4]byte
	byteOrder.PutUint32(buf[:], n)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint32(buf[:]), nil
}

func writeUint64(w io.Writer, n uint64) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], n)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint64(buf[:]), nil
}

// Wallet transactions are keyed by txid. The value starts with the status
// kind byte, the mining info of mined transactions, then fee, size, weight,
// version and lock time, followed by the var int prefixed lists of inputs
// and outputs.

func valueWalletTx(tx *WalletTx) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte(byte(tx.Status.Kind))
	if tx.Status.IsMined() {
		b.Write(valueMiningInfo(tx.Status.Mining))
	}

	for _, n := range []uint32{
		tx.Size, tx.Weight, uint32(tx.Version), tx.LockTime,
	} {
		if err := writeUint32(&b, n); err != nil {
			return nil, err
		}
	}
	if err := writeUint64(&b, uint64(tx.Fee)); err != nil {
		return nil, err
	}

	if err := wire.WriteVarInt(&b, 0, uint64(len(tx.Inputs))); err != nil {
		return nil, err
	}
	for _, in := range tx.Inputs {
		if err := writeCredit(&b, &in); err != nil {
			return nil, err
		}
	}

	if err := wire.WriteVarInt(&b, 0, uint64(len(tx.Outputs))); err != nil {
		return nil, err
	}
	for _, out := range tx.Outputs {
		if err := writeDebit(&b, &out); err != nil {
			return nil, err
		}
	}

	return b.Bytes(), nil
}

func writeCredit(w io.Writer, in *TxCredit) error {
	if _, err := w.Write(canonicalOutPoint(
		&in.OutPoint.Hash, in.OutPoint.Index,
	)); err != nil {
		return err
	}
	if err := writeParty(w, in.Payer); err != nil {
		return err
	}
	if err := writeUint32(w, in.Sequence); err != nil {
		return err
	}
	var coinbase byte
	if in.Coinbase {
		coinbase = 1
	}
	if _, err := w.Write([]byte{coinbase}); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, in.SigScript); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, 0, uint64(len(in.Witness))); err != nil {
		return err
	}
	for _, item := range in.Witness {
		if err := wire.WriteVarBytes(w, 0, item); err != nil {
			return err
		}
	}
	return writeUint64(w, uint64(in.Value))
}

func writeDebit(w io.Writer, out *TxDebit) error {
	if _, err := w.Write(canonicalOutPoint(
		&out.OutPoint.Hash, out.OutPoint.Index,
	)); err != nil {
		return err
	}
	if err := writeParty(w, out.Beneficiary); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(out.Value)); err != nil {
		return err
	}

	spent := out.Spent.UnwrapOr(Inpoint{})
	flag := []byte{0}
	if out.Spent.IsSome() {
		flag[0] = 1
	}
	if _, err := w.Write(flag); err != nil {
		return err
	}
	if out.Spent.IsNone() {
		return nil
	}
	_, err := w.Write(canonicalOutPoint(&spent.Txid, spent.Vin))
	return err
}

func readWalletTx(k, v []byte, net *chaincfg.Params) (*WalletTx, error) {
	if len(k) != chainhash.HashSize || len(v) < 1 {
		str := "short transaction record"
		return nil, storeError(ErrData, str, nil)
	}

	tx := &WalletTx{}
	copy(tx.Txid[:], k)

	r := bytes.NewReader(v[1:])
	tx.Status.Kind = StatusKind(v[0])
	if tx.Status.IsMined() {
		var buf [44]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		if err := readMiningInfo(buf[:], &tx.Status.Mining); err != nil {
			return nil, err
		}
	}

	var fields [4]uint32
	for i := range fields {
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		fields[i] = n
	}
	tx.Size, tx.Weight = fields[0], fields[1]
	tx.Version, tx.LockTime = int32(fields[2]), fields[3]

	fee, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	tx.Fee = btcutil.Amount(fee)

	numInputs, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numInputs; i++ {
		in, err := readCredit(r, net)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, in)
	}

	numOutputs, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numOutputs; i++ {
		out, err := readDebit(r, net)
		if err != nil {
			return nil, err
		}
		tx.Outputs = append(tx.Outputs, out)
	}

	return tx, nil
}

func readOutPointFrom(r io.Reader, op *wire.OutPoint) error {
	var buf [36]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	return readCanonicalOutPoint(buf[:], op)
}

func readCredit(r io.Reader, net *chaincfg.Params) (TxCredit, error) {
	var (
		in  TxCredit
		err error
	)
	if err = readOutPointFrom(r, &in.OutPoint); err != nil {
		return in, err
	}
	if in.Payer, err = readParty(r, net); err != nil {
		return in, err
	}
	if in.Sequence, err = readUint32(r); err != nil {
		return in, err
	}
	var coinbase [1]byte
	if _, err = io.ReadFull(r, coinbase[:]); err != nil {
		return in, err
	}
	in.Coinbase = coinbase[0] == 1

	in.SigScript, err = wire.ReadVarBytes(
		r, 0, maxScriptBytes, "sigScript",
	)
	if err != nil {
		return in, err
	}
	if len(in.SigScript) == 0 {
		in.SigScript = nil
	}

	numItems, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return in, err
	}
	for i := uint64(0); i < numItems; i++ {
		item, err := wire.ReadVarBytes(
			r, 0, wire.MaxBlockPayload, "witness",
		)
		if err != nil {
			return in, err
		}
		in.Witness = append(in.Witness, item)
	}

	value, err := readUint64(r)
	if err != nil {
		return in, err
	}
	in.Value = btcutil.Amount(value)
	return in, nil
}

func readDebit(r io.Reader, net *chaincfg.Params) (TxDebit, error) {
	var (
		out TxDebit
		err error
	)
	if err = readOutPointFrom(r, &out.OutPoint); err != nil {
		return out, err
	}
	if out.Beneficiary, err = readParty(r, net); err != nil {
		return out, err
	}
	value, err := readUint64(r)
	if err != nil {
		return out, err
	}
	out.Value = btcutil.Amount(value)

	var flag [1]byte
	if _, err = io.ReadFull(r, flag[:]); err != nil {
		return out, err
	}
	if flag[0] == 1 {
		var op wire.OutPoint
		if err = readOutPointFrom(r, &op); err != nil {
			return out, err
		}
		out.Spent = fn.Some(Inpoint{Txid: op.Hash, Vin: op.Index})
	}
	return out, nil
}

// PutCache replaces the cache stored in the namespace with c.
func PutCache(ns walletdb.ReadWriteBucket, c *Cache) error {
	for _, name := range cacheBuckets {
		if ns.NestedReadWriteBucket(name) == nil {
			continue
		}
		if err := ns.DeleteNestedBucket(name); err != nil {
			str := fmt.Sprintf("failed to delete bucket %s", name)
			return storeError(ErrDatabase, str, err)
		}
	}
	buckets := make(map[string]walletdb.ReadWriteBucket, len(cacheBuckets))
	for _, name := range cacheBuckets {
		b, err := ns.CreateBucket(name)
		if err != nil {
			str := fmt.Sprintf("failed to create bucket %s", name)
			return storeError(ErrDatabase, str, err)
		}
		buckets[string(name)] = b
	}

	var vers [4]byte
	byteOrder.PutUint32(vers[:], LatestVersion)
	if err := ns.Put(rootVersion, vers[:]); err != nil {
		return storeError(ErrDatabase, "failed to put version", err)
	}
	if err := ns.Put(rootLastBlock, valueMiningInfo(c.LastBlock)); err != nil {
		return storeError(ErrDatabase, "failed to put last block", err)
	}
	var change [4]byte
	byteOrder.PutUint32(change[:], c.LastChange)
	if err := ns.Put(rootLastChange, change[:]); err != nil {
		return storeError(ErrDatabase, "failed to put change index", err)
	}

	b := buckets[string(bucketHeaders)]
	for hash, info := range c.Headers {
		if err := b.Put(hash[:], valueMiningInfo(info)); err != nil {
			return storeError(ErrDatabase, "failed to put header", err)
		}
	}

	b = buckets[string(bucketTxs)]
	for txid, tx := range c.Txs {
		v, err := valueWalletTx(tx)
		if err != nil {
			str := fmt.Sprintf("failed to serialize tx %v", txid)
			return storeError(ErrData, str, err)
		}
		if err := b.Put(txid[:], v); err != nil {
			str := fmt.Sprintf("failed to put tx %v", txid)
			return storeError(ErrDatabase, str, err)
		}
	}

	b = buckets[string(bucketUnspent)]
	for op := range c.Utxos {
		k := canonicalOutPoint(&op.Hash, op.Index)
		if err := b.Put(k, nil); err != nil {
			str := fmt.Sprintf("failed to put unspent %v", op)
			return storeError(ErrDatabase, str, err)
		}
	}

	b = buckets[string(bucketPending)]
	for op, in := range c.PendingSpends {
		k := canonicalOutPoint(&op.Hash, op.Index)
		if err := b.Put(k, canonicalOutPoint(&in.Txid, in.Vin)); err != nil {
			str := fmt.Sprintf("failed to put pending spend %v", op)
			return storeError(ErrDatabase, str, err)
		}
	}

	b = buckets[string(bucketAddrs)]
	for _, addrs := range c.Addrs {
		for _, a := range addrs {
			v, err := valueAddr(a)
			if err != nil {
				str := fmt.Sprintf("failed to serialize "+
					"address %v", a.Terminal)
				return storeError(ErrData, str, err)
			}
			if err := b.Put(keyAddr(a.Terminal), v); err != nil {
				str := fmt.Sprintf("failed to put address %v",
					a.Terminal)
				return storeError(ErrDatabase, str, err)
			}
		}
	}

	return nil
}

// FetchCache reads the cache stored in the namespace. Addresses are decoded
// for the given network.
func FetchCache(ns walletdb.ReadBucket, net *chaincfg.Params) (*Cache, error) {
	v := ns.Get(rootVersion)
	if v == nil {
		return nil, storeError(ErrNoExist, "no cache stored", nil)
	}
	if len(v) != 4 || byteOrder.Uint32(v) != LatestVersion {
		str := fmt.Sprintf("unsupported cache version %x", v)
		return nil, storeError(ErrData, str, nil)
	}

	c := NewCache()
	if err := readMiningInfo(ns.Get(rootLastBlock), &c.LastBlock); err != nil {
		return nil, err
	}
	v = ns.Get(rootLastChange)
	if len(v) != 4 {
		return nil, storeError(ErrData, "short change index", nil)
	}
	c.LastChange = byteOrder.Uint32(v)

	bucket := func(name []byte) (walletdb.ReadBucket, error) {
		b := ns.NestedReadBucket(name)
		if b == nil {
			str := fmt.Sprintf("missing bucket %s", name)
			return nil, storeError(ErrData, str, nil)
		}
		return b, nil
	}

	b, err := bucket(bucketHeaders)
	if err != nil {
		return nil, err
	}
	err = b.ForEach(func(k, v []byte) error {
		var info MiningInfo
		if err := readMiningInfo(v, &info); err != nil {
			return err
		}
		var hash chainhash.Hash
		copy(hash[:], k)
		c.Headers[hash] = info
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b, err = bucket(bucketTxs); err != nil {
		return nil, err
	}
	err = b.ForEach(func(k, v []byte) error {
		tx, err := readWalletTx(k, v, net)
		if err != nil {
			str := fmt.Sprintf("failed to decode tx %x", k)
			return storeError(ErrData, str, err)
		}
		c.Txs[tx.Txid] = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b, err = bucket(bucketUnspent); err != nil {
		return nil, err
	}
	err = b.ForEach(func(k, _ []byte) error {
		var op wire.OutPoint
		if err := readCanonicalOutPoint(k, &op); err != nil {
			return err
		}
		c.Utxos[op] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b, err = bucket(bucketPending); err != nil {
		return nil, err
	}
	err = b.ForEach(func(k, v []byte) error {
		var op, in wire.OutPoint
		if err := readCanonicalOutPoint(k, &op); err != nil {
			return err
		}
		if err := readCanonicalOutPoint(v, &in); err != nil {
			return err
		}
		c.PendingSpends[op] = Inpoint{Txid: in.Hash, Vin: in.Index}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b, err = bucket(bucketAddrs); err != nil {
		return nil, err
	}
	err = b.ForEach(func(k, v []byte) error {
		var a WalletAddr
		if err := readAddr(k, v, net, &a); err != nil {
			return err
		}
		c.PutAddr(a)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}
