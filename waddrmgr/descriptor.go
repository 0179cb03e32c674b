// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrUnknownClass is returned when an address class is not one of the
	// supported single key classes.
	ErrUnknownClass = errors.New("unknown address class")

	// ErrDescriptorFormat is returned when a descriptor string cannot be
	// parsed.
	ErrDescriptorFormat = errors.New("malformed descriptor")

	// ErrPrivateKey is returned when a descriptor is given an extended
	// private key. Descriptors only ever hold watch-only keys.
	ErrPrivateKey = errors.New("descriptor key must be public")

	// ErrWrongNet is returned when the account key is encoded for a
	// different network than the descriptor.
	ErrWrongNet = errors.New("account key is for a different network")
)

// AddrClass is the script type of the addresses a descriptor derives.
type AddrClass uint8

const (
	// P2PKH derives legacy pay-to-pubkey-hash addresses.
	P2PKH AddrClass = iota

	// NestedP2WPKH derives pay-to-witness-pubkey-hash addresses wrapped in
	// pay-to-script-hash.
	NestedP2WPKH

	// P2WPKH derives native segwit v0 addresses.
	P2WPKH

	// P2TR derives key-path only taproot addresses.
	P2TR
)

// DustLimit returns the minimum value of an output of this class below which
// it is uneconomical to create.
func (c AddrClass) DustLimit() btcutil.Amount {
	switch c {
	case P2PKH:
		return 546
	case NestedP2WPKH:
		return 540
	case P2WPKH:
		return 294
	case P2TR:
		return 330
	default:
		return 546
	}
}

// PkScriptSize is the size of an output script of this class.
func (c AddrClass) PkScriptSize() int {
	switch c {
	case P2PKH:
		return 25
	case NestedP2WPKH:
		return 23
	case P2WPKH:
		return 22
	case P2TR:
		return 34
	default:
		return 0
	}
}

// String returns the class in output descriptor notation.
func (c AddrClass) String() string {
	switch c {
	case P2PKH:
		return "pkh"
	case NestedP2WPKH:
		return "sh(wpkh)"
	case P2WPKH:
		return "wpkh"
	case P2TR:
		return "tr"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// KeyOrigin describes where the account key sits below the master key.
type KeyOrigin struct {
	// MasterFingerprint is the fingerprint of the master key as it is
	// carried by PSBT derivation records.
	MasterFingerprint uint32

	// Path is the derivation path from the master key to the account key.
	Path []uint32
}

// Descriptor deterministically describes how the addresses of a watch-only
// wallet are derived from an account level extended public key.
type Descriptor struct {
	Class      AddrClass
	AccountKey *hdkeychain.ExtendedKey
	Origin     KeyOrigin
	Keychains  []Keychain
	Net        *chaincfg.Params
}

// NewDescriptor creates a descriptor after checking that the account key is
// public and belongs to the given network. Nil keychains select
// DefaultKeychains.
func NewDescriptor(class AddrClass, accountKey *hdkeychain.ExtendedKey,
	origin KeyOrigin, keychains []Keychain,
	net *chaincfg.Params) (*Descriptor, error) {

	if class > P2TR {
		return nil, ErrUnknownClass
	}
	if accountKey.IsPrivate() {
		return nil, ErrPrivateKey
	}
	if !accountKey.IsForNet(net) {
		return nil, ErrWrongNet
	}
	if len(keychains) == 0 {
		keychains = DefaultKeychains
	}

	return &Descriptor{
		Class:      class,
		AccountKey: accountKey,
		Origin:     origin,
		Keychains:  append([]Keychain(nil), keychains...),
		Net:        net,
	}, nil
}

// DustLimit returns the dust limit of the descriptor's address class.
func (d *Descriptor) DustLimit() btcutil.Amount {
	return d.Class.DustLimit()
}

// HasKeychain reports whether the keychain is one of the descriptor's.
func (d *Descriptor) HasKeychain(k Keychain) bool {
	for _, kc := range d.Keychains {
		if kc == k {
			return true
		}
	}
	return false
}

// branchKey derives the extended key of a keychain.
func (d *Descriptor) branchKey(k Keychain) (*hdkeychain.ExtendedKey, error) {
	return d.AccountKey.Derive(uint32(k))
}

// PubKey derives the public key at the given terminal.
func (d *Descriptor) PubKey(t Terminal) (*btcec.PublicKey, error) {
	branch, err := d.branchKey(t.Keychain)
	if err != nil {
		return nil, err
	}
	return childPubKey(branch, t.Index)
}

// Derive derives the address at the given terminal.
func (d *Descriptor) Derive(t Terminal) (DerivedAddr, error) {
	pub, err := d.PubKey(t)
	if err != nil {
		return DerivedAddr{}, err
	}
	return d.addrFromPubKey(pub, t)
}

// Bip32Path returns the full derivation path from the master key to the key
// at the given terminal.
func (d *Descriptor) Bip32Path(t Terminal) []uint32 {
	path := make([]uint32, 0, len(d.Origin.Path)+2)
	path = append(path, d.Origin.Path...)
	return append(path, uint32(t.Keychain), t.Index)
}

// RedeemScript returns the redeem script needed to spend a nested segwit
// output paying to the given key. It is nil for all other classes.
func (d *Descriptor) RedeemScript(pub *btcec.PublicKey) ([]byte, error) {
	if d.Class != NestedP2WPKH {
		return nil, nil
	}
	wpkh, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()), d.Net,
	)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(wpkh)
}

func (d *Descriptor) addrFromPubKey(pub *btcec.PublicKey,
	t Terminal) (DerivedAddr, error) {

	var (
		addr btcutil.Address
		err  error
	)
	switch d.Class {
	case P2PKH:
		addr, err = btcutil.NewAddressPubKeyHash(
			btcutil.Hash160(pub.SerializeCompressed()), d.Net,
		)

	case NestedP2WPKH:
		var redeem []byte
		redeem, err = d.RedeemScript(pub)
		if err != nil {
			return DerivedAddr{}, err
		}
		addr, err = btcutil.NewAddressScriptHash(redeem, d.Net)

	case P2WPKH:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(pub.SerializeCompressed()), d.Net,
		)

	case P2TR:
		outputKey := txscript.ComputeTaprootKeyNoScript(pub)
		addr, err = btcutil.NewAddressTaproot(
			schnorr.SerializePubKey(outputKey), d.Net,
		)

	default:
		return DerivedAddr{}, ErrUnknownClass
	}
	if err != nil {
		return DerivedAddr{}, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return DerivedAddr{}, err
	}

	return DerivedAddr{Addr: addr, Terminal: t, PkScript: pkScript}, nil
}

func childPubKey(branch *hdkeychain.ExtendedKey,
	index uint32) (*btcec.PublicKey, error) {

	child, err := branch.Derive(index)
	if err != nil {
		return nil, err
	}
	return child.ECPubKey()
}

// Addresses returns a lazy iterator over the addresses of a keychain,
// starting at index 0.
func (d *Descriptor) Addresses(k Keychain) *AddrIterator {
	return &AddrIterator{descr: d, keychain: k}
}

// String returns the descriptor in output descriptor notation, e.g.
// wpkh([d34db33f/84h/0h/0h]xpub.../<0;1>/*).
func (d *Descriptor) String() string {
	var key strings.Builder
	if len(d.Origin.Path) > 0 || d.Origin.MasterFingerprint != 0 {
		var fp [4]byte
		binary.LittleEndian.PutUint32(fp[:], d.Origin.MasterFingerprint)
		key.WriteString("[")
		key.WriteString(hex.EncodeToString(fp[:]))
		for _, p := range d.Origin.Path {
			key.WriteString("/")
			key.WriteString(formatPathElem(p))
		}
		key.WriteString("]")
	}
	key.WriteString(d.AccountKey.String())

	switch len(d.Keychains) {
	case 1:
		fmt.Fprintf(&key, "/%d/*", uint32(d.Keychains[0]))
	default:
		elems := make([]string, 0, len(d.Keychains))
		for _, k := range d.Keychains {
			elems = append(elems, strconv.FormatUint(uint64(k), 10))
		}
		fmt.Fprintf(&key, "/<%s>/*", strings.Join(elems, ";"))
	}

	switch d.Class {
	case NestedP2WPKH:
		return "sh(wpkh(" + key.String() + "))"
	default:
		return d.Class.String() + "(" + key.String() + ")"
	}
}

func formatPathElem(p uint32) string {
	if p >= hdkeychain.HardenedKeyStart {
		return strconv.FormatUint(uint64(p-hdkeychain.HardenedKeyStart),
			10) + "h"
	}
	return strconv.FormatUint(uint64(p), 10)
}

func parsePathElem(s string) (uint32, error) {
	hardened := strings.HasSuffix(s, "h") || strings.HasSuffix(s, "'") ||
		strings.HasSuffix(s, "H")
	if hardened {
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v >= hdkeychain.HardenedKeyStart {
		return 0, fmt.Errorf("%w: bad path element %q",
			ErrDescriptorFormat, s)
	}
	if hardened {
		v += hdkeychain.HardenedKeyStart
	}
	return uint32(v), nil
}

// ParseDescriptor parses a single key output descriptor of the form
// class([fingerprint/path]xpub/<0;1>/*). The origin and the keychain suffix
// are optional; without a suffix the default keychains are used.
func ParseDescriptor(s string, net *chaincfg.Params) (*Descriptor, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		// Drop the checksum.
		s = s[:i]
	}

	var (
		class AddrClass
		inner string
	)
	switch {
	case strings.HasPrefix(s, "sh(wpkh(") && strings.HasSuffix(s, "))"):
		class, inner = NestedP2WPKH, s[len("sh(wpkh("):len(s)-2]
	case strings.HasPrefix(s, "wpkh(") && strings.HasSuffix(s, ")"):
		class, inner = P2WPKH, s[len("wpkh("):len(s)-1]
	case strings.HasPrefix(s, "pkh(") && strings.HasSuffix(s, ")"):
		class, inner = P2PKH, s[len("pkh("):len(s)-1]
	case strings.HasPrefix(s, "tr(") && strings.HasSuffix(s, ")"):
		class, inner = P2TR, s[len("tr("):len(s)-1]
	default:
		return nil, fmt.Errorf("%w: unsupported script type in %q",
			ErrDescriptorFormat, s)
	}

	var origin KeyOrigin
	if strings.HasPrefix(inner, "[") {
		end := strings.IndexByte(inner, ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated key origin",
				ErrDescriptorFormat)
		}
		parts := strings.Split(inner[1:end], "/")
		fp, err := hex.DecodeString(parts[0])
		if err != nil || len(fp) != 4 {
			return nil, fmt.Errorf("%w: bad fingerprint %q",
				ErrDescriptorFormat, parts[0])
		}
		origin.MasterFingerprint = binary.LittleEndian.Uint32(fp)
		for _, p := range parts[1:] {
			elem, err := parsePathElem(p)
			if err != nil {
				return nil, err
			}
			origin.Path = append(origin.Path, elem)
		}
		inner = inner[end+1:]
	}

	keyStr, suffix, _ := strings.Cut(inner, "/")
	accountKey, err := hdkeychain.NewKeyFromString(keyStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDescriptorFormat, err)
	}

	var keychains []Keychain
	switch {
	case suffix == "":

	case strings.HasPrefix(suffix, "<") && strings.HasSuffix(suffix, ">/*"):
		for _, e := range strings.Split(suffix[1:len(suffix)-3], ";") {
			v, err := strconv.ParseUint(e, 10, 31)
			if err != nil {
				return nil, fmt.Errorf("%w: bad keychain %q",
					ErrDescriptorFormat, e)
			}
			keychains = append(keychains, Keychain(v))
		}

	case strings.HasSuffix(suffix, "/*"):
		v, err := strconv.ParseUint(suffix[:len(suffix)-2], 10, 31)
		if err != nil {
			return nil, fmt.Errorf("%w: bad keychain %q",
				ErrDescriptorFormat, suffix)
		}
		keychains = []Keychain{Keychain(v)}

	default:
		return nil, fmt.Errorf("%w: bad derivation suffix %q",
			ErrDescriptorFormat, suffix)
	}

	return NewDescriptor(class, accountKey, origin, keychains, net)
}
