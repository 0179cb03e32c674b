// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/idxwallet/netparams"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	typeDescriptorClass       tlv.Type = 1
	typeDescriptorAccountKey  tlv.Type = 2
	typeDescriptorFingerprint tlv.Type = 3
	typeDescriptorOriginPath  tlv.Type = 4
	typeDescriptorKeychains   tlv.Type = 5
	typeDescriptorNet         tlv.Type = 6
)

// knownNets are the networks a stored descriptor may refer to by name.
var knownNets = []*chaincfg.Params{
	&chaincfg.MainNetParams,
	&chaincfg.TestNet3Params,
	&netparams.TestNet4ChainParams,
	&chaincfg.RegressionNetParams,
	&chaincfg.SimNetParams,
	&chaincfg.SigNetParams,
}

func netByName(name string) (*chaincfg.Params, error) {
	for _, net := range knownNets {
		if net.Name == name {
			return net, nil
		}
	}
	return nil, fmt.Errorf("unknown network %q", name)
}

// EncodeDescriptor serializes a descriptor as a TLV stream.
func EncodeDescriptor(d *Descriptor) ([]byte, error) {
	if d == nil {
		return nil, errors.New("cannot encode nil descriptor")
	}

	class := uint8(d.Class)
	accountKey := []byte(d.AccountKey.String())
	fingerprint := d.Origin.MasterFingerprint
	netName := []byte(d.Net.Name)

	keychains := make([]uint32, 0, len(d.Keychains))
	for _, k := range d.Keychains {
		keychains = append(keychains, uint32(k))
	}

	tlvRecords := []tlv.Record{
		tlv.MakePrimitiveRecord(typeDescriptorClass, &class),
		tlv.MakePrimitiveRecord(typeDescriptorAccountKey, &accountKey),
		tlv.MakePrimitiveRecord(typeDescriptorFingerprint, &fingerprint),
	}
	if len(d.Origin.Path) > 0 {
		tlvRecords = append(tlvRecords, uint32sRecord(
			typeDescriptorOriginPath, &d.Origin.Path,
		))
	}
	tlvRecords = append(tlvRecords,
		uint32sRecord(typeDescriptorKeychains, &keychains),
		tlv.MakePrimitiveRecord(typeDescriptorNet, &netName),
	)

	tlvStream, err := tlv.NewStream(tlvRecords...)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tlvStream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeDescriptor parses a descriptor serialized by EncodeDescriptor.
func DecodeDescriptor(tlvData []byte) (*Descriptor, error) {
	var (
		class       uint8
		accountKey  []byte
		fingerprint uint32
		originPath  []uint32
		keychains   []uint32
		netName     []byte
	)

	tlvStream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeDescriptorClass, &class),
		tlv.MakePrimitiveRecord(typeDescriptorAccountKey, &accountKey),
		tlv.MakePrimitiveRecord(typeDescriptorFingerprint, &fingerprint),
		uint32sRecord(typeDescriptorOriginPath, &originPath),
		uint32sRecord(typeDescriptorKeychains, &keychains),
		tlv.MakePrimitiveRecord(typeDescriptorNet, &netName),
	)
	if err != nil {
		return nil, err
	}

	parsedTypes, err := tlvStream.DecodeWithParsedTypes(
		bytes.NewReader(tlvData),
	)
	if err != nil {
		return nil, err
	}
	if _, ok := parsedTypes[typeDescriptorAccountKey]; !ok {
		return nil, errors.New("descriptor is missing account key")
	}

	net, err := netByName(string(netName))
	if err != nil {
		return nil, err
	}
	key, err := hdkeychain.NewKeyFromString(string(accountKey))
	if err != nil {
		return nil, fmt.Errorf("error decoding account key: %v", err)
	}

	kcs := make([]Keychain, 0, len(keychains))
	for _, k := range keychains {
		kcs = append(kcs, Keychain(k))
	}

	return NewDescriptor(AddrClass(class), key, KeyOrigin{
		MasterFingerprint: fingerprint,
		Path:              originPath,
	}, kcs, net)
}

func uint32sRecord(typ tlv.Type, v *[]uint32) tlv.Record {
	return tlv.MakeDynamicRecord(
		typ, v, func() uint64 {
			return uint64(4 * len(*v))
		}, uint32sEncoder, uint32sDecoder,
	)
}

// uint32sEncoder is a custom TLV encoder for a slice of uint32 values.
func uint32sEncoder(w io.Writer, val interface{}, buf *[8]byte) error {
	if v, ok := val.(*[]uint32); ok {
		for _, e := range *v {
			binary.BigEndian.PutUint32(buf[:4], e)
			if _, err := w.Write(buf[:4]); err != nil {
				return err
			}
		}
		return nil
	}

	return tlv.NewTypeForEncodingErr(val, "[]uint32")
}

// uint32sDecoder is a custom TLV decoder for a slice of uint32 values.
func uint32sDecoder(r io.Reader, val interface{}, buf *[8]byte,
	l uint64) error {

	if v, ok := val.(*[]uint32); ok && l%4 == 0 {
		elems := make([]uint32, 0, l/4)
		for i := uint64(0); i < l/4; i++ {
			if _, err := io.ReadFull(r, buf[:4]); err != nil {
				return err
			}
			elems = append(elems, binary.BigEndian.Uint32(buf[:4]))
		}
		*v = elems
		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "[]uint32", l, l-l%4)
}
