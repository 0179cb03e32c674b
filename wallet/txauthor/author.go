// Copyright (c) 2016-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txauthor provides transaction creation code for wallets.
package txauthor

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/idxwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// TxParams are the parameters of a transaction besides its inputs and
// outputs.
type TxParams struct {
	// Fee is the absolute fee paid by the transaction.
	Fee btcutil.Amount

	// LockTime is the transaction lock time. None means zero.
	LockTime fn.Option[uint32]

	// Sequence is the sequence number of every input.
	Sequence uint32

	// ChangeShift advances the change index once the transaction is
	// built, so the next transaction uses a fresh change address.
	ChangeShift bool
}

// DefaultTxParams returns parameters paying fee with a zero sequence and
// change index shifting enabled.
func DefaultTxParams(fee btcutil.Amount) TxParams {
	return TxParams{
		Fee:         fee,
		LockTime:    fn.None[uint32](),
		ChangeShift: true,
	}
}

// Input is a wallet coin to spend.
type Input struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte

	// Terminal is the derivation position of the key controlling the
	// coin.
	Terminal waddrmgr.Terminal

	// PrevTx is the transaction creating the coin, if known. Legacy
	// inputs can only be signed when it is present.
	PrevTx *wire.MsgTx
}

// ChangeSource provides the change address of a transaction.
type ChangeSource struct {
	// DustLimit is the largest remainder that is given up as fee instead
	// of creating a change output.
	DustLimit btcutil.Amount

	// NewChange returns the address to send change to. It is only called
	// when a change output is created and must not reserve the address.
	NewChange func() (waddrmgr.DerivedAddr, error)
}

// AuthoredPsbt holds a newly created unsigned transaction.
type AuthoredPsbt struct {
	Packet *psbt.Packet

	// ChangeIndex is the index of the change output, negative if there
	// is none.
	ChangeIndex int

	// ChangeAddr is the address of the change output.
	ChangeAddr fn.Option[waddrmgr.DerivedAddr]

	// Fee is the effective fee, including any remainder given up to the
	// miner.
	Fee btcutil.Amount

	// VSize is the estimated virtual size of the signed transaction.
	VSize int
}

// ChangeTerminal returns the terminal of the change output, if any.
func (a *AuthoredPsbt) ChangeTerminal() fn.Option[waddrmgr.Terminal] {
	return fn.MapOption(func(addr waddrmgr.DerivedAddr) waddrmgr.Terminal {
		return addr.Terminal
	})(a.ChangeAddr)
}

// checkAmount makes sure a value is within the range of bitcoin amounts.
func checkAmount(v btcutil.Amount) error {
	if v < 0 || v > btcutil.MaxSatoshi {
		return fmt.Errorf("%w: %v", ErrOverflow, v)
	}
	return nil
}

// checkOutput applies the relay rules to a fixed output. Out of range values
// fail the construction while dust only warrants a warning.
func checkOutput(txOut *wire.TxOut) error {
	err := txrules.CheckOutput(txOut, txrules.DefaultRelayFeePerKb)
	switch {
	case errors.Is(err, txrules.ErrOutputIsDust):
		log.Warnf("Output of %v is dust", btcutil.Amount(txOut.Value))
		return nil

	case err != nil:
		return fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	return nil
}

// NewUnsignedPsbt builds an unsigned transaction spending every input and
// paying every beneficiary.
//
// Fixed beneficiaries receive their amount. What remains after the fixed
// outputs and the fee is split evenly between the MAX beneficiaries; the
// remainder of that division goes to the miner. Without MAX beneficiaries a
// remainder above the dust limit of the change source is sent to a change
// output appended last, and a smaller one goes to the miner.
//
// Construction either succeeds or returns an error without side effects.
func NewUnsignedPsbt(descr *waddrmgr.Descriptor, inputs []Input,
	beneficiaries []Beneficiary, params TxParams,
	change *ChangeSource) (*AuthoredPsbt, error) {

	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if err := checkAmount(params.Fee); err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.LockTime = params.LockTime.UnwrapOr(0)

	var inputValue btcutil.Amount
	for _, in := range inputs {
		txIn := wire.NewTxIn(&in.OutPoint, nil, nil)
		txIn.Sequence = params.Sequence
		tx.AddTxIn(txIn)

		inputValue += in.Value
		if err := checkAmount(inputValue); err != nil {
			return nil, err
		}
	}

	var (
		outputValue btcutil.Amount
		maxOutputs  []int
	)
	for _, b := range beneficiaries {
		txOut := wire.NewTxOut(int64(b.Amount.Sats()), b.PkScript)
		if b.Amount.IsMax() {
			maxOutputs = append(maxOutputs, len(tx.TxOut))
		} else if err := checkOutput(txOut); err != nil {
			return nil, err
		}
		tx.AddTxOut(txOut)

		outputValue += b.Amount.Sats()
		if err := checkAmount(outputValue); err != nil {
			return nil, err
		}
	}

	if inputValue < outputValue {
		return nil, &OutputExceedsInputsError{
			Input:  inputValue,
			Output: outputValue,
		}
	}
	remaining := inputValue - outputValue - params.Fee
	if remaining < 0 {
		return nil, &NoFundsForFeeError{
			Input:  inputValue,
			Output: outputValue,
			Fee:    params.Fee,
		}
	}

	authored := &AuthoredPsbt{
		ChangeIndex: -1,
		ChangeAddr:  fn.None[waddrmgr.DerivedAddr](),
	}

	switch {
	case len(maxOutputs) > 0:
		share := remaining / btcutil.Amount(len(maxOutputs))
		for _, idx := range maxOutputs {
			tx.TxOut[idx].Value = int64(share)
		}
		if share <= descr.DustLimit() {
			log.Warnf("Each of %d outputs paying the maximum "+
				"receives only %v", len(maxOutputs), share)
		}

	case change != nil && remaining > change.DustLimit:
		addr, err := change.NewChange()
		if err != nil {
			return nil, fmt.Errorf("unable to derive change "+
				"address: %w", err)
		}
		authored.ChangeIndex = len(tx.TxOut)
		authored.ChangeAddr = fn.Some(addr)
		tx.AddTxOut(wire.NewTxOut(int64(remaining), addr.PkScript))
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	for i, in := range inputs {
		if err := decorateInput(&packet.Inputs[i], descr, in); err != nil {
			return nil, err
		}
	}
	if authored.ChangeIndex >= 0 {
		addr := authored.ChangeAddr.UnwrapOr(waddrmgr.DerivedAddr{})
		err := decorateOutput(
			&packet.Outputs[authored.ChangeIndex], descr, addr,
		)
		if err != nil {
			return nil, err
		}
	}

	var totalOut btcutil.Amount
	for _, txOut := range tx.TxOut {
		totalOut += btcutil.Amount(txOut.Value)
	}

	authored.Packet = packet
	authored.Fee = inputValue - totalOut
	authored.VSize = estimateVSize(descr.Class, len(inputs), tx.TxOut)

	log.Debugf("Constructed transaction %v spending %v with fee %v",
		tx.TxHash(), inputValue, authored.Fee)

	return authored, nil
}

// estimateVSize estimates the size of the signed transaction, with every
// input of the descriptor's class.
func estimateVSize(class waddrmgr.AddrClass, numInputs int,
	txOuts []*wire.TxOut) int {

	var p2pkh, p2tr, p2wpkh, nested int
	switch class {
	case waddrmgr.P2PKH:
		p2pkh = numInputs
	case waddrmgr.P2TR:
		p2tr = numInputs
	case waddrmgr.NestedP2WPKH:
		nested = numInputs
	default:
		p2wpkh = numInputs
	}
	return txsizes.EstimateVirtualSize(p2pkh, p2tr, p2wpkh, nested, txOuts, 0)
}

// derivation returns the BIP32 derivation record of the key at terminal t.
func derivation(descr *waddrmgr.Descriptor,
	t waddrmgr.Terminal) (*psbt.Bip32Derivation, []byte, error) {

	pub, err := descr.PubKey(t)
	if err != nil {
		return nil, nil, err
	}
	redeemScript, err := descr.RedeemScript(pub)
	if err != nil {
		return nil, nil, err
	}
	return &psbt.Bip32Derivation{
		PubKey:               pub.SerializeCompressed(),
		MasterKeyFingerprint: descr.Origin.MasterFingerprint,
		Bip32Path:            descr.Bip32Path(t),
	}, redeemScript, nil
}

func taprootDerivation(d *psbt.Bip32Derivation) *psbt.TaprootBip32Derivation {
	return &psbt.TaprootBip32Derivation{
		XOnlyPubKey:          d.PubKey[1:],
		MasterKeyFingerprint: d.MasterKeyFingerprint,
		Bip32Path:            d.Bip32Path,
	}
}

// decorateInput adds what a signer needs to sign the input: the spent
// output, the sighash type and the key derivation.
func decorateInput(pIn *psbt.PInput, descr *waddrmgr.Descriptor,
	in Input) error {

	info, redeemScript, err := derivation(descr, in.Terminal)
	if err != nil {
		return fmt.Errorf("unable to derive key for input %v: %w",
			in.OutPoint, err)
	}
	utxo := &wire.TxOut{
		Value:    int64(in.Value),
		PkScript: in.PkScript,
	}
	pIn.Bip32Derivation = []*psbt.Bip32Derivation{info}

	switch descr.Class {
	case waddrmgr.P2TR:
		pIn.WitnessUtxo = utxo
		pIn.SighashType = txscript.SigHashDefault
		pIn.TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{
			taprootDerivation(info),
		}
		pIn.TaprootInternalKey = info.PubKey[1:]

	case waddrmgr.P2PKH:
		pIn.NonWitnessUtxo = in.PrevTx
		pIn.SighashType = txscript.SigHashAll

	default:
		// Segwit v0 signers need the full previous transaction to
		// verify the spent amount.
		pIn.NonWitnessUtxo = in.PrevTx
		pIn.WitnessUtxo = utxo
		pIn.SighashType = txscript.SigHashAll
		pIn.RedeemScript = redeemScript
	}

	return nil
}

// decorateOutput marks an output as belonging to the wallet.
func decorateOutput(pOut *psbt.POutput, descr *waddrmgr.Descriptor,
	addr waddrmgr.DerivedAddr) error {

	info, redeemScript, err := derivation(descr, addr.Terminal)
	if err != nil {
		return fmt.Errorf("unable to derive change key: %w", err)
	}
	pOut.Bip32Derivation = []*psbt.Bip32Derivation{info}
	pOut.RedeemScript = redeemScript

	if descr.Class == waddrmgr.P2TR {
		pOut.TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{
			taprootDerivation(info),
		}
		pOut.TaprootInternalKey = info.PubKey[1:]
	}

	return nil
}
