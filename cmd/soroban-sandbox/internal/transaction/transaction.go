package transaction

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/hash"
	"github.com/stellar/go-stellar-sdk/xdr"
)

// DecodeError reports transaction input that is malformed or that this
// sandbox does not support. It is fatal to the call; nothing is mutated.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrMissingSorobanData is returned when a submitted transaction declares no
// footprint or resources.
var ErrMissingSorobanData = &DecodeError{Reason: "transaction has no soroban transaction data"}

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// Decode parses a base64 encoded transaction envelope.
func Decode(envelopeB64 string) (xdr.TransactionEnvelope, error) {
	var env xdr.TransactionEnvelope
	if err := xdr.SafeUnmarshalBase64(envelopeB64, &env); err != nil {
		return xdr.TransactionEnvelope{}, &DecodeError{Reason: "could not unmarshal transaction envelope", Err: err}
	}
	return env, nil
}

// Invocation is the single invoke-host-function operation of a V1 envelope,
// together with the transaction fields validation and execution consume.
type Invocation struct {
	Envelope     xdr.TransactionEnvelope
	Source       xdr.AccountId
	Fee          uint32
	SeqNum       int64
	TimeBounds   *xdr.TimeBounds
	HasV2Cond    bool
	HostFunction xdr.HostFunction
	Auth         []xdr.SorobanAuthorizationEntry
	// SorobanData is nil when the envelope carries no resource extension,
	// which is only acceptable for simulation.
	SorobanData *xdr.SorobanTransactionData
	Signatures  []xdr.DecoratedSignature
}

// Parse extracts the invocation from env. Only V1 envelopes with exactly one
// invoke-host-function operation are supported.
func Parse(env xdr.TransactionEnvelope) (Invocation, error) {
	if env.Type != xdr.EnvelopeTypeEnvelopeTypeTx || env.V1 == nil {
		return Invocation{}, decodeErrorf("unsupported envelope type %s", env.Type.String())
	}
	tx := env.V1.Tx
	if len(tx.Operations) != 1 {
		return Invocation{}, decodeErrorf("transaction must contain exactly one operation, got %d", len(tx.Operations))
	}
	op := tx.Operations[0]
	invoke, ok := op.Body.GetInvokeHostFunctionOp()
	if !ok {
		return Invocation{}, decodeErrorf("unsupported operation type %s", op.Body.Type.String())
	}

	source := tx.SourceAccount.ToAccountId()
	if op.SourceAccount != nil {
		opSource := op.SourceAccount.ToAccountId()
		if !opSource.Equals(source) {
			return Invocation{}, decodeErrorf("operation source account must match the transaction source account")
		}
	}

	inv := Invocation{
		Envelope:     env,
		Source:       source,
		Fee:          uint32(tx.Fee),
		SeqNum:       int64(tx.SeqNum),
		HostFunction: invoke.HostFunction,
		Auth:         invoke.Auth,
		Signatures:   env.V1.Signatures,
	}
	switch tx.Cond.Type {
	case xdr.PreconditionTypePrecondTime:
		inv.TimeBounds = tx.Cond.TimeBounds
	case xdr.PreconditionTypePrecondV2:
		inv.HasV2Cond = true
	}
	if data, ok := tx.Ext.GetSorobanData(); ok {
		inv.SorobanData = &data
		readWrite := len(data.Resources.Footprint.ReadWrite)
		for _, idx := range inv.RestoredEntryIndices() {
			if int(idx) >= readWrite {
				return Invocation{}, decodeErrorf(
					"restored entry index %d is out of range for %d read-write keys", idx, readWrite,
				)
			}
		}
	}
	return inv, nil
}

// RestoredEntryIndices returns the read-write footprint indices the
// transaction restores from archival.
func (i Invocation) RestoredEntryIndices() []uint32 {
	if i.SorobanData == nil || i.SorobanData.Ext.ResourceExt == nil {
		return nil
	}
	indices := make([]uint32, 0, len(i.SorobanData.Ext.ResourceExt.ArchivedSorobanEntries))
	for _, idx := range i.SorobanData.Ext.ResourceExt.ArchivedSorobanEntries {
		indices = append(indices, uint32(idx))
	}
	return indices
}

// ResourceFee returns the declared resource fee, or 0 without Soroban data.
func (i Invocation) ResourceFee() int64 {
	if i.SorobanData == nil {
		return 0
	}
	return int64(i.SorobanData.ResourceFee)
}

// Hash returns the signature payload hash of env for the given network. The
// payload excludes signatures, so re-signing an envelope keeps its hash.
func Hash(env xdr.TransactionEnvelope, networkID [32]byte) ([32]byte, error) {
	if env.Type != xdr.EnvelopeTypeEnvelopeTypeTx || env.V1 == nil {
		return [32]byte{}, decodeErrorf("unsupported envelope type %s", env.Type.String())
	}
	payload := xdr.TransactionSignaturePayload{
		NetworkId: xdr.Hash(networkID),
		TaggedTransaction: xdr.TransactionSignaturePayloadTaggedTransaction{
			Type: xdr.EnvelopeTypeEnvelopeTypeTx,
			Tx:   &env.V1.Tx,
		},
	}
	raw, err := payload.MarshalBinary()
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "could not marshal transaction signature payload")
	}
	return hash.Hash(raw), nil
}

// HashHex is Hash, hex encoded. This is the transaction's external identifier.
func HashHex(env xdr.TransactionEnvelope, networkID [32]byte) (string, error) {
	h, err := Hash(env, networkID)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}
