// Package txtest builds signed transactions and contract fixtures for tests.
package txtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/transaction"
)

const (
	Passphrase  = "Standalone Network ; February 2017"
	DefaultFee  = 1_000_000
	ResourceFee = 100_000
)

// Wasm returns a minimal valid wasm module whose custom section carries name,
// so that different names give different code hashes.
func Wasm(name string) []byte {
	payload := append([]byte{byte(len(name))}, []byte(name)...)
	module := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	module = append(module, 0x00, byte(len(payload)))
	return append(module, payload...)
}

func UploadWasm(code []byte) xdr.HostFunction {
	return xdr.HostFunction{
		Type: xdr.HostFunctionTypeHostFunctionTypeUploadContractWasm,
		Wasm: &code,
	}
}

// FromAddressPreimage is the preimage of a contract deployed by deployer.
func FromAddressPreimage(deployer xdr.AccountId, salt byte) xdr.ContractIdPreimage {
	return xdr.ContractIdPreimage{
		Type: xdr.ContractIdPreimageTypeContractIdPreimageFromAddress,
		FromAddress: &xdr.ContractIdPreimageFromAddress{
			Address: xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeAccount, AccountId: &deployer},
			Salt:    xdr.Uint256{salt},
		},
	}
}

func CreateContract(preimage xdr.ContractIdPreimage, codeHash xdr.Hash) xdr.HostFunction {
	return xdr.HostFunction{
		Type: xdr.HostFunctionTypeHostFunctionTypeCreateContract,
		CreateContract: &xdr.CreateContractArgs{
			ContractIdPreimage: preimage,
			Executable: xdr.ContractExecutable{
				Type:     xdr.ContractExecutableTypeContractExecutableWasm,
				WasmHash: &codeHash,
			},
		},
	}
}

func InvokeContract(contractID xdr.ContractId, function string) xdr.HostFunction {
	return xdr.HostFunction{
		Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
		InvokeContract: &xdr.InvokeContractArgs{
			ContractAddress: xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &contractID},
			FunctionName:    xdr.ScSymbol(function),
		},
	}
}

// SorobanData declares the given footprint with generous resources.
func SorobanData(readOnly, readWrite []xdr.LedgerKey, restored ...uint32) *xdr.SorobanTransactionData {
	data := &xdr.SorobanTransactionData{
		Resources: xdr.SorobanResources{
			Footprint: xdr.LedgerFootprint{
				ReadOnly:  readOnly,
				ReadWrite: readWrite,
			},
			Instructions:  10_000_000,
			DiskReadBytes: 100_000,
			WriteBytes:    100_000,
		},
		ResourceFee: ResourceFee,
	}
	if len(restored) > 0 {
		indices := make([]xdr.Uint32, 0, len(restored))
		for _, idx := range restored {
			indices = append(indices, xdr.Uint32(idx))
		}
		data.Ext = xdr.SorobanTransactionDataExt{
			V:           1,
			ResourceExt: &xdr.SorobanResourcesExtV0{ArchivedSorobanEntries: indices},
		}
	}
	return data
}

// Tx describes a single invoke-host-function transaction.
type Tx struct {
	Source       *keypair.Full
	SeqNum       int64
	Fee          uint32
	HostFunction xdr.HostFunction
	Auth         []xdr.SorobanAuthorizationEntry
	SorobanData  *xdr.SorobanTransactionData
	TimeBounds   *xdr.TimeBounds
	// Signers sign the transaction in order. Defaults to Source.
	Signers []*keypair.Full
	// Unsigned skips signing altogether.
	Unsigned bool
}

func (tx Tx) Envelope(t testing.TB, passphrase string) xdr.TransactionEnvelope {
	t.Helper()
	fee := tx.Fee
	if fee == 0 {
		fee = DefaultFee
	}
	cond := xdr.Preconditions{Type: xdr.PreconditionTypePrecondNone}
	if tx.TimeBounds != nil {
		cond = xdr.Preconditions{Type: xdr.PreconditionTypePrecondTime, TimeBounds: tx.TimeBounds}
	}
	ext := xdr.TransactionExt{V: 0}
	if tx.SorobanData != nil {
		ext = xdr.TransactionExt{V: 1, SorobanData: tx.SorobanData}
	}
	env := xdr.TransactionEnvelope{
		Type: xdr.EnvelopeTypeEnvelopeTypeTx,
		V1: &xdr.TransactionV1Envelope{
			Tx: xdr.Transaction{
				SourceAccount: xdr.MustMuxedAddress(tx.Source.Address()),
				Fee:           xdr.Uint32(fee),
				SeqNum:        xdr.SequenceNumber(tx.SeqNum),
				Cond:          cond,
				Memo:          xdr.Memo{Type: xdr.MemoTypeMemoNone},
				Operations: []xdr.Operation{{
					Body: xdr.OperationBody{
						Type: xdr.OperationTypeInvokeHostFunction,
						InvokeHostFunctionOp: &xdr.InvokeHostFunctionOp{
							HostFunction: tx.HostFunction,
							Auth:         tx.Auth,
						},
					},
				}},
				Ext: ext,
			},
		},
	}
	if tx.Unsigned {
		return env
	}

	signers := tx.Signers
	if len(signers) == 0 {
		signers = []*keypair.Full{tx.Source}
	}
	txHash, err := transaction.Hash(env, ledger.NewInfo(passphrase, 0, 0, 0).NetworkID)
	require.NoError(t, err)
	for _, signer := range signers {
		sig, err := signer.SignDecorated(txHash[:])
		require.NoError(t, err)
		env.V1.Signatures = append(env.V1.Signatures, sig)
	}
	return env
}

func (tx Tx) Base64(t testing.TB, passphrase string) string {
	t.Helper()
	b64, err := xdr.MarshalBase64(tx.Envelope(t, passphrase))
	require.NoError(t, err)
	return b64
}

// Account returns a funded account entry for kp.
func Account(kp *keypair.Full, balance int64, seqNum int64) xdr.LedgerEntry {
	return xdr.LedgerEntry{
		Data: xdr.LedgerEntryData{
			Type: xdr.LedgerEntryTypeAccount,
			Account: &xdr.AccountEntry{
				AccountId:  xdr.MustAddress(kp.Address()),
				Balance:    xdr.Int64(balance),
				SeqNum:     xdr.SequenceNumber(seqNum),
				Thresholds: xdr.Thresholds{1, 0, 0, 0},
			},
		},
	}
}

// Event encodes a diagnostic event with a single symbol topic.
func Event(t testing.TB, eventType xdr.ContractEventType, contractID *xdr.ContractId, topic string) []byte {
	sym := xdr.ScSymbol(topic)
	data := xdr.Uint32(1)
	raw, err := xdr.DiagnosticEvent{
		InSuccessfulContractCall: true,
		Event: xdr.ContractEvent{
			ContractId: contractID,
			Type:       eventType,
			Body: xdr.ContractEventBody{
				V: 0,
				V0: &xdr.ContractEventV0{
					Topics: []xdr.ScVal{{Type: xdr.ScValTypeScvSymbol, Sym: &sym}},
					Data:   xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &data},
				},
			},
		},
	}.MarshalBinary()
	require.NoError(t, err)
	return raw
}
