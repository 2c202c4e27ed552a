// Package engine defines the boundary between the sandbox and the contract
// execution engine. Values cross it in their XDR encoding.
package engine

import (
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
)

// Engine executes host functions. InvokeHostFunction is the authoritative,
// enforcing mode used on submission; SimulateHostFunction runs in recording
// mode, inferring the footprint and authorization instead of requiring them.
//
// Neither call mutates ledger state: changes are returned for the caller to
// apply.
type Engine interface {
	InvokeHostFunction(params InvokeParams) (InvokeResult, error)
	SimulateHostFunction(params RecordingParams) (RecordingResult, error)
}

// SnapshotSource is the read interface the engine uses in recording mode.
// *ledger.Store implements it.
type SnapshotSource interface {
	Get(key xdr.LedgerKey) (ledger.Entry, bool, error)
}

type InvokeParams struct {
	Budget            *Budget
	EnableDiagnostics bool
	// HostFunction is an encoded xdr.HostFunction.
	HostFunction []byte
	// Resources is an encoded xdr.SorobanResources.
	Resources            []byte
	RestoredEntryIndices []uint32
	// SourceAccount is an encoded xdr.AccountId.
	SourceAccount []byte
	// AuthEntries are encoded xdr.SorobanAuthorizationEntry values.
	AuthEntries [][]byte
	LedgerInfo  ledger.Info
	// LedgerEntries are the encoded xdr.LedgerEntry values found for the
	// footprint. Keys missing from the store are absent.
	LedgerEntries [][]byte
	// TTLEntries are encoded xdr.TtlEntry values for the evictable entries
	// that carry a live-until ledger.
	TTLEntries  [][]byte
	PRNGSeed    [32]byte
	ModuleCache *ModuleCache
}

type InvokeResult struct {
	// Result is the encoded xdr.ScVal returned by the host function. It is
	// empty when InvokeError is set.
	Result      []byte
	InvokeError error
	// LedgerChanges has one element per footprint key.
	LedgerChanges []LedgerEntryChange
	// ContractEvents are encoded xdr.ContractEvent values.
	ContractEvents [][]byte
	// DiagnosticEvents are encoded xdr.DiagnosticEvent values.
	DiagnosticEvents [][]byte
}

// Successful reports whether the host function completed.
func (r InvokeResult) Successful() bool {
	return r.InvokeError == nil
}

type LedgerEntryChange struct {
	ReadOnly bool
	// EncodedKey is an encoded xdr.LedgerKey.
	EncodedKey []byte
	// EncodedNewValue is the encoded xdr.LedgerEntry after the call. It is
	// nil when the entry was deleted or, for read-only keys, not written.
	EncodedNewValue []byte
	TTLChange       *TTLChange
}

type TTLChange struct {
	OldLiveUntilLedger uint32
	NewLiveUntilLedger uint32
}

type RecordingParams struct {
	Snapshot          SnapshotSource
	NetworkConfig     NetworkConfig
	LedgerInfo        ledger.Info
	EnableDiagnostics bool
	// HostFunction is an encoded xdr.HostFunction.
	HostFunction []byte
	// SourceAccount is an encoded xdr.AccountId.
	SourceAccount []byte
	PRNGSeed      [32]byte
}

// XDRDiff is an entry before and after a simulated call. Either side is
// empty when the entry did not exist.
type XDRDiff struct {
	Before []byte
	After  []byte
}

type RecordingResult struct {
	// Error is the host function failure, if any. When set, only the events
	// are meaningful.
	Error string
	// Result is the encoded xdr.ScVal return value.
	Result []byte
	// Auth are the inferred encoded xdr.SorobanAuthorizationEntry values.
	Auth [][]byte
	// TransactionData is the encoded xdr.SorobanTransactionData describing
	// the inferred footprint and resources.
	TransactionData  []byte
	MinFee           int64
	LedgerEntryDiff  []XDRDiff
	ContractEvents   [][]byte
	DiagnosticEvents [][]byte
}
