// Package executor prepares execution engine inputs from the ledger, runs
// host functions and applies the resulting ledger changes.
package executor

import (
	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/engine"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/transaction"
)

// moduleCacheSize bounds the modules compiled ahead of one invocation. A
// footprint rarely references more than a handful of code entries.
const moduleCacheSize = 64

// Executor runs host functions against a ledger store. It is not safe for
// concurrent use.
type Executor struct {
	engine            engine.Engine
	store             *ledger.Store
	logger            *log.Entry
	enableDiagnostics bool
}

func New(eng engine.Engine, store *ledger.Store, logger *log.Entry, enableDiagnostics bool) *Executor {
	return &Executor{
		engine:            eng,
		store:             store,
		logger:            logger,
		enableDiagnostics: enableDiagnostics,
	}
}

// Call is a host function invocation with its declared resources.
type Call struct {
	HostFunction xdr.HostFunction
	Source       xdr.AccountId
	Auth         []xdr.SorobanAuthorizationEntry
	SorobanData  xdr.SorobanTransactionData
	PRNGSeed     [32]byte
}

// RestoredEntryIndices returns the read-write footprint indices restored by the call.
func (c Call) RestoredEntryIndices() []uint32 {
	if c.SorobanData.Ext.ResourceExt == nil {
		return nil
	}
	indices := make([]uint32, 0, len(c.SorobanData.Ext.ResourceExt.ArchivedSorobanEntries))
	for _, idx := range c.SorobanData.Ext.ResourceExt.ArchivedSorobanEntries {
		indices = append(indices, uint32(idx))
	}
	return indices
}

type ExecutionResult struct {
	// Error is the failure reported by the engine, or the reason its ledger
	// changes were rejected. It is nil on success.
	Error error
	// FeeCharged is the fee declared by the envelope.
	FeeCharged int64
	// ReturnValue is the encoded xdr.ScVal, set on success only.
	ReturnValue      []byte
	ContractEvents   []xdr.ContractEvent
	DiagnosticEvents []xdr.DiagnosticEvent
	// AppliedChanges is the number of ledger changes written to the store.
	AppliedChanges int
}

func (r ExecutionResult) Successful() bool {
	return r.Error == nil
}

// Events returns the contract events followed by the diagnostic events, each
// tagged with whether it was emitted inside a successful call.
func (r ExecutionResult) Events() []xdr.DiagnosticEvent {
	events := make([]xdr.DiagnosticEvent, 0, len(r.ContractEvents)+len(r.DiagnosticEvents))
	for _, event := range r.ContractEvents {
		events = append(events, xdr.DiagnosticEvent{InSuccessfulContractCall: r.Successful(), Event: event})
	}
	return append(events, r.DiagnosticEvents...)
}

// Simulate runs the invocation in recording mode against the current ledger.
// The store is never modified.
func (e *Executor) Simulate(inv transaction.Invocation, info ledger.Info) (engine.RecordingResult, error) {
	seed, err := transaction.Hash(inv.Envelope, info.NetworkID)
	if err != nil {
		return engine.RecordingResult{}, err
	}
	return e.SimulateHostFunction(inv.HostFunction, inv.Source, info, seed)
}

func (e *Executor) SimulateHostFunction(
	hf xdr.HostFunction,
	source xdr.AccountId,
	info ledger.Info,
	seed [32]byte,
) (engine.RecordingResult, error) {
	cfg, err := engine.NetworkConfigFromLedger(e.store, info)
	if err != nil {
		return engine.RecordingResult{}, err
	}
	encodedHF, err := hf.MarshalBinary()
	if err != nil {
		return engine.RecordingResult{}, errors.Wrap(err, "could not marshal host function")
	}
	encodedSource, err := source.MarshalBinary()
	if err != nil {
		return engine.RecordingResult{}, errors.Wrap(err, "could not marshal source account")
	}
	result, err := e.engine.SimulateHostFunction(engine.RecordingParams{
		Snapshot:          e.store,
		NetworkConfig:     cfg,
		LedgerInfo:        info,
		EnableDiagnostics: e.enableDiagnostics,
		HostFunction:      encodedHF,
		SourceAccount:     encodedSource,
		PRNGSeed:          seed,
	})
	if err != nil {
		return engine.RecordingResult{}, errors.Wrap(err, "engine simulation failed")
	}
	return result, nil
}

// Execute runs a parsed transaction in enforcing mode and applies the ledger
// changes the engine returns. Engine failures are reported in the result;
// the returned error is reserved for inputs that could not be prepared.
func (e *Executor) Execute(inv transaction.Invocation, info ledger.Info) (ExecutionResult, error) {
	result, pending, err := e.Stage(inv, info)
	if err != nil {
		return ExecutionResult{}, err
	}
	pending.Commit()
	return result, nil
}

// Stage is Execute without the final commit: the ledger changes are left on
// the returned write transaction, so the caller can add its own writes and
// commit them together.
func (e *Executor) Stage(inv transaction.Invocation, info ledger.Info) (ExecutionResult, *ledger.WriteTx, error) {
	if inv.SorobanData == nil {
		return ExecutionResult{}, nil, transaction.ErrMissingSorobanData
	}
	seed, err := transaction.Hash(inv.Envelope, info.NetworkID)
	if err != nil {
		return ExecutionResult{}, nil, err
	}
	result, pending, err := e.invoke(Call{
		HostFunction: inv.HostFunction,
		Source:       inv.Source,
		Auth:         inv.Auth,
		SorobanData:  *inv.SorobanData,
		PRNGSeed:     seed,
	}, info)
	if err != nil {
		return ExecutionResult{}, nil, err
	}
	result.FeeCharged = int64(inv.Fee)
	return result, pending, nil
}

// Invoke runs call in enforcing mode and applies its ledger changes, also
// when the engine reports a failure.
func (e *Executor) Invoke(call Call, info ledger.Info) (ExecutionResult, error) {
	result, pending, err := e.invoke(call, info)
	if err != nil {
		return ExecutionResult{}, err
	}
	pending.Commit()
	return result, nil
}

func (e *Executor) invoke(call Call, info ledger.Info) (ExecutionResult, *ledger.WriteTx, error) {
	footprint := call.SorobanData.Resources.Footprint
	restored := call.RestoredEntryIndices()

	params, err := e.prepare(call, info, restored)
	if err != nil {
		return ExecutionResult{}, nil, err
	}
	invokeResult, err := e.engine.InvokeHostFunction(params)
	if err != nil {
		return ExecutionResult{}, nil, errors.Wrap(err, "engine invocation failed")
	}

	var result ExecutionResult
	if result.ContractEvents, err = decodeAll[xdr.ContractEvent](invokeResult.ContractEvents); err != nil {
		return ExecutionResult{}, nil, err
	}
	if result.DiagnosticEvents, err = decodeAll[xdr.DiagnosticEvent](invokeResult.DiagnosticEvents); err != nil {
		return ExecutionResult{}, nil, err
	}

	pending, applyErr := StageLedgerChanges(e.store, footprint, invokeResult.LedgerChanges)
	switch {
	case invokeResult.InvokeError != nil:
		result.Error = invokeResult.InvokeError
	case applyErr != nil:
		result.Error = applyErr
	default:
		result.ReturnValue = invokeResult.Result
	}
	if applyErr != nil {
		e.logger.WithError(applyErr).Warn("rejected ledger changes returned by the engine")
		pending = e.store.NewWriteTx(0)
	}
	result.AppliedChanges = pending.Len()
	e.logger.WithField("changes", result.AppliedChanges).
		WithField("successful", result.Successful()).
		Debug("host function executed")
	return result, pending, nil
}

// prepare resolves the footprint against the store and encodes the engine
// inputs.
func (e *Executor) prepare(call Call, info ledger.Info, restored []uint32) (engine.InvokeParams, error) {
	footprint := call.SorobanData.Resources.Footprint
	cfg, err := engine.NetworkConfigFromLedger(e.store, info)
	if err != nil {
		return engine.InvokeParams{}, err
	}
	modules, err := engine.NewModuleCache(moduleCacheSize)
	if err != nil {
		return engine.InvokeParams{}, err
	}

	params := engine.InvokeParams{
		// metering fidelity belongs to the engine
		Budget:               engine.UnlimitedBudget(cfg.CPUCostParams, cfg.MemoryCostParams),
		EnableDiagnostics:    e.enableDiagnostics,
		RestoredEntryIndices: restored,
		LedgerInfo:           info,
		PRNGSeed:             call.PRNGSeed,
		ModuleCache:          modules,
	}
	if params.HostFunction, err = call.HostFunction.MarshalBinary(); err != nil {
		return engine.InvokeParams{}, errors.Wrap(err, "could not marshal host function")
	}
	if params.Resources, err = call.SorobanData.Resources.MarshalBinary(); err != nil {
		return engine.InvokeParams{}, errors.Wrap(err, "could not marshal resources")
	}
	if params.SourceAccount, err = call.Source.MarshalBinary(); err != nil {
		return engine.InvokeParams{}, errors.Wrap(err, "could not marshal source account")
	}
	for _, auth := range call.Auth {
		raw, err := auth.MarshalBinary()
		if err != nil {
			return engine.InvokeParams{}, errors.Wrap(err, "could not marshal authorization entry")
		}
		params.AuthEntries = append(params.AuthEntries, raw)
	}

	restoredKeys := make(map[string]bool, len(restored))
	for _, idx := range restored {
		if int(idx) >= len(footprint.ReadWrite) {
			return engine.InvokeParams{}, errors.Errorf("restored entry index %d is out of range", idx)
		}
		k, err := ledger.EncodeKey(footprint.ReadWrite[idx])
		if err != nil {
			return engine.InvokeParams{}, err
		}
		restoredKeys[k] = true
	}

	keys := make([]xdr.LedgerKey, 0, len(footprint.ReadOnly)+len(footprint.ReadWrite))
	keys = append(keys, footprint.ReadOnly...)
	keys = append(keys, footprint.ReadWrite...)
	for _, key := range keys {
		entry, ok, err := e.store.Get(key)
		if err != nil {
			return engine.InvokeParams{}, err
		}
		if !ok {
			continue
		}
		raw, err := entry.Entry.MarshalBinary()
		if err != nil {
			return engine.InvokeParams{}, errors.Wrap(err, "could not marshal ledger entry")
		}
		params.LedgerEntries = append(params.LedgerEntries, raw)

		if ledger.IsEvictable(key.Type) && entry.LiveUntilLedgerSeq != nil {
			keyHash, err := ledger.TTLKeyHash(key)
			if err != nil {
				return engine.InvokeParams{}, err
			}
			rawTTL, err := xdr.TtlEntry{
				KeyHash:            keyHash,
				LiveUntilLedgerSeq: xdr.Uint32(*entry.LiveUntilLedgerSeq),
			}.MarshalBinary()
			if err != nil {
				return engine.InvokeParams{}, errors.Wrap(err, "could not marshal ttl entry")
			}
			params.TTLEntries = append(params.TTLEntries, rawTTL)
		}

		code, ok := entry.Entry.Data.GetContractCode()
		if !ok {
			continue
		}
		k, err := ledger.EncodeKey(key)
		if err != nil {
			return engine.InvokeParams{}, err
		}
		// restored code is compiled by the engine during the call
		if restoredKeys[k] {
			continue
		}
		if _, err := modules.ParseAndCache(code.Code, nil); err != nil {
			e.logger.WithError(err).WithField("hash", code.Hash.HexString()).
				Debug("could not pre-compile contract code")
		}
	}
	return params, nil
}

func decodeAll[T any, PT interface {
	*T
	UnmarshalBinary([]byte) error
}](raw [][]byte) ([]T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	result := make([]T, len(raw))
	for i, b := range raw {
		if err := xdr.SafeUnmarshal(b, PT(&result[i])); err != nil {
			return nil, errors.Wrap(err, "could not unmarshal engine event")
		}
	}
	return result, nil
}
