// Package builtin is an execution engine that implements the host functions
// the sandbox can run without a wasm interpreter: uploading contract code and
// creating contracts. Contract invocations fail. It honors footprints and
// archival the way the network's host does.
package builtin

import (
	"math"

	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/engine"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
)

// envelopeOverheadBytes approximates the envelope size beyond the host
// function, resources and authorization when pricing a simulation.
const envelopeOverheadBytes = 300

type Engine struct {
	logger *log.Entry
}

var _ engine.Engine = (*Engine)(nil)

func New(logger *log.Entry) *Engine {
	return &Engine{logger: logger}
}

func (e *Engine) InvokeHostFunction(params engine.InvokeParams) (engine.InvokeResult, error) {
	var hf xdr.HostFunction
	if err := xdr.SafeUnmarshal(params.HostFunction, &hf); err != nil {
		return engine.InvokeResult{}, errors.Wrap(err, "could not unmarshal host function")
	}
	var resources xdr.SorobanResources
	if err := xdr.SafeUnmarshal(params.Resources, &resources); err != nil {
		return engine.InvokeResult{}, errors.Wrap(err, "could not unmarshal resources")
	}
	var source xdr.AccountId
	if err := xdr.SafeUnmarshal(params.SourceAccount, &source); err != nil {
		return engine.InvokeResult{}, errors.Wrap(err, "could not unmarshal source account")
	}
	auth := make([]xdr.SorobanAuthorizationEntry, len(params.AuthEntries))
	for i, raw := range params.AuthEntries {
		if err := xdr.SafeUnmarshal(raw, &auth[i]); err != nil {
			return engine.InvokeResult{}, errors.Wrapf(err, "could not unmarshal authorization entry %d", i)
		}
	}
	entries := make(map[string]xdr.LedgerEntry, len(params.LedgerEntries))
	for i, raw := range params.LedgerEntries {
		var entry xdr.LedgerEntry
		if err := xdr.SafeUnmarshal(raw, &entry); err != nil {
			return engine.InvokeResult{}, errors.Wrapf(err, "could not unmarshal ledger entry %d", i)
		}
		key, err := entry.LedgerKey()
		if err != nil {
			return engine.InvokeResult{}, errors.Wrap(err, "could not derive ledger key")
		}
		k, err := ledger.EncodeKey(key)
		if err != nil {
			return engine.InvokeResult{}, err
		}
		entries[k] = entry
	}
	ttls := make(map[xdr.Hash]uint32, len(params.TTLEntries))
	for i, raw := range params.TTLEntries {
		var ttl xdr.TtlEntry
		if err := xdr.SafeUnmarshal(raw, &ttl); err != nil {
			return engine.InvokeResult{}, errors.Wrapf(err, "could not unmarshal ttl entry %d", i)
		}
		ttls[ttl.KeyHash] = uint32(ttl.LiveUntilLedgerSeq)
	}

	budget := params.Budget
	if budget == nil {
		budget = engine.UnlimitedBudget(nil, nil)
	}
	modules := params.ModuleCache
	if modules == nil {
		var err error
		if modules, err = engine.NewModuleCache(1); err != nil {
			return engine.InvokeResult{}, err
		}
	}

	h := &host{
		info:              params.LedgerInfo,
		source:            source,
		budget:            budget,
		modules:           modules,
		enableDiagnostics: params.EnableDiagnostics,
		auth:              auth,
	}
	e.logger.WithField("function", functionName(hf)).
		WithField("footprint", len(resources.Footprint.ReadOnly)+len(resources.Footprint.ReadWrite)).
		Debug("invoking host function")

	st, err := newEnforcingStorage(params.LedgerInfo, resources.Footprint, params.RestoredEntryIndices, entries, ttls)
	if err != nil {
		h.diagnostic(false, "error", stringVal(err.Error()))
		return invokeFailure(h, err)
	}
	h.st = st

	val, invokeErr := h.invoke(hf)
	if invokeErr != nil {
		return invokeFailure(h, invokeErr)
	}
	result := engine.InvokeResult{}
	if result.Result, err = val.MarshalBinary(); err != nil {
		return engine.InvokeResult{}, errors.Wrap(err, "could not marshal result")
	}
	if result.LedgerChanges, err = st.changes(); err != nil {
		return engine.InvokeResult{}, err
	}
	if result.DiagnosticEvents, err = encodeAll(h.diagnostics); err != nil {
		return engine.InvokeResult{}, err
	}
	return result, nil
}

func invokeFailure(h *host, invokeErr error) (engine.InvokeResult, error) {
	diagnostics, err := encodeAll(h.diagnostics)
	if err != nil {
		return engine.InvokeResult{}, err
	}
	return engine.InvokeResult{InvokeError: invokeErr, DiagnosticEvents: diagnostics}, nil
}

func (e *Engine) SimulateHostFunction(params engine.RecordingParams) (engine.RecordingResult, error) {
	var hf xdr.HostFunction
	if err := xdr.SafeUnmarshal(params.HostFunction, &hf); err != nil {
		return engine.RecordingResult{}, errors.Wrap(err, "could not unmarshal host function")
	}
	var source xdr.AccountId
	if err := xdr.SafeUnmarshal(params.SourceAccount, &source); err != nil {
		return engine.RecordingResult{}, errors.Wrap(err, "could not unmarshal source account")
	}
	maxContractSize, err := engine.MaxContractSize(params.Snapshot)
	if err != nil {
		return engine.RecordingResult{}, err
	}
	modules, err := engine.NewModuleCache(1)
	if err != nil {
		return engine.RecordingResult{}, err
	}

	cfg := params.NetworkConfig
	st := newRecordingStorage(params.LedgerInfo, params.Snapshot)
	h := &host{
		st:        st,
		info:      params.LedgerInfo,
		source:    source,
		recording: true,
		budget: engine.NewBudget(uint64(max(cfg.TxMaxInstructions, 0)), uint64(cfg.TxMemoryLimit),
			cfg.CPUCostParams, cfg.MemoryCostParams),
		modules:           modules,
		maxContractSize:   maxContractSize,
		enableDiagnostics: params.EnableDiagnostics,
	}
	e.logger.WithField("function", functionName(hf)).Debug("simulating host function")

	val, invokeErr := h.invoke(hf)
	var result engine.RecordingResult
	if result.DiagnosticEvents, err = encodeAll(h.diagnostics); err != nil {
		return engine.RecordingResult{}, err
	}
	if invokeErr != nil {
		result.Error = invokeErr.Error()
		return result, nil
	}

	if result.Result, err = val.MarshalBinary(); err != nil {
		return engine.RecordingResult{}, errors.Wrap(err, "could not marshal result")
	}
	if result.Auth, err = encodeAll(h.auth); err != nil {
		return engine.RecordingResult{}, err
	}
	if result.LedgerEntryDiff, err = st.diffs(); err != nil {
		return engine.RecordingResult{}, err
	}

	footprint, restored := st.footprint()
	usage := st.usage(cfg)
	data := xdr.SorobanTransactionData{
		Resources: xdr.SorobanResources{
			Footprint:     footprint,
			Instructions:  xdr.Uint32(min(h.budget.CPUInstructionsUsed(), math.MaxUint32)),
			DiskReadBytes: xdr.Uint32(usage.readBytes),
			WriteBytes:    xdr.Uint32(usage.writeBytes),
		},
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

	txSize := len(params.HostFunction) + envelopeOverheadBytes
	if encodedResources, err := data.Resources.MarshalBinary(); err == nil {
		txSize += len(encodedResources)
	}
	for _, a := range result.Auth {
		txSize += len(a)
	}
	result.MinFee = cfg.ResourceFee(engine.TransactionResources{
		Instructions:         uint32(data.Resources.Instructions),
		DiskReadEntries:      usage.readEntries,
		WriteEntries:         usage.writeEntries,
		DiskReadBytes:        usage.readBytes,
		WriteBytes:           usage.writeBytes,
		TransactionSizeBytes: uint32(txSize),
	}) + usage.rent
	data.ResourceFee = xdr.Int64(result.MinFee)
	if result.TransactionData, err = data.MarshalBinary(); err != nil {
		return engine.RecordingResult{}, errors.Wrap(err, "could not marshal transaction data")
	}
	return result, nil
}

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

func encodeAll[T binaryMarshaler](values []T) ([][]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	result := make([][]byte, 0, len(values))
	for _, v := range values {
		raw, err := v.MarshalBinary()
		if err != nil {
			return nil, errors.Wrap(err, "could not marshal xdr value")
		}
		result = append(result, raw)
	}
	return result, nil
}
