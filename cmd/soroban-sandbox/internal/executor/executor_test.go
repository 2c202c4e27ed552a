package executor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/engine"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/engine/builtin"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/transaction"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/txtest"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) InvokeHostFunction(params engine.InvokeParams) (engine.InvokeResult, error) {
	args := m.Called(params)
	return args.Get(0).(engine.InvokeResult), args.Error(1)
}

func (m *mockEngine) SimulateHostFunction(params engine.RecordingParams) (engine.RecordingResult, error) {
	args := m.Called(params)
	return args.Get(0).(engine.RecordingResult), args.Error(1)
}

type fixture struct {
	store  *ledger.Store
	info   ledger.Info
	source *keypair.Full
}

func newFixture(t *testing.T) fixture {
	f := fixture{
		store:  ledger.NewStore(),
		info:   ledger.NewInfo(txtest.Passphrase, ledger.DefaultProtocolVersion, 50, 1_000),
		source: keypair.MustRandom(),
	}
	require.NoError(t, f.store.Insert(txtest.Account(f.source, 10_000_000, 0), nil))
	return f
}

func (f fixture) invocation(t *testing.T, hf xdr.HostFunction, data *xdr.SorobanTransactionData) transaction.Invocation {
	env := txtest.Tx{Source: f.source, SeqNum: 1, HostFunction: hf, SorobanData: data}.Envelope(t, txtest.Passphrase)
	inv, err := transaction.Parse(env)
	require.NoError(t, err)
	return inv
}

func (f fixture) insertCode(t *testing.T, code []byte, liveUntil uint32) xdr.LedgerKey {
	codeHash := ledger.CodeHash(code)
	require.NoError(t, f.store.Insert(xdr.LedgerEntry{
		Data: xdr.LedgerEntryData{
			Type:         xdr.LedgerEntryTypeContractCode,
			ContractCode: &xdr.ContractCodeEntry{Hash: codeHash, Code: code},
		},
	}, &liveUntil))
	return ledger.ContractCodeKey(codeHash)
}

func dataEntry(name string, durability xdr.ContractDataDurability, value uint32) (xdr.LedgerKey, xdr.LedgerEntry) {
	contract := xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &xdr.ContractId{7}}
	sym := xdr.ScSymbol(name)
	scKey := xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
	u32 := xdr.Uint32(value)
	return ledger.ContractDataKey(contract, scKey, durability), xdr.LedgerEntry{
		Data: xdr.LedgerEntryData{
			Type: xdr.LedgerEntryTypeContractData,
			ContractData: &xdr.ContractDataEntry{
				Contract:   contract,
				Key:        scKey,
				Durability: durability,
				Val:        xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &u32},
			},
		},
	}
}

func encode(t *testing.T, v interface{ MarshalBinary() ([]byte, error) }) []byte {
	raw, err := v.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func TestExecutePreparesEngineInputs(t *testing.T) {
	f := newFixture(t)
	code := txtest.Wasm("cached")
	codeKey := f.insertCode(t, code, 100)
	missingKey, _ := dataEntry("missing", xdr.ContractDataDurabilityPersistent, 0)
	accountKey := ledger.AccountKey(xdr.MustAddress(f.source.Address()))
	inv := f.invocation(t, txtest.InvokeContract(xdr.ContractId{7}, "run"),
		txtest.SorobanData([]xdr.LedgerKey{codeKey, accountKey}, []xdr.LedgerKey{missingKey}))

	eng := &mockEngine{}
	var params engine.InvokeParams
	eng.On("InvokeHostFunction", mock.Anything).
		Run(func(args mock.Arguments) { params = args.Get(0).(engine.InvokeParams) }).
		Return(engine.InvokeResult{Result: encode(t, xdr.ScVal{Type: xdr.ScValTypeScvVoid})}, nil).
		Once()

	result, err := New(eng, f.store, log.DefaultLogger, true).Execute(inv, f.info)
	require.NoError(t, err)
	eng.AssertExpectations(t)
	assert.True(t, result.Successful())
	assert.Equal(t, int64(txtest.DefaultFee), result.FeeCharged)

	// The missing key is omitted; the account carries no TTL.
	assert.Len(t, params.LedgerEntries, 2)
	require.Len(t, params.TTLEntries, 1)
	var ttl xdr.TtlEntry
	require.NoError(t, xdr.SafeUnmarshal(params.TTLEntries[0], &ttl))
	assert.Equal(t, xdr.Uint32(100), ttl.LiveUntilLedgerSeq)
	keyHash, err := ledger.TTLKeyHash(codeKey)
	require.NoError(t, err)
	assert.Equal(t, keyHash, ttl.KeyHash)

	require.NotNil(t, params.ModuleCache)
	assert.True(t, params.ModuleCache.Contains(ledger.CodeHash(code)))
	assert.True(t, params.EnableDiagnostics)
	assert.Equal(t, f.info, params.LedgerInfo)
	assert.Equal(t, uint64(0), params.Budget.CPUInstructionsUsed())

	txHash, err := transaction.Hash(inv.Envelope, f.info.NetworkID)
	require.NoError(t, err)
	assert.Equal(t, txHash, params.PRNGSeed)

	var resources xdr.SorobanResources
	require.NoError(t, xdr.SafeUnmarshal(params.Resources, &resources))
	assert.Len(t, resources.Footprint.ReadOnly, 2)
	var source xdr.AccountId
	require.NoError(t, xdr.SafeUnmarshal(params.SourceAccount, &source))
	assert.True(t, source.Equals(inv.Source))
}

func TestExecuteLeavesRestoredCodeUncompiled(t *testing.T) {
	f := newFixture(t)
	code := txtest.Wasm("restored")
	codeKey := f.insertCode(t, code, 10)
	inv := f.invocation(t, txtest.InvokeContract(xdr.ContractId{7}, "run"),
		txtest.SorobanData(nil, []xdr.LedgerKey{codeKey}, 0))

	eng := &mockEngine{}
	var params engine.InvokeParams
	eng.On("InvokeHostFunction", mock.Anything).
		Run(func(args mock.Arguments) { params = args.Get(0).(engine.InvokeParams) }).
		Return(engine.InvokeResult{}, nil)

	_, err := New(eng, f.store, log.DefaultLogger, false).Execute(inv, f.info)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, params.RestoredEntryIndices)
	assert.Len(t, params.LedgerEntries, 1)
	assert.Zero(t, params.ModuleCache.Len())
}

func TestExecuteRequiresSorobanData(t *testing.T) {
	f := newFixture(t)
	inv := f.invocation(t, txtest.UploadWasm(txtest.Wasm("x")), nil)
	eng := &mockEngine{}

	_, err := New(eng, f.store, log.DefaultLogger, false).Execute(inv, f.info)
	require.ErrorIs(t, err, transaction.ErrMissingSorobanData)
	var decodeErr *transaction.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	eng.AssertNotCalled(t, "InvokeHostFunction", mock.Anything)
}

func TestExecuteReturnsEngineInputErrors(t *testing.T) {
	f := newFixture(t)
	inv := f.invocation(t, txtest.UploadWasm(txtest.Wasm("x")), txtest.SorobanData(nil, nil))
	eng := &mockEngine{}
	eng.On("InvokeHostFunction", mock.Anything).Return(engine.InvokeResult{}, errors.New("bad input"))

	_, err := New(eng, f.store, log.DefaultLogger, false).Execute(inv, f.info)
	require.ErrorContains(t, err, "bad input")
}

func TestExecuteAppliesChangesOfFailedInvocation(t *testing.T) {
	f := newFixture(t)
	key, entry := dataEntry("counter", xdr.ContractDataDurabilityPersistent, 1)
	inv := f.invocation(t, txtest.InvokeContract(xdr.ContractId{7}, "run"),
		txtest.SorobanData(nil, []xdr.LedgerKey{key}))

	sym := xdr.ScSymbol("failed")
	event := xdr.ContractEvent{
		Type: xdr.ContractEventTypeContract,
		Body: xdr.ContractEventBody{V: 0, V0: &xdr.ContractEventV0{
			Topics: []xdr.ScVal{{Type: xdr.ScValTypeScvSymbol, Sym: &sym}},
			Data:   xdr.ScVal{Type: xdr.ScValTypeScvVoid},
		}},
	}
	invokeErr := errors.New("trapped")
	eng := &mockEngine{}
	eng.On("InvokeHostFunction", mock.Anything).Return(engine.InvokeResult{
		InvokeError: invokeErr,
		LedgerChanges: []engine.LedgerEntryChange{{
			EncodedKey:      encode(t, key),
			EncodedNewValue: encode(t, entry),
			TTLChange:       &engine.TTLChange{NewLiveUntilLedger: 500},
		}},
		ContractEvents: [][]byte{encode(t, event)},
	}, nil)

	result, err := New(eng, f.store, log.DefaultLogger, false).Execute(inv, f.info)
	require.NoError(t, err)
	require.ErrorIs(t, result.Error, invokeErr)
	assert.False(t, result.Successful())
	assert.Nil(t, result.ReturnValue)
	assert.Equal(t, 1, result.AppliedChanges)
	require.Len(t, result.Events(), 1)
	assert.False(t, result.Events()[0].InSuccessfulContractCall)

	stored, ok, err := f.store.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, stored.LiveUntilLedgerSeq)
	assert.Equal(t, uint32(500), *stored.LiveUntilLedgerSeq)
}

func TestStageLeavesStoreUntilCommit(t *testing.T) {
	f := newFixture(t)
	key, entry := dataEntry("counter", xdr.ContractDataDurabilityPersistent, 1)
	inv := f.invocation(t, txtest.InvokeContract(xdr.ContractId{7}, "run"),
		txtest.SorobanData(nil, []xdr.LedgerKey{key}))

	eng := &mockEngine{}
	eng.On("InvokeHostFunction", mock.Anything).Return(engine.InvokeResult{
		LedgerChanges: []engine.LedgerEntryChange{{
			EncodedKey:      encode(t, key),
			EncodedNewValue: encode(t, entry),
			TTLChange:       &engine.TTLChange{NewLiveUntilLedger: 500},
		}},
	}, nil)

	result, pending, err := New(eng, f.store, log.DefaultLogger, false).Stage(inv, f.info)
	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.Equal(t, 1, result.AppliedChanges)
	assert.Equal(t, 1, pending.Len())

	_, ok, err := f.store.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = pending.Get(key)
	require.NoError(t, err)
	assert.True(t, ok)

	pending.Commit()
	_, ok, err = f.store.Get(key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStageDropsRejectedChanges(t *testing.T) {
	f := newFixture(t)
	key, entry := dataEntry("counter", xdr.ContractDataDurabilityPersistent, 1)
	inv := f.invocation(t, txtest.InvokeContract(xdr.ContractId{7}, "run"),
		txtest.SorobanData([]xdr.LedgerKey{key}, nil))

	eng := &mockEngine{}
	eng.On("InvokeHostFunction", mock.Anything).Return(engine.InvokeResult{
		LedgerChanges: []engine.LedgerEntryChange{{
			EncodedKey:      encode(t, key),
			EncodedNewValue: encode(t, entry),
		}},
	}, nil)

	result, pending, err := New(eng, f.store, log.DefaultLogger, false).Stage(inv, f.info)
	require.NoError(t, err)
	require.ErrorIs(t, result.Error, ErrReadOnlyValueChange)
	assert.Zero(t, result.AppliedChanges)
	assert.Zero(t, pending.Len())
}

func TestExecuteWithBuiltinEngine(t *testing.T) {
	f := newFixture(t)
	code := txtest.Wasm("builtin")
	codeKey := ledger.ContractCodeKey(ledger.CodeHash(code))
	inv := f.invocation(t, txtest.UploadWasm(code), txtest.SorobanData(nil, []xdr.LedgerKey{codeKey}))

	result, err := New(builtin.New(log.DefaultLogger), f.store, log.DefaultLogger, true).Execute(inv, f.info)
	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.Equal(t, 1, result.AppliedChanges)
	require.NotEmpty(t, result.DiagnosticEvents)
	assert.True(t, result.DiagnosticEvents[0].InSuccessfulContractCall)

	stored, ok, err := f.store.Get(codeKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, code, stored.Entry.Data.ContractCode.Code)
	assert.Equal(t, f.info.MinLiveUntil(true), *stored.LiveUntilLedgerSeq)
}

func TestSimulateDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	code := txtest.Wasm("simulated")
	inv := f.invocation(t, txtest.UploadWasm(code), nil)

	before := f.store.Len()
	result, err := New(builtin.New(log.DefaultLogger), f.store, log.DefaultLogger, false).Simulate(inv, f.info)
	require.NoError(t, err)
	assert.Empty(t, result.Error)
	assert.NotEmpty(t, result.TransactionData)
	assert.Equal(t, before, f.store.Len())
}

func TestSimulatePassesSnapshotAndConfig(t *testing.T) {
	f := newFixture(t)
	inv := f.invocation(t, txtest.UploadWasm(txtest.Wasm("x")), nil)
	eng := &mockEngine{}
	eng.On("SimulateHostFunction", mock.MatchedBy(func(p engine.RecordingParams) bool {
		return p.Snapshot == engine.SnapshotSource(f.store) &&
			p.NetworkConfig.TxMaxInstructions == engine.DefaultNetworkConfig(f.info).TxMaxInstructions
	})).Return(engine.RecordingResult{Error: "boom"}, nil)

	result, err := New(eng, f.store, log.DefaultLogger, false).Simulate(inv, f.info)
	require.NoError(t, err)
	assert.Equal(t, "boom", result.Error)
	eng.AssertExpectations(t)
}
