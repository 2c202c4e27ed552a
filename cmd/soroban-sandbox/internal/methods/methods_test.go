package methods

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/creachadair/jrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/strkey"
	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/engine/builtin"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/txstore"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/txtest"
	"github.com/stellar/soroban-sandbox/protocol"
)

const (
	testLedger    uint32 = 20
	testTimestamp uint64 = 1_000
)

type fixture struct {
	sb     *sandbox.Exclusive
	source *keypair.Full
}

func newFixture(t *testing.T, options ...func(*sandbox.Params)) fixture {
	params := sandbox.Params{
		Logger:            log.DefaultLogger,
		Engine:            builtin.New(log.DefaultLogger),
		Records:           txstore.NewMemoryStore(),
		NetworkPassphrase: txtest.Passphrase,
		LedgerInfo:        ledger.NewInfo(txtest.Passphrase, ledger.DefaultProtocolVersion, testLedger, testTimestamp),
		FeeStatsWindow:    10,
	}
	for _, option := range options {
		option(&params)
	}
	sb, err := sandbox.New(params)
	require.NoError(t, err)
	source := keypair.MustRandom()
	require.NoError(t, sb.FundAccount(xdr.MustAddress(source.Address()), 10_000_000))
	return fixture{sb: sandbox.NewExclusive(sb), source: source}
}

// call runs h on a request carrying params, the way the server would.
func call(t *testing.T, h jrpc2.Handler, params any) (any, error) {
	t.Helper()
	requestJSON := `{"jsonrpc": "2.0", "id": 1, "method": "test"}`
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		requestJSON = fmt.Sprintf(`{"jsonrpc": "2.0", "id": 1, "method": "test", "params": %s}`, raw)
	}
	requests, err := jrpc2.ParseRequests([]byte(requestJSON))
	require.NoError(t, err)
	require.Len(t, requests, 1)
	return h(context.Background(), requests[0].ToRequest())
}

func requireJRPCError(t *testing.T, err error, code jrpc2.Code, message string) {
	t.Helper()
	var jrpcErr *jrpc2.Error
	require.ErrorAs(t, err, &jrpcErr)
	assert.Equal(t, code, jrpcErr.Code)
	assert.Contains(t, jrpcErr.Message, message)
}

func (f fixture) upload(t *testing.T, code []byte, seqNum int64) string {
	return txtest.Tx{
		Source:       f.source,
		SeqNum:       seqNum,
		HostFunction: txtest.UploadWasm(code),
		SorobanData:  txtest.SorobanData(nil, []xdr.LedgerKey{ledger.ContractCodeKey(ledger.CodeHash(code))}),
	}.Base64(t, txtest.Passphrase)
}

func TestGetLatestLedger(t *testing.T) {
	f := newFixture(t)
	resp, err := call(t, NewGetLatestLedgerHandler(f.sb), nil)
	require.NoError(t, err)
	require.IsType(t, protocol.GetLatestLedgerResponse{}, resp)
	latest := resp.(protocol.GetLatestLedgerResponse)
	assert.Equal(t, testLedger, latest.Sequence)
	assert.Equal(t, ledger.DefaultProtocolVersion, latest.ProtocolVersion)
	assert.Equal(t, int64(testTimestamp), latest.LedgerCloseTime)
}

func TestGetNetworkAndVersionInfo(t *testing.T) {
	f := newFixture(t)
	resp, err := call(t, NewGetNetworkHandler(f.sb), protocol.GetNetworkRequest{})
	require.NoError(t, err)
	network := resp.(protocol.GetNetworkResponse)
	assert.Equal(t, txtest.Passphrase, network.Passphrase)
	assert.Equal(t, int(ledger.DefaultProtocolVersion), network.ProtocolVersion)
	assert.Equal(t, ledger.NewInfo(txtest.Passphrase, 0, 0, 0).NetworkIDHex(), network.NetworkID)

	resp, err = call(t, NewGetVersionInfoHandler(f.sb), protocol.GetVersionInfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultProtocolVersion, resp.(protocol.GetVersionInfoResponse).ProtocolVersion)

	resp, err = call(t, NewHealthCheck(f.sb), nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.GetHealthResponse{Status: protocol.HealthStatusHealthy, LatestLedger: testLedger}, resp)
}

func TestLedgerInfoAdministration(t *testing.T) {
	f := newFixture(t)
	resp, err := call(t, NewSetLedgerSequenceHandler(log.DefaultLogger, f.sb), protocol.SetLedgerSequenceRequest{Sequence: 99})
	require.NoError(t, err)
	assert.Equal(t, uint32(99), resp.(protocol.GetLedgerInfoResponse).Sequence)

	resp, err = call(t, NewSetLedgerTimestampHandler(log.DefaultLogger, f.sb), protocol.SetLedgerTimestampRequest{Timestamp: 5_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), resp.(protocol.GetLedgerInfoResponse).Timestamp)

	resp, err = call(t, NewGetLedgerInfoHandler(f.sb), nil)
	require.NoError(t, err)
	info := resp.(protocol.GetLedgerInfoResponse)
	assert.Equal(t, uint32(99), info.Sequence)
	assert.Equal(t, uint64(5_000), info.Timestamp)
	assert.Equal(t, ledger.DefaultMinPersistentEntryTTL, info.MinPersistentEntryTTL)

	_, err = call(t, NewSetLedgerSequenceHandler(log.DefaultLogger, f.sb), protocol.SetLedgerSequenceRequest{})
	requireJRPCError(t, err, jrpc2.InvalidParams, "must be positive")
}

func TestSendAndGetTransaction(t *testing.T) {
	f := newFixture(t)
	code := txtest.Wasm("methods")

	resp, err := call(t, NewSendTransactionHandler(log.DefaultLogger, f.sb),
		protocol.SendTransactionRequest{Transaction: f.upload(t, code, 1)})
	require.NoError(t, err)
	sent := resp.(protocol.SendTransactionResponse)
	assert.Equal(t, protocol.SendTransactionStatusPending, sent.Status)
	assert.Empty(t, sent.ErrorResultXDR)
	assert.Equal(t, testLedger, sent.LatestLedger)
	require.Len(t, sent.Hash, 64)

	resp, err = call(t, NewGetTransactionHandler(log.DefaultLogger, f.sb), protocol.GetTransactionRequest{Hash: sent.Hash})
	require.NoError(t, err)
	got := resp.(protocol.GetTransactionResponse)
	assert.Equal(t, protocol.TransactionStatusSuccess, got.Status)
	assert.Equal(t, sent.Hash, got.TxHash)
	assert.Equal(t, testLedger, got.Ledger)
	assert.Equal(t, int64(testTimestamp), got.CreatedAt)
	assert.Equal(t, int64(txtest.DefaultFee), got.FeeCharged)

	var retval xdr.ScVal
	require.NoError(t, xdr.SafeUnmarshalBase64(got.ReturnValueXDR, &retval))
	codeHash := ledger.CodeHash(code)
	assert.Equal(t, codeHash[:], []byte(*retval.Bytes))

	var result xdr.TransactionResult
	require.NoError(t, xdr.SafeUnmarshalBase64(got.ResultXDR, &result))
	assert.Equal(t, xdr.TransactionResultCodeTxSuccess, result.Result.Code)

	var envelope xdr.TransactionEnvelope
	require.NoError(t, xdr.SafeUnmarshalBase64(got.EnvelopeXDR, &envelope))
	assert.Equal(t, xdr.SequenceNumber(1), envelope.V1.Tx.SeqNum)
}

func TestSendTransactionRejection(t *testing.T) {
	f := newFixture(t)
	resp, err := call(t, NewSendTransactionHandler(log.DefaultLogger, f.sb),
		protocol.SendTransactionRequest{Transaction: f.upload(t, txtest.Wasm("stale"), 7)})
	require.NoError(t, err)
	sent := resp.(protocol.SendTransactionResponse)
	assert.Equal(t, protocol.SendTransactionStatusError, sent.Status)

	var result xdr.TransactionResult
	require.NoError(t, xdr.SafeUnmarshalBase64(sent.ErrorResultXDR, &result))
	assert.Equal(t, xdr.TransactionResultCodeTxBadSeq, result.Result.Code)
	assert.Zero(t, result.FeeCharged)

	resp, err = call(t, NewGetTransactionHandler(log.DefaultLogger, f.sb), protocol.GetTransactionRequest{Hash: sent.Hash})
	require.NoError(t, err)
	assert.Equal(t, protocol.TransactionStatusNotFound, resp.(protocol.GetTransactionResponse).Status)

	_, err = call(t, NewSendTransactionHandler(log.DefaultLogger, f.sb),
		protocol.SendTransactionRequest{Transaction: "garbage"})
	requireJRPCError(t, err, jrpc2.InvalidParams, "invalid_xdr")
}

func TestGetTransactionValidatesHash(t *testing.T) {
	f := newFixture(t)
	h := NewGetTransactionHandler(log.DefaultLogger, f.sb)

	_, err := call(t, h, protocol.GetTransactionRequest{Hash: "abcd"})
	requireJRPCError(t, err, jrpc2.InvalidParams, "unexpected hash length (4)")

	_, err = call(t, h, protocol.GetTransactionRequest{Hash: strings.Repeat("zz", 32)})
	requireJRPCError(t, err, jrpc2.InvalidParams, "incorrect hash")

	resp, err := call(t, h, protocol.GetTransactionRequest{Hash: strings.Repeat("00", 32)})
	require.NoError(t, err)
	assert.Equal(t, protocol.GetTransactionResponse{
		Status:       protocol.TransactionStatusNotFound,
		TxHash:       strings.Repeat("00", 32),
		LatestLedger: testLedger,
	}, resp)
}

func TestSimulateTransaction(t *testing.T) {
	f := newFixture(t)
	code := txtest.Wasm("simulate")
	env := txtest.Tx{Source: f.source, SeqNum: 1, HostFunction: txtest.UploadWasm(code)}.Base64(t, txtest.Passphrase)

	resp, err := call(t, NewSimulateTransactionHandler(log.DefaultLogger, f.sb), protocol.SimulateTransactionRequest{Transaction: env})
	require.NoError(t, err)
	simulation := resp.(protocol.SimulateTransactionResponse)
	require.Empty(t, simulation.Error)
	assert.Equal(t, testLedger, simulation.LatestLedger)
	assert.Positive(t, simulation.MinResourceFee)

	var data xdr.SorobanTransactionData
	require.NoError(t, xdr.SafeUnmarshalBase64(simulation.TransactionDataXDR, &data))
	codeKey := ledger.ContractCodeKey(ledger.CodeHash(code))
	assert.Equal(t, []xdr.LedgerKey{codeKey}, data.Resources.Footprint.ReadWrite)

	require.Len(t, simulation.Results, 1)
	assert.Empty(t, simulation.Results[0].AuthXDR)
	require.Len(t, simulation.StateChanges, 1)
	change := simulation.StateChanges[0]
	assert.Equal(t, protocol.LedgerEntryChangeTypeCreated, change.Type)
	assert.Nil(t, change.BeforeXDR)
	require.NotNil(t, change.AfterXDR)
	codeKeyXDR, err := xdr.MarshalBase64(codeKey)
	require.NoError(t, err)
	assert.Equal(t, codeKeyXDR, change.KeyXDR)
}

func TestSimulateTransactionErrors(t *testing.T) {
	f := newFixture(t)
	h := NewSimulateTransactionHandler(log.DefaultLogger, f.sb)

	resp, err := call(t, h, protocol.SimulateTransactionRequest{Transaction: "not xdr"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.(protocol.SimulateTransactionResponse).Error)
	assert.Equal(t, testLedger, resp.(protocol.SimulateTransactionResponse).LatestLedger)

	env := txtest.Tx{Source: f.source, SeqNum: 1, HostFunction: txtest.UploadWasm([]byte("nope"))}.Base64(t, txtest.Passphrase)
	resp, err = call(t, h, protocol.SimulateTransactionRequest{Transaction: env})
	require.NoError(t, err)
	simulation := resp.(protocol.SimulateTransactionResponse)
	assert.Contains(t, simulation.Error, "invalid contract code")
	assert.Empty(t, simulation.TransactionDataXDR)
	assert.Empty(t, simulation.Results)
}

func TestGetLedgerEntries(t *testing.T) {
	f := newFixture(t)
	accountKey := ledger.AccountKey(xdr.MustAddress(f.source.Address()))
	accountKeyXDR, err := xdr.MarshalBase64(accountKey)
	require.NoError(t, err)
	missingKeyXDR, err := xdr.MarshalBase64(ledger.ContractCodeKey(xdr.Hash{1}))
	require.NoError(t, err)

	h := NewGetLedgerEntriesHandler(log.DefaultLogger, f.sb)
	resp, err := call(t, h, protocol.GetLedgerEntriesRequest{Keys: []string{accountKeyXDR, missingKeyXDR}})
	require.NoError(t, err)
	entries := resp.(protocol.GetLedgerEntriesResponse)
	assert.Equal(t, testLedger, entries.LatestLedger)
	require.Len(t, entries.Entries, 1)
	assert.Equal(t, accountKeyXDR, entries.Entries[0].KeyXDR)
	assert.Nil(t, entries.Entries[0].LiveUntilLedgerSeq)

	var data xdr.LedgerEntryData
	require.NoError(t, xdr.SafeUnmarshalBase64(entries.Entries[0].DataXDR, &data))
	assert.Equal(t, xdr.Int64(10_000_000), data.Account.Balance)

	ttlKeyXDR, err := xdr.MarshalBase64(xdr.LedgerKey{Type: xdr.LedgerEntryTypeTtl, Ttl: &xdr.LedgerKeyTtl{}})
	require.NoError(t, err)
	_, err = call(t, h, protocol.GetLedgerEntriesRequest{Keys: []string{ttlKeyXDR}})
	requireJRPCError(t, err, jrpc2.InvalidParams, ErrLedgerTTLEntriesCannotBeQueriedDirectly)

	_, err = call(t, h, protocol.GetLedgerEntriesRequest{Keys: []string{"bad"}})
	requireJRPCError(t, err, jrpc2.InvalidParams, "cannot unmarshal key value bad at index 0")

	tooMany := make([]string, getLedgerEntriesMaxKeys+1)
	for i := range tooMany {
		tooMany[i] = accountKeyXDR
	}
	_, err = call(t, h, protocol.GetLedgerEntriesRequest{Keys: tooMany})
	requireJRPCError(t, err, jrpc2.InvalidParams, "exceeds maximum supported (200)")
}

func TestGetContractData(t *testing.T) {
	f := newFixture(t)
	h := NewGetContractDataHandler(f.sb)
	contractID := xdr.ContractId{4}
	contract, err := strkey.Encode(strkey.VersionByteContract, contractID[:])
	require.NoError(t, err)
	sym := xdr.ScSymbol("counter")
	keyXDR, err := xdr.MarshalBase64(xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym})
	require.NoError(t, err)

	resp, err := call(t, h, protocol.GetContractDataRequest{Contract: contract, Key: keyXDR, Durability: "persistent"})
	require.NoError(t, err)
	assert.Nil(t, resp.(protocol.GetContractDataResponse).Entry)

	_, err = call(t, h, protocol.GetContractDataRequest{Contract: contract, Key: keyXDR, Durability: "forever"})
	requireJRPCError(t, err, jrpc2.InvalidParams, "invalid durability")
	_, err = call(t, h, protocol.GetContractDataRequest{Contract: "C123", Key: keyXDR, Durability: "temporary"})
	requireJRPCError(t, err, jrpc2.InvalidParams, "invalid contract address")
}

func TestContractInstanceLookup(t *testing.T) {
	f := newFixture(t)
	sourceID := xdr.MustAddress(f.source.Address())
	code := txtest.Wasm("instance")

	codeHash, err := deploy(f.sb, sourceID, code)
	require.NoError(t, err)

	preimage := txtest.FromAddressPreimage(sourceID, 1)
	networkID := ledger.NewInfo(txtest.Passphrase, 0, 0, 0).NetworkID
	contractID, err := ledger.ContractID(networkID, preimage)
	require.NoError(t, err)
	instanceKey := ledger.ContractInstanceKey(contractID)
	create := txtest.Tx{
		Source:       f.source,
		SeqNum:       1,
		HostFunction: txtest.CreateContract(preimage, codeHash),
		Auth: []xdr.SorobanAuthorizationEntry{{
			Credentials: xdr.SorobanCredentials{Type: xdr.SorobanCredentialsTypeSorobanCredentialsSourceAccount},
			RootInvocation: xdr.SorobanAuthorizedInvocation{
				Function: xdr.SorobanAuthorizedFunction{
					Type: xdr.SorobanAuthorizedFunctionTypeSorobanAuthorizedFunctionTypeCreateContractHostFn,
					CreateContractHostFn: &xdr.CreateContractArgs{
						ContractIdPreimage: preimage,
						Executable: xdr.ContractExecutable{
							Type:     xdr.ContractExecutableTypeContractExecutableWasm,
							WasmHash: &codeHash,
						},
					},
				},
			},
		}},
		SorobanData: txtest.SorobanData([]xdr.LedgerKey{ledger.ContractCodeKey(codeHash)}, []xdr.LedgerKey{instanceKey}),
	}.Base64(t, txtest.Passphrase)
	resp, err := call(t, NewSendTransactionHandler(log.DefaultLogger, f.sb), protocol.SendTransactionRequest{Transaction: create})
	require.NoError(t, err)
	sent := resp.(protocol.SendTransactionResponse)
	require.Equal(t, protocol.SendTransactionStatusPending, sent.Status)

	resp, err = call(t, NewGetTransactionHandler(log.DefaultLogger, f.sb), protocol.GetTransactionRequest{Hash: sent.Hash})
	require.NoError(t, err)
	require.Equal(t, protocol.TransactionStatusSuccess, resp.(protocol.GetTransactionResponse).Status)

	contract, err := strkey.Encode(strkey.VersionByteContract, contractID[:])
	require.NoError(t, err)
	keyXDR, err := xdr.MarshalBase64(xdr.ScVal{Type: xdr.ScValTypeScvLedgerKeyContractInstance})
	require.NoError(t, err)
	resp, err = call(t, NewGetContractDataHandler(f.sb),
		protocol.GetContractDataRequest{Contract: contract, Key: keyXDR, Durability: "persistent"})
	require.NoError(t, err)
	entry := resp.(protocol.GetContractDataResponse).Entry
	require.NotNil(t, entry)
	require.NotNil(t, entry.LiveUntilLedgerSeq)
	assert.Equal(t, testLedger, entry.LastModifiedLedger)
}

func deploy(sb *sandbox.Exclusive, source xdr.AccountId, code []byte) (xdr.Hash, error) {
	var codeHash xdr.Hash
	err := sb.Do(func(s *sandbox.Sandbox) error {
		var err error
		codeHash, err = s.DeployCode(source, code)
		return err
	})
	return codeHash, err
}

func TestAccounts(t *testing.T) {
	f := newFixture(t)
	kp := keypair.MustRandom()

	resp, err := call(t, NewFundAccountHandler(f.sb), protocol.FundAccountRequest{Account: kp.Address(), Balance: 500})
	require.NoError(t, err)
	assert.Equal(t, protocol.FundAccountResponse{Account: kp.Address(), Balance: 500}, resp)

	resp, err = call(t, NewGetAccountHandler(f.sb), protocol.GetAccountRequest{Account: kp.Address()})
	require.NoError(t, err)
	account := resp.(protocol.GetAccountResponse)
	assert.Equal(t, int64(500), account.Balance)
	assert.Equal(t, int64(0), account.Sequence)
	var entry xdr.AccountEntry
	require.NoError(t, xdr.SafeUnmarshalBase64(account.EntryXDR, &entry))
	assert.Equal(t, kp.Address(), entry.AccountId.Address())

	_, err = call(t, NewGetAccountHandler(f.sb), protocol.GetAccountRequest{Account: keypair.MustRandom().Address()})
	requireJRPCError(t, err, jrpc2.InvalidParams, "account not found")
	_, err = call(t, NewFundAccountHandler(f.sb), protocol.FundAccountRequest{Account: "GABC", Balance: 1})
	requireJRPCError(t, err, jrpc2.InvalidParams, "invalid account")
	_, err = call(t, NewFundAccountHandler(f.sb), protocol.FundAccountRequest{Account: kp.Address(), Balance: -1})
	requireJRPCError(t, err, jrpc2.InvalidParams, "must not be negative")
}

func TestDeployContractCode(t *testing.T) {
	f := newFixture(t)
	code := txtest.Wasm("rpc deploy")
	h := NewDeployContractCodeHandler(log.DefaultLogger, f.sb)

	resp, err := call(t, h, protocol.DeployContractCodeRequest{
		Source: f.source.Address(),
		Wasm:   base64.StdEncoding.EncodeToString(code),
	})
	require.NoError(t, err)
	codeHash := ledger.CodeHash(code)
	assert.Equal(t, codeHash.HexString(), resp.(protocol.DeployContractCodeResponse).Hash)

	_, err = call(t, h, protocol.DeployContractCodeRequest{Source: f.source.Address(), Wasm: "%%%"})
	requireJRPCError(t, err, jrpc2.InvalidParams, "cannot decode wasm")
	_, err = call(t, h, protocol.DeployContractCodeRequest{
		Source: f.source.Address(),
		Wasm:   base64.StdEncoding.EncodeToString([]byte("not wasm")),
	})
	requireJRPCError(t, err, jrpc2.InvalidParams, "code upload failed")
}

func TestGetFeeStats(t *testing.T) {
	f := newFixture(t)
	h := NewGetFeeStatsHandler(f.sb)

	resp, err := call(t, h, nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.GetFeeStatsResponse{LatestLedger: testLedger}, resp)

	_, err = call(t, NewSendTransactionHandler(log.DefaultLogger, f.sb),
		protocol.SendTransactionRequest{Transaction: f.upload(t, txtest.Wasm("fee"), 1)})
	require.NoError(t, err)

	resp, err = call(t, h, nil)
	require.NoError(t, err)
	stats := resp.(protocol.GetFeeStatsResponse).SorobanInclusionFee
	assert.Equal(t, uint32(1), stats.TransactionCount)
	assert.Equal(t, uint32(1), stats.LedgerCount)
	assert.Equal(t, uint64(txtest.DefaultFee-txtest.ResourceFee), stats.P99)
}
