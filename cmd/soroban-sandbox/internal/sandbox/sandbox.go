// Package sandbox ties the ledger store, validation, execution and the
// transaction records together into the simulate and submit flows.
package sandbox

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stellar/go-stellar-sdk/hash"
	"github.com/stellar/go-stellar-sdk/network"
	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/engine"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/executor"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/feewindow"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/transaction"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/txstore"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/validation"
)

const (
	MetricsNamespace = "soroban_sandbox"

	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusRejected = "rejected"
)

// ErrAccountNotFound is returned for operations on accounts that were never
// funded.
var ErrAccountNotFound = validation.ErrAccountNotFound

type Params struct {
	Logger                 *log.Entry
	Engine                 engine.Engine
	Records                txstore.Store
	NetworkPassphrase      string
	LedgerInfo             ledger.Info
	EnableDiagnosticEvents bool
	FeeStatsWindow         uint32
	// MetricsRegistry is optional.
	MetricsRegistry prometheus.Registerer
}

// Sandbox is a single-process ledger. It is not safe for concurrent use;
// wrap it in an Exclusive to share it.
type Sandbox struct {
	logger      *log.Entry
	passphrase  string
	info        ledger.Info
	store       *ledger.Store
	validator   *validation.Validator
	executor    *executor.Executor
	records     txstore.Store
	fees        *feewindow.FeeWindow
	submissions *prometheus.CounterVec
	// applied counts the recorded transactions
	applied     uint64
}

func New(params Params) (*Sandbox, error) {
	info := params.LedgerInfo
	info.NetworkID = network.ID(params.NetworkPassphrase)

	store := ledger.NewStore()
	for _, entry := range engine.DefaultNetworkConfig(info).ConfigSettingEntries() {
		if err := store.Insert(entry, nil); err != nil {
			return nil, errors.Wrap(err, "could not seed network configuration")
		}
	}

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "transactions",
		Name:      "submissions_total",
		Help:      "submitted transactions, by outcome",
	}, []string{"status"})
	if params.MetricsRegistry != nil {
		if err := params.MetricsRegistry.Register(submissions); err != nil {
			return nil, errors.Wrap(err, "could not register metrics")
		}
	}

	return &Sandbox{
		logger:      params.Logger,
		passphrase:  params.NetworkPassphrase,
		info:        info,
		store:       store,
		validator:   validation.NewValidator(params.Logger),
		executor:    executor.New(params.Engine, store, params.Logger, params.EnableDiagnosticEvents),
		records:     params.Records,
		fees:        feewindow.NewFeeWindow(params.FeeStatsWindow),
		submissions: submissions,
	}, nil
}

func (s *Sandbox) LedgerInfo() ledger.Info {
	return s.info
}

func (s *Sandbox) SetTimestamp(timestamp uint64) {
	s.info.Timestamp = timestamp
}

func (s *Sandbox) SetSequence(sequence uint32) {
	s.info.SequenceNumber = sequence
}

type NetworkInfo struct {
	Passphrase      string
	ProtocolVersion uint32
	NetworkID       string
}

func (s *Sandbox) NetworkInfo() NetworkInfo {
	return NetworkInfo{
		Passphrase:      s.passphrase,
		ProtocolVersion: s.info.ProtocolVersion,
		NetworkID:       s.info.NetworkIDHex(),
	}
}

func (s *Sandbox) FeeDistribution() feewindow.FeeDistribution {
	return s.fees.GetFeeDistribution()
}

// FundAccount creates, or replaces, accountID's account with the given
// balance, a zero sequence number and the master key as only signer.
func (s *Sandbox) FundAccount(accountID xdr.AccountId, balance int64) error {
	if balance < 0 {
		return errors.Errorf("balance must not be negative, got %d", balance)
	}
	entry := xdr.LedgerEntry{
		LastModifiedLedgerSeq: xdr.Uint32(s.info.SequenceNumber),
		Data: xdr.LedgerEntryData{
			Type: xdr.LedgerEntryTypeAccount,
			Account: &xdr.AccountEntry{
				AccountId:  accountID,
				Balance:    xdr.Int64(balance),
				SeqNum:     0,
				Thresholds: xdr.Thresholds{1, 0, 0, 0},
			},
		},
	}
	if err := s.store.Insert(entry, nil); err != nil {
		return err
	}
	s.logger.WithField("account", accountID.Address()).WithField("balance", balance).Info("funded account")
	return nil
}

func (s *Sandbox) GetAccount(accountID xdr.AccountId) (xdr.AccountEntry, bool, error) {
	return s.store.GetAccount(accountID)
}

func (s *Sandbox) GetBalance(accountID xdr.AccountId) (int64, error) {
	account, ok, err := s.store.GetAccount(accountID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrAccountNotFound
	}
	return int64(account.Balance), nil
}

func (s *Sandbox) GetLedgerEntry(key xdr.LedgerKey) (ledger.Entry, bool, error) {
	return s.store.Get(key)
}

func (s *Sandbox) GetContractData(
	contract xdr.ScAddress,
	key xdr.ScVal,
	durability xdr.ContractDataDurability,
) (ledger.Entry, bool, error) {
	return s.store.Get(ledger.ContractDataKey(contract, key, durability))
}

// ParseDurability accepts "persistent" and "temporary", in any case.
func ParseDurability(durability string) (xdr.ContractDataDurability, error) {
	switch strings.ToLower(durability) {
	case "persistent":
		return xdr.ContractDataDurabilityPersistent, nil
	case "temporary":
		return xdr.ContractDataDurabilityTemporary, nil
	default:
		return 0, errors.Errorf("invalid durability: %s", durability)
	}
}

type Simulation struct {
	engine.RecordingResult
	LatestLedger uint32
}

// Simulate runs a transaction in recording mode. Neither the ledger nor the
// transaction records change, and no validation takes place.
func (s *Sandbox) Simulate(_ context.Context, envelopeB64 string) (Simulation, error) {
	env, err := transaction.Decode(envelopeB64)
	if err != nil {
		return Simulation{}, err
	}
	inv, err := transaction.Parse(env)
	if err != nil {
		return Simulation{}, err
	}
	result, err := s.executor.Simulate(inv, s.info)
	if err != nil {
		return Simulation{}, err
	}
	return Simulation{RecordingResult: result, LatestLedger: s.info.SequenceNumber}, nil
}

// Submission is an accepted transaction and its stored record.
type Submission struct {
	Hash   string
	Record txstore.Record
}

// SendTransaction validates, executes and records a transaction. Decode and
// validation failures are returned as errors and leave the ledger and the
// records untouched. Execution failures are recorded as failed transactions:
// the sequence number is consumed and the fee is reported as charged. The
// ledger is not written unless the record is stored.
func (s *Sandbox) SendTransaction(ctx context.Context, envelopeB64 string) (Submission, error) {
	env, err := transaction.Decode(envelopeB64)
	if err != nil {
		return Submission{}, err
	}
	inv, err := transaction.Parse(env)
	if err != nil {
		return Submission{}, err
	}
	txHash, err := transaction.HashHex(env, s.info.NetworkID)
	if err != nil {
		return Submission{}, err
	}
	logger := s.logger.WithField("hash", txHash).WithField("source", inv.Source.Address())
	if inv.SorobanData == nil {
		return Submission{Hash: txHash}, transaction.ErrMissingSorobanData
	}

	if err := s.validator.Validate(inv, s.info, s.store); err != nil {
		s.submissions.WithLabelValues(StatusRejected).Inc()
		logger.WithError(err).Info("transaction rejected")
		return Submission{Hash: txHash}, err
	}

	// Ledger changes and the sequence bump are committed together, and only
	// once the record is stored.
	result, pending, err := s.executor.Stage(inv, s.info)
	if err != nil {
		logger.WithError(err).Warn("could not execute transaction")
		result = executor.ExecutionResult{Error: err, FeeCharged: int64(inv.Fee)}
		pending = s.store.NewWriteTx(1)
	}
	if err := s.stageSequence(pending, inv.Source); err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return Submission{Hash: txHash}, err
		}
		// the engine removed the source account; its changes are dropped
		logger.WithError(err).Warn("discarding ledger changes")
		result = executor.ExecutionResult{Error: err, FeeCharged: int64(inv.Fee)}
		pending = s.store.NewWriteTx(1)
		if err := s.stageSequence(pending, inv.Source); err != nil {
			return Submission{Hash: txHash}, err
		}
	}

	rec, err := s.record(ctx, txHash, env, result)
	if err != nil {
		return Submission{Hash: txHash}, err
	}
	pending.Commit()

	inclusionFee := int64(inv.Fee) - inv.ResourceFee()
	if err := s.fees.AppendFee(uint64(max(inclusionFee, 0)), s.info.SequenceNumber); err != nil {
		logger.WithError(err).Warn("could not update fee statistics")
	}

	status := StatusSuccess
	if !result.Successful() {
		status = StatusFailed
		logger = logger.WithField("error", result.Error.Error())
	}
	s.submissions.WithLabelValues(status).Inc()
	logger.WithField("status", status).Info("transaction applied")
	return Submission{Hash: txHash, Record: rec}, nil
}

// stageSequence stages a bump of the source account's sequence number on
// pending. The account is read through pending so that changes the engine
// made to it are kept.
func (s *Sandbox) stageSequence(pending *ledger.WriteTx, source xdr.AccountId) error {
	entry, ok, err := pending.Get(ledger.AccountKey(source))
	if err != nil {
		return err
	}
	account, isAccount := entry.Entry.Data.GetAccount()
	if !ok || !isAccount {
		return errors.Wrapf(ErrAccountNotFound, "source account %s vanished during execution", source.Address())
	}
	account.SeqNum++
	entry.Entry.Data.Account = &account
	entry.Entry.LastModifiedLedgerSeq = xdr.Uint32(s.info.SequenceNumber)
	return pending.Upsert(entry.Entry, nil)
}

func (s *Sandbox) record(
	ctx context.Context,
	txHash string,
	env xdr.TransactionEnvelope,
	result executor.ExecutionResult,
) (txstore.Record, error) {
	txResult, err := executionResult(result)
	if err != nil {
		return txstore.Record{}, err
	}
	rec := txstore.Record{
		Hash:             txHash,
		ApplicationOrder: s.applied + 1,
		Successful:       result.Successful(),
		FeeCharged:       result.FeeCharged,
		Ledger:           s.info,
	}
	if !result.Successful() {
		rec.Error = result.Error.Error()
	} else {
		rec.ReturnValue = result.ReturnValue
	}
	if rec.Envelope, err = env.MarshalBinary(); err != nil {
		return txstore.Record{}, errors.Wrap(err, "could not marshal envelope")
	}
	if rec.Result, err = txResult.MarshalBinary(); err != nil {
		return txstore.Record{}, errors.Wrap(err, "could not marshal transaction result")
	}
	for _, event := range result.Events() {
		raw, err := event.MarshalBinary()
		if err != nil {
			return txstore.Record{}, errors.Wrap(err, "could not marshal event")
		}
		rec.Events = append(rec.Events, raw)
	}
	if err := s.records.Record(ctx, rec); err != nil {
		return txstore.Record{}, errors.Wrap(err, "could not store transaction record")
	}
	s.applied = rec.ApplicationOrder
	return rec, nil
}

// GetTransaction looks up the record of a submitted transaction by its hex
// encoded hash.
func (s *Sandbox) GetTransaction(ctx context.Context, txHash string) (txstore.Record, bool, error) {
	return s.records.Lookup(ctx, strings.ToLower(txHash))
}

// AppliedTransactions is the application order of the latest recorded
// transaction, 0 if there is none.
func (s *Sandbox) AppliedTransactions() uint64 {
	return s.applied
}

// GetEvents scans the events of recorded successful transactions.
func (s *Sandbox) GetEvents(ctx context.Context, query txstore.EventQuery, f txstore.ScanFunction) error {
	return s.records.Events(ctx, query, f)
}

// DeployCode uploads contract code on behalf of source without a signed
// transaction: the footprint is inferred in recording mode and then
// enforced. No sequence number is consumed and nothing is recorded.
func (s *Sandbox) DeployCode(source xdr.AccountId, code []byte) (xdr.Hash, error) {
	hf := xdr.HostFunction{
		Type: xdr.HostFunctionTypeHostFunctionTypeUploadContractWasm,
		Wasm: &code,
	}
	seed := hash.Hash(code)
	simulation, err := s.executor.SimulateHostFunction(hf, source, s.info, seed)
	if err != nil {
		return xdr.Hash{}, err
	}
	if simulation.Error != "" {
		return xdr.Hash{}, errors.Errorf("code upload failed: %s", simulation.Error)
	}
	var data xdr.SorobanTransactionData
	if err := xdr.SafeUnmarshal(simulation.TransactionData, &data); err != nil {
		return xdr.Hash{}, errors.Wrap(err, "could not unmarshal transaction data")
	}
	result, err := s.executor.Invoke(executor.Call{
		HostFunction: hf,
		Source:       source,
		SorobanData:  data,
		PRNGSeed:     seed,
	}, s.info)
	if err != nil {
		return xdr.Hash{}, err
	}
	if !result.Successful() {
		return xdr.Hash{}, errors.Wrap(result.Error, "code upload failed")
	}
	codeHash := ledger.CodeHash(code)
	s.logger.WithField("hash", codeHash.HexString()).WithField("size", len(code)).Info("deployed contract code")
	return codeHash, nil
}
