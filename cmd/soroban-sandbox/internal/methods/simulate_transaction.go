package methods

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/engine"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/protocol"
)

var errMissingDiff = errors.New("no ledger difference found")

func LedgerEntryChangeFromXDRDiff(diff engine.XDRDiff) (protocol.LedgerEntryChange, error) {
	var (
		entryXDR   []byte
		changeType string
	)

	beforePresent := len(diff.Before) > 0
	afterPresent := len(diff.After) > 0

	switch {
	case beforePresent:
		entryXDR = diff.Before
		if afterPresent {
			changeType = protocol.LedgerEntryChangeTypeUpdated
		} else {
			changeType = protocol.LedgerEntryChangeTypeDeleted
		}

	case afterPresent:
		entryXDR = diff.After
		changeType = protocol.LedgerEntryChangeTypeCreated

	default:
		return protocol.LedgerEntryChange{}, errMissingDiff
	}

	// The key is derived from whichever side is present.
	var entry xdr.LedgerEntry
	if err := xdr.SafeUnmarshal(entryXDR, &entry); err != nil {
		return protocol.LedgerEntryChange{}, err
	}
	key, err := entry.LedgerKey()
	if err != nil {
		return protocol.LedgerEntryChange{}, err
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return protocol.LedgerEntryChange{}, err
	}

	result := protocol.LedgerEntryChange{Type: changeType, KeyXDR: keyB64}
	if beforePresent {
		before := base64.StdEncoding.EncodeToString(diff.Before)
		result.BeforeXDR = &before
	}
	if afterPresent {
		after := base64.StdEncoding.EncodeToString(diff.After)
		result.AfterXDR = &after
	}
	return result, nil
}

func formatResponse(simulation sandbox.Simulation) (protocol.SimulateTransactionResponse, error) {
	simResp := protocol.SimulateTransactionResponse{
		LatestLedger: simulation.LatestLedger,
		EventsXDR:    base64EncodeSlice(simulation.DiagnosticEvents),
	}
	if simulation.Error != "" {
		simResp.Error = simulation.Error
		return simResp, nil
	}

	simResp.TransactionDataXDR = base64.StdEncoding.EncodeToString(simulation.TransactionData)
	simResp.MinResourceFee = simulation.MinFee
	simResp.Results = []protocol.SimulateHostFunctionResult{{
		AuthXDR:        base64EncodeSlice(simulation.Auth),
		ReturnValueXDR: base64.StdEncoding.EncodeToString(simulation.Result),
	}}
	stateChanges := make([]protocol.LedgerEntryChange, 0, len(simulation.LedgerEntryDiff))
	for _, diff := range simulation.LedgerEntryDiff {
		change, err := LedgerEntryChangeFromXDRDiff(diff)
		if err != nil {
			return protocol.SimulateTransactionResponse{}, err
		}
		stateChanges = append(stateChanges, change)
	}
	simResp.StateChanges = stateChanges
	return simResp, nil
}

// NewSimulateTransactionHandler returns a JSON rpc handler running transactions in recording mode.
// Failures are reported in the response's error field.
func NewSimulateTransactionHandler(logger *log.Entry, sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(ctx context.Context, request protocol.SimulateTransactionRequest,
	) protocol.SimulateTransactionResponse {
		var (
			simulation   sandbox.Simulation
			latestLedger uint32
		)
		err := sb.Do(func(s *sandbox.Sandbox) error {
			latestLedger = s.LedgerInfo().SequenceNumber
			var err error
			simulation, err = s.Simulate(ctx, request.Transaction)
			return err
		})
		if err != nil {
			logger.WithError(err).Info("could not simulate transaction")
			return protocol.SimulateTransactionResponse{
				Error:        err.Error(),
				LatestLedger: latestLedger,
			}
		}

		simResp, err := formatResponse(simulation)
		if err != nil {
			return protocol.SimulateTransactionResponse{
				Error:        err.Error(),
				LatestLedger: latestLedger,
			}
		}
		return simResp
	})
}
