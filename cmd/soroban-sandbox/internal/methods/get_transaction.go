package methods

import (
	"context"
	"encoding/base64"
	"encoding/hex"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/txstore"
	"github.com/stellar/soroban-sandbox/protocol"
)

func GetTransaction(
	ctx context.Context,
	sb *sandbox.Exclusive,
	request protocol.GetTransactionRequest,
) (protocol.GetTransactionResponse, error) {
	// parse hash
	if hex.DecodedLen(len(request.Hash)) != 32 {
		return protocol.GetTransactionResponse{}, invalidParams(
			"unexpected hash length (%d)", len(request.Hash))
	}
	if _, err := hex.DecodeString(request.Hash); err != nil {
		return protocol.GetTransactionResponse{}, invalidParams("incorrect hash: %v", err)
	}

	var (
		rec          txstore.Record
		found        bool
		latestLedger uint32
	)
	err := sb.Do(func(s *sandbox.Sandbox) error {
		latestLedger = s.LedgerInfo().SequenceNumber
		var err error
		rec, found, err = s.GetTransaction(ctx, request.Hash)
		return err
	})
	if err != nil {
		return protocol.GetTransactionResponse{}, internalError(err)
	}

	response := protocol.GetTransactionResponse{
		TxHash:       request.Hash,
		LatestLedger: latestLedger,
	}
	if !found {
		response.Status = protocol.TransactionStatusNotFound
		return response, nil
	}

	response.TxHash = rec.Hash
	response.ApplicationOrder = 1
	response.FeeCharged = rec.FeeCharged
	response.EnvelopeXDR = base64.StdEncoding.EncodeToString(rec.Envelope)
	response.ResultXDR = base64.StdEncoding.EncodeToString(rec.Result)
	response.DiagnosticEventsXDR = base64EncodeSlice(rec.Events)
	response.Ledger = rec.Ledger.SequenceNumber
	response.CreatedAt = int64(rec.Ledger.Timestamp)
	if rec.Successful {
		response.Status = protocol.TransactionStatusSuccess
		response.ReturnValueXDR = base64.StdEncoding.EncodeToString(rec.ReturnValue)
	} else {
		response.Status = protocol.TransactionStatusFailed
		response.ErrorMessage = rec.Error
	}
	return response, nil
}

// NewGetTransactionHandler returns a get transaction json rpc handler
func NewGetTransactionHandler(logger *log.Entry, sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(ctx context.Context, request protocol.GetTransactionRequest,
	) (protocol.GetTransactionResponse, error) {
		response, err := GetTransaction(ctx, sb, request)
		if err != nil {
			logger.WithError(err).WithField("hash", request.Hash).Debug("could not get transaction")
		}
		return response, err
	})
}
