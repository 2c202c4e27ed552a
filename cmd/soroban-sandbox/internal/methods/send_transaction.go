package methods

import (
	"context"
	"errors"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/transaction"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/validation"
	"github.com/stellar/soroban-sandbox/protocol"
)

// NewSendTransactionHandler returns a submit transaction json rpc handler.
// Accepted transactions are applied before the response is sent, so their
// record is immediately available through getTransaction.
func NewSendTransactionHandler(logger *log.Entry, sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(ctx context.Context, request protocol.SendTransactionRequest,
	) (protocol.SendTransactionResponse, error) {
		var (
			submission sandbox.Submission
			info       ledger.Info
		)
		err := sb.Do(func(s *sandbox.Sandbox) error {
			info = s.LedgerInfo()
			var err error
			submission, err = s.SendTransaction(ctx, request.Transaction)
			return err
		})
		response := protocol.SendTransactionResponse{
			Hash:                  submission.Hash,
			LatestLedger:          info.SequenceNumber,
			LatestLedgerCloseTime: int64(info.Timestamp),
		}
		if err == nil {
			response.Status = protocol.SendTransactionStatusPending
			return response, nil
		}

		if code, ok := validation.ResultCode(err); ok {
			errorResultXDR, marshalErr := xdr.MarshalBase64(sandbox.RejectionResult(code))
			if marshalErr != nil {
				logger.WithError(marshalErr).WithField("hash", submission.Hash).
					Error("could not marshal error result")
				return protocol.SendTransactionResponse{}, internalError(marshalErr)
			}
			response.Status = protocol.SendTransactionStatusError
			response.ErrorResultXDR = errorResultXDR
			return response, nil
		}

		var decodeErr *transaction.DecodeError
		if errors.As(err, &decodeErr) {
			logger.WithError(err).WithField("request", request).
				Info("could not decode submitted transaction")
			return protocol.SendTransactionResponse{}, invalidParams("invalid_xdr: %v", err)
		}
		logger.WithError(err).WithField("hash", submission.Hash).Error("could not submit transaction")
		return protocol.SendTransactionResponse{}, internalError(err)
	})
}
