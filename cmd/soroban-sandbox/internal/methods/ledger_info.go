package methods

import (
	"context"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/protocol"
)

func ledgerInfoResponse(info ledger.Info) protocol.GetLedgerInfoResponse {
	return protocol.GetLedgerInfoResponse{
		ProtocolVersion:       info.ProtocolVersion,
		Sequence:              info.SequenceNumber,
		Timestamp:             info.Timestamp,
		NetworkID:             info.NetworkIDHex(),
		BaseReserve:           info.BaseReserve,
		MinTemporaryEntryTTL:  info.MinTemporaryEntryTTL,
		MinPersistentEntryTTL: info.MinPersistentEntryTTL,
		MaxEntryTTL:           info.MaxEntryTTL,
	}
}

func NewGetLedgerInfoHandler(sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context) (protocol.GetLedgerInfoResponse, error) {
		return ledgerInfoResponse(currentLedger(sb)), nil
	})
}

// NewSetLedgerTimestampHandler returns a handler moving the ledger close time.
// Time bounds of later submissions are checked against it.
func NewSetLedgerTimestampHandler(logger *log.Entry, sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context, request protocol.SetLedgerTimestampRequest,
	) (protocol.GetLedgerInfoResponse, error) {
		var info ledger.Info
		_ = sb.Do(func(s *sandbox.Sandbox) error {
			s.SetTimestamp(request.Timestamp)
			info = s.LedgerInfo()
			return nil
		})
		logger.WithField("timestamp", request.Timestamp).Info("ledger timestamp set")
		return ledgerInfoResponse(info), nil
	})
}

// NewSetLedgerSequenceHandler returns a handler moving the ledger sequence,
// which expires or revives entries depending on their TTL.
func NewSetLedgerSequenceHandler(logger *log.Entry, sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context, request protocol.SetLedgerSequenceRequest,
	) (protocol.GetLedgerInfoResponse, error) {
		if request.Sequence == 0 {
			return protocol.GetLedgerInfoResponse{}, invalidParams("ledger sequence must be positive")
		}
		var info ledger.Info
		_ = sb.Do(func(s *sandbox.Sandbox) error {
			s.SetSequence(request.Sequence)
			info = s.LedgerInfo()
			return nil
		})
		logger.WithField("sequence", request.Sequence).Info("ledger sequence set")
		return ledgerInfoResponse(info), nil
	})
}
