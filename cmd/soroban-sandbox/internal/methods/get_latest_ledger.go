package methods

import (
	"context"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/protocol"
)

// NewGetLatestLedgerHandler returns a JSON RPC handler to retrieve the current ledger of the sandbox.
func NewGetLatestLedgerHandler(sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context) (protocol.GetLatestLedgerResponse, error) {
		info := currentLedger(sb)
		return protocol.GetLatestLedgerResponse{
			ProtocolVersion: info.ProtocolVersion,
			Sequence:        info.SequenceNumber,
			LedgerCloseTime: int64(info.Timestamp),
		}, nil
	})
}
