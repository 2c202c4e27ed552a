package methods

import (
	"context"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/config"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/protocol"
)

func NewGetVersionInfoHandler(sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context, _ protocol.GetVersionInfoRequest,
	) (protocol.GetVersionInfoResponse, error) {
		return protocol.GetVersionInfoResponse{
			Version:         config.Version,
			CommitHash:      config.CommitHash,
			BuildTimestamp:  config.BuildTimestamp,
			ProtocolVersion: currentLedger(sb).ProtocolVersion,
		}, nil
	})
}
