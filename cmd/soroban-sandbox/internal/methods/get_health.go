package methods

import (
	"context"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/protocol"
)

// NewHealthCheck returns a health check json rpc handler. The sandbox is
// healthy as soon as it serves requests.
func NewHealthCheck(sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context) (protocol.GetHealthResponse, error) {
		return protocol.GetHealthResponse{
			Status:       protocol.HealthStatusHealthy,
			LatestLedger: currentLedger(sb).SequenceNumber,
		}, nil
	})
}
