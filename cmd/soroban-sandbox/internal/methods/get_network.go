package methods

import (
	"context"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/protocol"
)

// NewGetNetworkHandler returns a json rpc handler to for the getNetwork method
func NewGetNetworkHandler(sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context, _ protocol.GetNetworkRequest) (protocol.GetNetworkResponse, error) {
		var network sandbox.NetworkInfo
		_ = sb.Do(func(s *sandbox.Sandbox) error {
			network = s.NetworkInfo()
			return nil
		})
		return protocol.GetNetworkResponse{
			Passphrase:      network.Passphrase,
			ProtocolVersion: int(network.ProtocolVersion),
			NetworkID:       network.NetworkID,
		}, nil
	})
}
