package methods

import (
	"context"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/feewindow"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/protocol"
)

func convertFeeDistribution(distribution feewindow.FeeDistribution) protocol.FeeDistribution {
	return protocol.FeeDistribution{
		Max:              distribution.Max,
		Min:              distribution.Min,
		Mode:             distribution.Mode,
		P10:              distribution.P10,
		P20:              distribution.P20,
		P30:              distribution.P30,
		P40:              distribution.P40,
		P50:              distribution.P50,
		P60:              distribution.P60,
		P70:              distribution.P70,
		P80:              distribution.P80,
		P90:              distribution.P90,
		P95:              distribution.P95,
		P99:              distribution.P99,
		TransactionCount: distribution.FeeCount,
		LedgerCount:      distribution.LedgerCount,
	}
}

// NewGetFeeStatsHandler returns a handler obtaining fee statistics
func NewGetFeeStatsHandler(sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context) (protocol.GetFeeStatsResponse, error) {
		var result protocol.GetFeeStatsResponse
		_ = sb.Do(func(s *sandbox.Sandbox) error {
			result = protocol.GetFeeStatsResponse{
				SorobanInclusionFee: convertFeeDistribution(s.FeeDistribution()),
				LatestLedger:        s.LedgerInfo().SequenceNumber,
			}
			return nil
		})
		return result, nil
	})
}
