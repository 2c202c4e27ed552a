package methods

import (
	"context"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/protocol"
)

//nolint:gochecknoglobals
var ErrLedgerTTLEntriesCannotBeQueriedDirectly = "ledger ttl entries cannot be queried directly"

const getLedgerEntriesMaxKeys = 200

// NewGetLedgerEntriesHandler returns a JSON RPC handler to retrieve the specified ledger entries from the sandbox.
func NewGetLedgerEntriesHandler(logger *log.Entry, sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context, request protocol.GetLedgerEntriesRequest,
	) (protocol.GetLedgerEntriesResponse, error) {
		if len(request.Keys) > getLedgerEntriesMaxKeys {
			return protocol.GetLedgerEntriesResponse{}, invalidParams(
				"key count (%d) exceeds maximum supported (%d)", len(request.Keys), getLedgerEntriesMaxKeys)
		}
		ledgerKeys := make([]xdr.LedgerKey, 0, len(request.Keys))
		for i, requestKey := range request.Keys {
			var ledgerKey xdr.LedgerKey
			if err := xdr.SafeUnmarshalBase64(requestKey, &ledgerKey); err != nil {
				logger.WithError(err).WithField("request", request).
					Infof("could not unmarshal requestKey %s at index %d from getLedgerEntries request", requestKey, i)
				return protocol.GetLedgerEntriesResponse{}, invalidParams(
					"cannot unmarshal key value %s at index %d", requestKey, i)
			}
			if ledgerKey.Type == xdr.LedgerEntryTypeTtl {
				logger.WithField("request", request).
					Infof("could not provide ledger ttl entry %s at index %d from getLedgerEntries request", requestKey, i)
				return protocol.GetLedgerEntriesResponse{}, invalidParams("%s", ErrLedgerTTLEntriesCannotBeQueriedDirectly)
			}
			ledgerKeys = append(ledgerKeys, ledgerKey)
		}

		var (
			entries      []ledger.Entry
			latestLedger uint32
		)
		err := sb.Do(func(s *sandbox.Sandbox) error {
			latestLedger = s.LedgerInfo().SequenceNumber
			for _, key := range ledgerKeys {
				entry, ok, err := s.GetLedgerEntry(key)
				if err != nil {
					return err
				}
				// A missing entry is the 404 equivalent; skip it.
				if ok {
					entries = append(entries, entry)
				}
			}
			return nil
		})
		if err != nil {
			return protocol.GetLedgerEntriesResponse{}, internalError(err)
		}

		ledgerEntryResults := make([]protocol.LedgerEntryResult, 0, len(entries))
		for _, entry := range entries {
			result, err := ledgerEntryResult(entry)
			if err != nil {
				return protocol.GetLedgerEntriesResponse{}, internalError(err)
			}
			ledgerEntryResults = append(ledgerEntryResults, result)
		}

		return protocol.GetLedgerEntriesResponse{
			Entries:      ledgerEntryResults,
			LatestLedger: latestLedger,
		}, nil
	})
}

func ledgerEntryResult(entry ledger.Entry) (protocol.LedgerEntryResult, error) {
	key, err := entry.Entry.LedgerKey()
	if err != nil {
		return protocol.LedgerEntryResult{}, err
	}
	keyXDR, err := xdr.MarshalBase64(key)
	if err != nil {
		return protocol.LedgerEntryResult{}, err
	}
	entryXDR, err := xdr.MarshalBase64(entry.Entry.Data)
	if err != nil {
		return protocol.LedgerEntryResult{}, err
	}
	return protocol.LedgerEntryResult{
		KeyXDR:             keyXDR,
		DataXDR:            entryXDR,
		LastModifiedLedger: uint32(entry.Entry.LastModifiedLedgerSeq),
		LiveUntilLedgerSeq: entry.LiveUntilLedgerSeq,
	}, nil
}
