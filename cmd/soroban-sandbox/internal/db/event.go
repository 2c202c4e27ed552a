package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/txstore"
	"github.com/stellar/soroban-sandbox/protocol"
)

// Events applies f on the events of successful transactions selected by
// query, in ascending cursor order. If f returns false, the scan terminates
// early.
func (s *TransactionStore) Events(ctx context.Context, query txstore.EventQuery, f txstore.ScanFunction) error {
	start := time.Now()
	s.lock.Lock()
	defer s.lock.Unlock()

	rowQ := sq.
		Select(
			"e.transaction_hash",
			"e.event_index",
			"e.event_data",
			"t.application_order",
			"t.ledger_sequence",
			"t.ledger_close_time",
		).
		From(eventTableName + " e").
		Join(transactionTableName + " t ON t.hash = e.transaction_hash").
		Where(sq.Eq{"t.successful": true}).
		Where(sq.Or{
			sq.Gt{"t.application_order": query.Start.Order},
			sq.And{
				sq.Eq{"t.application_order": query.Start.Order},
				sq.GtOrEq{"e.event_index": query.Start.Event},
			},
		}).
		OrderBy("t.application_order ASC", "e.event_index ASC")

	if query.StartLedger > 0 {
		rowQ = rowQ.Where(sq.GtOrEq{"t.ledger_sequence": query.StartLedger})
	}
	if query.EndLedger > 0 {
		rowQ = rowQ.Where(sq.Lt{"t.ledger_sequence": query.EndLedger})
	}
	if len(query.ContractIDs) > 0 {
		contractIDs := make([][]byte, len(query.ContractIDs))
		for i, id := range query.ContractIDs {
			contractIDs[i] = id[:]
		}
		rowQ = rowQ.Where(sq.Eq{"e.contract_id": contractIDs})
	}
	if len(query.EventTypes) > 0 {
		eventTypes := make([]int, len(query.EventTypes))
		for i, eventType := range query.EventTypes {
			eventTypes[i] = int(eventType)
		}
		rowQ = rowQ.Where(sq.Eq{"e.event_type": eventTypes})
	}

	rows, err := s.session.Query(ctx, rowQ)
	if err != nil {
		s.log.
			WithField("duration", time.Since(start)).
			WithField("start", query.Start.String()).
			WithField("eventTypes", query.EventTypes).
			Debug("db read failed for requested parameter")
		return errors.Wrap(err, "db read failed for requested parameter")
	}
	defer rows.Close()

	scanned := 0
	for rows.Next() {
		var (
			row struct {
				transactionHash  string
				eventIndex       uint32
				eventData        []byte
				applicationOrder uint64
				ledgerSequence   uint32
				ledgerCloseTime  uint64
			}
			event xdr.DiagnosticEvent
		)
		err = rows.Scan(
			&row.transactionHash,
			&row.eventIndex,
			&row.eventData,
			&row.applicationOrder,
			&row.ledgerSequence,
			&row.ledgerCloseTime,
		)
		if err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		if err = xdr.SafeUnmarshal(row.eventData, &event); err != nil {
			return errors.Wrap(err, "failed to decode event")
		}
		scanned++
		if !f(txstore.Event{
			Cursor:          protocol.Cursor{Order: row.applicationOrder, Event: row.eventIndex},
			TransactionHash: row.transactionHash,
			Ledger:          row.ledgerSequence,
			LedgerCloseTime: row.ledgerCloseTime,
			Event:           event,
		}) {
			break
		}
	}

	s.log.
		WithField("start", query.Start.String()).
		WithField("scanned", scanned).
		WithField("duration", time.Since(start)).
		Debug("fetched and decoded events")
	return rows.Err()
}
