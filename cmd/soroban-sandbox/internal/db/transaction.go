package db

import (
	"context"
	"encoding/json"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/support/db"
	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/txstore"
)

const (
	transactionTableName = "transactions"
	eventTableName       = "transaction_events"
)

// TransactionStore is a txstore.Store kept in an in-memory sqlite database.
type TransactionStore struct {
	lock    sync.Mutex
	log     *log.Entry
	session *db.Session
}

var _ txstore.Store = (*TransactionStore)(nil)

func NewTransactionStore(ctx context.Context, logger *log.Entry) (*TransactionStore, error) {
	session, err := OpenInMemory(ctx)
	if err != nil {
		return nil, err
	}
	return &TransactionStore{log: logger, session: session}, nil
}

func (s *TransactionStore) Close() error {
	return s.session.Close()
}

func (s *TransactionStore) Record(ctx context.Context, rec txstore.Record) (err error) {
	info, err := json.Marshal(rec.Ledger)
	if err != nil {
		return errors.Wrap(err, "could not encode ledger info")
	}
	events, err := txstore.DecodeEvents(rec)
	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if err = s.session.Begin(ctx); err != nil {
		return errors.Wrap(err, "could not begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := s.session.Rollback(); rollbackErr != nil {
				s.log.WithError(rollbackErr).Warn("could not roll back transaction record")
			}
		}
	}()

	var returnValue []byte
	if len(rec.ReturnValue) > 0 {
		returnValue = rec.ReturnValue
	}
	_, err = s.session.Exec(ctx, sq.Replace(transactionTableName).
		Columns(
			"hash",
			"application_order",
			"successful",
			"envelope",
			"result",
			"return_value",
			"error",
			"fee_charged",
			"ledger_sequence",
			"ledger_close_time",
			"ledger_info",
		).
		Values(
			rec.Hash,
			rec.ApplicationOrder,
			rec.Successful,
			rec.Envelope,
			rec.Result,
			returnValue,
			rec.Error,
			rec.FeeCharged,
			rec.Ledger.SequenceNumber,
			rec.Ledger.Timestamp,
			string(info),
		))
	if err != nil {
		return errors.Wrap(err, "could not insert transaction")
	}

	// the events of a replaced record go with it
	_, err = s.session.Exec(ctx, sq.Delete(eventTableName).Where(sq.Eq{"transaction_hash": rec.Hash}))
	if err != nil {
		return errors.Wrap(err, "could not delete transaction events")
	}
	if len(rec.Events) > 0 {
		query := sq.Insert(eventTableName).
			Columns("transaction_hash", "event_index", "event_data", "contract_id", "event_type")
		for index, event := range events {
			var contractID []byte
			if event.Event.ContractId != nil {
				contractID = event.Event.ContractId[:]
			}
			query = query.Values(rec.Hash, index, rec.Events[index], contractID, int(event.Event.Type))
		}
		if _, err = s.session.Exec(ctx, query); err != nil {
			return errors.Wrap(err, "could not insert transaction events")
		}
	}

	if err = s.session.Commit(); err != nil {
		return errors.Wrap(err, "could not commit transaction record")
	}
	return nil
}

func (s *TransactionStore) Lookup(ctx context.Context, hash string) (txstore.Record, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	rows, err := s.session.Query(ctx, sq.
		Select("application_order", "successful", "envelope", "result", "return_value", "error", "fee_charged", "ledger_info").
		From(transactionTableName).
		Where(sq.Eq{"hash": hash}))
	if err != nil {
		return txstore.Record{}, false, errors.Wrap(err, "db read failed")
	}
	defer rows.Close()
	if !rows.Next() {
		return txstore.Record{}, false, rows.Err()
	}

	rec := txstore.Record{Hash: hash}
	var info string
	if err := rows.Scan(
		&rec.ApplicationOrder,
		&rec.Successful,
		&rec.Envelope,
		&rec.Result,
		&rec.ReturnValue,
		&rec.Error,
		&rec.FeeCharged,
		&info,
	); err != nil {
		return txstore.Record{}, false, errors.Wrap(err, "failed to scan row")
	}
	if err := rows.Close(); err != nil {
		return txstore.Record{}, false, err
	}
	var ledgerInfo ledger.Info
	if err := json.Unmarshal([]byte(info), &ledgerInfo); err != nil {
		return txstore.Record{}, false, errors.Wrap(err, "could not decode ledger info")
	}
	rec.Ledger = ledgerInfo

	eventRows, err := s.session.Query(ctx, sq.
		Select("event_data").
		From(eventTableName).
		Where(sq.Eq{"transaction_hash": hash}).
		OrderBy("event_index ASC"))
	if err != nil {
		return txstore.Record{}, false, errors.Wrap(err, "db read failed")
	}
	defer eventRows.Close()
	for eventRows.Next() {
		var event []byte
		if err := eventRows.Scan(&event); err != nil {
			return txstore.Record{}, false, errors.Wrap(err, "failed to scan row")
		}
		rec.Events = append(rec.Events, event)
	}
	if err := eventRows.Err(); err != nil {
		return txstore.Record{}, false, err
	}

	s.log.WithField("hash", hash).WithField("events", len(rec.Events)).Debug("transaction record read")
	return rec, true, nil
}
