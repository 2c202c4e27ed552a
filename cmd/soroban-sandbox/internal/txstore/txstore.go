// Package txstore keeps the outcome of every submitted transaction, keyed by
// its hex encoded hash.
package txstore

import (
	"context"
	"slices"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/protocol"
)

// Record is the final outcome of a submission. Records are immutable once
// stored.
type Record struct {
	Hash string
	// ApplicationOrder numbers the applied transactions of a sandbox,
	// starting at 1.
	ApplicationOrder uint64
	Successful       bool
	// Envelope is the encoded xdr.TransactionEnvelope.
	Envelope []byte
	// Result is the encoded xdr.TransactionResult.
	Result []byte
	// ReturnValue is the encoded xdr.ScVal, set for successful transactions.
	ReturnValue []byte
	// Error is the execution failure of an unsuccessful transaction.
	Error      string
	FeeCharged int64
	// Events are encoded xdr.DiagnosticEvent values, contract events first.
	Events [][]byte
	// Ledger is the ledger info the transaction executed against.
	Ledger ledger.Info
}

// EventQuery selects the events of successful transactions at or after
// Start. The zero value selects every event.
type EventQuery struct {
	Start       protocol.Cursor
	StartLedger uint32
	// EndLedger is exclusive; 0 means unbounded.
	EndLedger   uint32
	ContractIDs []xdr.ContractId
	EventTypes  []xdr.ContractEventType
}

// Event is a decoded event together with where it was emitted.
type Event struct {
	Cursor          protocol.Cursor
	TransactionHash string
	Ledger          uint32
	LedgerCloseTime uint64
	Event           xdr.DiagnosticEvent
}

// ScanFunction receives events in cursor order. Returning false stops the
// scan.
type ScanFunction func(Event) bool

// Store records transactions (write) and looks them up (read) from an
// abstract backend storage, either in memory or in sqlite.
type Store interface {
	// Record stores rec under rec.Hash, replacing any earlier record with
	// the same hash.
	Record(ctx context.Context, rec Record) error
	// Lookup returns the record for hash. A missing record is not an error.
	Lookup(ctx context.Context, hash string) (Record, bool, error)
	// Events applies f to the events selected by query, in cursor order.
	Events(ctx context.Context, query EventQuery, f ScanFunction) error
}

// Matches reports whether an event passes the ledger, contract and type
// constraints of q. The cursor bound is checked by the stores.
func (q EventQuery) Matches(ledgerSeq uint32, event xdr.DiagnosticEvent) bool {
	if ledgerSeq < q.StartLedger || (q.EndLedger != 0 && ledgerSeq >= q.EndLedger) {
		return false
	}
	if len(q.EventTypes) > 0 && !slices.Contains(q.EventTypes, event.Event.Type) {
		return false
	}
	if len(q.ContractIDs) > 0 {
		if event.Event.ContractId == nil || !slices.Contains(q.ContractIDs, *event.Event.ContractId) {
			return false
		}
	}
	return true
}

// DecodeEvents decodes the events of rec.
func DecodeEvents(rec Record) ([]xdr.DiagnosticEvent, error) {
	events := make([]xdr.DiagnosticEvent, len(rec.Events))
	for i, raw := range rec.Events {
		if err := xdr.SafeUnmarshal(raw, &events[i]); err != nil {
			return nil, errors.Wrapf(err, "could not decode event %d of transaction %s", i, rec.Hash)
		}
	}
	return events, nil
}

type MemoryStore struct {
	lock    sync.RWMutex
	records map[string]Record
	// byOrder maps application order to hash
	byOrder *treemap.Map
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]Record{},
		byOrder: treemap.NewWith(utils.UInt64Comparator),
	}
}

func (m *MemoryStore) Record(_ context.Context, rec Record) error {
	if _, err := DecodeEvents(rec); err != nil {
		return err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if previous, ok := m.records[rec.Hash]; ok {
		m.byOrder.Remove(previous.ApplicationOrder)
	}
	m.records[rec.Hash] = rec.clone()
	m.byOrder.Put(rec.ApplicationOrder, rec.Hash)
	return nil
}

func (m *MemoryStore) Lookup(_ context.Context, hash string) (Record, bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	rec, ok := m.records[hash]
	if !ok {
		return Record{}, false, nil
	}
	return rec.clone(), true, nil
}

func (m *MemoryStore) Events(_ context.Context, query EventQuery, f ScanFunction) error {
	m.lock.RLock()
	defer m.lock.RUnlock()

	it := m.byOrder.Iterator()
	for it.Next() {
		order := it.Key().(uint64)
		if order < query.Start.Order {
			continue
		}
		rec := m.records[it.Value().(string)]
		if !rec.Successful {
			continue
		}
		events, err := DecodeEvents(rec)
		if err != nil {
			return err
		}
		for i, event := range events {
			cursor := protocol.Cursor{Order: order, Event: uint32(i)}
			if order == query.Start.Order && cursor.Event < query.Start.Event {
				continue
			}
			if !query.Matches(rec.Ledger.SequenceNumber, event) {
				continue
			}
			if !f(Event{
				Cursor:          cursor,
				TransactionHash: rec.Hash,
				Ledger:          rec.Ledger.SequenceNumber,
				LedgerCloseTime: rec.Ledger.Timestamp,
				Event:           event,
			}) {
				return nil
			}
		}
	}
	return nil
}

func (m *MemoryStore) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.records)
}

func (r Record) clone() Record {
	r.Envelope = slices.Clone(r.Envelope)
	r.Result = slices.Clone(r.Result)
	r.ReturnValue = slices.Clone(r.ReturnValue)
	if r.Events != nil {
		events := make([][]byte, len(r.Events))
		for i, event := range r.Events {
			events[i] = slices.Clone(event)
		}
		r.Events = events
	}
	return r
}
