package ledger

import (
	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/xdr"
)

type mutationKind int

const (
	mutationUpsert mutationKind = iota
	mutationDelete
	mutationTTL
)

// mutation is a fully encoded change, so applying it cannot fail.
type mutation struct {
	kind      mutationKind
	key       string
	raw       []byte
	liveUntil *uint32
}

func upsertMutation(entry xdr.LedgerEntry, liveUntil *uint32) (mutation, error) {
	if liveUntil != nil && !IsEvictable(entry.Data.Type) {
		return mutation{}, errors.Wrapf(ErrUnexpectedTTL, "entry type %s", entry.Data.Type.String())
	}
	key, err := entry.LedgerKey()
	if err != nil {
		return mutation{}, errors.Wrap(err, "could not derive ledger key")
	}
	k, err := EncodeKey(key)
	if err != nil {
		return mutation{}, err
	}
	raw, err := entry.MarshalBinary()
	if err != nil {
		return mutation{}, errors.Wrap(err, "could not encode ledger entry")
	}
	return mutation{kind: mutationUpsert, key: k, raw: raw, liveUntil: copyTTL(liveUntil)}, nil
}

func deleteMutation(key xdr.LedgerKey) (mutation, error) {
	k, err := EncodeKey(key)
	if err != nil {
		return mutation{}, err
	}
	return mutation{kind: mutationDelete, key: k}, nil
}

func ttlMutation(key xdr.LedgerKey, liveUntil *uint32) (mutation, error) {
	if liveUntil != nil && !IsEvictable(key.Type) {
		return mutation{}, errors.Wrapf(ErrUnexpectedTTL, "entry type %s", key.Type.String())
	}
	k, err := EncodeKey(key)
	if err != nil {
		return mutation{}, err
	}
	return mutation{kind: mutationTTL, key: k, liveUntil: copyTTL(liveUntil)}, nil
}

func (m mutation) apply(s *Store) {
	switch m.kind {
	case mutationUpsert:
		s.entries.Put(m.key, storedEntry{raw: m.raw, liveUntil: m.liveUntil})
	case mutationDelete:
		s.entries.Remove(m.key)
	case mutationTTL:
		value, ok := s.entries.Get(m.key)
		if !ok {
			return
		}
		stored := value.(storedEntry)
		stored.liveUntil = m.liveUntil
		s.entries.Put(m.key, stored)
	}
}

// WriteTx stages changes against a Store. Nothing is visible to readers of
// the store until Commit, and a transaction that is dropped without
// committing leaves the store untouched.
type WriteTx struct {
	pending []mutation
	parent  *Store
}

// NewWriteTx starts a write transaction against s.
func (s *Store) NewWriteTx(estimatedWriteCount int) *WriteTx {
	return &WriteTx{
		pending: make([]mutation, 0, estimatedWriteCount),
		parent:  s,
	}
}

// Upsert stages an insert or replacement of entry.
func (w *WriteTx) Upsert(entry xdr.LedgerEntry, liveUntil *uint32) error {
	m, err := upsertMutation(entry, liveUntil)
	if err != nil {
		return err
	}
	w.pending = append(w.pending, m)
	return nil
}

// Delete stages the removal of key.
func (w *WriteTx) Delete(key xdr.LedgerKey) error {
	m, err := deleteMutation(key)
	if err != nil {
		return err
	}
	w.pending = append(w.pending, m)
	return nil
}

// UpdateTTL stages a live-until change for key.
func (w *WriteTx) UpdateTTL(key xdr.LedgerKey, liveUntil *uint32) error {
	m, err := ttlMutation(key, liveUntil)
	if err != nil {
		return err
	}
	w.pending = append(w.pending, m)
	return nil
}

// Get returns the entry under key as readers would see it after Commit.
func (w *WriteTx) Get(key xdr.LedgerKey) (Entry, bool, error) {
	k, err := EncodeKey(key)
	if err != nil {
		return Entry{}, false, err
	}
	var ttl *mutation
	for i := len(w.pending) - 1; i >= 0; i-- {
		m := &w.pending[i]
		if m.key != k {
			continue
		}
		switch m.kind {
		case mutationTTL:
			if ttl == nil {
				ttl = m
			}
		case mutationDelete:
			return Entry{}, false, nil
		case mutationUpsert:
			entry, err := storedEntry{raw: m.raw, liveUntil: m.liveUntil}.decode()
			if err != nil {
				return Entry{}, false, err
			}
			if ttl != nil {
				entry.LiveUntilLedgerSeq = copyTTL(ttl.liveUntil)
			}
			return entry, true, nil
		}
	}
	entry, ok, err := w.parent.get(k)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	if ttl != nil {
		entry.LiveUntilLedgerSeq = copyTTL(ttl.liveUntil)
	}
	return entry, true, nil
}

// Len returns the number of staged changes.
func (w *WriteTx) Len() int {
	return len(w.pending)
}

// Commit applies the staged changes in the order they were staged.
func (w *WriteTx) Commit() {
	for _, m := range w.pending {
		m.apply(w.parent)
	}
	w.pending = nil
}
