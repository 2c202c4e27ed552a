package ledger

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/xdr"
)

// ErrUnexpectedTTL is returned when a live-until ledger is attached to an
// entry kind that is never evicted.
var ErrUnexpectedTTL = errors.New("live-until ledger is only tracked for contract code and contract data entries")

// Entry is a ledger entry together with its live-until ledger, when applicable.
type Entry struct {
	Entry              xdr.LedgerEntry
	LiveUntilLedgerSeq *uint32 // nil when no TTL is tracked
}

type storedEntry struct {
	raw       []byte // xdr.LedgerEntry
	liveUntil *uint32
}

// Store is the in-memory ledger state: at most one entry per ledger key,
// ordered by the key's XDR encoding. Store is not safe for concurrent use;
// callers serialize access (see sandbox.Exclusive).
type Store struct {
	entries *treemap.Map
}

func NewStore() *Store {
	return &Store{entries: treemap.NewWithStringComparator()}
}

// EncodeKey returns the canonical map key for a ledger key.
func EncodeKey(key xdr.LedgerKey) (string, error) {
	raw, err := key.MarshalBinary()
	if err != nil {
		return "", errors.Wrap(err, "could not encode ledger key")
	}
	return string(raw), nil
}

// IsEvictable reports whether entries of the given type carry a live-until ledger.
func IsEvictable(entryType xdr.LedgerEntryType) bool {
	switch entryType {
	case xdr.LedgerEntryTypeContractData, xdr.LedgerEntryTypeContractCode:
		return true
	default:
		return false
	}
}

// Get returns the entry stored under key. A missing key is reported through
// the boolean, never as an error; errors only come from encoding the key.
func (s *Store) Get(key xdr.LedgerKey) (Entry, bool, error) {
	k, err := EncodeKey(key)
	if err != nil {
		return Entry{}, false, err
	}
	return s.get(k)
}

func (s *Store) get(k string) (Entry, bool, error) {
	value, ok := s.entries.Get(k)
	if !ok {
		return Entry{}, false, nil
	}
	entry, err := value.(storedEntry).decode()
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (e storedEntry) decode() (Entry, error) {
	var entry xdr.LedgerEntry
	if err := xdr.SafeUnmarshal(e.raw, &entry); err != nil {
		return Entry{}, errors.Wrap(err, "could not decode stored ledger entry")
	}
	return Entry{Entry: entry, LiveUntilLedgerSeq: copyTTL(e.liveUntil)}, nil
}

// Insert upserts entry under its derived key, replacing the live-until ledger
// wholesale (a nil liveUntil clears it).
func (s *Store) Insert(entry xdr.LedgerEntry, liveUntil *uint32) error {
	m, err := upsertMutation(entry, liveUntil)
	if err != nil {
		return err
	}
	m.apply(s)
	return nil
}

// Remove deletes the entry stored under key. Removing a missing key is a no-op.
func (s *Store) Remove(key xdr.LedgerKey) error {
	m, err := deleteMutation(key)
	if err != nil {
		return err
	}
	m.apply(s)
	return nil
}

// UpdateTTL replaces the live-until ledger of an existing entry, leaving its
// value untouched. A nil liveUntil clears it; missing keys are ignored.
func (s *Store) UpdateTTL(key xdr.LedgerKey, liveUntil *uint32) error {
	m, err := ttlMutation(key, liveUntil)
	if err != nil {
		return err
	}
	m.apply(s)
	return nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	return s.entries.Size()
}

// ForEach calls fn for every entry in key order until fn returns false. It is
// meant for diagnostics; callers must not rely on the order.
func (s *Store) ForEach(fn func(key xdr.LedgerKey, entry Entry) bool) error {
	it := s.entries.Iterator()
	for it.Next() {
		var key xdr.LedgerKey
		if err := xdr.SafeUnmarshal([]byte(it.Key().(string)), &key); err != nil {
			return errors.Wrap(err, "could not decode stored ledger key")
		}
		entry, _, err := s.get(it.Key().(string))
		if err != nil {
			return err
		}
		if !fn(key, entry) {
			return nil
		}
	}
	return nil
}

// GetAccount returns the account entry for the given account id.
func (s *Store) GetAccount(accountID xdr.AccountId) (xdr.AccountEntry, bool, error) {
	entry, ok, err := s.Get(AccountKey(accountID))
	if err != nil || !ok {
		return xdr.AccountEntry{}, false, err
	}
	account, ok := entry.Entry.Data.GetAccount()
	if !ok {
		return xdr.AccountEntry{}, false, errors.Errorf("entry stored under account key has type %s",
			entry.Entry.Data.Type.String())
	}
	return account, true, nil
}

func copyTTL(ttl *uint32) *uint32 {
	if ttl == nil {
		return nil
	}
	v := *ttl
	return &v
}
