package executor

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/engine"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
)

var (
	ErrChangeOutsideFootprint = errors.New("ledger change for a key outside the footprint")
	ErrReadOnlyValueChange    = errors.New("ledger change writes a value to a read-only key")
	ErrChangeKeyMismatch      = errors.New("ledger change value does not match its key")
)

// ApplyLedgerChanges writes the engine's ledger changes to store and returns
// the number of writes. The changes are applied atomically: if any of them
// is rejected the store is left untouched.
func ApplyLedgerChanges(store *ledger.Store, footprint xdr.LedgerFootprint, changes []engine.LedgerEntryChange) (int, error) {
	tx, err := StageLedgerChanges(store, footprint, changes)
	if err != nil {
		return 0, err
	}
	applied := tx.Len()
	tx.Commit()
	return applied, nil
}

// StageLedgerChanges checks the engine's ledger changes against the footprint
// and stages them on a write transaction of store. A change with a new value
// upserts the entry with the new live-until ledger. A read-write key without
// a new value is removed. A read-only key without a new value only has its
// live-until ledger extended, when the change carries one.
func StageLedgerChanges(
	store *ledger.Store,
	footprint xdr.LedgerFootprint,
	changes []engine.LedgerEntryChange,
) (*ledger.WriteTx, error) {
	readOnly := make(map[string]bool, len(footprint.ReadOnly)+len(footprint.ReadWrite))
	for _, key := range footprint.ReadOnly {
		k, err := ledger.EncodeKey(key)
		if err != nil {
			return nil, err
		}
		readOnly[k] = true
	}
	for _, key := range footprint.ReadWrite {
		k, err := ledger.EncodeKey(key)
		if err != nil {
			return nil, err
		}
		readOnly[k] = false
	}

	tx := store.NewWriteTx(len(changes))
	for i, change := range changes {
		var key xdr.LedgerKey
		if err := xdr.SafeUnmarshal(change.EncodedKey, &key); err != nil {
			return nil, errors.Wrapf(err, "could not unmarshal key of ledger change %d", i)
		}
		k, err := ledger.EncodeKey(key)
		if err != nil {
			return nil, err
		}
		isReadOnly, inFootprint := readOnly[k]
		if !inFootprint {
			return nil, errors.Wrapf(ErrChangeOutsideFootprint, "change %d, key type %s", i, key.Type.String())
		}
		isReadOnly = isReadOnly || change.ReadOnly

		var liveUntil *uint32
		if change.TTLChange != nil {
			v := change.TTLChange.NewLiveUntilLedger
			liveUntil = &v
		}

		switch {
		case change.EncodedNewValue != nil:
			if isReadOnly {
				return nil, errors.Wrapf(ErrReadOnlyValueChange, "change %d, key type %s", i, key.Type.String())
			}
			var entry xdr.LedgerEntry
			if err := xdr.SafeUnmarshal(change.EncodedNewValue, &entry); err != nil {
				return nil, errors.Wrapf(err, "could not unmarshal value of ledger change %d", i)
			}
			if err := checkEntryKey(entry, change.EncodedKey); err != nil {
				return nil, errors.Wrapf(err, "change %d", i)
			}
			err = tx.Upsert(entry, liveUntil)
		case !isReadOnly:
			err = tx.Delete(key)
		case liveUntil != nil:
			err = tx.UpdateTTL(key, liveUntil)
		default:
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "could not stage ledger change %d", i)
		}
	}
	return tx, nil
}

func checkEntryKey(entry xdr.LedgerEntry, encodedKey []byte) error {
	key, err := entry.LedgerKey()
	if err != nil {
		return errors.Wrap(err, "could not derive ledger key")
	}
	raw, err := key.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "could not encode ledger key")
	}
	if !bytes.Equal(raw, encodedKey) {
		return ErrChangeKeyMismatch
	}
	return nil
}
