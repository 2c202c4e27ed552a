package builtin

import (
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/engine"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
)

var (
	ErrOutsideFootprint = errors.New("ledger key is outside the transaction footprint")
	ErrReadOnlyWrite    = errors.New("write to a read-only footprint entry")
	ErrArchived         = errors.New("entry is archived and must be restored")
	ErrDuplicateKey     = errors.New("duplicate key in footprint")
)

type access int

const (
	accessReadOnly access = iota
	accessReadWrite
)

type slot struct {
	key      xdr.LedgerKey
	access   access
	original *xdr.LedgerEntry
	current  *xdr.LedgerEntry
	origTTL  *uint32
	ttl      *uint32
	restored bool
	// loadedSize is the encoded size of the entry when it was loaded.
	loadedSize int
}

// storage is the engine's view of the ledger for one invocation. In
// enforcing mode it is limited to the declared footprint; in recording mode
// it loads entries from a snapshot and builds the footprint as it goes.
type storage struct {
	info      ledger.Info
	recording bool
	snapshot  engine.SnapshotSource
	slots     map[string]*slot
	// order is the footprint order in enforcing mode and first-access order
	// in recording mode.
	order []string
	// restorable holds the keys the transaction declared as restored.
	restorable map[string]bool
}

func newRecordingStorage(info ledger.Info, snapshot engine.SnapshotSource) *storage {
	return &storage{
		info:      info,
		recording: true,
		snapshot:  snapshot,
		slots:     map[string]*slot{},
	}
}

// newEnforcingStorage builds the footprint view from the engine inputs.
// entries and ttls are keyed by encoded ledger key and TTL key hash.
func newEnforcingStorage(
	info ledger.Info,
	footprint xdr.LedgerFootprint,
	restoredIndices []uint32,
	entries map[string]xdr.LedgerEntry,
	ttls map[xdr.Hash]uint32,
) (*storage, error) {
	st := &storage{
		info:       info,
		slots:      make(map[string]*slot, len(footprint.ReadOnly)+len(footprint.ReadWrite)),
		restorable: map[string]bool{},
	}
	add := func(key xdr.LedgerKey, mode access) error {
		k, err := ledger.EncodeKey(key)
		if err != nil {
			return err
		}
		if _, ok := st.slots[k]; ok {
			return errors.Wrapf(ErrDuplicateKey, "key type %s", key.Type.String())
		}
		s := &slot{key: key, access: mode}
		if entry, ok := entries[k]; ok {
			s.original = &entry
			s.current = &entry
			s.loadedSize = encodedSize(entry)
			keyHash, err := ledger.TTLKeyHash(key)
			if err != nil {
				return err
			}
			if liveUntil, ok := ttls[keyHash]; ok {
				s.origTTL = &liveUntil
				s.ttl = &liveUntil
			}
		}
		st.slots[k] = s
		st.order = append(st.order, k)
		return nil
	}
	for _, key := range footprint.ReadOnly {
		if err := add(key, accessReadOnly); err != nil {
			return nil, err
		}
	}
	for _, key := range footprint.ReadWrite {
		if err := add(key, accessReadWrite); err != nil {
			return nil, err
		}
	}
	for _, idx := range restoredIndices {
		if int(idx) >= len(footprint.ReadWrite) {
			return nil, errors.Errorf("restored entry index %d is out of range", idx)
		}
		k, err := ledger.EncodeKey(footprint.ReadWrite[idx])
		if err != nil {
			return nil, err
		}
		st.restorable[k] = true
	}
	return st, nil
}

func (st *storage) load(key xdr.LedgerKey) (string, *slot, error) {
	k, err := ledger.EncodeKey(key)
	if err != nil {
		return "", nil, err
	}
	if s, ok := st.slots[k]; ok {
		return k, s, nil
	}
	if !st.recording {
		return "", nil, errors.Wrapf(ErrOutsideFootprint, "key type %s", key.Type.String())
	}
	s := &slot{key: key, access: accessReadOnly}
	found, ok, err := st.snapshot.Get(key)
	if err != nil {
		return "", nil, errors.Wrap(err, "could not read ledger snapshot")
	}
	if ok {
		entry := found.Entry
		s.original = &entry
		s.current = &entry
		s.loadedSize = encodedSize(entry)
		s.origTTL = found.LiveUntilLedgerSeq
		s.ttl = found.LiveUntilLedgerSeq
	}
	st.slots[k] = s
	st.order = append(st.order, k)
	return k, s, nil
}

// get returns the live entry under key, or nil when there is none. Expired
// temporary entries read as absent; expired persistent entries must be
// restored.
func (st *storage) get(key xdr.LedgerKey) (*xdr.LedgerEntry, error) {
	k, s, err := st.load(key)
	if err != nil {
		return nil, err
	}
	if s.current == nil {
		return nil, nil
	}
	if st.expired(s) {
		if !isPersistent(key) {
			return nil, nil
		}
		if err := st.restore(k, s); err != nil {
			return nil, err
		}
	}
	return s.current, nil
}

func (st *storage) expired(s *slot) bool {
	return ledger.IsEvictable(s.key.Type) && s.ttl != nil && *s.ttl < st.info.SequenceNumber
}

func (st *storage) restore(k string, s *slot) error {
	if st.recording {
		s.access = accessReadWrite
	} else if !st.restorable[k] || s.access != accessReadWrite {
		return errors.Wrapf(ErrArchived, "key type %s", s.key.Type.String())
	}
	liveUntil := st.info.MinLiveUntil(true)
	s.ttl = &liveUntil
	s.restored = true
	return nil
}

// put writes entry under its derived key. New evictable entries, and
// expired ones being overwritten, get the minimum TTL for their durability.
func (st *storage) put(entry xdr.LedgerEntry) error {
	key, err := entry.LedgerKey()
	if err != nil {
		return errors.Wrap(err, "could not derive ledger key")
	}
	_, s, err := st.load(key)
	if err != nil {
		return err
	}
	if st.recording {
		s.access = accessReadWrite
	} else if s.access != accessReadWrite {
		return errors.Wrapf(ErrReadOnlyWrite, "key type %s", key.Type.String())
	}
	entry.LastModifiedLedgerSeq = xdr.Uint32(st.info.SequenceNumber)
	s.current = &entry
	if ledger.IsEvictable(key.Type) && (s.ttl == nil || st.expired(s)) {
		liveUntil := st.info.MinLiveUntil(isPersistent(key))
		s.ttl = &liveUntil
	}
	return nil
}

// changes reports one change per footprint key, read-only keys first.
func (st *storage) changes() ([]engine.LedgerEntryChange, error) {
	result := make([]engine.LedgerEntryChange, 0, len(st.order))
	for _, mode := range []access{accessReadOnly, accessReadWrite} {
		for _, k := range st.order {
			s := st.slots[k]
			if s.access != mode {
				continue
			}
			change := engine.LedgerEntryChange{
				ReadOnly:   mode == accessReadOnly,
				EncodedKey: []byte(k),
			}
			if mode == accessReadWrite && s.current != nil {
				raw, err := s.current.MarshalBinary()
				if err != nil {
					return nil, errors.Wrap(err, "could not encode ledger entry")
				}
				change.EncodedNewValue = raw
			}
			// read-write entries always carry their TTL, read-only ones only when it moved
			if s.current != nil && s.ttl != nil && (mode == accessReadWrite || s.origTTL == nil || *s.origTTL != *s.ttl) {
				change.TTLChange = &engine.TTLChange{NewLiveUntilLedger: *s.ttl}
				if s.origTTL != nil {
					change.TTLChange.OldLiveUntilLedger = *s.origTTL
				}
			}
			result = append(result, change)
		}
	}
	return result, nil
}

// footprint returns the keys accessed in recording mode, each list sorted
// by encoded key, plus the indices of restored read-write keys.
func (st *storage) footprint() (xdr.LedgerFootprint, []uint32) {
	var readOnly, readWrite []string
	for _, k := range st.order {
		if st.slots[k].access == accessReadWrite {
			readWrite = append(readWrite, k)
		} else {
			readOnly = append(readOnly, k)
		}
	}
	slices.SortFunc(readOnly, strings.Compare)
	slices.SortFunc(readWrite, strings.Compare)

	fp := xdr.LedgerFootprint{
		ReadOnly:  make([]xdr.LedgerKey, 0, len(readOnly)),
		ReadWrite: make([]xdr.LedgerKey, 0, len(readWrite)),
	}
	for _, k := range readOnly {
		fp.ReadOnly = append(fp.ReadOnly, st.slots[k].key)
	}
	var restored []uint32
	for i, k := range readWrite {
		s := st.slots[k]
		fp.ReadWrite = append(fp.ReadWrite, s.key)
		if s.restored {
			restored = append(restored, uint32(i))
		}
	}
	return fp, restored
}

// diffs returns the before and after value of every written key.
func (st *storage) diffs() ([]engine.XDRDiff, error) {
	var result []engine.XDRDiff
	for _, k := range st.order {
		s := st.slots[k]
		if s.access != accessReadWrite {
			continue
		}
		var diff engine.XDRDiff
		var err error
		if s.original != nil {
			if diff.Before, err = s.original.MarshalBinary(); err != nil {
				return nil, errors.Wrap(err, "could not encode ledger entry")
			}
		}
		if s.current != nil {
			if diff.After, err = s.current.MarshalBinary(); err != nil {
				return nil, errors.Wrap(err, "could not encode ledger entry")
			}
		}
		result = append(result, diff)
	}
	return result, nil
}

type usage struct {
	readEntries  uint32
	writeEntries uint32
	readBytes    uint32
	writeBytes   uint32
	rent         int64
}

func (st *storage) usage(cfg engine.NetworkConfig) usage {
	var u usage
	for _, k := range st.order {
		s := st.slots[k]
		if s.original != nil {
			u.readEntries++
			u.readBytes += uint32(s.loadedSize)
		}
		if s.access != accessReadWrite || s.current == nil {
			continue
		}
		size := uint32(encodedSize(*s.current))
		u.writeEntries++
		u.writeBytes += size
		if s.ttl != nil && *s.ttl >= st.info.SequenceNumber && (s.origTTL == nil || *s.ttl > *s.origTTL) {
			from := st.info.SequenceNumber
			if s.origTTL != nil && *s.origTTL >= from {
				from = *s.origTTL + 1
			}
			u.rent += cfg.RentFee(size, *s.ttl-from+1, isPersistent(s.key))
		}
	}
	return u
}

func isPersistent(key xdr.LedgerKey) bool {
	switch key.Type {
	case xdr.LedgerEntryTypeContractCode:
		return true
	case xdr.LedgerEntryTypeContractData:
		return key.ContractData.Durability == xdr.ContractDataDurabilityPersistent
	default:
		return false
	}
}

func encodedSize(entry xdr.LedgerEntry) int {
	raw, err := entry.MarshalBinary()
	if err != nil {
		return 0
	}
	return len(raw)
}
