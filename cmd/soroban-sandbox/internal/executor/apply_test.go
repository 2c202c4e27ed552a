package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/engine"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
)

func liveUntil(v uint32) *uint32 {
	return &v
}

func TestApplyLedgerChanges(t *testing.T) {
	store := ledger.NewStore()
	readKey, readEntry := dataEntry("read", xdr.ContractDataDurabilityPersistent, 1)
	removedKey, removedEntry := dataEntry("removed", xdr.ContractDataDurabilityTemporary, 2)
	updatedKey, updatedEntry := dataEntry("updated", xdr.ContractDataDurabilityPersistent, 3)
	require.NoError(t, store.Insert(readEntry, liveUntil(100)))
	require.NoError(t, store.Insert(removedEntry, liveUntil(100)))
	require.NoError(t, store.Insert(updatedEntry, liveUntil(100)))

	_, newValue := dataEntry("updated", xdr.ContractDataDurabilityPersistent, 4)
	footprint := xdr.LedgerFootprint{
		ReadOnly:  []xdr.LedgerKey{readKey},
		ReadWrite: []xdr.LedgerKey{removedKey, updatedKey},
	}
	applied, err := ApplyLedgerChanges(store, footprint, []engine.LedgerEntryChange{
		{
			ReadOnly:   true,
			EncodedKey: encode(t, readKey),
			TTLChange:  &engine.TTLChange{OldLiveUntilLedger: 100, NewLiveUntilLedger: 200},
		},
		{EncodedKey: encode(t, removedKey)},
		{
			EncodedKey:      encode(t, updatedKey),
			EncodedNewValue: encode(t, newValue),
			TTLChange:       &engine.TTLChange{OldLiveUntilLedger: 100, NewLiveUntilLedger: 100},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	// The TTL-only change keeps the read-only entry's value.
	got, ok, err := store.Get(readKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, encode(t, readEntry), encode(t, got.Entry))
	assert.Equal(t, uint32(200), *got.LiveUntilLedgerSeq)

	_, ok, err = store.Get(removedKey)
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err = store.Get(updatedKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, xdr.Uint32(4), *got.Entry.Data.ContractData.Val.U32)
	assert.Equal(t, uint32(100), *got.LiveUntilLedgerSeq)
}

func TestApplyReadOnlyChangeWithoutTTLIsNoop(t *testing.T) {
	store := ledger.NewStore()
	key, entry := dataEntry("read", xdr.ContractDataDurabilityPersistent, 1)
	require.NoError(t, store.Insert(entry, liveUntil(100)))

	applied, err := ApplyLedgerChanges(store, xdr.LedgerFootprint{ReadOnly: []xdr.LedgerKey{key}},
		[]engine.LedgerEntryChange{{ReadOnly: true, EncodedKey: encode(t, key)}})
	require.NoError(t, err)
	assert.Zero(t, applied)

	got, ok, err := store.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(100), *got.LiveUntilLedgerSeq)
}

func TestApplyIsAtomic(t *testing.T) {
	readKey, readEntry := dataEntry("read", xdr.ContractDataDurabilityPersistent, 1)
	writeKey, writeEntry := dataEntry("write", xdr.ContractDataDurabilityPersistent, 2)
	otherKey, otherEntry := dataEntry("other", xdr.ContractDataDurabilityPersistent, 3)
	accountID := xdr.MustAddress(keypair.MustRandom().Address())
	footprint := xdr.LedgerFootprint{
		ReadOnly:  []xdr.LedgerKey{readKey},
		ReadWrite: []xdr.LedgerKey{writeKey},
	}
	valid := engine.LedgerEntryChange{
		EncodedKey:      encode(t, writeKey),
		EncodedNewValue: encode(t, writeEntry),
		TTLChange:       &engine.TTLChange{NewLiveUntilLedger: 100},
	}

	for name, tc := range map[string]struct {
		change engine.LedgerEntryChange
		err    error
	}{
		"value for read-only key": {
			change: engine.LedgerEntryChange{
				ReadOnly:        true,
				EncodedKey:      encode(t, readKey),
				EncodedNewValue: encode(t, readEntry),
			},
			err: ErrReadOnlyValueChange,
		},
		"key outside footprint": {
			change: engine.LedgerEntryChange{
				EncodedKey:      encode(t, otherKey),
				EncodedNewValue: encode(t, otherEntry),
			},
			err: ErrChangeOutsideFootprint,
		},
		"value for another key": {
			change: engine.LedgerEntryChange{
				EncodedKey:      encode(t, writeKey),
				EncodedNewValue: encode(t, otherEntry),
			},
			err: ErrChangeKeyMismatch,
		},
		"account value under data key": {
			change: engine.LedgerEntryChange{
				EncodedKey: encode(t, writeKey),
				EncodedNewValue: encode(t, xdr.LedgerEntry{Data: xdr.LedgerEntryData{
					Type:    xdr.LedgerEntryTypeAccount,
					Account: &xdr.AccountEntry{AccountId: accountID},
				}}),
			},
			err: ErrChangeKeyMismatch,
		},
	} {
		t.Run(name, func(t *testing.T) {
			store := ledger.NewStore()
			_, err := ApplyLedgerChanges(store, footprint, []engine.LedgerEntryChange{valid, tc.change})
			require.ErrorIs(t, err, tc.err)
			assert.Zero(t, store.Len())
		})
	}

	account := xdr.LedgerEntry{Data: xdr.LedgerEntryData{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.AccountEntry{AccountId: accountID},
	}}
	accountKey, err := account.LedgerKey()
	require.NoError(t, err)
	store := ledger.NewStore()
	_, err = ApplyLedgerChanges(store, xdr.LedgerFootprint{ReadWrite: []xdr.LedgerKey{accountKey}},
		[]engine.LedgerEntryChange{{
			EncodedKey:      encode(t, accountKey),
			EncodedNewValue: encode(t, account),
			TTLChange:       &engine.TTLChange{NewLiveUntilLedger: 100},
		}})
	require.ErrorIs(t, err, ledger.ErrUnexpectedTTL)
	assert.Zero(t, store.Len())

	_, err = ApplyLedgerChanges(store, footprint, []engine.LedgerEntryChange{{EncodedKey: []byte{1, 2}}})
	require.Error(t, err)
	assert.Zero(t, store.Len())
}
