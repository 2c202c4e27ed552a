package ledger

import (
	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/hash"
	"github.com/stellar/go-stellar-sdk/xdr"
)

func AccountKey(accountID xdr.AccountId) xdr.LedgerKey {
	return xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	}
}

func ContractCodeKey(codeHash xdr.Hash) xdr.LedgerKey {
	return xdr.LedgerKey{
		Type:         xdr.LedgerEntryTypeContractCode,
		ContractCode: &xdr.LedgerKeyContractCode{Hash: codeHash},
	}
}

func ContractDataKey(contract xdr.ScAddress, key xdr.ScVal, durability xdr.ContractDataDurability) xdr.LedgerKey {
	return xdr.LedgerKey{
		Type: xdr.LedgerEntryTypeContractData,
		ContractData: &xdr.LedgerKeyContractData{
			Contract:   contract,
			Key:        key,
			Durability: durability,
		},
	}
}

// ContractInstanceKey is the persistent key holding a contract's instance.
func ContractInstanceKey(contractID xdr.ContractId) xdr.LedgerKey {
	return ContractDataKey(
		xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &contractID},
		xdr.ScVal{Type: xdr.ScValTypeScvLedgerKeyContractInstance},
		xdr.ContractDataDurabilityPersistent,
	)
}

// CodeHash is the identity of a wasm blob.
func CodeHash(code []byte) xdr.Hash {
	return hash.Hash(code)
}

// TTLKeyHash returns the key hash a TTL entry for key is stored under.
func TTLKeyHash(key xdr.LedgerKey) (xdr.Hash, error) {
	raw, err := key.MarshalBinary()
	if err != nil {
		return xdr.Hash{}, errors.Wrap(err, "could not encode ledger key")
	}
	return hash.Hash(raw), nil
}

// ContractID derives the id of a contract created from preimage on the given network.
func ContractID(networkID [32]byte, preimage xdr.ContractIdPreimage) (xdr.ContractId, error) {
	full := xdr.HashIdPreimage{
		Type: xdr.EnvelopeTypeEnvelopeTypeContractId,
		ContractId: &xdr.HashIdPreimageContractId{
			NetworkId:          xdr.Hash(networkID),
			ContractIdPreimage: preimage,
		},
	}
	raw, err := full.MarshalBinary()
	if err != nil {
		return xdr.ContractId{}, errors.Wrap(err, "could not marshal contract id preimage")
	}
	return xdr.ContractId(hash.Hash(raw)), nil
}
