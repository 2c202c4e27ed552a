package methods

import (
	"context"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/go-stellar-sdk/strkey"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/protocol"
)

// parseScAddress accepts contract (C...) and account (G...) strkeys.
func parseScAddress(address string) (xdr.ScAddress, error) {
	versionByte, payload, err := strkey.DecodeAny(address)
	if err != nil {
		return xdr.ScAddress{}, err
	}
	switch versionByte {
	case strkey.VersionByteContract:
		var contractID xdr.ContractId
		copy(contractID[:], payload)
		return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &contractID}, nil
	case strkey.VersionByteAccountID:
		accountID, err := xdr.AddressToAccountId(address)
		if err != nil {
			return xdr.ScAddress{}, err
		}
		return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeAccount, AccountId: &accountID}, nil
	default:
		return xdr.ScAddress{}, invalidParams("unsupported address %s", address)
	}
}

func NewGetContractDataHandler(sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context, request protocol.GetContractDataRequest,
	) (protocol.GetContractDataResponse, error) {
		contract, err := parseScAddress(request.Contract)
		if err != nil {
			return protocol.GetContractDataResponse{}, invalidParams("invalid contract address: %v", err)
		}
		var key xdr.ScVal
		if err := xdr.SafeUnmarshalBase64(request.Key, &key); err != nil {
			return protocol.GetContractDataResponse{}, invalidParams("cannot unmarshal key value %s", request.Key)
		}
		durability, err := sandbox.ParseDurability(request.Durability)
		if err != nil {
			return protocol.GetContractDataResponse{}, invalidParams("%v", err)
		}

		var (
			entry        ledger.Entry
			found        bool
			latestLedger uint32
		)
		err = sb.Do(func(s *sandbox.Sandbox) error {
			latestLedger = s.LedgerInfo().SequenceNumber
			var err error
			entry, found, err = s.GetContractData(contract, key, durability)
			return err
		})
		if err != nil {
			return protocol.GetContractDataResponse{}, internalError(err)
		}

		response := protocol.GetContractDataResponse{LatestLedger: latestLedger}
		if found {
			result, err := ledgerEntryResult(entry)
			if err != nil {
				return protocol.GetContractDataResponse{}, internalError(err)
			}
			response.Entry = &result
		}
		return response, nil
	})
}
