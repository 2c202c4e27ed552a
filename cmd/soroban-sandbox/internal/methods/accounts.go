package methods

import (
	"context"
	"encoding/base64"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/protocol"
)

func parseAccountID(address string) (xdr.AccountId, error) {
	accountID, err := xdr.AddressToAccountId(address)
	if err != nil {
		return xdr.AccountId{}, invalidParams("invalid account %q: %v", address, err)
	}
	return accountID, nil
}

// NewFundAccountHandler returns a handler creating, or resetting, a funded
// account whose master key is its only signer.
func NewFundAccountHandler(sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context, request protocol.FundAccountRequest,
	) (protocol.FundAccountResponse, error) {
		accountID, err := parseAccountID(request.Account)
		if err != nil {
			return protocol.FundAccountResponse{}, err
		}
		if request.Balance < 0 {
			return protocol.FundAccountResponse{}, invalidParams("balance must not be negative")
		}
		err = sb.Do(func(s *sandbox.Sandbox) error {
			return s.FundAccount(accountID, request.Balance)
		})
		if err != nil {
			return protocol.FundAccountResponse{}, internalError(err)
		}
		return protocol.FundAccountResponse{Account: request.Account, Balance: request.Balance}, nil
	})
}

func NewGetAccountHandler(sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context, request protocol.GetAccountRequest,
	) (protocol.GetAccountResponse, error) {
		accountID, err := parseAccountID(request.Account)
		if err != nil {
			return protocol.GetAccountResponse{}, err
		}
		var (
			account      xdr.AccountEntry
			found        bool
			latestLedger uint32
		)
		err = sb.Do(func(s *sandbox.Sandbox) error {
			latestLedger = s.LedgerInfo().SequenceNumber
			var err error
			account, found, err = s.GetAccount(accountID)
			return err
		})
		if err != nil {
			return protocol.GetAccountResponse{}, internalError(err)
		}
		if !found {
			return protocol.GetAccountResponse{}, invalidParams("account not found: %s", request.Account)
		}
		entryXDR, err := xdr.MarshalBase64(account)
		if err != nil {
			return protocol.GetAccountResponse{}, internalError(err)
		}
		return protocol.GetAccountResponse{
			Account:      request.Account,
			Balance:      int64(account.Balance),
			Sequence:     int64(account.SeqNum),
			EntryXDR:     entryXDR,
			LatestLedger: latestLedger,
		}, nil
	})
}

// NewDeployContractCodeHandler returns a handler uploading contract code
// without a signed transaction.
func NewDeployContractCodeHandler(logger *log.Entry, sb *sandbox.Exclusive) jrpc2.Handler {
	return NewHandler(func(_ context.Context, request protocol.DeployContractCodeRequest,
	) (protocol.DeployContractCodeResponse, error) {
		source, err := parseAccountID(request.Source)
		if err != nil {
			return protocol.DeployContractCodeResponse{}, err
		}
		code, err := base64.StdEncoding.DecodeString(request.Wasm)
		if err != nil {
			return protocol.DeployContractCodeResponse{}, invalidParams("cannot decode wasm: %v", err)
		}
		var codeHash xdr.Hash
		err = sb.Do(func(s *sandbox.Sandbox) error {
			var err error
			codeHash, err = s.DeployCode(source, code)
			return err
		})
		if err != nil {
			logger.WithError(err).WithField("source", request.Source).Info("could not deploy contract code")
			return protocol.DeployContractCodeResponse{}, invalidParams("%v", err)
		}
		return protocol.DeployContractCodeResponse{Hash: codeHash.HexString()}, nil
	})
}
