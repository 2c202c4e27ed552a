package validation

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/strkey"
	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/transaction"
)

// RequiredWeight is the signature weight a transaction must carry. Every
// matching signature counts as weight 1, regardless of the signer's
// configured weight.
const RequiredWeight = 1

// AccountReader is the part of the ledger store validation reads.
type AccountReader interface {
	GetAccount(accountID xdr.AccountId) (xdr.AccountEntry, bool, error)
}

type Validator struct {
	logger *log.Entry
}

func NewValidator(logger *log.Entry) *Validator {
	return &Validator{logger: logger}
}

// Validate runs the pre-execution checks in order and returns the first
// failure. It never mutates state.
func (v *Validator) Validate(inv transaction.Invocation, info ledger.Info, accounts AccountReader) error {
	account, ok, err := accounts.GetAccount(inv.Source)
	if err != nil {
		return errors.Wrap(err, "could not load source account")
	}
	if !ok {
		return ErrAccountNotFound
	}

	if expected := int64(account.SeqNum) + 1; inv.SeqNum != expected {
		return &SequenceMismatchError{Expected: expected, Got: inv.SeqNum}
	}

	if int64(account.Balance) < int64(inv.Fee) {
		return &InsufficientBalanceError{Have: int64(account.Balance), Need: int64(inv.Fee)}
	}

	if err := v.checkTimeBounds(inv, info); err != nil {
		return err
	}

	txHash, err := transaction.Hash(inv.Envelope, info.NetworkID)
	if err != nil {
		return err
	}

	weight := 0
	for _, sig := range inv.Signatures {
		signer, ok := signerForHint(account, sig.Hint)
		if !ok {
			return &NoMatchingSignerError{Hint: sig.Hint}
		}
		kp, err := keypair.ParseAddress(signer)
		if err != nil {
			return errors.Wrapf(err, "invalid signer key %s", signer)
		}
		if err := kp.Verify(txHash[:], sig.Signature); err != nil {
			return &BadSignatureError{Signer: signer, Err: err}
		}
		weight++
	}
	if weight != RequiredWeight {
		return &InvalidWeightError{Got: weight, Expected: RequiredWeight}
	}
	return nil
}

func (v *Validator) checkTimeBounds(inv transaction.Invocation, info ledger.Info) error {
	if inv.HasV2Cond {
		v.logger.Debug("extended preconditions are not enforced")
		return nil
	}
	if inv.TimeBounds == nil {
		return nil
	}
	now := info.Timestamp
	minTime, maxTime := uint64(inv.TimeBounds.MinTime), uint64(inv.TimeBounds.MaxTime)
	// max time 0 means no upper bound
	if now < minTime || (maxTime != 0 && now > maxTime) {
		return &TimeBoundsError{Now: now, Min: minTime, Max: maxTime}
	}
	return nil
}

// signerForHint resolves the strkey of the account's master key or listed
// signer whose last four bytes equal hint. Only ed25519 signers can match.
func signerForHint(account xdr.AccountEntry, hint xdr.SignatureHint) (string, bool) {
	if master := account.AccountId.Ed25519; master != nil && matchesHint(*master, hint) {
		return strkey.MustEncode(strkey.VersionByteAccountID, master[:]), true
	}
	for _, signer := range account.Signers {
		key, ok := signer.Key.GetEd25519()
		if !ok {
			return "", false
		}
		if matchesHint(key, hint) {
			return strkey.MustEncode(strkey.VersionByteAccountID, key[:]), true
		}
	}
	return "", false
}

func matchesHint(key xdr.Uint256, hint xdr.SignatureHint) bool {
	return bytes.Equal(key[len(key)-4:], hint[:])
}
