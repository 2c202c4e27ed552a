package validation

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/stellar/go-stellar-sdk/xdr"
)

var ErrAccountNotFound = errors.New("account not found")

type SequenceMismatchError struct {
	Expected int64
	Got      int64
}

func (e *SequenceMismatchError) Error() string {
	return fmt.Sprintf("sequence number mismatch, got %d, expected %d", e.Got, e.Expected)
}

type InsufficientBalanceError struct {
	Have int64
	Need int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: has %d needs %d", e.Have, e.Need)
}

// TimeBoundsError is returned when the ledger timestamp is outside the
// transaction's time bounds. A MaxTime of 0 leaves the window open-ended, so
// Max is 0 when there is no upper bound.
type TimeBoundsError struct {
	Now uint64
	Min uint64
	Max uint64
}

func (e *TimeBoundsError) Error() string {
	return fmt.Sprintf("current time %d not within time bounds: [%d, %d]", e.Now, e.Min, e.Max)
}

// TooEarly reports whether the ledger has not reached the lower bound yet.
func (e *TimeBoundsError) TooEarly() bool {
	return e.Now < e.Min
}

type NoMatchingSignerError struct {
	Hint xdr.SignatureHint
}

func (e *NoMatchingSignerError) Error() string {
	return fmt.Sprintf("no matching signer found for signature hint %s", hex.EncodeToString(e.Hint[:]))
}

type BadSignatureError struct {
	Signer string
	Err    error
}

func (e *BadSignatureError) Error() string {
	return fmt.Sprintf("signature verification failed for signer %s: %v", e.Signer, e.Err)
}

func (e *BadSignatureError) Unwrap() error {
	return e.Err
}

type InvalidWeightError struct {
	Got      int
	Expected int
}

func (e *InvalidWeightError) Error() string {
	return fmt.Sprintf("invalid weight: got %d, expected %d", e.Got, e.Expected)
}

// ResultCode maps a validation error to the transaction result code the
// network would report for it. ok is false for errors that are not
// validation failures.
func ResultCode(err error) (code xdr.TransactionResultCode, ok bool) {
	var (
		seqErr     *SequenceMismatchError
		balanceErr *InsufficientBalanceError
		timeErr    *TimeBoundsError
		signerErr  *NoMatchingSignerError
		sigErr     *BadSignatureError
		weightErr  *InvalidWeightError
	)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return xdr.TransactionResultCodeTxNoAccount, true
	case errors.As(err, &seqErr):
		return xdr.TransactionResultCodeTxBadSeq, true
	case errors.As(err, &balanceErr):
		return xdr.TransactionResultCodeTxInsufficientBalance, true
	case errors.As(err, &timeErr):
		if timeErr.TooEarly() {
			return xdr.TransactionResultCodeTxTooEarly, true
		}
		return xdr.TransactionResultCodeTxTooLate, true
	case errors.As(err, &signerErr), errors.As(err, &sigErr), errors.As(err, &weightErr):
		return xdr.TransactionResultCodeTxBadAuth, true
	default:
		return 0, false
	}
}
