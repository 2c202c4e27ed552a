package sandbox

import (
	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/hash"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/executor"
)

// RejectionResult is the transaction result reported for a transaction that
// failed validation with the given code. Nothing is charged.
func RejectionResult(code xdr.TransactionResultCode) xdr.TransactionResult {
	return xdr.TransactionResult{
		FeeCharged: 0,
		Result:     xdr.TransactionResultResult{Code: code},
		Ext:        xdr.TransactionResultExt{V: 0},
	}
}

// executionResult builds the transaction result of an executed transaction.
// A successful invocation carries the hash of its return value and events.
func executionResult(result executor.ExecutionResult) (xdr.TransactionResult, error) {
	opResult := xdr.InvokeHostFunctionResult{
		Code: xdr.InvokeHostFunctionResultCodeInvokeHostFunctionTrapped,
	}
	code := xdr.TransactionResultCodeTxFailed
	if result.Successful() {
		var retval xdr.ScVal
		if err := xdr.SafeUnmarshal(result.ReturnValue, &retval); err != nil {
			return xdr.TransactionResult{}, errors.Wrap(err, "could not unmarshal return value")
		}
		preimage, err := xdr.InvokeHostFunctionSuccessPreImage{
			ReturnValue: retval,
			Events:      result.ContractEvents,
		}.MarshalBinary()
		if err != nil {
			return xdr.TransactionResult{}, errors.Wrap(err, "could not marshal success preimage")
		}
		successHash := xdr.Hash(hash.Hash(preimage))
		opResult = xdr.InvokeHostFunctionResult{
			Code:    xdr.InvokeHostFunctionResultCodeInvokeHostFunctionSuccess,
			Success: &successHash,
		}
		code = xdr.TransactionResultCodeTxSuccess
	}
	return xdr.TransactionResult{
		FeeCharged: xdr.Int64(result.FeeCharged),
		Result: xdr.TransactionResultResult{
			Code: code,
			Results: &[]xdr.OperationResult{{
				Code: xdr.OperationResultCodeOpInner,
				Tr: &xdr.OperationResultTr{
					Type:                     xdr.OperationTypeInvokeHostFunction,
					InvokeHostFunctionResult: &opResult,
				},
			}},
		},
		Ext: xdr.TransactionResultExt{V: 0},
	}, nil
}
