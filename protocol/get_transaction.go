package protocol

const GetTransactionMethodName = "getTransaction"

const (
	TransactionStatusSuccess  = "SUCCESS"
	TransactionStatusNotFound = "NOT_FOUND"
	TransactionStatusFailed   = "FAILED"
)

type GetTransactionRequest struct {
	Hash string `json:"hash"`
}

type GetTransactionResponse struct {
	Status       string `json:"status"`
	TxHash       string `json:"txHash"`
	LatestLedger uint32 `json:"latestLedger"`

	// The fields below are only set when the transaction was found.

	ApplicationOrder int32  `json:"applicationOrder,omitempty"`
	FeeCharged       int64  `json:"feeCharged,string,omitempty"`
	EnvelopeXDR      string `json:"envelopeXdr,omitempty"`
	ResultXDR        string `json:"resultXdr,omitempty"`
	// ReturnValueXDR is the base64 encoded ScVal returned by a successful
	// invocation.
	ReturnValueXDR string `json:"returnValueXdr,omitempty"`
	// ErrorMessage is the engine failure of a FAILED transaction.
	ErrorMessage        string   `json:"errorMessage,omitempty"`
	DiagnosticEventsXDR []string `json:"diagnosticEventsXdr,omitempty"`
	Ledger              uint32   `json:"ledger,omitempty"`
	CreatedAt           int64    `json:"createdAt,string,omitempty"`
}
