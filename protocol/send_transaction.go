package protocol

const SendTransactionMethodName = "sendTransaction"

const (
	// SendTransactionStatusPending means the transaction was applied and its
	// record can be fetched with getTransaction.
	SendTransactionStatusPending = "PENDING"
	// SendTransactionStatusError means the transaction was rejected before
	// execution. Nothing was recorded.
	SendTransactionStatusError = "ERROR"
)

type SendTransactionRequest struct {
	// Transaction is the base64 encoded, signed TransactionEnvelope.
	Transaction string `json:"transaction"`
}

type SendTransactionResponse struct {
	// ErrorResultXDR is a base64 encoded TransactionResult, set when Status
	// is ERROR.
	ErrorResultXDR string `json:"errorResultXdr,omitempty"`
	Status         string `json:"status"`
	Hash           string `json:"hash"`
	LatestLedger   uint32 `json:"latestLedger"`
	// LatestLedgerCloseTime is the unix timestamp of the current ledger.
	LatestLedgerCloseTime int64 `json:"latestLedgerCloseTime,string"`
}
