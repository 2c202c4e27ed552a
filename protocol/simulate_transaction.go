package protocol

const SimulateTransactionMethodName = "simulateTransaction"

type SimulateTransactionRequest struct {
	// Transaction is a base64 encoded TransactionEnvelope. Its Soroban
	// transaction data, when present, is ignored.
	Transaction string `json:"transaction"`
}

// SimulateHostFunctionResult is the return value and recorded authorization
// of the simulated host function.
type SimulateHostFunctionResult struct {
	AuthXDR        []string `json:"auth"`
	ReturnValueXDR string   `json:"xdr"`
}

// LedgerEntryChange is a ledger entry before and after the simulated call.
// Before is empty for created entries and After for deleted ones.
type LedgerEntryChange struct {
	Type      string  `json:"type"`
	KeyXDR    string  `json:"key"`
	BeforeXDR *string `json:"before"`
	AfterXDR  *string `json:"after"`
}

const (
	LedgerEntryChangeTypeCreated = "created"
	LedgerEntryChangeTypeUpdated = "updated"
	LedgerEntryChangeTypeDeleted = "deleted"
)

type SimulateTransactionResponse struct {
	// Error is set when the host function failed. The other fields, except
	// for the events and the latest ledger, are then empty.
	Error              string `json:"error,omitempty"`
	TransactionDataXDR string `json:"transactionData,omitempty"`
	MinResourceFee     int64  `json:"minResourceFee,string,omitempty"`
	// Events are base64 encoded DiagnosticEvents.
	EventsXDR    []string                     `json:"events,omitempty"`
	Results      []SimulateHostFunctionResult `json:"results,omitempty"`
	StateChanges []LedgerEntryChange          `json:"stateChanges,omitempty"`
	LatestLedger uint32                       `json:"latestLedger"`
}
