package protocol

const GetLatestLedgerMethodName = "getLatestLedger"

type GetLatestLedgerResponse struct {
	// Stellar Core protocol version associated with the ledger
	ProtocolVersion uint32 `json:"protocolVersion"`
	// Sequence number of the latest ledger
	Sequence uint32 `json:"sequence"`
	// Time the ledger closed at as an int64
	LedgerCloseTime int64 `json:"closeTime,string"`
}
