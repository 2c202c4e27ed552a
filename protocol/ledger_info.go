package protocol

const (
	GetLedgerInfoMethodName      = "getLedgerInfo"
	SetLedgerTimestampMethodName = "setLedgerTimestamp"
	SetLedgerSequenceMethodName  = "setLedgerSequence"
)

// GetLedgerInfoResponse is the ledger context submissions are validated and
// executed against.
type GetLedgerInfoResponse struct {
	ProtocolVersion       uint32 `json:"protocolVersion"`
	Sequence              uint32 `json:"sequence"`
	Timestamp             uint64 `json:"timestamp,string"`
	NetworkID             string `json:"networkId"`
	BaseReserve           uint32 `json:"baseReserve"`
	MinTemporaryEntryTTL  uint32 `json:"minTemporaryEntryTtl"`
	MinPersistentEntryTTL uint32 `json:"minPersistentEntryTtl"`
	MaxEntryTTL           uint32 `json:"maxEntryTtl"`
}

type SetLedgerTimestampRequest struct {
	Timestamp uint64 `json:"timestamp,string"`
}

type SetLedgerSequenceRequest struct {
	Sequence uint32 `json:"sequence"`
}
