package protocol

const GetLedgerEntriesMethodName = "getLedgerEntries"

type GetLedgerEntriesRequest struct {
	// Keys are base64 encoded LedgerKeys.
	Keys []string `json:"keys"`
}

type LedgerEntryResult struct {
	// Original request key matching this LedgerEntryResult.
	KeyXDR string `json:"key"`
	// Ledger entry data encoded in base 64.
	DataXDR string `json:"xdr"`
	// Last modified ledger for this entry.
	LastModifiedLedger uint32 `json:"lastModifiedLedgerSeq"`
	// The ledger sequence until the entry is live, available for entries that have associated ttl ledger entries.
	LiveUntilLedgerSeq *uint32 `json:"liveUntilLedgerSeq,omitempty"`
}

type GetLedgerEntriesResponse struct {
	// All found ledger entries.
	Entries []LedgerEntryResult `json:"entries"`
	// Sequence number of the latest ledger at time of request.
	LatestLedger uint32 `json:"latestLedger"`
}

const GetContractDataMethodName = "getContractData"

type GetContractDataRequest struct {
	// Contract is a contract strkey (C...) or an account strkey (G...).
	Contract string `json:"contract"`
	// Key is a base64 encoded ScVal.
	Key string `json:"key"`
	// Durability is "persistent" or "temporary".
	Durability string `json:"durability"`
}

type GetContractDataResponse struct {
	// Entry is nil when no live entry exists for the key.
	Entry        *LedgerEntryResult `json:"entry"`
	LatestLedger uint32             `json:"latestLedger"`
}
