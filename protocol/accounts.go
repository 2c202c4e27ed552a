package protocol

const (
	FundAccountMethodName        = "fundAccount"
	GetAccountMethodName         = "getAccount"
	DeployContractCodeMethodName = "deployContractCode"
)

type FundAccountRequest struct {
	// Account is the G... strkey of the account.
	Account string `json:"account"`
	Balance int64  `json:"balance,string"`
}

type FundAccountResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance,string"`
}

type GetAccountRequest struct {
	Account string `json:"account"`
}

type GetAccountResponse struct {
	Account  string `json:"account"`
	Balance  int64  `json:"balance,string"`
	Sequence int64  `json:"sequence,string"`
	// EntryXDR is the base64 encoded AccountEntry.
	EntryXDR     string `json:"xdr"`
	LatestLedger uint32 `json:"latestLedger"`
}

type DeployContractCodeRequest struct {
	// Source is the G... strkey of the uploading account.
	Source string `json:"source"`
	// Wasm is the base64 encoded contract code.
	Wasm string `json:"wasm"`
}

type DeployContractCodeResponse struct {
	// Hash is the hex encoded sha256 of the code.
	Hash string `json:"hash"`
}
