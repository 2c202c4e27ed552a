package protocol

const GetNetworkMethodName = "getNetwork"

type GetNetworkRequest struct{}

type GetNetworkResponse struct {
	Passphrase      string `json:"passphrase"`
	ProtocolVersion int    `json:"protocolVersion"`
	// Hex encoded sha256 of the passphrase
	NetworkID string `json:"networkId"`
}
