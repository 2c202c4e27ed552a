package protocol

const GetVersionInfoMethodName = "getVersionInfo"

type GetVersionInfoRequest struct{}

type GetVersionInfoResponse struct {
	Version         string `json:"version"`
	CommitHash      string `json:"commitHash"`
	BuildTimestamp  string `json:"buildTimestamp"`
	ProtocolVersion uint32 `json:"protocolVersion"`
}
