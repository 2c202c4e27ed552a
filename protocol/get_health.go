package protocol

const GetHealthMethodName = "getHealth"

const HealthStatusHealthy = "healthy"

type GetHealthResponse struct {
	Status       string `json:"status"`
	LatestLedger uint32 `json:"latestLedger"`
}
