package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/methods"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/protocol"
)

// JSONRPCHandler serves the sandbox JSON RPC API over HTTP.
type JSONRPCHandler struct {
	bridge jhttp.Bridge
	logger *log.Entry
	http.Handler
}

func (h JSONRPCHandler) Close() {
	if err := h.bridge.Close(); err != nil {
		h.logger.WithError(err).Warn("could not close bridge")
	}
}

type HandlerParams struct {
	Sandbox                     *sandbox.Exclusive
	Logger                      *log.Entry
	CorsAllowedOrigins          []string
	MaxRequestExecutionDuration time.Duration
	MaxEventsLimit              uint
	DefaultEventsLimit          uint
	MetricsRegistry             prometheus.Registerer
}

type method struct {
	methodName        string
	underlyingHandler jrpc2.Handler
	// administrative methods mutate the ledger outside of transactions
	administrative bool
}

func newMethods(params HandlerParams) []method {
	sb, logger := params.Sandbox, params.Logger
	return []method{
		{
			methodName:        protocol.GetHealthMethodName,
			underlyingHandler: methods.NewHealthCheck(sb),
		},
		{
			methodName:        protocol.GetNetworkMethodName,
			underlyingHandler: methods.NewGetNetworkHandler(sb),
		},
		{
			methodName:        protocol.GetVersionInfoMethodName,
			underlyingHandler: methods.NewGetVersionInfoHandler(sb),
		},
		{
			methodName:        protocol.GetLatestLedgerMethodName,
			underlyingHandler: methods.NewGetLatestLedgerHandler(sb),
		},
		{
			methodName:        protocol.GetFeeStatsMethodName,
			underlyingHandler: methods.NewGetFeeStatsHandler(sb),
		},
		{
			methodName:        protocol.GetLedgerEntriesMethodName,
			underlyingHandler: methods.NewGetLedgerEntriesHandler(logger, sb),
		},
		{
			methodName:        protocol.GetContractDataMethodName,
			underlyingHandler: methods.NewGetContractDataHandler(sb),
		},
		{
			methodName:        protocol.SimulateTransactionMethodName,
			underlyingHandler: methods.NewSimulateTransactionHandler(logger, sb),
		},
		{
			methodName:        protocol.SendTransactionMethodName,
			underlyingHandler: methods.NewSendTransactionHandler(logger, sb),
		},
		{
			methodName:        protocol.GetTransactionMethodName,
			underlyingHandler: methods.NewGetTransactionHandler(logger, sb),
		},
		{
			methodName:        protocol.GetEventsMethodName,
			underlyingHandler: methods.NewGetEventsHandler(
				logger, sb, params.MaxEventsLimit, params.DefaultEventsLimit,
			),
		},
		{
			methodName:        protocol.GetLedgerInfoMethodName,
			underlyingHandler: methods.NewGetLedgerInfoHandler(sb),
		},
		{
			methodName:        protocol.SetLedgerTimestampMethodName,
			underlyingHandler: methods.NewSetLedgerTimestampHandler(logger, sb),
			administrative:    true,
		},
		{
			methodName:        protocol.SetLedgerSequenceMethodName,
			underlyingHandler: methods.NewSetLedgerSequenceHandler(logger, sb),
			administrative:    true,
		},
		{
			methodName:        protocol.FundAccountMethodName,
			underlyingHandler: methods.NewFundAccountHandler(sb),
			administrative:    true,
		},
		{
			methodName:        protocol.GetAccountMethodName,
			underlyingHandler: methods.NewGetAccountHandler(sb),
		},
		{
			methodName:        protocol.DeployContractCodeMethodName,
			underlyingHandler: methods.NewDeployContractCodeHandler(logger, sb),
			administrative:    true,
		},
	}
}

// NewJSONRPCHandler constructs a Handler instance
func NewJSONRPCHandler(params HandlerParams) (JSONRPCHandler, error) {
	handlers := handler.Map{}
	for _, m := range newMethods(params) {
		h := m.underlyingHandler
		if params.MaxRequestExecutionDuration > 0 {
			h = withTimeout(h, params.MaxRequestExecutionDuration)
		}
		if m.administrative {
			h = withAuditLog(params.Logger, m.methodName, h)
		}
		handlers[m.methodName] = h
	}

	decorated, err := decorateHandlers(params.MetricsRegistry, params.Logger, handlers)
	if err != nil {
		return JSONRPCHandler{}, err
	}

	bridgeOptions := jhttp.BridgeOptions{
		Server: &jrpc2.ServerOptions{
			Logger: func(text string) { params.Logger.Debug(text) },
		},
	}
	bridge := jhttp.NewBridge(decorated, &bridgeOptions)

	// an empty origin list allows every origin
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: params.CorsAllowedOrigins,
		AllowedHeaders: []string{"*"},
		AllowedMethods: []string{"GET", "PUT", "POST", "PATCH", "DELETE", "HEAD", "OPTIONS"},
	})

	return JSONRPCHandler{
		bridge:  bridge,
		logger:  params.Logger,
		Handler: corsMiddleware.Handler(bridge),
	}, nil
}

func withTimeout(h jrpc2.Handler, limit time.Duration) jrpc2.Handler {
	return func(ctx context.Context, r *jrpc2.Request) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		return h(ctx, r)
	}
}

func withAuditLog(logger *log.Entry, name string, h jrpc2.Handler) jrpc2.Handler {
	return func(ctx context.Context, r *jrpc2.Request) (any, error) {
		result, err := h(ctx, r)
		entry := logger.WithField("method", name).WithField("params", r.ParamString())
		if err != nil {
			entry.WithError(err).Warn("administrative request failed")
		} else {
			entry.Info("administrative request")
		}
		return result, err
	}
}

func decorateHandlers(registry prometheus.Registerer, logger *log.Entry, m handler.Map) (handler.Map, error) {
	requestMetric := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:  sandbox.MetricsNamespace,
		Subsystem:  "json_rpc",
		Name:       "request_duration_seconds",
		Help:       "JSON RPC request duration",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"endpoint", "status"})
	if registry != nil {
		if err := registry.Register(requestMetric); err != nil {
			return nil, err
		}
	}

	labelReplacer := strings.NewReplacer(" ", "_", "-", "_", "(", "", ")", "")
	decorated := handler.Map{}
	for endpoint, h := range m {
		decorated[endpoint] = func(ctx context.Context, r *jrpc2.Request) (any, error) {
			reqID := strconv.FormatUint(middleware.NextRequestID(), 10)
			logRequest(logger, reqID, r)
			startTime := time.Now()
			result, err := h(ctx, r)
			duration := time.Since(startTime)

			label := prometheus.Labels{"endpoint": r.Method(), "status": "ok"}
			if simResp, ok := result.(protocol.SimulateTransactionResponse); ok && simResp.Error != "" {
				label["status"] = "error"
			} else if err != nil {
				label["status"] = "error"
				if jsonRPCErr, ok := err.(*jrpc2.Error); ok {
					label["status"] = labelReplacer.Replace(jsonRPCErr.Code.String())
				}
			}
			requestMetric.With(label).Observe(duration.Seconds())
			logResponse(logger, reqID, duration, label["status"], result)
			return result, err
		}
	}
	return decorated, nil
}

func logRequest(logger *log.Entry, reqID string, req *jrpc2.Request) {
	logger = logger.WithFields(log.F{
		"subsys":   "jsonrpc",
		"req":      reqID,
		"json_req": req.ID(),
		"method":   req.Method(),
	})
	logger.Info("starting JSONRPC request")

	// Params are useful but can be really verbose, let's only print them in debug level
	logger = logger.WithField("params", req.ParamString())
	logger.Debug("starting JSONRPC request params")
}

func logResponse(logger *log.Entry, reqID string, duration time.Duration, status string, response any) {
	logger = logger.WithFields(log.F{
		"subsys":   "jsonrpc",
		"req":      reqID,
		"duration": duration.String(),
		"status":   status,
	})
	logger.Info("finished JSONRPC request")

	encoded, err := json.Marshal(response)
	if err == nil {
		logger.WithField("response", string(encoded)).Debug("finished JSONRPC request response")
	}
}
