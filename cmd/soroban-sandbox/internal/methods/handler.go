// Package methods implements the JSON-RPC methods of the sandbox.
package methods

import (
	"encoding/base64"
	"fmt"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
)

// NewHandler wraps fn, a func(context.Context[, Request]) (Response[, error]),
// as a JSON-RPC handler.
func NewHandler(fn any) jrpc2.Handler {
	return handler.New(fn)
}

func invalidParams(format string, args ...any) *jrpc2.Error {
	return &jrpc2.Error{
		Code:    jrpc2.InvalidParams,
		Message: fmt.Sprintf(format, args...),
	}
}

func internalError(err error) *jrpc2.Error {
	return &jrpc2.Error{
		Code:    jrpc2.InternalError,
		Message: err.Error(),
	}
}

// currentLedger reads the ledger info under the sandbox lock.
func currentLedger(sb *sandbox.Exclusive) ledger.Info {
	var info ledger.Info
	_ = sb.Do(func(s *sandbox.Sandbox) error {
		info = s.LedgerInfo()
		return nil
	})
	return info
}

func base64EncodeSlice(in [][]byte) []string {
	result := make([]string, len(in))
	for i, v := range in {
		result[i] = base64.StdEncoding.EncodeToString(v)
	}
	return result
}
