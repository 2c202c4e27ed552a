package methods

import (
	"fmt"
	"testing"

	"github.com/creachadair/jrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar/go-stellar-sdk/strkey"
	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/txtest"
	"github.com/stellar/soroban-sandbox/protocol"
)

func withDiagnostics(params *sandbox.Params) {
	params.EnableDiagnosticEvents = true
}

func symbolTopic(t *testing.T, name string) string {
	sym := xdr.ScSymbol(name)
	topic, err := xdr.MarshalBase64(xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym})
	require.NoError(t, err)
	return topic
}

func getEvents(t *testing.T, h jrpc2.Handler, request protocol.GetEventsRequest) protocol.GetEventsResponse {
	t.Helper()
	resp, err := call(t, h, request)
	require.NoError(t, err)
	require.IsType(t, protocol.GetEventsResponse{}, resp)
	return resp.(protocol.GetEventsResponse)
}

func TestGetEvents(t *testing.T) {
	f := newFixture(t, withDiagnostics)
	var hashes []string
	for seq := int64(1); seq <= 3; seq++ {
		resp, err := call(t, NewSendTransactionHandler(log.DefaultLogger, f.sb),
			protocol.SendTransactionRequest{Transaction: f.upload(t, txtest.Wasm(fmt.Sprintf("events-%d", seq)), seq)})
		require.NoError(t, err)
		hashes = append(hashes, resp.(protocol.SendTransactionResponse).Hash)
	}
	h := NewGetEventsHandler(log.DefaultLogger, f.sb, 10, 2)

	// The default limit applies without pagination.
	page := getEvents(t, h, protocol.GetEventsRequest{})
	require.Len(t, page.Events, 2)
	assert.Equal(t, testLedger, page.LatestLedger)
	assert.Equal(t, page.Events[1].ID, page.Cursor)

	first := page.Events[0]
	assert.Equal(t, protocol.EventTypeDiagnostic, first.EventType)
	assert.Equal(t, testLedger, first.Ledger)
	assert.Equal(t, "1970-01-01T00:16:40Z", first.LedgerClosedAt)
	assert.Equal(t, protocol.Cursor{Order: 1}.String(), first.ID)
	assert.Equal(t, hashes[0], first.TransactionHash)
	assert.True(t, first.InSuccessfulContractCall)
	assert.Empty(t, first.ContractID)
	require.Len(t, first.TopicXDR, 2)
	assert.Equal(t, symbolTopic(t, "fn_return"), first.TopicXDR[0])
	assert.Equal(t, symbolTopic(t, "upload_wasm"), first.TopicXDR[1])
	assert.NotEmpty(t, first.ValueXDR)

	// Resuming from the cursor drains the rest and points past the last
	// applied transaction.
	page = getEvents(t, h, protocol.GetEventsRequest{
		Pagination: &protocol.PaginationOptions{Cursor: page.Cursor},
	})
	require.Len(t, page.Events, 1)
	assert.Equal(t, hashes[2], page.Events[0].TransactionHash)
	assert.Equal(t, protocol.EndCursor(3).String(), page.Cursor)

	page = getEvents(t, h, protocol.GetEventsRequest{
		Pagination: &protocol.PaginationOptions{Cursor: page.Cursor},
	})
	assert.Empty(t, page.Events)
	assert.Equal(t, protocol.EndCursor(3).String(), page.Cursor)

	page = getEvents(t, h, protocol.GetEventsRequest{
		Filters: []protocol.EventFilter{{EventType: protocol.EventTypeContract}},
	})
	assert.Empty(t, page.Events)

	page = getEvents(t, h, protocol.GetEventsRequest{
		Filters: []protocol.EventFilter{{
			EventType: protocol.EventTypeDiagnostic,
			Topics:    []protocol.TopicFilter{{symbolTopic(t, "fn_return"), protocol.WildCard}},
		}},
		Pagination: &protocol.PaginationOptions{Limit: 10},
	})
	assert.Len(t, page.Events, 3)

	page = getEvents(t, h, protocol.GetEventsRequest{
		Filters: []protocol.EventFilter{{
			Topics: []protocol.TopicFilter{{symbolTopic(t, "fn_return")}},
		}},
	})
	assert.Empty(t, page.Events)

	page = getEvents(t, h, protocol.GetEventsRequest{
		StartLedger: testLedger + 1,
	})
	assert.Empty(t, page.Events)
}

func TestGetEventsContractFilter(t *testing.T) {
	f := newFixture(t, withDiagnostics)
	_, err := call(t, NewSendTransactionHandler(log.DefaultLogger, f.sb),
		protocol.SendTransactionRequest{Transaction: f.upload(t, txtest.Wasm("contract-filter"), 1)})
	require.NoError(t, err)
	h := NewGetEventsHandler(log.DefaultLogger, f.sb, 10, 10)

	// Diagnostic events of uploads carry no contract.
	page := getEvents(t, h, protocol.GetEventsRequest{
		Filters: []protocol.EventFilter{{
			ContractIDs: []string{strkey.MustEncode(strkey.VersionByteContract, make([]byte, 32))},
		}},
	})
	assert.Empty(t, page.Events)

	page = getEvents(t, h, protocol.GetEventsRequest{
		Filters: []protocol.EventFilter{
			{ContractIDs: []string{strkey.MustEncode(strkey.VersionByteContract, make([]byte, 32))}},
			{EventType: protocol.EventTypeDiagnostic},
		},
	})
	assert.Len(t, page.Events, 1)
}

func TestGetEventsValidation(t *testing.T) {
	f := newFixture(t)
	h := NewGetEventsHandler(log.DefaultLogger, f.sb, 10, 5)

	for _, tc := range []struct {
		name    string
		request protocol.GetEventsRequest
		message string
	}{
		{
			name:    "limit",
			request: protocol.GetEventsRequest{Pagination: &protocol.PaginationOptions{Limit: 11}},
			message: "limit must not exceed 10",
		},
		{
			name: "cursor with range",
			request: protocol.GetEventsRequest{
				StartLedger: 1,
				Pagination:  &protocol.PaginationOptions{Cursor: protocol.Cursor{Order: 1}.String()},
			},
			message: "ledger ranges and cursor cannot both be set",
		},
		{
			name:    "malformed cursor",
			request: protocol.GetEventsRequest{Pagination: &protocol.PaginationOptions{Cursor: "nope"}},
			message: "invalid event id",
		},
		{
			name:    "range",
			request: protocol.GetEventsRequest{StartLedger: 5, EndLedger: 5},
			message: "endLedger must be after startLedger",
		},
		{
			name: "event type",
			request: protocol.GetEventsRequest{
				Filters: []protocol.EventFilter{{EventType: "bogus"}},
			},
			message: "filter 1 invalid",
		},
		{
			name: "contract id",
			request: protocol.GetEventsRequest{
				Filters: []protocol.EventFilter{{ContractIDs: []string{"CABC"}}},
			},
			message: "contract ID 1 invalid",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := call(t, h, tc.request)
			requireJRPCError(t, err, jrpc2.InvalidParams, tc.message)
		})
	}
}
