package daemon

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/client"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/config"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/txtest"
	"github.com/stellar/soroban-sandbox/protocol"
)

func noEnv(string) (string, bool) { return "", false }

func startDaemon(t *testing.T, store string) (*Daemon, *client.Client) {
	var cfg config.Config
	require.NoError(t, cfg.SetValues(noEnv))
	cfg.Endpoint = "127.0.0.1:0"
	cfg.AdminEndpoint = "127.0.0.1:0"
	cfg.TransactionStore = store
	cfg.LedgerSequence = 5
	cfg.EnableDiagnosticEvents = true
	require.NoError(t, cfg.Validate())

	d, err := New(&cfg, log.DefaultLogger)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	cli := client.NewClient("http://"+d.Endpoint(), nil)
	t.Cleanup(func() { _ = cli.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	health, err := cli.WaitForHealthy(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), health.LatestLedger)
	return d, cli
}

func TestDaemonServesTransactions(t *testing.T) {
	for _, store := range []string{config.TransactionStoreMemory, config.TransactionStoreSQLite} {
		t.Run(store, func(t *testing.T) {
			_, cli := startDaemon(t, store)
			ctx := context.Background()

			source := keypair.MustRandom()
			funded, err := cli.FundAccount(ctx, protocol.FundAccountRequest{
				Account: source.Address(),
				Balance: 10_000_000,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(10_000_000), funded.Balance)

			code := txtest.Wasm("daemon")
			envelope := txtest.Tx{
				Source:       source,
				SeqNum:       1,
				HostFunction: txtest.UploadWasm(code),
				SorobanData:  txtest.SorobanData(nil, []xdr.LedgerKey{ledger.ContractCodeKey(ledger.CodeHash(code))}),
			}.Base64(t, txtest.Passphrase)

			simulated, err := cli.SimulateTransaction(ctx, protocol.SimulateTransactionRequest{Transaction: envelope})
			require.NoError(t, err)
			assert.Empty(t, simulated.Error)
			require.Len(t, simulated.Results, 1)

			sent, err := cli.SendTransaction(ctx, protocol.SendTransactionRequest{Transaction: envelope})
			require.NoError(t, err)
			assert.Equal(t, protocol.SendTransactionStatusPending, sent.Status)

			got, err := cli.GetTransaction(ctx, protocol.GetTransactionRequest{Hash: sent.Hash})
			require.NoError(t, err)
			assert.Equal(t, protocol.TransactionStatusSuccess, got.Status)
			assert.Equal(t, uint32(5), got.Ledger)

			events, err := cli.GetEvents(ctx, protocol.GetEventsRequest{
				Filters: []protocol.EventFilter{{EventType: protocol.EventTypeDiagnostic}},
			})
			require.NoError(t, err)
			require.Len(t, events.Events, 1)
			assert.Equal(t, sent.Hash, events.Events[0].TransactionHash)
			assert.Equal(t, protocol.EndCursor(1).String(), events.Cursor)

			account, err := cli.GetAccount(ctx, protocol.GetAccountRequest{Account: source.Address()})
			require.NoError(t, err)
			assert.Equal(t, int64(1), account.Sequence)
			assert.Equal(t, int64(10_000_000), account.Balance)

			// a replay is rejected with a bad sequence number
			replay, err := cli.SendTransaction(ctx, protocol.SendTransactionRequest{Transaction: envelope})
			require.NoError(t, err)
			assert.Equal(t, protocol.SendTransactionStatusError, replay.Status)
			assert.NotEmpty(t, replay.ErrorResultXDR)
		})
	}
}

func TestDaemonLedgerAdministration(t *testing.T) {
	_, cli := startDaemon(t, config.TransactionStoreMemory)
	ctx := context.Background()

	info, err := cli.SetLedgerSequence(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), info.Sequence)

	info, err = cli.SetLedgerTimestamp(ctx, 1_700_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_000), info.Timestamp)

	latest, err := cli.GetLatestLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), latest.Sequence)
	assert.Equal(t, int64(1_700_000_000), latest.LedgerCloseTime)

	networkInfo, err := cli.GetNetwork(ctx)
	require.NoError(t, err)
	assert.Equal(t, txtest.Passphrase, networkInfo.Passphrase)

	_, err = cli.SetLedgerSequence(ctx, 0)
	require.ErrorContains(t, err, "ledger sequence must be positive")
}

func TestDaemonExposesMetrics(t *testing.T) {
	d, cli := startDaemon(t, config.TransactionStoreMemory)
	_, err := cli.GetVersionInfo(context.Background())
	require.NoError(t, err)

	resp, err := http.Get("http://" + d.AdminEndpoint() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `soroban_sandbox_json_rpc_request_duration_seconds_count{endpoint="getVersionInfo",status="ok"} 1`)
	assert.Contains(t, string(body), "soroban_sandbox_build_info")
}

func TestDaemonAllowsCrossOriginRequests(t *testing.T) {
	d, _ := startDaemon(t, config.TransactionStoreMemory)

	req, err := http.NewRequest(http.MethodOptions, "http://"+d.Endpoint(), nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestDaemonCloseIsIdempotent(t *testing.T) {
	var cfg config.Config
	require.NoError(t, cfg.SetValues(noEnv))
	cfg.Endpoint = "127.0.0.1:0"
	cfg.AdminEndpoint = ""

	d, err := New(&cfg, log.DefaultLogger)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	assert.Empty(t, d.AdminEndpoint())
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
}
