package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"

	"github.com/stellar/soroban-sandbox/protocol"
)

type Client struct {
	url  string
	cli  *jrpc2.Client
	opts *jrpc2.ClientOptions
}

func NewClient(url string, opts *jrpc2.ClientOptions) *Client {
	c := &Client{url: url, opts: opts}
	c.refreshClient()
	return c
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) refreshClient() {
	if c.cli != nil {
		c.cli.Close()
	}
	ch := jhttp.NewChannel(c.url, nil)
	c.cli = jrpc2.NewClient(ch, c.opts)
}

func (c *Client) callResult(ctx context.Context, method string, params, result any) error {
	err := c.cli.CallResult(ctx, method, params, result)
	if err != nil {
		// This is needed because of https://github.com/creachadair/jrpc2/issues/118
		c.refreshClient()
	}
	return err
}

// WaitForHealthy polls getHealth with exponential backoff until the server
// reports healthy or maxElapsed has passed.
func (c *Client) WaitForHealthy(ctx context.Context, maxElapsed time.Duration) (*protocol.GetHealthResponse, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = maxElapsed

	var health protocol.GetHealthResponse
	err := backoff.Retry(func() error {
		result, err := c.GetHealth(ctx)
		if err != nil {
			return err
		}
		if result.Status != protocol.HealthStatusHealthy {
			return fmt.Errorf("server is %s", result.Status)
		}
		health = *result
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *Client) GetHealth(ctx context.Context) (*protocol.GetHealthResponse, error) {
	var result protocol.GetHealthResponse
	if err := c.callResult(ctx, protocol.GetHealthMethodName, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetNetwork(ctx context.Context) (*protocol.GetNetworkResponse, error) {
	var result protocol.GetNetworkResponse
	if err := c.callResult(ctx, protocol.GetNetworkMethodName, protocol.GetNetworkRequest{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetVersionInfo(ctx context.Context) (*protocol.GetVersionInfoResponse, error) {
	var result protocol.GetVersionInfoResponse
	err := c.callResult(ctx, protocol.GetVersionInfoMethodName, protocol.GetVersionInfoRequest{}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetLatestLedger(ctx context.Context) (*protocol.GetLatestLedgerResponse, error) {
	var result protocol.GetLatestLedgerResponse
	if err := c.callResult(ctx, protocol.GetLatestLedgerMethodName, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetLedgerInfo(ctx context.Context) (*protocol.GetLedgerInfoResponse, error) {
	var result protocol.GetLedgerInfoResponse
	if err := c.callResult(ctx, protocol.GetLedgerInfoMethodName, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SetLedgerTimestamp(ctx context.Context, timestamp uint64) (*protocol.GetLedgerInfoResponse, error) {
	var result protocol.GetLedgerInfoResponse
	request := protocol.SetLedgerTimestampRequest{Timestamp: timestamp}
	if err := c.callResult(ctx, protocol.SetLedgerTimestampMethodName, request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SetLedgerSequence(ctx context.Context, sequence uint32) (*protocol.GetLedgerInfoResponse, error) {
	var result protocol.GetLedgerInfoResponse
	request := protocol.SetLedgerSequenceRequest{Sequence: sequence}
	if err := c.callResult(ctx, protocol.SetLedgerSequenceMethodName, request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) FundAccount(ctx context.Context,
	request protocol.FundAccountRequest,
) (*protocol.FundAccountResponse, error) {
	var result protocol.FundAccountResponse
	if err := c.callResult(ctx, protocol.FundAccountMethodName, request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetAccount(ctx context.Context,
	request protocol.GetAccountRequest,
) (*protocol.GetAccountResponse, error) {
	var result protocol.GetAccountResponse
	if err := c.callResult(ctx, protocol.GetAccountMethodName, request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) DeployContractCode(ctx context.Context,
	request protocol.DeployContractCodeRequest,
) (*protocol.DeployContractCodeResponse, error) {
	var result protocol.DeployContractCodeResponse
	if err := c.callResult(ctx, protocol.DeployContractCodeMethodName, request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SimulateTransaction(ctx context.Context,
	request protocol.SimulateTransactionRequest,
) (*protocol.SimulateTransactionResponse, error) {
	var result protocol.SimulateTransactionResponse
	if err := c.callResult(ctx, protocol.SimulateTransactionMethodName, request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SendTransaction(ctx context.Context,
	request protocol.SendTransactionRequest,
) (*protocol.SendTransactionResponse, error) {
	var result protocol.SendTransactionResponse
	if err := c.callResult(ctx, protocol.SendTransactionMethodName, request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetTransaction(ctx context.Context,
	request protocol.GetTransactionRequest,
) (*protocol.GetTransactionResponse, error) {
	var result protocol.GetTransactionResponse
	if err := c.callResult(ctx, protocol.GetTransactionMethodName, request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetLedgerEntries(ctx context.Context,
	request protocol.GetLedgerEntriesRequest,
) (*protocol.GetLedgerEntriesResponse, error) {
	var result protocol.GetLedgerEntriesResponse
	if err := c.callResult(ctx, protocol.GetLedgerEntriesMethodName, request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetContractData(ctx context.Context,
	request protocol.GetContractDataRequest,
) (*protocol.GetContractDataResponse, error) {
	var result protocol.GetContractDataResponse
	if err := c.callResult(ctx, protocol.GetContractDataMethodName, request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetFeeStats(ctx context.Context) (*protocol.GetFeeStatsResponse, error) {
	var result protocol.GetFeeStatsResponse
	if err := c.callResult(ctx, protocol.GetFeeStatsMethodName, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetEvents(ctx context.Context,
	request protocol.GetEventsRequest,
) (*protocol.GetEventsResponse, error) {
	var result protocol.GetEventsResponse
	if err := c.callResult(ctx, protocol.GetEventsMethodName, request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
