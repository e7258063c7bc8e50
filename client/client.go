package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ConnectivityError is returned when the RPC endpoint cannot be reached.
// It is fatal: no scan starts without a reachable endpoint.
type ConnectivityError struct {
	Endpoint string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("rpc endpoint %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// IsConnectivityError reports whether err is or wraps a ConnectivityError
func IsConnectivityError(err error) bool {
	var connErr *ConnectivityError
	return errors.As(err, &connErr)
}

// Client is the JSON-RPC transport handle shared by all concurrent fetches.
// It is safe for concurrent use.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	limiter   *rate.Limiter
	endpoint  string
	timeout   time.Duration
	logger    *zap.Logger
}

// Config holds client configuration
type Config struct {
	Endpoint string
	// Timeout applies to the initial dial and to every call
	Timeout time.Duration
	// MaxConnsPerHost bounds the HTTP connection pool (0 = unbounded)
	MaxConnsPerHost int
	// RateLimit is the maximum number of requests per second (0 = unlimited)
	RateLimit float64
	RateBurst int
	Logger    *zap.Logger
}

// NewClient dials the endpoint and verifies it answers.
// Any failure is reported as a *ConnectivityError.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dialCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxConnsPerHost:     cfg.MaxConnsPerHost,
			MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	rpcClient, err := rpc.DialOptions(dialCtx, cfg.Endpoint, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, &ConnectivityError{Endpoint: cfg.Endpoint, Err: err}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	client := &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		limiter:   limiter,
		endpoint:  cfg.Endpoint,
		timeout:   cfg.Timeout,
		logger:    logger,
	}

	if err := client.Ping(dialCtx); err != nil {
		rpcClient.Close()
		return nil, &ConnectivityError{Endpoint: cfg.Endpoint, Err: err}
	}

	logger.Info("connected to RPC endpoint",
		zap.String("endpoint", cfg.Endpoint),
		zap.Int("max_conns_per_host", cfg.MaxConnsPerHost),
		zap.Float64("rate_limit", cfg.RateLimit),
	)

	return client, nil
}

// Endpoint returns the URL the client is connected to
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Ping verifies the connection to the RPC endpoint
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetChainID(ctx)
	return err
}

// Close closes the client connection
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// GetChainID returns the chain ID
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	chainID, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return chainID, nil
}

// GetLatestBlockNumber returns the current chain head height
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	blockNumber, err := c.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return blockNumber, nil
}

// CallContext performs a single JSON-RPC call, subject to the rate limit and
// the per-call timeout.
func (c *Client) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return c.rpcClient.CallContext(ctx, result, method, args...)
}

// begin waits for the rate limiter and derives the per-call context
func (c *Client) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	if c.timeout > 0 {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		return callCtx, cancel, nil
	}
	return ctx, func() {}, nil
}
