// Package evm talks JSON-RPC to the two chains: a failover transport over
// ordered endpoint pools, a typed read client, and a signing sender with
// serialized nonce acquisition.
package evm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/internal/metrics"
	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
)

// Chain labels one side of the bridge in logs and metrics.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainVia      Chain = "via"
)

// FailoverClient is an ordered pool of JSON-RPC endpoints (primary first).
// Calls go to the active endpoint; a transport-level failure rotates to the
// next one and retries, at most once per endpoint. JSON-RPC errors reported
// by the node itself (reverts, bad params) are returned as-is: every endpoint
// would answer them identically.
type FailoverClient struct {
	chain   Chain
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	active  int
	urls    []string
	clients []*rpc.Client
}

// DialFailover connects every endpoint up front so that a misconfigured URL
// fails the boot instead of the first unlucky call.
func DialFailover(ctx context.Context, chain Chain, urls []string, timeout time.Duration, logger *zap.Logger) (*FailoverClient, error) {
	if len(urls) == 0 {
		return nil, apperrors.ConfigError(fmt.Errorf("chain %s has no RPC endpoints", chain), "dial failover transport")
	}

	clients := make([]*rpc.Client, 0, len(urls))
	for _, url := range urls {
		client, err := rpc.DialContext(ctx, url)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, apperrors.ConfigError(fmt.Errorf("dial %s: %w", url, err), "dial failover transport")
		}
		clients = append(clients, client)
	}

	return &FailoverClient{
		chain:   chain,
		timeout: timeout,
		logger:  logger.Named("rpc").With(zap.String("chain", string(chain))),
		urls:    urls,
		clients: clients,
	}, nil
}

// isApplicationError reports whether the node answered with a JSON-RPC error
// object. Those are not transport failures and must not trigger rotation.
func isApplicationError(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return true
	}
	var dataErr rpc.DataError
	return errors.As(err, &dataErr)
}

// CallContext invokes one JSON-RPC method. Each attempt is bounded by the
// configured request timeout; the pool sticks to whichever endpoint last
// answered.
func (f *FailoverClient) CallContext(ctx context.Context, result any, method string, args ...any) error {
	f.mu.Lock()
	start := f.active
	f.mu.Unlock()

	var lastErr error
	for i := 0; i < len(f.clients); i++ {
		idx := (start + i) % len(f.clients)

		attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
		err := f.clients[idx].CallContext(attemptCtx, result, method, args...)
		cancel()

		if err == nil {
			f.setActive(idx)
			return nil
		}
		if isApplicationError(err) {
			f.setActive(idx)
			return err
		}
		if ctx.Err() != nil {
			return apperrors.RPCError(err, fmt.Sprintf("%s on %s cancelled", method, f.chain))
		}

		lastErr = err
		if i < len(f.clients)-1 {
			metrics.RPCFailoversTotal.WithLabelValues(string(f.chain)).Inc()
			f.logger.Warn("RPC endpoint failed; rotating to fallback",
				zap.String("method", method),
				zap.String("endpoint", f.urls[idx]),
				zap.Error(err))
		}
	}

	return apperrors.RPCError(lastErr, fmt.Sprintf("%s failed on all %d %s endpoints", method, len(f.clients), f.chain))
}

func (f *FailoverClient) setActive(idx int) {
	f.mu.Lock()
	f.active = idx
	f.mu.Unlock()
}

// Close releases every endpoint connection.
func (f *FailoverClient) Close() {
	for _, c := range f.clients {
		c.Close()
	}
}
