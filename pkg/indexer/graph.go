package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/internal/metrics"
	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
	"github.com/vianetwork/bridge-relayer/pkg/config"
)

// GraphSource queries a remote indexer over HTTP. Each call POSTs one query
// document and retries transport-level failures with exponential back-off;
// query errors reported by the indexer itself are returned without retry.
type GraphSource struct {
	endpoint  string
	apiKey    string
	client    *http.Client
	attempts  uint64
	baseDelay time.Duration
	logger    *zap.Logger
}

// NewGraphSource builds the remote backend from the indexer config.
func NewGraphSource(cfg *config.IndexerConfig, logger *zap.Logger) *GraphSource {
	return &GraphSource{
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		attempts:  cfg.RetryAttempts,
		baseDelay: cfg.RetryBaseDelay,
		logger:    logger.Named("indexer"),
	}
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// retryableStatus reports whether an HTTP status is worth another attempt.
// 4xx responses other than 429 indicate a malformed query and never recover.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// query POSTs one document and returns the data envelope.
func (g *GraphSource) query(ctx context.Context, doc string, vars map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(graphRequest{Query: doc, Variables: vars})
	if err != nil {
		return nil, apperrors.IndexerError(err, "encode indexer query")
	}

	var data json.RawMessage
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", uuid.NewString())
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			// Drain so the connection can be reused across attempts.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("indexer returned status %d", resp.StatusCode)
			if retryableStatus(resp.StatusCode) {
				return err
			}
			return backoff.Permanent(err)
		}

		var envelope graphResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return backoff.Permanent(fmt.Errorf("decode indexer response: %w", err))
		}
		if len(envelope.Errors) > 0 {
			return backoff.Permanent(fmt.Errorf("indexer query error: %s", envelope.Errors[0].Message))
		}

		data = envelope.Data
		return nil
	}

	notify := func(err error, wait time.Duration) {
		metrics.IndexerRetriesTotal.WithLabelValues("graph").Inc()
		g.logger.Warn("Indexer query failed; retrying",
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.baseDelay
	retries := backoff.WithMaxRetries(bo, g.attempts-1)
	if err := backoff.RetryNotify(op, backoff.WithContext(retries, ctx), notify); err != nil {
		return nil, apperrors.IndexerError(err, "indexer query failed")
	}
	return data, nil
}

// collection unmarshals one named entity list out of the data envelope.
func collection(data json.RawMessage, field string, out any) error {
	var byField map[string]json.RawMessage
	if err := json.Unmarshal(data, &byField); err != nil {
		return fmt.Errorf("decode data envelope: %w", err)
	}
	raw, ok := byField[field]
	if !ok {
		return fmt.Errorf("response is missing %q", field)
	}
	return json.Unmarshal(raw, out)
}

// Remote entity shapes. Numbers arrive as decimal strings, byte columns as
// 0x-prefixed hex.

type gqlMessageSent struct {
	ID              string `json:"id"`
	BlockNumber     string `json:"blockNumber"`
	TransactionHash string `json:"transactionHash"`
	Payload         string `json:"payload"`
	BlockTimestamp  string `json:"blockTimestamp"`
}

type gqlExecuted struct {
	ID              string `json:"id"`
	BlockNumber     string `json:"blockNumber"`
	TransactionHash string `json:"transactionHash"`
	VaultNonce      string `json:"vaultNonce"`
	Vault           string `json:"vault"`
	Receiver        string `json:"receiver"`
	Shares          string `json:"shares"`
}

type gqlWithdrawalState struct {
	ID              string `json:"id"`
	BlockNumber     string `json:"blockNumber"`
	TransactionHash string `json:"transactionHash"`
	L1BatchNumber   string `json:"l1BatchNumber"`
	ExchangeRate    string `json:"exchangeRate"`
	MessageCount    int    `json:"messageCount"`
}

const messageSentQuery = `query($chain: String!, $from: BigInt!, $to: BigInt!, $limit: Int!) {
  messageSents(where: {chain: $chain, blockNumber_gte: $from, blockNumber_lte: $to}, orderBy: blockNumber, orderDirection: asc, first: $limit) {
    id blockNumber transactionHash payload blockTimestamp
  }
}`

// MessageSentEvents reads a MessageSent stream over [fromBlock, toBlock].
func (g *GraphSource) MessageSentEvents(ctx context.Context, stream Stream, fromBlock, toBlock uint64, limit int) ([]MessageSentEvent, error) {
	if toBlock < fromBlock {
		return nil, nil
	}
	chain, err := chainOf(stream)
	if err != nil {
		return nil, apperrors.IndexerError(err, "invalid stream")
	}

	data, err := g.query(ctx, messageSentQuery, map[string]any{
		"chain": chain,
		"from":  strconv.FormatUint(fromBlock, 10),
		"to":    strconv.FormatUint(toBlock, 10),
		"limit": limit,
	})
	if err != nil {
		return nil, err
	}

	var rows []gqlMessageSent
	if err := collection(data, "messageSents", &rows); err != nil {
		return nil, apperrors.IndexerError(err, "decode message sent events")
	}

	events := make([]MessageSentEvent, 0, len(rows))
	for _, r := range rows {
		block, err := strconv.ParseUint(r.BlockNumber, 10, 64)
		if err != nil {
			return nil, apperrors.IndexerError(fmt.Errorf("event %s: block %q: %w", r.ID, r.BlockNumber, err), "decode message sent events")
		}
		hash, err := hexutil.Decode(r.TransactionHash)
		if err != nil {
			return nil, apperrors.IndexerError(fmt.Errorf("event %s: tx hash %q: %w", r.ID, r.TransactionHash, err), "decode message sent events")
		}
		payload, err := hexutil.Decode(r.Payload)
		if err != nil {
			return nil, apperrors.IndexerError(fmt.Errorf("event %s: payload: %w", r.ID, err), "decode message sent events")
		}
		ts, err := strconv.ParseInt(r.BlockTimestamp, 10, 64)
		if err != nil {
			return nil, apperrors.IndexerError(fmt.Errorf("event %s: timestamp %q: %w", r.ID, r.BlockTimestamp, err), "decode message sent events")
		}
		events = append(events, MessageSentEvent{
			ID:              r.ID,
			BlockNumber:     block,
			TransactionHash: common.BytesToHash(hash),
			Payload:         payload,
			BlockTimestamp:  time.Unix(ts, 0).UTC(),
		})
	}

	// The remote API orders on a single field; enforce the (block, id)
	// contract locally.
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

func executedCollection(stream Stream) (string, string, error) {
	switch stream {
	case StreamDepositExecuted:
		return "depositExecuteds", `query($from: BigInt!, $to: BigInt!, $limit: Int!) {
  depositExecuteds(where: {blockNumber_gt: $from, blockNumber_lte: $to}, orderBy: blockNumber, orderDirection: asc, first: $limit) {
    id blockNumber transactionHash vaultNonce vault receiver shares
  }
}`, nil
	case StreamWithdrawalExecuted:
		return "messageWithdrawalExecuteds", `query($from: BigInt!, $to: BigInt!, $limit: Int!) {
  messageWithdrawalExecuteds(where: {blockNumber_gt: $from, blockNumber_lte: $to}, orderBy: blockNumber, orderDirection: asc, first: $limit) {
    id blockNumber transactionHash vaultNonce vault receiver shares
  }
}`, nil
	default:
		return "", "", fmt.Errorf("stream %q is not an executed stream", stream)
	}
}

func executedByHashCollection(stream Stream) (string, string, error) {
	switch stream {
	case StreamDepositExecuted:
		return "depositExecuteds", `query($hashes: [Bytes!]!) {
  depositExecuteds(where: {transactionHash_in: $hashes}, orderBy: blockNumber, orderDirection: asc, first: 1000) {
    id blockNumber transactionHash vaultNonce vault receiver shares
  }
}`, nil
	case StreamWithdrawalExecuted:
		return "messageWithdrawalExecuteds", `query($hashes: [Bytes!]!) {
  messageWithdrawalExecuteds(where: {transactionHash_in: $hashes}, orderBy: blockNumber, orderDirection: asc, first: 1000) {
    id blockNumber transactionHash vaultNonce vault receiver shares
  }
}`, nil
	default:
		return "", "", fmt.Errorf("stream %q is not an executed stream", stream)
	}
}

// ExecutedEvents reads an executed stream over (fromBlock, toBlock].
func (g *GraphSource) ExecutedEvents(ctx context.Context, stream Stream, fromBlock, toBlock uint64, limit int) ([]ExecutedEvent, error) {
	if toBlock < fromBlock {
		return nil, nil
	}
	field, doc, err := executedCollection(stream)
	if err != nil {
		return nil, apperrors.IndexerError(err, "invalid stream")
	}

	data, err := g.query(ctx, doc, map[string]any{
		"from":  strconv.FormatUint(fromBlock, 10),
		"to":    strconv.FormatUint(toBlock, 10),
		"limit": limit,
	})
	if err != nil {
		return nil, err
	}
	return decodeExecuted(data, field)
}

// ExecutedEventsByTxHashes resolves executed events by transaction hash.
func (g *GraphSource) ExecutedEventsByTxHashes(ctx context.Context, stream Stream, hashes []common.Hash) ([]ExecutedEvent, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	field, doc, err := executedByHashCollection(stream)
	if err != nil {
		return nil, apperrors.IndexerError(err, "invalid stream")
	}

	hexHashes := make([]string, 0, len(hashes))
	for _, h := range hashes {
		hexHashes = append(hexHashes, h.Hex())
	}
	data, err := g.query(ctx, doc, map[string]any{"hashes": hexHashes})
	if err != nil {
		return nil, err
	}
	return decodeExecuted(data, field)
}

func decodeExecuted(data json.RawMessage, field string) ([]ExecutedEvent, error) {
	var rows []gqlExecuted
	if err := collection(data, field, &rows); err != nil {
		return nil, apperrors.IndexerError(err, "decode executed events")
	}

	events := make([]ExecutedEvent, 0, len(rows))
	for _, r := range rows {
		block, err := strconv.ParseUint(r.BlockNumber, 10, 64)
		if err != nil {
			return nil, apperrors.IndexerError(fmt.Errorf("event %s: block %q: %w", r.ID, r.BlockNumber, err), "decode executed events")
		}
		hash, err := hexutil.Decode(r.TransactionHash)
		if err != nil {
			return nil, apperrors.IndexerError(fmt.Errorf("event %s: tx hash %q: %w", r.ID, r.TransactionHash, err), "decode executed events")
		}
		nonce, ok := new(big.Int).SetString(r.VaultNonce, 10)
		if !ok {
			return nil, apperrors.IndexerError(fmt.Errorf("event %s: vault nonce %q is not an integer", r.ID, r.VaultNonce), "decode executed events")
		}
		shares, ok := new(big.Int).SetString(r.Shares, 10)
		if !ok {
			return nil, apperrors.IndexerError(fmt.Errorf("event %s: shares %q is not an integer", r.ID, r.Shares), "decode executed events")
		}
		events = append(events, ExecutedEvent{
			ID:              r.ID,
			BlockNumber:     block,
			TransactionHash: common.BytesToHash(hash),
			VaultNonce:      nonce,
			Vault:           common.HexToAddress(r.Vault),
			Receiver:        common.HexToAddress(r.Receiver),
			Shares:          shares,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

const withdrawalStateQuery = `query($batches: [BigInt!]!, $max: BigInt!, $limit: Int!) {
  withdrawalStateUpdateds(where: {l1BatchNumber_in: $batches, blockNumber_lte: $max}, orderBy: blockNumber, orderDirection: asc, first: $limit) {
    id blockNumber transactionHash l1BatchNumber exchangeRate messageCount
  }
}`

// WithdrawalStateEvents reads vault controller acknowledgements for the given
// batches up to maxBlock inclusive.
func (g *GraphSource) WithdrawalStateEvents(ctx context.Context, l1BatchNumbers []int64, maxBlock uint64, limit int) ([]WithdrawalStateEvent, error) {
	if len(l1BatchNumbers) == 0 {
		return nil, nil
	}

	batches := make([]string, 0, len(l1BatchNumbers))
	for _, b := range l1BatchNumbers {
		batches = append(batches, strconv.FormatInt(b, 10))
	}
	data, err := g.query(ctx, withdrawalStateQuery, map[string]any{
		"batches": batches,
		"max":     strconv.FormatUint(maxBlock, 10),
		"limit":   limit,
	})
	if err != nil {
		return nil, err
	}

	var rows []gqlWithdrawalState
	if err := collection(data, "withdrawalStateUpdateds", &rows); err != nil {
		return nil, apperrors.IndexerError(err, "decode withdrawal state events")
	}

	events := make([]WithdrawalStateEvent, 0, len(rows))
	for _, r := range rows {
		block, err := strconv.ParseUint(r.BlockNumber, 10, 64)
		if err != nil {
			return nil, apperrors.IndexerError(fmt.Errorf("event %s: block %q: %w", r.ID, r.BlockNumber, err), "decode withdrawal state events")
		}
		hash, err := hexutil.Decode(r.TransactionHash)
		if err != nil {
			return nil, apperrors.IndexerError(fmt.Errorf("event %s: tx hash %q: %w", r.ID, r.TransactionHash, err), "decode withdrawal state events")
		}
		batch, err := strconv.ParseInt(r.L1BatchNumber, 10, 64)
		if err != nil {
			return nil, apperrors.IndexerError(fmt.Errorf("event %s: l1 batch %q: %w", r.ID, r.L1BatchNumber, err), "decode withdrawal state events")
		}
		rate, err := decimal.NewFromString(r.ExchangeRate)
		if err != nil {
			return nil, apperrors.IndexerError(fmt.Errorf("event %s: exchange rate %q: %w", r.ID, r.ExchangeRate, err), "decode withdrawal state events")
		}
		events = append(events, WithdrawalStateEvent{
			ID:              r.ID,
			BlockNumber:     block,
			TransactionHash: common.BytesToHash(hash),
			L1BatchNumber:   batch,
			ExchangeRate:    rate,
			MessageCount:    r.MessageCount,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

// Ping issues a minimal query to confirm the endpoint answers.
func (g *GraphSource) Ping(ctx context.Context) error {
	_, err := g.query(ctx, `query { _meta { block { number } } }`, nil)
	return err
}

// Close is a no-op; the HTTP client holds no persistent resources beyond
// pooled connections.
func (g *GraphSource) Close() error {
	g.client.CloseIdleConnections()
	return nil
}
