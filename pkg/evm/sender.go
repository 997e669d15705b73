package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/internal/metrics"
	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
	"github.com/vianetwork/bridge-relayer/pkg/config"
	"github.com/vianetwork/bridge-relayer/pkg/evm/contracts"
)

// receiptPollInterval paces WaitMined's receipt checks.
const receiptPollInterval = 3 * time.Second

// NodeClient is the chain surface the sender builds on. *Client satisfies it;
// tests substitute a stub.
type NodeClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, from common.Address, to *common.Address, data []byte, value *big.Int) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	L1BatchDetails(ctx context.Context, batch int64) (*L1BatchDetails, error)
	RawCall(ctx context.Context, result any, method string, params ...any) error
}

// Sender signs and broadcasts transactions for one identity on one chain.
//
// Nonce acquisition is serialized: the mutex covers the pending-nonce read,
// the build, the signature and the broadcast, so concurrent callers cannot
// collide on a nonce. It is released before any inclusion wait.
type Sender struct {
	chain   Chain
	node    NodeClient
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer
	gas     *config.GasProfile
	logger  *zap.Logger

	nonceMu sync.Mutex
}

// NewSender derives the signing identity and binds it to a chain. gas is the
// fixed L2 fee profile; nil means the node prices and sizes each transaction.
func NewSender(ctx context.Context, chain Chain, node NodeClient, keyBytes []byte, gas *config.GasProfile, logger *zap.Logger) (*Sender, error) {
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, apperrors.ConfigError(err, "load relayer private key")
	}

	chainID, err := node.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s chain id: %w", chain, err)
	}

	address := crypto.PubkeyToAddress(key.PublicKey)
	logger.Info("Sender ready",
		zap.String("chain", string(chain)),
		zap.String("address", address.Hex()),
		zap.String("chain_id", chainID.String()))

	return &Sender{
		chain:   chain,
		node:    node,
		key:     key,
		address: address,
		chainID: chainID,
		signer:  types.LatestSignerForChainID(chainID),
		gas:     gas,
		logger:  logger.Named("sender").With(zap.String("chain", string(chain))),
	}, nil
}

// Address returns the relayer account this sender signs with.
func (s *Sender) Address() common.Address {
	return s.address
}

// Chain returns the chain this sender broadcasts on.
func (s *Sender) Chain() Chain {
	return s.chain
}

// SendRaw signs and broadcasts a transaction carrying data to a contract.
// It returns once the transaction is accepted into the node's pool; callers
// wait for inclusion separately via WaitMined.
func (s *Sender) SendRaw(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}

	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()

	nonce, err := s.node.PendingNonce(ctx, s.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch pending nonce: %w", err)
	}

	gasPrice, gasLimit, err := s.gasFor(ctx, to, data, value)
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return common.Hash{}, apperrors.UnexpectedError(err, "sign transaction")
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, apperrors.UnexpectedError(err, "encode transaction")
	}

	hash, err := s.node.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("broadcast transaction: %w", err)
	}

	metrics.TransactionsSent.WithLabelValues(string(s.chain)).Inc()
	s.logger.Info("Transaction broadcast",
		zap.String("tx_hash", hash.Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce))

	return hash, nil
}

// SendContractCall ABI-encodes a method call and broadcasts it.
func (s *Sender) SendContractCall(ctx context.Context, contract common.Address, method string, args ...any) (common.Hash, error) {
	data, err := contracts.Pack(method, args...)
	if err != nil {
		return common.Hash{}, apperrors.UnexpectedError(err, fmt.Sprintf("encode %s call", method))
	}
	return s.SendRaw(ctx, contract, data, nil)
}

// gasFor resolves the fee fields: the fixed profile when configured (L2),
// otherwise node estimates with headroom for state drift between the
// estimate and inclusion.
func (s *Sender) gasFor(ctx context.Context, to common.Address, data []byte, value *big.Int) (*big.Int, uint64, error) {
	if s.gas != nil {
		return s.gas.Price, s.gas.Limit.Uint64(), nil
	}

	gasPrice, err := s.node.SuggestGasPrice(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("suggest gas price: %w", err)
	}
	estimate, err := s.node.EstimateGas(ctx, s.address, &to, data, value)
	if err != nil {
		return nil, 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gasPrice, estimate + estimate/5, nil
}

// WaitMined polls for the receipt of a broadcast transaction until ctx
// expires. The nonce lock is not held while waiting.
func (s *Sender) WaitMined(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.node.TransactionReceipt(ctx, hash)
		if err != nil {
			s.logger.Debug("Receipt poll failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		} else if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, apperrors.RPCError(ctx.Err(), fmt.Sprintf("waiting for receipt of %s", hash.Hex()))
		case <-ticker.C:
		}
	}
}

// BlockNumber reports the chain head.
func (s *Sender) BlockNumber(ctx context.Context) (uint64, error) {
	return s.node.BlockNumber(ctx)
}

// TransactionReceipt fetches a receipt; (nil, nil) while unknown.
func (s *Sender) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	return s.node.TransactionReceipt(ctx, hash)
}

// L1BatchDetails proxies the zk-rollup batch detail call.
func (s *Sender) L1BatchDetails(ctx context.Context, batch int64) (*L1BatchDetails, error) {
	return s.node.L1BatchDetails(ctx, batch)
}

// RawCall proxies an arbitrary JSON-RPC method.
func (s *Sender) RawCall(ctx context.Context, result any, method string, params ...any) error {
	return s.node.RawCall(ctx, result, method, params...)
}
