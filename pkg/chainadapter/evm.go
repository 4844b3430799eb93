package chainadapter

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/intent-solver/pkg/logging"
	"github.com/certen/intent-solver/pkg/solvertypes"
)

// retryableSubstrings lists transient RPC error fragments worth retrying.
var retryableSubstrings = []string{
	"connection refused",
	"timeout",
	"EOF",
	"too many requests",
	"nonce too low",
	"replacement transaction underpriced",
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// EVMAdapter implements Adapter over a go-ethereum JSON-RPC client. One
// instance per configured chain.
type EVMAdapter struct {
	client        *ethclient.Client
	chainID       uint64
	confirmations uint64
	gasStrategy   GasStrategy
	retry         RetryConfig
	privateKey    *ecdsa.PrivateKey // nil => read-only adapter
	logger        *logging.Logger
}

// EVMConfig configures one EVMAdapter.
type EVMConfig struct {
	RPCURL        string
	ChainID       uint64
	Confirmations uint64
	GasStrategy   GasStrategy
	Retry         RetryConfig
	PrivateKeyHex string // optional; empty => read-only
	Logger        *logging.Logger
}

// NewEVMAdapter dials the RPC endpoint and validates the node's reported
// chain id against the configured one before returning. A mismatch here
// is fatal and is never retried.
func NewEVMAdapter(ctx context.Context, cfg EVMConfig) (*EVMAdapter, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: dial %s: %w", cfg.RPCURL, err)
	}

	reported, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: query chain id: %w", err)
	}
	if reported.Uint64() != cfg.ChainID {
		return nil, fmt.Errorf("%w: configured=%d reported=%d", ErrChainIDMismatch, cfg.ChainID, reported.Uint64())
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default().WithComponent("chainadapter").WithChain(cfg.ChainID)
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}

	a := &EVMAdapter{
		client:        client,
		chainID:       cfg.ChainID,
		confirmations: cfg.Confirmations,
		gasStrategy:   cfg.GasStrategy,
		retry:         retry,
		logger:        logger,
	}

	if cfg.PrivateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("chainadapter: parse private key: %w", err)
		}
		a.privateKey = key
	}

	return a, nil
}

func (a *EVMAdapter) ChainID() uint64       { return a.chainID }
func (a *EVMAdapter) Confirmations() uint64 { return a.confirmations }

func (a *EVMAdapter) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= a.retry.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		backoff := time.Duration(1<<attempt) * 200 * time.Millisecond
		a.logger.WithError(lastErr).Warn("retryable rpc error",
			"attempt", attempt+1, "max_retries", a.retry.MaxRetries)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("chainadapter: exhausted retries: %w", lastErr)
}

func (a *EVMAdapter) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := a.withRetry(ctx, func() error {
		v, err := a.client.BlockNumber(ctx)
		n = v
		return err
	})
	return n, err
}

func (a *EVMAdapter) BlockTimestamp(ctx context.Context, block uint64) (uint64, error) {
	var ts uint64
	err := a.withRetry(ctx, func() error {
		header, err := a.client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
		if err != nil {
			return err
		}
		ts = header.Time
		return nil
	})
	return ts, err
}

func (a *EVMAdapter) Balance(ctx context.Context, addr solvertypes.Address) (*big.Int, error) {
	var bal *big.Int
	err := a.withRetry(ctx, func() error {
		v, err := a.client.BalanceAt(ctx, common.Address(addr), nil)
		bal = v
		return err
	})
	return bal, err
}

func (a *EVMAdapter) SubmitTransaction(ctx context.Context, tx solvertypes.Transaction) ([32]byte, error) {
	var hash [32]byte
	if a.privateKey == nil {
		return hash, ErrNoWallet
	}

	from := crypto.PubkeyToAddress(a.privateKey.PublicKey)

	nonce := tx.Nonce
	if nonce == nil {
		var n uint64
		err := a.withRetry(ctx, func() error {
			v, err := a.client.PendingNonceAt(ctx, from)
			n = v
			return err
		})
		if err != nil {
			return hash, fmt.Errorf("chainadapter: fetch nonce: %w", err)
		}
		nonce = &n
	}

	gasPrice := tx.GasPrice
	if gasPrice == nil && tx.MaxFeePerGas == nil {
		gp, err := a.GasPrice(ctx)
		if err != nil {
			return hash, fmt.Errorf("chainadapter: fetch gas price: %w", err)
		}
		gasPrice = gp
	}

	gasLimit := tx.GasLimit
	if gasLimit == nil {
		est, err := a.EstimateGas(ctx, tx)
		if err != nil {
			return hash, fmt.Errorf("chainadapter: estimate gas: %w", err)
		}
		gasLimit = &est
	}

	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}

	var to *common.Address
	if tx.To != nil {
		addr := common.Address(*tx.To)
		to = &addr
	}

	var ethTx *types.Transaction
	if tx.MaxFeePerGas != nil {
		tip := tx.MaxPriorityFeePerGas
		if tip == nil {
			tip = big.NewInt(0)
		}
		ethTx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(a.chainID),
			Nonce:     *nonce,
			To:        to,
			Value:     value,
			Gas:       *gasLimit,
			GasFeeCap: tx.MaxFeePerGas,
			GasTipCap: tip,
			Data:      tx.Data,
		})
	} else {
		ethTx = types.NewTx(&types.LegacyTx{
			Nonce:    *nonce,
			To:       to,
			Value:    value,
			Gas:      *gasLimit,
			GasPrice: gasPrice,
			Data:     tx.Data,
		})
	}

	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(a.chainID))
	signed, err := types.SignTx(ethTx, signer, a.privateKey)
	if err != nil {
		return hash, fmt.Errorf("chainadapter: sign tx: %w", err)
	}

	err = a.withRetry(ctx, func() error {
		return a.client.SendTransaction(ctx, signed)
	})
	if err != nil {
		return hash, fmt.Errorf("chainadapter: broadcast tx: %w", err)
	}

	hash = signed.Hash()
	return hash, nil
}

func (a *EVMAdapter) TransactionReceipt(ctx context.Context, hash [32]byte) (*solvertypes.Receipt, error) {
	var receipt *types.Receipt
	err := a.withRetry(ctx, func() error {
		r, err := a.client.TransactionReceipt(ctx, common.Hash(hash))
		receipt = r
		return err
	})
	if err != nil {
		if err == ethereum.NotFound {
			return nil, ErrNotYetMined
		}
		return nil, fmt.Errorf("chainadapter: fetch receipt: %w", err)
	}

	var ts *uint64
	_ = a.withRetry(ctx, func() error {
		header, err := a.client.HeaderByNumber(ctx, receipt.BlockNumber)
		if err != nil {
			return err
		}
		t := header.Time
		ts = &t
		return nil
	})

	return &solvertypes.Receipt{
		Hash:        hash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     new(big.Int).SetUint64(receipt.GasUsed),
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
		Timestamp:   ts,
	}, nil
}

func (a *EVMAdapter) Call(ctx context.Context, tx solvertypes.Transaction, block *uint64) ([]byte, error) {
	var to *common.Address
	if tx.To != nil {
		addr := common.Address(*tx.To)
		to = &addr
	}
	msg := ethereum.CallMsg{To: to, Data: tx.Data, Value: tx.Value}

	var blockNum *big.Int
	if block != nil {
		blockNum = new(big.Int).SetUint64(*block)
	}

	var out []byte
	err := a.withRetry(ctx, func() error {
		v, err := a.client.CallContract(ctx, msg, blockNum)
		out = v
		return err
	})
	return out, err
}

func (a *EVMAdapter) Logs(ctx context.Context, filter solvertypes.LogFilter) ([]solvertypes.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(filter.FromBlock),
		ToBlock:   new(big.Int).SetUint64(filter.ToBlock),
	}
	if filter.Address != nil {
		q.Addresses = []common.Address{common.Address(*filter.Address)}
	}

	topics := make([][]common.Hash, 0, 4)
	trailingWildcards := 0
	for i := 3; i >= 0; i-- {
		if filter.Topics[i] == nil {
			trailingWildcards++
			continue
		}
		break
	}
	limit := 4 - trailingWildcards
	for i := 0; i < limit; i++ {
		if filter.Topics[i] == nil {
			topics = append(topics, nil)
		} else {
			topics = append(topics, []common.Hash{common.Hash(*filter.Topics[i])})
		}
	}
	q.Topics = topics

	var logs []types.Log
	err := a.withRetry(ctx, func() error {
		v, err := a.client.FilterLogs(ctx, q)
		logs = v
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("chainadapter: filter logs: %w", err)
	}

	out := make([]solvertypes.Log, 0, len(logs))
	for _, l := range logs {
		topics := make([][32]byte, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = t
		}
		out = append(out, solvertypes.Log{
			Address:     solvertypes.Address(l.Address),
			Topics:      topics,
			Data:        l.Data,
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash,
			TxIndex:     l.TxIndex,
			LogIndex:    l.Index,
		})
	}
	return out, nil
}

func (a *EVMAdapter) EstimateGas(ctx context.Context, tx solvertypes.Transaction) (uint64, error) {
	var from common.Address
	if a.privateKey != nil {
		from = crypto.PubkeyToAddress(a.privateKey.PublicKey)
	}
	var to *common.Address
	if tx.To != nil {
		addr := common.Address(*tx.To)
		to = &addr
	}
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	msg := ethereum.CallMsg{From: from, To: to, Data: tx.Data, Value: value}

	var est uint64
	err := a.withRetry(ctx, func() error {
		v, err := a.client.EstimateGas(ctx, msg)
		est = v
		return err
	})
	return est, err
}

func (a *EVMAdapter) GasPrice(ctx context.Context) (*big.Int, error) {
	var base *big.Int
	err := a.withRetry(ctx, func() error {
		v, err := a.client.SuggestGasPrice(ctx)
		base = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return a.gasStrategy.Apply(base), nil
}
