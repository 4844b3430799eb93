// Package chainadapter abstracts one blockchain per configured chain id:
// reading blocks/logs/receipts, signing and submitting transactions, and
// estimating gas. Concrete adapters are narrow on purpose so that new
// chains plug in without touching the coordinator.
package chainadapter

import (
	"context"
	"errors"
	"math/big"

	"github.com/certen/intent-solver/pkg/solvertypes"
)

var (
	// ErrNoWallet is returned by SubmitTransaction on a read-only adapter.
	ErrNoWallet = errors.New("chainadapter: no wallet configured")
	// ErrNotYetMined is returned by TransactionReceipt while a transaction
	// has not yet been included in a block.
	ErrNotYetMined = errors.New("chainadapter: transaction not yet mined")
	// ErrChainIDMismatch is returned at construction time when the node's
	// reported chain id does not match the configured one. It is fatal and
	// MUST NOT be retried.
	ErrChainIDMismatch = errors.New("chainadapter: chain id mismatch")
)

// GasStrategyKind selects how GasPrice derives a price from the network's
// base fee.
type GasStrategyKind string

const (
	GasStandard GasStrategyKind = "standard"
	GasFast     GasStrategyKind = "fast"
	GasCustom   GasStrategyKind = "custom"
	GasEIP1559  GasStrategyKind = "eip1559"
)

// GasStrategy is selected once per adapter at construction.
type GasStrategy struct {
	Kind             GasStrategyKind
	Multiplier       float64  // Custom: base * round(multiplier*1000)/1000
	MaxPriorityFee   *big.Int // EIP1559
}

// Apply derives the gas price to quote for a given network base price.
func (s GasStrategy) Apply(base *big.Int) *big.Int {
	switch s.Kind {
	case GasFast:
		return mulFloat(base, 1.2)
	case GasCustom:
		return mulFloat(base, s.Multiplier)
	case GasEIP1559:
		if s.MaxPriorityFee == nil {
			return new(big.Int).Set(base)
		}
		return new(big.Int).Add(base, s.MaxPriorityFee)
	default:
		return new(big.Int).Set(base)
	}
}

func mulFloat(base *big.Int, m float64) *big.Int {
	scaled := int64(m*1000 + 0.5)
	out := new(big.Int).Mul(base, big.NewInt(scaled))
	return out.Div(out, big.NewInt(1000))
}

// RetryConfig bounds the transport-level retry every RPC call is wrapped
// in. Chain-ID mismatch at construction is exempt: it is always fatal.
type RetryConfig struct {
	MaxRetries int // default 3
}

// Adapter abstracts one blockchain. All operations may suspend on I/O and
// are fallible; only ChainID/Confirmations are pure.
type Adapter interface {
	ChainID() uint64
	Confirmations() uint64

	BlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, block uint64) (uint64, error)
	Balance(ctx context.Context, addr solvertypes.Address) (*big.Int, error)

	SubmitTransaction(ctx context.Context, tx solvertypes.Transaction) ([32]byte, error)
	TransactionReceipt(ctx context.Context, hash [32]byte) (*solvertypes.Receipt, error)
	Call(ctx context.Context, tx solvertypes.Transaction, block *uint64) ([]byte, error)
	Logs(ctx context.Context, filter solvertypes.LogFilter) ([]solvertypes.Log, error)

	EstimateGas(ctx context.Context, tx solvertypes.Transaction) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
}
