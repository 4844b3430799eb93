// Package strategy implements the execution strategy: a pure decision
// function with no I/O side effects. It decides Execute, Skip,
// or Defer for a validated order given a freshly recomputed
// ExecutionContext; the caller re-evaluates on every retry rather than
// this package caching anything.
package strategy

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/certen/intent-solver/pkg/orderstandard"
	"github.com/certen/intent-solver/pkg/solvertypes"
)

// Decision is the tagged union decide() returns.
type Decision struct {
	Kind   DecisionKind
	Params ExecuteParams // meaningful only when Kind == Execute
	Reason string        // meaningful only when Kind == Skip
	Defer  time.Duration // meaningful only when Kind == Defer
}

type DecisionKind string

const (
	Execute DecisionKind = "execute"
	Skip    DecisionKind = "skip"
	Defer   DecisionKind = "defer"
)

// ExecuteParams carries, at minimum, a gas-price hint and a deadline for
// the fill the coordinator is about to submit.
type ExecuteParams struct {
	GasPriceHint *big.Int
	Deadline     uint64
}

// Config is the profitability/risk policy the strategy decides against.
type Config struct {
	// MinProfitBPS floors the estimated margin (filled amount minus gas
	// price times the default fill gas limit), in basis points of the
	// filled amount, below which an order is skipped. Zero disables the
	// check.
	MinProfitBPS int64

	// MaxFillAmount caps the filled-output amount a single order may
	// request; orders above it are skipped as a basic risk control.
	MaxFillAmount *big.Int

	// MinSolverBalance is the minimum balance, per destination chain,
	// below which an order on that chain is deferred rather than
	// skipped (the solver may be topped up shortly).
	MinSolverBalance *big.Int
	DeferDuration    time.Duration
}

// DefaultConfig returns a permissive Config: no profit floor, no amount
// cap, a short defer on low balance.
func DefaultConfig() Config {
	return Config{
		MinProfitBPS:     0,
		DeferDuration:    30 * time.Second,
		MinSolverBalance: big.NewInt(0),
	}
}

// Strategy implements the pure decide() function over Config.
type Strategy struct {
	cfg      Config
	standard *orderstandard.EIP7683Standard
}

// NewFromConfig initializes a Strategy from Config.
func NewFromConfig(cfg Config) *Strategy {
	return &Strategy{cfg: cfg, standard: orderstandard.NewEIP7683Standard()}
}

// Decide evaluates order against ctx and returns Execute, Skip, or Defer.
// It has no I/O: ctx is a snapshot the caller built from live state.
func (s *Strategy) Decide(order solvertypes.Order, ctx solvertypes.ExecutionContext) (Decision, error) {
	instructions, err := s.standard.FillInstructions(order)
	if err != nil {
		return Decision{}, fmt.Errorf("strategy: %w", err)
	}
	if len(instructions) == 0 {
		return Decision{Kind: Skip, Reason: "no fill instruction"}, nil
	}
	destChain := instructions[0].DestinationChain

	fillAmount := fillAmountOf(order)
	if s.cfg.MaxFillAmount != nil && s.cfg.MaxFillAmount.Sign() > 0 && fillAmount.Cmp(s.cfg.MaxFillAmount) > 0 {
		return Decision{Kind: Skip, Reason: "fill amount exceeds configured maximum"}, nil
	}

	if s.cfg.MinProfitBPS > 0 {
		profitBPS := estimateProfitBPS(fillAmount, ctx.GasPrice)
		if profitBPS < s.cfg.MinProfitBPS {
			return Decision{Kind: Skip, Reason: "estimated profit below floor"}, nil
		}
	}

	if s.cfg.MinSolverBalance != nil && s.cfg.MinSolverBalance.Sign() > 0 {
		balance := ctx.SolverBalance[destChain]
		if balance == nil || balance.Cmp(s.cfg.MinSolverBalance) < 0 {
			return Decision{Kind: Defer, Defer: s.cfg.DeferDuration}, nil
		}
	}

	return Decision{Kind: Execute, Params: ExecuteParams{GasPriceHint: ctx.GasPrice, Deadline: order.ExpiresAt}}, nil
}

func fillAmountOf(order solvertypes.Order) *big.Int {
	var data orderstandard.OrderData
	if err := json.Unmarshal(order.Data, &data); err != nil || len(data.MaxSpent) == 0 {
		return big.NewInt(0)
	}
	amount, ok := new(big.Int).SetString(data.MaxSpent[0].Amount, 10)
	if !ok {
		return big.NewInt(0)
	}
	return amount
}

// estimateProfitBPS treats gas price as a proxy cost signal (higher gas
// price, lower relative margin) until a real quote/cost feed is wired
// in; the formula's shape is an operator policy, not a protocol rule.
func estimateProfitBPS(fillAmount, gasPrice *big.Int) int64 {
	if fillAmount == nil || fillAmount.Sign() <= 0 || gasPrice == nil {
		return 0
	}
	gasCostEstimate := new(big.Int).Mul(gasPrice, big.NewInt(int64(orderstandard.DefaultFillGasLimit)))
	margin := new(big.Int).Sub(fillAmount, gasCostEstimate)
	if margin.Sign() <= 0 {
		return 0
	}
	bps := new(big.Int).Mul(margin, big.NewInt(10_000))
	bps.Div(bps, fillAmount)
	return bps.Int64()
}
