package chainadapter

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGasStrategyApply(t *testing.T) {
	base := big.NewInt(10_000_000_000)

	for _, tc := range []struct {
		name     string
		strategy GasStrategy
		want     string
	}{
		{"standard", GasStrategy{Kind: GasStandard}, "10000000000"},
		{"fast multiplies by 1.2", GasStrategy{Kind: GasFast}, "12000000000"},
		{"custom multiplier", GasStrategy{Kind: GasCustom, Multiplier: 1.5}, "15000000000"},
		{"custom rounds to milli-precision", GasStrategy{Kind: GasCustom, Multiplier: 1.2345}, "12350000000"},
		{"eip1559 adds priority fee", GasStrategy{Kind: GasEIP1559, MaxPriorityFee: big.NewInt(2_000_000_000)}, "12000000000"},
		{"eip1559 without priority fee", GasStrategy{Kind: GasEIP1559}, "10000000000"},
		{"unknown kind falls back to standard", GasStrategy{Kind: "weird"}, "10000000000"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.strategy.Apply(base).String())
		})
	}
}

func TestGasStrategyApplyDoesNotMutateBase(t *testing.T) {
	base := big.NewInt(100)
	_ = GasStrategy{Kind: GasFast}.Apply(base)
	assert.Equal(t, "100", base.String())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.True(t, isRetryable(assertError("connection refused by peer")))
	assert.True(t, isRetryable(assertError("429 Too Many Requests")))
	assert.False(t, isRetryable(assertError("execution reverted")))
	assert.False(t, isRetryable(ErrChainIDMismatch))
}

type assertError string

func (e assertError) Error() string { return string(e) }
