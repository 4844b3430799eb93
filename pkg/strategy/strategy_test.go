package strategy

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/intent-solver/pkg/orderstandard"
	"github.com/certen/intent-solver/pkg/solvertypes"
)

const testDestChain = uint64(31338)

func orderWithAmount(t *testing.T, amount string) solvertypes.Order {
	t.Helper()
	settler := solvertypes.Address{0x22}
	data := orderstandard.OrderData{
		OriginChainID: 31337,
		MaxSpent:      []orderstandard.Output{{Amount: amount, ChainID: testDestChain}},
		FillInstructions: []orderstandard.FillInstructionData{{
			DestinationChainID: testDestChain,
			DestinationSettler: orderstandard.AddressToBytes32(settler),
		}},
	}
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	return solvertypes.Order{ID: "o", Standard: "eip7683", ExpiresAt: 2_000_000_000, Data: payload}
}

func execCtx(gasPrice int64, balance *big.Int) solvertypes.ExecutionContext {
	balances := map[uint64]*big.Int{}
	if balance != nil {
		balances[testDestChain] = balance
	}
	return solvertypes.ExecutionContext{
		GasPrice:      big.NewInt(gasPrice),
		Timestamp:     1_700_000_000,
		SolverBalance: balances,
	}
}

func TestDecideExecuteByDefault(t *testing.T) {
	s := NewFromConfig(DefaultConfig())
	d, err := s.Decide(orderWithAmount(t, "1000000"), execCtx(1, big.NewInt(1)))
	require.NoError(t, err)
	assert.Equal(t, Execute, d.Kind)
	assert.Equal(t, uint64(2_000_000_000), d.Params.Deadline)
	assert.NotNil(t, d.Params.GasPriceHint)
}

func TestDecideSkipsOverMaxFillAmount(t *testing.T) {
	s := NewFromConfig(Config{MaxFillAmount: big.NewInt(100)})
	d, err := s.Decide(orderWithAmount(t, "101"), execCtx(1, nil))
	require.NoError(t, err)
	assert.Equal(t, Skip, d.Kind)
	assert.Contains(t, d.Reason, "exceeds")
}

func TestDecideSkipsBelowProfitFloor(t *testing.T) {
	// gas cost estimate = gasPrice * DefaultFillGasLimit swamps the fill
	// amount, so estimated margin is zero bps.
	s := NewFromConfig(Config{MinProfitBPS: 50})
	d, err := s.Decide(orderWithAmount(t, "1000"), execCtx(1_000_000_000, nil))
	require.NoError(t, err)
	assert.Equal(t, Skip, d.Kind)
	assert.Contains(t, d.Reason, "profit")
}

func TestProfitFloorDisabledWhenZero(t *testing.T) {
	s := NewFromConfig(Config{MinProfitBPS: 0})
	d, err := s.Decide(orderWithAmount(t, "1000"), execCtx(1_000_000_000, nil))
	require.NoError(t, err)
	assert.Equal(t, Execute, d.Kind)
}

func TestDecideDefersOnLowBalance(t *testing.T) {
	s := NewFromConfig(Config{
		MinSolverBalance: big.NewInt(1_000_000),
		DeferDuration:    42 * time.Second,
	})

	d, err := s.Decide(orderWithAmount(t, "10"), execCtx(1, big.NewInt(5)))
	require.NoError(t, err)
	assert.Equal(t, Defer, d.Kind)
	assert.Equal(t, 42*time.Second, d.Defer)

	// a missing balance entry counts as zero
	d, err = s.Decide(orderWithAmount(t, "10"), execCtx(1, nil))
	require.NoError(t, err)
	assert.Equal(t, Defer, d.Kind)
}

func TestEstimateProfitBPS(t *testing.T) {
	// margin = 1_000_000 - 300_000 => 7000 bps of 1_000_000
	assert.Equal(t, int64(7000), estimateProfitBPS(big.NewInt(1_000_000), big.NewInt(1)))
	assert.Equal(t, int64(0), estimateProfitBPS(big.NewInt(0), big.NewInt(1)))
	assert.Equal(t, int64(0), estimateProfitBPS(nil, big.NewInt(1)))
}
