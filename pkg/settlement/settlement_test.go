package settlement

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/intent-solver/pkg/chainadapter"
	"github.com/certen/intent-solver/pkg/orderstandard"
	"github.com/certen/intent-solver/pkg/solvertypes"
)

const (
	testOriginChain = uint64(31337)
	testDestChain   = uint64(31338)
)

type stubAdapter struct {
	chainID uint64

	mu       sync.Mutex
	receipts map[[32]byte]*solvertypes.Receipt
	blockTS  uint64
}

func newStubAdapter(chainID uint64) *stubAdapter {
	return &stubAdapter{chainID: chainID, receipts: make(map[[32]byte]*solvertypes.Receipt), blockTS: 1_700_000_000}
}

func (a *stubAdapter) addReceipt(hash [32]byte, success bool, ts *uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.receipts[hash] = &solvertypes.Receipt{Hash: hash, BlockNumber: 42, GasUsed: big.NewInt(21000), Success: success, Timestamp: ts}
}

func (a *stubAdapter) ChainID() uint64       { return a.chainID }
func (a *stubAdapter) Confirmations() uint64 { return 1 }

func (a *stubAdapter) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }
func (a *stubAdapter) BlockTimestamp(ctx context.Context, block uint64) (uint64, error) {
	return a.blockTS, nil
}
func (a *stubAdapter) Balance(ctx context.Context, addr solvertypes.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (a *stubAdapter) SubmitTransaction(ctx context.Context, tx solvertypes.Transaction) ([32]byte, error) {
	return [32]byte{}, chainadapter.ErrNoWallet
}
func (a *stubAdapter) TransactionReceipt(ctx context.Context, hash [32]byte) (*solvertypes.Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.receipts[hash]
	if !ok {
		return nil, chainadapter.ErrNotYetMined
	}
	return r, nil
}
func (a *stubAdapter) Call(ctx context.Context, tx solvertypes.Transaction, block *uint64) ([]byte, error) {
	return nil, nil
}
func (a *stubAdapter) Logs(ctx context.Context, filter solvertypes.LogFilter) ([]solvertypes.Log, error) {
	return nil, nil
}
func (a *stubAdapter) EstimateGas(ctx context.Context, tx solvertypes.Transaction) (uint64, error) {
	return 21000, nil
}
func (a *stubAdapter) GasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func testOrder(t *testing.T) solvertypes.Order {
	t.Helper()
	settler := solvertypes.Address{0x22}
	data := orderstandard.OrderData{
		OriginChainID: testOriginChain,
		MaxSpent:      []orderstandard.Output{{Amount: "1000000", ChainID: testDestChain}},
		FillInstructions: []orderstandard.FillInstructionData{{
			DestinationChainID: testDestChain,
			DestinationSettler: orderstandard.AddressToBytes32(settler),
		}},
	}
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	return solvertypes.Order{ID: "order-1", Standard: "eip7683", CreatedAt: 1, ExpiresAt: 2_000_000_000, Data: payload}
}

func TestDirectValidateFillProducesProof(t *testing.T) {
	dest := newStubAdapter(testDestChain)
	adapters := chainadapter.NewRegistry()
	adapters.Register(newStubAdapter(testOriginChain))
	adapters.Register(dest)

	fillHash := [32]byte{0xF1}
	ts := uint64(1_700_000_123)
	dest.addReceipt(fillHash, true, &ts)

	d := NewDirect("direct", adapters, "")
	proof, err := d.ValidateFill(context.Background(), testOrder(t), fillHash)
	require.NoError(t, err)
	assert.Equal(t, fillHash, proof.TxHash)
	assert.Equal(t, uint64(42), proof.BlockNumber)
	assert.Equal(t, ts, proof.FilledTimestamp)
	assert.Equal(t, "0x0000000000000000000000000000000000000000", proof.OracleAddress)

	ready, err := d.CanClaim(context.Background(), testOrder(t), proof, ts)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestDirectValidateFillFallsBackToBlockTimestamp(t *testing.T) {
	dest := newStubAdapter(testDestChain)
	adapters := chainadapter.NewRegistry()
	adapters.Register(dest)

	fillHash := [32]byte{0xF2}
	dest.addReceipt(fillHash, true, nil)
	dest.blockTS = 1_700_000_999

	d := NewDirect("direct", adapters, "")
	proof, err := d.ValidateFill(context.Background(), testOrder(t), fillHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_999), proof.FilledTimestamp)
}

func TestDirectValidateFillRejectsRevertedReceipt(t *testing.T) {
	dest := newStubAdapter(testDestChain)
	adapters := chainadapter.NewRegistry()
	adapters.Register(dest)

	fillHash := [32]byte{0xF3}
	ts := uint64(1_700_000_000)
	dest.addReceipt(fillHash, false, &ts)

	d := NewDirect("direct", adapters, "")
	_, err := d.ValidateFill(context.Background(), testOrder(t), fillHash)
	assert.ErrorContains(t, err, "reverted")
}

func TestOptimisticDisputeWindow(t *testing.T) {
	dest := newStubAdapter(testDestChain)
	adapters := chainadapter.NewRegistry()
	adapters.Register(dest)

	direct := NewDirect("optimistic", adapters, "")
	mech := NewOptimistic("optimistic", direct, NoDispute{}, 10, 100)

	t0 := uint64(1_700_000_000)
	proof := solvertypes.FillProof{TxHash: [32]byte{0xF4}, BlockNumber: 42, FilledTimestamp: t0}

	for _, tc := range []struct {
		now   uint64
		ready bool
	}{
		{t0, false},
		{t0 + 9, false},
		{t0 + 10, true},
		{t0 + 110, true},
		{t0 + 111, false},
	} {
		ready, err := mech.CanClaim(context.Background(), testOrder(t), proof, tc.now)
		require.NoError(t, err)
		assert.Equal(t, tc.ready, ready, "now=%d", tc.now)
	}
}

func TestOptimisticZeroClaimWindowIsOpenEnded(t *testing.T) {
	adapters := chainadapter.NewRegistry()
	direct := NewDirect("optimistic", adapters, "")
	mech := NewOptimistic("optimistic", direct, NoDispute{}, 10, 0)

	t0 := uint64(1_700_000_000)
	proof := solvertypes.FillProof{FilledTimestamp: t0}

	ready, err := mech.CanClaim(context.Background(), testOrder(t), proof, t0+9)
	require.NoError(t, err)
	assert.False(t, ready)

	// no upper bound: claimable at any point past the dispute period
	for _, now := range []uint64{t0 + 10, t0 + 1_000_000} {
		ready, err := mech.CanClaim(context.Background(), testOrder(t), proof, now)
		require.NoError(t, err)
		assert.True(t, ready, "now=%d", now)
	}
}

type alwaysDisputed struct{}

func (alwaysDisputed) IsDisputed(ctx context.Context, order solvertypes.Order, proof solvertypes.FillProof) (bool, error) {
	return true, nil
}

func TestOptimisticDisputedFillNotClaimable(t *testing.T) {
	adapters := chainadapter.NewRegistry()
	direct := NewDirect("optimistic", adapters, "")
	mech := NewOptimistic("optimistic", direct, alwaysDisputed{}, 10, 100)

	t0 := uint64(1_700_000_000)
	proof := solvertypes.FillProof{FilledTimestamp: t0}

	ready, err := mech.CanClaim(context.Background(), testOrder(t), proof, t0+50)
	require.NoError(t, err)
	assert.False(t, ready)
}
