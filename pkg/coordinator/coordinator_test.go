package coordinator

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/certen/intent-solver/pkg/chainadapter"
	"github.com/certen/intent-solver/pkg/delivery"
	"github.com/certen/intent-solver/pkg/eventbus"
	"github.com/certen/intent-solver/pkg/orderstandard"
	"github.com/certen/intent-solver/pkg/settlement"
	"github.com/certen/intent-solver/pkg/solvertypes"
	"github.com/certen/intent-solver/pkg/storage"
	"github.com/certen/intent-solver/pkg/strategy"
)

const (
	testOriginChain = uint64(31337)
	testDestChain   = uint64(31338)
)

var testSolver = solvertypes.Address{0xAA}
var testSettler = solvertypes.Address{0x22}

// fakeAdapter is an in-memory chainadapter.Adapter: SubmitTransaction
// mines its transaction instantly with a successful receipt, so monitors
// resolve on their very first status check instead of depending on real
// timing.
type fakeAdapter struct {
	chainID uint64

	mu        sync.Mutex
	receipts  map[[32]byte]*solvertypes.Receipt
	next      byte
	balance   *big.Int
	revertAll bool // mined receipts report success=false
	submitted int
}

func newFakeAdapter(chainID uint64) *fakeAdapter {
	return &fakeAdapter{chainID: chainID, receipts: make(map[[32]byte]*solvertypes.Receipt), balance: big.NewInt(10_000_000)}
}

func (f *fakeAdapter) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted
}

func (f *fakeAdapter) ChainID() uint64      { return f.chainID }
func (f *fakeAdapter) Confirmations() uint64 { return 1 }

func (f *fakeAdapter) BlockNumber(ctx context.Context) (uint64, error) { return 1, nil }
func (f *fakeAdapter) BlockTimestamp(ctx context.Context, block uint64) (uint64, error) {
	return 1_700_000_000, nil
}
func (f *fakeAdapter) Balance(ctx context.Context, addr solvertypes.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeAdapter) SubmitTransaction(ctx context.Context, tx solvertypes.Transaction) ([32]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.submitted++
	var hash [32]byte
	hash[0] = byte(f.chainID % 256)
	hash[31] = f.next
	ts := uint64(1_700_000_000)
	f.receipts[hash] = &solvertypes.Receipt{Hash: hash, BlockNumber: 1, GasUsed: big.NewInt(21000), Success: !f.revertAll, Timestamp: &ts}
	return hash, nil
}

func (f *fakeAdapter) TransactionReceipt(ctx context.Context, hash [32]byte) (*solvertypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, chainadapter.ErrNotYetMined
	}
	return r, nil
}

func (f *fakeAdapter) Call(ctx context.Context, tx solvertypes.Transaction, block *uint64) ([]byte, error) {
	return nil, nil
}
func (f *fakeAdapter) Logs(ctx context.Context, filter solvertypes.LogFilter) ([]solvertypes.Log, error) {
	return nil, nil
}
func (f *fakeAdapter) EstimateGas(ctx context.Context, tx solvertypes.Transaction) (uint64, error) {
	return 21000, nil
}
func (f *fakeAdapter) GasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(1_000_000_000), nil }

// fakeStandard is a minimal orderstandard.Standard: an Order's ID is the
// raw intent payload, interpreted directly as a string, so tests can
// drive the coordinator without needing ERC-7683's ABI encoding. Its
// Order.Data is still real orderstandard.OrderData JSON, since the
// strategy package's fillAmountOf reads that shape regardless of which
// standard produced it.
type fakeStandard struct {
	maxSpentAmount string
}

func (s *fakeStandard) Name() string { return "fake" }

func (s *fakeStandard) Parse(intent solvertypes.Intent, now uint64) (solvertypes.Order, error) {
	amount := s.maxSpentAmount
	if amount == "" {
		amount = "100"
	}
	data := orderstandard.OrderData{
		OriginChainID: testOriginChain,
		MaxSpent:      []orderstandard.Output{{Amount: amount, ChainID: testDestChain}},
		FillInstructions: []orderstandard.FillInstructionData{
			{DestinationChainID: testDestChain, DestinationSettler: orderstandard.AddressToBytes32(testSettler)},
		},
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return solvertypes.Order{}, err
	}
	return solvertypes.Order{
		ID:        string(intent.Data),
		Standard:  "fake",
		CreatedAt: now,
		ExpiresAt: now + 3600,
		Data:      payload,
	}, nil
}

func (s *fakeStandard) FillInstructions(order solvertypes.Order) ([]solvertypes.FillInstruction, error) {
	return []solvertypes.FillInstruction{{
		DestinationChain:    testDestChain,
		DestinationContract: testSettler,
		Fill:                solvertypes.FillData{Generic: []byte(order.ID)},
	}}, nil
}

func (s *fakeStandard) GenerateFillTransaction(order solvertypes.Order, params orderstandard.FillParams) (solvertypes.Transaction, error) {
	to := testSettler
	return solvertypes.Transaction{To: &to, Value: big.NewInt(0), Data: []byte("fill:" + order.ID), ChainID: testDestChain}, nil
}

func (s *fakeStandard) GenerateClaimTransaction(order solvertypes.Order, params orderstandard.ClaimParams) (solvertypes.Transaction, error) {
	to := params.OriginSettler
	return solvertypes.Transaction{To: &to, Value: big.NewInt(0), Data: []byte("claim:" + order.ID), ChainID: testOriginChain}, nil
}

type harness struct {
	coord  *Coordinator
	store  storage.Store
	bus    *eventbus.Bus
	origin *fakeAdapter
	dest   *fakeAdapter
	cancel context.CancelFunc
	doneCh chan struct{}
}

func newHarness(t *testing.T, cfg Config) *harness {
	return newHarnessWithStandard(t, cfg, &fakeStandard{})
}

func newHarnessWithStandard(t *testing.T, cfg Config, std *fakeStandard) *harness {
	return newHarnessFull(t, cfg, std, storage.NewMemoryStore(0), false)
}

func newHarnessFull(t *testing.T, cfg Config, std *fakeStandard, store storage.Store, recoverOnStartup bool) *harness {
	t.Helper()

	standards := orderstandard.NewRegistry()
	standards.Register(std)

	origin := newFakeAdapter(testOriginChain)
	dest := newFakeAdapter(testDestChain)
	adapters := chainadapter.NewRegistry()
	adapters.Register(origin)
	adapters.Register(dest)

	mechanisms := settlement.NewRegistry()
	mechanisms.Register(settlement.NewDirect("direct", adapters, ""))

	del := delivery.New(adapters)
	strat := strategy.NewFromConfig(strategy.DefaultConfig())
	bus := eventbus.New(256, nil)

	if cfg.SettlementMechanism == "" {
		cfg = DefaultConfig()
	}
	cfg.PollInterval = time.Millisecond
	cfg.ClaimCheckInterval = time.Millisecond
	cfg.MonitoringTimeout = 2 * time.Second
	cfg.Solver = testSolver
	cfg.OriginSettler = solvertypes.Address{0xCC}
	cfg.RecoverOnStartup = recoverOnStartup
	cfg.ClaimFlushInterval = 0

	coord := New(store, standards, mechanisms, adapters, del, strat, bus, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = coord.Run(ctx)
		close(done)
	}()

	return &harness{coord: coord, store: store, bus: bus, origin: origin, dest: dest, cancel: cancel, doneCh: done}
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case <-h.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func TestHappyPathDirectSettlement(t *testing.T) {
	h := newHarness(t, Config{})
	defer h.stop(t)

	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	orderID := "order-1"
	h.coord.Intents() <- solvertypes.Intent{ID: "intent-1", Source: "test", Standard: "fake", Data: []byte(orderID)}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == solvertypes.EventCompleted && ev.OrderID == orderID {
				goto completed
			}
		case <-deadline:
			t.Fatal("order never completed")
		}
	}
completed:
	exists, err := h.store.Exists(storage.ClaimKey(orderID))
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = h.store.Exists(storage.FillProofKey(orderID))
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDuplicateIntentDropped(t *testing.T) {
	h := newHarness(t, Config{})
	defer h.stop(t)

	orderID := "order-dup"
	order := solvertypes.Order{ID: orderID, Standard: "fake", CreatedAt: 1, ExpiresAt: 1_900_000_000}
	payload, err := marshalOrder(order)
	require.NoError(t, err)
	require.NoError(t, h.store.Set(storage.OrderKey(orderID), payload))

	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	h.coord.Intents() <- solvertypes.Intent{ID: "intent-dup", Source: "test", Standard: "fake", Data: []byte(orderID)}

	select {
	case ev := <-sub.Events():
		t.Fatalf("expected no event for a duplicate order, got %v", ev.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMaxFillAmountSkipsOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SettlementMechanism = "direct"
	h := newHarnessWithStandard(t, cfg, &fakeStandard{maxSpentAmount: "1000000"})
	defer h.stop(t)

	strict := strategy.NewFromConfig(strategy.Config{MaxFillAmount: big.NewInt(1)})
	h.coord.strategy = strict

	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	orderID := "order-skip"
	h.coord.Intents() <- solvertypes.Intent{ID: "intent-skip", Source: "test", Standard: "fake", Data: []byte(orderID)}

	deadline := time.After(1 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.OrderID == orderID {
				require.Equal(t, solvertypes.EventOrderSkipped, ev.Kind)
				return
			}
		case <-deadline:
			t.Fatal("expected order to be skipped")
		}
	}
}

