package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
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

func chainadapterRegistryWithFakes() *chainadapter.Registry {
	r := chainadapter.NewRegistry()
	r.Register(newFakeAdapter(testOriginChain))
	r.Register(newFakeAdapter(testDestChain))
	return r
}

func orderstandardRegistry() *orderstandard.Registry {
	r := orderstandard.NewRegistry()
	r.Register(&fakeStandard{})
	return r
}

func settlementRegistry(adapters *chainadapter.Registry) *settlement.Registry {
	r := settlement.NewRegistry()
	r.Register(settlement.NewDirect("direct", adapters, ""))
	return r
}

func deliveryFor(adapters *chainadapter.Registry) *delivery.Delivery {
	return delivery.New(adapters)
}

func defaultStrategy() *strategy.Strategy {
	return strategy.NewFromConfig(strategy.DefaultConfig())
}

func eventbusNew() *eventbus.Bus {
	return eventbus.New(256, nil)
}

// waitFor polls cond every millisecond until it holds or the deadline
// passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func storedOrder(t *testing.T, store storage.Store, orderID string) {
	t.Helper()
	std := &fakeStandard{}
	order, err := std.Parse(solvertypes.Intent{Data: []byte(orderID)}, 1_700_000_000)
	require.NoError(t, err)
	payload, err := marshalOrder(order)
	require.NoError(t, err)
	require.NoError(t, store.Set(storage.OrderKey(orderID), payload))
}

func TestRecoveryAfterProofSubmitsClaimWithoutRefilling(t *testing.T) {
	store := storage.NewMemoryStore(0)
	orderID := "order-recover-proof"
	storedOrder(t, store, orderID)

	// state as left by a crash right after the fill proof was persisted
	fillHash := [32]byte{0xF1}
	fillRec, err := marshalTxRecord(TxRecord{Hash: fillHash, ChainID: testDestChain})
	require.NoError(t, err)
	require.NoError(t, store.Set(storage.FillKey(orderID), fillRec))
	require.NoError(t, store.Set(storage.TxToOrderKey(fillHash), []byte(orderID)))

	proof := solvertypes.FillProof{TxHash: fillHash, BlockNumber: 1, FilledTimestamp: 1_700_000_000}
	proofRaw, err := marshalFillProof(proof)
	require.NoError(t, err)
	require.NoError(t, store.Set(storage.FillProofKey(orderID), proofRaw))

	h := newHarnessFull(t, DefaultConfig(), &fakeStandard{}, store, true)
	defer h.stop(t)

	waitFor(t, 3*time.Second, func() bool {
		ok, err := h.store.Exists(storage.ClaimKey(orderID))
		return err == nil && ok
	}, "claim was never submitted after recovery")

	// the claim went to the origin chain; the destination chain saw no
	// second fill
	assert.Equal(t, 0, h.dest.submissions())
	assert.Equal(t, 1, h.origin.submissions())
}

func TestRecoveryWithConfirmedClaimCompletesWithoutResubmitting(t *testing.T) {
	store := storage.NewMemoryStore(0)
	orderID := "order-recover-claim"
	storedOrder(t, store, orderID)

	// persist the claim record before the harness starts Run, then give
	// the origin adapter a confirmed receipt for the claim hash
	h := func() *harness {
		claimHash := [32]byte{0x7A}
		claimRec, err := marshalTxRecord(TxRecord{Hash: claimHash, ChainID: testOriginChain})
		require.NoError(t, err)
		require.NoError(t, store.Set(storage.ClaimKey(orderID), claimRec))
		require.NoError(t, store.Set(storage.TxToOrderKey(claimHash), []byte(orderID)))

		h := newHarnessFull(t, DefaultConfig(), &fakeStandard{}, store, true)
		ts := uint64(1_700_000_000)
		h.origin.mu.Lock()
		h.origin.receipts[claimHash] = &solvertypes.Receipt{Hash: claimHash, BlockNumber: 1, Success: true, Timestamp: &ts}
		h.origin.mu.Unlock()
		return h
	}()
	defer h.stop(t)

	// nothing new is submitted on either chain
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, h.origin.submissions())
	assert.Equal(t, 0, h.dest.submissions())
}

func TestRecoveryFromScratchReexecutesOrder(t *testing.T) {
	store := storage.NewMemoryStore(0)
	orderID := "order-recover-scratch"
	storedOrder(t, store, orderID)

	h := newHarnessFull(t, DefaultConfig(), &fakeStandard{}, store, true)
	defer h.stop(t)

	waitFor(t, 3*time.Second, func() bool {
		ok, err := h.store.Exists(storage.ClaimKey(orderID))
		return err == nil && ok
	}, "recovered order never reached claim")

	assert.Equal(t, 1, h.dest.submissions())
}

func TestRevertedFillFailsOrderWithoutClaim(t *testing.T) {
	h := newHarness(t, Config{})
	defer h.stop(t)
	h.dest.mu.Lock()
	h.dest.revertAll = true
	h.dest.mu.Unlock()

	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	orderID := "order-reverted"
	h.coord.Intents() <- solvertypes.Intent{ID: "intent-reverted", Source: "test", Standard: "fake", Data: []byte(orderID)}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == solvertypes.EventTransactionFailed && ev.OrderID == orderID {
				goto failed
			}
			if ev.Kind == solvertypes.EventCompleted {
				t.Fatal("a reverted fill must not complete")
			}
		case <-deadline:
			t.Fatal("expected TransactionFailed")
		}
	}
failed:
	time.Sleep(50 * time.Millisecond)
	ok, err := h.store.Exists(storage.FillProofKey(orderID))
	require.NoError(t, err)
	assert.False(t, ok, "no proof may be stored for a reverted fill")
	ok, err = h.store.Exists(storage.ClaimKey(orderID))
	require.NoError(t, err)
	assert.False(t, ok, "no claim may be attempted for a reverted fill")
}

func TestReverseIndexVisibleAtPendingEvent(t *testing.T) {
	h := newHarness(t, Config{})
	defer h.stop(t)

	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	orderID := "order-reverse"
	h.coord.Intents() <- solvertypes.Intent{ID: "intent-reverse", Source: "test", Standard: "fake", Data: []byte(orderID)}

	deadline := time.After(3 * time.Second)
	seen := 0
	for seen < 2 { // one pending event for the fill, one for the claim
		select {
		case ev := <-sub.Events():
			if ev.Kind != solvertypes.EventTransactionPending {
				continue
			}
			got, err := h.store.Get(storage.TxToOrderKey(ev.TxHash))
			require.NoError(t, err, "tx_to_order must be readable when the pending event is observed")
			assert.Equal(t, orderID, string(got))
			seen++
		case <-deadline:
			t.Fatalf("saw %d pending events, want 2", seen)
		}
	}
}

func TestClaimBatchOfTwoProcessesBothOrders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClaimBatchSize = 2
	h := newHarness(t, cfg)
	defer h.stop(t)

	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	h.coord.Intents() <- solvertypes.Intent{ID: "i1", Source: "test", Standard: "fake", Data: []byte("batch-1")}
	h.coord.Intents() <- solvertypes.Intent{ID: "i2", Source: "test", Standard: "fake", Data: []byte("batch-2")}

	completed := map[string]bool{}
	deadline := time.After(3 * time.Second)
	for len(completed) < 2 {
		select {
		case ev := <-sub.Events():
			if ev.Kind == solvertypes.EventCompleted {
				completed[ev.OrderID] = true
			}
		case <-deadline:
			t.Fatalf("completed %d orders, want 2", len(completed))
		}
	}

	// each order produced its own claim transaction on the origin chain
	assert.Equal(t, 2, h.origin.submissions())
}

func TestPendingMonitorIsBoundedByTimeout(t *testing.T) {
	store := storage.NewMemoryStore(0)
	adapters := chainadapterRegistryWithFakes()
	coord := New(store, orderstandardRegistry(), settlementRegistry(adapters), adapters,
		deliveryFor(adapters), defaultStrategy(), eventbusNew(), nil, Config{
			SettlementMechanism: "direct",
			MonitoringTimeout:   20 * time.Millisecond,
			PollInterval:        5 * time.Millisecond,
			ClaimCheckInterval:  time.Millisecond,
			ClaimBatchSize:      1,
		})

	// a hash the adapter never mined: the monitor must give up at its
	// deadline instead of spinning forever
	rec := TxRecord{Hash: [32]byte{0xDE, 0xAD}, ChainID: testDestChain}
	done := make(chan struct{})
	go func() {
		coord.runPendingMonitor(context.Background(), "order-timeout", rec, solvertypes.TxKindFill)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("pending monitor outlived its deadline")
	}
}

func TestRejectedIntentLeavesNoState(t *testing.T) {
	h := newHarness(t, Config{})
	defer h.stop(t)

	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	// no standard registered under this name
	h.coord.Intents() <- solvertypes.Intent{ID: "intent-unknown", Source: "test", Standard: "nope", Data: []byte("x")}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == solvertypes.EventIntentRejected {
				keys, err := h.store.ListKeys("orders/")
				require.NoError(t, err)
				assert.Empty(t, keys)
				return
			}
		case <-deadline:
			t.Fatal("expected IntentRejected")
		}
	}
}
