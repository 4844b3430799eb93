// Package coordinator implements the single event-loop reactor that owns
// every per-order state transition. It is
// the only component that writes to the orders/fills/fill_proofs/claims
// namespaces; every other package only reads them.
//
// Main loop selects, in no priority order, from: new intents arriving on
// an internally owned channel, internal events arriving from the event
// bus, and a shutdown signal.
//
// Intent handler: given an Intent, treat an already-persisted order as a
// duplicate and drop it; otherwise parse and validate it through the
// matching order standard, persist it, build a fresh ExecutionContext,
// and consult the execution strategy. Execute publishes OrderExecuting
// and drives a fill; Skip publishes OrderSkipped and drops the order;
// Defer re-enters this handler after a delay.
//
// Execute handler: builds the fill transaction, delivers it, records the
// fill hash and its tx_to_order reverse lookup (written before the
// pending event, so a confirmation can always resolve back to an
// order), and publishes TransactionPending.
//
// A transaction-pending monitor is a cooperative task, bounded by
// monitoring_timeout_minutes, polling delivery status every ~30s until
// it observes success (publish TransactionConfirmed), revert (publish
// TransactionFailed), or its deadline.
//
// The confirmation handler resolves the confirmed hash back to an order
// id via tx_to_order. For a fill, it asks the settlement mechanism to
// validate the receipt into a FillProof, persists the proof, and spawns
// a claim-readiness monitor. For a claim, it publishes Completed.
//
// A claim-readiness monitor polls the settlement mechanism's CanClaim
// every ~60s, bounded by the same timeout, until claimable.
//
// ClaimReady events accumulate in a FIFO batch; once the batch reaches
// the configured size (default 1, i.e. claim-as-ready) every order in it
// is claimed: load its order and proof, build and deliver the claim
// transaction, record it and its reverse lookup, publish
// TransactionPending, and spawn a pending monitor for it.
//
// At startup, when configured to recover, every persisted order is
// resumed at the furthest point its namespaces reach: a confirmed claim
// completes it, a pending claim resumes its monitor, a stored proof
// resumes the claim-readiness monitor, a pending fill resumes its
// monitor, a confirmed-but-unproven fill re-enters the confirmation
// handler's fill branch, and anything else re-runs the strategy decision
// and, if applicable, the execute handler.
package coordinator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/certen/intent-solver/pkg/chainadapter"
	"github.com/certen/intent-solver/pkg/delivery"
	"github.com/certen/intent-solver/pkg/discovery"
	"github.com/certen/intent-solver/pkg/eventbus"
	"github.com/certen/intent-solver/pkg/logging"
	"github.com/certen/intent-solver/pkg/monitoring"
	"github.com/certen/intent-solver/pkg/orderstandard"
	"github.com/certen/intent-solver/pkg/settlement"
	"github.com/certen/intent-solver/pkg/solvertypes"
	"github.com/certen/intent-solver/pkg/storage"
	"github.com/certen/intent-solver/pkg/strategy"
)

// TxRecord is the persisted shape of a fills/{id} or claims/{id} entry:
// the submitted hash plus the chain it was submitted on, since Delivery
// needs both to check status or fetch a receipt.
type TxRecord struct {
	Hash    [32]byte `json:"hash"`
	ChainID uint64   `json:"chain_id"`
}

// Config bounds the coordinator's timers and fixes two operator-level
// choices: which settlement mechanism applies (one configured mechanism
// across every order, rather than per-order selection) and which address
// claims are built against on the origin chain.
type Config struct {
	Solver        solvertypes.Address
	OriginSettler solvertypes.Address

	SettlementMechanism string // name registered in the settlement.Registry

	PollInterval       time.Duration // pending-tx monitor poll interval, ~30s
	ClaimCheckInterval time.Duration // claim-readiness monitor poll interval, ~60s
	MonitoringTimeout  time.Duration // deadline for both monitor kinds

	ClaimBatchSize     int           // default 1: claim as soon as ready
	ClaimFlushInterval time.Duration // idle-flush period; 0 disables

	RecoverOnStartup bool

	IntentQueueSize int // intent channel buffer; discovery self-throttles well below it
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		SettlementMechanism: "direct",
		PollInterval:        30 * time.Second,
		ClaimCheckInterval:  60 * time.Second,
		MonitoringTimeout:   60 * time.Minute,
		ClaimBatchSize:      1,
		ClaimFlushInterval:  5 * time.Minute,
		RecoverOnStartup:    true,
		IntentQueueSize:     4096,
	}
}

// Coordinator is the reactor. It holds no exported mutable state; every
// interaction goes through Intents(), RunSource(), and Run(), and it is
// stopped by cancelling the context passed to Run.
type Coordinator struct {
	cfg Config

	store      storage.Store
	standards  *orderstandard.Registry
	mechanisms *settlement.Registry
	adapters   *chainadapter.Registry
	delivery   *delivery.Delivery
	strategy   *strategy.Strategy
	bus        *eventbus.Bus
	metrics    monitoring.MetricsSink
	logger     *logging.Logger

	intents chan solvertypes.Intent

	wg     sync.WaitGroup
	cron   *cron.Cron
	cronID cron.EntryID

	claimMu    sync.Mutex
	claimBatch []string
}

// New wires a Coordinator from its constituent components. metrics may
// be nil, in which case observations are discarded.
func New(
	store storage.Store,
	standards *orderstandard.Registry,
	mechanisms *settlement.Registry,
	adapters *chainadapter.Registry,
	del *delivery.Delivery,
	strat *strategy.Strategy,
	bus *eventbus.Bus,
	metrics monitoring.MetricsSink,
	cfg Config,
) *Coordinator {
	if metrics == nil {
		metrics = monitoring.NoopSink{}
	}
	if cfg.IntentQueueSize <= 0 {
		cfg.IntentQueueSize = 4096
	}
	return &Coordinator{
		cfg:        cfg,
		store:      store,
		standards:  standards,
		mechanisms: mechanisms,
		adapters:   adapters,
		delivery:   del,
		strategy:   strat,
		bus:        bus,
		metrics:    metrics,
		logger:     logging.Default().WithComponent("coordinator"),
		intents:    make(chan solvertypes.Intent, cfg.IntentQueueSize),
	}
}

// Intents returns the send-only channel discovery sources push onto.
func (c *Coordinator) Intents() chan<- solvertypes.Intent { return c.intents }

// RunSource starts src in its own goroutine, feeding this coordinator's
// intent channel, and stops it when ctx is cancelled.
func (c *Coordinator) RunSource(ctx context.Context, src discovery.Source) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("panic in discovery source", "source", src.Name(), "panic", r)
			}
		}()
		if err := src.Start(ctx, c.intents); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Error("discovery source exited", "source", src.Name())
		}
	}()
}

// Run is the main loop. It blocks until ctx is cancelled, then drains
// inflight monitors (bounded by cfg.MonitoringTimeout, capped at 30s for
// shutdown itself) before returning.
func (c *Coordinator) Run(ctx context.Context) error {
	// Subscribe before the recovery scan: a recovered monitor may publish
	// ClaimReady immediately, and that event must not be missed.
	sub := c.bus.Subscribe()
	defer sub.Unsubscribe()

	if c.cfg.RecoverOnStartup {
		if err := c.recover(ctx); err != nil {
			c.logger.WithError(err).Error("recovery scan failed")
		}
	}

	c.startClaimFlushTimer(ctx)
	defer c.stopClaimFlushTimer()

	c.logger.Info("coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("shutdown signal received, draining monitors")
			c.drain()
			c.logger.Info("coordinator stopped")
			return nil
		case intent := <-c.intents:
			c.handleIntent(ctx, intent)
		case ev := <-sub.Events():
			c.handleEvent(ctx, ev)
		}
	}
}

// drain waits for inflight monitors up to 30s, then logs a warning and
// returns regardless; a monitor still running returns at its next select
// on the cancelled context.
func (c *Coordinator) drain() {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		c.logger.Warn("drain deadline exceeded, exiting with monitors still inflight")
	}
}

func (c *Coordinator) startClaimFlushTimer(ctx context.Context) {
	if c.cfg.ClaimFlushInterval <= 0 {
		return
	}
	c.cron = cron.New()
	spec := fmt.Sprintf("@every %s", c.cfg.ClaimFlushInterval)
	id, err := c.cron.AddFunc(spec, func() { c.flushClaimBatch(ctx, "idle-flush") })
	if err != nil {
		c.logger.WithError(err).Error("failed to schedule claim-batch idle flush")
		return
	}
	c.cronID = id
	c.cron.Start()
}

func (c *Coordinator) stopClaimFlushTimer() {
	if c.cron != nil {
		c.cron.Stop()
	}
}

// handleEvent dispatches a bus event the coordinator itself must act on.
// Every other Kind is observability-only and ignored here.
func (c *Coordinator) handleEvent(ctx context.Context, ev solvertypes.Event) {
	switch ev.Kind {
	case solvertypes.EventTransactionConfirmed:
		c.handleConfirmed(ctx, ev)
	case solvertypes.EventTransactionFailed:
		c.logger.Error("transaction failed",
			"order_id", ev.OrderID, "kind", ev.TxKind,
			"tx_hash", hex.EncodeToString(ev.TxHash[:]), "reason", ev.Reason)
		if ev.TxKind == solvertypes.TxKindFill {
			c.metrics.FillFailed()
		}
	case solvertypes.EventClaimReady:
		c.enqueueClaim(ctx, ev.OrderID)
	}
}

func marshalOrder(o solvertypes.Order) ([]byte, error) { return json.Marshal(o) }

func unmarshalOrder(raw []byte) (solvertypes.Order, error) {
	var o solvertypes.Order
	err := json.Unmarshal(raw, &o)
	return o, err
}

func unmarshalTxRecord(raw []byte) (TxRecord, error) {
	var r TxRecord
	err := json.Unmarshal(raw, &r)
	return r, err
}

func unmarshalFillProof(raw []byte) (solvertypes.FillProof, error) {
	var p solvertypes.FillProof
	err := json.Unmarshal(raw, &p)
	return p, err
}
