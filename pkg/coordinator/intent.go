package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/certen/intent-solver/pkg/orderstandard"
	"github.com/certen/intent-solver/pkg/solvertypes"
	"github.com/certen/intent-solver/pkg/storage"
	"github.com/certen/intent-solver/pkg/strategy"
)

// handleIntent parses, deduplicates, persists, and evaluates one
// discovered intent. The on-chain discovery source keys an Intent by its
// log position (tx hash + log index), not by the order it will parse
// into, so duplicate detection happens on the parsed order id rather
// than intent.ID; no side effect occurs before the check, so an order
// already on file is never re-executed either way.
func (c *Coordinator) handleIntent(ctx context.Context, intent solvertypes.Intent) {
	standard, err := c.standards.Get(intent.Standard)
	if err != nil {
		c.publishRejected(intent.ID, err)
		return
	}

	order, err := standard.Parse(intent, uint64(time.Now().Unix()))
	if err != nil {
		c.publishRejected(intent.ID, err)
		return
	}

	exists, err := c.store.Exists(storage.OrderKey(order.ID))
	if err != nil {
		c.logger.WithOrder(order.ID).WithError(err).Error("order existence check failed")
		return
	}
	if exists {
		c.logger.WithOrder(order.ID).Debug("duplicate intent, dropping")
		return
	}

	payload, err := marshalOrder(order)
	if err != nil {
		c.logger.WithOrder(order.ID).WithError(err).Error("marshal order failed")
		return
	}
	if err := c.store.Set(storage.OrderKey(order.ID), payload); err != nil {
		c.logger.WithOrder(order.ID).WithError(err).Error("store order failed")
		return
	}

	c.evaluate(ctx, order)
}

// evaluate builds a fresh ExecutionContext and consults the strategy,
// dispatching Execute/Skip/Defer. It is also the re-entry point for a
// Defer's scheduled re-evaluation and for crash recovery of an order
// with no fill artifacts yet.
func (c *Coordinator) evaluate(ctx context.Context, order solvertypes.Order) {
	execCtx, err := c.buildExecutionContext(ctx, order)
	if err != nil {
		c.logger.WithOrder(order.ID).WithError(err).Error("building execution context failed")
		return
	}

	decision, err := c.strategy.Decide(order, execCtx)
	if err != nil {
		c.logger.WithOrder(order.ID).WithError(err).Error("strategy error")
		c.bus.Publish(solvertypes.Event{Kind: solvertypes.EventOrderSkipped, OrderID: order.ID, Reason: err.Error()})
		c.metrics.OrderSkipped(err.Error())
		return
	}

	switch decision.Kind {
	case strategy.Execute:
		c.bus.Publish(solvertypes.Event{Kind: solvertypes.EventOrderExecuting, OrderID: order.ID})
		c.metrics.OrderExecuting()
		c.executeOrder(ctx, order, decision)
	case strategy.Skip:
		c.bus.Publish(solvertypes.Event{Kind: solvertypes.EventOrderSkipped, OrderID: order.ID, Reason: decision.Reason})
		c.metrics.OrderSkipped(decision.Reason)
	case strategy.Defer:
		c.bus.Publish(solvertypes.Event{Kind: solvertypes.EventOrderDeferred, OrderID: order.ID})
		c.metrics.OrderDeferred()
		c.scheduleReevaluation(ctx, order, decision.Defer)
	}
}

// scheduleReevaluation re-enters evaluate after d, honoring ctx
// cancellation so a deferred order never fires after shutdown.
func (c *Coordinator) scheduleReevaluation(ctx context.Context, order solvertypes.Order, d time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			c.evaluate(ctx, order)
		}
	}()
}

func (c *Coordinator) publishRejected(intentID string, err error) {
	c.logger.WithError(err).Warn("intent rejected", "intent_id", intentID)
	c.bus.Publish(solvertypes.Event{Kind: solvertypes.EventIntentRejected, OrderID: intentID, Reason: err.Error()})
	c.metrics.IntentRejected(err.Error())
}

// buildExecutionContext snapshots current gas price (on the order's
// destination chain) and the solver's balance on every configured chain.
// A chain whose balance lookup fails is simply omitted rather than
// aborting the whole snapshot; the strategy treats a missing balance as
// zero.
func (c *Coordinator) buildExecutionContext(ctx context.Context, order solvertypes.Order) (solvertypes.ExecutionContext, error) {
	standard, err := c.standards.Get(order.Standard)
	if err != nil {
		return solvertypes.ExecutionContext{}, err
	}
	instructions, err := standard.FillInstructions(order)
	if err != nil {
		return solvertypes.ExecutionContext{}, err
	}
	if len(instructions) == 0 {
		return solvertypes.ExecutionContext{}, fmt.Errorf("coordinator: order %s has no fill instruction", order.ID)
	}
	destChain := instructions[0].DestinationChain

	adapter, err := c.adapters.Get(destChain)
	if err != nil {
		return solvertypes.ExecutionContext{}, err
	}
	gasPrice, err := adapter.GasPrice(ctx)
	if err != nil {
		return solvertypes.ExecutionContext{}, fmt.Errorf("coordinator: gas price: %w", err)
	}

	balances := make(map[uint64]*big.Int)
	for _, chainID := range c.adapters.ChainIDs() {
		a, err := c.adapters.Get(chainID)
		if err != nil {
			continue
		}
		bal, err := a.Balance(ctx, c.cfg.Solver)
		if err != nil {
			c.logger.WithChain(chainID).WithError(err).Warn("balance lookup failed")
			continue
		}
		balances[chainID] = bal
	}

	return solvertypes.ExecutionContext{
		GasPrice:      gasPrice,
		Timestamp:     uint64(time.Now().Unix()),
		SolverBalance: balances,
	}, nil
}

// executeOrder builds and delivers the fill transaction, records the
// fill hash and its reverse lookup, and publishes TransactionPending.
func (c *Coordinator) executeOrder(ctx context.Context, order solvertypes.Order, decision strategy.Decision) {
	standard, err := c.standards.Get(order.Standard)
	if err != nil {
		c.logger.WithOrder(order.ID).WithError(err).Error("no standard for order")
		return
	}

	tx, err := standard.GenerateFillTransaction(order, orderstandard.FillParams{Solver: c.cfg.Solver})
	if err != nil {
		c.logger.WithOrder(order.ID).WithError(err).Error("generate fill transaction failed")
		return
	}

	hash, err := c.delivery.Deliver(ctx, tx)
	if err != nil {
		c.logger.WithOrder(order.ID).WithError(err).Error("deliver fill failed")
		c.bus.Publish(solvertypes.Event{Kind: solvertypes.EventTransactionFailed, OrderID: order.ID, Reason: err.Error(), TxKind: solvertypes.TxKindFill})
		return
	}

	rec := TxRecord{Hash: hash, ChainID: tx.ChainID}
	recPayload, err := marshalTxRecord(rec)
	if err != nil {
		c.logger.WithOrder(order.ID).WithError(err).Error("marshal fill record failed")
		return
	}
	if err := c.store.Set(storage.FillKey(order.ID), recPayload); err != nil {
		c.logger.WithOrder(order.ID).WithError(err).Error("store fill record failed")
		return
	}
	if err := c.store.Set(storage.TxToOrderKey(hash), []byte(order.ID)); err != nil {
		c.logger.WithOrder(order.ID).WithError(err).Error("store tx_to_order failed")
		return
	}

	c.bus.Publish(solvertypes.Event{Kind: solvertypes.EventTransactionPending, OrderID: order.ID, TxHash: hash, TxKind: solvertypes.TxKindFill})
	c.metrics.FillSubmitted()
	c.spawnPendingMonitor(ctx, order.ID, rec, solvertypes.TxKindFill)
}

func marshalTxRecord(r TxRecord) ([]byte, error) { return json.Marshal(r) }
