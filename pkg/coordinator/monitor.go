package coordinator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/certen/intent-solver/pkg/orderstandard"
	"github.com/certen/intent-solver/pkg/solvertypes"
	"github.com/certen/intent-solver/pkg/storage"
)

func marshalFillProof(p solvertypes.FillProof) ([]byte, error) { return json.Marshal(p) }

// spawnPendingMonitor starts a cooperative task bounded by
// MonitoringTimeout, polling delivery status on a PollInterval tick
// until it observes success, revert, or its own deadline.
func (c *Coordinator) spawnPendingMonitor(ctx context.Context, orderID string, rec TxRecord, kind solvertypes.TransactionKind) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.WithOrder(orderID).Error("panic in pending monitor", "panic", r)
			}
		}()
		c.runPendingMonitor(ctx, orderID, rec, kind)
	}()
}

func (c *Coordinator) runPendingMonitor(ctx context.Context, orderID string, rec TxRecord, kind solvertypes.TransactionKind) {
	deadline := time.Now().Add(c.cfg.MonitoringTimeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			c.logger.WithOrder(orderID).Warn("transaction monitor timed out",
				"kind", kind, "tx_hash", hex.EncodeToString(rec.Hash[:]))
			c.metrics.MonitorTimeout(string(kind))
			return
		}

		status, err := c.delivery.Status(ctx, rec.ChainID, rec.Hash)
		if err != nil {
			c.logger.WithOrder(orderID).WithError(err).Warn("transaction status check failed")
		} else if status != nil {
			if *status {
				receipt, err := c.delivery.Confirm(ctx, rec.ChainID, rec.Hash)
				if err != nil {
					c.logger.WithOrder(orderID).WithError(err).Warn("fetching confirmed receipt failed")
				} else {
					c.bus.Publish(solvertypes.Event{
						Kind: solvertypes.EventTransactionConfirmed, OrderID: orderID,
						TxHash: rec.Hash, TxKind: kind, Receipt: receipt,
					})
					return
				}
			} else {
				c.bus.Publish(solvertypes.Event{
					Kind: solvertypes.EventTransactionFailed, OrderID: orderID,
					Reason: "Transaction reverted", TxHash: rec.Hash, TxKind: kind,
				})
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleConfirmed resolves a confirmed hash back to its order via
// tx_to_order and advances the order: a fill gets validated into a
// FillProof, a claim completes the order.
func (c *Coordinator) handleConfirmed(ctx context.Context, ev solvertypes.Event) {
	if ev.Receipt == nil || !ev.Receipt.Success {
		c.bus.Publish(solvertypes.Event{Kind: solvertypes.EventTransactionFailed, OrderID: ev.OrderID, Reason: "Transaction reverted", TxHash: ev.TxHash, TxKind: ev.TxKind})
		return
	}

	orderIDRaw, err := c.store.Get(storage.TxToOrderKey(ev.TxHash))
	if err != nil {
		c.logger.Warn("confirmed transaction not driven by this process, dropping",
			"tx_hash", hex.EncodeToString(ev.TxHash[:]))
		return
	}
	orderID := string(orderIDRaw)

	switch ev.TxKind {
	case solvertypes.TxKindFill:
		c.onFillConfirmed(ctx, orderID, ev.TxHash)
	case solvertypes.TxKindClaim:
		c.bus.Publish(solvertypes.Event{Kind: solvertypes.EventCompleted, OrderID: orderID})
		c.metrics.ClaimConfirmed()
		c.metrics.OrderCompleted()
	}
}

func (c *Coordinator) onFillConfirmed(ctx context.Context, orderID string, fillHash [32]byte) {
	orderRaw, err := c.store.Get(storage.OrderKey(orderID))
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("load order after fill confirmation failed")
		return
	}
	order, err := unmarshalOrder(orderRaw)
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("unmarshal order failed")
		return
	}

	mechanism, err := c.mechanisms.Get(c.cfg.SettlementMechanism)
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("no settlement mechanism")
		return
	}

	proof, err := mechanism.ValidateFill(ctx, order, fillHash)
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("fill validation failed")
		return
	}
	proof.StoredAt = time.Now()

	payload, err := marshalFillProof(proof)
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("marshal fill proof failed")
		return
	}
	if err := c.store.Set(storage.FillProofKey(orderID), payload); err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("store fill proof failed")
		return
	}

	c.metrics.FillConfirmed()
	c.spawnClaimReadyMonitor(ctx, orderID, order, mechanism, proof)
}

// canClaimer is the slice of settlement.Mechanism the claim-readiness
// monitor needs; kept narrow so monitor.go doesn't import pkg/settlement
// just for the interface name.
type canClaimer interface {
	CanClaim(ctx context.Context, order solvertypes.Order, proof solvertypes.FillProof, now uint64) (bool, error)
}

func (c *Coordinator) spawnClaimReadyMonitor(ctx context.Context, orderID string, order solvertypes.Order, mechanism canClaimer, proof solvertypes.FillProof) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.WithOrder(orderID).Error("panic in claim-readiness monitor", "panic", r)
			}
		}()
		c.runClaimReadyMonitor(ctx, orderID, order, mechanism, proof)
	}()
}

// runClaimReadyMonitor polls the settlement mechanism until the proof
// clears its readiness window, then publishes ClaimReady.
func (c *Coordinator) runClaimReadyMonitor(ctx context.Context, orderID string, order solvertypes.Order, mechanism canClaimer, proof solvertypes.FillProof) {
	deadline := time.Now().Add(c.cfg.MonitoringTimeout)
	ticker := time.NewTicker(c.cfg.ClaimCheckInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			c.logger.WithOrder(orderID).Warn("claim-readiness monitor timed out")
			c.metrics.MonitorTimeout("claim_ready")
			return
		}

		ready, err := mechanism.CanClaim(ctx, order, proof, uint64(time.Now().Unix()))
		if err != nil {
			c.logger.WithOrder(orderID).WithError(err).Warn("claim-readiness check failed")
		} else if ready {
			c.bus.Publish(solvertypes.Event{Kind: solvertypes.EventClaimReady, OrderID: orderID})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// enqueueClaim appends to the FIFO claim batch and flushes it once it
// reaches the configured size.
func (c *Coordinator) enqueueClaim(ctx context.Context, orderID string) {
	c.claimMu.Lock()
	c.claimBatch = append(c.claimBatch, orderID)
	size := len(c.claimBatch)
	c.claimMu.Unlock()

	if size >= c.cfg.ClaimBatchSize {
		c.flushClaimBatch(ctx, "batch-full")
	}
}

// flushClaimBatch drains the accumulated batch: for every order id in
// it, build and deliver its claim transaction.
func (c *Coordinator) flushClaimBatch(ctx context.Context, trigger string) {
	c.claimMu.Lock()
	batch := c.claimBatch
	c.claimBatch = nil
	c.claimMu.Unlock()

	if len(batch) == 0 {
		return
	}
	c.logger.Info("flushing claim batch", "count", len(batch), "trigger", trigger)
	for _, orderID := range batch {
		c.processClaim(ctx, orderID)
	}
}

func (c *Coordinator) processClaim(ctx context.Context, orderID string) {
	orderRaw, err := c.store.Get(storage.OrderKey(orderID))
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("load order for claim failed")
		return
	}
	order, err := unmarshalOrder(orderRaw)
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("unmarshal order failed")
		return
	}

	proofRaw, err := c.store.Get(storage.FillProofKey(orderID))
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("load fill proof for claim failed")
		return
	}
	proof, err := unmarshalFillProof(proofRaw)
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("unmarshal fill proof failed")
		return
	}

	standard, err := c.standards.Get(order.Standard)
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("no standard for order")
		return
	}

	tx, err := standard.GenerateClaimTransaction(order, orderstandard.ClaimParams{
		Solver:           c.cfg.Solver,
		OriginSettler:    c.cfg.OriginSettler,
		FilledTimestamps: []uint32{uint32(proof.FilledTimestamp)},
	})
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("generate claim transaction failed")
		return
	}

	hash, err := c.delivery.Deliver(ctx, tx)
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("deliver claim failed")
		c.bus.Publish(solvertypes.Event{Kind: solvertypes.EventTransactionFailed, OrderID: orderID, Reason: err.Error(), TxKind: solvertypes.TxKindClaim})
		return
	}

	rec := TxRecord{Hash: hash, ChainID: tx.ChainID}
	payload, err := marshalTxRecord(rec)
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("marshal claim record failed")
		return
	}
	if err := c.store.Set(storage.ClaimKey(orderID), payload); err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("store claim record failed")
		return
	}
	if err := c.store.Set(storage.TxToOrderKey(hash), []byte(orderID)); err != nil {
		c.logger.WithOrder(orderID).WithError(err).Error("store tx_to_order for claim failed")
		return
	}

	c.bus.Publish(solvertypes.Event{Kind: solvertypes.EventTransactionPending, OrderID: orderID, TxHash: hash, TxKind: solvertypes.TxKindClaim})
	c.metrics.ClaimSubmitted()
	c.spawnPendingMonitor(ctx, orderID, rec, solvertypes.TxKindClaim)
}
