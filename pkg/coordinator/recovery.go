package coordinator

import (
	"context"
	"strings"

	"github.com/certen/intent-solver/pkg/solvertypes"
	"github.com/certen/intent-solver/pkg/storage"
)

const ordersPrefix = "orders/"

// recover resumes every persisted order at the
// furthest point its namespaces reach. It runs once at startup, before
// the main loop starts consuming intents or bus events, so every
// resumed monitor is already inflight by the time Run begins selecting.
func (c *Coordinator) recover(ctx context.Context) error {
	keys, err := c.store.ListKeys(ordersPrefix)
	if err != nil {
		return err
	}

	for _, key := range keys {
		orderID := strings.TrimPrefix(key, ordersPrefix)
		if err := c.recoverOrder(ctx, orderID); err != nil {
			c.logger.WithOrder(orderID).WithError(err).Error("order recovery failed")
		}
	}
	return nil
}

func (c *Coordinator) recoverOrder(ctx context.Context, orderID string) error {
	if rec, ok, err := c.getTxRecord(storage.ClaimKey(orderID)); err != nil {
		return err
	} else if ok {
		return c.recoverFromClaim(ctx, orderID, rec)
	}

	if _, err := c.store.Get(storage.FillProofKey(orderID)); err == nil {
		return c.recoverFromProof(ctx, orderID)
	} else if err != storage.ErrNotFound {
		return err
	}

	if rec, ok, err := c.getTxRecord(storage.FillKey(orderID)); err != nil {
		return err
	} else if ok {
		return c.recoverFromFill(ctx, orderID, rec)
	}

	return c.recoverFromScratch(ctx, orderID)
}

func (c *Coordinator) getTxRecord(key string) (TxRecord, bool, error) {
	raw, err := c.store.Get(key)
	if err == storage.ErrNotFound {
		return TxRecord{}, false, nil
	}
	if err != nil {
		return TxRecord{}, false, err
	}
	rec, err := unmarshalTxRecord(raw)
	if err != nil {
		return TxRecord{}, false, err
	}
	return rec, true, nil
}

// recoverFromClaim: claims/{id} present. A confirmed claim completes the
// order; a still-pending one resumes its monitor.
func (c *Coordinator) recoverFromClaim(ctx context.Context, orderID string, rec TxRecord) error {
	status, err := c.delivery.Status(ctx, rec.ChainID, rec.Hash)
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Warn("recovery status check failed, resuming monitor anyway")
		c.spawnPendingMonitor(ctx, orderID, rec, solvertypes.TxKindClaim)
		return nil
	}
	if status != nil && *status {
		c.logger.WithOrder(orderID).Info("recovered as already completed")
		c.metrics.OrderCompleted()
		return nil
	}
	c.logger.WithOrder(orderID).Info("recovering pending claim monitor")
	c.spawnPendingMonitor(ctx, orderID, rec, solvertypes.TxKindClaim)
	return nil
}

// recoverFromProof: fill_proofs/{id} present but no claim yet. Resume
// the claim-readiness monitor.
func (c *Coordinator) recoverFromProof(ctx context.Context, orderID string) error {
	order, err := c.loadOrder(orderID)
	if err != nil {
		return err
	}
	proofRaw, err := c.store.Get(storage.FillProofKey(orderID))
	if err != nil {
		return err
	}
	proof, err := unmarshalFillProof(proofRaw)
	if err != nil {
		return err
	}
	mechanism, err := c.mechanisms.Get(c.cfg.SettlementMechanism)
	if err != nil {
		return err
	}
	c.logger.WithOrder(orderID).Info("recovering claim-readiness monitor")
	c.spawnClaimReadyMonitor(ctx, orderID, order, mechanism, proof)
	return nil
}

// recoverFromFill: fills/{id} present, no proof yet. A pending fill
// resumes its monitor; a confirmed-but-unproven fill re-enters the
// confirmation handler's fill branch directly.
func (c *Coordinator) recoverFromFill(ctx context.Context, orderID string, rec TxRecord) error {
	status, err := c.delivery.Status(ctx, rec.ChainID, rec.Hash)
	if err != nil {
		c.logger.WithOrder(orderID).WithError(err).Warn("recovery status check failed, resuming monitor anyway")
		c.spawnPendingMonitor(ctx, orderID, rec, solvertypes.TxKindFill)
		return nil
	}
	if status == nil {
		c.logger.WithOrder(orderID).Info("recovering pending fill monitor")
		c.spawnPendingMonitor(ctx, orderID, rec, solvertypes.TxKindFill)
		return nil
	}
	if !*status {
		c.logger.WithOrder(orderID).Warn("recovered fill already reverted, leaving stalled")
		return nil
	}
	c.logger.WithOrder(orderID).Info("recovering confirmed fill with no stored proof")
	c.onFillConfirmed(ctx, orderID, rec.Hash)
	return nil
}

// recoverFromScratch: no fills/claims/proof namespace at all. Re-run the
// strategy decision and, if applicable, the execute handler.
func (c *Coordinator) recoverFromScratch(ctx context.Context, orderID string) error {
	order, err := c.loadOrder(orderID)
	if err != nil {
		return err
	}
	c.logger.WithOrder(orderID).Info("recovering from scratch, re-evaluating strategy")
	c.evaluate(ctx, order)
	return nil
}

func (c *Coordinator) loadOrder(orderID string) (solvertypes.Order, error) {
	raw, err := c.store.Get(storage.OrderKey(orderID))
	if err != nil {
		return solvertypes.Order{}, err
	}
	return unmarshalOrder(raw)
}
