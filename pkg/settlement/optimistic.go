package settlement

import (
	"context"

	"github.com/certen/intent-solver/pkg/solvertypes"
)

// DisputeChecker reports whether an order's fill is currently disputed,
// per an oracle-specific attestation scheme. A plugin providing real
// oracle integration implements this; the zero value (NoDispute) always
// reports false, matching a configuration with no oracle wired yet.
type DisputeChecker interface {
	IsDisputed(ctx context.Context, order solvertypes.Order, proof solvertypes.FillProof) (bool, error)
}

// NoDispute is the default DisputeChecker: it never reports a dispute.
// Oracle wiring for a specific attestation protocol (e.g. a signed
// message feed) is plugin-authored, not part of this core.
type NoDispute struct{}

func (NoDispute) IsDisputed(ctx context.Context, order solvertypes.Order, proof solvertypes.FillProof) (bool, error) {
	return false, nil
}

// OptimisticMechanism implements attested/optimistic settlement: a fill
// becomes claimable only after a dispute period elapses, and only within
// a bounded claim window thereafter. Receipt validation is
// identical to Direct's, so it embeds one and overrides CanClaim (plus
// Name and SettlementType).
type OptimisticMechanism struct {
	*Direct
	name              string
	dispute           DisputeChecker
	disputePeriodSecs uint64
	claimWindowSecs   uint64
}

// NewOptimistic constructs an optimistic mechanism backed by direct's
// receipt-validation logic and a configurable dispute/claim window.
func NewOptimistic(name string, direct *Direct, dispute DisputeChecker, disputePeriodSecs, claimWindowSecs uint64) *OptimisticMechanism {
	if dispute == nil {
		dispute = NoDispute{}
	}
	return &OptimisticMechanism{
		Direct:            direct,
		name:              name,
		dispute:           dispute,
		disputePeriodSecs: disputePeriodSecs,
		claimWindowSecs:   claimWindowSecs,
	}
}

func (o *OptimisticMechanism) Name() string         { return o.name }
func (o *OptimisticMechanism) SettlementType() Type { return TypeOptimistic }

// CanClaim returns true only once now is within
// [filled_timestamp+dispute_period, filled_timestamp+dispute_period+claim_window]
// and the oracle reports no active dispute. A zero claim window means
// no upper bound: the claim-readiness monitor polls on a coarse
// interval, so a literal zero-width window could never be hit and a
// successfully filled order would be stranded.
func (o *OptimisticMechanism) CanClaim(ctx context.Context, order solvertypes.Order, proof solvertypes.FillProof, now uint64) (bool, error) {
	readyAt := proof.FilledTimestamp + o.disputePeriodSecs
	if now < readyAt {
		return false, nil
	}
	if o.claimWindowSecs > 0 && now > readyAt+o.claimWindowSecs {
		return false, nil
	}
	disputed, err := o.dispute.IsDisputed(ctx, order, proof)
	if err != nil {
		return false, err
	}
	return !disputed, nil
}
