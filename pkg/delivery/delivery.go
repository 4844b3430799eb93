// Package delivery is a thin composition over the chain adapter
// registry. It selects the adapter for a transaction's chain id,
// submits it, and offers two confirmation modes. Delivery owns no retry
// policy across submissions; each submission attempt is a distinct
// coordinator action.
package delivery

import (
	"context"
	"fmt"

	"github.com/certen/intent-solver/pkg/chainadapter"
	"github.com/certen/intent-solver/pkg/solvertypes"
)

// Delivery submits transactions and reports their confirmation status.
type Delivery struct {
	adapters *chainadapter.Registry
}

func New(adapters *chainadapter.Registry) *Delivery {
	return &Delivery{adapters: adapters}
}

// Deliver selects the adapter for tx.ChainID and submits it, returning
// the pre-computed transaction hash.
func (d *Delivery) Deliver(ctx context.Context, tx solvertypes.Transaction) ([32]byte, error) {
	var hash [32]byte
	adapter, err := d.adapters.Get(tx.ChainID)
	if err != nil {
		return hash, fmt.Errorf("delivery: %w", err)
	}
	hash, err = adapter.SubmitTransaction(ctx, tx)
	if err != nil {
		return hash, fmt.Errorf("delivery: submit: %w", err)
	}
	return hash, nil
}

// Status reports the confirmation state of a submitted transaction on
// chainID: nil while unmined, true/false once mined, matching the
// receipt's success flag.
func (d *Delivery) Status(ctx context.Context, chainID uint64, hash [32]byte) (*bool, error) {
	adapter, err := d.adapters.Get(chainID)
	if err != nil {
		return nil, fmt.Errorf("delivery: %w", err)
	}
	receipt, err := adapter.TransactionReceipt(ctx, hash)
	if err != nil {
		if err == chainadapter.ErrNotYetMined {
			return nil, nil
		}
		return nil, fmt.Errorf("delivery: %w", err)
	}
	success := receipt.Success
	return &success, nil
}

// Confirm returns the full receipt once a transaction is mined, for
// observers that need more than the pass/fail flag Status reports.
func (d *Delivery) Confirm(ctx context.Context, chainID uint64, hash [32]byte) (*solvertypes.Receipt, error) {
	adapter, err := d.adapters.Get(chainID)
	if err != nil {
		return nil, fmt.Errorf("delivery: %w", err)
	}
	receipt, err := adapter.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("delivery: %w", err)
	}
	return receipt, nil
}
