// Package settlement implements the settlement-mechanism plugin surface:
// deciding whether a filled order is ready to claim, and materializing
// the FillProof from a confirmed fill receipt.
package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/certen/intent-solver/pkg/solvertypes"
)

// Type names a settlement mechanism's disclosed category, as reported by
// SettlementType(); the coordinator selects a Mechanism by name, not by
// Type.
type Type string

const (
	TypeDirect     Type = "direct"
	TypeOptimistic Type = "optimistic"
)

// Mechanism decides claim readiness and builds FillProof records. All
// operations may suspend on I/O (they read receipts/oracle state through
// a chain adapter) and are fallible.
type Mechanism interface {
	Name() string
	SettlementType() Type

	// ValidateFill fetches the destination-chain receipt for fillTxHash
	// and, if it succeeded, returns a FillProof. The built-in mechanisms
	// do not compare the receipt against the order's output settler (see
	// Direct.ValidateFill).
	ValidateFill(ctx context.Context, order solvertypes.Order, fillTxHash [32]byte) (solvertypes.FillProof, error)

	// CanClaim reports whether proof has cleared this mechanism's
	// readiness window (immediately for direct settlement; after a
	// dispute period for optimistic settlement).
	CanClaim(ctx context.Context, order solvertypes.Order, proof solvertypes.FillProof, now uint64) (bool, error)
}

// Registry holds one Mechanism per name.
type Registry struct {
	mu         sync.RWMutex
	mechanisms map[string]Mechanism
}

func NewRegistry() *Registry {
	return &Registry{mechanisms: make(map[string]Mechanism)}
}

func (r *Registry) Register(m Mechanism) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mechanisms[m.Name()] = m
}

func (r *Registry) Get(name string) (Mechanism, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mechanisms[name]
	if !ok {
		return nil, fmt.Errorf("settlement: no mechanism registered for %q", name)
	}
	return m, nil
}
