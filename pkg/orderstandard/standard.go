// Package orderstandard implements the order-standard plugin surface:
// parsing raw intent bytes into a typed Order, and building the fill and
// claim transactions a parsed Order produces. The only concrete standard
// shipped here is ERC-7683 (eip7683.go); the interface is narrow so a
// second standard can be added without touching the coordinator.
package orderstandard

import (
	"fmt"
	"sync"

	"github.com/certen/intent-solver/pkg/solvertypes"
)

// ClaimParams carries the facts the coordinator gathers from fill_proofs
// and configuration that a claim builder needs but that aren't part of the
// persisted Order: the solver's own address, the origin-chain input
// settler it claims against, and the per-output fill timestamps.
type ClaimParams struct {
	Solver           solvertypes.Address
	OriginSettler    solvertypes.Address
	FilledTimestamps []uint32 // one per output, same order as MinReceived/MaxSpent
}

// FillParams carries the execution strategy's decision parameters plus the
// solver's own address, needed to build a fill transaction.
type FillParams struct {
	Solver       solvertypes.Address
	FillGasLimit *uint64 // nil => standard's default
}

// Standard parses intents of one kind and builds the transactions that
// drive them through fill and claim. Implementations have no I/O; they
// operate purely on the bytes the Order already carries.
type Standard interface {
	// Name is the string an Intent.Standard / Order.Standard must equal
	// for this plugin to apply.
	Name() string

	// Parse validates and decodes an Intent into a persisted Order. now is
	// the caller's clock, injected so expiry checks are deterministic in
	// tests.
	Parse(intent solvertypes.Intent, now uint64) (solvertypes.Order, error)

	// FillInstructions rebuilds the ephemeral fill instructions from a
	// persisted Order on demand.
	FillInstructions(order solvertypes.Order) ([]solvertypes.FillInstruction, error)

	// GenerateFillTransaction builds the destination-chain transaction
	// that delivers the order's outputs.
	GenerateFillTransaction(order solvertypes.Order, params FillParams) (solvertypes.Transaction, error)

	// GenerateClaimTransaction builds the origin-chain transaction that
	// finalises the order and pays the solver.
	GenerateClaimTransaction(order solvertypes.Order, params ClaimParams) (solvertypes.Transaction, error)
}

// Registry holds one Standard per name.
type Registry struct {
	mu        sync.RWMutex
	standards map[string]Standard
}

func NewRegistry() *Registry {
	return &Registry{standards: make(map[string]Standard)}
}

func (r *Registry) Register(s Standard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.standards[s.Name()] = s
}

func (r *Registry) Get(name string) (Standard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.standards[name]
	if !ok {
		return nil, fmt.Errorf("orderstandard: no standard registered for %q", name)
	}
	return s, nil
}
