// Package storage implements the typed key/value persistence layer: a
// flat, namespace-prefixed keyspace with optional TTL and per-key atomic
// update. Namespaces are a key-prefix convention, not separate tables:
// "orders/{id}", "fills/{id}", "fill_proofs/{id}", "claims/{id}",
// "tx_to_order/{hex(hash)}".
package storage

import (
	"encoding/hex"
	"errors"
)

// Sentinel errors, preferred over nil, nil returns.
var (
	ErrNotFound      = errors.New("storage: key not found")
	ErrMaxEntries    = errors.New("storage: max entries reached")
	ErrClosed        = errors.New("storage: backend closed")
)

// Namespace key-builder helpers.
const (
	nsOrders     = "orders/"
	nsFills      = "fills/"
	nsFillProofs = "fill_proofs/"
	nsClaims     = "claims/"
	nsTxToOrder  = "tx_to_order/"
)

func OrderKey(id string) string      { return nsOrders + id }
func FillKey(id string) string       { return nsFills + id }
func FillProofKey(id string) string  { return nsFillProofs + id }
func ClaimKey(id string) string      { return nsClaims + id }
func TxToOrderKey(hash [32]byte) string {
	return nsTxToOrder + hex.EncodeToString(hash[:])
}

// UpdateFunc is evaluated under a per-key lock by AtomicUpdate. Returning
// an error aborts the update and leaves the stored value untouched.
type UpdateFunc func(old []byte, existed bool) ([]byte, error)

// Store is the typed key/value interface every coordinator subsystem and
// storage backend implements. All storage failures are returned, never
// panicked: the coordinator treats them as a per-order failure.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	SetWithTTL(key string, value []byte, ttlSeconds int64) error
	Delete(key string) error
	Exists(key string) (bool, error)
	ListKeys(prefix string) ([]string, error)
	AtomicUpdate(key string, fn UpdateFunc) error

	// GetBatch returns the present, unexpired subset of keys; a missing
	// key is omitted from the result rather than erroring.
	GetBatch(keys []string) (map[string][]byte, error)
	// SetBatch writes every entry. Backends without multi-key atomicity
	// apply entries one by one and stop at the first failure.
	SetBatch(entries map[string][]byte) error
	// DeleteBatch removes every named key; absent keys are not an error.
	DeleteBatch(keys []string) error

	Close() error
}
