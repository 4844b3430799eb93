// Package solvertypes holds the entities shared across every solver
// component: intents, orders, transactions, proofs, and the lifecycle
// events the coordinator publishes while driving an order to completion.
package solvertypes

import (
	"encoding/json"
	"math/big"
	"time"
)

// OrderState is the lifecycle position of an order inside the coordinator's
// state machine. It is implicit in which storage namespaces hold what; the
// enum exists to make recovery and logging legible, not as a separate
// source of truth.
type OrderState string

const (
	StateDiscovered    OrderState = "discovered"
	StateValidated     OrderState = "validated"
	StateExecuting     OrderState = "executing"
	StateFillPending   OrderState = "fill_pending"
	StateFillConfirmed OrderState = "fill_confirmed"
	StateProofStored   OrderState = "proof_stored"
	StateClaimReady    OrderState = "claim_ready"
	StateClaimPending  OrderState = "claim_pending"
	StateClaimConfirmed OrderState = "claim_confirmed"
	StateCompleted     OrderState = "completed"
	StateFailed        OrderState = "failed"
	StateSkipped       OrderState = "skipped"
	StateDeferred      OrderState = "deferred"
	StateExpired       OrderState = "expired"
)

// IntentMetadata carries the out-of-band facts discovery attaches to a raw
// intent: when it was seen, and whether it demands auction-style handling.
type IntentMetadata struct {
	DiscoveredAt    uint64
	RequiresAuction bool
	ExclusiveUntil  *uint64
}

// Intent is the transient tuple produced by a DiscoverySource. It is never
// persisted as-is; the coordinator either rejects it or turns it into an
// Order via the matching OrderStandard.
type Intent struct {
	ID       string
	Source   string
	Standard string
	Metadata IntentMetadata
	Data     []byte
}

// Order is the parsed, persisted form of an Intent. Data is kept opaque
// (json.RawMessage) at this layer; only the owning OrderStandard knows how
// to interpret it.
type Order struct {
	ID        string          `json:"id"`
	Standard  string          `json:"standard"`
	CreatedAt uint64          `json:"created_at"`
	ExpiresAt uint64          `json:"expires_at"`
	Data      json.RawMessage `json:"data"`
}

// FillData is a tagged union over the ways a FillInstruction can encode its
// payload. Exactly one of the two fields is populated.
type FillData struct {
	EIP7683 *EIP7683FillData `json:"eip7683,omitempty"`
	Generic []byte           `json:"generic,omitempty"`
}

// EIP7683FillData is the origin-bound half of an ERC-7683 fill call.
type EIP7683FillData struct {
	OrderID    [32]byte `json:"order_id"`
	OriginData []byte   `json:"origin_data"`
}

// FillInstruction is ephemeral: rebuilt from the persisted Order on demand,
// never stored on its own.
type FillInstruction struct {
	DestinationChain    uint64
	DestinationContract Address
	Fill                FillData
}

// Address is a 20-byte EVM address, kept as a fixed array so it round-trips
// through JSON and storage without allocation surprises.
type Address [20]byte

// Transaction is unsigned. Any nil numeric field is filled in by the chain
// adapter at submission time using the adapter's configured gas strategy.
type Transaction struct {
	To                   *Address
	Value                *big.Int
	Data                 []byte
	ChainID              uint64
	Nonce                *uint64
	GasLimit             *uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Receipt is the confirmed outcome of a submitted Transaction.
type Receipt struct {
	Hash        [32]byte
	BlockNumber uint64
	GasUsed     *big.Int
	Success     bool
	Timestamp   *uint64
}

// FillProof is produced only from a confirmed fill receipt that matches the
// order; it is the sole input the claim phase reads, without re-validation.
type FillProof struct {
	TxHash          [32]byte  `json:"tx_hash"`
	BlockNumber     uint64    `json:"block_number"`
	FilledTimestamp uint64    `json:"filled_timestamp"`
	OracleAddress   string    `json:"oracle_address"`
	AttestationData []byte    `json:"attestation_data,omitempty"`
	StoredAt        time.Time `json:"stored_at"`
}

// ExecutionContext is the snapshot input to the execution strategy. It is
// recomputed for every decision and never stored.
type ExecutionContext struct {
	GasPrice      *big.Int
	Timestamp     uint64
	SolverBalance map[uint64]*big.Int
}

// Log mirrors an EVM log entry as returned by eth_getLogs.
type Log struct {
	Address     Address
	Topics      [][32]byte
	Data        []byte
	BlockNumber uint64
	TxHash      [32]byte
	TxIndex     uint
	LogIndex    uint
}

// LogFilter describes a get_logs query. A nil entry at Topics[i] is a
// wildcard for that position.
type LogFilter struct {
	Address   *Address
	Topics    [4]*[32]byte
	FromBlock uint64
	ToBlock   uint64
}
