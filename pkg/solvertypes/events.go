package solvertypes

// EventKind tags the union of lifecycle events the coordinator publishes on
// the event bus. The bus is an observability and intra-process signal only;
// every durable fact it reports is also anchored in storage (see
// pkg/storage), so a dropped event never corrupts coordinator state.
type EventKind string

const (
	EventIntentValidated     EventKind = "discovery.intent_validated"
	EventIntentRejected      EventKind = "discovery.intent_rejected"
	EventOrderExecuting      EventKind = "order.executing"
	EventOrderSkipped        EventKind = "order.skipped"
	EventOrderDeferred       EventKind = "order.deferred"
	EventTransactionPending  EventKind = "delivery.transaction_pending"
	EventTransactionConfirmed EventKind = "delivery.transaction_confirmed"
	EventTransactionFailed   EventKind = "delivery.transaction_failed"
	EventClaimReady          EventKind = "settlement.claim_ready"
	EventCompleted           EventKind = "settlement.completed"
)

// TransactionKind distinguishes a fill submission from a claim submission so
// the confirmation handler can dispatch correctly.
type TransactionKind string

const (
	TxKindFill  TransactionKind = "fill"
	TxKindClaim TransactionKind = "claim"
)

// Event is the single concrete type published on the bus; Kind selects
// which of the optional fields are meaningful. A flat struct (rather than a
// Go interface per variant) keeps the bus's channel type concrete and the
// subscriber side a simple switch on Kind.
type Event struct {
	Kind    EventKind
	OrderID string
	Reason  string // Skipped / Rejected / Failed reason text

	TxHash  [32]byte
	TxKind  TransactionKind
	Receipt *Receipt
}
