package fanout

import (
	"encoding/json"

	"github.com/openfloor/marketplace-indexer/internal/domain"
)

// JobKind routes a queued follow-up to its processor
type JobKind string

const (
	// JobKindOrderUpdate recomputes an order's derived state and the
	// aggregates of the tokens it references (payload: domain.OrderInfo)
	JobKindOrderUpdate JobKind = "order-update"
	// JobKindFillUpdate drives post-fill bookkeeping for one execution
	// (payload: domain.FillInfo)
	JobKindFillUpdate JobKind = "fill-update"
	// JobKindMakerRevalidation revalidates a maker's open orders after a
	// balance or approval change (payload: domain.MakerInfo)
	JobKindMakerRevalidation JobKind = "maker-revalidation"
	// JobKindFillEnrichment runs the best-effort royalty and wash-trading
	// pass over a persisted fill (payload: FillRef)
	JobKindFillEnrichment JobKind = "fill-enrichment"
	// JobKindAggregateRefresh retries an aggregate reconciliation that
	// lost the advisory lock (payload: AggregateRefresh)
	JobKindAggregateRefresh JobKind = "aggregate-refresh"
)

// AggregateRefresh asks for a token floor or collection top bid to be
// reconciled. TokenID empty means a collection top bid refresh.
type AggregateRefresh struct {
	Contract     string         `json:"contract,omitempty"`
	TokenID      string         `json:"token_id,omitempty"`
	CollectionID string         `json:"collection_id,omitempty"`
	Trigger      domain.Trigger `json:"trigger"`
}

// Job is the envelope every queued follow-up travels in. Context is a
// deterministic dedupe key: while a job with the same context is already
// queued, publishing another is a no-op. NotBefore defers processing
// without blocking the consumer.
type Job struct {
	ID        string          `json:"id"`
	Kind      JobKind         `json:"kind"`
	Context   string          `json:"context,omitempty"`
	NotBefore int64           `json:"not_before,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// FillRef points a follow-up job at one persisted fill
type FillRef struct {
	OrderKind  domain.OrderKind `json:"order_kind"`
	Contract   string           `json:"contract"`
	TokenID    string           `json:"token_id"`
	TxHash     string           `json:"tx_hash"`
	LogIndex   uint64           `json:"log_index"`
	BatchIndex uint64           `json:"batch_index"`
}

// ActivityKind labels an outward-facing activity record
type ActivityKind string

const (
	ActivityKindSale     ActivityKind = "sale"
	ActivityKindMint     ActivityKind = "mint"
	ActivityKindTransfer ActivityKind = "transfer"
	ActivityKindCancel   ActivityKind = "cancel"
)

// Activity is the normalized record published for downstream consumers
// (feeds, notifications, analytics) whenever something user-visible
// happened on-chain
type Activity struct {
	ID        string           `json:"id"`
	Kind      ActivityKind     `json:"kind"`
	OrderKind domain.OrderKind `json:"order_kind,omitempty"`
	OrderID   string           `json:"order_id,omitempty"`
	Contract  string           `json:"contract,omitempty"`
	TokenID   string           `json:"token_id,omitempty"`
	From      string           `json:"from,omitempty"`
	To        string           `json:"to,omitempty"`
	Amount    string           `json:"amount,omitempty"`
	Price     string           `json:"price,omitempty"`
	Currency  string           `json:"currency,omitempty"`
	TxHash    string           `json:"tx_hash"`
	LogIndex  uint64           `json:"log_index"`
	Timestamp int64            `json:"timestamp"`
}

// FloorAskChange notifies consumers that a token's floor ask moved
type FloorAskChange struct {
	ID            string         `json:"id"`
	Contract      string         `json:"contract"`
	TokenID       string         `json:"token_id"`
	OrderID       *string        `json:"order_id"`
	Maker         *string        `json:"maker"`
	Price         *string        `json:"price"`
	PreviousPrice *string        `json:"previous_price"`
	Trigger       domain.Trigger `json:"trigger"`
}

// TopBidChange notifies consumers that a collection's top bid moved
type TopBidChange struct {
	ID            string         `json:"id"`
	CollectionID  string         `json:"collection_id"`
	OrderID       *string        `json:"order_id"`
	Maker         *string        `json:"maker"`
	Price         *string        `json:"price"`
	PreviousPrice *string        `json:"previous_price"`
	Trigger       domain.Trigger `json:"trigger"`
}
