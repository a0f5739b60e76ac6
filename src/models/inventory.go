package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AcquisitionLot records one acquisition of an asset at a cost basis.
// The inventory engine creates exactly one lot per effective acquiring leg;
// remaining quantity is derived from the disposal links against the lot,
// never stored.
type AcquisitionLot struct {
	ID                uuid.UUID       `json:"id"`
	AcquiredLegID     uuid.UUID       `json:"acquired_leg_id"`
	AssetID           string          `json:"asset_id"`
	AcquiredTimestamp time.Time       `json:"acquired_timestamp"`
	AcquiredQuantity  decimal.Decimal `json:"acquired_quantity"`
	CostPerUnit       decimal.Decimal `json:"cost_per_unit"`
	EventType         EventType       `json:"event_type"`
	EventOrigin       EventOrigin     `json:"event_origin"`
}

// DisposalLink ties a disposing leg to the lot (or one of the lots) it
// consumed. A disposal spanning several lots produces one link per lot.
type DisposalLink struct {
	ID             uuid.UUID       `json:"id"`
	DisposalLegID  uuid.UUID       `json:"disposal_leg_id"`
	LotID          uuid.UUID       `json:"lot_id"`
	QuantityUsed   decimal.Decimal `json:"quantity_used"`
	ProceedsTotal  decimal.Decimal `json:"proceeds_total"`
	DisposedAt     time.Time       `json:"disposed_at"`
	DisposalOrigin EventOrigin     `json:"disposal_origin"`
}

// WalletBalance is a point-in-time balance snapshot for one wallet/asset pair.
type WalletBalance struct {
	WalletID string          `json:"wallet_id"`
	AssetID  string          `json:"asset_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// InventoryResult is the full output of one inventory engine run.
type InventoryResult struct {
	Lots          []AcquisitionLot `json:"lots"`
	DisposalLinks []DisposalLink   `json:"disposal_links"`
	Balances      []WalletBalance  `json:"balances"`
}

// TaxEventKind distinguishes taxable disposals from taxable rewards.
type TaxEventKind string

const (
	TaxEventDisposal TaxEventKind = "DISPOSAL"
	TaxEventReward   TaxEventKind = "REWARD"
)

// TaxEvent is a derived, recomputable taxable amount. SourceID references a
// DisposalLink for DISPOSAL events and an AcquisitionLot for REWARD events.
type TaxEvent struct {
	SourceID    uuid.UUID       `json:"source_id"`
	Kind        TaxEventKind    `json:"kind"`
	TaxableGain decimal.Decimal `json:"taxable_gain"`
}
