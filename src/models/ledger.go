package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventLocation identifies the exchange or chain a raw event was observed on.
type EventLocation string

const (
	LocationEthereum EventLocation = "ETHEREUM"
	LocationArbitrum EventLocation = "ARBITRUM"
	LocationBase     EventLocation = "BASE"
	LocationOptimism EventLocation = "OPTIMISM"
	LocationKraken   EventLocation = "KRAKEN"
	LocationCoinbase EventLocation = "COINBASE"
	LocationBinance  EventLocation = "BINANCE"
	LocationInternal EventLocation = "INTERNAL"
)

// EventOrigin is the stable identity of a raw event across re-imports.
// Two origins are equal iff location and external id match; corrections
// reference events through origins instead of generated ids.
type EventOrigin struct {
	Location   EventLocation `json:"location"`
	ExternalID string        `json:"external_id"`
}

// Key returns the canonical map key for an origin.
func (o EventOrigin) Key() string {
	return string(o.Location) + ":" + o.ExternalID
}

func (o EventOrigin) String() string {
	return o.Key()
}

// EventType classifies a ledger event.
type EventType string

const (
	EventTypeTrade      EventType = "TRADE"
	EventTypeDeposit    EventType = "DEPOSIT"
	EventTypeWithdrawal EventType = "WITHDRAWAL"
	EventTypeTransfer   EventType = "TRANSFER"
	EventTypeReward     EventType = "REWARD"
)

// LedgerLeg is a single asset movement within an event.
// Positive quantity increases the wallet's position, negative decreases it.
// Legs are exclusively owned by their parent event and never mutated.
type LedgerLeg struct {
	ID       uuid.UUID       `json:"id"`
	AssetID  string          `json:"asset_id"`
	Quantity decimal.Decimal `json:"quantity"`
	WalletID string          `json:"wallet_id"`
	IsFee    bool            `json:"is_fee"`
}

// NewLedgerLeg builds a validated leg. Zero-quantity legs are not meaningful
// in the ledger and are rejected.
func NewLedgerLeg(assetID string, quantity decimal.Decimal, walletID string, isFee bool) (LedgerLeg, error) {
	if assetID == "" {
		return LedgerLeg{}, fmt.Errorf("ledger leg asset_id must be non-empty")
	}
	if walletID == "" {
		return LedgerLeg{}, fmt.Errorf("ledger leg wallet_id must be non-empty")
	}
	if quantity.IsZero() {
		return LedgerLeg{}, fmt.Errorf("ledger leg quantity must be non-zero (asset %s, wallet %s)", assetID, walletID)
	}
	return LedgerLeg{
		ID:       uuid.New(),
		AssetID:  assetID,
		Quantity: quantity,
		WalletID: walletID,
		IsFee:    isFee,
	}, nil
}

// LedgerEvent is an append-only record of financial activity. Events are
// created once by an importer or by the correction engine and are immutable
// afterwards; corrections add derived events rather than editing existing ones.
type LedgerEvent struct {
	ID        uuid.UUID   `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Origin    EventOrigin `json:"origin"`
	Ingestion string      `json:"ingestion"`
	EventType EventType   `json:"event_type"`
	Legs      []LedgerLeg `json:"legs"`
}

// NewLedgerEvent builds a validated event. The timestamp is normalized to UTC.
func NewLedgerEvent(timestamp time.Time, origin EventOrigin, ingestion string, eventType EventType, legs []LedgerLeg) (LedgerEvent, error) {
	if origin.ExternalID == "" {
		return LedgerEvent{}, fmt.Errorf("event origin external_id must be non-empty")
	}
	if ingestion == "" {
		return LedgerEvent{}, fmt.Errorf("event ingestion must be non-empty (origin %s)", origin)
	}
	if len(legs) == 0 {
		return LedgerEvent{}, fmt.Errorf("event must have at least one leg (origin %s)", origin)
	}
	for _, leg := range legs {
		if leg.Quantity.IsZero() {
			return LedgerEvent{}, fmt.Errorf("event %s has a zero-quantity leg for asset %s", origin, leg.AssetID)
		}
	}
	return LedgerEvent{
		ID:        uuid.New(),
		Timestamp: timestamp.UTC(),
		Origin:    origin,
		Ingestion: ingestion,
		EventType: eventType,
		Legs:      legs,
	}, nil
}
