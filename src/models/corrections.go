package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Correction primitives. These are the closed set of manual adjustments the
// correction engine understands; importers never produce them.

// SpamMarker excludes the referenced raw event from the effective stream
// entirely (airdropped spam tokens, scam contracts).
type SpamMarker struct {
	EventOrigin EventOrigin `json:"event_origin"`
}

// AlreadyTaxedMarker keeps the referenced event's legs in balances and lots
// but suppresses the REWARD tax event it would otherwise generate.
type AlreadyTaxedMarker struct {
	EventOrigin EventOrigin `json:"event_origin"`
}

// SeedEvent is a synthetic acquisition inserted to satisfy missing history.
// It has no upstream counterpart; the engine materializes it as a REWARD
// event with a synthetic INTERNAL origin. PricePerToken is the cost basis
// assigned to the seeded lot (zero means "look the price up").
type SeedEvent struct {
	ID            uuid.UUID       `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	PricePerToken decimal.Decimal `json:"price_per_token"`
	Legs          []LedgerLeg     `json:"legs"`
}

// LinkMarker collapses two or more raw events (a bridge pair, an on-chain
// withdrawal plus an exchange deposit) into one derived effective event.
// The consumed raw events stay in raw storage for audit.
type LinkMarker struct {
	ID              uuid.UUID     `json:"id"`
	Timestamp       time.Time     `json:"timestamp"`
	EventType       EventType     `json:"event_type"`
	Legs            []LedgerLeg   `json:"legs"`
	ConsumedOrigins []EventOrigin `json:"consumed_origins"`
}

// CorrectionSet is the full set of manual corrections applied to one run.
type CorrectionSet struct {
	Spam         []EventOrigin `json:"spam"`
	AlreadyTaxed []EventOrigin `json:"already_taxed"`
	Seeds        []SeedEvent   `json:"seeds"`
	Links        []LinkMarker  `json:"links"`
}

// AlreadyTaxedSet returns the already-taxed origins as a lookup set keyed by
// origin key, the shape consumed by the tax processor.
func (c CorrectionSet) AlreadyTaxedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.AlreadyTaxed))
	for _, origin := range c.AlreadyTaxed {
		set[origin.Key()] = struct{}{}
	}
	return set
}
