package services

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/corrections"
	"github.com/username/cryptofolio/backend/src/models"
)

// PriceService is the external rate-lookup capability: the EUR (or other
// quote) value of one unit of base at a point in time. Lookups that cannot
// be answered fail with a PriceUnavailableError; there is no default-to-zero.
type PriceService interface {
	Rate(baseAssetID, quoteAssetID string, at time.Time) (decimal.Decimal, error)
}

// QuoteStore is the persistent read-through cache behind the price service.
type QuoteStore interface {
	ReadPriceQuote(baseID, quoteID string, bucket time.Time) (decimal.Decimal, bool, error)
	WritePriceQuote(baseID, quoteID string, bucket time.Time, rate decimal.Decimal) error
}

// PipelineResult aggregates every artifact of one full pipeline run.
type PipelineResult struct {
	RawEvents       []models.LedgerEvent
	EffectiveEvents []models.LedgerEvent
	Audit           []corrections.AuditEntry
	Inventory       *models.InventoryResult
	TaxEvents       []models.TaxEvent
}

// PipelineService runs import -> corrections -> inventory -> tax generation
// as one atomic batch and persists the artifacts.
type PipelineService interface {
	Run() (*PipelineResult, error)
}
