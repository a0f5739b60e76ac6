package processors

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
)

// QuoteCurrency is the currency every lot cost and disposal proceeds value
// is denominated in.
const QuoteCurrency = "EUR"

// PriceProvider is the external rate-lookup capability the engine falls back
// to when an event carries no EUR leg to value a movement against.
type PriceProvider interface {
	Rate(baseAssetID, quoteAssetID string, at time.Time) (decimal.Decimal, error)
}

// InsufficientLotsError reports a disposal that exceeds the open lot quantity
// for its asset. Distinct from the balance check: once balances hold for a
// single global per-asset FIFO pool this signals a lot-accounting gap such as
// missing acquisition history.
type InsufficientLotsError struct {
	AssetID   string
	Origin    models.EventOrigin
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientLotsError) Error() string {
	return fmt.Sprintf(
		"insufficient open lots for asset=%s origin=%s requested=%s available=%s",
		e.AssetID, e.Origin, e.Requested, e.Available)
}

// openLot is an acquisition lot plus its mutable remaining quantity. Only the
// engine's scan state holds these; the emitted AcquisitionLot records stay
// immutable.
type openLot struct {
	lot       models.AcquisitionLot
	remaining decimal.Decimal
}

// lotQueue is a FIFO of open lots for one asset. Consumed lots advance the
// head index instead of reslicing so the oldest lot is always an O(1) peek.
type lotQueue struct {
	lots []*openLot
	head int
}

func (q *lotQueue) push(l *openLot) { q.lots = append(q.lots, l) }

func (q *lotQueue) peek() *openLot {
	for q.head < len(q.lots) {
		if q.lots[q.head].remaining.IsPositive() {
			return q.lots[q.head]
		}
		q.head++
	}
	return nil
}

func (q *lotQueue) available() decimal.Decimal {
	total := decimal.Zero
	for i := q.head; i < len(q.lots); i++ {
		total = total.Add(q.lots[i].remaining)
	}
	return total
}

// InventoryEngine folds an effective event stream into acquisition lots,
// disposal links and wallet balances. Lots are tracked per asset globally,
// not per wallet, so wallet-to-wallet transfers never reset the holding
// period; only true disposals touch the FIFO queues.
//
// The engine holds no cross-run state: every Process call starts from empty
// balances and empty queues, and a failed run returns nothing.
type InventoryEngine struct {
	prices        PriceProvider
	costOverrides map[string]decimal.Decimal
}

// EngineOption configures an InventoryEngine.
type EngineOption func(*InventoryEngine)

// WithCostBasisOverrides installs per-origin cost bases (keyed by
// EventOrigin.Key) that take precedence over EUR-leg and price-lookup
// valuation. Seed corrections with a manual price use this path.
func WithCostBasisOverrides(overrides map[string]decimal.Decimal) EngineOption {
	return func(e *InventoryEngine) { e.costOverrides = overrides }
}

func NewInventoryEngine(prices PriceProvider, opts ...EngineOption) *InventoryEngine {
	e := &InventoryEngine{prices: prices}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process scans the effective stream in order and returns the full inventory
// result. The input must already be sorted ascending by timestamp; ordering
// is the correction engine's responsibility and is not re-checked here beyond
// being consumed as-is.
//
// Any error aborts the whole batch with no partial result.
func (e *InventoryEngine) Process(effectiveEvents []models.LedgerEvent) (*models.InventoryResult, error) {
	tracker := NewWalletBalanceTracker()
	queues := make(map[string]*lotQueue)
	var lots []models.AcquisitionLot
	var links []models.DisposalLink

	for _, event := range effectiveEvents {
		for _, leg := range event.Legs {
			if err := tracker.Apply(leg.WalletID, leg.AssetID, leg.Quantity, event.Origin); err != nil {
				return nil, err
			}

			switch {
			case event.EventType == models.EventTypeTransfer && !leg.IsFee:
				// Balance-only: holding-period continuity across the user's
				// own wallets.
				continue

			case leg.Quantity.IsPositive() && !leg.IsFee:
				lot, err := e.acquire(event, leg)
				if err != nil {
					return nil, err
				}
				queue := queues[leg.AssetID]
				if queue == nil {
					queue = &lotQueue{}
					queues[leg.AssetID] = queue
				}
				queue.push(&openLot{lot: lot, remaining: lot.AcquiredQuantity})
				lots = append(lots, lot)

			default:
				// Outgoing leg, or any fee leg (fee legs dispose even on
				// transfers).
				disposalLinks, err := e.dispose(event, leg, queues[leg.AssetID])
				if err != nil {
					return nil, err
				}
				links = append(links, disposalLinks...)
			}
		}
	}

	return &models.InventoryResult{
		Lots:          lots,
		DisposalLinks: links,
		Balances:      tracker.Snapshot(),
	}, nil
}

// acquire opens a new lot for an incoming non-fee leg.
func (e *InventoryEngine) acquire(event models.LedgerEvent, leg models.LedgerLeg) (models.AcquisitionLot, error) {
	costPerUnit, err := e.unitValue(event, leg)
	if err != nil {
		return models.AcquisitionLot{}, fmt.Errorf("valuing acquisition of %s %s at %s: %w",
			leg.Quantity, leg.AssetID, event.Timestamp.Format(time.RFC3339), err)
	}
	return models.AcquisitionLot{
		ID:                uuid.New(),
		AcquiredLegID:     leg.ID,
		AssetID:           leg.AssetID,
		AcquiredTimestamp: event.Timestamp,
		AcquiredQuantity:  leg.Quantity,
		CostPerUnit:       costPerUnit,
		EventType:         event.EventType,
		EventOrigin:       event.Origin,
	}, nil
}

// dispose consumes open lots FIFO for an outgoing or fee leg, emitting one
// link per lot touched in acquisition order.
func (e *InventoryEngine) dispose(event models.LedgerEvent, leg models.LedgerLeg, queue *lotQueue) ([]models.DisposalLink, error) {
	quantity := leg.Quantity.Abs()
	available := decimal.Zero
	if queue != nil {
		available = queue.available()
	}
	if available.LessThan(quantity) {
		return nil, &InsufficientLotsError{
			AssetID:   leg.AssetID,
			Origin:    event.Origin,
			Requested: quantity,
			Available: available,
		}
	}

	perUnit, err := e.unitValue(event, leg)
	if err != nil {
		return nil, fmt.Errorf("valuing disposal of %s %s at %s: %w",
			quantity, leg.AssetID, event.Timestamp.Format(time.RFC3339), err)
	}

	var links []models.DisposalLink
	remaining := quantity
	for remaining.IsPositive() {
		lot := queue.peek()
		used := decimal.Min(remaining, lot.remaining)
		lot.remaining = lot.remaining.Sub(used)
		remaining = remaining.Sub(used)
		links = append(links, models.DisposalLink{
			ID:             uuid.New(),
			DisposalLegID:  leg.ID,
			LotID:          lot.lot.ID,
			QuantityUsed:   used,
			ProceedsTotal:  perUnit.Mul(used),
			DisposedAt:     event.Timestamp,
			DisposalOrigin: event.Origin,
		})
	}
	return links, nil
}

// unitValue resolves the EUR value of one unit of the leg's asset at the
// event time: seeded overrides first, then the quote currency itself, then a
// same-event EUR valuation, then the external price lookup.
func (e *InventoryEngine) unitValue(event models.LedgerEvent, leg models.LedgerLeg) (decimal.Decimal, error) {
	if override, ok := e.costOverrides[event.Origin.Key()]; ok {
		return override, nil
	}
	if leg.AssetID == QuoteCurrency {
		return decimal.NewFromInt(1), nil
	}
	if perUnit, ok := eventQuoteValuation(event, leg); ok {
		return perUnit, nil
	}
	rate, err := e.prices.Rate(leg.AssetID, QuoteCurrency, event.Timestamp)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return rate, nil
}

// eventQuoteValuation values a leg against the EUR legs of its own event:
// the sum of the EUR legs' absolute quantities divided by the leg quantity.
// It only applies when the leg is the event's sole non-fee non-EUR leg;
// otherwise the attribution would be ambiguous and the caller falls back to
// the price lookup.
func eventQuoteValuation(event models.LedgerEvent, leg models.LedgerLeg) (decimal.Decimal, bool) {
	quoteTotal := decimal.Zero
	quoteLegs := 0
	otherLegs := 0
	for _, other := range event.Legs {
		if other.IsFee {
			continue
		}
		if other.AssetID == QuoteCurrency {
			quoteTotal = quoteTotal.Add(other.Quantity.Abs())
			quoteLegs++
			continue
		}
		if other.ID != leg.ID {
			otherLegs++
		}
	}
	if quoteLegs == 0 || otherLegs > 0 {
		return decimal.Decimal{}, false
	}
	return quoteTotal.Div(leg.Quantity.Abs()), true
}
