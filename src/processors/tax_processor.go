package processors

import (
	"fmt"

	"github.com/username/cryptofolio/backend/src/models"
)

// DefaultExemptionDays is the holding-period threshold at or above which a
// disposal gain is exempt.
const DefaultExemptionDays = 365

const hoursPerDay = 24

// TaxProcessor derives taxable events from inventory output. It is pure:
// recomputing over the same lots and links yields the same events and
// mutates nothing.
type TaxProcessor struct {
	exemptionDays int
}

func NewTaxProcessor(exemptionDays int) *TaxProcessor {
	if exemptionDays <= 0 {
		exemptionDays = DefaultExemptionDays
	}
	return &TaxProcessor{exemptionDays: exemptionDays}
}

// Generate emits one DISPOSAL tax event per disposal link inside the
// exemption window and one REWARD tax event per reward-originated lot whose
// origin is not marked already taxed. Output order follows the input order
// of links, then lots.
func (p *TaxProcessor) Generate(
	links []models.DisposalLink,
	lots []models.AcquisitionLot,
	alreadyTaxed map[string]struct{},
) ([]models.TaxEvent, error) {
	lotsByID := make(map[string]models.AcquisitionLot, len(lots))
	for _, lot := range lots {
		lotsByID[lot.ID.String()] = lot
	}

	var events []models.TaxEvent
	for _, link := range links {
		lot, ok := lotsByID[link.LotID.String()]
		if !ok {
			return nil, fmt.Errorf("disposal link %s references unknown lot %s", link.ID, link.LotID)
		}
		holdingDays := int(link.DisposedAt.UTC().Sub(lot.AcquiredTimestamp.UTC()).Hours() / hoursPerDay)
		if holdingDays >= p.exemptionDays {
			continue
		}
		costBasis := link.QuantityUsed.Mul(lot.CostPerUnit)
		events = append(events, models.TaxEvent{
			SourceID:    link.ID,
			Kind:        models.TaxEventDisposal,
			TaxableGain: link.ProceedsTotal.Sub(costBasis),
		})
	}

	for _, lot := range lots {
		if lot.EventType != models.EventTypeReward {
			continue
		}
		if _, ok := alreadyTaxed[lot.EventOrigin.Key()]; ok {
			continue
		}
		events = append(events, models.TaxEvent{
			SourceID:    lot.ID,
			Kind:        models.TaxEventReward,
			TaxableGain: lot.AcquiredQuantity.Mul(lot.CostPerUnit),
		})
	}

	return events, nil
}
