package processors

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/models"
)

func makeLot(t *testing.T, assetID string, acquired time.Time, quantity, costPerUnit string, eventType models.EventType, externalID string) models.AcquisitionLot {
	t.Helper()
	return models.AcquisitionLot{
		ID:                uuid.New(),
		AcquiredLegID:     uuid.New(),
		AssetID:           assetID,
		AcquiredTimestamp: acquired,
		AcquiredQuantity:  decimal.RequireFromString(quantity),
		CostPerUnit:       decimal.RequireFromString(costPerUnit),
		EventType:         eventType,
		EventOrigin:       models.EventOrigin{Location: models.LocationKraken, ExternalID: externalID},
	}
}

func makeLink(lot models.AcquisitionLot, disposedAt time.Time, quantityUsed, proceedsTotal string) models.DisposalLink {
	return models.DisposalLink{
		ID:             uuid.New(),
		DisposalLegID:  uuid.New(),
		LotID:          lot.ID,
		QuantityUsed:   decimal.RequireFromString(quantityUsed),
		ProceedsTotal:  decimal.RequireFromString(proceedsTotal),
		DisposedAt:     disposedAt,
		DisposalOrigin: models.EventOrigin{Location: models.LocationKraken, ExternalID: "sell"},
	}
}

func TestGenerateDisposalGain(t *testing.T) {
	acquired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lot := makeLot(t, "ETH", acquired, "2", "1000", models.EventTypeTrade, "buy")
	link := makeLink(lot, acquired.Add(30*24*time.Hour), "1.5", "2700")

	events, err := NewTaxProcessor(365).Generate([]models.DisposalLink{link}, []models.AcquisitionLot{lot}, nil)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, link.ID, events[0].SourceID)
	assert.Equal(t, models.TaxEventDisposal, events[0].Kind)
	// 2700 proceeds against 1.5 * 1000 cost basis.
	assert.True(t, events[0].TaxableGain.Equal(decimal.RequireFromString("1200")))
}

func TestGenerateExemptionWindowBoundary(t *testing.T) {
	acquired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lot := makeLot(t, "ETH", acquired, "2", "1000", models.EventTypeTrade, "buy")

	t.Run("one day inside the window is taxable", func(t *testing.T) {
		link := makeLink(lot, acquired.Add(364*24*time.Hour), "1", "1500")
		events, err := NewTaxProcessor(365).Generate([]models.DisposalLink{link}, []models.AcquisitionLot{lot}, nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
	})

	t.Run("exactly the exemption threshold is exempt", func(t *testing.T) {
		link := makeLink(lot, acquired.Add(365*24*time.Hour), "1", "1500")
		events, err := NewTaxProcessor(365).Generate([]models.DisposalLink{link}, []models.AcquisitionLot{lot}, nil)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestGenerateRewardEvents(t *testing.T) {
	acquired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reward := makeLot(t, "DOT", acquired, "10", "6.5", models.EventTypeReward, "reward-1")
	trade := makeLot(t, "ETH", acquired, "1", "1000", models.EventTypeTrade, "buy-1")

	events, err := NewTaxProcessor(365).Generate(nil, []models.AcquisitionLot{reward, trade}, nil)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, reward.ID, events[0].SourceID)
	assert.Equal(t, models.TaxEventReward, events[0].Kind)
	assert.True(t, events[0].TaxableGain.Equal(decimal.RequireFromString("65")))
}

func TestGenerateAlreadyTaxedSuppressesReward(t *testing.T) {
	acquired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reward := makeLot(t, "DOT", acquired, "10", "6.5", models.EventTypeReward, "reward-1")
	alreadyTaxed := map[string]struct{}{reward.EventOrigin.Key(): {}}

	events, err := NewTaxProcessor(365).Generate(nil, []models.AcquisitionLot{reward}, alreadyTaxed)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestGenerateAlreadyTaxedLotStillDisposable(t *testing.T) {
	acquired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reward := makeLot(t, "DOT", acquired, "10", "6.5", models.EventTypeReward, "reward-1")
	link := makeLink(reward, acquired.Add(10*24*time.Hour), "10", "80")
	alreadyTaxed := map[string]struct{}{reward.EventOrigin.Key(): {}}

	events, err := NewTaxProcessor(365).Generate([]models.DisposalLink{link}, []models.AcquisitionLot{reward}, alreadyTaxed)
	require.NoError(t, err)

	// The reward income is suppressed but the later disposal still taxes the
	// gain over the reward's cost basis.
	require.Len(t, events, 1)
	assert.Equal(t, models.TaxEventDisposal, events[0].Kind)
	assert.True(t, events[0].TaxableGain.Equal(decimal.RequireFromString("15")))
}

func TestGenerateUnknownLotReference(t *testing.T) {
	acquired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lot := makeLot(t, "ETH", acquired, "1", "1000", models.EventTypeTrade, "buy")
	link := makeLink(lot, acquired.Add(time.Hour), "1", "1100")

	_, err := NewTaxProcessor(365).Generate([]models.DisposalLink{link}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown lot")
}

func TestNewTaxProcessorDefaultsWindow(t *testing.T) {
	acquired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lot := makeLot(t, "ETH", acquired, "1", "1000", models.EventTypeTrade, "buy")
	link := makeLink(lot, acquired.Add(400*24*time.Hour), "1", "1500")

	events, err := NewTaxProcessor(0).Generate([]models.DisposalLink{link}, []models.AcquisitionLot{lot}, nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}
