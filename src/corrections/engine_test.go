package corrections

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/models"
)

func mustLeg(t *testing.T, assetID, quantity, walletID string, isFee bool) models.LedgerLeg {
	t.Helper()
	leg, err := models.NewLedgerLeg(assetID, decimal.RequireFromString(quantity), walletID, isFee)
	require.NoError(t, err)
	return leg
}

func mustEvent(t *testing.T, ts time.Time, externalID string, eventType models.EventType, legs ...models.LedgerLeg) models.LedgerEvent {
	t.Helper()
	origin := models.EventOrigin{Location: models.LocationEthereum, ExternalID: externalID}
	event, err := models.NewLedgerEvent(ts, origin, "test_fixture", eventType, legs)
	require.NoError(t, err)
	return event
}

func TestApplyKeepsUntouchedEvents(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := []models.LedgerEvent{
		mustEvent(t, ts, "tx-1", models.EventTypeTrade,
			mustLeg(t, "ETH", "-1", "wallet-a", false),
			mustLeg(t, "EUR", "3000", "wallet-a", false)),
	}

	effective, audit, err := NewEngine().Apply(raw, models.CorrectionSet{})
	require.NoError(t, err)

	require.Len(t, effective, 1)
	assert.Equal(t, raw[0].ID, effective[0].ID)
	require.Len(t, audit, 1)
	assert.Equal(t, DispositionKept, audit[0].Disposition)
	assert.Equal(t, uuid.Nil, audit[0].LinkedInto)
}

func TestApplySpamExcludesEvent(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	spamOrigin := models.EventOrigin{Location: models.LocationEthereum, ExternalID: "tx-spam"}
	raw := []models.LedgerEvent{
		mustEvent(t, ts, "tx-keep", models.EventTypeReward, mustLeg(t, "ETH", "1", "wallet-a", false)),
		mustEvent(t, ts.Add(time.Hour), "tx-spam", models.EventTypeReward, mustLeg(t, "SCAM", "99999", "wallet-a", false)),
	}

	effective, audit, err := NewEngine().Apply(raw, models.CorrectionSet{Spam: []models.EventOrigin{spamOrigin}})
	require.NoError(t, err)

	require.Len(t, effective, 1)
	assert.Equal(t, "tx-keep", effective[0].Origin.ExternalID)
	require.Len(t, audit, 2)
	assert.Equal(t, DispositionKept, audit[0].Disposition)
	assert.Equal(t, DispositionIgnored, audit[1].Disposition)
}

func TestApplyLinkReplacesConsumedEvents(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := []models.LedgerEvent{
		mustEvent(t, ts, "tx-out", models.EventTypeWithdrawal, mustLeg(t, "ETH", "-1", "wallet-a", false)),
		mustEvent(t, ts.Add(10*time.Minute), "tx-in", models.EventTypeDeposit, mustLeg(t, "ETH", "0.99", "wallet-b", false)),
	}
	link := models.LinkMarker{
		ID:        uuid.New(),
		Timestamp: ts,
		EventType: models.EventTypeTransfer,
		Legs: []models.LedgerLeg{
			mustLeg(t, "ETH", "-1", "wallet-a", false),
			mustLeg(t, "ETH", "0.99", "wallet-b", false),
			mustLeg(t, "ETH", "-0.01", "wallet-a", true),
		},
		ConsumedOrigins: []models.EventOrigin{raw[0].Origin, raw[1].Origin},
	}

	effective, audit, err := NewEngine().Apply(raw, models.CorrectionSet{Links: []models.LinkMarker{link}})
	require.NoError(t, err)

	require.Len(t, effective, 1)
	derived := effective[0]
	assert.Equal(t, models.LocationInternal, derived.Origin.Location)
	assert.Equal(t, "link:"+link.ID.String(), derived.Origin.ExternalID)
	assert.Equal(t, models.EventTypeTransfer, derived.EventType)
	assert.Equal(t, "correction", derived.Ingestion)
	require.Len(t, audit, 2)
	for _, entry := range audit {
		assert.Equal(t, DispositionLinked, entry.Disposition)
		assert.Equal(t, derived.ID, entry.LinkedInto)
	}
}

func TestApplyIsDeterministicAndIdempotent(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := []models.LedgerEvent{
		mustEvent(t, ts, "tx-out", models.EventTypeWithdrawal, mustLeg(t, "ETH", "-1", "wallet-a", false)),
		mustEvent(t, ts.Add(time.Minute), "tx-in", models.EventTypeDeposit, mustLeg(t, "ETH", "1", "wallet-b", false)),
	}
	set := models.CorrectionSet{
		Links: []models.LinkMarker{{
			ID:        uuid.New(),
			Timestamp: ts,
			EventType: models.EventTypeTransfer,
			Legs: []models.LedgerLeg{
				mustLeg(t, "ETH", "-1", "wallet-a", false),
				mustLeg(t, "ETH", "1", "wallet-b", false),
			},
			ConsumedOrigins: []models.EventOrigin{raw[0].Origin, raw[1].Origin},
		}},
	}

	first, _, err := NewEngine().Apply(raw, set)
	require.NoError(t, err)
	second, _, err := NewEngine().Apply(raw, set)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Origin, second[i].Origin)
	}
}

func TestApplyUnknownOrigin(t *testing.T) {
	raw := []models.LedgerEvent{
		mustEvent(t, time.Now(), "tx-1", models.EventTypeReward, mustLeg(t, "ETH", "1", "wallet-a", false)),
	}
	ghost := models.EventOrigin{Location: models.LocationKraken, ExternalID: "no-such-tx"}

	for _, set := range []models.CorrectionSet{
		{Spam: []models.EventOrigin{ghost}},
		{AlreadyTaxed: []models.EventOrigin{ghost}},
		{Links: []models.LinkMarker{{
			ID:              uuid.New(),
			Timestamp:       time.Now(),
			EventType:       models.EventTypeTransfer,
			Legs:            []models.LedgerLeg{mustLeg(t, "ETH", "1", "wallet-a", false)},
			ConsumedOrigins: []models.EventOrigin{raw[0].Origin, ghost},
		}}},
	} {
		_, _, err := NewEngine().Apply(raw, set)
		var unknown *UnknownOriginError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, ghost, unknown.Origin)
	}
}

func TestApplyConflictingCorrections(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := []models.LedgerEvent{
		mustEvent(t, ts, "tx-1", models.EventTypeWithdrawal, mustLeg(t, "ETH", "-1", "wallet-a", false)),
		mustEvent(t, ts, "tx-2", models.EventTypeDeposit, mustLeg(t, "ETH", "1", "wallet-b", false)),
		mustEvent(t, ts, "tx-3", models.EventTypeDeposit, mustLeg(t, "ETH", "1", "wallet-c", false)),
	}
	makeLink := func(origins ...models.EventOrigin) models.LinkMarker {
		return models.LinkMarker{
			ID:        uuid.New(),
			Timestamp: ts,
			EventType: models.EventTypeTransfer,
			Legs: []models.LedgerLeg{
				mustLeg(t, "ETH", "-1", "wallet-a", false),
				mustLeg(t, "ETH", "1", "wallet-b", false),
			},
			ConsumedOrigins: origins,
		}
	}

	t.Run("spam and link on same origin", func(t *testing.T) {
		set := models.CorrectionSet{
			Spam:  []models.EventOrigin{raw[0].Origin},
			Links: []models.LinkMarker{makeLink(raw[0].Origin, raw[1].Origin)},
		}
		_, _, err := NewEngine().Apply(raw, set)
		var conflict *ConflictingCorrectionError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, raw[0].Origin, conflict.Origin)
	})

	t.Run("origin consumed by two links", func(t *testing.T) {
		set := models.CorrectionSet{
			Links: []models.LinkMarker{
				makeLink(raw[0].Origin, raw[1].Origin),
				makeLink(raw[0].Origin, raw[2].Origin),
			},
		}
		_, _, err := NewEngine().Apply(raw, set)
		var conflict *ConflictingCorrectionError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, raw[0].Origin, conflict.Origin)
	})
}

func TestApplySeedMaterializedAsReward(t *testing.T) {
	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	raw := []models.LedgerEvent{
		mustEvent(t, ts, "tx-1", models.EventTypeTrade, mustLeg(t, "EUR", "100", "wallet-a", false)),
	}
	seed := models.SeedEvent{
		ID:            uuid.New(),
		Timestamp:     ts.Add(-24 * time.Hour),
		PricePerToken: decimal.RequireFromString("1500"),
		Legs:          []models.LedgerLeg{mustLeg(t, "ETH", "2", "wallet-a", false)},
	}

	effective, _, err := NewEngine().Apply(raw, models.CorrectionSet{Seeds: []models.SeedEvent{seed}})
	require.NoError(t, err)

	require.Len(t, effective, 2)
	derived := effective[0]
	assert.Equal(t, models.EventTypeReward, derived.EventType)
	assert.Equal(t, "seed_csv", derived.Ingestion)
	assert.Equal(t, SeedOrigin(seed), derived.Origin)
}

func TestApplySortsByTimestampWithStableTies(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := []models.LedgerEvent{
		mustEvent(t, base.Add(time.Hour), "tx-later", models.EventTypeReward, mustLeg(t, "ETH", "1", "wallet-a", false)),
		mustEvent(t, base, "tx-a", models.EventTypeReward, mustLeg(t, "ETH", "1", "wallet-a", false)),
		mustEvent(t, base, "tx-b", models.EventTypeReward, mustLeg(t, "ETH", "1", "wallet-a", false)),
	}

	effective, _, err := NewEngine().Apply(raw, models.CorrectionSet{})
	require.NoError(t, err)

	require.Len(t, effective, 3)
	assert.Equal(t, "tx-a", effective[0].Origin.ExternalID)
	assert.Equal(t, "tx-b", effective[1].Origin.ExternalID)
	assert.Equal(t, "tx-later", effective[2].Origin.ExternalID)
}

func TestApplyCustomTieBreak(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := []models.LedgerEvent{
		mustEvent(t, base, "tx-raw", models.EventTypeReward, mustLeg(t, "ETH", "1", "wallet-a", false)),
	}
	seed := models.SeedEvent{
		ID:        uuid.New(),
		Timestamp: base,
		Legs:      []models.LedgerLeg{mustLeg(t, "ETH", "5", "wallet-a", false)},
	}

	// Derived events first on equal timestamps.
	engine := NewEngine(WithTieBreak(func(a, b models.LedgerEvent) bool {
		return a.Origin.Location == models.LocationInternal && b.Origin.Location != models.LocationInternal
	}))
	effective, _, err := engine.Apply(raw, models.CorrectionSet{Seeds: []models.SeedEvent{seed}})
	require.NoError(t, err)

	require.Len(t, effective, 2)
	assert.Equal(t, models.LocationInternal, effective[0].Origin.Location)
	assert.Equal(t, "tx-raw", effective[1].Origin.ExternalID)
}

func TestSeedCostBases(t *testing.T) {
	priced := models.SeedEvent{
		ID:            uuid.New(),
		Timestamp:     time.Now(),
		PricePerToken: decimal.RequireFromString("42.5"),
		Legs:          []models.LedgerLeg{mustLeg(t, "ETH", "1", "wallet-a", false)},
	}
	unpriced := models.SeedEvent{
		ID:        uuid.New(),
		Timestamp: time.Now(),
		Legs:      []models.LedgerLeg{mustLeg(t, "BTC", "1", "wallet-a", false)},
	}

	bases := SeedCostBases([]models.SeedEvent{priced, unpriced})

	require.Len(t, bases, 1)
	assert.True(t, bases[SeedOrigin(priced).Key()].Equal(decimal.RequireFromString("42.5")))
}
