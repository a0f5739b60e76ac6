package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/config"
	"github.com/username/cryptofolio/backend/src/logger"
)

type stubQuoteStore struct {
	rates  map[string]decimal.Decimal
	reads  int
	writes int
}

func quoteKey(baseID, quoteID string, bucket time.Time) string {
	return baseID + "|" + quoteID + "|" + bucket.Format(time.RFC3339)
}

func (s *stubQuoteStore) ReadPriceQuote(baseID, quoteID string, bucket time.Time) (decimal.Decimal, bool, error) {
	s.reads++
	rate, ok := s.rates[quoteKey(baseID, quoteID, bucket)]
	return rate, ok, nil
}

func (s *stubQuoteStore) WritePriceQuote(baseID, quoteID string, bucket time.Time, rate decimal.Decimal) error {
	s.writes++
	if s.rates == nil {
		s.rates = map[string]decimal.Decimal{}
	}
	s.rates[quoteKey(baseID, quoteID, bucket)] = rate
	return nil
}

func setupPriceTestConfig(t *testing.T) {
	t.Helper()
	prev := config.Cfg
	config.Cfg = &config.AppConfig{
		LogLevel:      "error",
		PriceMarket:   "cadli",
		PriceCacheTTL: time.Minute,
	}
	if logger.L == nil {
		logger.InitLogger("error")
	}
	t.Cleanup(func() { config.Cfg = prev })
}

func TestRateIdentityPair(t *testing.T) {
	setupPriceTestConfig(t)
	service := NewPriceService(nil)

	rate, err := service.Rate("EUR", "EUR", time.Now())
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestRateServedFromQuoteStore(t *testing.T) {
	setupPriceTestConfig(t)
	at := time.Date(2024, 3, 1, 12, 34, 56, 0, time.UTC)
	bucket := at.Truncate(time.Hour)
	store := &stubQuoteStore{rates: map[string]decimal.Decimal{
		quoteKey("ETH", "EUR", bucket): decimal.RequireFromString("2000"),
	}}
	service := NewPriceService(store)

	rate, err := service.Rate("ETH", "EUR", at)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("2000")))
	assert.Equal(t, 1, store.reads)
}

func TestRateMemoryCacheShortCircuitsStore(t *testing.T) {
	setupPriceTestConfig(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &stubQuoteStore{rates: map[string]decimal.Decimal{
		quoteKey("ETH", "EUR", at): decimal.RequireFromString("2000"),
	}}
	service := NewPriceService(store)

	_, err := service.Rate("ETH", "EUR", at)
	require.NoError(t, err)
	_, err = service.Rate("ETH", "EUR", at.Add(30*time.Minute))
	require.NoError(t, err)

	// Same hour bucket: the second lookup is answered in process.
	assert.Equal(t, 1, store.reads)
}
