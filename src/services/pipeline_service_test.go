package services

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/corrections"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/parsers"
)

type stubPriceService struct {
	rates map[string]decimal.Decimal
}

func (s *stubPriceService) Rate(baseAssetID, quoteAssetID string, at time.Time) (decimal.Decimal, error) {
	if baseAssetID == quoteAssetID {
		return decimal.NewFromInt(1), nil
	}
	if rate, ok := s.rates[baseAssetID+"/"+quoteAssetID]; ok {
		return rate, nil
	}
	return decimal.Decimal{}, fmt.Errorf("no rate for %s/%s", baseAssetID, quoteAssetID)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestPipelineRunEndToEnd(t *testing.T) {
	if logger.L == nil {
		logger.InitLogger("error")
	}
	dir := t.TempDir()

	ledgerPath := writeFile(t, dir, "ledger.csv",
		"txid,refid,time,type,subtype,aclass,asset,wallet,amount,fee,balance\n"+
			"D1,DEP-1,2024-01-01 10:00:00,deposit,,currency,ZEUR,spot / main,10000,0,10000\n"+
			"T1,TRADE-1,2024-01-02 10:00:00,trade,,currency,ZEUR,spot / main,-2000,0,8000\n"+
			"T2,TRADE-1,2024-01-02 10:00:00,trade,,currency,XETH,spot / main,1,0,1\n"+
			"R1,RW-1,2024-01-03 10:00:00,staking,,currency,DOT28.S,spot / main,10,0,10\n"+
			"T3,TRADE-2,2024-06-01 10:00:00,trade,,currency,XETH,spot / main,-0.5,0,0.5\n"+
			"T4,TRADE-2,2024-06-01 10:00:00,trade,,currency,ZEUR,spot / main,1500,0,9500\n")
	// The fiat deposit's counterparty leg needs seeded outside history; the
	// BTC row is ordinary pre-exchange holdings.
	seedPath := writeFile(t, dir, "seed_lots.csv",
		"asset_id,wallet_id,quantity,timestamp,price_per_token\n"+
			"EUR,outside,10000,2020-01-01T00:00:00Z,1\n"+
			"BTC,cold-wallet,0.2,2020-01-01T00:00:00Z,7000\n")
	correctionsPath := writeFile(t, dir, "corrections.json",
		`{"already_taxed": [{"location": "KRAKEN", "external_id": "RW-1"}]}`)

	importer, err := parsers.GetImporter("kraken", ledgerPath)
	require.NoError(t, err)
	prices := &stubPriceService{rates: map[string]decimal.Decimal{
		"DOT/EUR": decimal.RequireFromString("6"),
	}}

	service := NewPipelineService(
		[]parsers.Importer{importer},
		correctionsPath,
		seedPath,
		prices,
		nil,
		365,
	)

	result, err := service.Run()
	require.NoError(t, err)

	// Deposit, trade, reward, trade from the ledger.
	assert.Len(t, result.RawEvents, 4)
	// Raw events plus the two seeds.
	assert.Len(t, result.EffectiveEvents, 6)
	require.Len(t, result.Audit, 4)
	for _, entry := range result.Audit {
		assert.Equal(t, corrections.DispositionKept, entry.Disposition)
	}

	// Seeded BTC lot carries the manual price.
	var btcLot *models.AcquisitionLot
	for i := range result.Inventory.Lots {
		if result.Inventory.Lots[i].AssetID == "BTC" {
			btcLot = &result.Inventory.Lots[i]
		}
	}
	require.NotNil(t, btcLot)
	assert.True(t, btcLot.CostPerUnit.Equal(decimal.RequireFromString("7000")))

	// The ETH sale stays inside the exemption window and gains 500 over its
	// 2000 EUR cost basis; the EUR churn nets to zero gain. The DOT reward is
	// marked already taxed and seeded lots are backfill, so no REWARD events.
	disposalGain := decimal.Zero
	for _, te := range result.TaxEvents {
		require.Equal(t, models.TaxEventDisposal, te.Kind)
		disposalGain = disposalGain.Add(te.TaxableGain)
	}
	assert.True(t, disposalGain.Equal(decimal.RequireFromString("500")), "total disposal gain: %s", disposalGain)
}
