package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/config"
	"github.com/username/cryptofolio/backend/src/logger"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// PriceUnavailableError reports a rate lookup that could not be answered.
// Inventory and tax computation treat it as fatal for the affected event.
type PriceUnavailableError struct {
	BaseID  string
	QuoteID string
	At      time.Time
	Err     error
}

func (e *PriceUnavailableError) Error() string {
	return fmt.Sprintf("price unavailable for %s/%s at %s: %v",
		e.BaseID, e.QuoteID, e.At.Format(time.RFC3339), e.Err)
}

func (e *PriceUnavailableError) Unwrap() error { return e.Err }

// Structs for the CoinDesk historical index API response.
type coindeskHistoricalResponse struct {
	Data []struct {
		Close float64 `json:"CLOSE"`
	} `json:"Data"`
}

// Structs for the Open Exchange Rates historical API response.
type openExchangeRatesResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

var fiatCurrencyCodes = map[string]struct{}{
	"EUR": {},
	"USD": {},
	"PLN": {},
}

// priceServiceImpl implements PriceService against the CoinDesk index API for
// crypto pairs and Open Exchange Rates for fiat pairs. Lookups are bucketed
// to the hour and cached twice: in-process and in the quote store, so a
// re-run of the pipeline never refetches history it already has.
type priceServiceImpl struct {
	httpClient http.Client
	limiter    *rate.Limiter
	memory     *cache.Cache
	quotes     QuoteStore
	market     string
}

// NewPriceService creates the hybrid price service. The quote store may be
// nil, in which case only the in-process cache is used.
func NewPriceService(quotes QuoteStore) PriceService {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		logger.L.Error("Failed to create cookie jar", "error", err)
	}

	return &priceServiceImpl{
		httpClient: http.Client{
			Jar:     jar,
			Timeout: 20 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 4),
		memory:  cache.New(config.Cfg.PriceCacheTTL, 2*config.Cfg.PriceCacheTTL),
		quotes:  quotes,
		market:  config.Cfg.PriceMarket,
	}
}

func (s *priceServiceImpl) Rate(baseAssetID, quoteAssetID string, at time.Time) (decimal.Decimal, error) {
	if baseAssetID == quoteAssetID {
		return decimal.NewFromInt(1), nil
	}

	bucket := at.UTC().Truncate(time.Hour)
	cacheKey := baseAssetID + "|" + quoteAssetID + "|" + bucket.Format(time.RFC3339)
	if cached, ok := s.memory.Get(cacheKey); ok {
		return cached.(decimal.Decimal), nil
	}
	if s.quotes != nil {
		stored, ok, err := s.quotes.ReadPriceQuote(baseAssetID, quoteAssetID, bucket)
		if err != nil {
			return decimal.Decimal{}, &PriceUnavailableError{BaseID: baseAssetID, QuoteID: quoteAssetID, At: at, Err: err}
		}
		if ok {
			s.memory.Set(cacheKey, stored, cache.DefaultExpiration)
			return stored, nil
		}
	}

	var fetched decimal.Decimal
	var err error
	if _, isFiat := fiatCurrencyCodes[baseAssetID]; isFiat {
		fetched, err = s.fetchFiatRate(baseAssetID, quoteAssetID, bucket)
	} else {
		fetched, err = s.fetchCryptoRate(baseAssetID, quoteAssetID, bucket)
	}
	if err != nil {
		return decimal.Decimal{}, &PriceUnavailableError{BaseID: baseAssetID, QuoteID: quoteAssetID, At: at, Err: err}
	}

	s.memory.Set(cacheKey, fetched, cache.DefaultExpiration)
	if s.quotes != nil {
		if err := s.quotes.WritePriceQuote(baseAssetID, quoteAssetID, bucket, fetched); err != nil {
			logger.L.Warn("Failed to persist price quote", "base", baseAssetID, "quote", quoteAssetID, "error", err)
		}
	}
	return fetched, nil
}

// fetchCryptoRate reads the hourly close for the instrument from the
// CoinDesk index API.
func (s *priceServiceImpl) fetchCryptoRate(baseAssetID, quoteAssetID string, bucket time.Time) (decimal.Decimal, error) {
	if err := s.limiter.Wait(context.Background()); err != nil {
		return decimal.Decimal{}, err
	}

	query := url.Values{}
	query.Set("market", s.market)
	query.Set("instrument", baseAssetID+"-"+quoteAssetID)
	query.Set("to_ts", fmt.Sprintf("%d", bucket.Unix()))
	query.Set("limit", "1")
	query.Set("api_key", config.Cfg.CoinDeskAPIKey)
	endpoint := "https://data-api.coindesk.com/index/cc/v1/historical/hours?" + query.Encode()

	resp, err := s.httpClient.Get(endpoint)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("coindesk request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("coindesk returned status %d", resp.StatusCode)
	}

	var payload coindeskHistoricalResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decoding coindesk response: %w", err)
	}
	if len(payload.Data) == 0 {
		return decimal.Decimal{}, fmt.Errorf("coindesk returned no candles for %s-%s", baseAssetID, quoteAssetID)
	}
	closePrice := payload.Data[len(payload.Data)-1].Close
	if closePrice <= 0 {
		return decimal.Decimal{}, fmt.Errorf("coindesk returned non-positive close %f", closePrice)
	}
	return decimal.NewFromFloat(closePrice), nil
}

// fetchFiatRate converts through the USD-based Open Exchange Rates
// historical table.
func (s *priceServiceImpl) fetchFiatRate(baseAssetID, quoteAssetID string, bucket time.Time) (decimal.Decimal, error) {
	if err := s.limiter.Wait(context.Background()); err != nil {
		return decimal.Decimal{}, err
	}

	query := url.Values{}
	query.Set("app_id", config.Cfg.OpenExchangeRatesAppID)
	query.Set("symbols", baseAssetID+","+quoteAssetID)
	endpoint := fmt.Sprintf("https://openexchangerates.org/api/historical/%s.json?%s",
		bucket.Format("2006-01-02"), query.Encode())

	resp, err := s.httpClient.Get(endpoint)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("open exchange rates request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("open exchange rates returned status %d", resp.StatusCode)
	}

	var payload openExchangeRatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decoding open exchange rates response: %w", err)
	}

	baseRate, ok := payload.Rates[baseAssetID]
	if payload.Base == baseAssetID {
		baseRate, ok = 1, true
	}
	if !ok || baseRate <= 0 {
		return decimal.Decimal{}, fmt.Errorf("no usable rate for %s", baseAssetID)
	}
	quoteRate, ok := payload.Rates[quoteAssetID]
	if payload.Base == quoteAssetID {
		quoteRate, ok = 1, true
	}
	if !ok || quoteRate <= 0 {
		return decimal.Decimal{}, fmt.Errorf("no usable rate for %s", quoteAssetID)
	}

	return decimal.NewFromFloat(quoteRate).Div(decimal.NewFromFloat(baseRate)), nil
}
