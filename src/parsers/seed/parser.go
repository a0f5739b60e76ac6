package seed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
)

// DefaultTimestamp is used for seed rows without an explicit timestamp: far
// enough in the past that seeded history sorts before any imported event and
// always clears the exemption window.
var DefaultTimestamp = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// LoadSeedEvents reads manual acquisition history from a CSV file with
// columns asset_id, wallet_id, quantity and optional timestamp (RFC 3339)
// and price_per_token. A missing file is not an error: seeds are optional.
func LoadSeedEvents(path string) ([]models.SeedEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening seed csv %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("seed csv %s is empty or missing headers", path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading seed csv %s header: %w", path, err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"asset_id", "wallet_id", "quantity"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("seed csv %s missing required column: %s", path, required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var events []models.SeedEvent
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("seed csv %s line %d: %w", path, line, err)
		}

		quantity, err := decimal.NewFromString(field(record, "quantity"))
		if err != nil {
			return nil, fmt.Errorf("seed csv %s line %d: invalid quantity: %w", path, line, err)
		}
		if !quantity.IsPositive() {
			return nil, fmt.Errorf("seed csv %s line %d: seed lot quantity must be positive", path, line)
		}

		timestamp, err := parseTimestamp(firstNonEmpty(field(record, "timestamp"), field(record, "acquired_timestamp")))
		if err != nil {
			return nil, fmt.Errorf("seed csv %s line %d: %w", path, line, err)
		}
		pricePerToken, err := parsePrice(field(record, "price_per_token"))
		if err != nil {
			return nil, fmt.Errorf("seed csv %s line %d: %w", path, line, err)
		}

		leg, err := models.NewLedgerLeg(field(record, "asset_id"), quantity, field(record, "wallet_id"), false)
		if err != nil {
			return nil, fmt.Errorf("seed csv %s line %d: %w", path, line, err)
		}

		events = append(events, models.SeedEvent{
			ID:            uuid.New(),
			Timestamp:     timestamp,
			PricePerToken: pricePerToken,
			Legs:          []models.LedgerLeg{leg},
		})
	}
	return events, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return DefaultTimestamp, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return ts.UTC(), nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid price_per_token %q: %w", raw, err)
	}
	if price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("price_per_token must be >= 0, got %s", raw)
	}
	return price, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
