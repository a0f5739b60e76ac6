package corrections

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
)

// File shapes for the corrections JSON document. Quantities are decimal
// strings; timestamps are RFC 3339.
type correctionFile struct {
	Spam         []models.EventOrigin `json:"spam"`
	AlreadyTaxed []models.EventOrigin `json:"already_taxed"`
	Links        []linkMarkerFile     `json:"links"`
}

type linkMarkerFile struct {
	Timestamp       time.Time            `json:"timestamp"`
	EventType       models.EventType     `json:"event_type"`
	Legs            []legFile            `json:"legs"`
	ConsumedOrigins []models.EventOrigin `json:"consumed_origins"`
}

type legFile struct {
	AssetID  string          `json:"asset_id"`
	Quantity decimal.Decimal `json:"quantity"`
	WalletID string          `json:"wallet_id"`
	IsFee    bool            `json:"is_fee"`
}

// LoadCorrectionSet reads spam, already-taxed and link markers from a JSON
// file. A missing file yields an empty set: corrections are optional. Seed
// events are loaded separately from the seed CSV and merged by the caller.
func LoadCorrectionSet(path string) (models.CorrectionSet, error) {
	var set models.CorrectionSet
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return set, fmt.Errorf("reading corrections file %s: %w", path, err)
	}

	var file correctionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return set, fmt.Errorf("parsing corrections file %s: %w", path, err)
	}

	set.Spam = file.Spam
	set.AlreadyTaxed = file.AlreadyTaxed
	for i, link := range file.Links {
		legs, err := buildLegs(link.Legs)
		if err != nil {
			return models.CorrectionSet{}, fmt.Errorf("corrections file %s, link %d: %w", path, i, err)
		}
		if len(link.ConsumedOrigins) < 2 {
			return models.CorrectionSet{}, fmt.Errorf("corrections file %s, link %d: a link must consume at least two origins", path, i)
		}
		set.Links = append(set.Links, models.LinkMarker{
			ID:              uuid.New(),
			Timestamp:       link.Timestamp.UTC(),
			EventType:       link.EventType,
			Legs:            legs,
			ConsumedOrigins: link.ConsumedOrigins,
		})
	}
	return set, nil
}

func buildLegs(fileLegs []legFile) ([]models.LedgerLeg, error) {
	legs := make([]models.LedgerLeg, 0, len(fileLegs))
	for _, fl := range fileLegs {
		leg, err := models.NewLedgerLeg(fl.AssetID, fl.Quantity, fl.WalletID, fl.IsFee)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	return legs, nil
}
