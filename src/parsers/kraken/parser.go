package kraken

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
)

const (
	// Ingestion tag stamped on every imported event.
	Ingestion = "kraken_ledger_csv"

	// WalletID is the single wallet all Kraken-side legs book against;
	// Kraken's internal spot/earn sub-wallets are not modelled.
	WalletID = "kraken"

	// OutsideWalletID is the counterparty wallet for deposits and
	// withdrawals crossing the exchange boundary.
	OutsideWalletID = "outside"

	timeLayout = "2006-01-02 15:04:05"

	// Staking moves (spot -> staking and back) show up as two transfer rows
	// that can be hours apart; pairs within this window are internal moves
	// and are dropped before event building.
	stakingMovePairWindow = 48 * time.Hour
)

var fiatAssets = map[string]struct{}{
	"EUR": {},
	"USD": {},
	"PLN": {},
}

// Kraken's legacy X/Z-prefixed symbols, mapped before the suffix rules.
var assetAliases = map[string]string{
	"XXBT": "BTC",
	"XBT":  "BTC",
	"XETH": "ETH",
	"ZEUR": "EUR",
	"ZUSD": "USD",
}

// LedgerEntry is one row of a Kraken ledger export.
type LedgerEntry struct {
	TxID    string
	RefID   string
	Time    time.Time
	Type    string
	Subtype string
	AClass  string
	Asset   string
	Wallet  string
	Amount  decimal.Decimal
	Fee     decimal.Decimal
	Balance decimal.Decimal
}

// Parser imports a Kraken ledger CSV export as raw ledger events.
type Parser struct {
	path string
}

func NewParser(path string) *Parser {
	return &Parser{path: path}
}

// LoadEvents parses the export, drops internal staking/earn moves, merges
// trade rows sharing a refid into single TRADE events, and returns the
// events sorted by timestamp. Unknown row types are an error, not a skip:
// a silently dropped row would understate balances downstream.
func (p *Parser) LoadEvents() ([]models.LedgerEvent, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("opening kraken ledger csv %s: %w", p.path, err)
	}
	defer file.Close()

	entries, err := readEntries(file)
	if err != nil {
		return nil, fmt.Errorf("reading kraken ledger csv %s: %w", p.path, err)
	}

	entries = preprocessEntries(entries)

	events, err := buildEvents(entries)
	if err != nil {
		return nil, fmt.Errorf("kraken ledger csv %s: %w", p.path, err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func readEntries(r io.Reader) ([]LedgerEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"txid", "refid", "time", "type", "asset", "amount", "fee"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var entries []LedgerEntry
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := time.ParseInLocation(timeLayout, field(record, "time"), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid time %q: %w", line, field(record, "time"), err)
		}
		amount, err := decimal.NewFromString(field(record, "amount"))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid amount %q: %w", line, field(record, "amount"), err)
		}
		fee := decimal.Zero
		if raw := field(record, "fee"); raw != "" {
			fee, err = decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid fee %q: %w", line, raw, err)
			}
		}
		balance := decimal.Zero
		if raw := field(record, "balance"); raw != "" {
			balance, err = decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid balance %q: %w", line, raw, err)
			}
		}

		entries = append(entries, LedgerEntry{
			TxID:    field(record, "txid"),
			RefID:   field(record, "refid"),
			Time:    ts,
			Type:    strings.ToLower(field(record, "type")),
			Subtype: strings.ToLower(field(record, "subtype")),
			AClass:  field(record, "aclass"),
			Asset:   normalizeAsset(field(record, "asset")),
			Wallet:  field(record, "wallet"),
			Amount:  amount,
			Fee:     fee,
			Balance: balance,
		})
	}
	return entries, nil
}

// normalizeAsset maps Kraken symbols to canonical asset ids: alias table
// first, then the staking suffix (everything from the first dot) and version
// digits are stripped, so DOT28.S and ETH2.S become DOT and ETH.
func normalizeAsset(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if alias, ok := assetAliases[symbol]; ok {
		return alias
	}
	if dot := strings.IndexByte(symbol, '.'); dot >= 0 {
		symbol = symbol[:dot]
	}
	symbol = strings.TrimRight(symbol, "0123456789")
	if alias, ok := assetAliases[symbol]; ok {
		return alias
	}
	return symbol
}

func isStakingMoveOut(e LedgerEntry) bool {
	return e.Type == "transfer" && (e.Subtype == "spottostaking" || e.Subtype == "stakingtospot")
}

func isStakingMoveIn(e LedgerEntry) bool {
	return e.Type == "transfer" && (e.Subtype == "stakingfromspot" || e.Subtype == "spotfromstaking")
}

// preprocessEntries drops matched staking move pairs: an outgoing and an
// incoming transfer row for the same asset and absolute amount within the
// pairing window. Both rows describe a single internal move that neither
// changes the overall balance nor touches lots. Unmatched rows are kept and
// surface later as unsupported, which is preferable to guessing.
func preprocessEntries(entries []LedgerEntry) []LedgerEntry {
	matched := make(map[int]bool)
	for i, out := range entries {
		if matched[i] || !isStakingMoveOut(out) || !out.Amount.IsNegative() {
			continue
		}
		for j, in := range entries {
			if i == j || matched[j] || !isStakingMoveIn(in) || !in.Amount.IsPositive() {
				continue
			}
			if in.Asset != out.Asset || !in.Amount.Equal(out.Amount.Neg()) {
				continue
			}
			gap := in.Time.Sub(out.Time)
			if gap < 0 {
				gap = -gap
			}
			if gap > stakingMovePairWindow {
				continue
			}
			matched[i] = true
			matched[j] = true
			break
		}
	}

	var kept []LedgerEntry
	for i, entry := range entries {
		if !matched[i] {
			kept = append(kept, entry)
		}
	}
	return kept
}

func buildEvents(entries []LedgerEntry) ([]models.LedgerEvent, error) {
	// Trade legs arrive as one row per asset sharing a refid.
	tradeGroups := make(map[string][]LedgerEntry)
	var tradeOrder []string
	var singles []LedgerEntry
	for _, entry := range entries {
		switch entry.Type {
		case "trade", "spend", "receive":
			if _, ok := tradeGroups[entry.RefID]; !ok {
				tradeOrder = append(tradeOrder, entry.RefID)
			}
			tradeGroups[entry.RefID] = append(tradeGroups[entry.RefID], entry)
		case "earn":
			switch entry.Subtype {
			case "reward":
				singles = append(singles, entry)
			case "allocation", "deallocation", "migration":
				// Internal moves between Kraken earn sub-wallets.
				continue
			default:
				return nil, fmt.Errorf("row %s: unsupported earn subtype %q", entry.TxID, entry.Subtype)
			}
		default:
			singles = append(singles, entry)
		}
	}

	var events []models.LedgerEvent
	for _, refID := range tradeOrder {
		event, err := buildTradeEvent(tradeGroups[refID])
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	for _, entry := range singles {
		event, err := buildSingleEvent(entry)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func buildTradeEvent(group []LedgerEntry) (models.LedgerEvent, error) {
	legs := make([]models.LedgerLeg, 0, len(group))
	timestamp := group[0].Time
	for _, entry := range group {
		if entry.Time.Before(timestamp) {
			timestamp = entry.Time
		}
		leg, err := models.NewLedgerLeg(entry.Asset, entry.Amount.Sub(entry.Fee), WalletID, false)
		if err != nil {
			return models.LedgerEvent{}, fmt.Errorf("trade %s: %w", entry.RefID, err)
		}
		legs = append(legs, leg)
	}
	origin := models.EventOrigin{Location: models.LocationKraken, ExternalID: group[0].RefID}
	return models.NewLedgerEvent(timestamp, origin, Ingestion, models.EventTypeTrade, legs)
}

func buildSingleEvent(entry LedgerEntry) (models.LedgerEvent, error) {
	origin := models.EventOrigin{Location: models.LocationKraken, ExternalID: entry.RefID}
	_, isFiat := fiatAssets[entry.Asset]

	switch entry.Type {
	case "deposit":
		outsideLeg, err := models.NewLedgerLeg(entry.Asset, entry.Amount.Neg(), OutsideWalletID, false)
		if err != nil {
			return models.LedgerEvent{}, fmt.Errorf("deposit %s: %w", entry.RefID, err)
		}
		krakenLeg, err := models.NewLedgerLeg(entry.Asset, entry.Amount.Sub(entry.Fee), WalletID, false)
		if err != nil {
			return models.LedgerEvent{}, fmt.Errorf("deposit %s: %w", entry.RefID, err)
		}
		eventType := models.EventTypeTransfer
		if isFiat {
			eventType = models.EventTypeDeposit
		}
		return models.NewLedgerEvent(entry.Time, origin, Ingestion, eventType, []models.LedgerLeg{outsideLeg, krakenLeg})

	case "withdrawal":
		krakenLeg, err := models.NewLedgerLeg(entry.Asset, entry.Amount.Sub(entry.Fee), WalletID, false)
		if err != nil {
			return models.LedgerEvent{}, fmt.Errorf("withdrawal %s: %w", entry.RefID, err)
		}
		outsideLeg, err := models.NewLedgerLeg(entry.Asset, entry.Amount.Abs(), OutsideWalletID, false)
		if err != nil {
			return models.LedgerEvent{}, fmt.Errorf("withdrawal %s: %w", entry.RefID, err)
		}
		eventType := models.EventTypeTransfer
		if isFiat {
			eventType = models.EventTypeWithdrawal
		}
		return models.NewLedgerEvent(entry.Time, origin, Ingestion, eventType, []models.LedgerLeg{krakenLeg, outsideLeg})

	case "staking", "earn":
		leg, err := models.NewLedgerLeg(entry.Asset, entry.Amount.Sub(entry.Fee), WalletID, false)
		if err != nil {
			return models.LedgerEvent{}, fmt.Errorf("reward %s: %w", entry.RefID, err)
		}
		return models.NewLedgerEvent(entry.Time, origin, Ingestion, models.EventTypeReward, []models.LedgerLeg{leg})

	case "transfer":
		// Futures settlements and unmatched staking moves arrive as one-sided
		// transfers. Fee handling for these rows is not specified by the
		// export format we rely on, so a non-zero fee is rejected.
		if !entry.Fee.IsZero() {
			return models.LedgerEvent{}, fmt.Errorf("transfer %s (%s): non-zero fee on one-sided transfer is unsupported", entry.RefID, entry.Subtype)
		}
		leg, err := models.NewLedgerLeg(entry.Asset, entry.Amount, WalletID, false)
		if err != nil {
			return models.LedgerEvent{}, fmt.Errorf("transfer %s: %w", entry.RefID, err)
		}
		return models.NewLedgerEvent(entry.Time, origin, Ingestion, models.EventTypeTransfer, []models.LedgerLeg{leg})

	default:
		return models.LedgerEvent{}, fmt.Errorf("row %s: unsupported ledger entry type %q", entry.TxID, entry.Type)
	}
}
