package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/corrections"
	"github.com/username/cryptofolio/backend/src/models"
)

const timestampLayout = time.RFC3339Nano

// Store persists and reads back the pipeline artifacts. Every Replace method
// swaps the whole table inside one transaction: a pipeline run is atomic and
// the stored artifacts always describe exactly one run.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ReplaceRawEvents(events []models.LedgerEvent) error {
	return s.replaceEvents("raw_events", "raw_event_legs", events)
}

func (s *Store) ListRawEvents() ([]models.LedgerEvent, error) {
	return s.listEvents("raw_events", "raw_event_legs", "timestamp ASC, id ASC")
}

func (s *Store) ReplaceEffectiveEvents(events []models.LedgerEvent) error {
	return s.replaceEvents("effective_events", "effective_event_legs", events)
}

// ListEffectiveEvents returns the effective stream in its stored pipeline
// order, not re-sorted: the correction engine's ordering is authoritative.
func (s *Store) ListEffectiveEvents() ([]models.LedgerEvent, error) {
	return s.listEvents("effective_events", "effective_event_legs", "position ASC")
}

func (s *Store) replaceEvents(eventTable, legTable string, events []models.LedgerEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM " + legTable); err != nil {
		return fmt.Errorf("clearing %s: %w", legTable, err)
	}
	if _, err := tx.Exec("DELETE FROM " + eventTable); err != nil {
		return fmt.Errorf("clearing %s: %w", eventTable, err)
	}

	eventStmt := "INSERT INTO " + eventTable + ` (id, timestamp, origin_location, origin_external_id, ingestion, event_type`
	if eventTable == "effective_events" {
		eventStmt += ", position) VALUES (?, ?, ?, ?, ?, ?, ?)"
	} else {
		eventStmt += ") VALUES (?, ?, ?, ?, ?, ?)"
	}
	legStmt := "INSERT INTO " + legTable + ` (id, event_id, leg_index, asset_id, quantity, wallet_id, is_fee)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	for position, event := range events {
		args := []any{
			event.ID.String(),
			event.Timestamp.UTC().Format(timestampLayout),
			string(event.Origin.Location),
			event.Origin.ExternalID,
			event.Ingestion,
			string(event.EventType),
		}
		if eventTable == "effective_events" {
			args = append(args, position)
		}
		if _, err := tx.Exec(eventStmt, args...); err != nil {
			return fmt.Errorf("inserting into %s: %w", eventTable, err)
		}
		for i, leg := range event.Legs {
			if _, err := tx.Exec(legStmt,
				leg.ID.String(), event.ID.String(), i, leg.AssetID,
				leg.Quantity.String(), leg.WalletID, boolToInt(leg.IsFee)); err != nil {
				return fmt.Errorf("inserting into %s: %w", legTable, err)
			}
		}
	}
	return tx.Commit()
}

func (s *Store) listEvents(eventTable, legTable, order string) ([]models.LedgerEvent, error) {
	rows, err := s.db.Query(
		"SELECT id, timestamp, origin_location, origin_external_id, ingestion, event_type FROM " +
			eventTable + " ORDER BY " + order)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", eventTable, err)
	}
	defer rows.Close()

	var events []models.LedgerEvent
	index := make(map[string]int)
	for rows.Next() {
		var id, ts, location, externalID, ingestion, eventType string
		if err := rows.Scan(&id, &ts, &location, &externalID, &ingestion, &eventType); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", eventTable, err)
		}
		eventID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing event id %q: %w", id, err)
		}
		timestamp, err := time.Parse(timestampLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", ts, err)
		}
		index[id] = len(events)
		events = append(events, models.LedgerEvent{
			ID:        eventID,
			Timestamp: timestamp,
			Origin:    models.EventOrigin{Location: models.EventLocation(location), ExternalID: externalID},
			Ingestion: ingestion,
			EventType: models.EventType(eventType),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", eventTable, err)
	}

	legRows, err := s.db.Query(
		"SELECT id, event_id, asset_id, quantity, wallet_id, is_fee FROM " +
			legTable + " ORDER BY event_id, leg_index")
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", legTable, err)
	}
	defer legRows.Close()

	for legRows.Next() {
		var id, eventID, assetID, quantity, walletID string
		var isFee int
		if err := legRows.Scan(&id, &eventID, &assetID, &quantity, &walletID, &isFee); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", legTable, err)
		}
		legID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing leg id %q: %w", id, err)
		}
		qty, err := decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("parsing leg quantity %q: %w", quantity, err)
		}
		i, ok := index[eventID]
		if !ok {
			return nil, fmt.Errorf("leg %s references unknown event %s", id, eventID)
		}
		events[i].Legs = append(events[i].Legs, models.LedgerLeg{
			ID:       legID,
			AssetID:  assetID,
			Quantity: qty,
			WalletID: walletID,
			IsFee:    isFee != 0,
		})
	}
	if err := legRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", legTable, err)
	}
	return events, nil
}

func (s *Store) ReplaceAuditEntries(entries []corrections.AuditEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM correction_audit"); err != nil {
		return fmt.Errorf("clearing correction_audit: %w", err)
	}
	for _, entry := range entries {
		linkedInto := ""
		if entry.LinkedInto != uuid.Nil {
			linkedInto = entry.LinkedInto.String()
		}
		if _, err := tx.Exec(
			`INSERT INTO correction_audit (origin_location, origin_external_id, disposition, linked_into)
			 VALUES (?, ?, ?, ?)`,
			string(entry.Origin.Location), entry.Origin.ExternalID, string(entry.Disposition), linkedInto); err != nil {
			return fmt.Errorf("inserting correction_audit: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListAuditEntries() ([]corrections.AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT origin_location, origin_external_id, disposition, linked_into
		 FROM correction_audit ORDER BY origin_location, origin_external_id`)
	if err != nil {
		return nil, fmt.Errorf("querying correction_audit: %w", err)
	}
	defer rows.Close()

	var entries []corrections.AuditEntry
	for rows.Next() {
		var location, externalID, disposition, linkedInto string
		if err := rows.Scan(&location, &externalID, &disposition, &linkedInto); err != nil {
			return nil, fmt.Errorf("scanning correction_audit: %w", err)
		}
		entry := corrections.AuditEntry{
			Origin:      models.EventOrigin{Location: models.EventLocation(location), ExternalID: externalID},
			Disposition: corrections.Disposition(disposition),
		}
		if linkedInto != "" {
			id, err := uuid.Parse(linkedInto)
			if err != nil {
				return nil, fmt.Errorf("parsing linked_into %q: %w", linkedInto, err)
			}
			entry.LinkedInto = id
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) ReplaceAcquisitionLots(lots []models.AcquisitionLot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM acquisition_lots"); err != nil {
		return fmt.Errorf("clearing acquisition_lots: %w", err)
	}
	for _, lot := range lots {
		if _, err := tx.Exec(
			`INSERT INTO acquisition_lots (id, acquired_leg_id, asset_id, acquired_timestamp,
			 acquired_quantity, cost_per_unit, event_type, origin_location, origin_external_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			lot.ID.String(), lot.AcquiredLegID.String(), lot.AssetID,
			lot.AcquiredTimestamp.UTC().Format(timestampLayout),
			lot.AcquiredQuantity.String(), lot.CostPerUnit.String(),
			string(lot.EventType), string(lot.EventOrigin.Location), lot.EventOrigin.ExternalID); err != nil {
			return fmt.Errorf("inserting acquisition_lots: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListAcquisitionLots() ([]models.AcquisitionLot, error) {
	rows, err := s.db.Query(
		`SELECT id, acquired_leg_id, asset_id, acquired_timestamp, acquired_quantity,
		 cost_per_unit, event_type, origin_location, origin_external_id
		 FROM acquisition_lots ORDER BY acquired_timestamp ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying acquisition_lots: %w", err)
	}
	defer rows.Close()

	var lots []models.AcquisitionLot
	for rows.Next() {
		var id, legID, assetID, ts, quantity, cost, eventType, location, externalID string
		if err := rows.Scan(&id, &legID, &assetID, &ts, &quantity, &cost, &eventType, &location, &externalID); err != nil {
			return nil, fmt.Errorf("scanning acquisition_lots: %w", err)
		}
		lot, err := buildLot(id, legID, assetID, ts, quantity, cost, eventType, location, externalID)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func buildLot(id, legID, assetID, ts, quantity, cost, eventType, location, externalID string) (models.AcquisitionLot, error) {
	lotID, err := uuid.Parse(id)
	if err != nil {
		return models.AcquisitionLot{}, fmt.Errorf("parsing lot id %q: %w", id, err)
	}
	acquiredLegID, err := uuid.Parse(legID)
	if err != nil {
		return models.AcquisitionLot{}, fmt.Errorf("parsing lot leg id %q: %w", legID, err)
	}
	timestamp, err := time.Parse(timestampLayout, ts)
	if err != nil {
		return models.AcquisitionLot{}, fmt.Errorf("parsing lot timestamp %q: %w", ts, err)
	}
	qty, err := decimal.NewFromString(quantity)
	if err != nil {
		return models.AcquisitionLot{}, fmt.Errorf("parsing lot quantity %q: %w", quantity, err)
	}
	costPerUnit, err := decimal.NewFromString(cost)
	if err != nil {
		return models.AcquisitionLot{}, fmt.Errorf("parsing lot cost %q: %w", cost, err)
	}
	return models.AcquisitionLot{
		ID:                lotID,
		AcquiredLegID:     acquiredLegID,
		AssetID:           assetID,
		AcquiredTimestamp: timestamp,
		AcquiredQuantity:  qty,
		CostPerUnit:       costPerUnit,
		EventType:         models.EventType(eventType),
		EventOrigin:       models.EventOrigin{Location: models.EventLocation(location), ExternalID: externalID},
	}, nil
}

func (s *Store) ReplaceDisposalLinks(links []models.DisposalLink) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM disposal_links"); err != nil {
		return fmt.Errorf("clearing disposal_links: %w", err)
	}
	for _, link := range links {
		if _, err := tx.Exec(
			`INSERT INTO disposal_links (id, disposal_leg_id, lot_id, quantity_used,
			 proceeds_total, disposed_at, origin_location, origin_external_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			link.ID.String(), link.DisposalLegID.String(), link.LotID.String(),
			link.QuantityUsed.String(), link.ProceedsTotal.String(),
			link.DisposedAt.UTC().Format(timestampLayout),
			string(link.DisposalOrigin.Location), link.DisposalOrigin.ExternalID); err != nil {
			return fmt.Errorf("inserting disposal_links: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListDisposalLinks() ([]models.DisposalLink, error) {
	rows, err := s.db.Query(
		`SELECT id, disposal_leg_id, lot_id, quantity_used, proceeds_total, disposed_at,
		 origin_location, origin_external_id
		 FROM disposal_links ORDER BY disposed_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying disposal_links: %w", err)
	}
	defer rows.Close()

	var links []models.DisposalLink
	for rows.Next() {
		var id, legID, lotID, quantity, proceeds, ts, location, externalID string
		if err := rows.Scan(&id, &legID, &lotID, &quantity, &proceeds, &ts, &location, &externalID); err != nil {
			return nil, fmt.Errorf("scanning disposal_links: %w", err)
		}
		linkID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing link id %q: %w", id, err)
		}
		disposalLegID, err := uuid.Parse(legID)
		if err != nil {
			return nil, fmt.Errorf("parsing link leg id %q: %w", legID, err)
		}
		linkLotID, err := uuid.Parse(lotID)
		if err != nil {
			return nil, fmt.Errorf("parsing link lot id %q: %w", lotID, err)
		}
		qty, err := decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("parsing link quantity %q: %w", quantity, err)
		}
		proceedsTotal, err := decimal.NewFromString(proceeds)
		if err != nil {
			return nil, fmt.Errorf("parsing link proceeds %q: %w", proceeds, err)
		}
		disposedAt, err := time.Parse(timestampLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing link timestamp %q: %w", ts, err)
		}
		links = append(links, models.DisposalLink{
			ID:             linkID,
			DisposalLegID:  disposalLegID,
			LotID:          linkLotID,
			QuantityUsed:   qty,
			ProceedsTotal:  proceedsTotal,
			DisposedAt:     disposedAt,
			DisposalOrigin: models.EventOrigin{Location: models.EventLocation(location), ExternalID: externalID},
		})
	}
	return links, rows.Err()
}

func (s *Store) ReplaceTaxEvents(events []models.TaxEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM tax_events"); err != nil {
		return fmt.Errorf("clearing tax_events: %w", err)
	}
	for _, event := range events {
		if _, err := tx.Exec(
			"INSERT INTO tax_events (source_id, kind, taxable_gain) VALUES (?, ?, ?)",
			event.SourceID.String(), string(event.Kind), event.TaxableGain.String()); err != nil {
			return fmt.Errorf("inserting tax_events: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListTaxEvents() ([]models.TaxEvent, error) {
	rows, err := s.db.Query("SELECT source_id, kind, taxable_gain FROM tax_events ORDER BY kind, source_id")
	if err != nil {
		return nil, fmt.Errorf("querying tax_events: %w", err)
	}
	defer rows.Close()

	var events []models.TaxEvent
	for rows.Next() {
		var sourceID, kind, gain string
		if err := rows.Scan(&sourceID, &kind, &gain); err != nil {
			return nil, fmt.Errorf("scanning tax_events: %w", err)
		}
		id, err := uuid.Parse(sourceID)
		if err != nil {
			return nil, fmt.Errorf("parsing tax event source id %q: %w", sourceID, err)
		}
		taxableGain, err := decimal.NewFromString(gain)
		if err != nil {
			return nil, fmt.Errorf("parsing taxable gain %q: %w", gain, err)
		}
		events = append(events, models.TaxEvent{
			SourceID:    id,
			Kind:        models.TaxEventKind(kind),
			TaxableGain: taxableGain,
		})
	}
	return events, rows.Err()
}

func (s *Store) ReplaceWalletBalances(balances []models.WalletBalance) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM wallet_balances"); err != nil {
		return fmt.Errorf("clearing wallet_balances: %w", err)
	}
	for _, balance := range balances {
		if _, err := tx.Exec(
			"INSERT INTO wallet_balances (wallet_id, asset_id, quantity) VALUES (?, ?, ?)",
			balance.WalletID, balance.AssetID, balance.Quantity.String()); err != nil {
			return fmt.Errorf("inserting wallet_balances: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListWalletBalances() ([]models.WalletBalance, error) {
	rows, err := s.db.Query("SELECT wallet_id, asset_id, quantity FROM wallet_balances ORDER BY wallet_id, asset_id")
	if err != nil {
		return nil, fmt.Errorf("querying wallet_balances: %w", err)
	}
	defer rows.Close()

	var balances []models.WalletBalance
	for rows.Next() {
		var walletID, assetID, quantity string
		if err := rows.Scan(&walletID, &assetID, &quantity); err != nil {
			return nil, fmt.Errorf("scanning wallet_balances: %w", err)
		}
		qty, err := decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("parsing balance quantity %q: %w", quantity, err)
		}
		balances = append(balances, models.WalletBalance{WalletID: walletID, AssetID: assetID, Quantity: qty})
	}
	return balances, rows.Err()
}

// ReadPriceQuote returns a cached rate for the hour bucket, if present.
func (s *Store) ReadPriceQuote(baseID, quoteID string, bucket time.Time) (decimal.Decimal, bool, error) {
	var rate string
	err := s.db.QueryRow(
		"SELECT rate FROM price_quotes WHERE base_id = ? AND quote_id = ? AND bucket = ?",
		baseID, quoteID, bucket.UTC().Format(timestampLayout)).Scan(&rate)
	if err == sql.ErrNoRows {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("querying price_quotes: %w", err)
	}
	value, err := decimal.NewFromString(rate)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parsing cached rate %q: %w", rate, err)
	}
	return value, true, nil
}

func (s *Store) WritePriceQuote(baseID, quoteID string, bucket time.Time, rate decimal.Decimal) error {
	if _, err := s.db.Exec(
		"INSERT OR REPLACE INTO price_quotes (base_id, quote_id, bucket, rate) VALUES (?, ?, ?, ?)",
		baseID, quoteID, bucket.UTC().Format(timestampLayout), rate.String()); err != nil {
		return fmt.Errorf("writing price_quotes: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
