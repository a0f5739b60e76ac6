package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/cryptofolio/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Ensuring database schema", "databasePath", databasePath)
	} else {
		stdlog.Println("Ensuring database schema for:", databasePath)
	}

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS raw_events (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		origin_location TEXT NOT NULL,
		origin_external_id TEXT NOT NULL,
		ingestion TEXT NOT NULL,
		event_type TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS raw_event_legs (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		leg_index INTEGER NOT NULL,
		asset_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		wallet_id TEXT NOT NULL,
		is_fee INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(event_id) REFERENCES raw_events(id)
	);

	CREATE TABLE IF NOT EXISTS effective_events (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		origin_location TEXT NOT NULL,
		origin_external_id TEXT NOT NULL,
		ingestion TEXT NOT NULL,
		event_type TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS effective_event_legs (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		leg_index INTEGER NOT NULL,
		asset_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		wallet_id TEXT NOT NULL,
		is_fee INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(event_id) REFERENCES effective_events(id)
	);

	CREATE TABLE IF NOT EXISTS correction_audit (
		origin_location TEXT NOT NULL,
		origin_external_id TEXT NOT NULL,
		disposition TEXT NOT NULL,
		linked_into TEXT,
		PRIMARY KEY(origin_location, origin_external_id)
	);

	CREATE TABLE IF NOT EXISTS acquisition_lots (
		id TEXT PRIMARY KEY,
		acquired_leg_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		acquired_timestamp TEXT NOT NULL,
		acquired_quantity TEXT NOT NULL,
		cost_per_unit TEXT NOT NULL,
		event_type TEXT NOT NULL,
		origin_location TEXT NOT NULL,
		origin_external_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS disposal_links (
		id TEXT PRIMARY KEY,
		disposal_leg_id TEXT NOT NULL,
		lot_id TEXT NOT NULL,
		quantity_used TEXT NOT NULL,
		proceeds_total TEXT NOT NULL,
		disposed_at TEXT NOT NULL,
		origin_location TEXT NOT NULL,
		origin_external_id TEXT NOT NULL,
		FOREIGN KEY(lot_id) REFERENCES acquisition_lots(id)
	);

	CREATE TABLE IF NOT EXISTS tax_events (
		source_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		taxable_gain TEXT NOT NULL,
		PRIMARY KEY(source_id, kind)
	);

	CREATE TABLE IF NOT EXISTS wallet_balances (
		wallet_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		PRIMARY KEY(wallet_id, asset_id)
	);

	CREATE TABLE IF NOT EXISTS price_quotes (
		base_id TEXT NOT NULL,
		quote_id TEXT NOT NULL,
		bucket TEXT NOT NULL,
		rate TEXT NOT NULL,
		PRIMARY KEY(base_id, quote_id, bucket)
	);

	CREATE INDEX IF NOT EXISTS idx_raw_event_legs_event ON raw_event_legs(event_id);
	CREATE INDEX IF NOT EXISTS idx_effective_event_legs_event ON effective_event_legs(event_id);
	CREATE INDEX IF NOT EXISTS idx_raw_events_origin ON raw_events(origin_location, origin_external_id);
	CREATE INDEX IF NOT EXISTS idx_disposal_links_lot ON disposal_links(lot_id);
	`

	if _, err := DB.Exec(createTableStatement); err != nil {
		stdlog.Fatalf("failed to create tables: %v", err)
	}

	if logger.L != nil {
		logger.L.Info("Database schema ready")
	}
}
