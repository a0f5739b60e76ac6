package parsers

import (
	"github.com/username/cryptofolio/backend/src/models"
)

// Importer turns one external activity source (an exchange CSV export, a
// chain indexer dump) into raw ledger events. Importers resolve canonical
// asset ids and chain-scoped wallet ids themselves; the core pipeline only
// consumes their output.
type Importer interface {
	LoadEvents() ([]models.LedgerEvent, error)
}
