package parsers

import (
	"fmt"

	"github.com/username/cryptofolio/backend/src/parsers/kraken"
)

// GetImporter returns the importer for a named source. CSV paths come from
// configuration.
func GetImporter(source, path string) (Importer, error) {
	switch source {
	case "kraken":
		return kraken.NewParser(path), nil
	default:
		return nil, fmt.Errorf("no importer available for source: %s", source)
	}
}
