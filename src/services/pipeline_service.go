package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/username/cryptofolio/backend/src/corrections"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/parsers"
	"github.com/username/cryptofolio/backend/src/parsers/seed"
	"github.com/username/cryptofolio/backend/src/processors"
)

type pipelineServiceImpl struct {
	importers        []parsers.Importer
	correctionsPath  string
	seedPath         string
	priceService     PriceService
	store            *database.Store
	correctionEngine *corrections.Engine
	exemptionDays    int
}

// NewPipelineService wires the full batch pipeline. The store may be nil for
// dry runs; every other collaborator is required.
func NewPipelineService(
	importers []parsers.Importer,
	correctionsPath string,
	seedPath string,
	priceService PriceService,
	store *database.Store,
	exemptionDays int,
) PipelineService {
	return &pipelineServiceImpl{
		importers:        importers,
		correctionsPath:  correctionsPath,
		seedPath:         seedPath,
		priceService:     priceService,
		store:            store,
		correctionEngine: corrections.NewEngine(),
		exemptionDays:    exemptionDays,
	}
}

// Run executes one batch: import raw events, apply corrections, fold the
// effective stream into lots/links/balances, derive tax events, persist
// everything. Any failure aborts the run before persistence of the failed
// stage; the caller fixes the inputs and re-runs from raw events.
func (s *pipelineServiceImpl) Run() (*PipelineResult, error) {
	started := time.Now()

	var rawEvents []models.LedgerEvent
	for _, importer := range s.importers {
		events, err := importer.LoadEvents()
		if err != nil {
			return nil, fmt.Errorf("importing raw events: %w", err)
		}
		rawEvents = append(rawEvents, events...)
	}
	sort.SliceStable(rawEvents, func(i, j int) bool {
		return rawEvents[i].Timestamp.Before(rawEvents[j].Timestamp)
	})
	logger.L.Info("Imported raw events", "count", len(rawEvents))

	seedEvents, err := seed.LoadSeedEvents(s.seedPath)
	if err != nil {
		return nil, fmt.Errorf("loading seed events: %w", err)
	}
	correctionSet, err := corrections.LoadCorrectionSet(s.correctionsPath)
	if err != nil {
		return nil, fmt.Errorf("loading corrections: %w", err)
	}
	correctionSet.Seeds = append(correctionSet.Seeds, seedEvents...)
	logger.L.Info("Loaded corrections",
		"spam", len(correctionSet.Spam),
		"alreadyTaxed", len(correctionSet.AlreadyTaxed),
		"seeds", len(correctionSet.Seeds),
		"links", len(correctionSet.Links))

	effectiveEvents, audit, err := s.correctionEngine.Apply(rawEvents, correctionSet)
	if err != nil {
		return nil, fmt.Errorf("applying corrections: %w", err)
	}
	logger.L.Info("Applied corrections", "effectiveEvents", len(effectiveEvents))

	inventoryEngine := processors.NewInventoryEngine(
		s.priceService,
		processors.WithCostBasisOverrides(corrections.SeedCostBases(correctionSet.Seeds)),
	)
	inventory, err := inventoryEngine.Process(effectiveEvents)
	if err != nil {
		return nil, fmt.Errorf("processing inventory: %w", err)
	}
	logger.L.Info("Processed inventory",
		"lots", len(inventory.Lots),
		"disposalLinks", len(inventory.DisposalLinks),
		"balances", len(inventory.Balances))

	// Seeded history is backfill, not income: suppress the REWARD tax events
	// its synthetic lots would otherwise produce.
	alreadyTaxed := correctionSet.AlreadyTaxedSet()
	for _, seedEvent := range correctionSet.Seeds {
		alreadyTaxed[corrections.SeedOrigin(seedEvent).Key()] = struct{}{}
	}

	taxProcessor := processors.NewTaxProcessor(s.exemptionDays)
	taxEvents, err := taxProcessor.Generate(inventory.DisposalLinks, inventory.Lots, alreadyTaxed)
	if err != nil {
		return nil, fmt.Errorf("generating tax events: %w", err)
	}
	logger.L.Info("Generated tax events", "count", len(taxEvents))

	if s.store != nil {
		if err := s.persist(rawEvents, effectiveEvents, audit, inventory, taxEvents); err != nil {
			return nil, err
		}
	}

	logger.L.Info("Pipeline run complete", "elapsed", time.Since(started).String())
	return &PipelineResult{
		RawEvents:       rawEvents,
		EffectiveEvents: effectiveEvents,
		Audit:           audit,
		Inventory:       inventory,
		TaxEvents:       taxEvents,
	}, nil
}

func (s *pipelineServiceImpl) persist(
	rawEvents, effectiveEvents []models.LedgerEvent,
	audit []corrections.AuditEntry,
	inventory *models.InventoryResult,
	taxEvents []models.TaxEvent,
) error {
	if err := s.store.ReplaceRawEvents(rawEvents); err != nil {
		return fmt.Errorf("persisting raw events: %w", err)
	}
	if err := s.store.ReplaceEffectiveEvents(effectiveEvents); err != nil {
		return fmt.Errorf("persisting effective events: %w", err)
	}
	if err := s.store.ReplaceAuditEntries(audit); err != nil {
		return fmt.Errorf("persisting correction audit: %w", err)
	}
	if err := s.store.ReplaceAcquisitionLots(inventory.Lots); err != nil {
		return fmt.Errorf("persisting acquisition lots: %w", err)
	}
	if err := s.store.ReplaceDisposalLinks(inventory.DisposalLinks); err != nil {
		return fmt.Errorf("persisting disposal links: %w", err)
	}
	if err := s.store.ReplaceWalletBalances(inventory.Balances); err != nil {
		return fmt.Errorf("persisting wallet balances: %w", err)
	}
	if err := s.store.ReplaceTaxEvents(taxEvents); err != nil {
		return fmt.Errorf("persisting tax events: %w", err)
	}
	return nil
}
