package corrections

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
)

const (
	// Ingestion tags for events the engine derives itself.
	linkIngestion = "correction"
	seedIngestion = "seed_csv"
)

// UnknownOriginError reports a correction referencing an origin that is not
// present in the raw stream. Always fatal: the operator has to fix the
// correction file before anything downstream may run.
type UnknownOriginError struct {
	Origin models.EventOrigin
}

func (e *UnknownOriginError) Error() string {
	return fmt.Sprintf("correction references unknown raw event origin %s", e.Origin)
}

// ConflictingCorrectionError reports an origin referenced by more than one
// structural correction (spam + link, or two links).
type ConflictingCorrectionError struct {
	Origin models.EventOrigin
}

func (e *ConflictingCorrectionError) Error() string {
	return fmt.Sprintf("origin %s is referenced by conflicting corrections", e.Origin)
}

// Disposition says what happened to a raw event during correction.
type Disposition string

const (
	DispositionKept    Disposition = "kept"
	DispositionIgnored Disposition = "ignored"
	DispositionLinked  Disposition = "linked"
)

// AuditEntry records the disposition of one raw event. LinkedInto is the id
// of the derived event for linked events and uuid.Nil otherwise.
type AuditEntry struct {
	Origin      models.EventOrigin `json:"origin"`
	Disposition Disposition        `json:"disposition"`
	LinkedInto  uuid.UUID          `json:"linked_into,omitempty"`
}

// TieBreak orders two effective events that share a timestamp. The default
// keeps raw input order first and derived events after, which matches how the
// stream was assembled; link markers whose timestamp collides with raw events
// can be reordered by installing a custom comparator instead of hard-coding
// a precedence.
type TieBreak func(a, b models.LedgerEvent) bool

// Engine applies a fixed set of correction primitives to a raw event stream.
type Engine struct {
	tieBreak TieBreak
}

// Option configures an Engine.
type Option func(*Engine)

// WithTieBreak overrides the ordering of equal-timestamp effective events.
func WithTieBreak(tb TieBreak) Option {
	return func(e *Engine) { e.tieBreak = tb }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply validates the correction set against the raw stream, builds the
// effective stream, and returns it sorted by timestamp together with a
// per-raw-event audit trail. The raw stream is never mutated; derived events
// get deterministic ids so that re-running on identical input reproduces
// identical output.
func (e *Engine) Apply(rawEvents []models.LedgerEvent, set models.CorrectionSet) ([]models.LedgerEvent, []AuditEntry, error) {
	rawByOrigin := make(map[string]int, len(rawEvents))
	for i, event := range rawEvents {
		rawByOrigin[event.Origin.Key()] = i
	}

	spam := make(map[string]struct{}, len(set.Spam))
	for _, origin := range set.Spam {
		if _, ok := rawByOrigin[origin.Key()]; !ok {
			return nil, nil, &UnknownOriginError{Origin: origin}
		}
		spam[origin.Key()] = struct{}{}
	}
	for _, origin := range set.AlreadyTaxed {
		if _, ok := rawByOrigin[origin.Key()]; !ok {
			return nil, nil, &UnknownOriginError{Origin: origin}
		}
	}

	// Each origin may be consumed by at most one link, and a spam-ignored
	// origin must not be consumed at all.
	consumed := make(map[string]uuid.UUID)
	derived := make([]models.LedgerEvent, 0, len(set.Links)+len(set.Seeds))
	for _, link := range set.Links {
		linkEvent, err := deriveLinkEvent(link)
		if err != nil {
			return nil, nil, err
		}
		for _, origin := range link.ConsumedOrigins {
			key := origin.Key()
			if _, ok := rawByOrigin[key]; !ok {
				return nil, nil, &UnknownOriginError{Origin: origin}
			}
			if _, ok := spam[key]; ok {
				return nil, nil, &ConflictingCorrectionError{Origin: origin}
			}
			if _, ok := consumed[key]; ok {
				return nil, nil, &ConflictingCorrectionError{Origin: origin}
			}
			consumed[key] = linkEvent.ID
		}
		derived = append(derived, linkEvent)
	}
	for _, seed := range set.Seeds {
		seedEvent, err := deriveSeedEvent(seed)
		if err != nil {
			return nil, nil, err
		}
		derived = append(derived, seedEvent)
	}

	effective := make([]models.LedgerEvent, 0, len(rawEvents)+len(derived))
	audit := make([]AuditEntry, 0, len(rawEvents))
	for _, event := range rawEvents {
		key := event.Origin.Key()
		if _, ok := spam[key]; ok {
			audit = append(audit, AuditEntry{Origin: event.Origin, Disposition: DispositionIgnored})
			continue
		}
		if linkID, ok := consumed[key]; ok {
			audit = append(audit, AuditEntry{Origin: event.Origin, Disposition: DispositionLinked, LinkedInto: linkID})
			continue
		}
		audit = append(audit, AuditEntry{Origin: event.Origin, Disposition: DispositionKept})
		effective = append(effective, event)
	}
	effective = append(effective, derived...)

	// Stable sort: equal timestamps keep the assembly order (raw input order,
	// then links, then seeds) unless a custom tie-break is installed.
	sort.SliceStable(effective, func(i, j int) bool {
		a, b := effective[i], effective[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if e.tieBreak != nil {
			return e.tieBreak(a, b)
		}
		return false
	})

	return effective, audit, nil
}

// deriveLinkEvent materializes a link marker as one effective event. The
// event id is derived from the marker id so repeated applications produce
// the same event.
func deriveLinkEvent(link models.LinkMarker) (models.LedgerEvent, error) {
	origin := models.EventOrigin{
		Location:   models.LocationInternal,
		ExternalID: "link:" + link.ID.String(),
	}
	event, err := models.NewLedgerEvent(link.Timestamp, origin, linkIngestion, link.EventType, link.Legs)
	if err != nil {
		return models.LedgerEvent{}, fmt.Errorf("link marker %s: %w", link.ID, err)
	}
	event.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(origin.Key()))
	return event, nil
}

// deriveSeedEvent materializes a seed correction as a REWARD event so the
// inventory engine opens a lot for the seeded quantity.
func deriveSeedEvent(seed models.SeedEvent) (models.LedgerEvent, error) {
	origin := models.EventOrigin{
		Location:   models.LocationInternal,
		ExternalID: "seed:" + seed.ID.String(),
	}
	event, err := models.NewLedgerEvent(seed.Timestamp, origin, seedIngestion, models.EventTypeReward, seed.Legs)
	if err != nil {
		return models.LedgerEvent{}, fmt.Errorf("seed event %s: %w", seed.ID, err)
	}
	event.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(origin.Key()))
	return event, nil
}

// SeedOrigin returns the synthetic origin a seed event is materialized under.
// The inventory engine uses it to resolve seeded cost bases.
func SeedOrigin(seed models.SeedEvent) models.EventOrigin {
	return models.EventOrigin{
		Location:   models.LocationInternal,
		ExternalID: "seed:" + seed.ID.String(),
	}
}

// SeedCostBases maps seed origins to the manually supplied price per token.
// Seeds with a zero price are omitted so the inventory engine falls back to
// the price lookup for them.
func SeedCostBases(seeds []models.SeedEvent) map[string]decimal.Decimal {
	bases := make(map[string]decimal.Decimal)
	for _, seed := range seeds {
		if seed.PricePerToken.IsPositive() {
			bases[SeedOrigin(seed).Key()] = seed.PricePerToken
		}
	}
	return bases
}
