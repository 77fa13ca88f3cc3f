package mapping

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yourusername/oddsradar/internal/models"
)

// UnmappableReason classifies why a raw market could not be mapped.
type UnmappableReason string

const (
	ReasonNoMapping        UnmappableReason = "no_mapping"
	ReasonUnknownParameter UnmappableReason = "unknown_parameter_shape"
	ReasonOutcomeMismatch  UnmappableReason = "outcomes_do_not_match"
	ReasonTooFewActive     UnmappableReason = "too_few_active_outcomes"
)

// AllUnmappableReasons lists the closed reason set, for counter labels.
func AllUnmappableReasons() []UnmappableReason {
	return []UnmappableReason{
		ReasonNoMapping, ReasonUnknownParameter,
		ReasonOutcomeMismatch, ReasonTooFewActive,
	}
}

// UnmappableError is returned when a raw market cannot be normalised into
// the canonical taxonomy. It does not fail the cycle; the coordinator
// counts it by reason and moves on.
type UnmappableError struct {
	Bookmaker models.Bookmaker
	MarketID  string
	Reason    UnmappableReason
}

func (e *UnmappableError) Error() string {
	return fmt.Sprintf("unmappable market %s/%s: %s", e.Bookmaker, e.MarketID, e.Reason)
}

// marginPlaces is the rounding applied to computed margins (percent).
const marginPlaces = 2

// lineSuffixPattern extracts a trailing numeric line from a market name,
// e.g. "Over/Under 2.5". Last resort of the line fallback chain.
var lineSuffixPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*$`)

// Engine applies the mapping tables to raw markets. It is a pure function
// of its inputs and tables: no session, no database, no clock.
type Engine struct {
	tables *Tables
}

// NewEngine creates a mapping engine over a rule set.
func NewEngine(tables *Tables) *Engine {
	return &Engine{tables: tables}
}

// Tables exposes the rule set, for callers that need category lookups.
func (e *Engine) Tables() *Tables {
	return e.tables
}

// Map normalises one raw bookmaker market into a canonical Market. On
// failure the returned error is always an *UnmappableError.
func (e *Engine) Map(raw models.RawMarket) (*models.Market, error) {
	// 1. Canonical id. Betpawa is identity, competitors go through the table.
	canonicalID := e.tables.ResolveCanonicalID(raw.Bookmaker, raw.MarketID)
	if canonicalID == "" {
		return nil, &UnmappableError{Bookmaker: raw.Bookmaker, MarketID: raw.MarketID, Reason: ReasonNoMapping}
	}
	def := e.tables.Definition(canonicalID)

	// 2. Line. Fallback chain: explicit line, then handicap.home, then a
	// numeric suffix on the market name.
	var line *decimal.Decimal
	if def.RequiresLine {
		line = resolveLine(raw)
		if line == nil {
			return nil, &UnmappableError{Bookmaker: raw.Bookmaker, MarketID: raw.MarketID, Reason: ReasonUnknownParameter}
		}
	}

	// 3. Outcomes. Every native label must place into the canonical shape.
	outcomes, err := e.resolveOutcomes(def, raw)
	if err != nil {
		return nil, err
	}

	// 4. Margin over active outcomes only.
	margin, active := computeMargin(outcomes)
	if active < 2 {
		return nil, &UnmappableError{Bookmaker: raw.Bookmaker, MarketID: raw.MarketID, Reason: ReasonTooFewActive}
	}

	return &models.Market{
		CanonicalID: canonicalID,
		Line:        line,
		DisplayName: def.DisplayName,
		Categories:  e.tables.Categories(canonicalID),
		Outcomes:    outcomes,
		Margin:      margin,
	}, nil
}

// resolveOutcomes aliases each native label and orders the result
// canonically. Duplicate placements and unplaceable labels both reject the
// market.
func (e *Engine) resolveOutcomes(def *MarketDef, raw models.RawMarket) ([]models.Outcome, error) {
	mismatch := &UnmappableError{Bookmaker: raw.Bookmaker, MarketID: raw.MarketID, Reason: ReasonOutcomeMismatch}

	if len(raw.Outcomes) == 0 || len(raw.Outcomes) > def.ShapeSize() {
		return nil, mismatch
	}

	type placed struct {
		outcome models.Outcome
		ok      bool
	}
	slots := make([]placed, def.ShapeSize())

	for _, ro := range raw.Outcomes {
		canonical, pos, ok := def.ResolveOutcome(ro.Label)
		if !ok || slots[pos].ok {
			return nil, mismatch
		}
		if ro.Odds.LessThan(decimal.NewFromInt(1)) {
			return nil, mismatch
		}
		slots[pos] = placed{
			outcome: models.Outcome{Name: canonical, Odds: ro.Odds, Active: ro.Active},
			ok:      true,
		}
	}

	outcomes := make([]models.Outcome, 0, len(raw.Outcomes))
	for _, s := range slots {
		if s.ok {
			outcomes = append(outcomes, s.outcome)
		}
	}
	return outcomes, nil
}

// resolveLine walks the fallback chain for the numeric line parameter.
func resolveLine(raw models.RawMarket) *decimal.Decimal {
	if raw.Line != nil {
		return raw.Line
	}
	// Use handicap.home when line is absent.
	if raw.HandicapHome != nil {
		return raw.HandicapHome
	}
	if m := lineSuffixPattern.FindStringSubmatch(strings.TrimSpace(raw.Name)); m != nil {
		if d, err := decimal.NewFromString(m[1]); err == nil {
			return &d
		}
	}
	return nil
}

// computeMargin returns (sum(1/odds) - 1) * 100 over active outcomes as a
// percent with two decimals, plus the contributing outcome count.
func computeMargin(outcomes []models.Outcome) (decimal.Decimal, int) {
	sum := decimal.Zero
	active := 0
	one := decimal.NewFromInt(1)
	for _, o := range outcomes {
		if !o.Active || o.Odds.LessThan(one) || o.Odds.IsZero() {
			continue
		}
		sum = sum.Add(one.DivRound(o.Odds, 8))
		active++
	}
	if active < 2 {
		return decimal.Zero, active
	}
	margin := sum.Sub(one).Mul(decimal.NewFromInt(100)).Round(marginPlaces)
	return margin, active
}
