package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Category is a UI grouping tag. A market may carry several.
type Category string

const (
	CategoryPopular   Category = "Popular"
	CategoryGoals     Category = "Goals"
	CategoryHandicaps Category = "Handicaps"
	CategoryCombos    Category = "Combos"
	CategoryHalves    Category = "Halves"
	CategoryCorners   Category = "Corners"
	CategoryCards     Category = "Cards"
	CategorySpecials  Category = "Specials"
	CategoryOther     Category = "Other"
)

// Outcome is a priced selection within a market. Odds are decimal and at
// least 1.0; suspended outcomes keep their last price but do not contribute
// to the margin.
type Outcome struct {
	Name   string          `db:"name" json:"name" validate:"required"`
	Odds   decimal.Decimal `db:"odds" json:"odds"`
	Active bool            `db:"active" json:"active"`
}

// Market is a canonically mapped market for one (event, bookmaker).
// Identity is (CanonicalID, Line); a nil line collides with zero, so
// markets without a line parameter have a single identity.
type Market struct {
	CanonicalID   string           `db:"canonical_market_id" json:"canonical_market_id" validate:"required"`
	Line          *decimal.Decimal `db:"line" json:"line"`
	DisplayName   string           `db:"display_name" json:"display_name"`
	Categories    []Category       `db:"categories" json:"categories"`
	Outcomes      []Outcome        `db:"outcomes" json:"outcomes"`
	Margin        decimal.Decimal  `db:"margin" json:"margin"`
	UnavailableAt *time.Time       `db:"unavailable_at" json:"unavailable_at"`
}

// oddsPlaces is the canonical rounding applied before change comparison.
const oddsPlaces = 4

// LineKey returns the line normalised for identity purposes:
// COALESCE(line, 0).
func LineKey(line *decimal.Decimal) decimal.Decimal {
	if line == nil {
		return decimal.Zero
	}
	return *line
}

// Key returns the market identity string within one (event, bookmaker)
// snapshot.
func (m *Market) Key() string {
	return fmt.Sprintf("%s|%s", m.CanonicalID, LineKey(m.Line).String())
}

// Canonicalise sorts outcomes by name and rounds odds to four decimal
// places. Two observations of the same upstream state canonicalise to an
// identical form, so the operation is idempotent and safe to apply to an
// already canonical market.
func (m *Market) Canonicalise() {
	for i := range m.Outcomes {
		m.Outcomes[i].Odds = m.Outcomes[i].Odds.Round(oddsPlaces)
	}
	sort.Slice(m.Outcomes, func(i, j int) bool {
		return m.Outcomes[i].Name < m.Outcomes[j].Name
	})
}

// EqualCanonical compares two already-canonicalised markets: same outcome
// names, odds and active flags. Display name and categories are static
// per canonical id and do not participate.
func (m *Market) EqualCanonical(other *Market) bool {
	if len(m.Outcomes) != len(other.Outcomes) {
		return false
	}
	for i := range m.Outcomes {
		a, b := m.Outcomes[i], other.Outcomes[i]
		if a.Name != b.Name || a.Active != b.Active || !a.Odds.Equal(b.Odds) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy. Snapshots are immutable once cached, so the
// cache clones markets handed out to callers.
func (m *Market) Clone() *Market {
	c := *m
	if m.Line != nil {
		line := *m.Line
		c.Line = &line
	}
	if m.UnavailableAt != nil {
		at := *m.UnavailableAt
		c.UnavailableAt = &at
	}
	c.Categories = append([]Category(nil), m.Categories...)
	c.Outcomes = append([]Outcome(nil), m.Outcomes...)
	return &c
}
