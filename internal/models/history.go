package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HistoryPoint is one append-only market observation. Confirmed points
// record that the market was seen unchanged; replaying points by
// CapturedAt reconstructs the current-state row at any in-retention time.
type HistoryPoint struct {
	EventID     int64            `db:"event_id" json:"event_id"`
	Bookmaker   Bookmaker        `db:"bookmaker_slug" json:"bookmaker"`
	CanonicalID string           `db:"canonical_market_id" json:"canonical_market_id"`
	Line        *decimal.Decimal `db:"line" json:"line"`
	CapturedAt  time.Time        `db:"captured_at" json:"captured_at"`
	Margin      decimal.Decimal  `db:"margin" json:"margin"`
	Outcomes    []Outcome        `db:"outcomes" json:"outcomes"`
	Available   bool             `db:"available" json:"available"`
	Confirmed   bool             `db:"confirmed" json:"confirmed"`
}
