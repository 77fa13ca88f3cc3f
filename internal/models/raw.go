package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscoveredEvent is one entry of a bookmaker's discovery response: enough
// metadata to identify the match and build the scrape queue, no markets.
type DiscoveredEvent struct {
	ExternalID     int64
	Bookmaker      Bookmaker
	HomeTeam       string
	AwayTeam       string
	Kickoff        time.Time
	Sport          string
	TournamentName string
	Country        *string
}

// RawOutcome is a bookmaker-native priced selection before alias
// normalisation.
type RawOutcome struct {
	Label  string
	Odds   decimal.Decimal
	Active bool
}

// RawMarket is one market document from a bookmaker detail response,
// reduced to the fields the mapping engine needs. Fetchers decode the
// wire shape and emit this.
type RawMarket struct {
	Bookmaker    Bookmaker
	MarketID     string // bookmaker-native market id
	Name         string
	Line         *decimal.Decimal // explicit line parameter when present
	HandicapHome *decimal.Decimal // fallback location for the line
	Outcomes     []RawOutcome
}

// RawEventDetail is the full detail response for one (event, bookmaker).
type RawEventDetail struct {
	ExternalID int64
	Bookmaker  Bookmaker
	ObservedAt time.Time
	Markets    []RawMarket
}
