package models

// Bookmaker is the short slug identifying one of the three scraped bookmakers.
type Bookmaker string

const (
	// BookmakerBetpawa is the canonical bookmaker: its market taxonomy,
	// team names, kickoff times and tournament metadata win over competitors.
	BookmakerBetpawa Bookmaker = "betpawa"

	BookmakerSportyBet Bookmaker = "sportybet"
	BookmakerBet9ja    Bookmaker = "bet9ja"
)

// AllBookmakers returns the closed set of scraped bookmakers in canonical
// precedence order: Betpawa first, then SportyBet, then Bet9ja. Metadata
// conflicts between competitors resolve last-writer-wins in this order.
func AllBookmakers() []Bookmaker {
	return []Bookmaker{BookmakerBetpawa, BookmakerSportyBet, BookmakerBet9ja}
}

// IsCanonical reports whether this bookmaker defines the canonical taxonomy.
func (b Bookmaker) IsCanonical() bool {
	return b == BookmakerBetpawa
}

// Valid reports whether the slug belongs to the closed bookmaker set.
func (b Bookmaker) Valid() bool {
	switch b {
	case BookmakerBetpawa, BookmakerSportyBet, BookmakerBet9ja:
		return true
	default:
		return false
	}
}

// DisplayName returns the human-readable bookmaker name.
func (b Bookmaker) DisplayName() string {
	switch b {
	case BookmakerBetpawa:
		return "Betpawa"
	case BookmakerSportyBet:
		return "SportyBet"
	case BookmakerBet9ja:
		return "Bet9ja"
	default:
		return string(b)
	}
}
