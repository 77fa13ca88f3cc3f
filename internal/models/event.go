package models

import (
	"time"
)

// Event is a football match identified across all three bookmakers by its
// 8-digit SportRadar external id.
type Event struct {
	ExternalID   int64       `db:"external_id" json:"external_id" validate:"required"`
	HomeTeam     string      `db:"home_team" json:"home_team" validate:"required"`
	AwayTeam     string      `db:"away_team" json:"away_team" validate:"required"`
	Kickoff      time.Time   `db:"kickoff" json:"kickoff" validate:"required"`
	Sport        string      `db:"sport" json:"sport"`
	TournamentID int64       `db:"tournament_id" json:"tournament_id"`
	Tournament   *Tournament `db:"-" json:"tournament,omitempty"`
}

// Tournament is uniquely identified by (sport, name, country). Country is
// nil only for genuinely international competitions; same-name tournaments
// in different countries are distinct rows.
type Tournament struct {
	ID      int64   `db:"id" json:"id"`
	Sport   string  `db:"sport" json:"sport" validate:"required"`
	Name    string  `db:"name" json:"name" validate:"required"`
	Country *string `db:"country" json:"country"`
}

// ValidExternalID reports whether id looks like a SportRadar match id.
// All three bookmakers carry the same 8-digit numeric id.
func ValidExternalID(id int64) bool {
	return id >= 10000000 && id <= 99999999
}

// NaiveUTC normalises a timestamp to the internal naive-UTC representation:
// the UTC wall clock with location set to UTC and the monotonic reading
// stripped. Every timestamp entering the cache must pass through here;
// comparing a zoned upstream timestamp against a UTC cutoff is a known
// failure mode.
func NaiveUTC(t time.Time) time.Time {
	return t.UTC().Round(0)
}
