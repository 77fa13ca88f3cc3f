package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/models"
)

// SportyBetFetcher scrapes the SportyBet feed. Event ids arrive prefixed
// ("sr:match:12345678"); the numeric tail is the external match id.
type SportyBetFetcher struct {
	client  *RateLimitedClient
	baseURL string
	logger  *logrus.Entry
}

// NewSportyBetFetcher creates the SportyBet client.
func NewSportyBetFetcher(endpoint *config.BookmakerEndpoint, timeout time.Duration, retries int, logger *logrus.Logger) *SportyBetFetcher {
	return &SportyBetFetcher{
		client:  NewRateLimitedClient(models.BookmakerSportyBet, endpoint, timeout, retries, logger),
		baseURL: endpoint.BaseURL,
		logger:  logger.WithField("component", "fetcher.sportybet"),
	}
}

// Bookmaker returns the slug this fetcher scrapes.
func (f *SportyBetFetcher) Bookmaker() models.Bookmaker {
	return models.BookmakerSportyBet
}

type sportyOutcome struct {
	Desc     string          `json:"desc"`
	Odds     decimal.Decimal `json:"odds"`
	IsActive int             `json:"isActive"`
}

type sportyMarket struct {
	ID       string `json:"id"`
	Desc     string `json:"desc"`
	Handicap *struct {
		Home *decimal.Decimal `json:"home"`
	} `json:"handicap"`
	Specifier string          `json:"specifier"`
	Outcomes  []sportyOutcome `json:"outcomes"`
}

type sportyEvent struct {
	EventID   string         `json:"eventId"`
	HomeTeam  string         `json:"homeTeamName"`
	AwayTeam  string         `json:"awayTeamName"`
	StartTime int64          `json:"estimateStartTime"` // epoch millis
	Markets   []sportyMarket `json:"markets"`
}

type sportyTournament struct {
	Name         string        `json:"name"`
	CategoryName string        `json:"categoryName"`
	Events       []sportyEvent `json:"events"`
}

type sportyResponse struct {
	Data struct {
		Tournaments []sportyTournament `json:"tournaments"`
	} `json:"data"`
}

// Discover lists SportyBet's upcoming football offer, grouped upstream by
// tournament.
func (f *SportyBetFetcher) Discover(ctx context.Context) ([]models.DiscoveredEvent, error) {
	body, err := f.client.GetJSON(ctx, f.baseURL+"/api/ng/factsCenter/pcUpcomingEvents?sportId=sr:sport:1")
	if err != nil {
		return nil, err
	}

	var resp sportyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewFetchError(models.BookmakerSportyBet, ErrCodeDecodeError, "discovery response", err)
	}

	var discovered []models.DiscoveredEvent
	for _, t := range resp.Data.Tournaments {
		country := t.CategoryName
		for _, e := range t.Events {
			externalID, err := ParseSportyBetEventID(e.EventID)
			if err != nil {
				f.logger.WithError(err).Debug("Skipping event with malformed eventId")
				continue
			}
			var c *string
			if country != "" {
				cc := country
				c = &cc
			}
			discovered = append(discovered, models.DiscoveredEvent{
				ExternalID:     externalID,
				Bookmaker:      models.BookmakerSportyBet,
				HomeTeam:       e.HomeTeam,
				AwayTeam:       e.AwayTeam,
				Kickoff:        time.UnixMilli(e.StartTime).UTC(),
				Sport:          "football",
				TournamentName: t.Name,
				Country:        c,
			})
		}
	}
	return discovered, nil
}

// FetchEvent retrieves the full market detail for one event.
func (f *SportyBetFetcher) FetchEvent(ctx context.Context, externalID int64) (*models.RawEventDetail, error) {
	url := fmt.Sprintf("%s/api/ng/factsCenter/event?eventId=sr:match:%d", f.baseURL, externalID)
	body, err := f.client.GetJSON(ctx, url)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data sportyEvent `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewFetchError(models.BookmakerSportyBet, ErrCodeDecodeError, "event detail", err)
	}

	detail := &models.RawEventDetail{
		ExternalID: externalID,
		Bookmaker:  models.BookmakerSportyBet,
		ObservedAt: time.Now(),
	}
	for _, m := range resp.Data.Markets {
		raw := models.RawMarket{
			Bookmaker: models.BookmakerSportyBet,
			MarketID:  m.ID,
			Name:      m.Desc,
			Line:      specifierLine(m.Specifier),
		}
		if m.Handicap != nil {
			raw.HandicapHome = m.Handicap.Home
		}
		for _, o := range m.Outcomes {
			raw.Outcomes = append(raw.Outcomes, models.RawOutcome{
				Label:  o.Desc,
				Odds:   o.Odds,
				Active: o.IsActive == 1,
			})
		}
		detail.Markets = append(detail.Markets, raw)
	}
	return detail, nil
}

// ParseSportyBetEventID extracts the external match id from SportyBet's
// prefixed event id format ("sr:match:12345678"). A bare numeric id is
// accepted too.
func ParseSportyBetEventID(eventID string) (int64, error) {
	numeric := eventID
	if idx := strings.LastIndex(eventID, ":"); idx >= 0 {
		numeric = eventID[idx+1:]
	}
	id, err := strconv.ParseInt(numeric, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed eventId %q: %w", eventID, err)
	}
	if !models.ValidExternalID(id) {
		return 0, fmt.Errorf("eventId %d outside the 8-digit range", id)
	}
	return id, nil
}

// specifierLine pulls the numeric line out of a "total=2.5" style
// specifier.
func specifierLine(specifier string) *decimal.Decimal {
	if specifier == "" {
		return nil
	}
	for _, part := range strings.Split(specifier, "|") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		if kv[0] != "total" && kv[0] != "hcp" {
			continue
		}
		if d, err := decimal.NewFromString(kv[1]); err == nil {
			return &d
		}
	}
	return nil
}
