package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/models"
)

// Bet9jaFetcher scrapes the Bet9ja feed. Its documents use upper-case
// abbreviated keys; the external match id sits in EXTID.
type Bet9jaFetcher struct {
	client  *RateLimitedClient
	baseURL string
	logger  *logrus.Entry
}

// NewBet9jaFetcher creates the Bet9ja client.
func NewBet9jaFetcher(endpoint *config.BookmakerEndpoint, timeout time.Duration, retries int, logger *logrus.Logger) *Bet9jaFetcher {
	return &Bet9jaFetcher{
		client:  NewRateLimitedClient(models.BookmakerBet9ja, endpoint, timeout, retries, logger),
		baseURL: endpoint.BaseURL,
		logger:  logger.WithField("component", "fetcher.bet9ja"),
	}
}

// Bookmaker returns the slug this fetcher scrapes.
func (f *Bet9jaFetcher) Bookmaker() models.Bookmaker {
	return models.BookmakerBet9ja
}

type bet9jaOdd struct {
	Selection string          `json:"SEL"`
	Value     decimal.Decimal `json:"OV"`
	Active    int             `json:"ACTIVE"`
}

type bet9jaMarket struct {
	MarketID string      `json:"MID"`
	Name     string      `json:"NAME"`
	Odds     []bet9jaOdd `json:"ODDS"`
}

type bet9jaEvent struct {
	ExtID      string         `json:"EXTID"`
	Home       string         `json:"HOME"`
	Away       string         `json:"AWAY"`
	StartDate  string         `json:"STARTDATE"` // "2026-08-20T15:00:00Z"
	League     string         `json:"LEAGUE"`
	Country    string         `json:"COUNTRY"`
	Markets    []bet9jaMarket `json:"MARKETS"`
}

type bet9jaResponse struct {
	D []bet9jaEvent `json:"D"`
}

// Discover lists Bet9ja's upcoming football offer.
func (f *Bet9jaFetcher) Discover(ctx context.Context) ([]models.DiscoveredEvent, error) {
	body, err := f.client.GetJSON(ctx, f.baseURL+"/feapi/PalimpsestAjax/GetEventsInGroup?SPORTID=1")
	if err != nil {
		return nil, err
	}

	var resp bet9jaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewFetchError(models.BookmakerBet9ja, ErrCodeDecodeError, "discovery response", err)
	}

	var discovered []models.DiscoveredEvent
	for _, e := range resp.D {
		externalID, err := parseBet9jaExtID(e.ExtID)
		if err != nil {
			f.logger.WithError(err).Debug("Skipping event with malformed EXTID")
			continue
		}
		kickoff, err := time.Parse(time.RFC3339, e.StartDate)
		if err != nil {
			f.logger.WithError(err).Debug("Skipping event with malformed STARTDATE")
			continue
		}
		var country *string
		if e.Country != "" {
			c := e.Country
			country = &c
		}
		discovered = append(discovered, models.DiscoveredEvent{
			ExternalID:     externalID,
			Bookmaker:      models.BookmakerBet9ja,
			HomeTeam:       e.Home,
			AwayTeam:       e.Away,
			Kickoff:        kickoff,
			Sport:          "football",
			TournamentName: e.League,
			Country:        country,
		})
	}
	return discovered, nil
}

// FetchEvent retrieves the full market detail for one event.
func (f *Bet9jaFetcher) FetchEvent(ctx context.Context, externalID int64) (*models.RawEventDetail, error) {
	url := fmt.Sprintf("%s/feapi/PalimpsestAjax/GetEvent?EXTID=%d", f.baseURL, externalID)
	body, err := f.client.GetJSON(ctx, url)
	if err != nil {
		return nil, err
	}

	var event bet9jaEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, NewFetchError(models.BookmakerBet9ja, ErrCodeDecodeError, "event detail", err)
	}

	detail := &models.RawEventDetail{
		ExternalID: externalID,
		Bookmaker:  models.BookmakerBet9ja,
		ObservedAt: time.Now(),
	}
	for _, m := range event.Markets {
		// Bet9ja carries the line in the market name suffix only; the
		// mapping engine's fallback chain handles it.
		raw := models.RawMarket{
			Bookmaker: models.BookmakerBet9ja,
			MarketID:  m.MarketID,
			Name:      m.Name,
		}
		for _, o := range m.Odds {
			raw.Outcomes = append(raw.Outcomes, models.RawOutcome{
				Label:  o.Selection,
				Odds:   o.Value,
				Active: o.Active == 1,
			})
		}
		detail.Markets = append(detail.Markets, raw)
	}
	return detail, nil
}

func parseBet9jaExtID(extID string) (int64, error) {
	id, err := strconv.ParseInt(extID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed EXTID %q: %w", extID, err)
	}
	if !models.ValidExternalID(id) {
		return 0, fmt.Errorf("EXTID %d outside the 8-digit range", id)
	}
	return id, nil
}
