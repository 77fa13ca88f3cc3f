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

// widgetSportRadar is the widget type carrying the external match id in
// Betpawa event documents.
const widgetSportRadar = "SPORTRADAR"

// BetpawaFetcher scrapes the canonical bookmaker.
type BetpawaFetcher struct {
	client  *RateLimitedClient
	baseURL string
	logger  *logrus.Entry
}

// NewBetpawaFetcher creates the Betpawa client.
func NewBetpawaFetcher(endpoint *config.BookmakerEndpoint, timeout time.Duration, retries int, logger *logrus.Logger) *BetpawaFetcher {
	return &BetpawaFetcher{
		client:  NewRateLimitedClient(models.BookmakerBetpawa, endpoint, timeout, retries, logger),
		baseURL: endpoint.BaseURL,
		logger:  logger.WithField("component", "fetcher.betpawa"),
	}
}

// Bookmaker returns the slug this fetcher scrapes.
func (f *BetpawaFetcher) Bookmaker() models.Bookmaker {
	return models.BookmakerBetpawa
}

type betpawaWidget struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type betpawaParticipant struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

type betpawaCompetition struct {
	Name    string `json:"name"`
	Country *struct {
		Name string `json:"name"`
	} `json:"country"`
}

type betpawaPrice struct {
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Suspended bool            `json:"suspended"`
}

type betpawaMarket struct {
	MarketType struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"marketType"`
	Line   *decimal.Decimal `json:"line"`
	Prices []betpawaPrice   `json:"prices"`
}

type betpawaEvent struct {
	Widgets      []betpawaWidget      `json:"widgets"`
	Participants []betpawaParticipant `json:"participants"`
	StartTime    time.Time            `json:"startTime"`
	Competition  betpawaCompetition   `json:"competition"`
	Markets      []betpawaMarket      `json:"markets"`
}

type betpawaListResponse struct {
	Items []betpawaEvent `json:"items"`
}

// Discover lists Betpawa's upcoming football offer.
func (f *BetpawaFetcher) Discover(ctx context.Context) ([]models.DiscoveredEvent, error) {
	body, err := f.client.GetJSON(ctx, f.baseURL+"/api/sportsbook/v1/events/list?sport=FOOTBALL")
	if err != nil {
		return nil, err
	}

	var list betpawaListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, NewFetchError(models.BookmakerBetpawa, ErrCodeDecodeError, "discovery response", err)
	}

	discovered := make([]models.DiscoveredEvent, 0, len(list.Items))
	for _, item := range list.Items {
		externalID, err := betpawaExternalID(item.Widgets)
		if err != nil {
			// Events without a SPORTRADAR widget cannot be cross-matched.
			f.logger.WithError(err).Debug("Skipping event without external id")
			continue
		}
		home, away, ok := betpawaTeams(item.Participants)
		if !ok {
			continue
		}
		var country *string
		if item.Competition.Country != nil {
			c := item.Competition.Country.Name
			country = &c
		}
		discovered = append(discovered, models.DiscoveredEvent{
			ExternalID:     externalID,
			Bookmaker:      models.BookmakerBetpawa,
			HomeTeam:       home,
			AwayTeam:       away,
			Kickoff:        item.StartTime,
			Sport:          "football",
			TournamentName: item.Competition.Name,
			Country:        country,
		})
	}
	return discovered, nil
}

// FetchEvent retrieves the full market detail for one event, addressed by
// its SportRadar widget id.
func (f *BetpawaFetcher) FetchEvent(ctx context.Context, externalID int64) (*models.RawEventDetail, error) {
	url := fmt.Sprintf("%s/api/sportsbook/v1/events/by-widget/%s/%d", f.baseURL, widgetSportRadar, externalID)
	body, err := f.client.GetJSON(ctx, url)
	if err != nil {
		return nil, err
	}

	var event betpawaEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, NewFetchError(models.BookmakerBetpawa, ErrCodeDecodeError, "event detail", err)
	}

	detail := &models.RawEventDetail{
		ExternalID: externalID,
		Bookmaker:  models.BookmakerBetpawa,
		ObservedAt: time.Now(),
	}
	for _, m := range event.Markets {
		raw := models.RawMarket{
			Bookmaker: models.BookmakerBetpawa,
			MarketID:  m.MarketType.ID,
			Name:      m.MarketType.Name,
			Line:      m.Line,
		}
		for _, p := range m.Prices {
			raw.Outcomes = append(raw.Outcomes, models.RawOutcome{
				Label:  p.Name,
				Odds:   p.Price,
				Active: !p.Suspended,
			})
		}
		detail.Markets = append(detail.Markets, raw)
	}
	return detail, nil
}

// betpawaExternalID pulls the 8-digit external id out of the SPORTRADAR
// widget.
func betpawaExternalID(widgets []betpawaWidget) (int64, error) {
	for _, w := range widgets {
		if w.Type != widgetSportRadar {
			continue
		}
		id, err := strconv.ParseInt(w.ID, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed SPORTRADAR widget id %q: %w", w.ID, err)
		}
		if !models.ValidExternalID(id) {
			return 0, fmt.Errorf("SPORTRADAR id %d outside the 8-digit range", id)
		}
		return id, nil
	}
	return 0, fmt.Errorf("no SPORTRADAR widget present")
}

func betpawaTeams(participants []betpawaParticipant) (home, away string, ok bool) {
	for _, p := range participants {
		switch p.Position {
		case 1:
			home = p.Name
		case 2:
			away = p.Name
		}
	}
	return home, away, home != "" && away != ""
}
