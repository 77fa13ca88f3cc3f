package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/oddsradar/internal/cache"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/models"
	"github.com/yourusername/oddsradar/internal/repository"
)

// --- fakes -----------------------------------------------------------------

type fakeMarketRepo struct {
	current map[int64]map[models.Bookmaker][]*models.Market
	history []*models.HistoryPoint
}

func (r *fakeMarketRepo) ApplyBatch(ctx context.Context, batch *models.WriteBatch) error { return nil }

func (r *fakeMarketRepo) GetCurrentByEvent(ctx context.Context, eventID int64) (map[models.Bookmaker][]*models.Market, error) {
	return r.current[eventID], nil
}

func (r *fakeMarketRepo) GetOddsHistory(ctx context.Context, eventID int64, bookmaker models.Bookmaker, canonicalID string, line *decimal.Decimal, start, end time.Time) ([]*models.HistoryPoint, error) {
	return r.history, nil
}

func (r *fakeMarketRepo) GetMarginHistory(ctx context.Context, eventID int64, bookmaker models.Bookmaker, canonicalID string, line *decimal.Decimal, start, end time.Time) ([]*models.HistoryPoint, error) {
	return r.history, nil
}

func (r *fakeMarketRepo) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeMarketRepo) DeleteCurrentForEvents(ctx context.Context, eventIDs []int64) error {
	return nil
}

type fakeEventRepo struct {
	events []*models.Event
}

func (r *fakeEventRepo) Upsert(ctx context.Context, event *models.Event) error { return nil }

func (r *fakeEventRepo) GetByExternalID(ctx context.Context, externalID int64) (*models.Event, error) {
	for _, ev := range r.events {
		if ev.ExternalID == externalID {
			return ev, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *fakeEventRepo) GetUpcoming(ctx context.Context, from time.Time, limit int) ([]*models.Event, error) {
	var out []*models.Event
	for _, ev := range r.events {
		if !ev.Kickoff.Before(from) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) DeleteKickedOffBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeRunRepo struct {
	runs map[int64]*models.ScrapeRun
}

func (r *fakeRunRepo) Create(ctx context.Context, startedAt time.Time) (int64, error) { return 1, nil }
func (r *fakeRunRepo) Finish(ctx context.Context, run *models.ScrapeRun) error        { return nil }

func (r *fakeRunRepo) GetByID(ctx context.Context, id int64) (*models.ScrapeRun, error) {
	run, ok := r.runs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return run, nil
}

func (r *fakeRunRepo) GetLatest(ctx context.Context, limit int) ([]*models.ScrapeRun, error) {
	return nil, nil
}

func (r *fakeRunRepo) LastFinishedAt(ctx context.Context) (time.Time, error) {
	return time.Time{}, models.ErrNotFound
}

func (r *fakeRunRepo) FailStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

type fakeScraper struct {
	running   bool
	cycleRuns int
	eventRuns []int64
}

func (s *fakeScraper) RunCycle(ctx context.Context) (*models.ScrapeRun, error) {
	s.cycleRuns++
	return &models.ScrapeRun{ID: 9, Status: models.RunStatusSuccess}, nil
}

func (s *fakeScraper) ScrapeEvent(ctx context.Context, externalID int64) (*models.ScrapeRun, error) {
	if !models.ValidExternalID(externalID) {
		return nil, models.ErrInvalidInput
	}
	s.eventRuns = append(s.eventRuns, externalID)
	return &models.ScrapeRun{ID: 10, Status: models.RunStatusSuccess, EventsSeen: 1}, nil
}

func (s *fakeScraper) Running() bool { return s.running }

type fakeScheduler struct {
	paused   bool
	interval time.Duration
}

func (s *fakeScheduler) Pause()                  { s.paused = true }
func (s *fakeScheduler) Resume()                 { s.paused = false }
func (s *fakeScheduler) Paused() bool            { return s.paused }
func (s *fakeScheduler) Interval() time.Duration { return s.interval }

func (s *fakeScheduler) SetInterval(ctx context.Context, seconds int) error {
	if seconds < 30 {
		return fmt.Errorf("%w: too short", models.ErrInvalidInput)
	}
	s.interval = time.Duration(seconds) * time.Second
	return nil
}

// --- rig ---------------------------------------------------------------------

type apiRig struct {
	server    *httptest.Server
	cache     *cache.Cache
	markets   *fakeMarketRepo
	events    *fakeEventRepo
	runs      *fakeRunRepo
	scraper   *fakeScraper
	scheduler *fakeScheduler
}

func newAPIRig() *apiRig {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	rig := &apiRig{
		cache:     cache.New(),
		markets:   &fakeMarketRepo{current: make(map[int64]map[models.Bookmaker][]*models.Market)},
		events:    &fakeEventRepo{},
		runs:      &fakeRunRepo{runs: make(map[int64]*models.ScrapeRun)},
		scraper:   &fakeScraper{},
		scheduler: &fakeScheduler{interval: time.Minute},
	}
	repos := &repository.Repositories{
		Market:    rig.markets,
		Event:     rig.events,
		ScrapeRun: rig.runs,
	}
	srv := NewServer(&config.APIConfig{Port: 8090, HealthPort: 8091}, repos, rig.cache,
		rig.scraper, rig.scheduler,
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusSwitchingProtocols) },
		logger)
	rig.server = httptest.NewServer(srv.Routes())
	return rig
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func doRequest(t *testing.T, method, url string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	return resp
}

func testEvent(extID int64, kickoff time.Time, country string) *models.Event {
	return &models.Event{
		ExternalID: extID,
		HomeTeam:   "Arsenal",
		AwayTeam:   "Chelsea",
		Kickoff:    kickoff,
		Sport:      "football",
		Tournament: &models.Tournament{ID: 1, Sport: "football", Name: "Premier League", Country: &country},
	}
}

func testMarket() *models.Market {
	return &models.Market{
		CanonicalID: "1X2",
		DisplayName: "Match Result",
		Outcomes: []models.Outcome{
			{Name: "1", Odds: decimal.RequireFromString("2.10"), Active: true},
			{Name: "X", Odds: decimal.RequireFromString("3.30"), Active: true},
			{Name: "2", Odds: decimal.RequireFromString("3.40"), Active: true},
		},
		Margin: decimal.RequireFromString("7.33"),
	}
}

// --- tests -------------------------------------------------------------------

func TestListEventsWithCacheMarkets(t *testing.T) {
	rig := newAPIRig()
	defer rig.server.Close()

	extID := int64(12345678)
	kickoff := time.Now().Add(24 * time.Hour).UTC()
	rig.events.events = []*models.Event{testEvent(extID, kickoff, "England")}
	rig.cache.Put(extID, models.BookmakerBetpawa, []*models.Market{testMarket()}, time.Now(), 1)

	resp, err := http.Get(rig.server.URL + "/events")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	payload := decodeBody[[]eventPayload](t, resp)
	if len(payload) != 1 {
		t.Fatalf("expected 1 event, got %d", len(payload))
	}
	if len(payload[0].Markets[models.BookmakerBetpawa]) != 1 {
		t.Errorf("cached markets missing from payload: %+v", payload[0].Markets)
	}
}

func TestListEventsFilters(t *testing.T) {
	rig := newAPIRig()
	defer rig.server.Close()

	kickoff := time.Now().Add(24 * time.Hour).UTC()
	rig.events.events = []*models.Event{
		testEvent(12345678, kickoff, "England"),
		testEvent(22345678, kickoff, "Spain"),
	}

	resp, err := http.Get(rig.server.URL + "/events?country=england")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	payload := decodeBody[[]eventPayload](t, resp)
	if len(payload) != 1 || payload[0].ExternalID != 12345678 {
		t.Errorf("country filter failed: %+v", payload)
	}

	resp, err = http.Get(rig.server.URL + "/events?tournament=premier%20league")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	payload = decodeBody[[]eventPayload](t, resp)
	if len(payload) != 2 {
		t.Errorf("tournament filter should match both events, got %d", len(payload))
	}

	resp, err = http.Get(rig.server.URL + "/events?limit=0")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad limit, got %d", resp.StatusCode)
	}
}

func TestGetEventFallsBackToRepository(t *testing.T) {
	rig := newAPIRig()
	defer rig.server.Close()

	extID := int64(32345678)
	rig.events.events = []*models.Event{testEvent(extID, time.Now().Add(time.Hour).UTC(), "England")}
	rig.markets.current[extID] = map[models.Bookmaker][]*models.Market{
		models.BookmakerSportyBet: {testMarket()},
	}

	resp, err := http.Get(rig.server.URL + fmt.Sprintf("/events/%d", extID))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	payload := decodeBody[eventPayload](t, resp)
	if len(payload.Markets[models.BookmakerSportyBet]) != 1 {
		t.Errorf("persisted fallback missing: %+v", payload.Markets)
	}
}

func TestGetEventNotFound(t *testing.T) {
	rig := newAPIRig()
	defer rig.server.Close()

	resp, err := http.Get(rig.server.URL + "/events/99999999")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHistoryQueryValidation(t *testing.T) {
	rig := newAPIRig()
	defer rig.server.Close()

	tests := []string{
		"/history/odds",                                           // missing everything
		"/history/odds?event=123&bookmaker=betpawa&market=1X2",    // bad event id
		"/history/odds?event=12345678&bookmaker=nope&market=1X2",  // bad bookmaker
		"/history/odds?event=12345678&bookmaker=betpawa",          // missing market
		"/history/odds?event=12345678&bookmaker=betpawa&market=OU&line=abc", // bad line
	}
	for _, path := range tests {
		resp, err := http.Get(rig.server.URL + path)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, resp.StatusCode)
		}
	}

	rig.markets.history = []*models.HistoryPoint{{EventID: 12345678, Bookmaker: models.BookmakerBetpawa}}
	resp, err := http.Get(rig.server.URL + "/history/odds?event=12345678&bookmaker=betpawa&market=OU&line=2.5")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	points := decodeBody[[]*models.HistoryPoint](t, resp)
	if len(points) != 1 {
		t.Errorf("expected 1 history point, got %d", len(points))
	}
}

func TestTriggerCycle(t *testing.T) {
	rig := newAPIRig()
	defer rig.server.Close()

	resp := doRequest(t, http.MethodPost, rig.server.URL+"/scrape", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202, got %d", resp.StatusCode)
	}

	rig.scraper.running = true
	resp = doRequest(t, http.MethodPost, rig.server.URL+"/scrape", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 while a cycle runs, got %d", resp.StatusCode)
	}
}

func TestScrapeEventEndpoint(t *testing.T) {
	rig := newAPIRig()
	defer rig.server.Close()

	resp := doRequest(t, http.MethodPost, rig.server.URL+"/scrape/event/123", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a short id, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPost, rig.server.URL+"/scrape/event/12345678", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	run := decodeBody[models.ScrapeRun](t, resp)
	if run.EventsSeen != 1 {
		t.Errorf("unexpected run payload: %+v", run)
	}
	if len(rig.scraper.eventRuns) != 1 || rig.scraper.eventRuns[0] != 12345678 {
		t.Errorf("scraper not invoked correctly: %v", rig.scraper.eventRuns)
	}
}

func TestRunStatusEndpoints(t *testing.T) {
	rig := newAPIRig()
	defer rig.server.Close()

	rig.runs.runs[7] = &models.ScrapeRun{ID: 7, Status: models.RunStatusSuccess}

	resp, err := http.Get(rig.server.URL + "/scrape/7")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	run := decodeBody[models.ScrapeRun](t, resp)
	if run.ID != 7 {
		t.Errorf("unexpected run: %+v", run)
	}

	resp, err = http.Get(rig.server.URL + "/scrape/8")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	// The retired streaming endpoint answers 410 for anyone still polling it.
	resp, err = http.Get(rig.server.URL + "/scrape/stream")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Errorf("expected 410, got %d", resp.StatusCode)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	rig := newAPIRig()
	defer rig.server.Close()

	resp := doRequest(t, http.MethodPost, rig.server.URL+"/scheduler/pause", "")
	resp.Body.Close()
	if !rig.scheduler.paused {
		t.Error("pause endpoint did not pause the scheduler")
	}

	resp = doRequest(t, http.MethodPost, rig.server.URL+"/scheduler/resume", "")
	resp.Body.Close()
	if rig.scheduler.paused {
		t.Error("resume endpoint did not resume the scheduler")
	}

	resp = doRequest(t, http.MethodPut, rig.server.URL+"/scheduler/interval", `{"seconds": 10}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a sub-30s interval, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPut, rig.server.URL+"/scheduler/interval", `{"seconds": 300}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || rig.scheduler.interval != 5*time.Minute {
		t.Errorf("interval update failed: status %d, interval %s", resp.StatusCode, rig.scheduler.interval)
	}

	resp, err := http.Get(rig.server.URL + "/scheduler")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	status := decodeBody[schedulerStatus](t, resp)
	if status.IntervalSeconds != 300 {
		t.Errorf("unexpected scheduler status: %+v", status)
	}
}
