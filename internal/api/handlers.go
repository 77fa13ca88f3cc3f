package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/oddsradar/internal/models"
)

// defaultHistoryWindow bounds history queries without explicit range
// parameters. It matches the default retention window.
const defaultHistoryWindow = 14 * 24 * time.Hour

const (
	defaultEventLimit = 100
	maxEventLimit     = 500
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// eventPayload is an event plus its per-bookmaker current markets.
type eventPayload struct {
	*models.Event
	Markets map[models.Bookmaker][]*models.Market `json:"markets"`
}

// handleListEvents serves GET /events with tournament, country, kickoff
// window and include-started filters.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > maxEventLimit {
			parsed = maxEventLimit
		}
		limit = parsed
	}

	from := time.Now()
	if q.Get("include_started") == "true" {
		from = time.Unix(0, 0)
	}
	if v := q.Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		from = parsed
	}
	var to *time.Time
	if v := q.Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		to = &parsed
	}

	tournament := q.Get("tournament")
	countries := splitSet(q.Get("country"))

	events, err := s.repos.Event.GetUpcoming(r.Context(), from, limit)
	if err != nil {
		s.logger.WithError(err).Error("Event list query failed")
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	payload := make([]eventPayload, 0, len(events))
	for _, ev := range events {
		if to != nil && ev.Kickoff.After(*to) {
			continue
		}
		if tournament != "" && (ev.Tournament == nil || !strings.EqualFold(ev.Tournament.Name, tournament)) {
			continue
		}
		if len(countries) > 0 && !countryMatches(ev, countries) {
			continue
		}
		payload = append(payload, eventPayload{
			Event:   ev,
			Markets: s.currentMarkets(r.Context(), ev.ExternalID),
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleGetEvent serves GET /events/{id}.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "event id must be numeric")
		return
	}

	ev, err := s.repos.Event.GetByExternalID(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		s.logger.WithError(err).Error("Event query failed")
		writeError(w, http.StatusInternalServerError, "failed to load event")
		return
	}

	writeJSON(w, http.StatusOK, eventPayload{
		Event:   ev,
		Markets: s.currentMarkets(r.Context(), id),
	})
}

// currentMarkets prefers the in-memory snapshots and falls back to the
// persisted current state, e.g. right after a restart before the first
// cycle repopulates the cache.
func (s *Server) currentMarkets(ctx context.Context, eventID int64) map[models.Bookmaker][]*models.Market {
	out := make(map[models.Bookmaker][]*models.Market)
	for bm, snap := range s.cache.GetCurrent(eventID) {
		out[bm] = sortedByKey(snap.Markets)
	}
	if len(out) > 0 {
		return out
	}

	persisted, err := s.repos.Market.GetCurrentByEvent(ctx, eventID)
	if err != nil {
		s.logger.WithError(err).WithField("event_id", eventID).Warn("Current market fallback failed")
		return out
	}
	return persisted
}

func sortedByKey(markets map[string]*models.Market) []*models.Market {
	keys := make([]string, 0, len(markets))
	for k := range markets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*models.Market, 0, len(keys))
	for _, k := range keys {
		out = append(out, markets[k])
	}
	return out
}

// historyQuery is the parsed parameter set shared by both history
// endpoints.
type historyQuery struct {
	eventID     int64
	bookmaker   models.Bookmaker
	canonicalID string
	line        *decimal.Decimal
	start, end  time.Time
}

func parseHistoryQuery(r *http.Request) (*historyQuery, string) {
	q := r.URL.Query()

	eventID, err := strconv.ParseInt(q.Get("event"), 10, 64)
	if err != nil || !models.ValidExternalID(eventID) {
		return nil, "event must be an 8-digit external id"
	}
	bookmaker := models.Bookmaker(q.Get("bookmaker"))
	if !bookmaker.Valid() {
		return nil, "unknown bookmaker"
	}
	canonicalID := q.Get("market")
	if canonicalID == "" {
		return nil, "market is required"
	}

	var line *decimal.Decimal
	if v := q.Get("line"); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return nil, "line must be numeric"
		}
		line = &parsed
	}

	end := time.Now()
	if v := q.Get("end"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, "end must be RFC3339"
		}
		end = parsed
	}
	start := end.Add(-defaultHistoryWindow)
	if v := q.Get("start"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, "start must be RFC3339"
		}
		start = parsed
	}

	return &historyQuery{
		eventID:     eventID,
		bookmaker:   bookmaker,
		canonicalID: canonicalID,
		line:        line,
		start:       start,
		end:         end,
	}, ""
}

// handleOddsHistory serves GET /history/odds.
func (s *Server) handleOddsHistory(w http.ResponseWriter, r *http.Request) {
	hq, msg := parseHistoryQuery(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	points, err := s.repos.Market.GetOddsHistory(r.Context(), hq.eventID, hq.bookmaker, hq.canonicalID, hq.line, hq.start, hq.end)
	if err != nil {
		s.logger.WithError(err).Error("Odds history query failed")
		writeError(w, http.StatusInternalServerError, "failed to load odds history")
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// handleMarginHistory serves GET /history/margin.
func (s *Server) handleMarginHistory(w http.ResponseWriter, r *http.Request) {
	hq, msg := parseHistoryQuery(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	points, err := s.repos.Market.GetMarginHistory(r.Context(), hq.eventID, hq.bookmaker, hq.canonicalID, hq.line, hq.start, hq.end)
	if err != nil {
		s.logger.WithError(err).Error("Margin history query failed")
		writeError(w, http.StatusInternalServerError, "failed to load margin history")
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// handleTriggerCycle serves POST /scrape. The cycle runs detached; the
// caller polls run status.
func (s *Server) handleTriggerCycle(w http.ResponseWriter, r *http.Request) {
	if s.scraper.Running() {
		writeError(w, http.StatusConflict, "a scrape cycle is already running")
		return
	}

	go func() {
		if _, err := s.scraper.RunCycle(context.Background()); err != nil {
			s.logger.WithError(err).Warn("Triggered cycle failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cycle started"})
}

// handleScrapeEvent serves POST /scrape/event/{extID}: a synchronous
// single-event refresh.
func (s *Server) handleScrapeEvent(w http.ResponseWriter, r *http.Request) {
	extID, err := strconv.ParseInt(r.PathValue("extID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "external id must be numeric")
		return
	}

	run, err := s.scraper.ScrapeEvent(r.Context(), extID)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "external id must be 8 digits")
			return
		}
		s.logger.WithError(err).Error("On-demand scrape failed")
		writeError(w, http.StatusInternalServerError, "scrape failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleGetRun serves GET /scrape/{runID}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(r.PathValue("runID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "run id must be numeric")
		return
	}

	run, err := s.repos.ScrapeRun.GetByID(r.Context(), runID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.WithError(err).Error("Run query failed")
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleStreamGone serves the retired streaming endpoint.
func (s *Server) handleStreamGone(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusGone, "streaming endpoint retired, subscribe on /ws instead")
}

type schedulerStatus struct {
	Paused          bool `json:"paused"`
	IntervalSeconds int  `json:"interval_seconds"`
	CycleRunning    bool `json:"cycle_running"`
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, schedulerStatus{
		Paused:          s.scheduler.Paused(),
		IntervalSeconds: int(s.scheduler.Interval().Seconds()),
		CycleRunning:    s.scraper.Running(),
	})
}

func (s *Server) handleSchedulerPause(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleSchedulerResume(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type setIntervalRequest struct {
	Seconds int `json:"seconds"`
}

func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var req setIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be {\"seconds\": n}")
		return
	}
	if err := s.scheduler.SetInterval(r.Context(), req.Seconds); err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.WithError(err).Error("Interval update failed")
		writeError(w, http.StatusInternalServerError, "failed to update interval")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"interval_seconds": req.Seconds})
}

// splitSet parses a comma-separated filter into a lower-cased set.
func splitSet(v string) map[string]bool {
	if v == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out[part] = true
		}
	}
	return out
}

func countryMatches(ev *models.Event, countries map[string]bool) bool {
	if ev.Tournament == nil || ev.Tournament.Country == nil {
		return false
	}
	return countries[strings.ToLower(*ev.Tournament.Country)]
}
