// Package fetcher talks to the bookmaker APIs. Each bookmaker has its own
// client decoding its own wire shape into the shared raw types; the rest
// of the system never sees upstream JSON.
package fetcher

import (
	"context"
	"errors"

	"github.com/yourusername/oddsradar/internal/models"
)

// Fetcher defines the interface one bookmaker client implements
type Fetcher interface {
	// Discover retrieves the bookmaker's current upcoming-football offer:
	// one entry per event, no markets.
	Discover(ctx context.Context) ([]models.DiscoveredEvent, error)

	// FetchEvent retrieves the full market detail for one event by its
	// external match id.
	FetchEvent(ctx context.Context, externalID int64) (*models.RawEventDetail, error)

	// Bookmaker returns the slug this fetcher scrapes.
	Bookmaker() models.Bookmaker
}

// Common error codes
const (
	ErrCodeNetworkError = "network_error"
	ErrCodeServerError  = "server_error"
	ErrCodeNotFound     = "not_found"
	ErrCodeDecodeError  = "decode_error"
	ErrCodeShapeError   = "shape_violation"
)

// ErrEventNotFound is returned when a bookmaker no longer lists the event.
var ErrEventNotFound = errors.New("event not found upstream")

// FetchError wraps a failed bookmaker call with enough context to log and
// count it. A FetchError fails one slot, never the cycle.
type FetchError struct {
	Bookmaker models.Bookmaker
	Code      string
	Message   string
	Err       error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return string(e.Bookmaker) + ": " + e.Code + ": " + e.Message + " (" + e.Err.Error() + ")"
	}
	return string(e.Bookmaker) + ": " + e.Code + ": " + e.Message
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new fetch error
func NewFetchError(bookmaker models.Bookmaker, code, message string, err error) *FetchError {
	return &FetchError{Bookmaker: bookmaker, Code: code, Message: message, Err: err}
}
