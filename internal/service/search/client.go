package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/voyage/backend/internal/model/travel"
)

const maxErrorBody = 512

// Searcher is the flight search collaborator used by the response pipeline.
type Searcher interface {
	SearchFlights(ctx context.Context, query travel.FlightQuery) (*travel.SearchResult, error)
}

// CacheClearer resets backend-side result caches at the start of a call.
type CacheClearer interface {
	ClearCache(ctx context.Context) error
}

// StatusError reports a non-2xx answer from the search backend.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("search: %s returned status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("search: %s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Client calls the travel search backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewClient builds a client for baseURL. A nil httpClient gets a default
// client with a generous timeout; callers bound individual calls with
// their context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tracer:     otel.Tracer("voyage.internal.service.search"),
	}
}

type flightsPayload struct {
	OutboundFlights []travel.Flight `json:"outbound_flights"`
	Flights         []travel.Flight `json:"flights"`
}

// SearchFlights runs a flight search. Older backends answer with a
// "flights" array instead of "outbound_flights"; both are accepted.
func (c *Client) SearchFlights(ctx context.Context, query travel.FlightQuery) (*travel.SearchResult, error) {
	ctx, span := c.tracer.Start(ctx, "search.flights", trace.WithAttributes(
		attribute.String("search.origin", query.Origin),
		attribute.String("search.destination", query.Destination),
		attribute.String("search.departure_date", query.DepartureDate),
	))
	defer span.End()

	var payload flightsPayload
	if err := c.post(ctx, "/api/search-flights", query, &payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "flight search failed")
		return nil, err
	}

	flights := payload.OutboundFlights
	if len(flights) == 0 {
		flights = payload.Flights
	}
	span.SetAttributes(attribute.Int("search.results", len(flights)))
	return &travel.SearchResult{OutboundFlights: flights}, nil
}

// SearchHotels runs a hotel search.
func (c *Client) SearchHotels(ctx context.Context, query travel.HotelQuery) (*travel.HotelResult, error) {
	ctx, span := c.tracer.Start(ctx, "search.hotels", trace.WithAttributes(
		attribute.String("search.destination", query.Destination),
	))
	defer span.End()

	var result travel.HotelResult
	if err := c.post(ctx, "/api/search-hotels", query, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "hotel search failed")
		return nil, err
	}
	return &result, nil
}

// ClearCache drops the backend's cached result cards.
func (c *Client) ClearCache(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "search.clear_cache")
	defer span.End()

	if err := c.post(ctx, "/api/clear-cache", nil, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "clear cache failed")
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("search: encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("search: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("search: decode %s response: %w", path, err)
	}
	return nil
}
