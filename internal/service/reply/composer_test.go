package reply

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voyage/backend/internal/analysis/intent"
	"github.com/zhouzirui/voyage/backend/internal/model/chat"
	"github.com/zhouzirui/voyage/backend/internal/model/travel"
)

type stubRephraser struct {
	text  string
	err   error
	calls int
}

func (s *stubRephraser) Rephrase(_ context.Context, _, _, draft string, _ []chat.Message) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.text + " (" + draft + ")", nil
}

func newComposer(t *testing.T, r Rephraser) *Composer {
	t.Helper()
	c, err := NewComposer(context.Background(), r, nil)
	require.NoError(t, err)
	return c
}

var query = travel.FlightQuery{Origin: "BLR", Destination: "DXB", DepartureDate: "2025-12-08", Passengers: 1}

func TestComposeFlightSummary(t *testing.T) {
	c := newComposer(t, nil)
	result := &travel.SearchResult{OutboundFlights: []travel.Flight{
		{Airline: "Emirates", FlightNumber: "EK 565", DepartureTime: "04:25", Price: 18000},
	}}

	got, err := c.Compose(context.Background(), Request{Intent: intent.FlightSearch, Query: query, Result: result})
	require.NoError(t, err)
	assert.Contains(t, got.Text, "18000")
	assert.Contains(t, got.Text, "Emirates")
	assert.Contains(t, got.Text, "EK 565")
	assert.Contains(t, got.Text, "from BLR to DXB")
	assert.Equal(t, intent.FlightSearch, got.Intent)
}

func TestComposeFlightSummaryPicksTopOfMany(t *testing.T) {
	c := newComposer(t, nil)
	result := &travel.SearchResult{OutboundFlights: []travel.Flight{
		{Airline: "IndiGo", FlightNumber: "6E 1401", Price: 15499.5, Currency: "INR"},
		{Airline: "Air India", FlightNumber: "AI 933", Price: 21000},
	}}

	got, err := c.Compose(context.Background(), Request{Intent: intent.FlightSearch, Query: query, Result: result})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.Text, "I found 2 flights"))
	assert.Contains(t, got.Text, "IndiGo flight 6E 1401")
	assert.Contains(t, got.Text, "15499.5 INR")
	assert.NotContains(t, got.Text, "Air India")
}

func TestComposeNoFlights(t *testing.T) {
	c := newComposer(t, nil)
	got, err := c.Compose(context.Background(), Request{Intent: intent.FlightSearch, Query: query, Result: &travel.SearchResult{}})
	require.NoError(t, err)
	assert.Contains(t, got.Text, "couldn't find any flights from BLR to DXB on 2025-12-08")
}

func TestComposeStaticIntents(t *testing.T) {
	c := newComposer(t, nil)
	cases := map[intent.Intent]string{
		intent.Greeting:    GreetingText,
		intent.HotelSearch: HotelText,
		intent.BookingHelp: BookingHelpText,
		intent.Fallback:    FallbackText,
	}
	for in, want := range cases {
		got, err := c.Compose(context.Background(), Request{Intent: in})
		require.NoError(t, err)
		assert.Equal(t, want, got.Text, "intent %s", in)
		assert.False(t, got.Rephrased)
	}
}

func TestComposeRephrasesGenericReplies(t *testing.T) {
	r := &stubRephraser{text: "Sure thing"}
	c := newComposer(t, r)

	got, err := c.Compose(context.Background(), Request{Intent: intent.Fallback, Utterance: "what's up"})
	require.NoError(t, err)
	assert.True(t, got.Rephrased)
	assert.Equal(t, "Sure thing ("+FallbackText+")", got.Text)

	_, err = c.Compose(context.Background(), Request{Intent: intent.Greeting})
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls, "greeting must not be rephrased")
}

func TestComposeKeepsDraftWhenRephraseFails(t *testing.T) {
	c := newComposer(t, &stubRephraser{err: errors.New("model unavailable")})

	got, err := c.Compose(context.Background(), Request{Intent: intent.BookingHelp})
	require.NoError(t, err)
	assert.False(t, got.Rephrased)
	assert.Equal(t, BookingHelpText, got.Text)
}
