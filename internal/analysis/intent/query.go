package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/voyage/backend/internal/model/travel"
)

// QueryDefaults fill the search parameters an utterance does not mention.
// Using them is a deliberate simplification, not inference.
type QueryDefaults struct {
	Origin        string
	Destination   string
	Passengers    int
	DepartureLead time.Duration
}

// DefaultQueryDefaults mirrors the backend's demo route.
func DefaultQueryDefaults() QueryDefaults {
	return QueryDefaults{
		Origin:        "BLR",
		Destination:   "DXB",
		Passengers:    1,
		DepartureLead: 7 * 24 * time.Hour,
	}
}

var cityToAirport = map[string]string{
	"bengaluru":     "BLR",
	"bangalore":     "BLR",
	"mumbai":        "BOM",
	"bombay":        "BOM",
	"delhi":         "DEL",
	"new delhi":     "DEL",
	"chennai":       "MAA",
	"madras":        "MAA",
	"kolkata":       "CCU",
	"calcutta":      "CCU",
	"hyderabad":     "HYD",
	"pune":          "PNQ",
	"ahmedabad":     "AMD",
	"riyadh":        "RUH",
	"jeddah":        "JED",
	"dammam":        "DMM",
	"mecca":         "JED",
	"medina":        "MED",
	"abha":          "AHB",
	"taif":          "TIF",
	"tabuk":         "TUU",
	"dubai":         "DXB",
	"abu dhabi":     "AUH",
	"doha":          "DOH",
	"bahrain":       "BAH",
	"kuwait":        "KWI",
	"muscat":        "MCT",
	"singapore":     "SIN",
	"london":        "LHR",
	"new york":      "JFK",
	"los angeles":   "LAX",
	"san francisco": "SFO",
	"paris":         "CDG",
	"frankfurt":     "FRA",
}

const stopWords = `(?: (?:on|for|in|with|next|this|tomorrow|today|departing|leaving|please|around)\b|$)`

var (
	routePattern      = regexp.MustCompile(`\bfrom ([a-z][a-z ]*?) to ([a-z][a-z ]*?)` + stopWords)
	datePattern       = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	passengersPattern = regexp.MustCompile(`\b(\d{1,2}) (?:passengers?|people|persons?|adults?|travell?ers?|tickets?)\b`)
)

// ExtractFlightQuery derives search parameters from an utterance, taking
// anything it cannot find from defaults.
func ExtractFlightQuery(utterance string, defaults QueryDefaults, now time.Time) travel.FlightQuery {
	text := strings.TrimSpace(normalize(utterance))

	query := travel.FlightQuery{
		Origin:        defaults.Origin,
		Destination:   defaults.Destination,
		DepartureDate: now.Add(defaults.DepartureLead).Format("2006-01-02"),
		Passengers:    defaults.Passengers,
	}
	if query.Passengers < 1 {
		query.Passengers = 1
	}

	if m := routePattern.FindStringSubmatch(text); m != nil {
		if code := AirportCode(m[1]); code != "" {
			query.Origin = code
		}
		if code := AirportCode(m[2]); code != "" {
			query.Destination = code
		}
	} else if code, ok := destinationAfterTo(text); ok {
		query.Destination = code
	}

	if m := datePattern.FindStringSubmatch(text); m != nil {
		if _, err := time.Parse("2006-01-02", m[1]); err == nil {
			query.DepartureDate = m[1]
		}
	}

	if m := passengersPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			query.Passengers = n
		}
	}

	return query
}

// destinationAfterTo looks for a known city right after the last "to".
func destinationAfterTo(text string) (string, bool) {
	words := strings.Fields(text)
	for i := len(words) - 2; i >= 0; i-- {
		if words[i] != "to" {
			continue
		}
		if i+2 < len(words) {
			if code, ok := cityToAirport[words[i+1]+" "+words[i+2]]; ok {
				return code, true
			}
		}
		if code, ok := cityToAirport[words[i+1]]; ok {
			return code, true
		}
	}
	return "", false
}

// AirportCode maps a city name or IATA code to an IATA code. Unknown names
// are truncated to their first three letters, as the booking backend does.
func AirportCode(location string) string {
	name := strings.ToLower(strings.TrimSpace(location))
	if name == "" {
		return ""
	}
	if code, ok := cityToAirport[name]; ok {
		return code
	}
	compact := strings.ReplaceAll(name, " ", "")
	if len(compact) > 3 {
		compact = compact[:3]
	}
	return strings.ToUpper(compact)
}
