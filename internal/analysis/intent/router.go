package intent

import "strings"

// Intent is the category assigned to a user utterance.
type Intent string

const (
	FlightSearch Intent = "flight_search"
	Greeting     Intent = "greeting"
	HotelSearch  Intent = "hotel_search"
	BookingHelp  Intent = "booking_help"
	Fallback     Intent = "fallback"
)

// Rule maps a keyword set to an intent. Priority is the rule's position
// in the table, lower wins.
type Rule struct {
	Intent   Intent
	Priority int
	Keywords []string
}

// Matches reports whether any keyword occurs in the normalized utterance.
func (r Rule) Matches(normalized string) bool {
	for _, word := range r.Keywords {
		if word == "" {
			continue
		}
		if strings.Contains(normalized, word) {
			return true
		}
	}
	return false
}

// rules is evaluated top to bottom; the first match wins.
// Keywords are lower case. Short greetings are padded with spaces
// because utterances are normalized to " text ".
var rules = []Rule{
	{Intent: FlightSearch, Keywords: []string{
		"flight", "flights", "fly ", "flying", "airline", "airfare", "plane", "air ticket", "one way", "round trip",
	}},
	{Intent: BookingHelp, Keywords: []string{
		"booking reference", "booking status", "my booking", "cancel my", "cancel booking", "pnr",
	}},
	{Intent: Greeting, Keywords: []string{
		"hello", " hi ", " hey ", "good morning", "good afternoon", "good evening", "namaste", "greetings",
	}},
	{Intent: HotelSearch, Keywords: []string{
		"hotel", "resort", "accommodation", "place to stay", "room for", "rooms", "check in", "check-in",
	}},
	{Intent: BookingHelp, Keywords: []string{
		"book", "reserve", "reservation", "cancel", "refund", "help", "agent",
	}},
}

func init() {
	for i := range rules {
		rules[i].Priority = i
	}
}

// Rules returns a copy of the ordered rule table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Classify returns the intent of the first rule matching the utterance,
// or Fallback. It is pure: the result depends only on the input.
func Classify(utterance string) Intent {
	normalized := normalize(utterance)
	if strings.TrimSpace(normalized) == "" {
		return Fallback
	}
	for _, rule := range rules {
		if rule.Matches(normalized) {
			return rule.Intent
		}
	}
	return Fallback
}

// normalize lowercases the utterance, turns punctuation into spaces and
// pads it so word-boundary keywords such as " hi " can match at the edges.
func normalize(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	mapped := strings.Map(func(r rune) rune {
		switch r {
		case ',', '.', '!', '?', ';', ':', '\t', '\n':
			return ' '
		}
		return r
	}, lower)
	return " " + strings.Join(strings.Fields(mapped), " ") + " "
}
