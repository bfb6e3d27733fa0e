package travel

// Flight is a single flight record returned by the search backend.
type Flight struct {
	Airline       string  `json:"airline"`
	FlightNumber  string  `json:"flight_number"`
	Origin        string  `json:"origin,omitempty"`
	Destination   string  `json:"destination,omitempty"`
	DepartureTime string  `json:"departure_time"`
	ArrivalTime   string  `json:"arrival_time,omitempty"`
	Duration      string  `json:"duration,omitempty"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency,omitempty"`
}

// SearchResult is the payload of a flight search. Beyond the flight list
// the backend's response shape is not interpreted.
type SearchResult struct {
	OutboundFlights []Flight `json:"outbound_flights"`
}

// Empty reports whether the search produced no flights.
func (r *SearchResult) Empty() bool {
	return r == nil || len(r.OutboundFlights) == 0
}

// Top returns the first flight, which the backend ranks best.
func (r *SearchResult) Top() (Flight, bool) {
	if r.Empty() {
		return Flight{}, false
	}
	return r.OutboundFlights[0], true
}

// Hotel is a single hotel record returned by the search backend.
type Hotel struct {
	Name          string  `json:"name"`
	City          string  `json:"city,omitempty"`
	StarRating    int     `json:"star_rating,omitempty"`
	PricePerNight float64 `json:"price_per_night"`
	Currency      string  `json:"currency,omitempty"`
}

// HotelResult is the payload of a hotel search.
type HotelResult struct {
	Hotels []Hotel `json:"hotels"`
}
