package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const defaultFlightsBaseURL = "https://api.flightdata.example.com/v2"

// FlightsAdapter searches round-trip flight options.
type FlightsAdapter struct {
	http *httpClient
}

// NewFlightsAdapter creates the flight search adapter.
func NewFlightsAdapter(baseURL, apiKey string, client *http.Client) *FlightsAdapter {
	if baseURL == "" {
		baseURL = defaultFlightsBaseURL
	}
	return &FlightsAdapter{http: newHTTPClient(SourceFlights, baseURL, apiKey, client)}
}

// Source implements Adapter.
func (a *FlightsAdapter) Source() Source { return SourceFlights }

type flightsResponse struct {
	Offers []struct {
		Carrier       string  `json:"carrier"`
		CarrierCode   string  `json:"carrier_code"`
		Origin        string  `json:"origin"`
		Destination   string  `json:"destination"`
		DepartureTime string  `json:"departure_time"`
		ArrivalTime   string  `json:"arrival_time"`
		DurationHours float64 `json:"duration_hours"`
		Stops         int     `json:"stops"`
		Price         float64 `json:"price"`
		Currency      string  `json:"currency"`
		Cabin         string  `json:"cabin"`
	} `json:"offers"`
}

// Fetch implements Adapter.
func (a *FlightsAdapter) Fetch(ctx context.Context, req Request) (Payload, error) {
	params := url.Values{}
	params.Set("origin", req.Origin)
	params.Set("destination", req.Destination)
	params.Set("depart", req.StartDate.Format("2006-01-02"))
	params.Set("return", req.EndDate.Format("2006-01-02"))
	if req.Travelers > 0 {
		params.Set("adults", strconv.Itoa(req.Travelers))
	}
	if req.Currency != "" {
		params.Set("currency", req.Currency)
	}

	var resp flightsResponse
	if err := a.http.getJSON(ctx, "/search", params, &resp); err != nil {
		return nil, err
	}

	var results FlightResults
	for _, offer := range resp.Offers {
		results.Options = append(results.Options, FlightOption{
			Carrier:       offer.Carrier,
			CarrierCode:   offer.CarrierCode,
			Departure:     offer.Origin,
			Arrival:       offer.Destination,
			DepartureTime: offer.DepartureTime,
			ArrivalTime:   offer.ArrivalTime,
			DurationHours: offer.DurationHours,
			Stops:         offer.Stops,
			Price:         offer.Price,
			Currency:      offer.Currency,
			Cabin:         offer.Cabin,
		})
	}
	if len(results.Options) == 0 {
		return nil, NewError(SourceFlights, ReasonInvalidResponse, "no offers returned", nil)
	}
	return results, nil
}
