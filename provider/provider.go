// Package provider defines the external data source adapters (weather,
// flights, hotels, transit, images, guides) behind a uniform fetch contract.
// Adapters translate every internal fault into a typed *Error; they never
// panic or leak transport errors into the gathering layer.
package provider

import (
	"context"
	"time"
)

// Source identifies one provider capability. The set is closed: new
// providers are new constants plus an Adapter implementation, not ad hoc
// branching.
type Source string

const (
	SourceWeather Source = "weather"
	SourceFlights Source = "flights"
	SourceHotels  Source = "hotels"
	SourceTransit Source = "transit"
	SourceImages  Source = "images"
	SourceGuides  Source = "guides"
)

// AllSources lists every provider capability in stable order.
func AllSources() []Source {
	return []Source{SourceWeather, SourceFlights, SourceHotels, SourceTransit, SourceImages, SourceGuides}
}

// Request carries the trip parameters a provider call needs. One Request is
// shared by all providers of a gather batch.
type Request struct {
	Destination string    `json:"destination"`
	Origin      string    `json:"origin,omitempty"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Budget      float64   `json:"budget,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	Travelers   int       `json:"travelers,omitempty"`
	Interests   []string  `json:"interests,omitempty"`
}

// Nights returns the number of nights between the request dates.
func (r Request) Nights() int {
	n := int(r.EndDate.Sub(r.StartDate).Hours() / 24)
	if n < 1 {
		return 1
	}
	return n
}

// Days returns the number of itinerary days (nights + 1, minimum 1).
func (r Request) Days() int {
	return r.Nights() + 1
}

// Payload is the data returned by one provider capability. It is a sealed
// set: one implementation per Source.
type Payload interface {
	PayloadSource() Source
}

// Adapter is the uniform contract every provider implements.
type Adapter interface {
	// Source reports which capability this adapter serves.
	Source() Source
	// Fetch performs one attempt against the provider. Retries belong to
	// the transport layer's task retry, never inside an adapter.
	Fetch(ctx context.Context, req Request) (Payload, error)
}

// WeatherDay is one day of forecast data.
type WeatherDay struct {
	Date          string  `json:"date"`
	TempHighC     float64 `json:"temp_high_c"`
	TempLowC      float64 `json:"temp_low_c"`
	Condition     string  `json:"condition"`
	PrecipChance  int     `json:"precip_chance"`
	HumidityPct   int     `json:"humidity_pct"`
	WindSpeedKmh  float64 `json:"wind_speed_kmh"`
}

// WeatherForecast is the weather provider payload.
type WeatherForecast struct {
	Location      string       `json:"location"`
	Days          []WeatherDay `json:"days"`
	SeasonalNotes string       `json:"seasonal_notes,omitempty"`
}

func (WeatherForecast) PayloadSource() Source { return SourceWeather }

// FlightOption is one flight search result.
type FlightOption struct {
	Carrier       string  `json:"carrier"`
	CarrierCode   string  `json:"carrier_code"`
	Departure     string  `json:"departure"`
	Arrival       string  `json:"arrival"`
	DepartureTime string  `json:"departure_time"`
	ArrivalTime   string  `json:"arrival_time"`
	DurationHours float64 `json:"duration_hours"`
	Stops         int     `json:"stops"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
	Cabin         string  `json:"cabin"`
}

// FlightResults is the flight provider payload.
type FlightResults struct {
	Options []FlightOption `json:"options"`
}

func (FlightResults) PayloadSource() Source { return SourceFlights }

// HotelOption is one hotel search result.
type HotelOption struct {
	Name          string   `json:"name"`
	StarRating    int      `json:"star_rating"`
	Area          string   `json:"area"`
	PricePerNight float64  `json:"price_per_night"`
	TotalPrice    float64  `json:"total_price"`
	Currency      string   `json:"currency"`
	Amenities     []string `json:"amenities,omitempty"`
}

// HotelResults is the hotel provider payload.
type HotelResults struct {
	Options []HotelOption `json:"options"`
}

func (HotelResults) PayloadSource() Source { return SourceHotels }

// TransitLeg describes getting between two points.
type TransitLeg struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Mode            string `json:"mode"`
	DurationMinutes int    `json:"duration_minutes"`
	Summary         string `json:"summary,omitempty"`
}

// TransitRoutes is the transit provider payload.
type TransitRoutes struct {
	Legs []TransitLeg `json:"legs"`
}

func (TransitRoutes) PayloadSource() Source { return SourceTransit }

// ImageResult is one destination image.
type ImageResult struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
}

// ImageResults is the image provider payload.
type ImageResults struct {
	Images []ImageResult `json:"images"`
}

func (ImageResults) PayloadSource() Source { return SourceImages }

// GuideContent is the destination guide payload: readable article content
// converted to markdown for the plan composer.
type GuideContent struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Markdown string `json:"markdown"`
}

func (GuideContent) PayloadSource() Source { return SourceGuides }
