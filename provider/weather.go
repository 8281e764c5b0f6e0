package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const defaultWeatherBaseURL = "https://api.weatherapi.example.com/v1"

// WeatherAdapter fetches daily forecasts for the trip window.
type WeatherAdapter struct {
	http *httpClient
}

// NewWeatherAdapter creates the weather adapter. baseURL may be empty to use
// the default endpoint.
func NewWeatherAdapter(baseURL, apiKey string, client *http.Client) *WeatherAdapter {
	if baseURL == "" {
		baseURL = defaultWeatherBaseURL
	}
	return &WeatherAdapter{http: newHTTPClient(SourceWeather, baseURL, apiKey, client)}
}

// Source implements Adapter.
func (a *WeatherAdapter) Source() Source { return SourceWeather }

// weatherResponse is the provider wire format.
type weatherResponse struct {
	Location string `json:"location"`
	Forecast []struct {
		Date         string  `json:"date"`
		MaxTempC     float64 `json:"max_temp_c"`
		MinTempC     float64 `json:"min_temp_c"`
		Condition    string  `json:"condition"`
		PrecipChance int     `json:"precip_chance"`
		Humidity     int     `json:"humidity"`
		WindKmh      float64 `json:"wind_kmh"`
	} `json:"forecast"`
}

// Fetch implements Adapter.
func (a *WeatherAdapter) Fetch(ctx context.Context, req Request) (Payload, error) {
	params := url.Values{}
	params.Set("q", req.Destination)
	params.Set("days", strconv.Itoa(req.Days()))
	params.Set("start", req.StartDate.Format("2006-01-02"))

	var resp weatherResponse
	if err := a.http.getJSON(ctx, "/forecast", params, &resp); err != nil {
		return nil, err
	}

	forecast := WeatherForecast{Location: resp.Location}
	if forecast.Location == "" {
		forecast.Location = req.Destination
	}
	for _, day := range resp.Forecast {
		forecast.Days = append(forecast.Days, WeatherDay{
			Date:         day.Date,
			TempHighC:    day.MaxTempC,
			TempLowC:     day.MinTempC,
			Condition:    day.Condition,
			PrecipChance: day.PrecipChance,
			HumidityPct:  day.Humidity,
			WindSpeedKmh: day.WindKmh,
		})
	}
	if len(forecast.Days) == 0 {
		return nil, NewError(SourceWeather, ReasonInvalidResponse, "empty forecast", nil)
	}
	return forecast, nil
}
