package provider

import (
	"context"
	"net/http"
	"net/url"
)

const defaultTransitBaseURL = "https://api.transitdirections.example.com/v1"

// TransitAdapter fetches directions between itinerary points.
type TransitAdapter struct {
	http *httpClient
}

// NewTransitAdapter creates the transit directions adapter.
func NewTransitAdapter(baseURL, apiKey string, client *http.Client) *TransitAdapter {
	if baseURL == "" {
		baseURL = defaultTransitBaseURL
	}
	return &TransitAdapter{http: newHTTPClient(SourceTransit, baseURL, apiKey, client)}
}

// Source implements Adapter.
func (a *TransitAdapter) Source() Source { return SourceTransit }

type transitResponse struct {
	Routes []struct {
		From            string `json:"from"`
		To              string `json:"to"`
		Mode            string `json:"mode"`
		DurationMinutes int    `json:"duration_minutes"`
		Summary         string `json:"summary"`
	} `json:"routes"`
}

// Fetch implements Adapter. It requests a city-level transit overview; leg
// level lookups during replanning reuse the same endpoint with the request
// narrowed to the affected area.
func (a *TransitAdapter) Fetch(ctx context.Context, req Request) (Payload, error) {
	params := url.Values{}
	params.Set("city", req.Destination)
	params.Set("modes", "transit,walk")

	var resp transitResponse
	if err := a.http.getJSON(ctx, "/directions", params, &resp); err != nil {
		return nil, err
	}

	var routes TransitRoutes
	for _, r := range resp.Routes {
		routes.Legs = append(routes.Legs, TransitLeg{
			From:            r.From,
			To:              r.To,
			Mode:            r.Mode,
			DurationMinutes: r.DurationMinutes,
			Summary:         r.Summary,
		})
	}
	return routes, nil
}
