package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const defaultHotelsBaseURL = "https://api.hotelsearch.example.com/v1"

// HotelsAdapter searches accommodation for the trip window.
type HotelsAdapter struct {
	http *httpClient
}

// NewHotelsAdapter creates the hotel search adapter.
func NewHotelsAdapter(baseURL, apiKey string, client *http.Client) *HotelsAdapter {
	if baseURL == "" {
		baseURL = defaultHotelsBaseURL
	}
	return &HotelsAdapter{http: newHTTPClient(SourceHotels, baseURL, apiKey, client)}
}

// Source implements Adapter.
func (a *HotelsAdapter) Source() Source { return SourceHotels }

type hotelsResponse struct {
	Hotels []struct {
		Name          string   `json:"name"`
		Stars         int      `json:"stars"`
		District      string   `json:"district"`
		PricePerNight float64  `json:"price_per_night"`
		Currency      string   `json:"currency"`
		Amenities     []string `json:"amenities"`
	} `json:"hotels"`
}

// Fetch implements Adapter.
func (a *HotelsAdapter) Fetch(ctx context.Context, req Request) (Payload, error) {
	params := url.Values{}
	params.Set("city", req.Destination)
	params.Set("check_in", req.StartDate.Format("2006-01-02"))
	params.Set("check_out", req.EndDate.Format("2006-01-02"))
	if req.Travelers > 0 {
		params.Set("guests", strconv.Itoa(req.Travelers))
	}

	var resp hotelsResponse
	if err := a.http.getJSON(ctx, "/hotels", params, &resp); err != nil {
		return nil, err
	}

	nights := req.Nights()
	var results HotelResults
	for _, h := range resp.Hotels {
		results.Options = append(results.Options, HotelOption{
			Name:          h.Name,
			StarRating:    h.Stars,
			Area:          h.District,
			PricePerNight: h.PricePerNight,
			TotalPrice:    h.PricePerNight * float64(nights),
			Currency:      h.Currency,
			Amenities:     h.Amenities,
		})
	}
	if len(results.Options) == 0 {
		return nil, NewError(SourceHotels, ReasonInvalidResponse, "no hotels returned", nil)
	}
	return results, nil
}
