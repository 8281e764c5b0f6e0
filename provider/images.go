package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const defaultImagesBaseURL = "https://api.imagesearch.example.com/v1"

// ImagesAdapter searches destination photos for itinerary presentation.
type ImagesAdapter struct {
	http *httpClient
}

// NewImagesAdapter creates the image search adapter.
func NewImagesAdapter(baseURL, apiKey string, client *http.Client) *ImagesAdapter {
	if baseURL == "" {
		baseURL = defaultImagesBaseURL
	}
	return &ImagesAdapter{http: newHTTPClient(SourceImages, baseURL, apiKey, client)}
}

// Source implements Adapter.
func (a *ImagesAdapter) Source() Source { return SourceImages }

type imagesResponse struct {
	Results []struct {
		URL       string `json:"url"`
		Title     string `json:"title"`
		SourceURL string `json:"source_url"`
	} `json:"results"`
}

// Fetch implements Adapter.
func (a *ImagesAdapter) Fetch(ctx context.Context, req Request) (Payload, error) {
	query := req.Destination
	if len(req.Interests) > 0 {
		query += " " + strings.Join(req.Interests, " ")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", "6")

	var resp imagesResponse
	if err := a.http.getJSON(ctx, "/search", params, &resp); err != nil {
		return nil, err
	}

	var results ImageResults
	for _, img := range resp.Results {
		results.Images = append(results.Images, ImageResult{
			URL:       img.URL,
			Title:     img.Title,
			SourceURL: img.SourceURL,
		})
	}
	return results, nil
}
