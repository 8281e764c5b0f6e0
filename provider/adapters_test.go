package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tripRequest() Request {
	return Request{
		Destination: "Phuket",
		Origin:      "Bangkok",
		StartDate:   time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		Budget:      20000,
		Currency:    "THB",
		Travelers:   2,
		Interests:   []string{"beaches", "food"},
	}
}

func TestWeatherAdapterFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forecast", r.URL.Path)
		assert.Equal(t, "Phuket", r.URL.Query().Get("q"))
		assert.Equal(t, "4", r.URL.Query().Get("days"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"location": "Phuket, Thailand",
			"forecast": [
				{"date": "2026-03-10", "max_temp_c": 33, "min_temp_c": 26, "condition": "Sunny", "precip_chance": 10, "humidity": 70, "wind_kmh": 12}
			]
		}`))
	}))
	defer srv.Close()

	adapter := NewWeatherAdapter(srv.URL, "test-key", srv.Client())
	payload, err := adapter.Fetch(context.Background(), tripRequest())
	require.NoError(t, err)

	forecast, ok := payload.(WeatherForecast)
	require.True(t, ok)
	assert.Equal(t, "Phuket, Thailand", forecast.Location)
	require.Len(t, forecast.Days, 1)
	assert.Equal(t, 33.0, forecast.Days[0].TempHighC)
	assert.Equal(t, "Sunny", forecast.Days[0].Condition)
}

func TestWeatherAdapterEmptyForecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"location": "Phuket", "forecast": []}`))
	}))
	defer srv.Close()

	adapter := NewWeatherAdapter(srv.URL, "", srv.Client())
	_, err := adapter.Fetch(context.Background(), tripRequest())
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidResponse, Classify(err))
}

func TestFlightsAdapterRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter := NewFlightsAdapter(srv.URL, "key", srv.Client())
	_, err := adapter.Fetch(context.Background(), tripRequest())
	require.Error(t, err)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, SourceFlights, perr.Source)
	assert.Equal(t, ReasonRateLimit, perr.Reason)
	assert.True(t, perr.Reason.Retryable())
	assert.Equal(t, 60, perr.Reason.RetryAfterSeconds())
}

func TestHotelsAdapterServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := NewHotelsAdapter(srv.URL, "key", srv.Client())
	_, err := adapter.Fetch(context.Background(), tripRequest())
	require.Error(t, err)
	assert.Equal(t, ReasonUnavailable, Classify(err))
}

func TestHotelsAdapterTotalPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-03-10", r.URL.Query().Get("check_in"))
		assert.Equal(t, "2026-03-13", r.URL.Query().Get("check_out"))
		w.Write([]byte(`{"hotels": [{"name": "Sea Breeze", "stars": 4, "district": "Patong", "price_per_night": 2500, "currency": "THB"}]}`))
	}))
	defer srv.Close()

	adapter := NewHotelsAdapter(srv.URL, "key", srv.Client())
	payload, err := adapter.Fetch(context.Background(), tripRequest())
	require.NoError(t, err)

	hotels := payload.(HotelResults)
	require.Len(t, hotels.Options, 1)
	// 3 nights at 2500
	assert.Equal(t, 7500.0, hotels.Options[0].TotalPrice)
}

func TestTransitAdapterAllowsEmptyRoutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"routes": []}`))
	}))
	defer srv.Close()

	adapter := NewTransitAdapter(srv.URL, "key", srv.Client())
	payload, err := adapter.Fetch(context.Background(), tripRequest())
	require.NoError(t, err)
	assert.Empty(t, payload.(TransitRoutes).Legs)
}

func TestImagesAdapterAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	adapter := NewImagesAdapter(srv.URL, "bad-key", srv.Client())
	_, err := adapter.Fetch(context.Background(), tripRequest())
	require.Error(t, err)

	reason := Classify(err)
	assert.Equal(t, ReasonAuthentication, reason)
	assert.False(t, reason.Retryable())
}

func TestAdapterTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	adapter := NewWeatherAdapter(srv.URL, "key", srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := adapter.Fetch(ctx, tripRequest())
	require.Error(t, err)
	assert.Equal(t, ReasonTimeout, Classify(err))
}

func TestAdapterMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"offers": [`))
	}))
	defer srv.Close()

	adapter := NewFlightsAdapter(srv.URL, "key", srv.Client())
	_, err := adapter.Fetch(context.Background(), tripRequest())
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidResponse, Classify(err))
}

func TestRequestNightsAndDays(t *testing.T) {
	req := tripRequest()
	if req.Nights() != 3 {
		t.Errorf("Nights() = %d, want 3", req.Nights())
	}
	if req.Days() != 4 {
		t.Errorf("Days() = %d, want 4", req.Days())
	}

	same := Request{StartDate: req.StartDate, EndDate: req.StartDate}
	if same.Nights() != 1 {
		t.Errorf("same-day Nights() = %d, want 1", same.Nights())
	}
}
