// Package fallback synthesizes plausible stand-in data for provider sources
// that are unconfigured or failed. Synthesis is pure: the output depends only
// on the source and the request, so retries and replans see identical
// stand-ins. Callers label the results as synthesized; nothing here dials out.
package fallback

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/tripstream/tripstream/provider"
)

// Synthesize returns deterministic stand-in data for source. The same request
// always yields the same payload.
func Synthesize(source provider.Source, req provider.Request) provider.Payload {
	rng := rand.New(rand.NewSource(seed(source, req)))

	switch source {
	case provider.SourceWeather:
		return synthesizeWeather(rng, req)
	case provider.SourceFlights:
		return synthesizeFlights(rng, req)
	case provider.SourceHotels:
		return synthesizeHotels(rng, req)
	case provider.SourceTransit:
		return synthesizeTransit(req)
	case provider.SourceImages:
		// Never fabricate image URLs; an empty result renders cleanly.
		return provider.ImageResults{}
	case provider.SourceGuides:
		return synthesizeGuide(req)
	default:
		return provider.ImageResults{}
	}
}

// seed derives the RNG seed from the stable request identity. Origin, budget
// and interests are excluded so cosmetic slot changes don't reshuffle
// unrelated stand-ins.
func seed(source provider.Source, req provider.Request) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s",
		source,
		strings.ToLower(req.Destination),
		req.StartDate.Format("2006-01-02"),
		req.EndDate.Format("2006-01-02"))
	return int64(h.Sum64())
}

var conditions = []string{"Sunny", "Partly cloudy", "Cloudy", "Light rain"}

func synthesizeWeather(rng *rand.Rand, req provider.Request) provider.WeatherForecast {
	base := 18.0 + rng.Float64()*14 // 18-32C daily high band
	forecast := provider.WeatherForecast{
		Location:      req.Destination,
		SeasonalNotes: "Estimated from regional seasonal averages; live forecast was unavailable.",
	}
	for i := 0; i < req.Days(); i++ {
		high := base + rng.Float64()*4 - 2
		forecast.Days = append(forecast.Days, provider.WeatherDay{
			Date:         req.StartDate.AddDate(0, 0, i).Format("2006-01-02"),
			TempHighC:    round1(high),
			TempLowC:     round1(high - 6 - rng.Float64()*3),
			Condition:    conditions[rng.Intn(len(conditions))],
			PrecipChance: 10 + rng.Intn(40),
			HumidityPct:  55 + rng.Intn(30),
			WindSpeedKmh: round1(8 + rng.Float64()*12),
		})
	}
	return forecast
}

func synthesizeFlights(rng *rand.Rand, req provider.Request) provider.FlightResults {
	origin := req.Origin
	if origin == "" {
		origin = "your departure city"
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	base := 180.0 + rng.Float64()*320
	if req.Budget > 0 {
		// Keep the stand-in inside a plausible share of the stated budget.
		cap := req.Budget * 0.4
		if base > cap && cap > 50 {
			base = cap
		}
	}

	var results provider.FlightResults
	for i, tier := range []struct {
		label string
		mult  float64
		stops int
	}{
		{"budget", 1.0, 1},
		{"standard", 1.35, 0},
		{"flexible", 1.8, 0},
	} {
		results.Options = append(results.Options, provider.FlightOption{
			Carrier:       fmt.Sprintf("Typical %s fare", tier.label),
			Departure:     origin,
			Arrival:       req.Destination,
			DepartureTime: fmt.Sprintf("%02d:%d0", 7+i*4, rng.Intn(6)),
			DurationHours: round1(1.5 + rng.Float64()*6),
			Stops:         tier.stops,
			Price:         round1(base * tier.mult),
			Currency:      currency,
			Cabin:         "economy",
		})
	}
	return results
}

func synthesizeHotels(rng *rand.Rand, req provider.Request) provider.HotelResults {
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	nights := req.Nights()

	base := 45.0 + rng.Float64()*60
	if req.Budget > 0 && nights > 0 {
		cap := req.Budget * 0.5 / float64(nights)
		if base > cap && cap > 15 {
			base = cap
		}
	}

	var results provider.HotelResults
	for _, tier := range []struct {
		name  string
		stars int
		mult  float64
	}{
		{"Central guesthouse", 2, 0.6},
		{"Mid-range hotel", 3, 1.0},
		{"Boutique hotel", 4, 1.7},
	} {
		perNight := round1(base * tier.mult)
		results.Options = append(results.Options, provider.HotelOption{
			Name:          tier.name,
			StarRating:    tier.stars,
			Area:          "city center",
			PricePerNight: perNight,
			TotalPrice:    round1(perNight * float64(nights)),
			Currency:      currency,
		})
	}
	return results
}

func synthesizeTransit(req provider.Request) provider.TransitRoutes {
	return provider.TransitRoutes{
		Legs: []provider.TransitLeg{
			{
				From:            "airport",
				To:              "city center",
				Mode:            "taxi",
				DurationMinutes: 40,
				Summary:         "Typical airport transfer; confirm locally.",
			},
			{
				From:            "city center",
				To:              "main attractions",
				Mode:            "walk",
				DurationMinutes: 20,
				Summary:         "Most central sights are walkable.",
			},
		},
	}
}

func synthesizeGuide(req provider.Request) provider.GuideContent {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", req.Destination)
	fmt.Fprintf(&b, "General travel notes for %s. A destination guide was unavailable, so plan around well-known central areas and confirm opening hours locally.\n", req.Destination)
	if len(req.Interests) > 0 {
		fmt.Fprintf(&b, "\nStated interests: %s.\n", strings.Join(req.Interests, ", "))
	}
	return provider.GuideContent{
		Title:    req.Destination,
		Markdown: b.String(),
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
