package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentResponseExtractsSlots(t *testing.T) {
	raw := intentResponse("Plan a 4 day trip to Lisbon starting 2026-05-01 with a budget of $2000")

	var out struct {
		Intent string `json:"intent"`
		Slots  []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"slots"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	assert.Equal(t, "plan_trip", out.Intent)

	values := map[string]string{}
	for _, s := range out.Slots {
		values[s.Name] = s.Value
	}
	assert.Equal(t, "Lisbon", values["destination"])
	assert.Equal(t, "2026-05-01", values["start_date"])
	assert.Equal(t, "4", values["duration_days"])
	assert.Equal(t, "2000", values["budget"])
}

func TestIntentResponseRefine(t *testing.T) {
	raw := intentResponse("swap day 2 for something cheaper")

	var out struct {
		Intent string `json:"intent"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	assert.Equal(t, "refine_plan", out.Intent)
}

func TestPlanResponseHonorsDayCount(t *testing.T) {
	raw := planResponse("Trip parameters: {}\nPlan exactly 5 days.\nGathered data:")

	var out struct {
		Days []struct {
			Day        int `json:"day"`
			Activities []struct {
				Name string `json:"name"`
			} `json:"activities"`
		} `json:"days"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	require.Len(t, out.Days, 5)
	for _, d := range out.Days {
		assert.GreaterOrEqual(t, len(d.Activities), 2)
	}
}
