package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"adhand/pkg/logx"
)

const meteoBody = `{
  "current": {
    "temperature_2m": 19.4,
    "apparent_temperature": 18.1,
    "relative_humidity_2m": 72,
    "wind_speed_10m": 14.3,
    "weather_code": 2,
    "time": "2025-11-09T12:00"
  },
  "daily": {
    "time": ["2025-11-09", "2025-11-10"],
    "weather_code": [2, 61],
    "temperature_2m_max": [21.0, 18.5],
    "temperature_2m_min": [13.2, 12.0]
  }
}`

func TestFetchParsesCurrentAndForecast(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("latitude") != "35.7673" || q.Get("longitude") != "-5.7998" {
			t.Errorf("coords = %s,%s", q.Get("latitude"), q.Get("longitude"))
		}
		fmt.Fprint(w, meteoBody)
	}))
	defer srv.Close()

	c := NewClient(logx.Nop())
	c.baseURL = srv.URL

	snap, forecast, err := c.Fetch(context.Background(), 35.7673, -5.7998)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if snap.TemperatureC != 19.4 {
		t.Fatalf("temp = %v", snap.TemperatureC)
	}
	if snap.Conditions != "Partly cloudy" {
		t.Fatalf("conditions = %q", snap.Conditions)
	}
	if snap.FeelsLikeC == nil || *snap.FeelsLikeC != 18.1 {
		t.Fatalf("feels like = %v", snap.FeelsLikeC)
	}
	if snap.Humidity == nil || *snap.Humidity != 72 {
		t.Fatalf("humidity = %v", snap.Humidity)
	}
	if snap.ObservedAt == nil {
		t.Fatal("observed at missing")
	}

	if len(forecast) != 2 {
		t.Fatalf("forecast entries = %d", len(forecast))
	}
	if forecast[1].Conditions != "Slight rain" || forecast[1].MaxC != 18.5 {
		t.Fatalf("forecast[1] = %+v", forecast[1])
	}
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "down", http.StatusServiceUnavailable)
			},
		},
		{
			name: "missing temperature",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"current": {"weather_code": 0}}`)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(logx.Nop())
			c.baseURL = srv.URL
			if _, _, err := c.Fetch(context.Background(), 0, 0); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTemperatureF(t *testing.T) {
	t.Parallel()
	s := Snapshot{TemperatureC: 20}
	if got := s.TemperatureF(); got != 68 {
		t.Fatalf("TemperatureF = %v", got)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	if got := Describe(95); got != "Thunderstorm" {
		t.Fatalf("Describe(95) = %q", got)
	}
	if got := Describe(42); got != "Weather code 42" {
		t.Fatalf("Describe(42) = %q", got)
	}
}
