// Package weather fetches current conditions and a short forecast from
// Open-Meteo. Weather is strictly best-effort for the daemon: a failure here
// degrades the display, never the prayer schedule.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"adhand/pkg/logx"
)

const (
	openMeteoURL = "https://api.open-meteo.com/v1/forecast"
	fetchTimeout = 8 * time.Second
)

// Snapshot is the current-conditions reading.
type Snapshot struct {
	TemperatureC float64
	FeelsLikeC   *float64
	Humidity     *int
	WindSpeedKMH *float64
	Conditions   string
	ObservedAt   *time.Time
}

// TemperatureF converts for display.
func (s Snapshot) TemperatureF() float64 { return s.TemperatureC*9.0/5.0 + 32.0 }

// Forecast is a single day's outlook.
type Forecast struct {
	Date       time.Time
	MinC       float64
	MaxC       float64
	Code       int
	Conditions string
}

type Client struct {
	http *http.Client
	log  logx.Logger

	// baseURL overrides the API host in tests.
	baseURL string
}

func NewClient(log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		http: &http.Client{Timeout: fetchTimeout},
		log:  log,
	}
}

type meteoPayload struct {
	Current struct {
		Temperature json.Number `json:"temperature_2m"`
		Apparent    json.Number `json:"apparent_temperature"`
		Humidity    json.Number `json:"relative_humidity_2m"`
		WindSpeed   json.Number `json:"wind_speed_10m"`
		Code        json.Number `json:"weather_code"`
		Time        string      `json:"time"`
	} `json:"current"`
	Daily struct {
		Time []string      `json:"time"`
		Code []json.Number `json:"weather_code"`
		MaxC []json.Number `json:"temperature_2m_max"`
		MinC []json.Number `json:"temperature_2m_min"`
	} `json:"daily"`
}

// Fetch returns current conditions plus a daily forecast for the coordinates.
func (c *Client) Fetch(ctx context.Context, lat, lon float64) (Snapshot, []Forecast, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("current", "temperature_2m,apparent_temperature,relative_humidity_2m,weather_code,wind_speed_10m")
	params.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min")
	params.Set("windspeed_unit", "kmh")
	params.Set("timezone", "UTC")
	params.Set("forecast_days", "7")

	endpoint := c.baseURL
	if endpoint == "" {
		endpoint = openMeteoURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("open-meteo: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("open-meteo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, nil, fmt.Errorf("open-meteo: unexpected status %d", resp.StatusCode)
	}

	var payload meteoPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Snapshot{}, nil, fmt.Errorf("open-meteo: decode: %w", err)
	}

	snap, err := parseCurrent(payload)
	if err != nil {
		return Snapshot{}, nil, err
	}
	return snap, parseForecast(payload), nil
}

func parseCurrent(p meteoPayload) (Snapshot, error) {
	temp, err := p.Current.Temperature.Float64()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open-meteo: payload missing temperature")
	}

	code := 0
	if v, err := p.Current.Code.Int64(); err == nil {
		code = int(v)
	}
	snap := Snapshot{
		TemperatureC: temp,
		Conditions:   Describe(code),
	}
	if v, err := p.Current.Apparent.Float64(); err == nil {
		snap.FeelsLikeC = &v
	}
	if v, err := p.Current.Humidity.Int64(); err == nil {
		h := int(v)
		snap.Humidity = &h
	}
	if v, err := p.Current.WindSpeed.Float64(); err == nil {
		snap.WindSpeedKMH = &v
	}
	if p.Current.Time != "" {
		if t, err := time.Parse("2006-01-02T15:04", p.Current.Time); err == nil {
			utc := t.UTC()
			snap.ObservedAt = &utc
		}
	}
	return snap, nil
}

func parseForecast(p meteoPayload) []Forecast {
	out := make([]Forecast, 0, len(p.Daily.Time))
	for i, iso := range p.Daily.Time {
		date, err := time.Parse("2006-01-02", iso)
		if err != nil {
			continue
		}
		f := Forecast{Date: date}
		if i < len(p.Daily.MaxC) {
			if v, err := p.Daily.MaxC[i].Float64(); err == nil {
				f.MaxC = v
			}
		}
		if i < len(p.Daily.MinC) {
			if v, err := p.Daily.MinC[i].Float64(); err == nil {
				f.MinC = v
			}
		}
		if i < len(p.Daily.Code) {
			if v, err := p.Daily.Code[i].Int64(); err == nil {
				f.Code = int(v)
			}
		}
		f.Conditions = Describe(f.Code)
		out = append(out, f)
	}
	return out
}

// codeText maps Open-Meteo WMO weather codes to short descriptions.
var codeText = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	56: "Light freezing drizzle",
	57: "Dense freezing drizzle",
	61: "Slight rain",
	63: "Moderate rain",
	65: "Heavy rain",
	66: "Light freezing rain",
	67: "Heavy freezing rain",
	71: "Slight snow fall",
	73: "Moderate snow fall",
	75: "Heavy snow fall",
	77: "Snow grains",
	80: "Slight rain showers",
	81: "Moderate rain showers",
	82: "Violent rain showers",
	85: "Slight snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with slight hail",
	99: "Thunderstorm with heavy hail",
}

// Describe turns a WMO weather code into display text.
func Describe(code int) string {
	if s, ok := codeText[code]; ok {
		return s
	}
	return fmt.Sprintf("Weather code %d", code)
}
