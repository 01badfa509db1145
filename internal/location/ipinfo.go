package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"adhand/internal/prayer"
)

const (
	ipinfoURL     = "https://ipinfo.io/json"
	ipinfoTimeout = 5 * time.Second
)

var ipinfoClient = &http.Client{Timeout: ipinfoTimeout}

type ipinfoPayload struct {
	City     string `json:"city"`
	Country  string `json:"country"`
	Loc      string `json:"loc"` // "lat,lon"
	Timezone string `json:"timezone"`
}

// DetectViaIP resolves an approximate location from the caller's public IP
// using ipinfo.io.
func DetectViaIP(ctx context.Context) (prayer.Location, error) {
	return detectViaIP(ctx, ipinfoClient, ipinfoURL)
}

func detectViaIP(ctx context.Context, client *http.Client, endpoint string) (prayer.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return prayer.Location{}, fmt.Errorf("ipinfo: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return prayer.Location{}, fmt.Errorf("ipinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return prayer.Location{}, fmt.Errorf("ipinfo: unexpected status %d", resp.StatusCode)
	}

	var payload ipinfoPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return prayer.Location{}, fmt.Errorf("ipinfo: decode: %w", err)
	}

	loc := prayer.Location{
		City:     payload.City,
		Country:  payload.Country,
		Timezone: validZoneOrUTC(payload.Timezone),
	}
	if lat, lon, ok := parseCoords(payload.Loc); ok {
		loc.Latitude = &lat
		loc.Longitude = &lon
	}
	return loc, nil
}

func parseCoords(raw string) (lat, lon float64, ok bool) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLon != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

func validZoneOrUTC(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "UTC"
	}
	if _, err := time.LoadLocation(name); err != nil {
		return "UTC"
	}
	return name
}
