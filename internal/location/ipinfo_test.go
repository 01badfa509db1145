package location

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectViaIPParsesPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"city": "Tangier",
			"country": "MA",
			"loc": "35.7673,-5.7998",
			"timezone": "Africa/Casablanca"
		}`)
	}))
	defer srv.Close()

	got, err := detectViaIP(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("detectViaIP error: %v", err)
	}
	if got.City != "Tangier" || got.Country != "MA" {
		t.Fatalf("location = %+v", got)
	}
	if !got.HasCoordinates() || *got.Latitude != 35.7673 || *got.Longitude != -5.7998 {
		t.Fatalf("coordinates = %v,%v", got.Latitude, got.Longitude)
	}
	if got.Timezone != "Africa/Casablanca" {
		t.Fatalf("timezone = %q", got.Timezone)
	}
}

func TestDetectViaIPToleratesPartialPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"city": "Tangier", "country": "MA", "loc": "garbage", "timezone": "Not/AZone"}`)
	}))
	defer srv.Close()

	got, err := detectViaIP(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("detectViaIP error: %v", err)
	}
	if got.HasCoordinates() {
		t.Fatal("garbage coordinates should be dropped")
	}
	if got.Timezone != "UTC" {
		t.Fatalf("timezone = %q, want UTC fallback", got.Timezone)
	}
}

func TestDetectViaIPErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := detectViaIP(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseCoords(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw string
		ok  bool
	}{
		{raw: "35.7673,-5.7998", ok: true},
		{raw: " 35.7673 , -5.7998 ", ok: true},
		{raw: "35.7673", ok: false},
		{raw: "a,b", ok: false},
		{raw: "", ok: false},
	}
	for _, tt := range tests {
		if _, _, ok := parseCoords(tt.raw); ok != tt.ok {
			t.Fatalf("parseCoords(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
		}
	}
}
