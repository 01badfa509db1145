package prayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"adhand/pkg/logx"
)

const (
	aladhanTimingsURL       = "https://api.aladhan.com/v1/timings"
	aladhanTimingsByCityURL = "https://api.aladhan.com/v1/timingsByCity"

	aladhanTimeout = 10 * time.Second
)

// ErrBadPayload marks a structurally invalid AlAdhan response.
var ErrBadPayload = errors.New("invalid aladhan payload")

// AladhanConfig selects the calculation convention forwarded to the API.
type AladhanConfig struct {
	Method int // calculation method id (default 3, Muslim World League)
	School int // asr school: 0 standard, 1 hanafi
}

// AladhanClient fetches daily prayer times from the AlAdhan API.
// Lookup is by coordinates when the location has them, by city otherwise.
type AladhanClient struct {
	cfg  AladhanConfig
	http *http.Client
	log  logx.Logger

	// baseURL overrides the API host in tests.
	baseURL string
}

func NewAladhanClient(cfg AladhanConfig, log logx.Logger) *AladhanClient {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &AladhanClient{
		cfg:  cfg,
		http: &http.Client{Timeout: aladhanTimeout},
		log:  log,
	}
}

type aladhanPayload struct {
	Code   int         `json:"code"`
	Status string      `json:"status"`
	Data   aladhanData `json:"data"`
}

type aladhanData struct {
	Timings map[string]string `json:"timings"`
	Date    aladhanDate       `json:"date"`
	Meta    aladhanMeta       `json:"meta"`
}

type aladhanDate struct {
	Hijri     aladhanHijri     `json:"hijri"`
	Gregorian aladhanGregorian `json:"gregorian"`
}

type aladhanHijri struct {
	Date  string `json:"date"`
	Day   string `json:"day"`
	Year  string `json:"year"`
	Month struct {
		En string `json:"en"`
	} `json:"month"`
}

type aladhanGregorian struct {
	Date string `json:"date"` // DD-MM-YYYY
}

type aladhanMeta struct {
	Latitude  json.Number `json:"latitude"`
	Longitude json.Number `json:"longitude"`
	Timezone  string      `json:"timezone"`
}

// FetchDay resolves the 5 prayer instants for loc on the given calendar day.
func (c *AladhanClient) FetchDay(ctx context.Context, loc Location, day time.Time) (Day, error) {
	byCity := !loc.HasCoordinates()

	params := url.Values{}
	params.Set("method", strconv.Itoa(c.cfg.Method))
	params.Set("school", strconv.Itoa(c.cfg.School))
	params.Set("date", day.Format("02-01-2006"))

	endpoint := c.endpoint(aladhanTimingsURL, aladhanTimingsByCityURL, byCity)
	if byCity {
		params.Set("city", loc.City)
		params.Set("country", loc.Country)
	} else {
		params.Set("latitude", strconv.FormatFloat(*loc.Latitude, 'f', -1, 64))
		params.Set("longitude", strconv.FormatFloat(*loc.Longitude, 'f', -1, 64))
	}

	c.log.Debug("fetching prayer times",
		logx.String("location", loc.String()),
		logx.String("date", day.Format("2006-01-02")),
		logx.Bool("by_city", byCity))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return Day{}, fmt.Errorf("aladhan: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Day{}, fmt.Errorf("aladhan: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Day{}, fmt.Errorf("aladhan: unexpected status %d", resp.StatusCode)
	}

	var payload aladhanPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Day{}, fmt.Errorf("aladhan: decode: %w", err)
	}
	if payload.Code != http.StatusOK {
		return Day{}, fmt.Errorf("%w: status %q", ErrBadPayload, payload.Status)
	}

	return c.buildDay(loc, day, payload.Data)
}

func (c *AladhanClient) endpoint(coords, city string, byCity bool) string {
	if c.baseURL != "" {
		if byCity {
			return c.baseURL + "/v1/timingsByCity"
		}
		return c.baseURL + "/v1/timings"
	}
	if byCity {
		return city
	}
	return coords
}

func (c *AladhanClient) buildDay(loc Location, day time.Time, data aladhanData) (Day, error) {
	zone := c.resolveZone(loc, data.Meta)

	prayers := make([]Info, 0, len(Order))
	for _, name := range Order {
		raw, ok := data.Timings[string(name)]
		if !ok {
			return Day{}, fmt.Errorf("%w: missing timing for %s", ErrBadPayload, name)
		}
		prayers = append(prayers, Info{Name: name, Time: parseClock(raw, day, zone)})
	}

	updated := loc
	updated.Timezone = zone.String()
	if lat, err := data.Meta.Latitude.Float64(); err == nil {
		updated.Latitude = &lat
	}
	if lon, err := data.Meta.Longitude.Float64(); err == nil {
		updated.Longitude = &lon
	}

	gregorian := day
	if data.Date.Gregorian.Date != "" {
		if g, err := time.ParseInLocation("02-01-2006", data.Date.Gregorian.Date, zone); err == nil {
			gregorian = g
		}
	}

	d := Day{
		Location:      updated,
		HijriDate:     hijriText(data.Date.Hijri),
		GregorianDate: gregorian,
		Prayers:       prayers,
	}
	if err := d.Validate(); err != nil {
		return Day{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return d, nil
}

func (c *AladhanClient) resolveZone(loc Location, meta aladhanMeta) *time.Location {
	name := strings.TrimSpace(meta.Timezone)
	if name == "" {
		name = strings.TrimSpace(loc.Timezone)
	}
	if name == "" {
		c.log.Warn("timezone missing from response; defaulting to UTC")
		return time.UTC
	}
	zone, err := time.LoadLocation(name)
	if err != nil {
		c.log.Warn("unknown timezone; falling back to UTC", logx.String("tz", name))
		return time.UTC
	}
	return zone
}

// parseClock turns an AlAdhan timing like "05:10" or "05:10 (+01)" into a
// zoned instant on the target day. Garbage collapses to midnight.
func parseClock(raw string, day time.Time, zone *time.Location) time.Time {
	var b strings.Builder
	for _, ch := range raw {
		if (ch >= '0' && ch <= '9') || ch == ':' {
			b.WriteRune(ch)
		}
		if b.Len() == 5 {
			break
		}
	}
	clean := b.String()

	hour, minute := 0, 0
	if parts := strings.Split(clean, ":"); len(parts) == 2 {
		h, errH := strconv.Atoi(parts[0])
		m, errM := strconv.Atoi(parts[1])
		if errH == nil && errM == nil && h >= 0 && h <= 23 && m >= 0 && m <= 59 {
			hour, minute = h, m
		}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, zone)
}

// hijriText assembles "27 Rabi al-Thani 1447 AH" when the parts are present,
// otherwise falls back to the API's raw hijri date string.
func hijriText(h aladhanHijri) string {
	if h.Day != "" && h.Month.En != "" && h.Year != "" {
		return fmt.Sprintf("%s %s %s AH", h.Day, h.Month.En, h.Year)
	}
	return h.Date
}
