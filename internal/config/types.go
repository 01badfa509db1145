package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the daemon configuration. The file may be JSON or YAML; YAML is
// coerced to JSON so both share one strict decoder.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Location LocationConfig `json:"location"`
	Prayer   PrayerConfig   `json:"prayer"`
	Refresh  RefreshConfig  `json:"refresh,omitempty"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Notify   NotifyConfig   `json:"notify"`
	Weather  WeatherConfig  `json:"weather,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

// LocationConfig selects automatic detection or a manual location.
// With auto enabled, the manual fields serve as the fallback of last resort.
type LocationConfig struct {
	Auto      bool     `json:"auto"`
	City      string   `json:"city,omitempty"`
	Country   string   `json:"country,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Timezone  string   `json:"timezone,omitempty"`
}

// PrayerConfig picks the prayer-time source and calculation convention.
//
// Source values:
//   - "aladhan" (default): the AlAdhan web API
//   - "solar": local astronomical approximation (offline)
type PrayerConfig struct {
	Source string `json:"source,omitempty"`
	Method int    `json:"method,omitempty"` // AlAdhan calculation method id; default 3 (MWL)
	School int    `json:"school,omitempty"` // asr school: 0 standard, 1 hanafi
}

// RefreshConfig controls when the daily refresh fires.
type RefreshConfig struct {
	// At is the local wall-clock time "HH:MM" on the day after the current
	// prayer day. Default "00:05".
	At string `json:"at,omitempty"`
}

// DispatchConfig sizes the background worker pool.
type DispatchConfig struct {
	Workers   int `json:"workers,omitempty"`    // default 2
	QueueSize int `json:"queue_size,omitempty"` // default 16
}

type NotifyConfig struct {
	Enabled    bool                 `json:"enabled"`
	Workers    int                  `json:"workers,omitempty"`
	QueueSize  int                  `json:"queue_size,omitempty"`
	RatePerSec int                  `json:"rate_per_sec,omitempty"`
	Player     PlayerConfig         `json:"player,omitempty"`
	Telegram   NotifyTelegramConfig `json:"telegram,omitempty"`
}

type PlayerConfig struct {
	Enabled     bool     `json:"enabled"`
	Command     string   `json:"command,omitempty"` // e.g. "mpv --no-video"
	FullSound   string   `json:"full_sound,omitempty"`
	ShortSound  string   `json:"short_sound,omitempty"`
	UseShortFor []string `json:"use_short_for,omitempty"`
}

// NotifyTelegramConfig enables Telegram announcements. The bot token comes
// only from the environment (ADHAND_TELEGRAM_TOKEN), never from the file.
type NotifyTelegramConfig struct {
	Enabled bool   `json:"enabled"`
	ChatID  int64  `json:"chat_id,omitempty"`
	Token   string `json:"-"`
}

type WeatherConfig struct {
	Enabled bool `json:"enabled"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./adhand.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// envOverrides are applied on top of the parsed file. Secrets live here.
type envOverrides struct {
	TelegramToken  string `env:"ADHAND_TELEGRAM_TOKEN"`
	TelegramChatID int64  `env:"ADHAND_TELEGRAM_CHAT_ID"`
	LogLevel       string `env:"ADHAND_LOG_LEVEL"`
}

// ApplyEnv overlays environment variables onto the config.
func (c *Config) ApplyEnv() error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	if ov.TelegramToken != "" {
		c.Notify.Telegram.Token = ov.TelegramToken
	}
	if ov.TelegramChatID != 0 {
		c.Notify.Telegram.ChatID = ov.TelegramChatID
	}
	if ov.LogLevel != "" {
		c.Logging.Level = ov.LogLevel
	}
	return nil
}

// Validate rejects configs the daemon could not run with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Prayer.Source)) {
	case "", "aladhan", "solar":
	default:
		return fmt.Errorf("prayer.source: unknown source %q", c.Prayer.Source)
	}
	if c.Prayer.School != 0 && c.Prayer.School != 1 {
		return fmt.Errorf("prayer.school: must be 0 or 1")
	}
	if !c.Location.Auto && (c.Location.City == "" || c.Location.Country == "") {
		return fmt.Errorf("location: manual mode requires city and country")
	}
	if c.Location.Timezone != "" {
		if _, err := time.LoadLocation(c.Location.Timezone); err != nil {
			return fmt.Errorf("location.timezone: %w", err)
		}
	}
	if _, _, err := parseHHMM(c.RefreshAt()); err != nil {
		return fmt.Errorf("refresh.at: %w", err)
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Notify.Telegram.Enabled && c.Notify.Telegram.ChatID == 0 {
		return fmt.Errorf("notify.telegram: chat_id required (or ADHAND_TELEGRAM_CHAT_ID)")
	}
	return nil
}

// RefreshAt returns the configured daily refresh time, defaulted.
func (c *Config) RefreshAt() string {
	if strings.TrimSpace(c.Refresh.At) == "" {
		return "00:05"
	}
	return strings.TrimSpace(c.Refresh.At)
}

// RefreshCronSpec renders refresh.at as a 5-field cron expression.
func (c *Config) RefreshCronSpec() string {
	h, m, err := parseHHMM(c.RefreshAt())
	if err != nil {
		// Validate() rejects this earlier; keep the default as a backstop.
		return "5 0 * * *"
	}
	return fmt.Sprintf("%d %d * * *", m, h)
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
