package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON file backend
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RefreshRecord logs one refresh cycle's outcome.
// Keep it compact and schema-stable.
type RefreshRecord struct {
	At        time.Time
	City      string
	Country   string
	Timezone  string
	HijriDate string
	Date      string // gregorian, YYYY-MM-DD
	Error     string // empty on success
}
