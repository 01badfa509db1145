// Package location resolves where the user is, preferring automatic
// IP-based detection and degrading to the last known or manually configured
// location.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"adhand/internal/prayer"
	"adhand/pkg/logx"
)

// ErrNoLocation is returned when neither automatic detection nor a stored or
// manual location is available.
var ErrNoLocation = errors.New("no automatic or manual location available")

// DetectFunc performs automatic detection (network I/O; runs on a dispatcher
// worker, never on the run loop).
type DetectFunc func(ctx context.Context) (prayer.Location, error)

type Config struct {
	Auto   bool
	Manual *prayer.Location // optional manually configured location
}

type Resolver struct {
	cfg    Config
	detect DetectFunc
	log    logx.Logger

	mu   sync.Mutex
	last *prayer.Location
}

func NewResolver(cfg Config, detect DetectFunc, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	if detect == nil {
		detect = DetectViaIP
	}
	return &Resolver{cfg: cfg, detect: detect, log: log}
}

// Apply swaps the resolver's configuration (config file reload).
func (r *Resolver) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Remember records a successfully applied location as the fallback for
// future cycles. Safe from any goroutine.
func (r *Resolver) Remember(loc prayer.Location) {
	r.mu.Lock()
	r.last = &loc
	r.mu.Unlock()
}

// Last returns the remembered location, if any.
func (r *Resolver) Last() *prayer.Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Resolve picks the location for a refresh cycle.
//
// Auto mode: detection first; on failure fall back to the last known
// location, then the manual one. Manual mode: the configured location must
// name at least a city and country. Anything else fails with ErrNoLocation.
func (r *Resolver) Resolve(ctx context.Context) (prayer.Location, error) {
	r.mu.Lock()
	cfg := r.cfg
	last := r.last
	r.mu.Unlock()

	if !cfg.Auto {
		if loc := usableManual(cfg.Manual); loc != nil {
			r.log.Debug("using manual location", logx.String("location", loc.String()))
			return *loc, nil
		}
		return prayer.Location{}, fmt.Errorf("manual mode: %w", ErrNoLocation)
	}

	loc, err := r.detect(ctx)
	if err == nil {
		r.log.Debug("automatic location detection succeeded", logx.String("location", loc.String()))
		r.Remember(loc)
		return loc, nil
	}
	r.log.Warn("automatic location detection failed; falling back", logx.Err(err))

	if last != nil {
		r.log.Debug("using last known location", logx.String("location", last.String()))
		return *last, nil
	}
	if loc := usableManual(cfg.Manual); loc != nil {
		r.log.Debug("using configured fallback location", logx.String("location", loc.String()))
		return *loc, nil
	}
	return prayer.Location{}, fmt.Errorf("detection failed (%v): %w", err, ErrNoLocation)
}

func usableManual(loc *prayer.Location) *prayer.Location {
	if loc == nil || loc.City == "" || loc.Country == "" {
		return nil
	}
	return loc
}
