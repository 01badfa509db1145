package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"adhand/internal/prayer"
	"adhand/pkg/logx"
)

// PlayerConfig selects the external audio player and the adhan files.
// UseShortFor names prayers that get the short adhan (typically Fajr at
// night, or all five in an office setting).
type PlayerConfig struct {
	Enabled     bool
	Command     string // e.g. "mpv --no-video" or "paplay"
	FullSound   string
	ShortSound  string
	UseShortFor []string
}

// Player runs an external audio command for each announcement.
type Player struct {
	cfg   PlayerConfig
	short map[prayer.Name]bool
	log   logx.Logger
}

func NewPlayer(cfg PlayerConfig, log logx.Logger) *Player {
	if log.IsZero() {
		log = logx.Nop()
	}
	short := make(map[prayer.Name]bool, len(cfg.UseShortFor))
	for _, n := range cfg.UseShortFor {
		short[prayer.Name(strings.TrimSpace(n))] = true
	}
	return &Player{cfg: cfg, short: short, log: log}
}

func (p *Player) Name() string { return "player" }

func (p *Player) Announce(ctx context.Context, name prayer.Name) error {
	sound := p.cfg.FullSound
	if p.short[name] && p.cfg.ShortSound != "" {
		sound = p.cfg.ShortSound
	}
	if sound == "" {
		return fmt.Errorf("player: no sound configured")
	}

	parts := strings.Fields(p.cfg.Command)
	if len(parts) == 0 {
		return fmt.Errorf("player: no command configured")
	}
	args := append(parts[1:], sound)

	p.log.Debug("playing adhan",
		logx.String("prayer", string(name)),
		logx.String("command", parts[0]),
		logx.String("sound", sound))

	cmd := exec.CommandContext(ctx, parts[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("player: %s: %w (%s)", parts[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
