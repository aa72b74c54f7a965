package ptz

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"onvifsimple/gover/backend/logging"
	"onvifsimple/gover/backend/service/command"
)

const (
	presetTokenPrefix = "PresetToken_"
	maxPresetName     = 64
)

var (
	ErrInvalidPresetName = errors.New("ptz: invalid preset name")
	ErrInvalidToken      = errors.New("ptz: invalid preset token")
	ErrPresetNotFound    = errors.New("ptz: preset not found")
	ErrPresetExists      = errors.New("ptz: preset name already in use")
	ErrTooManyPresets    = errors.New("ptz: preset catalog is full")
	ErrMoving            = errors.New("ptz: motor is moving")
	ErrPresetNotSettled  = errors.New("ptz: preset did not appear after set")
)

// Preset is one stored position. Positions are in the generic space.
type Preset struct {
	Number int
	Name   string
	Pan    float64
	Tilt   float64
	Zoom   float64
}

func (p Preset) Token() string {
	return presetTokenPrefix + strconv.Itoa(p.Number)
}

func ParsePresetToken(token string) (int, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(token), presetTokenPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	return n, nil
}

// ValidatePresetName rejects names that are empty, longer than 64 characters
// or contain a space.
func ValidatePresetName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidPresetName)
	case utf8.RuneCountInString(name) > maxPresetName:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidPresetName, maxPresetName)
	case strings.Contains(name, " "):
		return fmt.Errorf("%w: %q contains a space", ErrInvalidPresetName, name)
	}
	return nil
}

// ParseCatalog reads "number=name,pan,tilt[,zoom]" lines in native units.
// Lines that do not parse are skipped.
func ParseCatalog(output string) []Preset {
	var presets []Preset
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		preset, err := parsePresetLine(line)
		if err != nil {
			logging.Debugf("[ptz] skip preset line %q: %v", line, err)
			continue
		}
		presets = append(presets, preset)
	}
	return presets
}

func parsePresetLine(line string) (Preset, error) {
	number, rest, ok := strings.Cut(line, "=")
	if !ok {
		return Preset{}, errors.New("missing '='")
	}
	n, err := strconv.Atoi(strings.TrimSpace(number))
	if err != nil {
		return Preset{}, fmt.Errorf("bad number: %w", err)
	}
	fields := strings.Split(rest, ",")
	if len(fields) < 3 {
		return Preset{}, errors.New("expected name,pan,tilt[,zoom]")
	}
	preset := Preset{Number: n, Name: strings.TrimSpace(fields[0]), Zoom: 1.0}
	coords := []*float64{&preset.Pan, &preset.Tilt, &preset.Zoom}
	for i, field := range fields[1:] {
		if i >= len(coords) {
			break
		}
		*coords[i], err = strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Preset{}, fmt.Errorf("bad coordinate %q: %w", field, err)
		}
	}
	return preset, nil
}

// Presets loads the catalog from the backend. It is never cached.
func (s *Service) Presets(ctx context.Context) ([]Preset, error) {
	out, err := s.runner.Output(ctx, s.cfg.Commands.GetPresets)
	if err != nil {
		return nil, err
	}
	presets := ParseCatalog(out)
	for i := range presets {
		generic := ApplyReverse(s.toGeneric(Vector{
			Pan:  presets[i].Pan,
			Tilt: presets[i].Tilt,
			Zoom: presets[i].Zoom,
		}), s.cfg.Reverse)
		presets[i].Pan, presets[i].Tilt, presets[i].Zoom = generic.Pan, generic.Tilt, generic.Zoom
	}
	return presets, nil
}

func (s *Service) lookup(ctx context.Context, token string) (Preset, error) {
	n, err := ParsePresetToken(token)
	if err != nil {
		return Preset{}, err
	}
	presets, err := s.Presets(ctx)
	if err != nil {
		return Preset{}, err
	}
	for _, preset := range presets {
		if preset.Number == n {
			return preset, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %s", ErrPresetNotFound, token)
}

func (s *Service) GotoPreset(ctx context.Context, token string) error {
	preset, err := s.lookup(ctx, token)
	if err != nil {
		return err
	}
	return s.runner.Run(ctx, s.cfg.Commands.GotoPreset, command.Int("n", preset.Number))
}

func (s *Service) RemovePreset(ctx context.Context, token string) error {
	preset, err := s.lookup(ctx, token)
	if err != nil {
		return err
	}
	return s.runner.Run(ctx, s.cfg.Commands.RemovePreset, command.Int("n", preset.Number))
}

// SetPreset stores the current position under name. An empty token creates a
// new preset; otherwise the preset behind token is overwritten. The stored
// preset is read back from the catalog, which the backend may update late.
func (s *Service) SetPreset(ctx context.Context, token string, name string) (Preset, error) {
	if err := ValidatePresetName(name); err != nil {
		return Preset{}, err
	}
	moving, _, err := s.Moving(ctx)
	if err != nil {
		return Preset{}, err
	}
	if moving {
		return Preset{}, ErrMoving
	}

	presets, err := s.Presets(ctx)
	if err != nil {
		return Preset{}, err
	}
	number, err := s.presetSlot(presets, token, name)
	if err != nil {
		return Preset{}, err
	}
	if err := s.runner.Run(ctx, s.cfg.Commands.SetPreset, command.Int("n", number), command.String("name", name)); err != nil {
		return Preset{}, err
	}
	return s.awaitPreset(ctx, number, name)
}

func (s *Service) presetSlot(presets []Preset, token string, name string) (int, error) {
	if strings.TrimSpace(token) != "" {
		n, err := ParsePresetToken(token)
		if err != nil {
			return 0, err
		}
		for _, preset := range presets {
			if preset.Number == n {
				return n, nil
			}
		}
		return 0, fmt.Errorf("%w: %s", ErrPresetNotFound, token)
	}
	next := 1
	for _, preset := range presets {
		if preset.Name == name {
			return 0, fmt.Errorf("%w: %s", ErrPresetExists, name)
		}
		if preset.Number >= next {
			next = preset.Number + 1
		}
	}
	if s.cfg.MaxPresets > 0 && len(presets) >= s.cfg.MaxPresets {
		return 0, ErrTooManyPresets
	}
	return next, nil
}

// awaitPreset polls the catalog until the preset shows up or the settle window
// closes.
func (s *Service) awaitPreset(ctx context.Context, number int, name string) (Preset, error) {
	deadline := time.Now().Add(s.settleTimeout)
	for {
		if err := sleepContext(ctx, s.settleInterval); err != nil {
			return Preset{}, err
		}
		presets, err := s.Presets(ctx)
		logCommandError("reload presets", err)
		for _, preset := range presets {
			if preset.Number == number && preset.Name == name {
				return preset, nil
			}
		}
		if !time.Now().Before(deadline) {
			return Preset{}, fmt.Errorf("%w: %s", ErrPresetNotSettled, name)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
