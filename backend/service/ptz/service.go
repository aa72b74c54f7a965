// Package ptz converts generic-space PTZ requests into backend motor commands.
package ptz

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"onvifsimple/gover/backend/config"
	"onvifsimple/gover/backend/logging"
	"onvifsimple/gover/backend/service/command"
)

var (
	ErrInvalidPosition   = errors.New("ptz: position is not available")
	ErrBadPositionOutput = errors.New("ptz: unreadable position output")
)

// PanTilt is a two-axis value as sent on the wire.
type PanTilt struct {
	X float64
	Y float64
}

// Move carries the axis groups present in one request. A nil group was not sent.
type Move struct {
	PanTilt *PanTilt
	Zoom    *float64
}

// Status is the answer to GetStatus.
type Status struct {
	Position    Vector
	HasPosition bool
	Moving      bool
	HasMoving   bool
	UTC         time.Time
}

type Service struct {
	cfg    config.PTZ
	runner *command.Runner
	now    func() time.Time

	settleTimeout  time.Duration
	settleInterval time.Duration
}

func New(cfg config.PTZ, runner *command.Runner) *Service {
	if runner == nil {
		runner = command.NewRunner(nil)
	}
	return &Service{
		cfg:            cfg,
		runner:         runner,
		now:            time.Now,
		settleTimeout:  time.Second,
		settleInterval: 250 * time.Millisecond,
	}
}

func (s *Service) Config() config.PTZ {
	return s.cfg
}

// ContinuousMove starts a velocity move. A zero velocity on a present axis
// group stops that group.
func (s *Service) ContinuousMove(ctx context.Context, move Move) error {
	cmds := s.cfg.Commands
	if pt := move.PanTilt; pt != nil {
		v := ApplyReverse(Vector{Pan: pt.X, Tilt: pt.Y}, s.cfg.Reverse)
		switch {
		case v.Pan == 0 && v.Tilt == 0:
			if err := s.runner.Run(ctx, cmds.Stop, command.String("axis", "pantilt")); err != nil {
				return err
			}
		case v.Pan != 0 && v.Tilt != 0 && command.Configured(cmds.MovePanTilt):
			x := s.cfg.PanMin
			if v.Pan > 0 {
				x = s.cfg.PanMax
			}
			y := s.cfg.TiltMin
			if v.Tilt > 0 {
				y = s.cfg.TiltMax
			}
			speed := math.Max(math.Abs(v.Pan), math.Abs(v.Tilt))
			if err := s.runner.Run(ctx, cmds.MovePanTilt, command.Float("x", x), command.Float("y", y), command.Float("speed", speed)); err != nil {
				return err
			}
		default:
			if err := s.axisMove(ctx, v.Pan, cmds.MoveRight, cmds.MoveLeft); err != nil {
				return err
			}
			if err := s.axisMove(ctx, v.Tilt, cmds.MoveUp, cmds.MoveDown); err != nil {
				return err
			}
		}
	}
	if move.Zoom != nil && s.cfg.ZoomSupported() {
		if *move.Zoom == 0 {
			return s.runner.Run(ctx, cmds.Stop, command.String("axis", "zoom"))
		}
		return s.axisMove(ctx, *move.Zoom, cmds.MoveIn, cmds.MoveOut)
	}
	return nil
}

func (s *Service) axisMove(ctx context.Context, velocity float64, increase string, decrease string) error {
	switch {
	case velocity > 0:
		return s.runner.Run(ctx, increase, command.Float("speed", math.Abs(velocity)))
	case velocity < 0:
		return s.runner.Run(ctx, decrease, command.Float("speed", math.Abs(velocity)))
	default:
		return nil
	}
}

// Stop halts the selected axis groups.
func (s *Service) Stop(ctx context.Context, panTilt bool, zoom bool) error {
	if panTilt {
		if err := s.runner.Run(ctx, s.cfg.Commands.Stop, command.String("axis", "pantilt")); err != nil {
			return err
		}
	}
	if zoom && s.cfg.ZoomSupported() {
		return s.runner.Run(ctx, s.cfg.Commands.Stop, command.String("axis", "zoom"))
	}
	return nil
}

// AbsoluteMove jumps to a generic-space position. Axis groups left out are
// taken from the current position.
func (s *Service) AbsoluteMove(ctx context.Context, move Move) error {
	var target Vector
	if move.PanTilt == nil || (move.Zoom == nil && s.cfg.ZoomSupported()) {
		current, ok, err := s.Position(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidPosition
		}
		target = current
	}
	if pt := move.PanTilt; pt != nil {
		target.Pan = DecodePanTilt(pt.X, s.cfg.PanMin, s.cfg.PanMax)
		target.Tilt = DecodePanTilt(pt.Y, s.cfg.TiltMin, s.cfg.TiltMax)
	}
	if move.Zoom != nil {
		target.Zoom = DecodeZoom(*move.Zoom, s.cfg.ZoomMin, s.cfg.ZoomMax)
	}
	native := s.toNative(ApplyReverse(target, s.cfg.Reverse))
	return s.runner.Run(ctx, s.cfg.Commands.JumpToAbs,
		command.Float("x", native.Pan),
		command.Float("y", native.Tilt),
		command.Float("z", native.Zoom),
	)
}

// RelativeMove shifts by a generic-space translation. Missing groups do not move.
func (s *Service) RelativeMove(ctx context.Context, move Move) error {
	var delta Vector
	if pt := move.PanTilt; pt != nil {
		delta.Pan, delta.Tilt = pt.X, pt.Y
	}
	if move.Zoom != nil && s.cfg.ZoomSupported() {
		delta.Zoom = *move.Zoom
	}
	delta = ApplyReverse(delta, s.cfg.Reverse)
	return s.runner.Run(ctx, s.cfg.Commands.JumpToRel,
		command.Float("x", delta.Pan*(s.cfg.PanMax-s.cfg.PanMin)),
		command.Float("y", delta.Tilt*(s.cfg.TiltMax-s.cfg.TiltMin)),
		command.Float("z", delta.Zoom*(s.cfg.ZoomMax-s.cfg.ZoomMin)),
	)
}

func (s *Service) GotoHome(ctx context.Context) error {
	return s.runner.Run(ctx, s.cfg.Commands.GotoHome)
}

func (s *Service) SetHome(ctx context.Context) error {
	return s.runner.Run(ctx, s.cfg.Commands.SetHome)
}

// Position reads the current generic-space position. ok is false when no
// position query is configured.
func (s *Service) Position(ctx context.Context) (Vector, bool, error) {
	if !command.Configured(s.cfg.Commands.GetPosition) {
		return Vector{}, false, nil
	}
	line, err := s.runner.FirstLine(ctx, s.cfg.Commands.GetPosition)
	if err != nil {
		return Vector{}, false, err
	}
	fields := splitFields(line)
	if len(fields) < 2 {
		return Vector{}, false, fmt.Errorf("%w: %q", ErrBadPositionOutput, line)
	}
	values := make([]float64, len(fields))
	for i, field := range fields {
		values[i], err = strconv.ParseFloat(field, 64)
		if err != nil {
			return Vector{}, false, fmt.Errorf("%w: %q", ErrBadPositionOutput, line)
		}
	}
	native := Vector{Pan: values[0], Tilt: values[1], Zoom: s.cfg.ZoomMin}
	if len(values) > 2 {
		native.Zoom = values[2]
	}
	return ApplyReverse(s.toGeneric(native), s.cfg.Reverse), true, nil
}

// Moving asks the backend whether the motor is running. ok is false when no
// query is configured.
func (s *Service) Moving(ctx context.Context) (moving bool, ok bool, err error) {
	if !command.Configured(s.cfg.Commands.IsMoving) {
		return false, false, nil
	}
	line, err := s.runner.FirstLine(ctx, s.cfg.Commands.IsMoving)
	if err != nil {
		return false, false, err
	}
	return line == "1", true, nil
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	status := Status{UTC: s.now().UTC()}
	var err error
	if status.Position, status.HasPosition, err = s.Position(ctx); err != nil {
		return Status{}, err
	}
	if status.Moving, status.HasMoving, err = s.Moving(ctx); err != nil {
		return Status{}, err
	}
	return status, nil
}

func (s *Service) toNative(v Vector) Vector {
	return Vector{
		Pan:  NormalizedToRange(v.Pan, s.cfg.PanMin, s.cfg.PanMax),
		Tilt: NormalizedToRange(v.Tilt, s.cfg.TiltMin, s.cfg.TiltMax),
		Zoom: NormalizedToZoom(v.Zoom, s.cfg.ZoomMin, s.cfg.ZoomMax),
	}
}

func (s *Service) toGeneric(v Vector) Vector {
	return Vector{
		Pan:  RangeToNormalized(v.Pan, s.cfg.PanMin, s.cfg.PanMax),
		Tilt: RangeToNormalized(v.Tilt, s.cfg.TiltMin, s.cfg.TiltMax),
		Zoom: ZoomToNormalized(v.Zoom, s.cfg.ZoomMin, s.cfg.ZoomMax),
	}
}

func splitFields(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

func logCommandError(op string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Debugf("[ptz] %s failed: %v", op, err)
	}
}
