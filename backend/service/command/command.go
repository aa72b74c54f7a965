// Package command turns configured command templates into argv and runs them
// without a shell.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"onvifsimple/gover/backend/logging"
)

var (
	ErrNotConfigured = errors.New("command template not configured")
	ErrMissingArg    = errors.New("command template placeholder has no value")
)

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// Arg is a named value substituted into a "{name}" placeholder.
type Arg struct {
	Name  string
	Value string
}

func Float(name string, value float64) Arg {
	return Arg{Name: name, Value: strconv.FormatFloat(value, 'f', -1, 64)}
}

func Int(name string, value int) Arg {
	return Arg{Name: name, Value: strconv.Itoa(value)}
}

func String(name string, value string) Arg {
	return Arg{Name: name, Value: value}
}

// Template is a parsed command line. Placeholders are expanded per argv token,
// so a value can never split into extra arguments.
type Template struct {
	raw    string
	tokens []string
}

func Parse(raw string) (*Template, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNotConfigured
	}
	tokens, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", raw, err)
	}
	if len(tokens) == 0 {
		return nil, ErrNotConfigured
	}
	return &Template{raw: raw, tokens: tokens}, nil
}

func (t *Template) String() string {
	return t.raw
}

func (t *Template) Expand(args ...Arg) ([]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		values[arg.Name] = arg.Value
	}
	argv := make([]string, 0, len(t.tokens))
	for _, token := range t.tokens {
		var missing error
		expanded := placeholderPattern.ReplaceAllStringFunc(token, func(match string) string {
			name := match[1 : len(match)-1]
			value, ok := values[name]
			if !ok {
				missing = fmt.Errorf("%w: {%s} in %q", ErrMissingArg, name, t.raw)
				return match
			}
			return value
		})
		if missing != nil {
			return nil, missing
		}
		argv = append(argv, expanded)
	}
	return argv, nil
}

// Executor runs an argv to completion and applies no timeout of its own.
type Executor interface {
	Run(ctx context.Context, argv []string) error
	Output(ctx context.Context, argv []string) (string, error)
}

// Runner binds templates to an Executor.
type Runner struct {
	exec    Executor
	observe func(program string, err error)
}

func NewRunner(executor Executor) *Runner {
	if executor == nil {
		executor = Exec{}
	}
	return &Runner{exec: executor}
}

// Observe registers fn to be called after every executed command.
func (r *Runner) Observe(fn func(program string, err error)) {
	r.observe = fn
}

func (r *Runner) record(argv []string, err error) error {
	if r.observe != nil {
		r.observe(argv[0], err)
	}
	return err
}

// Configured reports whether raw holds a usable template.
func Configured(raw string) bool {
	return strings.TrimSpace(raw) != ""
}

func (r *Runner) Run(ctx context.Context, raw string, args ...Arg) error {
	argv, err := expand(raw, args)
	if err != nil {
		return err
	}
	logging.Debugf("[command] run %q", argv)
	return r.record(argv, r.exec.Run(ctx, argv))
}

// Output runs the template and returns its whole stdout.
func (r *Runner) Output(ctx context.Context, raw string, args ...Arg) (string, error) {
	argv, err := expand(raw, args)
	if err != nil {
		return "", err
	}
	logging.Debugf("[command] output %q", argv)
	out, err := r.exec.Output(ctx, argv)
	return out, r.record(argv, err)
}

// FirstLine runs the template and returns the first line of stdout, trimmed.
func (r *Runner) FirstLine(ctx context.Context, raw string, args ...Arg) (string, error) {
	out, err := r.Output(ctx, raw, args...)
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(out, "\n")
	return strings.TrimSpace(line), nil
}

func expand(raw string, args []Arg) ([]string, error) {
	tpl, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return tpl.Expand(args...)
}

// Exec runs commands with os/exec.
type Exec struct{}

func (Exec) Run(ctx context.Context, argv []string) error {
	_, err := run(ctx, argv)
	return err
}

func (Exec) Output(ctx context.Context, argv []string) (string, error) {
	return run(ctx, argv)
}

func run(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", ErrNotConfigured
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
