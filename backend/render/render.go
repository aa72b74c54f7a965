// Package render fills canned XML templates and wraps them in a SOAP envelope.
package render

import (
	"embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"onvifsimple/gover/backend/soap"
)

//go:embed templates/*.xml
var templateFS embed.FS

var placeholderPattern = regexp.MustCompile(`%[A-Z0-9_]+%`)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Var is one placeholder binding. Values are escaped unless Raw is set.
type Var struct {
	Name  string
	Value string
	Raw   bool
}

func Text(name, value string) Var {
	return Var{Name: name, Value: value}
}

// XML binds a fragment produced by an earlier Render call.
func XML(name, fragment string) Var {
	return Var{Name: name, Value: fragment, Raw: true}
}

func Float(name string, value float64) Var {
	return Var{Name: name, Value: strconv.FormatFloat(value, 'f', -1, 64)}
}

func Int(name string, value int) Var {
	return Var{Name: name, Value: strconv.Itoa(value)}
}

func Bool(name string, value bool) Var {
	return Var{Name: name, Value: strconv.FormatBool(value)}
}

// Render fills template id. Every placeholder the template names must be bound.
func Render(id string, vars ...Var) (string, error) {
	raw, err := templateFS.ReadFile("templates/" + id + ".xml")
	if err != nil {
		return "", fmt.Errorf("render: unknown template %q: %w", id, err)
	}
	values := make(map[string]string, len(vars))
	for _, v := range vars {
		value := v.Value
		if !v.Raw {
			value = xmlEscaper.Replace(value)
		}
		values["%"+v.Name+"%"] = value
	}
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(strings.TrimSpace(string(raw)), func(token string) string {
		if value, ok := values[token]; ok {
			return value
		}
		missing = append(missing, token)
		return token
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("render: template %q missing %s", id, strings.Join(missing, ", "))
	}
	return out, nil
}

// Each renders item once per element and concatenates the fragments.
func Each[T any](id string, items []T, bind func(int, T) []Var) (string, error) {
	var b strings.Builder
	for i, item := range items {
		fragment, err := Render(id, bind(i, item)...)
		if err != nil {
			return "", err
		}
		b.WriteString(fragment)
	}
	return b.String(), nil
}

// Response renders body template id inside the envelope.
func Response(id string, vars ...Var) ([]byte, error) {
	body, err := Render(id, vars...)
	if err != nil {
		return nil, err
	}
	return envelope(body)
}

// Empty is a successful response with nothing in the Body.
func Empty() ([]byte, error) {
	return envelope("")
}

// Fault renders f as a SOAP fault envelope.
func Fault(f *soap.Fault) ([]byte, error) {
	body, err := Render("fault",
		Text("CODE", "SOAP-ENV:"+f.Code),
		Text("SUBCODE", f.Subcode),
		Text("REASON", f.Reason),
		Text("DETAIL", f.Detail),
	)
	if err != nil {
		return nil, err
	}
	return envelope(body)
}

func envelope(body string) ([]byte, error) {
	out, err := Render("envelope", XML("BODY", body))
	if err != nil {
		return nil, err
	}
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>` + "\n" + out + "\n"), nil
}

// Request wraps a raw body fragment in a client-side envelope, with an
// optional pre-rendered header fragment.
func Request(header, body string) ([]byte, error) {
	out, err := Render("request_envelope", XML("HEADER", header), XML("BODY", body))
	if err != nil {
		return nil, err
	}
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>` + "\n" + out + "\n"), nil
}
