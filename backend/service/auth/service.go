// Package auth validates WS-Security UsernameToken digests.
package auth

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/elgs/gostrgen"

	"onvifsimple/gover/backend/config"
	"onvifsimple/gover/backend/render"
	"onvifsimple/gover/backend/soap"
	"onvifsimple/gover/backend/xmltree"
)

// maxDigestInput bounds decoded nonce + created + password.
const maxDigestInput = 1024

const createdLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrMissingSecurity = errors.New("auth: request has no Security header")
	ErrMissingUsername = errors.New("auth: missing Username")
	ErrMissingDigest   = errors.New("auth: missing Password digest")
	ErrMissingNonce    = errors.New("auth: missing Nonce")
	ErrMissingCreated  = errors.New("auth: missing Created")
	ErrInvalidNonce    = errors.New("auth: Nonce is not valid base64")
	ErrInputTooLarge   = errors.New("auth: digest input exceeds working buffer")
	ErrUserMismatch    = errors.New("auth: unknown username")
	ErrDigestMismatch  = errors.New("auth: digest mismatch")
)

// Token is the UsernameToken carried by one request.
type Token struct {
	Enabled  bool
	Username string
	Digest   string
	Nonce    string
	Created  string
}

// publicMethods stay reachable on the device service without credentials so
// clients can discover capabilities and sync time first.
var publicMethods = []string{
	"GetSystemDateAndTime",
	"GetCapabilities",
	"GetServices",
	"GetServiceCapabilities",
}

type Validator struct {
	username    string
	password    string
	synologyNVR bool
}

func New(cfg config.Config) *Validator {
	return &Validator{
		username:    cfg.Username,
		password:    cfg.Password,
		synologyNVR: cfg.SynologyNVR,
	}
}

// Enabled is false when no credentials are configured.
func (v *Validator) Enabled() bool {
	return v.username != "" || v.password != ""
}

// IsPublic reports whether (service, method) bypasses authentication.
func IsPublic(service, method string) bool {
	if !strings.EqualFold(service, soap.DeviceService) {
		return false
	}
	for _, m := range publicMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Check authenticates env for (service, method). The returned token is
// disabled when no check was needed.
func (v *Validator) Check(service, method string, env *xmltree.Envelope) (Token, error) {
	if !v.Enabled() || IsPublic(service, method) {
		return Token{}, nil
	}
	token, err := ParseToken(env.Header)
	if err != nil {
		return token, err
	}
	if token.Username != v.username {
		return token, ErrUserMismatch
	}
	nonce, err := base64.StdEncoding.DecodeString(token.Nonce)
	if err != nil {
		return token, ErrInvalidNonce
	}
	expected, err := Digest(nonce, token.Created, v.password)
	if err != nil {
		return token, err
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(token.Digest)) != 1 {
		return token, ErrDigestMismatch
	}
	return token, nil
}

// Fault is the fault sent back when Check fails for (service, method).
func (v *Validator) Fault(service, method string) *soap.Fault {
	if v.synologyNVR && soap.SynologyQuirk(service, method) {
		return soap.TooManyProfiles(service)
	}
	return soap.NotAuthorized(service)
}

// ParseToken extracts the UsernameToken fields from the SOAP header.
func ParseToken(header *xmltree.Node) (Token, error) {
	token := Token{Enabled: true}
	if header == nil || xmltree.FindNode("Security", header) == nil {
		return token, ErrMissingSecurity
	}
	var ok bool
	if token.Username, ok = xmltree.FindText("Username", header); !ok {
		return token, ErrMissingUsername
	}
	if token.Digest, ok = xmltree.FindText("Password", header); !ok {
		return token, ErrMissingDigest
	}
	if token.Nonce, ok = xmltree.FindText("Nonce", header); !ok {
		return token, ErrMissingNonce
	}
	if token.Created, ok = xmltree.FindText("Created", header); !ok {
		return token, ErrMissingCreated
	}
	token.Username = strings.TrimSpace(token.Username)
	token.Digest = strings.TrimSpace(token.Digest)
	token.Nonce = strings.TrimSpace(token.Nonce)
	token.Created = strings.TrimSpace(token.Created)
	return token, nil
}

// Digest computes Base64(SHA1(nonce + created + password)).
func Digest(nonce []byte, created, password string) (string, error) {
	if len(nonce)+len(created)+len(password) > maxDigestInput {
		return "", ErrInputTooLarge
	}
	buf := make([]byte, 0, len(nonce)+len(created)+len(password))
	buf = append(buf, nonce...)
	buf = append(buf, created...)
	buf = append(buf, password...)
	sum := sha1.Sum(buf)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// NewToken builds a fresh client-side UsernameToken.
func NewToken(username, password string, now time.Time) (Token, error) {
	nonce, err := gostrgen.RandGen(32, gostrgen.Lower|gostrgen.Digit, "", "")
	if err != nil {
		return Token{}, err
	}
	created := now.UTC().Format(createdLayout)
	digest, err := Digest([]byte(nonce), created, password)
	if err != nil {
		return Token{}, err
	}
	return Token{
		Enabled:  true,
		Username: username,
		Digest:   digest,
		Nonce:    base64.StdEncoding.EncodeToString([]byte(nonce)),
		Created:  created,
	}, nil
}

// Header renders t as a wsse:Security header fragment.
func (t Token) Header() (string, error) {
	return render.Render("wsse_security",
		render.Text("USERNAME", t.Username),
		render.Text("DIGEST", t.Digest),
		render.Text("NONCE", t.Nonce),
		render.Text("CREATED", t.Created),
	)
}
