package auth

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onvifsimple/gover/backend/config"
	"onvifsimple/gover/backend/soap"
	"onvifsimple/gover/backend/xmltree"
)

var fixtureNonce = []byte{0x4b, 0xbc, 0x0e, 0xd5, 0x91, 0x53, 0x87, 0x42, 0x97, 0xbf, 0x60, 0x82}

const fixtureCreated = "2024-01-01T00:00:00Z"

func referenceDigest(nonce []byte, created, password string) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func envelopeWith(t *testing.T, header string, method string) *xmltree.Envelope {
	t.Helper()
	raw := fmt.Sprintf(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Header>%s</s:Header><s:Body><trt:%s xmlns:trt="http://www.onvif.org/ver10/media/wsdl"/></s:Body></s:Envelope>`, header, method)
	doc, err := xmltree.Parse([]byte(raw))
	require.NoError(t, err)
	env, err := xmltree.ParseEnvelope(doc)
	require.NoError(t, err)
	return env
}

func securityHeader(username, digest, nonce, created string) string {
	var b strings.Builder
	b.WriteString(`<wsse:Security xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd" xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"><wsse:UsernameToken>`)
	if username != "-" {
		b.WriteString("<wsse:Username>" + username + "</wsse:Username>")
	}
	if digest != "-" {
		b.WriteString(`<wsse:Password Type="PasswordDigest">` + digest + "</wsse:Password>")
	}
	if nonce != "-" {
		b.WriteString("<wsse:Nonce>" + nonce + "</wsse:Nonce>")
	}
	if created != "-" {
		b.WriteString("<wsu:Created>" + created + "</wsu:Created>")
	}
	b.WriteString("</wsse:UsernameToken></wsse:Security>")
	return b.String()
}

func TestDigestMatchesReference(t *testing.T) {
	got, err := Digest(fixtureNonce, fixtureCreated, "secret")
	require.NoError(t, err)
	assert.Equal(t, referenceDigest(fixtureNonce, fixtureCreated, "secret"), got)

	flipped := append([]byte(nil), fixtureNonce...)
	flipped[0] ^= 0x01
	other, err := Digest(flipped, fixtureCreated, "secret")
	require.NoError(t, err)
	assert.NotEqual(t, got, other)
}

func TestDigestBound(t *testing.T) {
	_, err := Digest(make([]byte, 1000), fixtureCreated, strings.Repeat("p", 100))
	require.ErrorIs(t, err, ErrInputTooLarge)
}

func TestCheck(t *testing.T) {
	validator := New(config.Config{Username: "admin", Password: "secret"})
	nonce := base64.StdEncoding.EncodeToString(fixtureNonce)
	digest := referenceDigest(fixtureNonce, fixtureCreated, "secret")

	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{"valid", securityHeader("admin", digest, nonce, fixtureCreated), nil},
		{"no security", "", ErrMissingSecurity},
		{"missing username", securityHeader("-", digest, nonce, fixtureCreated), ErrMissingUsername},
		{"missing digest", securityHeader("admin", "-", nonce, fixtureCreated), ErrMissingDigest},
		{"missing nonce", securityHeader("admin", digest, "-", fixtureCreated), ErrMissingNonce},
		{"missing created", securityHeader("admin", digest, nonce, "-"), ErrMissingCreated},
		{"wrong user", securityHeader("guest", digest, nonce, fixtureCreated), ErrUserMismatch},
		{"created changed", securityHeader("admin", digest, nonce, "2024-01-01T00:00:01Z"), ErrDigestMismatch},
		{"bad nonce", securityHeader("admin", digest, "%%%", fixtureCreated), ErrInvalidNonce},
		{"oversize nonce", securityHeader("admin", digest, base64.StdEncoding.EncodeToString(make([]byte, 2048)), fixtureCreated), ErrInputTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := validator.Check(soap.MediaService, "GetProfiles", envelopeWith(t, tt.header, "GetProfiles"))
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.True(t, token.Enabled)
				assert.Equal(t, "admin", token.Username)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckOpenAccess(t *testing.T) {
	validator := New(config.Config{})
	assert.False(t, validator.Enabled())
	token, err := validator.Check(soap.PTZService, "Stop", envelopeWith(t, "", "Stop"))
	require.NoError(t, err)
	assert.False(t, token.Enabled)
}

func TestCheckPublicMethods(t *testing.T) {
	validator := New(config.Config{Username: "admin", Password: "secret"})
	_, err := validator.Check("DEVICE_SERVICE", "getsystemdateandtime", envelopeWith(t, "", "GetSystemDateAndTime"))
	require.NoError(t, err)

	_, err = validator.Check(soap.DeviceService, "GetDeviceInformation", envelopeWith(t, "", "GetDeviceInformation"))
	require.ErrorIs(t, err, ErrMissingSecurity)

	_, err = validator.Check(soap.MediaService, "GetServiceCapabilities", envelopeWith(t, "", "GetServiceCapabilities"))
	require.ErrorIs(t, err, ErrMissingSecurity)
}

func TestFaultQuirk(t *testing.T) {
	plain := New(config.Config{Username: "admin"})
	assert.Equal(t, "ter:NotAuthorized", plain.Fault(soap.Media2Service, "GetProfiles").Subcode)

	synology := New(config.Config{Username: "admin", SynologyNVR: true})
	fault := synology.Fault(soap.Media2Service, "getprofiles")
	assert.Equal(t, "ter:MaxNVTProfiles", fault.Subcode)
	assert.Equal(t, soap.Media2Service, fault.Service)
	assert.Equal(t, "ter:NotAuthorized", synology.Fault(soap.MediaService, "GetProfiles").Subcode)
}

func TestNewTokenRoundTrip(t *testing.T) {
	token, err := NewToken("admin", "secret", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00.000Z", token.Created)

	validator := New(config.Config{Username: "admin", Password: "secret"})
	header := securityHeader(token.Username, token.Digest, token.Nonce, token.Created)
	_, err = validator.Check(soap.PTZService, "GetStatus", envelopeWith(t, header, "GetStatus"))
	require.NoError(t, err)

	wrong := New(config.Config{Username: "admin", Password: "other"})
	_, err = wrong.Check(soap.PTZService, "GetStatus", envelopeWith(t, header, "GetStatus"))
	require.ErrorIs(t, err, ErrDigestMismatch)
}

func TestTokenHeaderValidates(t *testing.T) {
	token, err := NewToken("admin", "p&ss<word>", time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	header, err := token.Header()
	require.NoError(t, err)
	assert.Contains(t, header, "<wsse:Username>admin</wsse:Username>")

	validator := New(config.Config{Username: "admin", Password: "p&ss<word>"})
	parsed, err := validator.Check(soap.MediaService, "GetProfiles", envelopeWith(t, header, "GetProfiles"))
	require.NoError(t, err)
	assert.Equal(t, token.Digest, parsed.Digest)
	assert.Equal(t, token.Created, parsed.Created)
}
