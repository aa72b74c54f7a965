package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"onvifsimple/gover/backend/soap"
)

func TestWriteCGI(t *testing.T) {
	var out bytes.Buffer
	body := []byte("<Envelope/>\n")
	require.NoError(t, WriteCGI(&out, body))
	assert.Equal(t, "Content-Type: application/soap+xml; charset=utf-8\r\nContent-Length: 12\r\n\r\n<Envelope/>\n", out.String())
}

func TestWriteSOAPStatus(t *testing.T) {
	cases := []struct {
		name   string
		fault  *soap.Fault
		status int
	}{
		{name: "success", status: http.StatusOK},
		{name: "sender", fault: soap.NotAuthorized(soap.DeviceService), status: http.StatusBadRequest},
		{name: "receiver", fault: soap.ActionFailed(soap.DeviceService), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteSOAP(rec, []byte("<x/>"), tc.fault)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, SOAPContentType, rec.Header().Get("Content-Type"))
			assert.Equal(t, "4", rec.Header().Get("Content-Length"))
			assert.Equal(t, "<x/>", rec.Body.String())
		})
	}
}

func TestAdminTokenRequired(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		OK(w, "fine")
	})

	hash, err := HashAdminToken("s3cret", bcrypt.MinCost)
	require.NoError(t, err)

	cases := []struct {
		name   string
		token  string
		header func(*http.Request)
		status int
	}{
		{name: "disabled", token: "", header: func(*http.Request) {}, status: http.StatusForbidden},
		{name: "missing", token: hash, header: func(*http.Request) {}, status: http.StatusUnauthorized},
		{name: "wrong", token: hash, header: func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, status: http.StatusUnauthorized},
		{name: "bearer", token: hash, header: func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") }, status: http.StatusOK},
		{name: "api key", token: hash, header: func(r *http.Request) { r.Header.Set("X-API-Key", "s3cret") }, status: http.StatusOK},
		{name: "hash as token", token: hash, header: func(r *http.Request) { r.Header.Set("X-API-Key", hash) }, status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
			tc.header(req)
			rec := httptest.NewRecorder()
			AdminTokenRequired(tc.token)(next).ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestHashAdminToken(t *testing.T) {
	_, err := HashAdminToken("  ", bcrypt.MinCost)
	require.ErrorIs(t, err, ErrEmptyAdminToken)

	hash, err := HashAdminToken(" s3cret ", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotContains(t, hash, "s3cret")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestLoggingAssignsRequestID(t *testing.T) {
	var seen string
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/onvif/device_service", strings.NewReader("")))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		Days int `json:"days"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"days":3}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, 3, dst.Days)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"weeks":3}`))
	require.Error(t, DecodeJSON(req, &dst))
}
