package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"onvifsimple/gover/backend/config"
	"onvifsimple/gover/backend/httpapi"
	"onvifsimple/gover/backend/render"
	"onvifsimple/gover/backend/service/auth"
	"onvifsimple/gover/backend/soap"
	"onvifsimple/gover/backend/store"
)

var fixedNow = time.Date(2025, 11, 3, 14, 5, 9, 0, time.UTC)

type fakeExec struct {
	calls []string
}

func (f *fakeExec) Run(_ context.Context, argv []string) error {
	f.calls = append(f.calls, strings.Join(argv, " "))
	return nil
}

func (f *fakeExec) Output(_ context.Context, argv []string) (string, error) {
	f.calls = append(f.calls, strings.Join(argv, " "))
	return "", nil
}

func testConfig() config.Config {
	return config.Config{
		Model:           "Cam1",
		Manufacturer:    "Acme",
		FirmwareVersion: "2.1",
		SerialNumber:    "SN1",
		HardwareID:      "HW1",
		Address:         "192.168.1.10:8080",
		ListenAddr:      "127.0.0.1:0",
		Scopes:          []string{"onvif://www.onvif.org/Profile/Streaming"},
		Profiles: []config.Profile{
			{Name: "main", Width: 1920, Height: 1080, URL: "rtsp://cam/main", Encoding: "H264"},
		},
	}
}

func newTestApp(t *testing.T, cfg config.Config) (*App, *fakeExec) {
	t.Helper()
	fake := &fakeExec{}
	application, err := New(cfg, WithExecutor(fake), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })
	return application, fake
}

func envelope(header, body string) string {
	return `<?xml version="1.0"?><s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="http://www.onvif.org/ver10/device/wsdl" xmlns:tr2="http://www.onvif.org/ver20/media/wsdl"><s:Header>` +
		header + `</s:Header><s:Body>` + body + `</s:Body></s:Envelope>`
}

func signedEnvelope(t *testing.T, username, password, body string) string {
	t.Helper()
	token, err := auth.NewToken(username, password, fixedNow)
	require.NoError(t, err)
	header, err := token.Header()
	require.NoError(t, err)
	out, err := render.Request(header, body)
	require.NoError(t, err)
	return string(out)
}

func splitCGI(t *testing.T, raw string) (map[string]string, string) {
	t.Helper()
	head, body, ok := strings.Cut(raw, "\r\n\r\n")
	require.True(t, ok, "missing header terminator")
	headers := map[string]string{}
	for _, line := range strings.Split(head, "\r\n") {
		name, value, found := strings.Cut(line, ": ")
		require.True(t, found, line)
		headers[name] = value
	}
	return headers, body
}

func TestHandleOneShot(t *testing.T) {
	application, _ := newTestApp(t, testConfig())
	var out bytes.Buffer
	err := application.HandleOneShot(context.Background(), soap.DeviceService, strings.NewReader(envelope("", `<tds:GetSystemDateAndTime/>`)), &out)
	require.NoError(t, err)

	headers, body := splitCGI(t, out.String())
	assert.Equal(t, "application/soap+xml; charset=utf-8", headers["Content-Type"])
	assert.Equal(t, strconv.Itoa(len(body)), headers["Content-Length"])
	assert.Contains(t, body, "<tt:Year>2025</tt:Year>")
	assert.Contains(t, body, "<tt:Hour>14</tt:Hour>")
}

func TestHandleOneShotMalformedWritesNothing(t *testing.T) {
	application, _ := newTestApp(t, testConfig())
	cases := map[string]string{
		"empty":     "",
		"not xml":   "<<<",
		"no body":   `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Header/></s:Envelope>`,
		"no method": `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body></s:Body></s:Envelope>`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			err := application.HandleOneShot(context.Background(), soap.DeviceService, strings.NewReader(raw), &out)
			require.Error(t, err)
			assert.Zero(t, out.Len())
		})
	}
}

func TestHandleOneShotTooLarge(t *testing.T) {
	application, _ := newTestApp(t, testConfig())
	raw := envelope("", `<tds:GetScopes/>`+strings.Repeat(" ", MaxRequestSize))
	var out bytes.Buffer
	err := application.HandleOneShot(context.Background(), soap.DeviceService, strings.NewReader(raw), &out)
	require.ErrorIs(t, err, ErrRequestTooLarge)
	assert.Zero(t, out.Len())
}

func TestHandleAuthentication(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "admin"
	cfg.Password = "secret"
	application, _ := newTestApp(t, cfg)
	ctx := context.Background()

	result, err := application.Handle(ctx, Call{Service: soap.DeviceService, Body: []byte(envelope("", `<tds:GetDeviceInformation/>`))})
	require.NoError(t, err)
	require.NotNil(t, result.Fault)
	assert.Equal(t, "ter:NotAuthorized", result.Fault.Subcode)
	assert.Contains(t, string(result.Body), "ter:NotAuthorized")

	result, err = application.Handle(ctx, Call{Service: soap.DeviceService, Body: []byte(envelope("", `<tds:GetSystemDateAndTime/>`))})
	require.NoError(t, err)
	assert.Nil(t, result.Fault, "allow-listed method")

	signed := signedEnvelope(t, "admin", "secret", `<tds:GetDeviceInformation xmlns:tds="http://www.onvif.org/ver10/device/wsdl"/>`)
	result, err = application.Handle(ctx, Call{Service: soap.DeviceService, Body: []byte(signed)})
	require.NoError(t, err)
	assert.Nil(t, result.Fault)
	assert.Contains(t, string(result.Body), "<tds:Model>Cam1</tds:Model>")

	forged := signedEnvelope(t, "admin", "guess", `<tds:GetDeviceInformation xmlns:tds="http://www.onvif.org/ver10/device/wsdl"/>`)
	result, err = application.Handle(ctx, Call{Service: soap.DeviceService, Body: []byte(forged)})
	require.NoError(t, err)
	require.NotNil(t, result.Fault)
	assert.Equal(t, "ter:NotAuthorized", result.Fault.Subcode)
}

func TestHandleSynologyQuirkOnAuthFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "admin"
	cfg.Password = "secret"
	cfg.SynologyNVR = true
	application, _ := newTestApp(t, cfg)

	result, err := application.Handle(context.Background(), Call{Service: soap.Media2Service, Body: []byte(envelope("", `<tr2:GetProfiles/>`))})
	require.NoError(t, err)
	require.NotNil(t, result.Fault)
	assert.Equal(t, "ter:MaxNVTProfiles", result.Fault.Subcode)
}

func TestHandleUnknownMethod(t *testing.T) {
	application, _ := newTestApp(t, testConfig())
	result, err := application.Handle(context.Background(), Call{Service: soap.DeviceService, Body: []byte(envelope("", `<tds:GetNothing/>`))})
	require.NoError(t, err)
	assert.Nil(t, result.Fault)
	assert.Contains(t, string(result.Body), "<SOAP-ENV:Body></SOAP-ENV:Body>")

	cfg := testConfig()
	cfg.FaultIfUnknown = true
	strict, _ := newTestApp(t, cfg)
	result, err = strict.Handle(context.Background(), Call{Service: soap.DeviceService, Body: []byte(envelope("", `<tds:GetNothing/>`))})
	require.NoError(t, err)
	require.NotNil(t, result.Fault)
	assert.Equal(t, "ter:ActionFailed", result.Fault.Subcode)
}

func TestHandleRunsBackendCommands(t *testing.T) {
	cfg := testConfig()
	cfg.RebootCommand = "/sbin/reboot -f"
	application, fake := newTestApp(t, cfg)
	result, err := application.Handle(context.Background(), Call{Service: soap.DeviceService, Body: []byte(envelope("", `<tds:SystemReboot/>`))})
	require.NoError(t, err)
	assert.Nil(t, result.Fault)
	assert.Equal(t, []string{"/sbin/reboot -f"}, fake.calls)
}

func TestHandleAuditsRequests(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "admin"
	cfg.Password = "secret"
	cfg.AuditDBPath = filepath.Join(t.TempDir(), "audit.db")
	application, _ := newTestApp(t, cfg)
	ctx := context.Background()

	raw := envelope("", `<tds:GetScopes/>`)
	_, err := application.Handle(ctx, Call{Service: soap.DeviceService, Body: []byte(raw), RemoteAddr: "10.1.1.1:5000", RequestID: "req-a"})
	require.NoError(t, err)

	items, err := application.store.ListRequestLogs(ctx, store.RequestLogQuery{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, "req-a", item.RequestID)
	assert.Equal(t, "GetScopes", item.Method)
	assert.Equal(t, store.AuthRejected, item.AuthResult)
	assert.Equal(t, "fault", item.Status)
	assert.Equal(t, "ter:NotAuthorized", item.FaultSubcode)
	assert.Equal(t, raw, item.RawBody)
	assert.True(t, item.CreatedAt.Equal(fixedNow))
}

func TestServerRoutes(t *testing.T) {
	cfg := testConfig()
	hash, err := httpapi.HashAdminToken("admin-token", bcrypt.MinCost)
	require.NoError(t, err)
	cfg.AdminTokenHash = hash
	cfg.AuditDBPath = filepath.Join(t.TempDir(), "audit.db")
	application, _ := newTestApp(t, cfg)
	srv := httptest.NewServer(application.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/onvif/device_service", "application/soap+xml", strings.NewReader(envelope("", `<tds:GetDeviceInformation/>`)))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/soap+xml; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "<tds:Manufacturer>Acme</tds:Manufacturer>")
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp, err = http.Post(srv.URL+"/onvif/device_service", "application/soap+xml", strings.NewReader("not xml"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "onvif_requests_total")

	resp, err = http.Get(srv.URL + "/api/audit")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/audit?service=device_service", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer admin-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		Code int                `json:"code"`
		Data []store.RequestLog `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, 0, payload.Code)
	require.Len(t, payload.Data, 1, "malformed requests are not audited")
	assert.Equal(t, "GetDeviceInformation", payload.Data[0].Method)
	assert.Equal(t, store.AuthSkipped, payload.Data[0].AuthResult)
}

func TestServerSenderFaultStatus(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "admin"
	cfg.Password = "secret"
	application, _ := newTestApp(t, cfg)
	srv := httptest.NewServer(application.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/onvif/device_service", "application/soap+xml", strings.NewReader(envelope("", `<tds:GetUsers/>`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownServiceRejected(t *testing.T) {
	application, fake := newTestApp(t, testConfig())
	_, err := application.Handle(context.Background(), Call{Service: "\xff", Body: []byte(envelope("", `<tds:SystemReboot/>`))})
	require.ErrorIs(t, err, ErrUnknownService)
	assert.Empty(t, fake.calls)

	srv := httptest.NewServer(application.Handler())
	defer srv.Close()
	for _, path := range []string{"/onvif/%FF", "/onvif/imaging_service"} {
		resp, err := http.Post(srv.URL+path, "application/soap+xml", strings.NewReader(envelope("", `<tds:GetDeviceInformation/>`)))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestMethodLabelsAreBounded(t *testing.T) {
	application, _ := newTestApp(t, testConfig())
	srv := httptest.NewServer(application.Handler())
	defer srv.Close()

	bodies := []string{`<tds:GetSystemDateAndTime/>`, `<tds:getsystemdateandtime/>`}
	for i := 0; i < 20; i++ {
		bodies = append(bodies, "<tds:Junk"+strconv.Itoa(i)+"/>")
	}
	for _, body := range bodies {
		resp, err := http.Post(srv.URL+"/onvif/DEVICE_SERVICE", "application/soap+xml", strings.NewReader(envelope("", body)))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	var series []string
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.HasPrefix(line, "onvif_requests_total{") {
			series = append(series, line)
		}
	}
	require.Len(t, series, 2, strings.Join(series, "\n"))
	assert.Contains(t, string(raw), `onvif_requests_total{method="GetSystemDateAndTime",service="device_service",status="ok"} 2`)
	assert.Contains(t, string(raw), `onvif_requests_total{method="unknown",service="device_service",status="ok"} 20`)
}
