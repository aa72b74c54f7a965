// Package onvif is a small client for ONVIF endpoints. It signs requests with
// a WS-Security UsernameToken and reads results with the tree navigator.
package onvif

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"onvifsimple/gover/backend/render"
	"onvifsimple/gover/backend/service/auth"
	"onvifsimple/gover/backend/soap"
	"onvifsimple/gover/backend/xmltree"
)

var ErrEndpointRequired = errors.New("onvif endpoint is required")

// FaultError is a SOAP fault returned by the remote endpoint.
type FaultError struct {
	Status  int
	Code    string
	Subcode string
	Reason  string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("onvif soap fault (http %d) %s/%s: %s", e.Status, e.Code, e.Subcode, e.Reason)
}

type Service struct {
	client   *http.Client
	username string
	password string
	now      func() time.Time
}

type CommandRequest struct {
	Endpoint     string  `json:"endpoint"`
	ProfileToken string  `json:"profileToken"`
	Action       string  `json:"action"`
	Speed        float64 `json:"speed"`
	DurationMS   int     `json:"durationMs"`
	Pan          float64 `json:"pan"`
	Tilt         float64 `json:"tilt"`
	Zoom         float64 `json:"zoom"`
	PresetToken  string  `json:"presetToken"`
	PresetName   string  `json:"presetName"`
}

type Capabilities struct {
	MediaXAddr    string `json:"mediaXAddr"`
	PTZXAddr      string `json:"ptzXAddr"`
	DeviceIOXAddr string `json:"deviceIoXAddr"`
}

type Profile struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

type Preset struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

type Status struct {
	Pan       float64 `json:"pan"`
	Tilt      float64 `json:"tilt"`
	Zoom      float64 `json:"zoom"`
	MoveState string  `json:"moveState"`
	UTCTime   string  `json:"utcTime"`
}

// New builds a client; empty credentials send unsigned requests.
func New(username, password string) *Service {
	return &Service{
		client:   &http.Client{Timeout: 12 * time.Second},
		username: username,
		password: password,
		now:      time.Now,
	}
}

func (s *Service) GetCapabilities(ctx context.Context, endpoint string) (*Capabilities, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	body := `<tds:GetCapabilities xmlns:tds="` + soap.NamespaceDevice + `"><tds:Category>All</tds:Category></tds:GetCapabilities>`
	env, err := s.callSOAP(ctx, endpoint, soap.NamespaceDevice+"/GetCapabilities", body)
	if err != nil {
		return nil, err
	}
	caps := &Capabilities{
		MediaXAddr:    xaddr(env.Payload, "Media"),
		PTZXAddr:      xaddr(env.Payload, "PTZ"),
		DeviceIOXAddr: xaddr(env.Payload, "DeviceIO"),
	}
	if caps.MediaXAddr == "" {
		caps.MediaXAddr = endpoint
	}
	return caps, nil
}

func (s *Service) GetProfiles(ctx context.Context, mediaXAddr string) ([]Profile, error) {
	body := `<trt:GetProfiles xmlns:trt="` + soap.NamespaceMedia + `"/>`
	env, err := s.callSOAP(ctx, mediaXAddr, soap.NamespaceMedia+"/GetProfiles", body)
	if err != nil {
		return nil, err
	}
	uniq := map[string]struct{}{}
	profiles := make([]Profile, 0, 4)
	for _, node := range env.Payload.Children() {
		if !xmltree.Matches(node.Tag(), "Profiles") {
			continue
		}
		token, _ := xmltree.Attribute(node, "token")
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if _, ok := uniq[token]; ok {
			continue
		}
		uniq[token] = struct{}{}
		name, _ := xmltree.FindTextIn("Name", node)
		profiles = append(profiles, Profile{Token: token, Name: name})
	}
	if len(profiles) == 0 {
		return nil, errors.New("no onvif profiles found")
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Token < profiles[j].Token })
	return profiles, nil
}

func (s *Service) GetPresets(ctx context.Context, ptzXAddr string, profileToken string) ([]Preset, error) {
	body := `<tptz:GetPresets xmlns:tptz="` + soap.NamespacePTZ + `"><tptz:ProfileToken>` + escape(profileToken) + `</tptz:ProfileToken></tptz:GetPresets>`
	env, err := s.callSOAP(ctx, ptzXAddr, soap.NamespacePTZ+"/GetPresets", body)
	if err != nil {
		return nil, err
	}
	presets := make([]Preset, 0, 8)
	for _, node := range env.Payload.Children() {
		if !xmltree.Matches(node.Tag(), "Preset") {
			continue
		}
		token, _ := xmltree.Attribute(node, "token")
		name, _ := xmltree.FindTextIn("Name", node)
		presets = append(presets, Preset{Token: token, Name: name})
	}
	return presets, nil
}

func (s *Service) GetStatus(ctx context.Context, ptzXAddr string, profileToken string) (*Status, error) {
	body := `<tptz:GetStatus xmlns:tptz="` + soap.NamespacePTZ + `"><tptz:ProfileToken>` + escape(profileToken) + `</tptz:ProfileToken></tptz:GetStatus>`
	env, err := s.callSOAP(ctx, ptzXAddr, soap.NamespacePTZ+"/GetStatus", body)
	if err != nil {
		return nil, err
	}
	status := &Status{}
	if position := xmltree.FindNodeIn("Position", env.Payload); position != nil {
		if node := xmltree.FindNodeIn("PanTilt", position); node != nil {
			status.Pan = attrFloat(node, "x")
			status.Tilt = attrFloat(node, "y")
		}
		if node := xmltree.FindNodeIn("Zoom", position); node != nil {
			status.Zoom = attrFloat(node, "x")
		}
	}
	if moveStatus := xmltree.FindNodeIn("MoveStatus", env.Payload); moveStatus != nil {
		status.MoveState, _ = xmltree.FindTextIn("PanTilt", moveStatus)
	}
	status.UTCTime, _ = xmltree.FindTextIn("UtcTime", env.Payload)
	return status, nil
}

// ExecuteCommand resolves the PTZ service and profile, then runs one action.
func (s *Service) ExecuteCommand(ctx context.Context, req CommandRequest) (map[string]any, error) {
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	if req.Endpoint == "" {
		return nil, ErrEndpointRequired
	}
	if req.Action == "" {
		req.Action = "stop"
	}
	if req.Speed <= 0 {
		req.Speed = 0.3
	}
	if req.Speed > 1 {
		req.Speed = 1
	}
	if req.DurationMS <= 0 {
		req.DurationMS = 700
	}
	if req.DurationMS > 10000 {
		req.DurationMS = 10000
	}

	caps, err := s.GetCapabilities(ctx, req.Endpoint)
	if err != nil {
		return nil, err
	}
	if caps.PTZXAddr == "" {
		return nil, errors.New("endpoint has no ptz service")
	}
	if req.ProfileToken == "" {
		profiles, profileErr := s.GetProfiles(ctx, caps.MediaXAddr)
		if profileErr != nil {
			return nil, profileErr
		}
		req.ProfileToken = profiles[0].Token
	}

	result := map[string]any{
		"ok":           true,
		"action":       req.Action,
		"profileToken": req.ProfileToken,
		"ptzXAddr":     caps.PTZXAddr,
		"mediaXAddr":   caps.MediaXAddr,
	}
	ptzXAddr, profile := caps.PTZXAddr, escape(req.ProfileToken)
	switch req.Action {
	case "left", "right", "up", "down", "zoom_in", "zoom_out":
		pan, tilt, zoom := velocityByAction(req.Action, req.Speed)
		if err := s.ptzCall(ctx, ptzXAddr, "ContinuousMove", `<tptz:ProfileToken>`+profile+`</tptz:ProfileToken><tptz:Velocity>`+vector(pan, tilt, zoom)+`</tptz:Velocity>`); err != nil {
			return nil, err
		}
		if err := sleepContext(ctx, time.Duration(req.DurationMS)*time.Millisecond); err != nil {
			return nil, err
		}
		if err := s.stop(ctx, ptzXAddr, profile); err != nil {
			return nil, err
		}
	case "stop":
		if err := s.stop(ctx, ptzXAddr, profile); err != nil {
			return nil, err
		}
	case "home":
		if err := s.ptzCall(ctx, ptzXAddr, "GotoHomePosition", `<tptz:ProfileToken>`+profile+`</tptz:ProfileToken>`); err != nil {
			return nil, err
		}
	case "absolute":
		if err := s.ptzCall(ctx, ptzXAddr, "AbsoluteMove", `<tptz:ProfileToken>`+profile+`</tptz:ProfileToken><tptz:Position>`+vector(req.Pan, req.Tilt, req.Zoom)+`</tptz:Position>`); err != nil {
			return nil, err
		}
	case "relative":
		if err := s.ptzCall(ctx, ptzXAddr, "RelativeMove", `<tptz:ProfileToken>`+profile+`</tptz:ProfileToken><tptz:Translation>`+vector(req.Pan, req.Tilt, req.Zoom)+`</tptz:Translation>`); err != nil {
			return nil, err
		}
	case "goto_preset":
		if err := s.ptzCall(ctx, ptzXAddr, "GotoPreset", `<tptz:ProfileToken>`+profile+`</tptz:ProfileToken><tptz:PresetToken>`+escape(req.PresetToken)+`</tptz:PresetToken>`); err != nil {
			return nil, err
		}
	case "set_preset":
		env, err := s.callSOAP(ctx, ptzXAddr, soap.NamespacePTZ+"/SetPreset", `<tptz:SetPreset xmlns:tptz="`+soap.NamespacePTZ+`"><tptz:ProfileToken>`+profile+`</tptz:ProfileToken><tptz:PresetName>`+escape(req.PresetName)+`</tptz:PresetName></tptz:SetPreset>`)
		if err != nil {
			return nil, err
		}
		result["presetToken"], _ = xmltree.FindTextIn("PresetToken", env.Payload)
	case "status":
		status, err := s.GetStatus(ctx, ptzXAddr, req.ProfileToken)
		if err != nil {
			return nil, err
		}
		result["status"] = status
	case "presets":
		presets, err := s.GetPresets(ctx, ptzXAddr, req.ProfileToken)
		if err != nil {
			return nil, err
		}
		result["presets"] = presets
	default:
		return nil, fmt.Errorf("unsupported ptz action: %s", req.Action)
	}
	return result, nil
}

func (s *Service) stop(ctx context.Context, ptzXAddr string, profile string) error {
	return s.ptzCall(ctx, ptzXAddr, "Stop", `<tptz:ProfileToken>`+profile+`</tptz:ProfileToken><tptz:PanTilt>true</tptz:PanTilt><tptz:Zoom>true</tptz:Zoom>`)
}

func (s *Service) ptzCall(ctx context.Context, ptzXAddr string, method string, inner string) error {
	body := `<tptz:` + method + ` xmlns:tptz="` + soap.NamespacePTZ + `" xmlns:tt="http://www.onvif.org/ver10/schema">` + inner + `</tptz:` + method + `>`
	_, err := s.callSOAP(ctx, ptzXAddr, soap.NamespacePTZ+"/"+method, body)
	return err
}

func (s *Service) callSOAP(ctx context.Context, endpoint string, action string, body string) (*xmltree.Envelope, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	header := ""
	if s.username != "" || s.password != "" {
		token, err := auth.NewToken(s.username, s.password, s.now())
		if err != nil {
			return nil, err
		}
		if header, err = token.Header(); err != nil {
			return nil, err
		}
	}
	envelope, err := render.Request(header, body)
	if err != nil {
		return nil, err
	}
	return s.doSOAPRequest(ctx, endpoint, action, envelope)
}

func (s *Service) doSOAPRequest(ctx context.Context, endpoint string, action string, envelope []byte) (*xmltree.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(envelope))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", fmt.Sprintf("application/soap+xml; charset=utf-8; action=\"%s\"", action))
	req.Header.Set("User-Agent", "onvif-simple-probe/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	doc, parseErr := xmltree.Parse(bodyBytes)
	if parseErr != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("onvif http status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		}
		return nil, fmt.Errorf("parse onvif response: %w", parseErr)
	}
	env, err := xmltree.ParseEnvelope(doc)
	if err != nil {
		// An empty Body answers methods the endpoint does not implement.
		if errors.Is(err, xmltree.ErrNoMethod) && resp.StatusCode == http.StatusOK {
			body := xmltree.FirstChild(doc.Root(), "Body")
			return &xmltree.Envelope{Body: body, Payload: body}, nil
		}
		return nil, fmt.Errorf("parse onvif envelope: %w", err)
	}
	if xmltree.Matches(env.Payload.Tag(), "Fault") {
		return nil, faultFrom(resp.StatusCode, env.Payload)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("onvif http status %d", resp.StatusCode)
	}
	return env, nil
}

func faultFrom(status int, fault *xmltree.Node) *FaultError {
	out := &FaultError{Status: status}
	if code := xmltree.FirstChild(fault, "Code"); code != nil {
		out.Code, _ = xmltree.FindTextIn("Value", code)
		if subcode := xmltree.FindNodeIn("Subcode", code); subcode != nil {
			out.Subcode, _ = xmltree.FindTextIn("Value", subcode)
		}
	}
	if reason := xmltree.FirstChild(fault, "Reason"); reason != nil {
		out.Reason, _ = xmltree.FindTextIn("Text", reason)
	}
	return out
}

func xaddr(payload *xmltree.Node, section string) string {
	node := xmltree.FindNodeIn(section, payload)
	if node == nil {
		return ""
	}
	value, _ := xmltree.FindTextIn("XAddr", node)
	return strings.TrimSpace(value)
}

func attrFloat(node *xmltree.Node, name string) float64 {
	raw, _ := xmltree.Attribute(node, name)
	value, _ := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return value
}

func vector(pan, tilt, zoom float64) string {
	return fmt.Sprintf(`<tt:PanTilt x="%.3f" y="%.3f"/><tt:Zoom x="%.3f"/>`, pan, tilt, zoom)
}

func velocityByAction(action string, speed float64) (float64, float64, float64) {
	switch action {
	case "left":
		return -speed, 0, 0
	case "right":
		return speed, 0, 0
	case "up":
		return 0, speed, 0
	case "down":
		return 0, -speed, 0
	case "zoom_in":
		return 0, 0, speed
	case "zoom_out":
		return 0, 0, -speed
	default:
		return 0, 0, 0
	}
}

func escape(value string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(value))
	return b.String()
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
