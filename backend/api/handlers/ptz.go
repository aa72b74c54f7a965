package handlers

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"onvifsimple/gover/backend/render"
	"onvifsimple/gover/backend/router"
	ptzsvc "onvifsimple/gover/backend/service/ptz"
	"onvifsimple/gover/backend/soap"
	"onvifsimple/gover/backend/xmltree"
)

const (
	nodeToken          = "PTZNodeToken"
	configurationToken = "PTZConfigToken"
)

// Generic spaces accepted per operation, pan/tilt first then zoom.
var (
	positionSpaces = [2]string{
		"http://www.onvif.org/ver10/tptz/PanTiltSpaces/PositionGenericSpace",
		"http://www.onvif.org/ver10/tptz/ZoomSpaces/PositionGenericSpace",
	}
	translationSpaces = [2]string{
		"http://www.onvif.org/ver10/tptz/PanTiltSpaces/TranslationGenericSpace",
		"http://www.onvif.org/ver10/tptz/ZoomSpaces/TranslationGenericSpace",
	}
	velocitySpaces = [2]string{
		"http://www.onvif.org/ver10/tptz/PanTiltSpaces/VelocityGenericSpace",
		"http://www.onvif.org/ver10/tptz/ZoomSpaces/VelocityGenericSpace",
	}
)

type ptzModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &ptzModule{deps: deps}
	})
}

func (m *ptzModule) Service() string {
	return soap.PTZService
}

func (m *ptzModule) Entries() []router.Entry {
	enabled := m.deps.Config.PTZ.Enable && m.deps.PTZ != nil
	ptzEnabled := func() bool { return enabled }
	methods := []struct {
		name string
		fn   handlerFunc
	}{
		{"GetServiceCapabilities", m.getServiceCapabilities},
		{"GetConfigurations", m.getConfigurations},
		{"GetConfiguration", m.getConfiguration},
		{"GetConfigurationOptions", m.getConfigurationOptions},
		{"GetNodes", m.getNodes},
		{"GetNode", m.getNode},
		{"GetPresets", m.getPresets},
		{"GotoPreset", m.gotoPreset},
		{"SetPreset", m.setPreset},
		{"RemovePreset", m.removePreset},
		{"GotoHomePosition", m.gotoHomePosition},
		{"SetHomePosition", m.setHomePosition},
		{"ContinuousMove", m.continuousMove},
		{"RelativeMove", m.relativeMove},
		{"AbsoluteMove", m.absoluteMove},
		{"Stop", m.stop},
		{"GetStatus", m.getStatus},
	}
	entries := make([]router.Entry, 0, len(methods))
	for _, method := range methods {
		entries = append(entries, entryIf(method.name, method.fn, ptzEnabled))
	}
	return entries
}

func (m *ptzModule) getServiceCapabilities(_ context.Context, _ *router.Request) ([]byte, error) {
	cmds := m.deps.Config.PTZ.Commands
	return render.Response("ptz_service_capabilities",
		render.Bool("REVERSE", m.deps.Config.PTZ.Reverse),
		render.Bool("MOVE_STATUS", cmds.IsMoving != ""),
		render.Bool("STATUS_POSITION", cmds.GetPosition != ""),
	)
}

func (m *ptzModule) renderConfiguration(element string) (string, error) {
	zoomSpace := ""
	if m.deps.Config.PTZ.ZoomSupported() {
		var err error
		if zoomSpace, err = render.Render("ptz_zoom_position_space"); err != nil {
			return "", err
		}
	}
	return render.Render("ptz_configuration_item",
		render.Text("ELEMENT", element),
		render.Int("USE_COUNT", len(m.deps.Config.Profiles)),
		render.XML("ZOOM_POSITION_SPACE", zoomSpace),
	)
}

func (m *ptzModule) getConfigurations(_ context.Context, _ *router.Request) ([]byte, error) {
	item, err := m.renderConfiguration("tptz:PTZConfiguration")
	if err != nil {
		return nil, err
	}
	return render.Response("ptz_configurations", render.XML("CONFIGURATION", item))
}

func (m *ptzModule) getConfiguration(_ context.Context, req *router.Request) ([]byte, error) {
	if token, _ := bodyText(req, "PTZConfigurationToken"); token != configurationToken {
		return nil, soap.InvalidArg(req.Service, "ter:NoConfig", "No such configuration", "The requested configuration does not exist")
	}
	item, err := m.renderConfiguration("tptz:PTZConfiguration")
	if err != nil {
		return nil, err
	}
	return render.Response("ptz_configuration", render.XML("CONFIGURATION", item))
}

func (m *ptzModule) spaces() (string, error) {
	spaces, err := render.Render("ptz_spaces_pantilt")
	if err != nil {
		return "", err
	}
	if m.deps.Config.PTZ.ZoomSupported() {
		zoom, err := render.Render("ptz_spaces_zoom")
		if err != nil {
			return "", err
		}
		spaces += zoom
	}
	return spaces, nil
}

func (m *ptzModule) getConfigurationOptions(_ context.Context, req *router.Request) ([]byte, error) {
	if token, _ := bodyText(req, "ConfigurationToken"); token != configurationToken {
		return nil, soap.InvalidArg(req.Service, "ter:NoConfig", "No such configuration", "The requested configuration does not exist")
	}
	spaces, err := m.spaces()
	if err != nil {
		return nil, err
	}
	return render.Response("ptz_configuration_options", render.XML("SPACES", spaces))
}

func (m *ptzModule) renderNode(element string) (string, error) {
	spaces, err := m.spaces()
	if err != nil {
		return "", err
	}
	return render.Render("ptz_node_item",
		render.Text("ELEMENT", element),
		render.XML("SPACES", spaces),
		render.Int("MAX_PRESETS", m.deps.Config.PTZ.MaxPresets),
		render.Bool("HOME_SUPPORTED", m.deps.Config.PTZ.Commands.GotoHome != ""),
	)
}

func (m *ptzModule) getNodes(_ context.Context, _ *router.Request) ([]byte, error) {
	item, err := m.renderNode("tptz:PTZNode")
	if err != nil {
		return nil, err
	}
	return render.Response("ptz_nodes", render.XML("NODE", item))
}

func (m *ptzModule) getNode(_ context.Context, req *router.Request) ([]byte, error) {
	if token, _ := bodyText(req, "NodeToken"); token != nodeToken {
		return nil, soap.InvalidArg(req.Service, "ter:NoEntity", "No such PTZ node", "No such PTZ node on the device")
	}
	item, err := m.renderNode("tptz:PTZNode")
	if err != nil {
		return nil, err
	}
	return render.Response("ptz_node", render.XML("NODE", item))
}

func (m *ptzModule) zoomFragment(zoom float64) (string, error) {
	if !m.deps.Config.PTZ.ZoomSupported() {
		return "", nil
	}
	return render.Render("ptz_zoom_position", render.Float("ZOOM", zoom))
}

func (m *ptzModule) getPresets(ctx context.Context, req *router.Request) ([]byte, error) {
	if _, _, err := requireProfile(req, m.deps.Config); err != nil {
		return nil, err
	}
	presets, err := m.deps.PTZ.Presets(ctx)
	if err != nil {
		return nil, asFault(req.Service, err)
	}
	var items strings.Builder
	for _, preset := range presets {
		zoom, err := m.zoomFragment(preset.Zoom)
		if err != nil {
			return nil, err
		}
		item, err := render.Render("ptz_preset_item",
			render.Text("TOKEN", preset.Token()),
			render.Text("NAME", preset.Name),
			render.Float("PAN", preset.Pan),
			render.Float("TILT", preset.Tilt),
			render.XML("ZOOM", zoom),
		)
		if err != nil {
			return nil, err
		}
		items.WriteString(item)
	}
	return render.Response("ptz_presets", render.XML("PRESETS", items.String()))
}

func (m *ptzModule) gotoPreset(ctx context.Context, req *router.Request) ([]byte, error) {
	if _, _, err := requireProfile(req, m.deps.Config); err != nil {
		return nil, err
	}
	token, _ := bodyText(req, "PresetToken")
	if err := m.deps.PTZ.GotoPreset(ctx, token); err != nil {
		return nil, asFault(req.Service, err)
	}
	return simpleResponse("tptz:GotoPresetResponse")
}

func (m *ptzModule) setPreset(ctx context.Context, req *router.Request) ([]byte, error) {
	if _, _, err := requireProfile(req, m.deps.Config); err != nil {
		return nil, err
	}
	name, _ := xmltree.FindText("PresetName", req.Envelope.Body)
	token, _ := bodyText(req, "PresetToken")
	preset, err := m.deps.PTZ.SetPreset(ctx, token, name)
	if err != nil {
		return nil, asFault(req.Service, err)
	}
	return render.Response("ptz_set_preset", render.Text("TOKEN", preset.Token()))
}

func (m *ptzModule) removePreset(ctx context.Context, req *router.Request) ([]byte, error) {
	if _, _, err := requireProfile(req, m.deps.Config); err != nil {
		return nil, err
	}
	token, _ := bodyText(req, "PresetToken")
	if err := m.deps.PTZ.RemovePreset(ctx, token); err != nil {
		return nil, asFault(req.Service, err)
	}
	return simpleResponse("tptz:RemovePresetResponse")
}

func (m *ptzModule) gotoHomePosition(ctx context.Context, req *router.Request) ([]byte, error) {
	if _, _, err := requireProfile(req, m.deps.Config); err != nil {
		return nil, err
	}
	if err := m.deps.PTZ.GotoHome(ctx); err != nil {
		return nil, asFault(req.Service, err)
	}
	return simpleResponse("tptz:GotoHomePositionResponse")
}

func (m *ptzModule) setHomePosition(ctx context.Context, req *router.Request) ([]byte, error) {
	if _, _, err := requireProfile(req, m.deps.Config); err != nil {
		return nil, err
	}
	if err := m.deps.PTZ.SetHome(ctx); err != nil {
		return nil, asFault(req.Service, err)
	}
	return simpleResponse("tptz:SetHomePositionResponse")
}

func (m *ptzModule) continuousMove(ctx context.Context, req *router.Request) ([]byte, error) {
	if _, _, err := requireProfile(req, m.deps.Config); err != nil {
		return nil, err
	}
	move, err := parseMove(req, "Velocity", velocitySpaces)
	if err != nil {
		return nil, err
	}
	if err := m.deps.PTZ.ContinuousMove(ctx, move); err != nil {
		return nil, asFault(req.Service, err)
	}
	return simpleResponse("tptz:ContinuousMoveResponse")
}

func (m *ptzModule) relativeMove(ctx context.Context, req *router.Request) ([]byte, error) {
	if _, _, err := requireProfile(req, m.deps.Config); err != nil {
		return nil, err
	}
	move, err := parseMove(req, "Translation", translationSpaces)
	if err != nil {
		return nil, err
	}
	if err := m.deps.PTZ.RelativeMove(ctx, move); err != nil {
		return nil, asFault(req.Service, err)
	}
	return simpleResponse("tptz:RelativeMoveResponse")
}

func (m *ptzModule) absoluteMove(ctx context.Context, req *router.Request) ([]byte, error) {
	if _, _, err := requireProfile(req, m.deps.Config); err != nil {
		return nil, err
	}
	move, err := parseMove(req, "Position", positionSpaces)
	if err != nil {
		return nil, err
	}
	if err := m.deps.PTZ.AbsoluteMove(ctx, move); err != nil {
		return nil, asFault(req.Service, err)
	}
	return simpleResponse("tptz:AbsoluteMoveResponse")
}

func (m *ptzModule) stop(ctx context.Context, req *router.Request) ([]byte, error) {
	if _, _, err := requireProfile(req, m.deps.Config); err != nil {
		return nil, err
	}
	panTilt := stopFlag(req, "PanTilt")
	zoom := stopFlag(req, "Zoom")
	if err := m.deps.PTZ.Stop(ctx, panTilt, zoom); err != nil {
		return nil, asFault(req.Service, err)
	}
	return simpleResponse("tptz:StopResponse")
}

func (m *ptzModule) getStatus(ctx context.Context, req *router.Request) ([]byte, error) {
	if _, _, err := requireProfile(req, m.deps.Config); err != nil {
		return nil, err
	}
	status, err := m.deps.PTZ.Status(ctx)
	if err != nil {
		return nil, asFault(req.Service, err)
	}
	position := ""
	if status.HasPosition {
		zoom, err := m.zoomFragment(status.Position.Zoom)
		if err != nil {
			return nil, err
		}
		position, err = render.Render("ptz_status_position",
			render.Float("PAN", status.Position.Pan),
			render.Float("TILT", status.Position.Tilt),
			render.XML("ZOOM", zoom),
		)
		if err != nil {
			return nil, err
		}
	}
	moveStatus := "IDLE"
	if status.HasMoving && status.Moving {
		moveStatus = "MOVING"
	}
	zoomStatus := "IDLE"
	if m.deps.Config.PTZ.ZoomSupported() {
		zoomStatus = moveStatus
	}
	return render.Response("ptz_status",
		render.XML("POSITION", position),
		render.Text("PAN_TILT_STATUS", moveStatus),
		render.Text("ZOOM_STATUS", zoomStatus),
		render.Text("UTC_TIME", status.UTC.Format(time.RFC3339)),
	)
}

// stopFlag reads an optional boolean element. Absent means true.
func stopFlag(req *router.Request, name string) bool {
	text, ok := bodyText(req, name)
	if !ok {
		return true
	}
	return !strings.EqualFold(text, "false") && text != "0"
}

// parseMove reads the PanTilt and Zoom children of container. Each group is
// optional, but a group that is present must carry its coordinates and may
// only name the generic space of the operation.
func parseMove(req *router.Request, container string, spaces [2]string) (ptzsvc.Move, error) {
	var move ptzsvc.Move
	parent := xmltree.FindNode(container, req.Envelope.Body)
	if parent == nil {
		return move, nil
	}
	if node := xmltree.FindNodeIn("PanTilt", parent); node != nil {
		if err := checkSpace(req.Service, node, spaces[0]); err != nil {
			return move, err
		}
		x, err := coordinate(req.Service, node, "x")
		if err != nil {
			return move, err
		}
		y, err := coordinate(req.Service, node, "y")
		if err != nil {
			return move, err
		}
		move.PanTilt = &ptzsvc.PanTilt{X: x, Y: y}
	}
	if node := xmltree.FindNodeIn("Zoom", parent); node != nil {
		if err := checkSpace(req.Service, node, spaces[1]); err != nil {
			return move, err
		}
		z, err := coordinate(req.Service, node, "x")
		if err != nil {
			return move, err
		}
		move.Zoom = &z
	}
	return move, nil
}

func checkSpace(service string, node *xmltree.Node, want string) error {
	space, ok := xmltree.Attribute(node, "space")
	if ok && strings.TrimSpace(space) != want {
		return soap.SpaceNotSupported(service)
	}
	return nil
}

func coordinate(service string, node *xmltree.Node, name string) (float64, error) {
	raw, ok := xmltree.Attribute(node, name)
	if !ok {
		return 0, invalidArgVal(service, node.LocalName()+" has no "+name+" attribute")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, invalidArgVal(service, node.LocalName()+" "+name+" is not a finite number")
	}
	return v, nil
}
