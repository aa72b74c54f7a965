package handlers

import (
	"context"
	"time"

	"onvifsimple/gover/backend/render"
	"onvifsimple/gover/backend/router"
	"onvifsimple/gover/backend/soap"
)

type deviceModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &deviceModule{deps: deps}
	})
}

func (m *deviceModule) Service() string {
	return soap.DeviceService
}

func (m *deviceModule) Entries() []router.Entry {
	cfg := m.deps.Config
	return []router.Entry{
		entry("GetSystemDateAndTime", m.getSystemDateAndTime),
		entry("GetCapabilities", m.getCapabilities),
		entry("GetServices", m.getServices),
		entry("GetServiceCapabilities", m.getServiceCapabilities),
		entry("GetDeviceInformation", m.getDeviceInformation),
		entry("GetScopes", m.getScopes),
		entry("GetUsers", m.getUsers),
		entryIf("SystemReboot", m.systemReboot, func() bool { return cfg.RebootCommand != "" }),
	}
}

func (m *deviceModule) now() time.Time {
	if m.deps.Now != nil {
		return m.deps.Now()
	}
	return time.Now()
}

func (m *deviceModule) getSystemDateAndTime(_ context.Context, _ *router.Request) ([]byte, error) {
	now := m.now().UTC()
	return render.Response("device_system_date_and_time",
		render.Text("TZ", "UTC"),
		render.Int("HOUR", now.Hour()),
		render.Int("MINUTE", now.Minute()),
		render.Int("SECOND", now.Second()),
		render.Int("YEAR", now.Year()),
		render.Int("MONTH", int(now.Month())),
		render.Int("DAY", now.Day()),
	)
}

func (m *deviceModule) getCapabilities(_ context.Context, _ *router.Request) ([]byte, error) {
	cfg := m.deps.Config
	ptz := ""
	if cfg.PTZ.Enable {
		var err error
		ptz, err = render.Render("device_capabilities_ptz", render.Text("PTZ_XADDR", cfg.ServiceURL(soap.PTZService)))
		if err != nil {
			return nil, err
		}
	}
	return render.Response("device_capabilities",
		render.Text("DEVICE_XADDR", cfg.ServiceURL(soap.DeviceService)),
		render.Text("MEDIA_XADDR", cfg.ServiceURL(soap.MediaService)),
		render.XML("PTZ", ptz),
		render.Text("DEVICEIO_XADDR", cfg.ServiceURL(soap.DeviceIOService)),
		render.Int("AUDIO_OUTPUTS", audioOutputCount(m.deps)),
		render.Int("RELAY_OUTPUTS", len(cfg.Relays)),
	)
}

type serviceInfo struct {
	namespace string
	service   string
	major     int
	minor     int
}

func (m *deviceModule) getServices(_ context.Context, _ *router.Request) ([]byte, error) {
	cfg := m.deps.Config
	services := []serviceInfo{
		{namespace: soap.NamespaceDevice, service: soap.DeviceService, major: 2, minor: 5},
		{namespace: soap.NamespaceMedia, service: soap.MediaService, major: 2, minor: 6},
		{namespace: soap.NamespaceMedia2, service: soap.Media2Service, major: 2, minor: 0},
	}
	if cfg.PTZ.Enable {
		services = append(services, serviceInfo{namespace: soap.NamespacePTZ, service: soap.PTZService, major: 2, minor: 4})
	}
	services = append(services, serviceInfo{namespace: soap.NamespaceDeviceIO, service: soap.DeviceIOService, major: 2, minor: 0})

	items, err := render.Each("device_service_item", services, func(_ int, s serviceInfo) []render.Var {
		return []render.Var{
			render.Text("NAMESPACE", s.namespace),
			render.Text("XADDR", cfg.ServiceURL(s.service)),
			render.Int("MAJOR", s.major),
			render.Int("MINOR", s.minor),
		}
	})
	if err != nil {
		return nil, err
	}
	return render.Response("device_services", render.XML("SERVICES", items))
}

func (m *deviceModule) getServiceCapabilities(_ context.Context, _ *router.Request) ([]byte, error) {
	return render.Response("device_service_capabilities", render.Bool("USERNAME_TOKEN", m.deps.Config.HasCredentials()))
}

func (m *deviceModule) getDeviceInformation(_ context.Context, _ *router.Request) ([]byte, error) {
	cfg := m.deps.Config
	return render.Response("device_information",
		render.Text("MANUFACTURER", cfg.Manufacturer),
		render.Text("MODEL", cfg.Model),
		render.Text("FIRMWARE_VERSION", cfg.FirmwareVersion),
		render.Text("SERIAL_NUMBER", cfg.SerialNumber),
		render.Text("HARDWARE_ID", cfg.HardwareID),
	)
}

func (m *deviceModule) getScopes(_ context.Context, _ *router.Request) ([]byte, error) {
	items, err := render.Each("device_scope_item", m.deps.Config.Scopes, func(_ int, scope string) []render.Var {
		return []render.Var{render.Text("SCOPE", scope)}
	})
	if err != nil {
		return nil, err
	}
	return render.Response("device_scopes", render.XML("SCOPES", items))
}

func (m *deviceModule) getUsers(_ context.Context, _ *router.Request) ([]byte, error) {
	var users []string
	if m.deps.Config.Username != "" {
		users = append(users, m.deps.Config.Username)
	}
	items, err := render.Each("device_user_item", users, func(_ int, name string) []render.Var {
		return []render.Var{render.Text("USERNAME", name)}
	})
	if err != nil {
		return nil, err
	}
	return render.Response("device_users", render.XML("USERS", items))
}

func (m *deviceModule) systemReboot(ctx context.Context, req *router.Request) ([]byte, error) {
	if err := m.deps.Runner.Run(ctx, m.deps.Config.RebootCommand); err != nil {
		return nil, asFault(req.Service, err)
	}
	return render.Response("device_system_reboot")
}

func audioOutputCount(deps *router.Dependencies) int {
	if deps.Config.HasAudioOutput() {
		return 1
	}
	return 0
}
