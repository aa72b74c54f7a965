package handlers

import (
	"context"
	"strings"

	"onvifsimple/gover/backend/config"
	"onvifsimple/gover/backend/render"
	"onvifsimple/gover/backend/router"
	"onvifsimple/gover/backend/soap"
)

type deviceIOModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &deviceIOModule{deps: deps}
	})
}

func (m *deviceIOModule) Service() string {
	return soap.DeviceIOService
}

func (m *deviceIOModule) Entries() []router.Entry {
	hasRelays := len(m.deps.Config.Relays) > 0
	relaysConfigured := func() bool { return hasRelays }
	return []router.Entry{
		entryIf("GetRelayOutputs", m.getRelayOutputs, relaysConfigured),
		entryIf("SetRelayOutputState", m.setRelayOutputState, relaysConfigured),
		entry("GetServiceCapabilities", m.getServiceCapabilities),
	}
}

func (m *deviceIOModule) getRelayOutputs(_ context.Context, _ *router.Request) ([]byte, error) {
	items, err := render.Each("deviceio_relay_item", m.deps.Config.Relays, func(_ int, relay config.Relay) []render.Var {
		return []render.Var{
			render.Text("TOKEN", relay.Token),
			render.Text("IDLE_STATE", relay.IdleState),
		}
	})
	if err != nil {
		return nil, err
	}
	return render.Response("deviceio_relay_outputs", render.XML("RELAYS", items))
}

// setRelayOutputState drives the relay away from its idle state for "active"
// and back to it for "inactive".
func (m *deviceIOModule) setRelayOutputState(ctx context.Context, req *router.Request) ([]byte, error) {
	token, _ := bodyText(req, "RelayOutputToken")
	var relay *config.Relay
	for i := range m.deps.Config.Relays {
		if m.deps.Config.Relays[i].Token == token {
			relay = &m.deps.Config.Relays[i]
			break
		}
	}
	if relay == nil {
		return nil, soap.InvalidArg(req.Service, "ter:RelayToken", "Unknown relay token", "The requested relay output token does not exist")
	}

	state, _ := bodyText(req, "LogicalState")
	idleOpen := strings.EqualFold(relay.IdleState, "open")
	var cmd string
	switch strings.ToLower(state) {
	case "active":
		cmd = relay.Close
		if !idleOpen {
			cmd = relay.Open
		}
	case "inactive":
		cmd = relay.Open
		if !idleOpen {
			cmd = relay.Close
		}
	default:
		return nil, invalidArgVal(req.Service, "LogicalState must be active or inactive")
	}
	if err := m.deps.Runner.Run(ctx, cmd); err != nil {
		return nil, asFault(req.Service, err)
	}
	return simpleResponse("tmd:SetRelayOutputStateResponse")
}

func (m *deviceIOModule) getServiceCapabilities(_ context.Context, _ *router.Request) ([]byte, error) {
	return render.Response("deviceio_service_capabilities",
		render.Int("AUDIO_OUTPUTS", audioOutputCount(m.deps)),
		render.Int("RELAY_OUTPUTS", len(m.deps.Config.Relays)),
	)
}
