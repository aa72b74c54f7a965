package handlers

import (
	"context"

	"onvifsimple/gover/backend/config"
	"onvifsimple/gover/backend/render"
	"onvifsimple/gover/backend/router"
	"onvifsimple/gover/backend/soap"
)

type media2Module struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &media2Module{deps: deps}
	})
}

func (m *media2Module) Service() string {
	return soap.Media2Service
}

func (m *media2Module) Entries() []router.Entry {
	synology := m.deps.Config.SynologyNVR
	return []router.Entry{
		// Synology recorders fall through to the TooManyProfiles quirk.
		entryIf("GetProfiles", m.getProfiles, func() bool { return !synology }),
		entry("GetServiceCapabilities", m.getServiceCapabilities),
	}
}

type indexedProfile struct {
	index   int
	profile config.Profile
}

func (m *media2Module) getProfiles(_ context.Context, req *router.Request) ([]byte, error) {
	cfg := m.deps.Config
	var selected []indexedProfile
	if token, ok := bodyText(req, "Token"); ok && token != "" {
		index, profile := cfg.ProfileByToken(token)
		if profile == nil {
			return nil, soap.NoProfile(req.Service)
		}
		selected = append(selected, indexedProfile{index: index, profile: *profile})
	} else {
		for i, profile := range cfg.Profiles {
			selected = append(selected, indexedProfile{index: i, profile: profile})
		}
	}

	items, err := render.Each("media2_profile_item", selected, func(_ int, p indexedProfile) []render.Var {
		return []render.Var{
			render.Text("TOKEN", config.ProfileToken(p.index)),
			render.Text("NAME", p.profile.Name),
			render.Int("USE_COUNT", len(cfg.Profiles)),
			render.Int("WIDTH", p.profile.Width),
			render.Int("HEIGHT", p.profile.Height),
			render.Int("INDEX", p.index),
			render.Text("ENCODING", p.profile.Encoding),
		}
	})
	if err != nil {
		return nil, err
	}
	return render.Response("media2_profiles", render.XML("PROFILES", items))
}

func (m *media2Module) getServiceCapabilities(_ context.Context, _ *router.Request) ([]byte, error) {
	return render.Response("media2_service_capabilities",
		render.Bool("SNAPSHOT", hasSnapshot(m.deps.Config)),
		render.Int("MAX_PROFILES", len(m.deps.Config.Profiles)),
	)
}
