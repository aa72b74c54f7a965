package handlers

import (
	"context"

	"onvifsimple/gover/backend/config"
	"onvifsimple/gover/backend/render"
	"onvifsimple/gover/backend/router"
	"onvifsimple/gover/backend/soap"
)

type mediaModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &mediaModule{deps: deps}
	})
}

func (m *mediaModule) Service() string {
	return soap.MediaService
}

func (m *mediaModule) Entries() []router.Entry {
	return []router.Entry{
		entry("GetProfiles", m.getProfiles),
		entry("GetProfile", m.getProfile),
		entry("GetStreamUri", m.getStreamURI),
		entry("GetSnapshotUri", m.getSnapshotURI),
		entry("GetVideoSources", m.getVideoSources),
		entry("GetServiceCapabilities", m.getServiceCapabilities),
		entry("GetAudioOutputs", m.getAudioOutputs),
	}
}

func (m *mediaModule) renderProfile(element string, index int, profile config.Profile) (string, error) {
	cfg := m.deps.Config
	ptz := ""
	if cfg.PTZ.Enable {
		var err error
		ptz, err = render.Render("media_profile_ptz", render.Int("USE_COUNT", len(cfg.Profiles)))
		if err != nil {
			return "", err
		}
	}
	return render.Render("media_profile_item",
		render.Text("ELEMENT", element),
		render.Text("TOKEN", config.ProfileToken(index)),
		render.Text("NAME", profile.Name),
		render.Int("USE_COUNT", len(cfg.Profiles)),
		render.Int("WIDTH", profile.Width),
		render.Int("HEIGHT", profile.Height),
		render.Int("INDEX", index),
		render.Text("ENCODING", profile.Encoding),
		render.XML("PTZ", ptz),
	)
}

func (m *mediaModule) getProfiles(_ context.Context, _ *router.Request) ([]byte, error) {
	var items string
	for i, profile := range m.deps.Config.Profiles {
		item, err := m.renderProfile("trt:Profiles", i, profile)
		if err != nil {
			return nil, err
		}
		items += item
	}
	return render.Response("media_profiles", render.XML("PROFILES", items))
}

func (m *mediaModule) getProfile(_ context.Context, req *router.Request) ([]byte, error) {
	index, profile, err := requireProfile(req, m.deps.Config)
	if err != nil {
		return nil, err
	}
	item, err := m.renderProfile("trt:Profile", index, *profile)
	if err != nil {
		return nil, err
	}
	return render.Response("media_profile", render.XML("PROFILE", item))
}

func (m *mediaModule) getStreamURI(_ context.Context, req *router.Request) ([]byte, error) {
	_, profile, err := requireProfile(req, m.deps.Config)
	if err != nil {
		return nil, err
	}
	return render.Response("media_stream_uri", render.Text("URI", profile.URL))
}

func (m *mediaModule) getSnapshotURI(_ context.Context, req *router.Request) ([]byte, error) {
	_, profile, err := requireProfile(req, m.deps.Config)
	if err != nil {
		return nil, err
	}
	if profile.SnapURL == "" {
		return nil, soap.ActionNotSupported(req.Service)
	}
	return render.Response("media_snapshot_uri", render.Text("URI", profile.SnapURL))
}

func (m *mediaModule) getVideoSources(_ context.Context, req *router.Request) ([]byte, error) {
	profiles := m.deps.Config.Profiles
	if len(profiles) == 0 {
		return nil, soap.ActionFailed(req.Service)
	}
	return render.Response("media_video_sources",
		render.Int("WIDTH", profiles[0].Width),
		render.Int("HEIGHT", profiles[0].Height),
	)
}

func (m *mediaModule) getServiceCapabilities(_ context.Context, _ *router.Request) ([]byte, error) {
	return render.Response("media_service_capabilities",
		render.Bool("SNAPSHOT", hasSnapshot(m.deps.Config)),
		render.Int("MAX_PROFILES", len(m.deps.Config.Profiles)),
	)
}

func (m *mediaModule) getAudioOutputs(_ context.Context, req *router.Request) ([]byte, error) {
	if !m.deps.Config.HasAudioOutput() {
		return nil, soap.ActionNotSupported(req.Service)
	}
	items, err := render.Each("media_audio_output_item", []int{0}, func(i int, _ int) []render.Var {
		return []render.Var{render.Int("INDEX", i)}
	})
	if err != nil {
		return nil, err
	}
	return render.Response("media_audio_outputs", render.XML("OUTPUTS", items))
}

func hasSnapshot(cfg config.Config) bool {
	for _, profile := range cfg.Profiles {
		if profile.SnapURL != "" {
			return true
		}
	}
	return false
}
