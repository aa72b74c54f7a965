package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the device/service context. It is loaded once before the first
// request is dispatched and never modified afterwards.
type Config struct {
	Model           string   `json:"model" yaml:"model" env:"MODEL"`
	Manufacturer    string   `json:"manufacturer" yaml:"manufacturer" env:"MANUFACTURER"`
	FirmwareVersion string   `json:"firmwareVersion" yaml:"firmwareVersion" env:"FIRMWARE_VERSION"`
	SerialNumber    string   `json:"serialNumber" yaml:"serialNumber" env:"SERIAL_NUMBER"`
	HardwareID      string   `json:"hardwareId" yaml:"hardwareId" env:"HARDWARE_ID"`
	Address         string   `json:"address" yaml:"address" env:"ADDRESS"`
	Scopes          []string `json:"scopes" yaml:"scopes"`

	Username string `json:"username" yaml:"username" env:"USERNAME"`
	Password string `json:"password" yaml:"password" env:"PASSWORD"`

	Profiles []Profile `json:"profiles" yaml:"profiles"`
	PTZ      PTZ       `json:"ptz" yaml:"ptz" envPrefix:"PTZ_"`
	Relays   []Relay   `json:"relays" yaml:"relays"`

	RebootCommand string `json:"rebootCommand" yaml:"rebootCommand" env:"REBOOT_COMMAND"`

	// FaultIfUnknown answers unknown methods with a fault instead of an empty body.
	FaultIfUnknown bool `json:"faultIfUnknown" yaml:"faultIfUnknown" env:"FAULT_IF_UNKNOWN"`
	// SynologyNVR steers Synology recorders away from media2 GetProfiles.
	SynologyNVR bool `json:"synologyNvr" yaml:"synologyNvr" env:"SYNOLOGY_NVR"`

	ListenAddr  string `json:"listenAddr" yaml:"listenAddr" env:"LISTEN"`
	LogDir      string `json:"logDir" yaml:"logDir" env:"LOG_DIR"`
	Debug       bool   `json:"debug" yaml:"debug" env:"DEBUG"`
	AuditDBPath string `json:"auditDbPath" yaml:"auditDbPath" env:"AUDIT_DB_PATH"`
	// AuditRetentionDays bounds how long request log rows are kept; 0 keeps them.
	AuditRetentionDays int `json:"auditRetentionDays" yaml:"auditRetentionDays" env:"AUDIT_RETENTION_DAYS"`
	// AdminTokenHash is the bcrypt hash of the token guarding the /api
	// endpoints of the HTTP server; empty disables them. See "hash-token".
	AdminTokenHash string `json:"adminTokenHash" yaml:"adminTokenHash" env:"ADMIN_TOKEN_HASH"`
	ConfigFile  string `json:"-" yaml:"-"`
}

type Profile struct {
	Name         string `json:"name" yaml:"name"`
	Width        int    `json:"width" yaml:"width"`
	Height       int    `json:"height" yaml:"height"`
	URL          string `json:"url" yaml:"url"`
	SnapURL      string `json:"snapUrl" yaml:"snapUrl"`
	Encoding     string `json:"encoding" yaml:"encoding"`
	AudioEncoder string `json:"audioEncoder" yaml:"audioEncoder"`
	AudioDecoder string `json:"audioDecoder" yaml:"audioDecoder"`
}

// PTZ holds the native ranges and backend command templates of the motor.
type PTZ struct {
	Enable     bool    `json:"enable" yaml:"enable" env:"ENABLE"`
	Reverse    bool    `json:"reverse" yaml:"reverse" env:"REVERSE"`
	PanMin     float64 `json:"panMin" yaml:"panMin" env:"PAN_MIN"`
	PanMax     float64 `json:"panMax" yaml:"panMax" env:"PAN_MAX"`
	TiltMin    float64 `json:"tiltMin" yaml:"tiltMin" env:"TILT_MIN"`
	TiltMax    float64 `json:"tiltMax" yaml:"tiltMax" env:"TILT_MAX"`
	ZoomMin    float64 `json:"zoomMin" yaml:"zoomMin" env:"ZOOM_MIN"`
	ZoomMax    float64 `json:"zoomMax" yaml:"zoomMax" env:"ZOOM_MAX"`
	MaxPresets int     `json:"maxPresets" yaml:"maxPresets" env:"MAX_PRESETS"`

	Commands PTZCommands `json:"commands" yaml:"commands" envPrefix:"CMD_"`
}

// PTZCommands are command templates; "{name}" placeholders are filled per call.
type PTZCommands struct {
	MoveLeft     string `json:"moveLeft" yaml:"moveLeft" env:"MOVE_LEFT"`
	MoveRight    string `json:"moveRight" yaml:"moveRight" env:"MOVE_RIGHT"`
	MoveUp       string `json:"moveUp" yaml:"moveUp" env:"MOVE_UP"`
	MoveDown     string `json:"moveDown" yaml:"moveDown" env:"MOVE_DOWN"`
	MoveIn       string `json:"moveIn" yaml:"moveIn" env:"MOVE_IN"`
	MoveOut      string `json:"moveOut" yaml:"moveOut" env:"MOVE_OUT"`
	MovePanTilt  string `json:"movePanTilt" yaml:"movePanTilt" env:"MOVE_PAN_TILT"`
	Stop         string `json:"stop" yaml:"stop" env:"STOP"`
	JumpToAbs    string `json:"jumpToAbs" yaml:"jumpToAbs" env:"JUMP_TO_ABS"`
	JumpToRel    string `json:"jumpToRel" yaml:"jumpToRel" env:"JUMP_TO_REL"`
	GotoHome     string `json:"gotoHome" yaml:"gotoHome" env:"GOTO_HOME"`
	SetHome      string `json:"setHome" yaml:"setHome" env:"SET_HOME"`
	GotoPreset   string `json:"gotoPreset" yaml:"gotoPreset" env:"GOTO_PRESET"`
	SetPreset    string `json:"setPreset" yaml:"setPreset" env:"SET_PRESET"`
	RemovePreset string `json:"removePreset" yaml:"removePreset" env:"REMOVE_PRESET"`
	GetPresets   string `json:"getPresets" yaml:"getPresets" env:"GET_PRESETS"`
	GetPosition  string `json:"getPosition" yaml:"getPosition" env:"GET_POSITION"`
	IsMoving     string `json:"isMoving" yaml:"isMoving" env:"IS_MOVING"`
}

type Relay struct {
	Token     string `json:"token" yaml:"token"`
	IdleState string `json:"idleState" yaml:"idleState"`
	Open      string `json:"open" yaml:"open"`
	Close     string `json:"close" yaml:"close"`
}

// HasCredentials reports whether requests must carry a security token.
func (c Config) HasCredentials() bool {
	return c.Username != "" || c.Password != ""
}

// HasAudioOutput reports whether any profile can play audio back.
func (c Config) HasAudioOutput() bool {
	for _, profile := range c.Profiles {
		if strings.TrimSpace(profile.AudioDecoder) != "" {
			return true
		}
	}
	return false
}

// ZoomSupported is false for a degenerate zoom range.
func (p PTZ) ZoomSupported() bool {
	return p.ZoomMax > p.ZoomMin
}

// ServiceURL builds the XAddr of one of our services.
func (c Config) ServiceURL(service string) string {
	return "http://" + c.Address + "/onvif/" + service
}

// ProfileByToken resolves "Profile_N" tokens and plain profile names.
func (c Config) ProfileByToken(token string) (int, *Profile) {
	token = strings.TrimSpace(token)
	for i := range c.Profiles {
		if ProfileToken(i) == token || c.Profiles[i].Name == token {
			return i, &c.Profiles[i]
		}
	}
	return -1, nil
}

func ProfileToken(index int) string {
	return "Profile_" + strconv.Itoa(index)
}

func resolveConfigFilePath(explicit string) (string, error) {
	path := strings.TrimSpace(explicit)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("ONVIF_CONFIG_FILE"))
	}
	if path == "" {
		path = defaultConfigFilePath()
	}
	return filepath.Abs(path)
}

func defaultConfigFilePath() string {
	candidates := []string{
		filepath.FromSlash("./onvif_simple_server.json"),
		filepath.FromSlash("./onvif_simple_server.yaml"),
		filepath.FromSlash("/etc/onvif_simple_server.json"),
		filepath.FromSlash("/etc/onvif_simple_server.yaml"),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return candidates[0]
}

func defaultConfig(configFile string) Config {
	cfg := Config{
		Model:           "Simple ONVIF Camera",
		Manufacturer:    "Generic",
		FirmwareVersion: "1.0",
		SerialNumber:    "000000",
		HardwareID:      "1.0",
		Address:         "127.0.0.1:80",
		ListenAddr:      ":8080",
		ConfigFile:      configFile,
		PTZ: PTZ{
			PanMin:     -1,
			PanMax:     1,
			TiltMin:    -1,
			TiltMax:    1,
			MaxPresets: 8,
		},
	}
	return cfg
}

func normalizeConfig(cfg Config, configFile string) Config {
	cfg.ConfigFile = configFile
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:80"
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.PTZ.MaxPresets <= 0 {
		cfg.PTZ.MaxPresets = 8
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{
			"onvif://www.onvif.org/Profile/Streaming",
			"onvif://www.onvif.org/Profile/T",
			"onvif://www.onvif.org/hardware/" + strings.ReplaceAll(cfg.Model, " ", "_"),
			"onvif://www.onvif.org/name/" + strings.ReplaceAll(cfg.Manufacturer, " ", "_"),
		}
	}
	for i := range cfg.Profiles {
		if strings.TrimSpace(cfg.Profiles[i].Name) == "" {
			cfg.Profiles[i].Name = ProfileToken(i)
		}
		if strings.TrimSpace(cfg.Profiles[i].Encoding) == "" {
			cfg.Profiles[i].Encoding = "H264"
		}
		cfg.Profiles[i].Encoding = strings.ToUpper(cfg.Profiles[i].Encoding)
	}
	for i := range cfg.Relays {
		if strings.TrimSpace(cfg.Relays[i].Token) == "" {
			cfg.Relays[i].Token = "RelayOutputToken_" + strconv.Itoa(i)
		}
		if !strings.EqualFold(cfg.Relays[i].IdleState, "open") {
			cfg.Relays[i].IdleState = "closed"
		} else {
			cfg.Relays[i].IdleState = "open"
		}
	}
	cfg.LogDir = absPathWithBase(cfg.LogDir, filepath.Dir(configFile))
	cfg.AuditDBPath = absPathWithBase(cfg.AuditDBPath, filepath.Dir(configFile))
	return cfg
}

func absPathWithBase(target string, base string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	if filepath.IsAbs(target) {
		return target
	}
	if base == "" {
		if abs, err := filepath.Abs(target); err == nil {
			return abs
		}
		return target
	}
	if abs, err := filepath.Abs(filepath.Join(base, target)); err == nil {
		return abs
	}
	return filepath.Join(base, target)
}
