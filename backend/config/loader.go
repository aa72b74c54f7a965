package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "ONVIF_"

// Load reads the config file (JSON or YAML by extension), applies ONVIF_*
// environment overrides and returns the normalized snapshot. A missing file
// yields the defaults.
func Load(explicitPath string) (Config, error) {
	path, err := resolveConfigFilePath(explicitPath)
	if err != nil {
		return Config{}, err
	}
	cfg, err := readConfigFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
		log.Printf("[config] %s not found, using defaults", path)
		cfg = defaultConfig(path)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment overrides: %w", err)
	}
	return normalizeConfig(cfg, path), nil
}

// LoadDotEnv imports a .env file into the process environment when present.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config][warn] load .env failed: %v", err)
	}
}

func readConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("empty config path")
	}
	bytes, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := defaultConfig(path)
	if len(bytes) == 0 {
		return cfg, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(bytes, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(bytes, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return cfg, nil
}
