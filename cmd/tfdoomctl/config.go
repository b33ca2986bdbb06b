package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tfdoom/internal/doom"
	"github.com/danmuck/tfdoom/internal/sidecar"
)

type fileConfig struct {
	SocketPath        string        `toml:"socket_path"`
	Chdir             string        `toml:"chdir"`
	EnvPrefix         string        `toml:"env_prefix"`
	BackendBinary     string        `toml:"backend_binary"`
	Mode              string        `toml:"mode"`
	Port              int           `toml:"port"`
	MaxConnections    int           `toml:"max_connections"`
	ReadTimeout       string        `toml:"read_timeout"`
	WriteTimeout      string        `toml:"write_timeout"`
	MetricsAddr       string        `toml:"metrics_addr"`
	HeartbeatInterval string        `toml:"heartbeat_interval"`
	Display           fileDisplay   `toml:"display"`
	Container         fileContainer `toml:"container"`
}

type fileDisplay struct {
	Display     string   `toml:"display"`
	Geometry    string   `toml:"geometry"`
	Depth       int      `toml:"depth"`
	Xvfb        string   `toml:"xvfb"`
	VNC         string   `toml:"vnc"`
	Game        string   `toml:"game"`
	GameArgs    []string `toml:"game_args"`
	SettleDelay string   `toml:"settle_delay"`
}

type fileContainer struct {
	Runtime   string   `toml:"runtime"`
	Image     string   `toml:"image"`
	ExtraArgs []string `toml:"extra_args"`
}

func loadServiceConfig(path string) (doom.ServiceConfig, error) {
	cfg := doom.DefaultServiceConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return doom.ServiceConfig{}, fmt.Errorf("load tfdoom config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return doom.ServiceConfig{}, fmt.Errorf("load tfdoom config: unknown keys %v", undecoded)
	}

	setString := func(key, value string, dst *string) {
		if meta.IsDefined(strings.Split(key, ".")...) {
			if v := strings.TrimSpace(value); v != "" {
				*dst = v
			}
		}
	}
	setDuration := func(key, value string, dst *time.Duration) error {
		if !meta.IsDefined(strings.Split(key, ".")...) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	setString("socket_path", raw.SocketPath, &cfg.Control.SocketPath)
	setString("chdir", raw.Chdir, &cfg.Terraform.Chdir)
	setString("env_prefix", raw.EnvPrefix, &cfg.Terraform.EnvPrefix)
	setString("backend_binary", raw.BackendBinary, &cfg.Terraform.Binary)
	setString("metrics_addr", raw.MetricsAddr, &cfg.MetricsAddr)

	if meta.IsDefined("mode") {
		mode, err := sidecar.ParseMode(raw.Mode)
		if err != nil {
			return doom.ServiceConfig{}, err
		}
		cfg.Sidecar.Mode = mode
	}
	if meta.IsDefined("port") {
		cfg.Sidecar.Container.Port = raw.Port
	}
	if meta.IsDefined("max_connections") {
		cfg.Control.MaxConnections = raw.MaxConnections
	}
	if err := setDuration("read_timeout", raw.ReadTimeout, &cfg.Control.ReadTimeout); err != nil {
		return doom.ServiceConfig{}, err
	}
	if err := setDuration("write_timeout", raw.WriteTimeout, &cfg.Control.WriteTimeout); err != nil {
		return doom.ServiceConfig{}, err
	}
	if err := setDuration("heartbeat_interval", raw.HeartbeatInterval, &cfg.HeartbeatInterval); err != nil {
		return doom.ServiceConfig{}, err
	}

	setString("display.display", raw.Display.Display, &cfg.Sidecar.Display.Display)
	setString("display.geometry", raw.Display.Geometry, &cfg.Sidecar.Display.Geometry)
	setString("display.xvfb", raw.Display.Xvfb, &cfg.Sidecar.Display.XvfbBinary)
	setString("display.vnc", raw.Display.VNC, &cfg.Sidecar.Display.VNCBinary)
	setString("display.game", raw.Display.Game, &cfg.Sidecar.Display.GameBinary)
	if meta.IsDefined("display", "depth") {
		cfg.Sidecar.Display.Depth = raw.Display.Depth
	}
	if meta.IsDefined("display", "game_args") {
		cfg.Sidecar.Display.GameArgs = normalizeArgs(raw.Display.GameArgs)
	}
	if err := setDuration("display.settle_delay", raw.Display.SettleDelay, &cfg.Sidecar.Display.SettleDelay); err != nil {
		return doom.ServiceConfig{}, err
	}

	setString("container.runtime", raw.Container.Runtime, &cfg.Sidecar.Container.Runtime)
	setString("container.image", raw.Container.Image, &cfg.Sidecar.Container.Image)
	if meta.IsDefined("container", "extra_args") {
		cfg.Sidecar.Container.ExtraArgs = normalizeArgs(raw.Container.ExtraArgs)
	}

	return cfg, nil
}

func normalizeArgs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, arg := range in {
		v := strings.TrimSpace(arg)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
