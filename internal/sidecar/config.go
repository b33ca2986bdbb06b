package sidecar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidMode = errors.New("sidecar: invalid mode")
	ErrLaunch      = errors.New("sidecar: launch failed")
)

// Mode selects how destruction is visualized.
type Mode string

const (
	ModeLocal     Mode = "local"
	ModeContainer Mode = "container"
	ModeNone      Mode = "none"
)

func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeLocal, ModeContainer, ModeNone:
		return m, nil
	case "":
		return ModeLocal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

// DisplayConfig drives the local Xvfb + x11vnc + psdoom stack.
type DisplayConfig struct {
	Display      string
	Geometry     string
	Depth        int
	XvfbBinary   string
	VNCBinary    string
	GameBinary   string
	GameArgs     []string
	X11SocketDir string
	SettleDelay  time.Duration
	ReadyTimeout time.Duration
}

func DefaultDisplayConfig() DisplayConfig {
	return DisplayConfig{
		Display:      ":99",
		Geometry:     "640x480",
		Depth:        24,
		XvfbBinary:   "/usr/bin/Xvfb",
		VNCBinary:    "x11vnc",
		GameBinary:   "/usr/local/games/psdoom",
		GameArgs:     []string{"-warp", "-E1M1", "-nomouse", "-iwad", "/doom1.wad"},
		X11SocketDir: "/tmp/.X11-unix",
		SettleDelay:  2 * time.Second,
		ReadyTimeout: 10 * time.Second,
	}
}

// ContainerConfig drives the container variant.
type ContainerConfig struct {
	Runtime         string
	Image           string
	Port            int
	ContainerPort   int
	ContainerSocket string
	ExtraArgs       []string
}

func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		Runtime:         "docker",
		Image:           "dockerdoom",
		Port:            5900,
		ContainerPort:   5900,
		ContainerSocket: "/dockerdoom.socket",
	}
}

// Config is the full sidecar launch configuration.
type Config struct {
	Mode      Mode
	Display   DisplayConfig
	Container ContainerConfig
}

func DefaultConfig() Config {
	return Config{
		Mode:      ModeLocal,
		Display:   DefaultDisplayConfig(),
		Container: DefaultContainerConfig(),
	}
}

func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Mode != ModeNone && (c.Container.Port <= 0 || c.Container.Port > 65535) {
		return fmt.Errorf("%w: port %d out of range", ErrLaunch, c.Container.Port)
	}
	switch c.Mode {
	case ModeContainer:
		if strings.TrimSpace(c.Container.Image) == "" {
			return fmt.Errorf("%w: container image required", ErrLaunch)
		}
	case ModeLocal:
		if !strings.HasPrefix(c.Display.Display, ":") {
			return fmt.Errorf("%w: display %q must look like :N", ErrLaunch, c.Display.Display)
		}
	}
	return nil
}
