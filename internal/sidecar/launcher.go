package sidecar

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/tfdoom/internal/tools"
	"github.com/rs/zerolog/log"
)

// Launcher starts and stops the visualization side of one session.
type Launcher struct {
	cfg        Config
	runner     tools.CommandRunner
	socketPath string
	sessionID  string

	mu        sync.Mutex
	procs     []*tools.Process
	container string
}

func NewLauncher(cfg Config, runner tools.CommandRunner, socketPath, sessionID string) *Launcher {
	return &Launcher{
		cfg:        cfg,
		runner:     runner,
		socketPath: socketPath,
		sessionID:  sessionID,
	}
}

// ContainerName is the sidecar container name derived from the session id.
func (l *Launcher) ContainerName() string {
	return "tfdoom-" + l.sessionID
}

// Start launches the configured mode. On failure everything already started
// is stopped before the error is returned.
func (l *Launcher) Start(ctx context.Context) error {
	if err := l.cfg.Validate(); err != nil {
		return err
	}
	var err error
	switch l.cfg.Mode {
	case ModeNone:
		log.Info().Msg("sidecar.Launcher.Start headless mode, no visualization")
		return nil
	case ModeContainer:
		err = l.startContainer(ctx)
	default:
		err = l.startLocal(ctx)
	}
	if err != nil {
		if stopErr := l.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			log.Warn().Err(stopErr).Msg("sidecar.Launcher.Start cleanup failed")
		}
		return err
	}
	return nil
}

func (l *Launcher) startLocal(ctx context.Context) error {
	d := l.cfg.Display

	xvfb, err := l.spawn("xvfb", l.XvfbCommand())
	if err != nil {
		return err
	}
	l.waitForDisplay(ctx, xvfb)
	if xvfb.Exited() {
		return fmt.Errorf("%w: xvfb exited during startup: %v", ErrLaunch, xvfb.Err())
	}

	if _, err := l.spawn("vnc", l.VNCCommand()); err != nil {
		return err
	}
	if _, err := l.spawn("game", l.GameCommand()); err != nil {
		return err
	}
	log.Info().
		Str("display", d.Display).
		Str("geometry", d.Geometry).
		Msg("sidecar.Launcher.startLocal ready")
	return nil
}

// waitForDisplay waits for the X server socket and falls back to the fixed
// settle delay when the socket cannot be observed.
func (l *Launcher) waitForDisplay(ctx context.Context, xvfb *tools.Process) {
	d := l.cfg.Display
	path := filepath.Join(d.X11SocketDir, "X"+strings.TrimPrefix(d.Display, ":"))
	err := waitForPath(ctx, path, d.ReadyTimeout)
	if err == nil {
		log.Debug().Str("socket", path).Msg("sidecar.Launcher display socket ready")
		return
	}
	log.Debug().Err(err).Str("socket", path).Dur("settle", d.SettleDelay).
		Msg("sidecar.Launcher display socket not observed, settling")
	if xvfb.Exited() {
		return
	}
	_ = sleepCtx(ctx, d.SettleDelay)
}

func (l *Launcher) spawn(name, command string) (*tools.Process, error) {
	p, err := l.runner.RunDetached(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunch, name, err)
	}
	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.mu.Unlock()
	log.Info().Str("name", name).Int("pid", p.Pid()).Str("command", command).Msg("sidecar.Launcher spawned")
	return p, nil
}

func (l *Launcher) startContainer(ctx context.Context) error {
	command := l.RunContainerCommand()
	res, err := l.runner.RunCapturing(ctx, command)
	if err != nil {
		return fmt.Errorf("%w: container: %v", ErrLaunch, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: container exited with code %d: %s",
			ErrLaunch, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	l.mu.Lock()
	l.container = l.ContainerName()
	l.mu.Unlock()
	log.Info().
		Str("name", l.ContainerName()).
		Str("container_id", strings.TrimSpace(string(res.Stdout))).
		Int("port", l.cfg.Container.Port).
		Msg("sidecar.Launcher.startContainer running")
	return nil
}

// Stop tears down whatever Start launched, most recent first.
func (l *Launcher) Stop(ctx context.Context) error {
	l.mu.Lock()
	procs := l.procs
	l.procs = nil
	container := l.container
	l.container = ""
	l.mu.Unlock()

	var errs []error
	if container != "" {
		c := l.cfg.Container
		res, err := l.runner.RunCapturing(ctx, tools.JoinCommand(c.Runtime, "rm", "-f", container))
		if err != nil {
			errs = append(errs, err)
		} else if res.ExitCode != 0 {
			errs = append(errs, fmt.Errorf("sidecar: remove %s exited with code %d", container, res.ExitCode))
		}
	}
	for i := len(procs) - 1; i >= 0; i-- {
		if err := procs[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sidecar: stop pid %d: %w", procs[i].Pid(), err))
		}
	}
	return errors.Join(errs...)
}

// Processes returns the detached children started so far.
func (l *Launcher) Processes() []*tools.Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*tools.Process, len(l.procs))
	copy(out, l.procs)
	return out
}

func (l *Launcher) XvfbCommand() string {
	d := l.cfg.Display
	screen := d.Geometry + "x" + strconv.Itoa(d.Depth)
	return tools.JoinCommand(d.XvfbBinary, d.Display, "-ac", "-screen", "0", screen)
}

func (l *Launcher) VNCCommand() string {
	d := l.cfg.Display
	port := strconv.Itoa(l.cfg.Container.Port)
	return tools.JoinCommand(d.VNCBinary, "-geometry", d.Geometry, "-forever", "-usepw", "-create",
		"-display", d.Display, "-rfbport", port)
}

func (l *Launcher) GameCommand() string {
	d := l.cfg.Display
	args := append([]string{"DISPLAY=" + d.Display, d.GameBinary}, d.GameArgs...)
	return tools.JoinCommand("/usr/bin/env", args...)
}

func (l *Launcher) RunContainerCommand() string {
	c := l.cfg.Container
	args := []string{
		"run", "-d", "--rm",
		"--name", l.ContainerName(),
		"-p", fmt.Sprintf("%d:%d", c.Port, c.ContainerPort),
		"-v", l.socketPath + ":" + c.ContainerSocket,
	}
	args = append(args, c.ExtraArgs...)
	args = append(args, c.Image)
	return tools.JoinCommand(c.Runtime, args...)
}
