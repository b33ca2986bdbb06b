package doom

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/tfdoom/internal/control"
	"github.com/danmuck/tfdoom/internal/observability"
	"github.com/danmuck/tfdoom/internal/sidecar"
	"github.com/danmuck/tfdoom/internal/terraform"
	"github.com/danmuck/tfdoom/internal/tools"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("doom: invalid heartbeat interval")
	ErrInvalidShutdownTimeout   = errors.New("doom: invalid shutdown timeout")
)

// ServiceConfig configures one tfdoom process.
type ServiceConfig struct {
	Control           control.Config
	Terraform         terraform.BaseOptions
	Sidecar           sidecar.Config
	MetricsAddr       string
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Control:           control.DefaultConfig(),
		Terraform:         terraform.DefaultBaseOptions(),
		Sidecar:           sidecar.DefaultConfig(),
		MetricsAddr:       "",
		HeartbeatInterval: time.Minute,
		ShutdownTimeout:   10 * time.Second,
	}
}

func (c ServiceConfig) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}
	return c.Sidecar.Validate()
}

// Service wires the controller, control server, and sidecars together.
type Service struct {
	cfg       ServiceConfig
	runner    tools.CommandRunner
	sessionID string

	base     terraform.BaseCommand
	ctrl     *terraform.Controller
	server   *control.Server
	launcher *sidecar.Launcher
}

func NewService(cfg ServiceConfig) *Service {
	return NewServiceWithRunner(cfg, tools.NewShellRunner())
}

func NewServiceWithRunner(cfg ServiceConfig, runner tools.CommandRunner) *Service {
	cfg.Control = cfg.Control.WithDefaults()
	return &Service{
		cfg:       cfg,
		runner:    runner,
		sessionID: uuid.NewString(),
	}
}

func (s *Service) SessionID() string {
	return s.sessionID
}

// BaseCommand returns the terraform prefix once bootstrap has run.
func (s *Service) BaseCommand() terraform.BaseCommand {
	return s.base
}

// Run bootstraps and serves until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *Service) bootstrap(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.base = terraform.BuildBaseCommand(os.Environ(), s.cfg.Terraform)
	s.ctrl = terraform.NewController(s.base, s.runner)
	s.server = control.NewServer(s.cfg.Control, s.ctrl)
	log.Info().
		Str("session", s.sessionID).
		Str("base_command", s.base.String()).
		Str("chdir", s.base.Chdir()).
		Msg("doom.Service.bootstrap configured")

	if err := s.server.Listen(); err != nil {
		return err
	}

	s.launcher = sidecar.NewLauncher(s.cfg.Sidecar, s.runner, s.cfg.Control.SocketPath, s.sessionID)
	if err := s.launcher.Start(ctx); err != nil {
		_ = s.server.Close()
		return fmt.Errorf("doom: startup aborted: %w", err)
	}

	log.Info().
		Str("session", s.sessionID).
		Str("mode", string(s.cfg.Sidecar.Mode)).
		Str("socket", s.cfg.Control.SocketPath).
		Msg("doom.Service.bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	defer s.stopSidecars()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.server.Serve(gctx)
	})
	if addr := strings.TrimSpace(s.cfg.MetricsAddr); addr != "" {
		g.Go(func() error {
			return observability.Serve(gctx, addr, s.server.Serving)
		})
	}
	g.Go(func() error {
		s.heartbeat(gctx)
		return nil
	})

	err := g.Wait()
	log.Info().Str("session", s.sessionID).Err(err).Msg("doom.Service.serve shutdown")
	return err
}

func (s *Service) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive := 0
			procs := s.launcher.Processes()
			for _, p := range procs {
				if !p.Exited() {
					alive++
				}
			}
			var event *zerolog.Event
			if alive < len(procs) {
				event = log.Warn()
			} else {
				event = log.Info()
			}
			event.
				Str("session", s.sessionID).
				Bool("serving", s.server.Serving()).
				Int("sidecars", len(procs)).
				Int("sidecars_alive", alive).
				Msg("doom.Service.heartbeat")
		}
	}
}

func (s *Service) stopSidecars() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.launcher.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("doom.Service.stopSidecars failed")
	}
}
