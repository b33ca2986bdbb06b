package main

import (
	"fmt"
	"os"
	"time"

	"github.com/danmuck/tfdoom/internal/control"
	"github.com/danmuck/tfdoom/internal/doom"
	"github.com/danmuck/tfdoom/internal/logging"
	"github.com/danmuck/tfdoom/internal/sidecar"
	"github.com/danmuck/tfdoom/internal/terraform"
	"github.com/spf13/cobra"
)

type serveFlags struct {
	configPath     string
	socketPath     string
	chdir          string
	mode           string
	port           int
	maxConnections int
	metricsAddr    string
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tfdoomctl",
		Short:         "Destroy terraform resources through a local control socket",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newKillCmd())
	cmd.AddCommand(newBaseCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bind the control socket, start the visualization, and serve",
		Long: `Serve builds the terraform base command from TF_* environment
variables, binds the control socket (removing a stale one), launches the
visualization sidecars, and answers list/kill instructions until interrupted.

Flags override values from --config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveServeConfig(cmd, f)
			if err != nil {
				return err
			}
			return doom.NewService(cfg).Run(cmd.Context())
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "path to a TOML config file")
	flags.StringVar(&f.socketPath, "socket", control.DefaultSocketPath, "control socket path")
	flags.StringVar(&f.chdir, "chdir", terraform.DefaultChdir, "terraform working directory")
	flags.StringVar(&f.mode, "mode", string(sidecar.ModeLocal), "visualization mode: local, container, none")
	flags.IntVarP(&f.port, "port", "p", 5900, "externally facing VNC port (x11vnc -rfbport locally, published port in a container)")
	flags.IntVar(&f.maxConnections, "max-connections", control.DefaultMaxConnections, "control connections handled at once")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	return cmd
}

func resolveServeConfig(cmd *cobra.Command, f serveFlags) (doom.ServiceConfig, error) {
	cfg, err := loadServiceConfig(f.configPath)
	if err != nil {
		return doom.ServiceConfig{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("socket") {
		cfg.Control.SocketPath = f.socketPath
	}
	if flags.Changed("chdir") {
		cfg.Terraform.Chdir = f.chdir
	}
	if flags.Changed("mode") {
		mode, err := sidecar.ParseMode(f.mode)
		if err != nil {
			return doom.ServiceConfig{}, err
		}
		cfg.Sidecar.Mode = mode
	}
	if flags.Changed("port") {
		cfg.Sidecar.Container.Port = f.port
	}
	if flags.Changed("max-connections") {
		cfg.Control.MaxConnections = f.maxConnections
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	return cfg, nil
}

func addClientFlags(cmd *cobra.Command, socketPath *string, timeout *time.Duration, def time.Duration, usage string) {
	cmd.Flags().StringVar(socketPath, "socket", control.DefaultSocketPath, "control socket path")
	cmd.Flags().DurationVar(timeout, "timeout", def, usage)
}

func newListCmd() *cobra.Command {
	var (
		socketPath string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the resources terraform currently manages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			client.Timeout = timeout
			resources, err := client.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range resources {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	addClientFlags(cmd, &socketPath, &timeout, 5*time.Minute, "give up after this long")
	return cmd
}

func newKillCmd() *cobra.Command {
	var (
		socketPath string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "kill <resource>",
		Short: "Destroy one resource by its terraform address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			client.KillTimeout = timeout
			return client.Kill(cmd.Context(), args[0])
		},
	}
	addClientFlags(cmd, &socketPath, &timeout, 0,
		"give up after this long; 0 waits until terraform destroy finishes, the server keeps destroying either way")
	return cmd
}

func newBaseCmd() *cobra.Command {
	var configPath, chdir string
	cmd := &cobra.Command{
		Use:   "base",
		Short: "Print the terraform base command built from the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServiceConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("chdir") {
				cfg.Terraform.Chdir = chdir
			}
			base := terraform.BuildBaseCommand(os.Environ(), cfg.Terraform)
			fmt.Fprintln(cmd.OutOrStdout(), base.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	cmd.Flags().StringVar(&chdir, "chdir", terraform.DefaultChdir, "terraform working directory")
	return cmd
}
