package main

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/eigr/permastate-go/internal/adapters/rpc"
	"github.com/eigr/permastate-go/internal/bootstrap/entityconfig"
	"github.com/eigr/permastate-go/internal/composition/entityserver"
	"github.com/eigr/permastate-go/internal/domains/discovery"
	"github.com/eigr/permastate-go/internal/platform/privacylog"
)

type serveOptions struct {
	Port       int
	Descriptor string
	AdminAddr  string
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the entity discovery handshake until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(root, cmd, opts)
			if err != nil {
				return err
			}
			logger, err := privacylog.New(cmd.ErrOrStderr(), settings.LogFormat, settings.LogLevel)
			if err != nil {
				return err
			}
			cfg, err := settings.ServiceConfig()
			if err != nil {
				return err
			}

			logger.Info("entityd starting",
				"version", version,
				"commit", commit,
				"config", settings.Source,
			)
			inst, err := entityserver.NewLauncher().Start(cmd.Context(), entityserver.StartCommand{
				Config:  cfg,
				Options: serverOptions(settings, logger),
			})
			if err != nil {
				return err
			}
			if err := inst.Wait(); err != nil {
				return err
			}
			logger.Info("entityd stopped")
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Port, "port", 0, "gRPC listen port (overrides config)")
	cmd.Flags().StringVar(&opts.Descriptor, "descriptor", "", "path to the descriptor artifact (overrides config)")
	cmd.Flags().StringVar(&opts.AdminAddr, "admin-addr", "", "admin HTTP listen address, empty to disable (overrides config)")
	return cmd
}

func newDescribeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print the handshake reply this process would send, as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(root, cmd, opts)
			if err != nil {
				return err
			}
			logger, err := privacylog.New(cmd.ErrOrStderr(), settings.LogFormat, settings.LogLevel)
			if err != nil {
				return err
			}
			cfg, err := settings.ServiceConfig()
			if err != nil {
				return err
			}
			schema, err := entityserver.LoadSchema(cfg, serverOptions(settings, logger), logger)
			if err != nil {
				return err
			}
			spec, err := discovery.NewService(cfg, schema, logger, nil).Spec(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), entityserver.Describe(spec, nil))
		},
	}
	cmd.Flags().StringVar(&opts.Descriptor, "descriptor", "", "path to the descriptor artifact (overrides config)")
	return cmd
}

// loadSettings resolves the config file and environment, then applies flags
// that were set explicitly on the command line.
func loadSettings(root *rootOptions, cmd *cobra.Command, opts *serveOptions) (entityconfig.Settings, error) {
	settings, err := entityconfig.LoadFromPath(root.ConfigPath)
	if err != nil {
		return entityconfig.Settings{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		settings.Port = opts.Port
	}
	if flags.Changed("descriptor") {
		settings.DescriptorPath = opts.Descriptor
	}
	if flags.Changed("admin-addr") {
		settings.AdminAddr = opts.AdminAddr
	}
	return settings, nil
}

func serverOptions(s entityconfig.Settings, logger *slog.Logger) entityserver.Options {
	return entityserver.Options{
		ReadSchemaPerCall: !s.SchemaCache,
		SchemaReadTimeout: s.SchemaReadTimeout,
		RateLimit: rpc.RateLimitConfig{
			Enabled: s.RateLimitEnabled,
			RPS:     s.RateLimitRPS,
			Burst:   s.RateLimitBurst,
		},
		Streams: rpc.StreamLimitConfig{
			MaxGlobal:  s.MaxStreamsGlobal,
			MaxPerPeer: s.MaxStreamsPerPeer,
		},
		AdminAddr: s.AdminAddr,
		Logger:    logger,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
