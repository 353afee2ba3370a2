package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keisueke/show-discord/internal/config"
	"github.com/keisueke/show-discord/internal/peer"
	"github.com/keisueke/show-discord/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Exiting")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:           "show-discord",
		Short:         "Median party quiz: relay server and terminal player.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	config.AddCommonFlags(root.PersistentFlags(), cfg)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server, result archive and Discord endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}

			srv, cleanup, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return srv.Start(cmd.Context())
		},
	}
	config.AddServeFlags(serve.Flags(), cfg)

	play := &cobra.Command{
		Use:   "peer",
		Short: "Join a session from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.ValidatePeer(); err != nil {
				return err
			}
			return peer.Run(cmd.Context(), peer.Options{Config: cfg, In: os.Stdin, Out: os.Stdout})
		},
	}
	config.AddPeerFlags(play.Flags(), cfg)

	root.AddCommand(serve, play)
	root.CompletionOptions.HiddenDefaultCmd = true
	return root
}

// setup fills unset flags from the environment and configures logging.
func setup(cmd *cobra.Command, cfg *config.Config) error {
	if err := config.Load(cmd.Flags()); err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(level)
	return nil
}
