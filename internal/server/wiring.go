package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/keisueke/show-discord/internal/config"
	"github.com/keisueke/show-discord/internal/hostauth"
	"github.com/keisueke/show-discord/internal/hub"
	"github.com/keisueke/show-discord/internal/repository"
)

// Build assembles a server from cfg. The returned func releases the archive store and
// event publisher.
func Build(ctx context.Context, cfg *config.Config) (*Server, func(), error) {
	var repo repository.Repository
	if cfg.DatabaseURL != "" {
		log.Info().Msg("Using PostgreSQL result archive")
		pg, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open result archive: %w", err)
		}
		repo = pg
	} else {
		log.Info().Msg("Using in-memory result archive")
		repo = repository.NewInMemoryRepository(nil)
	}

	var publisher hub.Publisher = hub.LogPublisher{}
	var nats *hub.NATSPublisher
	if cfg.NATSURL != "" {
		p, err := hub.NewNATSPublisher(hub.DefaultNATSConfig(cfg.NATSURL))
		if err != nil {
			repo.Close()
			return nil, nil, err
		}
		nats = p
		publisher = p
	}

	archive := NewArchive(repo, nil, cfg.Retention)
	h := hub.NewHub(hub.Options{
		MaxPlayers:  cfg.MaxPlayers,
		IdleTimeout: cfg.IdleTimeout,
		Publisher:   publisher,
		Sink:        archive,
	})

	srv := NewServer(Options{
		Addr:      cfg.Addr(),
		PublicURL: cfg.PublicURL,
		Hub:       h,
		Archive:   archive,
		Exchanger: hostauth.NewExchanger(hostauth.Credentials{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURI:  cfg.DiscordRedirectURI,
		}),
		Proxy: hostauth.NewProxy(),
	})

	cleanup := func() {
		if nats != nil {
			nats.Close()
		}
		if err := repo.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing result archive failed")
		}
	}
	return srv, cleanup, nil
}
