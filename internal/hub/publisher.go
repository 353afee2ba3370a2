package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/keisueke/show-discord/internal/models"
)

// Publisher emits relay lifecycle events to whoever watches sessions.
type Publisher interface {
	Publish(event models.GameEvent) error
}

// LogPublisher writes events to the debug log.
type LogPublisher struct{}

func (LogPublisher) Publish(event models.GameEvent) error {
	log.Debug().Str("session_id", event.SessionID).Str("event", event.Type).Msg("Session event")
	return nil
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		SubjectPrefix: "showdiscord.sessions",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSPublisher publishes each event on <prefix>.<session>.<type>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("show-discord relay"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
	return &NATSPublisher{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

func (p *NATSPublisher) Subject(event models.GameEvent) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, event.SessionID, event.Type)
}

func (p *NATSPublisher) Publish(event models.GameEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(event), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("NATS drain failed")
		p.nc.Close()
	}
}
