package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "SHOWDISCORD"

type Config struct {
	LogLevel string

	// relay server
	Bind                string
	Port                int
	PublicURL           string
	DatabaseURL         string
	NATSURL             string
	MaxPlayers          int
	IdleTimeout         time.Duration
	Retention           time.Duration
	DiscordClientID     string
	DiscordClientSecret string
	DiscordRedirectURI  string

	// headless peer
	RelayURL      string
	Session       string
	PlayerID      string
	Name          string
	AvatarURL     string
	QuestionsFile string
	Debounce      time.Duration
	SyncStall     time.Duration
	Bot           bool
}

// AddCommonFlags registers flags shared by every command.
func AddCommonFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error (env: SHOWDISCORD_LOG_LEVEL)")
}

func AddServeFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: SHOWDISCORD_BIND)")
	flags.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: SHOWDISCORD_PORT)")
	flags.StringVar(&cfg.PublicURL, "public-url", "", "externally reachable base URL used in join links (env: SHOWDISCORD_PUBLIC_URL)")
	flags.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres URL for the result archive, in-memory when empty (env: SHOWDISCORD_DATABASE_URL)")
	flags.StringVar(&cfg.NATSURL, "nats-url", "", "NATS URL for session events, log only when empty (env: SHOWDISCORD_NATS_URL)")
	flags.IntVar(&cfg.MaxPlayers, "max-players", 0, "maximum players per session, 0 for no limit (env: SHOWDISCORD_MAX_PLAYERS)")
	flags.DurationVar(&cfg.IdleTimeout, "idle-timeout", 30*time.Minute, "time before empty sessions are removed (env: SHOWDISCORD_IDLE_TIMEOUT)")
	flags.DurationVar(&cfg.Retention, "retention", 30*24*time.Hour, "how long finished game results are kept (env: SHOWDISCORD_RETENTION)")
	flags.StringVar(&cfg.DiscordClientID, "discord-client-id", "", "Discord application client id (env: SHOWDISCORD_DISCORD_CLIENT_ID)")
	flags.StringVar(&cfg.DiscordClientSecret, "discord-client-secret", "", "Discord application client secret (env: SHOWDISCORD_DISCORD_CLIENT_SECRET)")
	flags.StringVar(&cfg.DiscordRedirectURI, "discord-redirect-uri", "", "OAuth redirect URI registered with Discord (env: SHOWDISCORD_DISCORD_REDIRECT_URI)")
}

func AddPeerFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.StringVar(&cfg.RelayURL, "relay-url", "http://localhost:8080", "relay server base URL (env: SHOWDISCORD_RELAY_URL)")
	flags.StringVarP(&cfg.Session, "session", "s", "", "session id to join (env: SHOWDISCORD_SESSION)")
	flags.StringVar(&cfg.PlayerID, "player-id", "", "player id, random when empty (env: SHOWDISCORD_PLAYER_ID)")
	flags.StringVarP(&cfg.Name, "name", "n", "", "display name (env: SHOWDISCORD_NAME)")
	flags.StringVar(&cfg.AvatarURL, "avatar-url", "", "avatar image URL (env: SHOWDISCORD_AVATAR_URL)")
	flags.StringVar(&cfg.QuestionsFile, "questions-file", "", "YAML question bank, built-in bank when empty (env: SHOWDISCORD_QUESTIONS_FILE)")
	flags.DurationVar(&cfg.Debounce, "debounce", 500*time.Millisecond, "delay before revealing once all answers are in (env: SHOWDISCORD_DEBOUNCE)")
	flags.DurationVar(&cfg.SyncStall, "sync-stall", 5*time.Second, "time before the admin is told answers are stuck (env: SHOWDISCORD_SYNC_STALL)")
	flags.BoolVar(&cfg.Bot, "bot", false, "answer and advance automatically (env: SHOWDISCORD_BOT)")
}

// Load reads .env, then fills every flag not set on the command line from
// SHOWDISCORD_* environment variables.
func Load(flags *pflag.FlagSet) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	var setErr error
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := flags.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil && setErr == nil {
				setErr = fmt.Errorf("invalid value for %s: %w", f.Name, err)
			}
		}
	})
	return setErr
}

func (c *Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}

func (c *Config) ValidateServe() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.MaxPlayers < 0 {
		return fmt.Errorf("invalid max players: %d", c.MaxPlayers)
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}
	if c.Retention <= 0 {
		return errors.New("retention must be positive")
	}
	if (c.DiscordClientID == "") != (c.DiscordClientSecret == "") {
		return errors.New("both --discord-client-id and --discord-client-secret must be provided together")
	}
	return nil
}

func (c *Config) ValidatePeer() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.RelayURL == "" {
		return errors.New("--relay-url is required")
	}
	if c.Session == "" {
		return errors.New("--session is required")
	}
	if c.Debounce <= 0 || c.SyncStall <= 0 {
		return errors.New("debounce and sync stall must be positive")
	}
	return nil
}

// Addr is the listen address of the relay server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// BaseURL is the URL peers use to reach the relay.
func (c *Config) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimSuffix(c.PublicURL, "/")
	}
	host := c.Bind
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}
