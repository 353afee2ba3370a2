// Package peer runs one player of a session from the terminal: it joins the relay,
// runs the round coordinator, renders the shared view, and takes typed commands or
// plays by itself.
package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/keisueke/show-discord/internal/config"
	"github.com/keisueke/show-discord/internal/models"
	"github.com/keisueke/show-discord/internal/replica"
	"github.com/keisueke/show-discord/internal/services"
)

const tick = time.Second

type Options struct {
	Config *config.Config
	In     io.Reader
	Out    io.Writer
}

// Run plays until ctx ends or the relay connection drops.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config

	bank := services.DefaultQuestionBank()
	if cfg.QuestionsFile != "" {
		loaded, err := services.LoadQuestionBank(cfg.QuestionsFile)
		if err != nil {
			return err
		}
		bank = loaded
	}
	log.Info().Int("questions", bank.Len()).Str("file", cfg.QuestionsFile).Msg("Question bank ready")

	playerID := cfg.PlayerID
	if playerID == "" {
		playerID = uuid.New().String()
	}

	store, err := replica.Dial(ctx, cfg.RelayURL, cfg.Session, playerID)
	if err != nil {
		return err
	}
	defer store.Close()

	coord := services.NewCoordinator(store,
		services.WithQuestionBank(bank),
		services.WithDebounce(cfg.Debounce),
		services.WithSyncStall(cfg.SyncStall),
	)
	coord.Publish(models.Profile{ID: playerID, DisplayName: cfg.Name, AvatarURL: cfg.AvatarURL})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Coordinator stopped")
		}
	}()

	var bot *Bot
	if cfg.Bot {
		bot = NewBot(coord, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0xb07)), nil)
	}

	lines := make(chan string)
	if bot == nil && opts.In != nil {
		go readLines(ctx, opts.In, lines)
		fmt.Fprintln(opts.Out, Help)
	}

	updates := make(chan struct{}, 1)
	unsubscribe := store.Subscribe(func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var last string
	for {
		v := coord.View()
		if screen, err := Render(v); err != nil {
			log.Warn().Err(err).Msg("Render failed")
		} else if screen != last {
			fmt.Fprint(opts.Out, screen)
			last = screen
		}
		if bot != nil {
			if err := bot.Step(v); err != nil {
				log.Warn().Err(err).Msg("Bot action rejected")
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-store.Done():
			return fmt.Errorf("relay connection closed: %w", store.Err())
		case <-updates:
		case <-ticker.C:
		case line := <-lines:
			if line == "help" {
				fmt.Fprintln(opts.Out, Help)
				continue
			}
			if err := Exec(coord, line); err != nil {
				fmt.Fprintf(opts.Out, "! %v\n", err)
			}
		}
	}
}

func readLines(ctx context.Context, in io.Reader, out chan<- string) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}
