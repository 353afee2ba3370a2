package services

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keisueke/show-discord/internal/answersync"
	"github.com/keisueke/show-discord/internal/models"
	"github.com/keisueke/show-discord/internal/replica"
)

const (
	DefaultDebounce     = 500 * time.Millisecond
	DefaultSyncStall    = 5 * time.Second
	DefaultDoubleChance = 0.2
)

// Coordinator runs the round flow for one peer of a session. Every peer runs one;
// actions check authority locally and the reconcile loop performs the automatic
// transitions when this peer is the admin.
type Coordinator struct {
	store  replica.Store
	bank   *QuestionBank
	clock  clockwork.Clock
	rng    *rand.Rand
	logger zerolog.Logger

	debounce     time.Duration
	syncStall    time.Duration
	doubleChance float64

	mu    sync.Mutex
	track tracking

	// ownMu serializes read-modify-write of this peer's own answer slot between
	// SubmitAnswer and incoming resets.
	ownMu sync.Mutex

	wakeCh      chan struct{}
	unsubscribe func()
}

type Option func(*Coordinator)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithRand(rng *rand.Rand) Option {
	return func(c *Coordinator) { c.rng = rng }
}

func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) { c.debounce = d }
}

func WithSyncStall(d time.Duration) Option {
	return func(c *Coordinator) { c.syncStall = d }
}

func WithDoubleChance(p float64) Option {
	return func(c *Coordinator) { c.doubleChance = p }
}

func WithQuestionBank(bank *QuestionBank) Option {
	return func(c *Coordinator) { c.bank = bank }
}

func NewCoordinator(store replica.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        store,
		bank:         DefaultQuestionBank(),
		clock:        clockwork.NewRealClock(),
		rng:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		debounce:     DefaultDebounce,
		syncStall:    DefaultSyncStall,
		doubleChance: DefaultDoubleChance,
		wakeCh:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.With().Str("component", "coordinator").Str("peer_id", store.Self()).Logger()

	store.Handle(answersync.ResetCall, c.handleReset)
	c.unsubscribe = store.Subscribe(c.wake)
	return c
}

// Run reconciles on every replicated change and on pending timers until ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.unsubscribe()
	c.logger.Info().Msg("Coordinator started")

	for {
		wait := c.Reconcile()

		var timer clockwork.Timer
		var timerCh <-chan time.Time
		if wait > 0 {
			timer = c.clock.NewTimer(wait)
			timerCh = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			c.logger.Info().Msg("Coordinator stopped")
			return ctx.Err()
		case <-c.wakeCh:
		case <-timerCh:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Reconcile applies one round of automatic transitions and returns how long until
// the next timed check, or zero when none is pending.
func (c *Coordinator) Reconcile() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := loadSnapshot(c.store)
	d := c.reconcile(snap, c.store.Self(), c.track, c.clock.Now())
	c.track = d.track
	applyAll(c.store, d.commands)
	return d.wakeIn
}

// Publish writes the host identity of this peer so others can display it.
func (c *Coordinator) Publish(profile models.Profile) {
	profile.ID = c.store.Self()
	set(keyProfile, profile).apply(c.store)
}

func (c *Coordinator) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

func (c *Coordinator) handleReset(from string, payload json.RawMessage) {
	var p answersync.ResetPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warn().Err(err).Str("from", from).Msg("Ignoring malformed reset")
		return
	}

	c.ownMu.Lock()
	defer c.ownMu.Unlock()

	own := readSlot(c.store, c.store.Self())
	next, changed := answersync.Reset(own, p.Seq)
	if !changed {
		return
	}
	if own.Answer != nil && next.Answer == nil {
		set(keyAnswer, nil).apply(c.store)
	}
	set(keyAnswerSeq, next.AnswerSeq).apply(c.store)
	c.logger.Debug().Int("question_seq", p.Seq).Str("from", from).Msg("Answer reset")
}
