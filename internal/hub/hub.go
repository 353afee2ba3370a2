package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/keisueke/show-discord/internal/models"
	"github.com/keisueke/show-discord/internal/services"
)

var (
	ErrSessionFull     = errors.New("session is full")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
)

// ResultSink receives the replicated state of a session that reached the ranking phase.
type ResultSink interface {
	GameFinished(sessionID string, snap *models.Snapshot)
}

type Options struct {
	MaxPlayers  int
	IdleTimeout time.Duration
	Clock       clockwork.Clock
	Publisher   Publisher
	Sink        ResultSink
}

// Hub owns every relay session served by this process.
type Hub struct {
	sessions map[string]*SessionHub
	mu       sync.RWMutex
	opts     Options
}

// SessionHub relays one session: last-writer-wins globals, per-peer own state, and
// calls fanned out to every other connection.
type SessionHub struct {
	id         string
	hub        *Hub
	state      *models.Snapshot
	clients    map[string]*Client
	conns      map[string]int
	lastActive time.Time
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
}

// Client is one websocket connection of a player.
type Client struct {
	ID        string
	SessionID string
	PlayerID  string
	Send      chan []byte
	Hub       *SessionHub
}

type inbound struct {
	client *Client
	env    models.Envelope
}

// Summary describes a live session for listings.
type Summary struct {
	ID          string    `json:"id"`
	Peers       []string  `json:"peers"`
	Connections int       `json:"connections"`
	Phase       string    `json:"phase"`
	LastActive  time.Time `json:"last_active"`
}

func NewHub(opts Options) *Hub {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Publisher == nil {
		opts.Publisher = LogPublisher{}
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	return &Hub{
		sessions: make(map[string]*SessionHub),
		opts:     opts,
	}
}

func (h *Hub) GetSession(id string) *SessionHub {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

// GetOrCreateSession returns the session with id, starting it if needed.
func (h *Hub) GetOrCreateSession(id string) *SessionHub {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sh, ok := h.sessions[id]; ok {
		return sh
	}
	sh := &SessionHub{
		id:         id,
		hub:        h,
		state:      models.NewSnapshot(),
		clients:    make(map[string]*Client),
		conns:      make(map[string]int),
		lastActive: h.opts.Clock.Now(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		done:       make(chan struct{}),
	}
	h.sessions[id] = sh
	go sh.run()

	log.Info().Str("session_id", id).Msg("Session created")
	return sh
}

func (h *Hub) RemoveSession(id string) {
	h.mu.Lock()
	sh, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()

	if ok {
		sh.close()
	}
}

func (h *Hub) ListSessions() []Summary {
	h.mu.RLock()
	all := make([]*SessionHub, 0, len(h.sessions))
	for _, sh := range h.sessions {
		all = append(all, sh)
	}
	h.mu.RUnlock()

	out := make([]Summary, 0, len(all))
	for _, sh := range all {
		out = append(out, sh.Summary())
	}
	return out
}

// Run reaps idle sessions until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.opts.Clock.NewTicker(h.opts.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, sh := range h.sessions {
				delete(h.sessions, id)
				sh.close()
			}
			h.mu.Unlock()
			return
		case <-ticker.Chan():
			h.Reap()
		}
	}
}

// Reap removes sessions without connections that have been idle past the timeout.
func (h *Hub) Reap() int {
	cutoff := h.opts.Clock.Now().Add(-h.opts.IdleTimeout)

	h.mu.Lock()
	var reaped []*SessionHub
	for id, sh := range h.sessions {
		sh.mu.RLock()
		idle := len(sh.clients) == 0 && sh.lastActive.Before(cutoff)
		sh.mu.RUnlock()
		if idle {
			delete(h.sessions, id)
			reaped = append(reaped, sh)
		}
	}
	h.mu.Unlock()

	for _, sh := range reaped {
		sh.close()
		log.Info().Str("session_id", sh.id).Msg("Idle session reaped")
	}
	return len(reaped)
}

func (sh *SessionHub) ID() string { return sh.id }

// Admit reports whether playerID may open another connection.
func (sh *SessionHub) Admit(playerID string) error {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if sh.conns[playerID] > 0 {
		return nil
	}
	if limit := sh.hub.opts.MaxPlayers; limit > 0 && len(sh.state.Peers) >= limit {
		return ErrSessionFull
	}
	return nil
}

func (sh *SessionHub) Register(client *Client) error {
	select {
	case sh.register <- client:
		return nil
	case <-sh.done:
		return ErrSessionClosed
	}
}

func (sh *SessionHub) Unregister(client *Client) {
	select {
	case sh.unregister <- client:
	case <-sh.done:
	}
}

// Receive queues a frame sent by client.
func (sh *SessionHub) Receive(client *Client, env models.Envelope) {
	select {
	case sh.inbound <- inbound{client: client, env: env}:
	case <-sh.done:
	}
}

// Snapshot returns a copy of the relayed state.
func (sh *SessionHub) Snapshot() *models.Snapshot {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.state.Clone()
}

func (sh *SessionHub) Summary() Summary {
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	phase := string(models.PhaseLobby)
	if raw, ok := sh.state.Globals[services.KeyPhase]; ok {
		var p string
		if json.Unmarshal(raw, &p) == nil {
			phase = p
		}
	}
	return Summary{
		ID:          sh.id,
		Peers:       append([]string{}, sh.state.Peers...),
		Connections: len(sh.clients),
		Phase:       phase,
		LastActive:  sh.lastActive,
	}
}

func (sh *SessionHub) run() {
	for {
		select {
		case <-sh.done:
			return
		case client := <-sh.register:
			sh.handleRegister(client)
		case client := <-sh.unregister:
			sh.handleUnregister(client)
		case in := <-sh.inbound:
			sh.handleInbound(in.client, in.env)
		}
	}
}

func (sh *SessionHub) handleRegister(client *Client) {
	sh.mu.Lock()
	sh.clients[client.ID] = client
	sh.conns[client.PlayerID]++
	joined := sh.conns[client.PlayerID] == 1
	if joined {
		sh.state.Peers = append(sh.state.Peers, client.PlayerID)
	}
	sh.lastActive = sh.hub.opts.Clock.Now()
	welcome := models.Envelope{Type: models.MsgWelcome, From: client.PlayerID, Snapshot: sh.state.Clone()}
	peers := append([]string{}, sh.state.Peers...)
	sh.mu.Unlock()

	sh.sendTo(client, welcome)
	log.Info().Str("session_id", sh.id).Str("player_id", client.PlayerID).Str("conn_id", client.ID).Int("peers", len(peers)).Msg("Connection registered")

	if joined {
		sh.publish(models.EventPeerJoined, map[string]interface{}{"player_id": client.PlayerID, "peers": peers})
		sh.broadcast(models.Envelope{Type: models.MsgPeers, Peers: peers}, client.ID)
	}
}

func (sh *SessionHub) handleUnregister(client *Client) {
	sh.mu.Lock()
	if _, ok := sh.clients[client.ID]; !ok {
		sh.mu.Unlock()
		return
	}
	delete(sh.clients, client.ID)
	close(client.Send)
	sh.conns[client.PlayerID]--
	left := sh.conns[client.PlayerID] <= 0
	if left {
		delete(sh.conns, client.PlayerID)
		kept := sh.state.Peers[:0]
		for _, id := range sh.state.Peers {
			if id != client.PlayerID {
				kept = append(kept, id)
			}
		}
		sh.state.Peers = kept
	}
	sh.lastActive = sh.hub.opts.Clock.Now()
	peers := append([]string{}, sh.state.Peers...)
	remaining := len(sh.clients)
	sh.mu.Unlock()

	log.Info().Str("session_id", sh.id).Str("player_id", client.PlayerID).Str("conn_id", client.ID).Int("connections", remaining).Msg("Connection left")

	if left {
		sh.publish(models.EventPeerLeft, map[string]interface{}{"player_id": client.PlayerID, "peers": peers})
		sh.broadcast(models.Envelope{Type: models.MsgPeers, Peers: peers}, "")
	}
}

func (sh *SessionHub) handleInbound(client *Client, env models.Envelope) {
	switch env.Type {
	case models.MsgSetGlobal:
		if env.Key == "" {
			sh.sendTo(client, models.Envelope{Type: models.MsgError, Error: "missing key"})
			return
		}
		sh.mu.Lock()
		prev := sh.state.Globals[env.Key]
		if models.IsNull(env.Value) {
			delete(sh.state.Globals, env.Key)
		} else {
			sh.state.Globals[env.Key] = env.Value
		}
		sh.lastActive = sh.hub.opts.Clock.Now()
		sh.mu.Unlock()

		sh.broadcast(models.Envelope{Type: models.MsgGlobal, From: client.PlayerID, Key: env.Key, Value: env.Value}, client.ID)
		if env.Key == services.KeyPhase && !bytes.Equal(prev, env.Value) {
			sh.phaseChanged(env.Value)
		}

	case models.MsgSetOwn:
		if env.Key == "" {
			sh.sendTo(client, models.Envelope{Type: models.MsgError, Error: "missing key"})
			return
		}
		sh.mu.Lock()
		own, ok := sh.state.Players[client.PlayerID]
		if !ok {
			own = make(map[string]json.RawMessage)
			sh.state.Players[client.PlayerID] = own
		}
		if models.IsNull(env.Value) {
			delete(own, env.Key)
		} else {
			own[env.Key] = env.Value
		}
		sh.lastActive = sh.hub.opts.Clock.Now()
		sh.mu.Unlock()

		sh.broadcast(models.Envelope{Type: models.MsgPlayer, From: client.PlayerID, Key: env.Key, Value: env.Value}, client.ID)

	case models.MsgCall:
		if env.Name == "" {
			sh.sendTo(client, models.Envelope{Type: models.MsgError, Error: "missing call name"})
			return
		}
		sh.broadcast(models.Envelope{Type: models.MsgCall, From: client.PlayerID, Name: env.Name, Value: env.Value}, client.ID)

	default:
		sh.sendTo(client, models.Envelope{Type: models.MsgError, Error: "unknown message type " + env.Type})
	}
}

func (sh *SessionHub) phaseChanged(raw json.RawMessage) {
	var phase models.Phase
	if err := json.Unmarshal(raw, &phase); err != nil {
		return
	}
	sh.publish(models.EventPhaseChanged, map[string]interface{}{"phase": phase})

	if phase == models.PhaseRanking {
		snap := sh.Snapshot()
		sh.publish(models.EventGameFinished, map[string]interface{}{"scores": snap.Globals[services.KeyScores]})
		if sink := sh.hub.opts.Sink; sink != nil {
			go sink.GameFinished(sh.id, snap)
		}
	}
}

// broadcast queues env for every connection except skipID. Connections whose queue
// is full are unregistered.
func (sh *SessionHub) broadcast(env models.Envelope, skipID string) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("session_id", sh.id).Msg("Failed to encode frame")
		return
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	var stale []*Client
	for id, client := range sh.clients {
		if id == skipID {
			continue
		}
		select {
		case client.Send <- data:
		default:
			stale = append(stale, client)
		}
	}
	for _, client := range stale {
		log.Warn().Str("session_id", sh.id).Str("conn_id", client.ID).Msg("Send buffer full, dropping connection")
		go sh.Unregister(client)
	}
}

func (sh *SessionHub) sendTo(client *Client, env models.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("session_id", sh.id).Msg("Failed to encode frame")
		return
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if _, ok := sh.clients[client.ID]; !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

func (sh *SessionHub) publish(eventType string, data interface{}) {
	event := models.GameEvent{
		Type:      eventType,
		SessionID: sh.id,
		Data:      data,
		Timestamp: sh.hub.opts.Clock.Now(),
	}
	if err := sh.hub.opts.Publisher.Publish(event); err != nil {
		log.Error().Err(err).Str("session_id", sh.id).Str("event", eventType).Msg("Failed to publish event")
	}
}

func (sh *SessionHub) close() {
	sh.closeOnce.Do(func() {
		close(sh.done)
		sh.mu.Lock()
		for id, client := range sh.clients {
			delete(sh.clients, id)
			close(client.Send)
		}
		sh.mu.Unlock()
		sh.publish(models.EventSessionEnded, nil)
	})
}
