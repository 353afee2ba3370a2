package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/keisueke/show-discord/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var (
	ErrClosed     = errors.New("replica connection closed")
	ErrNoWelcome  = errors.New("relay did not send a welcome frame")
	ErrSendQueued = errors.New("send queue full")
)

// WSStore is a Store backed by a relay session over a websocket.
type WSStore struct {
	self string
	conn *websocket.Conn

	mu       sync.Mutex
	state    *state
	handlers map[string]CallHandler
	subs     subscribers

	send      chan models.Envelope
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

var _ Store = (*WSStore)(nil)

// Dial joins session on the relay at baseURL as playerID and waits for the initial
// snapshot before returning.
func Dial(ctx context.Context, baseURL, session, playerID string) (*WSStore, error) {
	endpoint, err := wsURL(baseURL, session, playerID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	var welcome models.Envelope
	conn.SetReadDeadline(time.Now().Add(writeWait))
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Type != models.MsgWelcome || welcome.Snapshot == nil {
		conn.Close()
		return nil, ErrNoWelcome
	}

	s := &WSStore{
		self:     playerID,
		conn:     conn,
		state:    newState(),
		handlers: make(map[string]CallHandler),
		send:     make(chan models.Envelope, sendBuffer),
		done:     make(chan struct{}),
	}
	s.state.load(welcome.Snapshot)

	go s.readPump()
	go s.writePump()

	log.Info().Str("session_id", session).Str("player_id", playerID).Msg("Joined relay session")
	return s, nil
}

func wsURL(baseURL, session, playerID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("session", session)
	q.Set("player", playerID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *WSStore) Self() string { return s.self }

func (s *WSStore) ReadGlobal(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.global(key)
}

func (s *WSStore) WriteGlobal(key string, value json.RawMessage) {
	s.mu.Lock()
	s.state.setGlobal(key, value)
	s.mu.Unlock()
	s.changed()
	s.enqueue(models.Envelope{Type: models.MsgSetGlobal, Key: key, Value: value})
}

func (s *WSStore) ReadPlayer(peerID, key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.player(peerID, key)
}

func (s *WSStore) WriteOwn(key string, value json.RawMessage) {
	s.mu.Lock()
	s.state.setPlayer(s.self, key, value)
	s.mu.Unlock()
	s.changed()
	s.enqueue(models.Envelope{Type: models.MsgSetOwn, Key: key, Value: value})
}

func (s *WSStore) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.state.snap.Peers...)
}

func (s *WSStore) Broadcast(name string, payload json.RawMessage) {
	s.invoke(s.self, name, payload)
	s.enqueue(models.Envelope{Type: models.MsgCall, Name: name, Value: payload})
}

func (s *WSStore) Handle(name string, fn CallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = fn
}

// IsAuthoritative follows the relay's host choice: the earliest connected peer.
func (s *WSStore) IsAuthoritative() bool {
	peers := s.Peers()
	return len(peers) > 0 && peers[0] == s.self
}

func (s *WSStore) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.subs.add(fn)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs.remove(id)
	}
}

// Done is closed when the connection to the relay ends.
func (s *WSStore) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the connection, if any.
func (s *WSStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *WSStore) Close() error {
	s.shutdown(ErrClosed)
	return nil
}

func (s *WSStore) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		s.conn.Close()
	})
}

func (s *WSStore) enqueue(env models.Envelope) {
	select {
	case <-s.done:
	case s.send <- env:
	default:
		log.Warn().Str("player_id", s.self).Str("type", env.Type).Msg("Relay send queue full, closing connection")
		s.shutdown(ErrSendQueued)
	}
}

func (s *WSStore) readPump() {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env models.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("player_id", s.self).Msg("Relay connection lost")
			}
			s.shutdown(err)
			s.changed()
			return
		}
		s.apply(env)
	}
}

func (s *WSStore) apply(env models.Envelope) {
	switch env.Type {
	case models.MsgGlobal:
		s.mu.Lock()
		s.state.setGlobal(env.Key, env.Value)
		s.mu.Unlock()
		s.changed()
	case models.MsgPlayer:
		s.mu.Lock()
		s.state.setPlayer(env.From, env.Key, env.Value)
		s.mu.Unlock()
		s.changed()
	case models.MsgPeers:
		s.mu.Lock()
		s.state.snap.Peers = append([]string{}, env.Peers...)
		s.mu.Unlock()
		s.changed()
	case models.MsgCall:
		s.invoke(env.From, env.Name, env.Value)
	case models.MsgError:
		log.Warn().Str("player_id", s.self).Str("error", env.Error).Msg("Relay rejected a frame")
	}
}

func (s *WSStore) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case env := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(env); err != nil {
				s.shutdown(err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown(err)
				return
			}
		}
	}
}

func (s *WSStore) invoke(from, name string, payload json.RawMessage) {
	s.mu.Lock()
	fn := s.handlers[name]
	s.mu.Unlock()
	if fn != nil {
		fn(from, payload)
	}
}

func (s *WSStore) changed() {
	s.mu.Lock()
	fns := s.subs.list()
	s.mu.Unlock()
	notify(fns)
}
