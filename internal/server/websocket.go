package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/keisueke/show-discord/internal/hub"
	"github.com/keisueke/show-discord/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// handleWebSocket joins ?player= to ?session=, creating the session on first use.
func (s *Server) handleWebSocket(c *gin.Context) {
	sessionID := c.Query("session")
	playerID := c.Query("player")
	if sessionID == "" || playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session and player are required"})
		return
	}

	sh := s.hub.GetOrCreateSession(sessionID)
	if err := sh.Admit(playerID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("WebSocket upgrade error")
		return
	}

	client := &hub.Client{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		PlayerID:  playerID,
		Send:      make(chan []byte, sendBuffer),
		Hub:       sh,
	}
	if err := sh.Register(client); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Session closed during join")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}

	go s.handleClientWrites(conn, client)
	s.handleClientMessages(conn, client)
}

func (s *Server) handleClientMessages(conn *websocket.Conn, client *hub.Client) {
	defer func() {
		client.Hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("session_id", client.SessionID).Str("player_id", client.PlayerID).Msg("WebSocket read error")
			}
			return
		}
		client.Hub.Receive(client, env)
	}
}

func (s *Server) handleClientWrites(conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().Err(err).Str("conn_id", client.ID).Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
