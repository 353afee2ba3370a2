package server

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/keisueke/show-discord/internal/hostauth"
	"github.com/keisueke/show-discord/internal/repository"
)

const (
	qrSize       = 320
	defaultLimit = 20
	maxLimit     = 100
)

func (s *Server) listSessions(c *gin.Context) {
	sessions := s.hub.ListSessions()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) createSession(c *gin.Context) {
	sh := s.hub.GetOrCreateSession(uuid.New().String())
	c.JSON(http.StatusCreated, gin.H{
		"id":       sh.ID(),
		"join_url": s.joinURL(c.Request, sh.ID()),
	})
}

func (s *Server) getSession(c *gin.Context) {
	sh := s.hub.GetSession(c.Param("id"))
	if sh == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  sh.Summary(),
		"snapshot": sh.Snapshot(),
	})
}

func (s *Server) sessionQR(c *gin.Context) {
	sh := s.hub.GetSession(c.Param("id"))
	if sh == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	png, err := qrcode.Encode(s.joinURL(c.Request, sh.ID()), qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("session_id", sh.ID()).Msg("QR generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "QR generation failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// joinURL is the link other players open to join id.
func (s *Server) joinURL(r *http.Request, id string) string {
	base := strings.TrimSuffix(s.opts.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/?session=" + url.QueryEscape(id)
}

func (s *Server) listResults(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusOK, []interface{}{})
		return
	}
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLimit)
	}

	results, err := s.archive.Repository().ListResults(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list results")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list results"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) getResult(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
		return
	}
	result, err := s.archive.Repository().GetResult(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrResultNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load result")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load result"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) exchangeToken(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := s.opts.Exchanger.ExchangeCode(c.Request.Context(), req.Code)
	var upstream *hostauth.UpstreamError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, token)
	case errors.Is(err, hostauth.ErrMissingCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authorization code is required"})
	case errors.Is(err, hostauth.ErrNotConfigured):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Discord OAuth2 credentials not configured"})
	case errors.As(err, &upstream):
		c.JSON(upstream.Status, gin.H{"error": "Failed to exchange authorization code", "details": upstream.Body})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "message": err.Error()})
	}
}

func (s *Server) identity(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	profile, err := s.opts.Exchanger.FetchIdentity(c.Request.Context(), strings.TrimSpace(token))
	var upstream *hostauth.UpstreamError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, profile)
	case errors.Is(err, hostauth.ErrMissingToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Access token is required"})
	case errors.As(err, &upstream):
		c.JSON(upstream.Status, gin.H{"error": "Failed to fetch identity", "details": upstream.Body})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch identity", "message": err.Error()})
	}
}

func (s *Server) proxy(c *gin.Context) {
	target := c.Query("url")
	if target == "" {
		target = strings.TrimPrefix(c.Param("target"), "/")
		// path cleaning by clients can collapse the scheme's double slash
		if rest, ok := strings.CutPrefix(target, "https:/"); ok && !strings.HasPrefix(rest, "/") {
			target = "https://" + rest
		}
	}

	err := s.opts.Proxy.Forward(c.Writer, c.Request, target)
	switch {
	case err == nil:
	case errors.Is(err, hostauth.ErrMissingTarget):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Target URL is required",
			"usage":  "/.proxy?url={encoded_url}",
			"status": "Proxy endpoint is working",
		})
	case errors.Is(err, hostauth.ErrDomainNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": "Domain not allowed", "allowed": s.opts.Proxy.AllowedDomains()})
	default:
		log.Error().Err(err).Msg("Proxy request failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Proxy request failed", "message": err.Error()})
	}
}
