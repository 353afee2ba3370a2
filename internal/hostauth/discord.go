// Package hostauth talks to Discord on behalf of the embedded activity: it exchanges
// OAuth codes for tokens, maps the signed-in user to a host identity, and proxies
// requests to Discord domains.
package hostauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keisueke/show-discord/internal/models"
)

const (
	DefaultAPIURL      = "https://discord.com/api/v10"
	DefaultCDNURL      = "https://cdn.discordapp.com"
	DefaultRedirectURI = "https://discord.com/activities"
)

var (
	ErrNotConfigured = errors.New("discord oauth2 credentials not configured")
	ErrMissingCode   = errors.New("authorization code is required")
	ErrMissingToken  = errors.New("access token is required")
)

// UpstreamError carries a non-2xx response from Discord.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("discord returned %d: %s", e.Status, e.Body)
}

type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
}

type Exchanger struct {
	creds  Credentials
	apiURL string
	cdnURL string
	client *http.Client
}

type ExchangerOption func(*Exchanger)

// WithAPIURL points the exchanger at another Discord API base, such as a test server.
func WithAPIURL(u string) ExchangerOption {
	return func(e *Exchanger) { e.apiURL = strings.TrimSuffix(u, "/") }
}

func WithHTTPClient(c *http.Client) ExchangerOption {
	return func(e *Exchanger) { e.client = c }
}

func NewExchanger(creds Credentials, opts ...ExchangerOption) *Exchanger {
	if creds.RedirectURI == "" {
		creds.RedirectURI = DefaultRedirectURI
	}
	e := &Exchanger{
		creds:  creds,
		apiURL: DefaultAPIURL,
		cdnURL: DefaultCDNURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exchanger) Configured() bool {
	return e.creds.ClientID != "" && e.creds.ClientSecret != ""
}

// ExchangeCode trades an OAuth2 authorization code for an access token.
func (e *Exchanger) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	if code == "" {
		return nil, ErrMissingCode
	}
	if !e.Configured() {
		return nil, ErrNotConfigured
	}

	form := url.Values{
		"client_id":     {e.creds.ClientID},
		"client_secret": {e.creds.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {e.creds.RedirectURI},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token Token
	if err := e.do(req, &token); err != nil {
		log.Error().Err(err).Msg("Discord token exchange failed")
		return nil, err
	}
	return &token, nil
}

// FetchIdentity returns the profile of the user the token belongs to.
func (e *Exchanger) FetchIdentity(ctx context.Context, accessToken string) (models.Profile, error) {
	if accessToken == "" {
		return models.Profile{}, ErrMissingToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiURL+"/users/@me", nil)
	if err != nil {
		return models.Profile{}, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var user discordUser
	if err := e.do(req, &user); err != nil {
		return models.Profile{}, err
	}
	return e.profile(user), nil
}

func (e *Exchanger) profile(u discordUser) models.Profile {
	p := models.Profile{ID: u.ID, DisplayName: u.GlobalName}
	if p.DisplayName == "" {
		p.DisplayName = u.Username
	}
	if u.Avatar != "" {
		p.AvatarURL = fmt.Sprintf("%s/avatars/%s/%s.png", e.cdnURL, u.ID, u.Avatar)
	}
	return p
}

func (e *Exchanger) do(req *http.Request, out interface{}) error {
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("call discord: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode discord response: %w", err)
	}
	return nil
}
