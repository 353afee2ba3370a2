package hostauth

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrMissingTarget    = errors.New("target URL is required")
	ErrDomainNotAllowed = errors.New("domain not allowed")
	ErrUpstream         = errors.New("proxy request failed")
)

var DiscordDomains = []string{
	"discord.com",
	"discordapp.com",
	"discord.gg",
	"cdn.discordapp.com",
	"media.discordapp.net",
	"gateway.discord.gg",
}

var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
}

// Proxy forwards requests to an allow-list of domains and their subdomains.
type Proxy struct {
	allowed []string
	client  *http.Client
}

type ProxyOption func(*Proxy)

func WithAllowedDomains(domains ...string) ProxyOption {
	return func(p *Proxy) { p.allowed = domains }
}

func WithProxyClient(c *http.Client) ProxyOption {
	return func(p *Proxy) { p.client = c }
}

func NewProxy(opts ...ProxyOption) *Proxy {
	p := &Proxy{
		allowed: DiscordDomains,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Proxy) AllowedDomains() []string {
	return append([]string(nil), p.allowed...)
}

// Resolve turns a possibly encoded, possibly scheme-less target into an allowed URL.
func (p *Proxy) Resolve(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrMissingTarget
	}
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDomainNotAllowed, err)
	}
	if !p.allows(target.Hostname()) {
		return nil, ErrDomainNotAllowed
	}
	return target, nil
}

func (p *Proxy) allows(host string) bool {
	host = strings.ToLower(host)
	for _, domain := range p.allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Forward sends r to rawTarget and copies the response to w. Errors returned before
// anything is written leave w untouched so the caller can report them.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, rawTarget string) error {
	target, err := p.Resolve(rawTarget)
	if err != nil {
		return err
	}

	var body io.Reader
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body = r.Body
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	copyHeaders(out.Header, r.Header)

	resp, err := p.client.Do(out)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Warn().Err(err).Str("target", target.Host).Msg("Proxy response copy interrupted")
	}
	return nil
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		key = http.CanonicalHeaderKey(key)
		if hopByHop[key] || strings.HasPrefix(key, "Access-Control-") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
