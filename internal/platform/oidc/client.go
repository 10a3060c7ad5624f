package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"suemybrother/internal/platform/config"
)

type Discovery struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	IDToken     string `json:"id_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Client talks to the identity provider: discovery, the authorization code
// flow and userinfo.
type Client struct {
	cfg  config.OIDCConfig
	http *http.Client

	sf       singleflight.Group
	mu       sync.RWMutex
	disc     *Discovery
	jwks     *keyfunc.JWKS
	verifier *Verifier

	ctx    context.Context
	cancel context.CancelFunc
}

func NewClient(cfg config.OIDCConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{cfg: cfg, http: httpClient, ctx: ctx, cancel: cancel}
}

// Close stops the background JWKS refresher.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jwks != nil {
		c.jwks.EndBackground()
	}
}

// Discover fetches and caches the provider metadata. Concurrent callers
// share a single request.
func (c *Client) Discover(ctx context.Context) (*Discovery, error) {
	c.mu.RLock()
	d := c.disc
	c.mu.RUnlock()
	if d != nil {
		return d, nil
	}

	v, err, _ := c.sf.Do("discovery", func() (interface{}, error) {
		endpoint := strings.TrimSuffix(c.cfg.Issuer, "/") + "/.well-known/openid-configuration"
		var d Discovery
		if err := c.getJSON(ctx, endpoint, "", &d); err != nil {
			return nil, fmt.Errorf("oidc discovery: %w", err)
		}
		if d.Issuer != c.cfg.Issuer {
			return nil, fmt.Errorf("oidc discovery: issuer mismatch %q", d.Issuer)
		}

		c.mu.Lock()
		c.disc = &d
		c.mu.Unlock()
		return &d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Discovery), nil
}

// Verifier returns the ID token verifier, loading the provider's key set
// on first use.
func (c *Client) Verifier(ctx context.Context) (*Verifier, error) {
	c.mu.RLock()
	v := c.verifier
	c.mu.RUnlock()
	if v != nil {
		return v, nil
	}

	d, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}

	res, err, _ := c.sf.Do("jwks", func() (interface{}, error) {
		jwks, err := keyfunc.Get(d.JWKSURI, keyfunc.Options{
			Ctx:               c.ctx,
			Client:            c.http,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				log.Warn().Err(err).Str("jwks_uri", d.JWKSURI).Msg("failed to refresh JWKS")
			},
		})
		if err != nil {
			return nil, fmt.Errorf("oidc jwks: %w", err)
		}

		v := NewVerifier(jwks.Keyfunc, c.cfg)
		c.mu.Lock()
		c.jwks = jwks
		c.verifier = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*Verifier), nil
}

// AuthCodeURL builds the authorization redirect. force asks the provider to
// prompt for credentials again even if it holds a session.
func (c *Client) AuthCodeURL(ctx context.Context, state, nonce string, force bool) (string, error) {
	d, err := c.Discover(ctx)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURL)
	q.Set("scope", strings.Join(c.cfg.Scopes, " "))
	q.Set("state", state)
	q.Set("nonce", nonce)
	if force {
		q.Set("prompt", "login")
		q.Set("max_age", "0")
	}

	sep := "?"
	if strings.Contains(d.AuthorizationEndpoint, "?") {
		sep = "&"
	}
	return d.AuthorizationEndpoint + sep + q.Encode(), nil
}

func (c *Client) Exchange(ctx context.Context, code string) (*TokenResponse, error) {
	d, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(url.QueryEscape(c.cfg.ClientID), url.QueryEscape(c.cfg.ClientSecret))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	if tr.IDToken == "" {
		return nil, errors.New("token exchange: response has no id_token")
	}
	return &tr, nil
}

type UserInfo struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

func (c *Client) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	d, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if d.UserinfoEndpoint == "" {
		return &UserInfo{}, nil
	}

	var ui UserInfo
	if err := c.getJSON(ctx, d.UserinfoEndpoint, accessToken, &ui); err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	return &ui, nil
}

// Authenticate completes the code flow: exchange, verify the ID token and
// its nonce, then fill email and name from userinfo when the token lacks
// them.
func (c *Client) Authenticate(ctx context.Context, code, nonce string) (*Claims, error) {
	tr, err := c.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	v, err := c.Verifier(ctx)
	if err != nil {
		return nil, err
	}

	claims, err := v.Verify(ctx, tr.IDToken)
	if err != nil {
		return nil, err
	}
	if nonce != "" && claims.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrVerification)
	}

	if (claims.Email == "" || claims.Name == "") && tr.AccessToken != "" {
		ui, err := c.UserInfo(ctx, tr.AccessToken)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("userinfo lookup failed")
		} else if ui.Subject == "" || ui.Subject == claims.Subject {
			if claims.Email == "" {
				claims.Email = ui.Email
			}
			if claims.Name == "" {
				claims.Name = ui.Name
			}
		}
	}

	return claims, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, bearer string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", endpoint, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RandomToken returns a URL-safe random value for state and nonce.
func RandomToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
