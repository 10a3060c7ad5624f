package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"suemybrother/internal/platform/config"
)

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

type payload struct {
	To              string            `json:"to"`
	Template        string            `json:"template"`
	Personalisation map[string]string `json:"personalisation,omitempty"`
}

// Client posts notifications to the hosted notification API.
type Client struct {
	baseURL   string
	serviceID string
	apiKey    string
	templates map[string]string
	http      *http.Client
	disabled  bool
	now       func() time.Time
}

func NewClient(cfg config.NotifyConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		serviceID: cfg.ServiceID,
		apiKey:    cfg.APIKey,
		templates: cfg.Templates,
		http:      httpClient,
		disabled:  !cfg.Enabled(),
		now:       time.Now,
	}
}

func (c *Client) SendSMS(ctx context.Context, template, to string, personalisation map[string]string) error {
	return c.send(ctx, ChannelSMS, template, to, personalisation)
}

func (c *Client) SendEmail(ctx context.Context, template, to string, personalisation map[string]string) error {
	return c.send(ctx, ChannelEmail, template, to, personalisation)
}

func (c *Client) send(ctx context.Context, channel, template, to string, personalisation map[string]string) error {
	if c.disabled {
		log.Ctx(ctx).Debug().Str("channel", channel).Str("template", template).Msg("notifications disabled, skipping")
		return nil
	}

	templateID, ok := c.templates[template]
	if !ok {
		return fmt.Errorf("notify: unknown template %q", template)
	}

	body, err := json.Marshal(payload{To: to, Template: templateID, Personalisation: personalisation})
	if err != nil {
		return err
	}

	token, err := Sign(c.serviceID, c.apiKey, c.now())
	if err != nil {
		return err
	}

	endpoint := c.baseURL + "/notifications/" + channel
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify: POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notify: POST %s: HTTP %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
