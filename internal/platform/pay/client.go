package pay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"suemybrother/internal/platform/config"
	"suemybrother/internal/platform/models"
)

var (
	ErrAuthFailed      = errors.New("pay: api authentication failed")
	ErrPaymentNotFound = errors.New("pay: payment not found")
)

// CreationError is a provider rejection of a new payment.
type CreationError struct {
	StatusCode  int
	Code        string
	Field       string
	Description string
}

func (e *CreationError) Error() string {
	return e.Description
}

// Error is any other provider failure.
type Error struct {
	StatusCode  int
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("pay: unexpected status %d", e.StatusCode)
	}
	return e.Description
}

// Response is the provider's payment document.
type Response struct {
	PaymentID   string `json:"payment_id"`
	Provider    string `json:"payment_provider"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
	CreatedDate string `json:"created_date"`
	State       struct {
		Status   string `json:"status"`
		Finished bool   `json:"finished"`
		Message  string `json:"message"`
	} `json:"state"`
	Links struct {
		Self    link `json:"self"`
		NextURL link `json:"next_url"`
	} `json:"_links"`
}

type link struct {
	Href   string `json:"href"`
	Method string `json:"method"`
}

// ApplyTo copies the provider's view onto the local payment row.
func (r *Response) ApplyTo(p *models.Payment) error {
	p.Provider = r.Provider
	p.Status = r.State.Status
	p.Finished = r.State.Finished
	p.StatusMsg = r.State.Message
	p.Description = r.Description
	if r.Links.Self.Href != "" {
		p.SelfURL = r.Links.Self.Href
	}
	if r.Links.NextURL.Href != "" {
		p.NextURL = r.Links.NextURL.Href
	}

	if r.CreatedDate != "" {
		created, err := time.Parse(time.RFC3339, r.CreatedDate)
		if err != nil {
			return fmt.Errorf("pay: bad created_date %q: %w", r.CreatedDate, err)
		}
		p.CreatedAt = created.Unix()
	}
	return nil
}

// ApplyStatus copies only the state fields, as a status refresh does.
func (r *Response) ApplyStatus(p *models.Payment) {
	p.Status = r.State.Status
	p.Finished = r.State.Finished
	p.StatusMsg = r.State.Message
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg config.PayConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
	}
}

// NewReference returns a payment reference. References are minted locally
// before the provider is called.
func NewReference() string {
	return uuid.NewString()
}

type createRequest struct {
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
	ReturnURL   string `json:"return_url"`
}

// CreatePayment asks the provider for a new payment and returns the local
// row built from its answer. Nothing is persisted here.
func (c *Client) CreatePayment(ctx context.Context, amount int64, description, returnURL, reference string) (*models.Payment, error) {
	if reference == "" {
		reference = NewReference()
	}

	body, err := json.Marshal(createRequest{
		Amount:      amount,
		Reference:   reference,
		Description: description,
		ReturnURL:   returnURL,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/payments", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusInternalServerError:
		return nil, creationError(resp)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, providerError(resp)
	}

	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("pay: decode create response: %w", err)
	}

	p := &models.Payment{
		Reference:   reference,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now().Unix(),
	}
	if err := r.ApplyTo(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Status fetches the current provider state of a payment from its self URL.
func (c *Client) Status(ctx context.Context, selfURL string) (*Response, error) {
	if selfURL == "" {
		return nil, ErrPaymentNotFound
	}

	resp, err := c.do(ctx, http.MethodGet, selfURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrAuthFailed
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrPaymentNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, providerError(resp)
	}

	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("pay: decode status response: %w", err)
	}
	return &r, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pay: %s %s: %w", method, url, err)
	}
	return resp, nil
}

type errorBody struct {
	Code        string `json:"code"`
	Field       string `json:"field"`
	Description string `json:"description"`
}

func creationError(resp *http.Response) error {
	var b errorBody
	json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&b)
	return &CreationError{
		StatusCode:  resp.StatusCode,
		Code:        b.Code,
		Field:       b.Field,
		Description: b.Description,
	}
}

func providerError(resp *http.Response) error {
	var b errorBody
	json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&b)
	return &Error{StatusCode: resp.StatusCode, Description: b.Description}
}
