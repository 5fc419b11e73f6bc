package bold

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/angelmondragon/terminalpay/pkg/config"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
)

const (
	defaultTimeout             = 30 * time.Second
	defaultCurrency            = "COP"
	tokenPath                  = "/oauth/token"
	paymentsScope              = "payments"
	responseBodyReadLimit int64 = 64 * 1024
)

var errCredentialsRequired = errors.New("bold client id and secret are required")

// Client talks to the Bold terminal payments API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	currency   string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient replaces the OAuth-authenticated HTTP client. Tests use it to
// stub the transport; callers are then responsible for authentication.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API root derived from configuration.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds a gateway client. Tokens come from the client-credentials
// grant and are cached and refreshed by the oauth2 transport.
func NewClient(ctx context.Context, cfg config.BoldConfig, opts ...Option) (*Client, error) {
	client := &Client{
		baseURL:  cfg.Endpoint(),
		currency: strings.ToUpper(strings.TrimSpace(cfg.Currency)),
	}
	if client.currency == "" {
		client.currency = defaultCurrency
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient != nil {
		return client, nil
	}

	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errCredentialsRequired
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	oauthCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     client.baseURL + tokenPath,
		Scopes:       []string{paymentsScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	base := &http.Client{Timeout: timeout}
	httpClient := oauthCfg.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	httpClient.Timeout = timeout
	client.httpClient = httpClient
	return client, nil
}

// Currency returns the ISO currency charges are created in.
func (c *Client) Currency() string {
	return c.currency
}

// PaymentRequest is the body of POST /payments.
type PaymentRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	TerminalID  string            `json:"terminal_id"`
	ReferenceID string            `json:"reference_id"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Payment is the provider view of a payment. Raw keeps the untouched body for
// status history.
type Payment struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	AuthorizationCode string `json:"authorization_code"`
	CardBrand         string `json:"card_brand"`
	LastFour          string `json:"last_four"`
	CardholderName    string `json:"cardholder_name"`
	PaymentMethod     string `json:"payment_method"`
	DeclineCode       string `json:"decline_code"`
	ErrorCode         string `json:"error_code"`
	Message           string `json:"message"`

	Raw json.RawMessage `json:"-"`
}

// FailureCode returns the provider reason for a declined or failed payment.
func (p Payment) FailureCode() string {
	if p.DeclineCode != "" {
		return p.DeclineCode
	}
	return p.ErrorCode
}

// Terminal is the provider view of a device.
type Terminal struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreatePayment pushes a charge to the terminal.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "bold client not configured")
	}
	if req.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(req.TerminalID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "terminal id is required")
	}
	if req.Currency == "" {
		req.Currency = c.currency
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal payment request")
	}

	var payment Payment
	if err := c.do(ctx, http.MethodPost, "/payments", payload, &payment); err != nil {
		return nil, err
	}
	if payment.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment response missing id")
	}
	return &payment, nil
}

// GetPayment queries the current state of a payment.
func (c *Client) GetPayment(ctx context.Context, providerTransactionID string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "bold client not configured")
	}
	id := strings.TrimSpace(providerTransactionID)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider transaction id is required")
	}
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(id), nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetTerminal queries the device status.
func (c *Client) GetTerminal(ctx context.Context, terminalID string) (*Terminal, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "bold client not configured")
	}
	id := strings.TrimSpace(terminalID)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "terminal id is required")
	}
	var terminal Terminal
	if err := c.do(ctx, http.MethodGet, "/terminals/"+url.PathEscape(id), nil, &terminal); err != nil {
		return nil, err
	}
	if terminal.ID == "" {
		terminal.ID = id
	}
	return &terminal, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return networkError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return networkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}
	if payment, ok := out.(*Payment); ok {
		payment.Raw = json.RawMessage(raw)
	}
	return nil
}
