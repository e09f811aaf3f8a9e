package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

const (
	defaultBaseURL   = "https://graph.facebook.com/v20.0"
	defaultUserAgent = "wa-autoreply/0.1"
)

var tracer = otel.Tracer("autoreply.internal.channels.whatsapp")

// Connection states reported by ConnectionStatus.
const (
	StateConnecting   = "connecting"
	StateOpen         = "open"
	StateClosed       = "closed"
	StateDisconnected = "disconnected"
)

// Config controls how the Graph API client behaves. MaxRetries applies to
// read-only status queries; a send is always a single attempt.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	MaxRetries  int
	Backoff     time.Duration
	HTTPClient  *http.Client
	Logger      *logging.Logger
	UserAgent   string
	Now         func() time.Time
}

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	backoff     time.Duration
	logger      *logging.Logger
	userAgent   string
	now         func() time.Time
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("whatsapp: access token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		accessToken: cfg.AccessToken,
		baseURL:     baseURL,
		httpClient:  httpClient,
		maxRetries:  maxRetries,
		backoff:     backoff,
		logger:      logger,
		userAgent:   userAgent,
		now:         now,
	}, nil
}

// SendTextRequest describes an outbound text message.
type SendTextRequest struct {
	PhoneNumberID string
	To            string
	Body          string
	ReplyTo       string
	PreviewURL    bool
}

func (r SendTextRequest) validate() error {
	if strings.TrimSpace(r.PhoneNumberID) == "" {
		return errors.New("whatsapp: phone number id is required")
	}
	if strings.TrimSpace(r.To) == "" {
		return errors.New("whatsapp: recipient is required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return errors.New("whatsapp: body is required")
	}
	return nil
}

// SendResult is what the Cloud API acknowledged.
type SendResult struct {
	MessageID   string
	ContactWaID string
	Timestamp   time.Time
}

// SendText delivers a text message in one attempt. Every failure is a
// *DeliveryError; Retryable reports whether a later attempt may succeed.
func (c *Client) SendText(ctx context.Context, req SendTextRequest) (*SendResult, error) {
	ctx, span := tracer.Start(ctx, "whatsapp.send_text")
	defer span.End()
	span.SetAttributes(attribute.String("autoreply.phone_number_id", req.PhoneNumberID))

	result, err := c.sendText(ctx, req)
	if err != nil {
		var delivery *DeliveryError
		if !errors.As(err, &delivery) {
			delivery = &DeliveryError{Message: err.Error(), Err: err}
			err = delivery
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("autoreply.message_id", result.MessageID))
	return result, nil
}

func (c *Client) sendText(ctx context.Context, req SendTextRequest) (*SendResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	payload := sendTextBody{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(strings.TrimSpace(req.To), "+"),
		Type:             "text",
		Text:             sendTextFields{Body: req.Body, PreviewURL: req.PreviewURL},
	}
	if req.ReplyTo != "" {
		payload.Context = &sendContext{MessageID: req.ReplyTo}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: marshal send body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/"+url.PathEscape(req.PhoneNumberID)+"/messages", nil, body, 0)
	if err != nil {
		return nil, err
	}
	var resp sendResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("whatsapp: decode send response: %w", err)
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return nil, errors.New("whatsapp: send response carried no message id")
	}
	result := &SendResult{MessageID: resp.Messages[0].ID, Timestamp: c.now().UTC()}
	if len(resp.Contacts) > 0 {
		result.ContactWaID = resp.Contacts[0].WaID
	}
	return result, nil
}

// ConnectionStatus queries the phone number and maps its Graph status onto
// connecting, open, closed or disconnected.
func (c *Client) ConnectionStatus(ctx context.Context, phoneNumberID string) (string, error) {
	if strings.TrimSpace(phoneNumberID) == "" {
		return "", errors.New("whatsapp: phone number id is required")
	}
	q := url.Values{}
	q.Set("fields", "id,status,display_phone_number")
	data, err := c.invoke(ctx, http.MethodGet, "/"+url.PathEscape(phoneNumberID), q, nil, c.maxRetries)
	if err != nil {
		return "", err
	}
	var resp phoneNumberResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("whatsapp: decode phone number: %w", err)
	}
	return mapPhoneStatus(resp.Status), nil
}

func mapPhoneStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "CONNECTED":
		return StateOpen
	case "PENDING", "UNVERIFIED", "MIGRATED":
		return StateConnecting
	case "DISCONNECTED", "":
		return StateDisconnected
	default:
		return StateClosed
	}
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, body []byte, retries int) ([]byte, error) {
	fullURL := c.buildURL(path, query)
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &DeliveryError{Message: "request cancelled", Err: ctx.Err()}
			}
			if !shouldRetry(0, err) || attempt == retries {
				return nil, &DeliveryError{Message: "http error", Retryable: shouldRetry(0, err), Err: err}
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, &DeliveryError{Message: "request cancelled", Err: sleepErr}
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("whatsapp: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeGraphError(resp.StatusCode, data)
		if attempt < retries && apiErr.Retryable {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, &DeliveryError{Message: "request cancelled", Err: sleepErr}
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("whatsapp: request failed without response")
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		full = full + "?" + query.Encode()
	}
	return full
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	c.logger.Warn("whatsapp retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}
