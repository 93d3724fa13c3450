package mibs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const (
	mibsPath       = "/mibs"
	requestIDKey   = "X-Request-ID"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

// Client calls the MIB API. Every request carries the current access token
// of the token source it was built with.
type Client struct {
	mu      sync.RWMutex
	baseURL string

	httpClient *http.Client
}

type Option func(*clientOptions)

type clientOptions struct {
	base    http.RoundTripper
	timeout time.Duration
}

// WithTransport sets the transport beneath the bearer token transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.base = rt }
}

func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

func NewClient(baseURL string, tokens oauth2.TokenSource, opts ...Option) *Client {
	o := clientOptions{base: http.DefaultTransport, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   o.timeout,
			Transport: &oauth2.Transport{Source: tokens, Base: o.base},
		},
	}
}

// SetBaseURL points the client at a different server.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimSuffix(baseURL, "/")
}

func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// List returns the caller's messages. The server may answer with a bare
// array or with {"messages": [...]}.
func (c *Client) List(ctx context.Context) ([]Message, error) {
	body, err := c.do(ctx, http.MethodGet, nil, nil)
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(body)
	var raw string
	switch {
	case parsed.IsArray():
		raw = parsed.Raw
	case parsed.Get("messages").IsArray():
		raw = parsed.Get("messages").Raw
	default:
		return []Message{}, nil
	}

	var messages []Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	return messages, nil
}

// Create schedules a new message and returns the server's reply text.
func (c *Client) Create(ctx context.Context, m Message) (string, error) {
	if err := validateRecipients(m.Recipients); err != nil {
		return "", err
	}
	body, err := c.do(ctx, http.MethodPost, nil, m)
	if err != nil {
		return "", err
	}
	return replyMessage(body), nil
}

// Update replaces an existing message. The message must carry its id.
func (c *Client) Update(ctx context.Context, m Message) (string, error) {
	if m.MessageID == nil {
		return "", apperrors.ErrMissingMessageID
	}
	if err := validateRecipients(m.Recipients); err != nil {
		return "", err
	}
	body, err := c.do(ctx, http.MethodPut, nil, m)
	if err != nil {
		return "", err
	}
	return replyMessage(body), nil
}

func (c *Client) Delete(ctx context.Context, messageID int) (string, error) {
	if messageID <= 0 {
		return "", apperrors.ErrMissingMessageID
	}
	query := url.Values{"messageId": {strconv.Itoa(messageID)}}
	body, err := c.do(ctx, http.MethodDelete, query, nil)
	if err != nil {
		return "", err
	}
	return replyMessage(body), nil
}

func (c *Client) do(ctx context.Context, method string, query url.Values, payload any) ([]byte, error) {
	endpoint := c.BaseURL() + mibsPath
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDKey, uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotLoggedIn) {
			return nil, apperrors.ErrNotLoggedIn
		}
		return nil, apperrors.Wrapf(apperrors.ErrNoResponse, "%s %s: %v", method, mibsPath, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrNoResponse, "reading response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

func replyMessage(body []byte) string {
	if v := gjson.GetBytes(body, "message"); v.Exists() {
		return v.String()
	}
	return strings.TrimSpace(string(body))
}

func validateRecipients(recipients []Recipient) error {
	for _, r := range recipients {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}
