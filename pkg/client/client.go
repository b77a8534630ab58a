package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Envelope is a signed record as submitted to POST /records.
type Envelope struct {
	ContentBytes []byte `json:"content_bytes"`
	KeyID        string `json:"key_id"`
	Signature    string `json:"signature"`
}

// Head is the current chain tip.
type Head struct {
	RecordID  string    `json:"record_id"`
	Timestamp time.Time `json:"timestamp"`
}

// LogInfo is returned by Info.
type LogInfo struct {
	LogID         string `json:"log_id"`
	SigningPrefix []byte `json:"signing_prefix"`
	Length        int    `json:"length"`
	HashAlgorithm string `json:"hash_algorithm,omitempty"`
	Founder       string `json:"founder,omitempty"`
	Head          *Head  `json:"head,omitempty"`
}

// AppendResult is returned by Append.
type AppendResult struct {
	Index     int       `json:"index"`
	RecordID  string    `json:"record_id"`
	KeyID     string    `json:"key_id"`
	Timestamp time.Time `json:"timestamp"`
}

// EncodeResult is returned by Encode.
type EncodeResult struct {
	ContentBytes []byte `json:"content_bytes"`
	RecordID     string `json:"record_id"`
}

// Record is a stored record. Body holds the decoded draft as JSON.
type Record struct {
	Index        int             `json:"index"`
	RecordID     string          `json:"record_id"`
	Prev         string          `json:"prev,omitempty"`
	KeyID        string          `json:"key_id"`
	Signature    string          `json:"signature"`
	ContentBytes []byte          `json:"content_bytes"`
	Timestamp    time.Time       `json:"timestamp"`
	AcceptedAt   time.Time       `json:"accepted_at"`
	Body         json.RawMessage `json:"record"`
}

// VerifyResult is returned by Verify.
type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Length int    `json:"length"`
	Head   string `json:"head,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string // stable error name, empty for transport-level errors
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Client talks to one operatord server.
type Client struct {
	base       string
	httpClient *http.Client
	userAgent  string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "oplog-client",
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Info returns the log id, signing prefix, length and head.
func (c *Client) Info(ctx context.Context) (*LogInfo, error) {
	var out LogInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/operator", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Head returns the current chain tip, or nil for an empty log.
func (c *Client) Head(ctx context.Context) (*Head, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return nil, err
	}
	return info.Head, nil
}

// Append submits env. A rejected record returns an *APIError.
func (c *Client) Append(ctx context.Context, env Envelope) (*AppendResult, error) {
	var out AppendResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/operator/records", env, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Record returns the stored record at idx.
func (c *Client) Record(ctx context.Context, idx int) (*Record, error) {
	var out Record
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/operator/records/%d", idx), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Permissions returns the permission table keyed by key id.
func (c *Client) Permissions(ctx context.Context) (map[string][]string, error) {
	var out struct {
		Permissions map[string][]string `json:"permissions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/operator/permissions", nil, &out); err != nil {
		return nil, err
	}
	return out.Permissions, nil
}

// Verify asks the server to replay its stored log.
func (c *Client) Verify(ctx context.Context) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/operator/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Encode sends draft, any value marshalling to the draft JSON form, to the
// server's canonical encoder.
func (c *Client) Encode(ctx context.Context, draft any) (*EncodeResult, error) {
	var out EncodeResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/operator/encode", draft, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decode returns the draft JSON for canonical record bytes.
func (c *Client) Decode(ctx context.Context, content []byte) (json.RawMessage, error) {
	var out json.RawMessage
	req := struct {
		ContentBytes []byte `json:"content_bytes"`
	}{content}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/operator/decode", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
			apiErr.Code = e.Code
		}
		return nil, apiErr
	}
	return body, nil
}
