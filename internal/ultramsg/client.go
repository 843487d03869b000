// Package ultramsg is a client for the UltraMsg WhatsApp gateway API.
package ultramsg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/wablast/wablast/internal/phone"
)

// DefaultBaseURL is the production API endpoint. The instance ID is
// appended as the first path segment.
const DefaultBaseURL = "https://api.ultramsg.com"

// ProviderError is a non-success HTTP response from a send endpoint.
// The caller treats it as a per-recipient failure, not fatal to a run.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// UploadError is a failed media upload. It is fatal to an image
// broadcast: no sends may start without a media reference.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("media upload failed: HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("media upload failed: %s", e.Body)
}

// Response is the provider's reply to a successful send.
type Response struct {
	Sent    string `json:"sent,omitempty"`
	Message string `json:"message,omitempty"`
	ID      any    `json:"id,omitempty"`

	// Raw preserves the full provider body for display.
	Raw string `json:"-"`
}

// Client talks to one UltraMsg instance.
type Client struct {
	baseURL    string
	instanceID string
	token      string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (tests, self-hosted gateways).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the given instance.
func NewClient(instanceID, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		instanceID: instanceID,
		token:      token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/" + c.instanceID + path
}

// postForm performs a form-encoded POST and decodes the JSON reply.
// Non-200 statuses come back as *ProviderError.
func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path),
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	out := &Response{Raw: string(body)}
	if err := json.Unmarshal(body, out); err != nil {
		// The provider occasionally replies with non-JSON success text.
		out.Message = string(body)
	}
	return out, nil
}

// SendChat sends a text message. The phone is normalized to wire form
// (digits, no +) before the request is built.
func (c *Client) SendChat(ctx context.Context, to, body string) (*Response, error) {
	num, err := phone.Normalize(to)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("token", c.token)
	form.Set("to", num.Wire())
	form.Set("body", body)

	return c.postForm(ctx, "/messages/chat", form)
}

// SendImage sends an image by remote URL with an optional caption.
func (c *Client) SendImage(ctx context.Context, to, imageURL, caption string) (*Response, error) {
	num, err := phone.Normalize(to)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("token", c.token)
	form.Set("to", num.Wire())
	form.Set("image", imageURL)
	if caption != "" {
		form.Set("caption", caption)
	}

	return c.postForm(ctx, "/messages/image", form)
}

// Upload pushes image bytes to the provider once and returns the
// remote URL to reuse for every send in the run.
func (c *Client) Upload(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("token", c.token); err != nil {
		return "", fmt.Errorf("write token field: %w", err)
	}

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	hdr.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/media/upload"), &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UploadError{Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UploadError{Body: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &UploadError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	// The URL comes back under "success" or "url" depending on the
	// API version.
	var reply map[string]any
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", &UploadError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	for _, key := range []string{"success", "url"} {
		if v, ok := reply[key].(string); ok && strings.HasPrefix(v, "http") {
			return v, nil
		}
	}

	return "", &UploadError{StatusCode: resp.StatusCode, Body: "no media URL in response: " + string(body)}
}
