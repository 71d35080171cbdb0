package gate

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

	"login-gate/internal/auth"
	"login-gate/internal/notify"
)

const DefaultTimeout = 5 * time.Second

var ErrUnavailable = errors.New("notification service unavailable")

// StatusError is a response the gate has no specific handling for.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Path, e.Code)
}

// Client talks to the notification/ban service over HTTP. Every call is
// bounded by the client timeout.
type Client struct {
	baseURL string
	http    *http.Client
	signer  *auth.Signer
	subject string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// WithSigner attaches a bearer token signed for subject to every request.
func (c *Client) WithSigner(signer *auth.Signer, subject string) *Client {
	c.signer = signer
	c.subject = subject
	return c
}

func (c *Client) CheckBan(ctx context.Context, address string) error {
	return c.post(ctx, "/check_ban", notify.AddressRequest{Address: address})
}

func (c *Client) Notify(ctx context.Context, n notify.Notification) error {
	return c.post(ctx, "/notify", n)
}

func (c *Client) ReportFail(ctx context.Context, address string) error {
	return c.post(ctx, "/report_fail", notify.AddressRequest{Address: address})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.signer != nil {
		token, err := c.signer.Sign(c.subject)
		if err != nil {
			return fmt.Errorf("sign %s request: %w", path, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusForbidden:
		return notify.ErrBanned
	case http.StatusBadGateway:
		if path == "/notify" {
			return notify.ErrDeliveryFailed
		}
	}
	return &StatusError{Path: path, Code: resp.StatusCode}
}
