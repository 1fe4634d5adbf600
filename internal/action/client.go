package action

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/friendrelay/friendrelay/internal/config"
)

// StatusError is returned when the action service answers with anything
// other than 200.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("action service returned status %d", e.Code)
}

// Client performs actions against the game backend on behalf of a token
// holder.
type Client struct {
	endpoint string
	client   *http.Client
	payload  PayloadEncoder
	header   http.Header
	timeout  time.Duration
}

// NewClient configures an action client from cfg. A nil httpClient uses
// http.DefaultClient.
func NewClient(cfg config.ActionConfig, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid action URL: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("action URL must be absolute: %s", cfg.URL)
	}

	key, err := hex.DecodeString(cfg.PayloadKey)
	if err != nil {
		return nil, fmt.Errorf("action payload key is not valid hex: %w", err)
	}
	iv, err := hex.DecodeString(cfg.PayloadIV)
	if err != nil {
		return nil, fmt.Errorf("action payload IV is not valid hex: %w", err)
	}

	payload, err := NewFriendRequestPayload(cfg.SenderID, key, iv)
	if err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("X-Unity-Version", cfg.UnityVersion)
	header.Set("X-GA", "v1 1")
	header.Set("ReleaseVersion", cfg.ReleaseVersion)
	header.Set("User-Agent", cfg.UserAgent)

	return &Client{
		endpoint: u.String(),
		client:   httpClient,
		payload:  payload,
		header:   header,
		timeout:  cfg.Timeout,
	}, nil
}

// Perform sends one action for target authorized by token. Any transport
// failure or non-200 response is an error.
func (c *Client) Perform(ctx context.Context, target, token string) error {
	body, err := c.payload.Encode(target)
	if err != nil {
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building action request: %w", err)
	}
	req.Header = c.header.Clone()
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("action request failed: %w", err)
	}
	defer resp.Body.Close()

	// drain (bounded) so the connection can be reused
	_, _ = io.CopyN(io.Discard, resp.Body, 64<<10)

	if resp.StatusCode != http.StatusOK {
		return StatusError{Code: resp.StatusCode}
	}

	return nil
}
