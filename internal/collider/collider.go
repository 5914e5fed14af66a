// Package collider forwards signaling messages to the external delivery
// service once both participants of a room are present.
package collider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultTimeout = 5 * time.Second

var ErrForwardingFailed = errors.New("forwarding failed")

// ForwardError carries the status code returned by the delivery service.
type ForwardError struct {
	StatusCode int
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("%s: status %d", ErrForwardingFailed, e.StatusCode)
}

func (e *ForwardError) Unwrap() error {
	return ErrForwardingFailed
}

type Config struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zerolog.Logger
}

// Client posts messages to {postURL}/{roomID}/{clientID}. It does not retry.
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Client{
		http:    httpClient,
		timeout: timeout,
		logger:  logger.With().Str("component", "collider").Logger(),
	}
}

func (c *Client) Forward(ctx context.Context, postURL, roomID, clientID string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := strings.TrimRight(postURL, "/") + "/" + url.PathEscape(roomID) + "/" + url.PathEscape(clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build forward request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("forward to %s: %w", target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("roomID", roomID).
			Str("clientID", clientID).
			Msg("failed to send message to collider")
		return &ForwardError{StatusCode: resp.StatusCode}
	}
	c.logger.Debug().
		Str("roomID", roomID).
		Str("clientID", clientID).
		Msg("message forwarded to collider")
	return nil
}
