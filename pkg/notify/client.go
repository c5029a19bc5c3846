// Package notify mirrors escalation-worthy decisions to Slack.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

// Client is a thin wrapper around the slack-go SDK.
type Client struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

// NewClient creates a new Slack API client.
func NewClient(token, channelID string) *Client {
	return &Client{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "notify-client"),
	}
}

// NewClientWithAPIURL creates a Slack API client that targets a custom API
// URL. Useful for testing with a mock server.
func NewClientWithAPIURL(token, channelID, apiURL string) *Client {
	return &Client{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "notify-client"),
	}
}

// PostMessage sends a message to the configured channel. Unlike the
// incident-thread pattern this is adapted from, every kill gets its own
// top-level post: there is no multi-message-per-incident threading need.
func (c *Client) PostMessage(ctx context.Context, blocks []goslack.Block, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, _, err := c.api.PostMessageContext(ctx, c.channelID, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}
