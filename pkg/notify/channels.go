package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-review/pkg/logging"
	"github.com/ekaya-inc/ekaya-review/pkg/retry"
)

// StatusError is a non-2xx webhook response. 5xx and 429 are retryable.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable implements retry.RetryableError.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

var _ retry.RetryableError = (*StatusError)(nil)

// WebhookChannel POSTs a JSON message to a URL.
type WebhookChannel struct {
	name     string
	url      string
	renderer *Renderer
	client   *http.Client
	retry    *retry.Config
}

// NewWebhookChannel creates a webhook channel. A nil client uses http.DefaultClient.
func NewWebhookChannel(name, url, tmpl string, client *http.Client) (*WebhookChannel, error) {
	r, err := NewRenderer(name, tmpl)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookChannel{name: name, url: url, renderer: r, client: client, retry: retry.NotificationConfig()}, nil
}

func (c *WebhookChannel) Name() string { return c.name }

type webhookMessage struct {
	Text  string        `json:"text"`
	Event *Notification `json:"event"`
}

func (c *WebhookChannel) Send(ctx context.Context, n *Notification) error {
	text, err := c.renderer.Render(n)
	if err != nil {
		return err
	}
	body, err := json.Marshal(webhookMessage{Text: text, Event: n})
	if err != nil {
		return fmt.Errorf("marshal webhook message: %w", err)
	}

	return retry.DoIfRetryable(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("post webhook: %s", logging.SanitizeError(err))
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
}

// RedisChannel publishes rendered notifications on a Redis pub/sub channel.
type RedisChannel struct {
	client   redis.UniversalClient
	channel  string
	renderer *Renderer
}

// NewRedisChannel creates a Redis pub/sub channel.
func NewRedisChannel(client redis.UniversalClient, channel, tmpl string) (*RedisChannel, error) {
	r, err := NewRenderer("redis:"+channel, tmpl)
	if err != nil {
		return nil, err
	}
	return &RedisChannel{client: client, channel: channel, renderer: r}, nil
}

func (c *RedisChannel) Name() string { return "redis:" + c.channel }

func (c *RedisChannel) Send(ctx context.Context, n *Notification) error {
	text, err := c.renderer.Render(n)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(webhookMessage{Text: text, Event: n})
	if err != nil {
		return fmt.Errorf("marshal redis message: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", c.channel, err)
	}
	return nil
}

// LogChannel writes rendered notifications to the service log.
type LogChannel struct {
	logger   *zap.Logger
	renderer *Renderer
}

// NewLogChannel creates a log channel using DefaultTemplate.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	r, _ := NewRenderer("log", "")
	return &LogChannel{logger: logger.Named("notifications"), renderer: r}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, n *Notification) error {
	text, err := c.renderer.Render(n)
	if err != nil {
		return err
	}
	c.logger.Info(text, zap.String("kind", n.Kind))
	return nil
}
