// Package notify delivers review notifications to external channels.
// Delivery is best-effort: each channel is rendered and sent independently
// under its own timeout, and failures are only logged.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-review/pkg/metrics"
)

// DefaultTemplate renders a one-line summary of a review event.
const DefaultTemplate = `[{{.Kind}}]{{with .ActorID}} by {{.}}{{end}}{{with index .Details "target_collection"}} on {{.}}{{end}}{{with index .Details "target_id"}}/{{.}}{{end}}{{with .Link}} {{.}}{{end}}`

// Notification is the channel-independent form of a review event.
type Notification struct {
	Kind           string         `json:"kind"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	ProjectID      *uuid.UUID     `json:"project_id,omitempty"`
	ProposalID     *uuid.UUID     `json:"proposal_id,omitempty"`
	ActorID        string         `json:"actor_id,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	Link           string         `json:"link,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Channel is one notification destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Renderer formats a notification with a channel-specific template.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses text, falling back to DefaultTemplate when empty.
func NewRenderer(name, text string) (*Renderer, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template for channel %s: %w", name, err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render executes the template against n.
func (r *Renderer) Render(n *Notification) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, n); err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return buf.String(), nil
}

// DeepLink returns the review page of a proposal, or "" when either part is unknown.
func DeepLink(baseURL string, projectID, proposalID *uuid.UUID) string {
	if baseURL == "" || projectID == nil || proposalID == nil {
		return ""
	}
	return fmt.Sprintf("%s/projects/%s/review/%s", strings.TrimRight(baseURL, "/"), projectID, proposalID)
}

// Dispatcher fans notifications out to every configured channel without
// blocking the caller.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	baseURL  string
	logger   *zap.Logger
	inflight sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. timeout bounds each channel delivery.
func NewDispatcher(channels []Channel, timeout time.Duration, baseURL string, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		channels: channels,
		timeout:  timeout,
		baseURL:  baseURL,
		logger:   logger.Named("notify"),
	}
}

// Channels returns the configured channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name()
	}
	return names
}

// Dispatch starts delivery of n and returns immediately.
func (d *Dispatcher) Dispatch(n Notification) {
	if len(d.channels) == 0 {
		return
	}
	if n.Link == "" {
		n.Link = DeepLink(d.baseURL, n.ProjectID, n.ProposalID)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.deliver(&n)
	}()
}

func (d *Dispatcher) deliver(n *Notification) {
	// plain Group: one failing channel must not cancel the others
	var g errgroup.Group
	for _, ch := range d.channels {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			err := ch.Send(ctx, n)
			metrics.RecordDelivery(ch.Name(), err)
			if err != nil {
				d.logger.Warn("Notification delivery failed",
					zap.String("channel", ch.Name()),
					zap.String("kind", n.Kind),
					zap.Error(err))
				return fmt.Errorf("channel %s: %w", ch.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Debug("Notification fan-out finished with failures", zap.String("kind", n.Kind), zap.Error(err))
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
