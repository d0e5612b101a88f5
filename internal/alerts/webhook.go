package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const footer = "Device Alert Processor"

// ErrDeliveryTimeout is wrapped by Send when the webhook does not answer
// within the destination timeout.
var ErrDeliveryTimeout = errors.New("request timeout")

// DeliveryError is returned when the webhook answers with a non-success status.
type DeliveryError struct {
	Sink       string
	StatusCode int
	Detail     string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s API error: %d", e.Sink, e.StatusCode)
}

// Notification is the rendered form of a Decision.
type Notification struct {
	Title string
	Text  string
	Color string
	At    time.Time
}

// Sink delivers notifications to a destination.
type Sink interface {
	Send(ctx context.Context, dest Destination, n Notification) error
}

// WebhookSink posts notifications as JSON to Slack, Teams or generic HTTP
// webhooks.
type WebhookSink struct {
	client *http.Client
}

// NewWebhookSink returns a sink using client, or a default client when nil.
// Per-request timeouts come from the Destination.
func NewWebhookSink(client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{}
	}
	return &WebhookSink{client: client}
}

// Send delivers n to dest. Slack and Teams accept only HTTP 200; generic
// HTTP targets accept any 2xx.
func (s *WebhookSink) Send(ctx context.Context, dest Destination, n Notification) error {
	if dest.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dest.Timeout)
		defer cancel()
	}

	var (
		body []byte
		err  error
	)
	switch dest.Type {
	case "slack", "":
		body, err = json.Marshal(slackPayload(dest, n))
	case "teams":
		body, err = json.Marshal(teamsPayload(n))
	case "http":
		body, err = json.Marshal(httpPayload(n))
	default:
		return fmt.Errorf("unknown webhook type %q", dest.Type)
	}
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return s.post(ctx, dest, body)
}

type slackAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
	Footer string `json:"footer"`
	Ts     int64  `json:"ts"`
}

type slackMessage struct {
	Username    string            `json:"username,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

func slackPayload(dest Destination, n Notification) slackMessage {
	return slackMessage{
		Username: dest.Username,
		Channel:  dest.Channel,
		Attachments: []slackAttachment{{
			Color:  n.Color,
			Title:  n.Title,
			Text:   n.Text,
			Footer: footer,
			Ts:     n.At.Unix(),
		}},
	}
}

func teamsPayload(n Notification) map[string]interface{} {
	return map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": strings.TrimPrefix(n.Color, "#"),
		"summary":    n.Title,
		"title":      n.Title,
		"text":       n.Text,
	}
}

func httpPayload(n Notification) map[string]interface{} {
	return map[string]interface{}{
		"title":     n.Title,
		"text":      n.Text,
		"color":     n.Color,
		"footer":    footer,
		"timestamp": n.At.Unix(),
	}
}

func (s *WebhookSink) post(ctx context.Context, dest Destination, body []byte) error {
	label := sinkLabel(dest.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s request failed: %w", label, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s %w", label, ErrDeliveryTimeout)
		}
		return fmt.Errorf("%s request failed: %w", label, err)
	}
	defer resp.Body.Close()

	if !accepted(dest.Type, resp.StatusCode) {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{Sink: label, StatusCode: resp.StatusCode, Detail: string(detail)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func accepted(typ string, code int) bool {
	if typ == "http" {
		return code >= 200 && code < 300
	}
	return code == http.StatusOK
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sinkLabel(typ string) string {
	switch typ {
	case "teams":
		return "Teams"
	case "http":
		return "Webhook"
	default:
		return "Slack"
	}
}
