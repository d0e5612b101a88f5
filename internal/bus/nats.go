package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/obsidianstack/devicealert/internal/config"
	"github.com/obsidianstack/devicealert/pkg/types"
)

const busNATS = "nats"

// ConnectNATS dials cfg.URL, retrying with backoff until it succeeds or ctx
// ends. The returned connection reconnects on its own.
func ConnectNATS(ctx context.Context, cfg config.NATSConfig) (*nats.Conn, error) {
	backoff := time.Second
	for {
		nc, err := nats.Connect(
			cfg.URL,
			nats.Name("devicealert"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				slog.Warn("bus: nats disconnected", "err", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				slog.Info("bus: nats reconnected", "url", nc.ConnectedUrl())
			}),
		)
		if err == nil {
			return nc, nil
		}

		slog.Error("bus: nats connect failed", "url", cfg.URL, "err", err, "retry_in", backoff)
		if !sleep(ctx, backoff) {
			return nil, ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

// NATS subscribes to <prefix>.<device>.<channel> and hands every message to
// the engine. Channel names may themselves contain dots.
type NATS struct {
	nc     *nats.Conn
	prefix string
	engine Engine
}

// NewNATS returns a subscriber on nc. A trailing dot on prefix is ignored.
func NewNATS(nc *nats.Conn, prefix string, engine Engine) *NATS {
	return &NATS{nc: nc, prefix: strings.TrimSuffix(prefix, "."), engine: engine}
}

// Subject is the wildcard subscription subject.
func (n *NATS) Subject() string { return n.prefix + ".>" }

// Run subscribes and blocks until ctx ends, then drains the subscription.
func (n *NATS) Run(ctx context.Context) error {
	if n.nc == nil {
		return errors.New("bus: nats connection is required")
	}
	sub, err := n.nc.Subscribe(n.Subject(), func(msg *nats.Msg) {
		n.handle(ctx, msg)
	})
	if err != nil {
		return err
	}
	slog.Info("bus: nats subscribed", "subject", n.Subject())

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		slog.Warn("bus: nats drain", "err", err)
	}
	return nil
}

func (n *NATS) handle(ctx context.Context, msg *nats.Msg) {
	ev, ok := n.event(msg.Subject, msg.Data)
	if !ok {
		slog.Warn("bus: nats subject rejected", "subject", msg.Subject)
		count(busNATS, "rejected")
		return
	}
	count(busNATS, "accepted")

	rep := n.engine.HandleMessage(ctx, ev)
	slog.Debug("bus: nats message handled",
		"device", ev.DeviceID,
		"channel", ev.ChannelName,
		"sent", rep.Sent,
	)
	if msg.Reply != "" {
		if b, err := json.Marshal(rep.Result()); err == nil {
			msg.Respond(b) //nolint:errcheck
		}
	}
}

// event maps a subject and payload to a message event.
func (n *NATS) event(subject string, data []byte) (types.MessageEvent, bool) {
	rest, ok := strings.CutPrefix(subject, n.prefix+".")
	if !ok {
		return types.MessageEvent{}, false
	}
	device, channel, ok := strings.Cut(rest, ".")
	if !ok {
		return types.MessageEvent{}, false
	}
	ev := types.MessageEvent{DeviceID: device, ChannelName: channel, Data: decodePayload(data)}
	if ev.Validate() != nil {
		return types.MessageEvent{}, false
	}
	return ev, true
}
