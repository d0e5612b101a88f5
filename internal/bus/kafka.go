package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/obsidianstack/devicealert/internal/config"
	"github.com/obsidianstack/devicealert/pkg/types"
)

const busKafka = "kafka"

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Kafka consumes JSON MessageEvent values from a topic. When a value omits
// device_id the record key is used instead.
type Kafka struct {
	reader MessageReader
	engine Engine
}

// NewKafka returns a consumer-group reader for cfg.
func NewKafka(cfg config.KafkaConfig, engine Engine) *Kafka {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
	return NewKafkaReader(r, engine)
}

// NewKafkaReader wraps an existing reader.
func NewKafkaReader(r MessageReader, engine Engine) *Kafka {
	return &Kafka{reader: r, engine: engine}
}

// Run reads until ctx ends. Read errors back off and retry; undecodable
// records are counted and skipped.
func (k *Kafka) Run(ctx context.Context) error {
	defer k.reader.Close()

	backoff := time.Second
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			slog.Error("bus: kafka read failed", "err", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second
		k.handle(ctx, m)
	}
}

func (k *Kafka) handle(ctx context.Context, m kafka.Message) {
	ev, err := decodeKafka(m)
	if err != nil {
		slog.Warn("bus: kafka record rejected",
			"topic", m.Topic,
			"partition", m.Partition,
			"offset", m.Offset,
			"err", err,
		)
		count(busKafka, "rejected")
		return
	}
	count(busKafka, "accepted")

	rep := k.engine.HandleMessage(ctx, ev)
	slog.Debug("bus: kafka message handled",
		"device", ev.DeviceID,
		"channel", ev.ChannelName,
		"offset", m.Offset,
		"sent", rep.Sent,
	)
}

func decodeKafka(m kafka.Message) (types.MessageEvent, error) {
	var ev types.MessageEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return ev, err
	}
	if ev.DeviceID == "" {
		ev.DeviceID = string(m.Key)
	}
	return ev, ev.Validate()
}
