// Package kafka carries change events between service instances over a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"popotte/internal/feed"
	"popotte/pkg/logkey"
)

type Conf struct {
	client *kgo.Client
	topic  string
}

// NewConf connects to brokers and joins group on topic. Empty topic and group fall back
// to TopicChanges and ConsumerGroup.
func NewConf(brokers []string, topic, group string) (*Conf, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers")
	}
	if topic == "" {
		topic = TopicChanges
	}
	if group == "" {
		group = ConsumerGroup
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Conf{client: client, topic: topic}, nil
}

func (k *Conf) ProduceMessage(ctx context.Context, topic string, key, value []byte) error {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Emit publishes ev to the changes topic, keyed by table.
func (k *Conf) Emit(ctx context.Context, ev feed.Event) error {
	value, err := Encode(ev)
	if err != nil {
		return err
	}
	return k.ProduceMessage(ctx, k.topic, []byte(ev.Table), value)
}

// Run polls the changes topic and hands every decoded event to publish.
func (k *Conf) Run(ctx context.Context, publish func(feed.Event)) error {
	for {
		fetches := k.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) {
				return ctx.Err()
			}
			slog.Error("kafka fetch failed", slog.String("topic", fe.Topic),
				slog.Int("partition", int(fe.Partition)), slog.String(logkey.ERROR, fe.Err.Error()))
		}
		fetches.EachRecord(func(r *kgo.Record) {
			ev, err := Decode(r.Value)
			if err != nil {
				slog.Warn("skipping change record", slog.Int64("offset", r.Offset), slog.String(logkey.ERROR, err.Error()))
				return
			}
			publish(ev)
		})
	}
}

func (k *Conf) Close() {
	k.client.Close()
}
