package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/MayoPickle/tofu-chillsync/pkg/log"
)

// KafkaPublisher produces events to a single topic keyed by room id, so one
// room's events stay ordered within a partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	doneCh   chan struct{}
}

// NewKafkaPublisher creates the producer and makes sure the topic exists.
func NewKafkaPublisher(cfg KafkaConfig, topic string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &KafkaPublisher{
		producer: p,
		topic:    topic,
		doneCh:   make(chan struct{}),
	}
	go kp.deliveryReportHandler()

	if err := ensureTopic(cfg.Brokers, topic, cfg.Partitions); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Str("topic", topic).Msg("failed to ensure kafka topic (may already exist)")
	}

	return kp, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", r.Topic, r.Error)
		}
	}
	return nil
}

func (k *KafkaPublisher) deliveryReportHandler() {
	l := pkglog.L()
	for e := range k.producer.Events() {
		if ev, ok := e.(*kafka.Message); ok && ev.TopicPartition.Error != nil {
			l.Warn().Err(ev.TopicPartition.Error).Msg("kafka delivery failed")
		}
	}
	close(k.doneCh)
}

// Publish maps the channel to the topic key and produces asynchronously.
func (k *KafkaPublisher) Publish(ctx context.Context, channel string, event *Event) error {
	_, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// Close flushes pending messages and shuts the producer down.
func (k *KafkaPublisher) Close() error {
	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh
	return nil
}
