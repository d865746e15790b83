package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/yoyo3287258/command-gateway/internal/config"
	"github.com/yoyo3287258/command-gateway/internal/model"
)

// Publisher Kafka审计事件生产者
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher 创建审计事件生产者
func NewPublisher(cfg *config.AuditConfig) (*Publisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	return NewPublisherWithProducer(producer, cfg.Topic), nil
}

// NewPublisherWithProducer 使用已有的生产者创建Publisher
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
	}
}

// Publish 发送审计事件，以TraceID为消息Key
func (p *Publisher) Publish(ctx context.Context, event *model.CommandEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化审计事件失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.TraceID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("outcome"), Value: []byte(event.Outcome)},
		},
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("发送Kafka消息失败: %w", err)
	}

	return nil
}

// Close 关闭生产者
func (p *Publisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
