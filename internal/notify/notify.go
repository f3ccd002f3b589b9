// Package notify announces logged runs on a Kafka topic.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	apperrors "evaltrack/internal/pkg/errors"
)

// RunLogged is published once a run has been recorded and closed.
type RunLogged struct {
	RunID        string            `json:"run_id"`
	Experiment   string            `json:"experiment"`
	ExperimentID string            `json:"experiment_id"`
	TrackingURI  string            `json:"tracking_uri"`
	Loss         float64           `json:"loss"`
	Accuracy     float64           `json:"accuracy"`
	Params       map[string]string `json:"params,omitempty"`
	LoggedAt     time.Time         `json:"logged_at"`
}

// KafkaConfig holds producer settings.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	Timeout  time.Duration
}

// Publisher sends RunLogged events through a synchronous producer.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher wraps an existing producer.
func NewPublisher(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Dial connects a producer to the configured brokers.
func Dial(cfg KafkaConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, apperrors.ValidationError("kafka brokers cannot be empty")
	}
	if cfg.Topic == "" {
		return nil, apperrors.ValidationError("kafka topic cannot be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "evaltrack"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	conf := sarama.NewConfig()
	conf.ClientID = cfg.ClientID
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true
	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Retry.Max = 0
	conf.Net.DialTimeout = cfg.Timeout
	conf.Net.ReadTimeout = cfg.Timeout
	conf.Net.WriteTimeout = cfg.Timeout

	producer, err := sarama.NewSyncProducer(cfg.Brokers, conf)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTracking, "create kafka producer", err)
	}
	return NewPublisher(producer, cfg.Topic), nil
}

// Publish sends ev keyed by run id.
func (p *Publisher) Publish(ctx context.Context, ev RunLogged) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTracking, "marshal run event", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.RunID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return apperrors.Wrap(apperrors.CodeTracking, "publish run event", err)
	}
	return nil
}

// Close releases the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
