package notify

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier streams notices keyed by vehicle id.
type KafkaNotifier struct {
	writer messageWriter
}

func NewKafkaNotifier(cfg *config.KafkaOptions) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (k *KafkaNotifier) Name() string { return "kafka" }

func (k *KafkaNotifier) Notify(ctx context.Context, n *domain.Notice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.VehicleID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
		},
	})
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
