package notify

import (
	"context"
	"encoding/json"

	"fleet-monitor/telematics/internal/domain"
)

type AlertPublisher interface {
	PublishAlert(ctx context.Context, companyID string, payload []byte) error
}

// RedisNotifier publishes notices on the company's live alert channel.
type RedisNotifier struct {
	pub AlertPublisher
}

func NewRedisNotifier(pub AlertPublisher) *RedisNotifier {
	return &RedisNotifier{pub: pub}
}

func (r *RedisNotifier) Name() string { return "redis" }

func (r *RedisNotifier) Notify(ctx context.Context, n *domain.Notice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return r.pub.PublishAlert(ctx, n.CompanyID, payload)
}
