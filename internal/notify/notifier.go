// Package notify delivers vehicle notices to people and downstream systems.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/metrics"
)

type Notifier interface {
	Name() string
	Notify(ctx context.Context, n *domain.Notice) error
}

// Closer is implemented by notifiers holding connections.
type Closer interface {
	Close() error
}

// Multi fans a notice out to every notifier. A failing notifier does not
// stop the others.
type Multi struct {
	notifiers []Notifier
}

func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Notify(ctx context.Context, n *domain.Notice) error {
	var errs []error
	for _, nt := range m.notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			metrics.Notifications.WithLabelValues(nt.Name(), "failed").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", nt.Name(), err))
			continue
		}
		metrics.Notifications.WithLabelValues(nt.Name(), "sent").Inc()
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, nt := range m.notifiers {
		if c, ok := nt.(Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Build creates the notifiers named in cfg.Notifiers.
func Build(ctx context.Context, cfg *config.Config, alerts AlertPublisher, logger log.Logger) (*Multi, error) {
	var out []Notifier
	for _, name := range cfg.Notifiers {
		switch name {
		case "log":
			out = append(out, NewLogNotifier(logger))
		case "redis":
			if alerts == nil {
				return nil, errors.New("redis notifier requires a redis connection")
			}
			out = append(out, NewRedisNotifier(alerts))
		case "kafka":
			out = append(out, NewKafkaNotifier(&cfg.Kafka))
		case "amqp":
			n, err := NewAMQPNotifier(ctx, &cfg.AMQP, logger)
			if err != nil {
				NewMulti(out...).Close()
				return nil, err
			}
			out = append(out, n)
		default:
			return nil, fmt.Errorf("unknown notifier %q", name)
		}
	}
	return NewMulti(out...), nil
}

// LogNotifier writes notices to the service log.
type LogNotifier struct {
	logger log.Logger
}

func NewLogNotifier(logger log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.WithName("notify")}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(ctx context.Context, n *domain.Notice) error {
	l.logger.Info("vehicle notice",
		"kind", n.Kind,
		"plate", n.Plate,
		"lat", n.Lat,
		"lon", n.Lon,
		"recipients", n.Recipients,
		"engine_will_lock", n.EngineWillLock,
		"occurred_at", n.OccurredAt.Format(time.RFC3339),
	)
	return nil
}
