package pipeline

import (
	"context"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/metrics"
	"fleet-monitor/telematics/internal/notify"
)

type Deduper interface {
	AcquireNotifyDedup(ctx context.Context, vehicleID, kind string, window time.Duration) (bool, error)
}

// NotifyWorker delivers notices. With a dedup window, only the first notice of
// a kind per vehicle within the window is sent.
type NotifyWorker struct {
	ch       <-chan *domain.Notice
	notifier notify.Notifier
	dedup    Deduper
	window   time.Duration
	timeout  time.Duration
	logger   log.Logger
}

func NewNotifyWorker(
	ch <-chan *domain.Notice,
	notifier notify.Notifier,
	dedup Deduper,
	window time.Duration,
	timeout time.Duration,
	logger log.Logger,
) *NotifyWorker {
	return &NotifyWorker{
		ch:       ch,
		notifier: notifier,
		dedup:    dedup,
		window:   window,
		timeout:  timeout,
		logger:   logger.WithName("notify-worker"),
	}
}

func (w *NotifyWorker) Run(ctx context.Context) {
	for {
		select {
		case n, ok := <-w.ch:
			if !ok {
				return
			}
			w.deliver(context.Background(), n)

		case <-ctx.Done():
			return
		}
	}
}

func (w *NotifyWorker) deliver(ctx context.Context, n *domain.Notice) {
	if w.window > 0 && w.dedup != nil {
		first, err := w.dedup.AcquireNotifyDedup(ctx, n.VehicleID, string(n.Kind), w.window)
		if err != nil {
			w.logger.Error(err, "dedup check failed", "vehicle_id", n.VehicleID, "kind", n.Kind)
		} else if !first {
			metrics.Notifications.WithLabelValues(w.notifier.Name(), "deduped").Inc()
			return
		}
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	if err := w.notifier.Notify(ctx, n); err != nil {
		w.logger.Error(err, "notification failed", "vehicle_id", n.VehicleID, "kind", n.Kind)
	}
}
