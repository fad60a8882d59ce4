package pipeline

import (
	"context"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
)

const (
	stateBatchSize     = 100
	stateFlushInterval = 50 * time.Millisecond
)

type LiveStateWriter interface {
	UpdateLiveState(ctx context.Context, ev *domain.PointEvent) error
}

// StateWriter mirrors the latest point of every vehicle into the live state
// cache used by dashboards.
type StateWriter struct {
	ch     <-chan *domain.PointEvent
	live   LiveStateWriter
	logger log.Logger
}

func NewStateWriter(ch <-chan *domain.PointEvent, live LiveStateWriter, logger log.Logger) *StateWriter {
	return &StateWriter{ch: ch, live: live, logger: logger.WithName("state-writer")}
}

func (w *StateWriter) Run(ctx context.Context) {
	batch := make([]*domain.PointEvent, 0, stateBatchSize)
	ticker := time.NewTicker(stateFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-w.ch:
			if !ok {
				w.flushBatch(ctx, batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= stateBatchSize {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.flushBatch(context.Background(), batch)
			return
		}
	}
}

func (w *StateWriter) flushBatch(ctx context.Context, batch []*domain.PointEvent) {
	for _, ev := range latestPerVehicle(batch) {
		if err := w.live.UpdateLiveState(ctx, ev); err != nil {
			w.logger.Error(err, "live state update failed", "vehicle_id", ev.VehicleID)
		}
	}
}

// latestPerVehicle keeps the newest event of each vehicle, in first-seen order.
func latestPerVehicle(batch []*domain.PointEvent) []*domain.PointEvent {
	idx := make(map[string]int, len(batch))
	out := make([]*domain.PointEvent, 0, len(batch))
	for _, ev := range batch {
		i, ok := idx[ev.VehicleID]
		if !ok {
			idx[ev.VehicleID] = len(out)
			out = append(out, ev)
			continue
		}
		if !ev.Point.TimeFrom.Before(out[i].Point.TimeFrom) {
			out[i] = ev
		}
	}
	return out
}
