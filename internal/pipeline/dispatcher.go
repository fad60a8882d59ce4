package pipeline

import (
	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
)

// Dispatcher hands events to the background writers without ever blocking
// the request path. A full channel drops the event and counts it.
type Dispatcher struct {
	StateChan   chan *domain.PointEvent
	ArchiveChan chan *domain.PointEvent
	NotifyChan  chan *domain.Notice
	AuditChan   chan domain.AuditEntry
}

// NewDispatcher allocates the channels. A zero size disables that channel.
func NewDispatcher(stateSize, archiveSize, notifySize, auditSize int) *Dispatcher {
	d := &Dispatcher{}
	if stateSize > 0 {
		d.StateChan = make(chan *domain.PointEvent, stateSize)
	}
	if archiveSize > 0 {
		d.ArchiveChan = make(chan *domain.PointEvent, archiveSize)
	}
	if notifySize > 0 {
		d.NotifyChan = make(chan *domain.Notice, notifySize)
	}
	if auditSize > 0 {
		d.AuditChan = make(chan domain.AuditEntry, auditSize)
	}
	return d
}

func (d *Dispatcher) DispatchPoint(ev *domain.PointEvent) {
	if d.StateChan != nil {
		select {
		case d.StateChan <- ev:
		default:
			metrics.ChannelDrops.WithLabelValues("state").Inc()
		}
	}

	if d.ArchiveChan != nil {
		select {
		case d.ArchiveChan <- ev:
		default:
			metrics.ChannelDrops.WithLabelValues("archive").Inc()
		}
	}
}

func (d *Dispatcher) Notify(n *domain.Notice) {
	if d.NotifyChan == nil {
		return
	}
	select {
	case d.NotifyChan <- n:
	default:
		metrics.ChannelDrops.WithLabelValues("notify").Inc()
	}
}

func (d *Dispatcher) Audit(e domain.AuditEntry) {
	if d.AuditChan == nil {
		return
	}
	select {
	case d.AuditChan <- e:
	default:
		metrics.ChannelDrops.WithLabelValues("audit").Inc()
	}
}
