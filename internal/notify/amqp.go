package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
)

const reconnectDelay = 5 * time.Second

// AMQPNotifier publishes notices to a durable queue consumed by the mail and
// SMS senders. The connection is re-established in the background.
type AMQPNotifier struct {
	cfg    *config.AMQPOptions
	logger log.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	isReady bool

	done   chan struct{}
	wg     sync.WaitGroup
	notify chan struct{}
}

// NewAMQPNotifier connects and waits for the first successful connection
// or for ctx to end.
func NewAMQPNotifier(ctx context.Context, cfg *config.AMQPOptions, logger log.Logger) (*AMQPNotifier, error) {
	n := &AMQPNotifier{
		cfg:    cfg,
		logger: logger.WithName("amqp"),
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}

	n.wg.Add(1)
	go n.handleReconnect()

	select {
	case <-n.notify:
		return n, nil
	case <-ctx.Done():
		n.Close()
		return nil, ctx.Err()
	}
}

func (n *AMQPNotifier) handleReconnect() {
	defer n.wg.Done()

	for {
		n.setReady(false)

		if err := n.connect(); err != nil {
			n.logger.Error(err, "failed to connect, retrying", "delay", reconnectDelay)
			select {
			case <-n.done:
				return
			case <-time.After(reconnectDelay):
				continue
			}
		}

		n.setReady(true)
		select {
		case n.notify <- struct{}{}:
		default:
		}

		n.mu.Lock()
		closeChan := n.conn.NotifyClose(make(chan *amqp.Error, 1))
		n.mu.Unlock()

		select {
		case err := <-closeChan:
			n.logger.Warn("connection closed", "reason", err)
		case <-n.done:
			return
		}
	}
}

func (n *AMQPNotifier) setReady(ready bool) {
	n.mu.Lock()
	n.isReady = ready
	n.mu.Unlock()
}

func (n *AMQPNotifier) connect() error {
	conn, err := amqp.DialConfig(n.cfg.URL(), amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(n.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return err
	}
	if _, err := ch.QueueDeclare(n.cfg.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return err
	}
	if err := ch.QueueBind(n.cfg.Queue, n.cfg.Queue, n.cfg.Exchange, false, nil); err != nil {
		conn.Close()
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.conn = conn
	n.channel = ch
	return nil
}

func (n *AMQPNotifier) Name() string { return "amqp" }

func (n *AMQPNotifier) Notify(ctx context.Context, notice *domain.Notice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.isReady || n.channel == nil {
		return errors.New("amqp connection not ready")
	}

	return n.channel.PublishWithContext(ctx,
		n.cfg.Exchange,
		n.cfg.Queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    notice.OccurredAt,
			Type:         string(notice.Kind),
		},
	)
}

func (n *AMQPNotifier) Close() error {
	select {
	case <-n.done:
		return nil
	default:
		close(n.done)
	}
	n.wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
