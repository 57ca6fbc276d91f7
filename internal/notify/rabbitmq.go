package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// DefaultExchange is the topic exchange outbound notifications publish
// to; every event type fans out through this one exchange rather than
// one exchange per event.
const DefaultExchange = "authengine.notifications"

const publishWait = 150 * time.Millisecond

// RabbitMQNotifier publishes CodeEvent/MagicLinkEvent as JSON messages to
// a topic exchange, reconnecting lazily on the next publish after a
// connection drop.
type RabbitMQNotifier struct {
	url      string
	exchange string
	log      zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

func NewRabbitMQNotifier(url string, log zerolog.Logger) (*RabbitMQNotifier, error) {
	n := &RabbitMQNotifier{url: url, exchange: DefaultExchange, log: log}
	if err := n.connect(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *RabbitMQNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch != nil {
		_ = n.ch.Close()
		n.ch = nil
	}
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
	return nil
}

func (n *RabbitMQNotifier) SendCode(ctx context.Context, evt CodeEvent) error {
	return n.publish(ctx, "authengine.code."+evt.Purpose, evt)
}

func (n *RabbitMQNotifier) SendMagicLink(ctx context.Context, evt MagicLinkEvent) error {
	return n.publish(ctx, "authengine.magiclink.send", evt)
}

func (n *RabbitMQNotifier) connect() error {
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(n.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("exchange declare: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("confirm mode: %w", err)
	}

	n.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	n.returnCh = ch.NotifyReturn(make(chan amqp.Return, 1))
	n.conn = conn
	n.ch = ch
	return nil
}

func (n *RabbitMQNotifier) ensureConnected() error {
	if n.conn != nil && !n.conn.IsClosed() && n.ch != nil {
		return nil
	}
	return n.connect()
}

func (n *RabbitMQNotifier) publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.ensureConnected(); err != nil {
		return err
	}

drain:
	for {
		select {
		case <-n.confirmCh:
		case <-n.returnCh:
		default:
			break drain
		}
	}

	if err := n.ch.PublishWithContext(ctx, n.exchange, routingKey, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}); err != nil {
		n.resetConnLocked()
		return fmt.Errorf("publish failed: %w", err)
	}

	select {
	case ret := <-n.returnCh:
		return fmt.Errorf("rabbitmq unroutable: key=%s code=%d text=%s", routingKey, ret.ReplyCode, ret.ReplyText)
	case conf := <-n.confirmCh:
		if !conf.Ack {
			return fmt.Errorf("rabbitmq nack: key=%s deliveryTag=%d", routingKey, conf.DeliveryTag)
		}
		return nil
	case <-time.After(publishWait):
		return fmt.Errorf("rabbitmq publish timeout: key=%s", routingKey)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *RabbitMQNotifier) resetConnLocked() {
	if n.ch != nil {
		_ = n.ch.Close()
		n.ch = nil
	}
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
	n.log.Warn().Msg("rabbitmq connection reset after publish failure")
}
