package amqpx

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// dialer owns the connection and redials when it has dropped.
type dialer struct {
	cfg  Config
	conn *amqp.Connection
}

func (d *dialer) connected() bool {
	return d.conn != nil && !d.conn.IsClosed()
}

// channel returns a fresh channel with the topology declared, redialing
// first when the connection has dropped.
func (d *dialer) channel() (*amqp.Channel, error) {
	if !d.connected() {
		conn, err := amqp.DialConfig(d.cfg.URL, amqp.Config{
			Heartbeat: 10 * time.Second,
			Dial:      amqp.DefaultDial(5 * time.Second),
		})
		if err != nil {
			return nil, fmt.Errorf("dial: %w", err)
		}
		d.conn = conn
	}

	ch, err := d.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	if err := declareTopology(ch, d.cfg); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (d *dialer) openChannel() (confirmChannel, error) {
	ch, err := d.channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	return ch, nil
}

// declareTopology sets up a durable topic exchange and a durable queue bound
// to every routing key.
func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	if err := ch.QueueBind(cfg.Queue, "#", cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", cfg.Queue, err)
	}
	return nil
}

func (d *dialer) close() error {
	if d.conn == nil || d.conn.IsClosed() {
		return nil
	}
	return d.conn.Close()
}
