// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/GwynCerbin/rabbitflow/pkg/broker"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Connector dials RabbitMQ sessions for the runtime. Reconnection is not done
// here: a consumption cycle that loses its connection dials again through the
// same Connector.
type Connector struct {
	// client stores the connection settings.
	client Client
	// exchange is the work exchange publishers route to.
	exchange string
	// logger receives connection diagnostics.
	logger *zap.Logger
}

// NewConnector returns a broker.Dialer whose sessions publish to exchange.
func NewConnector(cfg *Client, exchange string) (*Connector, error) {
	if cfg == nil {
		return nil, ConnConfEmptyError{}
	}

	return &Connector{
		client:   *cfg,
		exchange: exchange,
		logger:   zap.L(),
	}, nil
}

// SetLogger overrides the global zap logger. Pass nil to restore zap.L().
func (d *Connector) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.L()
	}

	d.logger = logger
}

// Dial implements broker.Dialer.
func (d *Connector) Dial(_ context.Context) (broker.Session, error) {
	con, err := Dial(&d.client)
	if err != nil {
		return nil, err
	}

	con.exchange = d.exchange
	con.logger = d.logger

	return con, nil
}

// Con encapsulates one RabbitMQ connection and the channels opened on it.
// It implements broker.Session:
//   - connection: active AMQP091 connection
//   - exchange: work exchange used by publishers created on this connection
//   - appID: application id stamped on published messages
//   - stop: closed once Close is called
//   - closers: consumers and publishers to release on Close
type Con struct {
	// connection holds the active AMQP connection.
	connection *amqp091.Connection
	// exchange is the routing target of publishers.
	exchange string
	// appID is set as the AppId of every published message.
	appID string
	// stop signals consumers and publishers that the connection is going away.
	stop chan struct{}
	// once guards stop from a double close.
	once sync.Once
	// closers tracks channels owned by this connection.
	closers []io.Closer
	// mute protects closers.
	mute sync.Mutex
	// logger receives channel diagnostics.
	logger *zap.Logger
}

// Dial establishes an AMQP connection using the provided client configuration.
// It returns a Con instance ready to declare exchanges, queues, and create publishers/consumers.
func Dial(cfg *Client) (*Con, error) {
	if cfg == nil {
		return nil, ConnConfEmptyError{}
	}

	uri, clientCfg := dialConfig(cfg)

	con, err := amqp091.DialConfig(uri, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("dial amqp091: %w", err)
	}

	return &Con{
		connection: con,
		appID:      cfg.AppID,
		stop:       make(chan struct{}),
		logger:     zap.L(),
	}, nil
}

// dialConfig maps Client onto the URI and amqp091.Config used to dial.
func dialConfig(cfg *Client) (string, amqp091.Config) {
	clientCfg := amqp091.Config{
		Vhost:      cfg.VHost,
		Properties: cfg.Properties,
		Heartbeat:  cfg.TcpHeartBeat,
	}

	if cfg.URI != "" {
		return cfg.URI, clientCfg
	}

	clientCfg.SASL = []amqp091.Authentication{
		&amqp091.PlainAuth{Username: cfg.Username, Password: cfg.Password},
	}

	uri := &url.URL{
		Scheme: "amqp",
		Host:   cfg.Host,
	}

	return uri.String(), clientCfg
}

// DeclareExchange opens a channel, declares an exchange, and closes the channel.
func (c *Con) DeclareExchange(cfg *ExchangeDeclare) error {
	return c.withChannel(func(ch *amqp091.Channel) error {
		if err := ch.ExchangeDeclare(cfg.Name, cfg.Type, cfg.Durable, cfg.AutoDelete, cfg.Internal, false, cfg.Args); err != nil {
			return fmt.Errorf("declare exchange: %w", err)
		}

		return nil
	})
}

// QueueDeclareAndBind declares a queue and optionally binds it to an exchange.
func (c *Con) QueueDeclareAndBind(cfg *QueueDeclareAndBind) error {
	return c.withChannel(func(ch *amqp091.Channel) error {
		queue, err := ch.QueueDeclare(cfg.Name, cfg.Durable, cfg.AutoDelete, cfg.Exclusive, false, cfg.Args)
		if err != nil {
			return fmt.Errorf("create queue: %w", err)
		}

		if cfg.NoBind {
			return nil
		}

		if err = ch.QueueBind(queue.Name, cfg.RoutingKey, cfg.ExchangeName, false, cfg.BindArgs); err != nil {
			return fmt.Errorf("create queue binding: %w", err)
		}

		return nil
	})
}

// DeleteExchange removes an existing exchange by name.
func (c *Con) DeleteExchange(name string) error {
	return c.withChannel(func(ch *amqp091.Channel) error {
		if err := ch.ExchangeDelete(name, false, false); err != nil {
			return fmt.Errorf("delete exchange: %w", err)
		}

		return nil
	})
}

// DeleteQueue removes an existing queue by name.
func (c *Con) DeleteQueue(name string) error {
	return c.withChannel(func(ch *amqp091.Channel) error {
		if _, err := ch.QueueDelete(name, false, false, false); err != nil {
			return fmt.Errorf("delete queue: %w", err)
		}

		return nil
	})
}

// withChannel runs fn on a short-lived channel.
func (c *Con) withChannel(fn func(ch *amqp091.Channel) error) error {
	ch, err := c.connection.Channel()
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	defer func() {
		if err := ch.Close(); err != nil {
			c.logger.Debug("close channel", zap.Error(err))
		}
	}()

	return fn(ch)
}

// Consume implements broker.Session.
func (c *Con) Consume(queue string, prefetch int) (broker.Consumer, error) {
	return c.CreateConsumer(&ConsumerConfig{
		QueueName: queue,
		Prefetch:  prefetch,
	})
}

// Publisher implements broker.Session. Messages are persistent and confirmed.
func (c *Con) Publisher() (broker.Publisher, error) {
	return c.CreatePublisherWithConfirmation(&PublisherConfig{
		ExchangeName:      c.exchange,
		MessagePersistent: true,
		AppId:             c.appID,
	})
}

// CreateConsumer returns a new broker.Consumer instance or an error ConsumerConfEmptyError if the configuration is nil.
func (c *Con) CreateConsumer(cfg *ConsumerConfig) (broker.Consumer, error) {
	if cfg == nil {
		return nil, ConsumerConfEmptyError{}
	}

	consumer, err := newConsumer(c, *cfg)
	if err != nil {
		return nil, err
	}

	c.track(consumer)

	return consumer, nil
}

// CreatePublisherWithConfirmation returns a broker.Publisher that waits for broker confirmations.
func (c *Con) CreatePublisherWithConfirmation(cfg *PublisherConfig) (broker.Publisher, error) {
	if cfg == nil {
		return nil, PublisherConfEmptyError{}
	}

	publisher, err := newConfirmerPublisher(c, *cfg)
	if err != nil {
		return nil, err
	}

	c.track(publisher)

	return publisher, nil
}

func (c *Con) track(closer io.Closer) {
	c.mute.Lock()
	c.closers = append(c.closers, closer)
	c.mute.Unlock()
}

// createNotifyChan returns a channel to receive AMQP connection close notifications.
func (c *Con) createNotifyChan() chan *amqp091.Error {
	return c.connection.NotifyClose(make(chan *amqp091.Error, 1))
}

// Close releases every tracked consumer and publisher, then the connection.
// It is safe to call more than once.
func (c *Con) Close() error {
	var err error

	c.once.Do(func() {
		close(c.stop)

		c.mute.Lock()
		closers := c.closers
		c.closers = nil
		c.mute.Unlock()

		for _, closer := range closers {
			err = multierr.Append(err, closer.Close())
		}

		if c.connection.IsClosed() {
			return
		}

		if cerr := c.connection.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close connection error: %w", cerr))
		}
	})

	return err
}
