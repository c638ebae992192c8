// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const mimeReadLimit = 512 //bytes that mime will read

// consumerTagPrefix is prepended to the queue name; each queue has exactly one consumer.
const consumerTagPrefix = "rabbitflow-"

// Client holds broker connection settings. URI, when set, wins over the
// Host/VHost/credential fields.
type Client struct {
	URI          string        `env:"URI" yaml:"uri"`
	Username     string        `env:"USERNAME" yaml:"-"`
	Password     string        `env:"PASSWORD" yaml:"-"`
	Host         string        `env:"HOST" yaml:"host"`
	VHost        string        `env:"VHOST" yaml:"vhost"`
	TcpHeartBeat time.Duration `env:"HEARTBEAT" yaml:"tcp_heartbeat"`
	AppID        string        `env:"APP_ID" yaml:"app_id"`
	Properties   amqp091.Table `yaml:"properties"`
}

type ConsumerConfig struct {
	QueueName string        `env:"QUEUE" yaml:"queue"`
	Prefetch  int           `env:"PREFETCH" yaml:"prefetch"`
	Args      amqp091.Table `env:"ARGS" yaml:"args"`
}

type PublisherConfig struct {
	ExchangeName      string `env:"EXCHANGE" yaml:"exchange"`
	MessagePersistent bool   `env:"PERSISTENT" yaml:"is_persistent"`
	AppId             string `env:"APP_ID" yaml:"app_id"`
}

type ExchangeDeclare struct {
	Name       string        `env:"NAME" yaml:"name"`
	Type       string        `env:"TYPE" yaml:"type"`
	Durable    bool          `env:"DURABLE" yaml:"durable"`
	AutoDelete bool          `env:"AUTO_DELETE" yaml:"auto_delete"`
	Internal   bool          `env:"INTERNAL" yaml:"internal"`
	Args       amqp091.Table `env:"ARGS" yaml:"args"`
}
type QueueDeclareAndBind struct {
	Name         string        `env:"NAME" yaml:"name"`
	NoBind       bool          `env:"NO_BIND" yaml:"no_bind"`
	RoutingKey   string        `env:"ROUTING_KEY" yaml:"routing_key"`
	ExchangeName string        `env:"EXCHANGE_NAME" yaml:"exchange_name"`
	BindArgs     amqp091.Table `env:"BIND_ARGS" yaml:"bind_args"`
	Durable      bool          `env:"DURABLE" yaml:"durable"`
	AutoDelete   bool          `env:"AUTO_DELETE" yaml:"auto_delete"`
	Exclusive    bool          `env:"EXCLUSIVE" yaml:"exclusive"`
	Args         amqp091.Table `env:"ARGS" yaml:"args"`
}

// RetryPair is a work queue together with the retry queue that holds its
// rejected messages for RetryInterval before sending them back.
type RetryPair struct {
	WorkQueue     string        `yaml:"work"`
	RetryQueue    string        `yaml:"retry"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}
