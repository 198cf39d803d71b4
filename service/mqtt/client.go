//    Copyright 2024 netnook
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// QosAtMostOnce represents "QoS 0: At most once delivery".
	QosAtMostOnce = byte(0)
	// QosAtLeastOnce represents "QoS 1: At least once delivery".
	QosAtLeastOnce = byte(1)
	// QosExactlyOnce represents "QoS 2: Exactly once delivery".
	QosExactlyOnce = byte(2)
)

const (
	keepAliveInterval = time.Second * 5
	connectTimeout    = time.Second * 5
	// eventBufferSize bounds the events buffered between the paho callbacks
	// and the session. The session drains this channel whenever it is Ready.
	eventBufferSize = 32
)

var maskAny = errors.WithStack

// EventKind discriminates the protocol events delivered by a Client.
type EventKind int

const (
	// EventConnAck is emitted when the broker acknowledged the connection.
	EventConnAck EventKind = iota
	// EventMessage is emitted for an incoming application message.
	EventMessage
	// EventConnLost is emitted when an established connection is lost.
	EventConnLost
)

// Event is a single protocol event observed on the bus connection.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte
	Err     error
}

// Client is the bus client consumed by the session. Implementations supply
// no retry of their own; the session provides retry and backoff on top.
type Client interface {
	// Connect to the broker. Blocks until the connection is acknowledged,
	// refused or timed out.
	Connect(ctx context.Context) error
	// Subscribe to a topic. Blocks until the subscription is acknowledged
	// or the context is cancelled.
	Subscribe(ctx context.Context, topic string, qos byte) error
	// Publish a JSON encoded message into a topic.
	Publish(ctx context.Context, topic string, qos byte, retain bool, msg interface{}) error
	// Events returns the stream of protocol events.
	Events() <-chan Event
	// Close the connection.
	Close() error
}

// Config for the MQTT client.
type Config struct {
	Host     string
	Port     int
	UserName string
	Password string
	ClientID string
}

// NewClient creates an MQTT client for the given broker.
// Automatic reconnection is disabled: the session state machine owns the
// retry policy.
func NewClient(config Config, logger zerolog.Logger) Client {
	c := &client{
		Config: config,
		log:    logger.With().Str("component", "mqtt-client").Logger(),
		events: make(chan Event, eventBufferSize),
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s", addr)).
		SetClientID(config.ClientID).
		SetKeepAlive(keepAliveInterval).
		SetConnectTimeout(connectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false)
	if config.UserName != "" {
		opts.SetUsername(config.UserName)
		opts.SetPassword(config.Password)
	}
	opts.SetOnConnectHandler(func(paho.Client) {
		c.emit(Event{Kind: EventConnAck})
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.emit(Event{Kind: EventConnLost, Err: err})
	})
	opts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
		c.emit(Event{Kind: EventMessage, Topic: msg.Topic(), Payload: msg.Payload()})
	})

	c.client = paho.NewClient(opts)
	return c
}

type client struct {
	Config
	log    zerolog.Logger
	client paho.Client
	events chan Event
}

// emit runs on paho callback goroutines and must not block them.
func (c *client) emit(evt Event) {
	select {
	case c.events <- evt:
	default:
		c.log.Warn().Int("kind", int(evt.Kind)).Msg("Event buffer full, dropping event")
	}
}

// Connect to the broker.
func (c *client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	select {
	case <-token.Done():
		return maskAny(token.Error())
	case <-ctx.Done():
		return maskAny(ctx.Err())
	}
}

// Subscribe to a topic.
func (c *client) Subscribe(ctx context.Context, topic string, qos byte) error {
	// Messages are delivered through the default publish handler.
	token := c.client.Subscribe(topic, qos, nil)
	select {
	case <-token.Done():
		return maskAny(token.Error())
	case <-ctx.Done():
		return maskAny(ctx.Err())
	}
}

// Publish a JSON encoded message into a topic.
func (c *client) Publish(ctx context.Context, topic string, qos byte, retain bool, msg interface{}) error {
	encodedMsg, err := json.Marshal(msg)
	if err != nil {
		return maskAny(err)
	}
	token := c.client.Publish(topic, qos, retain, encodedMsg)
	select {
	case <-token.Done():
		return maskAny(token.Error())
	case <-ctx.Done():
		return maskAny(ctx.Err())
	}
}

// Events returns the stream of protocol events.
func (c *client) Events() <-chan Event {
	return c.events
}

// Close the connection.
func (c *client) Close() error {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}
