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
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/netnook/gpio2mqtt/model"
)

// ConnState is the state of the bus session state machine.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateSubscribing
	StateReady
	StateRetryWait
	StateAborted
)

// String returns a human readable state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribing:
		return "subscribing"
	case StateReady:
		return "ready"
	case StateRetryWait:
		return "retry-wait"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

const (
	// defaultRetryDelay is the fixed wait between reconnect attempts.
	defaultRetryDelay = time.Second * 2
	publishTimeout    = time.Second * 5
	// setTopicSuffix is appended to the base topic to form the command topic.
	setTopicSuffix = "/set"
)

// Session owns the connection to the message bus. It publishes telemetry,
// forwards decoded command batches and recovers from retryable connection
// errors with a fixed backoff.
type Session interface {
	// Run the session until the given context is cancelled or the broker
	// refuses the connection (returned as an error).
	Run(ctx context.Context, telemetry <-chan model.Telemetry, commands chan<- model.CommandBatch) error
	// State returns the current connection state.
	State() ConnState
}

type SessionConfig struct {
	// Topic telemetry is published to. Commands arrive on Topic + "/set".
	Topic string
	// RetryDelay between reconnect attempts. Defaults to 2 seconds.
	RetryDelay time.Duration
}

type SessionDependencies struct {
	Log    zerolog.Logger
	Client Client
}

type session struct {
	SessionConfig
	SessionDependencies

	state    int32
	abortErr error
}

// NewSession creates the bus session for the given client.
func NewSession(conf SessionConfig, deps SessionDependencies) Session {
	deps.Log = deps.Log.With().Str("component", "mqtt").Logger()
	if conf.RetryDelay == 0 {
		conf.RetryDelay = defaultRetryDelay
	}
	return &session{
		SessionConfig:       conf,
		SessionDependencies: deps,
		state:               int32(StateDisconnected),
	}
}

// State returns the current connection state.
func (s *session) State() ConnState {
	return ConnState(atomic.LoadInt32(&s.state))
}

func (s *session) setState(next ConnState) {
	prev := ConnState(atomic.SwapInt32(&s.state, int32(next)))
	if prev != next {
		stateGauge.Set(float64(next))
		s.Log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("Session state changed")
	}
}

// fail classifies a connection error and moves the state machine to
// RetryWait (retryable) or Aborted (explicit refusal, terminal).
func (s *session) fail(err error) {
	if IsFatal(err) {
		s.Log.Error().Err(err).Msg("MQTT connection refused, aborting")
		s.abortErr = err
		s.setState(StateAborted)
		return
	}
	s.Log.Info().Err(err).Msg("MQTT connection error")
	s.setState(StateRetryWait)
}

// Run the session until the given context is cancelled or the broker
// refuses the connection.
func (s *session) Run(ctx context.Context, telemetry <-chan model.Telemetry, commands chan<- model.CommandBatch) error {
	defer s.Client.Close()
	setTopic := s.Topic + setTopicSuffix

	for {
		if ctx.Err() != nil {
			return nil
		}
		switch s.State() {
		case StateDisconnected:
			s.setState(StateConnecting)

		case StateConnecting:
			s.Log.Info().Msg("MQTT connecting")
			if err := s.Client.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.fail(err)
				continue
			}
			s.setState(StateConnected)

		case StateConnected:
			s.setState(StateSubscribing)

		case StateSubscribing:
			s.Log.Info().Str("topic", setTopic).Msg("MQTT connected, subscribing")
			if err := s.Client.Subscribe(ctx, setTopic, QosAtMostOnce); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.fail(err)
				continue
			}
			s.setState(StateReady)
			s.Log.Info().Msg("MQTT session ready")

		case StateReady:
			if err := s.runReady(ctx, telemetry, commands); err != nil {
				s.fail(err)
			}

		case StateRetryWait:
			reconnectsTotal.Inc()
			s.Log.Info().Dur("delay", s.RetryDelay).Msg("Waiting before reconnect")
			select {
			case <-time.After(s.RetryDelay):
				s.setState(StateConnecting)
			case <-ctx.Done():
				return nil
			}

		case StateAborted:
			return errors.Wrap(s.abortErr, "bus session aborted")
		}
	}
}

// runReady drains the telemetry channel into the telemetry topic and
// forwards incoming command messages, until the connection is lost (the
// returned error drives reclassification) or the context is cancelled.
func (s *session) runReady(ctx context.Context, telemetry <-chan model.Telemetry, commands chan<- model.CommandBatch) error {
	setTopic := s.Topic + setTopicSuffix
	events := s.Client.Events()

	for {
		select {
		case msg, ok := <-telemetry:
			if !ok {
				// Input poller gone: keep serving commands.
				telemetry = nil
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := s.Client.Publish(pctx, s.Topic, QosAtLeastOnce, false, msg)
			cancel()
			if err != nil {
				// Best effort beyond the protocol QoS: log and drop.
				publishFailuresTotal.Inc()
				s.Log.Warn().Err(err).Str("topic", s.Topic).Msg("Error publishing message")
			} else {
				publishesTotal.Inc()
			}

		case evt := <-events:
			switch evt.Kind {
			case EventMessage:
				if evt.Topic != setTopic {
					continue
				}
				commandsReceivedTotal.Inc()
				var batch model.CommandBatch
				if err := json.Unmarshal(evt.Payload, &batch); err != nil {
					decodeFailuresTotal.Inc()
					s.Log.Warn().Err(err).Str("payload", string(evt.Payload)).Msg("Error decoding command")
					continue
				}
				if len(batch) == 0 {
					continue
				}
				// Blocking send is accepted back-pressure: a full command
				// channel stalls event processing here until the actuator
				// catches up.
				select {
				case commands <- batch:
				case <-ctx.Done():
					return nil
				}
			case EventConnLost:
				if evt.Err == nil {
					return errors.New("connection lost")
				}
				return maskAny(evt.Err)
			case EventConnAck:
				// Already connected.
			}

		case <-ctx.Done():
			return nil
		}
	}
}
