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

package inputs

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/netnook/gpio2mqtt/model"
	"github.com/netnook/gpio2mqtt/service/bridge"
)

// errorRetryDelay paces retries after a failed edge wait, so a persistent
// hardware error does not spin the poller.
const errorRetryDelay = time.Second

// Service polls the configured input pins and turns pin transitions into
// telemetry messages.
type Service interface {
	// Run the poller until the given context is cancelled.
	// Runs on its own goroutine since the edge wait blocks.
	Run(ctx context.Context, telemetry chan<- model.Telemetry) error
}

type Config struct {
	// Pins to poll, by name.
	Pins map[string]model.InputConfig
	// Heartbeat is the longest time between two telemetry messages.
	// When no edge is seen within this window, a full snapshot is sent.
	Heartbeat time.Duration
	// OnChange enables a single-pin delta message on every detected edge.
	OnChange bool
}

type Dependencies struct {
	Log    zerolog.Logger
	Bridge bridge.API
}

type service struct {
	Config
	Dependencies

	pins       map[string]bridge.InputPin
	namesByPin map[int]string
}

// NewService opens all configured input pins and returns the poller.
// A pin that cannot be claimed is a fatal error: the bridge does not start
// with a partially opened pin set.
func NewService(conf Config, deps Dependencies) (Service, error) {
	deps.Log = deps.Log.With().Str("component", "inputs").Logger()
	pins := make(map[string]bridge.InputPin, len(conf.Pins))
	namesByPin := make(map[int]string, len(conf.Pins))
	for name, input := range conf.Pins {
		pin, err := deps.Bridge.OpenInput(input.Pin, input.Pull)
		if err != nil {
			return nil, errors.Wrapf(err, "input '%s'", name)
		}
		pins[name] = pin
		namesByPin[input.Pin] = name
	}
	return &service{
		Config:       conf,
		Dependencies: deps,
		pins:         pins,
		namesByPin:   namesByPin,
	}, nil
}

// Run the poller until the given context is cancelled.
func (s *service) Run(ctx context.Context, telemetry chan<- model.Telemetry) error {
	s.Log.Info().Int("pins", len(s.pins)).Dur("heartbeat", s.Heartbeat).Msg("Started input poller")
	for {
		edge, ok, err := s.Bridge.WaitForEdge(ctx, s.Heartbeat)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.Log.Warn().Err(err).Msg("Edge wait failed")
			select {
			case <-time.After(errorRetryDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		var msg model.Telemetry
		if ok {
			edgesTotal.Inc()
			if !s.OnChange {
				continue
			}
			name, found := s.namesByPin[edge.Pin]
			if !found {
				// Should not happen with a validated pin map.
				name = fmt.Sprintf("pin-%d", edge.Pin)
			}
			s.Log.Debug().Str("pin", name).Bool("level", edge.Rising).Msg("Edge detected")
			msg = model.Telemetry{name: edge.Rising}
		} else {
			// No edge within the heartbeat window: publish the full state so
			// subscribers eventually observe true levels even after a missed
			// edge or a fresh subscription.
			heartbeatsTotal.Inc()
			msg = s.snapshot()
			if len(msg) == 0 {
				continue
			}
		}

		// A full channel blocks here: back-pressure from a slow or
		// disconnected bus session stalls polling instead of dropping data.
		select {
		case telemetry <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// snapshot reads the current level of every input pin.
func (s *service) snapshot() model.Telemetry {
	msg := make(model.Telemetry, len(s.pins))
	for name, pin := range s.pins {
		value, err := pin.Get()
		if err != nil {
			readErrorsTotal.Inc()
			s.Log.Warn().Err(err).Str("pin", name).Msg("Read failed")
			continue
		}
		msg[name] = value
	}
	return msg
}
