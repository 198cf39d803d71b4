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

package outputs

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/netnook/gpio2mqtt/model"
	"github.com/netnook/gpio2mqtt/service/bridge"
)

// Service owns the output pins and applies command batches to them.
type Service interface {
	// Run the actuator until the command channel is closed (normal
	// shutdown) or the given context is cancelled.
	// Runs on its own goroutine since pin writes block.
	Run(ctx context.Context, commands <-chan model.CommandBatch) error
}

type Config struct {
	// Pins to drive, by name.
	Pins map[string]model.OutputConfig
}

type Dependencies struct {
	Log    zerolog.Logger
	Bridge bridge.API
}

type service struct {
	Config
	Dependencies

	pins map[string]bridge.OutputPin
}

// NewService opens all configured output pins and returns the actuator.
// Each pin is driven to its configured default level, or left at its
// current level when no default is set. A pin that cannot be claimed is a
// fatal error.
func NewService(conf Config, deps Dependencies) (Service, error) {
	deps.Log = deps.Log.With().Str("component", "outputs").Logger()
	pins := make(map[string]bridge.OutputPin, len(conf.Pins))
	for name, output := range conf.Pins {
		pin, err := deps.Bridge.OpenOutput(output.Pin, output.Default)
		if err != nil {
			return nil, errors.Wrapf(err, "output '%s'", name)
		}
		pins[name] = pin
	}
	return &service{
		Config:       conf,
		Dependencies: deps,
		pins:         pins,
	}, nil
}

// Run the actuator until the command channel is closed.
func (s *service) Run(ctx context.Context, commands <-chan model.CommandBatch) error {
	s.Log.Info().Int("pins", len(s.pins)).Msg("Started output actuator")
	for {
		select {
		case batch, ok := <-commands:
			if !ok {
				// Producer side dropped: normal shutdown.
				return nil
			}
			commandsTotal.Inc()
			s.apply(batch)
		case <-ctx.Done():
			return nil
		}
	}
}

// apply writes every entry of the batch to its pin. Entries are independent:
// an unknown pin name or an uncoercible value is logged and skipped without
// affecting the other entries.
func (s *service) apply(batch model.CommandBatch) {
	for name, raw := range batch {
		log := s.Log.With().Str("pin", name).Logger()
		pin, found := s.pins[name]
		if !found {
			skippedTotal.WithLabelValues("unknown-pin").Inc()
			log.Warn().Msg("Unknown output pin")
			continue
		}
		directive, err := model.Coerce(raw)
		if err != nil {
			skippedTotal.WithLabelValues("bad-value").Inc()
			log.Warn().Err(err).Msg("Cannot coerce command value")
			continue
		}
		switch directive {
		case model.DirectiveHigh:
			err = pin.Set(true)
		case model.DirectiveLow:
			err = pin.Set(false)
		case model.DirectiveToggle:
			err = pin.Toggle()
		}
		if err != nil {
			skippedTotal.WithLabelValues("write-failed").Inc()
			log.Warn().Err(err).Msg("Write failed")
			continue
		}
		writesTotal.WithLabelValues(directive.String()).Inc()
		log.Debug().Str("directive", directive.String()).Msg("Applied command")
	}
}
