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

package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/netnook/gpio2mqtt/model"
	"github.com/netnook/gpio2mqtt/service/bridge"
	"github.com/netnook/gpio2mqtt/service/inputs"
	"github.com/netnook/gpio2mqtt/service/mqtt"
	"github.com/netnook/gpio2mqtt/service/outputs"
)

var maskAny = errors.WithStack

// channelCapacity bounds the telemetry and command channels. The small
// capacity provides back-pressure instead of unbounded buffering.
const channelCapacity = 2

// Service is the bridge runtime: input poller, output actuator and bus
// session wired together.
type Service interface {
	// Run the bridge until the given context is cancelled or the bus
	// session aborts.
	Run(ctx context.Context) error
	// State returns the current bus session state.
	State() mqtt.ConnState
}

type Config struct {
	// Topic telemetry is published to. Commands arrive on Topic + "/set".
	Topic string
	// Heartbeat between full state publications.
	Heartbeat time.Duration
	// OnChange enables a telemetry message on every detected edge.
	OnChange bool
	// Inputs to poll, by name.
	Inputs map[string]model.InputConfig
	// Outputs to drive, by name.
	Outputs map[string]model.OutputConfig
}

type Dependencies struct {
	Log    zerolog.Logger
	Bridge bridge.API
	Client mqtt.Client
}

type service struct {
	Config
	Dependencies

	inputs  inputs.Service
	outputs outputs.Service
	session mqtt.Session
}

// NewService creates a Service instance and returns it.
// All configured pins are claimed here so that hardware acquisition
// failures surface before the bridge starts.
func NewService(conf Config, deps Dependencies) (Service, error) {
	in, err := inputs.NewService(inputs.Config{
		Pins:      conf.Inputs,
		Heartbeat: conf.Heartbeat,
		OnChange:  conf.OnChange,
	}, inputs.Dependencies{
		Log:    deps.Log,
		Bridge: deps.Bridge,
	})
	if err != nil {
		return nil, maskAny(err)
	}
	out, err := outputs.NewService(outputs.Config{
		Pins: conf.Outputs,
	}, outputs.Dependencies{
		Log:    deps.Log,
		Bridge: deps.Bridge,
	})
	if err != nil {
		return nil, maskAny(err)
	}
	session := mqtt.NewSession(mqtt.SessionConfig{
		Topic: conf.Topic,
	}, mqtt.SessionDependencies{
		Log:    deps.Log,
		Client: deps.Client,
	})
	return &service{
		Config:       conf,
		Dependencies: deps,
		inputs:       in,
		outputs:      out,
		session:      session,
	}, nil
}

// State returns the current bus session state.
func (s *service) State() mqtt.ConnState {
	return s.session.State()
}

// Run the bridge until the given context is cancelled or the bus session
// aborts. The input poller and output actuator run on dedicated goroutines
// since both perform blocking hardware calls; the bus session owns the
// broker connection.
func (s *service) Run(ctx context.Context) error {
	telemetry := make(chan model.Telemetry, channelCapacity)
	commands := make(chan model.CommandBatch, channelCapacity)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The poller is the only telemetry producer.
		defer close(telemetry)
		return s.inputs.Run(ctx, telemetry)
	})
	g.Go(func() error {
		return s.outputs.Run(ctx, commands)
	})
	g.Go(func() error {
		// The session is the only command producer. Closing the channel
		// shuts the actuator down cleanly when the session ends.
		defer close(commands)
		return s.session.Run(ctx, telemetry, commands)
	})
	return g.Wait()
}
