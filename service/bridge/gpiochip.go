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

package bridge

import (
	"context"
	"time"

	gpiod "github.com/warthog618/go-gpiocdev"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/netnook/gpio2mqtt/model"
)

const consumerName = "gpio2mqtt"

// edgeBufferSize bounds the number of edges buffered between the kernel
// event handler and WaitForEdge. Overflow drops edges; the heartbeat
// snapshot repairs any state missed that way.
const edgeBufferSize = 16

type chip struct {
	log   zerolog.Logger
	chip  *gpiod.Chip
	lines []*gpiod.Line
	edges chan Edge
}

// NewChip opens the GPIO character device with the given name (e.g. "gpiochip0").
func NewChip(name string, log zerolog.Logger) (API, error) {
	c, err := gpiod.NewChip(name, gpiod.WithConsumer(consumerName))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open GPIO chip '%s'", name)
	}
	return &chip{
		log:   log.With().Str("component", "bridge").Logger(),
		chip:  c,
		edges: make(chan Edge, edgeBufferSize),
	}, nil
}

// OpenInput claims the pin as an input with edge detection in both directions.
func (c *chip) OpenInput(pin int, pull model.Pull) (InputPin, error) {
	opts := []gpiod.LineReqOption{
		gpiod.AsInput,
		gpiod.WithBothEdges,
		gpiod.WithEventHandler(c.handleEvent),
	}
	switch pull {
	case model.PullUp:
		opts = append(opts, gpiod.WithPullUp)
	case model.PullDown:
		opts = append(opts, gpiod.WithPullDown)
	}
	line, err := c.chip.RequestLine(pin, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "pin %d not available", pin)
	}
	c.lines = append(c.lines, line)
	return &inputPin{line: line}, nil
}

// OpenOutput claims the pin as an output, driven to the given default level
// or left at its current level when no default is configured.
func (c *chip) OpenOutput(pin int, def *model.Level) (OutputPin, error) {
	initial := 0
	if def != nil {
		if *def == model.LevelHigh {
			initial = 1
		}
	} else {
		// No default configured: read the current level first so claiming
		// the pin does not glitch its state.
		probe, err := c.chip.RequestLine(pin, gpiod.AsInput)
		if err != nil {
			return nil, errors.Wrapf(err, "pin %d not available", pin)
		}
		value, err := probe.Value()
		probe.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read pin %d", pin)
		}
		initial = value
	}
	line, err := c.chip.RequestLine(pin, gpiod.AsOutput(initial))
	if err != nil {
		return nil, errors.Wrapf(err, "pin %d not available", pin)
	}
	c.lines = append(c.lines, line)
	return &outputPin{line: line}, nil
}

// handleEvent runs on the gpiocdev event goroutine and must not block.
func (c *chip) handleEvent(evt gpiod.LineEvent) {
	edge := Edge{
		Pin:    evt.Offset,
		Rising: evt.Type == gpiod.LineEventRisingEdge,
	}
	select {
	case c.edges <- edge:
	default:
		c.log.Warn().Int("pin", edge.Pin).Msg("Edge buffer full, dropping edge")
	}
}

// WaitForEdge blocks until an edge arrives, the timeout expires or the
// context is cancelled.
func (c *chip) WaitForEdge(ctx context.Context, timeout time.Duration) (Edge, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case edge := <-c.edges:
		return edge, true, nil
	case <-timer.C:
		return Edge{}, false, nil
	case <-ctx.Done():
		return Edge{}, false, maskAny(ctx.Err())
	}
}

// Close releases all claimed pins and the chip itself.
func (c *chip) Close() error {
	for _, line := range c.lines {
		if err := line.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to close line")
		}
	}
	c.lines = nil
	return maskAny(c.chip.Close())
}

type inputPin struct {
	line *gpiod.Line
}

func (p *inputPin) Get() (bool, error) {
	value, err := p.line.Value()
	if err != nil {
		return false, maskAny(err)
	}
	return value != 0, nil
}

type outputPin struct {
	line *gpiod.Line
}

func (p *outputPin) Get() (bool, error) {
	value, err := p.line.Value()
	if err != nil {
		return false, maskAny(err)
	}
	return value != 0, nil
}

func (p *outputPin) Set(high bool) error {
	value := 0
	if high {
		value = 1
	}
	return maskAny(p.line.SetValue(value))
}

func (p *outputPin) Toggle() error {
	value, err := p.line.Value()
	if err != nil {
		return maskAny(err)
	}
	return maskAny(p.line.SetValue(1 - value))
}
