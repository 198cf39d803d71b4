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

	"github.com/pkg/errors"

	"github.com/netnook/gpio2mqtt/model"
)

var maskAny = errors.WithStack

// API of the bridge, the hardware layer that gives access to the
// GPIO pins of the host.
type API interface {
	// OpenInput claims the pin with the given number as an input with the
	// given bias and configures it to report edges in both directions.
	OpenInput(pin int, pull model.Pull) (InputPin, error)
	// OpenOutput claims the pin with the given number as an output.
	// When def is non-nil the pin is driven to that level, otherwise it
	// keeps its current level.
	OpenOutput(pin int, def *model.Level) (OutputPin, error)
	// WaitForEdge blocks until an edge is detected on any open input pin,
	// the given timeout expires (ok is false) or the context is cancelled.
	WaitForEdge(ctx context.Context, timeout time.Duration) (edge Edge, ok bool, err error)
	// Close releases all claimed pins.
	Close() error
}

// InputPin is a single claimed input pin.
type InputPin interface {
	// Get returns the current level of the pin.
	Get() (bool, error)
}

// OutputPin is a single claimed output pin.
type OutputPin interface {
	// Get returns the current level of the pin.
	Get() (bool, error)
	// Set drives the pin high or low.
	Set(high bool) error
	// Toggle inverts the current level of the pin.
	Toggle() error
}

// Edge describes a single level transition on an input pin.
type Edge struct {
	// Pin number on which the transition was detected.
	Pin int
	// Rising is true for a low to high transition.
	Rising bool
}
