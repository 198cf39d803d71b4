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
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/netnook/gpio2mqtt/model"
)

// Stub is an in-memory implementation of the bridge API, used for testing
// without hardware. Input edges are injected with SetLevel, output levels
// are observed with Level.
type Stub struct {
	mutex  sync.Mutex
	levels map[int]bool
	opened map[int]struct{}
	edges  chan Edge
}

// NewStub creates an empty in-memory bridge.
func NewStub() *Stub {
	return &Stub{
		levels: make(map[int]bool),
		opened: make(map[int]struct{}),
		edges:  make(chan Edge, edgeBufferSize),
	}
}

// OpenInput claims the pin with the given number as an input.
func (s *Stub) OpenInput(pin int, pull model.Pull) (InputPin, error) {
	if err := s.claim(pin); err != nil {
		return nil, maskAny(err)
	}
	return &stubPin{stub: s, pin: pin}, nil
}

// OpenOutput claims the pin with the given number as an output.
func (s *Stub) OpenOutput(pin int, def *model.Level) (OutputPin, error) {
	if err := s.claim(pin); err != nil {
		return nil, maskAny(err)
	}
	if def != nil {
		s.mutex.Lock()
		s.levels[pin] = *def == model.LevelHigh
		s.mutex.Unlock()
	}
	return &stubPin{stub: s, pin: pin}, nil
}

func (s *Stub) claim(pin int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, found := s.opened[pin]; found {
		return errors.Errorf("pin %d already in use", pin)
	}
	s.opened[pin] = struct{}{}
	return nil
}

// WaitForEdge blocks until an injected edge arrives, the timeout expires or
// the context is cancelled.
func (s *Stub) WaitForEdge(ctx context.Context, timeout time.Duration) (Edge, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case edge := <-s.edges:
		return edge, true, nil
	case <-timer.C:
		return Edge{}, false, nil
	case <-ctx.Done():
		return Edge{}, false, maskAny(ctx.Err())
	}
}

// Close releases all claimed pins.
func (s *Stub) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.opened = make(map[int]struct{})
	return nil
}

// SetLevel sets the level of the given pin and injects a matching edge
// event when the level changes.
func (s *Stub) SetLevel(pin int, high bool) {
	s.mutex.Lock()
	changed := s.levels[pin] != high
	s.levels[pin] = high
	s.mutex.Unlock()
	if changed {
		s.edges <- Edge{Pin: pin, Rising: high}
	}
}

// Level returns the current level of the given pin.
func (s *Stub) Level(pin int) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.levels[pin]
}

type stubPin struct {
	stub *Stub
	pin  int
}

func (p *stubPin) Get() (bool, error) {
	p.stub.mutex.Lock()
	defer p.stub.mutex.Unlock()
	return p.stub.levels[p.pin], nil
}

func (p *stubPin) Set(high bool) error {
	p.stub.mutex.Lock()
	defer p.stub.mutex.Unlock()
	p.stub.levels[p.pin] = high
	return nil
}

func (p *stubPin) Toggle() error {
	p.stub.mutex.Lock()
	defer p.stub.mutex.Unlock()
	p.stub.levels[p.pin] = !p.stub.levels[p.pin]
	return nil
}
