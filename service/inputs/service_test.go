package inputs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netnook/gpio2mqtt/model"
	"github.com/netnook/gpio2mqtt/service/bridge"
)

const receiveTimeout = time.Second * 5

func receive(t *testing.T, telemetry <-chan model.Telemetry) model.Telemetry {
	t.Helper()
	select {
	case msg := <-telemetry:
		return msg
	case <-time.After(receiveTimeout):
		t.Fatal("Timeout waiting for telemetry")
		return nil
	}
}

func TestEdgeEmitsDelta(t *testing.T) {
	stub := bridge.NewStub()
	svc, err := NewService(Config{
		Pins: map[string]model.InputConfig{
			"in1": {Pin: 23, Pull: model.PullUp},
			"in2": {Pin: 24},
		},
		Heartbeat: time.Hour,
		OnChange:  true,
	}, Dependencies{
		Log:    zerolog.Nop(),
		Bridge: stub,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	telemetry := make(chan model.Telemetry, 2)
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx, telemetry)
	}()

	stub.SetLevel(23, true)
	msg := receive(t, telemetry)
	assert.Equal(t, model.Telemetry{"in1": true}, msg)

	stub.SetLevel(23, false)
	msg = receive(t, telemetry)
	assert.Equal(t, model.Telemetry{"in1": false}, msg)

	cancel()
	require.NoError(t, <-done)
}

func TestEdgeOnUnresolvablePinUsesNumberName(t *testing.T) {
	stub := bridge.NewStub()
	svc, err := NewService(Config{
		Pins: map[string]model.InputConfig{
			"in1": {Pin: 23},
		},
		Heartbeat: time.Hour,
		OnChange:  true,
	}, Dependencies{
		Log:    zerolog.Nop(),
		Bridge: stub,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	telemetry := make(chan model.Telemetry, 2)
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx, telemetry)
	}()

	// An edge on a pin with no configured name falls back to "pin-<number>".
	stub.SetLevel(99, true)
	msg := receive(t, telemetry)
	assert.Equal(t, model.Telemetry{"pin-99": true}, msg)

	cancel()
	require.NoError(t, <-done)
}

func TestHeartbeatEmitsSnapshot(t *testing.T) {
	stub := bridge.NewStub()
	svc, err := NewService(Config{
		Pins: map[string]model.InputConfig{
			"in1": {Pin: 23},
			"in2": {Pin: 24},
		},
		Heartbeat: time.Millisecond * 20,
		OnChange:  true,
	}, Dependencies{
		Log:    zerolog.Nop(),
		Bridge: stub,
	})
	require.NoError(t, err)

	// Level set before the poller starts: no edge is pending, only the
	// heartbeat can report it.
	stub.SetLevel(24, true)
	drainEdges(stub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	telemetry := make(chan model.Telemetry, 2)
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx, telemetry)
	}()

	msg := receive(t, telemetry)
	assert.Equal(t, model.Telemetry{"in1": false, "in2": true}, msg)

	cancel()
	require.NoError(t, <-done)
}

func TestOnChangeDisabledSuppressesDelta(t *testing.T) {
	stub := bridge.NewStub()
	svc, err := NewService(Config{
		Pins: map[string]model.InputConfig{
			"in1": {Pin: 23},
			"in2": {Pin: 24},
		},
		Heartbeat: time.Millisecond * 50,
		OnChange:  false,
	}, Dependencies{
		Log:    zerolog.Nop(),
		Bridge: stub,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	telemetry := make(chan model.Telemetry, 2)
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx, telemetry)
	}()

	stub.SetLevel(23, true)
	// The edge must not produce a delta; the next message is the heartbeat
	// snapshot reflecting the new level.
	msg := receive(t, telemetry)
	assert.Equal(t, model.Telemetry{"in1": true, "in2": false}, msg)

	cancel()
	require.NoError(t, <-done)
}

func TestOpenFailureIsFatal(t *testing.T) {
	stub := bridge.NewStub()
	// Claim pin 23 up front so the poller cannot.
	_, err := stub.OpenInput(23, model.PullNone)
	require.NoError(t, err)

	_, err = NewService(Config{
		Pins: map[string]model.InputConfig{
			"in1": {Pin: 23},
		},
		Heartbeat: time.Second,
		OnChange:  true,
	}, Dependencies{
		Log:    zerolog.Nop(),
		Bridge: stub,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in1")
}

func TestEdgeWaitErrorsArePaced(t *testing.T) {
	br := &failingBridge{}
	svc, err := NewService(Config{
		Pins: map[string]model.InputConfig{
			"in1": {Pin: 23},
		},
		Heartbeat: time.Second,
		OnChange:  true,
	}, Dependencies{
		Log:    zerolog.Nop(),
		Bridge: br,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	telemetry := make(chan model.Telemetry, 2)
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx, telemetry)
	}()

	// A persistent edge wait failure must not spin: within a fraction of
	// the retry delay only the initial attempts can have happened.
	time.Sleep(time.Millisecond * 100)
	assert.LessOrEqual(t, br.waitCount(), 2)

	// Cancellation during the retry wait returns promptly.
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(receiveTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

// failingBridge fails every edge wait.
type failingBridge struct {
	mutex sync.Mutex
	waits int
}

func (b *failingBridge) OpenInput(pin int, pull model.Pull) (bridge.InputPin, error) {
	return failingBridgePin{}, nil
}

func (b *failingBridge) OpenOutput(pin int, def *model.Level) (bridge.OutputPin, error) {
	return nil, errors.New("not supported")
}

func (b *failingBridge) WaitForEdge(ctx context.Context, timeout time.Duration) (bridge.Edge, bool, error) {
	b.mutex.Lock()
	b.waits++
	b.mutex.Unlock()
	return bridge.Edge{}, false, errors.New("edge wait broken")
}

func (b *failingBridge) Close() error { return nil }

func (b *failingBridge) waitCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.waits
}

type failingBridgePin struct{}

func (failingBridgePin) Get() (bool, error) { return false, nil }

// drainEdges discards edges injected during test setup.
func drainEdges(stub *bridge.Stub) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		_, ok, err := stub.WaitForEdge(ctx, time.Millisecond)
		if !ok || err != nil {
			return
		}
	}
}
