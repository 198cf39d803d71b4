package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netnook/gpio2mqtt/model"
)

const (
	testTopic      = "the.topic"
	waitTimeout    = time.Second * 5
	waitTick       = time.Millisecond * 5
	testRetryDelay = time.Millisecond * 10
)

type fakePublish struct {
	topic   string
	payload string
}

// fakeClient is a scripted Client implementation.
type fakeClient struct {
	mutex       sync.Mutex
	connectErrs []error
	publishErrs []error
	connects    int
	subscribed  []string
	published   []fakePublish
	events      chan Event
	closed      bool
}

func newFakeClient(connectErrs ...error) *fakeClient {
	return &fakeClient{
		connectErrs: connectErrs,
		events:      make(chan Event, eventBufferSize),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeClient) Subscribe(ctx context.Context, topic string, qos byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeClient) Publish(ctx context.Context, topic string, qos byte, retain bool, msg interface{}) error {
	encodedMsg, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.publishErrs) > 0 {
		err := f.publishErrs[0]
		f.publishErrs = f.publishErrs[1:]
		return err
	}
	f.published = append(f.published, fakePublish{topic: topic, payload: string(encodedMsg)})
	return nil
}

func (f *fakeClient) Events() <-chan Event {
	return f.events
}

func (f *fakeClient) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) connectCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.connects
}

func (f *fakeClient) publishCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.published)
}

func (f *fakeClient) publishedAt(i int) fakePublish {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.published[i]
}

func startSession(client Client) (Session, chan model.Telemetry, chan model.CommandBatch, chan error, context.CancelFunc) {
	s := NewSession(SessionConfig{
		Topic:      testTopic,
		RetryDelay: testRetryDelay,
	}, SessionDependencies{
		Log:    zerolog.Nop(),
		Client: client,
	})
	ctx, cancel := context.WithCancel(context.Background())
	telemetry := make(chan model.Telemetry, 2)
	commands := make(chan model.CommandBatch, 2)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, telemetry, commands)
	}()
	return s, telemetry, commands, done, cancel
}

func TestRetryableErrorsRecover(t *testing.T) {
	ioErr := errors.New("i/o timeout")
	client := newFakeClient(ioErr, ioErr, ioErr)
	s, _, _, done, cancel := startSession(client)
	defer cancel()

	// Three retryable failures in a row, then success without operator
	// intervention.
	require.Eventually(t, func() bool {
		return s.State() == StateReady
	}, waitTimeout, waitTick)
	assert.Equal(t, 4, client.connectCount())

	cancel()
	require.NoError(t, <-done)
}

func TestRefusalAborts(t *testing.T) {
	client := newFakeClient(packets.ErrorRefusedNotAuthorised)
	s, _, _, done, cancel := startSession(client)
	defer cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "aborted")
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after refusal")
	}
	// Exactly one connection attempt, no retries.
	assert.Equal(t, 1, client.connectCount())
	assert.Equal(t, StateAborted, s.State())
}

func TestConnectionLostReconnects(t *testing.T) {
	client := newFakeClient()
	s, _, _, done, cancel := startSession(client)
	defer cancel()

	require.Eventually(t, func() bool {
		return s.State() == StateReady
	}, waitTimeout, waitTick)

	client.events <- Event{Kind: EventConnLost, Err: errors.New("connection aborted")}

	require.Eventually(t, func() bool {
		return s.State() == StateReady && client.connectCount() == 2
	}, waitTimeout, waitTick)

	cancel()
	require.NoError(t, <-done)
}

func TestSubscribesToSetTopic(t *testing.T) {
	client := newFakeClient()
	s, _, _, done, cancel := startSession(client)
	defer cancel()

	require.Eventually(t, func() bool {
		return s.State() == StateReady
	}, waitTimeout, waitTick)
	client.mutex.Lock()
	subscribed := append([]string(nil), client.subscribed...)
	client.mutex.Unlock()
	assert.Equal(t, []string{testTopic + "/set"}, subscribed)

	cancel()
	require.NoError(t, <-done)
}

func TestCommandForwarding(t *testing.T) {
	client := newFakeClient()
	s, _, commands, done, cancel := startSession(client)
	defer cancel()

	require.Eventually(t, func() bool {
		return s.State() == StateReady
	}, waitTimeout, waitTick)

	// Malformed payload: logged and dropped without affecting the session.
	client.events <- Event{Kind: EventMessage, Topic: testTopic + "/set", Payload: []byte(`{oops`)}
	// Message on an unrelated topic: ignored.
	client.events <- Event{Kind: EventMessage, Topic: "other.topic", Payload: []byte(`{"out1": "on"}`)}
	// Valid command: forwarded.
	client.events <- Event{Kind: EventMessage, Topic: testTopic + "/set", Payload: []byte(`{"out1": "on", "out2": 1}`)}

	select {
	case batch := <-commands:
		assert.Equal(t, model.CommandBatch{"out1": "on", "out2": float64(1)}, batch)
	case <-time.After(waitTimeout):
		t.Fatal("Timeout waiting for command batch")
	}
	// Nothing else was forwarded.
	assert.Empty(t, commands)
	assert.Equal(t, StateReady, s.State())

	cancel()
	require.NoError(t, <-done)
}

func TestPublishFailureKeepsSessionReady(t *testing.T) {
	client := newFakeClient()
	client.publishErrs = []error{errors.New("i/o timeout")}
	s, telemetry, _, done, cancel := startSession(client)
	defer cancel()

	require.Eventually(t, func() bool {
		return s.State() == StateReady
	}, waitTimeout, waitTick)

	// The first publish fails: logged and dropped, the session stays Ready
	// and later telemetry still goes out.
	telemetry <- model.Telemetry{"in1": true}
	telemetry <- model.Telemetry{"in1": false}

	require.Eventually(t, func() bool {
		return client.publishCount() == 1
	}, waitTimeout, waitTick)
	assert.JSONEq(t, `{"in1": false}`, client.publishedAt(0).payload)
	assert.Equal(t, StateReady, s.State())
	// No reconnect was triggered by the failed publish.
	assert.Equal(t, 1, client.connectCount())

	cancel()
	require.NoError(t, <-done)
}

func TestTelemetryPublishedInOrder(t *testing.T) {
	client := newFakeClient()
	s, telemetry, _, done, cancel := startSession(client)
	defer cancel()

	require.Eventually(t, func() bool {
		return s.State() == StateReady
	}, waitTimeout, waitTick)

	telemetry <- model.Telemetry{"in1": true}
	telemetry <- model.Telemetry{"in1": false}
	telemetry <- model.Telemetry{"in1": true, "in2": false}

	require.Eventually(t, func() bool {
		return client.publishCount() == 3
	}, waitTimeout, waitTick)

	first := client.publishedAt(0)
	assert.Equal(t, testTopic, first.topic)
	assert.JSONEq(t, `{"in1": true}`, first.payload)
	assert.JSONEq(t, `{"in1": false}`, client.publishedAt(1).payload)
	assert.JSONEq(t, `{"in1": true, "in2": false}`, client.publishedAt(2).payload)

	cancel()
	require.NoError(t, <-done)
}

func TestTelemetryRoundTrip(t *testing.T) {
	// A published snapshot decodes back to the source pin levels.
	client := newFakeClient()
	s, telemetry, _, done, cancel := startSession(client)
	defer cancel()

	require.Eventually(t, func() bool {
		return s.State() == StateReady
	}, waitTimeout, waitTick)

	source := model.Telemetry{"in1": true, "in2": false, "in3": true}
	telemetry <- source

	require.Eventually(t, func() bool {
		return client.publishCount() == 1
	}, waitTimeout, waitTick)

	var decoded model.Telemetry
	require.NoError(t, json.Unmarshal([]byte(client.publishedAt(0).payload), &decoded))
	assert.Equal(t, source, decoded)

	cancel()
	require.NoError(t, <-done)
}
