package mqtt

import (
	"github.com/netnook/gpio2mqtt/pkg/metrics"
)

const (
	subSystem = "mqtt"
)

var (
	// Current session state (see ConnState values)
	stateGauge = metrics.MustRegisterGauge(subSystem,
		"session_state",
		"Current session state (0=disconnected ... 6=aborted)")

	// Number of reconnect waits entered
	reconnectsTotal = metrics.MustRegisterCounter(subSystem,
		"reconnects_total",
		"Number of reconnect waits entered")

	// Number of telemetry messages published
	publishesTotal = metrics.MustRegisterCounter(subSystem,
		"publishes_total",
		"Number of telemetry messages published")

	// Number of failed telemetry publishes
	publishFailuresTotal = metrics.MustRegisterCounter(subSystem,
		"publish_failures_total",
		"Number of failed telemetry publishes")

	// Number of command messages received
	commandsReceivedTotal = metrics.MustRegisterCounter(subSystem,
		"commands_received_total",
		"Number of command messages received")

	// Number of command payloads that failed to decode
	decodeFailuresTotal = metrics.MustRegisterCounter(subSystem,
		"decode_failures_total",
		"Number of command payloads that failed to decode")
)
