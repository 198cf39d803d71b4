package inputs

import (
	"github.com/netnook/gpio2mqtt/pkg/metrics"
)

const (
	subSystem = "inputs"
)

var (
	// Number of edges detected on input pins
	edgesTotal = metrics.MustRegisterCounter(subSystem,
		"edges_total",
		"Number of edges detected on input pins")

	// Number of heartbeat snapshots emitted
	heartbeatsTotal = metrics.MustRegisterCounter(subSystem,
		"heartbeats_total",
		"Number of heartbeat snapshots emitted")

	// Number of failed pin reads
	readErrorsTotal = metrics.MustRegisterCounter(subSystem,
		"read_errors_total",
		"Number of failed pin reads")
)
