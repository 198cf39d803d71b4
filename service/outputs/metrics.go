package outputs

import (
	"github.com/netnook/gpio2mqtt/pkg/metrics"
)

const (
	subSystem = "outputs"
)

var (
	// Number of command batches received
	commandsTotal = metrics.MustRegisterCounter(subSystem,
		"commands_total",
		"Number of command batches received")

	// Number of pin writes applied
	writesTotal = metrics.MustRegisterCounterVec(subSystem,
		"writes_total",
		"Number of pin writes applied",
		"directive")

	// Number of skipped command entries
	skippedTotal = metrics.MustRegisterCounterVec(subSystem,
		"skipped_total",
		"Number of skipped command entries",
		"reason")
)
