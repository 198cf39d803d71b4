package mqtt

import (
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/pkg/errors"
)

// IsFatal returns true when the given connection error is an explicit
// refusal by the broker. Refusals carry a stated reason in the CONNACK and
// will not succeed on retry; everything else (I/O failures, timeouts,
// aborted connections) is retryable.
func IsFatal(err error) bool {
	switch errors.Cause(err) {
	case packets.ErrorRefusedBadProtocolVersion,
		packets.ErrorRefusedIDRejected,
		packets.ErrorRefusedServerUnavailable,
		packets.ErrorRefusedBadUsernameOrPassword,
		packets.ErrorRefusedNotAuthorised:
		return true
	}
	return false
}
