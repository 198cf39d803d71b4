package mqtt

import (
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(packets.ErrorRefusedBadProtocolVersion))
	assert.True(t, IsFatal(packets.ErrorRefusedIDRejected))
	assert.True(t, IsFatal(packets.ErrorRefusedServerUnavailable))
	assert.True(t, IsFatal(packets.ErrorRefusedBadUsernameOrPassword))
	assert.True(t, IsFatal(packets.ErrorRefusedNotAuthorised))

	// Wrapped refusals classify the same.
	assert.True(t, IsFatal(errors.Wrap(packets.ErrorRefusedNotAuthorised, "connect")))

	assert.False(t, IsFatal(errors.New("i/o timeout")))
	assert.False(t, IsFatal(packets.ErrorNetworkError))
	assert.False(t, IsFatal(nil))
}
