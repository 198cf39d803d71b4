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

package model

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultMqttPort is used when the configuration does not set a broker port.
	DefaultMqttPort = 1883
	// DefaultClientID is used when the configuration does not set a client identifier.
	DefaultClientID = "gpio2mqtt"
	// DefaultTopic is the base topic used when the configuration does not set one.
	DefaultTopic = "gpio2mqtt"
	// DefaultPublishInterval is the heartbeat interval (in seconds) between
	// full state publications.
	DefaultPublishInterval = 10
	// DefaultMetricsPort is the port the metrics server listens on.
	DefaultMetricsPort = 9641
)

// Config is the root configuration of the bridge.
type Config struct {
	Mqtt    MqttConfig              `yaml:"mqtt"`
	Publish PublishConfig           `yaml:"publish"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Inputs  map[string]InputConfig  `yaml:"inputs"`
	Outputs map[string]OutputConfig `yaml:"outputs"`
}

// MqttConfig holds the connection parameters for the MQTT broker.
type MqttConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// PublishConfig controls when telemetry messages are published.
type PublishConfig struct {
	// Interval between full state publications, in seconds.
	Interval int `yaml:"interval"`
	// OnChange enables a single-pin message on every detected edge.
	OnChange bool `yaml:"on_change"`
}

// MetricsConfig controls the optional HTTP metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// InputConfig describes a single GPIO input pin.
type InputConfig struct {
	Pin  int  `yaml:"pin"`
	Pull Pull `yaml:"pull"`
}

// OutputConfig describes a single GPIO output pin.
type OutputConfig struct {
	Pin int `yaml:"pin"`
	// Default is the level applied when the pin is opened.
	// When nil the pin is left at its current level.
	Default *Level `yaml:"default"`
}

// Pull selects the bias resistor of an input pin.
type Pull string

const (
	PullNone Pull = ""
	PullUp   Pull = "up"
	PullDown Pull = "down"
)

// Level is a digital output level.
type Level string

const (
	LevelLow  Level = "low"
	LevelHigh Level = "high"
)

// LoadConfig reads, parses and validates the configuration file at the given path.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(ValidationError, "missing config file %s", path)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return Config{}, errors.Wrapf(ValidationError, "error reading config: %s", err)
	}
	return parseConfig(content)
}

// parseConfig decodes the given YAML content into a validated Config.
// Unknown keys are rejected.
func parseConfig(content []byte) (Config, error) {
	conf := Config{
		Mqtt: MqttConfig{
			Port:     DefaultMqttPort,
			ClientID: DefaultClientID,
			Topic:    DefaultTopic,
		},
		Publish: PublishConfig{
			Interval: DefaultPublishInterval,
			OnChange: true,
		},
		Metrics: MetricsConfig{
			Port: DefaultMetricsPort,
		},
	}
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&conf); err != nil {
		return Config{}, errors.Wrapf(ValidationError, "invalid config file: %s", err)
	}
	if err := conf.Validate(); err != nil {
		return Config{}, maskAny(err)
	}
	return conf, nil
}

// Validate checks the invariants the bridge depends on, in particular
// that no two configured pins share a pin number.
func (c Config) Validate() error {
	if c.Mqtt.Host == "" {
		return errors.Wrap(ValidationError, "mqtt.host is required")
	}
	if c.Mqtt.Port <= 0 || c.Mqtt.Port > 65535 {
		return errors.Wrapf(ValidationError, "invalid mqtt.port %d", c.Mqtt.Port)
	}
	if c.Publish.Interval <= 0 {
		return errors.Wrapf(ValidationError, "invalid publish.interval %d", c.Publish.Interval)
	}
	pins := make(map[int]struct{})
	for name, input := range c.Inputs {
		if input.Pin < 0 {
			return errors.Wrapf(ValidationError, "invalid pin %d for input '%s'", input.Pin, name)
		}
		switch input.Pull {
		case PullNone, PullUp, PullDown:
			// OK
		default:
			return errors.Wrapf(ValidationError, "invalid pull '%s' for input '%s'", input.Pull, name)
		}
		if _, found := pins[input.Pin]; found {
			return errors.Wrapf(ValidationError, "duplicate use of pin %d", input.Pin)
		}
		pins[input.Pin] = struct{}{}
	}
	for name, output := range c.Outputs {
		if output.Pin < 0 {
			return errors.Wrapf(ValidationError, "invalid pin %d for output '%s'", output.Pin, name)
		}
		if output.Default != nil {
			switch *output.Default {
			case LevelLow, LevelHigh:
				// OK
			default:
				return errors.Wrapf(ValidationError, "invalid default '%s' for output '%s'", *output.Default, name)
			}
		}
		if _, found := pins[output.Pin]; found {
			return errors.Wrapf(ValidationError, "duplicate use of pin %d", output.Pin)
		}
		pins[output.Pin] = struct{}{}
	}
	return nil
}
