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
	"encoding/json"

	"github.com/pkg/errors"
)

// Directive is the coerced form of a raw actuation value for one pin.
type Directive int

const (
	DirectiveLow Directive = iota
	DirectiveHigh
	DirectiveToggle
)

// String returns a human readable directive name.
func (d Directive) String() string {
	switch d {
	case DirectiveLow:
		return "low"
	case DirectiveHigh:
		return "high"
	case DirectiveToggle:
		return "toggle"
	}
	return "unknown"
}

// Coerce converts a raw command payload value into an actuation directive.
// Supported encodings are booleans, the numbers 0 and 1, and the exact
// strings "on", "high", "1", "off", "low", "0" and "toggle".
// Numbers arrive as float64 (or json.Number) from encoding/json.
func Coerce(raw interface{}) (Directive, error) {
	switch value := raw.(type) {
	case bool:
		if value {
			return DirectiveHigh, nil
		}
		return DirectiveLow, nil
	case float64:
		switch value {
		case 1:
			return DirectiveHigh, nil
		case 0:
			return DirectiveLow, nil
		}
		return 0, errors.Wrapf(CoercionError, "cannot convert number '%v' to high/low/toggle", value)
	case int:
		switch value {
		case 1:
			return DirectiveHigh, nil
		case 0:
			return DirectiveLow, nil
		}
		return 0, errors.Wrapf(CoercionError, "cannot convert number '%d' to high/low/toggle", value)
	case json.Number:
		n, err := value.Int64()
		if err != nil {
			return 0, errors.Wrapf(CoercionError, "cannot convert number '%s' to high/low/toggle", value)
		}
		switch n {
		case 1:
			return DirectiveHigh, nil
		case 0:
			return DirectiveLow, nil
		}
		return 0, errors.Wrapf(CoercionError, "cannot convert number '%s' to high/low/toggle", value)
	case string:
		switch value {
		case "on", "high", "1":
			return DirectiveHigh, nil
		case "off", "low", "0":
			return DirectiveLow, nil
		case "toggle":
			return DirectiveToggle, nil
		}
		return 0, errors.Wrapf(CoercionError, "cannot convert string '%s' to high/low/toggle", value)
	}
	return 0, errors.Wrapf(CoercionError, "cannot convert value of type %T to high/low/toggle", raw)
}
