package model

// Telemetry maps pin names to their boolean level.
// A delta message carries a single entry (emitted on an edge), a snapshot
// carries one entry per configured input pin (emitted on heartbeat).
type Telemetry map[string]bool

// CommandBatch maps pin names to raw actuation values as decoded from a
// JSON command payload. Values are coerced per entry, see Coerce.
type CommandBatch map[string]interface{}
