package metrics

// Package metrics defines the recorder interfaces used to observe the
// estimation pipeline. Sinks like PromSink and InfluxSink record estimates,
// events and snapshot cycles and can be combined with NewMultiSink. The
// factory helpers return a MultiSink automatically when multiple sinks are
// configured.
