package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for human-readable YAML values like "30s".
type Duration struct {
	value time.Duration
}

// NewDuration creates a Duration from a time.Duration.
func NewDuration(d time.Duration) Duration {
	return Duration{value: d}
}

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration {
	return d.value
}

// IsZero reports whether the duration is unset.
func (d Duration) IsZero() bool {
	return d.value == 0
}

// String returns the string representation of the duration.
func (d Duration) String() string {
	return d.value.String()
}

// UnmarshalYAML implements yaml.Unmarshaler. Accepts either a duration string
// ("30s", "1m30s") or an integer number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err == nil {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, perr)
		}
		d.value = parsed
		return nil
	}

	var seconds int64
	if err := node.Decode(&seconds); err == nil {
		d.value = time.Duration(seconds) * time.Second
		return nil
	}

	return fmt.Errorf("invalid duration value at line %d", node.Line)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.value.String(), nil
}
