package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts either a Go duration string ("350ms") or a number of seconds
type Duration time.Duration

// D returns the value as a time.Duration
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		if parsed, perr := time.ParseDuration(s); perr == nil {
			*d = Duration(parsed)
			return nil
		}
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
