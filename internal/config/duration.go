package config

import (
	"fmt"
	"strings"
	"time"
)

// durationField is one duration-valued setting. An unset or zero value
// falls back to def; a zero def leaves the choice to the component.
type durationField struct {
	path string
	def  time.Duration
	get  func(*Config) string
}

var durationFields = []durationField{
	{"chat.timeout", 10 * time.Second, func(c *Config) string { return c.Chat.Timeout }},
	{"server.read_timeout", 10 * time.Second, func(c *Config) string { return c.Server.ReadTimeout }},
	{"server.write_timeout", 30 * time.Second, func(c *Config) string { return c.Server.WriteTimeout }},
	{"server.idle_timeout", 60 * time.Second, func(c *Config) string { return c.Server.IdleTimeout }},
	{"storage.busy_timeout", 5 * time.Second, func(c *Config) string { return c.Storage.BusyTimeout }},
	{"dispatch.retry_base", 0, func(c *Config) string { return c.Dispatch.RetryBase }},
	{"dispatch.retry_max_delay", 0, func(c *Config) string { return c.Dispatch.RetryMaxDelay }},
	{"dispatch.send_timeout", 0, func(c *Config) string { return c.Dispatch.SendTimeout }},
	{"dispatch.dedup_window", 0, func(c *Config) string { return c.Dispatch.DedupWindow }},
}

// Duration returns the parsed value of the duration setting at path, or its
// default when unset.
func (c *Config) Duration(path string) (time.Duration, error) {
	for _, f := range durationFields {
		if f.path != path {
			continue
		}
		d, err := ParseDurationField(path, f.get(c))
		if err != nil {
			return 0, err
		}
		if d <= 0 {
			return f.def, nil
		}
		return d, nil
	}
	return 0, fmt.Errorf("%s: not a duration setting", path)
}

func (c *Config) durationErrors() []error {
	var errs []error
	for _, f := range durationFields {
		if _, err := ParseDurationField(f.path, f.get(c)); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ParseDurationField parses a non-negative duration; empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
