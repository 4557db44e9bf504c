// Package config loads and validates the gatherer configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adybbroe/pytroll-collectors/errors"
)

// Defaults applied by Load when the file leaves an option unset.
const (
	DefaultTimeTolerance = 30 * time.Second
	DefaultTimeliness    = 1200 * time.Second
	DefaultTimeName      = "start_time"

	// PrematurePublishDisabled disables early publication of growing slots.
	PrematurePublishDisabled = -1
)

// Config is the complete gatherer configuration.
type Config struct {
	NATS NATSConfig `yaml:"nats"`

	// Patterns defines one fragment source per key.
	Patterns map[string]PatternConfig `yaml:"patterns"`

	// TimeToleranceSeconds merges fragments whose acquisition times differ
	// by less than this many seconds into one slot.
	TimeToleranceSeconds int `yaml:"time_tolerance"`

	// TimelinessSeconds is how long a slot waits for missing fragments
	// after its first evaluation.
	TimelinessSeconds int `yaml:"timeliness"`

	// NumFilesPrematurePublish publishes a still-growing slot once this
	// many wanted fragments have arrived for a source. -1 disables.
	NumFilesPrematurePublish int `yaml:"num_files_premature_publish"`

	// TimeName is the metadata field holding the acquisition time.
	TimeName string `yaml:"time_name"`

	// GroupByMinutes floors acquisition times to N-minute boundaries
	// before slot resolution. 0 disables.
	GroupByMinutes int `yaml:"group_by_minutes"`

	// KeepParsedKeys lists metadata keys whose filename-parsed value wins
	// over the value carried on the event.
	KeepParsedKeys []string `yaml:"keep_parsed_keys"`
}

// NATSConfig defines bus connection and addressing.
type NATSConfig struct {
	URL               string   `yaml:"url"`
	SubscribeSubjects []string `yaml:"subscribe_subjects"`
	PublishSubject    string   `yaml:"publish_subject"`
	Username          string   `yaml:"username"`
	Password          string   `yaml:"password"`
}

// PatternConfig defines one fragment source.
type PatternConfig struct {
	// Pattern is the filename template for the engine.
	Pattern string `yaml:"pattern"`

	// IsCriticalSet marks the whole source as mandatory for readiness.
	IsCriticalSet bool `yaml:"is_critical_set"`

	// CriticalFiles, WantedFiles and AllFiles are compact
	// "channel:segment-range" specification strings.
	CriticalFiles string `yaml:"critical_files"`
	WantedFiles   string `yaml:"wanted_files"`
	AllFiles      string `yaml:"all_files"`

	// VariableTags are fields that cannot be predicted in advance (such
	// as processing timestamps) and always render as wildcards.
	VariableTags []string `yaml:"variable_tags"`

	// GroupByMinutes overrides the top-level flooring for this source.
	GroupByMinutes int `yaml:"group_by_minutes"`

	// KeepParsedKeys extends the top-level list for this source.
	KeepParsedKeys []string `yaml:"keep_parsed_keys"`
}

// Load reads, decodes and validates a configuration file, applying
// defaults for unset options.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "read file")
	}

	cfg := &Config{
		TimeToleranceSeconds:     int(DefaultTimeTolerance.Seconds()),
		TimelinessSeconds:        int(DefaultTimeliness.Seconds()),
		NumFilesPrematurePublish: PrematurePublishDisabled,
		TimeName:                 DefaultTimeName,
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "decode yaml")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration, failing fast on anything the control
// loop could not run with.
func (c *Config) Validate() error {
	if len(c.Patterns) == 0 {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "no patterns defined")
	}
	for key, pattern := range c.Patterns {
		if pattern.Pattern == "" {
			return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate",
				fmt.Sprintf("pattern %q has no filename template", key))
		}
	}

	if c.NATS.URL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "nats.url is required")
	}
	if len(c.NATS.SubscribeSubjects) == 0 {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate",
			"nats.subscribe_subjects is required")
	}
	if c.NATS.PublishSubject == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate",
			"nats.publish_subject is required")
	}

	if c.TimeToleranceSeconds < 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate",
			"time_tolerance must not be negative")
	}
	if c.TimelinessSeconds <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate",
			"timeliness must be positive")
	}
	if c.NumFilesPrematurePublish == 0 || c.NumFilesPrematurePublish < PrematurePublishDisabled {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate",
			"num_files_premature_publish must be positive or -1 (disabled)")
	}
	if c.TimeName == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "time_name is required")
	}

	return nil
}

// TimeTolerance returns the slot matching tolerance as a duration.
func (c *Config) TimeTolerance() time.Duration {
	return time.Duration(c.TimeToleranceSeconds) * time.Second
}

// Timeliness returns the slot timeout window as a duration.
func (c *Config) Timeliness() time.Duration {
	return time.Duration(c.TimelinessSeconds) * time.Second
}

// GroupBy returns the effective flooring interval for a source: the
// per-pattern override when set, otherwise the top-level value. Zero
// disables flooring.
func (c *Config) GroupBy(key string) int {
	if p, ok := c.Patterns[key]; ok && p.GroupByMinutes > 0 {
		return p.GroupByMinutes
	}
	return c.GroupByMinutes
}

// KeepParsed returns the union of top-level and per-source keys whose
// filename-parsed values win over event-carried ones.
func (c *Config) KeepParsed(key string) []string {
	p, ok := c.Patterns[key]
	if !ok {
		return c.KeepParsedKeys
	}
	if len(p.KeepParsedKeys) == 0 {
		return c.KeepParsedKeys
	}
	keys := make([]string, 0, len(c.KeepParsedKeys)+len(p.KeepParsedKeys))
	keys = append(keys, c.KeepParsedKeys...)
	keys = append(keys, p.KeepParsedKeys...)
	return keys
}
