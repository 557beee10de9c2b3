// YAML options for the listener: saturation label threshold and slow span logging.
// Parsed with the same load-then-validate split as the rest of the configuration.
package amqptrace

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Options configures a Listener.
// A zero ThreadLabelThreshold never attaches saturation labels.
// A zero SlowThreshold disables slow span logs.
type Options struct {
	ThreadLabelThreshold time.Duration
	SlowThreshold        time.Duration
}

// rawOptions mirrors the YAML file. Thresholds are absent unless set.
type rawOptions struct {
	LabelThreadsWhenDurationMs *float64 `yaml:"label_threads_when_duration_ms,omitempty"`
	SlowThreshold              string   `yaml:"slow_threshold,omitempty"`
}

// LoadOptions reads and parses a YAML options file.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied config path is expected
	if err != nil {
		return Options{}, fmt.Errorf("reading options: %w", err)
	}
	return ParseOptions(data)
}

// ParseOptions parses YAML options and validates them.
func ParseOptions(data []byte) (Options, error) {
	var raw rawOptions
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Options{}, fmt.Errorf("parsing options: %w", err)
	}

	var opts Options
	if raw.LabelThreadsWhenDurationMs != nil {
		ms := *raw.LabelThreadsWhenDurationMs
		if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
			return Options{}, fmt.Errorf("label_threads_when_duration_ms must be a non-negative number, got %v", ms)
		}
		opts.ThreadLabelThreshold = MillisecondsToDuration(ms)
	}
	if raw.SlowThreshold != "" {
		d, err := time.ParseDuration(raw.SlowThreshold)
		if err != nil {
			return Options{}, fmt.Errorf("invalid slow_threshold %q: %w", raw.SlowThreshold, err)
		}
		opts.SlowThreshold = d
	}

	if err := ValidateOptions(opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// ValidateOptions rejects negative thresholds.
func ValidateOptions(opts Options) error {
	if opts.ThreadLabelThreshold < 0 {
		return fmt.Errorf("label_threads_when_duration_ms must not be negative")
	}
	if opts.SlowThreshold < 0 {
		return fmt.Errorf("slow_threshold must not be negative, got %s", opts.SlowThreshold)
	}
	return nil
}

// MillisecondsToDuration converts fractional milliseconds to a Duration.
func MillisecondsToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
