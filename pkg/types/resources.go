package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Defaults applied to a deployment when the operator leaves a field unset.
const (
	DefaultMemory       = "512Mi"
	DefaultMinInstances = 0
	DefaultPort         = 8080
)

// Resources is the per-revision resource configuration submitted to the runtime.
type Resources struct {
	// Memory limit, e.g. "512Mi", "1Gi"
	Memory string `json:"memory" yaml:"memory"`

	// CPU limit, e.g. "1", "500m"; empty leaves the platform default
	CPU string `json:"cpu,omitempty" yaml:"cpu,omitempty"`

	// MinInstances of zero lets the runtime scale to zero when idle
	MinInstances int `json:"minInstances" yaml:"minInstances"`

	// MaxInstances of zero leaves the platform default
	MaxInstances int `json:"maxInstances,omitempty" yaml:"maxInstances,omitempty"`

	// Port the container listens on; the runtime passes it as PORT
	Port int `json:"port" yaml:"port"`

	// Concurrency is max concurrent requests per instance; zero leaves the platform default
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// RequestTimeout; zero leaves the platform default
	RequestTimeout time.Duration `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty"`
}

// DefaultResources returns the documented defaults.
func DefaultResources() Resources {
	return Resources{
		Memory:       DefaultMemory,
		MinInstances: DefaultMinInstances,
		Port:         DefaultPort,
	}
}

// WithDefaults fills unset fields from DefaultResources.
func (r Resources) WithDefaults() Resources {
	d := DefaultResources()
	if r.Memory == "" {
		r.Memory = d.Memory
	}
	if r.Port == 0 {
		r.Port = d.Port
	}
	return r
}

// Validate checks resource values before submission.
func (r Resources) Validate() error {
	if mem, err := ParseMemory(r.Memory); err != nil {
		return WrapValidationError(err, "invalid memory %q", r.Memory)
	} else if mem <= 0 {
		return NewValidationError(fmt.Sprintf("memory must be positive, got %q", r.Memory))
	}
	if r.CPU != "" {
		if cpu, err := ParseCPU(r.CPU); err != nil || cpu <= 0 {
			return NewValidationError(fmt.Sprintf("invalid cpu %q", r.CPU))
		}
	}
	if r.MinInstances < 0 {
		return NewValidationError("min instances cannot be negative")
	}
	if r.MaxInstances < 0 {
		return NewValidationError("max instances cannot be negative")
	}
	if r.MaxInstances > 0 && r.MinInstances > r.MaxInstances {
		return NewValidationError(fmt.Sprintf("min instances (%d) must not exceed max instances (%d)", r.MinInstances, r.MaxInstances))
	}
	if r.Port < 1 || r.Port > 65535 {
		return NewValidationError(fmt.Sprintf("port must be between 1 and 65535, got %d", r.Port))
	}
	if r.Concurrency < 0 {
		return NewValidationError("concurrency cannot be negative")
	}
	if r.RequestTimeout < 0 {
		return NewValidationError("request timeout cannot be negative")
	}
	return nil
}

// ParseCPU parses a CPU limit string into cores.
// Examples: "100m" -> 0.1, "0.5" -> 0.5, "2" -> 2.0
func ParseCPU(cpu string) (float64, error) {
	if cpu == "" {
		return 0, nil
	}
	if strings.HasSuffix(cpu, "m") {
		millicores, err := strconv.Atoi(cpu[:len(cpu)-1])
		if err != nil {
			return 0, err
		}
		return float64(millicores) / 1000.0, nil
	}
	return strconv.ParseFloat(cpu, 64)
}

// memoryUnits maps lower-cased suffixes to bytes.
var memoryUnits = map[string]int64{
	"":   1,
	"k":  1000,
	"m":  1000 * 1000,
	"g":  1000 * 1000 * 1000,
	"t":  1000 * 1000 * 1000 * 1000,
	"ki": 1 << 10,
	"mi": 1 << 20,
	"gi": 1 << 30,
	"ti": 1 << 40,
}

// ParseMemory parses a memory limit string into bytes.
// Examples: "512Mi" -> 536870912, "1Gi" -> 1073741824, "2G" -> 2000000000
func ParseMemory(memory string) (int64, error) {
	memory = strings.ToLower(strings.TrimSpace(memory))
	if memory == "" {
		return 0, NewValidationError("memory is required")
	}

	split := len(memory)
	for split > 0 && !strings.ContainsAny(memory[split-1:split], "0123456789.") {
		split--
	}
	value, unit := memory[:split], memory[split:]

	num, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, NewValidationError("invalid memory quantity: " + memory)
	}
	multiplier, ok := memoryUnits[unit]
	if !ok {
		return 0, NewValidationError("unknown memory unit: " + unit)
	}
	return int64(num * float64(multiplier)), nil
}
