package sandbox

import (
	"fmt"
	"time"

	"github.com/wehubfusion/Aegis/pkg/concurrency"
)

// Config controls how transformation code is executed
type Config struct {
	// Timeout is the maximum wall-clock time of a single execution
	Timeout time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`

	// MaxCallStackSize bounds recursion inside the runtime
	MaxCallStackSize int `json:"max_call_stack_size,omitempty" mapstructure:"max_call_stack_size"`

	// MaxConcurrent caps simultaneous executions across the executor.
	// Zero derives the value from the environment (see concurrency.LoadConfig).
	MaxConcurrent int `json:"max_concurrent,omitempty" mapstructure:"max_concurrent"`

	// MaxConsoleEntries caps console output forwarded to the logger per execution
	MaxConsoleEntries int `json:"max_console_entries,omitempty" mapstructure:"max_console_entries"`
}

// ApplyDefaults sets default values for configuration fields
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxCallStackSize == 0 {
		c.MaxCallStackSize = 256
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = concurrency.LoadConfig().MaxConcurrent
	}
	if c.MaxConsoleEntries == 0 {
		c.MaxConsoleEntries = 100
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxCallStackSize <= 0 {
		return fmt.Errorf("max_call_stack_size must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if c.MaxConsoleEntries < 0 {
		return fmt.Errorf("max_console_entries must not be negative")
	}
	return nil
}
