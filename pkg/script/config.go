package script

import (
	"fmt"
	"time"
)

// Security levels of the JavaScript sandbox.
const (
	SecurityLevelStrict     = "strict"
	SecurityLevelStandard   = "standard"
	SecurityLevelPermissive = "permissive"
)

// Config controls script execution.
type Config struct {
	// Timeout bounds one script or condition evaluation.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// SecurityLevel defines sandbox restrictions (strict, standard, permissive).
	SecurityLevel string `yaml:"security_level" json:"security_level,omitempty"`

	// MaxStackDepth limits the JavaScript call stack.
	MaxStackDepth int `yaml:"max_stack_depth" json:"max_stack_depth,omitempty"`

	// Pool sizes the VM pool.
	Pool PoolConfig `yaml:"pool" json:"pool"`
}

// DefaultConfig returns the defaults used when fields are left zero.
func DefaultConfig() Config {
	c := Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults sets default values for zero fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = SecurityLevelStandard
	}
	if c.MaxStackDepth == 0 {
		c.MaxStackDepth = 100
	}
	if c.Pool.MaxSize == 0 {
		c.Pool = DefaultPoolConfig()
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.SecurityLevel != SecurityLevelStrict &&
		c.SecurityLevel != SecurityLevelStandard &&
		c.SecurityLevel != SecurityLevelPermissive {
		return fmt.Errorf("invalid security level: %s", c.SecurityLevel)
	}
	if c.MaxStackDepth <= 0 {
		return fmt.Errorf("max_stack_depth must be positive")
	}
	return nil
}
