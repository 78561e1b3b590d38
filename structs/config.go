package structs

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

const minIsolateMemoryMB = 8

// Config is the driver configuration. Values come from the environment
// (DRIVER_* variables) and may be overridden by flags in the binaries.
type Config struct {
	IsolateMemoryMB int    `env:"DRIVER_ISOLATE_MEMORY_MB" envDefault:"128"`
	ScriptTimeoutMS int    `env:"DRIVER_SCRIPT_TIMEOUT_MS" envDefault:"200"`
	HeartbeatMS     int    `env:"DRIVER_HEARTBEAT_MS" envDefault:"2000"`
	MaxIsolates     int    `env:"DRIVER_MAX_ISOLATES" envDefault:"8"`
	DataDir         string `env:"DRIVER_DATA_DIR"`
	MudlibDir       string `env:"DRIVER_MUDLIB_DIR"`
}

func ConfigFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing driver environment")
	}
	return cfg, nil
}

// Validate returns an error for configurations the driver must refuse to
// start with. These are the only fatal conditions outside pool disposal.
func (c *Config) Validate() error {
	if c.IsolateMemoryMB < minIsolateMemoryMB {
		return errors.Errorf("isolate memory ceiling %dMB below minimum %dMB", c.IsolateMemoryMB, minIsolateMemoryMB)
	}
	if c.ScriptTimeoutMS <= 0 {
		return errors.Errorf("script timeout must be positive, got %dms", c.ScriptTimeoutMS)
	}
	if c.HeartbeatMS <= 0 {
		return errors.Errorf("heartbeat interval must be positive, got %dms", c.HeartbeatMS)
	}
	if c.MaxIsolates <= 0 {
		return errors.Errorf("max isolates must be positive, got %d", c.MaxIsolates)
	}
	if c.DataDir == "" {
		return errors.New("data directory not configured")
	}
	if c.MudlibDir == "" {
		return errors.New("mudlib directory not configured")
	}
	return nil
}

func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.ScriptTimeoutMS) * time.Millisecond
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatMS) * time.Millisecond
}
