package workload

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"blocklock/pkg/concurrency/lock"
	"blocklock/pkg/storage/block"
)

// RetryConfig is the backoff applied to transactions aborted by the lock
// manager.
type RetryConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	Limit     int           `yaml:"limit"`
}

// Config describes a workload run.
type Config struct {
	Lock      lock.Config   `yaml:"lock"`
	Rounds    int           `yaml:"rounds"`
	Blocks    int           `yaml:"blocks"`
	Think     time.Duration `yaml:"think"`
	BlockSize int           `yaml:"block_size"`
	Container string        `yaml:"container"`
	Retry     RetryConfig   `yaml:"retry"`
}

func DefaultConfig() Config {
	return Config{
		Lock:      lock.DefaultConfig(),
		Rounds:    10,
		Blocks:    4,
		Think:     10 * time.Millisecond,
		BlockSize: block.DefaultBlockSize,
		Container: "testfile",
		Retry: RetryConfig{
			BaseDelay: 5 * time.Millisecond,
			MaxDelay:  200 * time.Millisecond,
			Limit:     50,
		},
	}
}

func (c Config) Validate() error {
	if err := c.Lock.Validate(); err != nil {
		return err
	}
	switch {
	case c.Rounds <= 0:
		return errors.Newf("rounds must be positive, got %d", c.Rounds)
	case c.Blocks <= 0:
		return errors.Newf("blocks must be positive, got %d", c.Blocks)
	case c.Think < 0:
		return errors.Newf("think time must not be negative, got %s", c.Think)
	case c.Container == "":
		return errors.New("container name must not be empty")
	case c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay:
		return errors.Newf("invalid retry delays %s..%s", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	return nil
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing %s", path)
	}
	return cfg, cfg.Validate()
}
