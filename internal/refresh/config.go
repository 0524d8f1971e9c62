package refresh

import (
	"fmt"
	"time"
)

type Config struct {
	// Parallelism is the number of workers consuming the task queue.
	Parallelism int `yaml:"parallelism" env:"REFRESH_PARALLELISM" env-default:"2"`

	// QueueCapacity bounds the number of tasks which may be waiting for a
	// worker at any one time. It also bounds how many finished tasks are
	// retained for inspection.
	QueueCapacity int `yaml:"queue_capacity" env:"REFRESH_QUEUE_CAPACITY" env-default:"64"`

	// MaxAge is how long a movies extended data is considered fresh.
	MaxAge time.Duration `yaml:"max_age" env:"REFRESH_MAX_AGE" env-default:"24h"`

	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"REFRESH_FETCH_TIMEOUT" env-default:"10s"`

	// SweepInterval is the period of the automatic orphan sweep. Zero disables it.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"REFRESH_SWEEP_INTERVAL" env-default:"1h"`
}

func (config Config) validate() error {
	if config.Parallelism < 1 {
		return fmt.Errorf("%w: parallelism must be at least 1, got %d", ErrConfiguration, config.Parallelism)
	}
	if config.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue capacity must be at least 1, got %d", ErrConfiguration, config.QueueCapacity)
	}
	if config.MaxAge < 0 {
		return fmt.Errorf("%w: max age must not be negative", ErrConfiguration)
	}
	if config.FetchTimeout <= 0 {
		return fmt.Errorf("%w: fetch timeout must be positive", ErrConfiguration)
	}
	if config.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep interval must not be negative", ErrConfiguration)
	}

	return nil
}
