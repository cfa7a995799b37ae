package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/multistart/internal/optimization"
	"github.com/copyleftdev/multistart/internal/optimization/local"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimization struct {
		WorkerCount      int     `env:"OPT_WORKER_COUNT" envDefault:"10"`
		MaxIterations    int     `env:"OPT_MAX_ITERATIONS" envDefault:"1000"`
		MaxRunIterations int     `env:"OPT_MAX_RUN_ITERATIONS" envDefault:"100000"`
		MaxDimension     int     `env:"OPT_MAX_DIMENSION" envDefault:"1000"`
		BiasStart        int     `env:"OPT_BIAS_START" envDefault:"10"`
		Threshold        float64 `env:"OPT_THRESHOLD" envDefault:"1e-8"`
		LocalMethod      string  `env:"OPT_LOCAL_METHOD" envDefault:"bfgs"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && GetEnv("LOG_LEVEL", "") == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the optimization defaults served to clients.
func (c *Config) Validate() error {
	opt := c.Optimization
	if opt.WorkerCount <= 0 {
		return fmt.Errorf("OPT_WORKER_COUNT must be positive, got %d", opt.WorkerCount)
	}
	if opt.MaxIterations <= 0 {
		return fmt.Errorf("OPT_MAX_ITERATIONS must be positive, got %d", opt.MaxIterations)
	}
	if opt.MaxRunIterations < opt.MaxIterations {
		return fmt.Errorf("OPT_MAX_RUN_ITERATIONS (%d) must not be below OPT_MAX_ITERATIONS (%d)",
			opt.MaxRunIterations, opt.MaxIterations)
	}
	if opt.MaxDimension < optimization.DefaultDimension {
		return fmt.Errorf("OPT_MAX_DIMENSION must be at least %d, got %d", optimization.DefaultDimension, opt.MaxDimension)
	}
	if opt.BiasStart < 0 {
		return fmt.Errorf("OPT_BIAS_START must not be negative, got %d", opt.BiasStart)
	}
	if _, err := local.ParseMethod(opt.LocalMethod); err != nil {
		return fmt.Errorf("OPT_LOCAL_METHOD: %w", err)
	}
	return nil
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
