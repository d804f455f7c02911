package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the bot reads from the environment. A local
// .env file is loaded first when present; real environment variables win.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`

	CacheDir          string        `env:"CACHE_DIR" envDefault:"cache"`
	QueueBound        int           `env:"QUEUE_BOUND" envDefault:"100"`
	ReconnectDeadline time.Duration `env:"RECONNECT_DEADLINE" envDefault:"20s"`
	AcquireFailureCap int           `env:"ACQUIRE_FAILURE_CAP" envDefault:"3"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

func New() (*Config, error) {
	// No .env is fine; system environment alone is a valid setup.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
