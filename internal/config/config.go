// Package config loads server settings from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full server configuration. Every knob has an environment
// variable; only the JWT secret is mandatory.
type Config struct {
	// Addr is the listen address for the combined WebSocket/HTTP server.
	Addr string `env:"PRESENCE_ADDR" envDefault:":8080"`

	// JWTSecret is the HMAC secret shared with the bookstore backend.
	JWTSecret string `env:"PRESENCE_JWT_SECRET,required,notEmpty"`
	// JWTIssuer, when set, must match the token's iss claim.
	JWTIssuer string `env:"PRESENCE_JWT_ISSUER" envDefault:"bookstore"`

	// NATSURL points at the notification bus. Empty disables the ingest
	// bridge; the server then only delivers operator-originated messages.
	NATSURL string `env:"PRESENCE_NATS_URL"`

	// ShutdownTimeout bounds graceful drain on termination.
	ShutdownTimeout time.Duration `env:"PRESENCE_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"PRESENCE_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"PRESENCE_LOG_PRETTY" envDefault:"false"`
	LogFile   string `env:"PRESENCE_LOG_FILE"`
}

// Load reads the configuration. A .env file in the working directory is
// applied first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
