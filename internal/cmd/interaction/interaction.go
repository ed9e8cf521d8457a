// Package interaction parses interaction command flags and composes the
// service entrypoint.
package interaction

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/louisbranch/auditorium.live/internal/platform/cmd"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/app"
)

// Config holds interaction command configuration.
type Config struct {
	HTTPAddr    string        `env:"AUDITORIUM_HTTP_ADDR"    envDefault:":8080"`
	HealthAddr  string        `env:"AUDITORIUM_HEALTH_ADDR"`
	DBPath      string        `env:"AUDITORIUM_DB_PATH"      envDefault:"data/interaction.db"`
	TokenSecret string        `env:"AUDITORIUM_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"AUDITORIUM_TOKEN_TTL"    envDefault:"24h"`
	FeedbackTTL time.Duration `env:"AUDITORIUM_FEEDBACK_TTL" envDefault:"8h"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "interaction HTTP listen address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "room token signing secret (empty disables auth)")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "room token lifetime")
	fs.DurationVar(&cfg.FeedbackTTL, "feedback-ttl", cfg.FeedbackTTL, "idle feedback survey lifetime")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the interaction app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceInteraction, func(ctx context.Context) error {
		if err := app.Run(ctx, app.Config{
			HTTPAddr:    cfg.HTTPAddr,
			HealthAddr:  cfg.HealthAddr,
			DBPath:      cfg.DBPath,
			TokenSecret: cfg.TokenSecret,
			TokenTTL:    cfg.TokenTTL,
			FeedbackTTL: cfg.FeedbackTTL,
		}); err != nil {
			return fmt.Errorf("serve interaction: %w", err)
		}
		return nil
	})
}
