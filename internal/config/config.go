package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the runtime configuration of the governance service.
type Config struct {
	HTTPAddr    string   `env:"HTTP_ADDR" envDefault:":8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	DatabaseDSN string   `env:"DATABASE_DSN" envDefault:"host=localhost user=user password=password dbname=agoradb port=5432 sslmode=disable"`
	RedisAddr   string   `env:"REDIS_ADDR" envDefault:"localhost:6380"`
	Relays      []string `env:"RELAYS" envSeparator:","`
	Communities []string `env:"COMMUNITIES" envSeparator:","`

	// PrivateKey is the hex secret of the local identity.
	PrivateKey string `env:"PRIVATE_KEY"`
	JWTSecret  string `env:"JWT_SECRET" envDefault:"change-me"`

	VerifySignatures bool `env:"VERIFY_SIGNATURES" envDefault:"true"`
	CountNonMembers  bool `env:"COUNT_NON_MEMBER_VOTES" envDefault:"false"`

	MinJoinTime          time.Duration `env:"MIN_JOIN_TIME" envDefault:"0s"`
	ProposalsPerDay      int           `env:"PROPOSALS_PER_DAY" envDefault:"5"`
	KickProposalsPerWeek int           `env:"KICK_PROPOSALS_PER_WEEK" envDefault:"3"`
	SharedThrottle       bool          `env:"SHARED_THROTTLE" envDefault:"false"`

	OrphanLimit  int           `env:"ORPHAN_LIMIT" envDefault:"1000"`
	OrphanWindow time.Duration `env:"ORPHAN_WINDOW" envDefault:"10m"`

	LocalesDir string `env:"LOCALES_DIR"`

	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`
	TelegramLang   string `env:"TELEGRAM_LANG" envDefault:"en"`
}

// Load reads an optional .env file and then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ProposalsPerDay < 0 || cfg.KickProposalsPerWeek < 0 {
		return nil, fmt.Errorf("throttle limits must not be negative")
	}
	if cfg.OrphanLimit <= 0 {
		return nil, fmt.Errorf("ORPHAN_LIMIT must be positive")
	}
	return cfg, nil
}
