package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"

	"github.com/utafrali/catalogsync/pkg/validator"
)

// Load parses environment variables into the provided struct and then runs
// the struct's `validate` tags. The struct uses `env` tags for the mapping:
//
//	type Config struct {
//	    PageSize int    `env:"REINDEX_PAGE_SIZE" envDefault:"1000" validate:"gte=1"`
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := validator.Validate(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
