package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate = validator.New()

// Validate checks struct tags first, then the rules that span sections.
// Log levels are accepted in either case; ApplyDefaults normalises them.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "local":
		if cfg.Storage.Root == "" {
			return fmt.Errorf("storage.root: required for the local backend")
		}
	case "s3":
		if cfg.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket: required for the s3 backend")
		}
	}

	if cfg.Database.Driver != "none" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn: required for driver %q", cfg.Database.Driver)
	}
	if cfg.Metadata.Type == "database" && cfg.Database.Driver == "none" {
		return fmt.Errorf("metadata.type: database requires a database driver")
	}
	if cfg.Legacy.RowIDs && cfg.Database.Driver == "none" {
		return fmt.Errorf("legacy.row_ids: requires a database driver")
	}
	if cfg.GC.Enabled && cfg.Storage.Backend != "local" {
		return fmt.Errorf("gc.enabled: requires the local backend")
	}

	seen := make(map[string]bool, len(cfg.Tenants))
	for i, t := range cfg.Tenants {
		if seen[t] {
			return fmt.Errorf("tenants[%d]: duplicate tenant %q", i, t)
		}
		seen[t] = true
	}

	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
