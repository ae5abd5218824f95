package qdrant

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/danutirta/tanyadata-backend/internal/platform/envutil"
)

// Config holds connection settings for the Qdrant HTTP API. The client is
// collection-agnostic: callers name the collection on every operation, so the
// same client can serve every knowledge collection in the pipeline.
type Config struct {
	URL       string
	APIKey    string
	VectorDim int
}

type ConfigError struct {
	Code    string
	Message string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("qdrant config error (%s): %s", e.Code, e.Message)
}

func cfgErr(code, msg string) *ConfigError {
	return &ConfigError{Code: code, Message: msg}
}

// ResolveConfigFromEnv reads QDRANT_URL, QDRANT_API_KEY and QDRANT_VECTOR_DIM
// and validates the result, so callers get a usable Config or an error.
func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:       strings.TrimSpace(envutil.String("QDRANT_URL", "")),
		APIKey:    strings.TrimSpace(envutil.String("QDRANT_API_KEY", "")),
		VectorDim: envutil.Int("QDRANT_VECTOR_DIM", 1536),
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if cfg.URL == "" {
		return cfgErr("missing_url", "QDRANT_URL is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return cfgErr("invalid_url", fmt.Sprintf("QDRANT_URL %q is not a valid absolute URL", cfg.URL))
	}
	if cfg.VectorDim <= 0 {
		return cfgErr("invalid_vector_dim", fmt.Sprintf("QDRANT_VECTOR_DIM must be positive, got %d", cfg.VectorDim))
	}
	return nil
}
