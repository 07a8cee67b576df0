package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be console or json", c.LogFormat))
	}

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderOllama, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider: %s", c.LLM.Provider))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max_retries must not be negative"))
	}
	if c.LLM.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("llm.requests_per_minute must not be negative"))
	}

	switch c.Chunker.Strategy {
	case "heuristic", "semantic":
	default:
		errs = append(errs, fmt.Errorf("chunker.strategy %q must be heuristic or semantic", c.Chunker.Strategy))
	}
	if c.Chunker.MaxLines <= 0 {
		errs = append(errs, fmt.Errorf("chunker.max_lines must be positive"))
	}

	switch c.Store.Backend {
	case StoreJSON:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for the json backend"))
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("store.sqlite_path is required for the sqlite backend"))
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("store.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend: %s", c.Store.Backend))
	}

	switch c.Cache.Backend {
	case CacheNone, CacheMemory, CacheRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend: %s", c.Cache.Backend))
	}

	if c.Embeddings.Enabled {
		if c.Store.Backend != StorePostgres {
			errs = append(errs, fmt.Errorf("embeddings require the postgres store backend"))
		}
		if c.Embeddings.Dimension <= 0 {
			errs = append(errs, fmt.Errorf("embeddings.dimension must be positive"))
		}
	}

	return errors.Join(errs...)
}
