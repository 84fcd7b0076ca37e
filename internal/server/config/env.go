package config

import "github.com/caarlos0/env/v11"

// EnvPrefix namespaces every environment variable read by parseEnv,
// e.g. CHANGESETD_DATABASE_DSN.
const EnvPrefix = "CHANGESETD_"

// parseEnv overlays values from CHANGESETD_* environment variables. Unset
// variables leave the current values in place.
func parseEnv(config *Config) {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		panic(err)
	}
}
