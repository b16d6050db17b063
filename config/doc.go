// Package config loads gateflow configuration from YAML files and
// environment variables. Precedence is defaults, then file, then env.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("GATEFLOW").
//	    Load()
package config
