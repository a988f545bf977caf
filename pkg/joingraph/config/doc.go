/*
Package config provides type-safe access to YAML or JSON configuration.

# Overview

A Config wraps a decoded map[string]any. Accessors take a key and a
default; the default comes back when the key is missing or its value has
the wrong shape, so callers never deal with type assertions.

Keys may be dotted paths into nested sections:

	cfg, err := config.FromFile("joingraph.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	polls := cfg.Int("run.max_join_polls", 64)
	timeout := cfg.Duration("run.readiness_timeout", 0)
	model := cfg.Sub("model").String("name", "claude-sonnet-4-5")

# Type Coercion

Duration accepts a time.ParseDuration string, a number of seconds, or a
time.Duration. Int accepts any integer type and floats without a fractional
part. Float accepts floats and integers.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
