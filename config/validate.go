package config

import (
	"net/url"

	"github.com/couchup/couchup/errors"
)

// Validate validates the Config for required fields and value ranges.
func Validate(cfg *Config) error {
	switch {
	case cfg.Source == "" && cfg.Target == "":
		return errors.New("source URL and target URL are empty")
	case cfg.Source == "":
		return errors.New("source URL is empty")
	case cfg.Target == "":
		return errors.New("target URL is empty")
	case cfg.Source == cfg.Target:
		return errors.New("source URL and target URL are identical")
	}

	for _, u := range []string{cfg.Source, cfg.Target} {
		parsed, err := url.Parse(u)
		if err != nil {
			return errors.Wrapf(err, "invalid endpoint URL %q", u)
		}

		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return errors.Errorf("endpoint URL %q: scheme must be http or https", u)
		}
	}

	if cfg.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}

	if cfg.MetricsPort != 0 && (cfg.MetricsPort <= 1024 || cfg.MetricsPort > 65535) {
		return errors.New("metrics-port value is outside the supported range [1024 - 65535]")
	}

	if (cfg.Login == "") != (cfg.Password == "") {
		return errors.New("login and password must be provided together")
	}

	return nil
}
