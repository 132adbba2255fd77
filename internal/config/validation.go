package config

import "fmt"

// Validate enforces §6's exit-code-1 contract: hostname and password are
// the only mandatory keys.
func Validate(cfg *Config) error {
	if cfg.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if cfg.Password == "" {
		return fmt.Errorf("password is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if cfg.LogLevel < 0 || cfg.LogLevel > 3 {
		return fmt.Errorf("log_level must be between 0 and 3")
	}
	if cfg.IdentdPort < 0 || cfg.IdentdPort > 65535 {
		return fmt.Errorf("identd_port must be between 0 and 65535")
	}
	return nil
}
