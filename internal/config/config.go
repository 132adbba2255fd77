// Package config loads the gateway's key=value configuration file, with
// environment variable overrides, the way the teacher's viper setup did.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every recognized key from §6 of the external interface.
type Config struct {
	Hostname  string `mapstructure:"hostname"`
	Password  string `mapstructure:"password"`
	XMPPServerIP string `mapstructure:"xmpp_server_ip"`
	Port      int    `mapstructure:"port"`

	FixedIRCServer string `mapstructure:"fixed_irc_server"`
	Admin          string `mapstructure:"admin"`

	LogLevel int    `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	DBName          string `mapstructure:"db_name"`
	CAFile          string `mapstructure:"ca_file"`
	PolicyDirectory string `mapstructure:"policy_directory"`
	IdentdPort      int    `mapstructure:"identd_port"`

	RealnameCustomization bool `mapstructure:"realname_customization"`
	PersistentByDefault   bool `mapstructure:"persistent_by_default"`
}

// Load reads configPath (a "key=value" file, '#' starts a comment, per §6)
// and overlays BIBOUMI_-prefixed environment variables, the way the
// teacher's Load overlaid its own MQTT2IRC_ prefix. The file grammar is
// simple enough (no nesting, no lists) that it is parsed by hand rather
// than through one of viper's structured-format codecs (those target
// yaml/json/toml/ini documents, not this flat key=value dialect); viper
// itself still owns defaults, env overlay, and struct unmarshaling.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", 5347)
	v.SetDefault("xmpp_server_ip", "127.0.0.1")
	v.SetDefault("log_level", 1)
	v.SetDefault("realname_customization", true)
	v.SetDefault("persistent_by_default", false)

	if configPath != "" {
		pairs, err := parseKeyValueFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		m := make(map[string]any, len(pairs))
		for k, val := range pairs {
			m[k] = val
		}
		if err := v.MergeConfigMap(m); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	v.SetEnvPrefix("BIBOUMI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"hostname", "password", "xmpp_server_ip", "port", "fixed_irc_server",
		"admin", "log_level", "log_file", "db_name", "ca_file",
		"policy_directory", "identd_port", "realname_customization",
		"persistent_by_default",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// parseKeyValueFile implements the §6 config grammar: one "key=value" pair
// per line, blank lines and lines starting with '#' ignored, surrounding
// whitespace trimmed from both key and value.
func parseKeyValueFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out, sc.Err()
}
