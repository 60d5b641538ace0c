package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FlagKeys maps command line flags onto configuration keys.
var FlagKeys = map[string]string{
	"src-host":     "source.host",
	"src-port":     "source.port",
	"src-user":     "source.username",
	"src-pass":     "source.password",
	"src-tls":      "source.tls",
	"src-starttls": "source.starttls",
	"src-insecure": "source.insecure_skip_verify",
	"mbox":         "source.mbox",
	"mbox-mailbox": "source.mailbox",
	"dst-host":     "destination.host",
	"dst-port":     "destination.port",
	"dst-user":     "destination.username",
	"dst-pass":     "destination.password",
	"dst-tls":      "destination.tls",
	"dst-starttls": "destination.starttls",
	"dst-insecure": "destination.insecure_skip_verify",
	"timeout":      "timeout",
	"keepalive":    "keepalive",
	"debug":        "debug",
	"dry-run":      "dry_run",
	"tui":          "tui",
	"yes":          "yes",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// Load reads configuration from defaults, an optional file, IMAPCOPY_*
// environment variables and flags, later sources overriding earlier ones.
// The result is not validated so that missing passwords can still be
// prompted for.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("IMAPCOPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Source.Timeout = accountTimeout(v, "source")
	cfg.Destination.Timeout = accountTimeout(v, "destination")
	return &cfg, nil
}

// accountTimeout falls back to the global timeout unless the account sets
// its own.
func accountTimeout(v *viper.Viper, side string) time.Duration {
	if key := side + ".timeout"; v.IsSet(key) {
		return v.GetDuration(key)
	}
	return v.GetDuration("timeout")
}

func setDefaults(v *viper.Viper) {
	for _, side := range []string{"source", "destination"} {
		v.SetDefault(side+".host", "")
		v.SetDefault(side+".username", "")
		v.SetDefault(side+".password", "")
		v.SetDefault(side+".port", 993)
		v.SetDefault(side+".tls", true)
		v.SetDefault(side+".starttls", false)
		v.SetDefault(side+".insecure_skip_verify", false)
	}
	v.SetDefault("source.mbox", "")
	v.SetDefault("source.mailbox", "INBOX")

	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("keepalive", time.Second)
	v.SetDefault("debug", false)
	v.SetDefault("dry_run", false)
	v.SetDefault("tui", false)
	v.SetDefault("yes", false)

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
}
