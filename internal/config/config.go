// Package config loads the two account configurations and the run options.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config is the complete configuration of one migration run.
type Config struct {
	Source      Account       `mapstructure:"source"`
	Destination Account       `mapstructure:"destination"`
	Debug       bool          `mapstructure:"debug"`
	KeepAlive   time.Duration `mapstructure:"keepalive"`
	DryRun      bool          `mapstructure:"dry_run"`
	TUI         bool          `mapstructure:"tui"`
	Yes         bool          `mapstructure:"yes"`
	Log         LoggingConfig `mapstructure:"log"`
}

// Account describes how to reach one mail account.
type Account struct {
	Host               string        `mapstructure:"host" validate:"required_without=Mbox"`
	Port               int           `mapstructure:"port" validate:"min=1,max=65535"`
	Username           string        `mapstructure:"username" validate:"required_without=Mbox"`
	Password           string        `mapstructure:"password" validate:"required_without=Mbox"`
	TLS                bool          `mapstructure:"tls"`
	StartTLS           bool          `mapstructure:"starttls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout"`
	// Mbox reads a local mbox file instead of connecting to a server.
	Mbox string `mapstructure:"mbox"`
	// Mailbox names the single mailbox an mbox file is exposed as.
	Mailbox string `mapstructure:"mailbox"`
}

// Addr returns host:port.
func (a Account) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// String identifies the account without its credentials.
func (a Account) String() string {
	if a.Mbox != "" {
		return "mbox:" + a.Mbox
	}
	return fmt.Sprintf("%s@%s", a.Username, a.Addr())
}

// LoggingConfig holds diagnostic logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	Output string `mapstructure:"output"`
}
