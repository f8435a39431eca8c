// Package config loads and holds the process-wide configuration snapshot.
//
// The on-disk format is TOML: a [network] table and an [irc] table. A
// Config is immutable once loaded; reloading (SIGHUP) produces a brand
// new *Config that callers swap in, they never mutate one in place.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"
)

// Network holds the listener-facing settings.
type Network struct {
	ListenAddress string `toml:"listen_address"`
	Hostname      string `toml:"hostname"`
	UseTLS        bool   `toml:"use_tls"`
}

// IRC holds the protocol-facing settings.
type IRC struct {
	Password string `toml:"password"`
	Timeout  int    `toml:"timeout"` // seconds
	Welcome  string `toml:"welcome"`
}

// Config is the full configuration snapshot, as stored in GlobalState.
type Config struct {
	Network Network `toml:"network"`
	IRC     IRC     `toml:"irc"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Network: Network{
			ListenAddress: "0.0.0.0:6667",
			Hostname:      "localhost",
			UseTLS:        false,
		},
		IRC: IRC{
			Password: "Ch4ng3Th1sP4ssw0rd",
			Timeout:  240,
			Welcome:  "Welcome to lircd",
		},
	}
}

// Load reads the TOML file at path and overlays it on top of Default().
// A missing hostname is replaced with the machine's resolved hostname.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("config: cannot parse %s: %w", path, err)
	}

	if c.Network.Hostname == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			c.Network.Hostname = h
		} else {
			c.Network.Hostname = "localhost"
		}
	}

	return c, nil
}

// Timeout returns the configured idle timeout as a time.Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.IRC.Timeout) * time.Second
}
