// Package config loads the pulsemail client configuration.
//
// Configuration lives in a TOML file in the user config directory,
// with separate server/client sections for normal and testing use.
// Every value has a built-in default, so a missing file is not an
// error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Server addresses the remote collector.
type Server struct {
	Hostname string `toml:"hostname"`
	Port     int    `toml:"port"`
}

// Client holds delivery-layer tunables. CommitInterval is in seconds.
type Client struct {
	CommitInterval float64 `toml:"commit_interval"`
}

// Config is the full configuration file.
type Config struct {
	Server        Server `toml:"server"`
	Client        Client `toml:"client"`
	ServerTesting Server `toml:"server-testing"`
	ClientTesting Client `toml:"client-testing"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:        Server{Hostname: "127.0.0.1", Port: 7600},
		Client:        Client{CommitInterval: 10},
		ServerTesting: Server{Hostname: "127.0.0.1", Port: 5666},
		ClientTesting: Client{CommitInterval: 5},
	}
}

// Load reads the TOML file at path over the defaults. A missing file
// yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, nil
}

// PickServer returns the server section for the given mode.
func (c Config) PickServer(testing bool) Server {
	if testing {
		return c.ServerTesting
	}
	return c.Server
}

// PickCommitInterval returns the commit interval for the given mode.
func (c Config) PickCommitInterval(testing bool) time.Duration {
	s := c.Client.CommitInterval
	if testing {
		s = c.ClientTesting.CommitInterval
	}
	return time.Duration(s * float64(time.Second))
}

// Dir returns the per-application directory holding the config file,
// cached credentials, the device id, and the queued-request databases.
func Dir(appName string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, appName), nil
}

// File returns the config file path inside Dir.
func File(appName string) (string, error) {
	dir, err := Dir(appName)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName+".toml"), nil
}

// DeviceID returns the stable per-install identifier, generating and
// persisting one on first use.
func DeviceID(dir string) (string, error) {
	path := filepath.Join(dir, "device_id")
	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}
