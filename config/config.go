// Package config loads the daemon configuration: built-in defaults, then an
// optional YAML file, then EXTIPC_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/machinefabric/extipc-go/bridge"
	"github.com/machinefabric/extipc-go/client"
	"github.com/machinefabric/extipc-go/framing"
	"github.com/machinefabric/extipc-go/methods"
)

// EnvPrefix prefixes every environment override, e.g. EXTIPC_SOCKET_PATH
const EnvPrefix = "EXTIPC"

type Config struct {
	Socket     SocketConfig     `yaml:"socket"`
	Host       HostConfig       `yaml:"host"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Logger     LoggerConfig     `yaml:"logger"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Menu       MenuConfig       `yaml:"menu"`
	Launch     LaunchConfig     `yaml:"launch"`
	Extensions ExtensionsConfig `yaml:"extensions"`
	Apps       []methods.App    `yaml:"apps" ignored:"true"`
}

type SocketConfig struct {
	Path string `yaml:"path"`
}

// HostConfig describes how the extension host child process is run
type HostConfig struct {
	// Runtime forces the JavaScript runtime binary. EXTIPC_NODE_BIN also
	// sets it.
	Runtime      string        `yaml:"runtime" envconfig:"EXTIPC_NODE_BIN"`
	BundleDir    string        `yaml:"bundle_dir" split_words:"true"`
	Candidates   []string      `yaml:"candidates"`
	Entrypoint   string        `yaml:"entrypoint"`
	Args         []string      `yaml:"args"`
	StartTimeout time.Duration `yaml:"start_timeout" split_words:"true"`
	CallTimeout  time.Duration `yaml:"call_timeout" split_words:"true"`
	PidFile      string        `yaml:"pid_file" split_words:"true"`
	Disabled     bool          `yaml:"disabled"`
}

type GatewayConfig struct {
	MaxFrame int `yaml:"max_frame" split_words:"true"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. "127.0.0.1:9464"
	Addr string `yaml:"addr"`
}

type MenuConfig struct {
	// Command is the external chooser used for dmenu requests. Empty
	// disables dmenu.
	Command []string `yaml:"command"`
}

type LaunchConfig struct {
	Prefix   []string `yaml:"prefix"`
	Terminal []string `yaml:"terminal"`
}

type ExtensionsConfig struct {
	Dir string `yaml:"dir"`
}

// Defaults returns the configuration used when nothing overrides it
func Defaults() *Config {
	return &Config{
		Socket: SocketConfig{Path: client.DefaultSocketPath()},
		Host: HostConfig{
			BundleDir:    os.Getenv("APPDIR"),
			Candidates:   append([]string(nil), bridge.DefaultCandidates...),
			StartTimeout: bridge.DefaultStartTimeout,
			CallTimeout:  bridge.DefaultCallTimeout,
			PidFile:      filepath.Join(dataDir(), "extension-host.pid"),
		},
		Gateway: GatewayConfig{MaxFrame: framing.DefaultMaxFrame},
		Logger:  LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Launch:  LaunchConfig{Terminal: []string{"xterm", "-e"}},
		Extensions: ExtensionsConfig{
			Dir: filepath.Join(dataDir(), "extensions"),
		},
	}
}

func dataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "extipc")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "extipc")
	}
	return filepath.Join(os.TempDir(), "extipc")
}

// DefaultPath is $XDG_CONFIG_HOME/extipc/config.yaml
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "extipc.yaml"
	}
	return filepath.Join(dir, "extipc", "config.yaml")
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error. Overrides run last, before validation, and
// carry command line flags.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	for _, fn := range overrides {
		fn(cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides sets every field that has an EXTIPC_* variable.
// Fields without one keep their value.
func ApplyEnvOverrides(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// BridgeConfig is the host section as the bridge wants it
func (c *Config) BridgeConfig(version, commit string) bridge.Config {
	return bridge.Config{
		Runtime: bridge.RuntimeConfig{
			Override:   c.Host.Runtime,
			BundleDir:  c.Host.BundleDir,
			Candidates: c.Host.Candidates,
		},
		Entrypoint:   c.Host.Entrypoint,
		Args:         c.Host.Args,
		StartTimeout: c.Host.StartTimeout,
		CallTimeout:  c.Host.CallTimeout,
		PidFile:      c.Host.PidFile,
		Version:      version,
		Commit:       commit,
		Limits:       c.Limits(),
	}
}

// Limits returns the frame limits shared by both transports
func (c *Config) Limits() framing.Limits {
	return framing.Limits{MaxFrame: framing.Limits{MaxFrame: c.Gateway.MaxFrame}.Effective()}
}
