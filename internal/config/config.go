package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/NTOM/piskel2Houdini/internal/logger"
	"github.com/NTOM/piskel2Houdini/internal/task"
)

// EngineConfig locates the cook engine. All fields are optional; an
// empty engine still works when requests carry their own hython/hfs.
type EngineConfig struct {
	HFS          string   `toml:"hfs" mapstructure:"hfs"`
	Hython       string   `toml:"hython" mapstructure:"hython"`
	WorkerScript string   `toml:"worker_script" mapstructure:"worker_script"`
	Converter    string   `toml:"converter" mapstructure:"converter"`
	Env          []string `toml:"env" mapstructure:"env"`
}

// DefaultsConfig carries the stage budgets applied to requests that
// leave them empty.
type DefaultsConfig struct {
	TimeoutSec     int     `toml:"timeout_sec" mapstructure:"timeout_sec"`
	PostTimeoutSec int     `toml:"post_timeout_sec" mapstructure:"post_timeout_sec"`
	PostWaitSec    float64 `toml:"post_wait_sec" mapstructure:"post_wait_sec"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// Config represents the top-level TOML structure.
type Config struct {
	Listen        string `toml:"listen" mapstructure:"listen"`
	BasePath      string `toml:"base_path" mapstructure:"base_path"`
	MetricsListen string `toml:"metrics_listen" mapstructure:"metrics_listen"`

	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Engine   EngineConfig   `toml:"engine" mapstructure:"engine"`
	Defaults DefaultsConfig `toml:"defaults" mapstructure:"defaults"`
	Log      logger.Config  `toml:"log" mapstructure:"log"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
}

// Load parses a TOML config file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetDefault("listen", ":8899")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// TaskEngine maps the engine section onto the processor's view.
func (c Config) TaskEngine() task.Engine {
	return task.Engine{
		HFS:          c.Engine.HFS,
		Hython:       c.Engine.Hython,
		WorkerScript: c.Engine.WorkerScript,
		Converter:    c.Engine.Converter,
		Env:          c.Engine.Env,
	}
}

// TaskDefaults maps the defaults section onto the dispatcher's view.
func (c Config) TaskDefaults() task.Defaults {
	return task.Defaults{
		TimeoutSec:     c.Defaults.TimeoutSec,
		PostTimeoutSec: c.Defaults.PostTimeoutSec,
		PostWaitSec:    c.Defaults.PostWaitSec,
	}
}

// GlobalEnv merges env from config: top-level env, env_files contents,
// and optionally OS env when UseOSEnv is true.
// Precedence: OS env (when enabled) provides base; then apply file
// vars; then top-level env list overrides last.
func (c Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if c.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
