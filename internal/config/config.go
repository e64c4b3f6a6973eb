package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/park285/cheese-analysis/internal/chess/uci"
	"github.com/park285/cheese-analysis/internal/events"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr   = "127.0.0.1:8765"
	DefaultRedisChannel = events.DefaultChannel
	DefaultEventBuffer  = 256
)

type AppConfig struct {
	StockfishPath     string   `yaml:"stockfish_path"`
	EngineArgs        []string `yaml:"engine_args"`
	EngineDepth       int      `yaml:"engine_depth"`
	EngineMateHorizon int      `yaml:"engine_mate_horizon"`
	// EngineOptions keeps declaration order; options are sent in that order.
	EngineOptions []uci.Option `yaml:"-"`

	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	RedisURL     string `yaml:"redis_url"`
	RedisChannel string `yaml:"redis_channel"`
	EventBuffer  int    `yaml:"event_buffer"`
}

type fileConfig struct {
	AppConfig     `yaml:",inline"`
	EngineOptions []struct {
		Name  string `yaml:"name"`
		Value string `yaml:"value"`
	} `yaml:"engine_options"`
}

// LoadDotEnv loads environment variables from path. A missing file is not an
// error; variables already set in the environment win.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load builds the config from defaults, then the YAML file named by
// ANALYSIS_CONFIG (if any), then the environment.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		EngineDepth:       uci.DefaultDepth,
		EngineMateHorizon: uci.DefaultMateHorizon,
		ListenAddr:        DefaultListenAddr,
		RedisChannel:      DefaultRedisChannel,
		EventBuffer:       DefaultEventBuffer,
	}

	if path := strings.TrimSpace(os.Getenv("ANALYSIS_CONFIG")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("STOCKFISH_PATH")); v != "" {
		cfg.StockfishPath = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_ARGS")); v != "" {
		cfg.EngineArgs = strings.Fields(v)
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineDepth = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_MATE_HORIZON")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineMateHorizon = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_OPTIONS")); v != "" {
		opts, err := ParseEngineOptions(v)
		if err != nil {
			return nil, err
		}
		cfg.EngineOptions = opts
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = splitList(v, ",")
	}

	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_CHANNEL")); v != "" {
		cfg.RedisChannel = v
	}
	if v := strings.TrimSpace(os.Getenv("EVENT_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EventBuffer = n
		}
	}

	if cfg.StockfishPath == "" {
		return nil, errors.New("STOCKFISH_PATH is required")
	}
	return cfg, nil
}

func (c *AppConfig) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	fc := fileConfig{AppConfig: *c}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	merged := fc.AppConfig
	// zero values in the file keep the defaults
	if merged.EngineDepth <= 0 {
		merged.EngineDepth = c.EngineDepth
	}
	if merged.EngineMateHorizon <= 0 {
		merged.EngineMateHorizon = c.EngineMateHorizon
	}
	if merged.EventBuffer <= 0 {
		merged.EventBuffer = c.EventBuffer
	}
	if strings.TrimSpace(merged.ListenAddr) == "" {
		merged.ListenAddr = c.ListenAddr
	}
	if strings.TrimSpace(merged.RedisChannel) == "" {
		merged.RedisChannel = c.RedisChannel
	}
	for _, o := range fc.EngineOptions {
		name := strings.TrimSpace(o.Name)
		if name == "" {
			return fmt.Errorf("config file %s: engine option without name", path)
		}
		merged.EngineOptions = append(merged.EngineOptions, uci.Option{Name: name, Value: strings.TrimSpace(o.Value)})
	}
	*c = merged
	return nil
}

// ParseEngineOptions parses "Name=Value;Name=Value". Option names may contain
// spaces ("Skill Level=10").
func ParseEngineOptions(s string) ([]uci.Option, error) {
	var out []uci.Option
	for _, part := range splitList(s, ";") {
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("ENGINE_OPTIONS: malformed entry %q", part)
		}
		out = append(out, uci.Option{Name: name, Value: strings.TrimSpace(value)})
	}
	return out, nil
}

// SessionConfig maps the engine settings onto a session config.
func (c *AppConfig) SessionConfig() uci.SessionConfig {
	return uci.SessionConfig{
		BinaryPath:  c.StockfishPath,
		Args:        append([]string(nil), c.EngineArgs...),
		Depth:       c.EngineDepth,
		MateHorizon: c.EngineMateHorizon,
		Options:     append([]uci.Option(nil), c.EngineOptions...),
	}
}

func splitList(v, sep string) []string {
	var out []string
	for _, p := range strings.Split(v, sep) {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
