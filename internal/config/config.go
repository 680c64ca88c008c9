package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lherron/redline/internal/diff"
	"github.com/lherron/redline/internal/merge"
	"github.com/lherron/redline/internal/segment"
)

// Config represents the application configuration
type Config struct {
	DBPath      string   `yaml:"db_path"`
	LogLevel    string   `yaml:"log_level"`
	LogFormat   string   `yaml:"log_format"`
	Output      string   `yaml:"output"`
	Granularity string   `yaml:"granularity"`
	Strategy    string   `yaml:"strategy"`
	WebhookURLs []string `yaml:"webhook_urls"`
	DaemonAddr  string   `yaml:"daemon_addr"`
	DaemonToken string   `yaml:"daemon_token"`

	RewordThreshold        float64 `yaml:"reword_threshold"`
	SemanticShiftThreshold float64 `yaml:"semantic_shift_threshold"`
	MatchFloor             float64 `yaml:"match_floor"`
}

func defaults() *Config {
	opts := diff.DefaultOptions()
	return &Config{
		LogLevel:               "info",
		LogFormat:              "text",
		Output:                 "table",
		Granularity:            string(segment.Paragraph),
		Strategy:               string(merge.StrategyConsensus),
		DaemonAddr:             "127.0.0.1:7171",
		RewordThreshold:        opts.RewordThreshold,
		SemanticShiftThreshold: opts.SemanticShiftThreshold,
		MatchFloor:             opts.MatchFloor,
	}
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/redline/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := defaults()

	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// YAML config is optional; only a malformed file is an error
	if err := loadYAMLConfig(cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config.yaml: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.DBPath == "" {
		if _, err := os.Stat(".redline/redline.db"); err == nil {
			cfg.DBPath = ".redline/redline.db"
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			cfg.DBPath = filepath.Join(homeDir, ".local", "share", "redline", "redline.db")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if dbPath := getEnvOrFile("REDLINE_DB_PATH", "REDLINE_DB_PATH_FILE"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if token := getEnvOrFile("REDLINE_DAEMON_TOKEN", "REDLINE_DAEMON_TOKEN_FILE"); token != "" {
		cfg.DaemonToken = token
	}
	for env, dst := range map[string]*string{
		"REDLINE_LOG_LEVEL":   &cfg.LogLevel,
		"REDLINE_LOG_FORMAT":  &cfg.LogFormat,
		"REDLINE_OUTPUT":      &cfg.Output,
		"REDLINE_GRANULARITY": &cfg.Granularity,
		"REDLINE_STRATEGY":    &cfg.Strategy,
		"REDLINE_DAEMON_ADDR": &cfg.DaemonAddr,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("REDLINE_WEBHOOK_URLS"); v != "" {
		cfg.WebhookURLs = splitList(v)
	}
	for env, dst := range map[string]*float64{
		"REDLINE_REWORD_THRESHOLD":         &cfg.RewordThreshold,
		"REDLINE_SEMANTIC_SHIFT_THRESHOLD": &cfg.SemanticShiftThreshold,
		"REDLINE_MATCH_FLOOR":              &cfg.MatchFloor,
	} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", env, v, err)
		}
		*dst = f
	}
	return nil
}

// splitList splits a comma or whitespace separated list
func splitList(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}

// Validate checks the engine settings
func (c *Config) Validate() error {
	if _, err := segment.ParseGranularity(c.Granularity); err != nil {
		return fmt.Errorf("invalid granularity: %w", err)
	}
	if _, err := merge.ParseStrategy(c.Strategy); err != nil {
		return fmt.Errorf("invalid strategy: %w", err)
	}
	if err := c.DiffOptions().Validate(); err != nil {
		return fmt.Errorf("invalid thresholds: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q: must be text or json", c.LogFormat)
	}
	return nil
}

// DiffOptions returns the configured similarity thresholds
func (c *Config) DiffOptions() diff.Options {
	return diff.Options{
		RewordThreshold:        c.RewordThreshold,
		SemanticShiftThreshold: c.SemanticShiftThreshold,
		MatchFloor:             c.MatchFloor,
	}
}

// DefaultGranularity returns the configured segmentation granularity
func (c *Config) DefaultGranularity() segment.Granularity {
	g, err := segment.ParseGranularity(c.Granularity)
	if err != nil {
		return segment.Paragraph
	}
	return g
}

// DefaultStrategy returns the configured merge strategy
func (c *Config) DefaultStrategy() merge.Strategy {
	s, err := merge.ParseStrategy(c.Strategy)
	if err != nil {
		return merge.StrategyConsensus
	}
	return s
}

// FilePath returns the location of the YAML config file
func FilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "redline", "config.yaml"), nil
}

// FileKeys returns the top-level keys set in the YAML config file, or nil
// when there is no file.
func FileKeys() map[string]bool {
	configPath, err := FilePath()
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil
	}
	var raw map[string]interface{}
	if yaml.Unmarshal(data, &raw) != nil {
		return nil
	}
	keys := make(map[string]bool, len(raw))
	for k := range raw {
		keys[k] = true
	}
	return keys
}

func loadYAMLConfig(cfg *Config) error {
	configPath, err := FilePath()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	if filePath := os.Getenv(fileVar); filePath != "" {
		if data, err := os.ReadFile(filePath); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, just check cwd
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Clean paths for reliable comparison
	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		// Stop if we've reached home directory
		if dir == homeDir {
			break
		}

		// Get parent directory
		parent := filepath.Dir(dir)

		// Stop if we've reached the filesystem root
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
