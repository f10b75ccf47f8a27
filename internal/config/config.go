package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration: session options plus the optional
// segment store.
type Config struct {
	Options map[string]any `yaml:"options"`
	Store   StoreConfig    `yaml:"store"`
}

type StoreConfig struct {
	// Backend is "memory", "redis" or empty for no store.
	Backend string        `yaml:"backend"`
	URL     string        `yaml:"url"`
	Prefix  string        `yaml:"prefix"`
	TTL     time.Duration `yaml:"ttl"`

	// MaxEntries caps the memory backend. Zero picks a default cap and a
	// negative value removes it.
	MaxEntries int `yaml:"max-entries"`
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

// LoadFromFile reads a YAML config, substituting ${VAR} and ${VAR:-default}
// from the environment before parsing.
func LoadFromFile(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file %s: only .yaml and .yml are allowed", cleanPath)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", cleanPath, err)
	}

	return Parse([]byte(substituteEnvVars(string(data))))
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	return &cfg, nil
}

// Session builds a Session from the defaults overlaid with the configured
// options. Keys are applied in sorted order so errors are deterministic.
func (c *Config) Session() (*Session, error) {
	s := NewSession()

	keys := make([]string, 0, len(c.Options))
	for k := range c.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := s.Set(k, c.Options[k]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadEnvFiles loads the given .env files that exist. Variables already set
// are not overridden, so earlier files take precedence.
func LoadEnvFiles(envFiles []string) {
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		if err := godotenv.Load(envFile); err != nil {
			fiberlog.Warnf("Config: failed to load %s: %v", envFile, err)
			continue
		}
		fiberlog.Debugf("Config: loaded environment from %s", envFile)
	}
}

func substituteEnvVars(content string) string {
	return envPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		if value := os.Getenv(submatches[1]); value != "" {
			return value
		}
		if len(submatches) > 2 {
			return strings.TrimPrefix(submatches[2], "-")
		}
		return ""
	})
}
