package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type ConfigCache struct {
	sourcesDir string
	cache      map[string]*Config
	mu         sync.RWMutex
}

func NewConfigCache(sourcesDir string) *ConfigCache {
	return &ConfigCache{
		sourcesDir: sourcesDir,
		cache:      make(map[string]*Config),
	}
}

// Run loads every *.yml file in the sources directory. A missing directory
// is not an error: the service then only knows API-created sources.
func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.sourcesDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.sourcesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		sourceName := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := cc.LoadConfig(sourceName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Source configuration loaded", "source", sourceName, "kind", config.Kind, "enabled", config.Settings.Enabled)
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(sourceName string) (*Config, error) {
	configFile := filepath.Join(cc.sourcesDir, sourceName+".yml")
	config, err := parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	config.Name = sourceName

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[config.Name] = config

	return config, nil
}

func (cc *ConfigCache) GetConfig(sourceName string) (*Config, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	config, ok := cc.cache[sourceName]
	return config, ok
}

// GetConfigs returns the loaded configs ordered by name.
func (cc *ConfigCache) GetConfigs() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configs := make([]*Config, 0, len(cc.cache))
	for _, config := range cc.cache {
		configs = append(configs, config)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	kind, err := ParseKind(string(config.Kind))
	if err != nil {
		return nil, err
	}
	config.Kind = kind

	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = DefaultTimeout
	}

	return &config, nil
}

var validFilterFields = map[string]bool{
	"title":       true,
	"description": true,
	"location":    true,
}

func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if config.Name == "" {
		return fmt.Errorf("source name is required")
	}

	if config.URL == "" && config.Kind != KindManual {
		return fmt.Errorf("source URL is required for kind '%s'", config.Kind)
	}

	if config.Settings.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	if config.Settings.Timezone != "" {
		if _, err := time.LoadLocation(config.Settings.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", config.Settings.Timezone, err)
		}
	}

	for i, filter := range config.Filters {
		if !validFilterFields[filter.Field] {
			return fmt.Errorf("invalid filter field at index %d: %s", i, filter.Field)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("filter at index %d must have at least one include or exclude rule", i)
		}
	}

	return nil
}

func (cc *ConfigCache) RemoveConfig(sourceName string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	delete(cc.cache, sourceName)
}
