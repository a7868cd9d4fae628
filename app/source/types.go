package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/concierge/app/event"
)

type Kind string

const (
	KindICS      Kind = "ics"
	KindTelegram Kind = "telegram"
	KindRSS      Kind = "rss"
	KindWebpage  Kind = "webpage"
	KindManual   Kind = "manual"
)

// ErrSourceSkipped is returned by an adapter that cannot contact its source
// for lack of configuration. The source is left untouched rather than failed.
var ErrSourceSkipped = errors.New("source skipped")

var kindAliases = map[string]Kind{
	"feed": KindICS,
	"chat": KindTelegram,
}

// ParseKind resolves a declared source kind, accepting the legacy aliases
// "feed" and "chat".
func ParseKind(raw string) (Kind, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := kindAliases[value]; ok {
		return alias, nil
	}

	switch kind := Kind(value); kind {
	case KindICS, KindTelegram, KindRSS, KindWebpage, KindManual:
		return kind, nil
	}

	return "", fmt.Errorf("unknown source kind '%s'", raw)
}

// Adapter turns one source's raw content into event candidates. Fetch and
// Parse are separate so content can be parsed without network access.
type Adapter interface {
	Fetch(ctx context.Context, cfg *Config) ([]byte, error)
	Parse(data []byte, cfg *Config) ([]event.RawCandidate, error)
}

// Configuration types

type Config struct {
	Name     string         // Derived from filename (without .yml extension)
	Kind     Kind           `yaml:"kind"`
	URL      string         `yaml:"url"` // feed URL, page URL, file:// path or chat id
	Settings ConfigSettings `yaml:"settings"`
	Filters  []ConfigFilter `yaml:"filters"`
}

type ConfigSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Timeout  int    `yaml:"timeout"`  // seconds
	Timezone string `yaml:"timezone"` // applied to times without an explicit zone
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

const DefaultTimeout = 30

// DefaultConfig describes a source that has no YAML file, such as one
// registered through the API.
func DefaultConfig(name string, kind Kind, url string) *Config {
	return &Config{
		Name: name,
		Kind: kind,
		URL:  url,
		Settings: ConfigSettings{
			Enabled: true,
			Timeout: DefaultTimeout,
		},
	}
}

func (c *Config) Location() *time.Location {
	if c.Settings.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Settings.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) TimeoutDuration() time.Duration {
	if c.Settings.Timeout <= 0 {
		return DefaultTimeout * time.Second
	}
	return time.Duration(c.Settings.Timeout) * time.Second
}
