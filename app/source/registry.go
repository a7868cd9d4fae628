package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lysyi3m/concierge/app/event"
)

// ManualAdapter backs sources whose events arrive through the API.
type ManualAdapter struct{}

func (ManualAdapter) Fetch(context.Context, *Config) ([]byte, error) {
	return nil, fmt.Errorf("manual source has nothing to fetch: %w", ErrSourceSkipped)
}

func (ManualAdapter) Parse([]byte, *Config) ([]event.RawCandidate, error) {
	return nil, nil
}

type Registry struct {
	adapters map[Kind]Adapter
}

type RegistryOptions struct {
	HTTPClient        *http.Client
	UserAgent         string
	TelegramToken     string
	TelegramAPI       string
	RecurrenceHorizon time.Duration
}

func NewRegistry(opts RegistryOptions) *Registry {
	fetcher := NewFetcher(opts.HTTPClient, opts.UserAgent)

	return &Registry{
		adapters: map[Kind]Adapter{
			KindICS:      NewICSAdapter(fetcher, opts.RecurrenceHorizon),
			KindTelegram: NewTelegramAdapter(fetcher, opts.TelegramToken, opts.TelegramAPI),
			KindRSS:      NewRSSAdapter(fetcher),
			KindWebpage:  NewWebpageAdapter(fetcher),
			KindManual:   ManualAdapter{},
		},
	}
}

// Register replaces the adapter for kind.
func (r *Registry) Register(kind Kind, adapter Adapter) {
	r.adapters[kind] = adapter
}

func (r *Registry) Adapter(kind Kind) (Adapter, error) {
	adapter, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter for source kind '%s'", kind)
	}
	return adapter, nil
}
