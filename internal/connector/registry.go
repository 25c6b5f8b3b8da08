package connector

import (
	"fmt"
	"sort"

	"github.com/nikhilbhutani/paysync/internal/apperr"
)

// ErrUnsupportedProvider is matched with errors.Is on the reason.
var ErrUnsupportedProvider = apperr.Validation("unsupported_provider", "unsupported provider")

// Registry is built once at startup and never mutated afterwards.
type Registry struct {
	byName  map[string]Connector
	ordered []Connector
}

func NewRegistry(connectors ...Connector) (*Registry, error) {
	r := &Registry{byName: make(map[string]Connector, len(connectors))}
	for _, c := range connectors {
		name := Normalize(c.ProviderName())
		if name == "" {
			return nil, fmt.Errorf("connector with empty provider name")
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("connector %q registered twice", name)
		}
		r.byName[name] = c
		r.ordered = append(r.ordered, c)
	}
	sort.Slice(r.ordered, func(i, j int) bool {
		return Normalize(r.ordered[i].ProviderName()) < Normalize(r.ordered[j].ProviderName())
	})
	return r, nil
}

func (r *Registry) Get(providerType string) (Connector, error) {
	c, ok := r.byName[Normalize(providerType)]
	if !ok {
		return nil, apperr.Validation("unsupported_provider",
			fmt.Sprintf("provider %q is not supported", providerType))
	}
	return c, nil
}

func (r *Registry) All() []Connector {
	out := make([]Connector, len(r.ordered))
	copy(out, r.ordered)
	return out
}

type ProviderInfo struct {
	ProviderName  string `json:"providerName"`
	DisplayName   string `json:"displayName"`
	SupportsOAuth bool   `json:"supportsOAuth"`
}

func (r *Registry) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(r.ordered))
	for _, c := range r.ordered {
		out = append(out, ProviderInfo{
			ProviderName:  Normalize(c.ProviderName()),
			DisplayName:   c.DisplayName(),
			SupportsOAuth: c.SupportsOAuth(),
		})
	}
	return out
}
