package data

import (
	"sort"

	"InsightRelay/pkg/providers"
)

// ProviderRepo resolves provider ids to the configured wire clients.
type ProviderRepo struct {
	data *Data
}

// NewProviderRepo creates a ProviderRepo.
func NewProviderRepo(d *Data) *ProviderRepo {
	return &ProviderRepo{data: d}
}

// Client returns the client for provider, or false if it is not enabled.
func (r *ProviderRepo) Client(provider string) (providers.Client, bool) {
	c, ok := r.data.clients[provider]
	return c, ok
}

// Names lists the enabled providers in sorted order.
func (r *ProviderRepo) Names() []string {
	names := make([]string, 0, len(r.data.clients))
	for name := range r.data.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
