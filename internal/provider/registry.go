package provider

import (
	"fmt"

	"activity_ingest/internal/domain"
)

type Registry struct {
	plugins map[string]Plugin
	order   []string
}

// NewRegistry builds the registry from an explicit plugin list. Duplicate identifiers panic.
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		id := p.Identifier()
		if _, exists := r.plugins[id]; exists {
			panic(fmt.Sprintf("provider %q registered twice", id))
		}
		r.plugins[id] = p
		r.order = append(r.order, id)
	}
	return r
}

func (r *Registry) Get(id string) (Plugin, error) {
	p, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (r *Registry) All() []Plugin {
	out := make([]Plugin, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.plugins[id])
	}
	return out
}

// Pullers returns the identifiers of scheduled providers.
func (r *Registry) Pullers() []string {
	var ids []string
	for _, id := range r.order {
		if _, ok := r.plugins[id].(Puller); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// OAuthServices returns identifiers of providers whose credentials come from an OAuth grant.
func (r *Registry) OAuthServices() []string {
	var ids []string
	for _, id := range r.order {
		if r.plugins[id].Capability() == CapabilityOAuth {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) Puller(id string) (Puller, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	puller, ok := p.(Puller)
	if !ok {
		return nil, fmt.Errorf("provider %q does not pull: %w", id, domain.ErrUnsupported)
	}
	return puller, nil
}

func (r *Registry) Converter(id string) (Converter, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	c, ok := p.(Converter)
	if !ok {
		return nil, fmt.Errorf("provider %q converts nothing: %w", id, domain.ErrUnsupported)
	}
	return c, nil
}

func (r *Registry) WebhookReceiver(id string) (WebhookReceiver, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	w, ok := p.(WebhookReceiver)
	if !ok {
		return nil, fmt.Errorf("provider %q takes no webhooks: %w", id, domain.ErrNotFound)
	}
	return w, nil
}
