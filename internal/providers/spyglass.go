package providers

import (
	"context"

	"github.com/agentstation/banrelay/internal/transport"
)

// Spyglass serves known-account aliases from the spyglass API.
type Spyglass struct {
	url    string
	client *transport.Client
}

// NewSpyglass creates the alias provider.
func NewSpyglass(url string, client *transport.Client) *Spyglass {
	return &Spyglass{url: url, client: clientOrDefault(client, SpyglassName)}
}

// Name implements enrich.Provider.
func (s *Spyglass) Name() string {
	return SpyglassName
}

type knownAccount struct {
	Address string `json:"address"`
	Alias   string `json:"alias"`
}

// Fetch implements enrich.Provider. The known-accounts endpoint is a POST
// with an empty body.
func (s *Spyglass) Fetch(ctx context.Context) (map[string]string, error) {
	var known []knownAccount
	if err := s.client.PostJSON(ctx, s.url, nil, &known); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(known))
	for _, k := range known {
		if k.Address == "" || k.Alias == "" {
			continue
		}
		out[k.Address] = k.Alias
	}
	return out, nil
}
