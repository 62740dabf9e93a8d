package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
)

// agentCardPath is the well-known discovery path.
const agentCardPath = "/.well-known/agent-card.json"

// FetchAgentCard retrieves the agent card from the standard well-known path
// of baseURL.
func FetchAgentCard(ctx context.Context, baseURL string, httpClient *http.Client, logger *zap.Logger) (*a2a.AgentCard, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	wellKnownURL := fmt.Sprintf("%s://%s%s", parsedURL.Scheme, parsedURL.Host, agentCardPath)

	logger.Debug("Fetching agent card", zap.String("url", wellKnownURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent card request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card from %s: %w", wellKnownURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch agent card from %s: status code %d", wellKnownURL, resp.StatusCode)
	}

	var card a2a.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to parse agent card JSON: %w", err)
	}
	if card.Name == "" || card.URL == "" || card.Version == "" {
		return nil, fmt.Errorf("invalid agent card: missing required fields (name, url, version)")
	}

	// Resolve a relative endpoint URL against the discovery host.
	cardURL, err := url.Parse(card.URL)
	if err != nil {
		logger.Warn("Agent card URL is invalid, falling back to base URL",
			zap.String("cardURL", card.URL), zap.String("baseURL", baseURL))
		card.URL = baseURL
	} else if !cardURL.IsAbs() {
		card.URL = parsedURL.ResolveReference(cardURL).String()
	}
	if card.PreferredTransport == "" {
		card.PreferredTransport = a2a.TransportJSONRPC
	}

	logger.Info("Fetched agent card", zap.String("agentName", card.Name), zap.String("agentVersion", card.Version))
	return &card, nil
}

// selectTransport picks the endpoint and protocol for the client from the
// card's advertised interfaces. An empty preference takes the card's
// preferred transport; otherwise the matching interface is looked up.
func selectTransport(card *a2a.AgentCard, preference string) (endpoint, transport string, err error) {
	preferred := card.PreferredTransport
	if preferred == "" {
		preferred = a2a.TransportJSONRPC
	}
	if preference == "" || preference == preferred {
		return card.URL, preferred, nil
	}
	for _, iface := range card.AdditionalInterfaces {
		if iface.Transport == preference {
			return iface.URL, iface.Transport, nil
		}
	}
	return "", "", fmt.Errorf("agent does not advertise transport %q", preference)
}
