package config

import (
	"sync"

	"github.com/agentmesh/agentmesh/a2a"
)

var _ Config = (*InternalConfig)(nil)

// InternalConfig implements Config with in-memory storage. Useful for tests
// and embedded servers.
type InternalConfig struct {
	mu sync.RWMutex

	ListenAddrValue    string
	ServerNameValue    string
	ServerVersionValue string
	LogLevelValue      string

	AgentDescriptionValue *string
	AgentProviderValue    *a2a.AgentProvider
	AgentSkillsValue      []a2a.AgentSkill
	CapabilitiesValue     a2a.AgentCapabilities
	DefaultInputModes     []string
	DefaultOutputModes    []string

	SSLEnabledValue      bool
	SSLModeValue         string
	SSLCertFileValue     string
	SSLKeyFileValue      string
	SSLAcmeDomainsValue  []string
	SSLAcmeEmailValue    string
	SSLAcmeCacheDirValue string

	RateLimitRPSValue   int
	RateLimitBurstValue int
}

// NewInternalConfig creates an in-memory configuration with usable defaults.
func NewInternalConfig() *InternalConfig {
	return &InternalConfig{
		ListenAddrValue:    ":41241",
		ServerNameValue:    "Unknown Agent",
		ServerVersionValue: "0.0.0",
		LogLevelValue:      "info",
		CapabilitiesValue: a2a.AgentCapabilities{
			Streaming:         true,
			PushNotifications: true,
		},
		DefaultInputModes:    []string{"text"},
		DefaultOutputModes:   []string{"text"},
		SSLModeValue:         "manual",
		SSLAcmeCacheDirValue: "./.autocert-cache",
	}
}

func (c *InternalConfig) ListenAddr() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ListenAddrValue, nil
}

func (c *InternalConfig) ServerName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerNameValue, nil
}

func (c *InternalConfig) ServerVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerVersionValue, nil
}

func (c *InternalConfig) LogLevel() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LogLevelValue, nil
}

// AgentCard assembles the card from the configured base info.
func (c *InternalConfig) AgentCard(agentURL string) (*a2a.AgentCard, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	card := &a2a.AgentCard{
		Name:               c.ServerNameValue,
		Description:        c.AgentDescriptionValue,
		URL:                agentURL,
		PreferredTransport: a2a.TransportJSONRPC,
		Provider:           c.AgentProviderValue,
		Version:            c.ServerVersionValue,
		Capabilities:       c.CapabilitiesValue,
		DefaultInputModes:  append([]string(nil), c.DefaultInputModes...),
		DefaultOutputModes: append([]string(nil), c.DefaultOutputModes...),
		Skills:             append([]a2a.AgentSkill(nil), c.AgentSkillsValue...),
	}
	return card, nil
}

func (c *InternalConfig) SSLEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLEnabledValue, nil
}

func (c *InternalConfig) SSLMode() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLModeValue, nil
}

func (c *InternalConfig) SSLCertFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLCertFileValue, nil
}

func (c *InternalConfig) SSLKeyFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLKeyFileValue, nil
}

func (c *InternalConfig) SSLAcmeDomains() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.SSLAcmeDomainsValue...), nil
}

func (c *InternalConfig) SSLAcmeEmail() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLAcmeEmailValue, nil
}

func (c *InternalConfig) SSLAcmeCacheDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLAcmeCacheDirValue, nil
}

func (c *InternalConfig) RateLimitRPS() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RateLimitRPSValue, nil
}

func (c *InternalConfig) RateLimitBurst() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RateLimitBurstValue, nil
}

// Close is a no-op for the in-memory configuration.
func (c *InternalConfig) Close() {}
