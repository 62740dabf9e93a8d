// Package config provides server configuration backed by either an in-memory
// struct or a YAML file with hot reload.
package config

import (
	"errors"

	"github.com/agentmesh/agentmesh/a2a"
)

// ErrNotFound is returned for configuration lookups with no value.
var ErrNotFound = errors.New("not found")

// Config is the read surface the server and transports consume.
type Config interface {
	// ListenAddr returns the address the HTTP server binds to.
	ListenAddr() (string, error)
	// ServerName returns the human-readable server name.
	ServerName() (string, error)
	// ServerVersion returns the advertised version.
	ServerVersion() (string, error)
	// LogLevel returns the configured log level ("debug", "info", ...).
	LogLevel() (string, error)

	// AgentCard builds the agent card with agentURL as its endpoint.
	AgentCard(agentURL string) (*a2a.AgentCard, error)

	// SSLEnabled reports whether TLS is on.
	SSLEnabled() (bool, error)
	// SSLMode is "manual" (cert/key files) or "acme".
	SSLMode() (string, error)
	SSLCertFile() (string, error)
	SSLKeyFile() (string, error)
	SSLAcmeDomains() ([]string, error)
	SSLAcmeEmail() (string, error)
	SSLAcmeCacheDir() (string, error)

	// RateLimitRPS returns the per-client requests-per-second cap; zero
	// disables throttling.
	RateLimitRPS() (int, error)
	// RateLimitBurst returns the per-client burst allowance.
	RateLimitBurst() (int, error)

	// Close releases resources held by the configuration (file watchers).
	Close()
}
