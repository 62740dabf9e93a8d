package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentmesh/agentmesh/a2a"
)

var _ Config = (*YamlConfig)(nil)

// YamlConfig implements Config with YAML file-based storage. The file is
// re-read on every change event when watching is started.
type YamlConfig struct {
	mu         sync.RWMutex
	configPath string
	logger     *zap.Logger
	watcher    *fsnotify.Watcher
	stopCh     chan struct{}

	listenAddr    string
	serverName    string
	serverVersion string
	logLevel      string

	agentDescription *string
	agentProvider    *a2a.AgentProvider
	agentSkills      []a2a.AgentSkill
	capabilities     a2a.AgentCapabilities

	sslEnabled      bool
	sslMode         string
	sslCertFile     string
	sslKeyFile      string
	sslAcmeDomains  []string
	sslAcmeEmail    string
	sslAcmeCacheDir string

	rateLimitRPS   int
	rateLimitBurst int
}

// yamlFile is the on-disk configuration structure.
type yamlFile struct {
	Server struct {
		Address  string `yaml:"address"`
		Name     string `yaml:"name"`
		Version  string `yaml:"version"`
		LogLevel string `yaml:"log_level"`
		SSL      struct {
			Enabled      bool     `yaml:"enabled"`
			Mode         string   `yaml:"mode"`
			CertFile     string   `yaml:"cert_file"`
			KeyFile      string   `yaml:"key_file"`
			AcmeDomains  []string `yaml:"acme_domains"`
			AcmeEmail    string   `yaml:"acme_email"`
			AcmeCacheDir string   `yaml:"acme_cache_dir"`
		} `yaml:"ssl"`
		RateLimit struct {
			RPS   int `yaml:"rps"`
			Burst int `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`

	Agent struct {
		Description  *string            `yaml:"description"`
		Provider     *a2a.AgentProvider `yaml:"provider"`
		Capabilities struct {
			Streaming         bool `yaml:"streaming"`
			PushNotifications bool `yaml:"push_notifications"`
		} `yaml:"capabilities"`
		Skills []a2a.AgentSkill `yaml:"skills"`
	} `yaml:"agent"`
}

// NewYamlConfig loads the configuration from configPath.
func NewYamlConfig(configPath string, logger *zap.Logger) (*YamlConfig, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	c := &YamlConfig{
		configPath:      configPath,
		logger:          logger.Named("yaml-config"),
		stopCh:          make(chan struct{}),
		sslMode:         "manual",
		sslAcmeCacheDir: "./.autocert-cache",
	}
	if err := c.Update(); err != nil {
		return nil, err
	}
	return c, nil
}

// Update reloads the configuration from the YAML file.
func (c *YamlConfig) Update() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debug("Loading configuration", zap.String("path", c.configPath))
	data, err := os.ReadFile(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var parsed yamlFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	c.listenAddr = parsed.Server.Address
	if c.listenAddr == "" {
		c.listenAddr = ":41241"
	}
	c.serverName = parsed.Server.Name
	c.serverVersion = parsed.Server.Version
	c.logLevel = parsed.Server.LogLevel
	if c.logLevel == "" {
		c.logLevel = "info"
	}

	c.agentDescription = parsed.Agent.Description
	c.agentProvider = parsed.Agent.Provider
	c.agentSkills = parsed.Agent.Skills
	c.capabilities = a2a.AgentCapabilities{
		Streaming:         parsed.Agent.Capabilities.Streaming,
		PushNotifications: parsed.Agent.Capabilities.PushNotifications,
	}

	c.sslEnabled = parsed.Server.SSL.Enabled
	if parsed.Server.SSL.Mode != "" {
		c.sslMode = parsed.Server.SSL.Mode
	}
	c.sslCertFile = parsed.Server.SSL.CertFile
	c.sslKeyFile = parsed.Server.SSL.KeyFile
	c.sslAcmeDomains = parsed.Server.SSL.AcmeDomains
	c.sslAcmeEmail = parsed.Server.SSL.AcmeEmail
	if parsed.Server.SSL.AcmeCacheDir != "" {
		c.sslAcmeCacheDir = parsed.Server.SSL.AcmeCacheDir
	}

	c.rateLimitRPS = parsed.Server.RateLimit.RPS
	c.rateLimitBurst = parsed.Server.RateLimit.Burst
	return nil
}

// StartReloading watches the config file and reloads it on change.
func (c *YamlConfig) StartReloading() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(c.configPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config file: %w", err)
	}
	c.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					c.logger.Info("Config file changed, reloading", zap.String("path", c.configPath))
					if err := c.Update(); err != nil {
						c.logger.Error("Config reload failed, keeping previous values", zap.Error(err))
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Error("Config watcher error", zap.Error(err))
			case <-c.stopCh:
				return
			}
		}
	}()
	return nil
}

func (c *YamlConfig) ListenAddr() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listenAddr, nil
}

func (c *YamlConfig) ServerName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName, nil
}

func (c *YamlConfig) ServerVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion, nil
}

func (c *YamlConfig) LogLevel() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logLevel, nil
}

// AgentCard assembles the card from the configured base info.
func (c *YamlConfig) AgentCard(agentURL string) (*a2a.AgentCard, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.serverName == "" {
		return nil, fmt.Errorf("agent card requires server.name: %w", ErrNotFound)
	}
	card := &a2a.AgentCard{
		Name:               c.serverName,
		Description:        c.agentDescription,
		URL:                agentURL,
		PreferredTransport: a2a.TransportJSONRPC,
		Provider:           c.agentProvider,
		Version:            c.serverVersion,
		Capabilities:       c.capabilities,
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills:             append([]a2a.AgentSkill(nil), c.agentSkills...),
	}
	return card, nil
}

func (c *YamlConfig) SSLEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslEnabled, nil
}

func (c *YamlConfig) SSLMode() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslMode, nil
}

func (c *YamlConfig) SSLCertFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslCertFile, nil
}

func (c *YamlConfig) SSLKeyFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslKeyFile, nil
}

func (c *YamlConfig) SSLAcmeDomains() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.sslAcmeDomains...), nil
}

func (c *YamlConfig) SSLAcmeEmail() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslAcmeEmail, nil
}

func (c *YamlConfig) SSLAcmeCacheDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslAcmeCacheDir, nil
}

func (c *YamlConfig) RateLimitRPS() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimitRPS, nil
}

func (c *YamlConfig) RateLimitBurst() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimitBurst, nil
}

// Close stops the file watcher.
func (c *YamlConfig) Close() {
	close(c.stopCh)
	if c.watcher != nil {
		c.watcher.Close()
	}
}
