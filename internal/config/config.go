package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
)

type Config interface {
	EnvConfig
	OAuthConfig
	SyncConfig
	StoreConfig
	TargetConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	IsProduction() bool
}

type SyncConfig interface {
	GetAPIBaseURL() string
	GetPollInterval() time.Duration
}

type StoreConfig interface {
	GetStateDBPath() string
	GetStorePassphrase() string
}

// TargetConfig resolves the SAFE-ZONE host. The host can be overridden at
// runtime outside of production builds.
type TargetConfig interface {
	GetTargetServer() string
	SetTargetServer(host string) error
	GetTargetFile() string
	IsProduction() bool
}

type mainConfig struct {
	EnvVars

	mu     sync.RWMutex
	target string
}

var _ Config = (*mainConfig)(nil)

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	vars := EnvVars{}
	if err := env.Parse(&vars); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return New(vars)
}

// New validates vars and builds a Config from them.
func New(vars EnvVars) (Config, error) {
	if err := vars.validate(); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidConfig, "%s", err.Error())
	}

	if vars.StateDB == "" {
		path, err := DefaultStateDBPath()
		if err != nil {
			return nil, err
		}
		vars.StateDB = path
	}

	return &mainConfig{EnvVars: vars, target: vars.resolveHost()}, nil
}

// DefaultStateDBPath returns ~/.safe-zone/state.db
func DefaultStateDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	return filepath.Join(home, ".safe-zone", "state.db"), nil
}

func (c *mainConfig) GetTargetServer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.target
}

// SetTargetServer points the client at a different host. Production builds
// always use the configured host.
func (c *mainConfig) SetTargetServer(host string) error {
	if c.IsProduction() {
		return apperrors.ErrOverrideDisabled
	}
	if host == "" {
		return fmt.Errorf("target server cannot be empty")
	}

	c.mu.Lock()
	c.target = host
	c.mu.Unlock()
	return nil
}

func (c *mainConfig) GetIssuerURL() string {
	return fmt.Sprintf("http://%s/auth/realms/%s", c.GetTargetServer(), c.Realm)
}

// GetAPIBaseURL returns the MIB API root. Hosts without an explicit port are
// served on port 80.
func (c *mainConfig) GetAPIBaseURL() string {
	host := c.GetTargetServer()
	if _, _, err := net.SplitHostPort(host); err == nil {
		return "http://" + host
	}
	return fmt.Sprintf("http://%s:80", host)
}
