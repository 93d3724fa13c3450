package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultDevHost = "localhost"
	prodEnv        = "PRODUCTION"
)

// EnvVars holds every environment-backed setting. Values are populated by
// env.Parse in Load.
type EnvVars struct {
	Env      string `env:"ENV" envDefault:"DEV"`
	AppName  string `env:"APP_NAME" envDefault:"SAFE-ZONE"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Production disables the developer-only target override.
	Production bool   `env:"SAFEZONE_PRODUCTION" envDefault:"false"`
	Host       string `env:"SAFEZONE_HOST"`
	TargetFile string `env:"SAFEZONE_TARGET_FILE"`

	Realm          string        `env:"SAFEZONE_REALM" envDefault:"safe-zone"`
	ClientID       string        `env:"SAFEZONE_CLIENT_ID" envDefault:"safe-zone"`
	ClientSecret   string        `env:"SAFEZONE_CLIENT_SECRET"`
	Scopes         []string      `env:"SAFEZONE_SCOPES" envDefault:"openid" envSeparator:","`
	Platform       Platform      `env:"SAFEZONE_PLATFORM" envDefault:"native"`
	CallbackAddr   string        `env:"SAFEZONE_CALLBACK_ADDR" envDefault:"127.0.0.1:8765"`
	WebBaseURL     string        `env:"SAFEZONE_WEB_BASE_URL"`
	RefreshEvery   time.Duration `env:"SAFEZONE_REFRESH_INTERVAL" envDefault:"60s"`
	RefreshMargin  time.Duration `env:"SAFEZONE_REFRESH_MARGIN" envDefault:"10m"`
	PollEvery      time.Duration `env:"SAFEZONE_POLL_INTERVAL" envDefault:"5s"`
	StateDB        string        `env:"SAFEZONE_STATE_DB"`
	StorePassword  string        `env:"SAFEZONE_STORE_PASSPHRASE"`
	RequestTimeout time.Duration `env:"SAFEZONE_REQUEST_TIMEOUT" envDefault:"30s"`
}

func (e EnvVars) validate() error {
	if e.IsProduction() && e.Host == "" {
		return fmt.Errorf("SAFEZONE_HOST is required in production")
	}
	if e.Realm == "" {
		return fmt.Errorf("SAFEZONE_REALM cannot be empty")
	}
	if e.ClientID == "" {
		return fmt.Errorf("SAFEZONE_CLIENT_ID cannot be empty")
	}
	switch e.Platform {
	case PlatformNative:
		if e.CallbackAddr == "" {
			return fmt.Errorf("SAFEZONE_CALLBACK_ADDR is required for the native platform")
		}
	case PlatformWeb:
		if e.WebBaseURL == "" {
			return fmt.Errorf("SAFEZONE_WEB_BASE_URL is required for the web platform")
		}
	default:
		return fmt.Errorf("unknown SAFEZONE_PLATFORM %q", e.Platform)
	}
	if e.RefreshEvery <= 0 {
		return fmt.Errorf("SAFEZONE_REFRESH_INTERVAL must be positive")
	}
	if e.PollEvery <= 0 {
		return fmt.Errorf("SAFEZONE_POLL_INTERVAL must be positive")
	}
	return nil
}

// resolveHost picks the configured host, falling back to localhost outside
// production.
func (e EnvVars) resolveHost() string {
	if e.Host != "" || e.IsProduction() {
		return e.Host
	}
	return defaultDevHost
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return "DEV"
	}
	return e.Env
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

func (e EnvVars) IsProduction() bool {
	return e.Production || strings.EqualFold(e.Env, prodEnv)
}

func (e EnvVars) GetPollInterval() time.Duration {
	return e.PollEvery
}

func (e EnvVars) GetStateDBPath() string {
	return e.StateDB
}

func (e EnvVars) GetStorePassphrase() string {
	return e.StorePassword
}

func (e EnvVars) GetTargetFile() string {
	return e.TargetFile
}
