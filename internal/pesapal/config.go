package pesapal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Environment selects which Pesapal deployment the client talks to.
type Environment string

const (
	EnvironmentSandbox Environment = "sandbox"
	EnvironmentLive    Environment = "live"
)

const (
	LiveBaseURL    = "https://pay.pesapal.com/v3"
	SandboxBaseURL = "https://cybqa.pesapal.com/pesapalv3"

	// DefaultTimeout bounds every individual gateway call.
	DefaultTimeout = 8 * time.Second
)

// GatewayConfig contains everything the client needs to reach Pesapal.
// It is built once at startup and passed to NewClient.
type GatewayConfig struct {
	// Environment is "sandbox" or "live".
	Environment Environment

	// BaseURL is derived from Environment unless set explicitly.
	BaseURL string

	ConsumerKey    string
	ConsumerSecret string

	// Timeout applies to each gateway call on its own.
	// Default: 8 seconds
	Timeout time.Duration
}

// NewGatewayConfig resolves the base URL for env.
func NewGatewayConfig(env Environment, consumerKey, consumerSecret string) GatewayConfig {
	cfg := GatewayConfig{
		Environment:    env,
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		Timeout:        DefaultTimeout,
	}
	switch env {
	case EnvironmentLive:
		cfg.BaseURL = LiveBaseURL
	case EnvironmentSandbox:
		cfg.BaseURL = SandboxBaseURL
	}
	return cfg
}

// Validate checks that required configuration is present.
func (c GatewayConfig) Validate() error {
	if c.Environment != EnvironmentSandbox && c.Environment != EnvironmentLive {
		return fmt.Errorf("pesapal: unknown environment %q (must be sandbox or live)", c.Environment)
	}
	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return errors.New("pesapal: consumer key and secret are required")
	}
	if c.BaseURL == "" {
		return errors.New("pesapal: base URL is required")
	}
	return nil
}

// IsSandbox returns true when payments are not real.
func (c GatewayConfig) IsSandbox() bool {
	return c.Environment == EnvironmentSandbox
}

func (c GatewayConfig) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c GatewayConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}
