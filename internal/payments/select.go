package payments

import (
	"fmt"
	"strings"
)

// Selection modes accepted by NewGateway.
const (
	SelectAuto = "auto"
	SelectLive = "live"
	SelectDemo = "demo"
)

// GatewayConfig drives the one-time startup choice between the live and demo gateways.
type GatewayConfig struct {
	SecretKey   string
	AccountID   string
	Mode        string
	Environment string
	Breaker     BreakerSettings
	Logger      Logger

	stripe *StripeGatewayConfig
}

// NewGateway picks the gateway implementation for the process lifetime:
//
//   - a configured secret key selects Stripe (wrapped in a circuit breaker);
//   - no key, mode auto and a non-production environment selects the demo simulator;
//   - demo mode with a key configured, or no key in live mode or production, is a configuration error.
func NewGateway(cfg GatewayConfig) (Gateway, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = SelectAuto
	}
	hasKey := strings.TrimSpace(cfg.SecretKey) != "" || cfg.stripe != nil

	switch mode {
	case SelectAuto, SelectLive, SelectDemo:
	default:
		return nil, fmt.Errorf("%w: unknown payments mode %q", ErrConfiguration, cfg.Mode)
	}

	if mode == SelectDemo && hasKey {
		return nil, fmt.Errorf("%w: demo mode cannot be enabled while processor credentials are configured", ErrConfiguration)
	}

	if hasKey {
		stripeCfg := StripeGatewayConfig{
			SecretKey: cfg.SecretKey,
			AccountID: cfg.AccountID,
			Logger:    cfg.Logger,
		}
		if cfg.stripe != nil {
			stripeCfg = *cfg.stripe
		}
		live, err := NewStripeGateway(stripeCfg)
		if err != nil {
			return nil, err
		}
		breaker, err := NewBreakerGateway(live, cfg.Breaker, cfg.Logger)
		if err != nil {
			return nil, err
		}
		return breaker, nil
	}

	if mode == SelectLive {
		return nil, fmt.Errorf("%w: live payments mode requires a processor secret key", ErrConfiguration)
	}
	if IsProductionEnvironment(cfg.Environment) {
		return nil, fmt.Errorf("%w: processor secret key is required in %s", ErrConfiguration, cfg.Environment)
	}

	return NewDemoGateway(WithDemoLogger(cfg.Logger)), nil
}

// IsProductionEnvironment reports whether env names a production deployment.
func IsProductionEnvironment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}
