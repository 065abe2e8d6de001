package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

const (
	envTest = "test"
	envLive = "live"

	defaultCurrency = "usd"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", envTest, envLive)
	errInvalidCurrency  = errors.New("stripe currency must be a three letter ISO code")
)

// Client is the settlement engine's handle on the payment provider. It carries
// the key mode, the webhook signing secret and the currency payouts are issued in.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
	currency      string
}

// NewClient validates cfg and builds a client. A live key in test mode (or the
// reverse) is rejected before any request is made.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	if env != envTest && env != envLive {
		return nil, errInvalidStripeEnv
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.Secret)
	switch {
	case apiKey == "":
		return nil, errAPIKeyRequired
	case secret == "":
		return nil, errSecretRequired
	case keyMode(apiKey) != env:
		return nil, fmt.Errorf("stripe environment %q does not accept a %s-mode key", env, describeMode(keyMode(apiKey)))
	}

	currency, err := normalizeCurrency(cfg.Currency)
	if err != nil {
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"stripe_env": env,
			"currency":   currency,
		}), "stripe.client_ready")
	}

	return &Client{
		api:           stripe.NewClient(apiKey),
		environment:   env,
		signingSecret: secret,
		currency:      currency,
	}, nil
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// keyMode maps a secret or restricted key to the mode it was issued for.
func keyMode(key string) string {
	for _, prefix := range []string{"sk_", "rk_"} {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(rest, envTest+"_"):
			return envTest
		case strings.HasPrefix(rest, envLive+"_"):
			return envLive
		}
	}
	return ""
}

func describeMode(mode string) string {
	if mode == "" {
		return "non-secret"
	}
	return mode
}

func normalizeCurrency(raw string) (string, error) {
	currency := strings.ToLower(strings.TrimSpace(raw))
	if currency == "" {
		return defaultCurrency, nil
	}
	if len(currency) != 3 {
		return "", errInvalidCurrency
	}
	for _, r := range currency {
		if r < 'a' || r > 'z' {
			return "", errInvalidCurrency
		}
	}
	return currency, nil
}
