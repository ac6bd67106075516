package app

import (
	"net"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/paygate/internal/domain/payment"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (PAYGATE_ prefix), flags, or YAML config files.
type Config struct {
	Addr          string `default:"0.0.0.0:8080" usage:"API server listen address"`
	BaseURL       string `default:"http://localhost:8080" usage:"Public API URL gateways post notifications to" flag:"base-url"`
	StorefrontURL string `default:"http://localhost:3000" usage:"Storefront URL customers return to after paying" flag:"storefront-url"`
	APIKeyPepper  string `usage:"HMAC pepper for API key hashing (PAYGATE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	// APIKeyHashes are "name:hash" entries accepted in addition to the
	// api_keys table.
	APIKeyHashes []string `usage:"Operator API key hashes as name:hexhash" flag:"api-key-hashes"`

	Storage   StorageConfig
	Payments  PaymentsConfig
	Stripe    StripeConfig
	PayFast   PayFastConfig
	Ozow      OzowConfig
	Yoco      YocoConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// StorageConfig selects the order store.
type StorageConfig struct {
	Driver      string `default:"memory" usage:"Order store: memory, postgres or redis"`
	DatabaseURL string `usage:"PostgreSQL connection URL (or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `usage:"Redis connection URL (or REDIS_URL)" flag:"redis-url"`
	RedisPrefix string `default:"paygate" usage:"Redis key prefix"`
}

// PaymentsConfig holds gateway-independent payment settings.
type PaymentsConfig struct {
	Currency       string        `default:"ZAR" usage:"ISO 4217 currency of all orders"`
	MaxAmount      string        `default:"1000000.00" usage:"Largest accepted order total"`
	GatewayTimeout time.Duration `default:"10s" usage:"Timeout of a single gateway call" flag:"gateway-timeout"`
	ChargeGateway  string        `default:"stripe" usage:"Gateway used for direct tokenized charges: stripe or yoco"`
	Breaker        BreakerConfig
}

// BreakerConfig tunes the per-gateway circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `default:"5" usage:"Consecutive failures that open the breaker"`
	OpenTimeout         time.Duration `default:"30s" usage:"Time the breaker stays open"`
	HalfOpenRequests    uint32        `default:"1" usage:"Probe requests allowed while half-open"`
}

// StripeConfig configures the tokenized-charge gateway.
type StripeConfig struct {
	SecretKey     string        `usage:"Stripe secret key"`
	WebhookSecret string        `usage:"Stripe webhook signing secret"`
	Mode          string        `default:"test" usage:"test or live"`
	APIURL        string        `usage:"Override the Stripe API URL"`
	AllowUnsigned bool          `default:"false" usage:"Accept unsigned webhooks (test mode only)"`
	Tolerance     time.Duration `default:"5m" usage:"Webhook timestamp tolerance"`
}

// PayFastConfig configures the first hosted-redirect gateway.
type PayFastConfig struct {
	MerchantID  string `usage:"PayFast merchant id"`
	MerchantKey string `usage:"PayFast merchant key"`
	Passphrase  string `usage:"PayFast passphrase"`
	Mode        string `default:"test" usage:"test or live"`
	ProcessURL  string `usage:"Override the PayFast process URL"`
}

// OzowConfig configures the second hosted-redirect gateway.
type OzowConfig struct {
	SiteCode   string `usage:"Ozow site code"`
	APIKey     string `usage:"Ozow API key"`
	PrivateKey string `usage:"Ozow private key"`
	Mode       string `default:"test" usage:"test or live"`
	APIURL     string `usage:"Override the Ozow payment request URL"`
}

// YocoConfig configures the card-token gateway.
type YocoConfig struct {
	SecretKey     string        `usage:"Yoco secret key"`
	PublicKey     string        `usage:"Yoco public key handed to the card widget"`
	WebhookSecret string        `usage:"Yoco webhook signing secret (whsec_...)"`
	Mode          string        `default:"test" usage:"test or live"`
	APIURL        string        `usage:"Override the Yoco API URL"`
	Tolerance     time.Duration `default:"5m" usage:"Webhook timestamp tolerance"`
}

// KafkaConfig configures the status change publisher. Publishing is
// disabled without brokers.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"paygate.order-status" usage:"Order status topic"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and flags, applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PAYGATE",
		Files:     []string{"config.yaml", "/etc/paygate/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (DATABASE_URL, REDIS_URL, PORT) onto the PAYGATE_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		c.Storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Storage.RedisURL == "" {
		c.Storage.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func validMode(m string) bool {
	return m == string(payment.ModeTest) || m == string(payment.ModeLive)
}

// Validate checks settings that would otherwise fail at the first request.
// Missing gateway credentials are not an error: the affected gateway
// reports itself as not configured.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if _, err := c.Payments.Ceiling(); err != nil {
		return err
	}
	if len(c.Payments.Currency) != 3 {
		return errors.Errorf("currency %q is not an ISO 4217 code", c.Payments.Currency)
	}
	c.Payments.Currency = strings.ToUpper(c.Payments.Currency)

	live := false
	for name, mode := range map[string]string{
		"stripe":  c.Stripe.Mode,
		"payfast": c.PayFast.Mode,
		"ozow":    c.Ozow.Mode,
		"yoco":    c.Yoco.Mode,
	} {
		if !validMode(mode) {
			return errors.Errorf("%s mode %q: want test or live", name, mode)
		}
		live = live || mode == string(payment.ModeLive)
	}
	if live {
		for name, raw := range map[string]string{
			"base URL":       c.BaseURL,
			"storefront URL": c.StorefrontURL,
		} {
			if isLocal(raw) {
				return errors.Errorf("%s %q cannot be local while a gateway runs in live mode", name, raw)
			}
		}
	}
	if c.Stripe.AllowUnsigned && c.Stripe.Mode == string(payment.ModeLive) {
		return errors.New("stripe: unsigned webhooks cannot be allowed in live mode")
	}
	c.Kafka.Brokers = slices.DeleteFunc(c.Kafka.Brokers, func(b string) bool { return strings.TrimSpace(b) == "" })
	return nil
}

// isLocal reports whether raw is empty or points at a loopback host.
func isLocal(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

// Validate normalizes Driver and checks the URL it needs is set.
func (c *StorageConfig) Validate() error {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	switch c.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required for postgres storage: set PAYGATE_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("redis URL is required for redis storage: set PAYGATE_STORAGE_REDIS_URL or REDIS_URL")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Driver)
	}
	return nil
}

// Ceiling parses MaxAmount.
func (p PaymentsConfig) Ceiling() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(p.MaxAmount))
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "max amount %q", p.MaxAmount)
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.Errorf("max amount %s must be positive", p.MaxAmount)
	}
	return d, nil
}

// returnURL builds a storefront URL carrying the payment result.
func (c *Config) returnURL(status string) string {
	return strings.TrimRight(c.StorefrontURL, "/") + "/order-confirmation.html?status=" + status
}
