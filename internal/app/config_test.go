package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validConfig() Config {
	return Config{
		Addr:          defaultAddr,
		BaseURL:       "https://api.shop.example",
		StorefrontURL: "https://shop.example/",
		Storage:       StorageConfig{Driver: "memory"},
		Payments:      PaymentsConfig{Currency: "zar", MaxAmount: "1000000.00"},
		Stripe:        StripeConfig{Mode: "test"},
		PayFast:       PayFastConfig{Mode: "test"},
		Ozow:          OzowConfig{Mode: "live"},
		Yoco:          YocoConfig{Mode: "test"},
		Kafka:         KafkaConfig{Brokers: []string{"", "kafka:9092", " "}},
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ZAR", cfg.Payments.Currency)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)

	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"UnknownDriver", func(c *Config) { c.Storage.Driver = "mongo" }, `unknown storage driver "mongo"`},
		{"PostgresWithoutURL", func(c *Config) { c.Storage.Driver = "Postgres" }, "database URL is required"},
		{"RedisWithoutURL", func(c *Config) { c.Storage.Driver = "redis" }, "redis URL is required"},
		{"BadMaxAmount", func(c *Config) { c.Payments.MaxAmount = "lots" }, `max amount "lots"`},
		{"ZeroMaxAmount", func(c *Config) { c.Payments.MaxAmount = "0" }, "must be positive"},
		{"BadCurrency", func(c *Config) { c.Payments.Currency = "RAND" }, "ISO 4217"},
		{"BadMode", func(c *Config) { c.PayFast.Mode = "sandbox" }, `payfast mode "sandbox"`},
		{"UnsignedLive", func(c *Config) {
			c.Stripe.Mode = "live"
			c.Stripe.AllowUnsigned = true
		}, "unsigned webhooks"},
		{"BadYocoMode", func(c *Config) { c.Yoco.Mode = "prod" }, `yoco mode "prod"`},
		{"LocalBaseURLLive", func(c *Config) { c.BaseURL = "http://localhost:8080" }, `base URL "http://localhost:8080" cannot be local`},
		{"LoopbackBaseURLLive", func(c *Config) { c.BaseURL = "http://127.0.0.1:8080" }, "base URL"},
		{"EmptyBaseURLLive", func(c *Config) { c.BaseURL = "" }, "base URL"},
		{"LocalStorefrontLive", func(c *Config) { c.StorefrontURL = "http://localhost:3000" }, `storefront URL "http://localhost:3000" cannot be local`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("LocalURLsInTestMode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Ozow.Mode = "test"
		cfg.BaseURL = "http://localhost:8080"
		cfg.StorefrontURL = "http://[::1]:3000"
		require.NoError(t, cfg.Validate())
	})

	t.Run("PostgresWithURL", func(t *testing.T) {
		cfg := validConfig()
		cfg.Storage.Driver = " POSTGRES "
		cfg.Storage.DatabaseURL = "postgres://localhost/paygate"
		require.NoError(t, cfg.Validate())
		assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	})
}

func TestConfig_Ceiling(t *testing.T) {
	d, err := PaymentsConfig{MaxAmount: " 2500.50 "}.Ceiling()
	require.NoError(t, err)
	assert.Equal(t, "2500.5", d.String())
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9000")

	cfg := validConfig()
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.Storage.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", cfg.Storage.RedisURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	// Explicit settings win.
	cfg = validConfig()
	cfg.Addr = "127.0.0.1:8081"
	cfg.Storage.DatabaseURL = "postgres://explicit/db"
	cfg.applyPlatformDefaults()
	assert.Equal(t, "127.0.0.1:8081", cfg.Addr)
	assert.Equal(t, "postgres://explicit/db", cfg.Storage.DatabaseURL)
}

func TestConfig_ReturnURL(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "https://shop.example/order-confirmation.html?status=success", cfg.returnURL("success"))
	assert.Equal(t, "https://shop.example/order-confirmation.html?status=cancelled", cfg.returnURL("cancelled"))
}

func TestBackend_KeyRepository(t *testing.T) {
	b := &Backend{}
	repo := b.keyRepository([]string{"ops:abc"})
	info, err := repo.FindByHash(t.Context(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "ops", info.Name)
}

func TestOpenBackend_Memory(t *testing.T) {
	b, err := OpenBackend(t.Context(), zap.NewNop(), StorageConfig{Driver: DriverMemory})
	require.NoError(t, err)
	defer b.Close()
	assert.NotNil(t, b.Store)
	assert.Nil(t, b.Ping)
	assert.Nil(t, b.APIKeys)
}
