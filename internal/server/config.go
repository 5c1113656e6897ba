package server

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/spf13/viper"

	auth "github.com/goliatone/go-auth-pipeline"
	"github.com/goliatone/go-auth-pipeline/provider/oidc"
	"github.com/goliatone/go-auth-pipeline/provider/static"
)

const (
	ProviderStatic = "static"
	ProviderOIDC   = "oidc"

	DefaultAddr        = ":8080"
	DefaultCookieName  = "authpipe_session"
	DefaultSessionIdle = 30 * time.Minute
)

// StaticConfig configures the development identity provider.
type StaticConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	Latency    time.Duration `mapstructure:"latency"`
	Users      []static.User `mapstructure:"users"`
}

// RedisConfig enables the shared flag store when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Config is the server configuration.
type Config struct {
	Addr        string        `mapstructure:"addr"`
	UpstreamURL string        `mapstructure:"upstream_url"`
	SessionKey  string        `mapstructure:"session_key"`
	CookieName  string        `mapstructure:"cookie_name"`
	SessionIdle time.Duration `mapstructure:"session_idle"`
	Provider    string        `mapstructure:"provider"`

	Static   StaticConfig `mapstructure:"static"`
	OIDC     oidc.Config  `mapstructure:"oidc"`
	Redis    RedisConfig  `mapstructure:"redis"`
	Pipeline auth.Config  `mapstructure:"pipeline"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        DefaultAddr,
		CookieName:  DefaultCookieName,
		SessionIdle: DefaultSessionIdle,
		Provider:    ProviderStatic,
		Pipeline:    auth.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.UpstreamURL, validation.Required, is.URL),
		validation.Field(&c.SessionKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderStatic, ProviderOIDC)),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid server configuration").
			WithTextCode(auth.TextCodeInvalidConfig).
			WithCode(goerrors.CodeBadRequest)
	}
	if c.Provider == ProviderStatic && c.Static.SigningKey == "" {
		return goerrors.New("static provider requires static.signing_key", goerrors.CategoryBadInput).
			WithTextCode(auth.TextCodeInvalidConfig).
			WithCode(goerrors.CodeBadRequest)
	}
	return c.Pipeline.Validate()
}

// LoadConfig reads path and BANKGATE_* environment variables on top of
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BANKGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{"addr", "upstream_url", "session_key", "provider", "static.signing_key", "oidc.client_secret", "redis.addr"} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to read config file").
				WithTextCode(auth.TextCodeInvalidConfig).
				WithMetadata(map[string]any{"path": path})
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to decode config").
			WithTextCode(auth.TextCodeInvalidConfig).
			WithMetadata(map[string]any{"path": path})
	}

	cfg.Pipeline = cfg.Pipeline.WithDefaults()
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = DefaultSessionIdle
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
