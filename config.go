package auth

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/spf13/viper"
)

const (
	DefaultMinValidity    = 30 * time.Second
	DefaultRefreshTimeout = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxRetries     = 1

	DefaultHomePath         = "/home"
	DefaultLoginPath        = "/auth/login"
	DefaultUnauthorizedPath = "/unauthorized"
	DefaultReturnURLParam   = "returnUrl"
	DefaultAuthScheme       = "Bearer"

	// BypassFlagKey is the persisted flag that disables route guarding in
	// binaries built with the e2e tag.
	BypassFlagKey = "CYPRESS_E2E"
	// RedirectURLKey stores the return target across a login round trip.
	RedirectURLKey = "redirect_url"
	// ThemeKey stores the UI theme preference.
	ThemeKey = "theme"

	envPrefix = "AUTHPIPE"
)

// ExcludedURL exempts a request target from credential attachment. When
// Methods is empty every method is excluded.
type ExcludedURL struct {
	URL     string   `mapstructure:"url" json:"url"`
	Methods []string `mapstructure:"methods" json:"methods,omitempty"`
}

// RouteConfig declares the role requirement of a navigation target.
type RouteConfig struct {
	Path  string   `mapstructure:"path" json:"path"`
	Roles []string `mapstructure:"roles" json:"roles,omitempty"`
}

// Config holds the pipeline options.
type Config struct {
	AppBaseURL       string `mapstructure:"app_base_url"`
	HomePath         string `mapstructure:"home_path"`
	LoginPath        string `mapstructure:"login_path"`
	UnauthorizedPath string `mapstructure:"unauthorized_path"`
	ReturnURLParam   string `mapstructure:"return_url_param"`
	AuthScheme       string `mapstructure:"auth_scheme"`

	// MinValidity is how long a token must remain valid to be used without
	// a refresh. It is injected per environment, never inferred.
	MinValidity    time.Duration `mapstructure:"min_validity"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`

	// RequestTimeout bounds a single attempt; OverallTimeout bounds the
	// attempt plus its retries.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	OverallTimeout time.Duration `mapstructure:"overall_timeout"`
	// MaxRetries left at zero means DefaultMaxRetries. Set DisableRetry to
	// send every request exactly once.
	MaxRetries   int  `mapstructure:"max_retries"`
	DisableRetry bool `mapstructure:"disable_retry"`

	ExcludedPaths    []string      `mapstructure:"excluded_paths"`
	ExcludedPatterns []string      `mapstructure:"excluded_patterns"`
	ExcludedURLs     []ExcludedURL `mapstructure:"excluded_urls"`

	LogoutClearKeys []string      `mapstructure:"logout_clear_keys"`
	Routes          []RouteConfig `mapstructure:"routes"`

	LogLevel string `mapstructure:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HomePath:         DefaultHomePath,
		LoginPath:        DefaultLoginPath,
		UnauthorizedPath: DefaultUnauthorizedPath,
		ReturnURLParam:   DefaultReturnURLParam,
		AuthScheme:       DefaultAuthScheme,
		MinValidity:      DefaultMinValidity,
		RefreshTimeout:   DefaultRefreshTimeout,
		RequestTimeout:   DefaultRequestTimeout,
		OverallTimeout:   DefaultRequestTimeout * time.Duration(DefaultMaxRetries+1),
		MaxRetries:       DefaultMaxRetries,
		LogoutClearKeys:  []string{RedirectURLKey, ThemeKey},
		LogLevel:         "info",
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.HomePath == "" {
		c.HomePath = def.HomePath
	}
	if c.LoginPath == "" {
		c.LoginPath = def.LoginPath
	}
	if c.UnauthorizedPath == "" {
		c.UnauthorizedPath = def.UnauthorizedPath
	}
	if c.ReturnURLParam == "" {
		c.ReturnURLParam = def.ReturnURLParam
	}
	if c.AuthScheme == "" {
		c.AuthScheme = def.AuthScheme
	}
	if c.MinValidity <= 0 {
		c.MinValidity = def.MinValidity
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = def.RefreshTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	switch {
	case c.DisableRetry:
		c.MaxRetries = 0
	case c.MaxRetries <= 0:
		c.MaxRetries = def.MaxRetries
	}
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = c.RequestTimeout * time.Duration(c.MaxRetries+1)
	}
	if c.LogoutClearKeys == nil {
		c.LogoutClearKeys = def.LogoutClearKeys
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	c.AppBaseURL = strings.TrimSuffix(c.AppBaseURL, "/")
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.AppBaseURL, is.URL),
		validation.Field(&c.HomePath, validation.Required, validation.By(absolutePath)),
		validation.Field(&c.LoginPath, validation.Required, validation.By(absolutePath)),
		validation.Field(&c.UnauthorizedPath, validation.Required, validation.By(absolutePath)),
		validation.Field(&c.ReturnURLParam, validation.Required),
		validation.Field(&c.AuthScheme, validation.Required),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(5)),
		validation.Field(&c.ExcludedPatterns, validation.By(compilablePatterns)),
		validation.Field(&c.Routes, validation.By(routeConfigsRule)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
	)
	if err != nil {
		return withErrorMetadata(ErrInvalidConfig, err, map[string]any{
			"reason": err.Error(),
		})
	}
	if c.OverallTimeout > 0 && c.RequestTimeout > 0 && c.OverallTimeout < c.RequestTimeout {
		return withErrorMetadata(ErrInvalidConfig, nil, map[string]any{
			"reason": "overall_timeout must not be shorter than request_timeout",
		})
	}
	return nil
}

// LoadConfig reads configuration from path (any format viper understands)
// and from AUTHPIPE_* environment variables. An empty path reads only the
// environment. Missing values fall back to DefaultConfig.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("app_base_url", def.AppBaseURL)
	v.SetDefault("home_path", def.HomePath)
	v.SetDefault("login_path", def.LoginPath)
	v.SetDefault("unauthorized_path", def.UnauthorizedPath)
	v.SetDefault("return_url_param", def.ReturnURLParam)
	v.SetDefault("auth_scheme", def.AuthScheme)
	v.SetDefault("min_validity", def.MinValidity)
	v.SetDefault("refresh_timeout", def.RefreshTimeout)
	v.SetDefault("request_timeout", def.RequestTimeout)
	v.SetDefault("overall_timeout", time.Duration(0))
	v.SetDefault("max_retries", def.MaxRetries)
	v.SetDefault("disable_retry", def.DisableRetry)
	v.SetDefault("logout_clear_keys", def.LogoutClearKeys)
	v.SetDefault("log_level", def.LogLevel)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, withErrorMetadata(ErrInvalidConfig, err, map[string]any{
				"path": path,
			})
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, withErrorMetadata(ErrInvalidConfig, err, map[string]any{
			"path": path,
		})
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func absolutePath(value any) error {
	s, _ := value.(string)
	if s != "" && !strings.HasPrefix(s, "/") {
		return fmt.Errorf("must start with /")
	}
	return nil
}

func compilablePatterns(value any) error {
	patterns, _ := value.([]string)
	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid pattern %q", p)
		}
	}
	return nil
}

func routeConfigsRule(value any) error {
	routes, _ := value.([]RouteConfig)
	for _, rc := range routes {
		if rc.Path == "" {
			return fmt.Errorf("route path is required")
		}
		if err := absolutePath(rc.Path); err != nil {
			return fmt.Errorf("route %q %s", rc.Path, err.Error())
		}
	}
	return nil
}
