package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/authority"
	"github.com/MrEthical07/authority/directory"
	"github.com/MrEthical07/authority/middleware"
	"github.com/MrEthical07/authority/oauth"
	"github.com/MrEthical07/authority/permission"
	"github.com/MrEthical07/authority/token"
	"github.com/spf13/viper"
)

const envPrefix = "AUTHORITY"

type serverConfig struct {
	Address         string        `mapstructure:"address"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TrustedProxies lists peers (CIDR or address) whose forwarding headers
	// name the client. Empty means the socket address is always used.
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	Token struct {
		PrivateKey     string        `mapstructure:"private_key"`
		PrivateKeyFile string        `mapstructure:"private_key_file"`
		PublicKeyFile  string        `mapstructure:"public_key_file"`
		KeyID          string        `mapstructure:"key_id"`
		Issuer         string        `mapstructure:"issuer"`
		Audience       string        `mapstructure:"audience"`
		AccessTTL      time.Duration `mapstructure:"access_ttl"`
		RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`
	} `mapstructure:"token"`

	Session struct {
		AbsoluteLifetime time.Duration `mapstructure:"absolute_lifetime"`
		KeyPrefix        string        `mapstructure:"key_prefix"`
	} `mapstructure:"session"`

	RateLimit struct {
		Enabled       bool          `mapstructure:"enabled"`
		LoginLimit    int           `mapstructure:"login_limit"`
		CallbackLimit int           `mapstructure:"callback_limit"`
		RefreshLimit  int           `mapstructure:"refresh_limit"`
		Window        time.Duration `mapstructure:"window"`
	} `mapstructure:"rate_limit"`

	OIDC struct {
		Issuer       string   `mapstructure:"issuer"`
		ClientID     string   `mapstructure:"client_id"`
		ClientSecret string   `mapstructure:"client_secret"`
		RedirectURL  string   `mapstructure:"redirect_url"`
		Scopes       []string `mapstructure:"scopes"`
	} `mapstructure:"oidc"`

	Cookies struct {
		Domain   string `mapstructure:"domain"`
		Insecure bool   `mapstructure:"insecure"`
	} `mapstructure:"cookies"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Latency bool `mapstructure:"latency"`
	} `mapstructure:"metrics"`

	Audit struct {
		Enabled    bool `mapstructure:"enabled"`
		BufferSize int  `mapstructure:"buffer_size"`
	} `mapstructure:"audit"`

	Roles      map[string][]string `mapstructure:"roles"`
	Principals []principalConfig   `mapstructure:"principals"`
}

type principalConfig struct {
	ID     string `mapstructure:"id"`
	Email  string `mapstructure:"email"`
	Role   string `mapstructure:"role"`
	Active bool   `mapstructure:"active"`
}

// loadConfig reads the optional YAML file at path, then lets AUTHORITY_*
// environment variables override it (AUTHORITY_REDIS_ADDR for redis.addr).
func loadConfig(path string) (*serverConfig, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg serverConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := authority.DefaultConfig()

	v.SetDefault("address", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("trusted_proxies", []string{})

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.url", "")

	v.SetDefault("token.private_key", "")
	v.SetDefault("token.private_key_file", "")
	v.SetDefault("token.public_key_file", "")
	v.SetDefault("token.key_id", "")
	v.SetDefault("token.issuer", "authority")
	v.SetDefault("token.audience", "")
	v.SetDefault("token.access_ttl", d.Token.AccessTTL)
	v.SetDefault("token.refresh_ttl", d.Token.RefreshTTL)

	v.SetDefault("session.absolute_lifetime", d.Session.AbsoluteLifetime)
	v.SetDefault("session.key_prefix", "")

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.login_limit", d.RateLimit.Login.Limit)
	v.SetDefault("rate_limit.callback_limit", d.RateLimit.Callback.Limit)
	v.SetDefault("rate_limit.refresh_limit", d.RateLimit.Refresh.Limit)
	v.SetDefault("rate_limit.window", d.RateLimit.Login.Window)

	v.SetDefault("oidc.issuer", "")
	v.SetDefault("oidc.client_id", "")
	v.SetDefault("oidc.client_secret", "")
	v.SetDefault("oidc.redirect_url", "")
	v.SetDefault("oidc.scopes", []string{})

	v.SetDefault("cookies.domain", "")
	v.SetDefault("cookies.insecure", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.latency", true)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
}

func (c *serverConfig) validate() error {
	if c.Address == "" {
		return errors.New("config: address must be set")
	}
	if c.Redis.Addr == "" {
		return errors.New("config: redis.addr must be set")
	}
	if c.Token.PrivateKey == "" && c.Token.PrivateKeyFile == "" {
		return errors.New("config: token.private_key or token.private_key_file must be set")
	}
	if c.Database.URL == "" && len(c.Principals) == 0 {
		return errors.New("config: database.url or a principals list is required")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := middleware.TrustedRealIP(c.TrustedProxies); err != nil {
		return fmt.Errorf("config: trusted_proxies: %w", err)
	}
	return nil
}

func (c *serverConfig) oidcEnabled() bool {
	return c.OIDC.Issuer != ""
}

// authorityConfig maps the file layout onto authority.Config. Keys are read
// from disk here.
func (c *serverConfig) authorityConfig() (authority.Config, error) {
	cfg := authority.DefaultConfig()

	priv := []byte(c.Token.PrivateKey)
	if c.Token.PrivateKeyFile != "" {
		b, err := os.ReadFile(c.Token.PrivateKeyFile)
		if err != nil {
			return cfg, fmt.Errorf("read private key: %w", err)
		}
		priv = b
	}
	cfg.Token.PrivateKey = priv
	if c.Token.PublicKeyFile != "" {
		b, err := os.ReadFile(c.Token.PublicKeyFile)
		if err != nil {
			return cfg, fmt.Errorf("read public key: %w", err)
		}
		cfg.Token.PublicKey = b
	} else if len(priv) > 0 {
		pub, err := token.PublicPEMFromPrivate(priv)
		if err != nil {
			return cfg, err
		}
		cfg.Token.PublicKey = pub
	}
	cfg.Token.KeyID = c.Token.KeyID
	cfg.Token.Issuer = c.Token.Issuer
	cfg.Token.Audience = c.Token.Audience
	cfg.Token.AccessTTL = c.Token.AccessTTL
	cfg.Token.RefreshTTL = c.Token.RefreshTTL

	cfg.Session.AbsoluteLifetime = c.Session.AbsoluteLifetime
	cfg.Store.KeyPrefix = c.Session.KeyPrefix

	cfg.RateLimit.Enabled = c.RateLimit.Enabled
	cfg.RateLimit.Login = authority.RatePolicy{Limit: c.RateLimit.LoginLimit, Window: c.RateLimit.Window}
	cfg.RateLimit.Callback = authority.RatePolicy{Limit: c.RateLimit.CallbackLimit, Window: c.RateLimit.Window}
	cfg.RateLimit.Refresh = authority.RatePolicy{Limit: c.RateLimit.RefreshLimit, Window: c.RateLimit.Window}

	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Latency
	cfg.Audit.Enabled = c.Audit.Enabled
	cfg.Audit.BufferSize = c.Audit.BufferSize

	return cfg, cfg.Validate()
}

func (c *serverConfig) oidcConfig() oauth.OIDCConfig {
	return oauth.OIDCConfig{
		Issuer:       c.OIDC.Issuer,
		ClientID:     c.OIDC.ClientID,
		ClientSecret: c.OIDC.ClientSecret,
		RedirectURL:  c.OIDC.RedirectURL,
		Scopes:       c.OIDC.Scopes,
	}
}

func (c *serverConfig) cookieConfig() middleware.CookieConfig {
	cookies := middleware.DefaultCookieConfig()
	cookies.Domain = c.Cookies.Domain
	cookies.Insecure = c.Cookies.Insecure
	return cookies
}

// permissions is the sorted union of every role's permissions.
func (c *serverConfig) permissions() []string {
	seen := map[string]struct{}{}
	for _, perms := range c.Roles {
		for _, p := range perms {
			if p == permission.RootPermission {
				continue
			}
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (c *serverConfig) staticDirectory() *directory.Static {
	principals := make([]directory.Principal, 0, len(c.Principals))
	for _, p := range c.Principals {
		principals = append(principals, directory.Principal{ID: p.ID, Email: p.Email, Role: p.Role, Active: p.Active})
	}
	return directory.NewStatic(principals...)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: invalid log_level %q", s)
	}
	return level, nil
}
