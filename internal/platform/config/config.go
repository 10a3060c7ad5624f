package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Session   SessionConfig   `mapstructure:"session"`
	OIDC      OIDCConfig      `mapstructure:"oidc"`
	Pay       PayConfig       `mapstructure:"pay"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Email     EmailConfig     `mapstructure:"email"`
	StepUp    StepUpConfig    `mapstructure:"step_up"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// PublicURL is the externally visible base URL used to build provider
	// return addresses.
	PublicURL string `mapstructure:"public_url"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type SessionConfig struct {
	Secret     string        `mapstructure:"secret"`
	CookieName string        `mapstructure:"cookie_name"`
	Secure     bool          `mapstructure:"secure"`
	SameSite   string        `mapstructure:"same_site"`
	TTL        time.Duration `mapstructure:"ttl"`
	Store      string        `mapstructure:"store"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type OIDCConfig struct {
	Issuer       string        `mapstructure:"issuer"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RedirectURL  string        `mapstructure:"redirect_url"`
	Scopes       []string      `mapstructure:"scopes"`
	ClockSkew    time.Duration `mapstructure:"clock_skew"`
	MaxTokenAge  time.Duration `mapstructure:"max_token_age"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type PayConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	FeeAmount int64         `mapstructure:"fee_amount"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// ReconcileInterval is how often unfinished payments are re-polled.
	// Zero disables the background reconciler.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

type NotifyConfig struct {
	BaseURL   string            `mapstructure:"base_url"`
	ServiceID string            `mapstructure:"service_id"`
	APIKey    string            `mapstructure:"api_key"`
	Templates map[string]string `mapstructure:"templates"`
	Timeout   time.Duration     `mapstructure:"timeout"`
}

// Enabled reports whether outbound notifications are configured.
func (c NotifyConfig) Enabled() bool {
	return c.BaseURL != ""
}

type EmailConfig struct {
	Provider string     `mapstructure:"provider"`
	SMTP     SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
}

type StepUpConfig struct {
	AcceptSuitMaxAge time.Duration `mapstructure:"accept_suit_max_age"`
	AdminUsersMaxAge time.Duration `mapstructure:"admin_users_max_age"`
}

type RateLimitConfig struct {
	CallbackPerMinute int `mapstructure:"callback_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("database.url", "file:suemybrother.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("session.cookie_name", "smb_session")
	v.SetDefault("session.secure", true)
	v.SetDefault("session.same_site", "lax")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.store", "memory")
	v.SetDefault("oidc.scopes", []string{"openid", "email", "profile"})
	v.SetDefault("oidc.clock_skew", time.Minute)
	v.SetDefault("oidc.max_token_age", 10*time.Minute)
	v.SetDefault("oidc.timeout", 10*time.Second)
	v.SetDefault("pay.fee_amount", 100)
	v.SetDefault("pay.timeout", 10*time.Second)
	v.SetDefault("pay.reconcile_interval", 5*time.Minute)
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("email.provider", "notify")
	v.SetDefault("step_up.accept_suit_max_age", 300*time.Second)
	v.SetDefault("step_up.admin_users_max_age", 300*time.Second)
	v.SetDefault("rate_limit.callback_per_minute", 30)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Session.Secret == "" {
		errs = append(errs, errors.New("session.secret is required"))
	}
	if c.Pay.BaseURL == "" {
		errs = append(errs, errors.New("pay.base_url is required"))
	}
	if c.Pay.APIKey == "" {
		errs = append(errs, errors.New("pay.api_key is required"))
	}
	if c.Pay.FeeAmount <= 0 {
		errs = append(errs, errors.New("pay.fee_amount must be positive"))
	}
	if c.OIDC.Issuer == "" || c.OIDC.ClientID == "" {
		errs = append(errs, errors.New("oidc.issuer and oidc.client_id are required"))
	}
	if c.StepUp.AcceptSuitMaxAge <= 0 || c.StepUp.AdminUsersMaxAge <= 0 {
		errs = append(errs, errors.New("step_up max ages must be positive"))
	}
	if c.Notify.Enabled() && (c.Notify.ServiceID == "" || c.Notify.APIKey == "") {
		errs = append(errs, errors.New("notify.service_id and notify.api_key are required when notify.base_url is set"))
	}
	switch c.Session.Store {
	case "memory", "redis":
	default:
		errs = append(errs, errors.New("session.store must be memory or redis"))
	}
	switch c.Email.Provider {
	case "notify", "smtp":
	default:
		errs = append(errs, errors.New("email.provider must be notify or smtp"))
	}

	return errors.Join(errs...)
}
