package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Vault   VaultConfig   `yaml:"vault"`
	AWS     AWSConfig     `yaml:"aws"`
	Filter  FilterConfig  `yaml:"filter"`
	PKI     PKIConfig     `yaml:"pki"`
	Auth    AuthConfig    `yaml:"auth"`
	Watch   WatchConfig   `yaml:"watch"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	CORSAllowOrigin string        `yaml:"cors_allow_origin"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type VaultConfig struct {
	Address     string        `yaml:"address"`
	Token       string        `yaml:"token"`
	Namespace   string        `yaml:"namespace"`
	SkipVerify  bool          `yaml:"skip_verify"`
	Timeout     time.Duration `yaml:"timeout"`
	AuditDevice string        `yaml:"audit_device"`
}

type AWSConfig struct {
	Region          string        `yaml:"region"`
	Profile         string        `yaml:"profile"`
	AssumeRoleARN   string        `yaml:"assume_role_arn"`
	ExternalID      string        `yaml:"external_id"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	SessionToken    string        `yaml:"session_token"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	FilterTimeout   time.Duration `yaml:"filter_timeout"`
	LogGroup        string        `yaml:"log_group"`
	LogStreams      []string      `yaml:"log_streams"`
}

type FilterConfig struct {
	MaxIterations  int           `yaml:"max_iterations"`
	StreamLimit    int           `yaml:"stream_limit"`
	StreamRecency  time.Duration `yaml:"stream_recency"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	LocalFiltering bool          `yaml:"local_filtering"`
	MaxAuditEvents int           `yaml:"max_audit_events"`
}

type PKIConfig struct {
	CertificateConcurrency int `yaml:"certificate_concurrency"`
	IssuerConcurrency      int `yaml:"issuer_concurrency"`
}

type AuthConfig struct {
	Enabled     bool          `yaml:"enabled"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
	// Clients maps client ids to bcrypt hashes of their secrets.
	Clients map[string]string `yaml:"clients"`
}

type WatchConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Schedule       string        `yaml:"schedule"`
	Mounts         []string      `yaml:"mounts"`
	ExpiringWithin time.Duration `yaml:"expiring_within"`
	Slack          SlackConfig   `yaml:"slack"`
}

type SlackConfig struct {
	WebhookURL  string `yaml:"webhook_url"`
	Channel     string `yaml:"channel"`
	MinSeverity string `yaml:"min_severity"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) Validate() error {
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is required when auth is enabled")
		}
		if len(c.Auth.Clients) == 0 {
			return errors.New("auth.clients must list at least one client when auth is enabled")
		}
	}
	if c.Watch.Enabled && len(c.Watch.Mounts) == 0 {
		return errors.New("watch.mounts must list at least one PKI mount when watch is enabled")
	}
	return nil
}

// applyEnv fills fields left empty by the file from the conventional
// Vault, AWS and MCP environment variables.
func (c *Config) applyEnv() {
	setString(&c.Vault.Address, "VAULT_ADDR")
	setString(&c.Vault.Token, "VAULT_TOKEN")
	setString(&c.Vault.Namespace, "VAULT_NAMESPACE")
	if !c.Vault.SkipVerify {
		if v, err := strconv.ParseBool(os.Getenv("VAULT_SKIP_VERIFY")); err == nil {
			c.Vault.SkipVerify = v
		}
	}

	setString(&c.AWS.Region, "AWS_DEFAULT_REGION", "AWS_REGION")
	setString(&c.AWS.Profile, "AWS_PROFILE")
	setString(&c.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&c.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&c.AWS.SessionToken, "AWS_SESSION_TOKEN")
	setString(&c.AWS.LogGroup, "AWS_LOG_GROUP_NAME")
	if len(c.AWS.LogStreams) == 0 {
		c.AWS.LogStreams = splitList(os.Getenv("AWS_LOG_STREAM_NAMES"))
	}

	setString(&c.Watch.Slack.WebhookURL, "SLACK_WEBHOOK_URL")

	setString(&c.Server.Host, "MCP_HOST")
	if c.Server.Port == 0 {
		if p, err := strconv.Atoi(os.Getenv("MCP_PORT")); err == nil {
			c.Server.Port = p
		}
	}
}

func setString(dst *string, keys ...string) {
	if *dst != "" {
		return
	}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 60 * time.Second
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 20
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 40
	}

	if c.Vault.Timeout == 0 {
		c.Vault.Timeout = 15 * time.Second
	}
	if c.Vault.AuditDevice == "" {
		c.Vault.AuditDevice = "hcp-main-audit"
	}

	if c.AWS.Region == "" {
		c.AWS.Region = "ap-southeast-1"
	}
	if c.AWS.ConnectTimeout == 0 {
		c.AWS.ConnectTimeout = 3 * time.Second
	}
	if c.AWS.ReadTimeout == 0 {
		c.AWS.ReadTimeout = 15 * time.Second
	}
	if c.AWS.FilterTimeout == 0 {
		c.AWS.FilterTimeout = 25 * time.Second
	}

	if c.Filter.MaxIterations == 0 {
		c.Filter.MaxIterations = 100
	}
	if c.Filter.StreamLimit == 0 {
		c.Filter.StreamLimit = 10
	}
	if c.Filter.StreamRecency == 0 {
		c.Filter.StreamRecency = 7 * 24 * time.Hour
	}
	if c.Filter.CallTimeout == 0 {
		c.Filter.CallTimeout = 60 * time.Second
	}
	if c.Filter.MaxAuditEvents == 0 {
		c.Filter.MaxAuditEvents = 10
	}

	if c.PKI.CertificateConcurrency == 0 {
		c.PKI.CertificateConcurrency = 10
	}
	if c.PKI.IssuerConcurrency == 0 {
		c.PKI.IssuerConcurrency = 5
	}

	if c.Auth.TokenExpiry == 0 {
		c.Auth.TokenExpiry = time.Hour
	}

	if c.Watch.Schedule == "" {
		c.Watch.Schedule = "@every 1h"
	}
	if c.Watch.ExpiringWithin == 0 {
		c.Watch.ExpiringWithin = 30 * 24 * time.Hour
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
