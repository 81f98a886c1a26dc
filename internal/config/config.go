// Package config loads banrelay settings from defaults, an optional config
// file, .env files and BANRELAY_* environment variables, in increasing
// order of precedence. Command flags are applied on top by the CLI.
package config

import (
	stderrors "errors"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/banrelay/pkg/constants"
	"github.com/agentstation/banrelay/pkg/errors"
)

// EnvPrefix prefixes every environment variable, e.g. BANRELAY_NODE_URL.
const EnvPrefix = "BANRELAY"

// Cache store backends.
const (
	StoreFile  = "file"
	StoreRedis = "redis"
)

// Config holds the application configuration.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool

	// Config file
	ConfigFile string

	// Downstream server
	Host             string
	Port             int
	QueueSize        int
	ConnectRateLimit int
	MetricsEnabled   bool

	// Upstream node
	NodeURL           string
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration

	// Enrichment
	IdentityURL     string
	IdentityTTL     time.Duration
	AliasURL        string
	AliasTTL        time.Duration
	RefreshInterval time.Duration
	ProviderRPS     float64
	CacheDir        string
	CacheStore      string
	RedisAddr       string
	RedisPrefix     string

	// Mirror
	KafkaBrokers []string
	KafkaTopic   string
	NATSURL      string
	NATSSubject  string

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// Load reads configuration from all sources. configFile may be empty, in
// which case .banrelay.yaml is searched for in $HOME and the working
// directory. A missing config file is not an error; an unreadable one is.
func Load(configFile string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".banrelay")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !stderrors.As(err, &notFound) {
			return nil, errors.NewConfigError("config", "reading "+configFile, err)
		}
	}

	cfg := fromViper(v)
	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.LogLevel = firstNonEmpty(cfg.LogLevel, os.Getenv("LOG_LEVEL"))
	cfg.LogFormat = firstNonEmpty(cfg.LogFormat, os.Getenv("LOG_FORMAT"), "auto")
	cfg.LogOutput = firstNonEmpty(cfg.LogOutput, os.Getenv("LOG_OUTPUT"), "stderr")
	return cfg, nil
}

// Default returns the configuration used when no source sets anything.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := fromViper(v)
	cfg.LogFormat = "auto"
	cfg.LogOutput = "stderr"
	return cfg
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Verbose: v.GetBool("verbose"),
		Quiet:   v.GetBool("quiet"),
		NoColor: v.GetBool("no_color"),

		Host:             v.GetString("host"),
		Port:             v.GetInt("port"),
		QueueSize:        v.GetInt("queue_size"),
		ConnectRateLimit: v.GetInt("connect_rate_limit"),
		MetricsEnabled:   v.GetBool("metrics"),

		NodeURL:           v.GetString("node_url"),
		ReconnectDelay:    v.GetDuration("reconnect_delay"),
		ReconnectMaxDelay: v.GetDuration("reconnect_max_delay"),

		IdentityURL:     v.GetString("identity_url"),
		IdentityTTL:     v.GetDuration("identity_ttl"),
		AliasURL:        v.GetString("alias_url"),
		AliasTTL:        v.GetDuration("alias_ttl"),
		RefreshInterval: v.GetDuration("refresh_interval"),
		ProviderRPS:     v.GetFloat64("provider_rps"),
		CacheDir:        v.GetString("cache_dir"),
		CacheStore:      strings.ToLower(v.GetString("cache_store")),
		RedisAddr:       v.GetString("redis_addr"),
		RedisPrefix:     v.GetString("redis_prefix"),

		KafkaBrokers: stringList(v, "kafka_brokers"),
		KafkaTopic:   v.GetString("kafka_topic"),
		NATSURL:      v.GetString("nats_url"),
		NATSSubject:  v.GetString("nats_subject"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		LogOutput: v.GetString("log_output"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", constants.DefaultHost)
	v.SetDefault("port", constants.DefaultPort)
	v.SetDefault("queue_size", constants.SubscriberQueueSize)
	v.SetDefault("connect_rate_limit", 60)
	v.SetDefault("metrics", true)

	v.SetDefault("node_url", constants.DefaultNodeURL)
	v.SetDefault("reconnect_delay", constants.ReconnectDelay)
	v.SetDefault("reconnect_max_delay", constants.MaxReconnectDelay)

	v.SetDefault("identity_url", constants.DefaultIdentityURL)
	v.SetDefault("identity_ttl", constants.IdentityTTL)
	v.SetDefault("alias_url", constants.DefaultAliasURL)
	v.SetDefault("alias_ttl", constants.AliasTTL)
	v.SetDefault("refresh_interval", constants.RefreshInterval)
	v.SetDefault("provider_rps", constants.ProviderRPS)
	v.SetDefault("cache_dir", constants.DefaultCacheDir)
	v.SetDefault("cache_store", StoreFile)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", constants.DefaultRedisPrefix)

	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_topic", constants.DefaultMirrorTopic)
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject", constants.DefaultMirrorTopic)
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.NewConfigError("port", "port out of range", nil)
	}
	u, err := url.Parse(c.NodeURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errors.NewConfigError("node_url", "must be a ws:// or wss:// URL", err)
	}
	if c.QueueSize <= 0 {
		return errors.NewConfigError("queue_size", "must be positive", nil)
	}
	if c.ConnectRateLimit < 0 {
		return errors.NewConfigError("connect_rate_limit", "must not be negative", nil)
	}
	if c.ReconnectDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectDelay {
		return errors.NewConfigError("reconnect_delay", "must be positive and not exceed reconnect_max_delay", nil)
	}
	if c.IdentityTTL <= 0 || c.AliasTTL <= 0 {
		return errors.NewConfigError("ttl", "cache TTLs must be positive", nil)
	}
	if c.RefreshInterval <= 0 {
		return errors.NewConfigError("refresh_interval", "must be positive", nil)
	}
	if c.ProviderRPS < 0 {
		return errors.NewConfigError("provider_rps", "must not be negative", nil)
	}
	if c.IdentityURL == "" || c.AliasURL == "" {
		return errors.NewConfigError("providers", "identity_url and alias_url are required", nil)
	}

	switch c.CacheStore {
	case StoreFile:
		if c.CacheDir == "" {
			return errors.NewConfigError("cache_dir", "required with the file cache store", nil)
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.NewConfigError("redis_addr", "required with the redis cache store", nil)
		}
	default:
		return errors.NewConfigError("cache_store", "must be file or redis, got "+c.CacheStore, nil)
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.NewConfigError("kafka_topic", "required when kafka_brokers is set", nil)
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return errors.NewConfigError("nats_subject", "required when nats_url is set", nil)
	}
	return nil
}

// UpdateFromFlags updates config values from parsed global flags.
// This should be called after cobra parses flags so flag values take
// precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// loadEnvFiles loads environment variables from .env files.
// .env.local overrides .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// stringList accepts either a YAML list or a comma separated string.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case string:
		raw = strings.Split(val, ",")
	default:
		raw = v.GetStringSlice(key)
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}
