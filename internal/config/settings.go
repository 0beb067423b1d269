// Package config loads agent settings through viper and the path file
// through yaml.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MONITOR_HTTP_PORT
const EnvPrefix = "MONITOR"

// Settings is the agent configuration
type Settings struct {
	NATS     NATSSettings     `mapstructure:"nats"`
	Registry RegistrySettings `mapstructure:"registry"`
	Cluster  ClusterSettings  `mapstructure:"cluster"`
	Paths    PathsSettings    `mapstructure:"paths"`
	HTTP     HTTPSettings     `mapstructure:"http"`
	Log      LogSettings      `mapstructure:"log"`
	History  HistorySettings  `mapstructure:"history"`
	Resync   JobSettings      `mapstructure:"resync"`
	Cleanup  JobSettings      `mapstructure:"cleanup"`
	Host     HostSettings     `mapstructure:"host"`
	SMTP     SMTPSettings     `mapstructure:"smtp"`
	Slack    SlackSettings    `mapstructure:"slack"`
	HipChat  HipChatSettings  `mapstructure:"hipchat"`
	Webhook  WebhookSettings  `mapstructure:"webhook"`
}

type NATSSettings struct {
	URLs           []string      `mapstructure:"urls"`
	Name           string        `mapstructure:"name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
}

type RegistrySettings struct {
	Bucket string `mapstructure:"bucket"`
}

type ClusterSettings struct {
	Bucket  string        `mapstructure:"bucket"`
	Name    string        `mapstructure:"name"`
	Prefix  string        `mapstructure:"prefix"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	Agent   string        `mapstructure:"agent"`
}

type PathsSettings struct {
	File string `mapstructure:"file"`
}

type HTTPSettings struct {
	Port int `mapstructure:"port"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HistorySettings struct {
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

type JobSettings struct {
	Schedule string `mapstructure:"schedule"`
}

type HostSettings struct {
	Interval time.Duration `mapstructure:"interval"`
}

type SMTPSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type SlackSettings struct {
	APIURL        string        `mapstructure:"api_url"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type HipChatSettings struct {
	APIURL  string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WebhookSettings struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// SetDefaults registers the default of every setting on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.name", "registry-monitor")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.connect_retries", 5)

	v.SetDefault("registry.bucket", "service_registry")

	v.SetDefault("cluster.bucket", "monitor_cluster")
	v.SetDefault("cluster.name", "zkmonitor")
	v.SetDefault("cluster.prefix", "/zk_monitor")
	v.SetDefault("cluster.lock_ttl", 15*time.Second)
	v.SetDefault("cluster.agent", "")

	v.SetDefault("paths.file", "")
	v.SetDefault("http.port", 8080)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")

	v.SetDefault("history.path", "alert_history.db")
	v.SetDefault("history.retention", 720*time.Hour)
	v.SetDefault("resync.schedule", "@every 1m")
	v.SetDefault("cleanup.schedule", "@daily")
	v.SetDefault("host.interval", 30*time.Second)

	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 25)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "registry-monitor@localhost")

	v.SetDefault("slack.api_url", "https://slack.com/api/chat.postMessage")
	v.SetDefault("slack.rate_per_minute", 60)
	v.SetDefault("slack.timeout", 10*time.Second)
	v.SetDefault("hipchat.api_url", "https://api.hipchat.com/v1/rooms/message?format=json")
	v.SetDefault("hipchat.timeout", 10*time.Second)
	v.SetDefault("webhook.timeout", 10*time.Second)
}

// Load reads the config file named by v (if any), applies environment
// overrides and decodes everything into Settings
func Load(v *viper.Viper, file string) (*Settings, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.NATS.URLs = splitList(s.NATS.URLs)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks settings that cannot be defaulted
func (s *Settings) Validate() error {
	if len(s.NATS.URLs) == 0 {
		return fmt.Errorf("%w: at least one NATS url is required", ErrInvalidConfig)
	}
	if s.HTTP.Port < 0 || s.HTTP.Port > 65535 {
		return fmt.Errorf("%w: http port %d out of range", ErrInvalidConfig, s.HTTP.Port)
	}
	if s.Cluster.Name == "" {
		return fmt.Errorf("%w: cluster name is required", ErrInvalidConfig)
	}
	if !strings.HasPrefix(s.Cluster.Prefix, "/") {
		return fmt.Errorf("%w: cluster prefix must be an absolute path", ErrInvalidConfig)
	}
	return nil
}

// ClusterPath is the namespace of this agent's cluster, e.g. /zk_monitor/zkmonitor
func (s *Settings) ClusterPath() string {
	return strings.TrimRight(s.Cluster.Prefix, "/") + "/" + s.Cluster.Name
}

// splitList accepts both repeated values and comma separated ones
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
