package config

import (
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const envPrefix = "WHATSHTTP_"

// SysConfig system configuration
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

// WebConfig web server configuration
type WebConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DBConfig database configuration.
// Type is one of postgres, sqlite, bolt or memory.
type DBConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

// LogConfig logger configuration
type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// WhatsappConfig provider session configuration
type WhatsappConfig struct {
	// SessionDir holds one device store per tenant.
	SessionDir string `yaml:"session_dir"`
	// TypingDelay enables the human-like pause before outbound sends.
	TypingDelay bool `yaml:"typing_delay"`
	// OrphanTTL is how long a non-ready record without a live session is kept.
	OrphanTTL     time.Duration `yaml:"orphan_ttl"`
	ReloadWorkers int           `yaml:"reload_workers"`
	Debug         bool          `yaml:"debug"`
}

// WebhookConfig outbound relay configuration
type WebhookConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	Workers      int           `yaml:"workers"`
	AmqpURL      string        `yaml:"amqp_url"`
	AmqpExchange string        `yaml:"amqp_exchange"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system"`
	Web      WebConfig      `yaml:"web"`
	Database DBConfig       `yaml:"database"`
	Logger   LogConfig      `yaml:"logger"`
	Whatsapp WhatsappConfig `yaml:"whatsapp"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

// GetSessionDir returns the provider session directory, defaulting under the workdir.
func (c *AppConfig) GetSessionDir() string {
	if c.Whatsapp.SessionDir != "" {
		return c.Whatsapp.SessionDir
	}
	return path.Join(c.GetDataDir(), "sessions")
}

// InitDirs creates the working directories.
func (c *AppConfig) InitDirs() error {
	for _, dir := range []string{c.GetLogDir(), c.GetDataDir(), c.GetSessionDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return nil
}

// DefaultAppConfig returns the built-in defaults.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		System: SysConfig{
			Appid:    "whatshttp",
			Location: "UTC",
			Workdir:  "./var",
		},
		Web: WebConfig{
			Host:           "0.0.0.0",
			Port:           3000,
			RequestTimeout: 60 * time.Second,
		},
		Database: DBConfig{
			Type:     "sqlite",
			Name:     "whatshttp.db",
			MaxConn:  20,
			IdleConn: 5,
		},
		Logger: LogConfig{
			Mode:     "development",
			Filename: "./var/logs/whatshttp.log",
		},
		Whatsapp: WhatsappConfig{
			TypingDelay:   true,
			OrphanTTL:     30 * time.Minute,
			ReloadWorkers: 8,
		},
		Webhook: WebhookConfig{
			Timeout:      15 * time.Second,
			Workers:      64,
			AmqpExchange: "whatshttp.events",
		},
	}
}

// LoadConfig reads the yaml file (if any) over the defaults and applies
// WHATSHTTP_* environment overrides.
func LoadConfig(cfile string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if cfile != "" {
		data, err := os.ReadFile(cfile)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	setString("SYSTEM_WORKDIR", &cfg.System.Workdir)
	setString("SYSTEM_LOCATION", &cfg.System.Location)
	setBool("SYSTEM_DEBUG", &cfg.System.Debug)

	setString("WEB_HOST", &cfg.Web.Host)
	setInt("WEB_PORT", &cfg.Web.Port)
	setDuration("WEB_REQUEST_TIMEOUT", &cfg.Web.RequestTimeout)

	setString("DB_TYPE", &cfg.Database.Type)
	setString("DB_HOST", &cfg.Database.Host)
	setInt("DB_PORT", &cfg.Database.Port)
	setString("DB_NAME", &cfg.Database.Name)
	setString("DB_USER", &cfg.Database.User)
	setString("DB_PASSWD", &cfg.Database.Passwd)
	setBool("DB_DEBUG", &cfg.Database.Debug)

	setString("LOGGER_MODE", &cfg.Logger.Mode)
	setBool("LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)
	setString("LOGGER_FILENAME", &cfg.Logger.Filename)

	setString("WHATSAPP_SESSION_DIR", &cfg.Whatsapp.SessionDir)
	setBool("WHATSAPP_TYPING_DELAY", &cfg.Whatsapp.TypingDelay)
	setDuration("WHATSAPP_ORPHAN_TTL", &cfg.Whatsapp.OrphanTTL)
	setInt("WHATSAPP_RELOAD_WORKERS", &cfg.Whatsapp.ReloadWorkers)
	setBool("WHATSAPP_DEBUG", &cfg.Whatsapp.Debug)

	setDuration("WEBHOOK_TIMEOUT", &cfg.Webhook.Timeout)
	setInt("WEBHOOK_WORKERS", &cfg.Webhook.Workers)
	setString("WEBHOOK_AMQP_URL", &cfg.Webhook.AmqpURL)
	setString("WEBHOOK_AMQP_EXCHANGE", &cfg.Webhook.AmqpExchange)
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func setInt(name string, dst *int) {
	if v, ok := lookup(name); ok {
		if n, err := cast.ToIntE(v); err == nil {
			*dst = n
		}
	}
}

func setBool(name string, dst *bool) {
	if v, ok := lookup(name); ok {
		if b, err := cast.ToBoolE(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(name string, dst *time.Duration) {
	if v, ok := lookup(name); ok {
		if d, err := cast.ToDurationE(v); err == nil {
			*dst = d
		}
	}
}
