package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. WAGATEWAY_WEB_PORT.
const EnvPrefix = "WAGATEWAY"

type SysConfig struct {
	Appid    string `yaml:"appid" mapstructure:"appid"`
	Location string `yaml:"location" mapstructure:"location"`
	Workdir  string `yaml:"workdir" mapstructure:"workdir"`
	Debug    bool   `yaml:"debug" mapstructure:"debug"`
}

type WebConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
	// Token is the bearer token checked when ProtectRoutes is set.
	Token         string `yaml:"token" mapstructure:"token"`
	ProtectRoutes bool   `yaml:"protect_routes" mapstructure:"protect_routes"`
	// AppURL is echoed to webhook receivers as api_url.
	AppURL string `yaml:"app_url" mapstructure:"app_url"`
}

type DBConfig struct {
	Type     string `yaml:"type" mapstructure:"type"` // postgres | sqlite
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Name     string `yaml:"name" mapstructure:"name"`
	User     string `yaml:"user" mapstructure:"user"`
	Passwd   string `yaml:"passwd" mapstructure:"passwd"`
	MaxConn  int    `yaml:"max_conn" mapstructure:"max_conn"`
	IdleConn int    `yaml:"idle_conn" mapstructure:"idle_conn"`
	Debug    bool   `yaml:"debug" mapstructure:"debug"`
}

// StoreConfig selects the backend of the session document store
// (credentials and chat snapshots).
type StoreConfig struct {
	Type          string `yaml:"type" mapstructure:"type"` // db | bolt | redis | memory
	BoltPath      string `yaml:"bolt_path" mapstructure:"bolt_path"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" mapstructure:"redis_prefix"`
	Compress      bool   `yaml:"compress" mapstructure:"compress"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" mapstructure:"mode"`
	Level      string `yaml:"level" mapstructure:"level"`
	FileEnable bool   `yaml:"file_enable" mapstructure:"file_enable"`
	Filename   string `yaml:"filename" mapstructure:"filename"`
}

type ReconnectConfig struct {
	InitialInterval  time.Duration `yaml:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval      time.Duration `yaml:"max_interval" mapstructure:"max_interval"`
	Multiplier       float64       `yaml:"multiplier" mapstructure:"multiplier"`
	Randomization    float64       `yaml:"randomization" mapstructure:"randomization"`
	StableAfter      time.Duration `yaml:"stable_after" mapstructure:"stable_after"`
	BreakerThreshold uint32        `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout" mapstructure:"breaker_timeout"`
}

type InstanceConfig struct {
	MaxRetryQR     int             `yaml:"max_retry_qr" mapstructure:"max_retry_qr"`
	SendRate       float64         `yaml:"send_rate" mapstructure:"send_rate"` // messages per second, 0 disables
	SendBurst      int             `yaml:"send_burst" mapstructure:"send_burst"`
	PurgeAfterDays int             `yaml:"purge_after_days" mapstructure:"purge_after_days"`
	Reconnect      ReconnectConfig `yaml:"reconnect" mapstructure:"reconnect"`
}

type WebhookConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	URL     string `yaml:"url" mapstructure:"url"`
	// Base64 inlines image, video and audio payloads into message webhooks.
	Base64            bool          `yaml:"base64" mapstructure:"base64"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Workers           int           `yaml:"workers" mapstructure:"workers"`
	Connection        bool          `yaml:"connection" mapstructure:"connection"`
	Presence          bool          `yaml:"presence" mapstructure:"presence"`
	Chats             bool          `yaml:"chats" mapstructure:"chats"`
	Message           bool          `yaml:"message" mapstructure:"message"`
	MessageUpdate     bool          `yaml:"message_update" mapstructure:"message_update"`
	CallOffer         bool          `yaml:"call_offer" mapstructure:"call_offer"`
	CallTerminate     bool          `yaml:"call_terminate" mapstructure:"call_terminate"`
	GroupCreated      bool          `yaml:"group_created" mapstructure:"group_created"`
	GroupUpdated      bool          `yaml:"group_updated" mapstructure:"group_updated"`
	GroupParticipants bool          `yaml:"group_participants" mapstructure:"group_participants"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system" mapstructure:"system"`
	Web      WebConfig      `yaml:"web" mapstructure:"web"`
	Database DBConfig       `yaml:"database" mapstructure:"database"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Logger   LogConfig      `yaml:"logger" mapstructure:"logger"`
	Instance InstanceConfig `yaml:"instance" mapstructure:"instance"`
	Webhook  WebhookConfig  `yaml:"webhook" mapstructure:"webhook"`
}

func (c *AppConfig) GetDataDir() string {
	return filepath.Join(c.System.Workdir, "data")
}

func (c *AppConfig) GetLogDir() string {
	return filepath.Join(c.System.Workdir, "logs")
}

// InitDirs creates the working directories.
func (c *AppConfig) InitDirs() error {
	for _, dir := range []string{c.GetDataDir(), c.GetLogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create dir %s", dir)
		}
	}
	return nil
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "wagateway",
		Location: "UTC",
		Workdir:  "/var/wagateway",
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 3333,
	},
	Database: DBConfig{
		Type:     "sqlite",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "wagateway.db",
		User:     "postgres",
		Passwd:   "postgres",
		MaxConn:  50,
		IdleConn: 10,
	},
	Store: StoreConfig{
		Type:        "db",
		BoltPath:    "sessions.bolt",
		RedisAddr:   "127.0.0.1:6379",
		RedisPrefix: "wagateway",
		Compress:    true,
	},
	Logger: LogConfig{
		Mode:       "development",
		Level:      "info",
		FileEnable: true,
		Filename:   "/var/wagateway/logs/wagateway.log",
	},
	Instance: InstanceConfig{
		MaxRetryQR:     2,
		SendBurst:      1,
		PurgeAfterDays: 30,
		Reconnect: ReconnectConfig{
			InitialInterval:  time.Second,
			MaxInterval:      2 * time.Minute,
			Multiplier:       2,
			Randomization:    0.5,
			StableAfter:      30 * time.Second,
			BreakerThreshold: 5,
			BreakerTimeout:   5 * time.Minute,
		},
	},
	Webhook: WebhookConfig{
		Enabled:           true,
		Timeout:           10 * time.Second,
		Workers:           64,
		Connection:        true,
		Presence:          true,
		Chats:             true,
		Message:           true,
		MessageUpdate:     true,
		CallOffer:         true,
		CallTerminate:     true,
		GroupCreated:      true,
		GroupUpdated:      true,
		GroupParticipants: true,
	},
}

// setDefaults seeds v with DefaultAppConfig so env overrides resolve even
// without a config file.
func setDefaults(v *viper.Viper) error {
	bs, err := yaml.Marshal(DefaultAppConfig)
	if err != nil {
		return err
	}
	return v.ReadConfig(bytes.NewReader(bs))
}

// LoadConfig reads the yaml file at cfile (optional) and applies
// WAGATEWAY_* environment overrides on top of the defaults.
func LoadConfig(cfile string) (*AppConfig, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := setDefaults(v); err != nil {
		return nil, nil, errors.Wrap(err, "config defaults")
	}

	if cfile == "" {
		for _, p := range []string{"wagateway.yml", "/etc/wagateway.yml"} {
			if _, err := os.Stat(p); err == nil {
				cfile = p
				break
			}
		}
	}
	if cfile != "" {
		v.SetConfigFile(cfile)
		if err := v.MergeInConfig(); err != nil {
			return nil, nil, errors.Wrapf(err, "read config %s", cfile)
		}
	}

	cfg := new(AppConfig)
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, nil, errors.Wrap(err, "decode config")
	}
	return cfg, v, nil
}

// Watch invokes fn with the freshly decoded config whenever the file backing
// v changes. It is a no-op when v was loaded from env and defaults only.
func Watch(v *viper.Viper, fn func(*AppConfig)) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, _, err := LoadConfig(e.Name)
		if err != nil {
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
}

// WriteDefault dumps DefaultAppConfig as yaml to path.
func WriteDefault(path string) error {
	bs, err := yaml.Marshal(DefaultAppConfig)
	if err != nil {
		return err
	}
	return os.WriteFile(path, bs, 0o644)
}
