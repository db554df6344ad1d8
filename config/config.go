package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const EnvPrefix = "AGENTBUS"

type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Log       LogConfig       `mapstructure:"log"`
	Bus       BusConfig       `mapstructure:"bus"`
	Store     StoreConfig     `mapstructure:"store"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Taps      TapsConfig      `mapstructure:"taps"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	watch *watcher
}

type ServiceConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level  slog.Level `mapstructure:"level"`
	Format string     `mapstructure:"format"` // json | text
	// File enables rotation through lumberjack. Empty logs to stdout only.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	// OTel also ships records through the OpenTelemetry log bridge.
	OTel bool `mapstructure:"otel"`
}

type BusConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	BaseBackoff   time.Duration `mapstructure:"base_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	Concurrency   int           `mapstructure:"concurrency"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type StoreConfig struct {
	Driver    string        `mapstructure:"driver"` // memory | journal
	Path      string        `mapstructure:"path"`
	CacheSize int           `mapstructure:"cache_size"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type TapsConfig struct {
	Buffer      int           `mapstructure:"buffer"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
}

type PubSubConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	IngressTopic string        `mapstructure:"ingress_topic"`
	PoisonTopic  string        `mapstructure:"poison_topic"`
	EgressPrefix string        `mapstructure:"egress_prefix"`
	Buffer       int64         `mapstructure:"buffer"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// SampleRatio applies to root spans only.
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.id", "agentbus-1")
	v.SetDefault("service.name", "agent-event-bus")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("bus.max_retries", 3)
	v.SetDefault("bus.base_backoff", time.Second)
	v.SetDefault("bus.max_backoff", 30*time.Second)
	v.SetDefault("bus.concurrency", 4)
	v.SetDefault("bus.shutdown_grace", 15*time.Second)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "./data")
	v.SetDefault("store.cache_size", 4096)
	v.SetDefault("store.breaker.enabled", true)
	v.SetDefault("store.breaker.max_failures", 5)
	v.SetDefault("store.breaker.open_timeout", 30*time.Second)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)

	v.SetDefault("taps.buffer", 256)
	v.SetDefault("taps.send_timeout", 500*time.Millisecond)
	v.SetDefault("taps.poll_timeout", 25*time.Second)
	v.SetDefault("taps.ping_period", 30*time.Second)

	v.SetDefault("pubsub.enabled", true)
	v.SetDefault("pubsub.ingress_topic", "agentbus.ingress")
	v.SetDefault("pubsub.poison_topic", "agentbus.ingress.poison")
	v.SetDefault("pubsub.egress_prefix", "agentbus.events.")
	v.SetDefault("pubsub.buffer", 1024)
	v.SetDefault("pubsub.max_retries", 3)
	v.SetDefault("pubsub.retry_delay", 100*time.Millisecond)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Flags returns the command line overrides bound on top of the file and
// environment.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("agentbus", pflag.ContinueOnError)
	fs.String("log.level", "", "log level (debug, info, warn, error)")
	fs.String("http.addr", "", "admin HTTP listen address")
	fs.String("store.driver", "", "event store driver (memory, journal)")
	fs.String("store.path", "", "journal directory")
	fs.Int("bus.max_retries", 0, "default retry budget per event")
	fs.Int("bus.concurrency", 0, "default concurrency limit per subscription")
	return fs
}

// LoadConfig reads path (optional), AGENTBUS_* environment variables and
// any explicitly set flags from args, in increasing precedence.
func LoadConfig(path string, args ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if len(args) > 0 {
		fs := Flags()
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("config: flags: %w", err)
		}
		// Only flags the user actually set override lower layers.
		fs.VisitAll(func(f *pflag.Flag) {
			if !f.Changed {
				return
			}
			_ = v.BindPFlag(f.Name, f)
		})
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if path != "" {
		cfg.watch = &watcher{v: v}
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := new(Config)
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		levelHook(),
	)))
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// levelHook decodes "debug", "INFO", "warn+2" and friends into slog.Level.
func levelHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(slog.Level(0)) || from.Kind() != reflect.String {
			return data, nil
		}
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(reflect.ValueOf(data).String())); err != nil {
			return nil, fmt.Errorf("log level %q: %w", data, err)
		}
		return lvl, nil
	}
}

// Validate rejects settings the bus cannot run with.
func (c *Config) Validate() error {
	var err error
	if c.Bus.MaxRetries < 0 {
		err = multierr.Append(err, errors.New("bus.max_retries must be >= 0"))
	}
	if c.Bus.Concurrency < 1 {
		err = multierr.Append(err, errors.New("bus.concurrency must be >= 1"))
	}
	if c.Bus.BaseBackoff <= 0 {
		err = multierr.Append(err, errors.New("bus.base_backoff must be positive"))
	}
	if c.Bus.MaxBackoff < c.Bus.BaseBackoff {
		err = multierr.Append(err, errors.New("bus.max_backoff must be >= bus.base_backoff"))
	}
	switch c.Store.Driver {
	case "memory":
	case "journal":
		if c.Store.Path == "" {
			err = multierr.Append(err, errors.New("store.path is required for the journal driver"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("store.driver %q: want memory or journal", c.Store.Driver))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		err = multierr.Append(err, fmt.Errorf("log.format %q: want json or text", c.Log.Format))
	}
	return err
}

type watcher struct {
	v    *viper.Viper
	once sync.Once
}

// OnChange re-decodes the file on every write and hands the fresh config to
// fn. Only settings that are safe to swap live (the log level) should be
// applied by fn. Without a config file it is a no-op.
func (c *Config) OnChange(fn func(*Config)) {
	if c.watch == nil {
		return
	}
	c.watch.v.OnConfigChange(func(fsnotify.Event) {
		next, err := decode(c.watch.v)
		if err != nil || next.Validate() != nil {
			return
		}
		fn(next)
	})
	c.watch.once.Do(c.watch.v.WatchConfig)
}
