// Package config loads the daemon configuration from flags, environment
// and an optional TOML file.
package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/airnode/internal/alert"
	"codeberg.org/mutker/airnode/internal/checkpoint"
	"codeberg.org/mutker/airnode/internal/connectivity"
	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/hal"
	"codeberg.org/mutker/airnode/internal/node"
	"codeberg.org/mutker/airnode/internal/publisher"
	"codeberg.org/mutker/airnode/internal/quality"
	"codeberg.org/mutker/airnode/internal/sensor"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel  = LogLevelInfo
	DefaultEnvPrefix = "AIRNODE"
	DefaultPIDFile   = "/run/airnode.pid"
	DefaultQoS       = 0

	configName = "airnode"
	configType = "toml"
	configDir  = "/etc"
)

type Config struct {
	LogLevel   LogLevel           `mapstructure:"log_level"`
	PIDFile    string             `mapstructure:"pid_file"`
	Sampling   Sampling           `mapstructure:"sampling"`
	Thresholds quality.Thresholds `mapstructure:"thresholds"`
	Alert      alert.Config       `mapstructure:"alert"`
	Link       Link               `mapstructure:"link"`
	Broker     Broker             `mapstructure:"broker"`
	Topics     Topics             `mapstructure:"topics"`
	Hardware   hal.Config         `mapstructure:"hardware"`
	Checkpoint checkpoint.Config  `mapstructure:"checkpoint"`
}

type Sampling struct {
	Interval time.Duration `mapstructure:"interval"`
	Tick     time.Duration `mapstructure:"tick"`
	Window   int           `mapstructure:"window"`
	RawMax   int           `mapstructure:"raw_max"`
}

type Link struct {
	SSID       string        `mapstructure:"ssid"`
	Password   string        `mapstructure:"password"`
	Attempts   int           `mapstructure:"attempts"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type Broker struct {
	Address         string        `mapstructure:"address"`
	Discover        bool          `mapstructure:"discover"`
	DiscoverTimeout time.Duration `mapstructure:"discover_timeout"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	ClientPrefix    string        `mapstructure:"client_prefix"`
	KeepAlive       time.Duration `mapstructure:"keepalive"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
	QoS             int           `mapstructure:"qos"`
}

type Topics struct {
	Data           string `mapstructure:"data"`
	Classification string `mapstructure:"classification"`
	Status         string `mapstructure:"status"`
}

// Load reads the configuration. Precedence is flags, then environment
// (AIRNODE_SAMPLING_INTERVAL, ...), then the TOML file, then defaults.
// The file is --config, AIRNODE_CONFIG or /etc/airnode.toml.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if f, _ := fs.GetString("config"); f != "" {
		path = f
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	alertCfg := alert.DefaultConfig()
	conn := connectivity.DefaultConfig()
	hw := hal.DefaultConfig()
	cp := checkpoint.DefaultConfig()
	th := quality.DefaultThresholds()

	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("pid_file", DefaultPIDFile)

	v.SetDefault("sampling.interval", node.DefaultSampleInterval)
	v.SetDefault("sampling.tick", node.DefaultTickInterval)
	v.SetDefault("sampling.window", sensor.DefaultWindowSize)
	v.SetDefault("sampling.raw_max", sensor.DefaultRawMax)

	v.SetDefault("thresholds.excellent", th.Excellent)
	v.SetDefault("thresholds.good", th.Good)
	v.SetDefault("thresholds.moderate", th.Moderate)
	v.SetDefault("thresholds.poor", th.Poor)

	v.SetDefault("alert.critical", alertCfg.Levels.Critical)
	v.SetDefault("alert.attention", alertCfg.Levels.Attention)
	v.SetDefault("alert.blink_period", alertCfg.BlinkPeriod)
	v.SetDefault("alert.display_width", alertCfg.DisplayWidth)

	v.SetDefault("link.ssid", "")
	v.SetDefault("link.password", "")
	v.SetDefault("link.attempts", conn.LinkAttempts)
	v.SetDefault("link.retry_delay", conn.LinkRetryDelay)

	v.SetDefault("broker.address", "")
	v.SetDefault("broker.discover", false)
	v.SetDefault("broker.discover_timeout", 3*time.Second)
	v.SetDefault("broker.username", "")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.client_prefix", conn.ClientPrefix)
	v.SetDefault("broker.keepalive", 15*time.Second)
	v.SetDefault("broker.cooldown", conn.ReconnectCooldown)
	v.SetDefault("broker.publish_timeout", 2*time.Second)
	v.SetDefault("broker.qos", DefaultQoS)

	v.SetDefault("topics.data", publisher.DefaultDataTopic)
	v.SetDefault("topics.classification", publisher.DefaultClassTopic)
	v.SetDefault("topics.status", conn.StatusTopic)

	v.SetDefault("hardware.driver", hw.Driver)
	v.SetDefault("hardware.port", hw.Port)
	v.SetDefault("hardware.baud", hw.Baud)
	v.SetDefault("hardware.pattern", hw.Pattern)

	v.SetDefault("checkpoint.enabled", cp.Enabled)
	v.SetDefault("checkpoint.db_path", cp.DBPath)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("airnode", pflag.ContinueOnError)

	fs.String("config", "", "Path to the TOML configuration file")
	fs.String("log-level", string(DefaultLogLevel), "Log level (debug, info, warning, error)")
	fs.String("pid-file", DefaultPIDFile, "PID file path")
	fs.Duration("interval", node.DefaultSampleInterval, "Interval between sensor readings")
	fs.String("broker", "", "Broker address (host:port)")
	fs.Bool("discover", false, "Discover the broker over mDNS")
	fs.String("ssid", "", "Wireless network name")
	fs.String("driver", hal.DriverSim, "Hardware driver (sim, serial)")
	fs.String("port", hal.DefaultConfig().Port, "Serial port of the bridge")
	fs.String("pattern", hal.PatternClean, "Simulated sensor pattern (clean, dirty, ramp, noisy)")
	fs.Bool("checkpoint", false, "Persist the reading counter across restarts")

	return fs
}

var flagKeys = map[string]string{
	"log-level":  "log_level",
	"pid-file":   "pid_file",
	"interval":   "sampling.interval",
	"broker":     "broker.address",
	"discover":   "broker.discover",
	"ssid":       "link.ssid",
	"driver":     "hardware.driver",
	"port":       "hardware.port",
	"pattern":    "hardware.pattern",
	"checkpoint": "checkpoint.enabled",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks the loaded values. Component configs validate
// themselves.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !c.LogLevel.IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if err := c.NodeConfig().Validate(); err != nil {
		return err
	}
	if c.Sampling.Window <= 0 || c.Sampling.RawMax <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, c.Sampling)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if err := c.Alert.Validate(); err != nil {
		return err
	}
	if err := c.ConnectivityConfig().Validate(); err != nil {
		return err
	}
	if c.Broker.Address == "" && !c.Broker.Discover {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "broker address is required unless discovery is enabled")
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		return errFactory.WithData(errors.ErrInvalidConfig, c.Broker.QoS)
	}
	if c.Topics.Data == "" || c.Topics.Classification == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, c.Topics)
	}
	if err := c.Hardware.Validate(); err != nil {
		return err
	}

	return c.Checkpoint.Validate()
}

func (c *Config) NodeConfig() node.Config {
	return node.Config{
		SampleInterval: c.Sampling.Interval,
		TickInterval:   c.Sampling.Tick,
	}
}

func (c *Config) ConnectivityConfig() connectivity.Config {
	conn := connectivity.DefaultConfig()
	conn.SSID = c.Link.SSID
	conn.Password = c.Link.Password
	conn.LinkAttempts = c.Link.Attempts
	conn.LinkRetryDelay = c.Link.RetryDelay
	conn.ReconnectCooldown = c.Broker.Cooldown
	conn.ClientPrefix = c.Broker.ClientPrefix
	conn.StatusTopic = c.Topics.Status

	return conn
}

func (c *Config) PublisherTopics() publisher.Topics {
	return publisher.Topics{
		Data:           c.Topics.Data,
		Classification: c.Topics.Classification,
	}
}
