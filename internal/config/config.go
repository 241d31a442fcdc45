// Package config loads the application settings from defaults, an optional
// YAML file, FTPTEST_ environment variables and command-line flags, in that
// order of precedence (flags win).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lowaak/smart-trainer/ftp-test/internal/engine"
	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
	"github.com/lowaak/smart-trainer/ftp-test/internal/protocol"
	"github.com/lowaak/smart-trainer/ftp-test/internal/telemetry"
)

// EnvPrefix is prepended to every environment override, e.g. FTPTEST_TEST_PROTOCOL
const EnvPrefix = "FTPTEST"

// Telemetry sources
const (
	SourceSim  = "sim"
	SourceMQTT = "mqtt"
	SourceBLE  = "ble"
)

var (
	ErrInvalidFTP       = errors.New("profile.ftp must be positive")
	ErrInvalidTolerance = errors.New("test.tolerance_percent must be in (0, 50]")
	ErrInvalidSource    = errors.New("telemetry.source must be sim, mqtt or ble")
	ErrInvalidBrokers   = errors.New("mqtt.broker is required for the mqtt source")
)

type ProfileConfig struct {
	FTP      int     `mapstructure:"ftp"`
	MaxHR    int     `mapstructure:"max_hr"`
	WeightKg float64 `mapstructure:"weight_kg"`
}

type TestConfig struct {
	Protocol         string  `mapstructure:"protocol"`
	CalcMethod       string  `mapstructure:"calc_method"`
	TolerancePercent float64 `mapstructure:"tolerance_percent"`
	MotivationAlerts bool    `mapstructure:"motivation_alerts"`
	MaxSamples       int     `mapstructure:"max_samples"`
}

type RampConfig struct {
	StartPower    int `mapstructure:"start_power"`
	StepIncrement int `mapstructure:"step_increment"`
	WarmupMin     int `mapstructure:"warmup_min"`
	CooldownMin   int `mapstructure:"cooldown_min"`
}

type TelemetryConfig struct {
	Source string `mapstructure:"source"`
}

type SimConfig struct {
	Listen    string `mapstructure:"listen"`
	Power     int    `mapstructure:"power"`
	HeartRate int    `mapstructure:"heart_rate"`
	Cadence   int    `mapstructure:"cadence"`
	Jitter    int    `mapstructure:"jitter"`
}

type MQTTConfig struct {
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	AlertWindow time.Duration `mapstructure:"alert_window"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

type StoreConfig struct {
	Path    string `mapstructure:"path"`
	History int    `mapstructure:"history"`
}

type UIConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LogConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Stderr     bool   `mapstructure:"stderr"`
}

// Config is the full application configuration
type Config struct {
	ConfigFile string `mapstructure:"-"`

	Profile   ProfileConfig   `mapstructure:"profile"`
	Test      TestConfig      `mapstructure:"test"`
	Ramp      RampConfig      `mapstructure:"ramp"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Sim       SimConfig       `mapstructure:"sim"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	UI        UIConfig        `mapstructure:"ui"`
	Log       LogConfig       `mapstructure:"log"`

	protocolType protocol.Type
	calcMethod   ftp.CalcMethod
}

func baseDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".ftp-test")
}

func setDefaults(v *viper.Viper) {
	dir := baseDir()
	ramp := protocol.DefaultRampConfig()

	v.SetDefault("profile.ftp", engine.DefaultFTP)
	v.SetDefault("profile.max_hr", engine.DefaultMaxHR)
	v.SetDefault("profile.weight_kg", 0.0)

	v.SetDefault("test.protocol", protocol.Ramp.String())
	v.SetDefault("test.calc_method", ftp.Standard.String())
	v.SetDefault("test.tolerance_percent", engine.DefaultTolerancePercent)
	v.SetDefault("test.motivation_alerts", true)
	v.SetDefault("test.max_samples", engine.DefaultMaxSamples)

	v.SetDefault("ramp.start_power", ramp.StartPower)
	v.SetDefault("ramp.step_increment", ramp.StepIncrement)
	v.SetDefault("ramp.warmup_min", ramp.WarmupMin)
	v.SetDefault("ramp.cooldown_min", ramp.CooldownMin)

	v.SetDefault("telemetry.source", SourceSim)

	v.SetDefault("sim.listen", "127.0.0.1:8081")
	v.SetDefault("sim.power", 200)
	v.SetDefault("sim.heart_rate", 140)
	v.SetDefault("sim.cadence", 90)
	v.SetDefault("sim.jitter", 5)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "ftp-test")
	v.SetDefault("mqtt.topic_prefix", "ftp-test")
	v.SetDefault("mqtt.alert_window", 10*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "ftp-test.results")

	v.SetDefault("http.listen", "127.0.0.1:8080")

	v.SetDefault("store.path", filepath.Join(dir, "results.json"))
	v.SetDefault("store.history", 50)

	v.SetDefault("ui.enabled", true)

	v.SetDefault("log.path", filepath.Join(dir, "ftp-test.log"))
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.stderr", false)
}

// flagKeys maps each command-line flag to the key it overrides
var flagKeys = map[string]string{
	"ftp":          "profile.ftp",
	"max-hr":       "profile.max_hr",
	"weight":       "profile.weight_kg",
	"protocol":     "test.protocol",
	"method":       "test.calc_method",
	"tolerance":    "test.tolerance_percent",
	"source":       "telemetry.source",
	"sim-listen":   "sim.listen",
	"sim-power":    "sim.power",
	"mqtt-broker":  "mqtt.broker",
	"kafka-broker": "kafka.brokers",
	"kafka-topic":  "kafka.topic",
	"http-listen":  "http.listen",
	"store":        "store.path",
	"ui":           "ui.enabled",
	"log":          "log.path",
	"log-stderr":   "log.stderr",
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "config file (default ~/.ftp-test/config.yaml)")
	fs.Int("ftp", engine.DefaultFTP, "current FTP in watts")
	fs.Int("max-hr", engine.DefaultMaxHR, "maximum heart rate")
	fs.Float64("weight", 0, "rider weight in kg")
	fs.String("protocol", protocol.Ramp.String(), "test protocol: RAMP, TWENTY_MINUTE or EIGHT_MINUTE")
	fs.String("method", ftp.Standard.String(), "FTP calculation: CONSERVATIVE, STANDARD or AGGRESSIVE")
	fs.Float64("tolerance", engine.DefaultTolerancePercent, "target zone tolerance in percent")
	fs.String("source", SourceSim, "telemetry source: sim, mqtt or ble")
	fs.String("sim-listen", "127.0.0.1:8081", "simulator control API address, empty to disable")
	fs.Int("sim-power", 200, "simulator starting power")
	fs.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	fs.StringSlice("kafka-broker", nil, "Kafka brokers for result publication")
	fs.String("kafka-topic", "ftp-test.results", "Kafka topic for results")
	fs.String("http-listen", "127.0.0.1:8080", "HTTP API address, empty to disable")
	fs.String("store", "", "results file")
	fs.Bool("ui", true, "show the terminal dashboard")
	fs.String("log", "", "log file")
	fs.Bool("log-stderr", false, "also log to stderr when the dashboard is off")
	return fs
}

// Load resolves the configuration for the given command-line arguments
// (without the program name)
func Load(args []string) (Config, error) {
	fs := newFlagSet("ftp-test")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return Config{}, fmt.Errorf("binding --%s: %w", name, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile, _ := fs.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(baseDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(baseDir(), "results.json")
	}
	if cfg.Log.Path == "" {
		cfg.Log.Path = filepath.Join(baseDir(), "ftp-test.log")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Profile.FTP <= 0 {
		return ErrInvalidFTP
	}
	if c.Test.TolerancePercent <= 0 || c.Test.TolerancePercent > 50 {
		return ErrInvalidTolerance
	}

	t, err := protocol.ParseType(c.Test.Protocol)
	if err != nil {
		return fmt.Errorf("test.protocol: %w", err)
	}
	c.protocolType = t

	m, err := ftp.ParseCalcMethod(c.Test.CalcMethod)
	if err != nil {
		return fmt.Errorf("test.calc_method: %w", err)
	}
	c.calcMethod = m

	switch c.Telemetry.Source {
	case SourceSim, SourceBLE:
	case SourceMQTT:
		if c.MQTT.Broker == "" {
			return ErrInvalidBrokers
		}
	default:
		return fmt.Errorf("%w (got %q)", ErrInvalidSource, c.Telemetry.Source)
	}
	return nil
}

// ProtocolType is the validated test.protocol
func (c Config) ProtocolType() protocol.Type { return c.protocolType }

// CalcMethod is the validated test.calc_method
func (c Config) CalcMethod() ftp.CalcMethod { return c.calcMethod }

// Engine builds the engine configuration
func (c Config) Engine() engine.Config {
	ec := engine.DefaultConfig()
	ec.TolerancePercent = c.Test.TolerancePercent
	ec.MaxSamples = c.Test.MaxSamples
	ec.MaxHeartRateSamples = c.Test.MaxSamples
	ec.CalcMethod = c.calcMethod
	ec.MotivationAlerts = c.Test.MotivationAlerts
	ec.Ramp.StartPower = c.Ramp.StartPower
	ec.Ramp.StepIncrement = c.Ramp.StepIncrement
	ec.Ramp.WarmupMin = c.Ramp.WarmupMin
	ec.Ramp.CooldownMin = c.Ramp.CooldownMin
	return ec
}

// RiderProfile is the configured rider profile
func (c Config) RiderProfile() telemetry.Profile {
	return telemetry.Profile{FTP: c.Profile.FTP, MaxHR: c.Profile.MaxHR, WeightKg: c.Profile.WeightKg}
}

// Simulator builds the simulator settings
func (c Config) Simulator() telemetry.SimulatorConfig {
	return telemetry.SimulatorConfig{
		Listen:    c.Sim.Listen,
		Power:     c.Sim.Power,
		HeartRate: c.Sim.HeartRate,
		Cadence:   c.Sim.Cadence,
		Jitter:    c.Sim.Jitter,
		Period:    time.Second,
	}
}
