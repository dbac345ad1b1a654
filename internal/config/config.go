// Package config loads relay settings from defaults, an optional YAML file,
// ACCELRELAY_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/accel.relay/internal/monitoring"
	"github.com/banshee-data/accel.relay/internal/pose"
	"github.com/banshee-data/accel.relay/internal/sensor"
	"github.com/banshee-data/accel.relay/internal/timeutil"
)

const (
	AppName           = "accel-relay"
	EnvPrefix         = "ACCELRELAY"
	DefaultConfigName = "config"

	DefaultListen      = ":3806"
	DefaultAdminListen = "localhost:8086"
	DefaultQueueDepth  = 8
)

// Backends and consent policies.
const (
	BackendSynthetic = "synthetic"
	BackendSerial    = "serial"

	ConsentAllow = "allow"
	ConsentDeny  = "deny"
	ConsentFile  = "file"
)

// Config is the complete relay configuration.
type Config struct {
	Listen       string       `mapstructure:"listen" yaml:"listen"`
	AdminListen  string       `mapstructure:"admin_listen" yaml:"admin_listen"`
	HealthListen string       `mapstructure:"health_listen" yaml:"health_listen"`
	Debug        bool         `mapstructure:"debug" yaml:"debug"`
	Sensor       SensorConfig `mapstructure:"sensor" yaml:"sensor"`
	Pose         pose.Config  `mapstructure:"pose" yaml:"pose"`
}

// SensorConfig selects and configures the sensor backend.
type SensorConfig struct {
	Type        string                 `mapstructure:"type" yaml:"type"`
	Backend     string                 `mapstructure:"backend" yaml:"backend"`
	Consent     string                 `mapstructure:"consent" yaml:"consent"`
	ConsentFile string                 `mapstructure:"consent_file" yaml:"consent_file,omitempty"`
	QueueDepth  int                    `mapstructure:"queue_depth" yaml:"queue_depth"`
	Extrinsics  []float32              `mapstructure:"extrinsics" yaml:"extrinsics,flow"`
	Serial      SerialConfig           `mapstructure:"serial" yaml:"serial"`
	Synthetic   sensor.SyntheticConfig `mapstructure:"synthetic" yaml:"synthetic"`
}

// SerialConfig is the port path plus line settings.
type SerialConfig struct {
	Path               string `mapstructure:"path" yaml:"path"`
	sensor.PortOptions `mapstructure:",squash" yaml:",inline"`
}

// Desc couples the parsed options with the viper instance that produced
// them.
type Desc struct {
	Opt   Config
	Viper *viper.Viper
}

func identity() []float32 {
	p := sensor.IdentityPose()
	return p[:]
}

// SetDefaults installs every key with its default value.
func SetDefaults(v *viper.Viper) {
	syn := sensor.DefaultSyntheticConfig()
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("admin_listen", DefaultAdminListen)
	v.SetDefault("health_listen", "")
	v.SetDefault("debug", false)
	v.SetDefault("sensor.type", sensor.TypeAccelerometer.String())
	v.SetDefault("sensor.backend", BackendSynthetic)
	v.SetDefault("sensor.consent", ConsentAllow)
	v.SetDefault("sensor.consent_file", "")
	v.SetDefault("sensor.queue_depth", DefaultQueueDepth)
	v.SetDefault("sensor.extrinsics", identity())
	v.SetDefault("sensor.serial.path", "")
	v.SetDefault("sensor.serial.baud_rate", sensor.DefaultBaudRate)
	v.SetDefault("sensor.serial.data_bits", 8)
	v.SetDefault("sensor.serial.stop_bits", 1)
	v.SetDefault("sensor.serial.parity", "N")
	v.SetDefault("sensor.synthetic.batch_rate_hz", syn.BatchRateHz)
	v.SetDefault("sensor.synthetic.batch_size", syn.BatchSize)
	v.SetDefault("pose.source", "static")
	v.SetDefault("pose.static", identity())
	v.SetDefault("pose.orbit.radius", 1.0)
	v.SetDefault("pose.orbit.period", "10s")
}

func searchPaths() []string {
	paths := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", AppName))
	}
	return append(paths, filepath.Join("/etc", AppName), "./")
}

// Parse loads the configuration for cmd. The file named by --config wins,
// then $ACCELRELAY_CONFIG, then config.yaml on the search path. A missing
// search-path file is not an error; a missing named file is.
func (d *Desc) Parse(cmd *cobra.Command) error {
	v := viper.New()
	SetDefaults(v)

	named := false
	if f, err := cmd.Flags().GetString("config"); err == nil && f != "" {
		v.SetConfigFile(f)
		named = true
	} else if f := os.Getenv(EnvPrefix + "_CONFIG"); f != "" {
		v.SetConfigFile(f)
		named = true
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		for _, p := range searchPaths() {
			v.AddConfigPath(p)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"debug":  "debug",
		"listen": "listen",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}

	if err := v.ReadInConfig(); err == nil {
		log.Debugln("using config file:", v.ConfigFileUsed())
	} else {
		var notFound viper.ConfigFileNotFoundError
		if named || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&d.Opt); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	d.Viper = v
	return nil
}

// PostParse applies settings that take effect process wide.
func (d *Desc) PostParse() {
	monitoring.SetLevel(d.Opt.Debug)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if _, err := sensor.ParseType(c.Sensor.Type); err != nil {
		return err
	}

	switch c.Sensor.Backend {
	case BackendSynthetic:
		if c.Sensor.Synthetic.BatchRateHz <= 0 {
			return fmt.Errorf("sensor.synthetic.batch_rate_hz must be positive, got %g", c.Sensor.Synthetic.BatchRateHz)
		}
		if c.Sensor.Synthetic.BatchSize <= 0 {
			return fmt.Errorf("sensor.synthetic.batch_size must be positive, got %d", c.Sensor.Synthetic.BatchSize)
		}
	case BackendSerial:
		if c.Sensor.Serial.Path == "" {
			return errors.New("sensor.serial.path is required for the serial backend")
		}
		if _, err := c.Sensor.Serial.Normalize(); err != nil {
			return fmt.Errorf("sensor.serial: %w", err)
		}
	default:
		return fmt.Errorf("unknown sensor.backend %q", c.Sensor.Backend)
	}

	switch c.Sensor.Consent {
	case ConsentAllow, ConsentDeny:
	case ConsentFile:
		if c.Sensor.ConsentFile == "" {
			return errors.New("sensor.consent_file is required when sensor.consent is file")
		}
	default:
		return fmt.Errorf("unknown sensor.consent %q", c.Sensor.Consent)
	}

	if c.Sensor.QueueDepth < 1 {
		return fmt.Errorf("sensor.queue_depth must be at least 1, got %d", c.Sensor.QueueDepth)
	}
	if _, err := c.Extrinsics(); err != nil {
		return err
	}
	if _, err := pose.New(c.Pose); err != nil {
		return fmt.Errorf("pose: %w", err)
	}
	return nil
}

// SensorType returns the parsed sensor type.
func (c *Config) SensorType() (sensor.Type, error) {
	return sensor.ParseType(c.Sensor.Type)
}

// Extrinsics returns the configured mounting transform. Empty means
// identity.
func (c *Config) Extrinsics() (sensor.Pose, error) {
	if len(c.Sensor.Extrinsics) == 0 {
		return sensor.IdentityPose(), nil
	}
	p, err := pose.FromSlice(c.Sensor.Extrinsics)
	if err != nil {
		return p, fmt.Errorf("sensor.extrinsics: %w", err)
	}
	return p, nil
}

// ConsentGate builds the configured consent policy.
func (c *Config) ConsentGate(clock timeutil.Clock) sensor.ConsentGate {
	switch c.Sensor.Consent {
	case ConsentDeny:
		return sensor.StaticConsent(false)
	case ConsentFile:
		return &sensor.FileConsent{Path: c.Sensor.ConsentFile, Clock: clock}
	}
	return sensor.StaticConsent(true)
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
