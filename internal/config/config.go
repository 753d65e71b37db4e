package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DeviceConfig - identity of the light
type DeviceConfig struct {
	Name string `yaml:"name"` // advertised name, also the storage namespace
}

// BLEConfig - GATT peripheral settings
type BLEConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PWMChannelConfig - one sysfs PWM output
type PWMChannelConfig struct {
	Chip    string `yaml:"chip"`
	Channel int    `yaml:"channel"`
}

// OutputConfig - hardware output driver
type OutputConfig struct {
	Driver   string              `yaml:"driver"` // sysfs | log
	PWMRoot  string              `yaml:"pwm_root"`
	Period   Duration            `yaml:"period"`
	Channels [3]PWMChannelConfig `yaml:"channels"` // red, green, blue
}

// BandConfig - raw ADC counts mapped onto 0..100 percent
type BandConfig struct {
	Low  uint16 `yaml:"low"`
	High uint16 `yaml:"high"`
}

// BatteryConfig - battery sampling
type BatteryConfig struct {
	Enabled  bool       `yaml:"enabled"`
	Path     string     `yaml:"path"` // IIO in_voltageN_raw file
	Interval Duration   `yaml:"interval"`
	Window   int        `yaml:"window"`
	Idle     BandConfig `yaml:"idle"`
	Powered  BandConfig `yaml:"powered"`
}

// StorageConfig - non-volatile store
type StorageConfig struct {
	Path string `yaml:"path"` // sqlite file; empty keeps state in memory
}

// AnimationConfig - render loop pacing
type AnimationConfig struct {
	FrameInterval Duration `yaml:"frame_interval"`
}

// PersistConfig - debounced flush
type PersistConfig struct {
	Delay Duration `yaml:"delay"`
}

// OTAConfig - firmware update transport
type OTAConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Target   string `yaml:"target"` // empty replaces the running executable
	MaxBytes int64  `yaml:"max_bytes"`
}

// ServerConfig - HTTP server
type ServerConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Port           string   `yaml:"port"`
	WebFilesDir    string   `yaml:"web_files_dir"` // optional static UI
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MQTTConfig - MQTT bridge
type MQTTConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Broker      string  `yaml:"broker"` // tcp://IP:PORT
	Username    string  `yaml:"username"`
	Password    string  `yaml:"password"`
	ClientID    string  `yaml:"client_id"`
	TopicPrefix string  `yaml:"topic_prefix"`
	RateLimit   float64 `yaml:"publish_rate_limit"`
	RateBurst   int     `yaml:"publish_rate_burst"`
}

// ScheduleConfig - a Lua script run on a cron spec
type ScheduleConfig struct {
	Name   string `yaml:"name"`
	Spec   string `yaml:"spec"`
	Script string `yaml:"script"`
}

// LogConfig - logging
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// Config - root structure
type Config struct {
	Device    DeviceConfig     `yaml:"device"`
	BLE       BLEConfig        `yaml:"ble"`
	Output    OutputConfig     `yaml:"output"`
	Battery   BatteryConfig    `yaml:"battery"`
	Storage   StorageConfig    `yaml:"storage"`
	Animation AnimationConfig  `yaml:"animation"`
	Persist   PersistConfig    `yaml:"persist"`
	OTA       OTAConfig        `yaml:"ota"`
	Server    ServerConfig     `yaml:"server"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	Schedules []ScheduleConfig `yaml:"schedules"`
	Log       LogConfig        `yaml:"log"`

	ScriptTimeout   Duration `yaml:"script_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Duration is a time.Duration read from a YAML string such as "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// base has the sections that are on unless a file turns them off.
func base() *Config {
	return &Config{
		BLE:     BLEConfig{Enabled: true},
		Battery: BatteryConfig{Enabled: true},
		Server:  ServerConfig{Enabled: true},
	}
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := base()
	cfg.setDefaults()
	return cfg
}

// Load reads the file, expands ${VAR} references, parses YAML and applies
// validation and defaults. A missing file yields Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := base()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode yaml: %w", err)
	}

	cfg.sanitize()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) sanitize() {
	c.Device.Name = strings.TrimSpace(c.Device.Name)
	c.Output.Driver = strings.ToLower(strings.TrimSpace(c.Output.Driver))
	c.Battery.Path = strings.TrimSpace(c.Battery.Path)
	c.Storage.Path = strings.TrimSpace(c.Storage.Path)
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.MQTT.TopicPrefix = strings.Trim(strings.TrimSpace(c.MQTT.TopicPrefix), "/")
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	for i := range c.Schedules {
		c.Schedules[i].Spec = strings.TrimSpace(c.Schedules[i].Spec)
	}
}

func (c *Config) setDefaults() {
	// Device Defaults
	if c.Device.Name == "" {
		c.Device.Name = "Legendary Invention"
	}

	// Output Defaults
	if c.Output.Driver == "" {
		c.Output.Driver = "log"
	}
	if c.Output.Period == 0 {
		c.Output.Period = Duration(200 * time.Microsecond) // 5 kHz
	}
	if c.Output.Channels == ([3]PWMChannelConfig{}) {
		c.Output.Channels = [3]PWMChannelConfig{
			{Chip: "pwmchip0", Channel: 0},
			{Chip: "pwmchip0", Channel: 1},
			{Chip: "pwmchip0", Channel: 2},
		}
	}

	// Battery Defaults
	if c.Battery.Path == "" {
		c.Battery.Path = "/sys/bus/iio/devices/iio:device0/in_voltage0_raw"
	}
	if c.Battery.Interval == 0 {
		c.Battery.Interval = Duration(60 * time.Second)
	}
	if c.Battery.Window <= 0 {
		c.Battery.Window = 10
	}
	if c.Battery.Idle == (BandConfig{}) {
		c.Battery.Idle = BandConfig{Low: 3000, High: 3900}
	}
	if c.Battery.Powered == (BandConfig{}) {
		c.Battery.Powered = BandConfig{Low: 2800, High: 3700}
	}

	// Timing Defaults
	if c.Animation.FrameInterval == 0 {
		c.Animation.FrameInterval = Duration(time.Millisecond)
	}
	if c.Persist.Delay == 0 {
		c.Persist.Delay = Duration(5 * time.Second)
	}
	if c.ScriptTimeout == 0 {
		c.ScriptTimeout = Duration(10 * time.Second)
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(5 * time.Second)
	}

	// OTA Defaults
	if c.OTA.Addr == "" {
		c.OTA.Addr = ":8266"
	}
	if c.OTA.Password == "" {
		c.OTA.Password = "12345678"
	}
	if c.OTA.MaxBytes <= 0 {
		c.OTA.MaxBytes = 64 << 20
	}

	// Server Defaults
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:8080"}
	}

	// MQTT Defaults
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "light"
	}
	if c.MQTT.RateLimit == 0 {
		c.MQTT.RateLimit = 25.0
	}
	if c.MQTT.RateBurst <= 0 {
		c.MQTT.RateBurst = 25
	}

	// Log Defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	switch c.Output.Driver {
	case "sysfs", "log":
	default:
		return fmt.Errorf("config error: unknown output driver %q", c.Output.Driver)
	}
	for name, b := range map[string]BandConfig{"idle": c.Battery.Idle, "powered": c.Battery.Powered} {
		if b.Low >= b.High {
			return fmt.Errorf("config error: battery %s band low (%d) must be below high (%d)", name, b.Low, b.High)
		}
	}
	if c.Animation.FrameInterval < 0 || c.Persist.Delay < 0 {
		return fmt.Errorf("config error: durations must not be negative")
	}
	if c.MQTT.RateLimit <= 0 {
		return fmt.Errorf("config error: 'publish_rate_limit' must be positive")
	}
	for i, s := range c.Schedules {
		if s.Spec == "" || strings.TrimSpace(s.Script) == "" {
			return fmt.Errorf("config error: schedule %d needs both spec and script", i)
		}
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
}
