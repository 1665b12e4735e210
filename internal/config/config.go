package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// ServerConfig holds the settings of the configuration HTTP endpoint.
type ServerConfig struct {
	Port            string `json:"port"`
	WebFilesDir     string `json:"web_files_dir"`
	DefaultDocument string `json:"default_document"`
	ReadTimeout     string `json:"read_timeout"`
	MaxRequestBytes int    `json:"max_request_bytes"`
}

// OutputConfig selects the controlled output. Kind doubles as the
// keyword accepted in the setConfig mode vocabulary ("led" or
// "relais") and picks the initial working mode.
type OutputConfig struct {
	Kind      string `json:"kind"`
	Driver    string `json:"driver"` // "sysfs" or "none"
	Pin       int    `json:"pin"`
	ActiveLow bool   `json:"active_low"`
}

// LinkConfig holds the serial link to the controller firmware.
type LinkConfig struct {
	Enabled    bool    `json:"enabled"`
	Device     string  `json:"device"`
	BaudRate   int     `json:"baud_rate"`
	RetryDelay string  `json:"retry_delay"`
	RateLimit  float64 `json:"command_rate_limit"`
	RateBurst  int     `json:"command_rate_burst"`
}

// LoopConfig drives the background drain loop.
type LoopConfig struct {
	TickInterval  string `json:"tick_interval"`
	LivenessEvery int    `json:"liveness_every"`
	QueueCapacity int    `json:"queue_capacity"`
}

// MQTTConfig holds the optional MQTT bridge settings.
type MQTTConfig struct {
	Enabled            bool   `json:"enabled"`
	Broker             string `json:"broker"` // tcp://IP:PORT
	Username           string `json:"username"`
	Password           string `json:"password"`
	ClientID           string `json:"client_id"`
	TopicPrefix        string `json:"topic_prefix"`
	HADiscoveryEnabled bool   `json:"ha_discovery_enabled"`
	HADiscoveryPrefix  string `json:"ha_discovery_prefix"`
}

// Config is the top-level structure of the config file.
type Config struct {
	Server ServerConfig `json:"server"`
	Output OutputConfig `json:"output"`
	Link   LinkConfig   `json:"link"`
	Loop   LoopConfig   `json:"loop"`
	MQTT   MQTTConfig   `json:"mqtt"`

	// File system settings
	MacrosDir     string `json:"macros_dir"`
	SchedulesFile string `json:"schedules_file"`
}

// Load reads the file, parses the JSON and applies defaults and
// validation. A missing file is not an error, the defaults apply.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			cfg.setDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}
	defer file.Close()

	cfg := &Config{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}

	cfg.sanitize()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) sanitize() {
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.Server.WebFilesDir = strings.TrimSpace(c.Server.WebFilesDir)
	c.Server.DefaultDocument = strings.TrimSpace(c.Server.DefaultDocument)
	c.Output.Kind = strings.ToLower(strings.TrimSpace(c.Output.Kind))
	c.Output.Driver = strings.ToLower(strings.TrimSpace(c.Output.Driver))
	c.Link.Device = strings.TrimSpace(c.Link.Device)
	c.MacrosDir = strings.TrimSpace(c.MacrosDir)
	c.SchedulesFile = strings.TrimSpace(c.SchedulesFile)
}

func (c *Config) setDefaults() {
	// Server defaults
	if c.Server.Port == "" {
		c.Server.Port = "80"
	}
	if c.Server.WebFilesDir == "" {
		c.Server.WebFilesDir = "./web"
	}
	if c.Server.DefaultDocument == "" {
		c.Server.DefaultDocument = "/index.html"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "5s"
	}
	if c.Server.MaxRequestBytes <= 0 {
		c.Server.MaxRequestBytes = 4096
	}

	// Output defaults
	if c.Output.Kind == "" {
		c.Output.Kind = "led"
	}
	if c.Output.Driver == "" {
		c.Output.Driver = "none"
	}
	if c.Output.Pin <= 0 {
		c.Output.Pin = 2
	}

	// Link defaults
	if c.Link.Device == "" {
		c.Link.Device = "/dev/ttyUSB0"
	}
	if c.Link.BaudRate <= 0 {
		c.Link.BaudRate = 115200
	}
	if c.Link.RetryDelay == "" {
		c.Link.RetryDelay = "5s"
	}
	if c.Link.RateLimit <= 0 {
		c.Link.RateLimit = 10.0
	}
	if c.Link.RateBurst <= 0 {
		c.Link.RateBurst = 3
	}

	// Loop defaults
	if c.Loop.TickInterval == "" {
		c.Loop.TickInterval = "100ms"
	}
	if c.Loop.LivenessEvery <= 0 {
		c.Loop.LivenessEvery = 100
	}
	if c.Loop.QueueCapacity <= 0 {
		c.Loop.QueueCapacity = 20
	}

	// File defaults
	if c.MacrosDir == "" {
		c.MacrosDir = "macros"
	}
	if c.SchedulesFile == "" {
		c.SchedulesFile = "schedules.json"
	}

	// MQTT defaults
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "flipmouse-bridge"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "flipmouse"
	}
	if c.MQTT.HADiscoveryPrefix == "" {
		c.MQTT.HADiscoveryPrefix = "homeassistant"
	}
}

func (c *Config) validate() error {
	if c.Output.Kind != "led" && c.Output.Kind != "relais" {
		return fmt.Errorf("config error: 'output.kind' must be \"led\" or \"relais\", got %q", c.Output.Kind)
	}
	if c.Output.Driver != "none" && c.Output.Driver != "sysfs" {
		return fmt.Errorf("config error: 'output.driver' must be \"none\" or \"sysfs\", got %q", c.Output.Driver)
	}
	if _, err := time.ParseDuration(c.Server.ReadTimeout); err != nil {
		return fmt.Errorf("config error: bad 'server.read_timeout': %w", err)
	}
	if _, err := time.ParseDuration(c.Loop.TickInterval); err != nil {
		return fmt.Errorf("config error: bad 'loop.tick_interval': %w", err)
	}
	if _, err := time.ParseDuration(c.Link.RetryDelay); err != nil {
		return fmt.Errorf("config error: bad 'link.retry_delay': %w", err)
	}
	return nil
}
