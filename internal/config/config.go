package config

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/sensorpod/internal/logging"
	"github.com/e7canasta/sensorpod/modules/params"
)

const (
	FrontCamera = "front-camera"
	RearCamera  = "rear-camera"

	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Config represents the complete sensorpod configuration
type Config struct {
	InstanceID       string         `yaml:"instance_id" mapstructure:"instance_id" validate:"required"`
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s" mapstructure:"shutdown_timeout_s" validate:"gt=0"` // graceful shutdown timeout in seconds (default: 5)
	Logging          logging.Config `yaml:"logging" mapstructure:"logging"`
	ModuleConfig     ModuleConfig   `yaml:"moduleconfig" mapstructure:"moduleconfig"`
	PinConfig        PinConfig      `yaml:"pinconfig" mapstructure:"pinconfig"`
	Display          DisplayConfig  `yaml:"display" mapstructure:"display"`
	MQTT             MQTTConfig     `yaml:"mqtt" mapstructure:"mqtt"`
	Journal          JournalConfig  `yaml:"journal" mapstructure:"journal"`
}

// ModuleConfig holds per-library sections. gstreamer-utils is handed to params.FromMap as is.
type ModuleConfig struct {
	GStreamerUtils map[string]any `yaml:"gstreamer-utils" mapstructure:"gstreamer-utils"`
}

// PinConfig maps board peripherals to BCM pins. Pin 0 means unassigned.
type PinConfig struct {
	Cameras    map[string]CameraConfig `yaml:"cameras" mapstructure:"cameras" validate:"dive"`
	CameraMux  PinRef                  `yaml:"camera-mux" mapstructure:"camera-mux"`
	Flashlight PinRef                  `yaml:"flashlight" mapstructure:"flashlight"`
}

// CameraConfig describes one camera module
type CameraConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	ID      string `yaml:"id" mapstructure:"id" validate:"required_if=Enabled true"`
	// MuxLevel is the camera-mux pin level selecting this camera
	MuxLevel int `yaml:"mux-level" mapstructure:"mux-level" validate:"oneof=0 1"`
}

// PinRef is a single output pin
type PinRef struct {
	Pin        int  `yaml:"pin" mapstructure:"pin" validate:"eq=0|min=2,max=26"`
	ActiveHigh bool `yaml:"active-high" mapstructure:"active-high"`
}

// DisplayConfig holds the commands that power the screen on and off
type DisplayConfig struct {
	OnCommand  []string `yaml:"on_command" mapstructure:"on_command"`
	OffCommand []string `yaml:"off_command" mapstructure:"off_command"`
	TimeoutS   int      `yaml:"timeout_s" mapstructure:"timeout_s" validate:"gte=0"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables the control plane.
type MQTTConfig struct {
	Broker   string     `yaml:"broker" mapstructure:"broker"`
	ClientID string     `yaml:"client_id" mapstructure:"client_id"`
	Encoding string     `yaml:"encoding" mapstructure:"encoding" validate:"oneof=json msgpack"`
	QoS      byte       `yaml:"qos" mapstructure:"qos" validate:"lte=2"`
	Topics   MQTTTopics `yaml:"topics" mapstructure:"topics"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control   string `yaml:"control" mapstructure:"control"`
	Responses string `yaml:"responses" mapstructure:"responses"`
	Status    string `yaml:"status" mapstructure:"status"`
}

// JournalConfig locates the run journal database. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field
func (c *Config) ApplyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = "sensorpod"
	}
	if c.ShutdownTimeoutS <= 0 {
		c.ShutdownTimeoutS = 5
	}
	c.Logging.ApplyDefaults()

	if len(c.PinConfig.Cameras) == 0 {
		c.PinConfig.Cameras = map[string]CameraConfig{
			FrontCamera: {Enabled: true, ID: "cam0", MuxLevel: 0},
			RearCamera:  {Enabled: true, ID: "cam1", MuxLevel: 1},
		}
	}
	if c.Display.TimeoutS == 0 {
		c.Display.TimeoutS = 5
	}

	if c.MQTT.Encoding == "" {
		c.MQTT.Encoding = EncodingJSON
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "sensorpod-" + c.InstanceID
	}
	if c.MQTT.Topics.Control == "" {
		c.MQTT.Topics.Control = fmt.Sprintf("sensorpod/control/%s", c.InstanceID)
	}
	if c.MQTT.Topics.Responses == "" {
		c.MQTT.Topics.Responses = fmt.Sprintf("sensorpod/responses/%s", c.InstanceID)
	}
	if c.MQTT.Topics.Status == "" {
		c.MQTT.Topics.Status = fmt.Sprintf("sensorpod/status/%s", c.InstanceID)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !instanceIDPattern.MatchString(c.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if _, err := c.Params(); err != nil {
		return fmt.Errorf("moduleconfig.gstreamer-utils: %w", err)
	}
	return nil
}

// Params builds the pipeline parameter store from moduleconfig.gstreamer-utils
func (c *Config) Params() (params.Store, error) {
	return params.FromMap(c.ModuleConfig.GStreamerUtils)
}

// CameraAliases maps each enabled camera name to its identifier
func (c *Config) CameraAliases() map[string]string {
	aliases := make(map[string]string, len(c.PinConfig.Cameras))
	for name, cam := range c.PinConfig.Cameras {
		if cam.Enabled {
			aliases[name] = cam.ID
		}
	}
	return aliases
}

// CameraNames lists the configured cameras in name order
func (c *Config) CameraNames() []string {
	names := make([]string, 0, len(c.PinConfig.Cameras))
	for name := range c.PinConfig.Cameras {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ShutdownTimeout is ShutdownTimeoutS as a duration
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Dump writes the effective configuration as YAML
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
