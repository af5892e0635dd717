package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "reachy.json"

// Config holds the robot configuration.
type Config struct {
	// Address is the daemon WebSocket URL or host[:port].
	Address    string `json:"address,omitempty" yaml:"address" toml:"address"`
	SerialPort string `json:"serial_port,omitempty" yaml:"serial_port" toml:"serial_port"`
	BaudRate   int    `json:"baud_rate,omitempty" yaml:"baud_rate" toml:"baud_rate"`

	ReadWaitMS    int `json:"read_wait_ms,omitempty" yaml:"read_wait_ms" toml:"read_wait_ms"`
	RebootDelayMS int `json:"reboot_delay_ms,omitempty" yaml:"reboot_delay_ms" toml:"reboot_delay_ms"`

	// Geometry is a geometry JSON file; empty uses the built-in one.
	Geometry        string      `json:"geometry,omitempty" yaml:"geometry" toml:"geometry"`
	CalibrationFile string      `json:"calibration_file,omitempty" yaml:"calibration_file" toml:"calibration_file"`
	Calibration     Calibration `json:"calibration,omitempty" yaml:"calibration" toml:"calibration"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		BaudRate:      1_000_000,
		ReadWaitMS:    int(DefaultReadWait / time.Millisecond),
		RebootDelayMS: int(DefaultRebootDelay / time.Millisecond),
	}
}

// ReadWait returns the reply wait as a duration.
func (c *Config) ReadWait() time.Duration {
	return time.Duration(c.ReadWaitMS) * time.Millisecond
}

// RebootDelay returns the post reboot pause as a duration.
func (c *Config) RebootDelay() time.Duration {
	return time.Duration(c.RebootDelayMS) * time.Millisecond
}

// IsCalibrated returns true if the config carries calibration data.
func (c *Config) IsCalibrated() bool {
	return len(c.Calibration) > 0 || c.CalibrationFile != ""
}

// LoadConfigFrom loads configuration from a specific file. The format
// follows the extension: .json, .yaml/.yml or .toml. Fields absent from
// the file keep their defaults.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", "":
		err = json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		var meta toml.MetaData
		meta, err = toml.Decode(string(data), cfg)
		if err == nil {
			if undecoded := meta.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				sort.Strings(keys)
				err = fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
			}
		}
	default:
		return nil, fmt.Errorf("load config %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns the defaults if it does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfigFrom(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// ResolveCalibration merges the calibration file and the inline entries
// over the defaults. Inline entries win.
func (c *Config) ResolveCalibration() (Calibration, error) {
	cal := DefaultCalibration()
	if c.CalibrationFile != "" {
		fromFile, err := LoadCalibration(c.CalibrationFile)
		if err != nil {
			return nil, err
		}
		cal = fromFile
	}
	merged := make(Calibration, len(cal))
	for name, mc := range cal {
		merged[name] = mc
	}
	for name, mc := range c.Calibration {
		merged[name] = mc
	}
	return merged.withDefaults()
}

// ResolveGeometry loads the configured geometry or the built-in one.
func (c *Config) ResolveGeometry() (Geometry, error) {
	if c.Geometry == "" {
		return DefaultGeometry(), nil
	}
	return LoadGeometry(c.Geometry)
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file as JSON.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
