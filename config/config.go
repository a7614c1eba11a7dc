package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go-rfu/numpad"
)

// DeviceType selects the output the levels are committed to
type DeviceType string

const (
	DeviceEnttec DeviceType = "enttec"
	DeviceMIDI   DeviceType = "midi"
	DeviceNone   DeviceType = "none"
)

// ErrInvalid is returned by Validate
var ErrInvalid = errors.New("invalid config")

// DeviceConfig picks the output device
type DeviceConfig struct {
	Type DeviceType `yaml:"type"`
	Port string     `yaml:"port,omitempty"` // serial port or MIDI port name, empty = auto-detect
}

// Config is the main configuration document
type Config struct {
	ReceiveHost string       `yaml:"receive_host"`
	ReceivePort int          `yaml:"receive_port"`
	SendPort    int          `yaml:"send_port"`
	Debug       bool         `yaml:"debug"`
	LogFile     string       `yaml:"log_file,omitempty"`
	Device      DeviceConfig `yaml:"device"`
	Endpoints   []string     `yaml:"endpoints,omitempty"`
	KeypadWidth int          `yaml:"keypad_width,omitempty"`
}

// DefaultPath is where the config is looked for when no path is given
const DefaultPath = "config.yaml"

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ReceivePort: 8000,
		SendPort:    9000,
		Device: DeviceConfig{
			Type: DeviceEnttec,
		},
		KeypadWidth: numpad.DefaultWidth,
	}
}

// Load reads the config at path, or returns defaults if it does not exist.
// Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if cfg.KeypadWidth == 0 {
		cfg.KeypadWidth = numpad.DefaultWidth
	}
	return cfg, nil
}

// Save writes the config to path
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create config dir")
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "write config %s", path)
}

// Validate checks ports, device type and keypad width
func (c *Config) Validate() error {
	if c.ReceivePort <= 0 || c.ReceivePort > 65535 {
		return errors.Wrapf(ErrInvalid, "receive_port %d", c.ReceivePort)
	}
	if c.SendPort <= 0 || c.SendPort > 65535 {
		return errors.Wrapf(ErrInvalid, "send_port %d", c.SendPort)
	}
	switch c.Device.Type {
	case DeviceEnttec, DeviceMIDI, DeviceNone:
	default:
		return errors.Wrapf(ErrInvalid, "device type %q", c.Device.Type)
	}
	// wider than 3 digits can't address more than 512 channels anyway
	if c.KeypadWidth < 3 || c.KeypadWidth > 9 {
		return errors.Wrapf(ErrInvalid, "keypad_width %d", c.KeypadWidth)
	}
	return nil
}

// ReceiveAddr returns host:port to listen on. An empty receive_host means
// this machine's LAN address, so surfaces on the network can reach it.
func (c *Config) ReceiveAddr() string {
	host := c.ReceiveHost
	if host == "" {
		host = LocalIP()
	}
	return net.JoinHostPort(host, strconv.Itoa(c.ReceivePort))
}

// AddEndpoint adds an endpoint if it isn't already listed
func (c *Config) AddEndpoint(endpoint string) {
	for _, e := range c.Endpoints {
		if e == endpoint {
			return
		}
	}
	c.Endpoints = append(c.Endpoints, endpoint)
}

// RemoveEndpoint drops an endpoint from the list
func (c *Config) RemoveEndpoint(endpoint string) {
	var result []string
	for _, e := range c.Endpoints {
		if e != endpoint {
			result = append(result, e)
		}
	}
	c.Endpoints = result
}

// LocalIP returns the first non-loopback IPv4 address, or 0.0.0.0
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "0.0.0.0"
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "0.0.0.0"
}
