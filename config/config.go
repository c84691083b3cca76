// Package config loads the TOML configuration of the cpupolicy tool.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bobuhiro11/cpupolicy/kvm"
	"github.com/bobuhiro11/cpupolicy/msr"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownKey is a configuration key this tool does not understand.
	ErrUnknownKey = errors.New("unknown configuration key")

	// ErrInvalid is a configuration value out of its domain.
	ErrInvalid = errors.New("invalid configuration")
)

// Config is the tool configuration.
type Config struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	// MSRDevice is a printf pattern taking the CPU number.
	MSRDevice string `toml:"msr_device"`
	KVMDevice string `toml:"kvm_device"`
	Host      Host   `toml:"host"`
}

// Host configures how the host policy is taken.
type Host struct {
	// CPUs to snapshot. Empty means every CPU the process may run on.
	CPUs []int `toml:"cpus"`
	// ReadMSRs enables reading MSR-backed capabilities through MSRDevice.
	ReadMSRs bool `toml:"read_msrs"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		MSRDevice: msr.DefaultDevice,
		KVMDevice: kvm.DefaultDevice,
		Host: Host{
			ReadMSRs: true,
		},
	}
}

// Load reads the configuration at path over the defaults. An empty path
// returns Default.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	return finish(c, md)
}

// Parse decodes a configuration document over the defaults.
func Parse(data string) (*Config, error) {
	c := Default()

	md, err := toml.Decode(data, c)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(c, md)
}

func finish(c *Config, md toml.MetaData) (*Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(keys, ", "))
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate checks every value of c.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format %q, want text or json", ErrInvalid, c.LogFormat)
	}

	if strings.Count(c.MSRDevice, "%d") != 1 {
		return fmt.Errorf("%w: msr_device %q must contain one %%d", ErrInvalid, c.MSRDevice)
	}

	if c.KVMDevice == "" {
		return fmt.Errorf("%w: kvm_device is empty", ErrInvalid)
	}

	for _, cpu := range c.Host.CPUs {
		if cpu < 0 {
			return fmt.Errorf("%w: negative cpu %d", ErrInvalid, cpu)
		}
	}

	return nil
}
