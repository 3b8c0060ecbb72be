// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package shutterbox

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration wraps time.Duration with YAML support for strings like "150ms".
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// PortConfig selects and configures the serial connection. Device pins a
// port path directly; otherwise the port is discovered by VID/PID or by a
// hardware-id substring.
type PortConfig struct {
	Device string `yaml:"device"`
	HWID   string `yaml:"hwid"`
	VID    string `yaml:"vid"`
	PID    string `yaml:"pid"`
	Baud   int    `yaml:"baud"`
}

// ExchangeConfig carries the request/response tunables that differ between
// board revisions.
type ExchangeConfig struct {
	Timeout Duration `yaml:"timeout"`
	Retries int      `yaml:"retries"`
	Backoff Duration `yaml:"backoff"`
}

// ChannelConfig seeds one channel's settings; nil fields keep the defaults.
type ChannelConfig struct {
	Name      *string   `yaml:"name"`
	ClosedPW  *int      `yaml:"closed_pw"`
	OpenPW    *int      `yaml:"open_pw"`
	StepDeg   *float64  `yaml:"step_deg"`
	StepDelay *Duration `yaml:"step_delay"`
}

func (c ChannelConfig) update() SettingsUpdate {
	u := SettingsUpdate{
		Name:             c.Name,
		ClosedPulseWidth: c.ClosedPW,
		OpenPulseWidth:   c.OpenPW,
		StepSizeDeg:      c.StepDeg,
	}
	if c.StepDelay != nil {
		d := c.StepDelay.Duration()
		u.StepDelay = &d
	}
	return u
}

// Config is the full device configuration, loadable from YAML.
type Config struct {
	Port         PortConfig      `yaml:"port"`
	Protocol     string          `yaml:"protocol"` // framed | binary | ascii
	Exchange     ExchangeConfig  `yaml:"exchange"`
	PollInterval Duration        `yaml:"poll_interval"`
	Channels     []ChannelConfig `yaml:"channels"`
	Listen       string          `yaml:"listen"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Port:     PortConfig{Baud: 115200},
		Protocol: "framed",
		Exchange: ExchangeConfig{
			Timeout: Duration(DefaultExchangeTimeout),
			Retries: DefaultRetries,
			Backoff: Duration(DefaultRetryBackoff),
		},
		PollInterval: Duration(DefaultPollInterval),
		Listen:       ":8080",
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Protocol {
	case "framed", "binary", "ascii":
	default:
		return fmt.Errorf("unknown protocol %q (want framed, binary, or ascii)", c.Protocol)
	}
	if len(c.Channels) > NumChannels {
		return fmt.Errorf("%d channel entries, board has %d", len(c.Channels), NumChannels)
	}
	if c.Port.Baud <= 0 {
		return fmt.Errorf("baud rate %d out of range", c.Port.Baud)
	}
	return nil
}
