// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package configs holds the application configuration.
// Values come from an optional YAML or TOML file and are then
// overridden by AMPIFY_* environment variables.
package configs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/komkom/toml"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable.
const EnvPrefix = "AMPIFY_"

type config struct {
	LogLevel    slog.Level      `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	Concurrency int64           `json:"concurrency" yaml:"concurrency" env:"CONCURRENCY"`
	Transform   transformConfig `json:"transform" yaml:"transform" envPrefix:"TRANSFORM_"`
	Fetcher     fetcherConfig   `json:"fetcher" yaml:"fetcher" envPrefix:"FETCHER_"`
}

type transformConfig struct {
	CWD                 string `json:"cwd" yaml:"cwd" env:"CWD"`
	Round               bool   `json:"round" yaml:"round" env:"ROUND"`
	Layout              string `json:"layout" yaml:"layout" env:"LAYOUT"`
	IgnoreImageNotFound bool   `json:"ignore_image_not_found" yaml:"ignore_image_not_found" env:"IGNORE_IMAGE_NOT_FOUND"`
	NormalizeWhitespace bool   `json:"normalize_whitespace" yaml:"normalize_whitespace" env:"NORMALIZE_WHITESPACE"`
	XMLMode             bool   `json:"xml_mode" yaml:"xml_mode" env:"XML_MODE"`
	DecodeEntities      bool   `json:"decode_entities" yaml:"decode_entities" env:"DECODE_ENTITIES"`
	StripImportant      bool   `json:"strip_important" yaml:"strip_important" env:"STRIP_IMPORTANT"`
}

type fetcherConfig struct {
	Timeout   time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
	UserAgent string        `json:"user_agent" yaml:"user_agent" env:"USER_AGENT"`
	DeniedIPs IPNetList     `json:"denied_ips" yaml:"denied_ips" env:"DENIED_IPS"`
}

// UnmarshalJSON implements [json.Unmarshaler].
// The timeout is a duration string, like "20s".
func (c *fetcherConfig) UnmarshalJSON(data []byte) error {
	type alias fetcherConfig
	v := struct {
		*alias
		Timeout string `json:"timeout"`
	}{alias: (*alias)(c)}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return err
	}

	if v.Timeout != "" {
		d, err := time.ParseDuration(v.Timeout)
		if err != nil {
			return err
		}
		c.Timeout = d
	}
	return nil
}

// Config holds the configuration data.
var Config = newConfig()

func newConfig() config {
	return config{
		LogLevel:    slog.LevelInfo,
		Concurrency: 6,
		Transform: transformConfig{
			Round:  true,
			Layout: "responsive",
		},
		Fetcher: fetcherConfig{
			Timeout: 20 * time.Second,
		},
	}
}

// Reset restores the default configuration.
func Reset() {
	Config = newConfig()
}

// LoadFile reads a configuration file into [Config].
// Files with a ".toml" extension are read as TOML, anything else
// as YAML. Unknown keys are rejected.
func LoadFile(name string) error {
	fd, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fd.Close() //nolint:errcheck

	if strings.EqualFold(filepath.Ext(name), ".toml") {
		dec := json.NewDecoder(toml.New(fd))
		dec.DisallowUnknownFields()
		err = dec.Decode(&Config)
	} else {
		dec := yaml.NewDecoder(fd)
		dec.KnownFields(true)
		err = dec.Decode(&Config)
	}

	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// LoadEnv overrides [Config] with the AMPIFY_* environment variables.
func LoadEnv() error {
	return env.ParseWithOptions(&Config, env.Options{Prefix: EnvPrefix})
}

// Validate checks the configuration values.
func Validate() error {
	var errs []error
	if Config.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1 (got %d)", Config.Concurrency))
	}
	if Config.Fetcher.Timeout < 0 {
		errs = append(errs, errors.New("fetcher timeout cannot be negative"))
	}
	return errors.Join(errs...)
}

// IPNetList is a list of CIDR blocks. It decodes from a comma separated
// string or from a list of strings.
type IPNetList []*net.IPNet

// UnmarshalText implements [encoding.TextUnmarshaler].
func (l *IPNetList) UnmarshalText(text []byte) error {
	res := IPNetList{}
	for _, s := range strings.Split(string(text), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n, err := parseCIDR(s)
		if err != nil {
			return err
		}
		res = append(res, n)
	}
	*l = res
	return nil
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (l *IPNetList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return l.UnmarshalText([]byte(value.Value))
	}

	var items []string
	if err := value.Decode(&items); err != nil {
		return err
	}
	return l.set(items)
}

// UnmarshalJSON implements [json.Unmarshaler].
func (l *IPNetList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return l.UnmarshalText([]byte(s))
	}

	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	return l.set(items)
}

func (l *IPNetList) set(items []string) error {
	res := IPNetList{}
	for _, s := range items {
		n, err := parseCIDR(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		res = append(res, n)
	}
	*l = res
	return nil
}

// Contains returns the first block that contains ip.
func (l IPNetList) Contains(ip net.IP) (*net.IPNet, bool) {
	for _, n := range l {
		if n.Contains(ip) {
			return n, true
		}
	}
	return nil, false
}

// parseCIDR accepts a CIDR block or a single IP address.
func parseCIDR(s string) (*net.IPNet, error) {
	if !strings.Contains(s, "/") {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP address %q", s)
		}
		bits := 128
		if ip.To4() != nil {
			ip = ip.To4()
			bits = 32
		}
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
	}

	_, n, err := net.ParseCIDR(s)
	if err != nil {
		return nil, err
	}
	return n, nil
}
