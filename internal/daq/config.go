package daq

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ndicore/internal/epoch"
	"github.com/roach88/ndicore/internal/ndierr"
)

// Config is a DAQ system definition file:
//
//	name: intan1
//	reader: intan
//	navigator:
//	  file_match_patterns: ['.*\.rhd$']
//	group_sizes:
//	  analog_in: 256
type Config struct {
	Name            string         `yaml:"name"`
	Reader          string         `yaml:"reader"`
	MetadataReaders []string       `yaml:"metadata_readers,omitempty"`
	Navigator       epoch.Params   `yaml:"navigator"`
	GroupSizes      map[string]int `yaml:"group_sizes,omitempty"`
}

// ParseConfig decodes a YAML definition. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	const op = "daq.parse_config"
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, ndierr.Invalid(op, "%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the definition at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, ndierr.NotFound("daq.load_config", "file", path)
	}
	if err != nil {
		return Config{}, ndierr.IO("daq.load_config", err)
	}
	return ParseConfig(data)
}

// Validate checks required fields, the navigator parameters and the group
// size overrides.
func (c Config) Validate() error {
	const op = "daq.config"
	if c.Name == "" {
		return ndierr.Invalid(op, "name is required")
	}
	if c.Reader == "" {
		return ndierr.Invalid(op, "reader is required")
	}
	if err := c.Navigator.Validate(); err != nil {
		return err
	}
	_, err := c.groupSizes()
	return err
}

// groupSizes merges the overrides into the defaults.
func (c Config) groupSizes() (map[ChannelType]int, error) {
	sizes := DefaultGroupSizes()
	for name, n := range c.GroupSizes {
		ct, err := ParseChannelType(name)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, ndierr.Invalid("daq.config", "group size for %s must be positive, got %d", ct, n)
		}
		sizes[ct] = n
	}
	return sizes, nil
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
