package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/apeichen/fpga-aichip/internal/governor"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

// Built-in channel tables.
const (
	PresetFour   = "four"
	PresetTwelve = "twelve"
)

//go:embed channels.cue
var channelSchema string

// ChannelSpec is the on-disk form of one channel.
type ChannelSpec struct {
	Name          string `koanf:"name" yaml:"name" json:"name"`
	Kind          string `koanf:"kind" yaml:"kind" json:"kind"`
	Min           int    `koanf:"min" yaml:"min" json:"min"`
	Max           int    `koanf:"max" yaml:"max" json:"max"`
	UnderSeverity int    `koanf:"under_severity" yaml:"under_severity,omitempty" json:"under_severity,omitempty"`
	OverSeverity  int    `koanf:"over_severity" yaml:"over_severity,omitempty" json:"over_severity,omitempty"`
}

// ToChannelConfigs converts and checks specs. Envelope ordering is checked
// here as well as by the governor so file errors name the offending entry.
func ToChannelConfigs(specs []ChannelSpec) ([]xr.ChannelConfig, error) {
	out := make([]xr.ChannelConfig, 0, len(specs))
	for i, s := range specs {
		kind, err := xr.ParseKind(s.Kind)
		if err != nil {
			return nil, fmt.Errorf("channel %d (%s): %w", i, s.Name, err)
		}
		for _, v := range []int{s.Min, s.Max} {
			if v < 0 || v > 0xFFFF {
				return nil, fmt.Errorf("channel %d (%s): value %d outside 16-bit range", i, s.Name, v)
			}
		}
		for _, v := range []int{s.UnderSeverity, s.OverSeverity} {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("channel %d (%s): severity %d outside 0..255", i, s.Name, v)
			}
		}
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("ch%d", i)
		}
		out = append(out, xr.ChannelConfig{
			Name:          name,
			Kind:          kind,
			Envelope:      xr.Envelope{Min: uint16(s.Min), Max: uint16(s.Max)},
			UnderSeverity: uint8(s.UnderSeverity),
			OverSeverity:  uint8(s.OverSeverity),
		})
	}
	if err := governor.ValidateChannels(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Preset returns a built-in channel table by name.
func Preset(name string) ([]xr.ChannelConfig, error) {
	switch strings.ToLower(name) {
	case PresetFour, "4", "":
		return xr.DefaultChannels4(), nil
	case PresetTwelve, "12":
		return xr.DefaultChannels12(), nil
	}
	return nil, fmt.Errorf("unknown channel preset %q", name)
}

// ResolveChannels picks the channel table: file, then inline table, then
// preset.
func (c *Config) ResolveChannels() ([]xr.ChannelConfig, error) {
	switch {
	case c.Channels.File != "":
		return LoadChannelsFile(c.Channels.File)
	case len(c.Channels.Table) > 0:
		return ToChannelConfigs(c.Channels.Table)
	default:
		return Preset(c.Channels.Preset)
	}
}

// Policy returns the governor policy described by the configuration.
func (c *Config) Policy() governor.Policy {
	return governor.Policy{
		DebounceCycles: c.Governor.Debounce,
		TripThreshold:  uint8(c.Governor.Threshold),
	}
}

// LoadChannelsFile loads a channel table from a .cue, .yaml or .yml file.
func LoadChannelsFile(path string) ([]xr.ChannelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channel file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return LoadChannelsCUE(path, data)
	case ".yaml", ".yml":
		return LoadChannelsYAML(data)
	}
	return nil, fmt.Errorf("channel file %s: unsupported extension", path)
}

// LoadChannelsCUE unifies data with the embedded channel schema, requires a
// concrete result, and decodes the channel list.
func LoadChannelsCUE(filename string, data []byte) ([]xr.ChannelConfig, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(channelSchema, cue.Filename("channels.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("channel schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var specs []ChannelSpec
	if err := v.LookupPath(cue.ParsePath("channels")).Decode(&specs); err != nil {
		return nil, formatCUEError(err)
	}
	return ToChannelConfigs(specs)
}

// LoadChannelsYAML decodes a `channels:` list. Unknown fields are rejected.
func LoadChannelsYAML(data []byte) ([]xr.ChannelConfig, error) {
	var doc struct {
		Channels []ChannelSpec `yaml:"channels"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse channel yaml: %w", err)
	}
	return ToChannelConfigs(doc.Channels)
}

// formatCUEError flattens a CUE error list into one error with positions.
func formatCUEError(err error) error {
	return fmt.Errorf("channel table: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
}
