// Package config loads the woodpeckers YAML document: reactor-wide
// pecking Settings, a list of named Outputs, and a list of Birds that
// compose outputs by name. The reactor itself never depends on this
// package; a separate application layer (cmd/woodpeckers, controller)
// translates the parsed document into reactor registrations.
package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default Settings values applied to any field left unset in the YAML
// document.
const (
	DefaultMinWait  = 1000
	DefaultMaxWait  = 4000
	DefaultMinPecks = 1
	DefaultMaxPecks = 3
	DefaultPeckWait = 500
)

// OutputKind enumerates the supported Outputs[].Type values.
type OutputKind string

// The three supported output kinds.
const (
	OutputMemory OutputKind = "Memory"
	OutputFile   OutputKind = "File"
	OutputGPIO   OutputKind = "GPIO"
)

// Settings holds the five pecking-schedule tunables.
type Settings struct {
	MinWait  uint32 `yaml:"MinWait"`
	MaxWait  uint32 `yaml:"MaxWait"`
	MinPecks uint32 `yaml:"MinPecks"`
	MaxPecks uint32 `yaml:"MaxPecks"`
	PeckWait uint32 `yaml:"PeckWait"`
}

// applyDefaults fills zero-value fields with the documented defaults.
func (s *Settings) applyDefaults() {
	if s.MinWait == 0 {
		s.MinWait = DefaultMinWait
	}
	if s.MaxWait == 0 {
		s.MaxWait = DefaultMaxWait
	}
	if s.MinPecks == 0 {
		s.MinPecks = DefaultMinPecks
	}
	if s.MaxPecks == 0 {
		s.MaxPecks = DefaultMaxPecks
	}
	if s.PeckWait == 0 {
		s.PeckWait = DefaultPeckWait
	}
}

// Output describes one named sink: Memory, File (with Path), or GPIO
// (with Pin).
type Output struct {
	Name string
	Type OutputKind
	Path string
	Pin  int
}

// Bird describes one named composition of output references.
type Bird struct {
	Name    string
	Static  []string
	Back    []string
	Forward []string
}

// Document is the fully parsed configuration: Settings plus the Outputs
// and Birds lists, in document order.
type Document struct {
	Settings Settings
	Outputs  []Output
	Birds    []Bird
}

// rawOutputFields mirrors the body of one `- <Name>: {Type, Path, Pin}`
// mapping entry. yaml.v3 enforces "unknown field" strictness via
// KnownFields on the Decoder, so each entry is decoded through the strict
// decoder from nodeDecoder (an unknown key fails there), and Type and its
// required Path/Pin are then validated by hand in decodeOutput.
type rawOutputFields struct {
	Type OutputKind `yaml:"Type"`
	Path string     `yaml:"Path"`
	Pin  *int       `yaml:"Pin"`
}

type rawBirdFields struct {
	Static  []string `yaml:"Static"`
	Back    []string `yaml:"Back"`
	Forward []string `yaml:"Forward"`
}

type rawDocument struct {
	Settings Settings               `yaml:"Settings"`
	Outputs  []map[string]yaml.Node `yaml:"Outputs"`
	Birds    []map[string]yaml.Node `yaml:"Birds"`
}

// Load reads and parses the YAML document at path. Unknown keys inside an
// Outputs entry, or an unrecognized Type, are hard errors: Load returns
// (nil, error) and the caller has no partial document to fall back on.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(data)
}

// Parse decodes a YAML document already read into memory.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	raw.Settings.applyDefaults()

	doc := &Document{Settings: raw.Settings}
	for _, entry := range raw.Outputs {
		out, err := decodeOutput(entry)
		if err != nil {
			return nil, err
		}
		doc.Outputs = append(doc.Outputs, out)
	}
	for _, entry := range raw.Birds {
		bird, err := decodeBird(entry)
		if err != nil {
			return nil, err
		}
		doc.Birds = append(doc.Birds, bird)
	}
	return doc, nil
}

func decodeOutput(entry map[string]yaml.Node) (Output, error) {
	name, node, err := soleKey(entry, "output")
	if err != nil {
		return Output{}, err
	}
	var fields rawOutputFields
	dec, err := nodeDecoder(node)
	if err != nil {
		return Output{}, err
	}
	if err := dec.Decode(&fields); err != nil {
		return Output{}, errors.Wrapf(err, "output %q: unknown key", name)
	}
	out := Output{Name: name, Type: fields.Type, Path: fields.Path}
	switch fields.Type {
	case OutputMemory:
	case OutputFile:
		if fields.Path == "" {
			return Output{}, errors.Errorf("output %q: Type=File requires Path", name)
		}
	case OutputGPIO:
		if fields.Pin == nil {
			return Output{}, errors.Errorf("output %q: Type=GPIO requires Pin", name)
		}
		out.Pin = *fields.Pin
	default:
		return Output{}, errors.Errorf("output %q: unknown Type %q", name, fields.Type)
	}
	return out, nil
}

func decodeBird(entry map[string]yaml.Node) (Bird, error) {
	name, node, err := soleKey(entry, "bird")
	if err != nil {
		return Bird{}, err
	}
	var fields rawBirdFields
	dec, err := nodeDecoder(node)
	if err != nil {
		return Bird{}, err
	}
	if err := dec.Decode(&fields); err != nil {
		return Bird{}, errors.Wrapf(err, "bird %q: unknown key", name)
	}
	return Bird{Name: name, Static: fields.Static, Back: fields.Back, Forward: fields.Forward}, nil
}

// nodeDecoder re-renders a single mapping node and returns a strict
// Decoder over it, so that per-entry unknown-key detection works the
// same way the top-level document's does.
func nodeDecoder(node yaml.Node) (*yaml.Decoder, error) {
	data, err := yaml.Marshal(&node)
	if err != nil {
		return nil, errors.Wrap(err, "re-marshal config entry")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec, nil
}

func soleKey(entry map[string]yaml.Node, what string) (string, yaml.Node, error) {
	if len(entry) != 1 {
		return "", yaml.Node{}, errors.Errorf("each %s entry must have exactly one name key, got %d", what, len(entry))
	}
	for k, v := range entry {
		return k, v, nil
	}
	return "", yaml.Node{}, errors.Errorf("empty %s entry", what)
}
