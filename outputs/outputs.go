// Package outputs implements the three sink kinds the configuration
// document names: Memory, File, and GPIO. Each is the thing a Bird's
// Static/Back/Forward lists reference by name and the controller
// package toggles on a reactor timer's schedule.
package outputs

import (
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/stack/woodpeckers/internal/config"
)

// Sink is one controllable output a bird can peck.
type Sink interface {
	Name() string
	On() error
	Off() error
}

// New builds the Sink described by desc.
func New(desc config.Output) (Sink, error) {
	switch desc.Type {
	case config.OutputMemory:
		return &Memory{name: desc.Name}, nil
	case config.OutputFile:
		return &File{name: desc.Name, path: desc.Path}, nil
	case config.OutputGPIO:
		return newGPIO(desc.Name, desc.Pin)
	default:
		return nil, errors.Errorf("outputs: unknown Type %q for %q", desc.Type, desc.Name)
	}
}

// Memory is an in-process sink with no side effects beyond its own state,
// useful for tests and for birds with no physical output wired up.
type Memory struct {
	name string
	mu   sync.RWMutex
	on   bool
}

// Name implements Sink.
func (m *Memory) Name() string { return m.name }

// On implements Sink.
func (m *Memory) On() error {
	m.mu.Lock()
	m.on = true
	m.mu.Unlock()
	return nil
}

// Off implements Sink.
func (m *Memory) Off() error {
	m.mu.Lock()
	m.on = false
	m.mu.Unlock()
	return nil
}

// State reports whether the sink is currently on.
func (m *Memory) State() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.on
}

// File writes "1" or "0" to a configured path on every toggle, e.g. a
// sysfs-style control file.
type File struct {
	name string
	path string
}

// Name implements Sink.
func (f *File) Name() string { return f.name }

// On implements Sink.
func (f *File) On() error { return f.write("1") }

// Off implements Sink.
func (f *File) Off() error { return f.write("0") }

func (f *File) write(value string) error {
	if err := os.WriteFile(f.path, []byte(value), 0o644); err != nil {
		return errors.Wrapf(err, "output %q: write %s", f.name, f.path)
	}
	return nil
}
