package outputs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stack/woodpeckers/internal/config"
	"github.com/stack/woodpeckers/outputs"
)

func TestMemorySinkTracksState(t *testing.T) {
	sink, err := outputs.New(config.Output{Name: "beak", Type: config.OutputMemory})
	require.NoError(t, err)
	mem := sink.(*outputs.Memory)

	assert.Equal(t, "beak", sink.Name())
	assert.False(t, mem.State())

	require.NoError(t, sink.On())
	assert.True(t, mem.State())

	require.NoError(t, sink.Off())
	assert.False(t, mem.State())
}

func TestFileSinkWritesOnOff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay")
	sink, err := outputs.New(config.Output{Name: "relay", Type: config.OutputFile, Path: path})
	require.NoError(t, err)

	require.NoError(t, sink.On())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))

	require.NoError(t, sink.Off())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0", string(data))
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := outputs.New(config.Output{Name: "bad", Type: "Laser"})
	assert.Error(t, err)
}
