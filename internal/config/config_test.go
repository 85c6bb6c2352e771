package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamnguyenvan/vision-counter/pkg/hub"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, hub.DefaultWeightsURL, c.Model.Location)
	assert.Equal(t, 1, c.Model.PoolSize)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	c := Default()
	c.Model.UseCUDA = true
	c.Model.PoolSize = 2
	c.Proposer.Backend = "llamacpp"
	require.NoError(t, c.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model":{"location":"/models/fsc147.onnx"}}`), 0o644))

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/models/fsc147.onnx", c.Model.Location)
	assert.Equal(t, 1, c.Model.PoolSize)
	assert.Equal(t, "ollama", c.Proposer.Backend)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model":`), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty location", func(c *Config) { c.Model.Location = " " }},
		{"zero pool", func(c *Config) { c.Model.PoolSize = 0 }},
		{"negative threads", func(c *Config) { c.Model.IntraOpThreads = -1 }},
		{"negative device", func(c *Config) { c.Model.CUDADeviceID = -1 }},
		{"unknown backend", func(c *Config) { c.Proposer.Backend = "openai" }},
		{"proposer quality", func(c *Config) { c.Proposer.Quality = 0 }},
		{"output format", func(c *Config) { c.Output.DefaultFormat = "gif" }},
		{"output quality", func(c *Config) { c.Output.Quality = 101 }},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "config.json", filepath.Base(GetConfigPath()))
}
