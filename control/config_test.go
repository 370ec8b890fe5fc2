// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package control

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/hioload-accel/api"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.IoBaseSize != 16<<20 || cfg.PipelineDepth != 32 || cfg.Knapp.ConnRetry != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"depth":  func(c *Config) { c.PipelineDepth = MaxPipelineDepth + 1 },
		"align":  func(c *Config) { c.IoBaseAlign = 12 },
		"bases":  func(c *Config) { c.IoBaseCount = 0 },
		"retry":  func(c *Config) { c.Knapp.ConnRetry = 0 },
		"device": func(c *Config) { c.Devices = []string{"fpga"} },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); !errors.Is(err, api.ErrInvalidArgument) {
			t.Errorf("%s: expected invalid argument, got %v", name, err)
		}
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accel.yaml")
	data := []byte(`devices: [cpu, cuda]
io-base-count: 4
knapp:
  remote-addr: 10.0.0.2:3000
  poll-timeout: 250ms
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ACCEL_PIPELINE_DEPTH", "16")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.IoBaseCount != 4 || cfg.PipelineDepth != 16 {
		t.Fatalf("file/env values lost: bases=%d depth=%d", cfg.IoBaseCount, cfg.PipelineDepth)
	}
	if cfg.Knapp.RemoteAddr != "10.0.0.2:3000" || cfg.Knapp.PollTimeout != 250*time.Millisecond {
		t.Fatalf("nested values lost: %+v", cfg.Knapp)
	}
	if cfg.Knapp.ConnRetry != 5 {
		t.Fatalf("default not applied: %d", cfg.Knapp.ConnRetry)
	}
	types := cfg.DeviceTypes()
	if len(types) != 2 || types[0] != api.DeviceCPU || types[1] != api.DeviceGPU {
		t.Fatalf("device types %v", types)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
