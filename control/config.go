// control/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine configuration. Values are immutable once a runtime is built.

package control

import (
	"fmt"
	"strings"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/spf13/viper"
)

const (
	// MaxPipelineDepth bounds in-flight tasks per virtual device.
	MaxPipelineDepth = 32
	// MaxIoBases bounds io-base slots per context.
	MaxIoBases = 64
	// MaxKernelOverlap bounds concurrently resident kernels per device.
	MaxKernelOverlap = 8
	// MaxNodes bounds NUMA nodes handled by one runtime.
	MaxNodes = 2
)

// GPUConfig tunes the local accelerator backend.
type GPUConfig struct {
	Multiprocessors int `mapstructure:"multiprocessors"` // Workgroups executed in parallel per launch
}

// KnappConfig tunes the remote coprocessor backend.
type KnappConfig struct {
	RemoteAddr       string        `mapstructure:"remote-addr"`         // Master endpoint of the remote runtime
	HostCtrlPortBase int           `mapstructure:"host-ctrl-port-base"` // Local ctrl port = base + context id; 0 = ephemeral
	HostDataPortBase int           `mapstructure:"host-data-port-base"` // Local data port = base + context id; 0 = ephemeral
	ConnRetry        int           `mapstructure:"conn-retry"`          // Connect attempts per endpoint
	RetryInterval    time.Duration `mapstructure:"retry-interval"`      // Pause between connect attempts
	PollTimeout      time.Duration `mapstructure:"poll-timeout"`        // Deadline for a poll ring slot to complete
	RPCTimeout       time.Duration `mapstructure:"rpc-timeout"`         // Deadline for one control request
	PCoresPerVDev    int           `mapstructure:"pcores-per-vdev"`     // Physical cores requested per virtual device
	LCoresPerPCore   int           `mapstructure:"lcores-per-pcore"`    // Hardware threads used per physical core
}

// Config holds parameters immutable per run.
type Config struct {
	Devices       []string      `mapstructure:"devices"`         // Backends opened at startup
	NUMANode      int           `mapstructure:"numa-node"`       // Preferred NUMA node, -1 auto-selects
	CPUAffinity   bool          `mapstructure:"cpu-affinity"`    // Pin worker threads to CPUs
	IoBaseCount   int           `mapstructure:"io-base-count"`   // Io-base slots per context
	IoBaseSize    int           `mapstructure:"io-base-size"`    // Bytes per io-base arena, rounded to pages
	IoBaseAlign   int           `mapstructure:"io-base-align"`   // Bump allocation alignment
	PipelineDepth int           `mapstructure:"pipeline-depth"`  // In-flight tasks per virtual device
	IOBatchSize   int           `mapstructure:"io-batch-size"`   // Packets per receive batch
	CompBatchSize int           `mapstructure:"comp-batch-size"` // Packets per offload batch
	CtxPerWorker  int           `mapstructure:"ctx-per-worker"`  // Compute contexts per worker and device
	RoutingTable  string        `mapstructure:"routing-table"`   // RIB file for the IPv4 lookup element
	LogLevel      string        `mapstructure:"log-level"`       // logrus level name
	LogFormat     string        `mapstructure:"log-format"`      // text or json
	EnableMetrics bool          `mapstructure:"enable-metrics"`  // Register Prometheus collectors
	EnableDebug   bool          `mapstructure:"enable-debug"`    // Register debug probes
	ShutdownGrace time.Duration `mapstructure:"shutdown-grace"`  // Drain deadline on close

	GPU   GPUConfig   `mapstructure:"gpu"`
	Knapp KnappConfig `mapstructure:"knapp"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Devices:       []string{"cpu"},
		NUMANode:      -1,
		CPUAffinity:   false,
		IoBaseCount:   api.MaxIoBases,
		IoBaseSize:    api.DefaultIoBaseSize,
		IoBaseAlign:   api.DefaultArenaAlign,
		PipelineDepth: api.DefaultPipelineDepth,
		IOBatchSize:   64,
		CompBatchSize: 64,
		CtxPerWorker:  1,
		LogLevel:      "info",
		LogFormat:     "text",
		EnableMetrics: true,
		EnableDebug:   true,
		ShutdownGrace: 5 * time.Second,
		GPU: GPUConfig{
			Multiprocessors: 4,
		},
		Knapp: KnappConfig{
			RemoteAddr:       "127.0.0.1:3000",
			HostCtrlPortBase: 2100,
			HostDataPortBase: 2000,
			ConnRetry:        5,
			RetryInterval:    500 * time.Millisecond,
			PollTimeout:      5 * time.Second,
			RPCTimeout:       10 * time.Second,
			PCoresPerVDev:    1,
			LCoresPerPCore:   4,
		},
	}
}

// Validate checks ranges and fills derived values.
func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{api.ErrInvalidArgument}, args...)...)
	}
	switch {
	case c.IoBaseCount < 1 || c.IoBaseCount > MaxIoBases:
		return bad("io-base-count %d not in [1,%d]", c.IoBaseCount, MaxIoBases)
	case c.IoBaseSize < 1 || c.IoBaseSize > api.MaxRegionSize:
		return bad("io-base-size %d", c.IoBaseSize)
	case c.IoBaseAlign < 1 || c.IoBaseAlign&(c.IoBaseAlign-1) != 0:
		return bad("io-base-align %d is not a power of two", c.IoBaseAlign)
	case c.PipelineDepth < 1 || c.PipelineDepth > MaxPipelineDepth:
		return bad("pipeline-depth %d not in [1,%d]", c.PipelineDepth, MaxPipelineDepth)
	case c.CompBatchSize < 1 || c.IOBatchSize < 1:
		return bad("batch sizes must be positive")
	case c.CtxPerWorker < 1:
		return bad("ctx-per-worker %d", c.CtxPerWorker)
	case c.NUMANode >= MaxNodes:
		return bad("numa-node %d exceeds %d nodes", c.NUMANode, MaxNodes)
	case c.GPU.Multiprocessors < 1:
		return bad("gpu.multiprocessors %d", c.GPU.Multiprocessors)
	case c.Knapp.ConnRetry < 1:
		return bad("knapp.conn-retry %d", c.Knapp.ConnRetry)
	case c.Knapp.PollTimeout <= 0:
		return bad("knapp.poll-timeout %s", c.Knapp.PollTimeout)
	case c.Knapp.PCoresPerVDev < 1 || c.Knapp.LCoresPerPCore < 1:
		return bad("knapp vdev core counts must be positive")
	}
	for _, d := range c.Devices {
		if _, err := api.ParseDeviceType(d); err != nil {
			return err
		}
	}
	return nil
}

// DeviceTypes returns the parsed Devices list without duplicates.
func (c *Config) DeviceTypes() []api.DeviceType {
	var seen [api.NumDeviceTypes]bool
	var out []api.DeviceType
	for _, d := range c.Devices {
		t, err := api.ParseDeviceType(d)
		if err != nil || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("devices", c.Devices)
	v.SetDefault("numa-node", c.NUMANode)
	v.SetDefault("cpu-affinity", c.CPUAffinity)
	v.SetDefault("io-base-count", c.IoBaseCount)
	v.SetDefault("io-base-size", c.IoBaseSize)
	v.SetDefault("io-base-align", c.IoBaseAlign)
	v.SetDefault("pipeline-depth", c.PipelineDepth)
	v.SetDefault("io-batch-size", c.IOBatchSize)
	v.SetDefault("comp-batch-size", c.CompBatchSize)
	v.SetDefault("ctx-per-worker", c.CtxPerWorker)
	v.SetDefault("routing-table", c.RoutingTable)
	v.SetDefault("log-level", c.LogLevel)
	v.SetDefault("log-format", c.LogFormat)
	v.SetDefault("enable-metrics", c.EnableMetrics)
	v.SetDefault("enable-debug", c.EnableDebug)
	v.SetDefault("shutdown-grace", c.ShutdownGrace)
	v.SetDefault("gpu.multiprocessors", c.GPU.Multiprocessors)
	v.SetDefault("knapp.remote-addr", c.Knapp.RemoteAddr)
	v.SetDefault("knapp.host-ctrl-port-base", c.Knapp.HostCtrlPortBase)
	v.SetDefault("knapp.host-data-port-base", c.Knapp.HostDataPortBase)
	v.SetDefault("knapp.conn-retry", c.Knapp.ConnRetry)
	v.SetDefault("knapp.retry-interval", c.Knapp.RetryInterval)
	v.SetDefault("knapp.poll-timeout", c.Knapp.PollTimeout)
	v.SetDefault("knapp.rpc-timeout", c.Knapp.RPCTimeout)
	v.SetDefault("knapp.pcores-per-vdev", c.Knapp.PCoresPerVDev)
	v.SetDefault("knapp.lcores-per-pcore", c.Knapp.LCoresPerPCore)
}

// NewViper returns a viper instance primed with defaults and ACCEL_*
// environment overrides (ACCEL_KNAPP_POLL_TIMEOUT for knapp.poll-timeout).
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix("ACCEL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads path (any format viper understands) over the defaults.
// An empty path uses defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates a configuration.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
