// File: cmd/accelctl/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/internal/logging"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logging.DefaultLogger.WithField(logfields.LogSubsys, "accelctl")

type rootOptions struct {
	configPath string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: control.NewViper()}
	cmd := &cobra.Command{
		Use:          "accelctl",
		Short:        "Heterogeneous offload engine control tool",
		SilenceUsage: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Configuration file (yaml, toml or json)")
	pf.String("log-level", "info", "Log level")
	pf.String("log-format", "text", "Log format: text or json")
	pf.StringSlice("devices", []string{"cpu"}, "Compute devices to open: cpu, gpu, knapp")
	pf.String("remote-addr", "127.0.0.1:3000", "Master endpoint of the remote coprocessor")
	for key, flag := range map[string]string{
		"log-level":         "log-level",
		"log-format":        "log-format",
		"devices":           "devices",
		"knapp.remote-addr": "remote-addr",
	} {
		if err := opts.v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			log.WithError(err).Fatal("Flag binding failed")
		}
	}
	cmd.AddCommand(
		newRemoteCmd(opts),
		newLookupCmd(opts),
		newPingCmd(opts),
	)
	return cmd
}

// load reads the configuration file over defaults, flags and environment.
func (o *rootOptions) load() (*control.Config, error) {
	if o.configPath != "" {
		o.v.SetConfigFile(o.configPath)
		if err := o.v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	cfg, err := control.FromViper(o.v)
	if err != nil {
		return nil, err
	}
	if err := logging.SetupLogging(cfg.LogLevel, logging.Format(cfg.LogFormat)); err != nil {
		return nil, err
	}
	return cfg, nil
}
