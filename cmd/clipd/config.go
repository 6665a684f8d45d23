package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipd/internal/client"
	"go.klb.dev/clipd/internal/ipc"
	"go.klb.dev/clipd/internal/logging"
)

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CLIPD_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → CLIPD_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("clipd")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/clipd/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(fmt.Sprintf("%s/.config/clipd", home))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("CLIPD")
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info, debug when interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addClientFlags adds the flags every daemon-talking sub-command shares.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("socket", ipc.SocketPath(), "daemon control socket")
	cmd.Flags().String("server", "", "daemon TCP address (instead of the local socket)")
	cmd.Flags().String("token", "", "shared secret for TCP connections")
	addConfigFlag(cmd)
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	resolveLogging(logging.IsTTY(os.Stderr), v.GetString("log-format"), v.GetString("log-level"))
}

// dialDaemon connects per the client flags: TCP when --server is set, the
// local unix socket otherwise.
func dialDaemon(v *viper.Viper) (*client.Client, error) {
	if addr := v.GetString("server"); addr != "" {
		return client.DialTCP(addr, v.GetString("token"))
	}
	c, err := client.Dial(v.GetString("socket"))
	if err != nil {
		return nil, fmt.Errorf("%w (is `clipd daemon` running?)", err)
	}
	return c, nil
}
