package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether the daemon is running",
		Long: `Pings the daemon over the control channel. Exits 0 when it answers,
1 otherwise — suitable for scripts and status bars.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runStatus(v) },
	}

	addClientFlags(cmd)

	return cmd
}

func runStatus(v *viper.Viper) error {
	c, err := dialDaemon(v)
	if err == nil {
		defer c.Close()
		err = c.Ping()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "daemon not running")
		os.Exit(1)
	}
	fmt.Println("daemon running")
	return nil
}
