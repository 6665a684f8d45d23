package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStopCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Long: `Asks the daemon to shut down: it releases selection ownership, flushes
durable storage, and answers every open connection before exiting. With
--restart the daemon re-initializes instead of exiting.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runStop(v) },
	}

	cmd.Flags().Bool("restart", false, "restart the daemon instead of exiting")
	addClientFlags(cmd)

	return cmd
}

func runStop(v *viper.Viper) error {
	c, err := dialDaemon(v)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Stop(v.GetBool("restart"))
}
