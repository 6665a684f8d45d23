package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipd/internal/client"
)

func newRecopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "recopy <index>",
		Aliases: []string{"r"},
		Short:   "Re-activate an existing entry without duplicating it",
		Long: `Makes the entry at the given index the active selection again. The
entry keeps its id and position; nothing is inserted.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runRecopy(v, args) },
	}

	cmd.Flags().String("group", "", "group to select from")
	addClientFlags(cmd)

	return cmd
}

func runRecopy(v *viper.Viper, args []string) error {
	index, err := parseIndexArg(args)
	if err != nil {
		return err
	}

	c, err := dialDaemon(v)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Recopy(v.GetString("group"), index); err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("no such entry")
		}
		return err
	}
	return nil
}
