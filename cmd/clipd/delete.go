package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipd/internal/client"
)

func newDeleteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "delete [index]",
		Aliases: []string{"d"},
		Short:   "Remove an entry (or a whole group) from the history",
		Long: `Deletes the entry at the given index; index 0 — the group's most recent
entry — when omitted. Deleting the active selection releases it.

Pass --all to wipe every entry in the group.`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runDelete(v, args) },
	}

	f := cmd.Flags()
	f.String("group", "", "group to delete from")
	f.Bool("all", false, "delete every entry in the group")
	addClientFlags(cmd)

	return cmd
}

func runDelete(v *viper.Viper, args []string) error {
	index, err := parseIndexArg(args)
	if err != nil {
		return err
	}
	all := v.GetBool("all")
	if all && index != nil {
		return fmt.Errorf("cannot combine an index with --all")
	}

	c, err := dialDaemon(v)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Delete(v.GetString("group"), index, all); err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("no such entry")
		}
		return err
	}
	return nil
}
